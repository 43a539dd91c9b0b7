// Package memory records published run summaries in process. The pipeline
// tests and dry runs use it in place of Pub/Sub.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Message is one recorded publish.
type Message struct {
	Topic   string
	Payload any
}

// Publisher keeps every payload it is handed. Set Err to make subsequent
// publishes fail.
type Publisher struct {
	mu   sync.RWMutex
	msgs []Message
	err  error
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes every later Publish return err. A nil err restores success.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// Publish records the payload and returns a sequential id.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.msgs = append(p.msgs, Message{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.msgs)), nil
}

// Messages returns a copy of the recorded publishes.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Message(nil), p.msgs...)
}

// ForTopic returns the payloads published under topic, oldest first.
func (p *Publisher) ForTopic(topic string) []any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []any
	for _, m := range p.msgs {
		if m.Topic == topic {
			out = append(out, m.Payload)
		}
	}
	return out
}

package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: capacity of the event channel (default 1024).
//   - FlushEvery: flush once this many events are pending (default 256).
//   - FlushInterval: upper bound on how long an event waits before a flush (default 250ms).
//   - SinkTimeout: deadline applied to each sink call (default 5s).
type Config struct {
	BufferSize    int
	FlushEvery    int
	FlushInterval time.Duration
	SinkTimeout   time.Duration
	Logger        *zap.Logger
}

const (
	defaultBufferSize    = 1024
	defaultFlushEvery    = 256
	defaultFlushInterval = 250 * time.Millisecond
	defaultSinkTimeout   = 5 * time.Second
	dropWarnInterval     = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.FlushEvery <= 0 {
		c.FlushEvery = defaultFlushEvery
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub buffers events and fans batches out to sinks on a background goroutine.
// Emit never blocks: when the buffer is full the event is counted as dropped.
type Hub struct {
	cfg    Config
	sinks  []Sink
	in     chan Event
	quit   chan struct{}
	done   chan struct{}
	log    *zap.Logger
	closed atomic.Bool

	dropped  atomic.Int64
	lastWarn atomic.Int64

	stopOnce sync.Once
}

// NewHub starts a Hub delivering to the given sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:   cfg,
		sinks: append([]Sink(nil), sinks...),
		in:    make(chan Event, cfg.BufferSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		log:   cfg.Logger,
	}
	go h.loop()
	return h
}

// Emit queues evt for delivery. Invalid events are discarded.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if evt.TS.IsZero() {
		evt.TS = time.Now().UTC()
	}
	if err := evt.Validate(); err != nil {
		h.log.Debug("discarding invalid progress event", zap.Error(err), zap.String("stage", string(evt.Stage)))
		return
	}
	select {
	case h.in <- evt:
	default:
		h.noteDrop(time.Now())
	}
}

// Dropped reports how many events were discarded because the buffer was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

func (h *Hub) noteDrop(now time.Time) {
	total := h.dropped.Add(1)
	last := h.lastWarn.Load()
	if now.UnixNano()-last < dropWarnInterval.Nanoseconds() {
		return
	}
	if h.lastWarn.CompareAndSwap(last, now.UnixNano()) {
		h.log.Warn("progress buffer full, dropping events", zap.Int64("dropped_total", total))
	}
}

// Close stops accepting events, drains the buffer, flushes and closes every
// sink. Later calls only wait for the drain to finish.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	h.stopOnce.Do(func() {
		h.closed.Store(true)
		close(h.quit)
	})
	select {
	case <-h.done:
	case <-ctx.Done():
		return fmt.Errorf("progress hub close: %w", ctx.Err())
	}
	for _, s := range h.sinks {
		if err := s.Close(ctx); err != nil {
			h.log.Warn("progress sink close failed", zap.Error(err))
		}
	}
	return nil
}

func (h *Hub) loop() {
	defer close(h.done)
	ticker := time.NewTicker(h.cfg.FlushInterval)
	defer ticker.Stop()

	pending := make([]Event, 0, h.cfg.FlushEvery)
	for {
		select {
		case evt := <-h.in:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.FlushEvery {
				pending = h.deliver(pending)
			}
		case <-ticker.C:
			pending = h.deliver(pending)
		case <-h.quit:
			for {
				select {
				case evt := <-h.in:
					pending = append(pending, evt)
				default:
					h.deliver(pending)
					return
				}
			}
		}
	}
}

// deliver hands a copy of pending to every sink and returns the emptied slice.
func (h *Hub) deliver(pending []Event) []Event {
	if len(pending) == 0 {
		return pending
	}
	batch := append([]Event(nil), pending...)
	for _, s := range h.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := s.Consume(ctx, batch); err != nil {
			h.log.Warn("progress sink consume failed", zap.Error(err), zap.Int("batch", len(batch)))
		}
		cancel()
	}
	return pending[:0]
}

package listing

import (
	"context"
	"time"
)

// PageRunner executes a single task to a terminal outcome. Implementations must
// never panic or block past their own time bounds.
type PageRunner interface {
	Run(ctx context.Context, task Task) Outcome
}

// RecordStore persists listing records.
type RecordStore interface {
	SaveRecords(ctx context.Context, records []Record) (int, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes completion payloads to a downstream consumer.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

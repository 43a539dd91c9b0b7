package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/listing-harvester/internal/listing"
)

// ListingStore writes listing records to a table.
type ListingStore struct {
	db    DB
	table string
	runID string
	now   func() time.Time
}

// NewListingStore builds a store over db. runID tags every row written.
func NewListingStore(db DB, table, runID string) (*ListingStore, error) {
	if db == nil {
		return nil, errors.New("pool is required")
	}
	table, err := checkTable(table, "listings")
	if err != nil {
		return nil, err
	}
	return &ListingStore{db: db, table: table, runID: runID, now: time.Now}, nil
}

// EnsureSchema creates the listings table when it does not exist.
func (s *ListingStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id         BIGSERIAL PRIMARY KEY,
	run_id     TEXT NOT NULL,
	name       TEXT NOT NULL,
	phone      TEXT NOT NULL DEFAULT '',
	address    TEXT NOT NULL DEFAULT '',
	website    TEXT NOT NULL DEFAULT '',
	category   TEXT NOT NULL DEFAULT '',
	keyword    TEXT NOT NULL,
	place      TEXT NOT NULL,
	timezone   TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT '',
	scraped_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// SaveRecords inserts records in a single batch and returns the rows written.
func (s *ListingStore) SaveRecords(ctx context.Context, records []listing.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, name, phone, address, website, category, keyword, place, timezone, status, scraped_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`, s.table)
	at := s.now().UTC()
	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(query, s.runID, r.Name, r.Phone, r.Address, r.Website, r.Category,
			r.Keyword, r.Place, r.Timezone, r.Status, at)
	}
	n, err := sendBatch(ctx, s.db, batch)
	if err != nil {
		return n, fmt.Errorf("insert listings: %w", err)
	}
	return n, nil
}

// Close releases the pool.
func (s *ListingStore) Close() {
	if s != nil && s.db != nil {
		s.db.Close()
	}
}

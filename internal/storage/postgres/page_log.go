package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/listing-harvester/internal/progress"
)

// PageLog is a progress sink that keeps one row per finished page.
type PageLog struct {
	db    DB
	table string
}

// NewPageLog builds a PageLog writing to table.
func NewPageLog(db DB, table string) (*PageLog, error) {
	if db == nil {
		return nil, errors.New("pool is required")
	}
	table, err := checkTable(table, "page_outcomes")
	if err != nil {
		return nil, err
	}
	return &PageLog{db: db, table: table}, nil
}

// EnsureSchema creates the page table when it does not exist.
func (l *PageLog) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id      UUID NOT NULL,
	keyword     TEXT NOT NULL,
	place       TEXT NOT NULL,
	page        INT NOT NULL,
	outcome     TEXT NOT NULL,
	error_kind  TEXT NOT NULL DEFAULT '',
	records     INT NOT NULL DEFAULT 0,
	proxy       TEXT NOT NULL DEFAULT '',
	duration_ms BIGINT NOT NULL DEFAULT 0,
	finished_at TIMESTAMPTZ NOT NULL
)`, l.table)
	if _, err := l.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", l.table, err)
	}
	return nil
}

// Consume implements progress.Sink. Only PAGE_DONE events are stored.
func (l *PageLog) Consume(ctx context.Context, events []progress.Event) error {
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, keyword, place, page, outcome, error_kind, records, proxy, duration_ms, finished_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`, l.table)
	batch := &pgx.Batch{}
	for _, evt := range events {
		if evt.Stage != progress.StagePageDone {
			continue
		}
		batch.Queue(query, evt.RunUUID(), evt.Keyword, evt.Place, evt.Page, evt.Outcome,
			evt.ErrorKind, evt.Count, evt.Proxy, evt.Dur.Milliseconds(), evt.TS)
	}
	if batch.Len() == 0 {
		return nil
	}
	if _, err := sendBatch(ctx, l.db, batch); err != nil {
		return fmt.Errorf("insert page outcomes: %w", err)
	}
	return nil
}

// Close implements progress.Sink. The pool is owned by the caller.
func (l *PageLog) Close(context.Context) error {
	return nil
}

// Package scheduler runs the page tasks of a batch concurrently behind a
// fixed-capacity admission gate.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/listing-harvester/internal/aggregate"
	"github.com/JakeFAU/listing-harvester/internal/jitter"
	"github.com/JakeFAU/listing-harvester/internal/listing"
	"github.com/JakeFAU/listing-harvester/internal/progress"
)

// DefaultConcurrency is sized for one browser per slot on a small host.
const DefaultConcurrency = 2

// Config controls admission.
type Config struct {
	Concurrency int
	// Jitter is slept by every task before it queues for the gate.
	Jitter jitter.Range
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{Concurrency: DefaultConcurrency, Jitter: jitter.Between(0, 5*time.Second)}
}

// Scheduler bounds how many page tasks run at once. The gate is shared by
// every batch run through the same Scheduler.
type Scheduler struct {
	cfg     Config
	runner  listing.PageRunner
	gate    *semaphore.Weighted
	logger  *zap.Logger
	emitter progress.Emitter
}

// New builds a Scheduler around runner.
func New(cfg Config, runner listing.PageRunner, logger *zap.Logger, emitter progress.Emitter) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("scheduler requires a page runner")
	}
	if cfg.Concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be > 0, got %d", cfg.Concurrency)
	}
	if err := cfg.Jitter.Validate(); err != nil {
		return nil, fmt.Errorf("jitter: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:     cfg,
		runner:  runner,
		gate:    semaphore.NewWeighted(int64(cfg.Concurrency)),
		logger:  logger.Named("scheduler"),
		emitter: progress.OrNop(emitter),
	}, nil
}

// RunBatch runs every task and returns their outcomes in input order. One
// task failing never cancels or delays another.
func (s *Scheduler) RunBatch(ctx context.Context, tasks []listing.Task) []listing.Outcome {
	agg := aggregate.New("", "")
	s.run(ctx, tasks, agg.Add)
	return agg.Outcomes()
}

// Batch scrapes pages 1..pages for one keyword and place and folds the
// outcomes into a BatchResult.
func (s *Scheduler) Batch(ctx context.Context, keyword, place string, pages int) listing.BatchResult {
	start := time.Now()
	s.emitter.Emit(progress.Event{Stage: progress.StageBatchStart, Keyword: keyword, Place: place, Count: pages})
	s.logger.Info("batch started", zap.String("keyword", keyword), zap.String("place", place), zap.Int("pages", pages))

	res := aggregate.Fold(keyword, place, s.RunBatch(ctx, listing.Tasks(keyword, place, pages)))

	s.emitter.Emit(progress.Event{
		Stage: progress.StageBatchDone, Keyword: keyword, Place: place,
		Count: len(res.Records), Dur: time.Since(start),
	})
	s.logger.Info("batch finished",
		zap.String("keyword", keyword),
		zap.String("place", place),
		zap.Int("records", len(res.Records)),
		zap.Int("successful_pages", res.SuccessfulPages),
		zap.Int("empty_pages", res.EmptyPages),
		zap.Int("failed_pages", res.FailedPages),
		zap.Duration("dur", time.Since(start)))
	return res
}

func (s *Scheduler) run(ctx context.Context, tasks []listing.Task, collect func(int, listing.Outcome)) {
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collect(i, s.admit(ctx, task))
		}()
	}
	wg.Wait()
}

// admit jitters, waits for a gate slot, runs the task and releases the slot.
func (s *Scheduler) admit(ctx context.Context, task listing.Task) (out listing.Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			out = listing.Failure(task, listing.NewPageError(listing.ErrSessionFault, fmt.Errorf("panic: %v", rec)))
		}
	}()
	if err := jitter.Sleep(ctx, s.cfg.Jitter); err != nil {
		return listing.Failure(task, listing.NewPageError(listing.ErrSessionFault, fmt.Errorf("before admission: %w", err)))
	}
	if err := s.gate.Acquire(ctx, 1); err != nil {
		return listing.Failure(task, listing.NewPageError(listing.ErrSessionFault, fmt.Errorf("admission gate: %w", err)))
	}
	defer s.gate.Release(1)
	return s.runner.Run(ctx, task)
}

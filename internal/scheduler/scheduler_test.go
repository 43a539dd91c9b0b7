package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/jitter"
	"github.com/JakeFAU/listing-harvester/internal/listing"
	"github.com/JakeFAU/listing-harvester/internal/progress"
)

type fakeRunner struct {
	active  atomic.Int32
	peak    atomic.Int32
	hold    time.Duration
	mu      sync.Mutex
	visited []int
	outcome func(listing.Task) listing.Outcome
}

func (r *fakeRunner) Run(ctx context.Context, task listing.Task) listing.Outcome {
	n := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		peak := r.peak.Load()
		if n <= peak || r.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	r.mu.Lock()
	r.visited = append(r.visited, task.Page)
	r.mu.Unlock()
	select {
	case <-time.After(r.hold):
	case <-ctx.Done():
	}
	if r.outcome != nil {
		return r.outcome(task)
	}
	return listing.Success(task, []listing.Record{{Name: fmt.Sprintf("biz-%d", task.Page)}})
}

func newScheduler(t *testing.T, cfg Config, runner listing.PageRunner, em progress.Emitter) *Scheduler {
	t.Helper()
	s, err := New(cfg, runner, zap.NewNop(), em)
	require.NoError(t, err)
	return s
}

func TestRunBatchBoundsConcurrency(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{hold: 20 * time.Millisecond}
	s := newScheduler(t, Config{Concurrency: 2, Jitter: jitter.Between(0, 5*time.Millisecond)}, runner, nil)

	outcomes := s.RunBatch(context.Background(), listing.Tasks("k", "p", 9))
	require.Len(t, outcomes, 9)
	require.LessOrEqual(t, runner.peak.Load(), int32(2))
	require.Equal(t, int32(2), runner.peak.Load())
}

func TestRunBatchPreservesInputOrder(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	runner.outcome = func(task listing.Task) listing.Outcome {
		time.Sleep(time.Duration(10-task.Page) * 3 * time.Millisecond)
		return listing.Success(task, []listing.Record{{Name: fmt.Sprint(task.Page)}})
	}
	s := newScheduler(t, Config{Concurrency: 4}, runner, nil)

	outcomes := s.RunBatch(context.Background(), listing.Tasks("k", "p", 8))
	for i, out := range outcomes {
		require.Equal(t, i+1, out.Task.Page)
	}
}

func TestRunBatchIsolatesFailures(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	runner.outcome = func(task listing.Task) listing.Outcome {
		switch task.Page {
		case 2:
			panic("runner exploded")
		case 3:
			return listing.Failure(task, listing.NewPageError(listing.ErrTimeout, errors.New("slow")))
		case 4:
			return listing.Empty(task)
		}
		return listing.Success(task, []listing.Record{{Name: "ok"}})
	}
	s := newScheduler(t, Config{Concurrency: 2}, runner, nil)

	outcomes := s.RunBatch(context.Background(), listing.Tasks("k", "p", 5))
	kinds := make([]listing.OutcomeKind, 0, len(outcomes))
	for _, o := range outcomes {
		kinds = append(kinds, o.Kind)
	}
	require.Equal(t, []listing.OutcomeKind{
		listing.OutcomeSuccess,
		listing.OutcomeFailure,
		listing.OutcomeFailure,
		listing.OutcomeEmpty,
		listing.OutcomeSuccess,
	}, kinds)
	require.Equal(t, listing.ErrSessionFault, outcomes[1].Err.Kind)
	require.Equal(t, listing.ErrTimeout, outcomes[2].Err.Kind)
}

func TestRunBatchCancelledBeforeAdmission(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	s := newScheduler(t, Config{Concurrency: 1, Jitter: jitter.Between(time.Second, time.Second)}, runner, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes := s.RunBatch(ctx, listing.Tasks("k", "p", 3))
	require.Len(t, outcomes, 3)
	for i, o := range outcomes {
		require.Equal(t, listing.OutcomeFailure, o.Kind)
		require.Equal(t, listing.ErrSessionFault, o.Err.Kind)
		require.Equal(t, i+1, o.Task.Page)
		require.Zero(t, o.RecordCount())
	}
	require.Empty(t, runner.visited)
}

func TestBatchAggregatesAndEmits(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	runner.outcome = func(task listing.Task) listing.Outcome {
		if task.Page == 3 {
			return listing.Failure(task, listing.NewPageError(listing.ErrChallengeTimeout, errors.New("stuck")))
		}
		return listing.Success(task, []listing.Record{{Name: fmt.Sprint(task.Page)}, {Name: "x"}})
	}
	rec := &progress.Recorder{}
	s := newScheduler(t, Config{Concurrency: 2}, runner, rec)

	res := s.Batch(context.Background(), "florist", "Tampa, FL", 4)
	require.Equal(t, 4, res.TotalPages)
	require.Equal(t, 3, res.SuccessfulPages)
	require.Equal(t, 1, res.FailedPages)
	require.Len(t, res.Records, 6)
	require.Equal(t, "1", res.Records[0].Name)
	require.Equal(t, "4", res.Records[4].Name)
	require.Equal(t, "florist", res.Records[5].Keyword)

	require.Equal(t, 1, rec.Count(progress.StageBatchStart))
	require.Equal(t, 1, rec.Count(progress.StageBatchDone))
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Concurrency: 0}, &fakeRunner{}, nil, nil)
	require.Error(t, err)
	_, err = New(Config{Concurrency: 1}, nil, nil, nil)
	require.Error(t, err)
	_, err = New(Config{Concurrency: 1, Jitter: jitter.Between(2*time.Second, time.Second)}, &fakeRunner{}, nil, nil)
	require.Error(t, err)
}

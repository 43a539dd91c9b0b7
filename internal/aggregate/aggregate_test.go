package aggregate

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-harvester/internal/listing"
)

func page(n int) listing.Task {
	return listing.Task{Keyword: "dentist", Place: "Reno, NV", Page: n}
}

func recs(names ...string) []listing.Record {
	out := make([]listing.Record, 0, len(names))
	for _, n := range names {
		out = append(out, listing.Record{Name: n})
	}
	return out
}

func TestAggregatorOrdersByIndex(t *testing.T) {
	t.Parallel()

	agg := New("dentist", "Reno, NV")
	var wg sync.WaitGroup
	outcomes := []listing.Outcome{
		listing.Success(page(1), recs("a", "b")),
		listing.Failure(page(2), listing.NewPageError(listing.ErrTimeout, errors.New("slow"))),
		listing.Empty(page(3)),
		listing.Success(page(4), recs("c")),
	}
	for i := len(outcomes) - 1; i >= 0; i-- {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			agg.Add(i, outcomes[i])
		}(i)
	}
	wg.Wait()

	res := agg.Result()
	require.Len(t, agg.Outcomes(), 4)
	require.Equal(t, 4, res.TotalPages)
	require.Equal(t, 2, res.SuccessfulPages)
	require.Equal(t, 1, res.EmptyPages)
	require.Equal(t, 1, res.FailedPages)
	names := make([]string, 0, len(res.Records))
	for _, r := range res.Records {
		names = append(names, r.Name)
		require.Equal(t, "dentist", r.Keyword)
		require.Equal(t, "Reno, NV", r.Place)
	}
	require.Equal(t, []string{"a", "b", "c"}, names)
	for i, out := range res.Outcomes {
		require.Equal(t, i+1, out.Task.Page)
	}
}

func TestFoldRecordCountMatchesSuccessfulOutcomes(t *testing.T) {
	t.Parallel()

	failed := listing.Failure(page(2), listing.NewPageError(listing.ErrSessionFault, errors.New("boom")))
	failed.Records = recs("leaked")
	outcomes := []listing.Outcome{
		listing.Success(page(1), recs("x", "y", "z")),
		failed,
		listing.Success(page(3), nil),
	}
	res := Fold("k", "p", outcomes)

	want := 0
	for _, o := range outcomes {
		if o.Kind == listing.OutcomeSuccess {
			want += len(o.Records)
		}
	}
	require.Len(t, res.Records, want)
	require.Equal(t, 1, res.SuccessfulPages)
	require.Equal(t, 1, res.EmptyPages)
	require.Equal(t, 1, res.FailedPages)
}

func TestFoldAllFailedStillProducesResult(t *testing.T) {
	t.Parallel()

	res := Fold("k", "p", []listing.Outcome{
		listing.Failure(page(1), listing.NewPageError(listing.ErrTimeout, errors.New("t"))),
	})
	require.NotNil(t, res.Records)
	require.Empty(t, res.Records)
	require.Equal(t, 1, res.FailedPages)
	require.Zero(t, res.SuccessfulPages)
}

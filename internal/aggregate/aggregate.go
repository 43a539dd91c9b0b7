// Package aggregate folds page outcomes into a batch result.
package aggregate

import (
	"sort"
	"sync"

	"github.com/JakeFAU/listing-harvester/internal/listing"
)

// Aggregator collects outcomes as they complete. Add is safe for concurrent
// use; Result orders everything by task index.
type Aggregator struct {
	keyword string
	place   string

	mu       sync.Mutex
	outcomes map[int]listing.Outcome
}

// New returns an Aggregator for one keyword/place batch.
func New(keyword, place string) *Aggregator {
	return &Aggregator{keyword: keyword, place: place, outcomes: make(map[int]listing.Outcome)}
}

// Add records the outcome of the task at index. A later Add for the same
// index replaces the earlier one.
func (a *Aggregator) Add(index int, out listing.Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outcomes[index] = out
}

// Outcomes returns everything added so far, ordered by task index.
func (a *Aggregator) Outcomes() []listing.Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	indexes := make([]int, 0, len(a.outcomes))
	for i := range a.outcomes {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	ordered := make([]listing.Outcome, 0, len(indexes))
	for _, i := range indexes {
		ordered = append(ordered, a.outcomes[i])
	}
	return ordered
}

// Result builds the BatchResult from everything added so far.
func (a *Aggregator) Result() listing.BatchResult {
	return Fold(a.keyword, a.place, a.Outcomes())
}

// Fold builds a BatchResult from outcomes already in task order. Records are
// taken only from successful outcomes and stamped with keyword and place.
func Fold(keyword, place string, outcomes []listing.Outcome) listing.BatchResult {
	res := listing.BatchResult{
		Keyword:    keyword,
		Place:      place,
		Records:    []listing.Record{},
		Outcomes:   outcomes,
		TotalPages: len(outcomes),
	}
	for _, out := range outcomes {
		switch out.Kind {
		case listing.OutcomeSuccess:
			res.SuccessfulPages++
			for _, rec := range out.Records {
				rec.Keyword = keyword
				rec.Place = place
				res.Records = append(res.Records, rec)
			}
		case listing.OutcomeEmpty:
			res.EmptyPages++
		default:
			res.FailedPages++
		}
	}
	return res
}

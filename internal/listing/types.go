// Package listing defines the core types shared by the scrape pipeline.
package listing

import (
	"fmt"
	"time"
)

// DefaultStatus is stamped on every record produced by the multi-session strategy.
const DefaultStatus = "Lead"

// Record is one business listing. Every field is a plain string so downstream
// writers never have to deal with missing values.
type Record struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	Website  string `json:"website"`
	Category string `json:"category"`
	Keyword  string `json:"keyword"`
	Place    string `json:"place"`
	Timezone string `json:"timezone"`
	Status   string `json:"status"`
}

// Task identifies a single results page to fetch. Tasks are consumed once.
type Task struct {
	Keyword string `json:"keyword"`
	Place   string `json:"place"`
	Page    int    `json:"page"`
}

// Validate reports whether the task can be scheduled.
func (t Task) Validate() error {
	if t.Page < 1 {
		return fmt.Errorf("page must be >= 1, got %d", t.Page)
	}
	return nil
}

// String renders the task for logs.
func (t Task) String() string {
	return fmt.Sprintf("%q in %q page %d", t.Keyword, t.Place, t.Page)
}

// Tasks builds one task per page in [1, pages].
func Tasks(keyword, place string, pages int) []Task {
	if pages <= 0 {
		return nil
	}
	out := make([]Task, 0, pages)
	for page := 1; page <= pages; page++ {
		out = append(out, Task{Keyword: keyword, Place: place, Page: page})
	}
	return out
}

// OutcomeKind tags the terminal state of a page task.
type OutcomeKind string

// Outcome kinds.
const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeEmpty   OutcomeKind = "empty"
	OutcomeFailure OutcomeKind = "failure"
)

// Outcome is the result of running one Task.
type Outcome struct {
	Task     Task          `json:"task"`
	Kind     OutcomeKind   `json:"kind"`
	Records  []Record      `json:"records,omitempty"`
	Err      *PageError    `json:"error,omitempty"`
	Proxy    string        `json:"proxy,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Success builds a success outcome, falling back to Empty when records is empty.
func Success(task Task, records []Record) Outcome {
	if len(records) == 0 {
		return Empty(task)
	}
	return Outcome{Task: task, Kind: OutcomeSuccess, Records: records}
}

// Empty builds an outcome for a page that loaded but had no listings.
func Empty(task Task) Outcome {
	return Outcome{Task: task, Kind: OutcomeEmpty}
}

// Failure builds a failure outcome. Failures never carry records.
func Failure(task Task, err *PageError) Outcome {
	return Outcome{Task: task, Kind: OutcomeFailure, Err: err}
}

// RecordCount returns the number of records this outcome contributes.
func (o Outcome) RecordCount() int {
	if o.Kind != OutcomeSuccess {
		return 0
	}
	return len(o.Records)
}

// BatchResult aggregates every outcome for one (keyword, place) pair.
type BatchResult struct {
	Keyword         string    `json:"keyword"`
	Place           string    `json:"place"`
	Records         []Record  `json:"records"`
	Outcomes        []Outcome `json:"-"`
	SuccessfulPages int       `json:"successful_pages"`
	EmptyPages      int       `json:"empty_pages"`
	FailedPages     int       `json:"failed_pages"`
	TotalPages      int       `json:"total_pages"`
}

package proxypool

import "sync"

// Tracker adds a consecutive-failure count per endpoint on top of a Pool.
// Endpoints that reach maxFailures are skipped by Pick until they succeed
// again. When every endpoint is excluded Pick falls back to the whole pool.
type Tracker struct {
	pool        *Pool
	maxFailures int

	mu       sync.Mutex
	failures map[string]int
}

// NewTracker wraps pool. maxFailures <= 0 disables exclusion. A nil pool
// behaves as an empty one.
func NewTracker(pool *Pool, maxFailures int) *Tracker {
	if pool == nil {
		pool = New(nil)
	}
	return &Tracker{
		pool:        pool,
		maxFailures: maxFailures,
		failures:    make(map[string]int),
	}
}

// Pick returns a random healthy endpoint, or nil when the pool is empty.
func (t *Tracker) Pick() *Endpoint {
	if t.maxFailures <= 0 {
		return t.pool.Pick()
	}
	t.mu.Lock()
	healthy := make([]Endpoint, 0, t.pool.Len())
	for _, ep := range t.pool.endpoints {
		if t.failures[ep.ID] < t.maxFailures {
			healthy = append(healthy, ep)
		}
	}
	t.mu.Unlock()
	if len(healthy) == 0 {
		return t.pool.Pick()
	}
	ep := healthy[t.pool.intn(len(healthy))]
	return &ep
}

// Report records the result of a session that used ep.
func (t *Tracker) Report(ep Endpoint, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		delete(t.failures, ep.ID)
		return
	}
	t.failures[ep.ID]++
}

// Failures returns the current consecutive failure count for id.
func (t *Tracker) Failures(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failures[id]
}

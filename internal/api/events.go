package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/listing-harvester/internal/progress"
)

const (
	defaultEventLimit = 50
	defaultEventCap   = 512
)

// RecentEvents is a progress sink keeping the last N events in a ring.
type RecentEvents struct {
	mu   sync.Mutex
	buf  []progress.Event
	next int
	full bool
}

// NewRecentEvents allocates a ring of the given capacity.
func NewRecentEvents(capacity int) *RecentEvents {
	if capacity <= 0 {
		capacity = defaultEventCap
	}
	return &RecentEvents{buf: make([]progress.Event, capacity)}
}

// Consume implements progress.Sink.
func (r *RecentEvents) Consume(_ context.Context, batch []progress.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, evt := range batch {
		r.buf[r.next] = evt
		r.next = (r.next + 1) % len(r.buf)
		if r.next == 0 {
			r.full = true
		}
	}
	return nil
}

// Close implements progress.Sink.
func (r *RecentEvents) Close(context.Context) error { return nil }

// Latest returns up to limit events, newest first, optionally filtered by stage.
func (r *RecentEvents) Latest(stage progress.Stage, limit int) []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	size := r.next
	if r.full {
		size = len(r.buf)
	}
	out := make([]progress.Event, 0, min(limit, size))
	for i := 1; i <= size && len(out) < limit; i++ {
		evt := r.buf[(r.next-i+len(r.buf))%len(r.buf)]
		if stage != "" && evt.Stage != stage {
			continue
		}
		out = append(out, evt)
	}
	return out
}

type eventView struct {
	RunID     string    `json:"run_id"`
	TS        time.Time `json:"ts"`
	Stage     string    `json:"stage"`
	Keyword   string    `json:"keyword,omitempty"`
	Place     string    `json:"place,omitempty"`
	Page      int       `json:"page,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Count     int       `json:"count"`
	Proxy     string    `json:"proxy,omitempty"`
	DurMS     int64     `json:"dur_ms"`
}

// listEvents handles GET /v1/events?stage=&limit=.
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		writeError(w, http.StatusServiceUnavailable, "event history unavailable")
		return
	}
	limit, err := parseLimit(r, defaultEventLimit, defaultEventCap)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stage := progress.Stage(strings.ToUpper(r.URL.Query().Get("stage")))

	events := s.deps.Events.Latest(stage, limit)
	views := make([]eventView, 0, len(events))
	for _, evt := range events {
		views = append(views, eventView{
			RunID:     evt.RunUUID().String(),
			TS:        evt.TS,
			Stage:     string(evt.Stage),
			Keyword:   evt.Keyword,
			Place:     evt.Place,
			Page:      evt.Page,
			Outcome:   evt.Outcome,
			ErrorKind: evt.ErrorKind,
			Count:     evt.Count,
			Proxy:     evt.Proxy,
			DurMS:     evt.Dur.Milliseconds(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": views})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	return min(val, maxLimit), nil
}

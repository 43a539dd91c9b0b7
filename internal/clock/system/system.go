// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock reads time.Now in a fixed location.
type Clock struct {
	loc *time.Location
}

// New returns a UTC clock.
func New() *Clock {
	return &Clock{loc: time.UTC}
}

// NewIn returns a clock reporting times in loc. Artifact names are stamped
// with local time, so the CLI uses time.Local.
func NewIn(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc}
}

// Now returns the current time.
func (c *Clock) Now() time.Time {
	if c == nil || c.loc == nil {
		return time.Now().UTC()
	}
	return time.Now().In(c.loc)
}

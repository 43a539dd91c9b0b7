// Package jitter provides randomized delays used to avoid synchronized bursts.
package jitter

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Range is a closed duration interval. A zero Range means "no delay".
type Range struct {
	Min time.Duration `mapstructure:"min"`
	Max time.Duration `mapstructure:"max"`
}

// Between is shorthand for Range{Min: lo, Max: hi}.
func Between(lo, hi time.Duration) Range {
	return Range{Min: lo, Max: hi}
}

// Draw returns a uniformly distributed duration within the range.
func (r Range) Draw() time.Duration {
	lo, hi := r.Min, r.Max
	if hi < lo {
		lo, hi = hi, lo
	}
	if lo < 0 {
		lo = 0
	}
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

// Validate rejects negative bounds.
func (r Range) Validate() error {
	if r.Min < 0 || r.Max < 0 {
		return fmt.Errorf("range bounds must be >= 0, got [%v, %v]", r.Min, r.Max)
	}
	if r.Max < r.Min {
		return fmt.Errorf("range max %v is below min %v", r.Max, r.Min)
	}
	return nil
}

// Sleep waits a random duration from r or until ctx ends.
func Sleep(ctx context.Context, r Range) error {
	return SleepFor(ctx, r.Draw())
}

// SleepFor waits d or until ctx ends.
func SleepFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// IntBetween returns a uniformly distributed int in [lo, hi].
func IntBetween(lo, hi int) int {
	if hi < lo {
		lo, hi = hi, lo
	}
	if hi == lo {
		return lo
	}
	return lo + rand.IntN(hi-lo+1)
}

// Package challenge detects and waits out anti-automation interstitials.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/jitter"
	"github.com/JakeFAU/listing-harvester/internal/listing"
	"github.com/JakeFAU/listing-harvester/internal/progress"
)

// State is where the handler ended up for one page.
type State string

// Handler states. NoChallenge and Resolved are successful terminals.
const (
	NoChallenge       State = "no_challenge"
	ChallengeDetected State = "detected"
	Resolved          State = "resolved"
	ChallengeTimedOut State = "timed_out"
)

// DefaultMarker is the interstitial title phrase.
const DefaultMarker = "just a moment"

// ErrUnresolved is wrapped by Handle when the challenge does not clear in time.
var ErrUnresolved = errors.New("challenge not resolved")

// Page is the slice of a browser tab the handler needs.
type Page interface {
	Title(ctx context.Context) (string, error)
	MoveMouse(ctx context.Context, x, y float64) error
}

// Config tunes detection and polling.
type Config struct {
	Marker       string
	Pause        jitter.Range
	PollTimeout  time.Duration
	PollInterval time.Duration
}

// DefaultConfig mirrors the production timings.
func DefaultConfig() Config {
	return Config{
		Marker:       DefaultMarker,
		Pause:        jitter.Between(2*time.Second, 4*time.Second),
		PollTimeout:  30 * time.Second,
		PollInterval: 250 * time.Millisecond,
	}
}

// Handler runs the challenge state machine against a page.
type Handler struct {
	cfg     Config
	logger  *zap.Logger
	emitter progress.Emitter
}

// NewHandler builds a Handler. Zero config fields fall back to DefaultConfig.
func NewHandler(cfg Config, logger *zap.Logger, emitter progress.Emitter) *Handler {
	def := DefaultConfig()
	if cfg.Marker == "" {
		cfg.Marker = def.Marker
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = def.PollTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	cfg.Marker = strings.ToLower(cfg.Marker)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{cfg: cfg, logger: logger, emitter: progress.OrNop(emitter)}
}

// Detect reports whether title belongs to an interstitial.
func (h *Handler) Detect(title string) bool {
	return strings.Contains(strings.ToLower(title), h.cfg.Marker)
}

// Handle inspects the page title and, if a challenge is showing, nudges the
// pointer and waits for the title to change. The returned error is non-nil
// for ChallengeTimedOut (kind ChallengeTimeout), when ctx itself ends while
// waiting (kind Timeout or SessionFault), or when the page fails before
// detection.
func (h *Handler) Handle(ctx context.Context, page Page, task listing.Task) (State, error) {
	title, err := page.Title(ctx)
	if err != nil {
		return NoChallenge, fmt.Errorf("read page title: %w", err)
	}
	if !h.Detect(title) {
		return NoChallenge, nil
	}

	h.logger.Info("challenge detected", zap.String("task", task.String()), zap.String("title", title))
	h.emit(task, ChallengeDetected)

	x := float64(jitter.IntBetween(200, 600))
	y := float64(jitter.IntBetween(200, 400))
	if err := page.MoveMouse(ctx, x, y); err != nil {
		h.logger.Debug("pointer move failed", zap.Error(err))
	}
	if err := jitter.Sleep(ctx, h.cfg.Pause); err != nil {
		return h.interrupted(ctx, task)
	}

	if err := h.waitForTitleChange(ctx, page); err != nil {
		if ctx.Err() != nil {
			return h.interrupted(ctx, task)
		}
		return h.timedOut(task, err)
	}
	h.logger.Info("challenge resolved", zap.String("task", task.String()))
	h.emit(task, Resolved)
	return Resolved, nil
}

func (h *Handler) waitForTitleChange(ctx context.Context, page Page) error {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.PollTimeout)
	defer cancel()
	ticker := time.NewTicker(h.cfg.PollInterval)
	defer ticker.Stop()
	for {
		title, err := page.Title(ctx)
		if err == nil && !h.Detect(title) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w after %v: %w", ErrUnresolved, h.cfg.PollTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (h *Handler) timedOut(task listing.Task, err error) (State, error) {
	h.logger.Warn("challenge timed out", zap.String("task", task.String()), zap.Error(err))
	h.emit(task, ChallengeTimedOut)
	return ChallengeTimedOut, listing.NewPageError(listing.ErrChallengeTimeout, err)
}

// interrupted reports a wait cut short by the caller's context. The page is
// classified by why ctx ended, not as an unresolved challenge.
func (h *Handler) interrupted(ctx context.Context, task listing.Task) (State, error) {
	err := fmt.Errorf("challenge wait: %w", ctx.Err())
	h.logger.Warn("challenge wait interrupted", zap.String("task", task.String()), zap.Error(err))
	return ChallengeDetected, listing.Classify(err)
}

func (h *Handler) emit(task listing.Task, state State) {
	h.emitter.Emit(progress.Event{
		Stage:   progress.StageChallenge,
		Keyword: task.Keyword,
		Place:   task.Place,
		Page:    task.Page,
		Outcome: string(state),
	})
}

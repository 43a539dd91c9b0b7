// Package session runs one page-scrape task inside its own browser instance.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/challenge"
	"github.com/JakeFAU/listing-harvester/internal/extract"
	"github.com/JakeFAU/listing-harvester/internal/jitter"
	"github.com/JakeFAU/listing-harvester/internal/listing"
	"github.com/JakeFAU/listing-harvester/internal/progress"
	"github.com/JakeFAU/listing-harvester/internal/proxypool"
)

// Config controls a Runner.
type Config struct {
	SearchURL string
	UserAgent string
	Width     int
	Height    int
	Headless  bool
	// NavigationTimeout bounds the wait for the document to become ready.
	NavigationTimeout time.Duration
	// TaskTimeout bounds the whole session; when it fires the browser is killed.
	TaskTimeout time.Duration
	// Settle is the pause after the challenge check that lets results render.
	Settle   jitter.Range
	Timezone string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SearchURL:         DefaultSearchURL,
		UserAgent:         DefaultUserAgent,
		Width:             1920,
		Height:            1080,
		Headless:          true,
		NavigationTimeout: 60 * time.Second,
		TaskTimeout:       3 * time.Minute,
		Settle:            jitter.Between(4*time.Second, 7*time.Second),
		Timezone:          "PST",
	}
}

// Runner implements listing.PageRunner with a fresh browser per task.
type Runner struct {
	cfg       Config
	launcher  Launcher
	proxies   proxypool.Picker
	challenge *challenge.Handler
	extractor *extract.Extractor
	logger    *zap.Logger
	emitter   progress.Emitter
}

// Deps groups the collaborators of a Runner. Proxies may be nil for direct
// connections.
type Deps struct {
	Launcher  Launcher
	Proxies   proxypool.Picker
	Challenge *challenge.Handler
	Extractor *extract.Extractor
	Logger    *zap.Logger
	Emitter   progress.Emitter
}

// NewRunner wires a Runner.
func NewRunner(cfg Config, deps Deps) (*Runner, error) {
	if deps.Launcher == nil {
		return nil, errors.New("session runner requires a launcher")
	}
	if cfg.NavigationTimeout <= 0 {
		return nil, errors.New("navigation timeout must be > 0")
	}
	if cfg.TaskTimeout <= 0 {
		return nil, errors.New("task timeout must be > 0")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Proxies == nil {
		deps.Proxies = proxypool.New(nil)
	}
	if deps.Challenge == nil {
		deps.Challenge = challenge.NewHandler(challenge.DefaultConfig(), logger, deps.Emitter)
	}
	if deps.Extractor == nil {
		deps.Extractor = extract.New(extract.DefaultRules(), logger)
	}
	return &Runner{
		cfg:       cfg,
		launcher:  deps.Launcher,
		proxies:   deps.Proxies,
		challenge: deps.Challenge,
		extractor: deps.Extractor,
		logger:    logger.Named("session"),
		emitter:   progress.OrNop(deps.Emitter),
	}, nil
}

// Run scrapes one page. It never panics and always returns a terminal outcome;
// the browser is closed before Run returns.
func (r *Runner) Run(ctx context.Context, task listing.Task) (out listing.Outcome) {
	start := time.Now()
	ep := r.proxies.Pick()
	proxyID := ""
	if ep != nil {
		proxyID = ep.ID
	}
	r.emitter.Emit(progress.Event{
		Stage: progress.StagePageStart, Keyword: task.Keyword, Place: task.Place, Page: task.Page, Proxy: proxyID,
	})

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("session panic", zap.String("task", task.String()), zap.Any("panic", rec))
			out = listing.Failure(task, listing.NewPageError(listing.ErrSessionFault, fmt.Errorf("panic: %v", rec)))
		}
		out.Proxy = proxyID
		out.Duration = time.Since(start)
		r.finish(out, ep)
	}()

	if err := task.Validate(); err != nil {
		return listing.Failure(task, listing.NewPageError(listing.ErrSessionFault, err))
	}

	taskCtx, cancel := context.WithTimeout(ctx, r.cfg.TaskTimeout)
	defer cancel()

	records, err := r.scrape(taskCtx, task, ep)
	if err != nil {
		return listing.Failure(task, listing.Classify(err))
	}
	return listing.Success(task, records)
}

func (r *Runner) scrape(ctx context.Context, task listing.Task, ep *proxypool.Endpoint) ([]listing.Record, error) {
	target, err := BuildURL(r.cfg.SearchURL, task)
	if err != nil {
		return nil, fmt.Errorf("build url: %w", err)
	}
	opts := LaunchOptions{
		UserAgent: r.cfg.UserAgent,
		Width:     r.cfg.Width,
		Height:    r.cfg.Height,
		Headless:  r.cfg.Headless,
	}
	if ep != nil {
		opts.ProxyServer = ep.ServerURL()
	}

	browser, err := r.launcher.Launch(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	defer func() {
		if err := browser.Close(); err != nil {
			r.logger.Warn("browser close failed", zap.String("task", task.String()), zap.Error(err))
		}
	}()

	navCtx, navCancel := context.WithTimeout(ctx, r.cfg.NavigationTimeout)
	err = browser.Navigate(navCtx, target)
	navCancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, listing.NewPageError(listing.ErrTimeout, err)
		}
		return nil, fmt.Errorf("navigate %s: %w", target, err)
	}

	if _, err := r.challenge.Handle(ctx, browser, task); err != nil {
		return nil, err
	}
	if err := jitter.Sleep(ctx, r.cfg.Settle); err != nil {
		return nil, err
	}

	html, err := browser.HTML(ctx)
	if err != nil {
		return nil, err
	}
	records, err := r.extractor.ExtractHTML(strings.NewReader(html), target)
	if err != nil {
		return nil, listing.NewPageError(listing.ErrExtractionFault, err)
	}
	for i := range records {
		records[i].Keyword = task.Keyword
		records[i].Place = task.Place
		records[i].Timezone = r.cfg.Timezone
		records[i].Status = listing.DefaultStatus
	}
	return records, nil
}

func (r *Runner) finish(out listing.Outcome, ep *proxypool.Endpoint) {
	evt := progress.Event{
		Stage:   progress.StagePageDone,
		Keyword: out.Task.Keyword,
		Place:   out.Task.Place,
		Page:    out.Task.Page,
		Outcome: string(out.Kind),
		Count:   out.RecordCount(),
		Proxy:   out.Proxy,
		Dur:     out.Duration,
	}
	fields := []zap.Field{
		zap.String("task", out.Task.String()),
		zap.String("outcome", string(out.Kind)),
		zap.Int("records", out.RecordCount()),
		zap.Duration("dur", out.Duration),
	}
	var reportErr error
	if out.Err != nil {
		reportErr = out.Err
		evt.ErrorKind = string(out.Err.Kind)
		evt.Note = out.Err.Cause
		r.logger.Warn("page failed", append(fields, zap.String("error_kind", string(out.Err.Kind)), zap.String("cause", out.Err.Cause))...)
	} else {
		r.logger.Info("page done", fields...)
	}
	if ep != nil {
		r.proxies.Report(*ep, reportErr)
	}
	r.emitter.Emit(evt)
}

// Package pipeline drives the multi-session strategy over every keyword and
// place combination, checkpointing each batch and delivering the final file.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/id/uuid"
	"github.com/JakeFAU/listing-harvester/internal/jitter"
	"github.com/JakeFAU/listing-harvester/internal/listing"
	"github.com/JakeFAU/listing-harvester/internal/output"
	"github.com/JakeFAU/listing-harvester/internal/progress"
	"github.com/JakeFAU/listing-harvester/internal/publisher/webhook"
)

// DefaultPages is the fixed page range scraped for every combination.
const DefaultPages = 20

// SummaryTopic is the event name attached to run summaries.
const SummaryTopic = "run.completed"

// ErrNoProxies is returned when proxies are required and none were loaded.
var ErrNoProxies = errors.New("no proxies available")

// BatchRunner scrapes one keyword and place. *scheduler.Scheduler implements it.
type BatchRunner interface {
	Batch(ctx context.Context, keyword, place string, pages int) listing.BatchResult
}

// ProxyCounter reports how many proxies were loaded.
type ProxyCounter interface {
	Len() int
}

// Webhook receives the final preview and CSV.
type Webhook interface {
	SendPreview(ctx context.Context, p webhook.Preview) error
	UploadCSV(ctx context.Context, filename string, data []byte, timezone string, ts time.Time) error
}

// Config controls a run.
type Config struct {
	Pages      int
	ComboDelay jitter.Range
	Timezone   string
	// RequireProxies refuses to start with an empty proxy pool instead of
	// falling back to direct connections.
	RequireProxies bool
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Pages:      DefaultPages,
		ComboDelay: jitter.Between(30*time.Second, 60*time.Second),
		Timezone:   "PST",
	}
}

// Deps are the pipeline collaborators. Batches, Artifacts, Clock and IDs are
// required; the rest are optional.
type Deps struct {
	Batches   BatchRunner
	Proxies   ProxyCounter
	Artifacts listing.BlobStore
	Records   listing.RecordStore
	Webhook   Webhook
	Summary   listing.Publisher
	Clock     listing.Clock
	IDs       listing.IDGenerator
	Logger    *zap.Logger
	Emitter   progress.Emitter
}

// Pipeline runs keyword × place combinations in order.
type Pipeline struct {
	cfg  Config
	deps Deps
}

// New validates cfg and deps.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if cfg.Pages <= 0 {
		return nil, fmt.Errorf("pages must be > 0, got %d", cfg.Pages)
	}
	if err := cfg.ComboDelay.Validate(); err != nil {
		return nil, fmt.Errorf("combo delay: %w", err)
	}
	switch {
	case deps.Batches == nil:
		return nil, errors.New("pipeline requires a batch runner")
	case deps.Artifacts == nil:
		return nil, errors.New("pipeline requires an artifact store")
	case deps.Clock == nil:
		return nil, errors.New("pipeline requires a clock")
	case deps.IDs == nil:
		return nil, errors.New("pipeline requires an id generator")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	deps.Logger = deps.Logger.Named("pipeline")
	deps.Emitter = progress.OrNop(deps.Emitter)
	return &Pipeline{cfg: cfg, deps: deps}, nil
}

// Combo is the per-combination line of a run summary.
type Combo struct {
	Keyword         string `json:"keyword"`
	Place           string `json:"place"`
	Records         int    `json:"records"`
	SuccessfulPages int    `json:"successful_pages"`
	EmptyPages      int    `json:"empty_pages"`
	FailedPages     int    `json:"failed_pages"`
	ProgressURI     string `json:"progress_uri,omitempty"`
}

// Summary describes a finished run.
type Summary struct {
	RunID      string    `json:"run_id"`
	Timezone   string    `json:"timezone"`
	Proxies    int       `json:"proxies"`
	Combos     []Combo   `json:"combos"`
	Records    int       `json:"records"`
	FinalFile  string    `json:"final_file,omitempty"`
	FinalURI   string    `json:"final_uri,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Run scrapes every place × keyword combination. Places form the outer loop.
// A cancelled ctx stops the run after the current batch; records gathered so
// far are still written and delivered.
func (p *Pipeline) Run(ctx context.Context, keywords, places []string) (Summary, error) {
	runID, err := p.deps.IDs.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("run id: %w", err)
	}
	return p.RunWithID(ctx, runID, keywords, places)
}

// RunWithID is Run under a caller-chosen run ID, for callers that tag other
// sinks with the same ID before the run starts.
func (p *Pipeline) RunWithID(ctx context.Context, runID string, keywords, places []string) (Summary, error) {
	emitter := progress.WithRun(p.deps.Emitter, progress.UUIDToBytes(uuid.Parse(runID)))
	logger := p.deps.Logger.With(zap.String("run_id", runID))

	sum := Summary{RunID: runID, Timezone: p.cfg.Timezone, StartedAt: p.deps.Clock.Now()}
	if p.deps.Proxies != nil {
		sum.Proxies = p.deps.Proxies.Len()
	}
	emitter.Emit(progress.Event{Stage: progress.StageProxyLoad, Count: sum.Proxies})
	if sum.Proxies == 0 {
		if p.cfg.RequireProxies {
			return sum, ErrNoProxies
		}
		logger.Warn("no proxies loaded, using direct connections")
	}

	emitter.Emit(progress.Event{Stage: progress.StageRunStart, Count: len(keywords) * len(places)})
	logger.Info("run started",
		zap.Int("keywords", len(keywords)),
		zap.Int("places", len(places)),
		zap.Int("pages", p.cfg.Pages),
		zap.Int("proxies", sum.Proxies))

	var all []listing.Record
	runErr := p.combos(ctx, keywords, places, func(res listing.BatchResult) {
		all = append(all, res.Records...)
		sum.Combos = append(sum.Combos, p.checkpoint(ctx, logger, res))
	})

	sum.Records = len(all)
	if len(all) > 0 {
		p.finish(context.WithoutCancel(ctx), logger, all, &sum)
	}
	sum.FinishedAt = p.deps.Clock.Now()
	p.publishSummary(context.WithoutCancel(ctx), logger, sum)

	emitter.Emit(progress.Event{
		Stage: progress.StageRunDone, Count: sum.Records, Dur: sum.FinishedAt.Sub(sum.StartedAt),
	})
	logger.Info("run finished",
		zap.Int("records", sum.Records),
		zap.String("final_uri", sum.FinalURI),
		zap.Duration("dur", sum.FinishedAt.Sub(sum.StartedAt)))
	return sum, runErr
}

func (p *Pipeline) combos(ctx context.Context, keywords, places []string, done func(listing.BatchResult)) error {
	total := len(keywords) * len(places)
	n := 0
	for _, place := range places {
		for _, keyword := range keywords {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("run interrupted: %w", err)
			}
			done(p.deps.Batches.Batch(ctx, keyword, place, p.cfg.Pages))
			n++
			if n == total {
				return nil
			}
			delay := p.cfg.ComboDelay.Draw()
			p.deps.Logger.Info("waiting before next combination", zap.Duration("delay", delay))
			if err := jitter.SleepFor(ctx, delay); err != nil {
				return fmt.Errorf("run interrupted: %w", err)
			}
		}
	}
	return nil
}

// checkpoint writes the progress file and persists records for one batch.
// Failures are logged; the run continues.
func (p *Pipeline) checkpoint(ctx context.Context, logger *zap.Logger, res listing.BatchResult) Combo {
	combo := Combo{
		Keyword:         res.Keyword,
		Place:           res.Place,
		Records:         len(res.Records),
		SuccessfulPages: res.SuccessfulPages,
		EmptyPages:      res.EmptyPages,
		FailedPages:     res.FailedPages,
	}
	if len(res.Records) == 0 {
		return combo
	}
	ctx = context.WithoutCancel(ctx)

	name := output.ProgressName(p.deps.Clock.Now())
	if uri, err := p.writeCSV(ctx, name, res.Records); err != nil {
		logger.Error("progress save failed", zap.String("file", name), zap.Error(err))
	} else {
		combo.ProgressURI = uri
	}

	if p.deps.Records != nil {
		n, err := p.deps.Records.SaveRecords(ctx, res.Records)
		if err != nil {
			logger.Error("record save failed", zap.String("keyword", res.Keyword), zap.String("place", res.Place), zap.Error(err))
		} else {
			logger.Debug("records saved", zap.Int("rows", n))
		}
	}
	return combo
}

func (p *Pipeline) finish(ctx context.Context, logger *zap.Logger, all []listing.Record, sum *Summary) {
	now := p.deps.Clock.Now()
	name := output.FinalName(now)
	data, err := output.EncodeBytes(all, output.LeadFormat)
	if err != nil {
		logger.Error("final encode failed", zap.Error(err))
		return
	}
	uri, err := p.deps.Artifacts.PutObject(ctx, name, "text/csv", data)
	if err != nil {
		logger.Error("final save failed", zap.String("file", name), zap.Error(err))
		return
	}
	sum.FinalFile, sum.FinalURI = name, uri

	if p.deps.Webhook == nil {
		return
	}
	preview := webhook.Preview{
		Filename:      name,
		TotalListings: len(all),
		Timezone:      p.cfg.Timezone,
		Timestamp:     webhook.Timestamp(now),
		Data:          output.Preview(all, webhook.PreviewSize),
	}
	if err := p.deps.Webhook.SendPreview(ctx, preview); err != nil {
		logger.Error("webhook preview failed", zap.Error(err))
	}
	if err := p.deps.Webhook.UploadCSV(ctx, name, data, p.cfg.Timezone, p.deps.Clock.Now()); err != nil {
		logger.Error("webhook upload failed", zap.Error(err))
	}
}

func (p *Pipeline) writeCSV(ctx context.Context, name string, records []listing.Record) (string, error) {
	data, err := output.EncodeBytes(records, output.LeadFormat)
	if err != nil {
		return "", err
	}
	return p.deps.Artifacts.PutObject(ctx, name, "text/csv", data)
}

func (p *Pipeline) publishSummary(ctx context.Context, logger *zap.Logger, sum Summary) {
	if p.deps.Summary == nil {
		return
	}
	id, err := p.deps.Summary.Publish(ctx, SummaryTopic, sum)
	if err != nil {
		logger.Error("summary publish failed", zap.Error(err))
		return
	}
	logger.Info("summary published", zap.String("message_id", id))
}

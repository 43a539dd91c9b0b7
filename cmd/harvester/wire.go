package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcsstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/challenge"
	"github.com/JakeFAU/listing-harvester/internal/config"
	"github.com/JakeFAU/listing-harvester/internal/extract"
	"github.com/JakeFAU/listing-harvester/internal/listing"
	"github.com/JakeFAU/listing-harvester/internal/progress"
	"github.com/JakeFAU/listing-harvester/internal/progress/sinks"
	"github.com/JakeFAU/listing-harvester/internal/proxypool"
	"github.com/JakeFAU/listing-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/listing-harvester/internal/publisher/webhook"
	"github.com/JakeFAU/listing-harvester/internal/scheduler"
	"github.com/JakeFAU/listing-harvester/internal/session"
	"github.com/JakeFAU/listing-harvester/internal/storage/gcs"
	"github.com/JakeFAU/listing-harvester/internal/storage/local"
	"github.com/JakeFAU/listing-harvester/internal/storage/postgres"
)

const hubCloseTimeout = 10 * time.Second

// closers run in reverse order on shutdown.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func newHub(cfg config.Config, logger *zap.Logger, reg prometheus.Registerer, extra ...progress.Sink) (*progress.Hub, error) {
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, err
	}
	all := append([]progress.Sink{sinks.NewLogSink(logger), promSink}, extra...)
	return progress.NewHub(progress.Config{
		BufferSize:    cfg.Progress.BufferSize,
		FlushInterval: cfg.Progress.FlushInterval,
		Logger:        logger.Named("progress"),
	}, all...), nil
}

func closeHub(hub *progress.Hub, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), hubCloseTimeout)
	defer cancel()
	if err := hub.Close(ctx); err != nil {
		logger.Warn("progress hub close failed", zap.Error(err))
	}
}

func loadProxies(ctx context.Context, cfg config.Config, logger *zap.Logger) (*proxypool.Pool, proxypool.Picker) {
	pool := proxypool.Loader{
		FeedURL: cfg.Proxy.FeedURL,
		File:    cfg.Proxy.File,
		Timeout: cfg.Proxy.Timeout,
		Logger:  logger,
	}.Load(ctx)
	if cfg.Proxy.MaxFailures > 0 {
		return pool, proxypool.NewTracker(pool, cfg.Proxy.MaxFailures)
	}
	return pool, pool
}

func newScheduler(
	cfg config.Config,
	timezone string,
	picker proxypool.Picker,
	logger *zap.Logger,
	emitter progress.Emitter,
) (*scheduler.Scheduler, error) {
	handler := challenge.NewHandler(challenge.Config{
		Marker:       cfg.Challenge.Marker,
		Pause:        cfg.Challenge.Pause,
		PollTimeout:  cfg.Challenge.PollTimeout,
		PollInterval: cfg.Challenge.PollInterval,
	}, logger, emitter)

	runner, err := session.NewRunner(session.Config{
		SearchURL:         cfg.Scrape.SearchURL,
		UserAgent:         cfg.Session.UserAgent,
		Width:             cfg.Session.Width,
		Height:            cfg.Session.Height,
		Headless:          cfg.Session.Headless,
		NavigationTimeout: cfg.Session.NavigationTimeout,
		TaskTimeout:       cfg.Session.TaskTimeout,
		Settle:            cfg.Session.Settle,
		Timezone:          timezone,
	}, session.Deps{
		Launcher:  session.NewChromeLauncher(cfg.Session.ChromePath, logger),
		Proxies:   picker,
		Challenge: handler,
		Extractor: extract.New(extract.DefaultRules(), logger.Named("extract")),
		Logger:    logger,
		Emitter:   emitter,
	})
	if err != nil {
		return nil, err
	}
	return scheduler.New(scheduler.Config{
		Concurrency: cfg.Scrape.Concurrency,
		Jitter:      cfg.Scrape.Jitter,
	}, runner, logger, emitter)
}

// newArtifacts prefers GCS when a bucket is configured.
func newArtifacts(ctx context.Context, cfg config.Config, cl *closers) (listing.BlobStore, error) {
	if cfg.Output.GCSBucket == "" {
		return local.New(cfg.Output.Dir)
	}
	client, err := gcsstorage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	cl.add(func() { _ = client.Close() })
	return gcs.New(client, gcs.Config{Bucket: cfg.Output.GCSBucket, Prefix: cfg.Output.GCSPrefix})
}

// newPostgres returns nil stores when no DSN is configured.
func newPostgres(ctx context.Context, cfg config.Config, runID string, cl *closers) (*postgres.ListingStore, *postgres.PageLog, error) {
	if cfg.DB.DSN == "" {
		return nil, nil, nil
	}
	pool, err := postgres.Connect(ctx, postgres.Config{DSN: cfg.DB.DSN, MaxConns: cfg.DB.MaxConns})
	if err != nil {
		return nil, nil, err
	}
	cl.add(pool.Close)

	records, err := postgres.NewListingStore(pool, cfg.DB.Table, runID)
	if err != nil {
		return nil, nil, err
	}
	pages, err := postgres.NewPageLog(pool, cfg.DB.PageTable)
	if err != nil {
		return nil, nil, err
	}
	if err := errors.Join(records.EnsureSchema(ctx), pages.EnsureSchema(ctx)); err != nil {
		return nil, nil, err
	}
	return records, pages, nil
}

func newWebhook(cfg config.Config, logger *zap.Logger) (*webhook.Client, error) {
	if cfg.Webhook.URL == "" {
		return nil, nil
	}
	return webhook.New(webhook.Config{
		URL:           cfg.Webhook.URL,
		JSONTimeout:   cfg.Webhook.JSONTimeout,
		UploadTimeout: cfg.Webhook.UploadTimeout,
	}, nil, logger)
}

func newSummaryPublisher(ctx context.Context, cfg config.Config, cl *closers) (*pubsub.Publisher, error) {
	if cfg.PubSub.TopicName == "" {
		return nil, nil
	}
	pub, err := pubsub.Dial(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
	if err != nil {
		return nil, err
	}
	cl.add(func() { _ = pub.Close() })
	return pub, nil
}

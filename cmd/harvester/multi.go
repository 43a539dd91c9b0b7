package main

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/clock/system"
	"github.com/JakeFAU/listing-harvester/internal/id/uuid"
	"github.com/JakeFAU/listing-harvester/internal/inputs"
	"github.com/JakeFAU/listing-harvester/internal/pipeline"
	"github.com/JakeFAU/listing-harvester/internal/progress"
)

func newMultiCmd(e *env) *cobra.Command {
	var keywordsFile string
	cmd := &cobra.Command{
		Use:   "multi [places-file]",
		Short: "Scrape every keyword and place with one browser session per page",
		Long: `multi reads keywords and places, then scrapes a fixed page range for every
place and keyword combination using isolated headless browser sessions behind
random proxies. The places file also selects the timezone label: pst, est, cst
or mst (with or without .csv).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			placesFile := e.cfg.Inputs.PlacesFile
			if len(args) == 1 {
				placesFile = inputs.PlacesFile(args[0])
			}
			if keywordsFile == "" {
				keywordsFile = e.cfg.Inputs.KeywordsFile
			}
			return runMulti(cmd, e, keywordsFile, placesFile)
		},
	}
	cmd.Flags().StringVar(&keywordsFile, "keywords", "", "keywords CSV (first column)")
	return cmd
}

func runMulti(cmd *cobra.Command, e *env, keywordsFile, placesFile string) error {
	ctx := cmd.Context()
	cfg, logger := e.cfg, e.logger
	timezone := inputs.TimezoneFor(placesFile)

	keywords, err := inputs.Keywords(keywordsFile)
	if err != nil {
		logger.Warn("keywords unavailable, using fallback", zap.String("file", keywordsFile), zap.Error(err))
	}
	places, err := inputs.Places(placesFile)
	if err != nil {
		logger.Warn("places unavailable, using fallback", zap.String("file", placesFile), zap.Error(err))
	}

	runID, err := uuid.New().NewID()
	if err != nil {
		return err
	}
	var cl closers
	defer cl.run()

	artifacts, err := newArtifacts(ctx, cfg, &cl)
	if err != nil {
		return err
	}
	records, pageLog, err := newPostgres(ctx, cfg, runID, &cl)
	if err != nil {
		return err
	}

	var extra []progress.Sink
	if pageLog != nil {
		extra = append(extra, pageLog)
	}
	hub, err := newHub(cfg, logger, prometheus.NewRegistry(), extra...)
	if err != nil {
		return err
	}
	defer closeHub(hub, logger)

	pool, picker := loadProxies(ctx, cfg, logger)
	sched, err := newScheduler(cfg, timezone, picker, logger, hub)
	if err != nil {
		return err
	}

	deps := pipeline.Deps{
		Batches:   sched,
		Proxies:   pool,
		Artifacts: artifacts,
		Clock:     system.NewIn(time.Local),
		IDs:       uuid.New(),
		Logger:    logger,
		Emitter:   hub,
	}
	if records != nil {
		deps.Records = records
	}
	hook, err := newWebhook(cfg, logger)
	if err != nil {
		return err
	}
	if hook != nil {
		deps.Webhook = hook
	}
	summary, err := newSummaryPublisher(ctx, cfg, &cl)
	if err != nil {
		return err
	}
	if summary != nil {
		deps.Summary = summary
	}

	p, err := pipeline.New(pipeline.Config{
		Pages:          cfg.Scrape.Pages,
		ComboDelay:     cfg.Scrape.ComboDelay,
		Timezone:       timezone,
		RequireProxies: cfg.Proxy.Required,
	}, deps)
	if err != nil {
		return err
	}

	sum, err := p.RunWithID(ctx, runID, keywords, places)
	logger.Info("multi-session run complete",
		zap.String("run_id", sum.RunID),
		zap.Int("records", sum.Records),
		zap.String("final", sum.FinalURI))
	return err
}

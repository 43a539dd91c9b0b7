package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/listing-harvester/internal/inputs"
	"github.com/JakeFAU/listing-harvester/internal/simplecrawl"
)

func newSimpleCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "simple <keywords-file> <places-file>",
		Short: "Crawl the static result pages over plain HTTP",
		Long: `simple fetches every result page of every keyword sequentially without a
browser and writes one CSV per place.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger := e.cfg, e.logger

			keywords, err := inputs.ReadFile(args[0])
			if err != nil {
				return err
			}
			places, err := inputs.ReadFile(args[1])
			if err != nil {
				return err
			}

			var cl closers
			defer cl.run()
			artifacts, err := newArtifacts(ctx, cfg, &cl)
			if err != nil {
				return err
			}

			crawler, err := simplecrawl.New(simplecrawl.Config{
				SearchURL:   cfg.Simple.SearchURL,
				UserAgent:   cfg.Simple.UserAgent,
				Timezone:    inputs.TimezoneFor(args[1]),
				Rate:        rate.Limit(cfg.Simple.Rate),
				MaxAttempts: cfg.Simple.MaxAttempts,
				RetryDelay:  cfg.Simple.RetryDelay,
				Timeout:     cfg.Simple.Timeout,
			}, logger)
			if err != nil {
				return err
			}

			results, err := crawler.Run(ctx, keywords, places, artifacts)
			for _, res := range results {
				logger.Info("place done", zap.String("place", res.Place), zap.Int("records", res.Records), zap.String("uri", res.URI))
			}
			return err
		},
	}
}

package main

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/tradeguard/internal/api"
	"github.com/sawpanic/tradeguard/internal/broker"
	"github.com/sawpanic/tradeguard/internal/config"
	"github.com/sawpanic/tradeguard/internal/consensus"
	"github.com/sawpanic/tradeguard/internal/feed"
	"github.com/sawpanic/tradeguard/internal/guard"
	"github.com/sawpanic/tradeguard/internal/outcome"
	"github.com/sawpanic/tradeguard/internal/persistence"
	"github.com/sawpanic/tradeguard/internal/pipeline"
	"github.com/sawpanic/tradeguard/internal/snapshot"
	"github.com/sawpanic/tradeguard/internal/telemetry"
	"github.com/sawpanic/tradeguard/internal/validate"
)

func runCmd(ctx context.Context) *cobra.Command {
	var configPath string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline: feed, validation, consensus, guarded execution",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if dryRun {
				cfg.Broker.DryRun = true
			}
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config (defaults used when omitted)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "force dry-run mode regardless of config")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	validator := validate.New(cfg.Validator)
	engine := consensus.NewEngine(cfg.Consensus)
	tracker := outcome.NewTracker(cfg.Tracker)
	metrics := telemetry.New()

	var placer broker.Placer = broker.DryRunPlacer{}
	if !cfg.Broker.DryRun {
		placer = broker.NewHTTPPlacer(cfg.Broker)
	}
	mode := broker.StaticMode(cfg.Broker.DryRun)
	g := guard.New(cfg.Guard, placer, mode)

	opts := pipeline.Options{Metrics: metrics}

	if cfg.Persistence.Enabled {
		audit, err := persistence.Open(cfg.Persistence)
		if err != nil {
			return err
		}
		defer audit.Close()
		opts.Audit = audit
	}
	if cfg.Snapshot.Enabled {
		snaps, err := snapshot.NewStore(ctx, cfg.Snapshot)
		if err != nil {
			return err
		}
		opts.Snaps = snaps
	}

	pipe := pipeline.New(cfg, validator, engine, g, tracker, opts)
	feedClient := feed.NewClient(cfg.Feed)
	server := api.NewServer(cfg.Server, validator, engine, g, tracker, metrics.Handler())

	log.Info().
		Bool("dry_run", cfg.Broker.DryRun).
		Strs("instruments", cfg.Feed.Instruments).
		Msg("tradeguard starting")

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := feedClient.Run(ctx); err != nil {
			log.Error().Err(err).Msg("feed stopped")
		}
	}()
	go func() {
		defer wg.Done()
		tracker.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := server.Run(ctx); err != nil {
			log.Error().Err(err).Msg("status API stopped")
		}
	}()

	pipe.Run(ctx, feedClient.Observations())
	wg.Wait()
	log.Info().Msg("tradeguard stopped")
	return nil
}

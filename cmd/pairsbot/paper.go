package main

import (
	"context"
	"errors"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pairsbot-go/internal/app"
	"pairsbot-go/internal/metrics"
	"pairsbot-go/internal/util"
)

var (
	paperInterval time.Duration // overrides schedule.interval
	paperTicks    int           // stop after this many ticks
	paperNow      bool          // ignore schedule.run_at
)

var paperCmd = &cobra.Command{
	Use:   "paper",
	Short: "Run the scheduled paper-trading loop",
	RunE:  runPaper,
}

func init() {
	paperCmd.Flags().DurationVar(&paperInterval, "interval", 0, "tick interval override, e.g. 1s for a fast synthetic replay")
	paperCmd.Flags().IntVar(&paperTicks, "ticks", 0, "stop after N ticks (0 runs until interrupted)")
	paperCmd.Flags().BoolVar(&paperNow, "now", false, "fire the first tick immediately instead of at run_at")
}

func runPaper(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := util.NewFileLogger(cfg.App.LogLevel, cfg.App.LogFile)

	if cfg.App.MetricsAddr != "" {
		_ = metrics.Serve(cfg.App.MetricsAddr)
		log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")
	}

	ctx, cancel := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	session, err := app.NewSession(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("build session")
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn().Err(err).Msg("close session")
		}
	}()
	session.Start(ctx)

	sched := app.Schedule{Interval: cfg.Schedule.Interval, RunAt: cfg.Schedule.RunAt}
	if paperInterval > 0 {
		sched.Interval = paperInterval
	}
	if paperNow {
		sched.RunAt = ""
	}

	pair, _ := cfg.SelectedPair()
	log.Info().
		Str("pair", pair.String()).
		Str("provider", cfg.Exchange.Provider).
		Int("lookback", cfg.Strategy.Lookback).
		Msg("paper engine started")
	if err := session.Run(ctx, sched, paperTicks); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("shutting down")
	return nil
}

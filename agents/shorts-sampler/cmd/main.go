package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata" // quota day is Pacific time even on hosts without zoneinfo

	shortssampler "shorts-sampler/agents/shorts-sampler"
	"shorts-sampler/agents/shorts-sampler/collector"
	"shorts-sampler/shared/config"
	"shorts-sampler/shared/logger"
	"shorts-sampler/shared/monitoring"
	"shorts-sampler/shared/scheduler"

	"go.uber.org/zap"
)

const (
	exitOK        = 0
	exitFailure   = 1
	exitCancelled = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	once := flag.Bool("once", false, "Run a single collection pass and exit")
	exportOnly := flag.Bool("export-only", false, "Rewrite the CSV export from collected records without calling the API")
	status := flag.Bool("status", false, "Print progress and quota status without calling the API")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return exitFailure
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return exitFailure
	}
	defer logger.Sync()

	// Create context that responds to signals
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	metrics := monitoring.NewMetrics()
	agent := shortssampler.NewSamplerAgent(cfg, metrics)

	switch {
	case *status:
		if err := agent.Status(ctx, os.Stdout); err != nil {
			logger.Log.Error("failed to read status", zap.Error(err))
			return exitFailure
		}
		return exitOK

	case *exportOnly:
		path, n, err := agent.ExportOnly(ctx)
		if err != nil {
			logger.Log.Error("export failed", zap.Error(err))
			return exitFailure
		}
		fmt.Printf("Exported %d records to %s\n", n, path)
		return exitOK

	case *once:
		s, err := scheduler.New(cfg, agent, metrics)
		if err != nil {
			logger.Log.Error("failed to create scheduler", zap.Error(err))
			return exitFailure
		}
		if err := agent.Initialize(); err != nil {
			logger.Log.Error("failed to initialize agent", zap.Error(err))
			return exitFailure
		}
		if err := s.RunOnce(ctx); err != nil {
			logger.Log.Error("run failed", zap.Error(err))
		}
		return exitCode(agent.LastResult())
	}

	s, err := scheduler.New(cfg, agent, metrics)
	if err != nil {
		logger.Log.Error("failed to create scheduler", zap.Error(err))
		return exitFailure
	}
	if err := s.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Log.Error("scheduler failed", zap.Error(err))
		return exitFailure
	}
	return exitOK
}

func exitCode(res *collector.Result) int {
	if res == nil {
		return exitFailure
	}
	switch res.Outcome {
	case collector.OutcomeDone, collector.OutcomeQuotaExhausted:
		return exitOK
	case collector.OutcomeCancelled:
		return exitCancelled
	default:
		return exitFailure
	}
}

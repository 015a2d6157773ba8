package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/twparser/internal/app"
	"github.com/timmy/twparser/internal/config"
	"github.com/timmy/twparser/internal/logger"
)

func main() {
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		Output:      os.Stderr,
		ServiceName: "twparser-scheduler",
	})
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	configPath := flag.String("config", "", "Path to config file")
	window := flag.Duration("window", time.Hour, "Planning horizon")
	commit := flag.Bool("commit", false, "Persist the plan as queued tasks")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		appLogger.Info("Received shutdown signal, cancelling...")
		cancel()
	}()

	application, err := app.New(ctx, cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize application")
	}
	defer application.Close()

	plan, err := application.Scheduler.Plan(ctx, *window)
	if err != nil {
		appLogger.WithError(err).Fatal("Planning failed")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(plan); err != nil {
		appLogger.WithError(err).Fatal("Failed to write plan")
	}

	if !*commit {
		return
	}

	result, err := application.Scheduler.Commit(ctx, plan)
	if err != nil {
		appLogger.WithError(err).Fatal("Commit failed")
	}
	appLogger.WithFields(logger.Fields{
		"plan_id": result.PlanID,
		"created": len(result.TaskIDs),
		"claimed": result.Claimed,
	}).Info("Plan committed")
}

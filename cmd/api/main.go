package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/twparser/internal/api"
	"github.com/timmy/twparser/internal/app"
	"github.com/timmy/twparser/internal/config"
	"github.com/timmy/twparser/internal/logger"
)

func main() {
	log := logger.NewDefault()
	logger.SetDefaultLogger(log)
	defer logger.Sync()

	// CONFIG_PATH overrides the configs/ lookup in production.
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.WithError(err).Fatal("Failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize application")
	}
	defer application.Close()

	if cfg.Worker.Enabled {
		application.Worker.Start(ctx)
	}
	if cfg.Scheduler.Enabled {
		application.Scheduler.Start(ctx)
	}
	if cfg.Warmth.Enabled {
		application.HealthWorker.Start(ctx)
	}

	router := api.SetupRouter(&api.Services{
		Selection:    application.Selection,
		Slots:        application.SlotService,
		Credentials:  application.Credentials,
		Cooldowns:    application.Cooldowns,
		Parse:        application.Parse,
		Scheduler:    application.Scheduler,
		Execution:    application.Execution,
		Worker:       application.Worker,
		Risk:         application.Risk,
		Warmth:       application.Warmth,
		HealthWorker: application.HealthWorker,
	}, cfg.Server, log)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	application.Scheduler.Stop()
	application.HealthWorker.Stop()
	cancel()
	application.Worker.Stop()

	log.Info("Server exited")
}

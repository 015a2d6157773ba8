// Package app assembles the runtime's object graph from configuration. Both
// binaries build on it.
package app

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"github.com/timmy/twparser/internal/config"
	"github.com/timmy/twparser/internal/coord"
	"github.com/timmy/twparser/internal/crypto"
	"github.com/timmy/twparser/internal/domain"
	"github.com/timmy/twparser/internal/logger"
	"github.com/timmy/twparser/internal/repository"
	"github.com/timmy/twparser/internal/runtime"
	"github.com/timmy/twparser/internal/runtime/mock"
	"github.com/timmy/twparser/internal/runtime/proxy"
	"github.com/timmy/twparser/internal/runtime/remote"
	"github.com/timmy/twparser/internal/service"
	"github.com/timmy/twparser/internal/storage"
)

// App holds every long-lived component.
type App struct {
	Config *config.Config
	DB     *gorm.DB
	Redis  *redis.Client

	Accounts *repository.AccountRepository
	Sessions *repository.SessionRepository
	Signals  *repository.SignalRepository
	Slots    *repository.SlotRepository
	Targets  *repository.TargetRepository
	Tasks    *repository.TaskRepository

	Runtimes     *runtime.Registry
	Risk         *service.RiskService
	Cooldowns    *service.CooldownService
	SlotService  *service.SlotService
	Selection    *service.SelectionService
	Scheduler    *service.SchedulerService
	Archive      *service.ArchiveService
	Worker       *service.TaskWorker
	Credentials  *service.CredentialService
	Warmth       *service.WarmthService
	HealthWorker *service.HealthWorker
	Parse        *service.ParseService
	Execution    *service.ExecutionService
}

// New connects to the configured backends and wires the services.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	a.DB = db

	locker, aborts, err := a.coordination(ctx, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	sealer, err := crypto.NewSealer(cfg.Crypto.Secret, cfg.Crypto.Salt)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init cookie sealer: %w", err)
	}

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	if store == nil {
		log.Info("Result archive disabled")
	}

	a.Accounts = repository.NewAccountRepository(db)
	a.Sessions = repository.NewSessionRepository(db)
	a.Signals = repository.NewSignalRepository(db)
	a.Slots = repository.NewSlotRepository(db)
	a.Targets = repository.NewTargetRepository(db)
	a.Tasks = repository.NewTaskRepository(db)

	a.Runtimes = runtime.NewRegistry()
	a.Runtimes.Register(domain.SlotTypeMock, mock.Factory(mock.Config{
		FailureRate: cfg.Runtime.Mock.FailureRate,
		Latency:     cfg.Runtime.Mock.Latency,
	}))
	a.Runtimes.Register(domain.SlotTypeProxy, proxy.Factory(proxy.Config{
		ParserURL: cfg.Runtime.Proxy.ParserURL,
		Timeout:   cfg.Runtime.Proxy.Timeout,
	}))
	a.Runtimes.Register(domain.SlotTypeRemoteWorker, remote.Factory(remote.Config{
		APIKey:  cfg.Runtime.Remote.APIKey,
		Timeout: cfg.Runtime.Remote.Timeout,
	}))

	policy := service.NewCooldownPolicy(cfg.Cooldown)
	a.Risk = service.NewRiskService(a.Sessions, a.Accounts, a.Signals, log, cfg.Risk)
	a.Cooldowns = service.NewCooldownService(a.Accounts, a.Targets, aborts, log, policy)
	a.SlotService = service.NewSlotService(a.Slots, service.NewCapacityManager(cfg.Capacity), a.Runtimes, log)
	if _, err := a.SlotService.Refresh(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("load slots: %w", err)
	}
	a.Selection = service.NewSelectionService(a.Accounts, a.Sessions, a.SlotService, a.Risk, sealer, log)
	a.Scheduler = service.NewSchedulerService(a.Targets, a.Tasks, a.Selection, a.SlotService, locker, log, cfg.Scheduler)
	a.Archive = service.NewArchiveService(store, cfg.Storage.Prefix, log)
	a.Worker = service.NewTaskWorker(service.TaskWorkerDeps{
		Tasks:     a.Tasks,
		Targets:   a.Targets,
		Accounts:  a.Accounts,
		Sessions:  a.Sessions,
		Selection: a.Selection,
		Cooldowns: a.Cooldowns,
		Risk:      a.Risk,
		Slots:     a.SlotService,
		Runtimes:  a.Runtimes,
		Archive:   a.Archive,
	}, log, cfg.Worker)
	a.Credentials = service.NewCredentialService(a.Accounts, a.Sessions, sealer, log)
	a.Warmth = service.NewWarmthService(a.Accounts, a.Sessions, a.Selection, a.Risk, a.SlotService, a.Runtimes, log, cfg.Warmth)
	a.HealthWorker = service.NewHealthWorker(a.Warmth, a.Risk, cfg.Warmth.Interval, cfg.Warmth.RiskInterval, log)
	a.Parse = service.NewParseService(a.Tasks, a.Selection, a.Archive, log)
	a.Execution = service.NewExecutionService(a.Tasks, a.SlotService, a.Worker)

	return a, nil
}

// coordination picks Redis-backed primitives when Redis is enabled so several
// instances share one run-lock and one abort window.
func (a *App) coordination(ctx context.Context, log *logger.Logger) (coord.Locker, coord.Window, error) {
	window := service.NewCooldownPolicy(a.Config.Cooldown).AbortStormWindow
	if !a.Config.Redis.Enabled {
		log.Info("Redis disabled, using in-process coordination")
		return coord.NewLocalLocker(), coord.NewMemoryWindow(window), nil
	}

	client, err := coord.NewRedisClient(ctx, &coord.RedisConfig{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	a.Redis = client
	log.WithField("addr", a.Config.Redis.Addr).Info("Using Redis coordination")

	prefix := a.Config.Redis.Prefix
	return coord.NewRedisLocker(client, prefix), coord.NewRedisWindow(client, prefix+":aborts", window), nil
}

// Close releases the database and Redis connections.
func (a *App) Close() {
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}
}

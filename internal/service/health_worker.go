package service

import (
	"context"
	"sync"
	"time"

	"github.com/timmy/twparser/internal/logger"
)

// HealthWorkerConfig is the reported loop configuration.
type HealthWorkerConfig struct {
	WarmthIntervalMs int64 `json:"warmthIntervalMs"`
	RiskIntervalMs   int64 `json:"riskIntervalMs"`
}

// HealthWorkerStatus is the worker's observable state.
type HealthWorkerStatus struct {
	IsRunning  bool               `json:"isRunning"`
	Config     HealthWorkerConfig `json:"config"`
	LastWarmth *time.Time         `json:"lastWarmthAt,omitempty"`
	LastRisk   *time.Time         `json:"lastRiskAt,omitempty"`
}

// HealthRunResult is the output of an immediate pass.
type HealthRunResult struct {
	Warmth *WarmthResult      `json:"warmth"`
	Risk   *RecalculateResult `json:"risk"`
}

// HealthWorker runs warmth and risk recalculation on their own intervals.
type HealthWorker struct {
	warmth         *WarmthService
	risk           *RiskService
	warmthInterval time.Duration
	riskInterval   time.Duration
	logger         *logger.Logger

	mu         sync.Mutex
	running    bool
	stopCh     chan struct{}
	wg         sync.WaitGroup
	lastWarmth *time.Time
	lastRisk   *time.Time
}

// NewHealthWorker creates a new health worker.
func NewHealthWorker(warmth *WarmthService, risk *RiskService, warmthInterval, riskInterval time.Duration, log *logger.Logger) *HealthWorker {
	if warmthInterval <= 0 {
		warmthInterval = 6 * time.Hour
	}
	if riskInterval <= 0 {
		riskInterval = 30 * time.Minute
	}
	return &HealthWorker{
		warmth:         warmth,
		risk:           risk,
		warmthInterval: warmthInterval,
		riskInterval:   riskInterval,
		logger:         log,
	}
}

// Start launches both loops.
func (w *HealthWorker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	stopCh := w.stopCh
	w.mu.Unlock()

	ctx = logger.SetComponent(logger.FromContextOr(ctx, w.logger).WithContext(ctx), "health_worker")
	w.wg.Add(2)
	go w.every(ctx, stopCh, w.riskInterval, w.runRisk)
	go w.every(ctx, stopCh, w.warmthInterval, w.runWarmth)
	logger.FromContext(ctx).WithFields(logger.Fields{
		"warmth_interval": w.warmthInterval.String(),
		"risk_interval":   w.riskInterval.String(),
	}).Info("Health worker started")
}

func (w *HealthWorker) every(ctx context.Context, stopCh <-chan struct{}, interval time.Duration, fn func(context.Context)) {
	defer w.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (w *HealthWorker) runRisk(ctx context.Context) {
	if _, err := w.recalculate(ctx); err != nil {
		logger.FromContext(ctx).WithError(err).Error("Risk recalculation failed")
	}
}

func (w *HealthWorker) runWarmth(ctx context.Context) {
	if _, err := w.warm(ctx); err != nil {
		logger.FromContext(ctx).WithError(err).Error("Warmth pass failed")
	}
}

func (w *HealthWorker) recalculate(ctx context.Context) (*RecalculateResult, error) {
	result, err := w.risk.RecalculateAll(ctx)
	if err == nil {
		now := time.Now().UTC()
		w.mu.Lock()
		w.lastRisk = &now
		w.mu.Unlock()
	}
	return result, err
}

func (w *HealthWorker) warm(ctx context.Context) (*WarmthResult, error) {
	result, err := w.warmth.Run(ctx)
	if err == nil {
		now := time.Now().UTC()
		w.mu.Lock()
		w.lastWarmth = &now
		w.mu.Unlock()
	}
	return result, err
}

// RunNow performs one risk recalculation and one warmth pass immediately.
func (w *HealthWorker) RunNow(ctx context.Context) (*HealthRunResult, error) {
	risk, err := w.recalculate(ctx)
	if err != nil {
		return nil, err
	}
	warmth, err := w.warm(ctx)
	if err != nil {
		return nil, err
	}
	return &HealthRunResult{Warmth: warmth, Risk: risk}, nil
}

// Status reports whether the loops run and their intervals.
func (w *HealthWorker) Status() HealthWorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return HealthWorkerStatus{
		IsRunning: w.running,
		Config: HealthWorkerConfig{
			WarmthIntervalMs: w.warmthInterval.Milliseconds(),
			RiskIntervalMs:   w.riskInterval.Milliseconds(),
		},
		LastWarmth: w.lastWarmth,
		LastRisk:   w.lastRisk,
	}
}

// Stop halts both loops and waits for the current passes.
func (w *HealthWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()
	w.wg.Wait()
}

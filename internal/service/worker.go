package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/timmy/twparser/internal/config"
	"github.com/timmy/twparser/internal/domain"
	"github.com/timmy/twparser/internal/logger"
	"github.com/timmy/twparser/internal/repository"
	"github.com/timmy/twparser/internal/runtime"
)

// TaskWorkerDeps are the collaborators a TaskWorker drives.
type TaskWorkerDeps struct {
	Tasks     *repository.TaskRepository
	Targets   *repository.TargetRepository
	Accounts  *repository.AccountRepository
	Sessions  *repository.SessionRepository
	Selection *SelectionService
	Cooldowns *CooldownService
	Risk      *RiskService
	Slots     *SlotService
	Runtimes  *runtime.Registry
	Archive   *ArchiveService
}

// WorkerStatus is the worker's observable state.
type WorkerStatus struct {
	Running      bool     `json:"running"`
	Concurrency  int      `json:"concurrency"`
	CurrentTasks []string `json:"currentTasks"`
}

// AbortResult counts tasks stopped by AbortAll.
type AbortResult struct {
	Running int `json:"running"`
	Queued  int `json:"queued"`
}

// taskOutcome is the result of driving one task to a terminal state.
type taskOutcome struct {
	status    domain.TaskStatus
	result    *runtime.Result
	code      domain.ErrorCode
	message   string
	attempts  int
	accountID string
	sessionID string
	slotID    string
}

// TaskWorker executes queued parse tasks.
type TaskWorker struct {
	deps   TaskWorkerDeps
	policy CooldownPolicy
	cfg    config.WorkerConfig
	logger *logger.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
	inflight map[string]context.CancelFunc
}

// NewTaskWorker creates a new worker.
func NewTaskWorker(deps TaskWorkerDeps, log *logger.Logger, cfg config.WorkerConfig) *TaskWorker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.RuntimeTimeout <= 0 {
		cfg.RuntimeTimeout = 90 * time.Second
	}
	return &TaskWorker{
		deps:     deps,
		policy:   deps.Cooldowns.Policy(),
		cfg:      cfg,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
		sleep:    sleepContext,
		inflight: make(map[string]context.CancelFunc),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (w *TaskWorker) log(ctx context.Context) *logger.Logger {
	return logger.FromContextOr(ctx, w.logger)
}

// Start launches the worker pool.
func (w *TaskWorker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	stopCh := w.stopCh
	w.mu.Unlock()

	ctx = logger.SetComponent(w.log(ctx).WithContext(ctx), "worker")
	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go func(id int) {
			defer w.wg.Done()
			w.loop(logger.WithField(ctx, "worker_id", id), stopCh)
		}(i)
	}
	w.log(ctx).WithField("concurrency", w.cfg.Concurrency).Info("Task worker started")
}

func (w *TaskWorker) loop(ctx context.Context, stopCh <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		processed, err := w.ProcessNext(ctx)
		if err != nil {
			w.log(ctx).WithError(err).Error("Task processing failed")
		}
		if processed && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// Stop halts the pool and waits for in-flight tasks to finish.
func (w *TaskWorker) Stop() {
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

// Status reports whether the pool runs and which tasks are in flight.
func (w *TaskWorker) Status() WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	status := WorkerStatus{
		Running:      w.running,
		Concurrency:  w.cfg.Concurrency,
		CurrentTasks: make([]string, 0, len(w.inflight)),
	}
	for id := range w.inflight {
		status.CurrentTasks = append(status.CurrentTasks, id)
	}
	return status
}

// AbortAll cancels every in-flight task and aborts everything still queued.
func (w *TaskWorker) AbortAll(ctx context.Context) (*AbortResult, error) {
	result := &AbortResult{}

	w.mu.Lock()
	for _, cancel := range w.inflight {
		cancel()
		result.Running++
	}
	w.mu.Unlock()

	queued, err := w.deps.Tasks.ListByStatus(ctx, domain.TaskStatusQueued)
	if err != nil {
		return result, err
	}
	now := w.now()
	for _, task := range queued {
		err := w.deps.Tasks.Transition(ctx, task.ID, domain.TaskStatusQueued, domain.TaskStatusAborted, map[string]interface{}{
			"error":        domain.ErrCodeAborted,
			"completed_at": now,
			"duration_ms":  int64(0),
		})
		if errors.Is(err, repository.ErrConflict) {
			continue
		}
		if err != nil {
			return result, err
		}
		result.Queued++
	}

	w.log(ctx).WithFields(logger.Fields{"running": result.Running, "queued": result.Queued}).Warn("All tasks aborted")
	return result, nil
}

// ProcessNext takes the oldest queued task and drives it to a terminal state.
// It returns false when the queue is empty.
func (w *TaskWorker) ProcessNext(ctx context.Context) (bool, error) {
	task, err := w.deps.Tasks.NextQueued(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}
	ctx = logger.SetTaskID(ctx, task.ID)
	start := w.now()

	if task.TargetID != nil {
		target, err := w.deps.Targets.GetByID(ctx, *task.TargetID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return true, err
		}
		if target != nil {
			if cd := target.Cooldown(start); cd.OnCooldown {
				return true, w.skipForCooldown(ctx, task, cd, start)
			}
		}
	}

	err = w.deps.Tasks.Transition(ctx, task.ID, domain.TaskStatusQueued, domain.TaskStatusRunning, map[string]interface{}{
		"started_at": start,
	})
	if errors.Is(err, repository.ErrConflict) {
		return true, nil
	}
	if err != nil {
		return true, err
	}

	taskCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.inflight[task.ID] = cancel
	w.mu.Unlock()
	defer func() {
		cancel()
		w.mu.Lock()
		delete(w.inflight, task.ID)
		w.mu.Unlock()
	}()

	out := w.execute(taskCtx, task)
	return true, w.finish(ctx, task, out, start)
}

func (w *TaskWorker) skipForCooldown(ctx context.Context, task *domain.Task, cd domain.Cooldown, now time.Time) error {
	err := w.deps.Tasks.Transition(ctx, task.ID, domain.TaskStatusQueued, domain.TaskStatusFailed, map[string]interface{}{
		"error":         domain.ErrCodeTargetCooldown,
		"error_message": "target on cooldown: " + string(cd.Reason),
		"completed_at":  now,
		"duration_ms":   int64(0),
	})
	if errors.Is(err, repository.ErrConflict) {
		return nil
	}
	if err != nil {
		return err
	}
	w.log(ctx).WithFields(logger.Fields{
		logger.FieldTargetID: *task.TargetID,
		logger.FieldReason:   cd.Reason,
		"remaining_ms":       cd.RemainingMs,
	}).Info("Task skipped, target on cooldown")
	return nil
}

func isAbortLike(code domain.ErrorCode) bool {
	return code == domain.ErrCodeTimedOut || code == domain.ErrCodeTimeout || code == domain.ErrCodeAborted
}

// execute runs attempts until the task reaches a terminal outcome.
func (w *TaskWorker) execute(ctx context.Context, task *domain.Task) taskOutcome {
	out := taskOutcome{accountID: task.AccountID, sessionID: task.SessionID}
	retry := 0

	for {
		if ctx.Err() != nil {
			out.status, out.code = domain.TaskStatusAborted, domain.ErrCodeAborted
			return out
		}
		out.attempts++

		code, message, done := w.attempt(ctx, task, &out)
		if done {
			return out
		}
		if ctx.Err() != nil {
			out.status, out.code = domain.TaskStatusAborted, domain.ErrCodeAborted
			return out
		}

		out.code, out.message = code, message
		if isAbortLike(code) && out.accountID != "" {
			storm, err := w.deps.Cooldowns.RecordAbort(ctx, out.accountID)
			if err != nil {
				w.log(ctx).WithError(err).Warn("Failed to record abort")
			}
			if storm {
				out.status = domain.TaskStatusFailed
				return out
			}
		}

		delay, ok := w.policy.BackoffDelay(retry)
		if !ok {
			out.status = domain.TaskStatusFailed
			return out
		}
		retry++
		w.log(ctx).WithFields(logger.Fields{
			"error_code": code,
			"retry":      retry,
			"delay_ms":   delay.Milliseconds(),
		}).Info("Retrying task after backoff")
		if err := w.sleep(ctx, delay); err != nil {
			out.status, out.code = domain.TaskStatusAborted, domain.ErrCodeAborted
			return out
		}
	}
}

// attempt runs one select-reserve-execute cycle. It returns done=true with out
// filled in for terminal outcomes, otherwise the retryable error code.
func (w *TaskWorker) attempt(ctx context.Context, task *domain.Task, out *taskOutcome) (domain.ErrorCode, string, bool) {
	sel, err := w.deps.Selection.SelectForExecution(ctx, SelectionRequest{
		OwnerUserID:  task.OwnerUserID,
		Mode:         SelectionAuto,
		AccountID:    task.AccountID,
		RequireProxy: task.RequireProxy,
	})
	if err != nil {
		if ctx.Err() != nil {
			out.status, out.code, out.message = domain.TaskStatusAborted, domain.ErrCodeAborted, "aborted"
			return "", "", true
		}
		if selErr, ok := AsSelectionError(err); ok {
			if selErr.Reason == ReasonNoSlotCapacity {
				return domain.ErrorCode(selErr.Reason), selErr.Error(), false
			}
			out.status, out.code, out.message = domain.TaskStatusFailed, domain.ErrorCode(selErr.Reason), selErr.Error()
			return "", "", true
		}
		out.status, out.code, out.message = domain.TaskStatusFailed, domain.ErrCodeUnknown, err.Error()
		return "", "", true
	}
	defer sel.Release()

	out.accountID, out.sessionID, out.slotID = sel.Account.ID, sel.Session.ID, sel.Slot.ID
	alog := w.log(ctx).WithFields(logger.Fields{
		logger.FieldAccountID: sel.Account.ID,
		logger.FieldSessionID: sel.Session.ID,
		logger.FieldSlotID:    sel.Slot.ID,
	})

	cookies, err := w.deps.Selection.OpenCookies(&sel.Session)
	if err != nil {
		w.invalidate(ctx, sel.Session.ID, domain.ErrCodeDecryptFailed)
		out.status, out.code, out.message = domain.TaskStatusFailed, domain.ErrCodeDecryptFailed, err.Error()
		return "", "", true
	}

	rt, err := w.deps.Runtimes.For(sel.Slot)
	if err != nil {
		out.status, out.code, out.message = domain.TaskStatusFailed, domain.ErrCodeUnknown, err.Error()
		return "", "", true
	}

	now := w.now()
	if err := w.deps.Sessions.MarkUsed(ctx, sel.Session.ID, now); err != nil {
		alog.WithError(err).Warn("Failed to mark session used")
	}
	if err := w.deps.Risk.RecordRequest(ctx, sel.Session.ID); err != nil {
		alog.WithError(err).Warn("Failed to record request")
	}

	runCtx, cancel := context.WithTimeout(ctx, w.cfg.RuntimeTimeout)
	result, execErr := rt.Execute(runCtx, &runtime.Request{
		TaskID:     task.ID,
		Type:       task.Type,
		Query:      task.Query,
		Limit:      task.Limit,
		AccountID:  sel.Account.ID,
		SessionID:  sel.Session.ID,
		Cookies:    cookies,
		UserAgent:  sel.Session.UserAgent,
		ScrollHint: sel.ScrollHint,
	})
	cancel()

	if execErr == nil {
		w.deps.Slots.Manager().ReportOutcome(sel.Slot.ID, true)
		if err := w.deps.Risk.RecordParse(ctx, sel.Session.ID, true); err != nil {
			alog.WithError(err).Warn("Failed to record parse signal")
		}
		if result == nil {
			result = &runtime.Result{}
		}
		out.result = result
		out.status = result.Status
		if out.status != domain.TaskStatusPartial {
			out.status = domain.TaskStatusDone
		}
		out.code, out.message = "", ""
		return "", "", true
	}

	if ctx.Err() != nil {
		w.deps.Slots.Manager().ReportOutcome(sel.Slot.ID, true)
		out.status, out.code, out.message = domain.TaskStatusAborted, domain.ErrCodeAborted, "aborted"
		return "", "", true
	}

	code := runtime.CodeOf(execErr)
	class := w.policy.Classify(code)
	// Only transport-level failures count against the egress path.
	w.deps.Slots.Manager().ReportOutcome(sel.Slot.ID, class != ErrorClassRetryable)
	if err := w.deps.Risk.RecordParse(ctx, sel.Session.ID, false); err != nil {
		alog.WithError(err).Warn("Failed to record parse signal")
	}
	alog.WithError(execErr).WithFields(logger.Fields{"error_code": code, "class": class}).Warn("Runtime execution failed")

	switch class {
	case ErrorClassCooldown:
		reason, _ := w.policy.CooldownFor(code)
		if _, err := w.deps.Cooldowns.ApplyAccountCooldown(ctx, sel.Account.ID, reason); err != nil {
			alog.WithError(err).Error("Failed to apply account cooldown")
		}
		if err := w.deps.Risk.RecordRateLimit(ctx, sel.Session.ID); err != nil {
			alog.WithError(err).Warn("Failed to record rate limit signal")
		}
		out.status, out.code, out.message = domain.TaskStatusFailed, code, execErr.Error()
		return "", "", true
	case ErrorClassNoRetry:
		w.invalidate(ctx, sel.Session.ID, code)
		out.status, out.code, out.message = domain.TaskStatusFailed, code, execErr.Error()
		return "", "", true
	default:
		return code, execErr.Error(), false
	}
}

func (w *TaskWorker) invalidate(ctx context.Context, sessionID string, code domain.ErrorCode) {
	status := domain.SessionStatusInvalid
	if code == domain.ErrCodeSessionExpired {
		status = domain.SessionStatusExpired
	}
	if err := w.deps.Sessions.Invalidate(ctx, sessionID, status, string(code)); err != nil {
		w.log(ctx).WithError(err).WithField(logger.FieldSessionID, sessionID).Error("Failed to invalidate session")
		return
	}
	w.log(ctx).WithFields(logger.Fields{
		logger.FieldSessionID: sessionID,
		logger.FieldStatus:    status,
		logger.FieldReason:    code,
	}).Warn("Session invalidated")
}

// finish persists the terminal state and feeds target statistics.
func (w *TaskWorker) finish(ctx context.Context, task *domain.Task, out taskOutcome, start time.Time) error {
	// Persist even when the task itself was cancelled.
	ctx = context.WithoutCancel(ctx)
	completed := w.now()
	durationMs := completed.Sub(start).Milliseconds()

	fetched, planned := 0, 0
	if out.result != nil {
		fetched, planned = out.result.Fetched, out.result.Planned
	}

	err := w.deps.Tasks.Transition(ctx, task.ID, domain.TaskStatusRunning, out.status, map[string]interface{}{
		"fetched":       fetched,
		"planned":       planned,
		"attempts":      out.attempts,
		"error":         out.code,
		"error_message": out.message,
		"account_id":    out.accountID,
		"session_id":    out.sessionID,
		"slot_id":       out.slotID,
		"completed_at":  completed,
		"duration_ms":   durationMs,
	})
	if err != nil {
		return err
	}

	succeeded := out.status == domain.TaskStatusDone || out.status == domain.TaskStatusPartial
	if task.TargetID != nil {
		targetID := *task.TargetID
		if err := w.deps.Targets.RecordRun(ctx, targetID, fetched, completed); err != nil {
			w.log(ctx).WithError(err).WithField(logger.FieldTargetID, targetID).Error("Failed to record target run")
		}
		if succeeded {
			if fetched == 0 {
				if count, triggered, err := w.deps.Cooldowns.TrackEmptyResult(ctx, targetID); err != nil {
					w.log(ctx).WithError(err).WithField(logger.FieldTargetID, targetID).Error("Failed to track empty result")
				} else if triggered {
					w.log(ctx).WithFields(logger.Fields{
						logger.FieldTargetID: targetID,
						logger.FieldCount:    count,
					}).Warn("Target cooled down after consecutive empty runs")
				}
			} else if err := w.deps.Cooldowns.ResetEmptyCount(ctx, targetID); err != nil {
				w.log(ctx).WithError(err).WithField(logger.FieldTargetID, targetID).Error("Failed to reset empty count")
			}
		}
	}

	if succeeded {
		if err := w.deps.Accounts.MarkSuccess(ctx, out.accountID, completed); err != nil {
			w.log(ctx).WithError(err).Warn("Failed to mark account success")
		}
		if err := w.deps.Sessions.MarkSuccess(ctx, out.sessionID, completed); err != nil {
			w.log(ctx).WithError(err).Warn("Failed to mark session success")
		}
		if _, err := w.deps.Archive.Store(ctx, task, out.status, out.result.Items); err != nil {
			w.log(ctx).WithError(err).Warn("Failed to archive task result")
		}
	}

	if out.status == domain.TaskStatusFailed {
		switch w.policy.Classify(out.code) {
		case ErrorClassCooldown, ErrorClassNoRetry:
			w.rescore(ctx, out.sessionID)
		}
	}

	logger.For(w.logger).WithTask(task.ID).WithAccount(out.accountID).
		WithSession(out.sessionID).WithSlot(out.slotID).
		With(logger.Fields{"attempts": out.attempts, "error_code": out.code}).
		WithStatus(string(out.status)).WithDuration(durationMs).WithCount(fetched).
		Info(ctx, "Task finished")
	return nil
}

// rescore refreshes the stored risk score after a failure that wrote risk
// signals, so the next selection ranks the session on them.
func (w *TaskWorker) rescore(ctx context.Context, sessionID string) {
	if sessionID == "" {
		return
	}
	sessLog := w.log(ctx).WithField(logger.FieldSessionID, sessionID)
	session, err := w.deps.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		sessLog.WithError(err).Warn("Failed to load session for rescoring")
		return
	}
	if _, err := w.deps.Risk.Recalculate(ctx, session); err != nil {
		sessLog.WithError(err).Warn("Failed to recalculate session risk")
	}
}

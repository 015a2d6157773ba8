package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/twparser/internal/config"
	"github.com/timmy/twparser/internal/coord"
	"github.com/timmy/twparser/internal/domain"
	"github.com/timmy/twparser/internal/logger"
	"github.com/timmy/twparser/internal/repository"
)

// ErrSchedulerBusy is returned when another planning run holds the run-lock.
var ErrSchedulerBusy = errors.New("scheduler run already in progress")

const schedulerLockKey = "scheduler:run"

// PlannedTask is one unit of work in a batch plan.
type PlannedTask struct {
	TargetID    string            `json:"targetId"`
	OwnerUserID string            `json:"ownerUserId"`
	TargetType  domain.TargetType `json:"targetType"`
	TaskType    domain.TaskType   `json:"taskType"`
	Query       string            `json:"query"`
	Limit       int               `json:"limit"`
	Priority    int               `json:"priority"`
	AccountID   string            `json:"accountId"`
	SessionID   string            `json:"sessionId"`
	PlanSeq     int               `json:"-"`
}

// PlanSkips tallies targets left out of a plan.
type PlanSkips struct {
	Cooldown  int `json:"cooldown"`
	Interval  int `json:"interval"`
	NoContext int `json:"noContext"`
	Capacity  int `json:"capacity"`
}

// BatchPlan is the output of one planning pass.
type BatchPlan struct {
	ID        string        `json:"id"`
	CreatedAt time.Time     `json:"createdAt"`
	WindowMs  int64         `json:"windowMs"`
	Budget       int           `json:"budget"`
	PlannedPosts int           `json:"totalPlannedPosts"`
	Tasks        []PlannedTask `json:"tasks"`
	Skipped      PlanSkips     `json:"skipped"`
}

// CommitResult reports which planned tasks were persisted.
type CommitResult struct {
	PlanID  string   `json:"planId"`
	TaskIDs []string `json:"taskIds"`
	Claimed int      `json:"claimed"`
}

// SchedulerService plans parse tasks from enabled targets.
type SchedulerService struct {
	targets   *repository.TargetRepository
	tasks     *repository.TaskRepository
	selection *SelectionService
	slots     *SlotService
	locker    coord.Locker
	cfg       config.SchedulerConfig
	logger    *logger.Logger
	now       func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewSchedulerService creates a new scheduler.
func NewSchedulerService(
	targets *repository.TargetRepository,
	tasks *repository.TaskRepository,
	selection *SelectionService,
	slots *SlotService,
	locker coord.Locker,
	log *logger.Logger,
	cfg config.SchedulerConfig,
) *SchedulerService {
	if cfg.MaxTasksPerBatch <= 0 {
		cfg.MaxTasksPerBatch = 50
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &SchedulerService{
		targets:   targets,
		tasks:     tasks,
		selection: selection,
		slots:     slots,
		locker:    locker,
		cfg:       cfg,
		logger:    log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *SchedulerService) log(ctx context.Context) *logger.Logger {
	return logger.FromContextOr(ctx, s.logger)
}

type ownerContext struct {
	candidates []Candidate
	next       int
}

// ownerContext resolves, once per owner, the ranked accounts that can execute now.
func (s *SchedulerService) ownerContext(ctx context.Context, cache map[string]*ownerContext, owner string) *ownerContext {
	if oc, ok := cache[owner]; ok {
		return oc
	}
	oc := &ownerContext{}
	cache[owner] = oc

	if _, err := s.selection.Preview(ctx, SelectionRequest{OwnerUserID: owner, Mode: SelectionAuto}); err != nil {
		s.log(ctx).WithField(logger.FieldUserID, owner).WithError(err).Debug("No execution context for owner")
		return oc
	}
	list, err := s.selection.Candidates(ctx, owner)
	if err != nil {
		s.log(ctx).WithField(logger.FieldUserID, owner).WithError(err).Warn("Failed to list candidates")
		return oc
	}
	for _, c := range list.Candidates {
		if c.CanParse {
			oc.candidates = append(oc.candidates, c)
		}
	}
	// Candidates lists the preferred account first; planning spreads work by rank.
	sort.SliceStable(oc.candidates, func(i, j int) bool {
		return oc.candidates[i].Rank < oc.candidates[j].Rank
	})
	return oc
}

// Plan builds a batch from enabled targets in priority order without writing
// anything. window is the planning horizon recorded on the plan; capacity is
// measured against what the slots have left in their rolling window now.
func (s *SchedulerService) Plan(ctx context.Context, window time.Duration) (*BatchPlan, error) {
	if window <= 0 {
		window = s.cfg.Interval
	}
	now := s.now()
	plan := &BatchPlan{
		ID:        uuid.New().String(),
		CreatedAt: now,
		WindowMs:  window.Milliseconds(),
		Tasks:     []PlannedTask{},
	}

	budget, err := s.slots.RemainingBudget(ctx)
	if err != nil {
		return nil, err
	}
	plan.Budget = budget

	targets, err := s.targets.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}

	owners := make(map[string]*ownerContext)
	full := false
	for _, target := range targets {
		tlog := s.log(ctx).WithField(logger.FieldTargetID, target.ID)

		if cd := target.Cooldown(now); cd.OnCooldown {
			plan.Skipped.Cooldown++
			tlog.WithFields(logger.Fields{
				logger.FieldReason: cd.Reason,
				"remaining_ms":     cd.RemainingMs,
			}).Info("SKIPPED_COOLDOWN")
			continue
		}
		if target.PlannedRecently(now) {
			plan.Skipped.Interval++
			continue
		}
		if full {
			plan.Skipped.Capacity++
			continue
		}

		oc := s.ownerContext(ctx, owners, target.OwnerUserID)
		if len(oc.candidates) == 0 {
			plan.Skipped.NoContext++
			tlog.Debug("SKIPPED_NO_CONTEXT")
			continue
		}

		posts := projectedPosts(target.MaxPostsPerRun, budget, plan.PlannedPosts)
		if posts == 0 || len(plan.Tasks) >= s.cfg.MaxTasksPerBatch {
			full = true
			plan.Skipped.Capacity++
			continue
		}

		c := oc.candidates[oc.next%len(oc.candidates)]
		oc.next++
		plan.PlannedPosts += posts
		plan.Tasks = append(plan.Tasks, PlannedTask{
			TargetID:    target.ID,
			OwnerUserID: target.OwnerUserID,
			TargetType:  target.Type,
			TaskType:    target.Type.TaskType(),
			Query:       target.Query,
			Limit:       posts,
			Priority:    target.Priority,
			AccountID:   c.Account.ID,
			SessionID:   c.Session.ID,
			PlanSeq:     target.PlanSeq,
		})
	}

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldPlanID: plan.ID,
		logger.FieldCount:  len(plan.Tasks),
		"planned_posts":    plan.PlannedPosts,
		"budget":           plan.Budget,
		"cooldown":         plan.Skipped.Cooldown,
		"interval":         plan.Skipped.Interval,
		"no_context":       plan.Skipped.NoContext,
		"capacity":         plan.Skipped.Capacity,
	}).Info("Batch planned")
	return plan, nil
}

// projectedPosts is the share of the window budget a target may claim: its
// full maxPostsPerRun, or whatever the budget has left. Zero means the batch
// is full.
func projectedPosts(maxPosts, budget, planned int) int {
	if maxPosts <= 0 {
		maxPosts = defaultParseLimit
	}
	if budget == Unlimited {
		return maxPosts
	}
	left := budget - planned
	if left <= 0 {
		return 0
	}
	if maxPosts > left {
		return left
	}
	return maxPosts
}

// Commit persists one task per planned unit. Targets claimed by a concurrent
// commit, disabled, or put on cooldown since planning are left out.
func (s *SchedulerService) Commit(ctx context.Context, plan *BatchPlan) (*CommitResult, error) {
	ctx = logger.SetPlanID(s.log(ctx).WithContext(ctx), plan.ID)
	result := &CommitResult{PlanID: plan.ID, TaskIDs: []string{}}
	for _, pt := range plan.Tasks {
		targetID := pt.TargetID
		task := &domain.Task{
			OwnerUserID: pt.OwnerUserID,
			Type:        pt.TaskType,
			Query:       pt.Query,
			TargetID:    &targetID,
			AccountID:   pt.AccountID,
			SessionID:   pt.SessionID,
			Limit:       pt.Limit,
			Status:      domain.TaskStatusQueued,
		}
		created, err := s.tasks.CreatePlanned(ctx, task, pt.PlanSeq, s.now())
		if err != nil {
			return result, err
		}
		if !created {
			result.Claimed++
			continue
		}
		result.TaskIDs = append(result.TaskIDs, task.ID)
	}

	s.log(ctx).WithFields(logger.Fields{
		"claimed":         result.Claimed,
		logger.FieldCount: len(result.TaskIDs),
	}).Info("Batch committed")
	return result, nil
}

// RunOnce plans and commits under the run-lock.
func (s *SchedulerService) RunOnce(ctx context.Context) (*CommitResult, error) {
	release, ok, err := s.locker.TryLock(ctx, schedulerLockKey, s.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSchedulerBusy
	}
	defer release()

	plan, err := s.Plan(ctx, s.cfg.Interval)
	if err != nil {
		return nil, err
	}
	return s.Commit(ctx, plan)
}

// Start runs RunOnce every interval until Stop is called.
func (s *SchedulerService) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	ctx = logger.SetComponent(s.log(ctx).WithContext(ctx), "scheduler")
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		s.tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
	s.log(ctx).WithField("interval", s.cfg.Interval.String()).Info("Scheduler started")
}

func (s *SchedulerService) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		if errors.Is(err, ErrSchedulerBusy) {
			s.log(ctx).Debug("Scheduler run skipped, lock held")
			return
		}
		s.log(ctx).WithError(err).Error("Scheduler run failed")
	}
}

// Stop halts the periodic loop and waits for the current run.
func (s *SchedulerService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()
	s.wg.Wait()
}

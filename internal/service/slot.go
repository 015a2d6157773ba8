package service

import (
	"context"
	"fmt"
	"time"

	"github.com/timmy/twparser/internal/domain"
	"github.com/timmy/twparser/internal/logger"
	"github.com/timmy/twparser/internal/repository"
	"github.com/timmy/twparser/internal/runtime"
)

// SlotHealthCheck is the result of probing one slot's runtime.
type SlotHealthCheck struct {
	SlotID     string            `json:"slotId"`
	OK         bool              `json:"ok"`
	Error      string            `json:"error,omitempty"`
	Health     domain.SlotHealth `json:"health"`
	DurationMs int64             `json:"durationMs"`
}

// SlotService keeps the capacity manager in step with persisted slots and owns
// slot administration.
type SlotService struct {
	repo     *repository.SlotRepository
	manager  *CapacityManager
	runtimes *runtime.Registry
	logger   *logger.Logger
}

// NewSlotService creates a new slot service and routes automatic pauses to the repository.
func NewSlotService(repo *repository.SlotRepository, manager *CapacityManager, runtimes *runtime.Registry, log *logger.Logger) *SlotService {
	s := &SlotService{repo: repo, manager: manager, runtimes: runtimes, logger: log}
	manager.OnAutoPause(s.persistAutoPause)
	return s
}

func (s *SlotService) log(ctx context.Context) *logger.Logger {
	return logger.FromContextOr(ctx, s.logger)
}

func (s *SlotService) persistAutoPause(slotID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.repo.SetPaused(ctx, slotID, true, reason); err != nil {
		s.logger.WithError(err).WithField(logger.FieldSlotID, slotID).Error("Failed to persist slot auto-pause")
		return
	}
	s.logger.WithFields(logger.Fields{
		logger.FieldSlotID: slotID,
		logger.FieldReason: reason,
	}).Warn("Slot auto-paused")
}

// Manager returns the underlying capacity manager.
func (s *SlotService) Manager() *CapacityManager {
	return s.manager
}

// Refresh reloads slot definitions into the capacity manager.
func (s *SlotService) Refresh(ctx context.Context) ([]domain.EgressSlot, error) {
	slots, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	s.manager.Sync(slots)
	return slots, nil
}

// Create persists a new slot and registers it with the manager.
func (s *SlotService) Create(ctx context.Context, slot *domain.EgressSlot) error {
	if err := s.repo.Create(ctx, slot); err != nil {
		return err
	}
	_, err := s.Refresh(ctx)
	return err
}

// Snapshots returns the manager's view of every slot after a refresh.
func (s *SlotService) Snapshots(ctx context.Context) ([]SlotSnapshot, error) {
	if _, err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	return s.manager.Snapshots(), nil
}

// Pause persists an administrative pause and applies it immediately.
func (s *SlotService) Pause(ctx context.Context, slotID, reason string) error {
	if reason == "" {
		reason = "paused by operator"
	}
	if err := s.repo.SetPaused(ctx, slotID, true, reason); err != nil {
		return err
	}
	s.manager.Pause(slotID, reason)
	s.log(ctx).WithFields(logger.Fields{logger.FieldSlotID: slotID, logger.FieldReason: reason}).Info("Slot paused")
	return nil
}

// Resume lifts a pause.
func (s *SlotService) Resume(ctx context.Context, slotID string) error {
	if err := s.repo.SetPaused(ctx, slotID, false, ""); err != nil {
		return err
	}
	s.manager.Resume(slotID)
	s.log(ctx).WithField(logger.FieldSlotID, slotID).Info("Slot resumed")
	return nil
}

// Bind attaches an account to a slot, releasing any other binding of that account.
func (s *SlotService) Bind(ctx context.Context, slotID, accountID string) error {
	if err := s.repo.Bind(ctx, slotID, accountID); err != nil {
		return err
	}
	s.runtimes.Forget(slotID)
	_, err := s.Refresh(ctx)
	return err
}

// Unbind clears a slot's account binding.
func (s *SlotService) Unbind(ctx context.Context, slotID string) error {
	if err := s.repo.Unbind(ctx, slotID); err != nil {
		return err
	}
	s.runtimes.Forget(slotID)
	_, err := s.Refresh(ctx)
	return err
}

// HealthCheck probes the slot's runtime and feeds the result into its health.
func (s *SlotService) HealthCheck(ctx context.Context, slotID string) (*SlotHealthCheck, error) {
	slot, err := s.repo.GetByID(ctx, slotID)
	if err != nil {
		return nil, err
	}
	rt, err := s.runtimes.For(*slot)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	checkErr := rt.HealthCheck(ctx)
	s.manager.ReportOutcome(slotID, checkErr == nil)

	result := &SlotHealthCheck{
		SlotID:     slotID,
		OK:         checkErr == nil,
		Health:     s.manager.Health(slotID),
		DurationMs: time.Since(start).Milliseconds(),
	}
	if checkErr != nil {
		result.Error = checkErr.Error()
		s.log(ctx).WithError(checkErr).WithField(logger.FieldSlotID, slotID).Warn("Slot health check failed")
	}
	return result, nil
}

// RemainingBudget sums the window budget left on slots that can take work.
// It returns Unlimited if any such slot has no window quota.
func (s *SlotService) RemainingBudget(ctx context.Context) (int, error) {
	snapshots, err := s.Snapshots(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, snap := range snapshots {
		if !snap.Slot.Enabled || snap.Paused || snap.Health == domain.SlotHealthError {
			continue
		}
		if snap.Remaining == Unlimited {
			return Unlimited, nil
		}
		total += snap.Remaining
	}
	return total, nil
}

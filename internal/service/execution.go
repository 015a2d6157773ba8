package service

import (
	"context"

	"github.com/timmy/twparser/internal/domain"
	"github.com/timmy/twparser/internal/repository"
)

// CapacityStatus aggregates the window budget across enabled slots.
// TotalCapacity and AvailableThisHour are Unlimited when any slot has no quota.
type CapacityStatus struct {
	TotalCapacity     int `json:"totalCapacity"`
	UsedThisHour      int `json:"usedThisHour"`
	AvailableThisHour int `json:"availableThisHour"`
	ActiveInstances   int `json:"activeInstances"`
}

// RuntimeHealthStatus counts enabled slots per health.
type RuntimeHealthStatus struct {
	Total    int `json:"total"`
	Healthy  int `json:"healthy"`
	Degraded int `json:"degraded"`
	Error    int `json:"error"`
}

// TaskCounts counts tasks per lifecycle bucket.
type TaskCounts struct {
	Queued  int64 `json:"queued"`
	Running int64 `json:"running"`
	Done    int64 `json:"done"`
	Failed  int64 `json:"failed"`
}

// ExecutionStatus is the operator dashboard summary.
type ExecutionStatus struct {
	Worker   WorkerStatus        `json:"worker"`
	Capacity CapacityStatus      `json:"capacity"`
	Runtime  RuntimeHealthStatus `json:"runtime"`
	Tasks    TaskCounts          `json:"tasks"`
}

// RuntimeDetail describes one slot.
type RuntimeDetail struct {
	SlotID     string            `json:"slotId"`
	Label      string            `json:"label"`
	SourceType domain.SlotType   `json:"sourceType"`
	Health     domain.SlotHealth `json:"health"`
	Usage      UsageSnapshot     `json:"usage"`
	Paused     bool              `json:"paused"`
}

// DetailedExecutionStatus adds per-slot details.
type DetailedExecutionStatus struct {
	ExecutionStatus
	RuntimeDetails []RuntimeDetail `json:"runtimeDetails"`
}

// ExecutionService reports the state of the execution pipeline.
type ExecutionService struct {
	tasks  *repository.TaskRepository
	slots  *SlotService
	worker *TaskWorker
}

// NewExecutionService creates a new execution status service.
func NewExecutionService(tasks *repository.TaskRepository, slots *SlotService, worker *TaskWorker) *ExecutionService {
	return &ExecutionService{tasks: tasks, slots: slots, worker: worker}
}

// Status returns the summary view.
func (s *ExecutionService) Status(ctx context.Context) (*ExecutionStatus, error) {
	status, _, err := s.status(ctx)
	return status, err
}

// DetailedStatus returns the summary plus one entry per slot.
func (s *ExecutionService) DetailedStatus(ctx context.Context) (*DetailedExecutionStatus, error) {
	status, snapshots, err := s.status(ctx)
	if err != nil {
		return nil, err
	}
	details := make([]RuntimeDetail, 0, len(snapshots))
	for _, snap := range snapshots {
		details = append(details, RuntimeDetail{
			SlotID:     snap.Slot.ID,
			Label:      snap.Slot.Label,
			SourceType: snap.Slot.Type,
			Health:     snap.Health,
			Usage:      snap.Usage,
			Paused:     snap.Paused,
		})
	}
	return &DetailedExecutionStatus{ExecutionStatus: *status, RuntimeDetails: details}, nil
}

func (s *ExecutionService) status(ctx context.Context) (*ExecutionStatus, []SlotSnapshot, error) {
	snapshots, err := s.slots.Snapshots(ctx)
	if err != nil {
		return nil, nil, err
	}
	counts, err := s.tasks.CountByStatus(ctx)
	if err != nil {
		return nil, nil, err
	}

	status := &ExecutionStatus{
		Tasks: TaskCounts{
			Queued:  counts[domain.TaskStatusQueued],
			Running: counts[domain.TaskStatusRunning],
			Done:    counts[domain.TaskStatusDone] + counts[domain.TaskStatusPartial],
			Failed:  counts[domain.TaskStatusFailed] + counts[domain.TaskStatusAborted],
		},
	}
	if s.worker != nil {
		status.Worker = s.worker.Status()
	}

	unlimited := false
	for _, snap := range snapshots {
		if !snap.Slot.Enabled {
			continue
		}
		status.Runtime.Total++
		switch snap.Health {
		case domain.SlotHealthHealthy:
			status.Runtime.Healthy++
		case domain.SlotHealthDegraded:
			status.Runtime.Degraded++
		default:
			status.Runtime.Error++
		}

		status.Capacity.UsedThisHour += snap.Usage.RequestsThisWindow
		if !snap.Paused && snap.Health != domain.SlotHealthError {
			status.Capacity.ActiveInstances++
		}
		if snap.Usage.MaxPerWindow <= 0 {
			unlimited = true
			continue
		}
		status.Capacity.TotalCapacity += snap.Usage.MaxPerWindow
		status.Capacity.AvailableThisHour += snap.Remaining
	}
	if unlimited {
		status.Capacity.TotalCapacity = Unlimited
		status.Capacity.AvailableThisHour = Unlimited
	}
	return status, snapshots, nil
}

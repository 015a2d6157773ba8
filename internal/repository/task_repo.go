package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/twparser/internal/domain"
	"gorm.io/gorm"
)

// TaskRepository is the durable parse task queue.
type TaskRepository struct {
	db *gorm.DB
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// TaskFilter narrows task listings.
type TaskFilter struct {
	OwnerUserID string
	Status      domain.TaskStatus
	Type        domain.TaskType
	Limit       int
	Offset      int
}

// Create enqueues a task. ID and status are filled in when empty.
func (r *TaskRepository) Create(ctx context.Context, task *domain.Task) error {
	prepareTask(task)
	return r.db.WithContext(ctx).Create(task).Error
}

// CreatePlanned enqueues a task for a target, claiming the target's planning
// sequence first. The claim fails when the sequence moved, the target was
// disabled, or it went on cooldown since the plan was made.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - task: task with TargetID set.
//   - planSeq: the target's PlanSeq observed while planning.
//   - now: commit time, written to last_planned_at.
// Returns:
//   - bool: false when the target was claimed elsewhere and no task was created.
//   - error: non-nil on database failure.
func (r *TaskRepository) CreatePlanned(ctx context.Context, task *domain.Task, planSeq int, now time.Time) (bool, error) {
	prepareTask(task)
	created := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Target{}).
			Where("id = ? AND plan_seq = ? AND enabled = ?", *task.TargetID, planSeq, true).
			Where("(cooldown_until IS NULL OR cooldown_until <= ?)", now).
			Updates(map[string]interface{}{
				"plan_seq":        gorm.Expr("plan_seq + 1"),
				"last_planned_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := tx.Create(task).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	return created, err
}

func prepareTask(task *domain.Task) {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Status == "" {
		task.Status = domain.TaskStatusQueued
	}
}

// GetByID retrieves a task by its ID.
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	var task domain.Task
	if err := r.db.WithContext(ctx).First(&task, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &task, nil
}

// List returns tasks matching the filter, newest first, with the total match count.
func (r *TaskRepository) List(ctx context.Context, f TaskFilter) ([]domain.Task, int64, error) {
	filtered := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&domain.Task{})
		if f.OwnerUserID != "" {
			q = q.Where("owner_user_id = ?", f.OwnerUserID)
		}
		if f.Status != "" {
			q = q.Where("status = ?", f.Status)
		}
		if f.Type != "" {
			q = q.Where("type = ?", f.Type)
		}
		return q
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	q := filtered()
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	var tasks []domain.Task
	if err := q.Order("created_at DESC").Order("id DESC").Find(&tasks).Error; err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

// NextQueued returns the oldest queued task without claiming it, or nil when the queue is empty.
func (r *TaskRepository) NextQueued(ctx context.Context) (*domain.Task, error) {
	var tasks []domain.Task
	if err := r.db.WithContext(ctx).
		Where("status = ?", domain.TaskStatusQueued).
		Order("created_at ASC").Order("id ASC").
		Limit(1).Find(&tasks).Error; err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	return &tasks[0], nil
}

// ListByStatus returns every task in the given status.
func (r *TaskRepository) ListByStatus(ctx context.Context, status domain.TaskStatus) ([]domain.Task, error) {
	var tasks []domain.Task
	err := r.db.WithContext(ctx).Where("status = ?", status).Order("created_at ASC").Find(&tasks).Error
	return tasks, err
}

// Transition moves a task from one status to another if, and only if, it is
// still in the expected status. Extra column values are written in the same update.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: task ID.
//   - from: status the caller observed.
//   - to: requested status; must be allowed by the transition table.
//   - fields: additional columns to set, keyed by column name.
// Returns:
//   - error: domain.ErrInvalidTransition for illegal moves, ErrConflict if the task moved meanwhile.
func (r *TaskRepository) Transition(ctx context.Context, id string, from, to domain.TaskStatus, fields map[string]interface{}) error {
	if err := domain.ValidateTransition(from, to); err != nil {
		return err
	}
	values := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		values[k] = v
	}
	values["status"] = to

	res := r.db.WithContext(ctx).Model(&domain.Task{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// CountByStatus returns the number of tasks per status.
func (r *TaskRepository) CountByStatus(ctx context.Context) (map[domain.TaskStatus]int64, error) {
	var rows []struct {
		Status domain.TaskStatus
		N      int64
	}
	if err := r.db.WithContext(ctx).Model(&domain.Task{}).
		Select("status, COUNT(*) AS n").Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[domain.TaskStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}

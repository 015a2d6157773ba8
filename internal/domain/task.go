package domain

import (
	"errors"
	"fmt"
	"time"
)

// TaskType is the kind of parse a task performs.
type TaskType string

const (
	TaskTypeSearch  TaskType = "SEARCH"
	TaskTypeAccount TaskType = "ACCOUNT"
)

// TaskStatus represents the lifecycle state of a parse task.
type TaskStatus string

const (
	TaskStatusQueued  TaskStatus = "QUEUED"
	TaskStatusRunning TaskStatus = "RUNNING"
	TaskStatusDone    TaskStatus = "DONE"
	TaskStatusPartial TaskStatus = "PARTIAL"
	TaskStatusFailed  TaskStatus = "FAILED"
	TaskStatusAborted TaskStatus = "ABORTED"
)

// ErrInvalidTransition is returned when a task status change is not in the transition table.
var ErrInvalidTransition = errors.New("invalid task status transition")

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusQueued:  {TaskStatusRunning, TaskStatusFailed, TaskStatusAborted},
	TaskStatusRunning: {TaskStatusDone, TaskStatusPartial, TaskStatusFailed, TaskStatusAborted},
}

// CanTransitionTo reports whether s may move to next.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	for _, allowed := range taskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s TaskStatus) IsTerminal() bool {
	return len(taskTransitions[s]) == 0
}

// ValidateTransition returns ErrInvalidTransition wrapped with both states when from cannot move to to.
func ValidateTransition(from, to TaskStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Task is a unit of scheduled or ad-hoc parse work.
type Task struct {
	ID           string     `gorm:"type:text;primaryKey" json:"id"`
	OwnerUserID  string     `gorm:"type:text;not null;index" json:"ownerUserId"`
	Type         TaskType   `gorm:"type:text;not null" json:"type"`
	Query        string     `gorm:"type:text;not null" json:"query"`
	TargetID     *string    `gorm:"type:text;index" json:"targetId,omitempty"`
	AccountID    string     `gorm:"type:text;index" json:"accountId"`
	SessionID    string     `gorm:"type:text" json:"sessionId"`
	SlotID       string     `gorm:"type:text" json:"slotId,omitempty"`
	RequireProxy bool       `gorm:"not null" json:"requireProxy"`
	Status       TaskStatus `gorm:"type:text;not null;index:idx_task_status_created" json:"status"`
	Fetched      int        `gorm:"not null" json:"fetched"`
	Limit        int        `gorm:"column:fetch_limit;not null" json:"limit"`
	Planned      int        `gorm:"not null" json:"planned"`
	Attempts     int        `gorm:"not null" json:"attempts"`
	Error        ErrorCode  `gorm:"type:text" json:"error,omitempty"`
	ErrorMessage string     `gorm:"type:text" json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `gorm:"index:idx_task_status_created" json:"createdAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	DurationMs   int64      `json:"durationMs"`
}

// TableName returns the database table name for Task.
func (Task) TableName() string {
	return "twitter_parse_tasks"
}

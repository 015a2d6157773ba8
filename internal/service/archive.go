package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/timmy/twparser/internal/domain"
	"github.com/timmy/twparser/internal/logger"
	"github.com/timmy/twparser/internal/runtime"
	"github.com/timmy/twparser/internal/storage"
)

// TaskArchive is the JSON document written for a finished task.
type TaskArchive struct {
	TaskID      string            `json:"taskId"`
	OwnerUserID string            `json:"ownerUserId"`
	TargetID    *string           `json:"targetId,omitempty"`
	Type        domain.TaskType   `json:"type"`
	Query       string            `json:"query"`
	Status      domain.TaskStatus `json:"status"`
	Fetched     int               `json:"fetched"`
	ArchivedAt  time.Time         `json:"archivedAt"`
	Items       []runtime.Item    `json:"items"`
}

// ArchiveService writes task results to object storage. A nil store disables it.
type ArchiveService struct {
	store  storage.ObjectStorage
	prefix string
	logger *logger.Logger
}

// NewArchiveService creates a new archive service.
func NewArchiveService(store storage.ObjectStorage, prefix string, log *logger.Logger) *ArchiveService {
	return &ArchiveService{store: store, prefix: prefix, logger: log}
}

// Enabled reports whether archives are written.
func (s *ArchiveService) Enabled() bool {
	return s != nil && s.store != nil
}

// Store archives a task's items and returns the object key, or "" when disabled.
func (s *ArchiveService) Store(ctx context.Context, task *domain.Task, status domain.TaskStatus, items []runtime.Item) (string, error) {
	if !s.Enabled() {
		return "", nil
	}
	if items == nil {
		items = []runtime.Item{}
	}
	body, err := json.Marshal(TaskArchive{
		TaskID:      task.ID,
		OwnerUserID: task.OwnerUserID,
		TargetID:    task.TargetID,
		Type:        task.Type,
		Query:       task.Query,
		Status:      status,
		Fetched:     len(items),
		ArchivedAt:  time.Now().UTC(),
		Items:       items,
	})
	if err != nil {
		return "", fmt.Errorf("encode archive: %w", err)
	}

	key := storage.TaskResultKey(s.prefix, task.OwnerUserID, task.ID)
	if err := s.store.Put(ctx, key, body, "application/json"); err != nil {
		return "", err
	}
	logger.For(s.logger).WithTask(task.ID).WithField("key", key).
		WithCount(len(items)).Debug(ctx, "Task result archived")
	return key, nil
}

// ResultURL returns where a task's archive can be fetched, or "" when nothing
// was archived.
func (s *ArchiveService) ResultURL(ctx context.Context, task *domain.Task) (string, error) {
	if !s.Enabled() {
		return "", nil
	}
	key := storage.TaskResultKey(s.prefix, task.OwnerUserID, task.ID)
	found, err := s.store.Exists(ctx, key)
	if err != nil || !found {
		return "", err
	}
	return s.store.URL(key), nil
}

// Load reads a task's archived result.
func (s *ArchiveService) Load(ctx context.Context, task *domain.Task) (*TaskArchive, error) {
	if !s.Enabled() {
		return nil, storage.ErrObjectNotFound
	}
	body, err := s.store.Get(ctx, storage.TaskResultKey(s.prefix, task.OwnerUserID, task.ID))
	if err != nil {
		return nil, err
	}
	var archive TaskArchive
	if err := json.Unmarshal(body, &archive); err != nil {
		return nil, fmt.Errorf("decode archive: %w", err)
	}
	return &archive, nil
}

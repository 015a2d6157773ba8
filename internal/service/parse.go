package service

import (
	"context"
	"strings"

	"github.com/timmy/twparser/internal/domain"
	"github.com/timmy/twparser/internal/logger"
	"github.com/timmy/twparser/internal/repository"
)

const (
	minParseLimit     = 10
	maxParseLimit     = 500
	defaultParseLimit = 50
	maxTaskPageSize   = 100
)

// ValidationError is a rejected request; Message is shown to the caller as is.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ParseRequest is an ad-hoc parse submitted by an owner.
type ParseRequest struct {
	OwnerUserID  string
	Query        string
	Limit        int
	Mode         SelectionMode
	AccountID    string
	RequireProxy bool
}

// ParseResult acknowledges a queued parse.
type ParseResult struct {
	Status    domain.TaskStatus `json:"status"`
	TaskID    string            `json:"taskId"`
	AccountID string            `json:"accountId"`
}

// EngineSummary condenses a task's execution for operators.
type EngineSummary struct {
	Fetched    int   `json:"fetched"`
	Planned    int   `json:"planned"`
	DurationMs int64 `json:"durationMs"`
	Aborted    bool  `json:"aborted"`
}

// TaskDetail is a task plus its engine summary.
type TaskDetail struct {
	domain.Task
	EngineSummary EngineSummary `json:"engineSummary"`
	ResultURL     string        `json:"resultUrl,omitempty"`
}

// TaskPage is one page of an owner's tasks.
type TaskPage struct {
	Tasks []domain.Task `json:"tasks"`
	Total int64         `json:"total"`
	Limit int           `json:"limit"`
	Skip  int           `json:"skip"`
}

// ParseService queues ad-hoc parse tasks.
type ParseService struct {
	tasks     *repository.TaskRepository
	selection *SelectionService
	archive   *ArchiveService
	logger    *logger.Logger
}

// NewParseService creates a new parse service.
func NewParseService(tasks *repository.TaskRepository, selection *SelectionService, archive *ArchiveService, log *logger.Logger) *ParseService {
	return &ParseService{tasks: tasks, selection: selection, archive: archive, logger: log}
}

// ClampParseLimit bounds a requested limit, substituting the default for zero.
func ClampParseLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultParseLimit
	case limit < minParseLimit:
		return minParseLimit
	case limit > maxParseLimit:
		return maxParseLimit
	}
	return limit
}

// ParseSearch queues a keyword search.
func (s *ParseService) ParseSearch(ctx context.Context, req ParseRequest) (*ParseResult, error) {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return nil, &ValidationError{Message: "Missing or invalid query"}
	}
	return s.enqueue(ctx, domain.TaskTypeSearch, req)
}

// ParseAccount queues a timeline parse for a username.
func (s *ParseService) ParseAccount(ctx context.Context, req ParseRequest) (*ParseResult, error) {
	req.Query = strings.TrimPrefix(strings.TrimSpace(req.Query), "@")
	if req.Query == "" {
		return nil, &ValidationError{Message: "Missing or invalid username"}
	}
	return s.enqueue(ctx, domain.TaskTypeAccount, req)
}

func (s *ParseService) enqueue(ctx context.Context, taskType domain.TaskType, req ParseRequest) (*ParseResult, error) {
	sel, err := s.selection.Preview(ctx, SelectionRequest{
		OwnerUserID:  req.OwnerUserID,
		Mode:         req.Mode,
		AccountID:    req.AccountID,
		RequireProxy: req.RequireProxy,
	})
	if err != nil {
		return nil, err
	}

	task := &domain.Task{
		OwnerUserID:  req.OwnerUserID,
		Type:         taskType,
		Query:        req.Query,
		Limit:        ClampParseLimit(req.Limit),
		AccountID:    sel.Account.ID,
		SessionID:    sel.Session.ID,
		RequireProxy: req.RequireProxy,
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, err
	}

	logger.FromContextOr(ctx, s.logger).WithFields(logger.Fields{
		logger.FieldTaskID:    task.ID,
		logger.FieldAccountID: task.AccountID,
		"type":                taskType,
		"limit":               task.Limit,
	}).Info("Parse task queued")
	return &ParseResult{Status: task.Status, TaskID: task.ID, AccountID: task.AccountID}, nil
}

// ListTasks pages through an owner's tasks, newest first.
func (s *ParseService) ListTasks(ctx context.Context, f repository.TaskFilter) (*TaskPage, error) {
	if f.Limit <= 0 || f.Limit > maxTaskPageSize {
		f.Limit = maxTaskPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	tasks, total, err := s.tasks.List(ctx, f)
	if err != nil {
		return nil, err
	}
	return &TaskPage{Tasks: tasks, Total: total, Limit: f.Limit, Skip: f.Offset}, nil
}

// GetTask returns one of the owner's tasks.
func (s *ParseService) GetTask(ctx context.Context, owner, id string) (*TaskDetail, error) {
	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.OwnerUserID != owner {
		return nil, repository.ErrNotFound
	}
	detail := &TaskDetail{
		Task: *task,
		EngineSummary: EngineSummary{
			Fetched:    task.Fetched,
			Planned:    task.Planned,
			DurationMs: task.DurationMs,
			Aborted:    task.Status == domain.TaskStatusAborted,
		},
	}
	if task.Status.IsTerminal() {
		url, err := s.archive.ResultURL(ctx, task)
		if err != nil {
			logger.FromContextOr(ctx, s.logger).WithError(err).WithField(logger.FieldTaskID, task.ID).
				Warn("Archive lookup failed")
		}
		detail.ResultURL = url
	}
	return detail, nil
}

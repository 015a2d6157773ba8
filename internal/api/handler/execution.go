package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/twparser/internal/service"
)

// ExecutionHandler serves scheduling and execution control.
type ExecutionHandler struct {
	scheduler *service.SchedulerService
	execution *service.ExecutionService
	worker    *service.TaskWorker
}

// NewExecutionHandler creates a new execution handler.
func NewExecutionHandler(scheduler *service.SchedulerService, execution *service.ExecutionService, worker *service.TaskWorker) *ExecutionHandler {
	return &ExecutionHandler{scheduler: scheduler, execution: execution, worker: worker}
}

// Plan handles GET /scheduler/plan. Nothing is persisted.
func (h *ExecutionHandler) Plan(c *gin.Context) {
	window := time.Hour
	if ms, err := strconv.ParseInt(c.Query("windowMs"), 10, 64); err == nil && ms > 0 {
		window = time.Duration(ms) * time.Millisecond
	}
	plan, err := h.scheduler.Plan(c.Request.Context(), window)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, plan)
}

// Commit handles POST /scheduler/commit.
func (h *ExecutionHandler) Commit(c *gin.Context) {
	result, err := h.scheduler.RunOnce(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, result)
}

// Status handles GET /execution/status.
func (h *ExecutionHandler) Status(c *gin.Context) {
	status, err := h.execution.Status(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, status)
}

// DetailedStatus handles GET /execution/detailed-status.
func (h *ExecutionHandler) DetailedStatus(c *gin.Context) {
	status, err := h.execution.DetailedStatus(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, status)
}

// Abort handles POST /execution/abort.
func (h *ExecutionHandler) Abort(c *gin.Context) {
	result, err := h.worker.AbortAll(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, result)
}

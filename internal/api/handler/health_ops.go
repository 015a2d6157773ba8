package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/twparser/internal/service"
)

// HealthOpsHandler serves risk, warmth and health worker endpoints.
type HealthOpsHandler struct {
	risk   *service.RiskService
	warmth *service.WarmthService
	worker *service.HealthWorker
}

// NewHealthOpsHandler creates a new handler.
func NewHealthOpsHandler(risk *service.RiskService, warmth *service.WarmthService, worker *service.HealthWorker) *HealthOpsHandler {
	return &HealthOpsHandler{risk: risk, warmth: warmth, worker: worker}
}

// RiskReport handles GET /risk/report.
func (h *HealthOpsHandler) RiskReport(c *gin.Context) {
	report, err := h.risk.Report(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, report)
}

// SessionRisk handles GET /risk/session/:id.
func (h *HealthOpsHandler) SessionRisk(c *gin.Context) {
	assessment, err := h.risk.Assess(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, assessment)
}

// Recalculate handles POST /risk/recalculate.
func (h *HealthOpsHandler) Recalculate(c *gin.Context) {
	result, err := h.risk.RecalculateAll(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, result)
}

// WarmthStatus handles GET /warmth/status.
func (h *HealthOpsHandler) WarmthStatus(c *gin.Context) {
	sessions, err := h.warmth.NeedingWarmth(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	cfg := h.warmth.Config()
	ok(c, gin.H{
		"needingWarmth":   len(sessions),
		"sessions":        sessions,
		"idleThresholdMs": cfg.IdleThreshold.Milliseconds(),
		"intervalMs":      cfg.Interval.Milliseconds(),
	})
}

// WarmthRun handles POST /warmth/run.
func (h *HealthOpsHandler) WarmthRun(c *gin.Context) {
	result, err := h.warmth.Run(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, result)
}

// WorkerStatus handles GET /worker/status.
func (h *HealthOpsHandler) WorkerStatus(c *gin.Context) {
	ok(c, h.worker.Status())
}

// WorkerRunNow handles POST /worker/run-now.
func (h *HealthOpsHandler) WorkerRunNow(c *gin.Context) {
	result, err := h.worker.RunNow(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, result)
}

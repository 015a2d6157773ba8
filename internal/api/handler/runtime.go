package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/twparser/internal/api/middleware"
	"github.com/timmy/twparser/internal/domain"
	"github.com/timmy/twparser/internal/service"
)

// RuntimeHandler serves selection previews and slot administration.
type RuntimeHandler struct {
	selection *service.SelectionService
	slots     *service.SlotService
}

// NewRuntimeHandler creates a new runtime handler.
func NewRuntimeHandler(selection *service.SelectionService, slots *service.SlotService) *RuntimeHandler {
	return &RuntimeHandler{selection: selection, slots: slots}
}

func selectionRequest(c *gin.Context) service.SelectionRequest {
	requireProxy, _ := strconv.ParseBool(c.Query("requireProxy"))
	return service.SelectionRequest{
		OwnerUserID:  middleware.OwnerID(c),
		Mode:         service.ParseSelectionMode(c.Query("mode")),
		AccountID:    c.Query("accountId"),
		RequireProxy: requireProxy,
	}
}

// Selection handles GET /runtime/selection.
func (h *RuntimeHandler) Selection(c *gin.Context) {
	sel, err := h.selection.Preview(c.Request.Context(), selectionRequest(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, sel)
}

// FullConfig is the runtime-ready part of a full selection.
type FullConfig struct {
	OwnerUserID string               `json:"ownerUserId"`
	AccountID   string               `json:"accountId"`
	SessionID   string               `json:"sessionId"`
	Cookies     []domain.Cookie      `json:"cookies"`
	UserAgent   string               `json:"userAgent,omitempty"`
	ScrollHint  domain.ScrollProfile `json:"scrollProfileHint"`
}

// FullMeta explains how a full selection was made.
type FullMeta struct {
	Mode                service.SelectionMode `json:"mode"`
	ChosenAccount       domain.Account        `json:"chosenAccount"`
	Session             domain.Session        `json:"session"`
	Slot                domain.EgressSlot     `json:"slot"`
	RiskBand            domain.RiskBand       `json:"riskBand"`
	AlternativeAccounts []string              `json:"alternativeAccounts"`
}

// SelectionFull handles GET /runtime/selection/full.
func (h *RuntimeHandler) SelectionFull(c *gin.Context) {
	req := selectionRequest(c)
	full, err := h.selection.ResolveFull(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{
		"config": FullConfig{
			OwnerUserID: req.OwnerUserID,
			AccountID:   full.Account.ID,
			SessionID:   full.Session.ID,
			Cookies:     full.Cookies,
			UserAgent:   full.UserAgent,
			ScrollHint:  full.ScrollHint,
		},
		"meta": FullMeta{
			Mode:                full.Mode,
			ChosenAccount:       full.Account,
			Session:             full.Session,
			Slot:                full.Slot,
			RiskBand:            full.RiskBand,
			AlternativeAccounts: full.Alternatives,
		},
	})
}

// Candidates handles GET /runtime/candidates.
func (h *RuntimeHandler) Candidates(c *gin.Context) {
	list, err := h.selection.Candidates(c.Request.Context(), middleware.OwnerID(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, list)
}

// Slots handles GET /runtime/slots.
func (h *RuntimeHandler) Slots(c *gin.Context) {
	snapshots, err := h.slots.Snapshots(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"slots": snapshots, "count": len(snapshots)})
}

// PauseSlot handles POST /runtime/slots/:slotId/pause.
func (h *RuntimeHandler) PauseSlot(c *gin.Context) {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&body)
	if err := h.slots.Pause(c.Request.Context(), c.Param("slotId"), body.Reason); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"slotId": c.Param("slotId"), "paused": true})
}

// ResumeSlot handles POST /runtime/slots/:slotId/resume.
func (h *RuntimeHandler) ResumeSlot(c *gin.Context) {
	if err := h.slots.Resume(c.Request.Context(), c.Param("slotId")); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"slotId": c.Param("slotId"), "paused": false})
}

// BindSlot handles POST /runtime/slots/:slotId/bind.
func (h *RuntimeHandler) BindSlot(c *gin.Context) {
	var body struct {
		AccountID string `json:"accountId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "accountId is required")
		return
	}
	if err := h.slots.Bind(c.Request.Context(), c.Param("slotId"), body.AccountID); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"slotId": c.Param("slotId"), "boundAccountId": body.AccountID})
}

// UnbindSlot handles DELETE /runtime/slots/:slotId/bind.
func (h *RuntimeHandler) UnbindSlot(c *gin.Context) {
	if err := h.slots.Unbind(c.Request.Context(), c.Param("slotId")); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"slotId": c.Param("slotId"), "boundAccountId": nil})
}

// HealthCheck handles POST /runtime/health-check/:slotId.
func (h *RuntimeHandler) HealthCheck(c *gin.Context) {
	result, err := h.slots.HealthCheck(c.Request.Context(), c.Param("slotId"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, result)
}

package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/twparser/internal/api/middleware"
	"github.com/timmy/twparser/internal/domain"
	"github.com/timmy/twparser/internal/service"
)

// AccountHandler serves preferred-account, credential and cooldown endpoints.
type AccountHandler struct {
	selection   *service.SelectionService
	credentials *service.CredentialService
	cooldowns   *service.CooldownService
}

// NewAccountHandler creates a new account handler.
func NewAccountHandler(selection *service.SelectionService, credentials *service.CredentialService, cooldowns *service.CooldownService) *AccountHandler {
	return &AccountHandler{selection: selection, credentials: credentials, cooldowns: cooldowns}
}

// GetPreferred handles GET /accounts/preferred.
func (h *AccountHandler) GetPreferred(c *gin.Context) {
	account, mode, err := h.selection.GetPreferred(c.Request.Context(), middleware.OwnerID(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"account": account, "mode": mode})
}

// ClearPreferred handles DELETE /accounts/preferred.
func (h *AccountHandler) ClearPreferred(c *gin.Context) {
	if err := h.selection.ClearPreferred(c.Request.Context(), middleware.OwnerID(c)); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"mode": service.SelectionAuto})
}

// SetPreferred handles POST /accounts/:id/preferred. A body of
// {"preferred": false} clears the preference instead.
func (h *AccountHandler) SetPreferred(c *gin.Context) {
	var body struct {
		Preferred *bool `json:"preferred"`
	}
	_ = c.ShouldBindJSON(&body)

	ctx := c.Request.Context()
	owner := middleware.OwnerID(c)
	if body.Preferred != nil && !*body.Preferred {
		if err := h.selection.ClearPreferred(ctx, owner); err != nil {
			fail(c, err)
			return
		}
		ok(c, gin.H{"accountId": c.Param("id"), "preferred": false, "mode": service.SelectionAuto})
		return
	}

	if err := h.selection.SetPreferred(ctx, owner, c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"accountId": c.Param("id"), "preferred": true, "mode": service.SelectionManual})
}

// CredentialRequest is a cookie bundle captured for an account.
type CredentialRequest struct {
	Cookies   []domain.Cookie `json:"cookies"`
	UserAgent string          `json:"userAgent"`
}

// IngestCredentials handles POST /accounts/:id/credentials.
func (h *AccountHandler) IngestCredentials(c *gin.Context) {
	var req CredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	result, err := h.credentials.Ingest(c.Request.Context(), c.Param("id"), req.Cookies, req.UserAgent)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, result)
}

// AccountCooldown handles GET /accounts/:id/cooldown.
func (h *AccountHandler) AccountCooldown(c *gin.Context) {
	cd, err := h.cooldowns.AccountCooldown(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, cd)
}

// ClearAccountCooldown handles DELETE /accounts/:id/cooldown.
func (h *AccountHandler) ClearAccountCooldown(c *gin.Context) {
	if err := h.cooldowns.ClearAccountCooldown(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	ok(c, domain.Cooldown{})
}

// TargetCooldown handles GET /targets/:id/cooldown.
func (h *AccountHandler) TargetCooldown(c *gin.Context) {
	cd, err := h.cooldowns.TargetCooldown(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, cd)
}

// ClearTargetCooldown handles DELETE /targets/:id/cooldown.
func (h *AccountHandler) ClearTargetCooldown(c *gin.Context) {
	if err := h.cooldowns.ClearTargetCooldown(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	ok(c, domain.Cooldown{})
}

package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/twparser/internal/api/middleware"
	"github.com/timmy/twparser/internal/domain"
	"github.com/timmy/twparser/internal/repository"
	"github.com/timmy/twparser/internal/service"
)

// ParseHandler serves ad-hoc parse submission and task lookup.
type ParseHandler struct {
	parse *service.ParseService
}

// NewParseHandler creates a new parse handler.
func NewParseHandler(parse *service.ParseService) *ParseHandler {
	return &ParseHandler{parse: parse}
}

// ParseSearchRequest is the body of POST /parse/search.
type ParseSearchRequest struct {
	Keyword      string `json:"keyword"`
	Limit        int    `json:"limit"`
	Mode         string `json:"mode"`
	AccountID    string `json:"accountId"`
	RequireProxy bool   `json:"requireProxy"`
}

// ParseAccountRequest is the body of POST /parse/account.
type ParseAccountRequest struct {
	Username     string `json:"username"`
	Limit        int    `json:"limit"`
	Mode         string `json:"mode"`
	AccountID    string `json:"accountId"`
	RequireProxy bool   `json:"requireProxy"`
}

// Search handles POST /parse/search.
func (h *ParseHandler) Search(c *gin.Context) {
	var body ParseSearchRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Missing or invalid query")
		return
	}
	result, err := h.parse.ParseSearch(c.Request.Context(), service.ParseRequest{
		OwnerUserID:  middleware.OwnerID(c),
		Query:        body.Keyword,
		Limit:        body.Limit,
		Mode:         service.ParseSelectionMode(body.Mode),
		AccountID:    body.AccountID,
		RequireProxy: body.RequireProxy,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, result)
}

// Account handles POST /parse/account.
func (h *ParseHandler) Account(c *gin.Context) {
	var body ParseAccountRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Missing or invalid username")
		return
	}
	result, err := h.parse.ParseAccount(c.Request.Context(), service.ParseRequest{
		OwnerUserID:  middleware.OwnerID(c),
		Query:        body.Username,
		Limit:        body.Limit,
		Mode:         service.ParseSelectionMode(body.Mode),
		AccountID:    body.AccountID,
		RequireProxy: body.RequireProxy,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, result)
}

// ListTasks handles GET /parse/tasks.
func (h *ParseHandler) ListTasks(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))
	page, err := h.parse.ListTasks(c.Request.Context(), repository.TaskFilter{
		OwnerUserID: middleware.OwnerID(c),
		Status:      domain.TaskStatus(c.Query("status")),
		Type:        domain.TaskType(c.Query("type")),
		Limit:       limit,
		Offset:      skip,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, page)
}

// GetTask handles GET /parse/tasks/:id.
func (h *ParseHandler) GetTask(c *gin.Context) {
	task, err := h.parse.GetTask(c.Request.Context(), middleware.OwnerID(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, task)
}

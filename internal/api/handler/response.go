package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/twparser/internal/logger"
	"github.com/timmy/twparser/internal/repository"
	"github.com/timmy/twparser/internal/service"
)

// ok writes the success envelope.
func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": data})
}

// fail writes the error envelope with the status derived from err.
func fail(c *gin.Context, err error) {
	body := gin.H{"ok": false, "error": err.Error()}
	status := http.StatusInternalServerError

	var validation *service.ValidationError
	switch {
	case errors.As(err, &validation):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrNoCookies):
		status = http.StatusBadRequest
	case errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
		body["error"] = "not found"
	case errors.Is(err, repository.ErrConflict), errors.Is(err, service.ErrSchedulerBusy):
		status = http.StatusConflict
	default:
		if selErr, isSel := service.AsSelectionError(err); isSel {
			status = http.StatusBadRequest
			body["reason"] = selErr.Reason
			if selErr.RemainingMs > 0 {
				body["remainingMs"] = selErr.RemainingMs
			}
		}
	}

	if status == http.StatusInternalServerError {
		ctx := c.Request.Context()
		logger.FromContext(ctx).WithError(err).Error("Request failed")
		if id := logger.GetRequestID(ctx); id != "" {
			body["requestId"] = id
		}
	}
	c.JSON(status, body)
}

// badRequest rejects a malformed request body or query.
func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": msg})
}

package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/timmy/twparser/internal/logger"
)

// OwnerHeader names the calling platform user.
const OwnerHeader = "X-User-ID"

const ownerKey = "owner_user_id"

// Owner resolves the calling user from OwnerHeader, falling back to defaultID.
func Owner(defaultID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := strings.TrimSpace(c.GetHeader(OwnerHeader))
		if owner == "" {
			owner = defaultID
		}
		c.Set(ownerKey, owner)
		c.Request = c.Request.WithContext(logger.WithField(c.Request.Context(), logger.FieldUserID, owner))
		c.Next()
	}
}

// OwnerID returns the user resolved by Owner.
func OwnerID(c *gin.Context) string {
	return c.GetString(ownerKey)
}

package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/poultrydesk/internal/service/accrual"
	"github.com/mamadbah2/poultrydesk/internal/service/cycles"
)

// UserHeader carries the tenant id. Authentication happens upstream.
const UserHeader = "X-User-ID"

const userIDKey = "user_id"

// RequireUser rejects requests without a tenant header.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(UserHeader))
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + UserHeader + " header"})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

func userID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// respondError maps service errors onto HTTP statuses. Unexpected errors are
// logged and hidden from the client.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, cycles.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, cycles.ErrNotFound), errors.Is(err, accrual.ErrCycleNotFound):
		status = http.StatusNotFound
	case errors.Is(err, cycles.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, cycles.ErrInvalidState):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(status, gin.H{"success": false, "error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

package handlers

import (
	"github.com/gin-gonic/gin"

	"messenger/internal/middleware"
	"messenger/internal/observability"
)

func requestIDFromContext(c *gin.Context) string {
	return observability.RequestIDFromContext(c)
}

func userIDFromContext(c *gin.Context) *string {
	if id := middleware.UserID(c); id != "" {
		return &id
	}
	return nil
}

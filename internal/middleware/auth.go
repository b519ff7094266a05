package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"messenger/internal/auth"
	"messenger/internal/observability"
	"messenger/internal/telemetry"
)

const UserIDKey = "userID"

// AuthMiddleware validates the Authorization header and stores the user id
// under UserIDKey. Rejections are reported to the audit emitter.
func AuthMiddleware(verifier auth.Verifier, audit *telemetry.AuditEmitter) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			reject(c, audit, "missing authorization")
			return
		}

		token, ok := auth.BearerToken(header)
		if !ok {
			reject(c, audit, "invalid authorization header")
			return
		}

		userID, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidToken) {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
				return
			}
			reject(c, audit, "invalid token")
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

func reject(c *gin.Context, audit *telemetry.AuditEmitter, reason string) {
	audit.Emit(c.Request.Context(), "WARN", "http auth rejected: "+reason,
		observability.RequestIDFromContext(c), observability.IPFromRequest(c.Request), nil)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": reason})
}

// UserID returns the authenticated user id.
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

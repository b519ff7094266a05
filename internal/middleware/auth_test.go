package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"messenger/internal/auth"
)

type stubVerifier map[string]string

func (s stubVerifier) Verify(_ context.Context, token string) (string, error) {
	if token == "outage" {
		return "", errors.New("lookup user: connection refused")
	}
	if id, ok := s[token]; ok {
		return id, nil
	}
	return "", auth.ErrInvalidToken
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/me", AuthMiddleware(stubVerifier{"good": "u1"}, nil), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": UserID(c)})
	})
	return router
}

func TestAuthMiddleware(t *testing.T) {
	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"malformed", "Token good", http.StatusUnauthorized},
		{"invalid", "Bearer bad", http.StatusUnauthorized},
		{"valid", "Bearer good", http.StatusOK},
		{"store unavailable", "Bearer outage", http.StatusInternalServerError},
	}
	router := newRouter()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusOK {
				assert.JSONEq(t, `{"id":"u1"}`, w.Body.String())
			}
		})
	}
}

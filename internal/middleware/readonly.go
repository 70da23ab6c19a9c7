package middleware

import (
	"net/http"
	"strings"

	"github.com/GoPolymarket/credcalls/internal/pkg/apperrors"
	"github.com/gin-gonic/gin"
)

// ReadOnlyMiddleware rejects writes while maintenance mode is enabled.
// Operator routes under /v1/admin stay available.
func ReadOnlyMiddleware(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			c.Next()
			return
		}

		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		if strings.HasPrefix(c.FullPath(), "/v1/admin") {
			c.Next()
			return
		}
		_ = c.Error(apperrors.New(apperrors.ErrReadOnly, "read-only mode enabled", nil))
		c.Abort()
	}
}

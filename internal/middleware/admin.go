package middleware

import (
	"crypto/subtle"

	"github.com/GoPolymarket/credcalls/internal/config"
	"github.com/GoPolymarket/credcalls/internal/pkg/apperrors"
	"github.com/gin-gonic/gin"
)

const HeaderAdminKey = "X-Admin-Key"

// AdminMiddleware guards operator routes with the shared auth.admin_key.
func AdminMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg == nil || cfg.Auth.AdminKey == "" {
			_ = c.Error(apperrors.New(apperrors.ErrAuthorization, "admin key not configured", nil))
			c.Abort()
			return
		}
		got := c.GetHeader(HeaderAdminKey)
		if subtle.ConstantTimeCompare([]byte(got), []byte(cfg.Auth.AdminKey)) != 1 {
			_ = c.Error(apperrors.New(apperrors.ErrAuthFailed, "invalid admin key", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}

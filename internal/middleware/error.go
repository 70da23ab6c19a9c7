package middleware

import (
	"errors"

	"github.com/GoPolymarket/credcalls/internal/pkg/apperrors"
	"github.com/GoPolymarket/credcalls/internal/pkg/logger"
	"github.com/gin-gonic/gin"
)

func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only handle if there are errors
		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		var appErr *apperrors.AppError

		if !errors.As(err, &appErr) {
			// Unknown error, wrap as Internal
			appErr = apperrors.New(apperrors.ErrInternal, err.Error(), err)
		}

		logFields := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"code", appErr.Type,
			"reason", appErr.Reason,
			"client_ip", c.ClientIP(),
		}

		ctx := c.Request.Context()
		if appErr.HTTPStatus >= 500 {
			logger.LogError(ctx, appErr, "Internal Server Error", logFields...)
		} else {
			logger.FromContext(ctx).Warn(appErr.Message, logFields...)
		}

		if c.Writer.Written() {
			return
		}
		c.JSON(appErr.HTTPStatus, appErr)
	}
}

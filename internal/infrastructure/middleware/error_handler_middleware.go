package middleware

import (
	"fmt"

	apperrors "callmesh/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func render(c *gin.Context, appErr *apperrors.AppError) {
	body := gin.H{
		"error":   string(appErr.Code),
		"message": appErr.Message,
	}
	if len(appErr.Details) > 0 {
		body["details"] = appErr.Details
	}
	c.AbortWithStatusJSON(appErr.HTTPStatus(), body)
}

// ErrorHandlerMiddleware renders the last error attached with c.Error,
// unless a handler already wrote a response (a completed websocket upgrade
// has).
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		appErr := apperrors.From(err)

		fields := []interface{}{
			"code", appErr.Code,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
			"client_ip", c.ClientIP(),
		}
		if appErr.Code == apperrors.CodeInternal {
			logger.Errorw("request failed", append(fields, "error", err)...)
		} else {
			logger.Warnw("request rejected", append(fields, "message", appErr.Message, "details", appErr.Details)...)
		}

		render(c, appErr)
	}
}

func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorw("panic recovered",
					"panic", r,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
					zap.Stack("stack"),
				)
				render(c, apperrors.From(fmt.Errorf("panic: %v", r)))
			}
		}()

		c.Next()
	}
}

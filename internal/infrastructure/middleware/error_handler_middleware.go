package middleware

import (
	"net/http"

	"fluxx/internal/core/domain"
	"fluxx/internal/core/services"
	"fluxx/pkg/circuitbreaker"
	"fluxx/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// domainErrors maps sentinel errors that reach a handler unwrapped.
var domainErrors = map[error]*errors.AppError{
	domain.ErrBanned:         errors.NewBannedError("user is banned"),
	domain.ErrUserNotFound:   errors.NewNotFoundError("user"),
	domain.ErrRoomNotFound:   errors.NewNotFoundError("room"),
	domain.ErrNotInRoom:      errors.NewForbiddenError("user is not in room"),
	domain.ErrNotPartner:     errors.NewForbiddenError("user is not the current partner"),
	domain.ErrAlreadyQueued:  errors.NewAppError(errors.ErrCodeConflict, "user already queued", http.StatusConflict),
	services.ErrInvalidToken: errors.NewUnauthorizedError("invalid token"),
	services.ErrExpiredToken: errors.NewUnauthorizedError("token expired"),
	services.ErrUnauthorized: errors.NewUnauthorizedError("unauthorized"),
	circuitbreaker.ErrOpen:   errors.NewServiceUnavailableError("storage temporarily unavailable"),
}

// ErrorHandlerMiddleware renders the last handler error as a JSON response.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		appErr := errors.Classify(err, domainErrors)

		fields := []interface{}{
			"code", appErr.Code,
			"message", appErr.Message,
			"status", appErr.HTTPStatus,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		}
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			logger.Errorw("request failed", append(fields, "error", err)...)
		} else {
			logger.Debugw("request rejected", fields...)
		}

		c.JSON(appErr.HTTPStatus, errorBody(appErr))
	}
}

func errorBody(appErr *errors.AppError) gin.H {
	body := gin.H{
		"error":   string(appErr.Code),
		"message": appErr.Message,
	}
	if len(appErr.Context) > 0 {
		body["details"] = appErr.Context
	}
	return body
}

// abortWithError renders appErr directly, for middleware that runs before
// ErrorHandlerMiddleware.
func abortWithError(c *gin.Context, appErr *errors.AppError) {
	c.AbortWithStatusJSON(appErr.HTTPStatus, errorBody(appErr))
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				abortWithError(c, errors.NewInternalError("internal server error"))
			}
		}()

		c.Next()
	}
}

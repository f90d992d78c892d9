package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	errs "kassa/internal/errors"
	"kassa/internal/logger"
)

func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.InvalidArgument:
		return http.StatusBadRequest
	case errs.Unauthenticated:
		return http.StatusUnauthorized
	case errs.PermissionDenied:
		return http.StatusForbidden
	case errs.NotFound:
		return http.StatusNotFound
	case errs.FailedPrecondition, errs.ResourceExhausted, errs.PaymentIntegrityAnomaly:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func codeFor(kind errs.Kind) string {
	if kind == errs.ResourceExhausted {
		return "insufficient_capacity"
	}
	return kind.String()
}

// handleServiceError пишет ответ по виду ошибки сервиса
func handleServiceError(c *gin.Context, err error, msg string) {
	kind := errs.KindOf(err)
	_ = c.Error(err)

	if kind == errs.Internal {
		logger.WithContext(c.Request.Context()).Error(msg, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg, "code": codeFor(kind)})
		return
	}

	c.JSON(statusFor(kind), gin.H{"error": errs.Message(err), "code": codeFor(kind)})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": codeFor(errs.InvalidArgument)})
}

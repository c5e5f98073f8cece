package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/serviceledger/internal/serviceledger"
)

// statusFor maps a ledger error onto an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, serviceledger.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, serviceledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, serviceledger.ErrAppendFailed), errors.Is(err, serviceledger.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, serviceledger.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError responds with the status for err. Validation messages are
// returned verbatim; everything else gets a fixed message and is logged.
func writeError(c *gin.Context, logger *zap.Logger, op string, err error) {
	status := statusFor(err)

	var vErr *serviceledger.ValidationError
	switch {
	case errors.As(err, &vErr):
		c.JSON(status, gin.H{"error": vErr.Error(), "field": vErr.Field})
		return
	case status == http.StatusNotFound:
		c.JSON(status, gin.H{"error": "record not found"})
		return
	}

	if status >= http.StatusInternalServerError {
		logger.Error(op, zap.Error(err))
	} else {
		logger.Warn(op, zap.Error(err))
	}

	msg := map[int]string{
		http.StatusConflict:            "ledger is busy, append could not be committed; retry",
		http.StatusServiceUnavailable:  "ledger storage unavailable",
		http.StatusInternalServerError: "internal error",
	}[status]
	c.JSON(status, gin.H{"error": msg})
}

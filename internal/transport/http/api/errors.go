package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"klinemirror/internal/analysis/indicator"
	"klinemirror/internal/analysis/visual"
	"klinemirror/internal/exchange"
	"klinemirror/internal/gateway/binance"
	"klinemirror/internal/kline"
	"klinemirror/internal/logger"
	"klinemirror/internal/market"
	"klinemirror/internal/pkg/trading"
	"klinemirror/internal/store"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, market.ErrUnknownInterval),
		errors.Is(err, exchange.ErrInvalidArgument),
		errors.Is(err, store.ErrInvalidSort),
		errors.Is(err, store.ErrInvalidPage),
		errors.Is(err, indicator.ErrInvalidIndicator),
		errors.Is(err, indicator.ErrNotEnoughBars):
		return http.StatusBadRequest
	case errors.Is(err, trading.ErrMissingFilter),
		errors.Is(err, store.ErrSymbolNotFound),
		errors.Is(err, store.ErrSeriesNotFound),
		errors.Is(err, visual.ErrNoBars):
		return http.StatusNotFound
	case errors.Is(err, store.ErrManifestUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, kline.ErrInvariantViolation):
		return http.StatusInternalServerError
	case binance.IsAPIError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Errorf("[http] %s failed rid=%s err=%v", op, c.GetString(ctxRequestID), err)
	} else {
		logger.Warnf("[http] %s rejected rid=%s err=%v", op, c.GetString(ctxRequestID), err)
	}
	c.JSON(status, gin.H{"error": err.Error(), "request_id": c.GetString(ctxRequestID)})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "request_id": c.GetString(ctxRequestID)})
}

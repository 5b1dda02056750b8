package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"auth-server/grants"
	"auth-server/registry"

	"github.com/umakantv/go-utils/errs"
	"github.com/umakantv/go-utils/httpserver"
	logger "github.com/umakantv/go-utils/logger"
	"go.uber.org/zap"
)

// logRequest logs the request with the specified format
func logRequest(ctx context.Context, level string, message string, fields ...zap.Field) {
	routeName := httpserver.GetRouteName(ctx)
	method := httpserver.GetRouteMethod(ctx)
	path := httpserver.GetRoutePath(ctx)
	auth := httpserver.GetRequestAuth(ctx)

	logMsg := time.Now().Format("2006-01-02 15:04:05") + " - " + routeName + " - " + method + " - " + path
	if auth != nil {
		logMsg += " - client:" + auth.Client
	}
	if message != "" {
		logMsg += " - " + message
	}

	allFields := append([]zap.Field{
		zap.String("route", routeName),
		zap.String("method", method),
		zap.String("path", path),
	}, fields...)

	switch level {
	case "info":
		logger.Info(logMsg, allFields...)
	case "error":
		logger.Error(logMsg, allFields...)
	case "debug":
		logger.Debug(logMsg, allFields...)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps lifecycle and registry errors onto HTTP statuses. Anything
// unrecognised is logged and reported as a 500.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, grants.ErrGrantNotFound):
		writeJSON(w, http.StatusNotFound, errs.NewNotFoundError("grant not found"))
	case errors.Is(err, grants.ErrGrantExpired):
		writeJSON(w, http.StatusGone, errs.NewValidationError("grant expired"))
	case errors.Is(err, grants.ErrGrantTypeMismatch):
		writeJSON(w, http.StatusConflict, errs.NewValidationError(err.Error()))
	case errors.Is(err, grants.ErrInvalidGrant):
		writeJSON(w, http.StatusBadRequest, errs.NewValidationError(err.Error()))
	case errors.Is(err, registry.ErrClientNotFound):
		writeJSON(w, http.StatusNotFound, errs.NewNotFoundError("client not found"))
	case errors.Is(err, registry.ErrResourceNotFound):
		writeJSON(w, http.StatusNotFound, errs.NewNotFoundError("resource not found"))
	case errors.Is(err, registry.ErrInvalidClientSecret):
		writeJSON(w, http.StatusUnauthorized, errs.NewAuthenticationError("invalid client credentials"))
	case errors.Is(err, grants.ErrStoreUnavailable):
		logRequest(ctx, "error", "Store unavailable", zap.Error(err))
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, errs.NewInternalServerError("store unavailable, retry later"))
	default:
		logRequest(ctx, "error", "Request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errs.NewInternalServerError("internal error"))
	}
}

// decodeBody decodes a JSON request body into dst, writing a 400 on failure
func decodeBody(ctx context.Context, w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		logRequest(ctx, "error", "Invalid JSON", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, errs.NewValidationError("Invalid JSON"))
		return false
	}
	return true
}

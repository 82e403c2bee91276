package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/warp/crm-workflow/generic"
)

// =============================================================================
// ERROR MAPPING - Kind to HTTP status and stable code
// =============================================================================

const (
	codeUnauthenticated = "UNAUTHENTICATED"
	codeInternal        = "INTERNAL"
)

var statusByKind = map[generic.Kind]int{
	generic.KindInvalidInput:           http.StatusBadRequest,
	generic.KindInsufficientPermission: http.StatusForbidden,
	generic.KindNotFound:               http.StatusNotFound,
	generic.KindDateConflict:           http.StatusConflict,
	generic.KindAlreadyProcessed:       http.StatusConflict,
	generic.KindCannotCancelRejected:   http.StatusConflict,
	generic.KindAlreadyCancelled:       http.StatusConflict,
	generic.KindTooLateToCancel:        http.StatusUnprocessableEntity,
	generic.KindStorageUnavailable:     http.StatusServiceUnavailable,
}

// ErrorResponse is the body of every failed call.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusFor maps err to its HTTP status and code. Unclassified errors are
// 500 INTERNAL.
func statusFor(err error) (int, string) {
	if errors.Is(err, errUnauthenticated) {
		return http.StatusUnauthorized, codeUnauthenticated
	}
	kind, ok := generic.KindOf(err)
	if !ok {
		return http.StatusInternalServerError, codeInternal
	}
	status, ok := statusByKind[kind]
	if !ok {
		return http.StatusInternalServerError, codeInternal
	}
	return status, string(kind)
}

// writeError logs err on logger and writes the JSON error body. Refusals
// caused by the caller log at warn, everything else at error.
func writeError(logger *slog.Logger, w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	attrs := []any{"code", code, "status", status, "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err}
	if generic.IsClientError(err) || errors.Is(err, errUnauthenticated) {
		logger.WarnContext(r.Context(), "request refused", attrs...)
	} else {
		logger.ErrorContext(r.Context(), "request failed", attrs...)
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

package web

// errors.go provides unified error response handling for the web layer.
//
// Every handler error goes through respondError:
//  1. The status code is derived from the error chain
//  2. The error is mapped via core.MapError to a user-facing message and code
//  3. The technical error is logged with the request id for correlation
//  4. The client receives a JSON ErrorResponse

import (
	"net/http"

	"github.com/cockroachdb/errors"

	"github.com/JonMunkholm/stonecat/internal/core"
	"github.com/JonMunkholm/stonecat/internal/logging"
	"github.com/JonMunkholm/stonecat/internal/oplog"
)

// ErrorResponse is the JSON body of every API error.
// It carries both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError logs err server-side and writes its user-facing form.
// A zero status derives the code from the error.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	if status == 0 {
		status = statusFor(err)
	}
	msg := core.MapError(err)
	var br *badRequest
	if !core.IsUserFacing(err) && errors.As(err, &br) {
		msg.Message = br.Error()
		msg.Code = "REQ001"
	}

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	writeJSONStatus(w, status, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrUnknownEntity),
		errors.Is(err, core.ErrRunNotFound),
		errors.Is(err, oplog.ErrLogNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrTooManyRuns):
		return http.StatusTooManyRequests
	case errors.Is(err, core.ErrRunsActive),
		errors.Is(err, core.ErrRunCancelled):
		return http.StatusConflict
	case errors.Is(err, core.ErrValidationFailed),
		errors.Is(err, core.ErrEmptyExport):
		return http.StatusUnprocessableEntity
	case core.IsParseError(err):
		return http.StatusBadRequest
	}
	var br *badRequest
	if errors.As(err, &br) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// badRequest marks malformed client input (missing file, bad option).
type badRequest struct{ err error }

func (e *badRequest) Error() string { return e.err.Error() }
func (e *badRequest) Unwrap() error { return e.err }

func invalidInput(err error) error { return &badRequest{err: err} }

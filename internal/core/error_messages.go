package core

// error_messages.go maps technical errors to operator-facing messages with a
// support code. Codes are grouped by pipeline stage:
//
//	PAR001-PAR099  parsing and file handling
//	VAL001-VAL099  validation
//	COM001-COM099  commit calls to the catalog API
//	EXP001-EXP099  exports
//	LOG001-LOG099  operation log store
//	RUN001-RUN099  run lifecycle
//	ERR000         anything unrecognised
//
// Known sentinels are matched with errors.Is first. Everything else falls
// back to case-insensitive substring patterns, first match wins.

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// UserMessage is the display form of an error.
type UserMessage struct {
	Message string // what happened
	Action  string // what to do about it
	Code    string // support reference
}

type sentinelMessage struct {
	target error
	msg    UserMessage
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var sentinelMessages = []sentinelMessage{
	{ErrEmptyInput, UserMessage{"The uploaded file is empty", "Upload a file with a header row and data rows", "PAR001"}},
	{ErrFileTooLarge, UserMessage{"File exceeds the maximum size limit", "Split the file into smaller files", "PAR002"}},
	{ErrUnknownEntity, UserMessage{"Unknown entity type", "Choose variants, specific-variants, products or hierarchy", "VAL001"}},
	{ErrValidationFailed, UserMessage{"Some rows did not pass validation", "Download the error report and fix the listed rows", "VAL002"}},
	{ErrEmptyExport, UserMessage{"There is no data to export", "Select at least one record before exporting", "EXP001"}},
	{ErrRunCancelled, UserMessage{"Import was cancelled", "Rows already committed were kept; start a new import for the rest", "RUN001"}},
	{ErrTooManyRuns, UserMessage{"Too many imports in progress", "Wait for a running import to finish and try again", "RUN002"}},
	{ErrRunNotFound, UserMessage{"Import run not found", "The run may have finished or expired; check the operation log", "RUN003"}},
	{ErrRunsActive, UserMessage{"Imports are still running", "Wait for them to finish before clearing the history", "RUN006"}},
}

var errorPatterns = []errorPattern{
	// Parsing
	{"parse error", UserMessage{"File is not valid delimited text", "Check quoting and the delimiter setting", "PAR003"}},
	{"unknown encoding", UserMessage{"Unsupported file encoding", "Use utf-8, iso-8859-1 or windows-1252", "PAR004"}},
	{"no file provided", UserMessage{"No file was selected", "Select a CSV file to upload", "PAR005"}},

	// Validation
	{"must be a valid number", UserMessage{"Invalid number format detected", "Remove letters and use a plain decimal number", "VAL003"}},
	{"is required", UserMessage{"Required field is empty", "Fill in every required column", "VAL004"}},

	// Commit
	{"already exists", UserMessage{"A record with this name already exists", "Rename the row or remove it from the file", "COM001"}},
	{"connection refused", UserMessage{"Unable to reach the catalog service", "Try again in a few moments", "COM002"}},
	{"connection reset", UserMessage{"Connection to the catalog service was interrupted", "Try again", "COM003"}},
	{"rate limit", UserMessage{"Too many requests", "Please wait a moment before retrying", "COM004"}},
	{"catalog api", UserMessage{"The catalog service rejected the request", "Check the row data and try again", "COM005"}},

	// Operation log
	{"invalid transition", UserMessage{"The operation log rejected a status change", "Reload the log list; the run may already be finished", "LOG001"}},
	{"log counter", UserMessage{"The operation log rejected a progress update", "Reload the log list", "LOG002"}},
	{"log not found", UserMessage{"Operation log entry not found", "Reload the log list", "LOG003"}},

	// Run lifecycle
	{"context canceled", UserMessage{"Request was cancelled", "Please try again", "RUN004"}},
	{"context deadline exceeded", UserMessage{"Request timed out", "Try a smaller file or try again later", "RUN005"}},
	{"timeout", UserMessage{"Operation timed out", "Try a smaller file or try again later", "RUN005"}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts err into a UserMessage. A nil error maps to the zero value.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.target) {
			return sm.msg
		}
	}

	lower := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(lower, ep.pattern) {
			return ep.msg
		}
	}

	msg := defaultMessage
	if hints := errors.GetAllHints(err); len(hints) > 0 {
		msg.Action = hints[0]
	}
	return msg
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something more specific than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its display form.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err. Returns nil for a nil err.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{Technical: err, User: MapError(err)}
}

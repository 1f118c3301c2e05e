package core

// errors.go defines the pipeline's error taxonomy.
//
//   - ParseError: malformed or empty input. Aborts the whole run.
//   - Issue (kind error/warning): per-field validation results. Never abort.
//   - CommitError: a remote create rejected or threw. Scoped to one row.
//   - ErrEmptyExport: nothing to serialize.
//
// Sentinels carry hints (cockroachdb/errors) that the web and CLI layers show
// next to the message.

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrEmptyInput is returned when a file has no lines left to parse.
	ErrEmptyInput = errors.WithHint(
		errors.New("empty file: no lines to parse"),
		"upload a file with a header row and at least one data row",
	)

	// ErrEmptyExport is returned when a CSV export has no records.
	ErrEmptyExport = errors.WithHint(
		errors.New("no data to export"),
		"select at least one record before exporting",
	)

	// ErrUnknownEntity is returned for entity types with no registered definition.
	ErrUnknownEntity = errors.New("unknown entity type")

	// ErrRunCancelled is returned when a run stops because its context ended.
	ErrRunCancelled = errors.New("import cancelled")

	// ErrRunNotFound is returned for unknown or expired run IDs.
	ErrRunNotFound = errors.New("import run not found")

	// ErrFileTooLarge is returned when input exceeds the configured limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrValidationFailed is returned when an import stops at validation.
	ErrValidationFailed = errors.WithHint(
		errors.New("validation failed"),
		"download the error report and fix the listed rows",
	)

	// ErrRunsActive is returned when the log history is cleared mid-import.
	ErrRunsActive = errors.WithHint(
		errors.New("imports still running"),
		"wait for running imports to finish before clearing the history",
	)
)

// ParseError reports a failure to turn input bytes into rows.
type ParseError struct {
	Line int // 0 when the failure is not tied to a line
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse error at line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("parse error: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// CommitStage names the step of a row commit that failed.
type CommitStage string

const (
	StageVariant         CommitStage = "variant"
	StageSpecificVariant CommitStage = "specific_variant"
	StageHierarchy       CommitStage = "hierarchy"
	StageEntity          CommitStage = "entity"
)

// CommitError reports a failed create call for a single row.
type CommitError struct {
	Row   int
	Stage CommitStage
	Err   error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("row %d: %s: %v", e.Row, e.Stage, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// IsParseError reports whether err is (or wraps) a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

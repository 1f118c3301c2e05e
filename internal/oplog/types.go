// Package oplog keeps the operation log: one persisted record per import or
// export run, with its status, counters, findings and timings.
//
// The whole collection is serialized as a single JSON value under a fixed
// key after every mutation. Recovery after a crash is observational: logs
// found in a non-terminal state at startup are reported, never resumed.
package oplog

import (
	"time"

	"github.com/cockroachdb/errors"
)

// Operation is the run direction.
type Operation string

const (
	OperationImport Operation = "import"
	OperationExport Operation = "export"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// transitions lists the allowed next states.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

var (
	ErrLogNotFound       = errors.New("log not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrLogFinished       = errors.New("log already finished")
	ErrCounterRegression = errors.New("log counter regression")
	ErrCounterOverflow   = errors.New("log counter exceeds total records")
)

// Issue is one error or warning attached to a log.
type Issue struct {
	Row     int               `json:"row"`
	Field   string            `json:"field,omitempty"`
	Stage   string            `json:"stage,omitempty"`
	Message string            `json:"message"`
	Value   string            `json:"value,omitempty"`
	Data    map[string]string `json:"data,omitempty"`
}

// Metrics are timings recorded when a run ends.
type Metrics struct {
	ParseMs       int64   `json:"parseMs"`
	ValidateMs    int64   `json:"validateMs"`
	CommitMs      int64   `json:"commitMs"`
	RowsPerSecond float64 `json:"rowsPerSecond"`
	Calls         int64   `json:"calls"`
	CallP50Ms     float64 `json:"callP50Ms"`
	CallP95Ms     float64 `json:"callP95Ms"`
	CallMaxMs     float64 `json:"callMaxMs"`
	CallMeanMs    float64 `json:"callMeanMs"`
}

// Log is one run's record.
type Log struct {
	ID                string     `json:"id"`
	Operation         Operation  `json:"operation"`
	Type              string     `json:"type"`
	FileName          string     `json:"fileName,omitempty"`
	Status            Status     `json:"status"`
	StartTime         time.Time  `json:"startTime"`
	EndTime           *time.Time `json:"endTime,omitempty"`
	TotalRecords      int        `json:"totalRecords"`
	ProcessedRecords  int        `json:"processedRecords"`
	SuccessfulRecords int        `json:"successfulRecords"`
	FailedRecords     int        `json:"failedRecords"`
	Errors            []Issue    `json:"errors"`
	Warnings          []Issue    `json:"warnings"`
	Metrics           *Metrics   `json:"metrics,omitempty"`
}

// clone returns a deep copy safe to hand to callers.
func (l *Log) clone() Log {
	c := *l
	if l.EndTime != nil {
		t := *l.EndTime
		c.EndTime = &t
	}
	c.Errors = cloneIssues(l.Errors)
	c.Warnings = cloneIssues(l.Warnings)
	if l.Metrics != nil {
		m := *l.Metrics
		c.Metrics = &m
	}
	return c
}

func cloneIssues(in []Issue) []Issue {
	out := make([]Issue, len(in))
	copy(out, in)
	return out
}

// Counters is a progress update.
type Counters struct {
	Processed  int
	Successful int
	Failed     int
}

// CreateParams describes a new run.
type CreateParams struct {
	Operation    Operation
	Type         string
	FileName     string
	TotalRecords int
}

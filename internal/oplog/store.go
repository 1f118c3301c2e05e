package oplog

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

// DefaultKey is the storage key holding the log collection.
const DefaultKey = "stonecat_import_export_logs"

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Storage persists the serialized collection. Load returns nil data and no
// error when the key has never been written.
type Storage interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
}

// Options configures a Store.
type Options struct {
	Key string
	// MaxLogs caps the collection. When exceeded, the oldest finished logs
	// are dropped; unfinished logs are always kept. Zero means unlimited.
	MaxLogs int
	Now     func() time.Time
	Logger  *slog.Logger
}

// Store is the in-memory log collection, written through to Storage after
// every mutation. Safe for concurrent use; writes are last-write-wins.
type Store struct {
	mu      sync.Mutex
	storage Storage
	key     string
	maxLogs int
	now     func() time.Time
	logger  *slog.Logger

	logs []*Log // creation order
	byID map[string]*Log
}

// NewStore creates an empty store. Call Load to read persisted logs.
func NewStore(storage Storage, opts Options) *Store {
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.MaxLogs < 0 {
		opts.MaxLogs = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		storage: storage,
		key:     opts.Key,
		maxLogs: opts.MaxLogs,
		now:     opts.Now,
		logger:  opts.Logger,
		byID:    make(map[string]*Log),
	}
}

// Load replaces the in-memory collection with the persisted one and returns
// the logs that were left unfinished by a previous process.
func (s *Store) Load(ctx context.Context) ([]Log, error) {
	data, err := s.storage.Load(ctx, s.key)
	if err != nil {
		return nil, errors.Wrap(err, "load operation logs")
	}

	var logs []*Log
	if len(data) > 0 {
		if err := jsonAPI.Unmarshal(data, &logs); err != nil {
			return nil, errors.Wrap(err, "decode operation logs")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.logs = s.logs[:0]
	s.byID = make(map[string]*Log, len(logs))
	var interrupted []Log
	for _, l := range logs {
		if l == nil || l.ID == "" {
			continue
		}
		if l.Errors == nil {
			l.Errors = []Issue{}
		}
		if l.Warnings == nil {
			l.Warnings = []Issue{}
		}
		s.logs = append(s.logs, l)
		s.byID[l.ID] = l
		if !l.Status.IsTerminal() {
			interrupted = append(interrupted, l.clone())
		}
	}

	for _, l := range interrupted {
		s.logger.Warn("operation log left unfinished by a previous run",
			"log_id", l.ID, "type", l.Type, "status", l.Status,
			"processed", l.ProcessedRecords, "total", l.TotalRecords)
	}
	return interrupted, nil
}

// CreateLog starts a pending log and returns its id.
func (s *Store) CreateLog(ctx context.Context, p CreateParams) (string, error) {
	if p.TotalRecords < 0 {
		return "", errors.Newf("total records must not be negative, got %d", p.TotalRecords)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l := &Log{
		ID:           uuid.NewString(),
		Operation:    p.Operation,
		Type:         p.Type,
		FileName:     p.FileName,
		Status:       StatusPending,
		StartTime:    s.now().UTC(),
		TotalRecords: p.TotalRecords,
		Errors:       []Issue{},
		Warnings:     []Issue{},
	}
	s.logs = append(s.logs, l)
	s.byID[l.ID] = l

	s.evictLocked()

	return l.ID, s.persistLocked(ctx)
}

// evictLocked drops the oldest finished logs until the collection fits
// maxLogs or only unfinished logs remain over the cap.
func (s *Store) evictLocked() {
	if s.maxLogs == 0 {
		return
	}
	excess := len(s.logs) - s.maxLogs
	if excess <= 0 {
		return
	}
	kept := s.logs[:0]
	for _, l := range s.logs {
		if excess > 0 && l.Status.IsTerminal() {
			delete(s.byID, l.ID)
			excess--
			continue
		}
		kept = append(kept, l)
	}
	for i := len(kept); i < len(s.logs); i++ {
		s.logs[i] = nil
	}
	s.logs = kept
}

// UpdateStatus moves a log through its state machine. Terminal states stamp
// EndTime and accept no further transitions.
func (s *Store) UpdateStatus(ctx context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.byID[id]
	if !ok {
		return errors.Wrapf(ErrLogNotFound, "%s", id)
	}
	if !CanTransition(l.Status, status) {
		return errors.Wrapf(ErrInvalidTransition, "%s -> %s", l.Status, status)
	}

	l.Status = status
	if status.IsTerminal() {
		end := s.now().UTC()
		l.EndTime = &end
	}
	return s.persistLocked(ctx)
}

// SetTotal records the row count once it is known (after parsing).
func (s *Store) SetTotal(ctx context.Context, id string, total int) error {
	return s.mutate(ctx, id, func(l *Log) error {
		if total < l.ProcessedRecords {
			return errors.Wrapf(ErrCounterOverflow, "total %d below processed %d", total, l.ProcessedRecords)
		}
		l.TotalRecords = total
		return nil
	})
}

// UpdateProgress replaces the counters. Counters never decrease and never
// exceed TotalRecords.
func (s *Store) UpdateProgress(ctx context.Context, id string, c Counters) error {
	return s.mutate(ctx, id, func(l *Log) error {
		if c.Processed < l.ProcessedRecords || c.Successful < l.SuccessfulRecords || c.Failed < l.FailedRecords {
			return errors.Wrapf(ErrCounterRegression, "processed %d->%d successful %d->%d failed %d->%d",
				l.ProcessedRecords, c.Processed, l.SuccessfulRecords, c.Successful, l.FailedRecords, c.Failed)
		}
		if c.Processed > l.TotalRecords || c.Successful > l.TotalRecords || c.Failed > l.TotalRecords {
			return errors.Wrapf(ErrCounterOverflow, "processed %d of %d", c.Processed, l.TotalRecords)
		}
		l.ProcessedRecords = c.Processed
		l.SuccessfulRecords = c.Successful
		l.FailedRecords = c.Failed
		return nil
	})
}

// AddError appends one error.
func (s *Store) AddError(ctx context.Context, id string, issue Issue) error {
	return s.AddErrors(ctx, id, []Issue{issue})
}

// AddErrors appends errors in order with a single write.
func (s *Store) AddErrors(ctx context.Context, id string, issues []Issue) error {
	return s.mutate(ctx, id, func(l *Log) error {
		l.Errors = append(l.Errors, issues...)
		return nil
	})
}

// AddWarning appends one warning.
func (s *Store) AddWarning(ctx context.Context, id string, issue Issue) error {
	return s.AddWarnings(ctx, id, []Issue{issue})
}

// AddWarnings appends warnings in order with a single write.
func (s *Store) AddWarnings(ctx context.Context, id string, issues []Issue) error {
	return s.mutate(ctx, id, func(l *Log) error {
		l.Warnings = append(l.Warnings, issues...)
		return nil
	})
}

// SetMetrics attaches run timings. Allowed on finished logs.
func (s *Store) SetMetrics(ctx context.Context, id string, m Metrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.byID[id]
	if !ok {
		return errors.Wrapf(ErrLogNotFound, "%s", id)
	}
	l.Metrics = &m
	return s.persistLocked(ctx)
}

// mutate applies fn to a non-terminal log and persists.
func (s *Store) mutate(ctx context.Context, id string, fn func(*Log) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.byID[id]
	if !ok {
		return errors.Wrapf(ErrLogNotFound, "%s", id)
	}
	if l.Status.IsTerminal() {
		return errors.Wrapf(ErrLogFinished, "%s is %s", id, l.Status)
	}
	if err := fn(l); err != nil {
		return err
	}
	return s.persistLocked(ctx)
}

// Get returns a copy of one log.
func (s *Store) Get(id string) (Log, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.byID[id]
	if !ok {
		return Log{}, false
	}
	return l.clone(), true
}

// Logs returns copies of every log, newest first. Ties on StartTime are
// ordered by ID.
func (s *Store) Logs() []Log {
	s.mu.Lock()
	out := make([]Log, len(s.logs))
	for i, l := range s.logs {
		out[i] = l.clone()
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of logs.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logs)
}

// Export renders the whole history, newest first, as indented JSON.
func (s *Store) Export() ([]byte, error) {
	data, err := jsonAPI.MarshalIndent(s.Logs(), "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encode operation logs")
	}
	return data, nil
}

// Clear removes every log.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logs = nil
	s.byID = make(map[string]*Log)
	return s.persistLocked(ctx)
}

// Prune removes finished logs that ended before cutoff and returns how many
// were removed. Unfinished logs are never pruned.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.logs[:0]
	removed := 0
	for _, l := range s.logs {
		if l.Status.IsTerminal() && l.EndTime != nil && l.EndTime.Before(cutoff) {
			delete(s.byID, l.ID)
			removed++
			continue
		}
		kept = append(kept, l)
	}
	for i := len(kept); i < len(s.logs); i++ {
		s.logs[i] = nil
	}
	s.logs = kept

	if removed == 0 {
		return 0, nil
	}
	return removed, s.persistLocked(ctx)
}

// persistLocked writes the collection. Callers hold s.mu.
func (s *Store) persistLocked(ctx context.Context) error {
	logs := s.logs
	if logs == nil {
		logs = []*Log{}
	}
	data, err := jsonAPI.Marshal(logs)
	if err != nil {
		return errors.Wrap(err, "encode operation logs")
	}
	if err := s.storage.Save(ctx, s.key, data); err != nil {
		return errors.Wrap(err, "persist operation logs")
	}
	return nil
}

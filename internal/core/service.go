package core

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	"github.com/JonMunkholm/stonecat/internal/logging"
	"github.com/JonMunkholm/stonecat/internal/oplog"
	"github.com/JonMunkholm/stonecat/internal/sink"
)

// DefaultRunTimeout bounds a single import run.
const DefaultRunTimeout = 30 * time.Minute

// runRetention is how long a finished run stays subscribable.
var runRetention = 5 * time.Minute

// Export formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// ServiceConfig configures a Service. Zero values select defaults.
type ServiceConfig struct {
	Parse             ParseOptions
	Concurrency       int
	HierarchyMode     HierarchyMode
	MaxFileSize       int64
	MaxConcurrentRuns int
	MaxWaitTime       time.Duration
	RunTimeout        time.Duration
	Logger            *slog.Logger
}

// Service runs imports and exports against the catalog API and records each
// run in the operation log.
type Service struct {
	api     CatalogAPI
	logs    *oplog.Store
	sink    sink.Sink
	cfg     ServiceConfig
	limiter *RunLimiter
	logger  *slog.Logger
	now     func() time.Time

	mu   sync.RWMutex
	runs map[string]*activeRun

	// logWriters is held shared by every import and export while its log
	// is written; ClearLogs takes it exclusively.
	logWriters sync.RWMutex
}

// activeRun tracks an asynchronous import so callers can watch or cancel it.
type activeRun struct {
	ID         string
	EntityType string
	FileName   string
	Cancel     context.CancelFunc
	Done       chan struct{}

	mu        sync.Mutex
	progress  Progress
	result    *ImportResult
	err       error
	listeners []chan Progress
}

// NewService wires a Service. out may be nil when exports are only downloaded.
func NewService(api CatalogAPI, logs *oplog.Store, out sink.Sink, cfg ServiceConfig) *Service {
	if cfg.Parse.Delimiter == 0 {
		cfg.Parse = DefaultParseOptions()
	}
	if cfg.HierarchyMode == "" {
		cfg.HierarchyMode = HierarchyLenient
	}
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = DefaultMaxConcurrentRuns
	}
	if cfg.MaxWaitTime <= 0 {
		cfg.MaxWaitTime = DefaultMaxWaitTime
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}
	cfg.Concurrency = clampConcurrency(cfg.Concurrency)
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Service{
		api:     api,
		logs:    logs,
		sink:    out,
		cfg:     cfg,
		limiter: NewRunLimiter(cfg.MaxConcurrentRuns, cfg.MaxWaitTime),
		logger:  cfg.Logger,
		now:     time.Now,
		runs:    make(map[string]*activeRun),
	}
}

// EntityInfo describes an importable entity type.
type EntityInfo struct {
	Key          string   `json:"key"`
	Label        string   `json:"label"`
	Columns      []string `json:"columns"`
	Required     []string `json:"required"`
	Hierarchical bool     `json:"hierarchical"`
	Exportable   bool     `json:"exportable"`
}

// Entities lists every registered entity type, sorted by key.
func (s *Service) Entities() []EntityInfo {
	defs := All()
	out := make([]EntityInfo, 0, len(defs))
	for _, def := range defs {
		info := EntityInfo{
			Key:          def.Key(),
			Label:        def.Schema.Label,
			Columns:      def.Schema.Columns(),
			Required:     []string{},
			Hierarchical: def.Hierarchical(),
			Exportable:   def.Schema.Kind != "",
		}
		for _, f := range def.Schema.Fields {
			if f.Required {
				info.Required = append(info.Required, f.Name)
			}
		}
		out = append(out, info)
	}
	return out
}

// ImportRequest describes one file to import. Empty overrides fall back to
// the service configuration.
type ImportRequest struct {
	EntityType    string
	FileName      string
	Reader        io.Reader
	Delimiter     string
	Encoding      string
	HierarchyMode string
	Concurrency   int
}

// ImportResult is the outcome of a finished import run.
type ImportResult struct {
	LogID      string             `json:"logId"`
	EntityType string             `json:"entityType"`
	Status     oplog.Status       `json:"status"`
	Total      int                `json:"total"`
	Success    int                `json:"success"`
	Failed     int                `json:"failed"`
	Validation *ValidationOutcome `json:"validation,omitempty"`
	Errors     []RowError         `json:"errors"`
	Metrics    oplog.Metrics      `json:"metrics"`
}

// importPlan is an ImportRequest with overrides resolved.
type importPlan struct {
	def         EntityDefinition
	fileName    string
	parse       ParseOptions
	mode        HierarchyMode
	concurrency int
}

func (s *Service) plan(req ImportRequest) (importPlan, error) {
	def, ok := Get(req.EntityType)
	if !ok {
		return importPlan{}, errors.Wrapf(ErrUnknownEntity, "%q", req.EntityType)
	}
	p := importPlan{
		def:         def,
		fileName:    req.FileName,
		parse:       s.cfg.Parse,
		mode:        s.cfg.HierarchyMode,
		concurrency: s.cfg.Concurrency,
	}
	if req.Delimiter != "" {
		d, err := ParseDelimiter(req.Delimiter)
		if err != nil {
			return importPlan{}, err
		}
		p.parse.Delimiter = d
	}
	if req.Encoding != "" {
		enc, err := ParseEncoding(req.Encoding)
		if err != nil {
			return importPlan{}, err
		}
		p.parse.Encoding = enc
	}
	if req.HierarchyMode != "" {
		mode, err := ParseHierarchyMode(req.HierarchyMode)
		if err != nil {
			return importPlan{}, err
		}
		p.mode = mode
	}
	if req.Concurrency > 0 {
		p.concurrency = clampConcurrency(req.Concurrency)
	}
	return p, nil
}

func (s *Service) readInput(req ImportRequest) ([]byte, error) {
	if req.Reader == nil {
		return nil, errors.New("no file provided")
	}
	return readLimited(req.Reader, s.cfg.MaxFileSize)
}

// ValidationReport is the result of a dry run.
type ValidationReport struct {
	EntityType     string             `json:"entityType"`
	Headers        []string           `json:"headers"`
	MissingColumns []string           `json:"missingColumns"`
	Outcome        *ValidationOutcome `json:"outcome"`
}

// ValidateFile parses and validates a file without committing anything and
// without touching the operation log.
func (s *Service) ValidateFile(ctx context.Context, req ImportRequest) (*ValidationReport, error) {
	p, err := s.plan(req)
	if err != nil {
		return nil, err
	}
	data, err := s.readInput(req)
	if err != nil {
		return nil, err
	}
	parsed, err := Parse(bytes.NewReader(data), p.parse)
	if err != nil {
		return nil, err
	}

	present := make(map[string]bool, len(parsed.Headers))
	for _, h := range parsed.Headers {
		present[h] = true
	}
	report := &ValidationReport{
		EntityType:     p.def.Key(),
		Headers:        parsed.Headers,
		MissingColumns: []string{},
		Outcome:        ValidateSchema(parsed.Rows, p.def.Schema),
	}
	for _, f := range p.def.Schema.Fields {
		if f.Required && !present[f.Name] {
			report.MissingColumns = append(report.MissingColumns, f.Name)
		}
	}

	logging.FromContext(ctx).Debug("file validated",
		"entity_type", p.def.Key(),
		"rows", report.Outcome.Statistics.TotalRows,
		"errors", len(report.Outcome.Errors),
		"warnings", len(report.Outcome.Warnings),
	)
	return report, nil
}

// Import runs a whole import synchronously. progress may be nil.
//
// A parse failure returns the ParseError and a validation failure returns
// ErrValidationFailed; in both cases the result carries the log id and the
// log is marked failed. Row-level commit failures are reported in the result,
// not as an error. A cancelled run returns ErrRunCancelled with the partial
// result.
func (s *Service) Import(ctx context.Context, req ImportRequest, progress chan<- Progress) (*ImportResult, error) {
	p, err := s.plan(req)
	if err != nil {
		return nil, err
	}
	data, err := s.readInput(req)
	if err != nil {
		return nil, err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()
	s.logWriters.RLock()
	defer s.logWriters.RUnlock()

	logID, err := s.logs.CreateLog(ctx, oplog.CreateParams{
		Operation: oplog.OperationImport,
		Type:      p.def.Key(),
		FileName:  p.fileName,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create operation log")
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()

	return s.execute(runCtx, logID, p, data, nil, progress)
}

// StartImport reads the file, records a pending log and runs the import in
// the background. It returns the log id, which doubles as the run id for
// SubscribeProgress, Cancel and Wait.
func (s *Service) StartImport(ctx context.Context, req ImportRequest) (string, error) {
	p, err := s.plan(req)
	if err != nil {
		return "", err
	}
	data, err := s.readInput(req)
	if err != nil {
		return "", err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return "", err
	}
	s.logWriters.RLock()

	logID, err := s.logs.CreateLog(ctx, oplog.CreateParams{
		Operation: oplog.OperationImport,
		Type:      p.def.Key(),
		FileName:  p.fileName,
	})
	if err != nil {
		s.logWriters.RUnlock()
		s.limiter.Release()
		return "", errors.Wrap(err, "create operation log")
	}

	// The run outlives the request but keeps its values (request id).
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RunTimeout)
	run := &activeRun{
		ID:         logID,
		EntityType: p.def.Key(),
		FileName:   p.fileName,
		Cancel:     cancel,
		Done:       make(chan struct{}),
	}

	s.mu.Lock()
	s.runs[logID] = run
	s.mu.Unlock()

	go func() {
		defer cancel()

		result, err := s.execute(runCtx, logID, p, data, run, nil)
		// Free the slot and the log before waiters are released.
		s.logWriters.RUnlock()
		s.limiter.Release()
		run.finish(result, err)
		s.cleanup(logID, runRetention)
	}()

	return logID, nil
}

// SubscribeProgress returns a channel that receives progress updates.
// The channel is closed when the run finishes. Slow listeners miss
// intermediate updates but always see the latest state on subscribe.
func (s *Service) SubscribeProgress(runID string) (<-chan Progress, error) {
	run, err := s.run(runID)
	if err != nil {
		return nil, err
	}

	ch := make(chan Progress, 16)

	run.mu.Lock()
	defer run.mu.Unlock()
	ch <- run.progress
	select {
	case <-run.Done:
		close(ch)
	default:
		run.listeners = append(run.listeners, ch)
	}
	return ch, nil
}

// Cancel stops a running import. Rows already committed stay committed.
func (s *Service) Cancel(runID string) error {
	run, err := s.run(runID)
	if err != nil {
		return err
	}
	run.Cancel()
	return nil
}

// Progress returns the latest progress of a run without blocking.
func (s *Service) Progress(runID string) (Progress, error) {
	run, err := s.run(runID)
	if err != nil {
		return Progress{}, err
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.progress, nil
}

// Wait blocks until the run finishes or ctx ends.
func (s *Service) Wait(ctx context.Context, runID string) (*ImportResult, error) {
	run, err := s.run(runID)
	if err != nil {
		return nil, err
	}
	select {
	case <-run.Done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.result, run.err
}

func (s *Service) run(runID string) (*activeRun, error) {
	s.mu.RLock()
	run, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrRunNotFound, "%s", runID)
	}
	return run, nil
}

// cleanup removes the run from tracking after a delay.
func (s *Service) cleanup(runID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.runs, runID)
		s.mu.Unlock()
	})
}

// execute drives one import from parse to final status. run may be nil for
// synchronous imports.
func (s *Service) execute(ctx context.Context, logID string, p importPlan, data []byte, run *activeRun, progress chan<- Progress) (*ImportResult, error) {
	ctx = logging.WithRunID(ctx, logID)
	logger := logging.WithFields(ctx, "entity_type", p.def.Key(), "file", p.fileName)
	// Log writes must land even after the run is cancelled.
	persist := context.WithoutCancel(ctx)

	result := &ImportResult{LogID: logID, EntityType: p.def.Key(), Errors: []RowError{}}
	var metrics oplog.Metrics

	finish := func(status oplog.Status, cause error) (*ImportResult, error) {
		result.Status = status
		result.Metrics = metrics
		if err := s.logs.UpdateStatus(persist, logID, status); err != nil {
			logger.Error("failed to update log status", "status", status, "error", err)
		}
		if err := s.logs.SetMetrics(persist, logID, metrics); err != nil {
			logger.Warn("failed to record run metrics", "error", err)
		}
		return result, cause
	}

	// Parse
	start := time.Now()
	parsed, err := Parse(bytes.NewReader(data), p.parse)
	metrics.ParseMs = time.Since(start).Milliseconds()
	if err != nil {
		logger.Warn("parse failed", "error", err)
		issue := oplog.Issue{Stage: "parse", Message: err.Error()}
		var pe *ParseError
		if errors.As(err, &pe) {
			issue.Row = pe.Line
		}
		if logErr := s.logs.AddError(persist, logID, issue); logErr != nil {
			logger.Warn("failed to record parse error", "error", logErr)
		}
		return finish(oplog.StatusFailed, err)
	}
	rows := parsed.Rows
	result.Total = len(rows)
	if err := s.logs.SetTotal(persist, logID, len(rows)); err != nil {
		logger.Warn("failed to record row count", "error", err)
	}

	// Validate
	start = time.Now()
	outcome := ValidateSchema(rows, p.def.Schema)
	metrics.ValidateMs = time.Since(start).Milliseconds()
	result.Validation = outcome
	if len(outcome.Warnings) > 0 {
		if err := s.logs.AddWarnings(persist, logID, issuesFrom(outcome.Warnings, "validation")); err != nil {
			logger.Warn("failed to record validation warnings", "error", err)
		}
	}
	if !outcome.IsValid() {
		logger.Info("validation failed",
			"rows", outcome.Statistics.TotalRows,
			"invalid_rows", outcome.Statistics.InvalidRows,
			"errors", len(outcome.Errors),
		)
		if err := s.logs.AddErrors(persist, logID, issuesFrom(outcome.Errors, "validation")); err != nil {
			logger.Warn("failed to record validation errors", "error", err)
		}
		return finish(oplog.StatusFailed, errors.Wrapf(ErrValidationFailed,
			"%d errors in %d rows", len(outcome.Errors), outcome.Statistics.InvalidRows))
	}

	if ctx.Err() != nil {
		return finish(oplog.StatusCancelled, ErrRunCancelled)
	}
	if err := s.logs.UpdateStatus(persist, logID, oplog.StatusProcessing); err != nil {
		logger.Error("failed to mark log processing", "error", err)
	}

	// Commit
	logger.Info("commit started", "rows", len(rows), "concurrency", p.concurrency, "hierarchy_mode", p.mode)
	events := make(chan Progress)
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		s.pump(ctx, persist, logger, logID, events, run, progress)
	}()

	start = time.Now()
	var commit *CommitResult
	if p.def.Hierarchical() {
		resolver := NewHierarchyResolver(s.api, ResolverOptions{Mode: p.mode, Concurrency: p.concurrency, Logger: logger})
		commit, err = resolver.Import(ctx, rows, NewHierarchyMemo(), events)
	} else {
		executor := NewExecutor(s.api, ExecutorOptions{Concurrency: p.concurrency, Logger: logger})
		commit, err = executor.ImportEntities(ctx, p.def.Key(), rows, events)
	}
	commitTime := time.Since(start)
	close(events)
	<-pumpDone

	if commit == nil {
		// Only an unknown entity gets here, which plan already rejects.
		return finish(oplog.StatusFailed, err)
	}

	result.Success = commit.Success
	result.Failed = len(commit.Errors)
	result.Errors = commit.Errors
	metrics = runMetrics(metrics, commitTime, result.Success+result.Failed, commit.Metrics)

	final := oplog.Counters{
		Processed:  result.Success + result.Failed,
		Successful: result.Success,
		Failed:     result.Failed,
	}
	if uerr := s.logs.UpdateProgress(persist, logID, final); uerr != nil {
		logger.Warn("failed to record final counters", "error", uerr)
	}
	if len(commit.Errors) > 0 {
		if aerr := s.logs.AddErrors(persist, logID, issuesFromRows(commit.Errors)); aerr != nil {
			logger.Warn("failed to record row errors", "error", aerr)
		}
	}

	status := oplog.StatusCompleted
	switch {
	case errors.Is(err, ErrRunCancelled):
		status = oplog.StatusCancelled
	case err != nil:
		status = oplog.StatusFailed
	case result.Total > 0 && result.Success == 0:
		status = oplog.StatusFailed
	}

	logger.Info("import finished",
		"status", status,
		"rows", result.Total,
		"success", result.Success,
		"failed", result.Failed,
		"commit_ms", metrics.CommitMs,
		"call_p95_ms", metrics.CallP95Ms,
	)
	return finish(status, err)
}

// pump forwards commit progress to the log, to subscribers and to the
// caller. Log writes are sampled; the final counters are always written by
// execute.
func (s *Service) pump(ctx, persist context.Context, logger *slog.Logger, logID string, events <-chan Progress, run *activeRun, out chan<- Progress) {
	sample := rate.Sometimes{First: 1, Every: 25, Interval: 500 * time.Millisecond}
	for p := range events {
		sample.Do(func() {
			err := s.logs.UpdateProgress(persist, logID, oplog.Counters{
				Processed:  p.Processed,
				Successful: p.Succeeded,
				Failed:     p.Failed,
			})
			if err != nil {
				logger.Warn("failed to record progress", "error", err)
			}
		})
		if run != nil {
			run.notify(p)
		}
		if out != nil {
			select {
			case out <- p:
			case <-ctx.Done():
			}
		}
	}
}

// notify records p and sends it to every listener without blocking.
func (r *activeRun) notify(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.progress = p
	for _, ch := range r.listeners {
		select {
		case ch <- p:
		default:
			// Listener is slow, skip this update
		}
	}
}

// finish stores the outcome, closes listeners and releases Wait.
func (r *activeRun) finish(result *ImportResult, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.result = result
	r.err = err
	for _, ch := range r.listeners {
		close(ch)
	}
	r.listeners = nil
	close(r.Done)
}

func issuesFrom(in []Issue, stage string) []oplog.Issue {
	out := make([]oplog.Issue, len(in))
	for i, is := range in {
		out[i] = oplog.Issue{Row: is.Row, Field: is.Field, Stage: stage, Message: is.Message, Value: is.Value}
	}
	return out
}

func issuesFromRows(in []RowError) []oplog.Issue {
	out := make([]oplog.Issue, len(in))
	for i, re := range in {
		out[i] = oplog.Issue{Row: re.Row, Stage: string(re.Stage), Message: re.Message, Data: re.Data}
	}
	return out
}

func runMetrics(m oplog.Metrics, commit time.Duration, processed int, calls CallMetrics) oplog.Metrics {
	ms := func(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
	m.CommitMs = commit.Milliseconds()
	if commit > 0 {
		m.RowsPerSecond = float64(processed) / commit.Seconds()
	}
	m.Calls = calls.Calls
	m.CallP50Ms = ms(calls.P50)
	m.CallP95Ms = ms(calls.P95)
	m.CallMaxMs = ms(calls.Max)
	m.CallMeanMs = ms(calls.Mean)
	return m
}

// ExportRequest describes one export.
type ExportRequest struct {
	EntityType string
	Format     string // csv (default) or json
	CSV        CSVOptions
	JSON       JSONOptions
	// Save also writes the blob to the configured sink.
	Save bool
}

// ExportResult is a finished export.
type ExportResult struct {
	LogID    string `json:"logId"`
	Records  int    `json:"records"`
	Location string `json:"location,omitempty"`
	Blob     *Blob  `json:"-"`
}

// Export fetches every entity of a type from the catalog and serializes it.
// Each export is recorded in the operation log.
func (s *Service) Export(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	def, ok := Get(req.EntityType)
	if !ok || def.Schema.Kind == "" {
		return nil, errors.Wrapf(ErrUnknownEntity, "%q cannot be exported", req.EntityType)
	}
	format := req.Format
	if format == "" {
		format = FormatCSV
	}
	if format != FormatCSV && format != FormatJSON {
		return nil, errors.WithHint(errors.Newf("unsupported export format %q", req.Format), "use csv or json")
	}

	stamp := s.now().Format("2006-01-02")
	fileName := fmt.Sprintf("%s_export_%s.%s", def.Key(), stamp, format)
	if format == FormatCSV && req.CSV.FileName != "" {
		fileName = req.CSV.FileName
	}
	if format == FormatJSON && req.JSON.FileName != "" {
		fileName = req.JSON.FileName
	}

	s.logWriters.RLock()
	defer s.logWriters.RUnlock()

	logID, err := s.logs.CreateLog(ctx, oplog.CreateParams{
		Operation: oplog.OperationExport,
		Type:      def.Key(),
		FileName:  fileName,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create operation log")
	}
	ctx = logging.WithRunID(ctx, logID)
	logger := logging.WithFields(ctx, "entity_type", def.Key(), "format", format)
	persist := context.WithoutCancel(ctx)
	result := &ExportResult{LogID: logID}

	finish := func(status oplog.Status, cause error) (*ExportResult, error) {
		if cause != nil {
			if err := s.logs.AddError(persist, logID, oplog.Issue{Stage: "export", Message: cause.Error()}); err != nil {
				logger.Warn("failed to record export error", "error", err)
			}
		}
		if err := s.logs.UpdateStatus(persist, logID, status); err != nil {
			logger.Error("failed to update log status", "status", status, "error", err)
		}
		if cause != nil {
			logger.Warn("export failed", "error", cause)
			return result, cause
		}
		return result, nil
	}

	if err := s.logs.UpdateStatus(persist, logID, oplog.StatusProcessing); err != nil {
		logger.Error("failed to mark log processing", "error", err)
	}

	start := time.Now()
	raw, err := s.api.List(ctx, def.Schema.Kind)
	if err != nil {
		return finish(oplog.StatusFailed, errors.Wrapf(err, "list %s", def.Key()))
	}
	records, err := DecodeRecords(raw)
	if err != nil {
		return finish(oplog.StatusFailed, err)
	}
	result.Records = len(records)
	if err := s.logs.SetTotal(persist, logID, len(records)); err != nil {
		logger.Warn("failed to record row count", "error", err)
	}

	var blob *Blob
	if format == FormatJSON {
		opts := req.JSON
		opts.FileName = fileName
		if opts.Now == nil {
			opts.Now = s.now
		}
		blob, err = ExportJSON(records, opts)
	} else {
		opts := req.CSV
		opts.FileName = fileName
		blob, err = ExportCSV(records, opts)
	}
	if err != nil {
		return finish(oplog.StatusFailed, err)
	}
	result.Blob = blob

	if err := s.logs.UpdateProgress(persist, logID, oplog.Counters{
		Processed:  len(records),
		Successful: len(records),
	}); err != nil {
		logger.Warn("failed to record export counters", "error", err)
	}

	if req.Save {
		if s.sink == nil {
			return finish(oplog.StatusFailed, errors.WithHint(
				errors.New("no export destination configured"),
				"set EXPORT_SINK to file or s3",
			))
		}
		loc, err := s.sink.Put(ctx, blob.Name, blob.ContentType, blob.Data)
		if err != nil {
			return finish(oplog.StatusFailed, err)
		}
		result.Location = loc
	}

	elapsed := time.Since(start)
	m := oplog.Metrics{CommitMs: elapsed.Milliseconds()}
	if elapsed > 0 {
		m.RowsPerSecond = float64(len(records)) / elapsed.Seconds()
	}
	if err := s.logs.SetMetrics(persist, logID, m); err != nil {
		logger.Warn("failed to record export metrics", "error", err)
	}

	logger.Info("export finished", "records", len(records), "bytes", len(blob.Data), "location", result.Location)
	return finish(oplog.StatusCompleted, nil)
}

// Template returns the CSV template for an entity type.
func (s *Service) Template(entityType string) (*Blob, error) {
	return TemplateBlob(entityType)
}

// Logs returns every operation log, newest first.
func (s *Service) Logs() []oplog.Log {
	return s.logs.Logs()
}

// GetLog returns one operation log.
func (s *Service) GetLog(id string) (oplog.Log, error) {
	l, ok := s.logs.Get(id)
	if !ok {
		return oplog.Log{}, errors.Wrapf(oplog.ErrLogNotFound, "%s", id)
	}
	return l, nil
}

// ExportLogs returns the whole history as a JSON download.
func (s *Service) ExportLogs() (*Blob, error) {
	data, err := s.logs.Export()
	if err != nil {
		return nil, err
	}
	return &Blob{
		Name:        fmt.Sprintf("import_export_logs_%s.json", s.now().Format("2006-01-02")),
		ContentType: ContentTypeJSON,
		Data:        data,
	}, nil
}

// ClearLogs deletes the history. Refused while any import or export is
// writing its log.
func (s *Service) ClearLogs(ctx context.Context) error {
	if !s.logWriters.TryLock() {
		return ErrRunsActive
	}
	defer s.logWriters.Unlock()

	if err := s.logs.Clear(ctx); err != nil {
		return err
	}
	logging.FromContext(ctx).Info("operation log cleared")
	return nil
}

// LimiterStatus reports run slot usage.
func (s *Service) LimiterStatus() RunLimiterStatus {
	return s.limiter.Status()
}

// Shutdown waits for running imports. When ctx ends first, the remaining
// runs are cancelled and marked cancelled by their own goroutines.
func (s *Service) Shutdown(ctx context.Context) error {
	err := s.limiter.WaitForDrain(ctx)
	if err == nil {
		return nil
	}

	s.mu.RLock()
	for _, run := range s.runs {
		run.Cancel()
	}
	s.mu.RUnlock()
	s.logger.Warn("shutdown deadline reached, cancelled running imports", "active", s.limiter.ActiveCount())
	return err
}

package core

// commit.go pushes validated rows to the catalog API.
//
// One create call is issued per row. A failing row is recorded with its line
// number, message and raw data, and never interrupts the rows after it. Rows
// may run with a small bounded concurrency; results are aggregated by a single
// mutex-guarded tally so counts stay exact and progress events stay monotonic.

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/stonecat/internal/catalog"
)

// MaxConcurrency caps parallel rows per run. The catalog API is shared with
// interactive users, so runs stay polite.
const MaxConcurrency = 3

// entityNoun is used in fallback failure messages.
var entityNoun = map[string]string{
	EntityVariants:         "variant",
	EntitySpecificVariants: "specific variant",
	EntityProducts:         "product",
}

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	// Concurrency is the number of rows in flight, clamped to 1..MaxConcurrency.
	Concurrency int
	Logger      *slog.Logger
}

// Executor commits flat (single-entity) imports.
type Executor struct {
	api         CatalogAPI
	concurrency int
	logger      *slog.Logger
}

// NewExecutor creates an Executor writing through api.
func NewExecutor(api CatalogAPI, opts ExecutorOptions) *Executor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		api:         api,
		concurrency: clampConcurrency(opts.Concurrency),
		logger:      logger,
	}
}

// ImportEntities creates one entity per row. It always processes every row
// unless ctx ends, in which case unstarted rows are skipped and the partial
// result is returned with ErrRunCancelled.
func (e *Executor) ImportEntities(ctx context.Context, entityType string, rows []Row, progress chan<- Progress) (*CommitResult, error) {
	def, ok := Get(entityType)
	if !ok || def.Create == nil || def.BuildPayload == nil {
		return nil, errors.Wrapf(ErrUnknownEntity, "%q cannot be imported as flat rows", entityType)
	}

	timer := newCallTimer()
	result, err := runRows(ctx, rows, e.concurrency, progress, func(ctx context.Context, row Row) *RowError {
		return e.commitRow(ctx, def, timer, row)
	})
	result.Metrics = timer.snapshot()
	return result, err
}

func (e *Executor) commitRow(ctx context.Context, def EntityDefinition, timer *callTimer, row Row) *RowError {
	payload, err := def.BuildPayload(row, def.Schema)
	if err != nil {
		return newRowError(row, StageEntity, err.Error())
	}

	var out catalog.CreateOutcome
	timer.time(func() {
		out, err = def.Create(ctx, e.api, payload)
	})
	if err != nil {
		e.logger.Debug("create call failed", "entity_type", def.Key(), "row", row.Line, "error", err)
		return newRowError(row, StageEntity, err.Error())
	}
	if out.Status != catalog.Created || out.Entity == nil {
		msg := out.Message
		if msg == "" {
			msg = fmt.Sprintf("Failed to create %s", entityNoun[def.Key()])
		}
		e.logger.Debug("create rejected", "entity_type", def.Key(), "row", row.Line, "status", out.Status, "message", msg)
		return newRowError(row, StageEntity, msg)
	}
	return nil
}

// rowFunc commits a single row, returning nil on success.
type rowFunc func(ctx context.Context, row Row) *RowError

// tally aggregates row outcomes from concurrent workers.
type tally struct {
	mu        sync.Mutex
	total     int
	processed int
	success   int
	errs      []RowError
}

// record adds one outcome and emits progress while still holding the lock,
// so events leave in completion order.
func (t *tally) record(ctx context.Context, rowErr *RowError, progress chan<- Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.processed++
	if rowErr == nil {
		t.success++
	} else {
		t.errs = append(t.errs, *rowErr)
	}

	if progress == nil {
		return
	}
	p := Progress{
		Processed: t.processed,
		Total:     t.total,
		Succeeded: t.success,
		Failed:    len(t.errs),
	}
	select {
	case progress <- p:
	case <-ctx.Done():
	}
}

// runRows drives fn over rows with at most limit in flight.
func runRows(ctx context.Context, rows []Row, limit int, progress chan<- Progress, fn rowFunc) (*CommitResult, error) {
	t := &tally{total: len(rows)}

	var g errgroup.Group
	g.SetLimit(clampConcurrency(limit))

	cancelled := false
	for _, row := range rows {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		row := row
		g.Go(func() error {
			// g.Go may have waited for a slot while ctx ended.
			if ctx.Err() != nil {
				return nil
			}
			t.record(ctx, fn(ctx, row), progress)
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(t.errs, func(i, j int) bool { return t.errs[i].Row < t.errs[j].Row })
	result := &CommitResult{Success: t.success, Errors: t.errs}
	if result.Errors == nil {
		result.Errors = []RowError{}
	}
	if cancelled || (ctx.Err() != nil && t.processed < len(rows)) {
		return result, ErrRunCancelled
	}
	return result, nil
}

func newRowError(row Row, stage CommitStage, msg string) *RowError {
	data := make(map[string]string, len(row.Values))
	for k, v := range row.Values {
		data[k] = v
	}
	return &RowError{Row: row.Line, Stage: stage, Message: msg, Data: data}
}

func clampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}

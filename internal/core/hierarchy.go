package core

// hierarchy.go imports rows that each describe a full chain:
// variant -> specific variant -> product.
//
// Parents are shared by many rows, so created (or found) IDs are memoized by
// name for the lifetime of a run. Concurrent rows asking for the same parent
// are collapsed with singleflight; together with the memo this guarantees at
// most one create call per distinct parent name. Failed parents are not
// memoized, so a later row may retry them.

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/singleflight"

	"github.com/JonMunkholm/stonecat/internal/catalog"
)

// HierarchyMode controls what happens when a parent cannot be created.
type HierarchyMode string

const (
	// HierarchyStrict fails every row whose parent could not be created.
	HierarchyStrict HierarchyMode = "strict"
	// HierarchyLenient looks the parent up by name before giving up.
	HierarchyLenient HierarchyMode = "lenient"
)

// Row error messages. The stage field tells which parent was missing.
const (
	msgParentHierarchy = "Failed to create variant/specific variant hierarchy"
	msgProductCreate   = "Failed to create product"
)

// Defaults applied to products created from hierarchy rows.
const (
	hierarchyDefaultUnit   = "sqft"
	hierarchyDefaultStatus = "active"
)

// ParseHierarchyMode accepts "strict" or "lenient" (case-insensitive).
// An empty string selects lenient.
func ParseHierarchyMode(s string) (HierarchyMode, error) {
	switch HierarchyMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", HierarchyLenient:
		return HierarchyLenient, nil
	case HierarchyStrict:
		return HierarchyStrict, nil
	}
	return "", errors.Newf("unknown hierarchy mode %q (want strict or lenient)", s)
}

// HierarchyMemo maps parent names to created IDs. Safe for concurrent use.
// Its lifetime is one run unless the caller shares it deliberately.
type HierarchyMemo struct {
	mu        sync.Mutex
	variants  map[string]string
	specifics map[string]string
	flight    singleflight.Group
}

// NewHierarchyMemo returns an empty memo.
func NewHierarchyMemo() *HierarchyMemo {
	return &HierarchyMemo{
		variants:  make(map[string]string),
		specifics: make(map[string]string),
	}
}

// VariantID returns the memoized ID for a variant name.
func (m *HierarchyMemo) VariantID(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.variants[name]
	return id, ok
}

// SpecificVariantID returns the memoized ID for a specific variant under a variant.
func (m *HierarchyMemo) SpecificVariantID(variantName, specificName string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.specifics[specificKey(variantName, specificName)]
	return id, ok
}

func (m *HierarchyMemo) putVariant(name, id string) {
	m.mu.Lock()
	m.variants[name] = id
	m.mu.Unlock()
}

func (m *HierarchyMemo) putSpecific(variantName, specificName, id string) {
	m.mu.Lock()
	m.specifics[specificKey(variantName, specificName)] = id
	m.mu.Unlock()
}

// Len returns the number of memoized variants and specific variants.
func (m *HierarchyMemo) Len() (variants, specifics int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.variants), len(m.specifics)
}

func specificKey(variantName, specificName string) string {
	return variantName + "\x00" + specificName
}

// ResolverOptions configures a HierarchyResolver.
type ResolverOptions struct {
	Mode        HierarchyMode
	Concurrency int
	Logger      *slog.Logger
}

// HierarchyResolver commits hierarchy rows.
type HierarchyResolver struct {
	api         CatalogAPI
	mode        HierarchyMode
	concurrency int
	logger      *slog.Logger
}

// NewHierarchyResolver creates a resolver writing through api.
func NewHierarchyResolver(api CatalogAPI, opts ResolverOptions) *HierarchyResolver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mode := opts.Mode
	if mode == "" {
		mode = HierarchyLenient
	}
	return &HierarchyResolver{
		api:         api,
		mode:        mode,
		concurrency: clampConcurrency(opts.Concurrency),
		logger:      logger,
	}
}

// Mode returns the failure policy in effect.
func (r *HierarchyResolver) Mode() HierarchyMode { return r.mode }

// Import resolves parents and creates one product per row. A nil memo starts
// a fresh one. Cancellation behaves as in Executor.ImportEntities.
func (r *HierarchyResolver) Import(ctx context.Context, rows []Row, memo *HierarchyMemo, progress chan<- Progress) (*CommitResult, error) {
	if memo == nil {
		memo = NewHierarchyMemo()
	}
	def, ok := Get(EntityHierarchy)
	if !ok {
		return nil, errors.Wrap(ErrUnknownEntity, EntityHierarchy)
	}

	run := &hierarchyRun{HierarchyResolver: r, memo: memo, schema: def.Schema, timer: newCallTimer()}
	result, err := runRows(ctx, rows, r.concurrency, progress, run.commitRow)
	result.Metrics = run.timer.snapshot()
	return result, err
}

// hierarchyRun is the per-run state.
type hierarchyRun struct {
	*HierarchyResolver
	memo   *HierarchyMemo
	schema EntitySchema
	timer  *callTimer
}

func (h *hierarchyRun) commitRow(ctx context.Context, row Row) *RowError {
	vals, err := CoerceRow(row, h.schema)
	if err != nil {
		return newRowError(row, StageEntity, err.Error())
	}

	variantName := vals["variant_name"].String()
	variantID, err := h.resolveVariant(ctx, variantName, vals["variant_description"].String())
	if err != nil {
		h.logger.Warn("variant unresolved", "row", row.Line, "variant", variantName, "mode", h.mode, "error", err)
		return newRowError(row, StageVariant, msgParentHierarchy)
	}

	specificName := vals["specific_name"].String()
	specificID, err := h.resolveSpecific(ctx, variantName, variantID, specificName, vals["specific_description"].String())
	if err != nil {
		h.logger.Warn("specific variant unresolved", "row", row.Line, "variant", variantName, "specific", specificName, "mode", h.mode, "error", err)
		return newRowError(row, StageSpecificVariant, msgParentHierarchy)
	}

	unit := vals["product_unit"].String()
	if unit == "" {
		unit = hierarchyDefaultUnit
	}
	in := catalog.ProductInput{
		Name:              vals["product_name"].String(),
		BasePrice:         vals["product_price"].Num,
		Stock:             vals["product_stock"].Int(),
		Unit:              unit,
		Status:            hierarchyDefaultStatus,
		SpecificVariantID: specificID,
		Finish:            append([]string(nil), defaultFinish...),
		Dimensions:        []catalog.Dimensions{},
		Images:            []string{},
		Applications:      []string{},
	}

	var out catalog.CreateOutcome
	h.timer.time(func() {
		out, err = h.api.CreateProduct(ctx, in)
	})
	if err != nil {
		return newRowError(row, StageEntity, err.Error())
	}
	if out.Status != catalog.Created || out.Entity == nil {
		msg := out.Message
		if msg == "" {
			msg = msgProductCreate
		}
		return newRowError(row, StageEntity, msg)
	}
	return nil
}

func (h *hierarchyRun) resolveVariant(ctx context.Context, name, description string) (string, error) {
	if id, ok := h.memo.VariantID(name); ok {
		return id, nil
	}
	v, err, _ := h.memo.flight.Do("v\x00"+name, func() (any, error) {
		if id, ok := h.memo.VariantID(name); ok {
			return id, nil
		}
		id, err := h.ensure(ctx, "variant",
			func(ctx context.Context) (catalog.CreateOutcome, error) {
				return h.api.CreateVariant(ctx, catalog.VariantInput{Name: name, Description: description})
			},
			func(ctx context.Context) (*catalog.Entity, error) {
				return h.api.FindVariant(ctx, name)
			},
		)
		if err != nil {
			return "", err
		}
		h.memo.putVariant(name, id)
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (h *hierarchyRun) resolveSpecific(ctx context.Context, variantName, variantID, name, description string) (string, error) {
	if id, ok := h.memo.SpecificVariantID(variantName, name); ok {
		return id, nil
	}
	v, err, _ := h.memo.flight.Do("s\x00"+specificKey(variantName, name), func() (any, error) {
		if id, ok := h.memo.SpecificVariantID(variantName, name); ok {
			return id, nil
		}
		id, err := h.ensure(ctx, "specific variant",
			func(ctx context.Context) (catalog.CreateOutcome, error) {
				return h.api.CreateSpecificVariant(ctx, catalog.SpecificVariantInput{
					Name:        name,
					Description: description,
					VariantID:   variantID,
				})
			},
			func(ctx context.Context) (*catalog.Entity, error) {
				return h.api.FindSpecificVariant(ctx, variantID, name)
			},
		)
		if err != nil {
			return "", err
		}
		h.memo.putSpecific(variantName, name, id)
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// ensure creates a parent and returns its ID. An "already exists" answer is
// always followed by a lookup. Other failures fall back to a lookup only in
// lenient mode.
func (h *hierarchyRun) ensure(
	ctx context.Context,
	noun string,
	create func(context.Context) (catalog.CreateOutcome, error),
	find func(context.Context) (*catalog.Entity, error),
) (string, error) {
	var out catalog.CreateOutcome
	var err error
	h.timer.time(func() {
		out, err = create(ctx)
	})

	if err == nil {
		switch out.Status {
		case catalog.Created:
			if out.Entity != nil && out.Entity.ID != "" {
				return out.Entity.ID, nil
			}
			err = errors.Newf("%s created without an id", noun)
		case catalog.AlreadyExists:
			if out.Entity != nil && out.Entity.ID != "" {
				return out.Entity.ID, nil
			}
			if id, ok := h.lookup(ctx, find); ok {
				return id, nil
			}
			return "", errors.Newf("%s already exists but could not be found", noun)
		default:
			msg := out.Message
			if msg == "" {
				msg = "Failed to create " + noun
			}
			err = errors.New(msg)
		}
	}

	if h.mode == HierarchyLenient {
		if id, ok := h.lookup(ctx, find); ok {
			h.logger.Debug("reusing existing parent", "kind", noun, "id", id, "create_error", err)
			return id, nil
		}
	}
	return "", err
}

func (h *hierarchyRun) lookup(ctx context.Context, find func(context.Context) (*catalog.Entity, error)) (string, bool) {
	var ent *catalog.Entity
	var err error
	h.timer.time(func() {
		ent, err = find(ctx)
	})
	if err != nil {
		h.logger.Debug("parent lookup failed", "error", err)
		return "", false
	}
	if ent == nil || ent.ID == "" {
		return "", false
	}
	return ent.ID, true
}

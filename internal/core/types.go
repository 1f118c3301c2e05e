// Package core provides the business logic for catalog import and export.
// This package has no UI dependencies and can be used by any frontend.
package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/JonMunkholm/stonecat/internal/catalog"
)

// Entity type keys understood by the pipeline.
const (
	EntityVariants         = "variants"
	EntitySpecificVariants = "specific-variants"
	EntityProducts         = "products"
	EntityHierarchy        = "hierarchy"
)

// FieldType represents the expected data type for a column.
type FieldType string

const (
	FieldText    FieldType = "text"
	FieldNumber  FieldType = "number"
	FieldInteger FieldType = "integer"
	FieldEnum    FieldType = "enum"
	FieldURL     FieldType = "url"
	FieldBool    FieldType = "bool"
)

// FieldSpec defines validation rules for a single column.
type FieldSpec struct {
	Name       string    `yaml:"name"`
	Label      string    `yaml:"label"`
	Type       FieldType `yaml:"type"`
	Required   bool      `yaml:"required"`
	Min        *float64  `yaml:"min"`
	MaxLength  int       `yaml:"maxLength"`
	EnumValues []string  `yaml:"enum"`
	Default    string    `yaml:"default"`
	Example    string    `yaml:"example"`
}

// DisplayLabel returns Label, falling back to Name.
func (f FieldSpec) DisplayLabel() string {
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}

// Row is one parsed data line. Line is the 1-based line number in the source
// file (the header is line 1). Rows are not modified after parsing.
type Row struct {
	Line   int
	Values map[string]string
}

// Get returns the raw value for field, or "" when absent.
func (r Row) Get(field string) string {
	return r.Values[field]
}

// ParseResult is the output of Parse.
type ParseResult struct {
	Headers []string
	Rows    []Row
}

// Issue is a validation or commit finding attributed to a source line.
type Issue struct {
	Row     int    `json:"row"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

// Statistics summarizes a validation pass.
// ValidRows + InvalidRows == TotalRows; DuplicateRows counts valid rows only.
type Statistics struct {
	TotalRows     int `json:"totalRows"`
	ValidRows     int `json:"validRows"`
	InvalidRows   int `json:"invalidRows"`
	DuplicateRows int `json:"duplicateRows"`
}

// ValidationOutcome collects every finding for one run.
type ValidationOutcome struct {
	Errors     []Issue    `json:"errors"`
	Warnings   []Issue    `json:"warnings"`
	Statistics Statistics `json:"statistics"`
}

// IsValid reports whether no row produced an error. Warnings never block.
func (o *ValidationOutcome) IsValid() bool {
	return len(o.Errors) == 0
}

// Progress is emitted after every committed row.
type Progress struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Percent returns completion as a percentage (0-100).
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Processed) / float64(p.Total) * 100
}

// RowError records one row that failed to commit.
type RowError struct {
	Row     int               `json:"row"`
	Stage   CommitStage       `json:"stage"`
	Message string            `json:"error"`
	Data    map[string]string `json:"data"`
}

// CommitResult is the aggregate tally of a commit run.
type CommitResult struct {
	Success int         `json:"success"`
	Errors  []RowError  `json:"errors"`
	Metrics CallMetrics `json:"metrics"`
}

// CallMetrics summarizes remote call latency for a run.
type CallMetrics struct {
	Calls int64         `json:"calls"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	Max   time.Duration `json:"max"`
	Mean  time.Duration `json:"mean"`
}

// Blob is a downloadable output.
type Blob struct {
	Name        string
	ContentType string
	Data        []byte
}

// CatalogAPI is the remote entity API the pipeline writes through.
// Satisfied by *catalog.Client.
type CatalogAPI interface {
	CreateVariant(ctx context.Context, in catalog.VariantInput) (catalog.CreateOutcome, error)
	CreateSpecificVariant(ctx context.Context, in catalog.SpecificVariantInput) (catalog.CreateOutcome, error)
	CreateProduct(ctx context.Context, in catalog.ProductInput) (catalog.CreateOutcome, error)
	FindVariant(ctx context.Context, name string) (*catalog.Entity, error)
	FindSpecificVariant(ctx context.Context, variantID, name string) (*catalog.Entity, error)
	List(ctx context.Context, kind catalog.Kind) ([]json.RawMessage, error)
}

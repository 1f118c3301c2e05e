package core

// validation.go scores parsed rows against an entity schema.
//
// Every rule for every row is evaluated so the operator sees all problems at
// once. Errors make a row invalid; duplicate keys only produce warnings, since
// the remote system decides whether a second record with the same name is
// acceptable.

import (
	"fmt"
	"strings"
)

// Validate checks rows against the schema registered for entityType.
// Unknown entity types have no field rules and every row passes; duplicate
// detection still runs on the "name" column. Validate has no side effects.
func Validate(rows []Row, entityType string) *ValidationOutcome {
	schema := EntitySchema{Key: entityType, DedupeField: "name"}
	if def, ok := Get(entityType); ok {
		schema = def.Schema
	}
	return ValidateSchema(rows, schema)
}

// ValidateSchema is Validate with an explicit schema.
func ValidateSchema(rows []Row, schema EntitySchema) *ValidationOutcome {
	out := &ValidationOutcome{
		Errors:   []Issue{},
		Warnings: []Issue{},
	}
	out.Statistics.TotalRows = len(rows)

	dedupeLabel := "name"
	if spec, ok := schema.Field(schema.DedupeField); ok && schema.DedupeField != "name" {
		dedupeLabel = strings.ToLower(spec.DisplayLabel())
	}
	firstSeen := make(map[string]int, len(rows))

	for _, row := range rows {
		rowErrors := 0
		for _, spec := range schema.Fields {
			raw := row.Get(spec.Name)
			if _, msg := coerceField(spec, raw); msg != "" {
				out.Errors = append(out.Errors, Issue{
					Row:     row.Line,
					Field:   spec.Name,
					Message: msg,
					Value:   raw,
				})
				rowErrors++
			}
		}

		if rowErrors > 0 {
			out.Statistics.InvalidRows++
			continue
		}
		out.Statistics.ValidRows++

		// Only valid rows take part in duplicate detection.
		raw := row.Get(schema.DedupeField)
		key := normalizeKey(raw)
		if key == "" {
			continue
		}
		if first, dup := firstSeen[key]; dup {
			out.Statistics.DuplicateRows++
			out.Warnings = append(out.Warnings, Issue{
				Row:     row.Line,
				Field:   schema.DedupeField,
				Message: fmt.Sprintf("Duplicate %s %q (first seen on row %d)", dedupeLabel, strings.TrimSpace(raw), first),
				Value:   raw,
			})
			continue
		}
		firstSeen[key] = row.Line
	}

	return out
}

// normalizeKey is the duplicate-detection key: trimmed and lower-cased.
func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

package core

import (
	_ "embed"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/stonecat/internal/catalog"
)

//go:embed schemas/entities.yaml
var entitiesYAML []byte

// EntitySchema is the declarative part of an entity definition.
type EntitySchema struct {
	Key         string       `yaml:"key"`
	Label       string       `yaml:"label"`
	Kind        catalog.Kind `yaml:"kind"`
	DedupeField string       `yaml:"dedupeField"`
	Fields      []FieldSpec  `yaml:"fields"`
}

// Field returns the spec for name.
func (s EntitySchema) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Columns returns field names in declaration order.
func (s EntitySchema) Columns() []string {
	cols := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		cols[i] = f.Name
	}
	return cols
}

type schemaFile struct {
	Entities []EntitySchema `yaml:"entities"`
}

// LoadSchemas decodes and checks a schema document.
func LoadSchemas(data []byte) ([]EntitySchema, error) {
	var doc schemaFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "decode entity schemas")
	}

	seen := make(map[string]bool, len(doc.Entities))
	for i := range doc.Entities {
		s := &doc.Entities[i]
		if s.Key == "" {
			return nil, errors.Newf("entity schema %d has no key", i)
		}
		if seen[s.Key] {
			return nil, errors.Newf("duplicate entity schema %q", s.Key)
		}
		seen[s.Key] = true
		if s.DedupeField == "" {
			s.DedupeField = "name"
		}
		for j := range s.Fields {
			f := &s.Fields[j]
			if f.Type == "" {
				f.Type = FieldText
			}
			switch f.Type {
			case FieldText, FieldNumber, FieldInteger, FieldEnum, FieldURL, FieldBool:
			default:
				return nil, errors.Newf("entity %q field %q: unknown type %q", s.Key, f.Name, f.Type)
			}
			if f.Type == FieldEnum && len(f.EnumValues) == 0 {
				return nil, errors.Newf("entity %q field %q: enum without values", s.Key, f.Name)
			}
		}
	}
	return doc.Entities, nil
}

// splitList splits a multi-value cell on "|" or ";", dropping blanks.
func splitList(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ';' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package core

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/cockroachdb/errors"
)

// GenerateTemplate returns a CSV template for entityType: the header line
// followed by one example row taken from the schema.
func GenerateTemplate(entityType string) (string, error) {
	def, ok := Get(entityType)
	if !ok {
		return "", errors.Wrapf(ErrUnknownEntity, "%q", entityType)
	}

	fields := def.Schema.Fields
	header := make([]string, len(fields))
	example := make([]string, len(fields))
	for i, f := range fields {
		header[i] = f.Name
		example[i] = f.Example
		if example[i] == "" {
			example[i] = f.Default
		}
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(header)
	_ = w.Write(example)
	w.Flush()
	if err := w.Error(); err != nil {
		return "", errors.Wrap(err, "write template")
	}
	return buf.String(), nil
}

// TemplateBlob wraps GenerateTemplate as a download.
func TemplateBlob(entityType string) (*Blob, error) {
	text, err := GenerateTemplate(entityType)
	if err != nil {
		return nil, err
	}
	return &Blob{
		Name:        fmt.Sprintf("%s_template.csv", entityType),
		ContentType: ContentTypeCSV,
		Data:        []byte(text),
	}, nil
}

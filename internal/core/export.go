package core

// export.go renders record sets as downloadable CSV and JSON blobs.
//
// Output is a pure function of the records and options (plus the export
// timestamp in JSON metadata), so exporting twice yields identical bytes.

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
)

// DefaultDateLayout renders dates like "3/7/2025".
const DefaultDateLayout = "1/2/2006"

// Export format tags written into JSON metadata.
const (
	exportFormatJSON    = "json"
	exportFormatVersion = "1.0"
)

// Content types of export blobs.
const (
	ContentTypeCSV  = "text/csv; charset=utf-8"
	ContentTypeJSON = "application/json"
)

// CSVOptions controls ExportCSV.
type CSVOptions struct {
	IncludeHeaders bool
	Delimiter      rune
	// CustomFields fixes the column list. Empty means the first record's keys.
	CustomFields []string
	DateLayout   string
	FileName     string
}

// DefaultCSVOptions returns comma-delimited output with a header line.
func DefaultCSVOptions() CSVOptions {
	return CSVOptions{
		IncludeHeaders: true,
		Delimiter:      ',',
		DateLayout:     DefaultDateLayout,
	}
}

// ExportCSV renders records as delimited text. Fields missing from a record
// become empty cells. Values holding the delimiter, a quote or a line break
// are quoted with inner quotes doubled.
func ExportCSV(records []Record, opts CSVOptions) (*Blob, error) {
	if len(records) == 0 {
		return nil, ErrEmptyExport
	}
	if opts.Delimiter == 0 {
		opts.Delimiter = ','
	}
	if opts.DateLayout == "" {
		opts.DateLayout = DefaultDateLayout
	}
	if opts.FileName == "" {
		opts.FileName = "export.csv"
	}

	fields := opts.CustomFields
	if len(fields) == 0 {
		fields = records[0].Keys()
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = opts.Delimiter

	if opts.IncludeHeaders {
		if err := w.Write(fields); err != nil {
			return nil, errors.Wrap(err, "write csv header")
		}
	}

	line := make([]string, len(fields))
	for i, rec := range records {
		for j, f := range fields {
			v, _ := rec.Get(f)
			line[j] = formatCell(v, opts.DateLayout)
		}
		if err := w.Write(line); err != nil {
			return nil, errors.Wrapf(err, "write csv record %d", i)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, errors.Wrap(err, "flush csv")
	}

	return &Blob{Name: opts.FileName, ContentType: ContentTypeCSV, Data: buf.Bytes()}, nil
}

// formatCell renders one value as cell text.
func formatCell(v any, dateLayout string) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.Format(dateLayout)
	case *time.Time:
		if t == nil {
			return ""
		}
		return t.Format(dateLayout)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case bool:
		return strconv.FormatBool(t)
	case Record, []any, map[string]any:
		b, err := jsonAPI.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// JSONOptions controls ExportJSON.
type JSONOptions struct {
	IncludeMetadata bool
	Pretty          bool
	FileName        string
	// Now stamps metadata.exportedAt. Defaults to time.Now.
	Now func() time.Time
}

type exportMetadata struct {
	ExportedAt   time.Time `json:"exportedAt"`
	TotalRecords int       `json:"totalRecords"`
	Format       string    `json:"format"`
	Version      string    `json:"version"`
}

type exportDocument struct {
	Metadata *exportMetadata `json:"metadata,omitempty"`
	Data     []Record        `json:"data"`
}

// ExportJSON wraps records as {"data": [...]}, with a metadata object first
// when IncludeMetadata is set. An empty record set is allowed.
func ExportJSON(records []Record, opts JSONOptions) (*Blob, error) {
	if opts.FileName == "" {
		opts.FileName = "export.json"
	}

	doc := exportDocument{Data: records}
	if doc.Data == nil {
		doc.Data = []Record{}
	}
	if opts.IncludeMetadata {
		now := time.Now
		if opts.Now != nil {
			now = opts.Now
		}
		doc.Metadata = &exportMetadata{
			ExportedAt:   now().UTC(),
			TotalRecords: len(records),
			Format:       exportFormatJSON,
			Version:      exportFormatVersion,
		}
	}

	data, err := jsonAPI.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "encode json export")
	}
	if opts.Pretty {
		var out bytes.Buffer
		if err := json.Indent(&out, data, "", "  "); err != nil {
			return nil, errors.Wrap(err, "indent json export")
		}
		data = out.Bytes()
	}

	return &Blob{Name: opts.FileName, ContentType: ContentTypeJSON, Data: data}, nil
}

// ParseJSONExport reads records back from an ExportJSON blob. A bare JSON
// array of objects is accepted too.
func ParseJSONExport(data []byte) ([]Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var recs []Record
		if err := jsonAPI.Unmarshal(trimmed, &recs); err != nil {
			return nil, errors.Wrap(err, "decode json array")
		}
		return recs, nil
	}

	var doc struct {
		Data []Record `json:"data"`
	}
	if err := jsonAPI.Unmarshal(trimmed, &doc); err != nil {
		return nil, errors.Wrap(err, "decode json export")
	}
	if doc.Data == nil {
		doc.Data = []Record{}
	}
	return doc.Data, nil
}

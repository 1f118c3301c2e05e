package core

// parse.go turns a delimited text file into field-named rows.
//
// The first non-skipped record is the header row. Every later record becomes a
// Row keyed by header name (or its HeaderMapping target) and tagged with the
// line it started on, so errors can point the operator at the exact source line.

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
)

// ParseOptions controls how a file is decoded and split.
type ParseOptions struct {
	Delimiter      rune
	Encoding       Encoding
	SkipEmptyRows  bool
	TrimWhitespace bool

	// HeaderMapping renames source headers (source -> field name).
	HeaderMapping map[string]string
}

// DefaultParseOptions returns comma-delimited UTF-8 with empty rows skipped
// and whitespace trimmed.
func DefaultParseOptions() ParseOptions {
	return ParseOptions{
		Delimiter:      ',',
		Encoding:       EncodingUTF8,
		SkipEmptyRows:  true,
		TrimWhitespace: true,
	}
}

// ParseDelimiter accepts ",", ";", a tab, or their names.
func ParseDelimiter(s string) (rune, error) {
	switch strings.ToLower(s) {
	case "", ",", "comma":
		return ',', nil
	case ";", "semicolon":
		return ';', nil
	case "\t", "\\t", "tab":
		return '\t', nil
	default:
		return 0, errors.WithHint(
			errors.Newf("unsupported delimiter %q", s),
			"use comma, semicolon or tab",
		)
	}
}

func (o ParseOptions) validate() error {
	switch o.Delimiter {
	case ',', ';', '\t':
	default:
		return errors.Newf("unsupported delimiter %q", o.Delimiter)
	}
	if _, err := ParseEncoding(string(o.Encoding)); err != nil {
		return err
	}
	return nil
}

// Parse reads r and returns its header and data rows in source order.
// It fails with a ParseError wrapping ErrEmptyInput when no lines remain.
func Parse(r io.Reader, opts ParseOptions) (*ParseResult, error) {
	if opts.Encoding == "" {
		opts.Encoding = EncodingUTF8
	}
	if err := opts.validate(); err != nil {
		return nil, &ParseError{Err: err}
	}

	cr := csv.NewReader(NewDecodingReader(r, opts.Encoding))
	cr.Comma = opts.Delimiter
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	result := &ParseResult{}
	var headers []string

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			line := 0
			var csvErr *csv.ParseError
			if errors.As(err, &csvErr) {
				line = csvErr.StartLine
			}
			return nil, &ParseError{Line: line, Err: err}
		}
		line, _ := cr.FieldPos(0)

		if headers == nil {
			if opts.SkipEmptyRows && allBlank(rec) {
				continue
			}
			headers = buildHeaders(rec, opts)
			continue
		}

		row := Row{Line: line, Values: make(map[string]string, len(headers))}
		for i, h := range headers {
			if i >= len(rec) {
				break
			}
			if h == "" {
				continue
			}
			row.Values[h] = cleanValue(rec[i], opts.TrimWhitespace)
		}

		if opts.SkipEmptyRows && rowIsEmpty(row) {
			continue
		}
		result.Rows = append(result.Rows, row)
	}

	if headers == nil {
		return nil, &ParseError{Err: ErrEmptyInput}
	}
	result.Headers = headers
	return result, nil
}

func buildHeaders(rec []string, opts ParseOptions) []string {
	headers := make([]string, len(rec))
	for i, cell := range rec {
		h := cleanValue(cell, opts.TrimWhitespace)
		if mapped, ok := opts.HeaderMapping[h]; ok {
			h = mapped
		}
		headers[i] = h
	}
	return headers
}

// cleanValue optionally trims a cell and strips one pair of surrounding quotes.
func cleanValue(s string, trim bool) string {
	if trim {
		s = strings.TrimSpace(s)
	}
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' || first == '\'') && first == last {
			s = s[1 : len(s)-1]
			if trim {
				s = strings.TrimSpace(s)
			}
		}
	}
	return s
}

func allBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func rowIsEmpty(r Row) bool {
	for _, v := range r.Values {
		if v != "" {
			return false
		}
	}
	return true
}

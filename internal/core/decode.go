package core

// decode.go turns raw file bytes into clean UTF-8 before CSV parsing.
//
// UTF-8 input has its BOM (0xEF 0xBB 0xBF, added by Excel on Windows) removed and
// ill-formed sequences replaced with U+FFFD. Latin-1 and Windows-1252 input is
// transcoded with the x/text charmaps. Everything streams through
// transform.Reader, so memory stays O(buffer) regardless of file size.

import (
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// Encoding names a supported input character set.
type Encoding string

const (
	EncodingUTF8        Encoding = "utf-8"
	EncodingISO88591    Encoding = "iso-8859-1"
	EncodingWindows1252 Encoding = "windows-1252"
)

// ParseEncoding normalizes a user-supplied encoding name.
// Empty input selects UTF-8.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "utf-8", "utf8":
		return EncodingUTF8, nil
	case "iso-8859-1", "iso8859-1", "latin1", "latin-1":
		return EncodingISO88591, nil
	case "windows-1252", "cp1252", "win1252":
		return EncodingWindows1252, nil
	default:
		return "", errors.WithHint(
			errors.Newf("unsupported encoding %q", s),
			"use utf-8, iso-8859-1 or windows-1252",
		)
	}
}

// transformer returns the decoding chain for e.
func (e Encoding) transformer() transform.Transformer {
	switch e {
	case EncodingISO88591:
		return charmap.ISO8859_1.NewDecoder()
	case EncodingWindows1252:
		return charmap.Windows1252.NewDecoder()
	default:
		return transform.Chain(unicode.UTF8BOM.NewDecoder(), runes.ReplaceIllFormed())
	}
}

// NewDecodingReader wraps r so reads yield UTF-8 text decoded from enc.
func NewDecodingReader(r io.Reader, enc Encoding) io.Reader {
	return transform.NewReader(r, enc.transformer())
}

// readLimited reads all of r, failing with ErrFileTooLarge past max bytes.
// A max of 0 disables the limit.
func readLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}
	if int64(len(data)) > max {
		return nil, errors.WithHintf(ErrFileTooLarge,
			"files are limited to %dMB; split the file and import the parts", max/(1024*1024))
	}
	return data, nil
}

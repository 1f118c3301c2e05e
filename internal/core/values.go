package core

// values.go converts raw cell text into typed values.
//
// User-supplied files are messy: prices arrive as "$1,250.00" or "1.250,00",
// booleans as yes/no. Conversion is shared by the validator (which reports
// what failed) and the payload builders (which need the typed result), so a
// row that validates always builds.

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// numericRegex validates a plain decimal after cleanup.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// thousandsRegex matches "1,234,567.89" style grouping.
var thousandsRegex = regexp.MustCompile(`^[+-]?\d{1,3}(,\d{3})+(\.\d+)?$`)

// decimalCommaRegex matches "125,5" or "1.250,75" style decimals.
var decimalCommaRegex = regexp.MustCompile(`^[+-]?\d{1,3}(\.\d{3})*,\d+$|^[+-]?\d+,\d+$`)

// ValueKind tags a Value.
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueString
	ValueNumber
	ValueBool
)

// Value is a typed cell value.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
}

// String returns the text form of v.
func (v Value) String() string {
	switch v.Kind {
	case ValueString:
		return v.Str
	case ValueNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case ValueBool:
		return strconv.FormatBool(v.Bool)
	default:
		return ""
	}
}

// Int returns v as an int, truncating fractions.
func (v Value) Int() int {
	if v.Kind != ValueNumber {
		return 0
	}
	return int(v.Num)
}

// ParseNumber parses a user-formatted number. Currency symbols, thousands
// separators, decimal commas and accounting negatives "(12.50)" are accepted.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	for _, sym := range []string{"$", "€", "£", "₹"} {
		s = strings.ReplaceAll(s, sym, "")
	}
	s = strings.ReplaceAll(s, " ", "")

	switch {
	case thousandsRegex.MatchString(s):
		s = strings.ReplaceAll(s, ",", "")
	case decimalCommaRegex.MatchString(s):
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}

	if !numericRegex.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	if negative {
		f = -f
	}
	return f, true
}

// ParseBool accepts true/false, yes/no, y/n, t/f and 1/0.
func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "t", "1":
		return true, true
	case "false", "no", "n", "f", "0":
		return false, true
	}
	return false, false
}

// coerceField converts raw against spec. A non-empty message means the value
// is invalid. Empty optional values coerce to the spec default, or null.
func coerceField(spec FieldSpec, raw string) (Value, string) {
	label := spec.DisplayLabel()
	raw = strings.TrimSpace(raw)

	if raw == "" {
		if spec.Required {
			return Value{}, fmt.Sprintf("%s is required", label)
		}
		if spec.Default == "" {
			return Value{}, ""
		}
		raw = spec.Default
	}

	switch spec.Type {
	case FieldNumber, FieldInteger:
		f, ok := ParseNumber(raw)
		if !ok {
			return Value{}, fmt.Sprintf("%s must be a valid number", label)
		}
		if spec.Type == FieldInteger && f != math.Trunc(f) {
			return Value{}, fmt.Sprintf("%s must be a whole number", label)
		}
		if spec.Min != nil && f < *spec.Min {
			return Value{}, fmt.Sprintf("%s must be at least %s", label, strconv.FormatFloat(*spec.Min, 'f', -1, 64))
		}
		return Value{Kind: ValueNumber, Num: f}, ""

	case FieldBool:
		b, ok := ParseBool(raw)
		if !ok {
			return Value{}, fmt.Sprintf("%s must be yes/no, true/false, or 1/0", label)
		}
		return Value{Kind: ValueBool, Bool: b}, ""

	case FieldEnum:
		for _, ev := range spec.EnumValues {
			if strings.EqualFold(ev, raw) {
				return Value{Kind: ValueString, Str: ev}, ""
			}
		}
		return Value{}, fmt.Sprintf("%s must be one of: %s", label, strings.Join(spec.EnumValues, ", "))

	case FieldURL:
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return Value{}, fmt.Sprintf("%s must be a valid URL", label)
		}
		return Value{Kind: ValueString, Str: raw}, ""
	}

	if spec.MaxLength > 0 && len([]rune(raw)) > spec.MaxLength {
		return Value{}, fmt.Sprintf("%s must be at most %d characters", label, spec.MaxLength)
	}
	return Value{Kind: ValueString, Str: raw}, ""
}

// CoerceRow converts every schema field of row into a typed value.
// It returns the first failure as an error; use Validate for the full list.
func CoerceRow(row Row, schema EntitySchema) (map[string]Value, error) {
	out := make(map[string]Value, len(schema.Fields))
	for _, spec := range schema.Fields {
		v, msg := coerceField(spec, row.Get(spec.Name))
		if msg != "" {
			return nil, errors.New(msg)
		}
		out[spec.Name] = v
	}
	return out, nil
}

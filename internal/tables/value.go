package tables

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Kind discriminates the scalar types a parameter cell can hold
type Kind int

const (
	// KindMissing marks an absent value. Missing compares equal to missing
	// for grouping purposes.
	KindMissing Kind = iota
	// KindNumber holds a float64
	KindNumber
	// KindString holds a string
	KindString
	// KindBool holds a boolean
	KindBool
)

// Value is one parameter cell: a scalar or missing. The zero Value is missing.
type Value struct {
	kind Kind
	num  float64
	str  string
	b    bool
}

// Missing returns the missing value
func Missing() Value { return Value{} }

// Number wraps a float64. NaN is normalized to missing.
func Number(f float64) Value {
	if math.IsNaN(f) {
		return Value{}
	}
	return Value{kind: KindNumber, num: f}
}

// String wraps a string
func String(s string) Value { return Value{kind: KindString, str: s} }

// Bool wraps a boolean
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// FromJSON converts a decoded sidecar JSON value to a Value. Lists and
// objects are canonicalized to their compact JSON encoding so they remain
// comparable as strings.
func FromJSON(v interface{}) Value {
	switch t := v.(type) {
	case nil:
		return Missing()
	case float64:
		return Number(t)
	case string:
		return String(t)
	case bool:
		return Bool(t)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return Missing()
		}
		return String(string(data))
	}
}

// Kind returns the value's kind
func (v Value) Kind() Kind { return v.kind }

// IsMissing reports whether the value is absent
func (v Value) IsMissing() bool { return v.kind == KindMissing }

// Num returns the numeric payload and whether the value is a number
func (v Value) Num() (float64, bool) {
	return v.num, v.kind == KindNumber
}

// BoolVal returns the boolean payload and whether the value is a bool
func (v Value) BoolVal() (bool, bool) {
	return v.b, v.kind == KindBool
}

// Canon returns the canonical string form used for TSV cells and grouping
// keys. Missing canonicalizes to the empty string, so missing equals missing.
func (v Value) Canon() string {
	switch v.kind {
	case KindNumber:
		return FormatFloat(v.num)
	case KindString:
		return v.str
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// Equal compares two values by canonical form
func (v Value) Equal(o Value) bool {
	return v.Canon() == o.Canon()
}

// Round returns the value rounded to the given number of decimal places.
// Non-numeric values pass through unchanged. Rounding is idempotent.
func (v Value) Round(digits int) Value {
	if v.kind != KindNumber {
		return v
	}
	return Number(RoundTo(v.num, digits))
}

// RoundTo rounds f to the given number of decimal places
func RoundTo(f float64, digits int) float64 {
	m := math.Pow(10, float64(digits))
	return math.Round(f*m) / m
}

// FormatFloat formats a float with the shortest decimal representation that
// round-trips, without an exponent, so table cells stay byte-stable.
func FormatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	// Guard against "-0"
	if s == "-0" {
		return "0"
	}
	return s
}

// ParseCell converts a TSV cell back to a Value. Empty cells are missing;
// numeric and boolean forms are recovered, everything else stays a string.
func ParseCell(s string) Value {
	if s == "" {
		return Missing()
	}
	if s == "true" || s == "false" {
		return Bool(s == "true")
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		// JSON-encoded lists like "[1,2]" are not numbers; ParseFloat
		// rejects them already.
		if !strings.ContainsAny(s, " ") {
			return Number(f)
		}
	}
	return String(s)
}

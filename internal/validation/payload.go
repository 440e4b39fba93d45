package validation

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Payload is a decoded request body or query string keyed by field name.
// JSON bodies are expected to be decoded with UseNumber.
//
// The accessors are lenient readers meant to be used after Evaluate has
// accepted the payload; they report ok=false instead of failing.
type Payload map[string]any

// Has reports whether name is present with a non-empty value.
func (p Payload) Has(name string) bool {
	v, ok := p[name]
	return !isAbsent(v, ok)
}

// Text returns the string value of name, or "" when absent or not a string.
func (p Payload) Text(name string) string {
	s, _ := p[name].(string)
	return s
}

// TrimmedText is Text with surrounding whitespace removed.
func (p Payload) TrimmedText(name string) string {
	return strings.TrimSpace(p.Text(name))
}

// Int64 returns name as a whole number.
func (p Payload) Int64(name string) (int64, bool) {
	switch v := p[name].(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, true
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return i, true
		}
	}
	if i, ok := asInt64(p[name]); ok {
		return i, true
	}
	f, ok := asFiniteNumber(p[name])
	if !ok || !isWholeFinite(f) || !inInt64Range(f) {
		return 0, false
	}
	return int64(f), true
}

// Float64 returns name as a finite number.
func (p Payload) Float64(name string) (float64, bool) {
	return asFiniteNumber(p[name])
}

// IDs returns name as a list of positive ids.
func (p Payload) IDs(name string) ([]int64, bool) {
	return asIDList(p[name])
}

// OptionalString returns nil when name is absent.
func (p Payload) OptionalString(name string) *string {
	if !p.Has(name) {
		return nil
	}
	s := p.TrimmedText(name)
	return &s
}

// OptionalInt64 returns nil when name is absent or not a whole number.
func (p Payload) OptionalInt64(name string) *int64 {
	if !p.Has(name) {
		return nil
	}
	i, ok := p.Int64(name)
	if !ok {
		return nil
	}
	return &i
}

// OptionalFloat64 returns nil when name is absent or not a number.
func (p Payload) OptionalFloat64(name string) *float64 {
	if !p.Has(name) {
		return nil
	}
	f, ok := p.Float64(name)
	if !ok {
		return nil
	}
	return &f
}

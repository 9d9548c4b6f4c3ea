// Package extract turns loosely typed upstream fields into normalized numbers and text.
//
// Upstream payloads mix numbers, numeric strings with grouping separators and
// percent signs, and nested objects. Nothing here validates a schema: unknown
// or missing fields yield zero values.
package extract

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ParseNumber strips every character that is not a digit, '.' or '-' and
// parses what is left. Empty or unparsable input yields 0.
func ParseNumber(s string) float64 {
	n, _ := parseNumber(s)
	return n
}

func parseNumber(s string) (float64, bool) {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

// ParsePercent normalizes "12.5%", "12.5" and "0.125" to the fraction 0.125.
// Values without a percent sign greater than 1 are taken as percentage points.
func ParsePercent(s string) float64 {
	if strings.Contains(s, "%") {
		return ParseNumber(strings.ReplaceAll(s, "%", "")) / 100
	}
	n := ParseNumber(s)
	if n > 1 {
		return n / 100
	}
	return n
}

// Number converts a decoded JSON value to a finite float.
// The second result is false for nil, non-numeric text, NaN and infinities.
func Number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, !math.IsNaN(t) && !math.IsInf(t, 0)
	case float32:
		f := float64(t)
		return f, !math.IsNaN(f) && !math.IsInf(f, 0)
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	case string:
		return parseNumber(strings.TrimSpace(t))
	default:
		return 0, false
	}
}

// Lookup walks a dotted path ("inventoryDetails.reservedQuantity.totalReservedQuantity")
// through nested JSON objects.
func Lookup(m map[string]any, path string) (any, bool) {
	var cur any = m
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

// FirstNumber returns the first candidate path holding a finite number.
// The bool is false when no candidate matched.
func FirstNumber(m map[string]any, paths ...string) (float64, bool) {
	for _, p := range paths {
		v, ok := Lookup(m, p)
		if !ok {
			continue
		}
		if n, ok := Number(v); ok {
			return n, true
		}
	}
	return 0, false
}

// FirstString returns the first candidate path holding non-blank text.
func FirstString(m map[string]any, paths ...string) string {
	for _, p := range paths {
		v, ok := Lookup(m, p)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				return s
			}
		case json.Number:
			return t.String()
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		}
	}
	return ""
}

package criteria

import (
	"encoding/json"
	"fmt"
	"math"
)

// ValidationError explains why a config or event payload was rejected.
type ValidationError struct {
	Kind   DiagnosticKind
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", e.Kind, e.Field, e.Reason)
}

func configError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: DiagnosticInvalidConfig, Field: field, Reason: fmt.Sprintf(format, args...)}
}

func eventError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: DiagnosticInvalidEvent, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// payload reads loosely typed fields out of a decoded JSON/YAML object,
// tagging every failure with the kind of payload being read.
type payload struct {
	kind DiagnosticKind
	m    map[string]any
}

func configPayload(m map[string]any) (payload, error) {
	if m == nil {
		return payload{}, configError("", "must be an object")
	}
	return payload{kind: DiagnosticInvalidConfig, m: m}, nil
}

func eventPayload(m map[string]any) (payload, error) {
	if m == nil {
		return payload{}, eventError("", "must be an object")
	}
	return payload{kind: DiagnosticInvalidEvent, m: m}, nil
}

func (p payload) fail(field, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: p.kind, Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (p payload) str(field string) (string, error) {
	v, ok := p.m[field]
	if !ok || v == nil {
		return "", p.fail(field, "is required")
	}
	s, ok := v.(string)
	if !ok {
		return "", p.fail(field, "must be a string, got %T", v)
	}
	return s, nil
}

func (p payload) number(field string) (float64, error) {
	v, ok := p.m[field]
	if !ok || v == nil {
		return 0, p.fail(field, "is required")
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, p.fail(field, "must be a number, got %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, p.fail(field, "must be finite")
	}
	return f, nil
}

// wholeNumber reads a number that must carry no fractional part.
func (p payload) wholeNumber(field string) (int64, error) {
	f, err := p.number(field)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, p.fail(field, "must be a whole number, got %v", f)
	}
	return int64(f), nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// args wraps the decoded argument mapping. Models are loose with JSON types,
// so accessors accept the common encodings of each type.
type args map[string]any

func (a args) has(key string) bool {
	v, ok := a[key]
	return ok && v != nil
}

func (a args) str(key string) (string, bool) {
	v, ok := a[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		return fmt.Sprint(t), true
	}
}

func (a args) requiredString(key string) (string, error) {
	v, ok := a.str(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("missing required argument: %s", key)
	}
	return v, nil
}

func (a args) boolean(key string) (bool, bool, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return false, false, nil
	}
	switch t := v.(type) {
	case bool:
		return t, true, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, true, fmt.Errorf("argument %s must be a boolean", key)
		}
		return b, true, nil
	case json.Number:
		n, err := t.Int64()
		if err != nil || (n != 0 && n != 1) {
			return false, true, fmt.Errorf("argument %s must be a boolean", key)
		}
		return n == 1, true, nil
	case float64:
		if t != 0 && t != 1 {
			return false, true, fmt.Errorf("argument %s must be a boolean", key)
		}
		return t == 1, true, nil
	default:
		return false, true, fmt.Errorf("argument %s must be a boolean", key)
	}
}

func (a args) integer(key string) (int, bool, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	var f float64
	switch t := v.(type) {
	case int:
		return t, true, nil
	case int64:
		return int(t), true, nil
	case float64:
		f = t
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, true, fmt.Errorf("argument %s must be an integer", key)
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, true, fmt.Errorf("argument %s must be an integer", key)
		}
		f = parsed
	default:
		return 0, true, fmt.Errorf("argument %s must be an integer", key)
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, true, fmt.Errorf("argument %s must be an integer", key)
	}
	return int(f), true, nil
}

package events

import (
	"strconv"
	"strings"
	"time"
)

// pick returns the first non-nil value among the named keys of m.
func pick(m map[string]any, keys ...string) any {
	if m == nil {
		return nil
	}
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// asID coerces a string or numeric id to its canonical string form.
func asID(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	}
	return ""
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true") || t == "1"
	case float64:
		return t != 0
	case int:
		return t != 0
	}
	return false
}

func asInt(v any, fallback int) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case int64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n
		}
	}
	return fallback
}

func asInt64(v any, fallback int64) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case int:
		return int64(t)
	case int64:
		return t
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

// asTime parses RFC3339 strings, unix-millisecond numbers, and time.Time
// values. Anything unparseable yields the zero time.
func asTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}
		}
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts
		}
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ts
		}
	case float64:
		return time.UnixMilli(int64(t)).UTC()
	case int64:
		return time.UnixMilli(t).UTC()
	}
	return time.Time{}
}

// asNodes flattens a list-like value: a plain array, a GraphQL
// connection ({edges: [{node}]}), or an {items: []} wrapper. Each edge
// unwraps to its node when present.
func asNodes(v any) []map[string]any {
	var raw []any
	switch t := v.(type) {
	case []any:
		raw = t
	case map[string]any:
		if edges, ok := t["edges"].([]any); ok {
			raw = edges
		} else if items, ok := t["items"].([]any); ok {
			raw = items
		}
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		m := asMap(item)
		if m == nil {
			continue
		}
		if node := asMap(m["node"]); node != nil {
			m = node
		}
		out = append(out, m)
	}
	return out
}

// Package extract turns fetched kaufDA pages into candidate records.
//
// The embedded Next.js payload is the primary source. Its shape drifts between
// site releases, so every access is a lookup that may miss and every field is
// resolved through an ordered list of strategies. Pages without a usable
// payload fall back to markup heuristics.
package extract

import (
	"encoding/json"
	"strconv"
	"strings"
)

// at walks path through nested objects and returns nil on any miss.
func at(v any, path ...string) any {
	for _, key := range path {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v = m[key]
	}
	return v
}

func obj(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func list(v any) []any {
	l, _ := v.([]any)
	return l
}

// objects returns the object elements of a list, skipping anything else.
func objects(v any) []map[string]any {
	var out []map[string]any
	for _, item := range list(v) {
		if m := obj(item); m != nil {
			out = append(out, m)
		}
	}
	return out
}

// str reads a non-blank string. Numbers are formatted, since ids and postal
// codes arrive as either.
func str(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case json.Number:
		return t.String(), true
	}
	return "", false
}

func num(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func integer(v any) (int, bool) {
	f, ok := num(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// serialize keeps strings as they are and encodes structured values as JSON.
// Empty containers count as absent.
func serialize(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return str(t)
	case []any:
		if len(t) == 0 {
			return "", false
		}
	case map[string]any:
		if len(t) == 0 {
			return "", false
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return string(b), true
}

// Package config holds small shared configuration types used across the
// pipeline: a loosely-typed Options bag for parser knobs, decoded from JSON.
package config

import (
	"encoding/json"
	"strings"
)

// Options is a free-form option map as it appears in pipeline config JSON,
// e.g. parser.options. Accessors are forgiving: wrong or missing types fall
// back to the provided default instead of erroring, because option typos
// should not abort a run that an explicit validation step will catch anyway.
type Options map[string]any

// Any returns the raw value for key, or nil.
func (o Options) Any(key string) any {
	if o == nil {
		return nil
	}
	return o[key]
}

// Bool reads a boolean option. JSON booleans and the strings
// "true"/"false" are accepted.
func (o Options) Bool(key string, def bool) bool {
	v, ok := o[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true":
			return true
		case "false":
			return false
		}
	}
	return def
}

// Int reads an integer option. JSON numbers decode as float64, so that is
// the primary case.
func (o Options) Int(key string, def int) int {
	v, ok := o[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}

// String reads a string option.
func (o Options) String(key, def string) string {
	v, ok := o[key]
	if !ok {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return def
}

// Rune reads a single-rune option (e.g. the CSV delimiter). Longer strings
// contribute their first rune; empty values fall back to def.
func (o Options) Rune(key string, def rune) rune {
	s := o.String(key, "")
	if s == "" {
		return def
	}
	return []rune(s)[0]
}

// StringMap reads a map[string]string option (e.g. header_map). Non-string
// values are skipped.
func (o Options) StringMap(key string) map[string]string {
	v, ok := o[key]
	if !ok {
		return nil
	}
	raw, ok := v.(map[string]any)
	if !ok {
		if m, ok := v.(map[string]string); ok {
			return m
		}
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, val := range raw {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	return out
}

// StringSlice reads a []string option. Non-string elements are skipped.
func (o Options) StringSlice(key string) []string {
	v, ok := o[key]
	if !ok {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, val := range raw {
		if s, ok := val.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

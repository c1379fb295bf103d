package transformer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Coercion converts one column to a canonical type. Unparsable values become
// nil ("coerce" semantics), never an error.
type Coercion struct {
	Column  string   `json:"column"`
	Kind    string   `json:"kind"` // date | timestamp | decimal | int | bool | string
	Layouts []string `json:"layouts,omitempty"`
}

// Filter is a hard row filter applied after coercion. A row failing any
// filter is dropped entirely. A nil value fails the filter, matching the
// coerce-then-compare behavior of the source system (NaN never passes a
// numeric comparison).
type Filter struct {
	Column string `json:"column"`
	Rule   string `json:"rule"` // positive | non_negative
}

// CleanSpec describes the cleaning stage for one pipeline.
type CleanSpec struct {
	Coerce  []Coercion `json:"coerce,omitempty"`
	Filters []Filter   `json:"filters,omitempty"`
}

var defaultLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

type compiledCoercion struct {
	idx     int
	kind    string
	layouts []string
}

type compiledFilter struct {
	idx    int
	column string
	rule   string
}

// Cleaner applies a compiled CleanSpec to positional rows.
type Cleaner struct {
	coerce  []compiledCoercion
	filters []compiledFilter
}

// NewCleaner compiles spec against the canonical column order. Unknown
// columns, kinds, or rules are config errors and fail fast.
func NewCleaner(columns []string, spec CleanSpec) (*Cleaner, error) {
	idx := make(map[string]int, len(columns))
	for i, c := range columns {
		idx[c] = i
	}

	c := &Cleaner{}
	for _, co := range spec.Coerce {
		i, ok := idx[co.Column]
		if !ok {
			return nil, fmt.Errorf("clean: coerce column %q not in columns", co.Column)
		}
		switch co.Kind {
		case "date", "timestamp", "decimal", "int", "bool", "string":
		default:
			return nil, fmt.Errorf("clean: column %q: unknown coerce kind %q", co.Column, co.Kind)
		}
		layouts := co.Layouts
		if len(layouts) == 0 {
			layouts = defaultLayouts
		}
		c.coerce = append(c.coerce, compiledCoercion{idx: i, kind: co.Kind, layouts: layouts})
	}

	for _, f := range spec.Filters {
		i, ok := idx[f.Column]
		if !ok {
			return nil, fmt.Errorf("clean: filter column %q not in columns", f.Column)
		}
		switch f.Rule {
		case "positive", "non_negative":
		default:
			return nil, fmt.Errorf("clean: column %q: unknown filter rule %q", f.Column, f.Rule)
		}
		c.filters = append(c.filters, compiledFilter{idx: i, column: f.Column, rule: f.Rule})
	}

	return c, nil
}

// Apply coerces r in place, then evaluates hard filters.
// keep=false means the row must be dropped; rule names the failed filter
// as "<column> <rule>".
func (c *Cleaner) Apply(r *Row) (keep bool, rule string) {
	for _, co := range c.coerce {
		r.V[co.idx] = coerceValue(r.V[co.idx], co.kind, co.layouts)
	}
	for _, f := range c.filters {
		if !passesFilter(r.V[f.idx], f.rule) {
			return false, f.column + " " + f.rule
		}
	}
	return true, ""
}

// CleanLoopRows drains in, applies the cleaner, and forwards surviving rows
// to out. Dropped rows are reported through onDrop and freed here. The
// caller owns closing of in; out is closed on return.
func CleanLoopRows(ctx context.Context, c *Cleaner, in <-chan *Row, out chan<- *Row, onDrop func(line int, rule string)) {
	defer close(out)
	for r := range in {
		keep, rule := c.Apply(r)
		if !keep {
			if onDrop != nil {
				onDrop(r.Line, rule)
			}
			r.Free()
			continue
		}
		select {
		case out <- r:
		case <-ctx.Done():
			r.Drop()
			return
		}
	}
}

// coerceValue converts a raw parsed value (string or nil from the CSV
// layer) to the requested kind. Already-typed values pass through when they
// match; anything unparsable becomes nil.
func coerceValue(v any, kind string, layouts []string) any {
	if v == nil {
		return nil
	}

	s, isStr := v.(string)
	if isStr && HasEdgeSpace(s) {
		s = strings.TrimSpace(s)
	}

	switch kind {
	case "string":
		if isStr {
			if s == "" {
				return nil
			}
			return s
		}
		return v

	case "date", "timestamp":
		if t, ok := v.(time.Time); ok {
			return t
		}
		if !isStr || s == "" {
			return nil
		}
		for _, layout := range layouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
		return nil

	case "decimal":
		switch t := v.(type) {
		case float64:
			return t
		case int64:
			return float64(t)
		}
		if !isStr || s == "" {
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return f

	case "int":
		switch t := v.(type) {
		case int64:
			return t
		case float64:
			return int64(t)
		}
		if !isStr || s == "" {
			return nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			// Some sources write integers as "40.0".
			f, ferr := strconv.ParseFloat(s, 64)
			if ferr != nil {
				return nil
			}
			return int64(f)
		}
		return n

	case "bool":
		if b, ok := v.(bool); ok {
			return b
		}
		if !isStr || s == "" {
			return nil
		}
		switch strings.ToLower(s) {
		case "yes", "y", "true", "t", "1":
			return true
		case "no", "n", "false", "f", "0":
			return false
		}
		return nil
	}

	return v
}

// passesFilter evaluates a hard filter against a coerced value.
func passesFilter(v any, rule string) bool {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case int64:
		f = float64(t)
	default:
		// nil or non-numeric never passes a numeric comparison.
		return false
	}

	switch rule {
	case "positive":
		return f > 0
	case "non_negative":
		return f >= 0
	}
	return false
}

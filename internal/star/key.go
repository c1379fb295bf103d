// Package star builds a star schema in memory from cleaned positional rows:
// deduplicated dimension tables with dense surrogate keys, fact tables that
// reference them, and dependent tables joined 1:1 to facts.
package star

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// tupleSep separates components of a composite natural key. ASCII Unit
// Separator cannot appear in source fields, so joined keys never collide.
const tupleSep = "\x1f"

// nullSlot encodes a nil component. A NULL in a composite key is a distinct
// missing-value slot, not equal to the empty string.
const nullSlot = "\x00"

// normalizeKey produces a stable string form for one natural-key component.
//
// Hot-path rules:
//   - Avoid fmt.Sprint for common primitive types (it allocates heavily).
//   - Preserve trim semantics for strings.
//   - nil maps to the dedicated null slot.
func normalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return nullSlot

	case string:
		return strings.TrimSpace(t)

	case bool:
		if t {
			return "true"
		}
		return "false"

	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)

	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)

	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)

	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// tupleKey joins the natural-key components of one row into a single
// cache key. Equality of tuples is exact equality of every component.
func tupleKey(row []any, idx []int) string {
	if len(idx) == 1 {
		return normalizeKey(row[idx[0]])
	}
	var b strings.Builder
	for i, ix := range idx {
		if i > 0 {
			b.WriteString(tupleSep)
		}
		b.WriteString(normalizeKey(row[ix]))
	}
	return b.String()
}

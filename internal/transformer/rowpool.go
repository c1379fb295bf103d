// Package transformer provides streaming, allocation-conscious cleaning of
// raw tabular rows. This file defines a pooled Row type used across
// parser → cleaner → star builder to reduce heap churn and GC pressure.
package transformer

import "sync"

// Row is a pooled container holding a positional row.
//
// Ownership contract:
//   - Exactly one goroutine "owns" a Row at a time.
//   - A Row may be passed downstream via channels (ownership transfer).
//   - The final consumer must call Free() AFTER it is fully done with the
//     Row (and anything referencing r.V).
//
// During ctx cancellation the parser may unwind while downstream stages are
// still draining. If canceled rows are returned to the pool they can be
// reused and written concurrently with those reads. Therefore:
//   - Use Free() only on the normal path.
//   - Use Drop() on cancellation paths (no re-pooling; GC reclaims).
type Row struct {
	V    []any
	Line int // 1-based physical record number in the source file
	Seq  int // 1-based stable ordinal in the cleaned set; 0 until assigned
}

var rowPool sync.Pool

// GetRow returns a pooled Row with length colCount and all elements zeroed.
func GetRow(colCount int) *Row {
	if v := rowPool.Get(); v != nil {
		r := v.(*Row)
		if cap(r.V) < colCount {
			r.V = make([]any, colCount)
		}
		r.V = r.V[:colCount]
		for i := range r.V {
			r.V[i] = nil
		}
		r.Line = 0
		r.Seq = 0
		return r
	}
	return &Row{V: make([]any, colCount)}
}

// Free returns the Row to the pool.
// Call this ONLY when no other goroutine can observe r or r.V.
func (r *Row) Free() {
	rowPool.Put(r)
}

// Drop discards the Row WITHOUT returning it to the pool.
// Use on ctx-cancellation paths to prevent races with pooled reuse.
func (r *Row) Drop() {
	r.V = nil
	r.Line = 0
	r.Seq = 0
}

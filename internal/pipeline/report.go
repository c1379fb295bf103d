package pipeline

import (
	"fmt"
	"io"
	"sort"
	"time"

	"healthetl/internal/star"
)

// RunReport is the accounting for one run. Every row that entered the
// pipeline is attributable to exactly one bucket: kept, dropped by a clean
// filter, rejected during foreign-key resolution, or unparsable.
type RunReport struct {
	Job string

	RowsRead    int
	RowsKept    int
	ParseErrors int

	// DropCounts maps "<column> <rule>" to rows removed by that filter.
	DropCounts map[string]int

	// Rejects covers fact rows excluded during FK resolution.
	Rejects star.RejectReport

	// Loaded maps table name to rows written.
	Loaded map[string]int64

	Duration time.Duration
}

func (r *RunReport) addDrop(rule string) {
	if r.DropCounts == nil {
		r.DropCounts = make(map[string]int)
	}
	r.DropCounts[rule]++
}

// DroppedTotal returns rows removed by clean filters.
func (r *RunReport) DroppedTotal() int {
	n := 0
	for _, c := range r.DropCounts {
		n += c
	}
	return n
}

// Write prints the report in the stage=... key=value log style.
func (r *RunReport) Write(w io.Writer) {
	fmt.Fprintf(w, "job=%s rows_read=%d rows_kept=%d parse_errors=%d dropped=%d rejected=%d duration=%s\n",
		r.Job, r.RowsRead, r.RowsKept, r.ParseErrors, r.DroppedTotal(), r.Rejects.Total(), r.Duration.Truncate(time.Millisecond))

	for _, rule := range sortedKeys(r.DropCounts) {
		fmt.Fprintf(w, "filter=%q dropped=%d\n", rule, r.DropCounts[rule])
	}

	rejKeys := make([]string, 0, len(r.Rejects.Counts))
	for k := range r.Rejects.Counts {
		rejKeys = append(rejKeys, k)
	}
	sort.Strings(rejKeys)
	for _, k := range rejKeys {
		fmt.Fprintf(w, "reject=%s rows=%d\n", k, r.Rejects.Counts[k])
	}
	for _, s := range r.Rejects.Samples {
		fmt.Fprintf(w, "reject_sample table=%s column=%s line=%d reason=%q\n", s.Table, s.Column, s.Line, s.Reason)
	}

	for _, t := range sortedKeys64(r.Loaded) {
		fmt.Fprintf(w, "table=%s loaded=%d\n", t, r.Loaded[t])
	}
}

func sortedKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedKeys64(m map[string]int64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

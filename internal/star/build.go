package star

import (
	"fmt"

	"healthetl/internal/storage"
)

// maxRejectSamples bounds how many individual rejects are retained;
// counts are always complete.
const maxRejectSamples = 20

// Reject records one fact row excluded during foreign-key resolution.
type Reject struct {
	Seq    int    // stable ordinal of the source row in the cleaned set
	Line   int    // physical line in the source file, when known
	Table  string // fact table
	Column string // foreign-key column that failed
	Reason string
}

// RejectReport accumulates exclusions instead of dropping rows silently.
type RejectReport struct {
	Counts  map[string]int // "<table>.<column>" -> dropped rows
	Samples []Reject
}

func (r *RejectReport) add(rej Reject) {
	if r.Counts == nil {
		r.Counts = make(map[string]int)
	}
	r.Counts[rej.Table+"."+rej.Column]++
	if len(r.Samples) < maxRejectSamples {
		r.Samples = append(r.Samples, rej)
	}
}

// Total returns the number of rejected fact rows across all tables.
func (r *RejectReport) Total() int {
	n := 0
	for _, c := range r.Counts {
		n += c
	}
	return n
}

// DimensionTable is a finished dimension plus its natural-key lookup.
type DimensionTable struct {
	Load   storage.TableLoad
	Lookup map[string]int64 // tupleKey -> surrogate key
}

// FactTable is a finished fact table. Seqs[i] is the source ordinal of
// Load.Rows[i]; surrogate key of row i is int64(i+1).
type FactTable struct {
	Load storage.TableLoad
	Seqs []int
}

// Result bundles all finished tables in dependency order.
type Result struct {
	Loads   []storage.TableLoad
	Rejects RejectReport
}

// Build materializes the whole star schema from the cleaned frame:
// all dimensions first (facts consume their lookups), then facts, then
// dependents joined to facts by Seq.
func Build(plan Plan, frame Frame) (*Result, error) {
	res := &Result{}

	dims := make(map[string]*DimensionTable, len(plan.Dimensions))
	for _, d := range plan.Dimensions {
		dt := BuildDimension(d, frame)
		dims[d.Spec.Name] = dt
		res.Loads = append(res.Loads, dt.Load)
	}

	facts := make(map[string]*FactTable, len(plan.Facts))
	for _, f := range plan.Facts {
		ft := BuildFact(f, frame, dims, &res.Rejects)
		facts[f.Spec.Name] = ft
		res.Loads = append(res.Loads, ft.Load)
	}

	for _, d := range plan.Dependents {
		ft, ok := facts[d.Fact]
		if !ok {
			return nil, fmt.Errorf("dependent %s: fact table %q was not built", d.Spec.Name, d.Fact)
		}
		dt, err := BuildDependent(d, frame, ft)
		if err != nil {
			return nil, err
		}
		res.Loads = append(res.Loads, dt)
	}

	return res, nil
}

// BuildDimension deduplicates the frame on the dimension's natural key and
// assigns dense surrogate keys 1..N in first-occurrence order.
func BuildDimension(d Dimension, frame Frame) *DimensionTable {
	cols := make([]string, 0, len(d.Columns)+1)
	cols = append(cols, d.Surrogate)
	for _, c := range d.Columns {
		cols = append(cols, c.Target)
	}

	lookup := make(map[string]int64)
	var rows [][]any

	for _, r := range frame.Rows {
		key := tupleKey(r.V, d.KeyIdx)
		if _, seen := lookup[key]; seen {
			continue
		}
		id := int64(len(rows) + 1)
		lookup[key] = id

		out := make([]any, 0, len(cols))
		out = append(out, id)
		for _, c := range d.Columns {
			if c.SourceIdx < 0 {
				out = append(out, nil)
				continue
			}
			out = append(out, r.V[c.SourceIdx])
		}
		rows = append(rows, out)
	}

	return &DimensionTable{
		Load:   storage.TableLoad{Table: d.Spec.Name, Columns: cols, Rows: rows},
		Lookup: lookup,
	}
}

// BuildFact resolves each foreign key through its dimension lookup and
// assigns dense surrogate keys to surviving rows in surviving order.
//
// A lookup miss should not normally happen, since dimensions are derived
// from the same cleaned rows; the per-column on_missing policy guards the
// edge cases anyway. Dropped rows land in the reject report.
func BuildFact(f Fact, frame Frame, dims map[string]*DimensionTable, rejects *RejectReport) *FactTable {
	cols := make([]string, 0, len(f.Columns)+1)
	cols = append(cols, f.Surrogate)
	for _, c := range f.Columns {
		cols = append(cols, c.Target)
	}

	ft := &FactTable{Load: storage.TableLoad{Table: f.Spec.Name, Columns: cols}}

	for _, r := range frame.Rows {
		out := make([]any, len(f.Columns)+1)
		drop := false

		for i, c := range f.Columns {
			if c.Lookup == nil {
				if c.SourceIdx >= 0 {
					out[i+1] = r.V[c.SourceIdx]
				}
				continue
			}

			dim := dims[c.Lookup.Dim]
			id, ok := int64(0), false
			if dim != nil {
				id, ok = dim.Lookup[tupleKey(r.V, c.Lookup.KeyIdx)]
			}
			if !ok {
				if c.Lookup.OnMissing == "null" {
					out[i+1] = nil
					continue
				}
				rejects.add(Reject{
					Seq:    r.Seq,
					Line:   r.Line,
					Table:  f.Spec.Name,
					Column: c.Target,
					Reason: fmt.Sprintf("no %s row for key", c.Lookup.Dim),
				})
				drop = true
				break
			}
			out[i+1] = id
		}

		if drop {
			continue
		}

		out[0] = int64(len(ft.Load.Rows) + 1)
		ft.Load.Rows = append(ft.Load.Rows, out)
		ft.Seqs = append(ft.Seqs, r.Seq)
	}

	return ft
}

// BuildDependent builds a table 1:1 with the fact, joined by the stable
// source ordinal rather than by array position, so earlier fact-row drops
// cannot misalign the linkage.
func BuildDependent(d Dependent, frame Frame, fact *FactTable) (storage.TableLoad, error) {
	cols := make([]string, 0, len(d.Columns)+2)
	cols = append(cols, d.Surrogate, d.FactKey)
	for _, c := range d.Columns {
		cols = append(cols, c.Target)
	}

	load := storage.TableLoad{Table: d.Spec.Name, Columns: cols}

	for i, seq := range fact.Seqs {
		if seq < 1 || seq > len(frame.Rows) {
			return load, fmt.Errorf("dependent %s: fact row %d references seq %d outside cleaned set", d.Spec.Name, i+1, seq)
		}
		src := frame.Rows[seq-1]

		out := make([]any, 0, len(cols))
		out = append(out, int64(i+1), int64(i+1))
		// Fact surrogate of row i is i+1 by construction; the pair above is
		// (dependent id, fact id), which coincide for a 1:1 table.
		for _, c := range d.Columns {
			if c.SourceIdx < 0 {
				out = append(out, nil)
				continue
			}
			out = append(out, src.V[c.SourceIdx])
		}
		load.Rows = append(load.Rows, out)
	}

	return load, nil
}

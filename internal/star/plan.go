package star

import (
	"fmt"
	"sort"

	"healthetl/internal/storage"
	"healthetl/internal/transformer"
)

// Frame is the cleaned row set the builders consume. Rows carry their
// stable 1-based ordinal in Seq; the frame keeps rows in Seq order, so
// frame.Rows[seq-1] is the row with that ordinal.
type Frame struct {
	Columns []string
	Rows    []*transformer.Row
}

// Plan is the compiled build plan: column names resolved to integer
// indices so the builders read []any slices without per-row map lookups.
type Plan struct {
	Dimensions []Dimension
	Facts      []Fact
	Dependents []Dependent
}

// AllTables returns every table spec in dependency order:
// dimensions, then facts, then dependents.
func (p Plan) AllTables() []storage.TableSpec {
	out := make([]storage.TableSpec, 0, len(p.Dimensions)+len(p.Facts)+len(p.Dependents))
	for _, d := range p.Dimensions {
		out = append(out, d.Spec)
	}
	for _, f := range p.Facts {
		out = append(out, f.Spec)
	}
	for _, d := range p.Dependents {
		out = append(out, d.Spec)
	}
	return out
}

// Column is one target column fed from a source field.
type Column struct {
	Target    string
	SourceIdx int // -1 when the source field is absent from the frame
}

type Dimension struct {
	Spec      storage.TableSpec
	Surrogate string
	KeyIdx    []int // natural-key source indices, in config order
	Columns   []Column
}

type Fact struct {
	Spec      storage.TableSpec
	Surrogate string
	Columns   []FactColumn
}

// FactColumn is either a plain measure column or a foreign key resolved
// through a dimension lookup.
type FactColumn struct {
	Target    string
	SourceIdx int
	Lookup    *LookupRef
}

// LookupRef points a fact foreign key at a compiled dimension. KeyIdx is
// the dimension's own natural key, so fact and dimension always agree on
// the key shape.
type LookupRef struct {
	Dim       string
	KeyIdx    []int
	OnMissing string // "drop" | "null"
}

type Dependent struct {
	Spec      storage.TableSpec
	Surrogate string
	Fact      string
	FactKey   string
	Columns   []Column
}

// Compile turns table specs into an executable plan against the frame's
// canonical column order.
//
// Errors are config errors: unknown load kinds, lookups that point at
// tables not declared as dimensions, natural keys naming absent columns,
// dependents whose fact is not declared.
func Compile(tables []storage.TableSpec, columns []string) (Plan, error) {
	colIdx := make(map[string]int, len(columns))
	for i, c := range columns {
		colIdx[c] = i
	}

	dimByName := map[string]*Dimension{}
	var plan Plan

	// Dimensions first so fact lookups can reference them regardless of
	// declaration order.
	for _, t := range tables {
		if t.Load.Kind != "dimension" {
			continue
		}
		d, err := compileDimension(t, colIdx)
		if err != nil {
			return plan, err
		}
		plan.Dimensions = append(plan.Dimensions, d)
	}
	for i := range plan.Dimensions {
		dimByName[plan.Dimensions[i].Spec.Name] = &plan.Dimensions[i]
	}

	factNames := map[string]bool{}
	for _, t := range tables {
		switch t.Load.Kind {
		case "dimension":
			// handled above

		case "fact":
			f, err := compileFact(t, colIdx, dimByName)
			if err != nil {
				return plan, err
			}
			plan.Facts = append(plan.Facts, f)
			factNames[t.Name] = true

		case "dependent":
			d, err := compileDependent(t, colIdx)
			if err != nil {
				return plan, err
			}
			plan.Dependents = append(plan.Dependents, d)

		default:
			return plan, fmt.Errorf("table %s: unknown load kind %q", t.Name, t.Load.Kind)
		}
	}

	for _, d := range plan.Dependents {
		if !factNames[d.Fact] {
			return plan, fmt.Errorf("dependent %s: fact table %q not declared", d.Spec.Name, d.Fact)
		}
	}

	// Stable order within each group keeps runs deterministic even if
	// config serialization reorders tables.
	sort.SliceStable(plan.Dimensions, func(i, j int) bool { return plan.Dimensions[i].Spec.Name < plan.Dimensions[j].Spec.Name })
	sort.SliceStable(plan.Facts, func(i, j int) bool { return plan.Facts[i].Spec.Name < plan.Facts[j].Spec.Name })
	sort.SliceStable(plan.Dependents, func(i, j int) bool { return plan.Dependents[i].Spec.Name < plan.Dependents[j].Spec.Name })

	return plan, nil
}

func compileDimension(t storage.TableSpec, colIdx map[string]int) (Dimension, error) {
	d := Dimension{Spec: t, Surrogate: t.Load.SurrogateKey}
	if d.Surrogate == "" {
		return d, fmt.Errorf("dimension %s: surrogate_key is required", t.Name)
	}
	if len(t.Load.NaturalKey) == 0 {
		return d, fmt.Errorf("dimension %s: natural_key must not be empty", t.Name)
	}

	for _, k := range t.Load.NaturalKey {
		i, ok := colIdx[k]
		if !ok {
			return d, fmt.Errorf("dimension %s: natural_key field %q not in columns", t.Name, k)
		}
		d.KeyIdx = append(d.KeyIdx, i)
	}

	for _, fr := range t.Load.FromRows {
		if fr.Lookup != nil {
			return d, fmt.Errorf("dimension %s: lookups are not allowed in dimensions", t.Name)
		}
		idx := -1
		if fr.SourceField != "" {
			if i, ok := colIdx[fr.SourceField]; ok {
				idx = i
			}
		}
		d.Columns = append(d.Columns, Column{Target: fr.TargetColumn, SourceIdx: idx})
	}

	return d, nil
}

func compileFact(t storage.TableSpec, colIdx map[string]int, dims map[string]*Dimension) (Fact, error) {
	f := Fact{Spec: t, Surrogate: t.Load.SurrogateKey}
	if f.Surrogate == "" {
		return f, fmt.Errorf("fact %s: surrogate_key is required", t.Name)
	}

	for _, fr := range t.Load.FromRows {
		col := FactColumn{Target: fr.TargetColumn, SourceIdx: -1}

		if fr.Lookup != nil {
			dim, ok := dims[fr.Lookup.Table]
			if !ok {
				return f, fmt.Errorf("fact %s: column %s: lookup table %q is not a dimension", t.Name, fr.TargetColumn, fr.Lookup.Table)
			}
			onMissing := fr.Lookup.OnMissing
			if onMissing == "" {
				onMissing = "drop"
			}
			if onMissing != "drop" && onMissing != "null" {
				return f, fmt.Errorf("fact %s: column %s: unknown on_missing %q", t.Name, fr.TargetColumn, onMissing)
			}
			col.Lookup = &LookupRef{
				Dim:       dim.Spec.Name,
				KeyIdx:    dim.KeyIdx,
				OnMissing: onMissing,
			}
		} else if fr.SourceField != "" {
			if i, ok := colIdx[fr.SourceField]; ok {
				col.SourceIdx = i
			}
		}

		f.Columns = append(f.Columns, col)
	}

	return f, nil
}

func compileDependent(t storage.TableSpec, colIdx map[string]int) (Dependent, error) {
	d := Dependent{
		Spec:      t,
		Surrogate: t.Load.SurrogateKey,
		Fact:      t.Load.Fact,
		FactKey:   t.Load.FactKey,
	}
	if d.Surrogate == "" {
		return d, fmt.Errorf("dependent %s: surrogate_key is required", t.Name)
	}
	if d.Fact == "" || d.FactKey == "" {
		return d, fmt.Errorf("dependent %s: fact and fact_key are required", t.Name)
	}

	for _, fr := range t.Load.FromRows {
		if fr.Lookup != nil {
			return d, fmt.Errorf("dependent %s: lookups are not allowed in dependents", t.Name)
		}
		idx := -1
		if fr.SourceField != "" {
			if i, ok := colIdx[fr.SourceField]; ok {
				idx = i
			}
		}
		d.Columns = append(d.Columns, Column{Target: fr.TargetColumn, SourceIdx: idx})
	}

	return d, nil
}

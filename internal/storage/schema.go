// To keep the builders generic, the TableSpec types need to live in a place
// both the star builder and backend packages can import without circular deps.
package storage

// TableSpec describes one destination table and how it is populated.
type TableSpec struct {
	Name            string       `json:"name"`
	AutoCreateTable bool         `json:"auto_create_table"`
	Columns         []ColumnSpec `json:"columns"`
	Load            LoadSpec     `json:"load"`
}

type ColumnSpec struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	References string `json:"references,omitempty"`
	Nullable   *bool  `json:"nullable,omitempty"`
}

// LoadSpec drives the in-memory star-schema build for a table.
//
// Kinds:
//   - "dimension": dedupe cleaned rows on NaturalKey, assign surrogate keys
//     1..N in first-occurrence order.
//   - "fact": one row per surviving cleaned row; FromRows entries with a
//     Lookup resolve dimension surrogate keys.
//   - "dependent": one row per fact row of table Fact, joined by the stable
//     source ordinal; FactKey receives the fact surrogate key.
type LoadSpec struct {
	Kind         string        `json:"kind"`
	SurrogateKey string        `json:"surrogate_key"`
	NaturalKey   []string      `json:"natural_key,omitempty"`
	FromRows     []FromRowSpec `json:"from_rows"`

	// dependent
	Fact    string `json:"fact,omitempty"`
	FactKey string `json:"fact_key,omitempty"`
}

type FromRowSpec struct {
	TargetColumn string      `json:"target_column"`
	SourceField  string      `json:"source_field,omitempty"`
	Lookup       *LookupSpec `json:"lookup,omitempty"`
}

// LookupSpec resolves a fact foreign key through a dimension built from the
// same cleaned rows. The dimension's own NaturalKey defines the match
// fields, so fact and dimension can never disagree on the key shape.
//
// OnMissing makes the inclusion policy per foreign key explicit:
//   - "drop": the fact row is excluded when the key does not resolve.
//   - "null": the foreign key is stored as NULL and the row is kept.
type LookupSpec struct {
	Table     string `json:"table"`
	OnMissing string `json:"on_missing"` // drop | null
}

// TableLoad is one finished table handed to the loader: column order plus
// positional rows. Loads are written in slice order inside one transaction,
// so callers must order them parents-before-children.
type TableLoad struct {
	Table   string
	Columns []string
	Rows    [][]any
}

// Package inspect verifies already-loaded storage: table existence, row
// counts, referential integrity via anti-joins, and a sample analytical
// query as an end-to-end smoke test.
//
// It opens its own read-only connections through database/sql, independent
// of the loader's transaction, so it never observes a partially committed
// state. One implementation covers all backends; only ident quoting,
// catalog queries, and LIMIT syntax differ per kind.
package inspect

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sort"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"

	"healthetl/internal/storage"
)

// Relationship is one (child, parent) foreign-key pair to anti-join.
type Relationship struct {
	Label       string
	ChildTable  string
	ChildKey    string
	ParentTable string
	ParentKey   string
}

// Checks is everything the validator runs against one destination.
type Checks struct {
	RequiredTables []string
	Relationships  []Relationship

	// SampleQuery is a representative aggregate used as a smoke test;
	// optional. SampleLabel names it in the output.
	SampleQuery string
	SampleLabel string
}

// ChecksFromTables derives required tables and FK relationships from the
// same table specs the loader used, so the two can never drift apart.
func ChecksFromTables(tables []storage.TableSpec) Checks {
	var c Checks

	surrogateByTable := map[string]string{}
	for _, t := range tables {
		c.RequiredTables = append(c.RequiredTables, t.Name)
		surrogateByTable[t.Name] = t.Load.SurrogateKey
	}
	sort.Strings(c.RequiredTables)

	for _, t := range tables {
		switch t.Load.Kind {
		case "fact":
			for _, fr := range t.Load.FromRows {
				if fr.Lookup == nil {
					continue
				}
				c.Relationships = append(c.Relationships, Relationship{
					Label:       t.Name + " -> " + fr.Lookup.Table,
					ChildTable:  t.Name,
					ChildKey:    fr.TargetColumn,
					ParentTable: fr.Lookup.Table,
					ParentKey:   surrogateByTable[fr.Lookup.Table],
				})
			}
		case "dependent":
			c.Relationships = append(c.Relationships, Relationship{
				Label:       t.Name + " -> " + t.Load.Fact,
				ChildTable:  t.Name,
				ChildKey:    t.Load.FactKey,
				ParentTable: t.Load.Fact,
				ParentKey:   surrogateByTable[t.Load.Fact],
			})
		}
	}

	return c
}

// Open opens a read-only database/sql handle for the given backend kind.
func Open(ctx context.Context, kind, dsn string) (*sql.DB, error) {
	driver := ""
	switch kind {
	case "postgres":
		driver = "pgx"
	case "sqlite":
		driver = "sqlite"
	case "mssql":
		driver = "sqlserver"
	default:
		return nil, fmt.Errorf("inspect: unsupported storage kind %q", kind)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Run executes all checks, writing human-readable progress to w.
//
// Failure semantics follow the loader's taxonomy: a dead connection is
// fatal, but a failing per-table query is reported and the remaining
// checks continue. The returned error is non-nil only for fatal failures;
// found problems (missing tables, orphans) are findings, not errors.
func Run(ctx context.Context, db *sql.DB, kind string, checks Checks, w io.Writer) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("connection check failed: %w", err)
	}
	fmt.Fprintln(w, "connection ok")

	if err := checkTables(ctx, db, kind, checks.RequiredTables, w); err != nil {
		return err
	}
	printRowCounts(ctx, db, checks.RequiredTables, w)
	checkRelationships(ctx, db, kind, checks.Relationships, w)

	if checks.SampleQuery != "" {
		runSampleQuery(ctx, db, checks.SampleQuery, checks.SampleLabel, w)
	}
	return nil
}

func checkTables(ctx context.Context, db *sql.DB, kind string, required []string, w io.Writer) error {
	fmt.Fprintln(w, "\nchecking required tables...")

	q := ""
	switch kind {
	case "postgres":
		q = `SELECT table_name FROM information_schema.tables WHERE table_schema = 'public'`
	case "sqlite":
		q = `SELECT name FROM sqlite_master WHERE type = 'table'`
	case "mssql":
		q = `SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_TYPE = 'BASE TABLE'`
	default:
		return fmt.Errorf("inspect: unsupported storage kind %q", kind)
	}

	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	existing := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		existing[name] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}

	var missing []string
	for _, t := range required {
		if !existing[t] {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		fmt.Fprintf(w, "MISSING tables: %s\n", strings.Join(missing, ", "))
	} else {
		fmt.Fprintf(w, "all required tables exist: %s\n", strings.Join(required, ", "))
	}
	return nil
}

func printRowCounts(ctx context.Context, db *sql.DB, tables []string, w io.Writer) {
	fmt.Fprintln(w, "\nrow counts per table:")
	for _, t := range tables {
		var n int64
		err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+ident(t)).Scan(&n)
		if err != nil {
			// Per-table errors are reported but do not abort the rest.
			fmt.Fprintf(w, "  - %-20s ERROR: %v\n", t, err)
			continue
		}
		fmt.Fprintf(w, "  - %-20s %d rows\n", t, n)
	}
}

func checkRelationships(ctx context.Context, db *sql.DB, kind string, rels []Relationship, w io.Writer) {
	fmt.Fprintln(w, "\nchecking referential integrity...")
	for _, r := range rels {
		orphans, sample, err := antiJoin(ctx, db, kind, r)
		if err != nil {
			fmt.Fprintf(w, "  %-40s ERROR: %v\n", r.Label, err)
			continue
		}
		if orphans == 0 {
			fmt.Fprintf(w, "  %-40s ok\n", r.Label)
			continue
		}
		fmt.Fprintf(w, "  %-40s %d ORPHAN rows, sample keys: %v\n", r.Label, orphans, sample)
	}
}

// antiJoin counts child rows whose non-NULL foreign key has no matching
// parent row, and fetches a bounded sample of offending keys. A NULL
// foreign key is an allowed absence, not an orphan.
func antiJoin(ctx context.Context, db *sql.DB, kind string, r Relationship) (int64, []int64, error) {
	base := fmt.Sprintf(
		"FROM %s c LEFT JOIN %s p ON c.%s = p.%s WHERE c.%s IS NOT NULL AND p.%s IS NULL",
		ident(r.ChildTable), ident(r.ParentTable),
		ident(r.ChildKey), ident(r.ParentKey),
		ident(r.ChildKey), ident(r.ParentKey),
	)

	var count int64
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) "+base).Scan(&count); err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	sampleQ := ""
	switch kind {
	case "mssql":
		sampleQ = fmt.Sprintf("SELECT TOP 5 c.%s %s", ident(r.ChildKey), base)
	default:
		sampleQ = fmt.Sprintf("SELECT c.%s %s LIMIT 5", ident(r.ChildKey), base)
	}

	rows, err := db.QueryContext(ctx, sampleQ)
	if err != nil {
		return count, nil, err
	}
	defer rows.Close()

	var sample []int64
	for rows.Next() {
		var k int64
		if err := rows.Scan(&k); err != nil {
			return count, sample, err
		}
		sample = append(sample, k)
	}
	return count, sample, rows.Err()
}

func runSampleQuery(ctx context.Context, db *sql.DB, query, label string, w io.Writer) {
	if label == "" {
		label = "sample analytical query"
	}
	fmt.Fprintf(w, "\n%s:\n", label)

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		fmt.Fprintf(w, "  ERROR: %v\n", err)
		return
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		fmt.Fprintf(w, "  ERROR: %v\n", err)
		return
	}
	fmt.Fprintf(w, "  %s\n", strings.Join(cols, " | "))

	n := 0
	for rows.Next() {
		vals := make([]any, len(cols))
		dests := make([]any, len(cols))
		for i := range vals {
			dests[i] = &vals[i]
		}
		if err := rows.Scan(dests...); err != nil {
			fmt.Fprintf(w, "  ERROR: %v\n", err)
			return
		}
		parts := make([]string, len(vals))
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			parts[i] = fmt.Sprint(v)
		}
		fmt.Fprintf(w, "  %s\n", strings.Join(parts, " | "))
		n++
	}
	if err := rows.Err(); err != nil {
		fmt.Fprintf(w, "  ERROR: %v\n", err)
		return
	}
	if n == 0 {
		fmt.Fprintln(w, "  no data found; did ingestion run?")
	}
}

func ident(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

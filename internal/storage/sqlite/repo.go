// Package sqlite implements storage.Repository on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"healthetl/internal/storage"
)

// Repo implements storage.Repository for SQLite.
//
// Key design point vs Postgres: SQLite has no native TIMESTAMPTZ type;
// modernc.org/sqlite stores such columns with TEXT affinity. Timestamps are
// therefore bound as RFC3339Nano strings for reliable round-trip behavior
// and easy debugging.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// EnsureTables creates destination tables with create-if-not-exists
// semantics.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		if !t.AutoCreateTable {
			continue
		}
		ddl, err := buildCreateTableSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// LoadTables appends all tables inside one transaction, in slice order.
func (r *Repo) LoadTables(ctx context.Context, loads []storage.TableLoad) (map[string]int64, error) {
	counts := make(map[string]int64, len(loads))

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, l := range loads {
		n, err := insertRowsTx(ctx, tx, l)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", l.Table, err)
		}
		counts[l.Table] += n
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return counts, nil
}

// maxParams stays under SQLITE_MAX_VARIABLE_NUMBER for older builds (999).
const maxParams = 900

func insertRowsTx(ctx context.Context, tx *sql.Tx, l storage.TableLoad) (int64, error) {
	if len(l.Rows) == 0 {
		return 0, nil
	}
	if len(l.Columns) == 0 {
		return 0, fmt.Errorf("no columns")
	}

	batch := maxParams / len(l.Columns)
	if batch < 1 {
		batch = 1
	}

	colList := make([]string, 0, len(l.Columns))
	for _, c := range l.Columns {
		colList = append(colList, sqlIdent(c))
	}
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(l.Columns)), ",") + ")"

	var total int64
	for start := 0; start < len(l.Rows); start += batch {
		end := start + batch
		if end > len(l.Rows) {
			end = len(l.Rows)
		}

		var b strings.Builder
		b.WriteString("INSERT INTO ")
		b.WriteString(sqlIdent(l.Table))
		b.WriteString(" (")
		b.WriteString(strings.Join(colList, ", "))
		b.WriteString(") VALUES ")

		args := make([]any, 0, (end-start)*len(l.Columns))
		for i, row := range l.Rows[start:end] {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(placeholders)
			for _, v := range row {
				args = append(args, bindValue(v))
			}
		}

		res, err := tx.ExecContext(ctx, b.String(), args...)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// bindValue converts Go values to SQLite-friendly bindings. time.Time goes
// in as RFC3339Nano TEXT; everything else passes through.
func bindValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return v
}

func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}

	var parts []string
	for _, c := range t.Columns {
		col := fmt.Sprintf("%s %s", sqlIdent(c.Name), c.Type)
		nullable := true
		if c.Nullable != nil {
			nullable = *c.Nullable
		}
		if !nullable {
			col += " NOT NULL"
		}
		// SQLite supports REFERENCES, but enforcement depends on
		// PRAGMA foreign_keys=ON.
		if c.References != "" {
			col += " REFERENCES " + c.References
		}
		parts = append(parts, col)
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", sqlIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

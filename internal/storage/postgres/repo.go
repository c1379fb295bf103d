// Package postgres implements storage.Repository on top of pgx.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"healthetl/internal/storage"
)

// Repo implements storage.Repository for Postgres.
type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

// New creates a Postgres-backed Repo and verifies connectivity, so a bad
// DSN fails the run before any transform work starts.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

// EnsureTables creates destination tables with create-if-not-exists
// semantics, keeping startup idempotent.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		if !t.AutoCreateTable {
			continue
		}
		ddl, err := buildCreateTableSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// LoadTables appends all tables inside one transaction, in slice order.
// The deferred Rollback is a no-op after Commit; on any insert error the
// whole load disappears.
func (r *Repo) LoadTables(ctx context.Context, loads []storage.TableLoad) (map[string]int64, error) {
	counts := make(map[string]int64, len(loads))

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	for _, l := range loads {
		n, err := insertRowsTx(ctx, tx, l)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", l.Table, err)
		}
		counts[l.Table] += n
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return counts, nil
}

// maxParams keeps each INSERT comfortably under the Postgres extended
// protocol limit of 65535 bind parameters.
const maxParams = 60000

func insertRowsTx(ctx context.Context, tx pgx.Tx, l storage.TableLoad) (int64, error) {
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

	var total int64
	for start := 0; start < len(l.Rows); start += batch {
		end := start + batch
		if end > len(l.Rows) {
			end = len(l.Rows)
		}
		sql, args := buildInsertSQL(l.Table, l.Columns, l.Rows[start:end])
		cmd, err := tx.Exec(ctx, sql, args...)
		if err != nil {
			return total, err
		}
		total += cmd.RowsAffected()
	}
	return total, nil
}

// buildInsertSQL constructs a single multi-row INSERT and its args.
//
// Why this exists:
//   - It is pure and deterministic, so we can unit test correctness
//     (placeholder numbering in particular) without a database.
//
// Constraints:
//   - rows must have the same length as columns for every row.
//   - columns must be non-empty.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgIdent(table))
	b.WriteString(" (")

	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	b.WriteString(";")
	return b.String(), args
}

func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}

	var parts []string
	for _, c := range t.Columns {
		col := fmt.Sprintf("%s %s", pgIdent(c.Name), c.Type)
		nullable := true
		if c.Nullable != nil {
			nullable = *c.Nullable
		}
		if !nullable {
			col += " NOT NULL"
		}
		if c.References != "" {
			col += " REFERENCES " + c.References
		}
		parts = append(parts, col)
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", pgIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}

func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

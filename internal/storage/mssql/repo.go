// Package mssql implements storage.Repository for Microsoft SQL Server.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"healthetl/internal/storage"
)

// Repo implements storage.Repository on database/sql with the "sqlserver"
// driver.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("mssql", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	// Conservative defaults for ETL-style bursty loads.
	db.SetMaxOpenConns(64)
	db.SetMaxIdleConns(64)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// EnsureTables creates destination tables if they do not exist. SQL Server
// has no CREATE TABLE IF NOT EXISTS, so existence is checked via OBJECT_ID.
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

// maxParams respects the SQL Server limit of 2100 parameters per request.
const maxParams = 2000

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

	var total int64
	for start := 0; start < len(l.Rows); start += batch {
		end := start + batch
		if end > len(l.Rows) {
			end = len(l.Rows)
		}
		q, args := buildInsertSQL(l.Table, l.Columns, l.Rows[start:end])
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// buildInsertSQL constructs a multi-row INSERT using @pN placeholders.
// Pure and deterministic so placeholder numbering is unit-testable.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(msIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(msIdent(c))
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
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return b.String(), args
}

func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}

	var parts []string
	for _, c := range t.Columns {
		col := fmt.Sprintf("%s %s", msIdent(c.Name), mapType(c.Type))
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

	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (\n  %s\n);",
		t.Name, msIdent(t.Name), strings.Join(parts, ",\n  "),
	), nil
}

// mapType translates the config's Postgres-flavored types into SQL Server
// equivalents. Unknown types pass through unchanged.
func mapType(pgType string) string {
	switch strings.ToLower(strings.TrimSpace(pgType)) {
	case "timestamptz", "timestamp":
		return "datetime2"
	case "boolean", "bool":
		return "bit"
	case "text":
		return "nvarchar(max)"
	case "double precision":
		return "float"
	default:
		return pgType
	}
}

func msIdent(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}

package postgres

import (
	"fmt"
	"strings"
	"testing"

	"healthetl/internal/storage"
)

func TestBuildInsertSQL_PlaceholderNumbering(t *testing.T) {
	t.Parallel()

	sql, args := buildInsertSQL("patient",
		[]string{"patient_id", "name"},
		[][]any{
			{int64(1), "Ann"},
			{int64(2), "Bob"},
		})

	want := `INSERT INTO "patient" ("patient_id", "name") VALUES ($1, $2), ($3, $4);`
	if sql != want {
		t.Errorf("sql = %q, want %q", sql, want)
	}
	if len(args) != 4 || args[0] != int64(1) || args[3] != "Bob" {
		t.Errorf("args = %v", args)
	}
}

func TestBuildInsertSQL_NilValues(t *testing.T) {
	t.Parallel()

	_, args := buildInsertSQL("admission",
		[]string{"admission_id", "medication_id"},
		[][]any{{int64(1), nil}})
	if args[1] != nil {
		t.Errorf("args[1] = %v, want nil", args[1])
	}
}

func TestBuildInsertSQL_ManyRows(t *testing.T) {
	t.Parallel()

	rows := make([][]any, 100)
	for i := range rows {
		rows[i] = []any{int64(i)}
	}
	sql, args := buildInsertSQL("t", []string{"id"}, rows)
	if len(args) != 100 {
		t.Fatalf("args = %d, want 100", len(args))
	}
	if !strings.HasSuffix(sql, "($100);") {
		t.Errorf("sql does not end with last placeholder: %q", sql[len(sql)-20:])
	}
}

func TestBuildCreateTableSQL(t *testing.T) {
	t.Parallel()

	notNull := false
	sql, err := buildCreateTableSQL(storage.TableSpec{
		Name: "patient",
		Columns: []storage.ColumnSpec{
			{Name: "patient_id", Type: "bigint", Nullable: &notNull},
			{Name: "name", Type: "text"},
		},
	})
	if err != nil {
		t.Fatalf("buildCreateTableSQL() err=%v", err)
	}

	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "patient"`,
		`"patient_id" bigint NOT NULL`,
		`"name" text`,
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("sql missing %q:\n%s", want, sql)
		}
	}
}

func TestBuildCreateTableSQL_EmptyName(t *testing.T) {
	t.Parallel()

	if _, err := buildCreateTableSQL(storage.TableSpec{Name: "  "}); err == nil {
		t.Fatal("buildCreateTableSQL() err=nil, want error")
	}
}

func TestPgIdent(t *testing.T) {
	t.Parallel()

	if got := pgIdent(`weird"name`); got != `"weird""name"` {
		t.Errorf("pgIdent = %q", got)
	}
}

// TestInsertBatchSplit verifies the batch size math never exceeds the
// parameter budget and always makes progress.
func TestInsertBatchSplit(t *testing.T) {
	t.Parallel()

	cases := []struct {
		columns int
		rows    int
	}{
		{1, 1},
		{12, 10000},
		{maxParams + 5, 3}, // more columns than the budget: one row per statement
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%dx%d", tc.rows, tc.columns), func(t *testing.T) {
			t.Parallel()
			batch := maxParams / tc.columns
			if batch < 1 {
				batch = 1
			}
			statements := 0
			for start := 0; start < tc.rows; start += batch {
				statements++
				end := start + batch
				if end > tc.rows {
					end = tc.rows
				}
				if params := (end - start) * tc.columns; tc.columns <= maxParams && params > maxParams {
					t.Fatalf("statement with %d params exceeds budget", params)
				}
			}
			if statements == 0 {
				t.Fatal("no statements generated")
			}
		})
	}
}

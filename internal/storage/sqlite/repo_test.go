package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"healthetl/internal/storage"
)

func testTables() []storage.TableSpec {
	return []storage.TableSpec{
		{
			Name:            "neighborhood",
			AutoCreateTable: true,
			Columns: []storage.ColumnSpec{
				{Name: "neighborhood_id", Type: "bigint"},
				{Name: "name", Type: "text"},
			},
		},
		{
			Name:            "appointment",
			AutoCreateTable: true,
			Columns: []storage.ColumnSpec{
				{Name: "appointment_id", Type: "bigint"},
				{Name: "neighborhood_id", Type: "bigint"},
				{Name: "scheduled_day", Type: "timestamptz"},
				{Name: "no_show", Type: "text"},
			},
		},
	}
}

func newTestRepo(t *testing.T) (storage.Repository, string) {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db")
	repo, err := New(context.Background(), storage.Config{Kind: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	t.Cleanup(repo.Close)
	return repo, dsn
}

func sampleLoads(scheduled time.Time) []storage.TableLoad {
	return []storage.TableLoad{
		{
			Table:   "neighborhood",
			Columns: []string{"neighborhood_id", "name"},
			Rows:    [][]any{{int64(1), "Centro"}},
		},
		{
			Table:   "appointment",
			Columns: []string{"appointment_id", "neighborhood_id", "scheduled_day", "no_show"},
			Rows: [][]any{
				{int64(1), int64(1), scheduled, "No"},
				{int64(2), int64(1), scheduled, "Yes"},
			},
		},
	}
}

func TestRepo_EnsureAndLoad(t *testing.T) {
	t.Parallel()

	repo, dsn := newTestRepo(t)
	ctx := context.Background()

	if err := repo.EnsureTables(ctx, testTables()); err != nil {
		t.Fatalf("EnsureTables() err=%v", err)
	}

	scheduled := time.Date(2016, 4, 29, 18, 38, 8, 0, time.UTC)
	counts, err := repo.LoadTables(ctx, sampleLoads(scheduled))
	if err != nil {
		t.Fatalf("LoadTables() err=%v", err)
	}
	if counts["neighborhood"] != 1 || counts["appointment"] != 2 {
		t.Errorf("counts = %v", counts)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	var day string
	if err := db.QueryRowContext(ctx,
		`SELECT scheduled_day FROM appointment WHERE appointment_id = 1`).Scan(&day); err != nil {
		t.Fatalf("select: %v", err)
	}
	if day != "2016-04-29T18:38:08Z" {
		t.Errorf("scheduled_day = %q, want RFC3339 text", day)
	}
}

// TestRepo_RerunAppendsDuplicates documents the append-only contract:
// running the same load twice duplicates rows because surrogate keys carry
// no uniqueness constraint in the destination.
func TestRepo_QuotesTableIdents(t *testing.T) {
	t.Parallel()

	repo, _ := newTestRepo(t)
	ctx := context.Background()

	// "order" and "group" are reserved words; DDL and INSERT must quote
	// the table name the same way they quote column names.
	specs := []storage.TableSpec{{
		Name:            "order",
		AutoCreateTable: true,
		Columns: []storage.ColumnSpec{
			{Name: "order_id", Type: "bigint"},
			{Name: "group", Type: "text"},
		},
	}}
	if err := repo.EnsureTables(ctx, specs); err != nil {
		t.Fatalf("EnsureTables() err=%v", err)
	}

	counts, err := repo.LoadTables(ctx, []storage.TableLoad{{
		Table:   "order",
		Columns: []string{"order_id", "group"},
		Rows:    [][]any{{int64(1), "a"}},
	}})
	if err != nil {
		t.Fatalf("LoadTables() err=%v", err)
	}
	if counts["order"] != 1 {
		t.Errorf("counts = %v, want order=1", counts)
	}
}

func TestRepo_RerunAppendsDuplicates(t *testing.T) {
	t.Parallel()

	repo, dsn := newTestRepo(t)
	ctx := context.Background()

	if err := repo.EnsureTables(ctx, testTables()); err != nil {
		t.Fatalf("EnsureTables() err=%v", err)
	}

	scheduled := time.Now().UTC()
	for i := 0; i < 2; i++ {
		if _, err := repo.LoadTables(ctx, sampleLoads(scheduled)); err != nil {
			t.Fatalf("LoadTables() run %d err=%v", i+1, err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	var n int64
	if err := db.QueryRowContext(ctx,
		`SELECT count(*) FROM neighborhood WHERE neighborhood_id = 1`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("neighborhood id=1 rows = %d, want 2 after two runs", n)
	}
}

// TestRepo_LoadRollsBackAsOne verifies a later-table failure leaves
// earlier tables in the same call untouched.
func TestRepo_LoadRollsBackAsOne(t *testing.T) {
	t.Parallel()

	repo, dsn := newTestRepo(t)
	ctx := context.Background()

	if err := repo.EnsureTables(ctx, testTables()); err != nil {
		t.Fatalf("EnsureTables() err=%v", err)
	}

	_, err := repo.LoadTables(ctx, []storage.TableLoad{
		{
			Table:   "neighborhood",
			Columns: []string{"neighborhood_id", "name"},
			Rows:    [][]any{{int64(1), "Centro"}},
		},
		{
			Table:   "no_such_table",
			Columns: []string{"x"},
			Rows:    [][]any{{int64(1)}},
		},
	})
	if err == nil {
		t.Fatal("LoadTables() err=nil, want failure")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	var n int64
	if err := db.QueryRowContext(ctx, `SELECT count(*) FROM neighborhood`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("neighborhood rows = %d, want 0 after rollback", n)
	}
}

// TestRepo_BatchSplit loads more rows than fit in one statement's
// parameter budget.
func TestRepo_BatchSplit(t *testing.T) {
	t.Parallel()

	repo, dsn := newTestRepo(t)
	ctx := context.Background()

	if err := repo.EnsureTables(ctx, testTables()); err != nil {
		t.Fatalf("EnsureTables() err=%v", err)
	}

	rows := make([][]any, 1500)
	for i := range rows {
		rows[i] = []any{int64(i + 1), "n"}
	}
	counts, err := repo.LoadTables(ctx, []storage.TableLoad{
		{Table: "neighborhood", Columns: []string{"neighborhood_id", "name"}, Rows: rows},
	})
	if err != nil {
		t.Fatalf("LoadTables() err=%v", err)
	}
	if counts["neighborhood"] != 1500 {
		t.Errorf("count = %d, want 1500", counts["neighborhood"])
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	var n int64
	if err := db.QueryRowContext(ctx, `SELECT count(*) FROM neighborhood`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1500 {
		t.Errorf("rows = %d, want 1500", n)
	}
}

func TestBindValue(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 5, 1, 12, 30, 0, 0, time.FixedZone("X", 3600))
	if got := bindValue(ts); got != "2024-05-01T11:30:00Z" {
		t.Errorf("bindValue(time) = %v, want UTC RFC3339", got)
	}
	if got := bindValue(int64(7)); got != int64(7) {
		t.Errorf("bindValue(int64) = %v", got)
	}
	if got := bindValue(nil); got != nil {
		t.Errorf("bindValue(nil) = %v", got)
	}
}

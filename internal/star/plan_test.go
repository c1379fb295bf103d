package star

import (
	"strings"
	"testing"

	"healthetl/internal/storage"
)

// TestCompile_ResolvesIndices verifies column names resolve to frame
// indices and that fact lookups inherit the dimension's natural key.
func TestCompile_ResolvesIndices(t *testing.T) {
	t.Parallel()

	plan, err := Compile(testTables(), testColumns)
	if err != nil {
		t.Fatalf("Compile() err=%v", err)
	}

	if len(plan.Dimensions) != 2 || len(plan.Facts) != 1 || len(plan.Dependents) != 1 {
		t.Fatalf("plan shape = %d/%d/%d dims/facts/deps", len(plan.Dimensions), len(plan.Facts), len(plan.Dependents))
	}

	// Sorted by name: hospital before patient.
	hospital := plan.Dimensions[0]
	if hospital.Spec.Name != "hospital" {
		t.Fatalf("first dimension = %s, want hospital", hospital.Spec.Name)
	}
	if len(hospital.KeyIdx) != 1 || hospital.KeyIdx[0] != 2 {
		t.Errorf("hospital KeyIdx = %v, want [2]", hospital.KeyIdx)
	}

	fact := plan.Facts[0]
	patientFK := fact.Columns[0]
	if patientFK.Lookup == nil {
		t.Fatal("patient_id column has no lookup")
	}
	patient := plan.Dimensions[1]
	if len(patientFK.Lookup.KeyIdx) != len(patient.KeyIdx) {
		t.Errorf("lookup key shape %v != dimension key shape %v", patientFK.Lookup.KeyIdx, patient.KeyIdx)
	}
	if patientFK.Lookup.OnMissing != "drop" {
		t.Errorf("on_missing = %q, want drop", patientFK.Lookup.OnMissing)
	}
}

// TestCompile_OnMissingDefaultsToDrop verifies an absent on_missing means
// drop.
func TestCompile_OnMissingDefaultsToDrop(t *testing.T) {
	t.Parallel()

	tables := testTables()
	tables[2].Load.FromRows[0].Lookup.OnMissing = ""
	plan, err := Compile(tables, testColumns)
	if err != nil {
		t.Fatalf("Compile() err=%v", err)
	}
	if got := plan.Facts[0].Columns[0].Lookup.OnMissing; got != "drop" {
		t.Errorf("on_missing = %q, want drop", got)
	}
}

// TestCompile_AbsentSourceField verifies a from_rows source missing from
// the frame compiles to a NULL column instead of failing the run.
func TestCompile_AbsentSourceField(t *testing.T) {
	t.Parallel()

	tables := []storage.TableSpec{
		dimSpec("hospital", "hospital_id", []string{"hospital"},
			col("hospital_name", "hospital"),
			col("region", "region")),
	}
	plan, err := Compile(tables, testColumns)
	if err != nil {
		t.Fatalf("Compile() err=%v", err)
	}
	if got := plan.Dimensions[0].Columns[1].SourceIdx; got != -1 {
		t.Errorf("absent source idx = %d, want -1", got)
	}
}

func TestCompile_ConfigErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(tables []storage.TableSpec)
		wantSub string
	}{
		{
			name:    "unknown load kind",
			mutate:  func(ts []storage.TableSpec) { ts[0].Load.Kind = "snowflake" },
			wantSub: "unknown load kind",
		},
		{
			name:    "dimension without surrogate",
			mutate:  func(ts []storage.TableSpec) { ts[0].Load.SurrogateKey = "" },
			wantSub: "surrogate_key",
		},
		{
			name:    "dimension without natural key",
			mutate:  func(ts []storage.TableSpec) { ts[0].Load.NaturalKey = nil },
			wantSub: "natural_key",
		},
		{
			name:    "natural key not in columns",
			mutate:  func(ts []storage.TableSpec) { ts[0].Load.NaturalKey = []string{"ssn"} },
			wantSub: "not in columns",
		},
		{
			name:    "lookup at non-dimension",
			mutate:  func(ts []storage.TableSpec) { ts[2].Load.FromRows[0].Lookup.Table = "test_result" },
			wantSub: "not a dimension",
		},
		{
			name:    "bad on_missing",
			mutate:  func(ts []storage.TableSpec) { ts[2].Load.FromRows[0].Lookup.OnMissing = "ignore" },
			wantSub: "on_missing",
		},
		{
			name:    "dependent without fact",
			mutate:  func(ts []storage.TableSpec) { ts[3].Load.Fact = "" },
			wantSub: "fact",
		},
		{
			name:    "dependent at undeclared fact",
			mutate:  func(ts []storage.TableSpec) { ts[3].Load.Fact = "visit" },
			wantSub: "not declared",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tables := testTables()
			tc.mutate(tables)
			_, err := Compile(tables, testColumns)
			if err == nil {
				t.Fatalf("Compile() err=nil, want error containing %q", tc.wantSub)
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("err=%q, want substring %q", err, tc.wantSub)
			}
		})
	}
}

// TestAllTables_DependencyOrder verifies dimensions come before facts and
// facts before dependents regardless of config order.
func TestAllTables_DependencyOrder(t *testing.T) {
	t.Parallel()

	tables := testTables()
	// Reverse declaration order.
	for i, j := 0, len(tables)-1; i < j; i, j = i+1, j-1 {
		tables[i], tables[j] = tables[j], tables[i]
	}

	plan, err := Compile(tables, testColumns)
	if err != nil {
		t.Fatalf("Compile() err=%v", err)
	}

	var names []string
	for _, ts := range plan.AllTables() {
		names = append(names, ts.Name)
	}
	want := []string{"hospital", "patient", "admission", "test_result"}
	for i, n := range want {
		if names[i] != n {
			t.Fatalf("order = %v, want %v", names, want)
		}
	}
}

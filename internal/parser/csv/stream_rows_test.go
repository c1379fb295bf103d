package csv

import (
	"context"
	"io"
	"reflect"
	"strings"
	"testing"

	"healthetl/internal/config"
	"healthetl/internal/transformer"
)

func collectRows(t *testing.T, input string, columns []string, opt config.Options) ([][]any, []int, error) {
	t.Helper()

	out := make(chan *transformer.Row, 64)
	var errLines []int
	err := StreamRows(
		context.Background(),
		io.NopCloser(strings.NewReader(input)),
		columns,
		opt,
		out,
		func(line int, err error) { errLines = append(errLines, line) },
	)
	close(out)

	var rows [][]any
	for r := range out {
		rows = append(rows, append([]any(nil), r.V...))
		r.Free()
	}
	return rows, errLines, err
}

// TestStreamRows_HeaderMapping verifies header_map renames and the
// lower-snake-case passthrough for unmapped headers.
func TestStreamRows_HeaderMapping(t *testing.T) {
	t.Parallel()

	input := "Name,Age,Blood Type\nAnn,30,O+\n"
	columns := []string{"patient_name", "age", "blood_type"}
	opt := config.Options{
		"header_map": map[string]any{"Name": "patient_name"},
		// "Age" -> age and "Blood Type" -> blood_type via passthrough.
	}

	rows, errLines, err := collectRows(t, input, columns, opt)
	if err != nil {
		t.Fatalf("StreamRows() err=%v", err)
	}
	if len(errLines) != 0 {
		t.Fatalf("parse errors at lines %v", errLines)
	}
	want := [][]any{{"Ann", "30", "O+"}}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("rows = %v, want %v", rows, want)
	}
}

// TestStreamRows_TrimAndNil verifies whitespace trimming and the
// empty-string-to-nil rule.
func TestStreamRows_TrimAndNil(t *testing.T) {
	t.Parallel()

	input := "name,age\n  Ann  ,\n"
	rows, _, err := collectRows(t, input, []string{"name", "age"}, config.Options{})
	if err != nil {
		t.Fatalf("StreamRows() err=%v", err)
	}
	want := [][]any{{"Ann", nil}}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("rows = %v, want %v", rows, want)
	}
}

// TestStreamRows_MissingColumnIsNil verifies a configured column absent
// from the source yields nil for every row instead of failing.
func TestStreamRows_MissingColumnIsNil(t *testing.T) {
	t.Parallel()

	input := "name\nAnn\n"
	rows, _, err := collectRows(t, input, []string{"name", "age"}, config.Options{})
	if err != nil {
		t.Fatalf("StreamRows() err=%v", err)
	}
	want := [][]any{{"Ann", nil}}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("rows = %v, want %v", rows, want)
	}
}

// TestStreamRows_MalformedRecordSkipped verifies a bad record is reported
// and skipped while the stream continues.
func TestStreamRows_MalformedRecordSkipped(t *testing.T) {
	t.Parallel()

	input := "name,age\nAnn,30\n\"broken,41\nBob,50\n"
	rows, errLines, err := collectRows(t, input, []string{"name", "age"},
		config.Options{"fields_per_record": 2})
	if err != nil {
		t.Fatalf("StreamRows() err=%v", err)
	}
	if len(errLines) == 0 {
		t.Fatal("expected a parse error for the unterminated quote")
	}
	if len(rows) < 1 || rows[0][0] != "Ann" {
		t.Errorf("rows = %v, want first row Ann", rows)
	}
}

// TestStreamRows_UTF8BOM verifies the BOM never leaks into the first
// header name.
func TestStreamRows_UTF8BOM(t *testing.T) {
	t.Parallel()

	input := "\xef\xbb\xbfname,age\nAnn,30\n"
	rows, _, err := collectRows(t, input, []string{"name", "age"}, config.Options{})
	if err != nil {
		t.Fatalf("StreamRows() err=%v", err)
	}
	want := [][]any{{"Ann", "30"}}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("rows = %v, want %v", rows, want)
	}
}

// TestStreamRows_CustomDelimiter verifies the comma option.
func TestStreamRows_CustomDelimiter(t *testing.T) {
	t.Parallel()

	input := "name;age\nAnn;30\n"
	rows, _, err := collectRows(t, input, []string{"name", "age"},
		config.Options{"comma": ";"})
	if err != nil {
		t.Fatalf("StreamRows() err=%v", err)
	}
	want := [][]any{{"Ann", "30"}}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("rows = %v, want %v", rows, want)
	}
}

// TestStreamRows_NoHeader verifies positional mapping when has_header is
// false.
func TestStreamRows_NoHeader(t *testing.T) {
	t.Parallel()

	input := "Ann,30\nBob,41\n"
	rows, _, err := collectRows(t, input, []string{"name", "age"},
		config.Options{"has_header": false})
	if err != nil {
		t.Fatalf("StreamRows() err=%v", err)
	}
	want := [][]any{{"Ann", "30"}, {"Bob", "41"}}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("rows = %v, want %v", rows, want)
	}
}

// TestStreamRows_NoHeaderDeclaredColumns verifies that a headerless file
// with a declared column order maps fields by name, not position, so the
// target order may differ from the file order.
func TestStreamRows_NoHeaderDeclaredColumns(t *testing.T) {
	t.Parallel()

	input := "62,Ann\n56,Bob\n"
	rows, _, err := collectRows(t, input, []string{"name", "age"},
		config.Options{
			"has_header": false,
			"columns":    []any{"Age", "Name"},
		})
	if err != nil {
		t.Fatalf("StreamRows() err=%v", err)
	}
	want := [][]any{{"Ann", "62"}, {"Bob", "56"}}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("rows = %v, want %v", rows, want)
	}
}

// TestStreamRows_Cancellation verifies the reader stops and returns the
// context error.
func TestStreamRows_Cancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := make(chan *transformer.Row) // unbuffered, nobody reads
	err := StreamRows(ctx, io.NopCloser(strings.NewReader("name\nAnn\nBob\n")),
		[]string{"name"}, config.Options{}, out, nil)
	if err == nil {
		t.Fatal("StreamRows() err=nil, want context error")
	}
}

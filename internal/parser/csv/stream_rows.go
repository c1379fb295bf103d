// Package csv streams delimited source files into pooled positional rows
// aligned to a canonical column order.
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"healthetl/internal/config"
	"healthetl/internal/transformer"
)

// StreamRows streams a delimited file into pooled *transformer.Row objects
// aligned to the target 'columns' order.
//
// Header handling:
//   - Source headers present in the header_map option are renamed to their
//     canonical names.
//   - Unmapped headers pass through lower-snake-cased, so extra source
//     columns stay addressable without config churn.
//   - With has_header=false, the "columns" option supplies the file's
//     column order; without it, file columns are taken to align 1:1
//     with the target order.
//
// NOTE on cancellation:
// On ctx cancellation we must NOT return in-flight rows to the pool (Drop
// instead), otherwise the parser can reuse them immediately while
// downstream drain-safe stages still read them.
func StreamRows(
	ctx context.Context,
	src io.ReadCloser,
	columns []string,
	opt config.Options,
	out chan<- *transformer.Row,
	onErr func(line int, err error),
) error {
	defer src.Close()

	var line int

	hasHeader := opt.Bool("has_header", true)
	comma := opt.Rune("comma", ',')
	trim := opt.Bool("trim_space", true)
	hm := opt.StringMap("header_map")
	lazy := opt.Bool("lazy_quotes", false)
	fieldsPer := opt.Int("fields_per_record", 0)

	r, _, err := DecodeReader(src)
	if err != nil {
		if onErr != nil {
			onErr(0, fmt.Errorf("detect encoding: %w", err))
		}
		return err
	}

	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.ReuseRecord = true
	cr.LazyQuotes = lazy
	if fieldsPer != 0 {
		cr.FieldsPerRecord = fieldsPer
	} else {
		cr.FieldsPerRecord = -1
	}

	colIx := make([]int, len(columns))
	for i := range colIx {
		colIx[i] = -1
	}

	readRec := func() ([]string, error) {
		line++
		return cr.Read()
	}

	mapHeader := func(hdr []string) {
		srcToIdx := make(map[string]int, len(hdr))
		for i, h := range hdr {
			if transformer.HasEdgeSpace(h) {
				h = strings.TrimSpace(h)
			}
			if mapped, ok := hm[h]; ok {
				h = mapped
			} else {
				h = strings.ReplaceAll(strings.ToLower(h), " ", "_")
			}
			srcToIdx[h] = i
		}
		for t, target := range columns {
			if si, ok := srcToIdx[target]; ok {
				colIx[t] = si
			}
		}
	}

	if hasHeader {
		hdr, err := readRec()
		if err != nil {
			if onErr != nil {
				onErr(line, fmt.Errorf("read header: %w", err))
			}
			return err
		}
		mapHeader(hdr)
	} else if fileCols := opt.StringSlice("columns"); len(fileCols) > 0 {
		// Headerless files declare their column order in the "columns"
		// option; the names go through the same rename rules as a real
		// header row.
		mapHeader(fileCols)
	} else {
		// No header and no declared order: file columns align 1:1 with
		// the target order.
		for i := range columns {
			colIx[i] = i
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := readRec()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if onErr != nil {
				onErr(line, fmt.Errorf("csv read: %w", err))
			}
			continue
		}

		row := transformer.GetRow(len(columns))
		row.Line = line

		for t := range columns {
			si := colIx[t]
			if si < 0 || si >= len(rec) {
				row.V[t] = nil
				continue
			}
			v := rec[si]
			if trim && transformer.HasEdgeSpace(v) {
				v = strings.TrimSpace(v)
			}
			if v == "" {
				row.V[t] = nil
			} else {
				row.V[t] = v
			}
		}

		select {
		case out <- row:
		case <-ctx.Done():
			// IMPORTANT: do not re-pool on cancellation
			row.Drop()
			return ctx.Err()
		}
	}
}

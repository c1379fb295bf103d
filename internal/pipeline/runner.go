package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"healthetl/internal/metrics"
	"healthetl/internal/parser/csv"
	"healthetl/internal/star"
	"healthetl/internal/storage"
	"healthetl/internal/transformer"
)

// Logger is the minimal logging interface used by the runner.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Runner executes one configured ingestion end to end: stream the source
// file, clean rows, build the star schema in memory, and load everything
// in a single transaction.
type Runner struct {
	Logger  Logger
	Metrics metrics.Backend

	// storage-agnostic factory seam
	NewRepository func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
}

func NewDefaultRunner() *Runner {
	return &Runner{
		Metrics:       metrics.Nop{},
		NewRepository: storage.New,
	}
}

func (r *Runner) logf() func(format string, v ...any) {
	if r.Logger == nil {
		l := log.Default()
		return l.Printf
	}
	return r.Logger.Printf
}

func (r *Runner) metrics() metrics.Backend {
	if r.Metrics == nil {
		return metrics.Nop{}
	}
	return r.Metrics
}

// Run executes the pipeline and returns the per-run accounting. A non-nil
// report is returned only on success; on any error nothing has been
// committed to storage.
func (r *Runner) Run(ctx context.Context, cfg Pipeline) (*RunReport, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	logf := r.logf()
	mb := r.metrics()
	runStart := time.Now()

	// Derive canonical input fields from config (no hardcoding).
	columns := requiredInputColumns(cfg)

	cleaner, err := transformer.NewCleaner(columns, cfg.Clean)
	if err != nil {
		return nil, err
	}

	plan, err := star.Compile(cfg.Storage.DB.Tables, columns)
	if err != nil {
		return nil, err
	}

	// Connect before streaming so a bad DSN fails fast.
	repo, err := r.NewRepository(ctx, storage.Config{
		Kind: cfg.Storage.Kind,
		DSN:  os.ExpandEnv(cfg.Storage.DB.DSN),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	defer repo.Close()

	rep := &RunReport{Job: cfg.Job}

	cleanStart := time.Now()
	frame, err := r.streamAndCollect(ctx, cfg, columns, cleaner, rep)
	if err != nil {
		freeRows(frame.Rows)
		return nil, err
	}
	cleanDur := time.Since(cleanStart)
	mb.Duration("ingest.clean", cleanDur)
	logf("stage=clean ok rows_read=%d rows_kept=%d parse_errors=%d dropped=%d duration=%s",
		rep.RowsRead, rep.RowsKept, rep.ParseErrors, rep.DroppedTotal(), cleanDur.Truncate(time.Millisecond))

	buildStart := time.Now()
	res, err := star.Build(plan, frame)
	freeRows(frame.Rows)
	if err != nil {
		return nil, err
	}
	rep.Rejects = res.Rejects
	buildDur := time.Since(buildStart)
	mb.Duration("ingest.build", buildDur)
	logf("stage=build ok tables=%d rejected=%d duration=%s",
		len(res.Loads), res.Rejects.Total(), buildDur.Truncate(time.Millisecond))
	if cfg.Runtime.DebugTimings {
		for _, l := range res.Loads {
			logf("stage=build table=%s rows=%d", l.Table, len(l.Rows))
		}
	}

	ddlStart := time.Now()
	if err := repo.EnsureTables(ctx, plan.AllTables()); err != nil {
		return nil, fmt.Errorf("ensure tables: %w", err)
	}
	logf("stage=ddl ok duration=%s", time.Since(ddlStart).Truncate(time.Millisecond))

	loadStart := time.Now()
	loaded, err := repo.LoadTables(ctx, res.Loads)
	if err != nil {
		return nil, fmt.Errorf("load tables: %w", err)
	}
	rep.Loaded = loaded
	loadDur := time.Since(loadStart)
	mb.Duration("ingest.load", loadDur)
	logf("stage=load ok tables=%d duration=%s", len(loaded), loadDur.Truncate(time.Millisecond))

	rep.Duration = time.Since(runStart)
	emitCounts(mb, rep)
	mb.Duration("ingest.run", rep.Duration)

	return rep, nil
}

// streamAndCollect runs the CSV reader and the cleaner as a small
// goroutine stack and collects surviving rows into a frame. Each kept row
// gets its stable 1-based ordinal in Seq at collection time; the star
// builders join dependents to facts through that ordinal.
func (r *Runner) streamAndCollect(ctx context.Context, cfg Pipeline, columns []string, cleaner *transformer.Cleaner, rep *RunReport) (star.Frame, error) {
	frame := star.Frame{Columns: columns}

	f, err := os.Open(cfg.Source.File.Path)
	if err != nil {
		return frame, fmt.Errorf("open source: %w", err)
	}
	// StreamRows closes f.

	buf := cfg.Runtime.ChannelBuffer
	if buf <= 0 {
		buf = 256
	}

	rawCh := make(chan *transformer.Row, buf)
	tapCh := make(chan *transformer.Row, buf)
	cleanCh := make(chan *transformer.Row, buf)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Parse errors on individual records are counted and skipped; only
	// structural failures (unreadable header, encoding) abort the run.
	var streamErr error
	onParseErr := func(line int, err error) {
		rep.ParseErrors++
	}

	var wgReader sync.WaitGroup
	wgReader.Add(1)
	go func() {
		defer wgReader.Done()
		defer close(rawCh)
		streamErr = csv.StreamRows(ctx, f, columns, cfg.Parser.Options, rawCh, onParseErr)
	}()

	// Tap: counts rows entering the cleaner.
	var wgTap sync.WaitGroup
	wgTap.Add(1)
	go func() {
		defer wgTap.Done()
		defer close(tapCh)
		for row := range rawCh {
			rep.RowsRead++
			select {
			case tapCh <- row:
			case <-ctx.Done():
				row.Drop()
				return
			}
		}
	}()

	var wgClean sync.WaitGroup
	wgClean.Add(1)
	go func() {
		defer wgClean.Done()
		transformer.CleanLoopRows(ctx, cleaner, tapCh, cleanCh, func(line int, rule string) {
			rep.addDrop(rule)
		})
	}()

	for row := range cleanCh {
		row.Seq = len(frame.Rows) + 1
		frame.Rows = append(frame.Rows, row)
	}
	rep.RowsKept = len(frame.Rows)

	wgReader.Wait()
	wgTap.Wait()
	wgClean.Wait()

	if streamErr != nil && !errors.Is(streamErr, context.Canceled) {
		return frame, streamErr
	}
	if err := ctx.Err(); err != nil {
		return frame, err
	}
	return frame, nil
}

func emitCounts(mb metrics.Backend, rep *RunReport) {
	mb.Count("ingest.rows.read", float64(rep.RowsRead))
	mb.Count("ingest.rows.kept", float64(rep.RowsKept))
	mb.Count("ingest.rows.dropped", float64(rep.DroppedTotal()))
	mb.Count("ingest.rows.rejected", float64(rep.Rejects.Total()))
	mb.Count("ingest.parse_errors", float64(rep.ParseErrors))
	for table, n := range rep.Loaded {
		mb.Count("ingest.rows.loaded", float64(n), "table:"+table)
	}
}

func freeRows(rows []*transformer.Row) {
	for _, r := range rows {
		r.Free()
	}
}

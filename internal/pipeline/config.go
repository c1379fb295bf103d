package pipeline

import (
	"fmt"
	"sort"

	"healthetl/internal/config"
	"healthetl/internal/storage"
	"healthetl/internal/transformer"
)

// Pipeline is the full JSON config for one ingestion run. One config file
// describes one source file and one destination star schema; running a
// dataset with a different shape means writing a different config, not
// different code.
type Pipeline struct {
	Job     string                `json:"job"`
	Source  Source                `json:"source"`
	Parser  Parser                `json:"parser"`
	Clean   transformer.CleanSpec `json:"clean"`
	Storage Storage               `json:"storage"`
	Metrics Metrics               `json:"metrics"`
	Inspect Inspect               `json:"inspect"`
	Runtime RuntimeConfig         `json:"runtime"`
}

type Source struct {
	Kind string      `json:"kind"`
	File *FileSource `json:"file,omitempty"`
}

type FileSource struct {
	Path string `json:"path"`
}

type Parser struct {
	Kind    string         `json:"kind"`
	Options config.Options `json:"options"`
}

type Storage struct {
	// Backend kind: "postgres" | "mssql" | "sqlite"
	Kind string `json:"kind"`
	DB   DB     `json:"db"`
}

type DB struct {
	// DSN may reference environment variables ($PGPASSWORD etc.); the
	// runner expands them before connecting.
	DSN string `json:"dsn"`

	// Tables + load rules consumed by the star builder and the backends.
	Tables []storage.TableSpec `json:"tables"`
}

// Metrics selects the metrics backend. Kind "" or "nop" disables emission;
// "datadog" submits to Datadog using DD_API_KEY from the environment.
type Metrics struct {
	Kind         string   `json:"kind"`
	Tags         []string `json:"tags,omitempty"`
	FlushSeconds int      `json:"flush_seconds,omitempty"`
}

// Inspect configures the post-load validator (cmd/checkdb). Required
// tables and FK relationships are derived from Storage.DB.Tables; only the
// optional sample aggregate is configured here.
type Inspect struct {
	SampleQuery string `json:"sample_query,omitempty"`
	SampleLabel string `json:"sample_label,omitempty"`
}

// RuntimeConfig controls pipeline execution behavior.
type RuntimeConfig struct {
	ChannelBuffer int `json:"channel_buffer"`

	// DebugTimings enables per-stage duration logs.
	DebugTimings bool `json:"debug_timings"`
}

func validateConfig(cfg Pipeline) error {
	if cfg.Source.Kind != "file" || cfg.Source.File == nil || cfg.Source.File.Path == "" {
		return fmt.Errorf("source.kind=file and source.file.path are required")
	}
	if cfg.Parser.Kind != "csv" {
		return fmt.Errorf("parser.kind must be csv")
	}
	// The cleaned frame's column order is derived, not file order, so a
	// headerless file must declare its own column order.
	if !cfg.Parser.Options.Bool("has_header", true) &&
		len(cfg.Parser.Options.StringSlice("columns")) == 0 {
		return fmt.Errorf("parser.options.columns is required when has_header is false")
	}
	if cfg.Storage.Kind == "" {
		return fmt.Errorf("storage.kind must be set")
	}
	if cfg.Storage.DB.DSN == "" {
		return fmt.Errorf("storage.db.dsn must be set")
	}
	if len(cfg.Storage.DB.Tables) == 0 {
		return fmt.Errorf("storage.db.tables must not be empty")
	}
	return nil
}

// requiredInputColumns derives the canonical field set the cleaned frame
// must carry, so nothing is hardcoded per dataset. It includes fields
// referenced by:
//   - storage.db.tables[].load.from_rows source fields
//   - dimension natural keys
//   - clean.coerce columns and clean.filters columns
func requiredInputColumns(cfg Pipeline) []string {
	set := map[string]struct{}{}

	for _, t := range cfg.Storage.DB.Tables {
		for _, fr := range t.Load.FromRows {
			if fr.SourceField != "" {
				set[fr.SourceField] = struct{}{}
			}
		}
		for _, k := range t.Load.NaturalKey {
			set[k] = struct{}{}
		}
	}

	for _, co := range cfg.Clean.Coerce {
		if co.Column != "" {
			set[co.Column] = struct{}{}
		}
	}
	for _, f := range cfg.Clean.Filters {
		if f.Column != "" {
			set[f.Column] = struct{}{}
		}
	}

	cols := make([]string, 0, len(set))
	for c := range set {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

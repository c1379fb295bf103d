// Command checkdb validates an already-loaded destination against the
// same pipeline config the loader used: table existence, row counts,
// referential integrity, and the configured sample aggregate.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"healthetl/internal/inspect"
	"healthetl/internal/pipeline"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to pipeline config JSON")
	flag.Parse()

	if cfgPath == "" {
		fmt.Fprintln(os.Stderr, "usage: checkdb -config path/to/pipeline.json")
		os.Exit(2)
	}

	raw, err := os.ReadFile(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read config: %v\n", err)
		os.Exit(1)
	}

	var cfg pipeline.Pipeline
	if err := json.Unmarshal(raw, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "parse config: %v\n", err)
		os.Exit(1)
	}

	checks := inspect.ChecksFromTables(cfg.Storage.DB.Tables)
	checks.SampleQuery = cfg.Inspect.SampleQuery
	checks.SampleLabel = cfg.Inspect.SampleLabel

	ctx := context.Background()

	db, err := inspect.Open(ctx, cfg.Storage.Kind, os.ExpandEnv(cfg.Storage.DB.DSN))
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := inspect.Run(ctx, db, cfg.Storage.Kind, checks, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "check: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("ok")
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"healthetl/internal/metrics"
	"healthetl/internal/metrics/datadog"
	"healthetl/internal/pipeline"
	_ "healthetl/internal/storage/all"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to pipeline config JSON")
	flag.Parse()

	if cfgPath == "" {
		fmt.Fprintln(os.Stderr, "usage: ingest -config path/to/pipeline.json")
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

	ctx := context.Background()

	mb, err := newMetricsBackend(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "metrics: %v\n", err)
		os.Exit(1)
	}

	r := pipeline.NewDefaultRunner()
	r.Logger = log.New(os.Stderr, "", log.LstdFlags)
	r.Metrics = mb

	rep, err := r.Run(ctx, cfg)
	closeErr := mb.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		os.Exit(1)
	}
	if closeErr != nil {
		fmt.Fprintf(os.Stderr, "metrics flush: %v\n", closeErr)
	}

	rep.Write(os.Stdout)
}

func newMetricsBackend(ctx context.Context, cfg pipeline.Pipeline) (metrics.Backend, error) {
	switch cfg.Metrics.Kind {
	case "", "nop":
		return metrics.Nop{}, nil
	case "datadog":
		return datadog.NewBackend(ctx, datadog.Options{
			JobName:    cfg.Job,
			Tags:       cfg.Metrics.Tags,
			FlushEvery: time.Duration(cfg.Metrics.FlushSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("unknown metrics kind %q", cfg.Metrics.Kind)
	}
}

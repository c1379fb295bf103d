// Package metrics defines the minimal metrics surface the pipeline emits.
// The core depends only on Backend; concrete backends live in subpackages.
package metrics

import "time"

// Backend receives pipeline counters and stage durations.
//
// Implementations must be safe for concurrent use. Emitting metrics must
// never fail a run; backends swallow transport errors until Flush/Close.
type Backend interface {
	// Count adds delta to a named counter (e.g. "pipeline.rows.read").
	Count(name string, delta float64, tags ...string)

	// Duration records one stage duration (e.g. "pipeline.stage.duration"
	// with tag "stage:load").
	Duration(name string, d time.Duration, tags ...string)

	// Flush submits buffered metrics now.
	Flush() error

	// Close flushes once more and releases backend resources.
	Close() error
}

// Nop is the default backend: it discards everything.
type Nop struct{}

func (Nop) Count(string, float64, ...string)        {}
func (Nop) Duration(string, time.Duration, ...string) {}
func (Nop) Flush() error                            { return nil }
func (Nop) Close() error                            { return nil }

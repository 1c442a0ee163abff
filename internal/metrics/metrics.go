// Package metrics is the backend-agnostic metrics facade. Pipeline code
// records through the package functions; main installs a concrete backend
// (or leaves the no-op one in place).
package metrics

import (
	"sync"
	"time"
)

// Metric names recorded by the pipeline.
const (
	FilesTotal          = "pipeline_files_total"
	RowsTotal           = "pipeline_rows_total"
	FileDurationSeconds = "pipeline_file_duration_seconds"
)

// Phases.
const (
	PhaseStage  = "stage"
	PhaseIngest = "ingest"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric observations.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b; nil restores the no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush pushes buffered observations, if the backend buffers.
func Flush() error {
	return current().Flush()
}

// RecordFile counts one processed file and its duration.
func RecordFile(phase, status string, d time.Duration) {
	l := Labels{"phase": phase, "status": status}
	IncCounter(FilesTotal, 1, l)
	ObserveHistogram(FileDurationSeconds, d.Seconds(), l)
}

// AddRows counts rows loaded into table.
func AddRows(table string, n int64) {
	if n <= 0 {
		return
	}
	IncCounter(RowsTotal, float64(n), Labels{"table": table})
}

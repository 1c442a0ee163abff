package metrics

import (
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu       sync.Mutex
	counters map[string]float64
	hists    map[string][]float64
	flushes  int
}

func newRecorder() *recorder {
	return &recorder{counters: map[string]float64{}, hists: map[string][]float64{}}
}

func (r *recorder) IncCounter(name string, delta float64, l Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name+"|"+l["phase"]+"|"+l["status"]+"|"+l["table"]] += delta
}

func (r *recorder) ObserveHistogram(name string, v float64, l Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hists[name] = append(r.hists[name], v)
}

func (r *recorder) Flush() error {
	r.flushes++
	return nil
}

// Not parallel: swaps the package-level backend.
func TestFacadeRoutesToBackend(t *testing.T) {
	rec := newRecorder()
	SetBackend(rec)
	defer SetBackend(nil)

	RecordFile(PhaseStage, "success", 1500*time.Millisecond)
	RecordFile(PhaseStage, "success", time.Second)
	AddRows("els", 10)
	AddRows("els", 0)

	if got := rec.counters[FilesTotal+"|stage|success|"]; got != 2 {
		t.Fatalf("files counter = %v, want 2", got)
	}
	if got := rec.counters[RowsTotal+"|||els"]; got != 10 {
		t.Fatalf("rows counter = %v, want 10", got)
	}
	if got := rec.hists[FileDurationSeconds]; len(got) != 2 || got[0] != 1.5 {
		t.Fatalf("durations = %v", got)
	}
	if err := Flush(); err != nil || rec.flushes != 1 {
		t.Fatalf("Flush = %v, flushes=%d", err, rec.flushes)
	}
}

func TestNopBackendIsDefault(t *testing.T) {
	SetBackend(nil)
	if err := Flush(); err != nil {
		t.Fatalf("nop Flush: %v", err)
	}
	IncCounter(FilesTotal, 1, nil)
}

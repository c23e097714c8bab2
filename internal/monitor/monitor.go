// Package monitor records wall-clock and heap checkpoints at the phase boundaries of
// a training run and forwards them to pluggable sinks.
package monitor

import (
	"context"
	"io"
	"log"
	"runtime"
	"sync"
	"time"
)

// Checkpoint is one measurement.
type Checkpoint struct {
	Label      string        `json:"label"`
	At         time.Time     `json:"at"`
	Elapsed    time.Duration `json:"elapsed"`     // since Start
	Phase      time.Duration `json:"phase"`       // since the previous checkpoint
	HeapAlloc  uint64        `json:"heap_alloc"`  // bytes
	HeapPeak   uint64        `json:"heap_peak"`   // highest HeapAlloc seen so far
	HeapDelta  int64         `json:"heap_delta"`  // HeapAlloc change since the previous checkpoint
	NumGC      uint32        `json:"num_gc"`
	Goroutines int           `json:"goroutines"`
}

// Sink persists checkpoints.
type Sink interface {
	Record(ctx context.Context, c Checkpoint) error
}

// Monitor is safe for concurrent use.
type Monitor struct {
	mu          sync.Mutex
	sinks       []Sink
	logger      *log.Logger
	start       time.Time
	last        time.Time
	lastHeap    uint64
	peak        uint64
	checkpoints []Checkpoint

	now      func() time.Time
	readHeap func() (alloc uint64, numGC uint32)
}

// New returns a started monitor. A nil logger discards sink errors.
func New(logger *log.Logger, sinks ...Sink) *Monitor {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	m := &Monitor{
		sinks:    sinks,
		logger:   logger,
		now:      time.Now,
		readHeap: readRuntimeHeap,
	}
	m.Start()
	return m
}

func readRuntimeHeap() (uint64, uint32) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc, ms.NumGC
}

// Start resets the clock and the baseline heap. Recorded checkpoints are kept.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.start = m.now()
	m.last = m.start
	m.lastHeap, _ = m.readHeap()
	m.peak = max(m.peak, m.lastHeap)
}

// Checkpoint records a measurement and hands it to every sink. Sink failures are
// logged and otherwise ignored.
func (m *Monitor) Checkpoint(label string) {
	m.mu.Lock()
	now := m.now()
	heap, numGC := m.readHeap()
	m.peak = max(m.peak, heap)
	c := Checkpoint{
		Label:      label,
		At:         now,
		Elapsed:    now.Sub(m.start),
		Phase:      now.Sub(m.last),
		HeapAlloc:  heap,
		HeapPeak:   m.peak,
		HeapDelta:  int64(heap) - int64(m.lastHeap),
		NumGC:      numGC,
		Goroutines: runtime.NumGoroutine(),
	}
	m.last = now
	m.lastHeap = heap
	m.checkpoints = append(m.checkpoints, c)
	sinks := m.sinks
	m.mu.Unlock()

	for _, s := range sinks {
		if err := s.Record(context.Background(), c); err != nil {
			m.logger.Printf("monitor: sink failed for checkpoint %q: %v", label, err)
		}
	}
}

// Checkpoints returns a copy of every recorded checkpoint.
func (m *Monitor) Checkpoints() []Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Checkpoint(nil), m.checkpoints...)
}

// LogSink writes one line per checkpoint.
type LogSink struct {
	Logger *log.Logger
}

func (s LogSink) Record(_ context.Context, c Checkpoint) error {
	s.Logger.Printf("[%s] elapsed=%.3fms phase=%.3fms heap=%.2fMB (Δ%+.2fMB, peak %.2fMB) gc=%d",
		c.Label,
		float64(c.Elapsed.Microseconds())/1000.0,
		float64(c.Phase.Microseconds())/1000.0,
		mb(c.HeapAlloc), float64(c.HeapDelta)/(1<<20), mb(c.HeapPeak), c.NumGC)
	return nil
}

func mb(b uint64) float64 { return float64(b) / (1 << 20) }

// Package benchmark measures end-to-end batch throughput from the event
// stream a task emits.
package benchmark

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/weightfetch/weightfetch/internal/engine/events"
	"github.com/weightfetch/weightfetch/internal/utils"
)

// Metrics collects performance metrics while a task runs. It is an
// events.Emitter so it can sit next to any other sink.
type Metrics struct {
	mu sync.Mutex

	StartTime     time.Time
	FirstByteTime time.Time
	EndTime       time.Time

	TotalBytes  int64
	Snapshots   int
	Validations int

	// Memory tracking
	StartMemAlloc uint64
	PeakMemAlloc  uint64
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return &Metrics{
		StartTime:     time.Now(),
		StartMemAlloc: m.Alloc,
		PeakMemAlloc:  m.Alloc,
	}
}

func (bm *Metrics) Emit(name string, payload any) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	switch ev := payload.(type) {
	case events.DownloadEvent:
		bm.Snapshots++
		if ev.Transferred > 0 && bm.FirstByteTime.IsZero() {
			bm.FirstByteTime = time.Now()
		}
		bm.TotalBytes = int64(ev.Transferred)
		bm.sampleMemory()
	case events.ValidationStarted:
		bm.Validations++
	}
}

func (bm *Metrics) sampleMemory() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	if m.Alloc > bm.PeakMemAlloc {
		bm.PeakMemAlloc = m.Alloc
	}
}

// Finish marks the run as complete and captures final stats
func (bm *Metrics) Finish() {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.EndTime = time.Now()
	bm.sampleMemory()
}

// GetResults returns the computed metrics
func (bm *Metrics) GetResults() Results {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	elapsed := bm.EndTime.Sub(bm.StartTime)
	var ttfb time.Duration
	if !bm.FirstByteTime.IsZero() {
		ttfb = bm.FirstByteTime.Sub(bm.StartTime)
	}

	throughput := float64(0)
	if elapsed.Seconds() > 0 {
		throughput = float64(bm.TotalBytes) / elapsed.Seconds() / (1024 * 1024)
	}

	return Results{
		TotalTime:      elapsed,
		TTFB:           ttfb,
		ThroughputMBps: throughput,
		TotalBytes:     bm.TotalBytes,
		Snapshots:      bm.Snapshots,
		Validations:    bm.Validations,
		MemoryUsedMB:   float64(bm.PeakMemAlloc-bm.StartMemAlloc) / (1024 * 1024),
	}
}

// Results holds the final computed metrics
type Results struct {
	TotalTime      time.Duration
	TTFB           time.Duration
	ThroughputMBps float64
	TotalBytes     int64
	Snapshots      int
	Validations    int
	MemoryUsedMB   float64
}

// String returns a formatted summary of the results
func (br Results) String() string {
	return fmt.Sprintf("=== Benchmark Results ===\n"+
		"Throughput:     %.2f MB/s\n"+
		"Total Time:     %s\n"+
		"TTFB:           %s\n"+
		"Total Bytes:    %s\n"+
		"Snapshots:      %d\n"+
		"Validations:    %d\n"+
		"Memory Used:    %.2f MB\n",
		br.ThroughputMBps,
		br.TotalTime.Round(time.Millisecond),
		br.TTFB.Round(time.Millisecond),
		utils.ConvertBytesToHumanReadable(br.TotalBytes),
		br.Snapshots,
		br.Validations,
		br.MemoryUsedMB,
	)
}

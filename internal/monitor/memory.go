// Package monitor samples process memory while large corpora are embedded and
// indexed, and tunes the garbage collector for those batches.
package monitor

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/kyleking/ragsql/internal/logging"
)

const bytesPerMB = 1024 * 1024

// MemoryStats represents memory usage statistics
type MemoryStats struct {
	AllocMB        float64   `json:"alloc_mb"`
	TotalAllocMB   float64   `json:"total_alloc_mb"`
	SysMB          float64   `json:"sys_mb"`
	HeapInUseMB    float64   `json:"heap_in_use_mb"`
	StackInUseMB   float64   `json:"stack_in_use_mb"`
	NumGC          uint32    `json:"num_gc"`
	GCCPUFraction  float64   `json:"gc_cpu_fraction"`
	GoroutineCount int       `json:"goroutine_count"`
	SampledAt      time.Time `json:"sampled_at"`
}

// Pressure is allocated over system memory, clamped to [0, 1]
func (s MemoryStats) Pressure() float64 {
	if s.SysMB <= 0 {
		return 0
	}

	return min(s.AllocMB/s.SysMB, 1.0)
}

// Sample reads the current runtime memory statistics
func Sample() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return MemoryStats{
		AllocMB:        float64(m.Alloc) / bytesPerMB,
		TotalAllocMB:   float64(m.TotalAlloc) / bytesPerMB,
		SysMB:          float64(m.Sys) / bytesPerMB,
		HeapInUseMB:    float64(m.HeapInuse) / bytesPerMB,
		StackInUseMB:   float64(m.StackInuse) / bytesPerMB,
		NumGC:          m.NumGC,
		GCCPUFraction:  m.GCCPUFraction,
		GoroutineCount: runtime.NumGoroutine(),
		SampledAt:      time.Now(),
	}
}

// MemoryMonitor samples memory on an interval and collects garbage when the
// heap crosses a threshold or too long has passed since the last collection
type MemoryMonitor struct {
	mu              sync.RWMutex
	stats           MemoryStats
	peakAllocMB     float64
	gcThresholdMB   float64
	gcForceInterval time.Duration
	lastGC          time.Time
	forcedGCs       int

	stop    chan struct{}
	done    chan struct{}
	running bool
}

// NewMemoryMonitor creates a monitor. A zero threshold or interval disables
// that trigger.
func NewMemoryMonitor(gcThresholdMB int64, gcForceInterval time.Duration) *MemoryMonitor {
	return &MemoryMonitor{
		gcThresholdMB:   float64(gcThresholdMB),
		gcForceInterval: gcForceInterval,
		lastGC:          time.Now(),
	}
}

// Start samples every interval until Stop is called or ctx ends
func (m *MemoryMonitor) Start(ctx context.Context, interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.record(Sample())

	go m.loop(ctx, interval, m.stop, m.done)
}

// Stop ends sampling and waits for the loop to exit
func (m *MemoryMonitor) Stop() {
	m.mu.Lock()

	if !m.running {
		m.mu.Unlock()
		return
	}

	m.running = false
	close(m.stop)
	done := m.done
	m.mu.Unlock()

	<-done
}

func (m *MemoryMonitor) loop(ctx context.Context, interval time.Duration, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Check()
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Check takes a sample and collects garbage if a trigger fired. It reports
// whether a collection was forced.
func (m *MemoryMonitor) Check() bool {
	stats := Sample()

	m.mu.Lock()
	m.record(stats)
	force := m.shouldCollect(stats, time.Now())
	m.mu.Unlock()

	if !force {
		return false
	}

	logging.WithFields(map[string]interface{}{
		"alloc_mb":  fmt.Sprintf("%.1f", stats.AllocMB),
		"threshold": m.gcThresholdMB,
	}).Debug("forcing garbage collection")

	runtime.GC()
	debug.FreeOSMemory()

	after := Sample()

	m.mu.Lock()
	m.lastGC = time.Now()
	m.forcedGCs++
	m.record(after)
	m.mu.Unlock()

	return true
}

func (m *MemoryMonitor) shouldCollect(stats MemoryStats, now time.Time) bool {
	if m.gcThresholdMB > 0 && stats.AllocMB > m.gcThresholdMB {
		return true
	}

	return m.gcForceInterval > 0 && now.Sub(m.lastGC) > m.gcForceInterval
}

func (m *MemoryMonitor) record(stats MemoryStats) {
	m.stats = stats
	m.peakAllocMB = max(m.peakAllocMB, stats.AllocMB)
}

// GetStats returns the latest sample
func (m *MemoryMonitor) GetStats() MemoryStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.stats
}

// PeakAllocMB returns the largest heap allocation seen
func (m *MemoryMonitor) PeakAllocMB() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.peakAllocMB
}

// ForcedGCs counts the collections the monitor triggered
func (m *MemoryMonitor) ForcedGCs() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.forcedGCs
}

// FormatStats renders a sample for the terminal
func FormatStats(stats MemoryStats) string {
	return fmt.Sprintf(`Memory:
  Allocated: %.2f MB
  Total Allocated: %.2f MB
  System: %.2f MB
  Heap In Use: %.2f MB
  Stack In Use: %.2f MB
  Goroutines: %d
  GC Runs: %d
  GC CPU Fraction: %.4f
  Pressure: %.2f`,
		stats.AllocMB,
		stats.TotalAllocMB,
		stats.SysMB,
		stats.HeapInUseMB,
		stats.StackInUseMB,
		stats.GoroutineCount,
		stats.NumGC,
		stats.GCCPUFraction,
		stats.Pressure(),
	)
}

// TuneForBatch lowers the GC target while n records are processed and returns
// a function restoring the previous setting. Small batches leave it alone.
func TuneForBatch(n int) (restore func()) {
	percent := -1

	switch {
	case n > 5000:
		percent = 25
	case n > 1000:
		percent = 50
	case n > 200:
		percent = 75
	}

	if percent < 0 {
		return func() {}
	}

	previous := debug.SetGCPercent(percent)
	logging.Debugf("GC target lowered to %d%% for a batch of %d records", percent, n)

	return func() {
		debug.SetGCPercent(previous)
	}
}

// Package latency implements the dynamically resized sample array used to
// measure end-to-end RDMA READ completion time, per spec §3 "Latency
// Meter". Two instances exist per NIC-agent run: one per connection and
// one global, both sampling nanosecond-resolution wall-clock durations.
package latency

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"
)

const initialCapacity = 100

// Meter accumulates elapsed-time samples between a Start() call and each
// matching Record() call, growing its backing array by doubling as the
// original C implementation does (realloc to 2x on overflow).
type Meter struct {
	mu         sync.Mutex
	start      time.Time
	samples    []int64 // nanoseconds
	numFinished int
}

// NewMeter returns a Meter with its initial sample capacity reserved.
func NewMeter() *Meter {
	return &Meter{
		samples: make([]int64, 0, initialCapacity),
	}
}

// Reset restarts the clock and the finished-counter, mirroring the NIC
// scheduler's per-tick reset of the global meter (spec §4.3 step 1).
func (m *Meter) Reset(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.start = now
	m.numFinished = 0
}

// Start captures a fresh start timestamp without touching the
// finished-counter, used by the per-connection poller ahead of each batch.
func (m *Meter) Start(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.start = now
}

// Record computes the elapsed time since the last Start/Reset, in integer
// nanoseconds, appends it to the sample array (doubling capacity as
// needed), and returns the elapsed duration.
func (m *Meter) Record(now time.Time) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	elapsed := now.Sub(m.start).Nanoseconds()
	if len(m.samples) == cap(m.samples) {
		grown := make([]int64, len(m.samples), max(2*cap(m.samples), initialCapacity))
		copy(grown, m.samples)
		m.samples = grown
	}
	m.samples = append(m.samples, elapsed)
	return elapsed
}

// IncrementFinished increments the finished-counter and returns its new
// value. The NIC scheduler uses this to know when every live connection
// has completed its current batch.
func (m *Meter) IncrementFinished() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.numFinished++
	return m.numFinished
}

// Finished reports the current finished-counter without mutating it.
func (m *Meter) Finished() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.numFinished
}

// Samples returns a copy of the recorded samples, in nanoseconds.
func (m *Meter) Samples() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, len(m.samples))
	copy(out, m.samples)
	return out
}

// WriteFile flushes one sample per line (decimal nanoseconds) to path,
// matching the plain-text artifact format of spec §6.
func (m *Meter) WriteFile(path string) error {
	samples := m.Samples()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("latency: create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, s := range samples {
		if _, err := fmt.Fprintf(w, "%d\n", s); err != nil {
			return fmt.Errorf("latency: write %s: %w", path, err)
		}
	}
	return w.Flush()
}

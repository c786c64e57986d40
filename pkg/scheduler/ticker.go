// Package scheduler implements the Periodic Read Scheduler (C3, spec
// §4.3): a ticker task that fans a read signal out to every live
// connection, and one completion poller per connection that drains that
// connection's CompletionQueue and drives the batch-issue gate.
package scheduler

import (
	"context"
	"time"

	"github.com/microview/microview/pkg/latency"
	"github.com/microview/microview/pkg/session/nic"
)

// Ticker wakes every interval and signals every live slot to post its next
// batch of reads (spec §4.3 steps 1-2), grounded on the teacher's
// HealthMonitor.monitorLoop ticker-plus-select idiom.
type Ticker struct {
	Interval    time.Duration
	Pool        *nic.SlotPool
	GlobalMeter *latency.Meter
}

// Run blocks, ticking until ctx is cancelled.
func (t *Ticker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			t.tick(now)
		case <-ctx.Done():
			return
		}
	}
}

func (t *Ticker) tick(now time.Time) {
	t.GlobalMeter.Reset(now)

	for _, slot := range t.Pool.Live() {
		slot.Mu.Lock()
		slot.ReadRemote = true
		slot.Cond.Signal()
		slot.Mu.Unlock()
	}
}

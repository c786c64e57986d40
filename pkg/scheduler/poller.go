package scheduler

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/microview/microview/pkg/latency"
	"github.com/microview/microview/pkg/log"
	"github.com/microview/microview/pkg/metrics"
	"github.com/microview/microview/pkg/session/nic"
)

// Poller is the per-connection completion poller: one goroutine bound to
// a Slot's CompletionQueue, grounded on the original's poll_cq thread.
// Because this implementation delivers the MR control message out of
// band (pkg/session/nic.Manager.Run calls Conn.RecvMR before spawning a
// Poller at all) rather than as a CompletionQueue entry, a Poller never
// observes a RECV completion — recv_state is already MR_RECV and Run's
// completed-read count starts at NumBuffers when Run begins, which is exactly
// the condition the original's batch-issue gate checks, so the first
// pass through Run waits at the gate for the first tick signal before
// ever touching the CompletionQueue, matching spec §4.3/§8 scenario S1.
type Poller struct {
	Slot        *nic.Slot
	GlobalMeter *latency.Meter
	Manager     *nic.Manager
	OutputDir   string
}

// Run drains the slot's completion queue and drives the batch-issue gate
// until the connection is torn down (CompletionQueue closed or a
// terminate signal observed), then flushes latency samples and releases
// the slot.
func (p *Poller) Run() {
	logger := log.WithLogicalID(p.Slot.LogicalID)
	defer p.finish(logger)

	numCompleted := p.Slot.NumBuffers

	for {
		if numCompleted == p.Slot.NumBuffers {
			if !p.waitAndPostBatch(logger) {
				return
			}
			numCompleted = 0
		}

		wc, ok := p.Slot.Conn.CompletionQueue().Poll()
		if !ok {
			return
		}
		if wc.Status != nil {
			logger.Warn().Err(wc.Status).Msg("read completion failed, tearing down connection")
			metrics.ProtocolErrorsTotal.WithLabelValues("read_failed").Inc()
			return
		}

		if idx, ok := p.Slot.ResolvePending(wc.WRID); ok && idx < len(p.Slot.Buffers) {
			copy(p.Slot.Buffers[idx], wc.Data)
		}

		numCompleted++
		if numCompleted == p.Slot.NumBuffers {
			p.completeBatch(logger)
		}
	}
}

// waitAndPostBatch blocks at the batch-issue gate until the ticker signals
// read_remote or the slot is signaled to terminate, then posts a fresh chain of N READs against distinct
// landing buffers (spec §4.3 "Batch issue gate"). It returns false if the
// slot was signaled to terminate instead.
func (p *Poller) waitAndPostBatch(logger zerolog.Logger) bool {
	slot := p.Slot

	slot.Mu.Lock()
	for !slot.ReadRemote && !slot.Terminate {
		slot.Cond.Wait()
	}
	slot.ReadRemote = false
	terminate := slot.Terminate
	slot.Mu.Unlock()

	if terminate {
		return false
	}

	slot.Meter.Start(time.Now())
	for k := 0; k < slot.NumBuffers; k++ {
		wrid, err := slot.Conn.PostRead(slot.PeerDesc, 0, uint32(slot.BlockSize))
		if err != nil {
			logger.Warn().Err(err).Msg("failed to post read, tearing down connection")
			return false
		}
		slot.TrackPending(wrid, k)
	}
	metrics.ReadsPostedTotal.Add(float64(slot.NumBuffers))
	return true
}

// completeBatch runs once a full batch of N reads has completed: it
// records the per-connection latency sample and, if every live connection
// has now finished its current batch, the global fan-out sample (spec
// §4.3, §5 ordering guarantees (b) and (c)).
func (p *Poller) completeBatch(logger zerolog.Logger) {
	now := time.Now()
	elapsed := p.Slot.Meter.Record(now)
	metrics.BatchesCompletedTotal.Inc()
	metrics.ConnectionLatencySeconds.Observe(time.Duration(elapsed).Seconds())
	logger.Debug().Int64("latency_ns", elapsed).Msg("read batch completed")

	finished := p.GlobalMeter.IncrementFinished()
	if finished == p.Manager.Pool.LiveCount() {
		globalElapsed := p.GlobalMeter.Record(now)
		metrics.GlobalLatencySeconds.Observe(time.Duration(globalElapsed).Seconds())
	}
}

// finish runs when the poller exits for any reason: it flushes this
// connection's latency samples to disk, releases the slot back to the
// pool (only now safe, per spec §3's reuse invariant), and, if this was
// the last live connection, flushes the global latency file (spec §4.5
// step 3).
func (p *Poller) finish(logger zerolog.Logger) {
	path := filepath.Join(p.OutputDir, fmt.Sprintf("latency_samples_%d.txt", p.Slot.LogicalID))
	if err := p.Slot.Meter.WriteFile(path); err != nil {
		logger.Warn().Err(err).Msg("failed to write per-connection latency samples")
	}

	wasLast := p.Manager.Pool.LiveCount() == 1
	p.Manager.Release(p.Slot)
	close(p.Slot.Done)

	if wasLast {
		globalPath := filepath.Join(p.OutputDir, "read_completion_latency.txt")
		if err := p.GlobalMeter.WriteFile(globalPath); err != nil {
			logger.Warn().Err(err).Msg("failed to write global latency samples")
		}
	}

	logger.Info().Msg("completion poller exited")
}

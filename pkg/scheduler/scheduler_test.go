package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/microview/microview/pkg/latency"
	"github.com/microview/microview/pkg/rdma"
	"github.com/microview/microview/pkg/session/nic"
)

// TestSchedulerSinglePodSingleTick reproduces spec §8 scenario S1: one
// pod registers, and after one tick the NIC agent completes exactly one
// batch of N=1 reads, producing one positive-nanosecond sample. The test
// then tears the connection down (the way the liveness watcher would)
// to observe the flushed latency_samples_0.txt, since that file is only
// written at poller exit (spec §4.5 step 3).
func TestSchedulerSinglePodSingleTick(t *testing.T) {
	const blockSize = 1024
	outDir := t.TempDir()

	mgr := nic.NewManager(4, 1, blockSize)
	if err := mgr.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	globalMeter := latency.NewMeter()
	ticker := &Ticker{Interval: 20 * time.Millisecond, Pool: mgr.Pool, GlobalMeter: globalMeter}

	slotCh := make(chan *nic.Slot, 1)
	pollerDone := make(chan struct{}, 1)
	mgr.OnAccept = func(slot *nic.Slot) {
		slotCh <- slot
		p := &Poller{Slot: slot, GlobalMeter: globalMeter, Manager: mgr, OutputDir: outDir}
		go func() {
			p.Run()
			pollerDone <- struct{}{}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Run(ctx)
	go ticker.Run(ctx)

	backing := make([]byte, blockSize)
	copy(backing, "hello")

	hostConn, err := rdma.Dial(ctx, mgr.Addr())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer hostConn.Close()

	desc := hostConn.RegisterLocal(backing, rdma.AccessRemoteRead)
	if err := hostConn.SendMR(desc); err != nil {
		t.Fatalf("SendMR() error = %v", err)
	}

	var slot *nic.Slot
	select {
	case slot = <-slotCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for NIC side to accept")
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(slot.Meter.Samples()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the first batch to complete")
		}
		time.Sleep(10 * time.Millisecond)
	}

	samples := slot.Meter.Samples()
	if len(samples) != 1 {
		t.Fatalf("Meter.Samples() = %v, want exactly one sample after one tick", samples)
	}
	if samples[0] <= 0 {
		t.Errorf("sample = %d, want a positive nanosecond duration", samples[0])
	}

	// Simulate the liveness-triggered teardown path: signal terminate and
	// unblock the poller waiting at the batch-issue gate.
	slot.Mu.Lock()
	slot.Terminate = true
	slot.Cond.Signal()
	slot.Mu.Unlock()

	select {
	case <-pollerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not exit after terminate signal")
	}

	path := filepath.Join(outDir, "latency_samples_0.txt")
	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%s) error = %v", path, err)
	}
	lines := strings.Fields(string(contents))
	if len(lines) != 1 {
		t.Fatalf("%s has %d lines, want exactly 1: %q", path, len(lines), contents)
	}
	if _, err := strconv.ParseInt(lines[0], 10, 64); err != nil {
		t.Fatalf("sample line %q is not an integer: %v", lines[0], err)
	}
}

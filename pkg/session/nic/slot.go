package nic

import (
	"sync"

	"github.com/microview/microview/pkg/latency"
	"github.com/microview/microview/pkg/rdma"
)

// Slot is the NIC-side per-connection record, indexed by LogicalID and
// shared between the ticker, the completion poller, and the liveness
// teardown path (spec §3 "logical_id", §5 "Per-connection read_remote,
// terminate"). Its Mu/Cond pair guards exactly the fields the spec names
// as the per-index synchronized state: ReadRemote and Terminate.
type Slot struct {
	LogicalID int
	Conn      *rdma.Conn

	NumBuffers int
	BlockSize  int
	Buffers    [][]byte
	Regions    []*rdma.MemoryRegion

	Meter *latency.Meter

	Mu         sync.Mutex
	Cond       *sync.Cond
	ReadRemote bool
	Terminate  bool

	// PeerDesc is the host's remote-readable region descriptor, set once
	// the MR control message has been received (spec §4.2.2 step 4,
	// §5 ordering guarantee (a)).
	PeerDesc    rdma.MemoryDescriptor
	PeerDescSet bool

	// pending maps an in-flight read's WRID to the landing-buffer index
	// it targets, so a completion with Data can be routed to the right
	// buffer regardless of completion order (spec §4.3 "Ordering
	// guarantees": "the implementation must only inspect completion
	// order, not post order").
	pendingMu sync.Mutex
	pending   map[uint64]int

	NumReadCompleted int

	// Done is closed by the poller's exit path, right after it has
	// released this slot's LogicalID back to the pool.
	Done chan struct{}
}

func newSlot(id int, conn *rdma.Conn) *Slot {
	s := &Slot{
		LogicalID: id,
		Conn:      conn,
		pending:   make(map[uint64]int),
		Done:      make(chan struct{}),
	}
	s.Cond = sync.NewCond(&s.Mu)
	return s
}

// AllocateBuffers allocates n landing buffers of blockSize bytes and
// registers each with LOCAL_WRITE permission (spec §3 NIC side: "a vector
// of N local landing buffers ... and their registration handles").
func (s *Slot) AllocateBuffers(n, blockSize int) {
	s.NumBuffers = n
	s.BlockSize = blockSize
	s.Buffers = make([][]byte, n)
	s.Regions = make([]*rdma.MemoryRegion, n)
	for i := 0; i < n; i++ {
		buf := make([]byte, blockSize)
		s.Buffers[i] = buf
		s.Regions[i] = rdma.RegisterMemory(buf, rdma.AccessLocalWrite)
	}
}

// SetPeerDescriptor stores the host's remote region descriptor, copied
// out of the received MR control message.
func (s *Slot) SetPeerDescriptor(desc rdma.MemoryDescriptor) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	s.PeerDesc = desc
	s.PeerDescSet = true
}

// TrackPending remembers which buffer index a posted read's WRID targets.
func (s *Slot) TrackPending(wrid uint64, bufIdx int) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	s.pending[wrid] = bufIdx
}

// ResolvePending looks up and forgets the buffer index a completed WRID
// targeted.
func (s *Slot) ResolvePending(wrid uint64) (int, bool) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	idx, ok := s.pending[wrid]
	if ok {
		delete(s.pending, wrid)
	}
	return idx, ok
}

// Deregister releases every landing-buffer region, in reverse of
// registration (spec §4.5 step 1).
func (s *Slot) Deregister() {
	for i := len(s.Regions) - 1; i >= 0; i-- {
		if s.Regions[i] != nil {
			s.Regions[i].Deregister()
		}
	}
}

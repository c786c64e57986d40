package rdma

import "sync"

// Opcode names the work-request kind a WorkCompletion reports on, mirroring
// the small subset of ibv_wc_opcode this fabric actually uses.
type Opcode int

const (
	OpRDMARead Opcode = iota
	OpSend
	OpRecv
)

func (o Opcode) String() string {
	switch o {
	case OpRDMARead:
		return "RDMA_READ"
	case OpSend:
		return "SEND"
	case OpRecv:
		return "RECV"
	default:
		return "UNKNOWN"
	}
}

// WorkCompletion is the simulated-fabric analogue of struct ibv_wc: one
// entry per completed work request, delivered in completion order.
type WorkCompletion struct {
	WRID   uint64
	Opcode Opcode
	Status error
	Data   []byte
}

// CompletionQueue is a blocking, FIFO queue of WorkCompletion entries,
// standing in for the pairing of ibv_get_cq_event + ibv_poll_cq: a reader
// goroutine pushes completions as READ responses arrive off the wire, and
// the scheduler's poller pulls them one at a time via Poll.
//
// Unlike a real CQ there is no separate completion-channel fd to arm —
// Poll blocks until an entry is available or the queue is closed, which
// is sufficient for the poller's one-completion-per-iteration usage.
type CompletionQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []WorkCompletion
	closed bool
}

// NewCompletionQueue allocates an empty queue.
func NewCompletionQueue() *CompletionQueue {
	cq := &CompletionQueue{}
	cq.cond = sync.NewCond(&cq.mu)
	return cq
}

// Push appends a completion and wakes one waiting poller. Push on a closed
// queue is a no-op: the connection is already tearing down.
func (cq *CompletionQueue) Push(wc WorkCompletion) {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	if cq.closed {
		return
	}
	cq.items = append(cq.items, wc)
	cq.cond.Signal()
}

// Poll blocks until a completion is available, returning ok=false once the
// queue has been closed and drained.
func (cq *CompletionQueue) Poll() (WorkCompletion, bool) {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	for len(cq.items) == 0 && !cq.closed {
		cq.cond.Wait()
	}
	if len(cq.items) == 0 {
		return WorkCompletion{}, false
	}
	wc := cq.items[0]
	cq.items = cq.items[1:]
	return wc, true
}

// TryPoll is the non-blocking variant, used by tests and by callers that
// need to check for a completion without parking a goroutine.
func (cq *CompletionQueue) TryPoll() (WorkCompletion, bool) {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	if len(cq.items) == 0 {
		return WorkCompletion{}, false
	}
	wc := cq.items[0]
	cq.items = cq.items[1:]
	return wc, true
}

// Close marks the queue closed and wakes all blocked pollers; subsequent
// Poll calls drain any remaining entries before reporting ok=false.
func (cq *CompletionQueue) Close() {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	if cq.closed {
		return
	}
	cq.closed = true
	cq.cond.Broadcast()
}

// Package rdma simulates the subset of RDMA verbs MicroView's harvesting
// fabric relies on — queue pairs, protection-domain-scoped memory
// registration, and one-sided READ — over a plain TCP byte stream, since no
// library in the dependency graph wraps libibverbs/librdmacm.
//
// Every exported shape here (MemoryRegion, ControlMessage, CompletionQueue,
// SendState/RecvState) mirrors a verbs concept named in the original
// implementation's rdma-common.c / rdma-common.h; the wire framing below is
// this package's own invention, grounded in the same request/response
// sequencing the original drives over real QPs.
//
// A Conn is symmetric until its owner picks a role: the host endpoint
// registers its shared segment via RegisterLocal to serve one-sided READs
// against it, while the NIC endpoint calls PostRead to issue them. Per
// spec §4.2.1/§4.2.2 the host dials out to the NIC's listen port while the
// NIC accepts — the opposite of which side owns the data — so role
// selection is independent of Dial vs Accept. Each Conn runs exactly one
// background read loop that demultiplexes incoming frames by type, so
// RecvMR, the read responder, and the completion reader never contend for
// the same socket.
package rdma

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// MaxConnections bounds how many simulated queue pairs a NIC endpoint will
// admit at once, standing in for the original's fixed-size connection
// table (spec §9 REDESIGN FLAGS: pool-allocated logical ids replacing the
// naked global array, sized against this same bound).
const MaxConnections = 1024

type frameType byte

const (
	frameControl frameType = iota + 1
	frameReadRequest
	frameReadResponse
)

// writeFrame writes a length-prefixed frame: 1-byte type, 4-byte
// big-endian payload length, payload.
func writeFrame(w io.Writer, typ frameType, payload []byte) error {
	var hdr [5]byte
	hdr[0] = byte(typ)
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) (frameType, []byte, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(hdr[1:])
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, err
		}
	}
	return frameType(hdr[0]), payload, nil
}

func encodeControl(msg ControlMessage) []byte {
	buf := make([]byte, 1+8+4+4+4)
	buf[0] = byte(msg.Tag)
	binary.BigEndian.PutUint64(buf[1:9], msg.MR.Addr)
	binary.BigEndian.PutUint32(buf[9:13], msg.MR.Length)
	binary.BigEndian.PutUint32(buf[13:17], msg.MR.RKey)
	binary.BigEndian.PutUint32(buf[17:21], uint32(msg.MR.Access))
	return buf
}

func decodeControl(b []byte) (ControlMessage, error) {
	if len(b) != 21 {
		return ControlMessage{}, fmt.Errorf("rdma: short control frame (%d bytes)", len(b))
	}
	return ControlMessage{
		Tag: Tag(b[0]),
		MR: MemoryDescriptor{
			Addr:   binary.BigEndian.Uint64(b[1:9]),
			Length: binary.BigEndian.Uint32(b[9:13]),
			RKey:   binary.BigEndian.Uint32(b[13:17]),
			Access: AccessFlag(binary.BigEndian.Uint32(b[17:21])),
		},
	}, nil
}

type readRequest struct {
	WRID   uint64
	RKey   uint32
	Addr   uint64
	Length uint32
}

func encodeReadRequest(rr readRequest) []byte {
	buf := make([]byte, 8+4+8+4)
	binary.BigEndian.PutUint64(buf[0:8], rr.WRID)
	binary.BigEndian.PutUint32(buf[8:12], rr.RKey)
	binary.BigEndian.PutUint64(buf[12:20], rr.Addr)
	binary.BigEndian.PutUint32(buf[20:24], rr.Length)
	return buf
}

func decodeReadRequest(b []byte) (readRequest, error) {
	if len(b) != 24 {
		return readRequest{}, fmt.Errorf("rdma: short read-request frame (%d bytes)", len(b))
	}
	return readRequest{
		WRID:   binary.BigEndian.Uint64(b[0:8]),
		RKey:   binary.BigEndian.Uint32(b[8:12]),
		Addr:   binary.BigEndian.Uint64(b[12:20]),
		Length: binary.BigEndian.Uint32(b[20:24]),
	}, nil
}

// a read response frame is WRID(8) + status(1, 0=ok) + data(rest)
func encodeReadResponse(wrid uint64, ok bool, data []byte) []byte {
	buf := make([]byte, 9+len(data))
	binary.BigEndian.PutUint64(buf[0:8], wrid)
	if !ok {
		buf[8] = 1
	}
	copy(buf[9:], data)
	return buf
}

func decodeReadResponse(b []byte) (wrid uint64, ok bool, data []byte, err error) {
	if len(b) < 9 {
		return 0, false, nil, fmt.Errorf("rdma: short read-response frame (%d bytes)", len(b))
	}
	wrid = binary.BigEndian.Uint64(b[0:8])
	ok = b[8] == 0
	data = b[9:]
	return wrid, ok, data, nil
}

// Conn is a simulated queue pair: one TCP connection carrying the control
// message exchange and, for the side that issues READs, the
// request/response traffic that implements them. Each Conn owns exactly
// one CompletionQueue, matching the original's one-CQ-per-connection
// layout.
type Conn struct {
	// id is this connection's opaque transport identifier (spec §3
	// Connection Record field `id`) — distinct from the dense,
	// pool-reused LogicalID a Slot carries, this value never repeats
	// across the process lifetime, which matters for log correlation
	// across a logical id's reuse cycle.
	id uuid.UUID

	raw net.Conn
	cq  *CompletionQueue

	writeMu sync.Mutex

	sendMu sync.Mutex
	send   SendState
	recvMu sync.Mutex
	recv   RecvState

	wrSeq uint64

	// mrCh carries the peer's MR control message to the one RecvMR call
	// that expects it. Buffered so the read loop never blocks delivering
	// it even if RecvMR is called late.
	mrCh chan MemoryDescriptor

	closeOnce sync.Once
	closed    chan struct{}

	// done closes when readLoop returns, whether that is because Close
	// was called locally or because the peer closed the transport out
	// from under it. Callers that need to react to peer-initiated
	// teardown (the NIC session manager unblocking a poller stuck at the
	// batch-issue gate, spec §4.5) watch this rather than closed, which
	// only ever closes on a local Close call.
	done chan struct{}

	// region is the local memory region this Conn serves READs against,
	// set by the host side after registering its shared-memory segment.
	// The NIC side leaves this nil: it only issues READs, never serves
	// them, so incoming read-requests (which it should never receive)
	// would simply fail their bounds check.
	regionMu sync.Mutex
	region   *MemoryRegion
}

func newConn(raw net.Conn) *Conn {
	c := &Conn{
		id:     uuid.New(),
		raw:    raw,
		cq:     NewCompletionQueue(),
		mrCh:   make(chan MemoryDescriptor, 1),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// readLoop is the connection's single reader goroutine. It demultiplexes
// every incoming frame by type so control messages, read requests (served
// against a registered local region), and read responses (delivered as
// completions) never contend over the same socket read.
func (c *Conn) readLoop() {
	defer close(c.done)
	defer c.cq.Close()
	for {
		typ, payload, err := readFrame(c.raw)
		if err != nil {
			return
		}
		switch typ {
		case frameControl:
			msg, err := decodeControl(payload)
			if err != nil || msg.Tag != MsgMR {
				// spec §4.2.2: receipt of any control message other
				// than MR is a protocol error; terminate this
				// connection and let every other connection continue
				// unaffected.
				c.Close()
				return
			}
			select {
			case c.mrCh <- msg.MR:
			default:
			}
		case frameReadRequest:
			c.serveReadRequest(payload)
		case frameReadResponse:
			c.handleReadResponse(payload)
		}
	}
}

func (c *Conn) serveReadRequest(payload []byte) {
	rr, err := decodeReadRequest(payload)
	if err != nil {
		return
	}
	var data []byte
	ok := false
	c.regionMu.Lock()
	region := c.region
	c.regionMu.Unlock()
	if region != nil {
		data, ok = region.ReadAt(rr.RKey, rr.Addr, rr.Length)
	}
	resp := encodeReadResponse(rr.WRID, ok, data)
	c.writeMu.Lock()
	writeFrame(c.raw, frameReadResponse, resp)
	c.writeMu.Unlock()
}

func (c *Conn) handleReadResponse(payload []byte) {
	wrid, ok, data, err := decodeReadResponse(payload)
	if err != nil {
		c.cq.Push(WorkCompletion{Opcode: OpRDMARead, Status: err})
		return
	}
	var status error
	if !ok {
		status = fmt.Errorf("rdma: remote read rejected")
	}
	c.cq.Push(WorkCompletion{WRID: wrid, Opcode: OpRDMARead, Status: status, Data: data})
}

// CompletionQueue returns this connection's completion queue.
func (c *Conn) CompletionQueue() *CompletionQueue {
	return c.cq
}

// ID returns this connection's opaque transport identifier.
func (c *Conn) ID() uuid.UUID {
	return c.id
}

// Done returns a channel closed once this connection's read loop has
// exited, regardless of which side initiated teardown.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// RemoteAddr reports the underlying transport's peer address, useful for
// logging.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

// SendState/RecvState report the connection's current control-path state.
func (c *Conn) SendState() SendState {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.send
}

func (c *Conn) RecvState() RecvState {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	return c.recv
}

func (c *Conn) advanceSend(ev SendEvent) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	next, err := NextSendState(c.send, ev)
	if err != nil {
		return err
	}
	c.send = next
	return nil
}

func (c *Conn) advanceRecv(ev RecvEvent) error {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	next, err := NextRecvState(c.recv, ev)
	if err != nil {
		return err
	}
	c.recv = next
	return nil
}

// RegisterLocal registers buf as this connection's servable memory region
// and returns its descriptor. Called once by the host side before sending
// its MR control message.
func (c *Conn) RegisterLocal(buf []byte, access AccessFlag) MemoryDescriptor {
	region := RegisterMemory(buf, access)
	c.regionMu.Lock()
	c.region = region
	c.regionMu.Unlock()
	return region.Descriptor()
}

// SendMR transmits the local region descriptor as a control message and
// advances the send state, mirroring host_send_mr in the original.
func (c *Conn) SendMR(desc MemoryDescriptor) error {
	msg := ControlMessage{Tag: MsgMR, MR: desc}
	c.writeMu.Lock()
	err := writeFrame(c.raw, frameControl, encodeControl(msg))
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("rdma: send MR: %w", err)
	}
	return c.advanceSend(EventMRSendComplete)
}

// RecvMR blocks for the peer's MR control message, used by the NIC side
// immediately after connecting.
func (c *Conn) RecvMR() (MemoryDescriptor, error) {
	select {
	case mr := <-c.mrCh:
		if err := c.advanceRecv(EventMRReceived); err != nil {
			return MemoryDescriptor{}, err
		}
		return mr, nil
	case <-c.closed:
		return MemoryDescriptor{}, fmt.Errorf("rdma: recv MR: connection closed")
	}
}

// PostRead issues a one-sided READ against the peer's region described by
// desc, reading length bytes starting at addr, and returns the work
// request id assigned to it. It does not block for the response:
// completion arrives later on the CompletionQueue (tagged with the same
// WRID), matching ibv_post_send(IBV_WR_RDMA_READ) semantics. Callers that
// post a batch of N reads against N distinct landing buffers use the
// returned WRID to route each completion back to the buffer it targeted.
func (c *Conn) PostRead(desc MemoryDescriptor, addr uint64, length uint32) (uint64, error) {
	wrid := atomic.AddUint64(&c.wrSeq, 1)
	rr := readRequest{WRID: wrid, RKey: desc.RKey, Addr: addr, Length: length}
	c.writeMu.Lock()
	err := writeFrame(c.raw, frameReadRequest, encodeReadRequest(rr))
	c.writeMu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("rdma: post read: %w", err)
	}
	return wrid, nil
}

// Close tears the connection down exactly once: closing the underlying
// socket, the completion queue, and deregistering any locally-owned
// region.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.cq.Close()
		c.regionMu.Lock()
		if c.region != nil {
			c.region.Deregister()
		}
		c.regionMu.Unlock()
		err = c.raw.Close()
	})
	return err
}

// Listener accepts simulated queue-pair connections over TCP, standing in
// for rdma_listen/rdma_get_request.
type Listener struct {
	ln net.Listener
}

// Listen binds addr and returns a Listener ready to Accept.
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rdma: listen: %w", err)
	}
	return &Listener{ln: ln}, nil
}

// Addr reports the bound address (useful when addr was ":0").
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Accept blocks for the next inbound connection, returning it as a Conn
// with its read loop already running. The caller decides the connection's
// role by calling RegisterLocal (to serve READs) and/or PostRead (to
// issue them).
func (l *Listener) Accept() (*Conn, error) {
	raw, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return newConn(raw), nil
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Dial connects to a listening peer at addr, the simulated-fabric
// equivalent of rdma_resolve_addr + rdma_resolve_route + rdma_connect. As
// with Accept, the caller decides the connection's role afterward.
func Dial(ctx context.Context, addr string) (*Conn, error) {
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rdma: dial: %w", err)
	}
	return newConn(raw), nil
}

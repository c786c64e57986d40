package nic

import (
	"context"
	"fmt"

	"github.com/microview/microview/pkg/log"
	"github.com/microview/microview/pkg/metrics"
	"github.com/microview/microview/pkg/rdma"
)

// CQSize returns the completion-queue sizing for n outstanding landing
// buffers, resolving spec §9's open question ("10 x N is a heuristic; the
// spec requires >= N + small-constant for outstanding posts plus
// receives") as max(10*N, N+4). The simulated CompletionQueue in pkg/rdma
// grows on demand and takes no size, so nothing in this module calls
// CQSize; it records the sizing decision only.
func CQSize(n int) int {
	if v := 10 * n; v > n+4 {
		return v
	}
	return n + 4
}

// Manager is the NIC-side RDMA Session Manager (spec §4.2.2). It accepts
// incoming simulated queue-pair connections, builds the per-connection
// Slot, and hands each ready slot to OnAccept — typically wired by main to
// spawn pkg/scheduler's completion poller, kept out of this package to
// avoid an import cycle (the poller needs the SlotPool to Release on
// exit, and the scheduler package already imports this one).
type Manager struct {
	Pool       *SlotPool
	NumBuffers int
	BlockSize  int
	OnAccept   func(*Slot)

	ln *rdma.Listener
}

// NewManager constructs a Manager bounded to cap connections, each with
// numBuffers landing buffers of blockSize bytes.
func NewManager(cap, numBuffers, blockSize int) *Manager {
	return &Manager{
		Pool:       NewSlotPool(cap),
		NumBuffers: numBuffers,
		BlockSize:  blockSize,
	}
}

// Listen binds addr (spec §6 CLI: "<listen-port>").
func (m *Manager) Listen(addr string) error {
	ln, err := rdma.Listen(addr)
	if err != nil {
		return err
	}
	m.ln = ln
	return nil
}

// Addr reports the bound listen address.
func (m *Manager) Addr() string {
	if m.ln == nil {
		return ""
	}
	return m.ln.Addr().String()
}

// Run accepts connections until ctx is cancelled or the listener errors.
// Each connection is built per spec §4.2.2 steps 1-6: assign a logical
// id, allocate and register N landing buffers, receive the peer's MR
// message, then hand off to OnAccept.
func (m *Manager) Run(ctx context.Context) error {
	logger := log.WithComponent("session-nic")
	go func() {
		<-ctx.Done()
		if m.ln != nil {
			m.ln.Close()
		}
	}()

	for {
		conn, err := m.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("nic: accept: %w", err)
			}
		}
		metrics.ConnectionsAcceptedTotal.Inc()

		slot, err := m.Pool.Acquire(conn)
		if err != nil {
			logger.Error().Err(err).Msg("connection cap reached, rejecting connection")
			conn.Close()
			continue
		}
		slot.AllocateBuffers(m.NumBuffers, m.BlockSize)
		metrics.ActiveConnections.Set(float64(m.Pool.LiveCount()))

		desc, err := conn.RecvMR()
		if err != nil {
			logger.Warn().Err(err).Int("logical_id", slot.LogicalID).Msg("failed to receive MR message")
			metrics.ProtocolErrorsTotal.WithLabelValues("mr_recv_failed").Inc()
			conn.Close()
			m.Pool.Release(slot.LogicalID)
			metrics.ActiveConnections.Set(float64(m.Pool.LiveCount()))
			continue
		}
		if desc.Access&rdma.AccessRemoteRead == 0 {
			logger.Warn().Int("logical_id", slot.LogicalID).Msg("peer MR lacks REMOTE_READ access")
			metrics.ProtocolErrorsTotal.WithLabelValues("mr_access_denied").Inc()
			conn.Close()
			m.Pool.Release(slot.LogicalID)
			metrics.ActiveConnections.Set(float64(m.Pool.LiveCount()))
			continue
		}
		slot.SetPeerDescriptor(desc)

		logger.Info().Int("logical_id", slot.LogicalID).Str("conn_id", conn.ID().String()).
			Str("remote", conn.RemoteAddr().String()).Msg("accepted RDMA connection")

		go watchDisconnect(slot)

		if m.OnAccept != nil {
			m.OnAccept(slot)
		}
	}
}

// watchDisconnect raises the terminate flag and wakes the batch-issue
// gate the moment the connection's transport goes away — whether the
// host side closed it after a liveness eviction (spec §4.4) or the
// socket simply dropped. Without this, a poller parked in
// Poller.waitAndPostBatch would never notice the peer is gone until the
// next tick, since Conn.Done only fires its waiting readers
// (CompletionQueue.Poll), not the gate's condition variable.
func watchDisconnect(slot *Slot) {
	<-slot.Conn.Done()
	slot.Mu.Lock()
	slot.Terminate = true
	slot.Cond.Signal()
	slot.Mu.Unlock()
}

// Release returns a slot's logical id to the pool. Callers must only call
// this after the slot's poller goroutine has exited (spec §3 invariant).
func (m *Manager) Release(slot *Slot) {
	slot.Deregister()
	m.Pool.Release(slot.LogicalID)
	metrics.ActiveConnections.Set(float64(m.Pool.LiveCount()))
}

// Package controlplane implements the Control Plane Table described in
// spec §3 "Pod Registration Record" and guarded per §5 "Shared-resource
// policy": mutated only by the host registry worker (insert) and the
// liveness watcher (mark invalid), under a single mutex.
package controlplane

import (
	"fmt"
	"sync"

	"github.com/microview/microview/pkg/log"
)

// Disconnector is the local RDMA connection handle a Record carries. It
// is satisfied by pkg/session/host.Endpoint; defining it here (rather
// than importing that package) keeps the Control Plane Table from
// depending on the session layer that depends on it.
type Disconnector interface {
	Disconnect() error
}

// Record is one entry of the Control Plane Table: an OS process id, the
// shared-segment name created for it, its local RDMA connection handle,
// and a validity flag mutated only by the liveness watcher.
type Record struct {
	PodID       uint32
	SegmentName string
	Conn        Disconnector
	Valid       bool
}

// Table is the in-memory Control Plane Table. An optional Store persists
// an audit trail of admissions (see store.go); the live table itself is
// always authoritative and is never reconstructed from disk, since RDMA
// connections cannot survive a process restart.
type Table struct {
	mu      sync.Mutex
	records map[uint32]*Record
	store   *Store
}

// NewTable returns an empty table. store may be nil to disable the audit
// trail.
func NewTable(store *Store) *Table {
	return &Table{
		records: make(map[uint32]*Record),
		store:   store,
	}
}

// Insert admits a new pod. It is an error to insert a pod id that is
// already present and valid.
func (t *Table) Insert(podID uint32, segmentName string, conn Disconnector) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.records[podID]; ok && existing.Valid {
		return fmt.Errorf("controlplane: pod %d already registered", podID)
	}

	t.records[podID] = &Record{
		PodID:       podID,
		SegmentName: segmentName,
		Conn:        conn,
		Valid:       true,
	}

	if t.store != nil {
		if err := t.store.Record(podID, segmentName); err != nil {
			log.WithComponent("controlplane").Warn().Err(err).Uint32("pod_id", podID).
				Msg("failed to persist admission audit record")
		}
	}
	return nil
}

// Invalidate marks podID's entry invalid and returns a copy of it so the
// caller (the liveness watcher) can act on Conn outside the table lock.
// Invalidating an already-invalid or unknown pod id is a no-op returning
// ok=false, keeping teardown idempotent (spec §4.5, §8 property 5).
func (t *Table) Invalidate(podID uint32) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[podID]
	if !ok || !rec.Valid {
		return Record{}, false
	}
	rec.Valid = false

	if t.store != nil {
		_ = t.store.Remove(podID)
	}
	return *rec, true
}

// Snapshot returns a copy of every record currently known, valid or not.
// The liveness watcher iterates a snapshot rather than the live map so it
// never holds the table lock while probing process liveness.
func (t *Table) Snapshot() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Record, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, *rec)
	}
	return out
}

// Len reports the number of entries currently tracked, valid or not.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

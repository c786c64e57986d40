package controlplane

import "testing"

type fakeConn struct {
	disconnected bool
}

func (f *fakeConn) Disconnect() error {
	f.disconnected = true
	return nil
}

func TestInsertAndSnapshot(t *testing.T) {
	tbl := NewTable(nil)
	conn := &fakeConn{}

	if err := tbl.Insert(100, "shm-100", conn); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	snap := tbl.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("Snapshot() len = %d, want 1", len(snap))
	}
	if snap[0].PodID != 100 || snap[0].SegmentName != "shm-100" || !snap[0].Valid {
		t.Errorf("Snapshot()[0] = %+v, want pod 100 valid", snap[0])
	}
}

func TestInsertRejectsDuplicateValid(t *testing.T) {
	tbl := NewTable(nil)
	conn := &fakeConn{}

	if err := tbl.Insert(1, "shm-1", conn); err != nil {
		t.Fatalf("first Insert() error = %v", err)
	}
	if err := tbl.Insert(1, "shm-1", conn); err == nil {
		t.Error("second Insert() for same live pod id succeeded, want error")
	}
}

func TestInvalidateIsIdempotent(t *testing.T) {
	tbl := NewTable(nil)
	conn := &fakeConn{}
	_ = tbl.Insert(7, "shm-7", conn)

	rec, ok := tbl.Invalidate(7)
	if !ok {
		t.Fatal("first Invalidate() returned ok=false, want true")
	}
	if rec.PodID != 7 {
		t.Errorf("Invalidate() record pod id = %d, want 7", rec.PodID)
	}

	if _, ok := tbl.Invalidate(7); ok {
		t.Error("second Invalidate() returned ok=true, want false (idempotent)")
	}
}

func TestInvalidateUnknownPod(t *testing.T) {
	tbl := NewTable(nil)
	if _, ok := tbl.Invalidate(999); ok {
		t.Error("Invalidate() of unknown pod returned ok=true, want false")
	}
}

func TestLenCountsInvalidEntriesToo(t *testing.T) {
	tbl := NewTable(nil)
	_ = tbl.Insert(1, "shm-1", &fakeConn{})
	_ = tbl.Insert(2, "shm-2", &fakeConn{})
	tbl.Invalidate(1)

	if got := tbl.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
}

package controlplane

import "testing"

func TestStoreRecordAndList(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	defer store.Close()

	if err := store.Record(42, "shm-42"); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	recs, err := store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(recs) != 1 || recs[0].PodID != 42 || recs[0].SegmentName != "shm-42" {
		t.Errorf("List() = %+v, want one record for pod 42", recs)
	}
}

func TestStoreRemove(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	defer store.Close()

	_ = store.Record(1, "shm-1")
	if err := store.Remove(1); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	recs, err := store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("List() after Remove() = %+v, want empty", recs)
	}
}

func TestTableWithStorePersistsAcrossInsertInvalidate(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	defer store.Close()

	tbl := NewTable(store)
	if err := tbl.Insert(5, "shm-5", &fakeConn{}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	recs, _ := store.List()
	if len(recs) != 1 {
		t.Fatalf("List() after Insert = %+v, want one record", recs)
	}

	tbl.Invalidate(5)
	recs, _ = store.List()
	if len(recs) != 0 {
		t.Errorf("List() after Invalidate = %+v, want empty", recs)
	}
}

package controlplane

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketAdmissions = []byte("admissions")

// admissionRecord is the JSON payload persisted per pod id.
type admissionRecord struct {
	PodID        uint32    `json:"pod_id"`
	SegmentName  string    `json:"segment_name"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Store is a bbolt-backed audit trail of pod admissions, mirroring the
// teacher's BoltStore pattern (one bucket, JSON-encoded values keyed by
// id). It exists so an operator can see which pods a host agent last
// admitted across a restart; it is never read back to reconstruct live
// RDMA state (see the Table doc comment).
type Store struct {
	db *bolt.DB
}

// OpenStore opens (creating if necessary) the bbolt database under
// dataDir.
func OpenStore(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "microview.db")

	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("controlplane: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAdmissions)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("controlplane: create bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record upserts the audit record for podID.
func (s *Store) Record(podID uint32, segmentName string) error {
	rec := admissionRecord{
		PodID:        podID,
		SegmentName:  segmentName,
		RegisteredAt: time.Now(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("controlplane: marshal admission record: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAdmissions)
		return b.Put(podKey(podID), data)
	})
}

// Remove deletes the audit record for podID.
func (s *Store) Remove(podID uint32) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAdmissions)
		return b.Delete(podKey(podID))
	})
}

// List returns every audit record currently stored, for operator
// inspection.
func (s *Store) List() ([]admissionRecord, error) {
	var out []admissionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAdmissions)
		return b.ForEach(func(_, v []byte) error {
			var rec admissionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

func podKey(podID uint32) []byte {
	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key, podID)
	return key
}

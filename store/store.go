package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"
)

var (
	// ErrOpNotFound is returned when an operation record is not found in the journal.
	ErrOpNotFound = errors.New("operation not found")
	// ErrRunNotFound is returned when no records exist for a run.
	ErrRunNotFound = errors.New("run not found")
)

var (
	runsBucket = []byte("runs")
)

// OpState represents the current state of a drain operation.
type OpState string

const (
	StateInProgress OpState = "InProgress"
	StateCompleted  OpState = "Completed"
	// StateSkipped marks an operation abandoned because an endpoint could not be opened.
	StateSkipped OpState = "Skipped"
	// StateFailed marks an operation abandoned after a read, write or seek fault.
	StateFailed OpState = "Failed"
	// StateDropped marks an operation of an unrecognized kind.
	StateDropped OpState = "Dropped"
)

// OpRecord represents the state of one drain operation in the journal.
type OpRecord struct {
	RunID        string  `json:"run_id"`
	Seq          uint64  `json:"seq"`
	Kind         string  `json:"kind"`
	FromFileName string  `json:"from,omitempty"`
	ToFileName   string  `json:"to,omitempty"`
	FromOffset   int64   `json:"from_offset,omitempty"`
	ToOffset     int64   `json:"to_offset,omitempty"`
	CountBytes   int64   `json:"count_bytes"`
	State        OpState `json:"state"`
	BytesRead    int64   `json:"bytes_read"`
	BytesWritten int64   `json:"bytes_written"`
	Checksum     uint64  `json:"crc64,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// Store defines the interface for journaling drain operations.
type Store interface {
	SaveOp(op *OpRecord) error
	GetOp(runID string, seq uint64) (*OpRecord, error)
	ListRun(runID string) ([]*OpRecord, error)
	Close() error
}

// BoltStore is a Store implementation backed by bbolt. Each run gets a nested
// bucket keyed by sequence number so records list in dispatch order.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore creates a new BoltStore at the given path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(runsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create runs bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func seqKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%020d", seq))
}

// SaveOp saves an operation record to the journal.
func (s *BoltStore) SaveOp(op *OpRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(runsBucket).CreateBucketIfNotExists([]byte(op.RunID))
		if err != nil {
			return fmt.Errorf("failed to create run bucket: %w", err)
		}

		data, err := json.Marshal(op)
		if err != nil {
			return fmt.Errorf("failed to marshal op: %w", err)
		}

		if err := b.Put(seqKey(op.Seq), data); err != nil {
			return fmt.Errorf("failed to put op: %w", err)
		}

		return nil
	})
}

// GetOp retrieves an operation record from the journal.
func (s *BoltStore) GetOp(runID string, seq uint64) (*OpRecord, error) {
	var op OpRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(runsBucket).Bucket([]byte(runID))
		if b == nil {
			return ErrOpNotFound
		}
		data := b.Get(seqKey(seq))
		if data == nil {
			return ErrOpNotFound
		}

		if err := json.Unmarshal(data, &op); err != nil {
			return fmt.Errorf("failed to unmarshal op: %w", err)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	return &op, nil
}

// ListRun returns every record of a run in sequence order.
func (s *BoltStore) ListRun(runID string) ([]*OpRecord, error) {
	var ops []*OpRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(runsBucket).Bucket([]byte(runID))
		if b == nil {
			return ErrRunNotFound
		}
		return b.ForEach(func(_, v []byte) error {
			var op OpRecord
			if err := json.Unmarshal(v, &op); err != nil {
				return fmt.Errorf("failed to unmarshal op: %w", err)
			}
			ops = append(ops, &op)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ops, nil
}

// Runs returns the IDs of all journaled runs.
func (s *BoltStore) Runs() ([]string, error) {
	var runs []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(runsBucket).ForEachBucket(func(k []byte) error {
			runs = append(runs, string(k))
			return nil
		})
	})
	return runs, err
}

// Close closes the underlying store.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

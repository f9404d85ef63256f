package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const (
	BucketRuns = "runs"
)

// Store keeps run history in a bbolt file. Keys are time-ordered UUIDs so
// cursor order is chronological.
type Store struct {
	db *bbolt.DB
}

// DefaultPath is the history file under the user's home directory.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".stressq", "history.db"), nil
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}

	// Initialize Buckets
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(BucketRuns))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores run, assigning an ID and timestamp when missing, and returns
// the stored value.
func (s *Store) Save(run Run) (Run, error) {
	if run.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return run, err
		}
		run.ID = id.String()
	}
	if run.Timestamp.IsZero() {
		run.Timestamp = time.Now()
	}

	data, err := json.Marshal(run)
	if err != nil {
		return run, err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(BucketRuns)).Put([]byte(run.ID), data)
	})
	return run, err
}

// List returns stored runs, newest first. Entries that fail to decode are
// skipped.
func (s *Store) List() ([]Run, error) {
	var runs []Run
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(BucketRuns)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var run Run
			if err := json.Unmarshal(v, &run); err == nil {
				runs = append(runs, run)
			}
		}
		return nil
	})
	return runs, err
}

func (s *Store) Get(id string) (*Run, error) {
	var run Run
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(BucketRuns)).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(v, &run)
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

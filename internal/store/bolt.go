package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	v1alpha1 "github.com/klubi/scout/pkg/apis/v1alpha1"
)

var bucketName = []byte("runs")

// openTimeout bounds how long Open waits for another scout process to
// release the database file lock.
const openTimeout = time.Second

// BoltStore persists runs to a BoltDB file on disk.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) a BoltDB database at path, creating its
// parent directory if needed.
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	// Ensure the bucket exists.
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// ---------- CRUD ----------

func (b *BoltStore) Create(run *v1alpha1.Run) error {
	if err := checkRun(run); err != nil {
		return err
	}
	raw, err := json.Marshal(run)
	if err != nil {
		return err
	}

	key := []byte(RunKey(run.Metadata.Name))
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketName)
		if bkt.Get(key) != nil {
			return ErrAlreadyExists
		}
		return bkt.Put(key, raw)
	})
}

func (b *BoltStore) Get(id string) (*v1alpha1.Run, error) {
	var run v1alpha1.Run
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketName).Get([]byte(RunKey(id)))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &run)
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (b *BoltStore) Update(run *v1alpha1.Run) error {
	if err := checkRun(run); err != nil {
		return err
	}
	raw, err := json.Marshal(run)
	if err != nil {
		return err
	}

	key := []byte(RunKey(run.Metadata.Name))
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketName)
		if bkt.Get(key) == nil {
			return ErrNotFound
		}
		return bkt.Put(key, raw)
	})
}

func (b *BoltStore) Delete(id string) error {
	key := []byte(RunKey(id))
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketName)
		if bkt.Get(key) == nil {
			return ErrNotFound
		}
		return bkt.Delete(key)
	})
}

// ---------- List ----------

func (b *BoltStore) List() ([]*v1alpha1.Run, error) {
	var runs []*v1alpha1.Run

	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		prefix := runPrefix()

		for k, v := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Next() {
			var run v1alpha1.Run
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("corrupt record %s: %w", k, err)
			}
			runs = append(runs, &run)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	newestFirst(runs)
	return runs, nil
}

// ---------- Close ----------

func (b *BoltStore) Close() error {
	return b.db.Close()
}

package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/burrow/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketAllocations = []byte("allocations")
	bucketContainers  = []byte("containers")
	bucketMeta        = []byte("meta")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "burrow.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketAllocations, bucketContainers, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) put(bucket []byte, key string, v interface{}) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

func (s *BoltStore) delete(bucket []byte, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}

// Allocation operations
func (s *BoltStore) PutAllocation(alloc *types.NetworkAllocation) error {
	return s.put(bucketAllocations, alloc.ContainerID, alloc)
}

func (s *BoltStore) GetAllocation(containerID string) (*types.NetworkAllocation, error) {
	var alloc types.NetworkAllocation
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAllocations).Get([]byte(containerID))
		if data == nil {
			return fmt.Errorf("allocation for %s: %w", containerID, types.ErrNotFound)
		}
		return json.Unmarshal(data, &alloc)
	})
	if err != nil {
		return nil, err
	}
	return &alloc, nil
}

func (s *BoltStore) ListAllocations() ([]*types.NetworkAllocation, error) {
	var allocs []*types.NetworkAllocation
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAllocations).ForEach(func(k, v []byte) error {
			var alloc types.NetworkAllocation
			if err := json.Unmarshal(v, &alloc); err != nil {
				return err
			}
			allocs = append(allocs, &alloc)
			return nil
		})
	})
	return allocs, err
}

func (s *BoltStore) DeleteAllocation(containerID string) error {
	return s.delete(bucketAllocations, containerID)
}

// Container operations
func (s *BoltStore) PutContainer(ctr *types.Container) error {
	return s.put(bucketContainers, ctr.ID, ctr)
}

func (s *BoltStore) GetContainer(id string) (*types.Container, error) {
	var ctr types.Container
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketContainers).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("container record %s: %w", id, types.ErrNotFound)
		}
		return json.Unmarshal(data, &ctr)
	})
	if err != nil {
		return nil, err
	}
	return &ctr, nil
}

func (s *BoltStore) ListContainers() ([]*types.Container, error) {
	var ctrs []*types.Container
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketContainers).ForEach(func(k, v []byte) error {
			var ctr types.Container
			if err := json.Unmarshal(v, &ctr); err != nil {
				return err
			}
			ctrs = append(ctrs, &ctr)
			return nil
		})
	})
	return ctrs, err
}

func (s *BoltStore) DeleteContainer(id string) error {
	return s.delete(bucketContainers, id)
}

// Meta operations
func (s *BoltStore) GetMeta(key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bolt.Tx) error {
		value = string(tx.Bucket(bucketMeta).Get([]byte(key)))
		return nil
	})
	return value, err
}

func (s *BoltStore) PutMeta(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put([]byte(key), []byte(value))
	})
}

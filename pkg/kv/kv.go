// Package kv provides a small durable key/value layer backed by bbolt, used
// to persist the scalar state a shard must survive restarts with: its
// config, replication cursor, and current cold-shard index. Each key is
// written independently rather than as part of a larger transaction, per the
// design note in spec.md section 9 that these are individually-durable
// key/value writes, not a transaction.
package kv

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var bucketName = []byte("shard-state")

// Store wraps a single bbolt database file holding one shard's persisted
// scalars.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the bbolt file at path and ensures the
// state bucket exists.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening kv store %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating state bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Get returns the raw bytes for key, or nil if absent.
func (s *Store) Get(key string) ([]byte, error) {
	var val []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		v := b.Get([]byte(key))
		if v != nil {
			val = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading key %s: %w", key, err)
	}
	return val, nil
}

// Put durably writes key to value, independent of any other key.
func (s *Store) Put(key string, value []byte) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("writing key %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

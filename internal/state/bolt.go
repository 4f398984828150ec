package state

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pterm/pterm"
	"go.etcd.io/bbolt"
)

const boltBucket = "documents"

// BoltStore keeps documents in a single bucket of a bbolt file.
type BoltStore struct {
	db *bbolt.DB
}

func NewBoltStore(path string, logger *pterm.Logger) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb (file may be locked by another process): %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	logger.Info("BoltDB state store initialized", logger.Args("db_path", path))
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Read(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket([]byte(boltBucket)).Get([]byte(key))
		if val == nil {
			return ErrNotFound
		}
		// values are only valid for the life of the transaction
		data = append([]byte(nil), val...)
		return nil
	})
	return data, err
}

func (s *BoltStore) Write(ctx context.Context, key string, data []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(boltBucket)).Put([]byte(key), data)
	})
}

func (s *BoltStore) List(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(boltBucket)).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	keys = match(pattern, keys)
	sort.Strings(keys)
	return keys, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

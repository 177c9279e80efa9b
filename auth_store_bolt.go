package recordbase

import (
	"fmt"

	"go.etcd.io/bbolt"
)

var (
	boltAuthBucket = []byte("auth")
	boltAuthKey    = []byte("current")
)

// BoltAuthStore is an AsyncAuthStore persisted in a local bbolt database,
// for CLI and device clients that need the session to survive restarts.
type BoltAuthStore struct {
	*AsyncAuthStore
	db *bbolt.DB
}

// NewBoltAuthStore opens (or creates) the database at dbPath and restores any
// previously persisted session into the store.
func NewBoltAuthStore(dbPath string, telemetry TelemetryHooks) (*BoltAuthStore, error) {
	db, err := bbolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("recordbase: failed to open auth db: %w", err)
	}

	var initial []byte
	err = db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(boltAuthBucket)
		if err != nil {
			return err
		}
		if data := bucket.Get(boltAuthKey); data != nil {
			initial = append([]byte(nil), data...)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("recordbase: failed to initialize auth bucket: %w", err)
	}

	s := &BoltAuthStore{db: db}
	s.AsyncAuthStore = NewAsyncAuthStore(AsyncAuthStoreConfig{
		InitialData: string(initial),
		Telemetry:   telemetry,
		SaveFunc: func(serialized string) error {
			return db.Update(func(tx *bbolt.Tx) error {
				return tx.Bucket(boltAuthBucket).Put(boltAuthKey, []byte(serialized))
			})
		},
		ClearFunc: func() error {
			return db.Update(func(tx *bbolt.Tx) error {
				return tx.Bucket(boltAuthBucket).Delete(boltAuthKey)
			})
		},
	})
	return s, nil
}

// Close releases the underlying database.
func (s *BoltAuthStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

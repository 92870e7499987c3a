package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketConsumed = []byte("consumed_signatures")

// BoltStore is a persistent replay guard backed by a bbolt file. bbolt
// serializes writers, so the get-then-put inside one Update transaction is
// a true uniqueness constraint.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the replay-guard database at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open replay store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketConsumed)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init replay store: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Reserve(ctx context.Context, record ConsumedSignature) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if record.Signature == "" {
		return false, fmt.Errorf("empty signature")
	}
	if record.ConsumedAt.IsZero() {
		record.ConsumedAt = time.Now().UTC()
	}

	reserved := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConsumed)
		key := []byte(record.Signature)
		if b.Get(key) != nil {
			return nil
		}
		value, err := json.Marshal(record)
		if err != nil {
			return err
		}
		if err := b.Put(key, value); err != nil {
			return err
		}
		reserved = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("reserve signature: %w", err)
	}
	return reserved, nil
}

func (s *BoltStore) Get(ctx context.Context, signature string) (*ConsumedSignature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var record *ConsumedSignature
	err := s.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(bucketConsumed).Get([]byte(signature))
		if value == nil {
			return nil
		}
		record = &ConsumedSignature{}
		return json.Unmarshal(value, record)
	})
	if err != nil {
		return nil, fmt.Errorf("load signature record: %w", err)
	}
	return record, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

var _ Store = (*BoltStore)(nil)

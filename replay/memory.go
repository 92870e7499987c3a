package replay

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process replay guard for tests and single-instance
// deployments where the audit trail need not survive restarts.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]ConsumedSignature
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]ConsumedSignature)}
}

func (s *MemoryStore) Reserve(ctx context.Context, record ConsumedSignature) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if record.ConsumedAt.IsZero() {
		record.ConsumedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.Signature]; exists {
		return false, nil
	}
	s.records[record.Signature] = record
	return true, nil
}

func (s *MemoryStore) Get(ctx context.Context, signature string) (*ConsumedSignature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	record, exists := s.records[signature]
	if !exists {
		return nil, nil
	}
	return &record, nil
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)

package pool

import (
	"context"
	"sync"

	"github.com/drosera/sniper/internal/raydium"
)

// MemoryStore is an in-memory Store used by tests and dry runs.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	records map[int64]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:  1,
		records: make(map[int64]*Record),
	}
}

func (s *MemoryStore) InsertRecord(_ context.Context, record *Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++

	stored := *record
	stored.ID = id
	s.records[id] = &stored
	return id, nil
}

func (s *MemoryStore) FindRecord(_ context.Context, id int64) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return nil, ErrPoolNotFound
	}
	copied := *record
	return &copied, nil
}

func (s *MemoryStore) UpdateMarketExtras(_ context.Context, id int64, extras raydium.MarketExtras) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return ErrPoolNotFound
	}
	record.ApplyMarketExtras(extras)
	return nil
}

// Len reports the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

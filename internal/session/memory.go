package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tatianab/storyframe/internal/apperrors"
	"github.com/tatianab/storyframe/internal/models"
)

// MemoryStore implements Store using in-memory maps with optimistic locking.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	history map[string][]models.HistoryEntry
	leases  *leases
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		history: make(map[string][]models.HistoryEntry),
		leases:  newLeases(),
	}
}

func (s *MemoryStore) Load(ctx context.Context, id string) (*Record, error) {
	if err := CheckID(id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.records[id]
	if !ok {
		return newRecord(id), nil
	}
	out := *stored
	out.State = stored.State.Clone()
	return &out, nil
}

func (s *MemoryStore) Save(ctx context.Context, rec *Record) error {
	if err := CheckID(rec.ID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	stored, ok := s.records[rec.ID]
	if ok {
		current = stored.Version
	}
	if current != rec.Version {
		return apperrors.Storage("save state for "+rec.ID, ErrVersionConflict)
	}

	now := time.Now()
	if !ok {
		rec.CreatedAt = now
	}
	rec.Version++
	rec.UpdatedAt = now

	copied := *rec
	copied.State = rec.State.Clone()
	s.records[rec.ID] = &copied
	return nil
}

func (s *MemoryStore) AppendHistory(ctx context.Context, id string, entry models.HistoryEntry) error {
	if err := CheckID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[id] = append(s.history[id], entry)
	return nil
}

func (s *MemoryStore) History(ctx context.Context, id string) ([]models.HistoryEntry, error) {
	if err := CheckID(id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.HistoryEntry(nil), s.history[id]...), nil
}

func (s *MemoryStore) TruncateHistory(ctx context.Context, id string, fromTurn int) error {
	if err := CheckID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[id] = truncate(s.history[id], fromTurn)
	return nil
}

func (s *MemoryStore) Reset(ctx context.Context, id string) error {
	if err := CheckID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	delete(s.history, id)
	return nil
}

func (s *MemoryStore) Acquire(ctx context.Context, id string) (func(), error) {
	if err := CheckID(id); err != nil {
		return nil, err
	}
	return s.leases.acquire(ctx, id)
}

func (s *MemoryStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

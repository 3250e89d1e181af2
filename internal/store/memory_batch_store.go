package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tobyfell/imagepress/internal/domain"
)

type MemoryBatchStore struct {
	mu      sync.RWMutex
	batches map[string]domain.Batch
}

func NewMemoryBatchStore() *MemoryBatchStore {
	return &MemoryBatchStore{
		batches: make(map[string]domain.Batch),
	}
}

func (s *MemoryBatchStore) Create(_ context.Context, batch domain.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[batch.ID] = batch
	return nil
}

func (s *MemoryBatchStore) Get(_ context.Context, id string) (domain.Batch, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	batch, ok := s.batches[id]
	return batch, ok, nil
}

func (s *MemoryBatchStore) UpdateStatus(_ context.Context, id, status string) (domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(id, status, nil)
}

func (s *MemoryBatchStore) SetOutcome(_ context.Context, id, status string, files []domain.FileRecord) (domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(id, status, files)
}

func (s *MemoryBatchStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[id]; !ok {
		return ErrBatchNotFound
	}
	delete(s.batches, id)
	return nil
}

// transition assumes the write lock is held.
func (s *MemoryBatchStore) transition(id, status string, files []domain.FileRecord) (domain.Batch, error) {
	batch, ok := s.batches[id]
	if !ok {
		return domain.Batch{}, ErrBatchNotFound
	}
	if !domain.CanTransition(batch.Status, status) {
		return domain.Batch{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, batch.Status, status)
	}

	batch.Status = status
	if files != nil {
		batch.Files = files
	}
	batch.UpdatedAt = time.Now().UTC()
	s.batches[id] = batch
	return batch, nil
}

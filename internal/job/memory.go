package job

import (
	"context"
	"sort"
	"sync"
)

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is an in-memory implementation of Repository.
// It uses a map with RWMutex for thread-safe access.
// Batches do not outlive the process; the manifest is the durable record.
type MemoryRepository struct {
	mu      sync.RWMutex
	batches map[string]*Batch
}

// NewMemoryRepository creates a new in-memory batch repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		batches: make(map[string]*Batch),
	}
}

// Save persists a snapshot of the batch.
// Creates a clone to avoid external mutations.
func (r *MemoryRepository) Save(_ context.Context, batch *Batch) error {
	snapshot := batch.Clone()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches[batch.ID] = snapshot
	return nil
}

// FindByID retrieves a batch by its ID.
// Returns a clone to prevent external mutations.
func (r *MemoryRepository) FindByID(_ context.Context, id string) (*Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	batch, ok := r.batches[id]
	if !ok {
		return nil, ErrBatchNotFound
	}
	return batch.Clone(), nil
}

// List returns all batches ordered by creation time.
// Returns clones to prevent external mutations.
func (r *MemoryRepository) List(_ context.Context) ([]*Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Batch, 0, len(r.batches))
	for _, batch := range r.batches {
		result = append(result, batch.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// Delete removes a batch from storage.
func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.batches[id]; !ok {
		return ErrBatchNotFound
	}
	delete(r.batches, id)
	return nil
}

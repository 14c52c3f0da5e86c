// internal/storage/memory_store.go
package storage

import (
	"context"
	"sync"
	"time"

	"github.com/Corphon/PickupDesk/internal/models"
)

type itemKey struct {
	itemType models.ItemType
	id       string
}

// MemoryStore keeps items in a map; every compare-and-set runs under one mutex
type MemoryStore struct {
	mu    sync.RWMutex
	items map[itemKey]*models.Item
	now   func() time.Time
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[itemKey]*models.Item),
		now:   time.Now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, itemType models.ItemType, id string) (*models.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[itemKey{itemType, id}]
	if !ok {
		return nil, notFound(itemType, id)
	}
	return item.Clone(), nil
}

func (s *MemoryStore) ConditionalTransition(ctx context.Context, itemType models.ItemType, id string, from, to models.Status) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.swapLocked(itemType, id, from, to), nil
}

func (s *MemoryStore) BulkConditionalTransition(ctx context.Context, itemType models.ItemType, ids []string, from, to models.Status) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := make([]string, 0, len(ids))
	for _, id := range ids {
		if s.swapLocked(itemType, id, from, to) {
			applied = append(applied, id)
		}
	}
	return applied, nil
}

func (s *MemoryStore) swapLocked(itemType models.ItemType, id string, from, to models.Status) bool {
	item, ok := s.items[itemKey{itemType, id}]
	if !ok || item.Status != from {
		return false
	}
	item.Status = to
	item.UpdatedAt = s.now().UTC()
	return true
}

func (s *MemoryStore) Put(ctx context.Context, item *models.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := item.Clone()
	stored.UpdatedAt = s.now().UTC()

	s.mu.Lock()
	s.items[itemKey{item.Type, item.ID}] = stored
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored items
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *MemoryStore) Close() error { return nil }

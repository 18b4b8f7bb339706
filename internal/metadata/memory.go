package metadata

import (
	"context"
	"fmt"
	"sync"

	"github.com/andresuchdata/parquetwrite/internal/domain"
)

// MemoryStore keeps entities in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]domain.Entity
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]domain.Entity)}
}

func (s *MemoryStore) Query(ctx context.Context, namespace string, filter map[string]any) ([]domain.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateNamespace(namespace); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Entity
	for _, e := range s.data[namespace] {
		if !matches(e.Properties, filter) {
			continue
		}
		props, err := normalizeProperties(e.Properties)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Entity{Key: e.Key, Properties: props})
	}
	return out, nil
}

func (s *MemoryStore) Put(ctx context.Context, namespace string, e domain.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateNamespace(namespace); err != nil {
		return err
	}
	if e.Key == "" {
		return fmt.Errorf("entity key must be provided")
	}
	props, err := normalizeProperties(e.Properties)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entities := s.data[namespace]
	for i := range entities {
		if entities[i].Key == e.Key {
			entities[i].Properties = props
			return nil
		}
	}
	s.data[namespace] = append(entities, domain.Entity{Key: e.Key, Properties: props})
	return nil
}

// Len returns the number of entities in namespace.
func (s *MemoryStore) Len(namespace string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[namespace])
}

var _ Store = (*MemoryStore)(nil)

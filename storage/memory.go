package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps objects in memory. It is meant for tests and for
// embedding the SCP in a process that consumes objects directly.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*Object
	order   []string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]*Object)}
}

// Store implements Store. The returned location is memory://<instance UID>.
func (s *MemoryStore) Store(ctx context.Context, obj *Object) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	stored := *obj
	stored.DataSet = append([]byte(nil), obj.DataSet...)
	if stored.ReceivedAt.IsZero() {
		stored.ReceivedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objects[stored.SOPInstanceUID]; !exists {
		s.order = append(s.order, stored.SOPInstanceUID)
	}
	s.objects[stored.SOPInstanceUID] = &stored
	return "memory://" + stored.SOPInstanceUID, nil
}

// Get returns a copy of a stored object.
func (s *MemoryStore) Get(sopInstanceUID string) (*Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[sopInstanceUID]
	if !ok {
		return nil, false
	}
	c := *obj
	return &c, true
}

// List returns the stored objects in first-stored order.
func (s *MemoryStore) List() []*Object {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Object, 0, len(s.order))
	for _, id := range s.order {
		c := *s.objects[id]
		out = append(out, &c)
	}
	return out
}

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

package memory

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore keeps records in process memory.
type InMemoryStore struct {
	mu     sync.RWMutex
	items  map[string]map[string]Item // encoded namespace -> key -> item
	closed bool
	now    func() time.Time
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		items: make(map[string]map[string]Item),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Put implements Store.
func (s *InMemoryStore) Put(_ context.Context, ns Namespace, key string, value map[string]any) error {
	if err := validateWrite(ns, key); err != nil {
		return err
	}
	doc, err := normalize(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	enc := ns.encode()
	bucket := s.items[enc]
	if bucket == nil {
		bucket = make(map[string]Item)
		s.items[enc] = bucket
	}

	now := s.now()
	created := now
	if old, ok := bucket[key]; ok {
		created = old.CreatedAt
	}
	bucket[key] = Item{
		Namespace: append(Namespace(nil), ns...),
		Key:       key,
		Value:     doc,
		CreatedAt: created,
		UpdatedAt: now,
	}
	return nil
}

// Get implements Store.
func (s *InMemoryStore) Get(_ context.Context, ns Namespace, key string) (*Item, error) {
	if err := validateWrite(ns, key); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	it, ok := s.items[ns.encode()][key]
	if !ok {
		return nil, ErrNotFound
	}
	it.Value = cloneValue(it.Value)
	return &it, nil
}

// Search implements Store.
func (s *InMemoryStore) Search(_ context.Context, prefix Namespace, opts ...SearchOption) ([]Item, error) {
	if err := prefix.validatePrefix(); err != nil {
		return nil, err
	}
	cfg := newSearchConfig(opts)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var items []Item
	for _, bucket := range s.items {
		for _, it := range bucket {
			if !it.Namespace.HasPrefix(prefix) {
				continue
			}
			it.Value = cloneValue(it.Value)
			items = append(items, it)
		}
	}
	return cfg.apply(items), nil
}

// Delete implements Store.
func (s *InMemoryStore) Delete(_ context.Context, ns Namespace, key string) error {
	if err := validateWrite(ns, key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	enc := ns.encode()
	delete(s.items[enc], key)
	if len(s.items[enc]) == 0 {
		delete(s.items, enc)
	}
	return nil
}

// Close implements Store.
func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.items = nil
	return nil
}

package checkpoint

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory checkpoint store.
// Data is lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]map[int]storedCheckpoint // threadID -> step -> checkpoint
	closed bool
}

type storedCheckpoint struct {
	data      []byte
	timestamp time.Time
}

// NewMemoryStore creates a new in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]map[int]storedCheckpoint),
	}
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, threadID string, step int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if m.data[threadID] == nil {
		m.data[threadID] = make(map[int]storedCheckpoint)
	}

	stored := make([]byte, len(data))
	copy(stored, data)
	m.data[threadID][step] = storedCheckpoint{data: stored, timestamp: time.Now().UTC()}
	return nil
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, threadID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	steps, ok := m.data[threadID]
	if !ok || len(steps) == 0 {
		return nil, ErrNotFound
	}
	latest := -1
	for step := range steps {
		if step > latest {
			latest = step
		}
	}
	return cloneBytes(steps[latest].data), nil
}

// LoadStep implements Store.
func (m *MemoryStore) LoadStep(_ context.Context, threadID string, step int) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	cp, ok := m.data[threadID][step]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBytes(cp.data), nil
}

// History implements Store.
func (m *MemoryStore) History(_ context.Context, threadID string) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	steps := m.data[threadID]
	infos := make([]Info, 0, len(steps))
	for step, cp := range steps {
		infos = append(infos, Info{
			ThreadID:  threadID,
			Step:      step,
			Timestamp: cp.timestamp,
			Size:      int64(len(cp.data)),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Step < infos[j].Step })
	return infos, nil
}

// Threads implements Store.
func (m *MemoryStore) Threads(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	threads := make([]string, 0, len(m.data))
	for id, steps := range m.data {
		if len(steps) > 0 {
			threads = append(threads, id)
		}
	}
	sort.Strings(threads)
	return threads, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	delete(m.data, threadID)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.data = nil
	return nil
}

// Len returns the total number of checkpoints across all threads.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, steps := range m.data {
		count += len(steps)
	}
	return count
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

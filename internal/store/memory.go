package store

import (
	"encoding/json"
	"strings"
	"sync"

	v1alpha1 "github.com/klubi/scout/pkg/apis/v1alpha1"
)

// MemoryStore is a thread-safe, in-memory Store. Records are kept as JSON
// so callers never share state with the store.
// Useful for unit tests and runs without --save-log.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte // key -> JSON bytes
}

// NewMemoryStore creates a ready-to-use in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
	}
}

// ---------- CRUD ----------

func (m *MemoryStore) Create(run *v1alpha1.Run) error {
	if err := checkRun(run); err != nil {
		return err
	}
	raw, err := json.Marshal(run)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := RunKey(run.Metadata.Name)
	if _, exists := m.data[key]; exists {
		return ErrAlreadyExists
	}
	m.data[key] = raw
	return nil
}

func (m *MemoryStore) Get(id string) (*v1alpha1.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	raw, ok := m.data[RunKey(id)]
	if !ok {
		return nil, ErrNotFound
	}
	var run v1alpha1.Run
	if err := json.Unmarshal(raw, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (m *MemoryStore) Update(run *v1alpha1.Run) error {
	if err := checkRun(run); err != nil {
		return err
	}
	raw, err := json.Marshal(run)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := RunKey(run.Metadata.Name)
	if _, exists := m.data[key]; !exists {
		return ErrNotFound
	}
	m.data[key] = raw
	return nil
}

func (m *MemoryStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := RunKey(id)
	if _, exists := m.data[key]; !exists {
		return ErrNotFound
	}
	delete(m.data, key)
	return nil
}

// ---------- List ----------

func (m *MemoryStore) List() ([]*v1alpha1.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := runPrefix()
	var runs []*v1alpha1.Run
	for key, raw := range m.data {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		var run v1alpha1.Run
		if err := json.Unmarshal(raw, &run); err != nil {
			return nil, err
		}
		runs = append(runs, &run)
	}
	newestFirst(runs)
	return runs, nil
}

// ---------- Close ----------

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string][]byte)
	return nil
}

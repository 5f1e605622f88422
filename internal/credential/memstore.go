package credential

import (
	"context"
	"sync"
)

// MemStore keeps tokens in process memory. Nothing survives a restart.
type MemStore struct {
	mu   sync.Mutex
	kv   map[string]string
	sets []string
}

func NewMemStore() *MemStore {
	return &MemStore{kv: make(map[string]string)}
}

func (m *MemStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.kv[key], nil
}

func (m *MemStore) Set(_ context.Context, key string, value string) error {
	m.mu.Lock()
	m.kv[key] = value
	m.sets = append(m.sets, key)
	m.mu.Unlock()
	return nil
}

func (m *MemStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.kv, key)
	m.mu.Unlock()
	return nil
}

// Writes returns the keys passed to Set, in call order.
func (m *MemStore) Writes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sets))
	copy(out, m.sets)
	return out
}

// ABOUTME: Key-value contract behind the local replica store, plus an in-process implementation
// ABOUTME: Update is a read-modify-write of the current stored value, never of a cached copy
package replica

import (
	"sync"
)

// KV is the durable key-value space a Store persists its snapshot in.
type KV interface {
	// Get returns nil, nil when key is absent.
	Get(key []byte) ([]byte, error)
	// Update reads the current value of key, passes it to fn and stores what
	// fn returns, as one step with respect to other Update calls.
	Update(key []byte, fn func(current []byte) ([]byte, error)) error
	Close() error
}

// MemoryKV is a non-durable KV for tests and for running without a replica
// directory.
type MemoryKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

func (m *MemoryKV) Get(key []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryKV) Set(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryKV) Update(key []byte, fn func(current []byte) ([]byte, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var cur []byte
	if v, ok := m.data[string(key)]; ok {
		cur = append([]byte(nil), v...)
	}
	next, err := fn(cur)
	if err != nil {
		return err
	}
	m.data[string(key)] = next
	return nil
}

func (m *MemoryKV) Close() error {
	return nil
}

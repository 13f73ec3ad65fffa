package persist

import (
	"context"
	"sync"
)

// Memory is an in-process Backend. Several adapters sharing one Memory behave
// like browser tabs sharing one storage area: each sees the others' writes as
// change notifications.
type Memory struct {
	mu     sync.Mutex
	data   map[string][]byte
	subs   map[string]map[int]func()
	nextID int
}

// NewMemory creates an empty in-process backend.
func NewMemory() *Memory {
	return &Memory{
		data: make(map[string][]byte),
		subs: make(map[string]map[int]func()),
	}
}

// Read implements Backend.
func (m *Memory) Read(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[key]
	if !ok {
		return nil, ErrAbsent
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Write implements Backend.
func (m *Memory) Write(_ context.Context, key string, data []byte) error {
	stored := make([]byte, len(data))
	copy(stored, data)

	m.mu.Lock()
	m.data[key] = stored
	m.mu.Unlock()

	m.notify(key)
	return nil
}

// Remove implements Backend.
func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	_, existed := m.data[key]
	delete(m.data, key)
	m.mu.Unlock()

	if existed {
		m.notify(key)
	}
	return nil
}

// Subscribe implements Backend. Callbacks run on their own goroutine, like a
// storage event delivered after the writing call returned.
func (m *Memory) Subscribe(key string, fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs[key] == nil {
		m.subs[key] = make(map[int]func())
	}
	id := m.nextID
	m.nextID++
	m.subs[key][id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs[key], id)
	}
}

// Close implements Backend.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = make(map[string]map[int]func())
	return nil
}

func (m *Memory) notify(key string) {
	m.mu.Lock()
	fns := make([]func(), 0, len(m.subs[key]))
	for _, fn := range m.subs[key] {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		go fn()
	}
}

var _ Backend = (*Memory)(nil)

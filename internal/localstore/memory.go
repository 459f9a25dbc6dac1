package localstore

import (
	"context"
	"errors"
	"sync"
)

// ErrInjected is returned by a Memory backend whose writes are set to fail.
var ErrInjected = errors.New("injected write failure")

// Memory is an in-process backend for tests and dry runs.
type Memory struct {
	mu       sync.Mutex
	entries  map[string][]byte
	failPuts bool
	puts     int
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]byte)}
}

// FailPuts makes every subsequent Put return ErrInjected.
func (m *Memory) FailPuts(fail bool) {
	m.mu.Lock()
	m.failPuts = fail
	m.mu.Unlock()
}

// Puts reports how many writes succeeded.
func (m *Memory) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

// Raw overwrites a key with arbitrary bytes.
func (m *Memory) Raw(key string, data []byte) {
	m.mu.Lock()
	m.entries[key] = append([]byte{}, data...)
	m.mu.Unlock()
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte{}, b...), nil
}

func (m *Memory) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPuts {
		return ErrInjected
	}
	m.entries[key] = append([]byte{}, data...)
	m.puts++
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }

package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-process bucket. Contents are lost on exit.
type Memory struct {
	mu        sync.Mutex
	namespace string
	data      map[string][]byte

	// PutError, if set, is returned by Put and nothing is stored.
	PutError error
}

// NewMemory creates an empty in-memory bucket.
func NewMemory(namespace string) *Memory {
	return &Memory{
		namespace: namespace,
		data:      make(map[string][]byte),
	}
}

// Namespace returns the bucket namespace.
func (m *Memory) Namespace() string {
	return m.namespace
}

// Put stores a JSON copy of v.
func (m *Memory) Put(key string, v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutError != nil {
		return m.PutError
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	m.data[key] = data
	return nil
}

// Get decodes the value under key into v.
func (m *Memory) Get(key string, v any) (bool, error) {
	m.mu.Lock()
	data, ok := m.data[key]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := decode(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s/%s: %w", m.namespace, key, err)
	}
	return true, nil
}

// Delete removes key.
func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// Keys lists the stored keys in order.
func (m *Memory) Keys() ([]string, error) {
	m.mu.Lock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	m.mu.Unlock()
	sort.Strings(keys)
	return keys, nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

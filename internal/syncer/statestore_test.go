package syncer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hookbridge/hookbridge/internal/database"
)

// memStore is an in-memory StateStore for tests. It mirrors the Redis
// wrapper's contract, including the ErrKeyNotFound sentinel on missing keys.
// An injectable failure lets tests exercise fail-open behavior.
type memStore struct {
	mu     sync.Mutex
	values map[string]string
	lists  map[string][]string

	// failWith, when set, is returned from every operation. failGets
	// fails only Get, leaving writes healthy.
	failWith error
	failGets error
}

func newMemStore() *memStore {
	return &memStore{
		values: make(map[string]string),
		lists:  make(map[string][]string),
	}
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(v)
	}
}

func (m *memStore) SetWithTTL(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.values[key] = toString(value)
	return nil
}

func (m *memStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return "", m.failWith
	}
	if m.failGets != nil {
		return "", m.failGets
	}
	v, ok := m.values[key]
	if !ok {
		return "", database.ErrKeyNotFound
	}
	return v, nil
}

func (m *memStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return false, m.failWith
	}
	_, ok := m.values[key]
	return ok, nil
}

func (m *memStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	for _, key := range keys {
		delete(m.values, key)
		delete(m.lists, key)
	}
	return nil
}

func (m *memStore) SetIfNotExists(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return false, m.failWith
	}
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = toString(value)
	return true, nil
}

func (m *memStore) ListAppend(_ context.Context, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.lists[key] = append(m.lists[key], toString(value))
	return nil
}

func (m *memStore) ListTrim(_ context.Context, key string, start, stop int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	list := m.lists[key]
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		m.lists[key] = nil
		return nil
	}
	m.lists[key] = list[start : stop+1]
	return nil
}

func (m *memStore) ListRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	list := m.lists[key]
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, list[start:stop+1])
	return out, nil
}

func (m *memStore) Expire(_ context.Context, _ string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failWith
}

func (m *memStore) Scan(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for k := range m.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *memStore) Ping(_ context.Context) error {
	return m.failWith
}

func (m *memStore) chainLen(issueID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lists[syncChainKey(issueID)])
}

var _ StateStore = (*memStore)(nil)

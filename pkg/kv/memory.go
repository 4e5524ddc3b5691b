/*
 * Copyright 2026 FieldOps Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package kv

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store used in tests and for running without a
// bus connection.
type MemoryStore struct {
	mu       sync.RWMutex
	data     map[string][]byte
	watchers map[string][]chan []byte
	closed   bool
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:     make(map[string][]byte),
		watchers: make(map[string][]chan []byte),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}

	out := make([]byte, len(value))
	copy(out, value)

	return out, true, nil
}

func (m *MemoryStore) Put(_ context.Context, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	m.data[key] = stored
	watchers := append([]chan []byte(nil), m.watchers[key]...)
	m.mu.Unlock()

	for _, ch := range watchers {
		select {
		case ch <- stored:
		default:
		}
	}

	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	watchers := append([]chan []byte(nil), m.watchers[key]...)
	m.mu.Unlock()

	for _, ch := range watchers {
		select {
		case ch <- nil:
		default:
		}
	}

	return nil
}

func (m *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string

	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}

	return keys, nil
}

func (m *MemoryStore) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	ch := make(chan []byte, 16)

	m.mu.Lock()
	m.watchers[key] = append(m.watchers[key], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()

		m.mu.Lock()
		defer m.mu.Unlock()

		live := m.watchers[key][:0]

		for _, w := range m.watchers[key] {
			if w != ch {
				live = append(live, w)
			}
		}

		m.watchers[key] = live
		close(ch)
	}()

	return ch, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true

	return nil
}

var _ Store = (*MemoryStore)(nil)

// SPDX-License-Identifier: ice License 1.0

package session

import (
	"context"
	"maps"
	"sync"
)

func NewMemoryKV() KV {
	return &memoryKV{values: make(map[string]string, 1+1+1+1), mx: new(sync.Mutex)}
}

func (m *memoryKV) Get(_ context.Context, keys ...string) (map[string]string, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	values := make(map[string]string, len(keys))
	for _, key := range keys {
		if val, found := m.values[key]; found {
			values[key] = val
		}
	}

	return values, nil
}

func (m *memoryKV) Set(_ context.Context, values map[string]string) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	maps.Copy(m.values, values)

	return nil
}

func (m *memoryKV) Delete(_ context.Context, keys ...string) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	for _, key := range keys {
		delete(m.values, key)
	}

	return nil
}

func (*memoryKV) Close() error {
	return nil
}

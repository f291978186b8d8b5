// Package localstore keeps small named documents on the client machine so the
// board can start without the network.
package localstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"

	"taskboard/task-api/domain"
)

// ErrNotFound is returned by Load when nothing was saved under the key.
var ErrNotFound = errors.New("localstore: key not found")

// Store persists documents by key, overwriting wholesale on Save.
type Store interface {
	Load(ctx context.Context, key string, v any) error
	Save(ctx context.Context, key string, v any) error
}

func storageErr(op, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", domain.ErrStorageFailure, op, key, err)
}

// Memory is a process local Store. Values are stored encoded so callers
// never share memory with the store.
type Memory struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string][]byte)}
}

func (m *Memory) Load(_ context.Context, key string, v any) error {
	m.mu.RLock()
	data, ok := m.docs[key]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	if err := sonic.ConfigStd.Unmarshal(data, v); err != nil {
		return storageErr("decode", key, err)
	}
	return nil
}

func (m *Memory) Save(_ context.Context, key string, v any) error {
	data, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		return storageErr("encode", key, err)
	}
	m.mu.Lock()
	m.docs[key] = data
	m.mu.Unlock()
	return nil
}

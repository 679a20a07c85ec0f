package store

import (
	"context"
	"sort"
	"sync"

	"github.com/andresmejia3/rollcall/internal/types"
)

type slotKey struct {
	key  string
	slot int
}

// Memory is an in-process backend. Nothing survives a restart.
type Memory struct {
	mu         sync.RWMutex
	meta       map[string]types.IdentityMeta
	embeddings map[slotKey][]float32
	images     map[slotKey][]byte
}

func NewMemory() *Memory {
	m := &Memory{}
	m.Reset(context.Background())
	return m
}

func (m *Memory) ListIdentityKeys(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	for k := range m.meta {
		seen[k] = struct{}{}
	}
	for k := range m.embeddings {
		seen[k.key] = struct{}{}
	}
	for k := range m.images {
		seen[k.key] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) ListMetadata(ctx context.Context) ([]types.IdentityMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.IdentityMeta, 0, len(m.meta))
	for _, meta := range m.meta {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Memory) LoadMetadata(ctx context.Context, key string) (types.IdentityMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	meta, ok := m.meta[key]
	if !ok {
		return types.IdentityMeta{}, ErrNotFound
	}
	return meta, nil
}

func (m *Memory) SaveMetadata(ctx context.Context, meta types.IdentityMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta[meta.Key] = meta
	return nil
}

func (m *Memory) UpdateName(ctx context.Context, key, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta, ok := m.meta[key]
	if !ok {
		return ErrNotFound
	}
	meta.Name = name
	m.meta[key] = meta
	return nil
}

func (m *Memory) LoadEmbedding(ctx context.Context, key string, slot int) ([]float32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	vec, ok := m.embeddings[slotKey{key, slot}]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]float32(nil), vec...), nil
}

func (m *Memory) SaveEmbedding(ctx context.Context, key string, slot int, vec []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embeddings[slotKey{key, slot}] = append([]float32(nil), vec...)
	return nil
}

func (m *Memory) LoadImage(ctx context.Context, key string, slot int) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.images[slotKey{key, slot}]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (m *Memory) SaveImage(ctx context.Context, key string, slot int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images[slotKey{key, slot}] = append([]byte(nil), data...)
	return nil
}

func (m *Memory) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta = make(map[string]types.IdentityMeta)
	m.embeddings = make(map[slotKey][]float32)
	m.images = make(map[slotKey][]byte)
	return nil
}

func (m *Memory) Close(ctx context.Context) {}

package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Memory is an in-memory engine used by tests and benchmarks.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

var _ Engine = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, u *URI) (Reader, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objects[u.Path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", u, ErrNotExist)
	}
	return NewBytesReader(b), nil
}

func (m *Memory) Put(_ context.Context, u *URI) (io.WriteCloser, error) {
	return &memWriter{m: m, path: u.Path}, nil
}

func (m *Memory) Delete(_ context.Context, u *URI) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[u.Path]; !ok {
		return fmt.Errorf("%s: %w", u, ErrNotExist)
	}
	delete(m.objects, u.Path)
	return nil
}

func (m *Memory) DeleteByPrefix(_ context.Context, u *URI) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for path := range m.objects {
		if strings.HasPrefix(path, u.Path) {
			delete(m.objects, path)
		}
	}
	return nil
}

func (m *Memory) Exists(_ context.Context, u *URI) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[u.Path]
	return ok, nil
}

func (m *Memory) Size(_ context.Context, u *URI) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objects[u.Path]
	if !ok {
		return 0, fmt.Errorf("%s: %w", u, ErrNotExist)
	}
	return int64(len(b)), nil
}

// List returns the immediate children under a prefix, treating "/" as
// a directory separator the way a filesystem listing would.
func (m *Memory) List(_ context.Context, u *URI) ([]Info, error) {
	prefix := u.Path
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	var infos []Info
	for path, b := range m.objects {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		name, _, nested := strings.Cut(strings.TrimPrefix(path, prefix), "/")
		if seen[name] {
			continue
		}
		seen[name] = true
		size := int64(len(b))
		if nested {
			size = 0
		}
		infos = append(infos, Info{Name: name, Size: size})
	}
	return infos, nil
}

type memWriter struct {
	bytes.Buffer
	m    *Memory
	path string
}

func (w *memWriter) Close() error {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	b := make([]byte, w.Len())
	copy(b, w.Bytes())
	w.m.objects[w.path] = b
	return nil
}

package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
)

// Memory keeps objects in a map. FailPuts and FailDeletes inject errors.
type Memory struct {
	mu          sync.Mutex
	objects     map[string][]byte
	FailPuts    bool
	FailDeletes bool
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

var errInjected = errors.New("storage: injected failure")

func (m *Memory) Put(_ context.Context, key string, r io.Reader, _ string) (Object, error) {
	k, err := cleanKey(key)
	if err != nil {
		return Object{}, err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return Object{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPuts {
		return Object{}, errInjected
	}
	m.objects[k] = buf.Bytes()
	return Object{Key: k, URL: "mem://" + k, Size: int64(buf.Len())}, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailDeletes {
		return errInjected
	}
	if _, ok := m.objects[key]; !ok {
		return ErrNotExist
	}
	delete(m.objects, key)
	return nil
}

// Len returns the number of stored objects.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// Get returns a copy of the stored bytes.
func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	return bytes.Clone(b), ok
}

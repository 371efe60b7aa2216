// Package corestate persists a LogSystem's DBCoreState so a restarted
// cluster controller can reconstruct the prior epoch instead of starting
// recovery from nothing. Store is the seam; ZKStore is the production
// implementation, grounded on the teacher's ZooKeeper membership client,
// and MemStore is an in-process fake for tests.
package corestate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"logsystem/internal/logsystem"
)

// Store reads and writes the single current DBCoreState and notifies
// watchers when it changes underneath them (e.g. another controller wrote
// a newer generation after a split-brain resolved).
type Store interface {
	Read(ctx context.Context) (logsystem.DBCoreState, bool, error)
	Write(ctx context.Context, state logsystem.DBCoreState) error
	Watch(ctx context.Context) <-chan struct{}
	Close() error
}

// MemStore is an in-memory Store, safe for concurrent use, for tests and
// single-process demos.
type MemStore struct {
	mu       sync.Mutex
	state    logsystem.DBCoreState
	present  bool
	watchers []chan struct{}
}

func NewMemStore() *MemStore {
	return &MemStore{}
}

func (m *MemStore) Read(ctx context.Context) (logsystem.DBCoreState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.present, nil
}

func (m *MemStore) Write(ctx context.Context, state logsystem.DBCoreState) error {
	m.mu.Lock()
	m.state = state
	m.present = true
	watchers := m.watchers
	m.watchers = nil
	m.mu.Unlock()

	for _, w := range watchers {
		close(w)
	}
	return nil
}

func (m *MemStore) Watch(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{})
	m.mu.Lock()
	m.watchers = append(m.watchers, ch)
	m.mu.Unlock()
	return ch
}

func (m *MemStore) Close() error { return nil }

// marshal/unmarshal are shared between MemStore's JSON round-trip tests
// and ZKStore's znode payload.
func marshal(state logsystem.DBCoreState) ([]byte, error) {
	b, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("corestate: marshal: %w", err)
	}
	return b, nil
}

func unmarshal(b []byte) (logsystem.DBCoreState, error) {
	var state logsystem.DBCoreState
	if err := json.Unmarshal(b, &state); err != nil {
		return logsystem.DBCoreState{}, fmt.Errorf("corestate: unmarshal: %w", err)
	}
	return state, nil
}

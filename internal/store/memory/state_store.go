// Package memory implements the domain store and ledger interfaces with
// in-process maps. It backs unit tests and the local operating mode; the
// postgres package provides the durable equivalents.
package memory

import (
	"context"
	"sync"

	"github.com/alanyoungcy/marketsettle/internal/domain"
)

// StateStore is an in-memory domain.StateStore. Update stages writes and
// applies them only when the callback succeeds, matching the all-or-nothing
// contract of the postgres implementation.
type StateStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewStateStore creates an empty StateStore.
func NewStateStore() *StateStore {
	return &StateStore{data: make(map[string][]byte)}
}

// View runs fn against a read-only snapshot of the store.
func (s *StateStore) View(ctx context.Context, fn func(kv domain.KV) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&readKV{data: s.data})
}

// Update runs fn against a staged view and applies the staged writes only if
// fn returns nil.
func (s *StateStore) Update(ctx context.Context, fn func(kv domain.KV) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &stagedKV{
		base:    s.data,
		writes:  make(map[string][]byte),
		removed: make(map[string]bool),
	}
	if err := fn(tx); err != nil {
		return err
	}

	for k, v := range tx.writes {
		s.data[k] = v
	}
	for k := range tx.removed {
		delete(s.data, k)
	}
	return nil
}

// Len returns the number of stored keys. Test helper.
func (s *StateStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

type readKV struct {
	data map[string][]byte
}

func (kv *readKV) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := kv.data[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (kv *readKV) Has(_ context.Context, key string) (bool, error) {
	_, ok := kv.data[key]
	return ok, nil
}

func (kv *readKV) Set(context.Context, string, []byte) error {
	return errReadOnly
}

func (kv *readKV) Remove(context.Context, string) error {
	return errReadOnly
}

type stagedKV struct {
	base    map[string][]byte
	writes  map[string][]byte
	removed map[string]bool
}

func (kv *stagedKV) Get(_ context.Context, key string) ([]byte, error) {
	if kv.removed[key] {
		return nil, domain.ErrNotFound
	}
	if v, ok := kv.writes[key]; ok {
		out := make([]byte, len(v))
		copy(out, v)
		return out, nil
	}
	v, ok := kv.base[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (kv *stagedKV) Has(ctx context.Context, key string) (bool, error) {
	if kv.removed[key] {
		return false, nil
	}
	if _, ok := kv.writes[key]; ok {
		return true, nil
	}
	_, ok := kv.base[key]
	return ok, nil
}

func (kv *stagedKV) Set(_ context.Context, key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	kv.writes[key] = v
	delete(kv.removed, key)
	return nil
}

func (kv *stagedKV) Remove(_ context.Context, key string) error {
	delete(kv.writes, key)
	kv.removed[key] = true
	return nil
}

var errReadOnly = readOnlyError{}

type readOnlyError struct{}

func (readOnlyError) Error() string { return "memory: write inside read-only view" }

var _ domain.StateStore = (*StateStore)(nil)

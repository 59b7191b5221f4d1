package ingest

import (
	"context"
	"sync"

	"github.com/atomicswap/resolver/pkg/swap"
)

// CursorStore persists the per-chain high-water mark of spec §3.1. The
// Postgres-backed implementation lives in internal/platform/storage; this
// package only depends on the interface so tests and local/dev runs can
// use an in-memory store instead.
type CursorStore interface {
	Get(ctx context.Context, chain swap.ChainID) (height uint64, found bool, err error)
	Set(ctx context.Context, chain swap.ChainID, height uint64) error
}

// MemoryCursorStore is a process-local CursorStore, used in tests and by
// any deployment happy to lose its cursor on restart (after a restart the
// Ingestor finds no cursor and treats it as 0).
type MemoryCursorStore struct {
	mu    sync.Mutex
	marks map[swap.ChainID]uint64
}

// NewMemoryCursorStore constructs an empty MemoryCursorStore.
func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{marks: make(map[swap.ChainID]uint64)}
}

func (m *MemoryCursorStore) Get(ctx context.Context, chain swap.ChainID) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.marks[chain]
	return h, ok, nil
}

func (m *MemoryCursorStore) Set(ctx context.Context, chain swap.ChainID, height uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks[chain] = height
	return nil
}

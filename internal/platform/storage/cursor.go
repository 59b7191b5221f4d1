package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/atomicswap/resolver/pkg/swap"
)

// CursorRepository persists per-chain cursors (spec §3.1/§4.2). It
// satisfies internal/ingest.CursorStore structurally without importing
// that package, keeping the storage→ingest dependency one-directional.
type CursorRepository struct {
	db *DB
}

// NewCursorRepository creates a new CursorRepository.
func NewCursorRepository(db *DB) *CursorRepository {
	return &CursorRepository{db: db}
}

// Get returns the persisted cursor for chain, or found=false if none has
// been committed yet (cold start, spec §4.2).
func (r *CursorRepository) Get(ctx context.Context, chain swap.ChainID) (uint64, bool, error) {
	var height int64
	err := r.db.pool.QueryRow(ctx, `SELECT block_height FROM cursors WHERE chain = $1`, string(chain)).Scan(&height)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("query cursor: %w", err)
	}
	return uint64(height), true, nil
}

// Set persists chain's cursor at height, overwriting any prior value.
func (r *CursorRepository) Set(ctx context.Context, chain swap.ChainID, height uint64) error {
	sql := `
		INSERT INTO cursors (chain, block_height, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (chain) DO UPDATE SET block_height = EXCLUDED.block_height, updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.pool.Exec(ctx, sql, string(chain), int64(height), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("persist cursor: %w", err)
	}
	return nil
}

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/atomicswap/resolver/pkg/swap"
)

// OrderRepository persists orders, their HTLC mirrors, and the order-state
// outbox that feeds the NATS JetStream fanout — the teacher's
// transactional-outbox pattern (formerly over canonical events, now over
// order-state transitions).
type OrderRepository struct {
	db *DB
}

// NewOrderRepository creates a new OrderRepository.
func NewOrderRepository(db *DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// SaveOrderWithOutbox atomically upserts an order row, its HTLC mirrors,
// and a pending outbox row recording the new state — the same
// transaction the spec's "state changes and their NATS outbox row commit
// together" requirement (SPEC_FULL.md §4.3.9) calls for.
func (r *OrderRepository) SaveOrderWithOutbox(ctx context.Context, order swap.CrossChainOrder, source, target *swap.HTLCMirror) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		orderSQL := `
			INSERT INTO orders (
				order_hash, maker, source_chain, target_chain,
				source_htlc_id, target_htlc_id, token_in, token_out,
				amount_in, amount_out, hashlock, timelock, target_timelock,
				state, needs_attention, created_at, updated_at
			) VALUES (
				$1, $2, $3, $4,
				$5, $6, $7, $8,
				$9, $10, $11, $12, $13,
				$14, $15, $16, $17
			)
			ON CONFLICT (order_hash) DO UPDATE SET
				source_htlc_id  = EXCLUDED.source_htlc_id,
				target_htlc_id  = EXCLUDED.target_htlc_id,
				state           = EXCLUDED.state,
				needs_attention = EXCLUDED.needs_attention,
				updated_at      = EXCLUDED.updated_at
		`

		var sourceHTLCID, targetHTLCID *string
		if order.SourceHtlcID != "" {
			sourceHTLCID = &order.SourceHtlcID
		}
		if order.TargetHtlcID != "" {
			targetHTLCID = &order.TargetHtlcID
		}

		now := time.Now().UTC()
		orderHashHex := fmt.Sprintf("%x", order.OrderHash)

		_, err := tx.Exec(ctx, orderSQL,
			orderHashHex,
			order.Maker,
			string(order.SourceChain),
			string(order.TargetChain),
			sourceHTLCID,
			targetHTLCID,
			order.TokenIn,
			order.TokenOut,
			int64(order.AmountIn),
			int64(order.AmountOut),
			fmt.Sprintf("%x", order.Hashlock),
			order.Timelock,
			order.TargetTimelock,
			string(order.State),
			order.NeedsAttention,
			order.CreatedAt,
			now,
		)
		if err != nil {
			return fmt.Errorf("upsert order: %w", err)
		}

		if err := upsertMirror(ctx, tx, orderHashHex, "source", source); err != nil {
			return err
		}
		if err := upsertMirror(ctx, tx, orderHashHex, "target", target); err != nil {
			return err
		}

		outboxSQL := `
			INSERT INTO order_outbox (order_hash, state) VALUES ($1, $2)
		`
		if _, err := tx.Exec(ctx, outboxSQL, orderHashHex, string(order.State)); err != nil {
			return fmt.Errorf("insert order outbox row: %w", err)
		}

		return nil
	})
}

func upsertMirror(ctx context.Context, tx pgx.Tx, orderHashHex, side string, mirror *swap.HTLCMirror) error {
	if mirror == nil {
		return nil
	}

	sql := `
		INSERT INTO htlc_mirrors (
			order_hash, side, htlc_id, chain, sender, receiver,
			token, amount, hashlock, timelock, phase, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (order_hash, side) DO UPDATE SET
			htlc_id    = EXCLUDED.htlc_id,
			sender     = EXCLUDED.sender,
			receiver   = EXCLUDED.receiver,
			amount     = EXCLUDED.amount,
			timelock   = EXCLUDED.timelock,
			phase      = EXCLUDED.phase,
			updated_at = EXCLUDED.updated_at
	`

	_, err := tx.Exec(ctx, sql,
		orderHashHex,
		side,
		mirror.HTLCID,
		"", // chain is implied by side+order; left blank, reconciled from the order row's source/target chain
		mirror.Sender,
		mirror.Receiver,
		mirror.Token,
		int64(mirror.Amount),
		fmt.Sprintf("%x", mirror.Hashlock),
		mirror.Timelock,
		string(mirror.Phase),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert %s mirror: %w", side, err)
	}
	return nil
}

// FetchPendingOutbox retrieves pending order-state outbox rows in
// insertion order, for the outbox publisher loop (spec §4.4.1, poll 2s).
func (r *OrderRepository) FetchPendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error) {
	sql := `
		SELECT id, order_hash, state, status, retry_count, max_retries,
		       last_error, created_at, published_at
		FROM order_outbox
		WHERE status = 'pending'
		ORDER BY id ASC
		LIMIT $1
	`

	rows, err := r.db.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending outbox: %w", err)
	}
	defer rows.Close()

	var messages []OutboxMessage
	for rows.Next() {
		var msg OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.OrderHash, &msg.State, &msg.Status, &msg.RetryCount,
			&msg.MaxRetries, &msg.LastError, &msg.CreatedAt, &msg.PublishedAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// MarkOutboxPublished marks outbox rows as successfully published.
func (r *OrderRepository) MarkOutboxPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	sql := `UPDATE order_outbox SET status = 'published', published_at = $1 WHERE id = ANY($2)`
	_, err := r.db.pool.Exec(ctx, sql, time.Now().UTC(), ids)
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

// MarkOutboxFailed records a publish failure and retries until max_retries
// is exhausted, after which the row is left as 'failed' for operator
// inspection (mirrors the teacher's MarkAsFailed retry/give-up split).
func (r *OrderRepository) MarkOutboxFailed(ctx context.Context, id int64, errMsg string) error {
	sql := `
		UPDATE order_outbox
		SET status = CASE
				WHEN retry_count + 1 >= max_retries THEN 'failed'
				ELSE 'pending'
			END,
			retry_count = retry_count + 1,
			last_error = $1
		WHERE id = $2
	`
	_, err := r.db.pool.Exec(ctx, sql, errMsg, id)
	if err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	return nil
}

// LoadOrder hydrates one order and its HTLC mirrors from storage, used on
// Supervisor startup to repopulate the in-memory Store after a restart.
func (r *OrderRepository) LoadOrder(ctx context.Context, orderHash [32]byte) (*OrderRecord, *HTLCMirrorRecord, *HTLCMirrorRecord, error) {
	orderHashHex := fmt.Sprintf("%x", orderHash)

	var rec OrderRecord
	orderSQL := `
		SELECT order_hash, maker, source_chain, target_chain, source_htlc_id,
		       target_htlc_id, token_in, token_out, amount_in, amount_out,
		       hashlock, timelock, target_timelock, state, needs_attention,
		       created_at, updated_at
		FROM orders WHERE order_hash = $1
	`
	err := r.db.pool.QueryRow(ctx, orderSQL, orderHashHex).Scan(
		&rec.OrderHash, &rec.Maker, &rec.SourceChain, &rec.TargetChain, &rec.SourceHTLCID,
		&rec.TargetHTLCID, &rec.TokenIn, &rec.TokenOut, &rec.AmountIn, &rec.AmountOut,
		&rec.Hashlock, &rec.Timelock, &rec.TargetTimelock, &rec.State, &rec.NeedsAttention,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil, nil, nil
		}
		return nil, nil, nil, fmt.Errorf("query order: %w", err)
	}

	mirrors, err := r.loadMirrors(ctx, orderHashHex)
	if err != nil {
		return nil, nil, nil, err
	}

	return &rec, mirrors["source"], mirrors["target"], nil
}

func (r *OrderRepository) loadMirrors(ctx context.Context, orderHashHex string) (map[string]*HTLCMirrorRecord, error) {
	sql := `
		SELECT order_hash, side, htlc_id, chain, sender, receiver, token,
		       amount, hashlock, timelock, phase, updated_at
		FROM htlc_mirrors WHERE order_hash = $1
	`
	rows, err := r.db.pool.Query(ctx, sql, orderHashHex)
	if err != nil {
		return nil, fmt.Errorf("query mirrors: %w", err)
	}
	defer rows.Close()

	out := map[string]*HTLCMirrorRecord{"source": nil, "target": nil}
	for rows.Next() {
		var m HTLCMirrorRecord
		if err := rows.Scan(&m.OrderHash, &m.Side, &m.HTLCID, &m.Chain, &m.Sender, &m.Receiver,
			&m.Token, &m.Amount, &m.Hashlock, &m.Timelock, &m.Phase, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan mirror: %w", err)
		}
		rec := m
		out[m.Side] = &rec
	}
	return out, rows.Err()
}

// ListActiveOrderHashes returns every order not in a terminal state, used
// to hydrate the in-memory Store on Supervisor startup.
func (r *OrderRepository) ListActiveOrderHashes(ctx context.Context) ([][32]byte, error) {
	sql := `
		SELECT order_hash FROM orders
		WHERE state NOT IN ('Fulfilled', 'Refunded', 'Failed')
	`
	rows, err := r.db.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("query active orders: %w", err)
	}
	defer rows.Close()

	var hashes [][32]byte
	for rows.Next() {
		var hex string
		if err := rows.Scan(&hex); err != nil {
			return nil, fmt.Errorf("scan order_hash: %w", err)
		}
		var h [32]byte
		if _, err := fmt.Sscanf(hex, "%x", &h); err != nil {
			return nil, fmt.Errorf("decode order_hash %s: %w", hex, err)
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

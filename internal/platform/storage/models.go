package storage

import (
	"fmt"
	"time"

	"github.com/atomicswap/resolver/pkg/swap"
)

// OutboxStatus is the processing state of an order-state outbox row
// (SPEC_FULL.md §4.3.9).
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusProcessing OutboxStatus = "processing"
	OutboxStatusPublished  OutboxStatus = "published"
	OutboxStatusFailed     OutboxStatus = "failed"
)

// OrderRecord is the relational projection of swap.CrossChainOrder.
type OrderRecord struct {
	OrderHash      string    `db:"order_hash"`
	Maker          string    `db:"maker"`
	SourceChain    string    `db:"source_chain"`
	TargetChain    string    `db:"target_chain"`
	SourceHTLCID   *string   `db:"source_htlc_id"`
	TargetHTLCID   *string   `db:"target_htlc_id"`
	TokenIn        string    `db:"token_in"`
	TokenOut       string    `db:"token_out"`
	AmountIn       int64     `db:"amount_in"`
	AmountOut      int64     `db:"amount_out"`
	Hashlock       string    `db:"hashlock"`
	Timelock       int64     `db:"timelock"`
	TargetTimelock int64     `db:"target_timelock"`
	State          string    `db:"state"`
	NeedsAttention bool      `db:"needs_attention"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// HTLCMirrorRecord is the relational projection of one side (source or
// target) of an order's swap.HTLCMirror.
type HTLCMirrorRecord struct {
	OrderHash string    `db:"order_hash"`
	Side      string    `db:"side"` // "source" | "target"
	HTLCID    string    `db:"htlc_id"`
	Chain     string    `db:"chain"`
	Sender    string    `db:"sender"`
	Receiver  string    `db:"receiver"`
	Token     string    `db:"token"`
	Amount    int64     `db:"amount"`
	Hashlock  string    `db:"hashlock"`
	Timelock  int64     `db:"timelock"`
	Phase     string    `db:"phase"`
	UpdatedAt time.Time `db:"updated_at"`
}

// ToOrder converts a relational row back into the domain type the Store
// holds, used to repopulate it on Supervisor startup.
func (rec *OrderRecord) ToOrder() (swap.CrossChainOrder, error) {
	var order swap.CrossChainOrder

	if _, err := fmt.Sscanf(rec.OrderHash, "%x", &order.OrderHash); err != nil {
		return order, fmt.Errorf("decode order_hash %s: %w", rec.OrderHash, err)
	}
	if _, err := fmt.Sscanf(rec.Hashlock, "%x", &order.Hashlock); err != nil {
		return order, fmt.Errorf("decode hashlock %s: %w", rec.Hashlock, err)
	}

	order.Maker = rec.Maker
	order.SourceChain = swap.ChainID(rec.SourceChain)
	order.TargetChain = swap.ChainID(rec.TargetChain)
	if rec.SourceHTLCID != nil {
		order.SourceHtlcID = *rec.SourceHTLCID
	}
	if rec.TargetHTLCID != nil {
		order.TargetHtlcID = *rec.TargetHTLCID
	}
	order.TokenIn = rec.TokenIn
	order.TokenOut = rec.TokenOut
	order.AmountIn = uint64(rec.AmountIn)
	order.AmountOut = uint64(rec.AmountOut)
	order.Timelock = rec.Timelock
	order.TargetTimelock = rec.TargetTimelock
	order.State = swap.OrderState(rec.State)
	order.NeedsAttention = rec.NeedsAttention
	order.CreatedAt = rec.CreatedAt
	order.UpdatedAt = rec.UpdatedAt

	return order, nil
}

// ToMirror converts a relational HTLC mirror row back into the domain
// type, used alongside ToOrder to repopulate the Store on startup.
func (rec *HTLCMirrorRecord) ToMirror() (swap.HTLCMirror, error) {
	var mirror swap.HTLCMirror

	if _, err := fmt.Sscanf(rec.Hashlock, "%x", &mirror.Hashlock); err != nil {
		return mirror, fmt.Errorf("decode hashlock %s: %w", rec.Hashlock, err)
	}

	mirror.HTLCID = rec.HTLCID
	mirror.Sender = rec.Sender
	mirror.Receiver = rec.Receiver
	mirror.Token = rec.Token
	mirror.Amount = uint64(rec.Amount)
	mirror.Timelock = rec.Timelock
	mirror.Phase = swap.HTLCPhase(rec.Phase)

	return mirror, nil
}

// CursorRecord is the relational projection of swap.Cursor.
type CursorRecord struct {
	Chain       string    `db:"chain"`
	BlockHeight int64     `db:"block_height"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// OutboxMessage is one queued order-state transition awaiting publication
// to the NATS JetStream fanout (internal/platform/notify), written in the
// same transaction as the order/mirror rows that produced it.
type OutboxMessage struct {
	ID          int64           `db:"id"`
	OrderHash   string          `db:"order_hash"`
	State       swap.OrderState `db:"state"`
	Status      OutboxStatus    `db:"status"`
	RetryCount  int32           `db:"retry_count"`
	MaxRetries  int32           `db:"max_retries"`
	LastError   *string         `db:"last_error"`
	CreatedAt   time.Time       `db:"created_at"`
	PublishedAt *time.Time      `db:"published_at"`
}

// Package swap holds the chain-agnostic domain types shared by every
// component: the adapters, the ingestor, and the resolver.
package swap

import "time"

// ChainID identifies a ledger by data, not by type. Two instances of the
// same chain.Adapter implementation can run under different ChainIDs (e.g.
// "ethereum" vs "arbitrum"), and the resolver never needs to know which.
type ChainID string

// OrderState is the order's position in the state machine of spec §4.3.1.
type OrderState string

const (
	StatePending      OrderState = "Pending"
	StateSourceLocked OrderState = "SourceLocked"
	StateTargetLocked OrderState = "TargetLocked"
	StateFulfilled    OrderState = "Fulfilled"
	StateRefunded     OrderState = "Refunded"
	StateFailed       OrderState = "Failed"
)

// IsTerminal reports whether no further transition is permitted (I4).
func (s OrderState) IsTerminal() bool {
	switch s {
	case StateFulfilled, StateRefunded, StateFailed:
		return true
	default:
		return false
	}
}

// HTLCPhase mirrors the on-chain HTLC lifecycle (§6.1).
type HTLCPhase string

const (
	HTLCEmpty    HTLCPhase = "Empty"
	HTLCLocked   HTLCPhase = "Locked"
	HTLCClaimed  HTLCPhase = "Claimed"
	HTLCRefunded HTLCPhase = "Refunded"
)

// EventKind enumerates the normalized event taxonomy of spec §3.1.
type EventKind string

const (
	EventOrderCreated   EventKind = "OrderCreated"
	EventOrderFulfilled EventKind = "OrderFulfilled"
	EventOrderRefunded  EventKind = "OrderRefunded"
	EventHtlcCreated    EventKind = "HtlcCreated"
	EventHtlcClaimed    EventKind = "HtlcClaimed"
	EventHtlcRefunded   EventKind = "HtlcRefunded"
)

// Side distinguishes the source leg of an order from the target leg.
type Side string

const (
	SideSource Side = "source"
	SideTarget Side = "target"
)

// NativeToken is the sentinel token identifier denoting a chain's native
// asset, per spec §3.1.
const NativeToken = ""

// Event is the chain-agnostic, normalized form every adapter decodes its
// raw logs/transactions into before handing them to the ingestion pipeline.
type Event struct {
	Kind        EventKind
	Chain       ChainID
	BlockHeight uint64
	TxID        string
	LogIndex    uint32
	Payload     EventPayload
}

// Key returns the (chain, txID, logIndex) tuple used for idempotent
// de-duplication (spec §4.3.2) and for the Ingestor's total order within a
// chain (spec §3.1).
func (e Event) Key() EventDedupKey {
	return EventDedupKey{Chain: e.Chain, TxID: e.TxID, LogIndex: e.LogIndex}
}

// EventDedupKey is the de-dup/ordering key of an Event.
type EventDedupKey struct {
	Chain    ChainID
	TxID     string
	LogIndex uint32
}

// EventPayload carries kind-specific fields. Only the fields relevant to
// Kind are populated; the rest are zero.
type EventPayload struct {
	OrderHash [32]byte

	// HtlcCreated / order creation fields.
	HtlcID    string
	Sender    string
	Receiver  string
	Token     string
	Amount    uint64
	Hashlock  [32]byte
	Timelock  int64
	SideChain Side

	// HtlcClaimed fields.
	Secret [32]byte

	// Advisory OrderFulfilled/OrderRefunded carry no extra fields beyond
	// OrderHash.
}

// CrossChainOrder is the unit of coordination (spec §3.1).
type CrossChainOrder struct {
	OrderHash [32]byte

	SourceChain ChainID
	TargetChain ChainID

	TokenIn  string
	TokenOut string

	AmountIn  uint64
	AmountOut uint64

	Maker    string
	Receiver string

	Hashlock [32]byte
	Timelock int64 // source-chain timelock, unix seconds

	TargetTimelock int64 // target-chain timelock, unix seconds; I2: TargetTimelock < Timelock

	State OrderState

	SourceHtlcID string
	TargetHtlcID string

	// NeedsAttention marks an order whose submission retries were
	// exhausted (SubmitExhausted, §7) without forcing a terminal state;
	// the timeout sweep still drives it toward Refunded.
	NeedsAttention bool

	// FailureReason records why a Failed order failed, for audit.
	FailureReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HTLCMirror is the resolver's local mirror of what a chain's HTLC holds
// for one leg of an order (spec §3.1, "HTLC (per side)").
type HTLCMirror struct {
	HTLCID   string
	Sender   string
	Receiver string
	Token    string
	Amount   uint64
	Hashlock [32]byte
	Timelock int64
	Phase    HTLCPhase
}

// Cursor is the per-chain persisted high-water mark of spec §3.1: the
// highest block height whose events are considered fully processed.
type Cursor struct {
	Chain       ChainID
	BlockHeight uint64
}

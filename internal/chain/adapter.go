// Package chain defines the single capability interface every ledger
// adapter implements (Design Note: "chain identity is data, not type").
// Concrete implementations live in internal/chain/evm and
// internal/chain/solana.
package chain

import (
	"context"
	"time"

	"github.com/atomicswap/resolver/pkg/swap"
)

// ActionKind enumerates the transactions the Resolver can ask an Adapter
// to submit (spec §4.1).
type ActionKind string

const (
	ActionCreateHtlc             ActionKind = "CreateHtlc"
	ActionClaim                  ActionKind = "Claim"
	ActionRefund                 ActionKind = "Refund"
	ActionProcessIncomingOrder   ActionKind = "ProcessIncomingOrder"
	ActionFulfillIncomingOrder   ActionKind = "FulfillIncomingOrder"
)

// Action is a request to submit a state-changing transaction on a chain.
type Action struct {
	Kind      ActionKind
	OrderHash [32]byte
	HTLCID    string
	Receiver  string
	Hashlock  [32]byte
	Timelock  int64
	Token     string
	Amount    uint64
	Secret    [32]byte
}

// ReceiptStatus is the terminal outcome of a submitted transaction.
type ReceiptStatus string

const (
	ReceiptSuccess  ReceiptStatus = "success"
	ReceiptReverted ReceiptStatus = "reverted"
	ReceiptPending  ReceiptStatus = "pending"
)

// Receipt is what WaitForReceipt returns once a submission resolves.
type Receipt struct {
	Status      ReceiptStatus
	BlockHeight uint64
	Logs        []swap.Event
}

// FeeQuote is a chain-specific fee snapshot, refreshed on a timer by the
// Supervisor and read by many, written only by the refresh task (spec §5,
// Design Note "gas-price refresh: single writer, multiple readers").
type FeeQuote struct {
	Chain     swap.ChainID
	GasPrice  uint64 // smallest fee unit per unit of work
	GasTipCap uint64 // EIP-1559 style priority fee; zero on chains without one
	FetchedAt time.Time
}

// Adapter is the uniform façade every ledger presents (spec §4.1).
// Implementations must enforce the W-block query window and the
// confirmation-depth K internally; callers never pass raw chain RPC
// concerns across this boundary.
type Adapter interface {
	// Chain returns the ChainID this adapter instance serves.
	Chain() swap.ChainID

	// TipHeight returns the chain's current tip block height.
	TipHeight(ctx context.Context) (uint64, error)

	// ConfirmedHeight returns max(0, tipHeight - K).
	ConfirmedHeight(ctx context.Context) (uint64, error)

	// QueryEvents returns events in [fromHeight, toHeight], inclusive,
	// ordered by (blockHeight, logIndex). The window's block count,
	// toHeight-fromHeight+1, must not exceed the adapter's configured W;
	// implementations return a Decode-kind *swap.AdapterError if asked to
	// exceed it.
	QueryEvents(ctx context.Context, fromHeight, toHeight uint64) ([]swap.Event, error)

	// Submit sends a transaction for the given action and returns its
	// chain-native transaction ID. Retries internally per the §4.1
	// backoff policy; returns a SubmitExhausted *swap.AdapterError after
	// the configured attempt budget.
	Submit(ctx context.Context, action Action) (txID string, err error)

	// WaitForReceipt blocks (bounded by timeout) until the transaction
	// resolves or the deadline passes.
	WaitForReceipt(ctx context.Context, txID string, timeout time.Duration) (*Receipt, error)

	// CurrentFeeQuote returns the last successfully refreshed fee quote.
	CurrentFeeQuote() FeeQuote

	// RefreshFeeQuote re-fetches the fee quote from the chain's oracle.
	// On failure the prior value is retained (single-writer, last-write-
	// wins per Design Notes).
	RefreshFeeQuote(ctx context.Context) error

	// GetHTLC returns the authoritative on-chain view of an HTLC, used by
	// reconciliation (spec §4.3.4).
	GetHTLC(ctx context.Context, htlcID string) (*swap.HTLCMirror, error)

	// GetOrder returns the authoritative on-chain view of a bridge order
	// (spec §6.1 getOrder), used to hydrate a CrossChainOrder's full
	// fields the first time its OrderCreated event is observed — the
	// event itself only carries orderHash/hashlock/timelock.
	GetOrder(ctx context.Context, orderHash [32]byte) (*swap.CrossChainOrder, error)

	// Health reports whether the adapter's connection to the chain is
	// usable (spec §4.4, "Adapter health: ... contract view calls
	// respond").
	Health(ctx context.Context) error

	// Run drives the adapter's own background ingestion loop: windowed
	// confirmed-block polling and publication of normalized events onto
	// the event bus (see DESIGN.md "Adapter / Ingestor transport"). Run
	// blocks until ctx is canceled.
	Run(ctx context.Context) error

	// Stop releases chain RPC connections and any broker handles opened
	// by Run.
	Stop(ctx context.Context) error
}

// Config carries the fields common to every concrete adapter (spec §4.1,
// §6.2). Concrete adapters embed this alongside their chain-specific
// fields (RPC endpoints, program IDs, etc).
type Config struct {
	Chain swap.ChainID

	ConfirmationDepth uint64 // K, default 3
	MaxBlocksPerQuery uint64 // W, default 100

	RetryAttempts  int           // default 3
	RetryBaseDelay time.Duration // default 5s

	QueryTimeout   time.Duration // default 30s
	ReceiptTimeout time.Duration // default 120s

	FeeRefreshInterval time.Duration // default 5m
	GasLimitMultiplier float64        // default 1.2
	MinGasLimit        uint64

	MaxConcurrentSubmissions int // default 16
}

// DefaultConfig returns the spec §6.2 defaults.
func DefaultConfig(chain swap.ChainID) Config {
	return Config{
		Chain:                    chain,
		ConfirmationDepth:        3,
		MaxBlocksPerQuery:        100,
		RetryAttempts:            3,
		RetryBaseDelay:           5 * time.Second,
		QueryTimeout:             30 * time.Second,
		ReceiptTimeout:           120 * time.Second,
		FeeRefreshInterval:       5 * time.Minute,
		GasLimitMultiplier:       1.2,
		MaxConcurrentSubmissions: 16,
	}
}

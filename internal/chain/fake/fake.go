// Package fake implements the in-memory chain test double spec §6.1.1
// calls for: a chain.Adapter backed by nothing but process memory,
// enforcing H(secret)==hashlock on Claim, now >= timelock on Refund, and
// Locked-phase-only transitions, so the invariants and scenarios of spec
// §8 can be exercised without a real chain. It has no notion of a caller,
// so no caller role is checked, and Claim does not compare against the
// timelock.
package fake

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/atomicswap/resolver/internal/chain"
	"github.com/atomicswap/resolver/pkg/swap"
)

type htlcRecord struct {
	mirror swap.HTLCMirror
}

// Chain is the in-memory test double. Test code drives it directly
// (LockHTLC/Claim/Refund/CreateOrder) to simulate on-chain activity, then lets
// the adapter's Run loop (or a direct QueryEvents call) surface the
// resulting events the way a real chain would.
type Chain struct {
	mu sync.Mutex

	id     swap.ChainID
	height uint64
	depth  uint64

	htlcs         map[string]*htlcRecord
	orders        map[[32]byte]swap.CrossChainOrder
	relayedOrders map[[32]byte]bool

	events []swap.Event

	nextHTLCID int
	nextTxID   int

	feeQuote chain.FeeQuote
}

// New constructs an empty fake chain identified by id, with confirmation
// depth K.
func New(id swap.ChainID, confirmationDepth uint64) *Chain {
	return &Chain{
		id:            id,
		depth:         confirmationDepth,
		htlcs:         make(map[string]*htlcRecord),
		orders:        make(map[[32]byte]swap.CrossChainOrder),
		relayedOrders: make(map[[32]byte]bool),
		feeQuote: chain.FeeQuote{
			Chain:     id,
			GasPrice:  1,
			FetchedAt: time.Now(),
		},
	}
}

func (c *Chain) Chain() swap.ChainID { return c.id }

// AdvanceBlocks moves the chain's tip forward, simulating confirmations.
func (c *Chain) AdvanceBlocks(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height += n
}

func (c *Chain) emit(kind swap.EventKind, payload swap.EventPayload) swap.Event {
	c.nextTxID++
	ev := swap.Event{
		Kind:        kind,
		Chain:       c.id,
		BlockHeight: c.height,
		TxID:        fmt.Sprintf("tx-%d", c.nextTxID),
		LogIndex:    0,
		Payload:     payload,
	}
	c.events = append(c.events, ev)
	return ev
}

// CreateOrder simulates an OrderCreated event for a new bridge order.
func (c *Chain) CreateOrder(order swap.CrossChainOrder) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.orders[order.OrderHash] = order
	c.emit(swap.EventOrderCreated, swap.EventPayload{
		OrderHash: order.OrderHash,
		Hashlock:  order.Hashlock,
		Timelock:  order.Timelock,
	})
}

// LockHTLC simulates a successful create() call, returning the htlcId.
func (c *Chain) LockHTLC(sender, receiver, token string, amount uint64, hashlock [32]byte, timelock int64) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextHTLCID++
	id := fmt.Sprintf("htlc-%s-%d", c.id, c.nextHTLCID)

	c.htlcs[id] = &htlcRecord{mirror: swap.HTLCMirror{
		HTLCID:   id,
		Sender:   sender,
		Receiver: receiver,
		Token:    token,
		Amount:   amount,
		Hashlock: hashlock,
		Timelock: timelock,
		Phase:    swap.HTLCLocked,
	}}

	c.emit(swap.EventHtlcCreated, swap.EventPayload{
		HtlcID:   id,
		Sender:   sender,
		Receiver: receiver,
		Token:    token,
		Amount:   amount,
		Hashlock: hashlock,
		Timelock: timelock,
	})

	return id
}

// Claim simulates claim(htlcId, secret), enforcing H(secret)==hashlock
// and the not-yet-claimed/refunded precondition per spec §6.1.
func (c *Chain) Claim(htlcID string, secret [32]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.htlcs[htlcID]
	if !ok {
		return fmt.Errorf("htlc %s not found", htlcID)
	}
	if rec.mirror.Phase != swap.HTLCLocked {
		return fmt.Errorf("htlc %s not in Locked phase", htlcID)
	}
	sum := sha256.Sum256(secret[:])
	if sum != rec.mirror.Hashlock {
		return swap.ErrSecretMismatch
	}

	rec.mirror.Phase = swap.HTLCClaimed
	c.emit(swap.EventHtlcClaimed, swap.EventPayload{HtlcID: htlcID, Secret: secret})
	return nil
}

// Refund simulates refund(htlcId), enforcing now >= timelock and the
// not-yet-claimed/refunded precondition per spec §6.1.
func (c *Chain) Refund(htlcID string, now int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.htlcs[htlcID]
	if !ok {
		return fmt.Errorf("htlc %s not found", htlcID)
	}
	if rec.mirror.Phase != swap.HTLCLocked {
		return fmt.Errorf("htlc %s not in Locked phase", htlcID)
	}
	if now < rec.mirror.Timelock {
		return fmt.Errorf("htlc %s timelock not yet reached", htlcID)
	}

	rec.mirror.Phase = swap.HTLCRefunded
	c.emit(swap.EventHtlcRefunded, swap.EventPayload{HtlcID: htlcID})
	return nil
}

// TipHeight implements chain.Adapter.
func (c *Chain) TipHeight(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height, nil
}

// ConfirmedHeight implements chain.Adapter.
func (c *Chain) ConfirmedHeight(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.height < c.depth {
		return 0, nil
	}
	return c.height - c.depth, nil
}

// QueryEvents implements chain.Adapter.
func (c *Chain) QueryEvents(ctx context.Context, fromHeight, toHeight uint64) ([]swap.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []swap.Event
	for _, ev := range c.events {
		if ev.BlockHeight >= fromHeight && ev.BlockHeight <= toHeight {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Submit implements chain.Adapter by performing the requested action
// against this chain's in-memory state immediately (no backoff needed:
// the fake never fails transiently).
func (c *Chain) Submit(ctx context.Context, action chain.Action) (string, error) {
	switch action.Kind {
	case chain.ActionClaim:
		if err := c.Claim(action.HTLCID, action.Secret); err != nil {
			return "", err
		}
		return "tx-claim-" + action.HTLCID, nil
	case chain.ActionRefund:
		if err := c.Refund(action.HTLCID, time.Now().Unix()); err != nil {
			return "", err
		}
		return "tx-refund-" + action.HTLCID, nil
	case chain.ActionCreateHtlc:
		id := c.LockHTLC(action.Receiver, action.Receiver, action.Token, action.Amount, action.Hashlock, action.Timelock)
		return id, nil
	case chain.ActionProcessIncomingOrder:
		c.mu.Lock()
		c.relayedOrders[action.OrderHash] = true
		c.mu.Unlock()
		return "tx-relay-" + fmt.Sprintf("%x", action.OrderHash), nil
	default:
		return "", fmt.Errorf("fake chain: unsupported action %q", action.Kind)
	}
}

// WaitForReceipt implements chain.Adapter; the fake resolves immediately.
func (c *Chain) WaitForReceipt(ctx context.Context, txID string, timeout time.Duration) (*chain.Receipt, error) {
	return &chain.Receipt{Status: chain.ReceiptSuccess, BlockHeight: c.height}, nil
}

// CurrentFeeQuote implements chain.Adapter.
func (c *Chain) CurrentFeeQuote() chain.FeeQuote {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.feeQuote
}

// RefreshFeeQuote implements chain.Adapter.
func (c *Chain) RefreshFeeQuote(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.feeQuote.FetchedAt = time.Now()
	return nil
}

// GetHTLC implements chain.Adapter.
func (c *Chain) GetHTLC(ctx context.Context, htlcID string) (*swap.HTLCMirror, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.htlcs[htlcID]
	if !ok {
		return nil, swap.ErrOrderNotFound
	}
	m := rec.mirror
	return &m, nil
}

// GetOrder implements chain.Adapter.
func (c *Chain) GetOrder(ctx context.Context, orderHash [32]byte) (*swap.CrossChainOrder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	order, ok := c.orders[orderHash]
	if !ok {
		return nil, swap.ErrOrderNotFound
	}
	o := order
	return &o, nil
}

// WasRelayed reports whether a ProcessIncomingOrder action has been
// submitted on this chain for orderHash, for tests asserting the
// resolver relayed an order to its target chain.
func (c *Chain) WasRelayed(orderHash [32]byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.relayedOrders[orderHash]
}

// Health implements chain.Adapter; the fake is always healthy.
func (c *Chain) Health(ctx context.Context) error { return nil }

// Run implements chain.Adapter as a no-op: the fake has no background
// ingestion loop of its own, tests drive it synchronously.
func (c *Chain) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// Stop implements chain.Adapter.
func (c *Chain) Stop(ctx context.Context) error { return nil }

var _ chain.Adapter = (*Chain)(nil)

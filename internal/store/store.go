// Package store encapsulates the Resolver's global mutable state — the
// orders table, the secret store, and the event de-dup set — behind one
// strict API (spec Design Note: "Global mutable state ... encapsulate in a
// single OrderStore module"). Per-order serialization is enforced at the
// store boundary: every mutating method takes the order's lock before
// touching its fields.
package store

import (
	"container/list"
	"sync"
	"time"

	"github.com/atomicswap/resolver/pkg/swap"
)

// MaxPendingOrders caps the live (non-terminal or not-yet-evicted) order
// table (spec §4.3.7).
const MaxPendingOrders = 1000

// ErrStoreFull is returned by Insert when the table is full and no
// terminal order can be evicted to make room.
var ErrStoreFull = swap.ErrCapacityExceeded

// orderEntry bundles an order with its per-order mutex and the HTLC
// mirrors observed for each leg.
type orderEntry struct {
	mu sync.Mutex

	order  swap.CrossChainOrder
	source *swap.HTLCMirror
	target *swap.HTLCMirror

	// listElem tracks insertion order for FIFO terminal eviction (§4.3.7
	// "evict oldest terminal orders").
	listElem *list.Element
}

// Store is the encapsulated OrderStore. All exported methods are safe for
// concurrent use; mutating methods internally serialize access to a given
// order via its entry mutex, never via a store-wide lock held during
// business logic.
type Store struct {
	mu sync.RWMutex

	orders map[[32]byte]*orderEntry
	order  *list.List // insertion order, oldest first

	secrets map[[32]byte][32]byte

	dedup map[swap.EventDedupKey]struct{}

	backpressured map[swap.ChainID]bool

	// byHashlock and byHTLCID are secondary indexes letting the resolver
	// map an incoming HtlcCreated/HtlcClaimed/HtlcRefunded event — which
	// carries only a hashlock or an htlcId, never an orderHash — back to
	// the order it belongs to.
	byHashlock map[[32]byte][32]byte
	byHTLCID   map[string][32]byte
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		orders:        make(map[[32]byte]*orderEntry),
		order:         list.New(),
		secrets:       make(map[[32]byte][32]byte),
		dedup:         make(map[swap.EventDedupKey]struct{}),
		backpressured: make(map[swap.ChainID]bool),
		byHashlock:    make(map[[32]byte][32]byte),
		byHTLCID:      make(map[string][32]byte),
	}
}

// OrderByHashlock resolves an order by the hashlock it was created with,
// used to attribute an HtlcCreated event (which carries a hashlock but no
// orderHash) to the order that hashlock belongs to.
func (s *Store) OrderByHashlock(hashlock [32]byte) ([32]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hash, ok := s.byHashlock[hashlock]
	return hash, ok
}

// OrderByHTLCID resolves an order by one of its two HTLC handles, used to
// attribute an HtlcClaimed/HtlcRefunded event (which carries only an
// htlcId) to its order.
func (s *Store) OrderByHTLCID(htlcID string) ([32]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hash, ok := s.byHTLCID[htlcID]
	return hash, ok
}

// RegisterHTLCID links an htlcId to its order, called once the resolver
// attaches sourceHtlcId/targetHtlcId (spec §4.3.2, HtlcCreated handling).
func (s *Store) RegisterHTLCID(htlcID string, orderHash [32]byte) {
	if htlcID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byHTLCID[htlcID] = orderHash
}

// SeenEvent reports whether the event key has been recorded already and,
// if not, records it (spec §4.3.2 idempotent de-dup). Call exactly once
// per delivered event, before dispatch.
func (s *Store) SeenEvent(key swap.EventDedupKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.dedup[key]; ok {
		return true
	}
	s.dedup[key] = struct{}{}
	return false
}

// Insert adds a new order in whatever state it carries, enforcing the capacity policy of
// spec §4.3.7: when full, evict the oldest terminal order to make room; if
// none is terminal, reject and flag the order's source chain as
// backpressured.
func (s *Store) Insert(order swap.CrossChainOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.OrderHash]; exists {
		return nil // I6-adjacent: duplicate OrderCreated is a no-op, not an error
	}

	if len(s.orders) >= MaxPendingOrders {
		if !s.evictOldestTerminalLocked() {
			s.backpressured[order.SourceChain] = true
			return ErrStoreFull
		}
	}
	delete(s.backpressured, order.SourceChain)

	entry := &orderEntry{order: order}
	entry.listElem = s.order.PushBack(entry)
	s.orders[order.OrderHash] = entry
	s.byHashlock[order.Hashlock] = order.OrderHash
	if order.SourceHtlcID != "" {
		s.byHTLCID[order.SourceHtlcID] = order.OrderHash
	}
	if order.TargetHtlcID != "" {
		s.byHTLCID[order.TargetHtlcID] = order.OrderHash
	}

	return nil
}

func (s *Store) evictOldestTerminalLocked() bool {
	for e := s.order.Front(); e != nil; e = e.Next() {
		entry := e.Value.(*orderEntry)
		entry.mu.Lock()
		terminal := entry.order.State.IsTerminal()
		hash := entry.order.OrderHash
		entry.mu.Unlock()

		if terminal {
			s.order.Remove(e)
			delete(s.orders, hash)
			delete(s.secrets, hash)
			s.removeIndexesLocked(entry)
			return true
		}
	}
	return false
}

// removeIndexesLocked drops an evicted order's secondary-index entries.
// Callers must hold s.mu.
func (s *Store) removeIndexesLocked(entry *orderEntry) {
	delete(s.byHashlock, entry.order.Hashlock)
	if entry.order.SourceHtlcID != "" {
		delete(s.byHTLCID, entry.order.SourceHtlcID)
	}
	if entry.order.TargetHtlcID != "" {
		delete(s.byHTLCID, entry.order.TargetHtlcID)
	}
}

// IsBackpressured reports whether the source chain was flagged as
// backpressured by the most recent full-capacity rejection.
func (s *Store) IsBackpressured(chain swap.ChainID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backpressured[chain]
}

// WithOrder serializes access to one order: it locks the order's own
// mutex (never the store-wide lock) and invokes fn with a mutable pointer
// to the order and its HTLC mirrors. This is the store's sole mutation
// entry point — handlers in internal/resolver call this instead of
// reaching into order fields directly.
func (s *Store) WithOrder(hash [32]byte, fn func(order *swap.CrossChainOrder, source, target **swap.HTLCMirror) error) error {
	s.mu.RLock()
	entry, ok := s.orders[hash]
	s.mu.RUnlock()

	if !ok {
		return swap.ErrOrderNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	err := fn(&entry.order, &entry.source, &entry.target)
	entry.order.UpdatedAt = time.Now()
	return err
}

// GetOrder returns a copy of the order's current state (spec §6.3
// get_order). Safe to call concurrently with in-flight mutation; it only
// ever observes a consistent snapshot because WithOrder holds the same
// per-order mutex during writes.
func (s *Store) GetOrder(hash [32]byte) (swap.CrossChainOrder, bool) {
	s.mu.RLock()
	entry, ok := s.orders[hash]
	s.mu.RUnlock()

	if !ok {
		return swap.CrossChainOrder{}, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.order, true
}

// GetHTLCMirrors returns copies of the order's observed source/target HTLC
// mirrors, if any have been recorded yet.
func (s *Store) GetHTLCMirrors(hash [32]byte) (source, target *swap.HTLCMirror, ok bool) {
	s.mu.RLock()
	entry, found := s.orders[hash]
	s.mu.RUnlock()

	if !found {
		return nil, nil, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.source != nil {
		c := *entry.source
		source = &c
	}
	if entry.target != nil {
		c := *entry.target
		target = &c
	}
	return source, target, true
}

// StoreSecret records a revealed secret under its order's key (spec
// §4.3.5, step 1). Secrets are never persisted to disk — they live only
// here, and ClearSecret/terminal eviction is the only way they leave
// memory (spec §3.3).
func (s *Store) StoreSecret(hash [32]byte, secret [32]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[hash] = secret
}

// Secret returns the order's revealed secret, if any.
func (s *Store) Secret(hash [32]byte) ([32]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sec, ok := s.secrets[hash]
	return sec, ok
}

// ClearSecret drops the order's secret from memory; called once the order
// reaches a terminal state (spec §3.3 "cleared with the order").
func (s *Store) ClearSecret(hash [32]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, hash)
}

// AllNonTerminal returns the hashes of every order not yet in a terminal
// state, for the timeout sweep and reconciliation passes (§4.3.3, §4.3.4)
// to iterate over without holding the store lock during handling.
func (s *Store) AllNonTerminal() [][32]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hashes [][32]byte
	for e := s.order.Front(); e != nil; e = e.Next() {
		entry := e.Value.(*orderEntry)
		entry.mu.Lock()
		terminal := entry.order.State.IsTerminal()
		hash := entry.order.OrderHash
		entry.mu.Unlock()

		if !terminal {
			hashes = append(hashes, hash)
		}
	}
	return hashes
}

// TerminalOlderThan returns the hashes of terminal orders last updated
// before the given horizon, for the retention-horizon GC sweep (§3.3).
func (s *Store) TerminalOlderThan(horizon time.Time) [][32]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hashes [][32]byte
	for e := s.order.Front(); e != nil; e = e.Next() {
		entry := e.Value.(*orderEntry)
		entry.mu.Lock()
		terminal := entry.order.State.IsTerminal()
		stale := entry.order.UpdatedAt.Before(horizon)
		hash := entry.order.OrderHash
		entry.mu.Unlock()

		if terminal && stale {
			hashes = append(hashes, hash)
		}
	}
	return hashes
}

// Snapshot returns a copy of an order and its HTLC mirrors together,
// suitable for archival (spec §4.3.8) just before eviction.
type Snapshot struct {
	Order  swap.CrossChainOrder
	Source *swap.HTLCMirror
	Target *swap.HTLCMirror
}

// SnapshotAndEvict atomically captures an order's full record and removes
// it from the live table, used by the archive sweep so nothing can
// observe a half-evicted order.
func (s *Store) SnapshotAndEvict(hash [32]byte) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.orders[hash]
	if !ok {
		return Snapshot{}, false
	}

	entry.mu.Lock()
	snap := Snapshot{Order: entry.order}
	if entry.source != nil {
		c := *entry.source
		snap.Source = &c
	}
	if entry.target != nil {
		c := *entry.target
		snap.Target = &c
	}
	entry.mu.Unlock()

	s.order.Remove(entry.listElem)
	delete(s.orders, hash)
	delete(s.secrets, hash)
	s.removeIndexesLocked(entry)

	return snap, true
}

// Stats summarizes store occupancy for spec §6.3 get_stats.
type Stats struct {
	Total          int
	Pending        int
	SourceLocked   int
	TargetLocked   int
	Fulfilled      int
	Refunded       int
	Failed         int
	NeedsAttention int
}

// Stats implements spec §6.3 get_stats.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	for e := s.order.Front(); e != nil; e = e.Next() {
		entry := e.Value.(*orderEntry)
		entry.mu.Lock()
		state := entry.order.State
		needsAttention := entry.order.NeedsAttention
		entry.mu.Unlock()

		st.Total++
		if needsAttention {
			st.NeedsAttention++
		}
		switch state {
		case swap.StatePending:
			st.Pending++
		case swap.StateSourceLocked:
			st.SourceLocked++
		case swap.StateTargetLocked:
			st.TargetLocked++
		case swap.StateFulfilled:
			st.Fulfilled++
		case swap.StateRefunded:
			st.Refunded++
		case swap.StateFailed:
			st.Failed++
		}
	}
	return st
}

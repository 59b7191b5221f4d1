package swap

import (
	"errors"
	"fmt"
)

// ErrorKind is the error taxonomy of spec §7. Every failure an Adapter or
// the Resolver produces during normal operation is classified as one of
// these; nothing else escapes a handler as a raw error.
type ErrorKind string

const (
	// Transient: RPC timeout, connection drop. Retried internally with
	// exponential backoff.
	KindTransient ErrorKind = "transient"

	// SubmitExhausted: submission retries exhausted. The order is marked
	// NeedsAttention (non-terminal); the timeout sweep still attempts
	// refund.
	KindSubmitExhausted ErrorKind = "submit_exhausted"

	// InvariantBreach: hashlock mismatch, amount mismatch, timelock skew
	// violation. The order moves to Failed.
	KindInvariantBreach ErrorKind = "invariant_breach"

	// Decode: malformed chain data. The event is dropped and the cursor
	// is not advanced past the offending block.
	KindDecode ErrorKind = "decode"

	// Capacity: the pending table is full; new orders are rejected at
	// ingestion.
	KindCapacity ErrorKind = "capacity"

	// Fatal: key unavailable, invalid config at startup. The process
	// aborts before handling any events.
	KindFatal ErrorKind = "fatal"
)

// AdapterError is the single typed error every chain.Adapter call returns
// on failure, classified by Kind so callers can branch on category instead
// of string-matching.
type AdapterError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *AdapterError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// Is reports whether target is an *AdapterError of the same Kind, so
// errors.Is(err, &AdapterError{Kind: k}) matches by category; see KindOf
// below for the canonical comparison helper.
func (e *AdapterError) Is(target error) bool {
	var other *AdapterError
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// NewAdapterError wraps err under the given kind and operation name.
func NewAdapterError(kind ErrorKind, op string, err error) *AdapterError {
	return &AdapterError{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the ErrorKind carried by err, if any, walking the chain
// of wrapped errors. Returns ("", false) if err carries no AdapterError.
func KindOf(err error) (ErrorKind, bool) {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return "", false
}

// Sentinel errors for well-known resolver-level conditions, in the
// teacher's idiom of package-level errors.New values (correctness.Err*).
var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrDuplicateHTLC     = errors.New("htlc already created for this order and side")
	ErrCapacityExceeded  = errors.New("pending order capacity exceeded")
	ErrInvalidTimelock   = errors.New("target timelock does not precede source timelock by required skew")
	ErrSecretMismatch    = errors.New("secret does not hash to order's hashlock")
	ErrResolverHalted    = errors.New("order halted pending operator resolution")
)

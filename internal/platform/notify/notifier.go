package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/atomicswap/resolver/pkg/swap"
)

// stateMessage is the JSON payload published on each order-state subject.
type stateMessage struct {
	OrderHash string          `json:"order_hash"`
	State     swap.OrderState `json:"state"`
	At        time.Time       `json:"at"`
}

// Notifier implements resolver.StateNotifier by publishing each transition
// onto the order-state JetStream stream.
type Notifier struct {
	client *Client
}

// NewNotifier wraps a connected Client. Callers must have already called
// EnsureStream for the order-events stream.
func NewNotifier(client *Client) *Notifier {
	return &Notifier{client: client}
}

// NotifyState implements resolver.StateNotifier.
func (n *Notifier) NotifyState(ctx context.Context, orderHash [32]byte, state swap.OrderState) error {
	hashHex := fmt.Sprintf("%x", orderHash)
	data, err := json.Marshal(stateMessage{OrderHash: hashHex, State: state, At: time.Now()})
	if err != nil {
		return fmt.Errorf("marshal state message: %w", err)
	}

	subject := SubjectForState(hashHex, string(state))
	if _, err := n.client.JetStream().Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish order state: %w", err)
	}
	return nil
}

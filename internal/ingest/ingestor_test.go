package ingest

import (
	"encoding/json"
	"testing"

	"github.com/atomicswap/resolver/pkg/swap"
)

func envelopeBytes(t *testing.T, ev swap.Event) []byte {
	t.Helper()
	data, err := json.Marshal(swap.NewEventEnvelope(ev))
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}

func TestSelectAndOrderSortsByBlockThenLogIndex(t *testing.T) {
	raw := []swap.Event{
		{Kind: swap.EventHtlcCreated, Chain: "evm", BlockHeight: 10, LogIndex: 2, TxID: "b"},
		{Kind: swap.EventOrderCreated, Chain: "evm", BlockHeight: 10, LogIndex: 0, TxID: "a"},
		{Kind: swap.EventHtlcCreated, Chain: "evm", BlockHeight: 9, LogIndex: 5, TxID: "c"},
	}

	var records [][]byte
	for _, ev := range raw {
		records = append(records, envelopeBytes(t, ev))
	}

	events, maxHeight, errs := selectAndOrder(records, 0)
	if len(errs) != 0 {
		t.Fatalf("unexpected decode errors: %v", errs)
	}
	if maxHeight != 10 {
		t.Fatalf("maxHeight = %d, want 10", maxHeight)
	}
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}

	wantOrder := []string{"c", "a", "b"}
	for i, w := range wantOrder {
		if events[i].TxID != w {
			t.Fatalf("events[%d].TxID = %s, want %s", i, events[i].TxID, w)
		}
	}
}

func TestSelectAndOrderDropsEventsAtOrBelowCursor(t *testing.T) {
	records := [][]byte{
		envelopeBytes(t, swap.Event{Kind: swap.EventOrderCreated, Chain: "evm", BlockHeight: 5, TxID: "stale"}),
		envelopeBytes(t, swap.Event{Kind: swap.EventOrderCreated, Chain: "evm", BlockHeight: 6, TxID: "fresh"}),
	}

	events, maxHeight, errs := selectAndOrder(records, 5)
	if len(errs) != 0 {
		t.Fatalf("unexpected decode errors: %v", errs)
	}
	if len(events) != 1 || events[0].TxID != "fresh" {
		t.Fatalf("expected only the event above the cursor, got %+v", events)
	}
	if maxHeight != 6 {
		t.Fatalf("maxHeight = %d, want 6", maxHeight)
	}
}

func TestSelectAndOrderReportsDecodeErrorsWithoutDroppingGoodEvents(t *testing.T) {
	records := [][]byte{
		[]byte("not json"),
		envelopeBytes(t, swap.Event{Kind: swap.EventOrderCreated, Chain: "evm", BlockHeight: 7, TxID: "ok"}),
	}

	events, maxHeight, errs := selectAndOrder(records, 0)
	if len(errs) != 1 {
		t.Fatalf("len(errs) = %d, want 1", len(errs))
	}
	if len(events) != 1 || events[0].TxID != "ok" {
		t.Fatalf("expected the decodable event to survive, got %+v", events)
	}
	if maxHeight != 7 {
		t.Fatalf("maxHeight = %d, want 7", maxHeight)
	}
}

func TestSelectAndOrderKeepsCursorWhenEverythingIsStale(t *testing.T) {
	records := [][]byte{
		envelopeBytes(t, swap.Event{Kind: swap.EventOrderCreated, Chain: "evm", BlockHeight: 3, TxID: "old"}),
	}

	events, maxHeight, errs := selectAndOrder(records, 10)
	if len(errs) != 0 {
		t.Fatalf("unexpected decode errors: %v", errs)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %+v", events)
	}
	if maxHeight != 10 {
		t.Fatalf("maxHeight = %d, want unchanged 10", maxHeight)
	}
}

package swap

import "time"

// EventEnvelopeSchemaVersion is bumped whenever EventEnvelope's wire shape
// changes incompatibly.
const EventEnvelopeSchemaVersion = 1

// EventEnvelope is the stable wire wrapper an Adapter publishes onto its
// Kafka topic and an Ingestor consumes (SPEC_FULL.md §3.4), modeled on the
// teacher's CanonicalEvent envelope. The semantic payload is exactly
// Event; SchemaVersion and IngestedAt are transport bookkeeping only and
// never feed resolver logic.
type EventEnvelope struct {
	SchemaVersion int32     `json:"schema_version"`
	IngestedAt    time.Time `json:"ingested_at"`
	Event         Event     `json:"event"`
}

// NewEventEnvelope wraps ev for publication, stamping IngestedAt at the
// point the Adapter observed it.
func NewEventEnvelope(ev Event) EventEnvelope {
	return EventEnvelope{
		SchemaVersion: EventEnvelopeSchemaVersion,
		IngestedAt:    time.Now().UTC(),
		Event:         ev,
	}
}

// Package ledger implements the append-only, hash-chained evidence
// store. Every compliance-relevant fact in the system is recorded as
// an EvidenceEvent; events within a source_system chain are linked by
// hash so that tampering with any one event is detectable.
package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a chain or event lookup finds nothing.
var ErrNotFound = errors.New("ledger: not found")

// Severity levels, increasing compliance impact. L4 is reserved for
// irreversible/regulatory acts like erasure.
const (
	SeverityL1 = "L1"
	SeverityL2 = "L2"
	SeverityL3 = "L3"
	SeverityL4 = "L4"
)

// EvidenceEvent is an immutable, ordered record of one
// compliance-relevant fact within a source_system hash chain.
type EvidenceEvent struct {
	EventID       string `json:"event_id"`
	CorrelationID string `json:"correlation_id"`
	CausationID   string `json:"causation_id,omitempty"`

	SourceSystem   string `json:"source_system"`
	SequenceNumber int    `json:"sequence_number"`

	OccurredAt time.Time `json:"occurred_at"`
	RecordedAt time.Time `json:"recorded_at"`

	EventType      string   `json:"event_type"`
	Severity       string   `json:"severity"`
	RegulatoryTags []string `json:"regulatory_tags"`
	Articles       []string `json:"articles"`

	Payload map[string]interface{} `json:"payload"`

	PayloadHash   string `json:"payload_hash"`
	PreviousHash  string `json:"previous_hash"`
	NexusSeal     string `json:"nexus_seal"`
	SealSignature string `json:"seal_signature,omitempty"`

	VerificationStatus string `json:"verification_status"`
}

// AppendParams carries the fields a caller supplies to Append; the
// ledger computes SequenceNumber, PayloadHash, PreviousHash and
// NexusSeal itself.
type AppendParams struct {
	EventID       string
	CorrelationID string
	CausationID   string

	SourceSystem string

	OccurredAt time.Time

	EventType      string
	Severity       string
	RegulatoryTags []string
	Articles       []string

	Payload map[string]interface{}
}

// ListFilter selects a subset of events for List.
type ListFilter struct {
	Severity           string
	EventType          string
	Search             string
	DestinationCountry string
	Limit              int
	Offset             int
}

// Ledger is the append-only evidence store contract.
type Ledger interface {
	// Init bootstraps the persistent schema.
	Init(ctx context.Context) error

	// Append inserts a new event at the tail of its source_system
	// chain, computing the chain linkage and seal.
	Append(ctx context.Context, params AppendParams) (*EvidenceEvent, error)

	// Verify recomputes and checks every event's hash and chain
	// linkage for source_system, in sequence order.
	Verify(ctx context.Context, sourceSystem string) (bool, string, error)

	// List returns events matching filter along with the total
	// matching count (ignoring Limit/Offset).
	List(ctx context.Context, filter ListFilter) ([]*EvidenceEvent, int, error)

	// DistinctChainCount returns the number of distinct source_system
	// chains with at least one sealed event ("merkle roots" metric).
	DistinctChainCount(ctx context.Context) (int, error)
}

package ledger

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/meridiancompliance/shield/pkg/canonicalize"
	"github.com/meridiancompliance/shield/pkg/signing"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS evidence_events (
	event_id             TEXT PRIMARY KEY,
	correlation_id       TEXT,
	causation_id         TEXT,
	source_system        TEXT NOT NULL,
	sequence_number      INTEGER NOT NULL,
	occurred_at          TIMESTAMPTZ NOT NULL,
	recorded_at          TIMESTAMPTZ NOT NULL,
	event_type           TEXT NOT NULL,
	severity             TEXT NOT NULL,
	regulatory_tags      TEXT[],
	articles             TEXT[],
	payload              JSONB NOT NULL,
	payload_hash         TEXT NOT NULL,
	previous_hash        TEXT NOT NULL,
	nexus_seal           TEXT NOT NULL,
	seal_signature       TEXT NOT NULL DEFAULT '',
	verification_status  TEXT NOT NULL DEFAULT 'VERIFIED'
);
CREATE INDEX IF NOT EXISTS idx_evidence_events_chain ON evidence_events(source_system, sequence_number);
`

// PostgresLedger is the durable, hash-chained implementation of Ledger.
type PostgresLedger struct {
	db      *sql.DB
	salt    string
	keyring *signing.Keyring
}

// NewPostgresLedger builds a ledger backed by db. salt is mixed into
// every event's nexus_seal (NEXUS_SEAL_SALT). keyring, when non-nil,
// adds an Ed25519 signature over each nexus_seal so that an attacker
// who can rewrite the whole chain (hashes included) still cannot forge
// a valid seal signature without the signing key.
func NewPostgresLedger(db *sql.DB, salt string, keyring *signing.Keyring) *PostgresLedger {
	return &PostgresLedger{db: db, salt: salt, keyring: keyring}
}

func (l *PostgresLedger) Init(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, pgSchema)
	return err
}

// Append serializes concurrent appends to the same chain with a
// Postgres advisory lock scoped to source_system, held for the
// duration of the transaction. This replaces an unlocked
// read-max-then-insert with a single-writer-per-chain discipline.
func (l *PostgresLedger) Append(ctx context.Context, params AppendParams) (*EvidenceEvent, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1)::bigint)", params.SourceSystem); err != nil {
		return nil, fmt.Errorf("ledger: acquire chain lock: %w", err)
	}

	var maxSeq sql.NullInt64
	var lastHash sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT sequence_number, payload_hash FROM evidence_events
		 WHERE source_system = $1 ORDER BY sequence_number DESC LIMIT 1`,
		params.SourceSystem,
	).Scan(&maxSeq, &lastHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ledger: read chain tail: %w", err)
	}

	nextSeq := 1
	previousHash := ""
	if maxSeq.Valid {
		nextSeq = int(maxSeq.Int64) + 1
		previousHash = lastHash.String
	}

	canonical, err := canonicalize.JSON(params.Payload)
	if err != nil {
		return nil, fmt.Errorf("ledger: canonicalize payload: %w", err)
	}
	payloadHashBytes := sha256.Sum256(canonical)
	payloadHash := hex.EncodeToString(payloadHashBytes[:])
	nexusSeal := computeNexusSeal(payloadHash, previousHash, l.salt)

	sealSignature := ""
	if l.keyring != nil {
		sig, err := l.keyring.Sign([]byte(nexusSeal))
		if err != nil {
			return nil, fmt.Errorf("ledger: sign seal: %w", err)
		}
		sealSignature = hex.EncodeToString(sig)
	}

	eventID := params.EventID
	if eventID == "" {
		eventID = uuid.New().String()
	}

	occurredAt := params.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	recordedAt := occurredAt

	payloadJSON, err := json.Marshal(params.Payload)
	if err != nil {
		return nil, fmt.Errorf("ledger: marshal payload: %w", err)
	}

	event := &EvidenceEvent{
		EventID:            eventID,
		CorrelationID:      params.CorrelationID,
		CausationID:        params.CausationID,
		SourceSystem:       params.SourceSystem,
		SequenceNumber:     nextSeq,
		OccurredAt:         occurredAt,
		RecordedAt:         recordedAt,
		EventType:          params.EventType,
		Severity:           params.Severity,
		RegulatoryTags:     params.RegulatoryTags,
		Articles:           params.Articles,
		Payload:            params.Payload,
		PayloadHash:        payloadHash,
		PreviousHash:       previousHash,
		NexusSeal:          nexusSeal,
		SealSignature:      sealSignature,
		VerificationStatus: "VERIFIED",
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO evidence_events
			(event_id, correlation_id, causation_id, source_system, sequence_number,
			 occurred_at, recorded_at, event_type, severity, regulatory_tags, articles,
			 payload, payload_hash, previous_hash, nexus_seal, seal_signature, verification_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		event.EventID, event.CorrelationID, event.CausationID, event.SourceSystem, event.SequenceNumber,
		event.OccurredAt, event.RecordedAt, event.EventType, event.Severity,
		pq.Array(event.RegulatoryTags), pq.Array(event.Articles),
		payloadJSON, event.PayloadHash, event.PreviousHash, event.NexusSeal, event.SealSignature, event.VerificationStatus,
	)
	if err != nil {
		return nil, fmt.Errorf("ledger: insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("ledger: commit: %w", err)
	}

	return event, nil
}

func computeNexusSeal(payloadHash, previousHash, salt string) string {
	sum := sha256.Sum256([]byte(payloadHash + previousHash + salt))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes and checks every event in source_system, in
// sequence order, returning the first mismatch it finds.
func (l *PostgresLedger) Verify(ctx context.Context, sourceSystem string) (bool, string, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT event_id, sequence_number, payload, payload_hash, previous_hash, nexus_seal, seal_signature
		FROM evidence_events WHERE source_system = $1 ORDER BY sequence_number ASC`,
		sourceSystem)
	if err != nil {
		return false, "", fmt.Errorf("ledger: verify query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var prevPayloadHash string
	count := 0
	for rows.Next() {
		var eventID string
		var seq int
		var payloadJSON []byte
		var payloadHash, previousHash, nexusSeal, sealSignature string

		if err := rows.Scan(&eventID, &seq, &payloadJSON, &payloadHash, &previousHash, &nexusSeal, &sealSignature); err != nil {
			return false, "", fmt.Errorf("ledger: verify scan: %w", err)
		}

		var payload map[string]interface{}
		if err := json.Unmarshal(payloadJSON, &payload); err != nil {
			return false, "", fmt.Errorf("ledger: verify unmarshal payload: %w", err)
		}

		canonical, err := canonicalize.JSON(payload)
		if err != nil {
			return false, "", fmt.Errorf("ledger: verify canonicalize: %w", err)
		}
		recomputedHashBytes := sha256.Sum256(canonical)
		recomputedHash := hex.EncodeToString(recomputedHashBytes[:])
		if recomputedHash != payloadHash {
			return false, fmt.Sprintf("Event %s payload hash mismatch", eventID), nil
		}

		if nexusSeal != "" {
			expectedSeal := computeNexusSeal(payloadHash, previousHash, l.salt)
			if expectedSeal != nexusSeal {
				return false, fmt.Sprintf("Event %s nexus seal mismatch", eventID), nil
			}
		}

		if sealSignature != "" && l.keyring != nil {
			sig, err := hex.DecodeString(sealSignature)
			if err != nil || !l.keyring.Verify([]byte(nexusSeal), sig) {
				return false, fmt.Sprintf("Event %s seal signature mismatch", eventID), nil
			}
		}

		if count > 0 && previousHash != prevPayloadHash {
			return false, fmt.Sprintf("Event %s previous hash mismatch", eventID), nil
		}

		prevPayloadHash = payloadHash
		count++
	}
	if err := rows.Err(); err != nil {
		return false, "", fmt.Errorf("ledger: verify rows: %w", err)
	}

	return true, fmt.Sprintf("%d events verified", count), nil
}

// List returns events matching filter along with the total matching
// count (ignoring Limit/Offset).
func (l *PostgresLedger) List(ctx context.Context, filter ListFilter) ([]*EvidenceEvent, int, error) {
	var conds []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Severity != "" {
		conds = append(conds, "severity = "+arg(filter.Severity))
	}
	if filter.EventType != "" {
		conds = append(conds, "event_type = "+arg(filter.EventType))
	}
	if filter.Search != "" {
		p := arg("%" + filter.Search + "%")
		conds = append(conds, fmt.Sprintf(
			"(event_id ILIKE %s OR correlation_id ILIKE %s OR event_type ILIKE %s OR payload::text ILIKE %s)",
			p, p, p, p))
	}
	if filter.DestinationCountry != "" {
		p := arg("%" + filter.DestinationCountry + "%")
		conds = append(conds, fmt.Sprintf(
			"(payload->>'destination_country' ILIKE %s OR payload->>'destinationCountry' ILIKE %s)",
			p, p))
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM evidence_events " + where
	if err := l.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ledger: count: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	limitArg := arg(limit)
	offsetArg := arg(filter.Offset)

	query := fmt.Sprintf(`
		SELECT event_id, correlation_id, causation_id, source_system, sequence_number,
		       occurred_at, recorded_at, event_type, severity, regulatory_tags, articles,
		       payload, payload_hash, previous_hash, nexus_seal, seal_signature, verification_status
		FROM evidence_events %s
		ORDER BY recorded_at DESC
		LIMIT %s OFFSET %s`, where, limitArg, offsetArg)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ledger: list query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*EvidenceEvent
	for rows.Next() {
		e := &EvidenceEvent{}
		var correlationID, causationID sql.NullString
		var payloadJSON []byte
		var regTags, articles pq.StringArray

		if err := rows.Scan(&e.EventID, &correlationID, &causationID, &e.SourceSystem, &e.SequenceNumber,
			&e.OccurredAt, &e.RecordedAt, &e.EventType, &e.Severity, &regTags, &articles,
			&payloadJSON, &e.PayloadHash, &e.PreviousHash, &e.NexusSeal, &e.SealSignature, &e.VerificationStatus); err != nil {
			return nil, 0, fmt.Errorf("ledger: list scan: %w", err)
		}
		e.CorrelationID = correlationID.String
		e.CausationID = causationID.String
		e.RegulatoryTags = []string(regTags)
		e.Articles = []string(articles)
		if err := json.Unmarshal(payloadJSON, &e.Payload); err != nil {
			return nil, 0, fmt.Errorf("ledger: list unmarshal payload: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ledger: list rows: %w", err)
	}

	return events, total, nil
}

// DistinctChainCount returns the number of distinct source_system
// chains with at least one sealed event.
func (l *PostgresLedger) DistinctChainCount(ctx context.Context) (int, error) {
	var count int
	err := l.db.QueryRowContext(ctx, "SELECT COUNT(DISTINCT source_system) FROM evidence_events").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ledger: distinct chain count: %w", err)
	}
	return count, nil
}

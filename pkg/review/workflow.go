// Package review implements the human-oversight state machine that
// gates any transfer decision the engine could not resolve on its own.
package review

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridiancompliance/shield/pkg/ledger"
)

var (
	// ErrNotFound is returned when a seal_id does not resolve to a row.
	ErrNotFound = errors.New("review: not found")
	// ErrConflict is returned when Decide is called on an already-terminal review.
	ErrConflict = errors.New("review: already decided")
)

const (
	OversightPending  = "PENDING"
	OversightApproved = "APPROVED"
	OversightRejected = "REJECTED"

	RecordStatusPendingReview = "PENDING_REVIEW"
)

// Item is the joined, client-facing projection of a ComplianceRecord
// and its HumanOversight row.
type Item struct {
	SealID          string     `json:"seal_id"`
	AgentID         string     `json:"agent_id"`
	ActionSummary   string     `json:"action_summary"`
	TxID            string     `json:"tx_id"`
	PayloadHash     string     `json:"payload_hash"`
	EvidenceEventID string     `json:"evidence_event_id,omitempty"`
	Status          string     `json:"status"`
	ReviewerID      string     `json:"reviewer_id,omitempty"`
	DecidedAt       *time.Time `json:"decided_at,omitempty"`
	Comments        string     `json:"comments,omitempty"`
	FinalDecision   string     `json:"final_decision,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS compliance_records (
	seal_id            TEXT PRIMARY KEY,
	agent_id           TEXT,
	action_summary     TEXT,
	tx_id              TEXT,
	payload_hash       TEXT,
	evidence_event_id  TEXT,
	status             TEXT NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_compliance_records_event
	ON compliance_records(evidence_event_id) WHERE evidence_event_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS human_oversight (
	seal_id      TEXT PRIMARY KEY REFERENCES compliance_records(seal_id),
	status       TEXT NOT NULL,
	reviewer_id  TEXT,
	decided_at   TIMESTAMPTZ,
	comments     TEXT
);
`

// Workflow is the Postgres-backed review state machine. It mirrors
// oversight decisions into the evidence ledger on a best-effort basis:
// the decision itself is the source of truth, and a failed mirror
// write is logged, not rolled back.
type Workflow struct {
	db     *sql.DB
	ledger ledger.Ledger
}

// NewWorkflow builds a Workflow backed by db, mirroring decisions into l.
func NewWorkflow(db *sql.DB, l ledger.Ledger) *Workflow {
	return &Workflow{db: db, ledger: l}
}

func (w *Workflow) Init(ctx context.Context) error {
	_, err := w.db.ExecContext(ctx, schema)
	return err
}

// Create opens a review for evidenceEventID. It is idempotent: a
// second call with the same evidenceEventID returns the existing
// seal_id without inserting a new row.
func (w *Workflow) Create(ctx context.Context, agentID, actionSummary, txID, payloadHash, evidenceEventID string) (string, error) {
	if evidenceEventID != "" {
		var existing string
		err := w.db.QueryRowContext(ctx,
			"SELECT seal_id FROM compliance_records WHERE evidence_event_id = $1", evidenceEventID,
		).Scan(&existing)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("review: idempotency check: %w", err)
		}
	}

	sealID, err := newSealID()
	if err != nil {
		return "", fmt.Errorf("review: generate seal id: %w", err)
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("review: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Reviews created by hand carry no evidence event; store NULL so the
	// partial unique index only ever sees real event IDs.
	eventID := sql.NullString{String: evidenceEventID, Valid: evidenceEventID != ""}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO compliance_records (seal_id, agent_id, action_summary, tx_id, payload_hash, evidence_event_id, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		sealID, agentID, actionSummary, txID, payloadHash, eventID, RecordStatusPendingReview, time.Now().UTC(),
	)
	if err != nil {
		// A concurrent Create for the same evidenceEventID may have
		// won the unique-index race; surface the winner's seal_id.
		if evidenceEventID != "" {
			var existing string
			if lookupErr := w.db.QueryRowContext(ctx,
				"SELECT seal_id FROM compliance_records WHERE evidence_event_id = $1", evidenceEventID,
			).Scan(&existing); lookupErr == nil {
				return existing, nil
			}
		}
		return "", fmt.Errorf("review: insert compliance record: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO human_oversight (seal_id, status) VALUES ($1, $2)`,
		sealID, OversightPending,
	)
	if err != nil {
		return "", fmt.Errorf("review: insert human oversight: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("review: commit: %w", err)
	}

	return sealID, nil
}

// Decide transitions sealID from PENDING to a terminal state. decision
// must be one of "ALLOW"/"APPROVE"/"APPROVED" or
// "BLOCK"/"REJECT"/"REJECTED". Only legal
// from PENDING; the conditional UPDATE guards against races with a
// concurrent decide call.
func (w *Workflow) Decide(ctx context.Context, sealID, decision, reviewerID, comments string) error {
	target, err := normalizeDecision(decision)
	if err != nil {
		return err
	}
	return w.decide(ctx, sealID, target, reviewerID, comments)
}

func (w *Workflow) decide(ctx context.Context, sealID, targetStatus, reviewerID, comments string) error {
	now := time.Now().UTC()

	res, err := w.db.ExecContext(ctx, `
		UPDATE human_oversight
		SET status = $1, reviewer_id = $2, decided_at = $3, comments = $4
		WHERE seal_id = $5 AND status = $6`,
		targetStatus, reviewerID, now, comments, sealID, OversightPending,
	)
	if err != nil {
		return fmt.Errorf("review: decide update: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("review: rows affected: %w", err)
	}
	if rows == 0 {
		var exists bool
		_ = w.db.QueryRowContext(ctx, "SELECT true FROM human_oversight WHERE seal_id = $1", sealID).Scan(&exists)
		if !exists {
			return ErrNotFound
		}
		return ErrConflict
	}

	if _, err := w.db.ExecContext(ctx, `
		UPDATE compliance_records SET status = $1 WHERE seal_id = $2`, targetStatus, sealID,
	); err != nil {
		return fmt.Errorf("review: mirror compliance record status: %w", err)
	}

	w.mirrorEvidence(ctx, sealID, targetStatus, reviewerID)

	return nil
}

// mirrorEvidence appends a best-effort evidence event for the
// decision. Failures here are not surfaced: the decision is already
// committed and the mirror is observability, not the source of truth.
func (w *Workflow) mirrorEvidence(ctx context.Context, sealID, targetStatus, reviewerID string) {
	if w.ledger == nil {
		return
	}

	eventType := "HUMAN_OVERSIGHT_APPROVED"
	if targetStatus == OversightRejected {
		eventType = "HUMAN_OVERSIGHT_REJECTED"
	}

	_, err := w.ledger.Append(ctx, ledger.AppendParams{
		SourceSystem:   "review-workflow",
		CorrelationID:  sealID,
		EventType:      eventType,
		Severity:       ledger.SeverityL2,
		RegulatoryTags: []string{"GDPR"},
		Articles:       []string{"GDPR Art. 22"},
		Payload: map[string]interface{}{
			"seal_id":     sealID,
			"reviewer_id": reviewerID,
			"status":      targetStatus,
		},
	})
	if err != nil {
		slog.Warn("evidence mirror failed", "seal_id", sealID, "error", err)
	}
}

// List projects joined rows into Items, optionally filtered by status.
func (w *Workflow) List(ctx context.Context, status string) ([]*Item, error) {
	query := `
		SELECT cr.seal_id, cr.agent_id, cr.action_summary, cr.tx_id, cr.payload_hash,
		       cr.evidence_event_id, cr.created_at, ho.status, ho.reviewer_id, ho.decided_at, ho.comments
		FROM compliance_records cr
		JOIN human_oversight ho ON ho.seal_id = cr.seal_id`
	args := []interface{}{}
	if status != "" {
		query += " WHERE ho.status = $1"
		args = append(args, status)
	}
	query += " ORDER BY cr.created_at DESC"

	rows, err := w.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("review: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*Item
	for rows.Next() {
		it := &Item{}
		var evidenceEventID, reviewerID, comments sql.NullString
		var decidedAt sql.NullTime
		if err := rows.Scan(&it.SealID, &it.AgentID, &it.ActionSummary, &it.TxID, &it.PayloadHash,
			&evidenceEventID, &it.CreatedAt, &it.Status, &reviewerID, &decidedAt, &comments); err != nil {
			return nil, fmt.Errorf("review: scan: %w", err)
		}
		it.EvidenceEventID = evidenceEventID.String
		it.ReviewerID = reviewerID.String
		it.Comments = comments.String
		if decidedAt.Valid {
			t := decidedAt.Time
			it.DecidedAt = &t
		}
		it.FinalDecision = finalDecisionFor(it.Status)
		items = append(items, it)
	}
	return items, rows.Err()
}

// AutoApproveForCountry auto-approves every PENDING review whose
// referenced evidence event carries destination_country_code matching
// countryCode (case-insensitive), with reviewer_id "scc-registration".
// Called when a new SCC is registered for that country.
func (w *Workflow) AutoApproveForCountry(ctx context.Context, countryCode string) error {
	rows, err := w.db.QueryContext(ctx, `
		SELECT ho.seal_id
		FROM human_oversight ho
		JOIN compliance_records cr ON cr.seal_id = ho.seal_id
		JOIN evidence_events ee ON ee.event_id = cr.evidence_event_id
		WHERE ho.status = $1 AND ee.payload->>'destination_country_code' ILIKE $2`,
		OversightPending, countryCode,
	)
	if err != nil {
		return fmt.Errorf("review: auto-approve query: %w", err)
	}

	var sealIDs []string
	for rows.Next() {
		var sealID string
		if err := rows.Scan(&sealID); err != nil {
			_ = rows.Close()
			return fmt.Errorf("review: auto-approve scan: %w", err)
		}
		sealIDs = append(sealIDs, sealID)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("review: auto-approve rows: %w", err)
	}
	_ = rows.Close()

	for _, sealID := range sealIDs {
		if err := w.decide(ctx, sealID, OversightApproved, "scc-registration", "auto-approved: SCC on file"); err != nil && !errors.Is(err, ErrConflict) {
			return fmt.Errorf("review: auto-approve %s: %w", sealID, err)
		}
	}
	return nil
}

func normalizeDecision(decision string) (string, error) {
	switch decision {
	case "ALLOW", "APPROVE", OversightApproved:
		return OversightApproved, nil
	case "BLOCK", "REJECT", OversightRejected:
		return OversightRejected, nil
	default:
		return "", fmt.Errorf("review: unrecognized decision %q", decision)
	}
}

func finalDecisionFor(status string) string {
	switch status {
	case OversightApproved:
		return "ALLOW"
	case OversightRejected:
		return "BLOCK"
	default:
		return ""
	}
}

func newSealID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "SEAL-" + hex.EncodeToString(b), nil
}

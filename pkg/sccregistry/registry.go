// Package sccregistry is the CRUD store for Standard Contractual
// Clauses: the legal instrument under GDPR Art. 46 that permits
// transfer to a non-adequate country absent an adequacy decision.
package sccregistry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an id does not resolve to a row, or the
// row is already in a terminal state for the requested transition.
var ErrNotFound = errors.New("sccregistry: not found")

const (
	StatusActive  = "active"
	StatusRevoked = "revoked"
)

// Record is one standard contractual clause on file for a
// (partner, destination country) pair.
type Record struct {
	ID                     string     `json:"id"`
	PartnerName            string     `json:"partner_name"`
	DestinationCountryCode string     `json:"destination_country_code"`
	Status                 string     `json:"status"`
	ExpiresAt              *time.Time `json:"expires_at,omitempty"`
	RegisteredAt           time.Time  `json:"registered_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS scc_registries (
	id                        TEXT PRIMARY KEY,
	partner_name              TEXT NOT NULL,
	destination_country_code  TEXT NOT NULL,
	status                    TEXT NOT NULL,
	expires_at                TIMESTAMPTZ,
	registered_at             TIMESTAMPTZ NOT NULL
);
`

// AutoApprover is notified whenever a new SCC is registered so that
// any pending review for the same destination country can clear.
// Implemented by pkg/review.Workflow; kept as an interface here to
// avoid an import cycle between sccregistry and review.
type AutoApprover interface {
	AutoApproveForCountry(ctx context.Context, countryCode string) error
}

// Registry is the Postgres-backed SCC store.
type Registry struct {
	db       *sql.DB
	approver AutoApprover
}

// NewRegistry builds a Registry backed by db. approver may be nil if
// the SCC-triggered auto-approval sweep is not wired in (e.g. tests
// that only exercise CRUD behavior).
func NewRegistry(db *sql.DB, approver AutoApprover) *Registry {
	return &Registry{db: db, approver: approver}
}

func (r *Registry) Init(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// Register stores country uppercased with status=active, and triggers
// the auto-approval sweep for any PENDING review referencing the same
// country.
func (r *Registry) Register(ctx context.Context, partnerName, countryCode string, expiresAt *time.Time) (*Record, error) {
	rec := &Record{
		ID:                     uuid.New().String(),
		PartnerName:            partnerName,
		DestinationCountryCode: strings.ToUpper(countryCode),
		Status:                 StatusActive,
		ExpiresAt:              expiresAt,
		RegisteredAt:           time.Now().UTC(),
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scc_registries (id, partner_name, destination_country_code, status, expires_at, registered_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		rec.ID, rec.PartnerName, rec.DestinationCountryCode, rec.Status, rec.ExpiresAt, rec.RegisteredAt,
	)
	if err != nil {
		return nil, fmt.Errorf("sccregistry: insert: %w", err)
	}

	if r.approver != nil {
		if err := r.approver.AutoApproveForCountry(ctx, rec.DestinationCountryCode); err != nil {
			return nil, fmt.Errorf("sccregistry: auto-approve sweep: %w", err)
		}
	}

	return rec, nil
}

// ListAll returns every row ordered by registration time descending.
func (r *Registry) ListAll(ctx context.Context) ([]*Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, partner_name, destination_country_code, status, expires_at, registered_at
		FROM scc_registries ORDER BY registered_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("sccregistry: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Record
	for rows.Next() {
		rec := &Record{}
		if err := rows.Scan(&rec.ID, &rec.PartnerName, &rec.DestinationCountryCode, &rec.Status, &rec.ExpiresAt, &rec.RegisteredAt); err != nil {
			return nil, fmt.Errorf("sccregistry: scan: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Revoke conditionally transitions a row from active to revoked. A
// no-op on an already-revoked or absent row returns ErrNotFound.
func (r *Registry) Revoke(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE scc_registries SET status = $1 WHERE id = $2 AND status = $3`,
		StatusRevoked, id, StatusActive,
	)
	if err != nil {
		return fmt.Errorf("sccregistry: revoke: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sccregistry: rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ActiveFor reports whether an unexpired, active SCC exists for
// (partnerName, countryCode). Used by the decision engine.
func (r *Registry) ActiveFor(ctx context.Context, partnerName, countryCode string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM scc_registries
		WHERE partner_name = $1 AND destination_country_code = $2
		  AND status = $3 AND (expires_at IS NULL OR expires_at > now())`,
		partnerName, strings.ToUpper(countryCode), StatusActive,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("sccregistry: active lookup: %w", err)
	}
	return count > 0, nil
}

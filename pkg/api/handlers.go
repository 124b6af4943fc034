package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/meridiancompliance/shield/pkg/decision"
	"github.com/meridiancompliance/shield/pkg/erasure"
	"github.com/meridiancompliance/shield/pkg/jurisdiction"
	"github.com/meridiancompliance/shield/pkg/ledger"
	"github.com/meridiancompliance/shield/pkg/review"
	"github.com/meridiancompliance/shield/pkg/sccregistry"
	"github.com/meridiancompliance/shield/pkg/validate"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Service wires the four domain engines into HTTP handlers.
type Service struct {
	Ledger  ledger.Ledger
	Engine  *decision.Engine
	Review  *review.Workflow
	Erasure *erasure.Engine
	SCC     *sccregistry.Registry

	schemas *validate.Registry
}

// NewService builds a Service from its collaborators.
func NewService(l ledger.Ledger, e *decision.Engine, rv *review.Workflow, er *erasure.Engine, scc *sccregistry.Registry) *Service {
	return &Service{Ledger: l, Engine: e, Review: rv, Erasure: er, SCC: scc, schemas: validate.NewRegistry()}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteBadRequest(w, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// readValidatedBody decodes the request body into v, first checking it
// against schema. Validation runs against the raw decoded document so
// that JSON Schema constraints (minLength, required, etc.) see the
// wire shape rather than v's zeroed/defaulted Go representation.
func readValidatedBody(w http.ResponseWriter, r *http.Request, schema *jsonschema.Schema, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		WriteBadRequest(w, "Invalid request body: "+err.Error())
		return false
	}

	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		WriteBadRequest(w, "Invalid request body: "+err.Error())
		return false
	}
	if err := validate.Against(schema, generic); err != nil {
		WriteBadRequest(w, err.Error())
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		WriteBadRequest(w, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// transferContextBody mirrors decision.TransferContext for JSON
// decoding, preserving the nil-vs-empty data_categories distinction.
type transferContextBody struct {
	DestinationCountryCode string   `json:"destination_country_code"`
	DestinationCountry     string   `json:"destination_country"`
	DataCategories         []string `json:"data_categories"`
	PartnerName            string   `json:"partner_name"`
	SourceIP               string   `json:"source_ip"`
	DestIP                 string   `json:"dest_ip"`
	Protocol               string   `json:"protocol"`
	SizeBytes              int64    `json:"size_bytes"`
	UserAgent              string   `json:"user_agent"`
	Path                   string   `json:"path"`
}

func (b transferContextBody) toContext() decision.TransferContext {
	return decision.TransferContext{
		DestinationCountryCode: b.DestinationCountryCode,
		DestinationCountry:     b.DestinationCountry,
		DataCategories:         b.DataCategories,
		PartnerName:            b.PartnerName,
		SourceIP:               b.SourceIP,
		DestIP:                 b.DestIP,
		Protocol:               b.Protocol,
		SizeBytes:              b.SizeBytes,
		UserAgent:              b.UserAgent,
		Path:                   b.Path,
	}
}

type evaluateResponse struct {
	Decision      string              `json:"decision"`
	Reason        string              `json:"reason"`
	Severity      string              `json:"severity"`
	Articles      []string            `json:"articles"`
	CountryStatus jurisdiction.Status `json:"country_status"`
	EvidenceID    string              `json:"evidence_id"`
	ReviewID      string              `json:"review_id,omitempty"`
	Timestamp     string              `json:"timestamp"`
}

// HandleEvaluate handles POST /shield/evaluate.
func (s *Service) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	var body transferContextBody
	if !readValidatedBody(w, r, s.schemas.TransferContext, &body) {
		return
	}

	d, err := s.Engine.Evaluate(r.Context(), body.toContext())
	if err != nil {
		WriteInternal(w, err)
		return
	}

	writeJSON(w, http.StatusOK, evaluateResponse{
		Decision:      d.Decision,
		Reason:        d.Reason,
		Severity:      d.Severity,
		Articles:      d.Articles,
		CountryStatus: d.CountryStatus,
		EvidenceID:    d.EvidenceEventID,
		ReviewID:      d.ReviewID,
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// HandleIngestLogs handles POST /shield/ingest-logs: a best-effort,
// SCC-lookup-free bulk evaluation of historical transfer logs.
func (s *Service) HandleIngestLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	var bodies []transferContextBody
	if !readBody(w, r, &bodies) {
		return
	}

	pureEngine := decision.NewEngine(s.Engine.Ledger, noSCCLookup{}, s.Engine.Review)
	processed := 0
	for i, b := range bodies {
		if _, err := pureEngine.Evaluate(r.Context(), b.toContext()); err != nil {
			slog.Warn("log ingestion entry failed", "index", i, "error", err)
			continue
		}
		processed++
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"processed": processed,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// noSCCLookup always reports no active SCC, so log ingestion never
// performs a live SCC lookup (it evaluates what the log already shows).
type noSCCLookup struct{}

func (noSCCLookup) ActiveFor(ctx context.Context, partnerName, countryCode string) (bool, error) {
	return false, nil
}

// HandleListEvidence handles GET /evidence/events.
func (s *Service) HandleListEvidence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	filter := ledger.ListFilter{
		Severity:           q.Get("severity"),
		EventType:          q.Get("event_type"),
		Search:             q.Get("search"),
		DestinationCountry: q.Get("destination_country"),
		Limit:              parseIntDefault(q.Get("limit"), 50),
		Offset:             parseIntDefault(q.Get("offset"), 0),
	}

	events, total, err := s.Ledger.List(r.Context(), filter)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	chains, err := s.Ledger.DistinctChainCount(r.Context())
	if err != nil {
		WriteInternal(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events":      events,
		"totalCount":  total,
		"merkleRoots": chains,
	})
}

func parseIntDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

type appendEventBody struct {
	CorrelationID  string                 `json:"correlation_id"`
	CausationID    string                 `json:"causation_id"`
	SourceSystem   string                 `json:"source_system"`
	EventType      string                 `json:"event_type"`
	Severity       string                 `json:"severity"`
	RegulatoryTags []string               `json:"regulatory_tags"`
	Articles       []string               `json:"articles"`
	Payload        map[string]interface{} `json:"payload"`
}

// HandleAppendEvidence handles POST /evidence/events.
func (s *Service) HandleAppendEvidence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	var body appendEventBody
	if !readBody(w, r, &body) {
		return
	}
	if body.SourceSystem == "" || body.EventType == "" {
		WriteBadRequest(w, "Missing required fields: source_system, event_type")
		return
	}

	event, err := s.Ledger.Append(r.Context(), ledger.AppendParams{
		CorrelationID:  body.CorrelationID,
		CausationID:    body.CausationID,
		SourceSystem:   body.SourceSystem,
		EventType:      body.EventType,
		Severity:       body.Severity,
		RegulatoryTags: body.RegulatoryTags,
		Articles:       body.Articles,
		Payload:        body.Payload,
	})
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// HandleVerifyIntegrity handles POST /evidence/verify-integrity.
func (s *Service) HandleVerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	var body struct {
		SourceSystem string `json:"source_system"`
	}
	if !readBody(w, r, &body) {
		return
	}
	if body.SourceSystem == "" {
		WriteBadRequest(w, "Missing required field: source_system")
		return
	}

	verified, message, err := s.Ledger.Verify(r.Context(), body.SourceSystem)
	if err != nil {
		WriteInternal(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"verified":     verified,
		"sourceSystem": body.SourceSystem,
		"timestamp":    time.Now().UTC().Format(time.RFC3339Nano),
		"message":      message,
	})
}

type createReviewBody struct {
	AgentID         string `json:"agent_id"`
	ActionSummary   string `json:"action_summary"`
	TxID            string `json:"tx_id"`
	PayloadHash     string `json:"payload_hash"`
	EvidenceEventID string `json:"evidence_event_id"`
}

// HandleReviewQueue handles GET and POST /review-queue.
func (s *Service) HandleReviewQueue(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		items, err := s.Review.List(r.Context(), r.URL.Query().Get("status"))
		if err != nil {
			WriteInternal(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
	case http.MethodPost:
		var body createReviewBody
		if !readBody(w, r, &body) {
			return
		}
		sealID, err := s.Review.Create(r.Context(), body.AgentID, body.ActionSummary, body.TxID, body.PayloadHash, body.EvidenceEventID)
		if err != nil {
			WriteInternal(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{"seal_id": sealID})
	default:
		WriteMethodNotAllowed(w)
	}
}

// HandlePendingOversight handles GET /human_oversight/pending.
func (s *Service) HandlePendingOversight(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	items, err := s.Review.List(r.Context(), review.OversightPending)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

// HandleDecidedEvidenceIDs handles GET /human_oversight/decided-evidence-ids.
func (s *Service) HandleDecidedEvidenceIDs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	approved, err := s.Review.List(r.Context(), review.OversightApproved)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	rejected, err := s.Review.List(r.Context(), review.OversightRejected)
	if err != nil {
		WriteInternal(w, err)
		return
	}

	ids := make([]string, 0, len(approved)+len(rejected))
	for _, item := range approved {
		ids = append(ids, item.EvidenceEventID)
	}
	for _, item := range rejected {
		ids = append(ids, item.EvidenceEventID)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"evidence_event_ids": ids})
}

type decideBody struct {
	Decision   string `json:"decision"`
	Reason     string `json:"reason"`
	ReviewerID string `json:"reviewer_id"`
}

// HandleApprove handles POST /action/{seal_id}/approve.
func (s *Service) HandleApprove(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, review.OversightApproved, strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/action/"), "/approve"))
}

// HandleReject handles POST /action/{seal_id}/reject.
func (s *Service) HandleReject(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, review.OversightRejected, strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/action/"), "/reject"))
}

func (s *Service) decide(w http.ResponseWriter, r *http.Request, targetStatus, sealID string) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	if sealID == "" {
		WriteBadRequest(w, "Missing seal_id in path")
		return
	}
	var body decideBody
	if !readBody(w, r, &body) {
		return
	}
	reviewerID := body.ReviewerID
	if reviewerID == "" {
		reviewerID = "unknown"
	}

	var err error
	if targetStatus == review.OversightApproved {
		err = s.Review.Decide(r.Context(), sealID, "APPROVED", reviewerID, body.Reason)
	} else {
		err = s.Review.Decide(r.Context(), sealID, "REJECTED", reviewerID, body.Reason)
	}
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]interface{}{"seal_id": sealID, "status": targetStatus})
	case errors.Is(err, review.ErrNotFound):
		WriteNotFound(w, "Unknown seal_id")
	case errors.Is(err, review.ErrConflict):
		WriteConflict(w, "Review already decided")
	default:
		WriteInternal(w, err)
	}
}

type registerSCCBody struct {
	PartnerName            string     `json:"partner_name"`
	DestinationCountryCode string     `json:"destination_country_code"`
	ExpiresAt              *time.Time `json:"expires_at"`
}

// HandleSCCRegistries handles GET and POST /scc-registries.
func (s *Service) HandleSCCRegistries(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		records, err := s.SCC.ListAll(r.Context())
		if err != nil {
			WriteInternal(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"records": records})
	case http.MethodPost:
		var body registerSCCBody
		if !readBody(w, r, &body) {
			return
		}
		if body.PartnerName == "" || body.DestinationCountryCode == "" {
			WriteBadRequest(w, "Missing required fields: partner_name, destination_country_code")
			return
		}
		record, err := s.SCC.Register(r.Context(), body.PartnerName, body.DestinationCountryCode, body.ExpiresAt)
		if err != nil {
			WriteInternal(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, record)
	default:
		WriteMethodNotAllowed(w)
	}
}

// HandleRevokeSCC handles DELETE /scc-registries/{id}.
func (s *Service) HandleRevokeSCC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		WriteMethodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/scc-registries/")
	if id == "" {
		WriteBadRequest(w, "Missing id in path")
		return
	}
	if err := s.SCC.Revoke(r.Context(), id); err != nil {
		if errors.Is(err, sccregistry.ErrNotFound) {
			WriteNotFound(w, "Unknown scc registry id")
			return
		}
		WriteInternal(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type erasureBody struct {
	RequestID    string `json:"requestId"`
	UserID       string `json:"userId"`
	Grounds      string `json:"grounds"`
	Confirmation string `json:"confirmation"`
}

// HandleErasure handles POST /gdpr-rights/erasure/execute.
func (s *Service) HandleErasure(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	var body erasureBody
	if !readValidatedBody(w, r, s.schemas.ErasureRequest, &body) {
		return
	}

	result, err := s.Erasure.Erase(r.Context(), body.UserID, body.RequestID, body.Grounds, body.Confirmation)
	if err != nil {
		if errors.Is(err, erasure.ErrConfirmationMismatch) {
			WriteBadRequest(w, `confirmation must equal "ERASE <userId>" exactly`)
			return
		}
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Package decision implements the transfer decision engine: the rule
// table that turns a destination country and data-category context
// into an ALLOW/BLOCK/REVIEW outcome, sealing every outcome into the
// evidence ledger.
package decision

import (
	"context"
	"fmt"

	"github.com/meridiancompliance/shield/pkg/jurisdiction"
	"github.com/meridiancompliance/shield/pkg/ledger"
)

const (
	Allow  = "ALLOW"
	Block  = "BLOCK"
	Review = "REVIEW"

	EventDataTransfer       = "DATA_TRANSFER"
	EventDataTransferBlock  = "DATA_TRANSFER_BLOCKED"
	EventDataTransferReview = "DATA_TRANSFER_REVIEW"
)

// TransferContext is the input to Evaluate: everything known about
// one transfer attempt.
type TransferContext struct {
	DestinationCountryCode string
	DestinationCountry     string
	// DataCategories is nil when the caller never supplied the field
	// (triggers REVIEW) versus an empty, non-nil slice meaning
	// "confirmed no personal data". This distinction is load-bearing.
	DataCategories []string
	PartnerName    string

	SourceIP  string
	DestIP    string
	Protocol  string
	SizeBytes int64
	UserAgent string
	Path      string
}

// Decision is the engine's verdict for one TransferContext.
type Decision struct {
	Decision      string
	Reason        string
	Severity      string
	Articles      []string
	EventType     string
	CountryStatus jurisdiction.Status

	EvidenceEventID string
	ReviewID        string
}

// SCCLookup reports whether an active, unexpired SCC exists for
// (partnerName, countryCode). Implemented by pkg/sccregistry.Registry.
type SCCLookup interface {
	ActiveFor(ctx context.Context, partnerName, countryCode string) (bool, error)
}

// ReviewOpener opens a human-oversight review referencing a sealed
// evidence event. Implemented by pkg/review.Workflow.
type ReviewOpener interface {
	Create(ctx context.Context, agentID, actionSummary, txID, payloadHash, evidenceEventID string) (string, error)
}

// Engine evaluates TransferContexts against the decision table,
// appending a sealed evidence event for every outcome and opening a
// review when the outcome is REVIEW.
type Engine struct {
	Ledger ledger.Ledger
	SCC    SCCLookup
	Review ReviewOpener
}

// NewEngine builds an Engine from its collaborators.
func NewEngine(l ledger.Ledger, scc SCCLookup, reviewer ReviewOpener) *Engine {
	return &Engine{Ledger: l, SCC: scc, Review: reviewer}
}

// Evaluate runs the decision table, appends a sealed evidence event
// for the outcome, and — if the decision is REVIEW — opens a review
// referencing the new event. Both writes happen within this call.
func (e *Engine) Evaluate(ctx context.Context, tctx TransferContext) (*Decision, error) {
	d := evaluateTable(ctx, tctx, e.SCC)

	country := tctx.DestinationCountry
	if country == "" && tctx.DestinationCountryCode != "" {
		country = jurisdiction.DisplayName(tctx.DestinationCountryCode)
	}

	payload := map[string]interface{}{
		"destination_country_code": tctx.DestinationCountryCode,
		"destination_country":      country,
		"partner_name":             tctx.PartnerName,
		"source_ip":                tctx.SourceIP,
		"dest_ip":                  tctx.DestIP,
		"protocol":                 tctx.Protocol,
		"size_bytes":               tctx.SizeBytes,
		"user_agent":               tctx.UserAgent,
		"path":                     tctx.Path,
		"decision":                 d.Decision,
		"reason":                   d.Reason,
		"country_status":           string(d.CountryStatus),
	}
	if tctx.DataCategories != nil {
		payload["data_categories"] = tctx.DataCategories
	}

	event, err := e.Ledger.Append(ctx, ledger.AppendParams{
		SourceSystem: "shield-transfer-decisions",
		EventType:    d.EventType,
		Severity:     d.Severity,
		Articles:     d.Articles,
		Payload:      payload,
	})
	if err != nil {
		return nil, fmt.Errorf("decision: seal evidence: %w", err)
	}
	d.EvidenceEventID = event.EventID

	if d.Decision == Review && e.Review != nil {
		sealID, err := e.Review.Create(ctx, "shield-decision-engine", d.Reason, event.EventID, event.PayloadHash, event.EventID)
		if err != nil {
			return nil, fmt.Errorf("decision: open review: %w", err)
		}
		d.ReviewID = sealID
	}

	return d, nil
}

// evaluateTable runs the decision table top-to-bottom; first match wins.
func evaluateTable(ctx context.Context, tctx TransferContext, scc SCCLookup) *Decision {
	status := jurisdiction.Classify(tctx.DestinationCountryCode)

	if tctx.DestinationCountryCode == "" {
		return reviewDecision("destination country code missing", status, []string{"GDPR Art. 44"})
	}
	if tctx.DataCategories == nil {
		return reviewDecision("data categories not supplied", status, []string{"GDPR Art. 44"})
	}

	personalData := len(tctx.DataCategories) > 0

	switch status {
	case jurisdiction.EUEEA:
		return allowDecision("destination is an EU/EEA member state", status, nil)
	case jurisdiction.Adequate:
		return allowDecision("destination has an adequacy decision", status, []string{"GDPR Art. 45"})
	case jurisdiction.Blocked:
		return blockDecision("destination is a blocked jurisdiction", status, []string{"GDPR Art. 44", "GDPR Art. 46"})
	case jurisdiction.SCCRequired:
		return evaluateSCCRequired(ctx, tctx, status, personalData, scc)
	default: // Unknown
		if !personalData {
			return allowDecision("no personal data in transfer to unclassified jurisdiction", status, nil)
		}
		return reviewDecision("personal data to unclassified jurisdiction", status, []string{"GDPR Art. 44"})
	}
}

func evaluateSCCRequired(ctx context.Context, tctx TransferContext, status jurisdiction.Status, personalData bool, scc SCCLookup) *Decision {
	if !personalData {
		return allowDecision("no personal data; SCC not required", status, nil)
	}
	if tctx.PartnerName == "" {
		return reviewDecision("personal data to SCC-required jurisdiction with no partner named", status, []string{"GDPR Art. 46"})
	}

	active, err := scc.ActiveFor(ctx, tctx.PartnerName, tctx.DestinationCountryCode)
	if err != nil {
		return reviewDecision("SCC lookup failed (fail-safe to review)", status, []string{"GDPR Art. 46"})
	}
	if active {
		return allowDecision("active SCC on file for partner and destination", status, []string{"GDPR Art. 46"})
	}
	return reviewDecision("no active SCC on file for partner and destination", status, []string{"GDPR Art. 46"})
}

func allowDecision(reason string, status jurisdiction.Status, articles []string) *Decision {
	return &Decision{
		Decision:      Allow,
		Reason:        reason,
		Severity:      ledger.SeverityL1,
		Articles:      articles,
		EventType:     EventDataTransfer,
		CountryStatus: status,
	}
}

func blockDecision(reason string, status jurisdiction.Status, articles []string) *Decision {
	return &Decision{
		Decision:      Block,
		Reason:        reason,
		Severity:      ledger.SeverityL3,
		Articles:      articles,
		EventType:     EventDataTransferBlock,
		CountryStatus: status,
	}
}

func reviewDecision(reason string, status jurisdiction.Status, articles []string) *Decision {
	return &Decision{
		Decision:      Review,
		Reason:        reason,
		Severity:      ledger.SeverityL2,
		Articles:      articles,
		EventType:     EventDataTransferReview,
		CountryStatus: status,
	}
}

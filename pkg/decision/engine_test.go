package decision

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridiancompliance/shield/pkg/ledger"
)

type fakeLedger struct {
	appended []ledger.AppendParams
	seq      int
}

func (f *fakeLedger) Init(ctx context.Context) error { return nil }

func (f *fakeLedger) Append(ctx context.Context, params ledger.AppendParams) (*ledger.EvidenceEvent, error) {
	f.seq++
	f.appended = append(f.appended, params)
	return &ledger.EvidenceEvent{EventID: "evt-" + itoa(f.seq), PayloadHash: "hash-" + itoa(f.seq)}, nil
}

func (f *fakeLedger) Verify(ctx context.Context, sourceSystem string) (bool, string, error) {
	return true, "", nil
}

func (f *fakeLedger) List(ctx context.Context, filter ledger.ListFilter) ([]*ledger.EvidenceEvent, int, error) {
	return nil, 0, nil
}

func (f *fakeLedger) DistinctChainCount(ctx context.Context) (int, error) { return 0, nil }

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

type fakeSCC struct {
	active bool
	err    error
}

func (f *fakeSCC) ActiveFor(ctx context.Context, partnerName, countryCode string) (bool, error) {
	return f.active, f.err
}

type fakeReviewer struct {
	created []string
}

func (f *fakeReviewer) Create(ctx context.Context, agentID, actionSummary, txID, payloadHash, evidenceEventID string) (string, error) {
	sealID := "SEAL-" + itoa(len(f.created)+1)
	f.created = append(f.created, evidenceEventID)
	return sealID, nil
}

func TestEvaluate_S1_EUTransferAllowed(t *testing.T) {
	l := &fakeLedger{}
	e := NewEngine(l, &fakeSCC{}, &fakeReviewer{})

	d, err := e.Evaluate(context.Background(), TransferContext{
		DestinationCountryCode: "DE",
		DataCategories:         []string{"email"},
	})
	require.NoError(t, err)
	assert.Equal(t, Allow, d.Decision)
	assert.Equal(t, ledger.SeverityL1, d.Severity)
	assert.Equal(t, EventDataTransfer, d.EventType)
	assert.Equal(t, "eu_eea", string(d.CountryStatus))
	assert.Empty(t, d.Articles, "intra-EU/EEA transfers cite no Chapter V article")
	assert.Len(t, l.appended, 1)
	assert.Empty(t, d.ReviewID)
}

func TestEvaluate_S2_BlockedJurisdiction(t *testing.T) {
	l := &fakeLedger{}
	e := NewEngine(l, &fakeSCC{}, &fakeReviewer{})

	d, err := e.Evaluate(context.Background(), TransferContext{
		DestinationCountryCode: "CN",
		DataCategories:         []string{"email"},
	})
	require.NoError(t, err)
	assert.Equal(t, Block, d.Decision)
	assert.Equal(t, ledger.SeverityL3, d.Severity)
	assert.Equal(t, EventDataTransferBlock, d.EventType)
	assert.Equal(t, []string{"GDPR Art. 44", "GDPR Art. 46"}, d.Articles)
	assert.Len(t, l.appended, 1)
	assert.Empty(t, d.ReviewID)
}

func TestEvaluate_S3_SCCRequiredNoSCCOnFile(t *testing.T) {
	l := &fakeLedger{}
	reviewer := &fakeReviewer{}
	e := NewEngine(l, &fakeSCC{active: false}, reviewer)

	d, err := e.Evaluate(context.Background(), TransferContext{
		DestinationCountryCode: "US",
		DataCategories:         []string{"email"},
		PartnerName:            "Acme",
	})
	require.NoError(t, err)
	assert.Equal(t, Review, d.Decision)
	assert.Equal(t, []string{"GDPR Art. 46"}, d.Articles)
	assert.NotEmpty(t, d.ReviewID)
	assert.Len(t, reviewer.created, 1)
}

func TestEvaluate_MissingCountryCodeReviews(t *testing.T) {
	e := NewEngine(&fakeLedger{}, &fakeSCC{}, &fakeReviewer{})
	d, err := e.Evaluate(context.Background(), TransferContext{DataCategories: []string{"email"}})
	require.NoError(t, err)
	assert.Equal(t, Review, d.Decision)
	assert.Equal(t, []string{"GDPR Art. 44"}, d.Articles)
}

func TestEvaluate_AbsentDataCategoriesAlwaysReviews(t *testing.T) {
	e := NewEngine(&fakeLedger{}, &fakeSCC{}, &fakeReviewer{})
	d, err := e.Evaluate(context.Background(), TransferContext{DestinationCountryCode: "DE"})
	require.NoError(t, err)
	assert.Equal(t, Review, d.Decision, "nil data_categories must review even for an EU destination")
	assert.Equal(t, []string{"GDPR Art. 44"}, d.Articles)
}

func TestEvaluate_EmptyDataCategoriesMeansNoPersonalData(t *testing.T) {
	e := NewEngine(&fakeLedger{}, &fakeSCC{}, &fakeReviewer{})
	d, err := e.Evaluate(context.Background(), TransferContext{
		DestinationCountryCode: "US",
		DataCategories:         []string{},
	})
	require.NoError(t, err)
	assert.Equal(t, Allow, d.Decision, "an explicit empty list means confirmed no personal data")
	assert.Empty(t, d.Articles)
}

func TestEvaluate_SCCRequiredActiveSCCAllows(t *testing.T) {
	e := NewEngine(&fakeLedger{}, &fakeSCC{active: true}, &fakeReviewer{})
	d, err := e.Evaluate(context.Background(), TransferContext{
		DestinationCountryCode: "US",
		DataCategories:         []string{"email"},
		PartnerName:            "Acme",
	})
	require.NoError(t, err)
	assert.Equal(t, Allow, d.Decision)
	assert.Equal(t, []string{"GDPR Art. 46"}, d.Articles)
}

func TestEvaluate_SCCLookupErrorFailsSafeToReview(t *testing.T) {
	e := NewEngine(&fakeLedger{}, &fakeSCC{err: errors.New("db down")}, &fakeReviewer{})
	d, err := e.Evaluate(context.Background(), TransferContext{
		DestinationCountryCode: "US",
		DataCategories:         []string{"email"},
		PartnerName:            "Acme",
	})
	require.NoError(t, err)
	assert.Equal(t, Review, d.Decision)
	assert.Equal(t, []string{"GDPR Art. 46"}, d.Articles)
}

func TestEvaluate_UnknownJurisdictionNoPersonalDataAllows(t *testing.T) {
	e := NewEngine(&fakeLedger{}, &fakeSCC{}, &fakeReviewer{})
	d, err := e.Evaluate(context.Background(), TransferContext{
		DestinationCountryCode: "ZZ",
		DataCategories:         []string{},
	})
	require.NoError(t, err)
	assert.Equal(t, Allow, d.Decision)
	assert.Empty(t, d.Articles)
}

func TestEvaluate_UnknownJurisdictionPersonalDataReviews(t *testing.T) {
	e := NewEngine(&fakeLedger{}, &fakeSCC{}, &fakeReviewer{})
	d, err := e.Evaluate(context.Background(), TransferContext{
		DestinationCountryCode: "ZZ",
		DataCategories:         []string{"email"},
	})
	require.NoError(t, err)
	assert.Equal(t, Review, d.Decision)
	assert.Equal(t, []string{"GDPR Art. 44"}, d.Articles)
}

func TestEvaluate_AdequateJurisdictionCitesArt45(t *testing.T) {
	e := NewEngine(&fakeLedger{}, &fakeSCC{}, &fakeReviewer{})
	d, err := e.Evaluate(context.Background(), TransferContext{
		DestinationCountryCode: "JP",
		DataCategories:         []string{"email"},
	})
	require.NoError(t, err)
	assert.Equal(t, Allow, d.Decision)
	assert.Equal(t, []string{"GDPR Art. 45"}, d.Articles)
}

func TestEvaluate_SCCRequiredNoPersonalDataCitesNoArticle(t *testing.T) {
	e := NewEngine(&fakeLedger{}, &fakeSCC{}, &fakeReviewer{})
	d, err := e.Evaluate(context.Background(), TransferContext{
		DestinationCountryCode: "US",
		DataCategories:         []string{},
	})
	require.NoError(t, err)
	assert.Equal(t, Allow, d.Decision)
	assert.Empty(t, d.Articles)
}

func TestEvaluate_SCCRequiredMissingPartnerCitesArt46(t *testing.T) {
	e := NewEngine(&fakeLedger{}, &fakeSCC{}, &fakeReviewer{})
	d, err := e.Evaluate(context.Background(), TransferContext{
		DestinationCountryCode: "US",
		DataCategories:         []string{"email"},
	})
	require.NoError(t, err)
	assert.Equal(t, Review, d.Decision)
	assert.Equal(t, []string{"GDPR Art. 46"}, d.Articles)
}

package push

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pipeline-cli/internal/model"
	"github.com/sells-group/pipeline-cli/pkg/salesforce"
)

// fakeSF implements salesforce.Client with a canned remote state.
type fakeSF struct {
	existing []salesforce.Opportunity

	inserted []map[string]any
	updated  []salesforce.CollectionRecord

	insertErrs map[int][]string // index into inserted batch -> errors

	describeCalls  int
	describeFields []salesforce.SObjectField // nil means the full field set
}

func (f *fakeSF) Query(ctx context.Context, soql string, out any) error {
	opps := out.(*[]salesforce.Opportunity)
	*opps = append([]salesforce.Opportunity(nil), f.existing...)
	return nil
}

func (f *fakeSF) InsertOne(ctx context.Context, name string, record map[string]any) (string, error) {
	return "006new", nil
}

func (f *fakeSF) InsertCollection(ctx context.Context, name string, records []map[string]any) ([]salesforce.CollectionResult, error) {
	results := make([]salesforce.CollectionResult, len(records))
	for i, r := range records {
		f.inserted = append(f.inserted, r)
		if errs, ok := f.insertErrs[i]; ok {
			results[i] = salesforce.CollectionResult{Success: false, Errors: errs}
			continue
		}
		results[i] = salesforce.CollectionResult{ID: "006ins", Success: true}
	}
	return results, nil
}

func (f *fakeSF) UpdateOne(ctx context.Context, name string, id string, fields map[string]any) error {
	return nil
}

func (f *fakeSF) UpdateCollection(ctx context.Context, name string, records []salesforce.CollectionRecord) ([]salesforce.CollectionResult, error) {
	results := make([]salesforce.CollectionResult, len(records))
	for i, r := range records {
		f.updated = append(f.updated, r)
		results[i] = salesforce.CollectionResult{ID: r.ID, Success: true}
	}
	return results, nil
}

func (f *fakeSF) DescribeSObject(ctx context.Context, name string) (*salesforce.SObjectDescription, error) {
	f.describeCalls++
	if f.describeFields != nil {
		return &salesforce.SObjectDescription{Name: name, Fields: f.describeFields}, nil
	}
	return &salesforce.SObjectDescription{
		Name: name,
		Fields: []salesforce.SObjectField{
			{Name: "Id", Type: "id"},
			{Name: "StageName", Type: "picklist", Updateable: true},
			{Name: "Deal_External_Id__c", Type: "string", Updateable: true},
		},
	}, nil
}

var _ salesforce.Client = (*fakeSF)(nil)

func pushStages() []model.Stage {
	return []model.Stage{
		{ID: "lead", Name: "Lead"},
		{ID: "proposal", Name: "Proposal"},
		{ID: "won", Name: "Won", Won: true},
	}
}

func TestStageNameMap(t *testing.T) {
	names := StageNameMap(pushStages())
	assert.Equal(t, "Lead", names["lead"])
	assert.Equal(t, "Proposal", names["proposal"])
	assert.Equal(t, "Closed Won", names["won"])
}

func TestOpportunityRecord(t *testing.T) {
	closeDate := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	deal := model.Deal{
		ID:                "d1",
		Company:           "Acme",
		ContactName:       "Jo Smith",
		StageID:           "proposal",
		Value:             12000,
		Probability:       50,
		ExpectedCloseDate: &closeDate,
	}

	record := OpportunityRecord(deal, StageNameMap(pushStages()))
	assert.Equal(t, "Acme - Jo Smith", record["Name"])
	assert.Equal(t, "Proposal", record["StageName"])
	assert.Equal(t, 12000.0, record["Amount"])
	assert.Equal(t, 50.0, record["Probability"])
	assert.Equal(t, "2026-10-01", record["CloseDate"])
	assert.Equal(t, "d1", record["Deal_External_Id__c"])
}

func TestOpportunityRecord_DefaultCloseDate(t *testing.T) {
	record := OpportunityRecord(model.Deal{ID: "d1", Company: "Acme", StageID: "lead"}, StageNameMap(pushStages()))
	require.IsType(t, "", record["CloseDate"])
	assert.NotEmpty(t, record["CloseDate"])
}

func TestPush_InsertsNewDeals(t *testing.T) {
	sf := &fakeSF{}
	p := New(sf, nil)

	res, err := p.Push(context.Background(), pushStages(), []model.Deal{
		{ID: "d1", Company: "Acme", StageID: "lead", Value: 100},
		{ID: "d2", Company: "Globex", StageID: "proposal", Value: 500},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 0, res.Updated)
	require.Len(t, sf.inserted, 2)
	assert.Equal(t, "d1", sf.inserted[0]["Deal_External_Id__c"])
}

func TestPush_UpdatesDriftedDeals(t *testing.T) {
	closeDate := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	sf := &fakeSF{
		existing: []salesforce.Opportunity{
			{ID: "006a", ExternalID: "d1", StageName: "Lead", Amount: 100, CloseDate: "2026-10-01"},
		},
	}
	p := New(sf, nil)

	// The deal moved to proposal since the last push.
	res, err := p.Push(context.Background(), pushStages(), []model.Deal{
		{ID: "d1", Company: "Acme", StageID: "proposal", Value: 100, ExpectedCloseDate: &closeDate},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 0, res.Created)
	require.Len(t, sf.updated, 1)
	assert.Equal(t, "006a", sf.updated[0].ID)
	assert.Equal(t, "Proposal", sf.updated[0].Fields["StageName"])
	assert.NotContains(t, sf.updated[0].Fields, "Deal_External_Id__c",
		"external id is immutable once set")
}

func TestPush_SkipsUpToDateDeals(t *testing.T) {
	closeDate := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	sf := &fakeSF{
		existing: []salesforce.Opportunity{
			{ID: "006a", ExternalID: "d1", StageName: "Lead", Amount: 100, CloseDate: "2026-10-01"},
		},
	}
	p := New(sf, nil)

	res, err := p.Push(context.Background(), pushStages(), []model.Deal{
		{ID: "d1", Company: "Acme", StageID: "lead", Value: 100, ExpectedCloseDate: &closeDate},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, sf.updated)
	assert.Empty(t, sf.inserted)
}

func TestPush_CollectsPerRecordFailures(t *testing.T) {
	sf := &fakeSF{
		insertErrs: map[int][]string{1: {"REQUIRED_FIELD_MISSING"}},
	}
	p := New(sf, nil)

	res, err := p.Push(context.Background(), pushStages(), []model.Deal{
		{ID: "d1", Company: "Acme", StageID: "lead"},
		{ID: "d2", Company: "Globex", StageID: "lead"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, []string{"d2"}, res.Failed)
}

func TestPush_RetriesTransientInsertFailure(t *testing.T) {
	sf := &fakeSF{}
	flaky := &flakySF{fakeSF: sf, failures: 2}
	p := New(flaky, nil)
	p.retry.InitialBackoff = time.Millisecond
	p.retry.MaxBackoff = time.Millisecond

	res, err := p.Push(context.Background(), pushStages(), []model.Deal{
		{ID: "d1", Company: "Acme", StageID: "lead"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 3, flaky.insertCalls)
}

// flakySF fails InsertCollection with a lock error a fixed number of times.
type flakySF struct {
	*fakeSF
	failures    int
	insertCalls int
}

func (f *flakySF) InsertCollection(ctx context.Context, name string, records []map[string]any) ([]salesforce.CollectionResult, error) {
	f.insertCalls++
	if f.insertCalls <= f.failures {
		return nil, eris.New("UNABLE_TO_LOCK_ROW: record currently unavailable")
	}
	return f.fakeSF.InsertCollection(ctx, name, records)
}

func TestPush_PreflightChecksExternalIDField(t *testing.T) {
	sf := &fakeSF{}
	p := New(sf, nil)

	_, err := p.Push(context.Background(), pushStages(), []model.Deal{
		{ID: "d1", Company: "Acme", StageID: "lead", Value: 100},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sf.describeCalls)
}

func TestPush_PreflightFailsWithoutExternalIDField(t *testing.T) {
	sf := &fakeSF{
		describeFields: []salesforce.SObjectField{
			{Name: "Id", Type: "id"},
			{Name: "StageName", Type: "picklist", Updateable: true},
		},
	}
	p := New(sf, nil)

	_, err := p.Push(context.Background(), pushStages(), []model.Deal{
		{ID: "d1", Company: "Acme", StageID: "lead", Value: 100},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Deal_External_Id__c")
	// Nothing was written.
	assert.Empty(t, sf.inserted)
	assert.Empty(t, sf.updated)
}

func TestPush_WonDealMapsToClosedWon(t *testing.T) {
	sf := &fakeSF{}
	p := New(sf, nil)

	_, err := p.Push(context.Background(), pushStages(), []model.Deal{
		{ID: "d1", Company: "Acme", StageID: "won", Value: 900},
	})
	require.NoError(t, err)
	require.Len(t, sf.inserted, 1)
	assert.Equal(t, "Closed Won", sf.inserted[0]["StageName"])
}

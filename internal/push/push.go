// Package push mirrors pipeline deals into Salesforce Opportunities.
package push

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pipeline-cli/internal/model"
	"github.com/sells-group/pipeline-cli/internal/resilience"
	"github.com/sells-group/pipeline-cli/pkg/salesforce"
)

// lookupChunk caps the number of external ids inlined into one SOQL IN list.
const lookupChunk = 200

// externalIDField is the Opportunity custom field external ids are matched on.
const externalIDField = "Deal_External_Id__c"

// Result summarizes one push run.
type Result struct {
	Created  int
	Updated  int
	Skipped  int
	Failed   []string
	Duration time.Duration
}

// Pusher syncs deals to Salesforce, matching on the Deal_External_Id__c
// custom field so repeated runs are idempotent.
type Pusher struct {
	client salesforce.Client
	retry  resilience.RetryConfig
	log    *zap.Logger
}

func New(client salesforce.Client, log *zap.Logger) *Pusher {
	if log == nil {
		log = zap.L()
	}
	p := &Pusher{client: client, retry: resilience.DefaultRetryConfig(), log: log}
	p.retry.OnRetry = func(attempt int, err error) {
		p.log.Warn("retrying salesforce call", zap.Int("attempt", attempt), zap.Error(err))
	}
	return p
}

// Push reconciles the given deals against Salesforce: deals already present
// (by external id) are updated when their stage, amount, or close date
// drifted; the rest are inserted. Per-record failures are collected into
// Result.Failed rather than aborting the run.
func (p *Pusher) Push(ctx context.Context, stages []model.Stage, deals []model.Deal) (*Result, error) {
	start := time.Now()
	stageNames := StageNameMap(stages)

	if err := p.preflight(ctx); err != nil {
		return nil, err
	}

	existing, err := p.lookupExisting(ctx, deals)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	var updates []salesforce.OpportunityUpdate
	var updateIDs []string
	var inserts []map[string]any
	var insertIDs []string

	for _, deal := range deals {
		record := OpportunityRecord(deal, stageNames)

		opp, ok := existing[deal.ID]
		if !ok {
			inserts = append(inserts, record)
			insertIDs = append(insertIDs, deal.ID)
			continue
		}
		if upToDate(opp, record) {
			res.Skipped++
			continue
		}
		delete(record, externalIDField)
		updates = append(updates, salesforce.OpportunityUpdate{ID: opp.ID, Fields: record})
		updateIDs = append(updateIDs, deal.ID)
	}

	if len(updates) > 0 {
		results, err := resilience.DoVal(ctx, p.retry, func(ctx context.Context) ([]salesforce.CollectionResult, error) {
			return salesforce.BulkUpdateOpportunities(ctx, p.client, updates)
		})
		if err != nil {
			return res, eris.Wrap(err, "push: update opportunities")
		}
		p.collect(results, updateIDs, &res.Updated, res)
	}

	if len(inserts) > 0 {
		results, err := resilience.DoVal(ctx, p.retry, func(ctx context.Context) ([]salesforce.CollectionResult, error) {
			return salesforce.BulkInsertOpportunities(ctx, p.client, inserts)
		})
		if err != nil {
			return res, eris.Wrap(err, "push: insert opportunities")
		}
		p.collect(results, insertIDs, &res.Created, res)
	}

	res.Duration = time.Since(start)
	p.log.Info("push complete",
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", len(res.Failed)),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// preflight verifies the org's Opportunity object carries the external-id
// custom field. Without it every run would re-insert every deal, so fail
// loudly before touching any records.
func (p *Pusher) preflight(ctx context.Context) error {
	desc, err := resilience.DoVal(ctx, p.retry, func(ctx context.Context) (*salesforce.SObjectDescription, error) {
		return p.client.DescribeSObject(ctx, "Opportunity")
	})
	if err != nil {
		return eris.Wrap(err, "push: describe Opportunity")
	}
	if !desc.HasField(externalIDField) {
		return eris.Errorf("push: Opportunity is missing the %s custom field; create it before pushing", externalIDField)
	}
	return nil
}

// lookupExisting fetches the already-synced opportunities keyed by deal id.
func (p *Pusher) lookupExisting(ctx context.Context, deals []model.Deal) (map[string]salesforce.Opportunity, error) {
	ids := make([]string, len(deals))
	for i, d := range deals {
		ids[i] = d.ID
	}

	existing := make(map[string]salesforce.Opportunity)
	for start := 0; start < len(ids); start += lookupChunk {
		end := start + lookupChunk
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		opps, err := resilience.DoVal(ctx, p.retry, func(ctx context.Context) ([]salesforce.Opportunity, error) {
			return salesforce.FindOpportunitiesByExternalIDs(ctx, p.client, chunk)
		})
		if err != nil {
			return nil, eris.Wrap(err, "push: lookup existing opportunities")
		}
		for _, opp := range opps {
			existing[opp.ExternalID] = opp
		}
	}
	return existing, nil
}

func (p *Pusher) collect(results []salesforce.CollectionResult, dealIDs []string, counter *int, res *Result) {
	for i, r := range results {
		if r.Success {
			*counter++
			continue
		}
		dealID := "?"
		if i < len(dealIDs) {
			dealID = dealIDs[i]
		}
		p.log.Warn("push record failed",
			zap.String("deal_id", dealID),
			zap.Strings("errors", r.Errors))
		res.Failed = append(res.Failed, dealID)
	}
}

// StageNameMap maps pipeline stage ids to Salesforce StageName picklist
// values. Won stages map to "Closed Won"; everything else carries its
// display name across unchanged.
func StageNameMap(stages []model.Stage) map[string]string {
	names := make(map[string]string, len(stages))
	for _, st := range stages {
		if st.Won {
			names[st.ID] = "Closed Won"
			continue
		}
		names[st.ID] = st.Name
	}
	return names
}

// OpportunityRecord maps a deal onto Opportunity fields. The close date
// defaults to 90 days out when the deal has none, since Salesforce requires
// a CloseDate on every Opportunity.
func OpportunityRecord(deal model.Deal, stageNames map[string]string) map[string]any {
	stageName, ok := stageNames[deal.StageID]
	if !ok {
		stageName = deal.StageName
	}

	closeDate := time.Now().AddDate(0, 0, 90)
	if deal.ExpectedCloseDate != nil {
		closeDate = *deal.ExpectedCloseDate
	}

	name := deal.Company
	if deal.ContactName != "" {
		name = fmt.Sprintf("%s - %s", deal.Company, deal.ContactName)
	}

	return map[string]any{
		"Name":                name,
		"StageName":           stageName,
		"Amount":              deal.Value,
		"Probability":         float64(deal.Probability),
		"CloseDate":           closeDate.Format("2006-01-02"),
		externalIDField:       deal.ID,
	}
}

// upToDate reports whether the remote opportunity already reflects the
// deal's stage, amount, and close date.
func upToDate(opp salesforce.Opportunity, record map[string]any) bool {
	if opp.StageName != record["StageName"] {
		return false
	}
	if opp.Amount != record["Amount"] {
		return false
	}
	if opp.CloseDate != record["CloseDate"] {
		return false
	}
	return true
}

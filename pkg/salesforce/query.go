package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Opportunity represents a Salesforce Opportunity record.
type Opportunity struct {
	ID          string  `json:"Id" salesforce:"Id"`
	Name        string  `json:"Name" salesforce:"Name"`
	AccountID   string  `json:"AccountId" salesforce:"AccountId"`
	StageName   string  `json:"StageName" salesforce:"StageName"`
	Amount      float64 `json:"Amount" salesforce:"Amount"`
	Probability float64 `json:"Probability" salesforce:"Probability"`
	CloseDate   string  `json:"CloseDate" salesforce:"CloseDate"`
	ExternalID  string  `json:"Deal_External_Id__c" salesforce:"Deal_External_Id__c"`
}

// Account represents a Salesforce Account record.
type Account struct {
	ID   string `json:"Id" salesforce:"Id"`
	Name string `json:"Name" salesforce:"Name"`
}

// opportunityFields are the SOQL fields selected for Opportunity queries.
var opportunityFields = []string{
	"Id", "Name", "AccountId", "StageName", "Amount", "Probability",
	"CloseDate", "Deal_External_Id__c",
}

// FindOpportunitiesByExternalIDs queries Salesforce for Opportunities whose
// external deal ID is in the given set.
func FindOpportunitiesByExternalIDs(ctx context.Context, c Client, ids []string) ([]Opportunity, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = "'" + escapeSoql(id) + "'"
	}
	soql := fmt.Sprintf(
		"SELECT %s FROM Opportunity WHERE Deal_External_Id__c IN (%s)",
		strings.Join(opportunityFields, ", "),
		strings.Join(quoted, ", "),
	)

	var opps []Opportunity
	if err := c.Query(ctx, soql, &opps); err != nil {
		return nil, eris.Wrap(err, "sf: find opportunities by external id")
	}
	return opps, nil
}

// FindAccountByName queries Salesforce for an Account with the given name.
// Returns nil if no account is found.
func FindAccountByName(ctx context.Context, c Client, name string) (*Account, error) {
	soql := fmt.Sprintf(
		"SELECT Id, Name FROM Account WHERE Name = '%s' LIMIT 1",
		escapeSoql(name),
	)

	var accounts []Account
	if err := c.Query(ctx, soql, &accounts); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find account by name %s", name))
	}
	if len(accounts) == 0 {
		return nil, nil
	}
	return &accounts[0], nil
}

// escapeSoql escapes single quotes in SOQL string literals to prevent injection.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}

package salesforce

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
)

// CreateOpportunity creates a new Opportunity record and returns the new
// Salesforce ID. Name and StageName are required by the Opportunity object.
func CreateOpportunity(ctx context.Context, c Client, fields map[string]any) (string, error) {
	if fields["Name"] == nil || fields["Name"] == "" {
		return "", eris.New("sf: opportunity Name is required")
	}
	if fields["StageName"] == nil || fields["StageName"] == "" {
		return "", eris.New("sf: opportunity StageName is required")
	}
	id, err := c.InsertOne(ctx, "Opportunity", fields)
	if err != nil {
		return "", eris.Wrap(err, "sf: create opportunity")
	}
	return id, nil
}

// UpdateOpportunity updates an Opportunity record with the given fields.
func UpdateOpportunity(ctx context.Context, c Client, opportunityID string, fields map[string]any) error {
	if opportunityID == "" {
		return eris.New("sf: opportunity id is required")
	}
	if len(fields) == 0 {
		return eris.New("sf: no fields to update")
	}
	if err := c.UpdateOne(ctx, "Opportunity", opportunityID, fields); err != nil {
		return eris.Wrap(err, fmt.Sprintf("sf: update opportunity %s", opportunityID))
	}
	return nil
}

// CreateAccount creates a new Account record and returns the new Salesforce ID.
func CreateAccount(ctx context.Context, c Client, fields map[string]any) (string, error) {
	if fields["Name"] == nil || fields["Name"] == "" {
		return "", eris.New("sf: account Name is required")
	}
	id, err := c.InsertOne(ctx, "Account", fields)
	if err != nil {
		return "", eris.Wrap(err, "sf: create account")
	}
	return id, nil
}

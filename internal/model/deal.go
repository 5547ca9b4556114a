package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// SortKey selects the bucket ordering applied by the board.
type SortKey string

const (
	SortValue  SortKey = "value"  // descending by deal value
	SortDate   SortKey = "date"   // descending by creation time
	SortAlpha  SortKey = "alpha"  // ascending by company, case-insensitive
	SortManual SortKey = "manual" // whatever order drag operations produced
)

// Deal is a single opportunity moving through the pipeline. StageID is the
// quantity under reconciliation; StageName, StageColor, and Probability are
// denormalized from the stage so the board repaints without a registry
// lookup.
type Deal struct {
	ID                string     `json:"id"`
	Company           string     `json:"company"`
	ContactName       string     `json:"contact_name"`
	StageID           string     `json:"stage_id"`
	Value             float64    `json:"value"`
	Probability       int        `json:"probability"`
	ExpectedCloseDate *time.Time `json:"expected_close_date,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	StageChangedAt    time.Time  `json:"stage_changed_at"`
	UpdatedAt         time.Time  `json:"updated_at"`

	// Denormalized stage display fields, refreshed on every move.
	StageName  string `json:"stage_name,omitempty"`
	StageColor string `json:"stage_color,omitempty"`
}

// DaysInStage reports how long the deal has sat in its current stage,
// rounded down to whole days.
func (d Deal) DaysInStage(now time.Time) int {
	if d.StageChangedAt.IsZero() || now.Before(d.StageChangedAt) {
		return 0
	}
	return int(now.Sub(d.StageChangedAt).Hours() / 24)
}

// Validate checks the required fields at the store boundary. Deals coming
// off the wire or out of a CSV are rejected here rather than deep inside
// the board engine.
func (d Deal) Validate() error {
	if d.ID == "" {
		return eris.New("deal: id is required")
	}
	if d.Company == "" {
		return eris.New("deal: company is required")
	}
	if d.Value < 0 {
		return eris.Errorf("deal %s: value must be non-negative (got %v)", d.ID, d.Value)
	}
	if d.Probability < 0 || d.Probability > 100 {
		return eris.Errorf("deal %s: probability must be 0-100 (got %d)", d.ID, d.Probability)
	}
	return nil
}

// ParseSortKey validates a user-supplied sort key string.
func ParseSortKey(s string) (SortKey, error) {
	switch SortKey(s) {
	case SortValue, SortDate, SortAlpha, SortManual:
		return SortKey(s), nil
	}
	return "", eris.Errorf("unknown sort key %q (want value, date, alpha, or manual)", s)
}

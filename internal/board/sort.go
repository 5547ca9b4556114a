package board

import (
	"sort"
	"strings"

	"github.com/sells-group/pipeline-cli/internal/model"
)

// sortDeals orders one bucket in place with a stable comparator. Manual
// leaves the slice untouched.
func sortDeals(deals []model.Deal, key model.SortKey) {
	switch key {
	case model.SortValue:
		sort.SliceStable(deals, func(i, j int) bool {
			return deals[i].Value > deals[j].Value
		})
	case model.SortDate:
		sort.SliceStable(deals, func(i, j int) bool {
			return deals[i].CreatedAt.After(deals[j].CreatedAt)
		})
	case model.SortAlpha:
		sort.SliceStable(deals, func(i, j int) bool {
			return strings.ToLower(deals[i].Company) < strings.ToLower(deals[j].Company)
		})
	case model.SortManual:
	}
}

// Project returns a sorted copy of a bucket without touching board state.
// It is the pure projection used by read-only views.
func Project(deals []model.Deal, key model.SortKey) []model.Deal {
	out := make([]model.Deal, len(deals))
	copy(out, deals)
	sortDeals(out, key)
	return out
}

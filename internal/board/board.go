// Package board implements the kanban reconciliation engine: an in-memory
// mapping of pipeline stages to ordered deal lists that mirrors the remote
// store and absorbs optimistic mutations from drag gestures. It follows the
// "deep modules" principle - a small surface hiding the grouping, ordering,
// and snapshot/restore bookkeeping.
package board

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/pipeline-cli/internal/model"
)

// UnknownStageKey is the bucket for deals whose stage_id is not in the
// registry. Such deals are kept visible rather than dropped.
const UnknownStageKey = "_unknown_"

// Board holds the local reconciliation state for one pipeline view.
// All methods are safe for concurrent use; in practice the UI event loop
// is the only writer except for commit completions, which restore a
// snapshot from a background goroutine.
type Board struct {
	mu sync.Mutex

	stages    []model.Stage
	stageByID map[string]model.Stage

	// buckets maps stageID (or UnknownStageKey) to its ordered deals.
	buckets map[string][]model.Deal

	sortKey model.SortKey

	// generation is bumped after each confirmed commit so the rendering
	// layer can discard stale widget state.
	generation uint64

	log *zap.Logger
}

// New creates a board over the given stage registry. Stages are ordered by
// Position regardless of input order.
func New(stages []model.Stage, log *zap.Logger) *Board {
	if log == nil {
		log = zap.L()
	}

	ordered := make([]model.Stage, len(stages))
	copy(ordered, stages)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Position < ordered[j].Position
	})

	byID := make(map[string]model.Stage, len(ordered))
	for _, st := range ordered {
		byID[st.ID] = st
	}

	return &Board{
		stages:    ordered,
		stageByID: byID,
		buckets:   make(map[string][]model.Deal),
		sortKey:   model.SortManual,
		log:       log,
	}
}

// Sync replaces the entire mapping with a copy of the remote snapshot
// grouped by stage. Deals referencing an unregistered stage go to the
// unknown bucket. The current sort key is re-applied. Callers must not
// invoke Sync while a drag session is active; Session.Sync handles that
// suppression.
func (b *Board) Sync(deals []model.Deal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	buckets := make(map[string][]model.Deal, len(b.stages)+1)
	for _, st := range b.stages {
		buckets[st.ID] = []model.Deal{}
	}
	for _, d := range deals {
		key := d.StageID
		if _, ok := b.stageByID[key]; !ok {
			b.log.Warn("deal references unregistered stage",
				zap.String("deal_id", d.ID),
				zap.String("stage_id", d.StageID),
			)
			key = UnknownStageKey
		}
		buckets[key] = append(buckets[key], d)
	}

	b.buckets = buckets
	b.applySortLocked(b.sortKey)
}

// ApplySort re-sorts every bucket with a stable comparator for the given
// key. Manual is a no-op: it preserves whatever order drag operations
// produced. Nothing is written to the remote store.
func (b *Board) ApplySort(key model.SortKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.applySortLocked(key)
}

func (b *Board) applySortLocked(key model.SortKey) {
	b.sortKey = key
	if key == model.SortManual {
		return
	}
	for id := range b.buckets {
		sortDeals(b.buckets[id], key)
	}
}

// SortKey returns the currently applied sort key.
func (b *Board) SortKey() model.SortKey {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sortKey
}

// Stages returns the registry in pipeline order.
func (b *Board) Stages() []model.Stage {
	out := make([]model.Stage, len(b.stages))
	copy(out, b.stages)
	return out
}

// Stage looks up a registered stage by id.
func (b *Board) Stage(id string) (model.Stage, bool) {
	st, ok := b.stageByID[id]
	return st, ok
}

// Bucket returns a copy of the ordered deals for one stage (or
// UnknownStageKey). Unknown ids yield an empty slice.
func (b *Board) Bucket(stageID string) []model.Deal {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Deal, len(b.buckets[stageID]))
	copy(out, b.buckets[stageID])
	return out
}

// Snapshot returns a deep copy of every bucket, suitable for wholesale
// restore after a failed commit.
func (b *Board) Snapshot() map[string][]model.Deal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Board) snapshotLocked() map[string][]model.Deal {
	snap := make(map[string][]model.Deal, len(b.buckets))
	for id, deals := range b.buckets {
		cp := make([]model.Deal, len(deals))
		copy(cp, deals)
		snap[id] = cp
	}
	return snap
}

// Restore replaces all buckets with a previously captured snapshot.
func (b *Board) Restore(snap map[string][]model.Deal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buckets = make(map[string][]model.Deal, len(snap))
	for id, deals := range snap {
		cp := make([]model.Deal, len(deals))
		copy(cp, deals)
		b.buckets[id] = cp
	}
}

// Locate finds a deal by scanning all buckets in stage order, returning its
// bucket key and index.
func (b *Board) Locate(dealID string) (stageID string, index int, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.locateLocked(dealID)
}

func (b *Board) locateLocked(dealID string) (string, int, bool) {
	for _, st := range b.stages {
		for i, d := range b.buckets[st.ID] {
			if d.ID == dealID {
				return st.ID, i, true
			}
		}
	}
	for i, d := range b.buckets[UnknownStageKey] {
		if d.ID == dealID {
			return UnknownStageKey, i, true
		}
	}
	return "", 0, false
}

// Deal returns a copy of the deal with the given id.
func (b *Board) Deal(dealID string) (model.Deal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key, i, ok := b.locateLocked(dealID)
	if !ok {
		return model.Deal{}, false
	}
	return b.buckets[key][i], true
}

// MoveDeal performs the optimistic move: the deal leaves its current bucket
// and is inserted into the target stage's bucket at index (append when
// index is negative or past the end). The deal's cached stage id and
// denormalized display fields are refreshed so the view repaints without
// waiting for the server. Within the deal's own bucket a non-negative index
// re-slots it in place; a negative index keeps its position, which makes
// the drop-time re-apply idempotent.
func (b *Board) MoveDeal(dealID, targetStageID string, index int) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	target, ok := b.stageByID[targetStageID]
	if !ok {
		return false, ErrStageNotFound
	}

	curKey, curIdx, ok := b.locateLocked(dealID)
	if !ok {
		return false, ErrDealNotFound
	}
	if curKey == targetStageID {
		return b.reslotLocked(curKey, curIdx, index), nil
	}

	d := b.buckets[curKey][curIdx]
	b.buckets[curKey] = append(b.buckets[curKey][:curIdx], b.buckets[curKey][curIdx+1:]...)

	d.StageID = target.ID
	d.StageName = target.Name
	d.StageColor = target.Color
	d.Probability = target.DefaultProbability

	dst := b.buckets[targetStageID]
	if index < 0 || index > len(dst) {
		index = len(dst)
	}
	dst = append(dst, model.Deal{})
	copy(dst[index+1:], dst[index:])
	dst[index] = d
	b.buckets[targetStageID] = dst

	return true, nil
}

// reslotLocked moves the deal at curIdx to index within the same bucket,
// taking the slot of whichever deal sat there. Negative or out-of-range
// indices, and moves onto the deal's own slot, change nothing.
func (b *Board) reslotLocked(stageID string, curIdx, index int) bool {
	bucket := b.buckets[stageID]
	if index < 0 || index >= len(bucket) || index == curIdx {
		return false
	}

	d := bucket[curIdx]
	bucket = append(bucket[:curIdx], bucket[curIdx+1:]...)
	bucket = append(bucket, model.Deal{})
	copy(bucket[index+1:], bucket[index:])
	bucket[index] = d
	b.buckets[stageID] = bucket
	return true
}

// StageTotal sums the value of all deals currently in a stage.
func (b *Board) StageTotal(stageID string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var total float64
	for _, d := range b.buckets[stageID] {
		total += d.Value
	}
	return total
}

// DealCount reports how many deals are on the board across all buckets.
func (b *Board) DealCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, deals := range b.buckets {
		n += len(deals)
	}
	return n
}

// AllDeals returns every deal on the board, stage order then bucket order.
func (b *Board) AllDeals() []model.Deal {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []model.Deal
	for _, st := range b.stages {
		out = append(out, b.buckets[st.ID]...)
	}
	out = append(out, b.buckets[UnknownStageKey]...)
	return out
}

// BumpGeneration increments the render generation counter.
func (b *Board) BumpGeneration() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.generation++
}

// Generation returns the current render generation.
func (b *Board) Generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation
}

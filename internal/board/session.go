package board

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pipeline-cli/internal/model"
)

// State is the drag session's position in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateDragging
	StateCommitting
	StateRollingBack
)

// String implements fmt.Stringer for log fields.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDragging:
		return "dragging"
	case StateCommitting:
		return "committing"
	case StateRollingBack:
		return "rolling_back"
	}
	return "unknown"
}

// Committer persists the outcome of a drop. The board only ever patches
// the stage id and the stage-changed timestamp.
type Committer interface {
	UpdateDealStage(ctx context.Context, dealID, stageID string, changedAt time.Time) error
}

// CommitFunc finishes a drop against the remote store. It is returned by
// Drop so the caller decides where the (only) suspension point runs; the
// board already reflects the optimistic result when it is invoked.
type CommitFunc func(ctx context.Context) error

// Session coordinates a single drag gesture: the active deal, its source
// bucket, and the last valid hover target. Exactly one gesture is active
// at a time; a commit from a finished gesture may still be in flight while
// the next one starts.
type Session struct {
	mu        sync.Mutex
	board     *Board
	committer Committer

	state        State
	activeDealID string
	sourceStage  string

	// lastValidTarget is the plain mutable cell from the original design:
	// written on every hover, read once at drop. It deliberately lives
	// outside any reactive state so high-frequency hover events stay cheap,
	// and it survives a drop event that reports a stale or missing target.
	lastValidTarget string

	// snapshot captures all buckets at drag start; a failed commit restores
	// it wholesale.
	snapshot map[string][]model.Deal

	// epoch distinguishes gestures so a slow commit cannot clobber the
	// state of a newer one.
	epoch uint64

	// pendingSync holds a remote snapshot delivered mid-gesture, applied
	// when the session returns to idle.
	pendingSync    []model.Deal
	hasPendingSync bool

	onWon func()
	now   func() time.Time
	log   *zap.Logger
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithCelebration registers the hook fired when a deal lands in the
// terminal won stage. Purely cosmetic; no payload.
func WithCelebration(fn func()) SessionOption {
	return func(s *Session) { s.onWon = fn }
}

// WithClock overrides the timestamp source, for tests.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// WithLogger overrides the session logger.
func WithLogger(log *zap.Logger) SessionOption {
	return func(s *Session) { s.log = log }
}

// NewSession creates an idle session over the given board and committer.
func NewSession(b *Board, c Committer, opts ...SessionOption) *Session {
	s := &Session{
		board:     b,
		committer: c,
		now:       time.Now,
		log:       zap.L(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active reports whether a gesture is in progress (dragging or committing).
func (s *Session) Active() bool {
	return s.State() != StateIdle
}

// ActiveDealID returns the deal under drag, empty when idle.
func (s *Session) ActiveDealID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeDealID
}

// StartDrag opens a gesture for the given deal. The deal's bucket is found
// by scanning the board; an unknown deal is a logged no-op. Any automatic
// sort is suspended for the duration of the gesture - reordering under the
// user's pointer would fight the drag.
func (s *Session) StartDrag(dealID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, _, ok := s.board.Locate(dealID)
	if !ok {
		s.log.Debug("drag start ignored: deal not on board", zap.String("deal_id", dealID))
		return
	}

	s.board.ApplySort(model.SortManual)
	s.snapshot = s.board.Snapshot()

	s.epoch++
	s.state = StateDragging
	s.activeDealID = dealID
	s.sourceStage = src
	s.lastValidTarget = ""
}

// Hover processes a drag-over event. The target may be a stage (column) or
// another deal; either resolves to a stage bucket. The last valid target is
// recorded unconditionally - even for same-column hovers - so the final
// drop survives an ambiguous or missing target from the gesture layer.
// A cross-stage hover applies the optimistic move immediately.
func (s *Session) Hover(over string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateDragging {
		return
	}

	target, index, ok := s.resolveTarget(over)
	if !ok {
		s.log.Debug("hover ignored: unresolvable target", zap.String("over", over))
		return
	}
	s.lastValidTarget = target

	if _, err := s.board.MoveDeal(s.activeDealID, target, index); err != nil {
		s.log.Debug("hover move ignored", zap.String("deal_id", s.activeDealID), zap.Error(err))
	}
}

// Drop closes the gesture. The final target comes from the last valid
// hover, falling back to the drop event's own target. The optimistic move
// is re-applied (idempotently), and when the deal net-moved to a different
// stage the returned CommitFunc issues exactly one partial update to the
// store. A nil CommitFunc means nothing needs persisting: the deal ended
// where it started, or no valid target was ever hovered.
func (s *Session) Drop(over string) CommitFunc {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateDragging {
		return nil
	}

	dealID := s.activeDealID
	source := s.sourceStage
	snap := s.snapshot
	epoch := s.epoch

	target := s.lastValidTarget
	index := -1
	if target == "" {
		var ok bool
		target, index, ok = s.resolveTarget(over)
		if !ok {
			// Dropped outside any valid container with no prior hover:
			// treated as "no move".
			s.resetLocked()
			return nil
		}
	}

	if _, err := s.board.MoveDeal(dealID, target, index); err != nil {
		s.log.Warn("drop move failed", zap.String("deal_id", dealID), zap.Error(err))
		s.resetLocked()
		return nil
	}

	if target == source {
		// Same-stage drop: nothing to persist.
		s.resetLocked()
		return nil
	}

	won := false
	if st, ok := s.board.Stage(target); ok {
		won = st.Won
	}
	changedAt := s.now().UTC()

	s.state = StateCommitting
	s.activeDealID = ""
	s.sourceStage = ""
	s.lastValidTarget = ""
	s.snapshot = nil

	return func(ctx context.Context) error {
		err := s.committer.UpdateDealStage(ctx, dealID, target, changedAt)
		if err != nil {
			s.rollback(epoch, snap)
			return eris.Wrapf(err, "board: commit move of %s to %s", dealID, target)
		}
		s.confirm(epoch, won)
		return nil
	}
}

// Teardown cancels any active gesture and clears the session. A drag
// abandoned mid-flight is undone by restoring the pre-drag snapshot; a
// commit already in flight is left to finish (its epoch no longer matches,
// so it cannot touch the board on failure).
func (s *Session) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDragging && s.snapshot != nil {
		s.board.Restore(s.snapshot)
	}
	s.epoch++
	s.resetLocked()
}

// Sync feeds a fresh remote snapshot through the session. While a gesture
// or commit is active the snapshot is held back and applied once the
// session returns to idle, so optimistic state is not clobbered mid-drag.
func (s *Session) Sync(deals []model.Deal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		s.pendingSync = deals
		s.hasPendingSync = true
		return
	}
	s.board.Sync(deals)
}

// resolveTarget maps a hover/drop target id to a droppable stage bucket.
// Stage ids resolve directly (appended at end of column); deal ids resolve
// to the hovered deal's bucket and index. The unknown bucket is not a
// valid drop target - its deals reference no registered stage.
func (s *Session) resolveTarget(over string) (stageID string, index int, ok bool) {
	if over == "" {
		return "", 0, false
	}
	if _, isStage := s.board.Stage(over); isStage {
		return over, -1, true
	}
	bucket, idx, found := s.board.Locate(over)
	if !found || bucket == UnknownStageKey {
		return "", 0, false
	}
	return bucket, idx, true
}

func (s *Session) resetLocked() {
	s.state = StateIdle
	s.activeDealID = ""
	s.sourceStage = ""
	s.lastValidTarget = ""
	s.snapshot = nil
	s.applyPendingSyncLocked()
}

func (s *Session) applyPendingSyncLocked() {
	if !s.hasPendingSync {
		return
	}
	deals := s.pendingSync
	s.pendingSync = nil
	s.hasPendingSync = false
	s.board.Sync(deals)
}

// confirm finishes a successful commit: bump the render generation, fire
// the celebration hook, and return to idle unless a newer gesture owns the
// session.
func (s *Session) confirm(epoch uint64, won bool) {
	s.board.BumpGeneration()
	if won && s.onWon != nil {
		s.onWon()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return
	}
	s.state = StateIdle
	s.applyPendingSyncLocked()
}

// rollback restores the pre-drag snapshot wholesale after a failed commit.
func (s *Session) rollback(epoch uint64, snap map[string][]model.Deal) {
	s.mu.Lock()
	if s.epoch != epoch {
		// A newer gesture has taken over; restoring the old snapshot would
		// erase its moves. The next full sync reconciles instead.
		s.mu.Unlock()
		s.log.Warn("commit failed after a newer drag started; skipping rollback")
		return
	}
	s.state = StateRollingBack
	s.mu.Unlock()

	s.board.Restore(snap)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch == epoch {
		s.state = StateIdle
		s.applyPendingSyncLocked()
	}
}

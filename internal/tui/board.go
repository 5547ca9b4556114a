// Package tui renders the pipeline kanban board with Bubble Tea.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/sells-group/pipeline-cli/internal/board"
	"github.com/sells-group/pipeline-cli/internal/model"
	"github.com/sells-group/pipeline-cli/internal/store"
)

// Layout constants
const (
	minColumnWidth = 22
	maxColumnWidth = 36
)

// sortCycle is the order the s key steps through.
var sortCycle = []model.SortKey{model.SortManual, model.SortValue, model.SortDate, model.SortAlpha}

// Config carries display settings into the board model.
type Config struct {
	StaleAfterDays int
	CurrencySymbol string
	RefreshSecs    int
	CelebrateOnWon bool

	// CompactThreshold hides per-card amounts in columns holding more
	// deals than this, leaving room for company names. Zero disables.
	CompactThreshold int
}

// BoardModel is the main kanban view: one column per stage, the session
// driving drag gestures, and the store behind periodic refresh.
type BoardModel struct {
	// Dependencies
	b       *board.Board
	session *board.Session
	store   store.Store
	ctx     context.Context
	cfg     Config
	log     *zap.Logger

	// UI components
	keymap      KeyMap
	help        help.Model
	spinner     spinner.Model
	filterInput textinput.Model

	// Selection state
	selectedColumn int
	columnOffset   int
	selectedCard   map[string]int
	scrollOffset   map[string]int

	// Drag state mirrored from the session for rendering
	hoverStage string

	// View state
	width      int
	height     int
	showHelp   bool
	filterMode bool
	filterText string
	loading    bool
	errorToast string
	toast      string
}

// NewBoardModel creates the board view over an already-synced board.
func NewBoardModel(ctx context.Context, b *board.Board, session *board.Session, st store.Store, cfg Config, log *zap.Logger) BoardModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	ti := textinput.New()
	ti.Placeholder = "Filter..."
	ti.Prompt = "/ "

	h := help.New()
	h.ShowAll = true

	if log == nil {
		log = zap.L()
	}

	return BoardModel{
		b:            b,
		session:      session,
		store:        st,
		ctx:          ctx,
		cfg:          cfg,
		log:          log,
		keymap:       DefaultKeyMap(),
		help:         h,
		spinner:      sp,
		filterInput:  ti,
		selectedCard: make(map[string]int),
		scrollOffset: make(map[string]int),
	}
}

// Message types
type (
	dealsLoadedMsg struct {
		deals []model.Deal
		gen   uint64
		err   error
	}
	moveSuccessMsg struct{ won bool }
	moveErrorMsg   struct{ err error }
	refreshTickMsg struct{}
	clearToastMsg  struct{}
)

// Init starts the spinner and the periodic refresh loop.
func (m BoardModel) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, tea.WindowSize()}
	if m.cfg.RefreshSecs > 0 {
		cmds = append(cmds, m.refreshTick())
	}
	return tea.Batch(cmds...)
}

func (m BoardModel) refreshTick() tea.Cmd {
	return tea.Tick(time.Duration(m.cfg.RefreshSecs)*time.Second, func(time.Time) tea.Msg {
		return refreshTickMsg{}
	})
}

// loadDeals fetches the full deal set from the store. The board generation
// at fetch time rides along so a snapshot read before a commit landed can
// be recognized as stale.
func (m BoardModel) loadDeals() tea.Cmd {
	gen := m.b.Generation()
	return func() tea.Msg {
		deals, err := m.store.ListDeals(m.ctx, store.DealFilter{})
		return dealsLoadedMsg{deals: deals, gen: gen, err: err}
	}
}

// Update handles messages.
func (m BoardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case dealsLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.log.Warn("deal refresh failed", zap.Error(msg.err))
			m.errorToast = fmt.Sprintf("Refresh failed: %v", msg.err)
			return m, nil
		}
		if msg.gen != m.b.Generation() {
			// The board changed while this fetch was in flight; applying
			// it would revert a confirmed move. The next tick re-fetches.
			return m, nil
		}
		m.session.Sync(msg.deals)
		(&m).clampSelection()
		return m, nil

	case refreshTickMsg:
		return m, tea.Batch(m.loadDeals(), m.refreshTick())

	case moveSuccessMsg:
		if msg.won && m.cfg.CelebrateOnWon {
			m.toast = "🎉 Deal won!"
			return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return clearToastMsg{} })
		}
		return m, nil

	case moveErrorMsg:
		m.errorToast = fmt.Sprintf("Move failed: %v", msg.err)
		(&m).clampSelection()
		return m, nil

	case clearToastMsg:
		m.toast = ""
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKeyPress(msg)
	}

	return m, nil
}

// handleKeyPress processes keyboard input.
func (m BoardModel) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		m.session.Teardown()
		return m, tea.Quit
	}

	if m.showHelp {
		if msg.String() == "?" || msg.String() == "q" || msg.String() == "esc" {
			m.showHelp = false
		}
		return m, nil
	}

	if m.filterMode {
		switch msg.String() {
		case "enter":
			m.filterMode = false
			m.filterText = m.filterInput.Value()
			(&m).clampSelection()
			return m, nil
		case "esc":
			m.filterMode = false
			m.filterInput.SetValue(m.filterText)
			return m, nil
		default:
			var cmd tea.Cmd
			m.filterInput, cmd = m.filterInput.Update(msg)
			return m, cmd
		}
	}

	if m.session.State() == board.StateDragging {
		return m.handleDragMode(msg)
	}

	switch msg.String() {
	case "q":
		m.session.Teardown()
		return m, tea.Quit
	case "?":
		m.showHelp = true
	case "/":
		m.filterMode = true
		m.filterInput.Focus()
	case "h", "left":
		if m.selectedColumn > 0 {
			m.selectedColumn--
			(&m).adjustColumnScroll()
		}
	case "l", "right":
		if m.selectedColumn < len(m.b.Stages())-1 {
			m.selectedColumn++
			(&m).adjustColumnScroll()
		}
	case "j", "down":
		(&m).moveCardSelection(1)
	case "k", "up":
		(&m).moveCardSelection(-1)
	case "s":
		(&m).cycleSort()
	case "r":
		m.loading = true
		m.errorToast = ""
		return m, m.loadDeals()
	case "m":
		if deal := m.selectedDeal(); deal != nil {
			m.session.StartDrag(deal.ID)
			m.hoverStage = deal.StageID
		}
	}

	return m, nil
}

// handleDragMode handles keys while a deal is grabbed. Lateral movement
// hovers the next column (the optimistic move follows immediately);
// vertical movement re-slots the deal within its hovered column.
func (m BoardModel) handleDragMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	stages := m.b.Stages()

	switch msg.String() {
	case "esc", "q":
		m.session.Teardown()
		(&m).clampSelection()
		return m, nil

	case "h", "left", "l", "right":
		idx := m.hoverStageIndex(stages)
		if msg.String() == "h" || msg.String() == "left" {
			idx--
		} else {
			idx++
		}
		if idx < 0 || idx >= len(stages) {
			return m, nil
		}
		m.hoverStage = stages[idx].ID
		m.selectedColumn = idx
		(&m).adjustColumnScroll()
		m.session.Hover(m.hoverStage)
		(&m).followDraggedDeal()
		return m, nil

	case "j", "down", "k", "up":
		dealID := m.session.ActiveDealID()
		stageID, idx, ok := m.b.Locate(dealID)
		if !ok {
			return m, nil
		}
		bucket := m.b.Bucket(stageID)
		target := idx + 1
		if msg.String() == "k" || msg.String() == "up" {
			target = idx - 1
		}
		if target < 0 || target >= len(bucket) {
			return m, nil
		}
		m.session.Hover(bucket[target].ID)
		(&m).followDraggedDeal()
		return m, nil

	case "enter":
		target := m.hoverStage
		commit := m.session.Drop(target)
		m.hoverStage = ""
		(&m).clampSelection()
		if commit == nil {
			return m, nil
		}
		won := false
		if st, ok := m.b.Stage(target); ok {
			won = st.Won
		}
		return m, func() tea.Msg {
			if err := commit(m.ctx); err != nil {
				return moveErrorMsg{err: err}
			}
			return moveSuccessMsg{won: won}
		}
	}

	return m, nil
}

func (m BoardModel) hoverStageIndex(stages []model.Stage) int {
	for i, st := range stages {
		if st.ID == m.hoverStage {
			return i
		}
	}
	return m.selectedColumn
}

// followDraggedDeal keeps the selection pinned to the grabbed deal.
func (m *BoardModel) followDraggedDeal() {
	dealID := m.session.ActiveDealID()
	if stageID, idx, ok := m.b.Locate(dealID); ok {
		m.selectedCard[stageID] = idx
		m.adjustScroll(stageID)
	}
}

// cycleSort steps to the next sort key.
func (m *BoardModel) cycleSort() {
	current := m.b.SortKey()
	for i, key := range sortCycle {
		if key == current {
			m.b.ApplySort(sortCycle[(i+1)%len(sortCycle)])
			m.clampSelection()
			return
		}
	}
	m.b.ApplySort(sortCycle[0])
}

// filteredBucket applies the text filter to a stage bucket.
func (m BoardModel) filteredBucket(stageID string) []model.Deal {
	bucket := m.b.Bucket(stageID)
	if m.filterText == "" {
		return bucket
	}
	needle := strings.ToLower(m.filterText)
	filtered := make([]model.Deal, 0, len(bucket))
	for _, d := range bucket {
		if strings.Contains(strings.ToLower(d.Company), needle) ||
			strings.Contains(strings.ToLower(d.ContactName), needle) {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

// clampSelection keeps per-column selections inside their buckets.
func (m *BoardModel) clampSelection() {
	for _, st := range m.b.Stages() {
		n := len(m.filteredBucket(st.ID))
		if m.selectedCard[st.ID] >= n {
			if n > 0 {
				m.selectedCard[st.ID] = n - 1
			} else {
				m.selectedCard[st.ID] = 0
			}
		}
		if m.scrollOffset[st.ID] > m.selectedCard[st.ID] {
			m.scrollOffset[st.ID] = m.selectedCard[st.ID]
		}
	}
	if n := len(m.b.Stages()); m.selectedColumn >= n && n > 0 {
		m.selectedColumn = n - 1
	}
}

// moveCardSelection moves the card selection up or down by delta.
func (m *BoardModel) moveCardSelection(delta int) {
	stages := m.b.Stages()
	if len(stages) == 0 {
		return
	}
	stageID := stages[m.selectedColumn].ID
	bucket := m.filteredBucket(stageID)
	if len(bucket) == 0 {
		return
	}

	newIdx := m.selectedCard[stageID] + delta
	if newIdx < 0 {
		newIdx = 0
	}
	if newIdx >= len(bucket) {
		newIdx = len(bucket) - 1
	}
	m.selectedCard[stageID] = newIdx
	m.adjustScroll(stageID)
}

// adjustScroll ensures the selected card is visible.
func (m *BoardModel) adjustScroll(stageID string) {
	selectedIdx := m.selectedCard[stageID]
	offset := m.scrollOffset[stageID]

	visible := m.height - 7
	if visible < 3 {
		visible = 3
	}

	if selectedIdx < offset {
		m.scrollOffset[stageID] = selectedIdx
	}
	if selectedIdx >= offset+visible {
		m.scrollOffset[stageID] = selectedIdx - visible + 1
	}
}

// adjustColumnScroll keeps the selected column on screen.
func (m *BoardModel) adjustColumnScroll() {
	stages := m.b.Stages()
	if len(stages) == 0 || m.width == 0 {
		return
	}
	visibleCols := m.width / minColumnWidth
	if visibleCols < 1 {
		visibleCols = 1
	}
	if visibleCols > len(stages) {
		visibleCols = len(stages)
	}
	if m.selectedColumn < m.columnOffset {
		m.columnOffset = m.selectedColumn
	}
	if m.selectedColumn >= m.columnOffset+visibleCols {
		m.columnOffset = m.selectedColumn - visibleCols + 1
	}
}

// selectedDeal returns the deal under the cursor.
func (m BoardModel) selectedDeal() *model.Deal {
	stages := m.b.Stages()
	if len(stages) == 0 {
		return nil
	}
	stageID := stages[m.selectedColumn].ID
	bucket := m.filteredBucket(stageID)
	if len(bucket) == 0 {
		return nil
	}
	idx := m.selectedCard[stageID]
	if idx >= len(bucket) {
		idx = 0
	}
	deal := bucket[idx]
	return &deal
}

// View renders the board.
func (m BoardModel) View() string {
	width := m.width
	height := m.height
	if width == 0 {
		width = 80
	}
	if height == 0 {
		height = 24
	}

	var sections []string
	sections = append(sections, m.renderHeader(width))
	sections = append(sections, m.renderStatusLine(width))

	if m.filterMode {
		sections = append(sections, m.filterInput.View())
	}
	if m.session.State() == board.StateDragging {
		bar := dragModeStyle.Render("DRAG") + " h/l move across stages, j/k within, enter drop, esc cancel"
		sections = append(sections, bar)
	}

	boardHeight := height - len(sections)
	if boardHeight < 5 {
		boardHeight = 5
	}

	var mainContent string
	switch {
	case m.showHelp:
		m.help.Width = width - 8
		mainContent = helpOverlayStyle.Render(m.help.View(m.keymap))
	case m.loading && m.b.DealCount() == 0:
		mainContent = lipgloss.Place(width, boardHeight, lipgloss.Center, lipgloss.Center, m.spinner.View()+" Loading...")
	case len(m.b.Stages()) == 0:
		mainContent = lipgloss.Place(width, boardHeight, lipgloss.Center, lipgloss.Center, "No stages configured. Run `pipeline stages seed`.")
	default:
		mainContent = m.renderBoard(width, boardHeight)
	}
	sections = append(sections, mainContent)

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderHeader shows the pipeline totals and current mode.
func (m BoardModel) renderHeader(width int) string {
	title := "Pipeline"

	var statusParts []string
	if m.loading {
		statusParts = append(statusParts, m.spinner.View()+"refreshing")
	}
	statusParts = append(statusParts,
		fmt.Sprintf("%d deals", m.b.DealCount()),
		fmt.Sprintf("sort:%s", m.b.SortKey()),
	)
	if m.filterText != "" {
		statusParts = append(statusParts, "/"+m.filterText)
	}
	statusParts = append(statusParts, "[?]help")
	status := strings.Join(statusParts, " | ")

	padding := width - len(title) - lipgloss.Width(status) - 2
	if padding < 1 {
		padding = 1
	}
	return titleStyle.Render(title) + strings.Repeat(" ", padding) + dimStyle.Render(status)
}

// renderStatusLine shows hints on the left and toast/position on the right.
func (m BoardModel) renderStatusLine(width int) string {
	left := "h/l:stage j/k:deal m:grab s:sort r:refresh"

	right := ""
	switch {
	case m.errorToast != "":
		right = errorStyle.Render(m.errorToast)
	case m.toast != "":
		right = toastStyle.Render(m.toast)
	default:
		stages := m.b.Stages()
		if len(stages) > 0 {
			stageID := stages[m.selectedColumn].ID
			bucket := m.filteredBucket(stageID)
			pos := fmt.Sprintf("col %d/%d", m.selectedColumn+1, len(stages))
			if len(bucket) > 0 {
				pos = fmt.Sprintf("%s | deal %d/%d", pos, m.selectedCard[stageID]+1, len(bucket))
			}
			right = pos
		}
	}

	padding := width - len(left) - lipgloss.Width(right) - 2
	if padding < 1 {
		padding = 1
	}
	return dimStyle.Render(left) + strings.Repeat(" ", padding) + right
}

// renderBoard renders the stage columns with horizontal carousel scrolling.
func (m BoardModel) renderBoard(totalWidth, totalHeight int) string {
	stages := m.b.Stages()
	numCols := len(stages)

	colContentHeight := totalHeight - 2
	if colContentHeight < 3 {
		colContentHeight = 3
	}

	visibleCols := totalWidth / minColumnWidth
	if visibleCols < 1 {
		visibleCols = 1
	}
	if visibleCols > numCols {
		visibleCols = numCols
	}

	colWidth := totalWidth / visibleCols
	if colWidth > maxColumnWidth {
		colWidth = maxColumnWidth
	}
	if colWidth < minColumnWidth {
		colWidth = minColumnWidth
	}
	innerWidth := colWidth - 4
	if innerWidth < 10 {
		innerWidth = 10
	}

	startCol := m.columnOffset
	endCol := startCol + visibleCols
	if endCol > numCols {
		endCol = numCols
		startCol = endCol - visibleCols
		if startCol < 0 {
			startCol = 0
		}
	}

	columnViews := make([]string, 0, visibleCols+2)
	if startCol > 0 {
		columnViews = append(columnViews, m.renderEdgeIndicator("◀", colContentHeight))
	}
	for i := startCol; i < endCol; i++ {
		columnViews = append(columnViews, m.renderColumn(stages[i], i == m.selectedColumn, colWidth, colContentHeight, innerWidth))
	}
	if endCol < numCols {
		columnViews = append(columnViews, m.renderEdgeIndicator("▶", colContentHeight))
	}

	return lipgloss.JoinHorizontal(lipgloss.Top, columnViews...)
}

func (m BoardModel) renderEdgeIndicator(glyph string, height int) string {
	return lipgloss.NewStyle().
		Width(2).
		Height(height+2).
		Foreground(lipgloss.Color("205")).
		Align(lipgloss.Center, lipgloss.Center).
		Render(glyph)
}

// renderColumn renders one stage column: header with name, count, and
// weighted total, then the visible slice of deal cards.
func (m BoardModel) renderColumn(stage model.Stage, selected bool, width, innerHeight, innerWidth int) string {
	bucket := m.filteredBucket(stage.ID)

	headerText := fmt.Sprintf("%s (%d) %s", stage.Name, len(bucket), m.formatMoney(m.b.StageTotal(stage.ID)))
	headerText = truncate(headerText, innerWidth)

	scrollOffset := m.scrollOffset[stage.ID]
	selectedIdx := m.selectedCard[stage.ID]
	draggedID := m.session.ActiveDealID()

	cardSlots := innerHeight - 1
	if cardSlots < 1 {
		cardSlots = 1
	}

	needUp := scrollOffset > 0
	slots := cardSlots
	if needUp {
		slots--
	}
	endIdx := scrollOffset + slots
	needDown := false
	if endIdx < len(bucket) {
		needDown = true
		slots--
		endIdx = scrollOffset + slots
		if endIdx > len(bucket) {
			endIdx = len(bucket)
		}
	}
	if endIdx > len(bucket) {
		endIdx = len(bucket)
	}

	var lines []string
	header := columnHeaderStyle
	if stage.Color != "" {
		header = header.Foreground(lipgloss.Color(stage.Color))
	}
	lines = append(lines, header.Render(headerText))

	if needUp {
		lines = append(lines, dimStyle.Render(fmt.Sprintf("↑ %d more", scrollOffset)))
	}

	now := time.Now()
	compact := m.cfg.CompactThreshold > 0 && len(bucket) > m.cfg.CompactThreshold
	for i := scrollOffset; i < endIdx; i++ {
		deal := bucket[i]
		text := m.formatCardText(deal, innerWidth-3, now, compact)
		switch {
		case deal.ID == draggedID:
			lines = append(lines, grabbedCardStyle.Render("◆ "+text))
		case selected && i == selectedIdx:
			lines = append(lines, selectedCardStyle.Render("> "+text))
		default:
			lines = append(lines, cardStyle.Render("  "+text))
		}
	}

	if needDown {
		lines = append(lines, dimStyle.Render(fmt.Sprintf("↓ %d more", len(bucket)-endIdx)))
	}
	if len(bucket) == 0 {
		lines = append(lines, dimStyle.Render("(empty)"))
	}

	borderColor := lipgloss.Color("240")
	if selected {
		borderColor = lipgloss.Color("205")
	}
	if m.session.State() == board.StateDragging && stage.ID == m.hoverStage {
		borderColor = lipgloss.Color("42")
	}

	colStyle := lipgloss.NewStyle().
		Width(width - 2).
		Height(innerHeight).
		Padding(0, 1).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(borderColor)

	return colStyle.Render(strings.Join(lines, "\n"))
}

// formatCardText lays out company on the left and value on the right, with
// a staleness marker when the deal has sat in its stage too long.
func (m BoardModel) formatCardText(deal model.Deal, maxWidth int, now time.Time, compact bool) string {
	company := deal.Company
	suffix := ""
	if !compact {
		suffix = m.formatMoney(deal.Value)
	}

	stale := m.cfg.StaleAfterDays > 0 && deal.DaysInStage(now) >= m.cfg.StaleAfterDays
	if stale {
		suffix = strings.TrimSpace(staleStyle.Render("⏱") + " " + suffix)
	}

	suffixWidth := lipgloss.Width(suffix)
	available := maxWidth - suffixWidth - 1
	if available < 5 {
		available = 5
	}
	company = truncate(company, available)

	padding := maxWidth - lipgloss.Width(company) - suffixWidth
	if padding < 1 {
		padding = 1
	}
	return company + strings.Repeat(" ", padding) + dimStyle.Render(suffix)
}

// truncate caps s at max runes, marking the cut with an ellipsis. Slicing
// by runes keeps multibyte company names intact.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max < 1 {
		return ""
	}
	return string(runes[:max-1]) + "…"
}

// formatMoney renders a compact currency amount ($12k, $1.2M).
func (m BoardModel) formatMoney(v float64) string {
	sym := m.cfg.CurrencySymbol
	if sym == "" {
		sym = "$"
	}
	switch {
	case v >= 1_000_000:
		return fmt.Sprintf("%s%.1fM", sym, v/1_000_000)
	case v >= 10_000:
		return fmt.Sprintf("%s%.0fk", sym, v/1_000)
	case v >= 1_000:
		return fmt.Sprintf("%s%.1fk", sym, v/1_000)
	default:
		return fmt.Sprintf("%s%.0f", sym, v)
	}
}

package main

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pipeline-cli/internal/board"
	"github.com/sells-group/pipeline-cli/internal/model"
	"github.com/sells-group/pipeline-cli/internal/store"
	"github.com/sells-group/pipeline-cli/internal/tui"
)

var boardSortKey string

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Open the interactive kanban board",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if boardSortKey != "" {
			cfg.Board.SortKey = boardSortKey
		}
		if err := cfg.Validate("board"); err != nil {
			return err
		}
		sortKey, err := model.ParseSortKey(cfg.Board.SortKey)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stages, err := st.ListStages(ctx)
		if err != nil {
			return eris.Wrap(err, "list stages")
		}
		if len(stages) == 0 {
			// First run: seed the default pipeline.
			if err := st.UpsertStages(ctx, model.DefaultStages); err != nil {
				return eris.Wrap(err, "seed default stages")
			}
			stages = model.DefaultStages
			zap.L().Info("seeded default stages", zap.Int("count", len(stages)))
		}

		deals, err := st.ListDeals(ctx, store.DealFilter{})
		if err != nil {
			return eris.Wrap(err, "list deals")
		}

		b := board.New(stages, zap.L())
		b.ApplySort(sortKey)
		b.Sync(deals)

		session := board.NewSession(b, st, board.WithLogger(zap.L()))
		defer session.Teardown()

		m := tui.NewBoardModel(ctx, b, session, st, tui.Config{
			StaleAfterDays:   cfg.Board.StaleAfterDays,
			CurrencySymbol:   cfg.Board.CurrencySymbol,
			RefreshSecs:      cfg.Board.RefreshSecs,
			CelebrateOnWon:   cfg.Board.CelebrateOnWon,
			CompactThreshold: cfg.Board.CompactThreshold,
		}, zap.L())

		if _, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil {
			return eris.Wrap(err, "run board")
		}
		return nil
	},
}

func init() {
	boardCmd.Flags().StringVar(&boardSortKey, "sort", "", "initial sort key: manual, value, date, or alpha (default from config)")
	rootCmd.AddCommand(boardCmd)
}

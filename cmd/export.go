package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pipeline-cli/internal/export"
	"github.com/sells-group/pipeline-cli/internal/model"
	"github.com/sells-group/pipeline-cli/internal/store"
)

var exportOutPath string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the pipeline to an Excel workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stages, err := st.ListStages(ctx)
		if err != nil {
			return eris.Wrap(err, "list stages")
		}
		deals, err := st.ListDeals(ctx, store.DealFilter{})
		if err != nil {
			return eris.Wrap(err, "list deals")
		}

		buckets := make(map[string][]model.Deal, len(stages))
		for _, d := range deals {
			buckets[d.StageID] = append(buckets[d.StageID], d)
		}

		if err := export.Write(exportOutPath, stages, buckets, time.Now()); err != nil {
			return err
		}

		zap.L().Info("export complete",
			zap.String("path", exportOutPath),
			zap.Int("deals", len(deals)),
			zap.Int("stages", len(stages)),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOutPath, "out", "pipeline.xlsx", "output xlsx path")
	rootCmd.AddCommand(exportCmd)
}

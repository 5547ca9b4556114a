package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pipeline-cli/internal/importer"
	"github.com/sells-group/pipeline-cli/internal/store"
)

var (
	importCSVPath   string
	importDelimiter string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import deals from CSV",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("import"); err != nil {
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
			return eris.New("no stages configured; run `pipeline stages seed` first")
		}

		f, err := os.Open(importCSVPath)
		if err != nil {
			return eris.Wrapf(err, "open csv %s", importCSVPath)
		}
		defer f.Close() //nolint:errcheck

		opts := importer.Options{
			BatchSize:     cfg.Import.BatchSize,
			MaxConcurrent: cfg.Import.MaxConcurrent,
		}
		if importDelimiter != "" {
			opts.CSV.Delimiter = rune(importDelimiter[0])
		}

		imp := importer.New(importSink(st), zap.L())
		result, err := imp.Run(ctx, f, stages, opts)
		if err != nil {
			return eris.Wrap(err, "import csv")
		}

		zap.L().Info("import complete",
			zap.Int64("rows", result.Rows),
			zap.Int("batches", result.Batches),
			zap.Duration("duration", result.Duration),
			zap.String("csv", importCSVPath),
		)
		return nil
	},
}

// importSink picks the fastest write path the store supports: COPY-based
// bulk upserts on postgres, per-row creates otherwise.
func importSink(st store.Store) importer.Sink {
	if pg, ok := st.(*store.PostgresStore); ok {
		return &importer.BulkSink{Pool: pg.Pool()}
	}
	return &importer.StoreSink{Create: st.CreateDeal}
}

func init() {
	importCmd.Flags().StringVar(&importCSVPath, "csv", "", "path to CSV file (required)")
	importCmd.Flags().StringVar(&importDelimiter, "delimiter", "", "field delimiter (default comma)")
	_ = importCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(importCmd)
}

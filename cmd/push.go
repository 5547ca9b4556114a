package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pipeline-cli/internal/push"
	"github.com/sells-group/pipeline-cli/internal/store"
)

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Sync deals to Salesforce Opportunities",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		client, err := initSalesforce()
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
		deals, err := st.ListDeals(ctx, store.DealFilter{})
		if err != nil {
			return eris.Wrap(err, "list deals")
		}
		if len(deals) == 0 {
			zap.L().Info("nothing to push")
			return nil
		}

		result, err := push.New(client, zap.L()).Push(ctx, stages, deals)
		if err != nil {
			return err
		}
		if len(result.Failed) > 0 {
			return eris.Errorf("push finished with %d failed records", len(result.Failed))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pushCmd)
}

package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/pipeline-cli/internal/model"
)

var stagesFile string

var stagesCmd = &cobra.Command{
	Use:   "stages",
	Short: "Manage pipeline stages",
}

var stagesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured stages",
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

		for _, s := range stages {
			won := ""
			if s.Won {
				won = " (won)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-16s %-20s %3d%%%s\n", s.ID, s.Name, s.DefaultProbability, won)
		}
		return nil
	},
}

var stagesSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed stages from a YAML file, or the built-in defaults",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		stages := model.DefaultStages
		if stagesFile != "" {
			loaded, err := loadStagesFile(stagesFile)
			if err != nil {
				return err
			}
			stages = loaded
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.UpsertStages(ctx, stages); err != nil {
			return eris.Wrap(err, "seed stages")
		}

		zap.L().Info("stages seeded", zap.Int("count", len(stages)))
		return nil
	},
}

// loadStagesFile reads a stage list from YAML and validates it.
func loadStagesFile(path string) ([]model.Stage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read stages file %s", path)
	}

	var doc struct {
		Stages []model.Stage `yaml:"stages"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(err, "parse stages file %s", path)
	}
	if len(doc.Stages) == 0 {
		return nil, eris.Errorf("stages file %s defines no stages", path)
	}

	for i := range doc.Stages {
		s := &doc.Stages[i]
		if s.ID == "" || s.Name == "" {
			return nil, eris.Errorf("stage %d: id and name are required", i)
		}
		if s.DefaultProbability < 0 || s.DefaultProbability > 100 {
			return nil, eris.Errorf("stage %s: default_probability must be 0-100", s.ID)
		}
		if s.Position == 0 {
			s.Position = i
		}
	}
	return doc.Stages, nil
}

func init() {
	stagesSeedCmd.Flags().StringVar(&stagesFile, "file", "", "YAML file defining the stages (default: built-in pipeline)")
	stagesCmd.AddCommand(stagesListCmd)
	stagesCmd.AddCommand(stagesSeedCmd)
	rootCmd.AddCommand(stagesCmd)
}

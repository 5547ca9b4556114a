package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeStagesFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stages.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadStagesFile(t *testing.T) {
	path := writeStagesFile(t, `
stages:
  - id: lead
    name: Lead
    default_probability: 10
  - id: closed
    name: Closed
    default_probability: 100
    won: true
`)

	stages, err := loadStagesFile(path)
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, "lead", stages[0].ID)
	assert.Equal(t, 0, stages[0].Position)
	assert.Equal(t, 1, stages[1].Position, "position defaults to file order")
	assert.True(t, stages[1].Won)
}

func TestLoadStagesFile_ExplicitPositionKept(t *testing.T) {
	path := writeStagesFile(t, `
stages:
  - id: lead
    name: Lead
    position: 5
`)

	stages, err := loadStagesFile(path)
	require.NoError(t, err)
	assert.Equal(t, 5, stages[0].Position)
}

func TestLoadStagesFile_Empty(t *testing.T) {
	path := writeStagesFile(t, "stages: []\n")

	_, err := loadStagesFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no stages")
}

func TestLoadStagesFile_MissingID(t *testing.T) {
	path := writeStagesFile(t, `
stages:
  - name: Lead
`)

	_, err := loadStagesFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id and name are required")
}

func TestLoadStagesFile_BadProbability(t *testing.T) {
	path := writeStagesFile(t, `
stages:
  - id: lead
    name: Lead
    default_probability: 120
`)

	_, err := loadStagesFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_probability")
}

func TestLoadStagesFile_Missing(t *testing.T) {
	_, err := loadStagesFile("/nonexistent/stages.yaml")
	require.Error(t, err)
}

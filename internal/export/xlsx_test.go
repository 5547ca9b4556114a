package export

import (
	"path/filepath"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/pipeline-cli/internal/model"
)

func exportStages() []model.Stage {
	return []model.Stage{
		{ID: "lead", Name: "Lead", Position: 0},
		{ID: "proposal", Name: "Proposal", Position: 1},
	}
}

func exportBuckets() map[string][]model.Deal {
	created := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	return map[string][]model.Deal{
		"lead": {
			{ID: "d1", Company: "Acme", ContactName: "Jo", StageID: "lead", Value: 100, Probability: 10, CreatedAt: created},
			{ID: "d2", Company: "Globex", StageID: "lead", Value: 500, Probability: 10, CreatedAt: created},
		},
		"proposal": {
			{ID: "d3", Company: "Initech", StageID: "proposal", Value: 250, Probability: 50, CreatedAt: created},
		},
	}
}

func TestWorkbook_SheetPerStage(t *testing.T) {
	f, err := Workbook(exportStages(), exportBuckets(), time.Now())
	require.NoError(t, err)

	require.Len(t, f.Sheets, 3)
	assert.Equal(t, "Summary", f.Sheets[0].Name)
	assert.Equal(t, "Lead", f.Sheets[1].Name)
	assert.Equal(t, "Proposal", f.Sheets[2].Name)

	// Header + two deals in Lead.
	lead := f.Sheets[1]
	require.Len(t, lead.Rows, 3)
	assert.Equal(t, "Company", lead.Rows[0].Cells[1].Value)
	assert.Equal(t, "Acme", lead.Rows[1].Cells[1].Value)
	assert.Equal(t, "Globex", lead.Rows[2].Cells[1].Value)
}

func TestWorkbook_SummaryTotals(t *testing.T) {
	f, err := Workbook(exportStages(), exportBuckets(), time.Now())
	require.NoError(t, err)

	summary := f.Sheets[0]
	// Header, two stage rows, total row.
	require.Len(t, summary.Rows, 4)

	leadRow := summary.Rows[1]
	assert.Equal(t, "Lead", leadRow.Cells[0].Value)
	count, err := leadRow.Cells[1].Int()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	totalRow := summary.Rows[3]
	assert.Equal(t, "Total", totalRow.Cells[0].Value)
	total, err := totalRow.Cells[2].Float()
	require.NoError(t, err)
	assert.Equal(t, 850.0, total)
	weighted, err := totalRow.Cells[3].Float()
	require.NoError(t, err)
	assert.InDelta(t, 185.0, weighted, 0.001)
}

func TestWorkbook_NoStages(t *testing.T) {
	_, err := Workbook(nil, nil, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no stages")
}

func TestWrite_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.xlsx")
	err := Write(path, exportStages(), exportBuckets(), time.Now())
	require.NoError(t, err)

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 3)
	assert.Equal(t, "Initech", f.Sheets[2].Rows[1].Cells[1].Value)
}

func TestSheetName_Truncates(t *testing.T) {
	long := "A Very Long Pipeline Stage Name That Overflows"
	assert.Len(t, sheetName(long), 31)
	assert.Equal(t, "Lead", sheetName("Lead"))

	wide := "商談ステージのとても長い名前でシート名の上限を超えるもの"
	assert.Equal(t, 31, len([]rune(sheetName(wide+wide))))
	assert.True(t, utf8.ValidString(sheetName(wide+wide)))
}

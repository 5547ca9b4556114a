// Package export writes the pipeline out as an Excel workbook.
package export

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/pipeline-cli/internal/model"
)

// dealHeader is the column layout of every stage sheet.
var dealHeader = []string{
	"ID", "Company", "Contact", "Value", "Probability (%)",
	"Expected Close", "Days In Stage", "Created",
}

// Workbook builds an xlsx file with one sheet per stage plus a summary
// sheet. Deals are written in board order, so a manual arrangement
// survives the round trip to a spreadsheet.
func Workbook(stages []model.Stage, buckets map[string][]model.Deal, now time.Time) (*xlsx.File, error) {
	if len(stages) == 0 {
		return nil, eris.New("export: no stages to export")
	}

	f := xlsx.NewFile()

	if err := addSummarySheet(f, stages, buckets); err != nil {
		return nil, err
	}
	for _, stage := range stages {
		if err := addStageSheet(f, stage, buckets[stage.ID], now); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Write builds the workbook and saves it to path.
func Write(path string, stages []model.Stage, buckets map[string][]model.Deal, now time.Time) error {
	f, err := Workbook(stages, buckets, now)
	if err != nil {
		return err
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

func addSummarySheet(f *xlsx.File, stages []model.Stage, buckets map[string][]model.Deal) error {
	sheet, err := f.AddSheet("Summary")
	if err != nil {
		return eris.Wrap(err, "export: add summary sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{"Stage", "Deals", "Total Value", "Weighted Value"} {
		header.AddCell().SetString(h)
	}

	var grandTotal, grandWeighted float64
	var grandCount int
	for _, stage := range stages {
		bucket := buckets[stage.ID]
		var total, weighted float64
		for _, d := range bucket {
			total += d.Value
			weighted += d.Value * float64(d.Probability) / 100
		}

		row := sheet.AddRow()
		row.AddCell().SetString(stage.Name)
		row.AddCell().SetInt(len(bucket))
		row.AddCell().SetFloat(total)
		row.AddCell().SetFloat(weighted)

		grandCount += len(bucket)
		grandTotal += total
		grandWeighted += weighted
	}

	row := sheet.AddRow()
	row.AddCell().SetString("Total")
	row.AddCell().SetInt(grandCount)
	row.AddCell().SetFloat(grandTotal)
	row.AddCell().SetFloat(grandWeighted)
	return nil
}

func addStageSheet(f *xlsx.File, stage model.Stage, bucket []model.Deal, now time.Time) error {
	sheet, err := f.AddSheet(sheetName(stage.Name))
	if err != nil {
		return eris.Wrapf(err, "export: add sheet for stage %s", stage.ID)
	}

	header := sheet.AddRow()
	for _, h := range dealHeader {
		header.AddCell().SetString(h)
	}

	for _, d := range bucket {
		row := sheet.AddRow()
		row.AddCell().SetString(d.ID)
		row.AddCell().SetString(d.Company)
		row.AddCell().SetString(d.ContactName)
		row.AddCell().SetFloat(d.Value)
		row.AddCell().SetInt(d.Probability)
		if d.ExpectedCloseDate != nil {
			row.AddCell().SetString(d.ExpectedCloseDate.Format("2006-01-02"))
		} else {
			row.AddCell().SetString("")
		}
		row.AddCell().SetInt(d.DaysInStage(now))
		row.AddCell().SetString(d.CreatedAt.Format("2006-01-02"))
	}
	return nil
}

// sheetName trims a stage name to Excel's 31-character sheet name limit.
func sheetName(name string) string {
	runes := []rune(name)
	if len(runes) > 31 {
		return string(runes[:31])
	}
	return name
}

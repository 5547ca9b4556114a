// Package importer loads deals from CSV exports of other CRMs into the
// pipeline store.
package importer

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pipeline-cli/internal/model"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
}

// dateFormats are tried in order when parsing expected close dates.
var dateFormats = []string{
	"2006-01-02",
	"01/02/2006",
	time.RFC3339,
}

// StreamDeals reads a deal CSV and sends parsed deals to a channel. The
// first row must be a header naming at least "company" and "stage"; stage
// cells may hold either a stage id or a stage name (matched
// case-insensitively against the registry). Caller must consume the
// returned deal channel. Errors are sent on the error channel and both
// channels are closed when processing completes.
func StreamDeals(ctx context.Context, r io.Reader, stages []model.Stage, opts CSVOptions) (<-chan model.Deal, <-chan error) {
	dealCh := make(chan model.Deal, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(dealCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		if opts.Comment != 0 {
			reader.Comment = opts.Comment
		}
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1 // allow variable fields

		header, err := reader.Read()
		if err == io.EOF {
			errCh <- eris.New("importer: empty csv")
			return
		}
		if err != nil {
			errCh <- eris.Wrap(err, "importer: read header")
			return
		}

		cols, err := mapHeader(header)
		if err != nil {
			errCh <- err
			return
		}
		stageIndex := indexStages(stages)

		line := 1
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "importer: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrapf(err, "importer: read row %d", line)
				return
			}
			line++

			deal, err := parseDeal(record, cols, stageIndex)
			if err != nil {
				errCh <- eris.Wrapf(err, "importer: row %d", line)
				return
			}

			select {
			case dealCh <- deal:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "importer: context cancelled")
				return
			}
		}
	}()

	return dealCh, errCh
}

// columns maps csv column positions for the fields we understand.
type columns struct {
	id          int
	company     int
	contactName int
	stage       int
	value       int
	probability int
	closeDate   int
}

func mapHeader(header []string) (columns, error) {
	cols := columns{id: -1, company: -1, contactName: -1, stage: -1, value: -1, probability: -1, closeDate: -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "id", "deal_id":
			cols.id = i
		case "company", "account", "account_name":
			cols.company = i
		case "contact", "contact_name":
			cols.contactName = i
		case "stage", "stage_id", "stage_name":
			cols.stage = i
		case "value", "amount":
			cols.value = i
		case "probability":
			cols.probability = i
		case "expected_close_date", "close_date":
			cols.closeDate = i
		}
	}
	if cols.company == -1 {
		return cols, eris.New("importer: header missing company column")
	}
	if cols.stage == -1 {
		return cols, eris.New("importer: header missing stage column")
	}
	return cols, nil
}

// indexStages builds a lookup accepting both stage ids and display names.
func indexStages(stages []model.Stage) map[string]string {
	idx := make(map[string]string, len(stages)*2)
	for _, st := range stages {
		idx[strings.ToLower(st.ID)] = st.ID
		idx[strings.ToLower(st.Name)] = st.ID
	}
	return idx
}

func parseDeal(record []string, cols columns, stageIndex map[string]string) (model.Deal, error) {
	cell := func(i int) string {
		if i < 0 || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var d model.Deal
	d.ID = cell(cols.id)
	d.Company = cell(cols.company)
	d.ContactName = cell(cols.contactName)

	rawStage := cell(cols.stage)
	stageID, ok := stageIndex[strings.ToLower(rawStage)]
	if !ok {
		return d, eris.Errorf("unknown stage %q", rawStage)
	}
	d.StageID = stageID

	if raw := cell(cols.value); raw != "" {
		v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimPrefix(raw, "$"), ",", ""), 64)
		if err != nil {
			return d, eris.Wrapf(err, "parse value %q", raw)
		}
		d.Value = v
	}

	if raw := cell(cols.probability); raw != "" {
		p, err := strconv.Atoi(strings.TrimSuffix(raw, "%"))
		if err != nil {
			return d, eris.Wrapf(err, "parse probability %q", raw)
		}
		d.Probability = p
	}

	if raw := cell(cols.closeDate); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			return d, err
		}
		d.ExpectedCloseDate = &t
	}

	if d.Company == "" {
		return d, eris.New("company is required")
	}
	return d, nil
}

func parseDate(raw string) (time.Time, error) {
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("unparseable date %q", raw)
}

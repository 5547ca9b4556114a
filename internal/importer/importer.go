package importer

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/pipeline-cli/internal/db"
	"github.com/sells-group/pipeline-cli/internal/model"
)

// Sink receives batches of parsed deals. The postgres sink bulk-upserts;
// the generic sink falls back to row-at-a-time store writes.
type Sink interface {
	WriteBatch(ctx context.Context, deals []model.Deal) (int64, error)
}

// Options tunes the import run.
type Options struct {
	BatchSize     int
	MaxConcurrent int
	CSV           CSVOptions
}

// Result summarizes a finished import.
type Result struct {
	Rows     int64
	Batches  int
	Duration time.Duration
}

// Importer streams a CSV into a sink in concurrent batches.
type Importer struct {
	sink Sink
	log  *zap.Logger
}

func New(sink Sink, log *zap.Logger) *Importer {
	if log == nil {
		log = zap.L()
	}
	return &Importer{sink: sink, log: log}
}

// Run parses the reader and writes all deals through the sink. Batches are
// written concurrently; any batch failure cancels the rest.
func (im *Importer) Run(ctx context.Context, r io.Reader, stages []model.Stage, opts Options) (*Result, error) {
	if opts.BatchSize < 1 {
		opts.BatchSize = 500
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 4
	}

	start := time.Now()
	dealCh, errCh := StreamDeals(ctx, r, stages, opts.CSV)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.MaxConcurrent)

	var res Result
	written := make(chan int64, opts.MaxConcurrent)
	collectDone := make(chan struct{})
	go func() {
		defer close(collectDone)
		for n := range written {
			res.Rows += n
			res.Batches++
		}
	}()

	batch := make([]model.Deal, 0, opts.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		deals := batch
		batch = make([]model.Deal, 0, opts.BatchSize)
		g.Go(func() error {
			n, err := im.sink.WriteBatch(gctx, deals)
			if err != nil {
				return err
			}
			im.log.Debug("import batch written", zap.Int64("rows", n))
			written <- n
			return nil
		})
	}

	for deal := range dealCh {
		if deal.ID == "" {
			deal.ID = uuid.New().String()
		}
		batch = append(batch, deal)
		if len(batch) >= opts.BatchSize {
			flush()
		}
	}
	flush()

	groupErr := g.Wait()
	close(written)
	<-collectDone

	if err := <-errCh; err != nil {
		return nil, err
	}
	if groupErr != nil {
		return nil, eris.Wrap(groupErr, "importer: write batches")
	}

	res.Duration = time.Since(start)
	return &res, nil
}

// dealColumns is the column order used by the bulk upsert sink.
var dealColumns = []string{
	"id", "company", "contact_name", "stage_id", "value", "probability",
	"expected_close_date", "created_at", "stage_changed_at", "updated_at",
}

// BulkSink writes batches with a COPY-backed upsert. Postgres only.
type BulkSink struct {
	Pool db.Pool
}

func (s *BulkSink) WriteBatch(ctx context.Context, deals []model.Deal) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(deals))
	for _, d := range deals {
		createdAt := d.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		rows = append(rows, []any{
			d.ID, d.Company, d.ContactName, d.StageID, d.Value, d.Probability,
			d.ExpectedCloseDate, createdAt, now, now,
		})
	}
	return db.BulkUpsert(ctx, s.Pool, db.UpsertConfig{
		Table:        "deals",
		Columns:      dealColumns,
		ConflictKeys: []string{"id"},
		UpdateCols: []string{
			"company", "contact_name", "stage_id", "value", "probability",
			"expected_close_date", "updated_at",
		},
	}, rows)
}

// StoreSink writes batches one deal at a time through the Store interface.
// Used for the sqlite backend, which has no COPY path.
type StoreSink struct {
	Create func(ctx context.Context, deal model.Deal) (*model.Deal, error)
}

func (s *StoreSink) WriteBatch(ctx context.Context, deals []model.Deal) (int64, error) {
	var n int64
	for _, d := range deals {
		if _, err := s.Create(ctx, d); err != nil {
			return n, eris.Wrapf(err, "importer: create deal %s", d.Company)
		}
		n++
	}
	return n, nil
}

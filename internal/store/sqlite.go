package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/pipeline-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS stages (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	color               TEXT NOT NULL DEFAULT '',
	default_probability INTEGER NOT NULL DEFAULT 0,
	position            INTEGER NOT NULL,
	won                 INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS deals (
	id                  TEXT PRIMARY KEY,
	company             TEXT NOT NULL,
	contact_name        TEXT NOT NULL DEFAULT '',
	stage_id            TEXT NOT NULL REFERENCES stages(id),
	value               REAL NOT NULL DEFAULT 0,
	probability         INTEGER NOT NULL DEFAULT 0,
	expected_close_date DATETIME,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	stage_changed_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS deal_activities (
	id            TEXT PRIMARY KEY,
	deal_id       TEXT NOT NULL REFERENCES deals(id) ON DELETE CASCADE,
	kind          TEXT NOT NULL,
	from_stage_id TEXT,
	to_stage_id   TEXT,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_deals_stage_id ON deals(stage_id);
CREATE INDEX IF NOT EXISTS idx_deals_company ON deals(company);
CREATE INDEX IF NOT EXISTS idx_deal_activities_deal_id ON deal_activities(deal_id);
CREATE INDEX IF NOT EXISTS idx_deal_activities_created_at ON deal_activities(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListStages(ctx context.Context) ([]model.Stage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, color, default_probability, position, won FROM stages ORDER BY position ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list stages")
	}
	defer rows.Close()

	var stages []model.Stage
	for rows.Next() {
		var st model.Stage
		if err := rows.Scan(&st.ID, &st.Name, &st.Color, &st.DefaultProbability, &st.Position, &st.Won); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stage")
		}
		stages = append(stages, st)
	}
	return stages, eris.Wrap(rows.Err(), "sqlite: list stages iterate")
}

func (s *SQLiteStore) UpsertStages(ctx context.Context, stages []model.Stage) error {
	for _, st := range stages {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO stages (id, name, color, default_probability, position, won)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
			   name = excluded.name, color = excluded.color,
			   default_probability = excluded.default_probability,
			   position = excluded.position, won = excluded.won`,
			st.ID, st.Name, st.Color, st.DefaultProbability, st.Position, st.Won,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert stage %s", st.ID)
		}
	}
	return nil
}

func (s *SQLiteStore) CreateDeal(ctx context.Context, deal model.Deal) (*model.Deal, error) {
	if deal.ID == "" {
		deal.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	deal.CreatedAt = now
	deal.StageChangedAt = now
	deal.UpdatedAt = now

	if err := deal.Validate(); err != nil {
		return nil, err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deals (id, company, contact_name, stage_id, value, probability, expected_close_date, created_at, stage_changed_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		deal.ID, deal.Company, deal.ContactName, deal.StageID, deal.Value,
		deal.Probability, deal.ExpectedCloseDate, deal.CreatedAt, deal.StageChangedAt, deal.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert deal")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO deal_activities (id, deal_id, kind, from_stage_id, to_stage_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), deal.ID, string(model.ActivityCreated), nil, deal.StageID, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert created activity")
	}

	return &deal, nil
}

func (s *SQLiteStore) GetDeal(ctx context.Context, dealID string) (*model.Deal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT d.id, d.company, d.contact_name, d.stage_id, d.value, d.probability,
		        d.expected_close_date, d.created_at, d.stage_changed_at, d.updated_at,
		        s.name, s.color
		 FROM deals d JOIN stages s ON s.id = d.stage_id
		 WHERE d.id = ?`,
		dealID,
	)
	d, err := scanDeal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

func (s *SQLiteStore) ListDeals(ctx context.Context, filter DealFilter) ([]model.Deal, error) {
	query := `SELECT d.id, d.company, d.contact_name, d.stage_id, d.value, d.probability,
	                 d.expected_close_date, d.created_at, d.stage_changed_at, d.updated_at,
	                 s.name, s.color
	          FROM deals d JOIN stages s ON s.id = d.stage_id
	          WHERE 1=1`
	var args []any

	if filter.StageID != "" {
		query += ` AND d.stage_id = ?`
		args = append(args, filter.StageID)
	}
	if filter.Company != "" {
		query += ` AND d.company LIKE ?`
		args = append(args, "%"+filter.Company+"%")
	}
	query += ` ORDER BY s.position ASC, d.stage_changed_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list deals")
	}
	defer rows.Close()

	var deals []model.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		deals = append(deals, *d)
	}
	return deals, eris.Wrap(rows.Err(), "sqlite: list deals iterate")
}

func (s *SQLiteStore) UpdateDeal(ctx context.Context, deal model.Deal) error {
	if err := deal.Validate(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE deals SET company = ?, contact_name = ?, value = ?, probability = ?,
		        expected_close_date = ?, updated_at = ?
		 WHERE id = ?`,
		deal.Company, deal.ContactName, deal.Value, deal.Probability,
		deal.ExpectedCloseDate, time.Now().UTC(), deal.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update deal %s", deal.ID)
	}
	return checkRowsAffected(res, "deal", deal.ID)
}

func (s *SQLiteStore) UpdateDealStage(ctx context.Context, dealID, stageID string, changedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin stage update")
	}
	defer tx.Rollback()

	var fromStageID string
	if err := tx.QueryRowContext(ctx,
		`SELECT stage_id FROM deals WHERE id = ?`, dealID,
	).Scan(&fromStageID); err != nil {
		if err == sql.ErrNoRows {
			return eris.Errorf("deal not found: %s", dealID)
		}
		return eris.Wrapf(err, "sqlite: read deal %s", dealID)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE deals
		 SET stage_id = ?,
		     probability = (SELECT default_probability FROM stages WHERE id = ?),
		     stage_changed_at = ?, updated_at = ?
		 WHERE id = ?`,
		stageID, stageID, changedAt, time.Now().UTC(), dealID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update deal stage %s", dealID)
	}
	if err := checkRowsAffected(res, "deal", dealID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO deal_activities (id, deal_id, kind, from_stage_id, to_stage_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), dealID, string(model.ActivityStageChange), fromStageID, stageID, changedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert stage activity %s", dealID)
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit stage update")
}

func (s *SQLiteStore) DeleteDeal(ctx context.Context, dealID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM deals WHERE id = ?`, dealID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete deal %s", dealID)
	}
	return checkRowsAffected(res, "deal", dealID)
}

func (s *SQLiteStore) ListActivities(ctx context.Context, dealID string, limit int) ([]model.Activity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, deal_id, kind, from_stage_id, to_stage_id, created_at
		 FROM deal_activities WHERE deal_id = ?
		 ORDER BY created_at DESC LIMIT ?`,
		dealID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list activities %s", dealID)
	}
	defer rows.Close()

	var activities []model.Activity
	for rows.Next() {
		var a model.Activity
		var kind string
		var from, to sql.NullString
		if err := rows.Scan(&a.ID, &a.DealID, &kind, &from, &to, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan activity")
		}
		a.Kind = model.ActivityKind(kind)
		a.FromStageID = from.String
		a.ToStageID = to.String
		activities = append(activities, a)
	}
	return activities, eris.Wrap(rows.Err(), "sqlite: list activities iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanDeal(row scannable) (*model.Deal, error) {
	var d model.Deal
	var closeDate sql.NullTime

	err := row.Scan(&d.ID, &d.Company, &d.ContactName, &d.StageID, &d.Value, &d.Probability,
		&closeDate, &d.CreatedAt, &d.StageChangedAt, &d.UpdatedAt,
		&d.StageName, &d.StageColor)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan deal")
	}
	if closeDate.Valid {
		t := closeDate.Time
		d.ExpectedCloseDate = &t
	}
	return &d, nil
}

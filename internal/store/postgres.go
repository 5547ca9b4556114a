package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/pipeline-cli/internal/db"
	"github.com/sells-group/pipeline-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"list_stages":       `SELECT id, name, color, default_probability, position, won FROM stages ORDER BY position ASC`,
	"get_deal":          `SELECT d.id, d.company, d.contact_name, d.stage_id, d.value, d.probability, d.expected_close_date, d.created_at, d.stage_changed_at, d.updated_at, s.name, s.color FROM deals d JOIN stages s ON s.id = d.stage_id WHERE d.id = $1`,
	"insert_deal":       `INSERT INTO deals (id, company, contact_name, stage_id, value, probability, expected_close_date, created_at, stage_changed_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
	"delete_deal":       `DELETE FROM deals WHERE id = $1`,
	"insert_activity":   `INSERT INTO deal_activities (id, deal_id, kind, from_stage_id, to_stage_id, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"update_deal_stage": `UPDATE deals SET stage_id = $1, probability = (SELECT default_probability FROM stages WHERE id = $1), stage_changed_at = $2, updated_at = $3 WHERE id = $4`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool, used by tests and by callers
// that manage the pool lifecycle themselves.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for use by subsystems
// that need direct query access (e.g., bulk import).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS stages (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	color               TEXT NOT NULL DEFAULT '',
	default_probability INTEGER NOT NULL DEFAULT 0,
	position            INTEGER NOT NULL,
	won                 BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS deals (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	company             TEXT NOT NULL,
	contact_name        TEXT NOT NULL DEFAULT '',
	stage_id            TEXT NOT NULL REFERENCES stages(id),
	value               DOUBLE PRECISION NOT NULL DEFAULT 0,
	probability         INTEGER NOT NULL DEFAULT 0,
	expected_close_date TIMESTAMPTZ,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	stage_changed_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS deal_activities (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	deal_id       TEXT NOT NULL REFERENCES deals(id) ON DELETE CASCADE,
	kind          TEXT NOT NULL,
	from_stage_id TEXT,
	to_stage_id   TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_deals_stage_id ON deals(stage_id);
CREATE INDEX IF NOT EXISTS idx_deals_company ON deals(company);
CREATE INDEX IF NOT EXISTS idx_deal_activities_deal_id ON deal_activities(deal_id);
CREATE INDEX IF NOT EXISTS idx_deal_activities_created_at ON deal_activities(created_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) ListStages(ctx context.Context) ([]model.Stage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, color, default_probability, position, won FROM stages ORDER BY position ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list stages")
	}
	defer rows.Close()

	var stages []model.Stage
	for rows.Next() {
		var st model.Stage
		if err := rows.Scan(&st.ID, &st.Name, &st.Color, &st.DefaultProbability, &st.Position, &st.Won); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stage")
		}
		stages = append(stages, st)
	}
	return stages, eris.Wrap(rows.Err(), "postgres: list stages iterate")
}

func (s *PostgresStore) UpsertStages(ctx context.Context, stages []model.Stage) error {
	for _, st := range stages {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO stages (id, name, color, default_probability, position, won)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (id) DO UPDATE SET
			   name = $2, color = $3, default_probability = $4, position = $5, won = $6`,
			st.ID, st.Name, st.Color, st.DefaultProbability, st.Position, st.Won,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: upsert stage %s", st.ID)
		}
	}
	return nil
}

func (s *PostgresStore) CreateDeal(ctx context.Context, deal model.Deal) (*model.Deal, error) {
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

	_, err := s.pool.Exec(ctx,
		`INSERT INTO deals (id, company, contact_name, stage_id, value, probability, expected_close_date, created_at, stage_changed_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		deal.ID, deal.Company, deal.ContactName, deal.StageID, deal.Value,
		deal.Probability, deal.ExpectedCloseDate, deal.CreatedAt, deal.StageChangedAt, deal.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert deal")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO deal_activities (id, deal_id, kind, from_stage_id, to_stage_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New().String(), deal.ID, string(model.ActivityCreated), nil, deal.StageID, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert created activity")
	}

	return &deal, nil
}

func (s *PostgresStore) GetDeal(ctx context.Context, dealID string) (*model.Deal, error) {
	var d model.Deal
	err := s.pool.QueryRow(ctx,
		`SELECT d.id, d.company, d.contact_name, d.stage_id, d.value, d.probability,
		        d.expected_close_date, d.created_at, d.stage_changed_at, d.updated_at,
		        s.name, s.color
		 FROM deals d JOIN stages s ON s.id = d.stage_id
		 WHERE d.id = $1`,
		dealID,
	).Scan(&d.ID, &d.Company, &d.ContactName, &d.StageID, &d.Value, &d.Probability,
		&d.ExpectedCloseDate, &d.CreatedAt, &d.StageChangedAt, &d.UpdatedAt,
		&d.StageName, &d.StageColor)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get deal %s", dealID)
	}
	return &d, nil
}

func (s *PostgresStore) ListDeals(ctx context.Context, filter DealFilter) ([]model.Deal, error) {
	query := `SELECT d.id, d.company, d.contact_name, d.stage_id, d.value, d.probability,
	                 d.expected_close_date, d.created_at, d.stage_changed_at, d.updated_at,
	                 s.name, s.color
	          FROM deals d JOIN stages s ON s.id = d.stage_id
	          WHERE true`
	args := []any{}
	argIdx := 1

	if filter.StageID != "" {
		query += fmt.Sprintf(` AND d.stage_id = $%d`, argIdx)
		args = append(args, filter.StageID)
		argIdx++
	}
	if filter.Company != "" {
		query += fmt.Sprintf(` AND d.company ILIKE $%d`, argIdx)
		args = append(args, "%"+filter.Company+"%")
		argIdx++
	}
	query += ` ORDER BY s.position ASC, d.stage_changed_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list deals")
	}
	defer rows.Close()

	var deals []model.Deal
	for rows.Next() {
		var d model.Deal
		if err := rows.Scan(&d.ID, &d.Company, &d.ContactName, &d.StageID, &d.Value, &d.Probability,
			&d.ExpectedCloseDate, &d.CreatedAt, &d.StageChangedAt, &d.UpdatedAt,
			&d.StageName, &d.StageColor); err != nil {
			return nil, eris.Wrap(err, "postgres: scan deal")
		}
		deals = append(deals, d)
	}
	return deals, eris.Wrap(rows.Err(), "postgres: list deals iterate")
}

func (s *PostgresStore) UpdateDeal(ctx context.Context, deal model.Deal) error {
	if err := deal.Validate(); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE deals SET company = $1, contact_name = $2, value = $3, probability = $4,
		        expected_close_date = $5, updated_at = $6
		 WHERE id = $7`,
		deal.Company, deal.ContactName, deal.Value, deal.Probability,
		deal.ExpectedCloseDate, time.Now().UTC(), deal.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update deal %s", deal.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("deal not found: %s", deal.ID)
	}
	return nil
}

// UpdateDealStage moves a deal to a new stage as a single transaction: the
// deal row is patched (stage, probability from the stage default, the
// stage-changed timestamp) and a stage_change activity is recorded.
func (s *PostgresStore) UpdateDealStage(ctx context.Context, dealID, stageID string, changedAt time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin stage update")
	}
	defer tx.Rollback(ctx)

	var fromStageID string
	if err := tx.QueryRow(ctx,
		`SELECT stage_id FROM deals WHERE id = $1 FOR UPDATE`, dealID,
	).Scan(&fromStageID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return eris.Errorf("deal not found: %s", dealID)
		}
		return eris.Wrapf(err, "postgres: lock deal %s", dealID)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE deals
		 SET stage_id = $1,
		     probability = (SELECT default_probability FROM stages WHERE id = $1),
		     stage_changed_at = $2, updated_at = $3
		 WHERE id = $4`,
		stageID, changedAt, time.Now().UTC(), dealID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update deal stage %s", dealID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("deal not found: %s", dealID)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO deal_activities (id, deal_id, kind, from_stage_id, to_stage_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New().String(), dealID, string(model.ActivityStageChange), fromStageID, stageID, changedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert stage activity %s", dealID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit stage update")
}

func (s *PostgresStore) DeleteDeal(ctx context.Context, dealID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM deals WHERE id = $1`, dealID)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete deal %s", dealID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("deal not found: %s", dealID)
	}
	return nil
}

func (s *PostgresStore) ListActivities(ctx context.Context, dealID string, limit int) ([]model.Activity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, deal_id, kind, from_stage_id, to_stage_id, created_at
		 FROM deal_activities WHERE deal_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		dealID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list activities %s", dealID)
	}
	defer rows.Close()

	var activities []model.Activity
	for rows.Next() {
		var a model.Activity
		var kind string
		var from, to *string
		if err := rows.Scan(&a.ID, &a.DealID, &kind, &from, &to, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan activity")
		}
		a.Kind = model.ActivityKind(kind)
		if from != nil {
			a.FromStageID = *from
		}
		if to != nil {
			a.ToStageID = *to
		}
		activities = append(activities, a)
	}
	return activities, eris.Wrap(rows.Err(), "postgres: list activities iterate")
}

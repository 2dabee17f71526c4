package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/meridian-geo/roadmerge/internal/db"
	"github.com/meridian-geo/roadmerge/internal/model"
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
	"insert_submission":    `INSERT INTO submissions (id, vendor_id, state, raw_geojson, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"update_state":         `UPDATE submissions SET state = $1, updated_at = $2 WHERE id = $3`,
	"get_submission":       `SELECT id, vendor_id, state, raw_geojson, features, validation, context, decision, error, created_at, updated_at FROM submissions WHERE id = $1`,
	"get_trust_record":     `SELECT vendor_id, score, approvals, submissions, created_at, updated_at FROM vendors WHERE vendor_id = $1`,
	"insert_trust_history": `INSERT INTO trust_history (id, vendor_id, outcome, delta, score, recorded_at) VALUES ($1, $2, $3, $4, $5, $6)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

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

// NewPostgresWithPool wraps an existing pool. Used by tests.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS submissions (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	vendor_id   TEXT NOT NULL,
	state       TEXT NOT NULL DEFAULT 'submitted',
	raw_geojson JSONB,
	features    JSONB,
	validation  JSONB,
	context     JSONB,
	decision    JSONB,
	error       TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS vendors (
	vendor_id   TEXT PRIMARY KEY,
	score       DOUBLE PRECISION NOT NULL,
	approvals   INTEGER NOT NULL DEFAULT 0,
	submissions INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS trust_history (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	vendor_id   TEXT NOT NULL REFERENCES vendors(vendor_id),
	outcome     TEXT NOT NULL,
	delta       DOUBLE PRECISION NOT NULL,
	score       DOUBLE PRECISION NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_submissions_vendor_id ON submissions(vendor_id);
CREATE INDEX IF NOT EXISTS idx_submissions_state ON submissions(state);
CREATE INDEX IF NOT EXISTS idx_trust_history_vendor_id ON trust_history(vendor_id);
CREATE INDEX IF NOT EXISTS idx_trust_history_recorded_at ON trust_history(recorded_at);
`

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

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) CreateSubmission(ctx context.Context, vendorID string, raw json.RawMessage) (*model.Submission, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO submissions (id, vendor_id, state, raw_geojson, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, vendorID, string(model.StateSubmitted), []byte(raw), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert submission")
	}

	return &model.Submission{
		ID:         id,
		VendorID:   vendorID,
		State:      model.StateSubmitted,
		RawGeoJSON: raw,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *PostgresStore) UpdateSubmissionState(ctx context.Context, id string, state model.SubmissionState) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE submissions SET state = $1, updated_at = $2 WHERE id = $3`,
		string(state), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update submission state %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("submission not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) FailSubmission(ctx context.Context, id string, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE submissions SET state = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(model.StateFailed), reason, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail submission %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("submission not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) SaveFeatures(ctx context.Context, id string, fs *model.RoadFeatureSet) error {
	return s.saveStageOutput(ctx, id, "features", fs)
}

func (s *PostgresStore) SaveValidation(ctx context.Context, id string, vr *model.ValidationResult) error {
	return s.saveStageOutput(ctx, id, "validation", vr)
}

func (s *PostgresStore) SaveContext(ctx context.Context, id string, cs *model.ContextFindingSet) error {
	return s.saveStageOutput(ctx, id, "context", cs)
}

func (s *PostgresStore) SaveDecision(ctx context.Context, id string, dr *model.DecisionRecord) error {
	return s.saveStageOutput(ctx, id, "decision", dr)
}

func (s *PostgresStore) saveStageOutput(ctx context.Context, id, column string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "postgres: marshal %s", column)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE submissions SET `+column+` = $1, updated_at = $2 WHERE id = $3`,
		data, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save %s for submission %s", column, id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("submission not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) GetSubmission(ctx context.Context, id string) (*model.Submission, error) {
	var sub model.Submission
	var raw, features, validation, contextJSON, decision []byte
	var errMsg *string

	err := s.pool.QueryRow(ctx,
		`SELECT id, vendor_id, state, raw_geojson, features, validation, context, decision, error, created_at, updated_at
		 FROM submissions WHERE id = $1`,
		id,
	).Scan(&sub.ID, &sub.VendorID, &sub.State, &raw, &features, &validation,
		&contextJSON, &decision, &errMsg, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get submission %s", id)
	}

	if err := hydrateSubmission(&sub, raw, features, validation, contextJSON, decision, errMsg); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *PostgresStore) ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]model.Submission, error) {
	query := `SELECT id, vendor_id, state, raw_geojson, features, validation, context, decision, error, created_at, updated_at
	          FROM submissions WHERE true`
	args := []any{}
	argIdx := 1

	if filter.VendorID != "" {
		query += fmt.Sprintf(` AND vendor_id = $%d`, argIdx)
		args = append(args, filter.VendorID)
		argIdx++
	}
	if filter.State != "" {
		query += fmt.Sprintf(` AND state = $%d`, argIdx)
		args = append(args, string(filter.State))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list submissions")
	}
	defer rows.Close()

	var subs []model.Submission
	for rows.Next() {
		var sub model.Submission
		var raw, features, validation, contextJSON, decision []byte
		var errMsg *string

		if err := rows.Scan(&sub.ID, &sub.VendorID, &sub.State, &raw, &features, &validation,
			&contextJSON, &decision, &errMsg, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan submission")
		}
		if err := hydrateSubmission(&sub, raw, features, validation, contextJSON, decision, errMsg); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, eris.Wrap(rows.Err(), "postgres: list submissions iterate")
}

func (s *PostgresStore) GetTrustRecord(ctx context.Context, vendorID string) (*model.TrustRecord, error) {
	var rec model.TrustRecord
	err := s.pool.QueryRow(ctx,
		`SELECT vendor_id, score, approvals, submissions, created_at, updated_at FROM vendors WHERE vendor_id = $1`,
		vendorID,
	).Scan(&rec.VendorID, &rec.Score, &rec.Approvals, &rec.Submissions, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get trust record %s", vendorID)
	}
	return &rec, nil
}

func (s *PostgresStore) CreateTrustRecord(ctx context.Context, rec *model.TrustRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO vendors (vendor_id, score, approvals, submissions, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.VendorID, rec.Score, rec.Approvals, rec.Submissions, rec.CreatedAt, rec.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: create trust record %s", rec.VendorID)
}

func (s *PostgresStore) ApplyTrustAdjustment(ctx context.Context, rec *model.TrustRecord, adj model.TrustAdjustment) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin trust adjustment")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE vendors SET score = $1, approvals = $2, submissions = $3, updated_at = $4 WHERE vendor_id = $5`,
		rec.Score, rec.Approvals, rec.Submissions, rec.UpdatedAt, rec.VendorID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update trust record %s", rec.VendorID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("vendor not found: %s", rec.VendorID)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO trust_history (id, vendor_id, outcome, delta, score, recorded_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		adj.ID, adj.VendorID, string(adj.Outcome), adj.Delta, adj.Score, adj.RecordedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert trust history %s", rec.VendorID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit trust adjustment")
}

func (s *PostgresStore) ListTrustHistory(ctx context.Context, vendorID string, limit int) ([]model.TrustAdjustment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, vendor_id, outcome, delta, score, recorded_at
		 FROM (SELECT * FROM trust_history WHERE vendor_id = $1 ORDER BY recorded_at DESC, id LIMIT $2) h
		 ORDER BY recorded_at ASC, id`,
		vendorID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list trust history %s", vendorID)
	}
	defer rows.Close()

	var history []model.TrustAdjustment
	for rows.Next() {
		var adj model.TrustAdjustment
		if err := rows.Scan(&adj.ID, &adj.VendorID, &adj.Outcome, &adj.Delta, &adj.Score, &adj.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan trust history")
		}
		history = append(history, adj)
	}
	return history, eris.Wrap(rows.Err(), "postgres: list trust history iterate")
}

func hydrateSubmission(sub *model.Submission, raw, features, validation, contextJSON, decision []byte, errMsg *string) error {
	if len(raw) > 0 {
		sub.RawGeoJSON = json.RawMessage(raw)
	}
	if errMsg != nil {
		sub.Error = *errMsg
	}
	if err := unmarshalStageBytes(features, &sub.Features); err != nil {
		return err
	}
	if err := unmarshalStageBytes(validation, &sub.Validation); err != nil {
		return err
	}
	if err := unmarshalStageBytes(contextJSON, &sub.Context); err != nil {
		return err
	}
	return unmarshalStageBytes(decision, &sub.Decision)
}

func unmarshalStageBytes[T any](data []byte, dst **T) error {
	if len(data) == 0 {
		return nil
	}
	*dst = new(T)
	if err := json.Unmarshal(data, *dst); err != nil {
		return eris.Wrap(err, "postgres: unmarshal stage output")
	}
	return nil
}

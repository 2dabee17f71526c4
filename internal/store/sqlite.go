package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/meridian-geo/roadmerge/internal/model"
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
CREATE TABLE IF NOT EXISTS submissions (
	id          TEXT PRIMARY KEY,
	vendor_id   TEXT NOT NULL,
	state       TEXT NOT NULL DEFAULT 'submitted',
	raw_geojson TEXT,
	features    TEXT,
	validation  TEXT,
	context     TEXT,
	decision    TEXT,
	error       TEXT,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS vendors (
	vendor_id   TEXT PRIMARY KEY,
	score       REAL NOT NULL,
	approvals   INTEGER NOT NULL DEFAULT 0,
	submissions INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS trust_history (
	id          TEXT PRIMARY KEY,
	vendor_id   TEXT NOT NULL REFERENCES vendors(vendor_id),
	outcome     TEXT NOT NULL,
	delta       REAL NOT NULL,
	score       REAL NOT NULL,
	recorded_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_submissions_vendor_id ON submissions(vendor_id);
CREATE INDEX IF NOT EXISTS idx_submissions_state ON submissions(state);
CREATE INDEX IF NOT EXISTS idx_trust_history_vendor_id ON trust_history(vendor_id);
CREATE INDEX IF NOT EXISTS idx_trust_history_recorded_at ON trust_history(recorded_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateSubmission(ctx context.Context, vendorID string, raw json.RawMessage) (*model.Submission, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO submissions (id, vendor_id, state, raw_geojson, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, vendorID, string(model.StateSubmitted), string(raw), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert submission")
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

func (s *SQLiteStore) UpdateSubmissionState(ctx context.Context, id string, state model.SubmissionState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET state = ?, updated_at = ? WHERE id = ?`,
		string(state), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update submission state %s", id)
	}
	return checkRowsAffected(res, "submission", id)
}

func (s *SQLiteStore) FailSubmission(ctx context.Context, id string, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET state = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(model.StateFailed), reason, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail submission %s", id)
	}
	return checkRowsAffected(res, "submission", id)
}

func (s *SQLiteStore) SaveFeatures(ctx context.Context, id string, fs *model.RoadFeatureSet) error {
	return s.saveStageOutput(ctx, id, "features", fs)
}

func (s *SQLiteStore) SaveValidation(ctx context.Context, id string, vr *model.ValidationResult) error {
	return s.saveStageOutput(ctx, id, "validation", vr)
}

func (s *SQLiteStore) SaveContext(ctx context.Context, id string, cs *model.ContextFindingSet) error {
	return s.saveStageOutput(ctx, id, "context", cs)
}

func (s *SQLiteStore) SaveDecision(ctx context.Context, id string, dr *model.DecisionRecord) error {
	return s.saveStageOutput(ctx, id, "decision", dr)
}

// saveStageOutput writes one stage's JSON output to its column. The column
// name comes from a fixed internal set, never from input.
func (s *SQLiteStore) saveStageOutput(ctx context.Context, id, column string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "sqlite: marshal %s", column)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET `+column+` = ?, updated_at = ? WHERE id = ?`,
		string(data), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save %s for submission %s", column, id)
	}
	return checkRowsAffected(res, "submission", id)
}

func (s *SQLiteStore) GetSubmission(ctx context.Context, id string) (*model.Submission, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, vendor_id, state, raw_geojson, features, validation, context, decision, error, created_at, updated_at
		 FROM submissions WHERE id = ?`,
		id,
	)
	return scanSubmission(row)
}

func (s *SQLiteStore) ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]model.Submission, error) {
	query := `SELECT id, vendor_id, state, raw_geojson, features, validation, context, decision, error, created_at, updated_at
	          FROM submissions WHERE 1=1`
	var args []any

	if filter.VendorID != "" {
		query += ` AND vendor_id = ?`
		args = append(args, filter.VendorID)
	}
	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, string(filter.State))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list submissions")
	}
	defer rows.Close()

	var subs []model.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, eris.Wrap(rows.Err(), "sqlite: list submissions iterate")
}

func (s *SQLiteStore) GetTrustRecord(ctx context.Context, vendorID string) (*model.TrustRecord, error) {
	var rec model.TrustRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT vendor_id, score, approvals, submissions, created_at, updated_at FROM vendors WHERE vendor_id = ?`,
		vendorID,
	).Scan(&rec.VendorID, &rec.Score, &rec.Approvals, &rec.Submissions, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get trust record %s", vendorID)
	}
	return &rec, nil
}

func (s *SQLiteStore) CreateTrustRecord(ctx context.Context, rec *model.TrustRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vendors (vendor_id, score, approvals, submissions, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.VendorID, rec.Score, rec.Approvals, rec.Submissions, rec.CreatedAt, rec.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: create trust record %s", rec.VendorID)
}

func (s *SQLiteStore) ApplyTrustAdjustment(ctx context.Context, rec *model.TrustRecord, adj model.TrustAdjustment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin trust adjustment")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE vendors SET score = ?, approvals = ?, submissions = ?, updated_at = ? WHERE vendor_id = ?`,
		rec.Score, rec.Approvals, rec.Submissions, rec.UpdatedAt, rec.VendorID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update trust record %s", rec.VendorID)
	}
	if err := checkRowsAffected(res, "vendor", rec.VendorID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO trust_history (id, vendor_id, outcome, delta, score, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		adj.ID, adj.VendorID, string(adj.Outcome), adj.Delta, adj.Score, adj.RecordedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert trust history %s", rec.VendorID)
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit trust adjustment")
}

func (s *SQLiteStore) ListTrustHistory(ctx context.Context, vendorID string, limit int) ([]model.TrustAdjustment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, vendor_id, outcome, delta, score, recorded_at
		 FROM (SELECT * FROM trust_history WHERE vendor_id = ? ORDER BY recorded_at DESC, id LIMIT ?)
		 ORDER BY recorded_at ASC, id`,
		vendorID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list trust history %s", vendorID)
	}
	defer rows.Close()

	var history []model.TrustAdjustment
	for rows.Next() {
		var adj model.TrustAdjustment
		if err := rows.Scan(&adj.ID, &adj.VendorID, &adj.Outcome, &adj.Delta, &adj.Score, &adj.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan trust history")
		}
		history = append(history, adj)
	}
	return history, eris.Wrap(rows.Err(), "sqlite: list trust history iterate")
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

func scanSubmission(row scannable) (*model.Submission, error) {
	var sub model.Submission
	var raw, features, validation, contextJSON, decision, errMsg sql.NullString

	err := row.Scan(&sub.ID, &sub.VendorID, &sub.State, &raw, &features, &validation,
		&contextJSON, &decision, &errMsg, &sub.CreatedAt, &sub.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("submission not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan submission")
	}

	if raw.Valid {
		sub.RawGeoJSON = json.RawMessage(raw.String)
	}
	if errMsg.Valid {
		sub.Error = errMsg.String
	}
	if err := unmarshalStage(features, &sub.Features); err != nil {
		return nil, err
	}
	if err := unmarshalStage(validation, &sub.Validation); err != nil {
		return nil, err
	}
	if err := unmarshalStage(contextJSON, &sub.Context); err != nil {
		return nil, err
	}
	if err := unmarshalStage(decision, &sub.Decision); err != nil {
		return nil, err
	}
	return &sub, nil
}

func unmarshalStage[T any](col sql.NullString, dst **T) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	*dst = new(T)
	if err := json.Unmarshal([]byte(col.String), *dst); err != nil {
		return eris.Wrap(err, "sqlite: unmarshal stage output")
	}
	return nil
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-geo/roadmerge/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresWithPool(mock), mock
}

func TestPostgresStore_CreateSubmission(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO submissions`).
		WithArgs(pgxmock.AnyArg(), "vendor-1", "submitted", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	sub, err := s.CreateSubmission(context.Background(), "vendor-1", []byte(`{"type":"FeatureCollection"}`))
	require.NoError(t, err)
	assert.NotEmpty(t, sub.ID)
	assert.Equal(t, model.StateSubmitted, sub.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSubmission_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, vendor_id, state, raw_geojson, features, validation, context, decision, error, created_at, updated_at`).
		WithArgs("nonexistent").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetSubmission(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get submission")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateSubmissionState_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE submissions SET state`).
		WithArgs("extracting", pgxmock.AnyArg(), "missing-id").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateSubmissionState(context.Background(), "missing-id", model.StateExtracting)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetTrustRecord_Unseen(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT vendor_id, score, approvals, submissions, created_at, updated_at FROM vendors`).
		WithArgs("new-vendor").
		WillReturnError(pgx.ErrNoRows)

	rec, err := s.GetTrustRecord(context.Background(), "new-vendor")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetTrustRecord(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT vendor_id, score, approvals, submissions, created_at, updated_at FROM vendors`).
		WithArgs("vendor-1").
		WillReturnRows(pgxmock.NewRows(
			[]string{"vendor_id", "score", "approvals", "submissions", "created_at", "updated_at"},
		).AddRow("vendor-1", 72.5, 8, 10, now, now))

	rec, err := s.GetTrustRecord(context.Background(), "vendor-1")
	require.NoError(t, err)
	assert.Equal(t, 72.5, rec.Score)
	assert.Equal(t, 0.8, rec.ApprovalRate())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplyTrustAdjustment_Transactional(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	rec := &model.TrustRecord{VendorID: "vendor-1", Score: 74.5, Approvals: 9, Submissions: 11, UpdatedAt: now}
	adj := model.TrustAdjustment{ID: "adj-1", VendorID: "vendor-1", Outcome: model.OutcomeApproved, Delta: 2, Score: 74.5, RecordedAt: now}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE vendors SET score`).
		WithArgs(74.5, 9, 11, now, "vendor-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO trust_history`).
		WithArgs("adj-1", "vendor-1", "approved", 2.0, 74.5, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.ApplyTrustAdjustment(context.Background(), rec, adj)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplyTrustAdjustment_VendorMissingRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	rec := &model.TrustRecord{VendorID: "ghost", Score: 50, UpdatedAt: now}
	adj := model.TrustAdjustment{ID: "adj-1", VendorID: "ghost", Outcome: model.OutcomeRejected, RecordedAt: now}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE vendors SET score`).
		WithArgs(50.0, 0, 0, now, "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := s.ApplyTrustAdjustment(context.Background(), rec, adj)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vendor not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

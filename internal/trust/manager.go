// Package trust maintains per-vendor reputation scores. Scores stay within
// [0,100], every adjustment appends a history entry, and adjustments for the
// same vendor serialize so concurrent submissions cannot lose an update.
package trust

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-geo/roadmerge/internal/config"
	"github.com/meridian-geo/roadmerge/internal/model"
	"github.com/meridian-geo/roadmerge/internal/resilience"
	"github.com/meridian-geo/roadmerge/internal/store"
)

// Manager is the sole writer of vendor trust scores.
type Manager struct {
	cfg config.TrustConfig
	st  store.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a Manager over the given store.
func NewManager(cfg config.TrustConfig, st store.Store) *Manager {
	return &Manager{cfg: cfg, st: st, locks: make(map[string]*sync.Mutex)}
}

// vendorLock returns the mutex serializing adjustments for one vendor.
func (m *Manager) vendorLock(vendorID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[vendorID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[vendorID] = l
	}
	return l
}

// Score returns the vendor's current trust score, or the configured default
// for unseen vendors. Reads do not create the record.
func (m *Manager) Score(ctx context.Context, vendorID string) (float64, error) {
	rec, err := m.st.GetTrustRecord(ctx, vendorID)
	if err != nil {
		return 0, eris.Wrap(err, "trust: read score")
	}
	if rec == nil {
		return m.cfg.DefaultScore, nil
	}
	return rec.Score, nil
}

// Record returns the vendor's trust record with recent history attached, or
// a default-score record for unseen vendors.
func (m *Manager) Record(ctx context.Context, vendorID string) (*model.TrustRecord, error) {
	rec, err := m.st.GetTrustRecord(ctx, vendorID)
	if err != nil {
		return nil, eris.Wrap(err, "trust: read record")
	}
	if rec == nil {
		now := time.Now().UTC()
		return &model.TrustRecord{
			VendorID:  vendorID,
			Score:     m.cfg.DefaultScore,
			CreatedAt: now,
			UpdatedAt: now,
		}, nil
	}
	history, err := m.st.ListTrustHistory(ctx, vendorID, m.historyLimit())
	if err != nil {
		return nil, eris.Wrap(err, "trust: read history")
	}
	rec.History = history
	return rec, nil
}

func (m *Manager) historyLimit() int {
	if m.cfg.HistoryWindow > 0 {
		return m.cfg.HistoryWindow
	}
	return 5
}

// ApplyAdjustment applies one signed adjustment to the vendor's score,
// creating the record at the default score first if the vendor is unseen.
// The read-modify-write is serialized per vendor and retried on transient
// store failures; the lock is held only for the single update.
func (m *Manager) ApplyAdjustment(ctx context.Context, vendorID string, outcome model.Outcome, magnitude float64) (float64, error) {
	lock := m.vendorLock(vendorID)
	lock.Lock()
	defer lock.Unlock()

	retry := resilience.RetryConfig{
		MaxAttempts: m.cfg.WriteRetries,
		OnRetry:     resilience.RetryLogger("store", "apply trust adjustment"),
	}

	newScore, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (float64, error) {
		return m.applyOnce(ctx, vendorID, outcome, magnitude)
	})
	if err != nil {
		return 0, eris.Wrapf(err, "trust: apply adjustment for %s", vendorID)
	}
	return newScore, nil
}

func (m *Manager) applyOnce(ctx context.Context, vendorID string, outcome model.Outcome, magnitude float64) (float64, error) {
	now := time.Now().UTC()

	rec, err := m.st.GetTrustRecord(ctx, vendorID)
	if err != nil {
		return 0, err
	}
	if rec == nil {
		rec = &model.TrustRecord{
			VendorID:  vendorID,
			Score:     m.cfg.DefaultScore,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := m.st.CreateTrustRecord(ctx, rec); err != nil {
			return 0, err
		}
	}

	oldScore := rec.Score
	newScore := clampScore(oldScore + signedDelta(outcome, magnitude))

	rec.Score = newScore
	rec.UpdatedAt = now
	switch outcome {
	case model.OutcomeApproved:
		rec.Approvals++
		rec.Submissions++
	case model.OutcomeRejected:
		rec.Submissions++
	}

	adj := model.TrustAdjustment{
		ID:         uuid.New().String(),
		VendorID:   vendorID,
		Outcome:    outcome,
		Delta:      newScore - oldScore,
		Score:      newScore,
		RecordedAt: now,
	}
	if err := m.st.ApplyTrustAdjustment(ctx, rec, adj); err != nil {
		return 0, err
	}

	zap.L().Info("trust score adjusted",
		zap.String("vendor_id", vendorID),
		zap.String("outcome", string(outcome)),
		zap.Float64("old_score", oldScore),
		zap.Float64("new_score", newScore),
	)
	return newScore, nil
}

func signedDelta(outcome model.Outcome, magnitude float64) float64 {
	switch outcome {
	case model.OutcomeApproved, model.OutcomeFieldVerifiedGood:
		return magnitude
	case model.OutcomeRejected, model.OutcomeFieldVerifiedBad:
		return -magnitude
	}
	return 0
}

func clampScore(s float64) float64 {
	if s < model.TrustScoreMin {
		return model.TrustScoreMin
	}
	if s > model.TrustScoreMax {
		return model.TrustScoreMax
	}
	return s
}

// Package optimization runs the optimization lifecycle: request, provider
// call, apply and cancel. At most one request per (user, portfolio) is in
// flight and each record is applied at most once.
package optimization

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"investcore/internal/apperr"
	"investcore/internal/audit"
	"investcore/internal/lock"
	"investcore/internal/models"
	"investcore/internal/provider"
	"investcore/internal/repository"
	"investcore/internal/service"
)

const (
	DefaultCoolOff         = 24 * time.Hour
	DefaultProviderTimeout = 60 * time.Second
)

// FeatureGate reports runtime feature switches.
type FeatureGate interface {
	IsEnabled(ctx context.Context, key string, fallback bool) bool
}

type Manager struct {
	Repo      repository.Repository
	Locker    lock.Locker
	Optimizer provider.Optimizer
	Engine    *Engine
	Gate      FeatureGate
	Audit     audit.Recorder
	Logger    *zap.Logger
	Now       func() time.Time

	CoolOff         time.Duration
	ProviderTimeout time.Duration
	StaleAfter      time.Duration
	Model           string
}

// Result is the outcome of a request. Provider failures are reported here
// with Successful=false rather than as an error.
type Result struct {
	Successful bool                       `json:"successful"`
	Record     *models.OptimizationRecord `json:"record"`
	Error      string                     `json:"error,omitempty"`
}

type HistoryFilter struct {
	Since  *time.Time
	Until  *time.Time
	Status models.OptimizationStatus
	Limit  int
	Offset int
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

func (m *Manager) coolOff() time.Duration {
	if m.CoolOff > 0 {
		return m.CoolOff
	}
	return DefaultCoolOff
}

func (m *Manager) HasOngoingOptimization(ctx context.Context, userID, portfolioID string) (bool, error) {
	rec, err := m.Repo.FindInProgressOptimization(ctx, userID, portfolioID)
	if err != nil {
		return false, fmt.Errorf("find in-progress optimization: %w", err)
	}
	return rec != nil, nil
}

// RemainingCoolOff is how long until the portfolio may be optimized again
// after its latest applied record. Zero means no wait.
func (m *Manager) RemainingCoolOff(ctx context.Context, userID, portfolioID string) (time.Duration, error) {
	return m.remainingCoolOff(ctx, m.Repo, userID, portfolioID)
}

func (m *Manager) remainingCoolOff(ctx context.Context, repo repository.Repository, userID, portfolioID string) (time.Duration, error) {
	rec, err := repo.LatestAppliedOptimization(ctx, userID, portfolioID)
	if err != nil {
		return 0, fmt.Errorf("latest applied optimization: %w", err)
	}
	if rec == nil || rec.AppliedAt == nil {
		return 0, nil
	}
	remaining := m.coolOff() - m.now().Sub(*rec.AppliedAt)
	if remaining <= 0 {
		return 0, nil
	}
	return remaining, nil
}

// RequestOptimization reserves an in_progress record under the
// (user, portfolio) lock, then calls the provider outside it.
func (m *Manager) RequestOptimization(ctx context.Context, userID, portfolioID string) (*Result, error) {
	userID = strings.TrimSpace(userID)
	portfolioID = strings.TrimSpace(portfolioID)
	if userID == "" || portfolioID == "" {
		return nil, apperr.Validation("user id and portfolio id are required")
	}
	if m.Gate != nil && !m.Gate.IsEnabled(ctx, service.FeatureOptimizationRequests, true) {
		return nil, apperr.InvalidState("optimization requests are disabled")
	}

	record, portfolio, err := m.reserve(ctx, userID, portfolioID)
	if err != nil {
		return nil, err
	}
	if m.Logger != nil {
		m.Logger.Info("optimization requested",
			zap.String("optimization_id", record.ID),
			zap.String("portfolio_id", portfolioID),
			zap.Strings("symbols", portfolio.Symbols()),
		)
	}

	timeout := m.ProviderTimeout
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}
	// The record must reach a terminal state even if the caller goes away.
	base := context.WithoutCancel(ctx)
	pctx, cancel := context.WithTimeout(base, timeout)
	res, perr := m.Optimizer.Optimize(pctx, portfolioID, portfolio.Symbols())
	cancel()
	if perr != nil {
		return m.fail(base, record, perr)
	}
	return m.complete(base, record, portfolio, res)
}

func (m *Manager) reserve(ctx context.Context, userID, portfolioID string) (*models.OptimizationRecord, *models.Portfolio, error) {
	release, err := m.Locker.Lock(ctx, lock.OptimizationKey(userID, portfolioID))
	if err != nil {
		return nil, nil, fmt.Errorf("lock optimization: %w", err)
	}
	defer release()

	var record *models.OptimizationRecord
	var portfolio *models.Portfolio
	err = m.Repo.InTx(ctx, func(tx repository.Repository) error {
		ongoing, err := tx.FindInProgressOptimization(ctx, userID, portfolioID)
		if err != nil {
			return fmt.Errorf("find in-progress optimization: %w", err)
		}
		if ongoing != nil {
			return apperr.Conflict("optimization already in progress").WithMeta("optimization_id", ongoing.ID)
		}
		remaining, err := m.remainingCoolOff(ctx, tx, userID, portfolioID)
		if err != nil {
			return err
		}
		if remaining > 0 {
			return apperr.Conflict("portfolio is cooling off for %s", remaining.Round(time.Second)).
				WithMeta("remaining_cool_off_seconds", int64(math.Ceil(remaining.Seconds())))
		}
		p, err := tx.GetPortfolio(ctx, portfolioID)
		if err != nil {
			return fmt.Errorf("load portfolio: %w", err)
		}
		if p == nil || p.UserID != userID {
			return apperr.NotFound("portfolio %s not found", portfolioID)
		}
		if len(p.Symbols()) == 0 {
			return apperr.NotFound("portfolio %s has no symbols", portfolioID)
		}
		rec := &models.OptimizationRecord{
			UserID:      userID,
			PortfolioID: portfolioID,
			Timestamp:   m.now(),
			Status:      models.OptimizationInProgress,
			Model:       m.Model,
			Confidence:  decimal.Zero,
		}
		if err := tx.CreateOptimization(ctx, rec); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return apperr.Conflict("optimization already in progress")
			}
			return fmt.Errorf("create optimization: %w", err)
		}
		record, portfolio = rec, p
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return record, portfolio, nil
}

func (m *Manager) fail(ctx context.Context, record *models.OptimizationRecord, cause error) (*Result, error) {
	reason := cause.Error()
	if errors.Is(cause, context.DeadlineExceeded) {
		reason = "optimization provider timed out"
	}
	if m.Logger != nil {
		m.Logger.Warn("optimization provider failed",
			zap.String("optimization_id", record.ID),
			zap.Error(cause),
		)
	}
	record.Status = models.OptimizationFailed
	record.FailureReason = reason
	ok, err := m.Repo.CompleteOptimization(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("mark optimization failed: %w", err)
	}
	if !ok {
		return m.lostCompletion(ctx, record)
	}
	m.record(ctx, "optimization_failed", audit.LevelWarn, record)
	return &Result{Successful: false, Record: record, Error: reason}, nil
}

func (m *Manager) complete(ctx context.Context, record *models.OptimizationRecord, portfolio *models.Portfolio, res *provider.Result) (*Result, error) {
	recs := withCurrentPositions(res.Recommendations, portfolio.Holdings)
	if err := record.SetRecommendations(recs); err != nil {
		return m.fail(ctx, record, fmt.Errorf("encode recommendations: %w", err))
	}
	metrics := res.Metrics
	if metrics == nil {
		metrics = map[string]any{}
	}
	if res.Model != "" {
		metrics["provider_model"] = res.Model
	}
	raw, err := json.Marshal(metrics)
	if err != nil {
		return m.fail(ctx, record, fmt.Errorf("encode metrics: %w", err))
	}
	record.Metrics = datatypes.JSON(raw)
	record.Confidence = res.Confidence
	record.Explanation = res.Explanation
	record.Status = models.OptimizationCreated

	ok, err := m.Repo.CompleteOptimization(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("store optimization result: %w", err)
	}
	if !ok {
		return m.lostCompletion(ctx, record)
	}
	m.record(ctx, "optimization_created", audit.LevelInfo, record)
	return &Result{Successful: true, Record: record}, nil
}

// lostCompletion handles a record that left in_progress while the provider
// was running, through cancel or the stale sweep.
func (m *Manager) lostCompletion(ctx context.Context, record *models.OptimizationRecord) (*Result, error) {
	latest, err := m.Repo.GetOptimization(ctx, record.ID)
	if err != nil {
		return nil, fmt.Errorf("reload optimization: %w", err)
	}
	if latest == nil {
		latest = record
	}
	return &Result{
		Successful: false,
		Record:     latest,
		Error:      fmt.Sprintf("optimization was %s before the provider answered", latest.Status),
	}, nil
}

// withCurrentPositions fills current quantity and weights from holdings the
// provider did not report.
func withCurrentPositions(recs []models.Recommendation, holdings []models.Holding) []models.Recommendation {
	total := decimal.Zero
	bySymbol := make(map[string]models.Holding, len(holdings))
	for _, h := range holdings {
		bySymbol[models.NormalizeSymbol(h.Symbol)] = h
		total = total.Add(h.MarketValue)
	}
	out := make([]models.Recommendation, len(recs))
	for i, r := range recs {
		h, ok := bySymbol[models.NormalizeSymbol(r.Symbol)]
		if ok && r.CurrentQuantity.IsZero() {
			r.CurrentQuantity = h.Quantity
		}
		if ok && r.CurrentWeight.IsZero() && total.IsPositive() {
			r.CurrentWeight = h.MarketValue.Div(total).Round(6)
		}
		out[i] = r
	}
	return out
}

// Get returns the record only when it belongs to userID.
func (m *Manager) Get(ctx context.Context, userID, id string) (*models.OptimizationRecord, error) {
	rec, err := m.Repo.GetOptimization(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load optimization: %w", err)
	}
	if rec == nil || rec.UserID != strings.TrimSpace(userID) {
		return nil, apperr.NotFound("optimization %s not found", id)
	}
	return rec, nil
}

func (m *Manager) GetStatus(ctx context.Context, userID, id string) (models.OptimizationStatus, error) {
	rec, err := m.Get(ctx, userID, id)
	if err != nil {
		return "", err
	}
	return rec.Status, nil
}

func (m *Manager) GetHistory(ctx context.Context, userID, portfolioID string, f HistoryFilter) ([]models.OptimizationRecord, error) {
	uid := strings.TrimSpace(userID)
	pid := strings.TrimSpace(portfolioID)
	params := repository.ListOptimizationsParams{
		Limit:       f.Limit,
		Offset:      f.Offset,
		UserID:      &uid,
		PortfolioID: &pid,
		Since:       f.Since,
		Until:       f.Until,
	}
	if f.Status != "" {
		status := f.Status
		params.Status = &status
	}
	items, err := m.Repo.ListOptimizations(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("list optimizations: %w", err)
	}
	return items, nil
}

// stateError maps a record that cannot be applied or canceled to its error.
func stateError(rec *models.OptimizationRecord) error {
	switch {
	case rec.IsApplied || rec.Status == models.OptimizationApplied:
		return apperr.Conflict("optimization already applied").WithMeta("optimization_id", rec.ID)
	case rec.Status == models.OptimizationInProgress:
		return apperr.Conflict("optimization still in progress").WithMeta("optimization_id", rec.ID)
	case rec.Status == models.OptimizationCanceled, rec.Status == models.OptimizationFailed:
		return apperr.InvalidState("optimization is %s", rec.Status).WithMeta("status", string(rec.Status))
	}
	return nil
}

// ApplyRecommendation applies a created record exactly once. The applied
// flag is set in the same repository transaction as the holding changes, and
// a portfolio still cooling off from an earlier apply is rejected.
func (m *Manager) ApplyRecommendation(ctx context.Context, userID, id string) (*models.OptimizationRecord, error) {
	rec, err := m.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := stateError(rec); err != nil {
		return nil, err
	}
	recs, err := rec.RecommendationList()
	if err != nil {
		return nil, fmt.Errorf("decode recommendations: %w", err)
	}

	commit := func(ctx context.Context, tx repository.Repository, at time.Time) error {
		current, err := tx.GetOptimization(ctx, rec.ID)
		if err != nil {
			return fmt.Errorf("reload optimization: %w", err)
		}
		if current != nil {
			if serr := stateError(current); serr != nil {
				return serr
			}
		}
		remaining, err := m.remainingCoolOff(ctx, tx, rec.UserID, rec.PortfolioID)
		if err != nil {
			return err
		}
		if remaining > 0 {
			return apperr.Conflict("portfolio is cooling off for %s", remaining.Round(time.Second)).
				WithMeta("remaining_cool_off_seconds", int64(math.Ceil(remaining.Seconds())))
		}
		ok, err := tx.MarkOptimizationApplied(ctx, rec.ID, at)
		if err != nil {
			return fmt.Errorf("mark optimization applied: %w", err)
		}
		if !ok {
			latest, err := tx.GetOptimization(ctx, rec.ID)
			if err != nil {
				return fmt.Errorf("reload optimization: %w", err)
			}
			if latest != nil {
				if serr := stateError(latest); serr != nil {
					return serr
				}
			}
			return apperr.Conflict("optimization already applied").WithMeta("optimization_id", rec.ID)
		}
		return nil
	}
	release, err := m.Locker.Lock(ctx, lock.OptimizationKey(rec.UserID, rec.PortfolioID))
	if err != nil {
		return nil, fmt.Errorf("lock optimization: %w", err)
	}
	err = m.Engine.Apply(ctx, rec, recs, commit)
	release()
	if err != nil {
		return nil, err
	}

	applied, err := m.Repo.GetOptimization(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("reload optimization: %w", err)
	}
	if m.Logger != nil {
		m.Logger.Info("optimization applied",
			zap.String("optimization_id", rec.ID),
			zap.String("portfolio_id", rec.PortfolioID),
			zap.Int("recommendations", len(recs)),
			zap.String("mode", string(m.Engine.Mode)),
		)
	}
	m.record(ctx, "optimization_applied", audit.LevelInfo, applied)
	return applied, nil
}

// CancelOptimization cancels a record that has not been applied.
func (m *Manager) CancelOptimization(ctx context.Context, userID, id string) (*models.OptimizationRecord, error) {
	rec, err := m.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.OptimizationInProgress {
		if err := stateError(rec); err != nil {
			return nil, err
		}
	}
	ok, err := m.Repo.CancelOptimization(ctx, rec.ID, m.now())
	if err != nil {
		return nil, fmt.Errorf("cancel optimization: %w", err)
	}
	latest, err := m.Repo.GetOptimization(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("reload optimization: %w", err)
	}
	if latest == nil {
		return nil, apperr.NotFound("optimization %s not found", id)
	}
	if !ok {
		if err := stateError(latest); err != nil {
			return nil, err
		}
		return nil, apperr.InvalidState("optimization is %s", latest.Status)
	}
	m.record(ctx, "optimization_canceled", audit.LevelInfo, latest)
	return latest, nil
}

// ExpireStale fails in_progress records older than StaleAfter and returns how
// many it moved.
func (m *Manager) ExpireStale(ctx context.Context) (int, error) {
	if m.StaleAfter <= 0 {
		return 0, nil
	}
	cutoff := m.now().Add(-m.StaleAfter)
	items, err := m.Repo.ListStaleInProgressOptimizations(ctx, cutoff, 100)
	if err != nil {
		return 0, fmt.Errorf("list stale optimizations: %w", err)
	}
	expired := 0
	for i := range items {
		rec := items[i]
		rec.Status = models.OptimizationFailed
		rec.FailureReason = fmt.Sprintf("no provider answer within %s", m.StaleAfter)
		ok, err := m.Repo.CompleteOptimization(ctx, &rec)
		if err != nil {
			if m.Logger != nil {
				m.Logger.Warn("expire optimization failed", zap.String("optimization_id", rec.ID), zap.Error(err))
			}
			continue
		}
		if ok {
			expired++
			m.record(ctx, "optimization_expired", audit.LevelWarn, &rec)
		}
	}
	if m.Logger != nil && expired > 0 {
		m.Logger.Info("stale optimizations expired", zap.Int("count", expired))
	}
	return expired, nil
}

func (m *Manager) record(ctx context.Context, action, level string, rec *models.OptimizationRecord) {
	if m.Audit == nil || rec == nil {
		return
	}
	m.Audit.Record(ctx, action, level, map[string]any{
		"optimization_id": rec.ID,
		"user_id":         rec.UserID,
		"portfolio_id":    rec.PortfolioID,
		"status":          string(rec.Status),
		"reason":          rec.FailureReason,
	})
}

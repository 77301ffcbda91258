package optimization

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"investcore/internal/apperr"
	"investcore/internal/ledger"
	"investcore/internal/lock"
	"investcore/internal/market"
	"investcore/internal/models"
	"investcore/internal/provider"
	"investcore/internal/repository"
	"investcore/internal/repository/memory"
	"investcore/internal/settlement"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

type fixture struct {
	repo      *memory.Store
	optimizer *provider.Static
	mgr       *Manager
	portfolio *models.Portfolio
	now       time.Time
}

func targetResult(pairs ...string) *provider.Result {
	res := &provider.Result{Confidence: d("0.8"), Explanation: "rebalance", Metrics: map[string]any{"sharpe": 1.2}}
	for i := 0; i+1 < len(pairs); i += 2 {
		res.Recommendations = append(res.Recommendations, models.Recommendation{Symbol: pairs[i], TargetQuantity: d(pairs[i+1])})
	}
	return res
}

func newFixture(t *testing.T, mode ApplyMode) *fixture {
	t.Helper()
	ctx := context.Background()
	repo := memory.New()
	locker := lock.NewLocal()
	l := &ledger.Ledger{Repo: repo, Locker: locker, Logger: zap.NewNop()}
	oracle := market.NewStatic(true, map[string]decimal.Decimal{"AAPL": d("160"), "MSFT": d("400")})

	p := &models.Portfolio{UserID: "u1", Name: "core"}
	require.NoError(t, repo.CreatePortfolio(ctx, p))
	_, err := l.ApplyBuy(ctx, p.ID, "AAPL", d("10"), d("140"), d("140"))
	require.NoError(t, err)

	f := &fixture{
		repo:      repo,
		optimizer: provider.NewStatic(targetResult("AAPL", "15"), nil),
		portfolio: p,
		now:       time.Now().UTC(),
	}
	l.Now = func() time.Time { return f.now }
	settle := &settlement.Service{Repo: repo, Ledger: l, Oracle: oracle, Logger: zap.NewNop()}
	f.mgr = &Manager{
		Repo:      repo,
		Locker:    locker,
		Optimizer: f.optimizer,
		Engine:    &Engine{Repo: repo, Ledger: l, Settlement: settle, Mode: mode, Logger: zap.NewNop(), Now: func() time.Time { return f.now }},
		Logger:    zap.NewNop(),
		Now:       func() time.Time { return f.now },
		CoolOff:   24 * time.Hour,
		Model:     "apollo",
	}
	return f
}

func (f *fixture) holding(t *testing.T, symbol string) *models.Holding {
	t.Helper()
	h, err := f.repo.GetHoldingForUpdate(context.Background(), f.portfolio.ID, symbol)
	require.NoError(t, err)
	return h
}

func (f *fixture) seed(t *testing.T, status models.OptimizationStatus, recs ...models.Recommendation) *models.OptimizationRecord {
	t.Helper()
	rec := &models.OptimizationRecord{
		UserID:      "u1",
		PortfolioID: f.portfolio.ID,
		Timestamp:   f.now,
		Status:      status,
	}
	if status == models.OptimizationApplied {
		at := f.now
		rec.IsApplied = true
		rec.AppliedAt = &at
	}
	require.NoError(t, rec.SetRecommendations(recs))
	require.NoError(t, f.repo.CreateOptimization(context.Background(), rec))
	return rec
}

func countRecords(t *testing.T, repo repository.Repository) int {
	t.Helper()
	items, err := repo.ListOptimizations(context.Background(), repository.ListOptimizationsParams{Limit: 500})
	require.NoError(t, err)
	return len(items)
}

func TestEndToEnd_RequestThenApply(t *testing.T) {
	f := newFixture(t, ApplyDirect)
	ctx := context.Background()

	res, err := f.mgr.RequestOptimization(ctx, "u1", f.portfolio.ID)
	require.NoError(t, err)
	require.True(t, res.Successful, res.Error)
	assert.Equal(t, models.OptimizationCreated, res.Record.Status)
	assert.Equal(t, "apollo", res.Record.Model)

	recs, err := res.Record.RecommendationList()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].CurrentQuantity.Equal(d("10")), "current=%s", recs[0].CurrentQuantity)
	assert.True(t, recs[0].CurrentWeight.Equal(d("1")), "weight=%s", recs[0].CurrentWeight)

	status, err := f.mgr.GetStatus(ctx, "u1", res.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OptimizationCreated, status)

	applied, err := f.mgr.ApplyRecommendation(ctx, "u1", res.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OptimizationApplied, applied.Status)
	assert.True(t, applied.IsApplied)
	require.NotNil(t, applied.AppliedAt)

	h := f.holding(t, "AAPL")
	require.NotNil(t, h)
	assert.True(t, h.Quantity.Equal(d("15")), "quantity=%s", h.Quantity)
	assert.True(t, h.CostBasis.Equal(d("1400")), "cost=%s", h.CostBasis)
	assert.True(t, h.MarketValue.Equal(d("2100")), "mv=%s", h.MarketValue)

	remaining, err := f.mgr.RemainingCoolOff(ctx, "u1", f.portfolio.ID)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, remaining)
}

func TestRequestOptimization_SingleFlight(t *testing.T) {
	f := newFixture(t, ApplyDirect)
	f.optimizer.SetDelay(200 * time.Millisecond)
	ctx := context.Background()

	var wg sync.WaitGroup
	start := make(chan struct{})
	results := make([]*Result, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = f.mgr.RequestOptimization(ctx, "u1", f.portfolio.ID)
		}(i)
	}
	close(start)
	wg.Wait()

	succeeded, conflicts := 0, 0
	for i := range errs {
		switch {
		case errs[i] == nil && results[i].Successful:
			succeeded++
		case apperr.Is(errs[i], apperr.KindConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, 1, countRecords(t, f.repo))
	assert.Equal(t, 1, f.optimizer.Calls())
}

func TestRequestOptimization_ConflictWhileInProgress(t *testing.T) {
	f := newFixture(t, ApplyDirect)
	ongoing := f.seed(t, models.OptimizationInProgress)

	ok, err := f.mgr.HasOngoingOptimization(context.Background(), "u1", f.portfolio.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.mgr.RequestOptimization(context.Background(), "u1", f.portfolio.ID)
	require.True(t, apperr.Is(err, apperr.KindConflict), "err=%v", err)
	assert.Equal(t, ongoing.ID, apperr.MetaOf(err)["optimization_id"])
}

func TestRemainingCoolOff(t *testing.T) {
	f := newFixture(t, ApplyDirect)
	ctx := context.Background()

	at := f.now.Add(-time.Hour)
	require.NoError(t, f.repo.CreateOptimization(ctx, &models.OptimizationRecord{
		UserID:      "u1",
		PortfolioID: f.portfolio.ID,
		Timestamp:   at.Add(-time.Minute),
		Status:      models.OptimizationApplied,
		IsApplied:   true,
		AppliedAt:   &at,
	}))

	remaining, err := f.mgr.RemainingCoolOff(ctx, "u1", f.portfolio.ID)
	require.NoError(t, err)
	assert.Equal(t, 23*time.Hour, remaining)

	_, err = f.mgr.RequestOptimization(ctx, "u1", f.portfolio.ID)
	require.True(t, apperr.Is(err, apperr.KindConflict), "err=%v", err)
	assert.EqualValues(t, int64(23*3600), apperr.MetaOf(err)["remaining_cool_off_seconds"])

	f.now = f.now.Add(24 * time.Hour)
	remaining, err = f.mgr.RemainingCoolOff(ctx, "u1", f.portfolio.ID)
	require.NoError(t, err)
	assert.Zero(t, remaining)

	res, err := f.mgr.RequestOptimization(ctx, "u1", f.portfolio.ID)
	require.NoError(t, err)
	assert.True(t, res.Successful)
}

func TestRequestOptimization_NotFound(t *testing.T) {
	f := newFixture(t, ApplyDirect)
	ctx := context.Background()

	_, err := f.mgr.RequestOptimization(ctx, "u1", "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "err=%v", err)

	_, err = f.mgr.RequestOptimization(ctx, "u2", f.portfolio.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "err=%v", err)

	empty := &models.Portfolio{UserID: "u1", Name: "empty"}
	require.NoError(t, f.repo.CreatePortfolio(ctx, empty))
	_, err = f.mgr.RequestOptimization(ctx, "u1", empty.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "err=%v", err)

	assert.Zero(t, countRecords(t, f.repo))
	assert.Zero(t, f.optimizer.Calls())
}

func TestRequestOptimization_ProviderFailure(t *testing.T) {
	f := newFixture(t, ApplyDirect)
	f.mgr.Optimizer = provider.NewStatic(nil, errors.New("model offline"))

	res, err := f.mgr.RequestOptimization(context.Background(), "u1", f.portfolio.ID)
	require.NoError(t, err)
	assert.False(t, res.Successful)
	assert.Equal(t, "model offline", res.Error)
	assert.Equal(t, models.OptimizationFailed, res.Record.Status)

	stored, err := f.repo.GetOptimization(context.Background(), res.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OptimizationFailed, stored.Status)
	assert.Equal(t, "model offline", stored.FailureReason)

	ongoing, err := f.mgr.HasOngoingOptimization(context.Background(), "u1", f.portfolio.ID)
	require.NoError(t, err)
	assert.False(t, ongoing)
}

func TestRequestOptimization_ProviderTimeout(t *testing.T) {
	f := newFixture(t, ApplyDirect)
	f.optimizer.SetDelay(time.Second)
	f.mgr.ProviderTimeout = 20 * time.Millisecond

	res, err := f.mgr.RequestOptimization(context.Background(), "u1", f.portfolio.ID)
	require.NoError(t, err)
	assert.False(t, res.Successful)
	assert.Equal(t, models.OptimizationFailed, res.Record.Status)
	assert.Contains(t, res.Error, "timed out")
}

func TestRequestOptimization_Disabled(t *testing.T) {
	f := newFixture(t, ApplyDirect)
	f.mgr.Gate = gateFunc(func(string) bool { return false })

	_, err := f.mgr.RequestOptimization(context.Background(), "u1", f.portfolio.ID)
	assert.True(t, apperr.Is(err, apperr.KindInvalidState), "err=%v", err)
}

type gateFunc func(key string) bool

func (g gateFunc) IsEnabled(ctx context.Context, key string, fallback bool) bool { return g(key) }

func TestApplyRecommendation_Once(t *testing.T) {
	f := newFixture(t, ApplyDirect)
	ctx := context.Background()
	rec := f.seed(t, models.OptimizationCreated, models.Recommendation{Symbol: "AAPL", TargetQuantity: d("15")})

	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = f.mgr.ApplyRecommendation(ctx, "u1", rec.ID)
		}(i)
	}
	close(start)
	wg.Wait()

	applied, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			applied++
		case apperr.Is(err, apperr.KindConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, conflicts)
	assert.True(t, f.holding(t, "AAPL").Quantity.Equal(d("15")))
}

func TestApplyRecommendation_CoolOffBlocksSecondApply(t *testing.T) {
	f := newFixture(t, ApplyDirect)
	ctx := context.Background()

	first, err := f.mgr.RequestOptimization(ctx, "u1", f.portfolio.ID)
	require.NoError(t, err)
	f.optimizer.Set(targetResult("AAPL", "20"), nil)
	second, err := f.mgr.RequestOptimization(ctx, "u1", f.portfolio.ID)
	require.NoError(t, err)

	_, err = f.mgr.ApplyRecommendation(ctx, "u1", first.Record.ID)
	require.NoError(t, err)

	_, err = f.mgr.ApplyRecommendation(ctx, "u1", second.Record.ID)
	require.True(t, apperr.Is(err, apperr.KindConflict), "err=%v", err)
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.EqualValues(t, 24*3600, ae.Meta["remaining_cool_off_seconds"])

	stored, err := f.repo.GetOptimization(ctx, second.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OptimizationCreated, stored.Status)
	assert.True(t, f.holding(t, "AAPL").Quantity.Equal(d("15")))

	f.now = f.now.Add(24 * time.Hour)
	_, err = f.mgr.ApplyRecommendation(ctx, "u1", second.Record.ID)
	require.NoError(t, err)
	assert.True(t, f.holding(t, "AAPL").Quantity.Equal(d("20")))
}

func TestApplyRecommendation_States(t *testing.T) {
	f := newFixture(t, ApplyDirect)
	ctx := context.Background()

	cases := []struct {
		status models.OptimizationStatus
		kind   apperr.Kind
	}{
		{models.OptimizationInProgress, apperr.KindConflict},
		{models.OptimizationApplied, apperr.KindConflict},
		{models.OptimizationCanceled, apperr.KindInvalidState},
		{models.OptimizationFailed, apperr.KindInvalidState},
	}
	for _, tc := range cases {
		rec := f.seed(t, tc.status)
		_, err := f.mgr.ApplyRecommendation(ctx, "u1", rec.ID)
		assert.True(t, apperr.Is(err, tc.kind), "status=%s err=%v", tc.status, err)
	}

	_, err := f.mgr.ApplyRecommendation(ctx, "u2", f.seed(t, models.OptimizationCreated).ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "err=%v", err)
}

func TestApplyRecommendation_RollsBackOnNegativeTarget(t *testing.T) {
	f := newFixture(t, ApplyDirect)
	ctx := context.Background()
	rec := f.seed(t, models.OptimizationCreated,
		models.Recommendation{Symbol: "AAPL", TargetQuantity: d("20")},
		models.Recommendation{Symbol: "MSFT", TargetQuantity: d("-1")},
	)

	_, err := f.mgr.ApplyRecommendation(ctx, "u1", rec.ID)
	assert.True(t, apperr.Is(err, apperr.KindValidation), "err=%v", err)

	stored, err := f.repo.GetOptimization(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OptimizationCreated, stored.Status)
	assert.False(t, stored.IsApplied)
	assert.True(t, f.holding(t, "AAPL").Quantity.Equal(d("10")))
}

func TestApplyRecommendation_ZeroTargetOnUnheldSymbol(t *testing.T) {
	f := newFixture(t, ApplyDirect)
	ctx := context.Background()
	rec := f.seed(t, models.OptimizationCreated,
		models.Recommendation{Symbol: "AAPL", TargetQuantity: d("0")},
		models.Recommendation{Symbol: "MSFT", TargetQuantity: d("0")},
		models.Recommendation{Symbol: "NVDA", TargetQuantity: d("3")},
	)

	_, err := f.mgr.ApplyRecommendation(ctx, "u1", rec.ID)
	require.NoError(t, err)
	assert.Nil(t, f.holding(t, "AAPL"))
	assert.Nil(t, f.holding(t, "MSFT"))

	h := f.holding(t, "NVDA")
	require.NotNil(t, h)
	assert.True(t, h.Quantity.Equal(d("3")))
	assert.True(t, h.CostBasis.IsZero())
	assert.True(t, h.MarketValue.IsZero())
}

func TestApplyRecommendation_TradesMode(t *testing.T) {
	f := newFixture(t, ApplyTrades)
	ctx := context.Background()
	rec := f.seed(t, models.OptimizationCreated,
		models.Recommendation{Symbol: "AAPL", TargetQuantity: d("15")},
		models.Recommendation{Symbol: "MSFT", TargetQuantity: d("0")},
	)

	applied, err := f.mgr.ApplyRecommendation(ctx, "u1", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OptimizationApplied, applied.Status)

	h := f.holding(t, "AAPL")
	require.NotNil(t, h)
	assert.True(t, h.Quantity.Equal(d("15")))
	assert.True(t, h.CostBasis.Equal(d("2200")), "cost=%s", h.CostBasis)

	txs, err := f.repo.ListTransactions(ctx, repository.ListTransactionsParams{})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, models.TriggeredByAI, txs[0].TriggeredBy)
	assert.Equal(t, models.TransactionSucceeded, txs[0].Status)
	require.NotNil(t, txs[0].OptimizationID)
	assert.Equal(t, rec.ID, *txs[0].OptimizationID)
}

func TestCancelOptimization(t *testing.T) {
	f := newFixture(t, ApplyDirect)
	ctx := context.Background()

	created := f.seed(t, models.OptimizationCreated)
	_, err := f.mgr.CancelOptimization(ctx, "u2", created.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "err=%v", err)

	canceled, err := f.mgr.CancelOptimization(ctx, "u1", created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OptimizationCanceled, canceled.Status)

	_, err = f.mgr.CancelOptimization(ctx, "u1", created.ID)
	assert.True(t, apperr.Is(err, apperr.KindInvalidState), "err=%v", err)

	applied := f.seed(t, models.OptimizationApplied)
	_, err = f.mgr.CancelOptimization(ctx, "u1", applied.ID)
	assert.True(t, apperr.Is(err, apperr.KindConflict), "err=%v", err)

	inProgress := f.seed(t, models.OptimizationInProgress)
	canceled, err = f.mgr.CancelOptimization(ctx, "u1", inProgress.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OptimizationCanceled, canceled.Status)
}

func TestExpireStale(t *testing.T) {
	f := newFixture(t, ApplyDirect)
	ctx := context.Background()
	f.mgr.StaleAfter = 15 * time.Minute

	stale := f.seed(t, models.OptimizationInProgress)
	f.now = f.now.Add(20 * time.Minute)

	n, err := f.mgr.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := f.repo.GetOptimization(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OptimizationFailed, stored.Status)
	assert.NotEmpty(t, stored.FailureReason)

	n, err = f.mgr.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGetHistory(t *testing.T) {
	f := newFixture(t, ApplyDirect)
	ctx := context.Background()
	f.seed(t, models.OptimizationFailed)
	f.seed(t, models.OptimizationCanceled)

	items, err := f.mgr.GetHistory(ctx, "u1", f.portfolio.ID, HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, items, 2)

	items, err = f.mgr.GetHistory(ctx, "u1", f.portfolio.ID, HistoryFilter{Status: models.OptimizationFailed})
	require.NoError(t, err)
	assert.Len(t, items, 1)

	items, err = f.mgr.GetHistory(ctx, "u2", f.portfolio.ID, HistoryFilter{})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestParseApplyMode(t *testing.T) {
	m, err := ParseApplyMode("")
	require.NoError(t, err)
	assert.Equal(t, ApplyDirect, m)
	m, err = ParseApplyMode("TRADES")
	require.NoError(t, err)
	assert.Equal(t, ApplyTrades, m)
	_, err = ParseApplyMode("yolo")
	assert.Error(t, err)
}

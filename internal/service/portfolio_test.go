package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"investcore/internal/apperr"
	"investcore/internal/ledger"
	"investcore/internal/lock"
	"investcore/internal/market"
	"investcore/internal/models"
	"investcore/internal/repository/memory"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newPortfolioService(t *testing.T) (*PortfolioService, *memory.Store, *market.Static) {
	t.Helper()
	repo := memory.New()
	oracle := market.NewStatic(true, map[string]decimal.Decimal{"AAPL": dec("160")})
	l := &ledger.Ledger{Repo: repo, Locker: lock.NewLocal(), Logger: zap.NewNop()}
	now := time.Date(2026, 3, 2, 15, 42, 0, 0, time.UTC)
	svc := &PortfolioService{
		Repo:   repo,
		Ledger: l,
		Oracle: oracle,
		Flags:  &SystemSettingsService{Repo: repo},
		Logger: zap.NewNop(),
		Now:    func() time.Time { return now },
	}
	return svc, repo, oracle
}

func TestPortfolioService_CreateAndGet(t *testing.T) {
	svc, _, _ := newPortfolioService(t)
	ctx := context.Background()

	if _, err := svc.CreatePortfolio(ctx, "u1", "  "); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("blank name err=%v", err)
	}
	p, err := svc.CreatePortfolio(ctx, "u1", "core")
	if err != nil {
		t.Fatalf("CreatePortfolio: %v", err)
	}
	if p.ID == "" {
		t.Fatalf("expected generated id")
	}
	got, err := svc.Get(ctx, "u1", p.ID)
	if err != nil || got.Name != "core" {
		t.Fatalf("Get=%v err=%v", got, err)
	}
	if _, err := svc.Get(ctx, "u2", p.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("foreign owner err=%v want not_found", err)
	}
	holdings, err := svc.Holdings(ctx, "u1", p.ID)
	if err != nil || len(holdings) != 0 {
		t.Fatalf("holdings=%v err=%v", holdings, err)
	}
	list, err := svc.List(ctx, "u1", 0, 0)
	if err != nil || len(list) != 1 {
		t.Fatalf("list=%d err=%v", len(list), err)
	}
}

func TestPortfolioService_RefreshPrices(t *testing.T) {
	svc, repo, _ := newPortfolioService(t)
	ctx := context.Background()
	p, _ := svc.CreatePortfolio(ctx, "u1", "core")
	if _, err := svc.Ledger.ApplyBuy(ctx, p.ID, "AAPL", dec("10"), dec("140"), dec("140")); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := svc.Ledger.ApplyBuy(ctx, p.ID, "TSLA", dec("2"), dec("200"), dec("200")); err != nil {
		t.Fatalf("buy: %v", err)
	}

	n, err := svc.RefreshPrices(ctx)
	if err != nil {
		t.Fatalf("RefreshPrices: %v", err)
	}
	if n != 1 {
		t.Fatalf("updated=%d want=1", n)
	}
	h, _ := repo.GetHoldingForUpdate(ctx, p.ID, "AAPL")
	if !h.MarketValue.Equal(dec("1600")) || !h.CostBasis.Equal(dec("1400")) {
		t.Fatalf("aapl mv=%s cost=%s", h.MarketValue, h.CostBasis)
	}
	tsla, _ := repo.GetHoldingForUpdate(ctx, p.ID, "TSLA")
	if !tsla.MarketValue.Equal(dec("400")) {
		t.Fatalf("tsla without price should keep its mark, mv=%s", tsla.MarketValue)
	}
}

func TestPortfolioService_RefreshPricesDisabled(t *testing.T) {
	svc, _, _ := newPortfolioService(t)
	ctx := context.Background()
	p, _ := svc.CreatePortfolio(ctx, "u1", "core")
	if _, err := svc.Ledger.ApplyBuy(ctx, p.ID, "AAPL", dec("1"), dec("100"), dec("100")); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := svc.Flags.SetEnabled(ctx, FeaturePriceRefresh, false, "test"); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	n, err := svc.RefreshPrices(ctx)
	if err != nil || n != 0 {
		t.Fatalf("n=%d err=%v", n, err)
	}
}

func TestPortfolioService_SnapshotAndHistory(t *testing.T) {
	svc, _, _ := newPortfolioService(t)
	ctx := context.Background()
	p, _ := svc.CreatePortfolio(ctx, "u1", "core")
	if _, err := svc.Ledger.ApplyBuy(ctx, p.ID, "AAPL", dec("10"), dec("140"), dec("160")); err != nil {
		t.Fatalf("buy: %v", err)
	}

	for i := 0; i < 2; i++ {
		n, err := svc.SnapshotPortfolios(ctx)
		if err != nil || n != 1 {
			t.Fatalf("run %d: n=%d err=%v", i, n, err)
		}
	}
	items, err := svc.History(ctx, "u1", p.ID, nil, nil, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("snapshots=%d want=1 (same hour overwrites)", len(items))
	}
	s := items[0]
	if !s.SnapshotAt.Equal(time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)) {
		t.Fatalf("snapshot_at=%s", s.SnapshotAt)
	}
	if s.TotalHoldings != 1 || !s.TotalMarketVal.Equal(dec("1600")) || !s.UnrealizedPnL.Equal(dec("200")) {
		t.Fatalf("snapshot=%+v", s)
	}
	if !s.ChangePercent.Equal(dec("14.2857")) {
		t.Fatalf("change=%s want=14.2857", s.ChangePercent)
	}
	if _, err := svc.History(ctx, "u2", p.ID, nil, nil, 0); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("foreign history err=%v", err)
	}
}

func TestSummarize_Empty(t *testing.T) {
	s := summarize("p1", []models.Holding{})
	if s.TotalHoldings != 0 || !s.ChangePercent.IsZero() {
		t.Fatalf("summary=%+v", s)
	}
}

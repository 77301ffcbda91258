package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"investcore/internal/apperr"
	"investcore/internal/ledger"
	"investcore/internal/market"
	"investcore/internal/models"
	"investcore/internal/repository"
)

const portfolioPageSize = 100

// PortfolioService owns portfolio creation, holdings reads and the periodic
// price refresh and snapshot jobs.
type PortfolioService struct {
	Repo   repository.Repository
	Ledger *ledger.Ledger
	Oracle market.Oracle
	Flags  *SystemSettingsService
	Logger *zap.Logger
	Now    func() time.Time
}

func (s *PortfolioService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *PortfolioService) CreatePortfolio(ctx context.Context, userID, name string) (*models.Portfolio, error) {
	userID = strings.TrimSpace(userID)
	name = strings.TrimSpace(name)
	if userID == "" {
		return nil, apperr.Validation("user_id is required")
	}
	if name == "" {
		return nil, apperr.Validation("name is required")
	}
	if len(name) > 200 {
		return nil, apperr.Validation("name is too long")
	}
	item := &models.Portfolio{UserID: userID, Name: name}
	if err := s.Repo.CreatePortfolio(ctx, item); err != nil {
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.Info("portfolio created",
			zap.String("portfolio_id", item.ID),
			zap.String("user_id", userID),
		)
	}
	return item, nil
}

// Get loads the portfolio with its holdings. A portfolio owned by someone else
// is reported as not found.
func (s *PortfolioService) Get(ctx context.Context, userID, id string) (*models.Portfolio, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperr.Validation("portfolio_id is required")
	}
	p, err := s.Repo.GetPortfolio(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil || p.UserID != strings.TrimSpace(userID) {
		return nil, apperr.NotFound("portfolio %s not found", id)
	}
	return p, nil
}

func (s *PortfolioService) List(ctx context.Context, userID string, limit, offset int) ([]models.Portfolio, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperr.Validation("user_id is required")
	}
	return s.Repo.ListPortfolios(ctx, repository.ListPortfoliosParams{UserID: &userID, Limit: limit, Offset: offset})
}

func (s *PortfolioService) Holdings(ctx context.Context, userID, id string) ([]models.Holding, error) {
	p, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if p.Holdings == nil {
		return []models.Holding{}, nil
	}
	return p.Holdings, nil
}

func (s *PortfolioService) History(ctx context.Context, userID, id string, since, until *time.Time, limit int) ([]models.PortfolioSnapshot, error) {
	p, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return s.Repo.ListPortfolioSnapshots(ctx, repository.ListPortfolioSnapshotsParams{
		PortfolioID: p.ID,
		Since:       since,
		Until:       until,
		Limit:       limit,
	})
}

// RefreshPrices marks every holding to the oracle's current price. Symbols
// without a price are skipped; the holding keeps its last mark.
func (s *PortfolioService) RefreshPrices(ctx context.Context) (int, error) {
	if s == nil || s.Repo == nil || s.Ledger == nil || s.Oracle == nil {
		return 0, nil
	}
	if s.Flags != nil && !s.Flags.IsEnabled(ctx, FeaturePriceRefresh, true) {
		return 0, nil
	}
	symbols, err := s.Repo.ListHeldSymbols(ctx)
	if err != nil {
		return 0, err
	}
	if len(symbols) == 0 {
		return 0, nil
	}
	prices := make(map[string]decimal.Decimal, len(symbols))
	for _, sym := range symbols {
		price, err := s.Oracle.CurrentPrice(ctx, sym)
		if err != nil {
			if s.Logger != nil {
				s.Logger.Warn("price refresh skipped symbol", zap.String("symbol", sym), zap.Error(err))
			}
			continue
		}
		prices[sym] = price
	}
	if len(prices) == 0 {
		return 0, nil
	}

	updated := 0
	err = s.eachPortfolio(ctx, func(p models.Portfolio) error {
		holdings, err := s.Repo.ListHoldings(ctx, p.ID)
		if err != nil {
			return err
		}
		for _, h := range holdings {
			price, ok := prices[h.Symbol]
			if !ok {
				continue
			}
			out, err := s.Ledger.Revalue(ctx, p.ID, h.Symbol, price)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				if s.Logger != nil {
					s.Logger.Warn("revalue holding failed",
						zap.String("portfolio_id", p.ID),
						zap.String("symbol", h.Symbol),
						zap.Error(err),
					)
				}
				continue
			}
			if out != nil {
				updated++
			}
		}
		return nil
	})
	return updated, err
}

// SnapshotPortfolios writes one hour-truncated snapshot per portfolio. A rerun
// within the same hour overwrites that hour's row.
func (s *PortfolioService) SnapshotPortfolios(ctx context.Context) (int, error) {
	if s == nil || s.Repo == nil {
		return 0, nil
	}
	if s.Flags != nil && !s.Flags.IsEnabled(ctx, FeaturePortfolioSnapshot, true) {
		return 0, nil
	}
	at := s.now().Truncate(time.Hour)
	written := 0
	err := s.eachPortfolio(ctx, func(p models.Portfolio) error {
		holdings, err := s.Repo.ListHoldings(ctx, p.ID)
		if err != nil {
			return err
		}
		item := summarize(p.ID, holdings)
		item.SnapshotAt = at
		if err := s.Repo.InsertPortfolioSnapshot(ctx, item); err != nil {
			return err
		}
		written++
		return nil
	})
	if err == nil && s.Logger != nil && written > 0 {
		s.Logger.Info("portfolio snapshots written", zap.Int("count", written), zap.Time("snapshot_at", at))
	}
	return written, err
}

func (s *PortfolioService) eachPortfolio(ctx context.Context, fn func(p models.Portfolio) error) error {
	for offset := 0; ; offset += portfolioPageSize {
		items, err := s.Repo.ListPortfolios(ctx, repository.ListPortfoliosParams{Limit: portfolioPageSize, Offset: offset})
		if err != nil {
			return err
		}
		for _, p := range items {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(p); err != nil {
				return err
			}
		}
		if len(items) < portfolioPageSize {
			return nil
		}
	}
}

func summarize(portfolioID string, holdings []models.Holding) *models.PortfolioSnapshot {
	cost := decimal.Zero
	mv := decimal.Zero
	for _, h := range holdings {
		cost = cost.Add(h.CostBasis)
		mv = mv.Add(h.MarketValue)
	}
	return &models.PortfolioSnapshot{
		PortfolioID:    portfolioID,
		TotalHoldings:  len(holdings),
		TotalCostBasis: cost,
		TotalMarketVal: mv,
		UnrealizedPnL:  mv.Sub(cost),
		ChangePercent:  ledger.ChangePercent(mv, cost),
	}
}

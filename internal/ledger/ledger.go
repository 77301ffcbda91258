// Package ledger owns every mutation of a Holding. Operations run under a
// per-(portfolio, symbol) lock and inside one repository transaction.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"investcore/internal/apperr"
	"investcore/internal/lock"
	"investcore/internal/models"
	"investcore/internal/repository"
)

type Ledger struct {
	Repo   repository.Repository
	Locker lock.Locker
	Logger *zap.Logger
	Now    func() time.Time
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

// Batch locks every (portfolioID, symbol) pair, opens one repository
// transaction and hands fn a Batch limited to those symbols. Any error from
// fn rolls back every mutation made through the Batch.
func (l *Ledger) Batch(ctx context.Context, portfolioID string, symbols []string, fn func(b *Batch) error) error {
	if l == nil || l.Repo == nil || l.Locker == nil {
		return fmt.Errorf("ledger not configured")
	}
	keys := make([]string, 0, len(symbols))
	allowed := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		sym = models.NormalizeSymbol(sym)
		if sym == "" {
			return apperr.Validation("symbol is required")
		}
		allowed[sym] = struct{}{}
		keys = append(keys, lock.HoldingKey(portfolioID, sym))
	}
	release, err := lock.LockAll(ctx, l.Locker, keys)
	if err != nil {
		return fmt.Errorf("lock holdings: %w", err)
	}
	defer release()

	return l.Repo.InTx(ctx, func(tx repository.Repository) error {
		return fn(&Batch{
			repo:        tx,
			portfolioID: portfolioID,
			allowed:     allowed,
			now:         l.now(),
			logger:      l.Logger,
		})
	})
}

func (l *Ledger) ApplyBuy(ctx context.Context, portfolioID, symbol string, qty, pricePerShare, currentPrice decimal.Decimal) (*models.Holding, error) {
	var out *models.Holding
	err := l.Batch(ctx, portfolioID, []string{symbol}, func(b *Batch) error {
		h, err := b.ApplyBuy(ctx, symbol, qty, pricePerShare, currentPrice)
		out = h
		return err
	})
	return out, err
}

func (l *Ledger) ApplySell(ctx context.Context, portfolioID, symbol string, qty, currentPrice decimal.Decimal) (*models.Holding, error) {
	var out *models.Holding
	err := l.Batch(ctx, portfolioID, []string{symbol}, func(b *Batch) error {
		h, err := b.ApplySell(ctx, symbol, qty, currentPrice)
		out = h
		return err
	})
	return out, err
}

func (l *Ledger) SetTargetQuantity(ctx context.Context, portfolioID, symbol string, target decimal.Decimal) (*models.Holding, error) {
	var out *models.Holding
	err := l.Batch(ctx, portfolioID, []string{symbol}, func(b *Batch) error {
		h, err := b.SetTargetQuantity(ctx, symbol, target)
		out = h
		return err
	})
	return out, err
}

func (l *Ledger) Revalue(ctx context.Context, portfolioID, symbol string, price decimal.Decimal) (*models.Holding, error) {
	var out *models.Holding
	err := l.Batch(ctx, portfolioID, []string{symbol}, func(b *Batch) error {
		h, err := b.Revalue(ctx, symbol, price)
		out = h
		return err
	})
	return out, err
}

// Batch is the transaction-scoped view handed out by Ledger.Batch. Methods
// return a nil Holding when the position was removed.
type Batch struct {
	repo        repository.Repository
	portfolioID string
	allowed     map[string]struct{}
	now         time.Time
	logger      *zap.Logger
}

// Repo is the repository bound to the batch transaction, for callers that
// must persist other rows atomically with the holdings.
func (b *Batch) Repo() repository.Repository {
	return b.repo
}

func (b *Batch) Now() time.Time {
	return b.now
}

func (b *Batch) load(ctx context.Context, symbol string) (string, *models.Holding, error) {
	sym := models.NormalizeSymbol(symbol)
	if _, ok := b.allowed[sym]; !ok {
		return sym, nil, fmt.Errorf("symbol %s not locked in this batch", sym)
	}
	h, err := b.repo.GetHoldingForUpdate(ctx, b.portfolioID, sym)
	if err != nil {
		return sym, nil, fmt.Errorf("load holding %s: %w", sym, err)
	}
	return sym, h, nil
}

func (b *Batch) save(ctx context.Context, h *models.Holding) (*models.Holding, error) {
	h.LastUpdated = b.now
	if err := b.repo.SaveHolding(ctx, h); err != nil {
		return nil, fmt.Errorf("save holding %s: %w", h.Symbol, err)
	}
	return h, nil
}

func (b *Batch) remove(ctx context.Context, sym string) error {
	if err := b.repo.DeleteHolding(ctx, b.portfolioID, sym); err != nil {
		return fmt.Errorf("delete holding %s: %w", sym, err)
	}
	if b.logger != nil {
		b.logger.Debug("holding removed",
			zap.String("portfolio_id", b.portfolioID),
			zap.String("symbol", sym),
		)
	}
	return nil
}

func (b *Batch) ApplyBuy(ctx context.Context, symbol string, qty, pricePerShare, currentPrice decimal.Decimal) (*models.Holding, error) {
	if !qty.IsPositive() {
		return nil, apperr.Validation("quantity must be positive, got %s", qty)
	}
	if pricePerShare.IsNegative() || currentPrice.IsNegative() {
		return nil, apperr.Validation("price must not be negative")
	}
	sym, h, err := b.load(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if h == nil {
		h = &models.Holding{PortfolioID: b.portfolioID, Symbol: sym}
	}
	if !currentPrice.IsPositive() {
		currentPrice = pricePerShare
	}
	buy(h, qty, pricePerShare, currentPrice)
	return b.save(ctx, h)
}

func (b *Batch) ApplySell(ctx context.Context, symbol string, qty, currentPrice decimal.Decimal) (*models.Holding, error) {
	if !qty.IsPositive() {
		return nil, apperr.Validation("quantity must be positive, got %s", qty)
	}
	if currentPrice.IsNegative() {
		return nil, apperr.Validation("price must not be negative")
	}
	sym, h, err := b.load(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, apperr.InsufficientHoldings("no holding for %s", sym).
			WithMeta("symbol", sym).
			WithMeta("held", "0").
			WithMeta("requested", qty.String())
	}
	if h.Quantity.LessThan(qty) {
		return nil, apperr.InsufficientHoldings("holding %s has %s, cannot sell %s", sym, h.Quantity, qty).
			WithMeta("symbol", sym).
			WithMeta("held", h.Quantity.String()).
			WithMeta("requested", qty.String())
	}
	if sell(h, qty, currentPrice) {
		return nil, b.remove(ctx, sym)
	}
	return b.save(ctx, h)
}

// SetTargetQuantity overwrites the held quantity. Cost basis is left as is;
// a new holding starts with zero cost basis and market value until the next
// revaluation.
func (b *Batch) SetTargetQuantity(ctx context.Context, symbol string, target decimal.Decimal) (*models.Holding, error) {
	sym, h, err := b.load(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if !target.IsPositive() {
		if h == nil {
			return nil, nil
		}
		return nil, b.remove(ctx, sym)
	}
	if h == nil {
		h = &models.Holding{
			PortfolioID: b.portfolioID,
			Symbol:      sym,
			Quantity:    target,
			CostBasis:   decimal.Zero,
			MarketValue: decimal.Zero,
		}
		return b.save(ctx, h)
	}
	h.Quantity = target
	mark(h, decimal.Zero)
	return b.save(ctx, h)
}

// Revalue marks an existing holding to price. Missing holdings are skipped.
func (b *Batch) Revalue(ctx context.Context, symbol string, price decimal.Decimal) (*models.Holding, error) {
	if !price.IsPositive() {
		return nil, apperr.Validation("price must be positive, got %s", price)
	}
	_, h, err := b.load(ctx, symbol)
	if err != nil || h == nil {
		return nil, err
	}
	mark(h, price)
	return b.save(ctx, h)
}

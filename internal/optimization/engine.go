package optimization

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"investcore/internal/apperr"
	"investcore/internal/ledger"
	"investcore/internal/models"
	"investcore/internal/repository"
	"investcore/internal/settlement"
)

type ApplyMode string

const (
	// ApplyDirect overwrites holding quantities with the recommended targets.
	ApplyDirect ApplyMode = "direct"
	// ApplyTrades emits ai-triggered transactions that settle like any other.
	ApplyTrades ApplyMode = "trades"
)

func ParseApplyMode(v string) (ApplyMode, error) {
	switch m := ApplyMode(strings.ToLower(strings.TrimSpace(v))); m {
	case "", ApplyDirect:
		return ApplyDirect, nil
	case ApplyTrades:
		return ApplyTrades, nil
	}
	return "", fmt.Errorf("unknown apply mode %q", v)
}

// CommitFunc persists the applied state of a record inside the same
// repository transaction as the holding changes. Returning an error rolls
// everything back.
type CommitFunc func(ctx context.Context, tx repository.Repository, at time.Time) error

// Engine turns a record's recommendations into holding changes.
type Engine struct {
	Repo       repository.Repository
	Ledger     *ledger.Ledger
	Settlement *settlement.Service
	Mode       ApplyMode
	Logger     *zap.Logger
	Now        func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e *Engine) Apply(ctx context.Context, record *models.OptimizationRecord, recs []models.Recommendation, commit CommitFunc) error {
	for _, r := range recs {
		if models.NormalizeSymbol(r.Symbol) == "" {
			return apperr.Validation("recommendation without symbol")
		}
		if r.TargetQuantity.IsNegative() {
			return apperr.Validation("negative target quantity %s for %s", r.TargetQuantity, r.Symbol).
				WithMeta("symbol", r.Symbol)
		}
	}
	if e.Mode == ApplyTrades {
		return e.applyTrades(ctx, record, recs, commit)
	}
	return e.applyDirect(ctx, record, recs, commit)
}

func (e *Engine) applyDirect(ctx context.Context, record *models.OptimizationRecord, recs []models.Recommendation, commit CommitFunc) error {
	symbols := make([]string, 0, len(recs))
	for _, r := range recs {
		symbols = append(symbols, r.Symbol)
	}
	return e.Ledger.Batch(ctx, record.PortfolioID, symbols, func(b *ledger.Batch) error {
		if err := commit(ctx, b.Repo(), b.Now()); err != nil {
			return err
		}
		for _, r := range recs {
			if _, err := b.SetTargetQuantity(ctx, r.Symbol, r.TargetQuantity); err != nil {
				return fmt.Errorf("apply %s: %w", r.Symbol, err)
			}
		}
		return nil
	})
}

func (e *Engine) applyTrades(ctx context.Context, record *models.OptimizationRecord, recs []models.Recommendation, commit CommitFunc) error {
	if e.Settlement == nil {
		return fmt.Errorf("trades apply mode needs a settlement service")
	}
	optimizationID := record.ID
	var created []*models.Transaction
	err := e.Repo.InTx(ctx, func(tx repository.Repository) error {
		if err := commit(ctx, tx, e.now()); err != nil {
			return err
		}
		held, err := heldQuantities(ctx, tx, record.PortfolioID)
		if err != nil {
			return err
		}
		for _, r := range recs {
			sym := models.NormalizeSymbol(r.Symbol)
			current := held[sym]
			if current.Equal(r.TargetQuantity) {
				continue
			}
			t, err := e.Settlement.PrepareRecommendationDelta(ctx, tx, settlement.DeltaRequest{
				UserID:         record.UserID,
				PortfolioID:    record.PortfolioID,
				Symbol:         sym,
				Current:        current,
				Target:         r.TargetQuantity,
				OptimizationID: &optimizationID,
			})
			if err != nil {
				return fmt.Errorf("apply %s: %w", sym, err)
			}
			created = append(created, t)
		}
		return nil
	})
	if err != nil {
		return err
	}
	// Sells settle before buys.
	for _, typ := range []models.TransactionType{models.TransactionSell, models.TransactionBuy} {
		for _, t := range created {
			if t.Type != typ {
				continue
			}
			if _, err := e.Settlement.Settle(ctx, t); err != nil && e.Logger != nil {
				e.Logger.Warn("recommendation trade deferred",
					zap.String("optimization_id", record.ID),
					zap.String("transaction_id", t.ID),
					zap.Error(err),
				)
			}
		}
	}
	return nil
}

func heldQuantities(ctx context.Context, repo repository.Repository, portfolioID string) (map[string]decimal.Decimal, error) {
	items, err := repo.ListHoldings(ctx, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("list holdings: %w", err)
	}
	out := make(map[string]decimal.Decimal, len(items))
	for _, h := range items {
		out[models.NormalizeSymbol(h.Symbol)] = h.Quantity
	}
	return out, nil
}

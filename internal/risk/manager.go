package risk

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"investcore/internal/apperr"
	"investcore/internal/config"
	"investcore/internal/models"
	"investcore/internal/repository"
)

// Manager applies pre-trade limits to new transactions. Zero-valued limits
// are disabled.
type Manager struct {
	Config config.RiskConfig
	Repo   repository.TransactionRepository
	Logger *zap.Logger
}

type Order struct {
	UserID        string
	Symbol        string
	Type          models.TransactionType
	Quantity      decimal.Decimal
	PricePerShare decimal.Decimal
}

// Check returns a validation error naming the first limit the order breaks.
func (m *Manager) Check(ctx context.Context, o Order) error {
	if m == nil {
		return nil
	}
	return m.CheckIn(ctx, m.Repo, o)
}

// CheckIn is Check with pending transactions counted through repo, for
// callers already inside a repository transaction.
func (m *Manager) CheckIn(ctx context.Context, repo repository.TransactionRepository, o Order) error {
	if m == nil {
		return nil
	}
	if reason := checkStatic(m.Config, o); reason != "" {
		m.reject(o, reason)
		return apperr.Validation("transaction rejected: %s", reason).WithMeta("limit", reason)
	}
	if m.Config.MaxPendingPerUser <= 0 || repo == nil {
		return nil
	}
	status := models.TransactionOnHold
	userID := o.UserID
	n, err := repo.CountTransactions(ctx, repository.ListTransactionsParams{UserID: &userID, Status: &status})
	if err != nil {
		return fmt.Errorf("count pending transactions: %w", err)
	}
	if n >= int64(m.Config.MaxPendingPerUser) {
		m.reject(o, "max_pending_per_user")
		return apperr.Validation("transaction rejected: %d transactions already on hold", n).
			WithMeta("limit", "max_pending_per_user")
	}
	return nil
}

func (m *Manager) reject(o Order, reason string) {
	if m.Logger == nil {
		return
	}
	m.Logger.Info("risk: reject transaction",
		zap.String("user_id", o.UserID),
		zap.String("symbol", o.Symbol),
		zap.String("type", string(o.Type)),
		zap.String("quantity", o.Quantity.String()),
		zap.String("limit", reason),
	)
}

func checkStatic(cfg config.RiskConfig, o Order) string {
	if cfg.MaxQuantity > 0 && o.Quantity.GreaterThan(decimal.NewFromFloat(cfg.MaxQuantity)) {
		return "max_quantity"
	}
	// Sells are exempt from the notional cap so positions can always be reduced.
	if cfg.MaxTransactionValue > 0 && o.Type == models.TransactionBuy {
		value := o.Quantity.Mul(o.PricePerShare)
		if value.GreaterThan(decimal.NewFromFloat(cfg.MaxTransactionValue)) {
			return "max_transaction_value"
		}
	}
	return ""
}

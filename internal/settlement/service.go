// Package settlement moves transactions from on_hold to a terminal state and
// applies them to holdings through the ledger exactly once.
package settlement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"investcore/internal/apperr"
	"investcore/internal/audit"
	"investcore/internal/ledger"
	"investcore/internal/market"
	"investcore/internal/models"
	"investcore/internal/repository"
	"investcore/internal/risk"
)

const defaultSweepLimit = 500

type Service struct {
	Repo   repository.Repository
	Ledger *ledger.Ledger
	Oracle market.Oracle
	Risk   *risk.Manager
	Audit  audit.Recorder
	Logger *zap.Logger
	Now    func() time.Time

	// SweepLimit caps how many on_hold transactions one SettlePending pass reads.
	SweepLimit int
}

type CreateRequest struct {
	UserID         string
	PortfolioID    string
	Symbol         string
	Quantity       decimal.Decimal
	PricePerShare  decimal.Decimal
	Type           models.TransactionType
	TriggeredBy    models.TriggeredBy
	OptimizationID *string
}

// DeltaRequest asks for the trade that moves a holding from Current to Target.
type DeltaRequest struct {
	UserID         string
	PortfolioID    string
	Symbol         string
	Current        decimal.Decimal
	Target         decimal.Decimal
	OptimizationID *string
}

type ListFilter struct {
	PortfolioID string
	Symbol      string
	Status      models.TransactionStatus
	Since       *time.Time
	Until       *time.Time
	Limit       int
	Offset      int
	Asc         bool
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// CreateFromRequest validates and persists an on_hold transaction, then
// settles it when the market is open. A settlement that cannot happen yet is
// not an error: the transaction stays on_hold for the next sweep.
func (s *Service) CreateFromRequest(ctx context.Context, req CreateRequest) (*models.Transaction, error) {
	tx, err := s.create(ctx, s.Repo, req)
	if err != nil {
		return nil, err
	}
	s.settleAfterCreate(ctx, tx)
	return tx, nil
}

// CreateFromRecommendationDelta creates and settles an ai-triggered
// transaction for the difference between Current and Target.
func (s *Service) CreateFromRecommendationDelta(ctx context.Context, req DeltaRequest) (*models.Transaction, error) {
	tx, err := s.PrepareRecommendationDelta(ctx, s.Repo, req)
	if err != nil {
		return nil, err
	}
	s.settleAfterCreate(ctx, tx)
	return tx, nil
}

// PrepareRecommendationDelta persists the delta transaction through repo
// without settling it, so callers can include it in a wider repository
// transaction and settle after commit.
func (s *Service) PrepareRecommendationDelta(ctx context.Context, repo repository.Repository, req DeltaRequest) (*models.Transaction, error) {
	sym := models.NormalizeSymbol(req.Symbol)
	if sym == "" {
		return nil, apperr.Validation("symbol is required")
	}
	if req.Target.IsNegative() {
		return nil, apperr.Validation("target quantity must not be negative, got %s", req.Target)
	}
	delta := req.Target.Sub(req.Current)
	if delta.IsZero() {
		return nil, apperr.Validation("no change for %s: current equals target %s", sym, req.Target)
	}
	typ := models.TransactionBuy
	if delta.IsNegative() {
		typ = models.TransactionSell
	}
	price, err := s.Oracle.CurrentPrice(ctx, sym)
	if err != nil {
		return nil, apperr.PriceUnavailable(sym, err)
	}
	return s.create(ctx, repo, CreateRequest{
		UserID:         req.UserID,
		PortfolioID:    req.PortfolioID,
		Symbol:         sym,
		Quantity:       delta.Abs(),
		PricePerShare:  price,
		Type:           typ,
		TriggeredBy:    models.TriggeredByAI,
		OptimizationID: req.OptimizationID,
	})
}

func (s *Service) create(ctx context.Context, repo repository.Repository, req CreateRequest) (*models.Transaction, error) {
	sym := models.NormalizeSymbol(req.Symbol)
	userID := strings.TrimSpace(req.UserID)
	switch {
	case userID == "":
		return nil, apperr.Validation("user id is required")
	case strings.TrimSpace(req.PortfolioID) == "":
		return nil, apperr.Validation("portfolio id is required")
	case sym == "":
		return nil, apperr.Validation("symbol is required")
	case !req.Quantity.IsPositive():
		return nil, apperr.Validation("quantity must be positive, got %s", req.Quantity)
	case req.PricePerShare.IsNegative():
		return nil, apperr.Validation("price per share must not be negative, got %s", req.PricePerShare)
	case !req.Type.Valid():
		return nil, apperr.Validation("unknown transaction type %q", req.Type)
	}
	triggeredBy := req.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = models.TriggeredByUser
	}
	if !triggeredBy.Valid() {
		return nil, apperr.Validation("unknown trigger %q", triggeredBy)
	}

	p, err := repo.GetPortfolio(ctx, req.PortfolioID)
	if err != nil {
		return nil, fmt.Errorf("load portfolio: %w", err)
	}
	if p == nil || p.UserID != userID {
		return nil, apperr.NotFound("portfolio %s not found", req.PortfolioID)
	}
	if err := s.Risk.CheckIn(ctx, repo, risk.Order{
		UserID:        userID,
		Symbol:        sym,
		Type:          req.Type,
		Quantity:      req.Quantity,
		PricePerShare: req.PricePerShare,
	}); err != nil {
		return nil, err
	}

	tx := &models.Transaction{
		UserID:         userID,
		PortfolioID:    p.ID,
		Symbol:         sym,
		Quantity:       req.Quantity,
		PricePerShare:  req.PricePerShare,
		Value:          req.Quantity.Mul(req.PricePerShare),
		Type:           req.Type,
		TriggeredBy:    triggeredBy,
		Status:         models.TransactionOnHold,
		OptimizationID: req.OptimizationID,
		CreatedAt:      s.now(),
	}
	if err := repo.CreateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}
	if s.Logger != nil {
		s.Logger.Info("transaction created",
			zap.String("transaction_id", tx.ID),
			zap.String("portfolio_id", tx.PortfolioID),
			zap.String("symbol", tx.Symbol),
			zap.String("type", string(tx.Type)),
			zap.String("quantity", tx.Quantity.String()),
			zap.String("triggered_by", string(tx.TriggeredBy)),
		)
	}
	return tx, nil
}

func (s *Service) settleAfterCreate(ctx context.Context, tx *models.Transaction) {
	if _, err := s.Settle(ctx, tx); err != nil && s.Logger != nil {
		s.Logger.Warn("settlement deferred",
			zap.String("transaction_id", tx.ID),
			zap.Error(err),
		)
	}
}

// Settle attempts to settle tx. It reports true only when this call moved the
// transaction to succeeded or failed. Terminal transactions and a closed
// market return false with no error; tx is updated in place on success.
func (s *Service) Settle(ctx context.Context, tx *models.Transaction) (bool, error) {
	if tx == nil {
		return false, apperr.Validation("transaction is required")
	}
	if tx.Status.Terminal() {
		return false, nil
	}
	if !s.marketOpen(ctx) {
		return false, nil
	}
	return s.settleOpen(ctx, tx)
}

// SettlePending settles on_hold transactions oldest first and returns how
// many reached a terminal state. One failing item does not stop the sweep.
func (s *Service) SettlePending(ctx context.Context) (int, error) {
	limit := s.SweepLimit
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	items, err := s.Repo.ListOnHoldTransactions(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list on_hold transactions: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}
	if !s.marketOpen(ctx) {
		return 0, nil
	}
	settled := 0
	for i := range items {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		tx := items[i]
		ok, err := s.settleOpen(ctx, &tx)
		if err != nil {
			if s.Logger != nil {
				s.Logger.Warn("settle pending: skip",
					zap.String("transaction_id", tx.ID),
					zap.Error(err),
				)
			}
			continue
		}
		if ok {
			settled++
		}
	}
	if s.Logger != nil && settled > 0 {
		s.Logger.Info("settle pending: done", zap.Int("settled", settled), zap.Int("scanned", len(items)))
	}
	return settled, nil
}

func (s *Service) marketOpen(ctx context.Context) bool {
	open, err := s.Oracle.IsMarketOpen(ctx)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("market status unavailable, deferring settlement", zap.Error(err))
		}
		return false
	}
	return open
}

func (s *Service) settleOpen(ctx context.Context, tx *models.Transaction) (bool, error) {
	price, err := s.Oracle.CurrentPrice(ctx, tx.Symbol)
	if err != nil {
		return false, apperr.PriceUnavailable(tx.Symbol, err)
	}

	claimed := false
	var ledgerErr error
	var settledAt time.Time
	err = s.Ledger.Batch(ctx, tx.PortfolioID, []string{tx.Symbol}, func(b *ledger.Batch) error {
		ok, err := b.Repo().TransitionTransaction(ctx, tx.ID, models.TransactionOnHold, models.TransactionSucceeded, "", b.Now())
		if err != nil {
			return fmt.Errorf("claim transaction: %w", err)
		}
		if !ok {
			return nil
		}
		claimed = true
		settledAt = b.Now()
		switch tx.Type {
		case models.TransactionBuy:
			_, ledgerErr = b.ApplyBuy(ctx, tx.Symbol, tx.Quantity, tx.PricePerShare, price)
		case models.TransactionSell:
			_, ledgerErr = b.ApplySell(ctx, tx.Symbol, tx.Quantity, price)
		default:
			ledgerErr = apperr.Validation("unknown transaction type %q", tx.Type)
		}
		return ledgerErr
	})
	if err == nil {
		if !claimed {
			return false, nil
		}
		tx.Status = models.TransactionSucceeded
		tx.SettledAt = &settledAt
		s.record(ctx, tx, price)
		return true, nil
	}
	if ledgerErr == nil || !rejectsTransaction(ledgerErr) {
		return false, err
	}

	at := s.now()
	reason := ledgerErr.Error()
	ok, ferr := s.Repo.TransitionTransaction(ctx, tx.ID, models.TransactionOnHold, models.TransactionFailed, reason, at)
	if ferr != nil {
		return false, fmt.Errorf("mark transaction failed: %w", ferr)
	}
	if !ok {
		return false, nil
	}
	tx.Status = models.TransactionFailed
	tx.FailureReason = reason
	tx.SettledAt = &at
	s.record(ctx, tx, price)
	return true, nil
}

// rejectsTransaction reports whether err is a property of the transaction
// itself, as opposed to an infrastructure failure worth retrying.
func rejectsTransaction(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindInsufficientHoldings:
		return true
	}
	return false
}

func (s *Service) record(ctx context.Context, tx *models.Transaction, price decimal.Decimal) {
	level := audit.LevelInfo
	if tx.Status == models.TransactionFailed {
		level = audit.LevelWarn
	}
	if s.Logger != nil {
		s.Logger.Info("transaction settled",
			zap.String("transaction_id", tx.ID),
			zap.String("status", string(tx.Status)),
			zap.String("symbol", tx.Symbol),
			zap.String("price", price.String()),
			zap.String("reason", tx.FailureReason),
		)
	}
	if s.Audit == nil {
		return
	}
	s.Audit.Record(ctx, "transaction_"+string(tx.Status), level, map[string]any{
		"transaction_id": tx.ID,
		"portfolio_id":   tx.PortfolioID,
		"symbol":         tx.Symbol,
		"type":           string(tx.Type),
		"quantity":       tx.Quantity.String(),
		"price":          price.String(),
		"reason":         tx.FailureReason,
	})
}

// Cancel cancels a user-triggered transaction that is still on_hold.
func (s *Service) Cancel(ctx context.Context, transactionID, userID string) (*models.Transaction, error) {
	tx, err := s.Get(ctx, userID, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.TriggeredBy != models.TriggeredByUser {
		return nil, apperr.InvalidState("only user-triggered transactions can be canceled").
			WithMeta("triggered_by", string(tx.TriggeredBy))
	}
	if tx.Status != models.TransactionOnHold {
		return nil, apperr.InvalidState("transaction is %s", tx.Status).WithMeta("status", string(tx.Status))
	}
	at := s.now()
	ok, err := s.Repo.TransitionTransaction(ctx, tx.ID, models.TransactionOnHold, models.TransactionCanceled, "canceled by user", at)
	if err != nil {
		return nil, fmt.Errorf("cancel transaction: %w", err)
	}
	if !ok {
		latest, err := s.Repo.GetTransaction(ctx, tx.ID)
		if err != nil {
			return nil, fmt.Errorf("reload transaction: %w", err)
		}
		status := models.TransactionStatus("unknown")
		if latest != nil {
			status = latest.Status
		}
		return nil, apperr.InvalidState("transaction is %s", status).WithMeta("status", string(status))
	}
	tx.Status = models.TransactionCanceled
	tx.FailureReason = "canceled by user"
	tx.SettledAt = &at
	if s.Audit != nil {
		s.Audit.Record(ctx, "transaction_canceled", audit.LevelInfo, map[string]any{
			"transaction_id": tx.ID,
			"user_id":        userID,
		})
	}
	return tx, nil
}

// Get returns the transaction only when it belongs to userID.
func (s *Service) Get(ctx context.Context, userID, transactionID string) (*models.Transaction, error) {
	tx, err := s.Repo.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("load transaction: %w", err)
	}
	if tx == nil || tx.UserID != strings.TrimSpace(userID) {
		return nil, apperr.NotFound("transaction %s not found", transactionID)
	}
	return tx, nil
}

func (s *Service) List(ctx context.Context, userID string, f ListFilter) ([]models.Transaction, int64, error) {
	uid := strings.TrimSpace(userID)
	params := repository.ListTransactionsParams{
		Limit:  f.Limit,
		Offset: f.Offset,
		UserID: &uid,
		Since:  f.Since,
		Until:  f.Until,
		Asc:    &f.Asc,
	}
	if pid := strings.TrimSpace(f.PortfolioID); pid != "" {
		params.PortfolioID = &pid
	}
	if sym := models.NormalizeSymbol(f.Symbol); sym != "" {
		params.Symbol = &sym
	}
	if f.Status != "" {
		status := f.Status
		params.Status = &status
	}
	items, err := s.Repo.ListTransactions(ctx, params)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	total, err := s.Repo.CountTransactions(ctx, params)
	if err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}
	return items, total, nil
}

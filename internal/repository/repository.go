package repository

import (
	"context"
	"time"

	"investcore/internal/models"
)

// Repository is the durable store behind the settlement and optimization
// services. Getters return (nil, nil) when the row does not exist.
//
// Transition* methods are compare-and-set updates: they report whether the
// row was in the expected state and got moved.
type Repository interface {
	// InTx runs fn inside one store transaction. The Repository passed to fn
	// is bound to that transaction; fn must not use the outer one.
	InTx(ctx context.Context, fn func(tx Repository) error) error

	PortfolioRepository
	HoldingRepository
	TransactionRepository
	OptimizationRepository
	SettingsRepository
	SnapshotRepository
	ModelHealthRepository
}

type PortfolioRepository interface {
	CreatePortfolio(ctx context.Context, item *models.Portfolio) error
	// GetPortfolio loads the portfolio with its holdings.
	GetPortfolio(ctx context.Context, id string) (*models.Portfolio, error)
	ListPortfolios(ctx context.Context, params ListPortfoliosParams) ([]models.Portfolio, error)
}

type HoldingRepository interface {
	// GetHoldingForUpdate reads one holding and, where the backend supports
	// it, holds a row lock until the surrounding transaction ends.
	GetHoldingForUpdate(ctx context.Context, portfolioID, symbol string) (*models.Holding, error)
	ListHoldings(ctx context.Context, portfolioID string) ([]models.Holding, error)
	ListHeldSymbols(ctx context.Context) ([]string, error)
	SaveHolding(ctx context.Context, item *models.Holding) error
	DeleteHolding(ctx context.Context, portfolioID, symbol string) error
}

type TransactionRepository interface {
	CreateTransaction(ctx context.Context, item *models.Transaction) error
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	ListTransactions(ctx context.Context, params ListTransactionsParams) ([]models.Transaction, error)
	CountTransactions(ctx context.Context, params ListTransactionsParams) (int64, error)
	// ListOnHoldTransactions returns on_hold transactions oldest first.
	ListOnHoldTransactions(ctx context.Context, limit int) ([]models.Transaction, error)
	TransitionTransaction(ctx context.Context, id string, from, to models.TransactionStatus, reason string, at time.Time) (bool, error)
}

type OptimizationRepository interface {
	CreateOptimization(ctx context.Context, item *models.OptimizationRecord) error
	GetOptimization(ctx context.Context, id string) (*models.OptimizationRecord, error)
	FindInProgressOptimization(ctx context.Context, userID, portfolioID string) (*models.OptimizationRecord, error)
	LatestAppliedOptimization(ctx context.Context, userID, portfolioID string) (*models.OptimizationRecord, error)
	ListOptimizations(ctx context.Context, params ListOptimizationsParams) ([]models.OptimizationRecord, error)
	ListStaleInProgressOptimizations(ctx context.Context, startedBefore time.Time, limit int) ([]models.OptimizationRecord, error)
	// CompleteOptimization moves an in_progress record to item.Status, writing
	// the provider result fields carried by item.
	CompleteOptimization(ctx context.Context, item *models.OptimizationRecord) (bool, error)
	// MarkOptimizationApplied sets is_applied, applied_at and status=applied
	// only if the record is created and not yet applied.
	MarkOptimizationApplied(ctx context.Context, id string, at time.Time) (bool, error)
	// CancelOptimization moves a created or in_progress record to canceled.
	CancelOptimization(ctx context.Context, id string, at time.Time) (bool, error)
}

type SettingsRepository interface {
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	ListSystemSettings(ctx context.Context, params ListSystemSettingsParams) ([]models.SystemSetting, error)
}

type SnapshotRepository interface {
	InsertPortfolioSnapshot(ctx context.Context, item *models.PortfolioSnapshot) error
	ListPortfolioSnapshots(ctx context.Context, params ListPortfolioSnapshotsParams) ([]models.PortfolioSnapshot, error)
}

type ModelHealthRepository interface {
	InsertModelHealthCheck(ctx context.Context, item *models.ModelHealthCheck) error
	LatestModelHealthChecks(ctx context.Context) ([]models.ModelHealthCheck, error)
}

type ListPortfoliosParams struct {
	Limit  int
	Offset int
	UserID *string
}

type ListTransactionsParams struct {
	Limit       int
	Offset      int
	UserID      *string
	PortfolioID *string
	Symbol      *string
	Status      *models.TransactionStatus
	Since       *time.Time
	Until       *time.Time
	OrderBy     string
	Asc         *bool
}

type ListOptimizationsParams struct {
	Limit       int
	Offset      int
	UserID      *string
	PortfolioID *string
	Status      *models.OptimizationStatus
	Since       *time.Time
	Until       *time.Time
}

type ListSystemSettingsParams struct {
	Limit  int
	Offset int
	Prefix *string
}

type ListPortfolioSnapshotsParams struct {
	PortfolioID string
	Limit       int
	Offset      int
	Since       *time.Time
	Until       *time.Time
}

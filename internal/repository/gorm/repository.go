package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"investcore/internal/models"
	"investcore/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx repository.Repository) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// --- portfolios ---------------------------------------------------------------

func (s *Store) CreatePortfolio(ctx context.Context, item *models.Portfolio) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Omit(clause.Associations).Create(item).Error
}

func (s *Store) GetPortfolio(ctx context.Context, id string) (*models.Portfolio, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Portfolio
	err := s.db.WithContext(ctx).
		Preload("Holdings", func(db *gorm.DB) *gorm.DB { return db.Order("symbol asc") }).
		Where("id = ?", strings.TrimSpace(id)).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListPortfolios(ctx context.Context, params repository.ListPortfoliosParams) ([]models.Portfolio, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Portfolio{})
	if params.UserID != nil {
		query = query.Where("user_id = ?", strings.TrimSpace(*params.UserID))
	}
	var items []models.Portfolio
	err := query.Order("created_at asc").
		Limit(normalizeLimit(params.Limit, 100)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error
	return items, err
}

// --- holdings -----------------------------------------------------------------

func (s *Store) GetHoldingForUpdate(ctx context.Context, portfolioID, symbol string) (*models.Holding, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Holding
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("portfolio_id = ? AND symbol = ?", portfolioID, models.NormalizeSymbol(symbol)).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListHoldings(ctx context.Context, portfolioID string) ([]models.Holding, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Holding
	err := s.db.WithContext(ctx).
		Where("portfolio_id = ?", portfolioID).
		Order("symbol asc").
		Find(&items).Error
	return items, err
}

func (s *Store) ListHeldSymbols(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var out []string
	err := s.db.WithContext(ctx).
		Model(&models.Holding{}).
		Distinct("symbol").
		Order("symbol asc").
		Pluck("symbol", &out).Error
	return out, err
}

func (s *Store) SaveHolding(ctx context.Context, item *models.Holding) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.Symbol = models.NormalizeSymbol(item.Symbol)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "portfolio_id"}, {Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"quantity",
			"cost_basis",
			"market_value",
			"change_percent",
			"last_price",
			"last_updated",
		}),
	}).Create(item).Error
}

func (s *Store) DeleteHolding(ctx context.Context, portfolioID, symbol string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Where("portfolio_id = ? AND symbol = ?", portfolioID, models.NormalizeSymbol(symbol)).
		Delete(&models.Holding{}).Error
}

// --- transactions -------------------------------------------------------------

func (s *Store) CreateTransaction(ctx context.Context, item *models.Transaction) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Transaction
	if err := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(id)).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListTransactions(ctx context.Context, params repository.ListTransactionsParams) ([]models.Transaction, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.transactionQuery(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	var items []models.Transaction
	err := query.
		Limit(normalizeLimit(params.Limit, 50)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error
	return items, err
}

func (s *Store) CountTransactions(ctx context.Context, params repository.ListTransactionsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	err := s.transactionQuery(ctx, params).Count(&total).Error
	return total, err
}

func (s *Store) transactionQuery(ctx context.Context, params repository.ListTransactionsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Transaction{})
	if params.UserID != nil {
		query = query.Where("user_id = ?", strings.TrimSpace(*params.UserID))
	}
	if params.PortfolioID != nil {
		query = query.Where("portfolio_id = ?", strings.TrimSpace(*params.PortfolioID))
	}
	if params.Symbol != nil {
		query = query.Where("symbol = ?", models.NormalizeSymbol(*params.Symbol))
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Since != nil {
		query = query.Where("created_at >= ?", *params.Since)
	}
	if params.Until != nil {
		query = query.Where("created_at <= ?", *params.Until)
	}
	return query
}

func (s *Store) ListOnHoldTransactions(ctx context.Context, limit int) ([]models.Transaction, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Transaction
	err := s.db.WithContext(ctx).
		Where("status = ?", models.TransactionOnHold).
		Order("created_at asc").
		Order("id asc").
		Limit(normalizeLimit(limit, 500)).
		Find(&items).Error
	return items, err
}

func (s *Store) TransitionTransaction(ctx context.Context, id string, from, to models.TransactionStatus, reason string, at time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	updates := map[string]any{
		"status":     to,
		"updated_at": at,
	}
	if strings.TrimSpace(reason) != "" {
		updates["failure_reason"] = reason
	}
	if to.Terminal() {
		updates["settled_at"] = at
	}
	res := s.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// --- optimizations ------------------------------------------------------------

func (s *Store) CreateOptimization(ctx context.Context, item *models.OptimizationRecord) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return repository.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) GetOptimization(ctx context.Context, id string) (*models.OptimizationRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.OptimizationRecord
	if err := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(id)).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) FindInProgressOptimization(ctx context.Context, userID, portfolioID string) (*models.OptimizationRecord, error) {
	return s.firstOptimization(ctx, "timestamp desc",
		"user_id = ? AND portfolio_id = ? AND status = ?", userID, portfolioID, models.OptimizationInProgress)
}

func (s *Store) LatestAppliedOptimization(ctx context.Context, userID, portfolioID string) (*models.OptimizationRecord, error) {
	return s.firstOptimization(ctx, "applied_at desc",
		"user_id = ? AND portfolio_id = ? AND is_applied = ? AND applied_at IS NOT NULL", userID, portfolioID, true)
}

func (s *Store) firstOptimization(ctx context.Context, order string, where string, args ...any) (*models.OptimizationRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.OptimizationRecord
	err := s.db.WithContext(ctx).Where(where, args...).Order(order).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListOptimizations(ctx context.Context, params repository.ListOptimizationsParams) ([]models.OptimizationRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.OptimizationRecord{})
	if params.UserID != nil {
		query = query.Where("user_id = ?", strings.TrimSpace(*params.UserID))
	}
	if params.PortfolioID != nil {
		query = query.Where("portfolio_id = ?", strings.TrimSpace(*params.PortfolioID))
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Since != nil {
		query = query.Where("timestamp >= ?", *params.Since)
	}
	if params.Until != nil {
		query = query.Where("timestamp <= ?", *params.Until)
	}
	var items []models.OptimizationRecord
	err := query.Order("timestamp desc").
		Limit(normalizeLimit(params.Limit, 50)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error
	return items, err
}

func (s *Store) ListStaleInProgressOptimizations(ctx context.Context, startedBefore time.Time, limit int) ([]models.OptimizationRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.OptimizationRecord
	err := s.db.WithContext(ctx).
		Where("status = ? AND timestamp < ?", models.OptimizationInProgress, startedBefore).
		Order("timestamp asc").
		Limit(normalizeLimit(limit, 100)).
		Find(&items).Error
	return items, err
}

func (s *Store) CompleteOptimization(ctx context.Context, item *models.OptimizationRecord) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.OptimizationRecord{}).
		Where("id = ? AND status = ?", item.ID, models.OptimizationInProgress).
		Updates(map[string]any{
			"status":          item.Status,
			"confidence":      item.Confidence,
			"explanation":     item.Explanation,
			"metrics":         item.Metrics,
			"recommendations": item.Recommendations,
			"failure_reason":  item.FailureReason,
			"updated_at":      time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) MarkOptimizationApplied(ctx context.Context, id string, at time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.OptimizationRecord{}).
		Where("id = ? AND is_applied = ? AND status = ?", id, false, models.OptimizationCreated).
		Updates(map[string]any{
			"is_applied": true,
			"applied_at": at,
			"status":     models.OptimizationApplied,
			"updated_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) CancelOptimization(ctx context.Context, id string, at time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.OptimizationRecord{}).
		Where("id = ? AND is_applied = ? AND status IN ?", id, false,
			[]models.OptimizationStatus{models.OptimizationCreated, models.OptimizationInProgress}).
		Updates(map[string]any{
			"status":     models.OptimizationCanceled,
			"updated_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// --- settings -----------------------------------------------------------------

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.SystemSetting
	if err := s.db.WithContext(ctx).Where("key = ?", strings.TrimSpace(key)).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "description", "updated_by", "updated_at"}),
	}).Create(item).Error
}

func (s *Store) ListSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.SystemSetting{})
	if params.Prefix != nil && strings.TrimSpace(*params.Prefix) != "" {
		query = query.Where("key LIKE ?", strings.TrimSpace(*params.Prefix)+"%")
	}
	var items []models.SystemSetting
	err := query.Order("key asc").
		Limit(normalizeLimit(params.Limit, 200)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error
	return items, err
}

// --- snapshots & model health ---------------------------------------------------

func (s *Store) InsertPortfolioSnapshot(ctx context.Context, item *models.PortfolioSnapshot) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "portfolio_id"}, {Name: "snapshot_at"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_holdings",
			"total_cost_basis",
			"total_market_val",
			"unrealized_pnl",
			"change_percent",
		}),
	}).Create(item).Error
}

func (s *Store) ListPortfolioSnapshots(ctx context.Context, params repository.ListPortfolioSnapshotsParams) ([]models.PortfolioSnapshot, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.PortfolioSnapshot{}).
		Where("portfolio_id = ?", params.PortfolioID)
	if params.Since != nil {
		query = query.Where("snapshot_at >= ?", *params.Since)
	}
	if params.Until != nil {
		query = query.Where("snapshot_at <= ?", *params.Until)
	}
	var items []models.PortfolioSnapshot
	err := query.Order("snapshot_at desc").
		Limit(normalizeLimit(params.Limit, 168)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error
	return items, err
}

func (s *Store) InsertModelHealthCheck(ctx context.Context, item *models.ModelHealthCheck) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) LatestModelHealthChecks(ctx context.Context) ([]models.ModelHealthCheck, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.ModelHealthCheck
	err := s.db.WithContext(ctx).
		Raw(`SELECT DISTINCT ON (model) * FROM model_health_checks ORDER BY model, checked_at DESC`).
		Scan(&items).Error
	return items, err
}

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

var _ repository.Repository = (*Store)(nil)

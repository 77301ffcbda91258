// Package memory is an in-process Repository. Transactions are serialized
// behind one mutex and rolled back by restoring a copy of the tables, which
// gives the same all-or-nothing behavior the postgres store provides.
package memory

import (
	"context"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"investcore/internal/models"
	"investcore/internal/repository"
)

type tables struct {
	portfolios    map[string]models.Portfolio
	holdings      map[string]models.Holding
	transactions  map[string]models.Transaction
	optimizations map[string]models.OptimizationRecord
	settings      map[string]models.SystemSetting
	snapshots     map[string]models.PortfolioSnapshot
	healthChecks  []models.ModelHealthCheck
	nextID        uint64
}

func (t *tables) clone() *tables {
	return &tables{
		portfolios:    maps.Clone(t.portfolios),
		holdings:      maps.Clone(t.holdings),
		transactions:  maps.Clone(t.transactions),
		optimizations: maps.Clone(t.optimizations),
		settings:      maps.Clone(t.settings),
		snapshots:     maps.Clone(t.snapshots),
		healthChecks:  append([]models.ModelHealthCheck(nil), t.healthChecks...),
		nextID:        t.nextID,
	}
}

type Store struct {
	mu   *sync.Mutex
	data **tables
	inTx bool
}

func New() *Store {
	t := &tables{
		portfolios:    map[string]models.Portfolio{},
		holdings:      map[string]models.Holding{},
		transactions:  map[string]models.Transaction{},
		optimizations: map[string]models.OptimizationRecord{},
		settings:      map[string]models.SystemSetting{},
		snapshots:     map[string]models.PortfolioSnapshot{},
	}
	return &Store{mu: &sync.Mutex{}, data: &t}
}

func (s *Store) InTx(ctx context.Context, fn func(tx repository.Repository) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	backup := (*s.data).clone()
	tx := &Store{mu: s.mu, data: s.data, inTx: true}
	if err := fn(tx); err != nil {
		*s.data = backup
		return err
	}
	return nil
}

// do runs fn against the tables, taking the lock unless already inside InTx.
func (s *Store) do(fn func(t *tables) error) error {
	if !s.inTx {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn(*s.data)
}

func (t *tables) id() uint64 {
	t.nextID++
	return t.nextID
}

func holdingKey(portfolioID, symbol string) string {
	return portfolioID + "|" + models.NormalizeSymbol(symbol)
}

// --- portfolios ---------------------------------------------------------------

func (s *Store) CreatePortfolio(ctx context.Context, item *models.Portfolio) error {
	if item == nil {
		return nil
	}
	return s.do(func(t *tables) error {
		item.EnsureID()
		now := time.Now().UTC()
		if item.CreatedAt.IsZero() {
			item.CreatedAt = now
		}
		item.UpdatedAt = now
		row := *item
		row.Holdings = nil
		t.portfolios[item.ID] = row
		return nil
	})
}

func (s *Store) GetPortfolio(ctx context.Context, id string) (*models.Portfolio, error) {
	var out *models.Portfolio
	err := s.do(func(t *tables) error {
		row, ok := t.portfolios[strings.TrimSpace(id)]
		if !ok {
			return nil
		}
		row.Holdings = holdingsOf(t, row.ID)
		out = &row
		return nil
	})
	return out, err
}

func (s *Store) ListPortfolios(ctx context.Context, params repository.ListPortfoliosParams) ([]models.Portfolio, error) {
	var out []models.Portfolio
	err := s.do(func(t *tables) error {
		for _, p := range t.portfolios {
			if params.UserID != nil && p.UserID != strings.TrimSpace(*params.UserID) {
				continue
			}
			out = append(out, p)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
		out = page(out, params.Limit, params.Offset, 100)
		return nil
	})
	return out, err
}

// --- holdings -----------------------------------------------------------------

func holdingsOf(t *tables, portfolioID string) []models.Holding {
	var out []models.Holding
	for _, h := range t.holdings {
		if h.PortfolioID == portfolioID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (s *Store) GetHoldingForUpdate(ctx context.Context, portfolioID, symbol string) (*models.Holding, error) {
	var out *models.Holding
	err := s.do(func(t *tables) error {
		if h, ok := t.holdings[holdingKey(portfolioID, symbol)]; ok {
			out = &h
		}
		return nil
	})
	return out, err
}

func (s *Store) ListHoldings(ctx context.Context, portfolioID string) ([]models.Holding, error) {
	var out []models.Holding
	err := s.do(func(t *tables) error {
		out = holdingsOf(t, portfolioID)
		return nil
	})
	return out, err
}

func (s *Store) ListHeldSymbols(ctx context.Context) ([]string, error) {
	var out []string
	err := s.do(func(t *tables) error {
		seen := map[string]struct{}{}
		for _, h := range t.holdings {
			if _, ok := seen[h.Symbol]; ok {
				continue
			}
			seen[h.Symbol] = struct{}{}
			out = append(out, h.Symbol)
		}
		sort.Strings(out)
		return nil
	})
	return out, err
}

func (s *Store) SaveHolding(ctx context.Context, item *models.Holding) error {
	if item == nil {
		return nil
	}
	return s.do(func(t *tables) error {
		item.Symbol = models.NormalizeSymbol(item.Symbol)
		key := holdingKey(item.PortfolioID, item.Symbol)
		if existing, ok := t.holdings[key]; ok {
			item.ID = existing.ID
			item.CreatedAt = existing.CreatedAt
		} else {
			if item.ID == 0 {
				item.ID = t.id()
			}
			if item.CreatedAt.IsZero() {
				item.CreatedAt = time.Now().UTC()
			}
		}
		t.holdings[key] = *item
		return nil
	})
}

func (s *Store) DeleteHolding(ctx context.Context, portfolioID, symbol string) error {
	return s.do(func(t *tables) error {
		delete(t.holdings, holdingKey(portfolioID, symbol))
		return nil
	})
}

// --- transactions -------------------------------------------------------------

func (s *Store) CreateTransaction(ctx context.Context, item *models.Transaction) error {
	if item == nil {
		return nil
	}
	return s.do(func(t *tables) error {
		item.EnsureID()
		if item.CreatedAt.IsZero() {
			item.CreatedAt = time.Now().UTC()
		}
		item.UpdatedAt = item.CreatedAt
		t.transactions[item.ID] = *item
		return nil
	})
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	var out *models.Transaction
	err := s.do(func(t *tables) error {
		if tx, ok := t.transactions[strings.TrimSpace(id)]; ok {
			out = &tx
		}
		return nil
	})
	return out, err
}

func matchTransaction(tx models.Transaction, params repository.ListTransactionsParams) bool {
	if params.UserID != nil && tx.UserID != strings.TrimSpace(*params.UserID) {
		return false
	}
	if params.PortfolioID != nil && tx.PortfolioID != strings.TrimSpace(*params.PortfolioID) {
		return false
	}
	if params.Symbol != nil && tx.Symbol != models.NormalizeSymbol(*params.Symbol) {
		return false
	}
	if params.Status != nil && tx.Status != *params.Status {
		return false
	}
	if params.Since != nil && tx.CreatedAt.Before(*params.Since) {
		return false
	}
	if params.Until != nil && tx.CreatedAt.After(*params.Until) {
		return false
	}
	return true
}

func (s *Store) ListTransactions(ctx context.Context, params repository.ListTransactionsParams) ([]models.Transaction, error) {
	var out []models.Transaction
	err := s.do(func(t *tables) error {
		for _, tx := range t.transactions {
			if matchTransaction(tx, params) {
				out = append(out, tx)
			}
		}
		asc := params.Asc != nil && *params.Asc
		sortTransactions(out, asc)
		out = page(out, params.Limit, params.Offset, 50)
		return nil
	})
	return out, err
}

func (s *Store) CountTransactions(ctx context.Context, params repository.ListTransactionsParams) (int64, error) {
	var total int64
	err := s.do(func(t *tables) error {
		for _, tx := range t.transactions {
			if matchTransaction(tx, params) {
				total++
			}
		}
		return nil
	})
	return total, err
}

func (s *Store) ListOnHoldTransactions(ctx context.Context, limit int) ([]models.Transaction, error) {
	var out []models.Transaction
	err := s.do(func(t *tables) error {
		for _, tx := range t.transactions {
			if tx.Status == models.TransactionOnHold {
				out = append(out, tx)
			}
		}
		sortTransactions(out, true)
		out = page(out, limit, 0, 500)
		return nil
	})
	return out, err
}

func sortTransactions(items []models.Transaction, asc bool) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if asc {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		if asc {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})
}

func (s *Store) TransitionTransaction(ctx context.Context, id string, from, to models.TransactionStatus, reason string, at time.Time) (bool, error) {
	moved := false
	err := s.do(func(t *tables) error {
		tx, ok := t.transactions[id]
		if !ok || tx.Status != from {
			return nil
		}
		tx.Status = to
		tx.UpdatedAt = at
		if strings.TrimSpace(reason) != "" {
			tx.FailureReason = reason
		}
		if to.Terminal() {
			settled := at
			tx.SettledAt = &settled
		}
		t.transactions[id] = tx
		moved = true
		return nil
	})
	return moved, err
}

// --- optimizations ------------------------------------------------------------

func (s *Store) CreateOptimization(ctx context.Context, item *models.OptimizationRecord) error {
	if item == nil {
		return nil
	}
	return s.do(func(t *tables) error {
		item.EnsureID()
		if item.Status == models.OptimizationInProgress {
			for _, r := range t.optimizations {
				if r.UserID == item.UserID && r.PortfolioID == item.PortfolioID && r.Status == models.OptimizationInProgress {
					return repository.ErrDuplicate
				}
			}
		}
		now := time.Now().UTC()
		item.CreatedAt = now
		item.UpdatedAt = now
		t.optimizations[item.ID] = *item
		return nil
	})
}

func (s *Store) GetOptimization(ctx context.Context, id string) (*models.OptimizationRecord, error) {
	var out *models.OptimizationRecord
	err := s.do(func(t *tables) error {
		if r, ok := t.optimizations[strings.TrimSpace(id)]; ok {
			out = &r
		}
		return nil
	})
	return out, err
}

func (s *Store) FindInProgressOptimization(ctx context.Context, userID, portfolioID string) (*models.OptimizationRecord, error) {
	var out *models.OptimizationRecord
	err := s.do(func(t *tables) error {
		for _, r := range t.optimizations {
			if r.UserID != userID || r.PortfolioID != portfolioID || r.Status != models.OptimizationInProgress {
				continue
			}
			if out == nil || r.Timestamp.After(out.Timestamp) {
				rec := r
				out = &rec
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) LatestAppliedOptimization(ctx context.Context, userID, portfolioID string) (*models.OptimizationRecord, error) {
	var out *models.OptimizationRecord
	err := s.do(func(t *tables) error {
		for _, r := range t.optimizations {
			if r.UserID != userID || r.PortfolioID != portfolioID || !r.IsApplied || r.AppliedAt == nil {
				continue
			}
			if out == nil || r.AppliedAt.After(*out.AppliedAt) {
				rec := r
				out = &rec
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) ListOptimizations(ctx context.Context, params repository.ListOptimizationsParams) ([]models.OptimizationRecord, error) {
	var out []models.OptimizationRecord
	err := s.do(func(t *tables) error {
		for _, r := range t.optimizations {
			if params.UserID != nil && r.UserID != strings.TrimSpace(*params.UserID) {
				continue
			}
			if params.PortfolioID != nil && r.PortfolioID != strings.TrimSpace(*params.PortfolioID) {
				continue
			}
			if params.Status != nil && r.Status != *params.Status {
				continue
			}
			if params.Since != nil && r.Timestamp.Before(*params.Since) {
				continue
			}
			if params.Until != nil && r.Timestamp.After(*params.Until) {
				continue
			}
			out = append(out, r)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
		out = page(out, params.Limit, params.Offset, 50)
		return nil
	})
	return out, err
}

func (s *Store) ListStaleInProgressOptimizations(ctx context.Context, startedBefore time.Time, limit int) ([]models.OptimizationRecord, error) {
	var out []models.OptimizationRecord
	err := s.do(func(t *tables) error {
		for _, r := range t.optimizations {
			if r.Status == models.OptimizationInProgress && r.Timestamp.Before(startedBefore) {
				out = append(out, r)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
		out = page(out, limit, 0, 100)
		return nil
	})
	return out, err
}

func (s *Store) CompleteOptimization(ctx context.Context, item *models.OptimizationRecord) (bool, error) {
	if item == nil {
		return false, nil
	}
	moved := false
	err := s.do(func(t *tables) error {
		r, ok := t.optimizations[item.ID]
		if !ok || r.Status != models.OptimizationInProgress {
			return nil
		}
		r.Status = item.Status
		r.Confidence = item.Confidence
		r.Explanation = item.Explanation
		r.Metrics = item.Metrics
		r.Recommendations = item.Recommendations
		r.FailureReason = item.FailureReason
		r.UpdatedAt = time.Now().UTC()
		t.optimizations[item.ID] = r
		moved = true
		return nil
	})
	return moved, err
}

func (s *Store) MarkOptimizationApplied(ctx context.Context, id string, at time.Time) (bool, error) {
	moved := false
	err := s.do(func(t *tables) error {
		r, ok := t.optimizations[id]
		if !ok || r.IsApplied || r.Status != models.OptimizationCreated {
			return nil
		}
		applied := at
		r.IsApplied = true
		r.AppliedAt = &applied
		r.Status = models.OptimizationApplied
		r.UpdatedAt = at
		t.optimizations[id] = r
		moved = true
		return nil
	})
	return moved, err
}

func (s *Store) CancelOptimization(ctx context.Context, id string, at time.Time) (bool, error) {
	moved := false
	err := s.do(func(t *tables) error {
		r, ok := t.optimizations[id]
		if !ok || r.IsApplied {
			return nil
		}
		if r.Status != models.OptimizationCreated && r.Status != models.OptimizationInProgress {
			return nil
		}
		r.Status = models.OptimizationCanceled
		r.UpdatedAt = at
		t.optimizations[id] = r
		moved = true
		return nil
	})
	return moved, err
}

// --- settings -----------------------------------------------------------------

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	var out *models.SystemSetting
	err := s.do(func(t *tables) error {
		if it, ok := t.settings[strings.TrimSpace(key)]; ok {
			out = &it
		}
		return nil
	})
	return out, err
}

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if item == nil {
		return nil
	}
	return s.do(func(t *tables) error {
		now := time.Now().UTC()
		if existing, ok := t.settings[item.Key]; ok {
			item.ID = existing.ID
			item.CreatedAt = existing.CreatedAt
		} else {
			item.ID = t.id()
			item.CreatedAt = now
		}
		item.UpdatedAt = now
		t.settings[item.Key] = *item
		return nil
	})
}

func (s *Store) ListSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	var out []models.SystemSetting
	err := s.do(func(t *tables) error {
		for key, it := range t.settings {
			if params.Prefix != nil && !strings.HasPrefix(key, strings.TrimSpace(*params.Prefix)) {
				continue
			}
			out = append(out, it)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
		out = page(out, params.Limit, params.Offset, 200)
		return nil
	})
	return out, err
}

// --- snapshots & model health ---------------------------------------------------

func (s *Store) InsertPortfolioSnapshot(ctx context.Context, item *models.PortfolioSnapshot) error {
	if item == nil {
		return nil
	}
	return s.do(func(t *tables) error {
		key := item.PortfolioID + "|" + item.SnapshotAt.UTC().Format(time.RFC3339)
		if existing, ok := t.snapshots[key]; ok {
			item.ID = existing.ID
		} else {
			item.ID = t.id()
		}
		t.snapshots[key] = *item
		return nil
	})
}

func (s *Store) ListPortfolioSnapshots(ctx context.Context, params repository.ListPortfolioSnapshotsParams) ([]models.PortfolioSnapshot, error) {
	var out []models.PortfolioSnapshot
	err := s.do(func(t *tables) error {
		for _, it := range t.snapshots {
			if it.PortfolioID != params.PortfolioID {
				continue
			}
			if params.Since != nil && it.SnapshotAt.Before(*params.Since) {
				continue
			}
			if params.Until != nil && it.SnapshotAt.After(*params.Until) {
				continue
			}
			out = append(out, it)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].SnapshotAt.After(out[j].SnapshotAt) })
		out = page(out, params.Limit, params.Offset, 168)
		return nil
	})
	return out, err
}

func (s *Store) InsertModelHealthCheck(ctx context.Context, item *models.ModelHealthCheck) error {
	if item == nil {
		return nil
	}
	return s.do(func(t *tables) error {
		item.ID = t.id()
		t.healthChecks = append(t.healthChecks, *item)
		return nil
	})
}

func (s *Store) LatestModelHealthChecks(ctx context.Context) ([]models.ModelHealthCheck, error) {
	var out []models.ModelHealthCheck
	err := s.do(func(t *tables) error {
		latest := map[string]models.ModelHealthCheck{}
		for _, it := range t.healthChecks {
			if prev, ok := latest[it.Model]; !ok || !it.CheckedAt.Before(prev.CheckedAt) {
				latest[it.Model] = it
			}
		}
		for _, it := range latest {
			out = append(out, it)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
		return nil
	})
	return out, err
}

func page[T any](items []T, limit, offset, fallback int) []T {
	if limit <= 0 {
		limit = fallback
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

var _ repository.Repository = (*Store)(nil)

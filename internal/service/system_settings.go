package service

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"

	"investcore/internal/models"
	"investcore/internal/repository"
)

const (
	FeatureSettlementSweep      = "feature.settlement_sweep"
	FeaturePriceRefresh         = "feature.price_refresh"
	FeaturePortfolioSnapshot    = "feature.portfolio_snapshot"
	FeatureOptimizationExpiry   = "feature.optimization_expiry"
	FeatureModelHealth          = "feature.model_health"
	FeaturePriceStream          = "feature.price_stream"
	FeatureOptimizationRequests = "feature.optimization_requests"
)

func DefaultFeatureSwitches() map[string]bool {
	return map[string]bool{
		FeatureSettlementSweep:      true,
		FeaturePriceRefresh:         true,
		FeaturePortfolioSnapshot:    true,
		FeatureOptimizationExpiry:   true,
		FeatureModelHealth:          true,
		FeaturePriceStream:          false,
		FeatureOptimizationRequests: true,
	}
}

func IsFeatureKey(key string) bool {
	_, ok := DefaultFeatureSwitches()[strings.TrimSpace(key)]
	return ok
}

type SystemSettingsService struct {
	Repo repository.SettingsRepository
}

// EnsureDefaultSwitches inserts missing feature switches. Stored values win.
func (s *SystemSettingsService) EnsureDefaultSwitches(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	keys := make([]string, 0, len(DefaultFeatureSwitches()))
	for key := range DefaultFeatureSwitches() {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	now := time.Now().UTC()
	for _, key := range keys {
		existing, err := s.Repo.GetSystemSettingByKey(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		raw, _ := json.Marshal(DefaultFeatureSwitches()[key])
		item := &models.SystemSetting{
			Key:         key,
			Value:       datatypes.JSON(raw),
			Description: "feature switch",
			UpdatedBy:   "system",
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.Repo.UpsertSystemSetting(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// IsEnabled reads a JSON bool switch, returning fallback when the key is
// missing or unreadable.
func (s *SystemSettingsService) IsEnabled(ctx context.Context, key string, fallback bool) bool {
	if s == nil || s.Repo == nil {
		return fallback
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fallback
	}
	item, err := s.Repo.GetSystemSettingByKey(ctx, key)
	if err != nil || item == nil || len(item.Value) == 0 {
		return fallback
	}
	var enabled bool
	if err := json.Unmarshal(item.Value, &enabled); err != nil {
		return fallback
	}
	return enabled
}

func (s *SystemSettingsService) SetEnabled(ctx context.Context, key string, enabled bool, updatedBy string) (*models.SystemSetting, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	raw, _ := json.Marshal(enabled)
	item := &models.SystemSetting{
		Key:         key,
		Value:       datatypes.JSON(raw),
		Description: "feature switch",
		UpdatedBy:   strings.TrimSpace(updatedBy),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.Repo.UpsertSystemSetting(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *SystemSettingsService) List(ctx context.Context) ([]models.SystemSetting, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	prefix := "feature."
	return s.Repo.ListSystemSettings(ctx, repository.ListSystemSettingsParams{Limit: 200, Prefix: &prefix})
}

package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type OptimizationStatus string

const (
	OptimizationCreated    OptimizationStatus = "created"
	OptimizationInProgress OptimizationStatus = "in_progress"
	OptimizationApplied    OptimizationStatus = "applied"
	OptimizationCanceled   OptimizationStatus = "canceled"
	OptimizationFailed     OptimizationStatus = "failed"
)

// Recommendation is one per-symbol target inside an optimization record.
type Recommendation struct {
	Symbol          string          `json:"symbol"`
	Action          string          `json:"action"`
	CurrentQuantity decimal.Decimal `json:"current_quantity"`
	TargetQuantity  decimal.Decimal `json:"target_quantity"`
	CurrentWeight   decimal.Decimal `json:"current_weight"`
	TargetWeight    decimal.Decimal `json:"target_weight"`
	Explanation     string          `json:"explanation,omitempty"`
}

// OptimizationRecord tracks one optimization request. At most one record per
// (user_id, portfolio_id) is in_progress; the partial unique index enforces it
// on postgres.
type OptimizationRecord struct {
	ID          string `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      string `gorm:"type:varchar(64);not null;index:idx_optimizations_owner,priority:1;uniqueIndex:ux_optimizations_in_progress,priority:1,where:status = 'in_progress'" json:"user_id"`
	PortfolioID string `gorm:"type:uuid;not null;index:idx_optimizations_owner,priority:2;uniqueIndex:ux_optimizations_in_progress,priority:2,where:status = 'in_progress'" json:"portfolio_id"`

	Timestamp time.Time          `gorm:"type:timestamptz;not null;index" json:"timestamp"`
	Status    OptimizationStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	Model     string             `gorm:"type:varchar(32)" json:"model,omitempty"`

	Confidence      decimal.Decimal `gorm:"type:numeric(10,6);not null;default:0" json:"confidence"`
	Explanation     string          `gorm:"type:text" json:"explanation,omitempty"`
	Metrics         datatypes.JSON  `gorm:"type:jsonb" json:"metrics,omitempty"`
	Recommendations datatypes.JSON  `gorm:"type:jsonb" json:"recommendations,omitempty"`

	IsApplied     bool       `gorm:"not null;default:false" json:"is_applied"`
	AppliedAt     *time.Time `gorm:"type:timestamptz;index" json:"applied_at,omitempty"`
	FailureReason string     `gorm:"type:text" json:"failure_reason,omitempty"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (OptimizationRecord) TableName() string {
	return "optimization_records"
}

func (r *OptimizationRecord) BeforeCreate(tx *gorm.DB) error {
	r.EnsureID()
	return nil
}

func (r *OptimizationRecord) EnsureID() {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
}

func (r *OptimizationRecord) RecommendationList() ([]Recommendation, error) {
	if r == nil || len(r.Recommendations) == 0 {
		return nil, nil
	}
	var out []Recommendation
	if err := json.Unmarshal(r.Recommendations, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *OptimizationRecord) SetRecommendations(items []Recommendation) error {
	if items == nil {
		items = []Recommendation{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return err
	}
	r.Recommendations = datatypes.JSON(raw)
	return nil
}

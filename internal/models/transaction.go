package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type TransactionType string

const (
	TransactionBuy  TransactionType = "buy"
	TransactionSell TransactionType = "sell"
)

func (t TransactionType) Valid() bool {
	return t == TransactionBuy || t == TransactionSell
}

type TriggeredBy string

const (
	TriggeredByUser TriggeredBy = "user"
	TriggeredByAI   TriggeredBy = "ai"
)

func (t TriggeredBy) Valid() bool {
	return t == TriggeredByUser || t == TriggeredByAI
}

type TransactionStatus string

const (
	TransactionOnHold    TransactionStatus = "on_hold"
	TransactionSucceeded TransactionStatus = "succeeded"
	TransactionFailed    TransactionStatus = "failed"
	TransactionCanceled  TransactionStatus = "canceled"
)

func (s TransactionStatus) Terminal() bool {
	switch s {
	case TransactionSucceeded, TransactionFailed, TransactionCanceled:
		return true
	}
	return false
}

type Transaction struct {
	ID          string `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      string `gorm:"type:varchar(64);not null;index" json:"user_id"`
	PortfolioID string `gorm:"type:uuid;not null;index" json:"portfolio_id"`
	Symbol      string `gorm:"type:varchar(32);not null;index" json:"symbol"`

	Quantity      decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"quantity"`
	PricePerShare decimal.Decimal `gorm:"type:numeric(20,10);not null" json:"price_per_share"`
	Value         decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"value"`

	Type        TransactionType   `gorm:"type:varchar(8);not null" json:"type"`
	TriggeredBy TriggeredBy       `gorm:"type:varchar(8);not null;default:'user'" json:"triggered_by"`
	Status      TransactionStatus `gorm:"type:varchar(16);not null;default:'on_hold';index:idx_transactions_status_created,priority:1" json:"status"`

	FailureReason  string  `gorm:"type:text" json:"failure_reason,omitempty"`
	OptimizationID *string `gorm:"type:uuid;index" json:"optimization_id,omitempty"`

	CreatedAt time.Time  `gorm:"type:timestamptz;not null;index:idx_transactions_status_created,priority:2" json:"created_at"`
	SettledAt *time.Time `gorm:"type:timestamptz" json:"settled_at,omitempty"`
	UpdatedAt time.Time  `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}

func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	t.EnsureID()
	return nil
}

func (t *Transaction) EnsureID() {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Holding is a portfolio's position in one symbol. A row never carries a zero
// quantity: the ledger deletes it instead.
type Holding struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	PortfolioID string `gorm:"type:uuid;not null;uniqueIndex:ux_holdings_portfolio_symbol,priority:1" json:"portfolio_id"`
	Symbol      string `gorm:"type:varchar(32);not null;uniqueIndex:ux_holdings_portfolio_symbol,priority:2;index" json:"symbol"`

	Quantity      decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"quantity"`
	CostBasis     decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"cost_basis"`
	MarketValue   decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"market_value"`
	ChangePercent decimal.Decimal `gorm:"type:numeric(20,4);not null;default:0" json:"change_percent"`
	LastPrice     decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0" json:"last_price"`

	LastUpdated time.Time `gorm:"type:timestamptz;not null" json:"last_updated"`
	CreatedAt   time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
}

func (Holding) TableName() string {
	return "holdings"
}

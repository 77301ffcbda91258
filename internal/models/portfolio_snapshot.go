package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PortfolioSnapshot is an hourly mark of one portfolio's totals.
type PortfolioSnapshot struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	PortfolioID string    `gorm:"type:uuid;not null;uniqueIndex:ux_snapshots_portfolio_at,priority:1" json:"portfolio_id"`
	SnapshotAt  time.Time `gorm:"type:timestamptz;not null;uniqueIndex:ux_snapshots_portfolio_at,priority:2" json:"snapshot_at"`

	TotalHoldings  int             `gorm:"not null" json:"total_holdings"`
	TotalCostBasis decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"total_cost_basis"`
	TotalMarketVal decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"total_market_value"`
	UnrealizedPnL  decimal.Decimal `gorm:"column:unrealized_pnl;type:numeric(30,10);not null" json:"unrealized_pnl"`
	ChangePercent  decimal.Decimal `gorm:"type:numeric(20,4);not null;default:0" json:"change_percent"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
}

func (PortfolioSnapshot) TableName() string {
	return "portfolio_snapshots"
}

package models

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Portfolio struct {
	ID     string `gorm:"type:uuid;primaryKey" json:"id"`
	UserID string `gorm:"type:varchar(64);not null;index" json:"user_id"`
	Name   string `gorm:"type:varchar(200);not null" json:"name"`

	Holdings []Holding `gorm:"foreignKey:PortfolioID;references:ID" json:"holdings,omitempty"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (Portfolio) TableName() string {
	return "portfolios"
}

func (p *Portfolio) BeforeCreate(tx *gorm.DB) error {
	p.EnsureID()
	return nil
}

func (p *Portfolio) EnsureID() {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
}

// Symbols returns the distinct, sorted symbols of the loaded holdings.
func (p *Portfolio) Symbols() []string {
	if p == nil {
		return nil
	}
	seen := map[string]struct{}{}
	out := make([]string, 0, len(p.Holdings))
	for _, h := range p.Holdings {
		sym := NormalizeSymbol(h.Symbol)
		if sym == "" {
			continue
		}
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

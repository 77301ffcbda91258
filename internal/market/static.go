package market

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"investcore/internal/models"
)

// Static is an Oracle with fixed prices and an open flag, for tests and the
// memory-backed dev mode.
type Static struct {
	mu     sync.RWMutex
	open   bool
	prices map[string]decimal.Decimal
}

func NewStatic(open bool, prices map[string]decimal.Decimal) *Static {
	s := &Static{open: open, prices: map[string]decimal.Decimal{}}
	for sym, p := range prices {
		s.prices[models.NormalizeSymbol(sym)] = p
	}
	return s
}

func (s *Static) SetOpen(open bool) {
	s.mu.Lock()
	s.open = open
	s.mu.Unlock()
}

func (s *Static) SetPrice(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	s.prices[models.NormalizeSymbol(symbol)] = price
	s.mu.Unlock()
}

func (s *Static) IsMarketOpen(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.open, nil
}

func (s *Static) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[models.NormalizeSymbol(symbol)]
	if !ok || !p.IsPositive() {
		return decimal.Zero, ErrPriceUnavailable
	}
	return p, nil
}

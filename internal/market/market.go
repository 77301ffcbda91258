// Package market answers two questions for the settlement core: is the
// market open, and what does a symbol trade at right now.
package market

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrPriceUnavailable is returned when no current price can be obtained.
var ErrPriceUnavailable = errors.New("price unavailable")

type Oracle interface {
	IsMarketOpen(ctx context.Context) (bool, error)
	CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

type Quote struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	At     time.Time       `json:"at"`
}

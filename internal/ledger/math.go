package ledger

import (
	"github.com/shopspring/decimal"

	"investcore/internal/models"
)

const (
	amountPlaces  = 10
	percentPlaces = 4
)

var hundred = decimal.NewFromInt(100)

// ChangePercent is (marketValue - costBasis) / costBasis * 100, or zero when
// there is no cost basis to compare against.
func ChangePercent(marketValue, costBasis decimal.Decimal) decimal.Decimal {
	if costBasis.IsZero() {
		return decimal.Zero
	}
	return marketValue.Sub(costBasis).Div(costBasis).Mul(hundred).Round(percentPlaces)
}

func mark(h *models.Holding, price decimal.Decimal) {
	if price.IsPositive() {
		h.LastPrice = price
	}
	if h.LastPrice.IsPositive() {
		h.MarketValue = h.Quantity.Mul(h.LastPrice).Round(amountPlaces)
	}
	h.ChangePercent = ChangePercent(h.MarketValue, h.CostBasis)
}

// buy adds qty at pricePerShare to h; cost basis accumulates the paid value.
func buy(h *models.Holding, qty, pricePerShare, currentPrice decimal.Decimal) {
	h.Quantity = h.Quantity.Add(qty)
	h.CostBasis = h.CostBasis.Add(qty.Mul(pricePerShare)).Round(amountPlaces)
	mark(h, currentPrice)
}

// sell removes qty from h, reducing cost basis by the sold fraction. It
// reports whether the position is now empty. Caller checks qty <= h.Quantity.
func sell(h *models.Holding, qty, currentPrice decimal.Decimal) bool {
	remaining := h.Quantity.Sub(qty)
	if !remaining.IsPositive() {
		h.Quantity = decimal.Zero
		h.CostBasis = decimal.Zero
		h.MarketValue = decimal.Zero
		h.ChangePercent = decimal.Zero
		return true
	}
	sold := h.CostBasis.Mul(qty).Div(h.Quantity)
	h.CostBasis = h.CostBasis.Sub(sold).Round(amountPlaces)
	h.Quantity = remaining
	mark(h, currentPrice)
	return false
}

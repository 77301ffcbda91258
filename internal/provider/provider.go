// Package provider talks to the external optimization and prediction
// services. Nothing here touches holdings; callers persist the results.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"investcore/internal/models"
)

var ErrEmptyResult = errors.New("optimizer returned no recommendations")

// Optimizer produces rebalancing recommendations for a portfolio's symbols.
type Optimizer interface {
	Optimize(ctx context.Context, portfolioID string, symbols []string) (*Result, error)
}

type Result struct {
	Recommendations []models.Recommendation `json:"recommendations"`
	Confidence      decimal.Decimal         `json:"confidence"`
	Explanation     string                  `json:"explanation"`
	Metrics         map[string]any          `json:"metrics,omitempty"`
	Model           string                  `json:"model,omitempty"`
}

// normalize upper-cases symbols and rejects results that are unusable by the
// apply step: no recommendations, blank symbols, negative targets or symbols
// listed twice.
func (r *Result) normalize() error {
	if r == nil || len(r.Recommendations) == 0 {
		return ErrEmptyResult
	}
	seen := make(map[string]struct{}, len(r.Recommendations))
	for i := range r.Recommendations {
		rec := &r.Recommendations[i]
		rec.Symbol = models.NormalizeSymbol(rec.Symbol)
		if rec.Symbol == "" {
			return fmt.Errorf("recommendation %d has no symbol", i)
		}
		if rec.TargetQuantity.IsNegative() {
			return fmt.Errorf("recommendation %s has negative target %s", rec.Symbol, rec.TargetQuantity)
		}
		if _, ok := seen[rec.Symbol]; ok {
			return fmt.Errorf("recommendation %s listed twice", rec.Symbol)
		}
		seen[rec.Symbol] = struct{}{}
		rec.Action = strings.ToLower(strings.TrimSpace(rec.Action))
		if rec.Action == "" {
			rec.Action = actionFor(rec.CurrentQuantity, rec.TargetQuantity)
		}
	}
	return nil
}

func actionFor(current, target decimal.Decimal) string {
	switch target.Cmp(current) {
	case 1:
		return "buy"
	case -1:
		return "sell"
	default:
		return "hold"
	}
}

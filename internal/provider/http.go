package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"resty.dev/v3"

	"investcore/internal/config"
)

const _optimizeURL = "/v1/optimize"

type optimizeRequest struct {
	PortfolioID string   `json:"portfolio_id"`
	Symbols     []string `json:"symbols"`
	Model       string   `json:"model,omitempty"`
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (e *apiError) text() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

// HTTPOptimizer calls a REST optimization service.
type HTTPOptimizer struct {
	client  *resty.Client
	limiter *rate.Limiter
	model   ModelKind
}

func NewHTTPOptimizer(cfg config.ProviderConfig, model ModelKind, logger *zap.Logger) (*HTTPOptimizer, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("provider base url is empty")
	}
	client := resty.New().
		SetBaseURL(base).
		SetTimeout(cfg.Timeout)
	if logger != nil {
		client.SetLogger(logger.Sugar())
	}
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &HTTPOptimizer{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		model:   model,
	}, nil
}

func (o *HTTPOptimizer) Close() error {
	return o.client.Close()
}

func (o *HTTPOptimizer) Optimize(ctx context.Context, portfolioID string, symbols []string) (*Result, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("optimizer rate limit: %w", err)
	}
	started := time.Now()
	resp, err := o.client.R().
		SetBody(optimizeRequest{PortfolioID: portfolioID, Symbols: symbols, Model: string(o.model)}).
		SetResult(&Result{}).
		SetError(&apiError{}).
		SetContext(ctx).
		Post(_optimizeURL)
	if err != nil {
		return nil, fmt.Errorf("optimize request: %w", err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		msg := resp.Status()
		if e, ok := resp.Error().(*apiError); ok && e.text() != "" {
			msg = e.text()
		}
		return nil, fmt.Errorf("optimize: %s", msg)
	}
	out := resp.Result().(*Result)
	if err := out.normalize(); err != nil {
		return nil, err
	}
	if out.Model == "" {
		out.Model = string(o.model)
	}
	if out.Metrics == nil {
		out.Metrics = map[string]any{}
	}
	out.Metrics["latency_ms"] = time.Since(started).Milliseconds()
	return out, nil
}

package market

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"resty.dev/v3"

	"investcore/internal/config"
	"investcore/internal/models"
)

const defaultFetchTimeout = 10 * time.Second

const (
	_quoteURL        = "/v1/quotes/{symbol}"
	_marketStatusURL = "/v1/market/status"
)

type quoteResponse struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

type statusResponse struct {
	IsOpen bool `json:"is_open"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// HTTPOracle reads quotes from a REST quote service. Lookups are cached,
// coalesced per symbol and rate limited. Market hours come from the remote
// status endpoint, falling back to the configured session when it fails.
type HTTPOracle struct {
	client  *resty.Client
	limiter ratelimit.Limiter
	cache   PriceCache
	ttl     time.Duration
	timeout time.Duration
	session *Session
	logger  *zap.Logger

	group singleflight.Group
}

func NewHTTPOracle(cfg config.MarketConfig, cache PriceCache, session *Session, logger *zap.Logger) *HTTPOracle {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout)
	if logger != nil {
		client.SetLogger(logger.Sugar())
	}
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 120
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &HTTPOracle{
		client:  client,
		limiter: ratelimit.New(perMinute, ratelimit.Per(time.Minute)),
		cache:   cache,
		ttl:     cfg.PriceTTL,
		timeout: timeout,
		session: session,
		logger:  logger,
	}
}

func (o *HTTPOracle) Close() error {
	return o.client.Close()
}

func (o *HTTPOracle) IsMarketOpen(ctx context.Context) (bool, error) {
	open, err := o.remoteStatus(ctx)
	if err == nil {
		return open, nil
	}
	if o.session == nil {
		return false, err
	}
	if o.logger != nil {
		o.logger.Warn("market status lookup failed, using session hours", zap.Error(err))
	}
	return o.session.OpenAt(time.Now()), nil
}

// take waits for a rate limit slot or until ctx is done. A slot claimed after
// ctx is done is spent by the waiting goroutine.
func (o *HTTPOracle) take(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.limiter.Take()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *HTTPOracle) remoteStatus(ctx context.Context) (bool, error) {
	if err := o.take(ctx); err != nil {
		return false, fmt.Errorf("market status request: %w", err)
	}
	resp, err := o.client.R().
		SetResult(&statusResponse{}).
		SetError(&errorResponse{}).
		SetContext(ctx).
		Get(_marketStatusURL)
	if err != nil {
		return false, fmt.Errorf("market status request: %w", err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return false, fmt.Errorf("market status: %s", errMessage(resp))
	}
	return resp.Result().(*statusResponse).IsOpen, nil
}

func (o *HTTPOracle) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	sym := models.NormalizeSymbol(symbol)
	if sym == "" {
		return decimal.Zero, ErrPriceUnavailable
	}
	if q, ok, err := o.cache.Get(ctx, sym); err == nil && ok && q.Price.IsPositive() {
		return q.Price, nil
	}
	// The shared fetch outlives any single caller; each caller waits on its
	// own ctx.
	ch := o.group.DoChan(sym, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
		defer cancel()
		return o.fetch(fctx, sym)
	})
	select {
	case <-ctx.Done():
		return decimal.Zero, fmt.Errorf("%w: quote %s: %w", ErrPriceUnavailable, sym, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return decimal.Zero, res.Err
		}
		return res.Val.(decimal.Decimal), nil
	}
}

func (o *HTTPOracle) fetch(ctx context.Context, sym string) (decimal.Decimal, error) {
	if err := o.take(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("%w: quote %s: %v", ErrPriceUnavailable, sym, err)
	}
	resp, err := o.client.R().
		SetPathParam("symbol", sym).
		SetResult(&quoteResponse{}).
		SetError(&errorResponse{}).
		SetContext(ctx).
		Get(_quoteURL)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: quote %s: %v", ErrPriceUnavailable, sym, err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return decimal.Zero, fmt.Errorf("%w: quote %s: %s", ErrPriceUnavailable, sym, errMessage(resp))
	}
	q := resp.Result().(*quoteResponse)
	if !q.Price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: quote %s has no price", ErrPriceUnavailable, sym)
	}
	at := q.Timestamp
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if err := o.cache.Set(ctx, Quote{Symbol: sym, Price: q.Price, At: at}, o.ttl); err != nil && o.logger != nil {
		o.logger.Debug("price cache set failed", zap.String("symbol", sym), zap.Error(err))
	}
	return q.Price, nil
}

func errMessage(resp *resty.Response) string {
	if e, ok := resp.Error().(*errorResponse); ok && e != nil && e.Message != "" {
		return e.Message
	}
	return resp.Status()
}

package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"investcore/internal/models"
)

// SymbolProvider lists the symbols the feed should follow.
type SymbolProvider func(context.Context) ([]string, error)

type subscribeRequest struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

type tickMessage struct {
	Type      string          `json:"type"`
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

type StreamOptions struct {
	URL               string
	Symbols           SymbolProvider
	RefreshInterval   time.Duration
	HeartbeatInterval time.Duration
	PingTimeout       time.Duration
	BackoffMin        time.Duration
	BackoffMax        time.Duration
	PriceTTL          time.Duration
}

// StreamFeed keeps a PriceCache warm from a websocket tick stream so that
// settlement rarely needs a REST round trip.
type StreamFeed struct {
	opts   StreamOptions
	cache  PriceCache
	logger *zap.Logger
}

func NewStreamFeed(opts StreamOptions, cache PriceCache, logger *zap.Logger) *StreamFeed {
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = 20 * time.Second
	}
	if opts.PingTimeout == 0 {
		opts.PingTimeout = 5 * time.Second
	}
	if opts.BackoffMin == 0 {
		opts.BackoffMin = time.Second
	}
	if opts.BackoffMax == 0 {
		opts.BackoffMax = 30 * time.Second
	}
	if opts.RefreshInterval == 0 {
		opts.RefreshInterval = time.Minute
	}
	return &StreamFeed{opts: opts, cache: cache, logger: logger}
}

// Run connects, subscribes and applies ticks until ctx is done, reconnecting
// with jittered backoff.
func (f *StreamFeed) Run(ctx context.Context) error {
	if f == nil || f.cache == nil {
		return fmt.Errorf("stream feed not configured")
	}
	if strings.TrimSpace(f.opts.URL) == "" {
		return fmt.Errorf("stream url is empty")
	}
	backoff := f.opts.BackoffMin
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := f.session(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return err
		}
		if f.logger != nil {
			f.logger.Warn("price stream disconnected", zap.Error(err), zap.Duration("backoff", backoff))
		}
		if err := sleepWithJitter(ctx, backoff); err != nil {
			return err
		}
		backoff = nextBackoff(backoff, f.opts.BackoffMax)
	}
}

func (f *StreamFeed) session(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, f.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(1 << 20)
	defer conn.Close(websocket.StatusNormalClosure, "reconnect")

	symbols, err := f.symbols(ctx)
	if err != nil {
		return err
	}
	if err := subscribe(ctx, conn, "subscribe", symbols); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if f.logger != nil {
		f.logger.Info("price stream subscribed", zap.Int("symbols", len(symbols)))
	}

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 2)
	go f.heartbeat(sessCtx, conn, errCh)
	go f.refresh(sessCtx, conn, setFromSlice(symbols), errCh)

	for {
		select {
		case err := <-errCh:
			return err
		default:
		}
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		f.apply(ctx, data)
	}
}

func (f *StreamFeed) symbols(ctx context.Context) ([]string, error) {
	if f.opts.Symbols == nil {
		return nil, nil
	}
	ids, err := f.opts.Symbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("list symbols: %w", err)
	}
	return ids, nil
}

func (f *StreamFeed) apply(ctx context.Context, data []byte) {
	var msg tickMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if msg.Type != "" && !strings.EqualFold(msg.Type, "tick") {
		return
	}
	sym := models.NormalizeSymbol(msg.Symbol)
	if sym == "" || !msg.Price.IsPositive() {
		return
	}
	at := msg.Timestamp
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if err := f.cache.Set(ctx, Quote{Symbol: sym, Price: msg.Price, At: at}, f.opts.PriceTTL); err != nil && f.logger != nil {
		f.logger.Debug("price stream cache set failed", zap.String("symbol", sym), zap.Error(err))
	}
}

func (f *StreamFeed) heartbeat(ctx context.Context, conn *websocket.Conn, errCh chan<- error) {
	ticker := time.NewTicker(f.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, f.opts.PingTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				errCh <- fmt.Errorf("ping: %w", err)
				return
			}
		}
	}
}

func (f *StreamFeed) refresh(ctx context.Context, conn *websocket.Conn, current map[string]struct{}, errCh chan<- error) {
	if f.opts.Symbols == nil {
		return
	}
	ticker := time.NewTicker(f.opts.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := f.opts.Symbols(ctx)
			if err != nil {
				continue
			}
			next := setFromSlice(ids)
			added, removed := diffSets(current, next)
			if len(added) > 0 {
				if err := subscribe(ctx, conn, "subscribe", added); err != nil {
					errCh <- err
					return
				}
			}
			if len(removed) > 0 {
				if err := subscribe(ctx, conn, "unsubscribe", removed); err != nil {
					errCh <- err
					return
				}
			}
			current = next
		}
	}
}

func subscribe(ctx context.Context, conn *websocket.Conn, action string, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	payload, err := json.Marshal(subscribeRequest{Action: action, Symbols: symbols})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func sleepWithJitter(ctx context.Context, base time.Duration) error {
	if base <= 0 {
		return nil
	}
	jitter := time.Duration(0)
	if half := int64(base / 2); half > 0 {
		jitter = time.Duration(rand.Int63n(half))
	}
	timer := time.NewTimer(base + jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func setFromSlice(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, item := range items {
		item = models.NormalizeSymbol(item)
		if item == "" {
			continue
		}
		out[item] = struct{}{}
	}
	return out
}

func diffSets(current, next map[string]struct{}) ([]string, []string) {
	added := make([]string, 0)
	removed := make([]string, 0)
	for key := range next {
		if _, ok := current[key]; !ok {
			added = append(added, key)
		}
	}
	for key := range current {
		if _, ok := next[key]; !ok {
			removed = append(removed, key)
		}
	}
	return added, removed
}

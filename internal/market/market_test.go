package market

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"investcore/internal/config"
)

func newYorkSession(t *testing.T) *Session {
	t.Helper()
	s, err := NewSession(config.SessionConfig{Open: "09:30", Close: "16:00", Timezone: "America/New_York"}, false)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

func TestSession_OpenAt(t *testing.T) {
	s := newYorkSession(t)
	loc, _ := time.LoadLocation("America/New_York")

	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before open", time.Date(2024, 3, 5, 9, 29, 0, 0, loc), false},
		{"at open", time.Date(2024, 3, 5, 9, 30, 0, 0, loc), true},
		{"midday", time.Date(2024, 3, 5, 12, 0, 0, 0, loc), true},
		{"at close", time.Date(2024, 3, 5, 16, 0, 0, 0, loc), false},
		{"saturday", time.Date(2024, 3, 9, 12, 0, 0, 0, loc), false},
		{"utc midday tuesday", time.Date(2024, 3, 5, 17, 0, 0, 0, time.UTC), true},
	}
	for _, tc := range cases {
		if got := s.OpenAt(tc.at); got != tc.want {
			t.Fatalf("%s: open=%v want=%v", tc.name, got, tc.want)
		}
	}
}

func TestSession_Invalid(t *testing.T) {
	if _, err := NewSession(config.SessionConfig{Open: "16:00", Close: "09:30"}, false); err == nil {
		t.Fatalf("expected error for close before open")
	}
	if _, err := NewSession(config.SessionConfig{Open: "9am", Close: "16:00"}, false); err == nil {
		t.Fatalf("expected error for bad clock")
	}
}

func TestSession_AlwaysOpen(t *testing.T) {
	s, err := NewSession(config.SessionConfig{Open: "09:30", Close: "16:00"}, true)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if !s.OpenAt(time.Date(2024, 3, 9, 3, 0, 0, 0, time.UTC)) {
		t.Fatalf("always-open session reported closed")
	}
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_ = c.Set(ctx, Quote{Symbol: "AAPL", Price: decimal.NewFromInt(150)}, time.Minute)
	q, ok, _ := c.Get(ctx, "AAPL")
	if !ok || !q.Price.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("quote=%v ok=%v", q, ok)
	}
	now = now.Add(2 * time.Minute)
	if _, ok, _ := c.Get(ctx, "AAPL"); ok {
		t.Fatalf("expected expired entry")
	}
}

func TestStatic_MissingPrice(t *testing.T) {
	s := NewStatic(true, map[string]decimal.Decimal{"aapl": decimal.NewFromInt(150)})
	if p, err := s.CurrentPrice(context.Background(), "AAPL"); err != nil || !p.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("price=%s err=%v", p, err)
	}
	if _, err := s.CurrentPrice(context.Background(), "MSFT"); !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("err=%v want=ErrPriceUnavailable", err)
	}
}

func TestHTTPOracle_CurrentPriceCaches(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/quotes/AAPL":
			hits.Add(1)
			_, _ = w.Write([]byte(`{"symbol":"AAPL","price":"150.25"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"unknown symbol"}`))
		}
	}))
	defer srv.Close()

	o := NewHTTPOracle(config.MarketConfig{BaseURL: srv.URL, Timeout: time.Second, RatePerMinute: 6000, PriceTTL: time.Minute}, nil, nil, zap.NewNop())
	defer o.Close()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		p, err := o.CurrentPrice(ctx, "aapl")
		if err != nil {
			t.Fatalf("CurrentPrice: %v", err)
		}
		if !p.Equal(decimal.RequireFromString("150.25")) {
			t.Fatalf("price=%s want=150.25", p)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("hits=%d want=1", hits.Load())
	}

	if _, err := o.CurrentPrice(ctx, "ZZZZ"); !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("err=%v want=ErrPriceUnavailable", err)
	}
}

func TestHTTPOracle_CanceledCallerDoesNotFailSharedFetch(t *testing.T) {
	var hits atomic.Int32
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"symbol":"MSFT","price":"410"}`))
	}))
	defer srv.Close()
	defer close(release)

	o := NewHTTPOracle(config.MarketConfig{BaseURL: srv.URL, Timeout: 5 * time.Second, RatePerMinute: 6000, PriceTTL: time.Minute}, nil, nil, zap.NewNop())
	defer o.Close()

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := o.CurrentPrice(firstCtx, "MSFT")
		firstErr <- err
	}()
	<-started
	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) || !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("first err=%v want canceled price unavailable", err)
	}

	type result struct {
		price decimal.Decimal
		err   error
	}
	second := make(chan result, 1)
	go func() {
		p, err := o.CurrentPrice(context.Background(), "MSFT")
		second <- result{p, err}
	}()
	time.Sleep(100 * time.Millisecond)
	release <- struct{}{}

	got := <-second
	if got.err != nil {
		t.Fatalf("second caller err=%v", got.err)
	}
	if !got.price.Equal(decimal.RequireFromString("410")) {
		t.Fatalf("price=%s want=410", got.price)
	}
	if hits.Load() != 1 {
		t.Fatalf("hits=%d want=1", hits.Load())
	}
}

func TestHTTPOracle_StatusFallsBackToSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	session, err := NewSession(config.SessionConfig{Open: "09:30", Close: "16:00"}, true)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	o := NewHTTPOracle(config.MarketConfig{BaseURL: srv.URL, Timeout: time.Second, RatePerMinute: 6000}, nil, session, zap.NewNop())
	defer o.Close()

	open, err := o.IsMarketOpen(context.Background())
	if err != nil || !open {
		t.Fatalf("open=%v err=%v", open, err)
	}
}

func TestHTTPOracle_RemoteStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"is_open":false}`))
	}))
	defer srv.Close()

	session, _ := NewSession(config.SessionConfig{Open: "09:30", Close: "16:00"}, true)
	o := NewHTTPOracle(config.MarketConfig{BaseURL: srv.URL, Timeout: time.Second, RatePerMinute: 6000}, nil, session, zap.NewNop())
	defer o.Close()

	open, err := o.IsMarketOpen(context.Background())
	if err != nil || open {
		t.Fatalf("open=%v err=%v want closed", open, err)
	}
}

func TestStreamFeed_WritesTicksToCache(t *testing.T) {
	subscribed := make(chan []string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var req subscribeRequest
		_ = json.Unmarshal(data, &req)
		subscribed <- req.Symbols
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"tick","symbol":"msft","price":"410.5"}`))
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	cache := NewMemoryCache()
	feed := NewStreamFeed(StreamOptions{
		URL:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		Symbols: func(context.Context) ([]string, error) { return []string{"MSFT"}, nil },
	}, cache, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	select {
	case syms := <-subscribed:
		if len(syms) != 1 || syms[0] != "MSFT" {
			t.Fatalf("subscribed=%v", syms)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no subscription received")
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		q, ok, _ := cache.Get(context.Background(), "MSFT")
		if ok {
			if !q.Price.Equal(decimal.RequireFromString("410.5")) {
				t.Fatalf("price=%s want=410.5", q.Price)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("tick never reached cache")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("run err=%v want=context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("feed did not stop")
	}
}

func TestDiffSets(t *testing.T) {
	added, removed := diffSets(setFromSlice([]string{"AAPL", "MSFT"}), setFromSlice([]string{"msft", "TSLA"}))
	if len(added) != 1 || added[0] != "TSLA" {
		t.Fatalf("added=%v", added)
	}
	if len(removed) != 1 || removed[0] != "AAPL" {
		t.Fatalf("removed=%v", removed)
	}
}

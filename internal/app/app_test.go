package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"investcore/internal/config"
	"investcore/internal/lock"
	"investcore/internal/market"
	"investcore/internal/optimization"
	"investcore/internal/service"
)

func memoryConfig() config.Config {
	return config.Config{
		Store:        config.StoreConfig{Backend: "memory"},
		Lock:         config.LockConfig{Backend: "local"},
		Market: config.MarketConfig{
			Cache:      "memory",
			AlwaysOpen: true,
			Session:    config.SessionConfig{Open: "09:30", Close: "16:00", Timezone: "UTC"},
		},
		Optimization: config.OptimizationConfig{Provider: "static", ApplyMode: "trades", CoolOff: time.Hour},
	}
}

func TestNew_MemoryBackend(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, memoryConfig(), zap.NewNop(), Options{})
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.DB)
	assert.IsType(t, &lock.Local{}, a.Locker)
	assert.IsType(t, &market.Static{}, a.Oracle)
	assert.Nil(t, a.Feed)
	assert.Equal(t, optimization.ApplyTrades, a.Optimizations.Engine.Mode)
	assert.Empty(t, a.ReadinessChecks())

	items, err := a.Settings.List(ctx)
	require.NoError(t, err)
	assert.Len(t, items, len(service.DefaultFeatureSwitches()))

	open, err := a.Oracle.IsMarketOpen(ctx)
	require.NoError(t, err)
	assert.True(t, open)

	require.NoError(t, a.RunPriceStream(ctx, time.Second))
}

func TestNew_RejectsUnknownBackends(t *testing.T) {
	cases := map[string]func(*config.Config){
		"store":    func(c *config.Config) { c.Store.Backend = "mongo" },
		"lock":     func(c *config.Config) { c.Lock.Backend = "zk" },
		"cache":    func(c *config.Config) { c.Market.Cache = "memcached" },
		"provider": func(c *config.Config) { c.Optimization.Provider = "oracle" },
		"mode":     func(c *config.Config) { c.Optimization.ApplyMode = "yolo" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := memoryConfig()
			mutate(&cfg)
			_, err := New(context.Background(), cfg, nil, Options{})
			assert.Error(t, err)
		})
	}
}

func TestNew_HTTPProviderNeedsBaseURL(t *testing.T) {
	cfg := memoryConfig()
	cfg.Optimization.Provider = "http"
	cfg.Optimization.Model = "apollo"
	_, err := New(context.Background(), cfg, nil, Options{})
	assert.Error(t, err)
}

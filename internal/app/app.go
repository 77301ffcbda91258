// Package app builds the service graph shared by the HTTP server and the ops
// CLI from one Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"investcore/internal/audit"
	"investcore/internal/config"
	"investcore/internal/db"
	"investcore/internal/ledger"
	"investcore/internal/lock"
	"investcore/internal/market"
	"investcore/internal/optimization"
	"investcore/internal/provider"
	"investcore/internal/repository"
	gormrepository "investcore/internal/repository/gorm"
	"investcore/internal/repository/memory"
	"investcore/internal/risk"
	"investcore/internal/service"
	"investcore/internal/settlement"
)

type App struct {
	Config config.Config
	Logger *zap.Logger

	DB     *db.DB
	Repo   repository.Repository
	Locker lock.Locker
	Cache  market.PriceCache
	Oracle market.Oracle
	Feed   *market.StreamFeed
	Audit  audit.Recorder

	Ledger        *ledger.Ledger
	Settings      *service.SystemSettingsService
	Portfolios    *service.PortfolioService
	Risk          *risk.Manager
	Settlement    *settlement.Service
	Optimizations *optimization.Manager
	Registry      *provider.Registry

	redisLock *lock.Redis
	closers   []func() error
}

// Options trims what New wires for short-lived callers.
type Options struct {
	// SkipMigrate leaves the schema untouched on startup.
	SkipMigrate bool
}

func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}
	if err := a.openStore(opts); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openLocker(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openMarket(); err != nil {
		a.Close()
		return nil, err
	}
	a.Audit = a.openAudit(ctx)

	a.Settings = &service.SystemSettingsService{Repo: a.Repo}
	if err := a.Settings.EnsureDefaultSwitches(ctx); err != nil {
		logger.Warn("init default feature switches failed", zap.Error(err))
	}
	a.Ledger = &ledger.Ledger{Repo: a.Repo, Locker: a.Locker, Logger: logger}
	a.Risk = &risk.Manager{Config: cfg.Risk, Repo: a.Repo, Logger: logger}
	a.Settlement = &settlement.Service{
		Repo:   a.Repo,
		Ledger: a.Ledger,
		Oracle: a.Oracle,
		Risk:   a.Risk,
		Audit:  a.Audit,
		Logger: logger,
	}
	a.Portfolios = &service.PortfolioService{
		Repo:   a.Repo,
		Ledger: a.Ledger,
		Oracle: a.Oracle,
		Flags:  a.Settings,
		Logger: logger,
	}
	a.Registry = provider.NewRegistryFromConfig(cfg.Models, a.Repo, logger)

	optimizer, err := a.openOptimizer(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	mode, err := optimization.ParseApplyMode(cfg.Optimization.ApplyMode)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Optimizations = &optimization.Manager{
		Repo:      a.Repo,
		Locker:    a.Locker,
		Optimizer: optimizer,
		Engine: &optimization.Engine{
			Repo:       a.Repo,
			Ledger:     a.Ledger,
			Settlement: a.Settlement,
			Mode:       mode,
			Logger:     logger,
		},
		Gate:            a.Settings,
		Audit:           a.Audit,
		Logger:          logger,
		CoolOff:         cfg.Optimization.CoolOff,
		ProviderTimeout: cfg.Optimization.ProviderTimeout,
		StaleAfter:      cfg.Optimization.StaleAfter,
		Model:           cfg.Optimization.Model,
	}
	return a, nil
}

func (a *App) openStore(opts Options) error {
	switch strings.ToLower(strings.TrimSpace(a.Config.Store.Backend)) {
	case "memory":
		a.Logger.Warn("using in-memory store; state is lost on exit")
		a.Repo = memory.New()
		return nil
	case "", "postgres":
	default:
		return fmt.Errorf("unknown store backend %q", a.Config.Store.Backend)
	}
	conn, err := db.Open(a.Config.DB)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	a.DB = conn
	a.closers = append(a.closers, func() error { return db.Close(conn) })
	if err := db.SetTimezone(conn, a.Config.DB.Timezone); err != nil {
		a.Logger.Warn("failed to set timezone", zap.Error(err))
	}
	if !opts.SkipMigrate {
		if err := db.AutoMigrate(conn); err != nil {
			return fmt.Errorf("auto-migrate: %w", err)
		}
	}
	a.Repo = gormrepository.New(conn.Gorm)
	return nil
}

func (a *App) redisOptions() *redis.Options {
	return &redis.Options{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	}
}

func (a *App) openLocker() error {
	switch strings.ToLower(strings.TrimSpace(a.Config.Lock.Backend)) {
	case "", "local":
		a.Locker = lock.NewLocal()
	case "redis":
		l := lock.NewRedis(a.redisOptions(), a.Config.Redis.KeyPrefix+"lock:", a.Config.Lock.TTL, a.Config.Lock.RetryInterval, a.Config.Lock.WaitTimeout)
		a.redisLock = l
		a.Locker = l
		a.closers = append(a.closers, l.Close)
	default:
		return fmt.Errorf("unknown lock backend %q", a.Config.Lock.Backend)
	}
	return nil
}

func (a *App) openMarket() error {
	cfg := a.Config.Market
	switch strings.ToLower(strings.TrimSpace(cfg.Cache)) {
	case "", "memory":
		a.Cache = market.NewMemoryCache()
	case "redis":
		c := market.NewRedisCache(a.redisOptions(), a.Config.Redis.KeyPrefix)
		a.Cache = c
		a.closers = append(a.closers, c.Client.Close)
	default:
		return fmt.Errorf("unknown market cache %q", cfg.Cache)
	}

	session, err := market.NewSession(cfg.Session, cfg.AlwaysOpen)
	if err != nil {
		return err
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		a.Logger.Warn("market.base_url is empty; using a static oracle without prices")
		a.Oracle = market.NewStatic(cfg.AlwaysOpen, nil)
	} else {
		o := market.NewHTTPOracle(cfg, a.Cache, session, a.Logger)
		a.Oracle = o
		a.closers = append(a.closers, o.Close)
	}

	if strings.TrimSpace(cfg.StreamURL) != "" {
		a.Feed = market.NewStreamFeed(market.StreamOptions{
			URL:      cfg.StreamURL,
			Symbols:  func(ctx context.Context) ([]string, error) { return a.Repo.ListHeldSymbols(ctx) },
			PriceTTL: cfg.PriceTTL,
		}, a.Cache, a.Logger)
	}
	return nil
}

func (a *App) openAudit(ctx context.Context) audit.Recorder {
	fallback := audit.Logger{L: a.Logger}
	cfg := a.Config.Audit
	if strings.TrimSpace(cfg.BaseURL) == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return fallback
	}
	c, err := audit.NewClient(cfg.BaseURL, cfg.APIKey, cfg.Agent, a.Logger)
	if err != nil {
		a.Logger.Warn("audit client disabled", zap.Error(err))
		return fallback
	}
	loginCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Login(loginCtx); err != nil {
		a.Logger.Warn("audit login failed (remote audit disabled)", zap.Error(err))
		_ = c.Close()
		return fallback
	}
	a.Logger.Info("audit login ok")
	a.closers = append(a.closers, c.Close)
	return c
}

func (a *App) openOptimizer(ctx context.Context) (provider.Optimizer, error) {
	switch strings.ToLower(strings.TrimSpace(a.Config.Optimization.Provider)) {
	case "", "http":
		kind, err := provider.ParseModelKind(a.Config.Optimization.Model)
		if err != nil {
			return nil, err
		}
		o, err := provider.NewHTTPOptimizer(a.Config.Provider, kind, a.Logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, o.Close)
		return o, nil
	case "gemini":
		key := os.Getenv(a.Config.Provider.GeminiAPIKeyEnv)
		return provider.NewGeminiOptimizer(ctx, key, a.Config.Provider.GeminiModel, a.Logger)
	case "static":
		a.Logger.Warn("static optimizer configured; every request will fail with an empty result")
		return provider.NewStatic(nil, nil), nil
	default:
		return nil, fmt.Errorf("unknown optimization provider %q", a.Config.Optimization.Provider)
	}
}

// ReadinessChecks probes the backing stores the App was built with.
func (a *App) ReadinessChecks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{}
	if a.DB != nil {
		checks["db"] = func(ctx context.Context) error { return db.Ping(ctx, a.DB) }
	}
	if a.redisLock != nil {
		checks["redis"] = a.redisLock.Ping
	}
	return checks
}

// RunPriceStream keeps the quote feed running while the price stream switch
// is on, polling the switch every interval. It returns when ctx is done.
func (a *App) RunPriceStream(ctx context.Context, interval time.Duration) error {
	if a.Feed == nil {
		return nil
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		stop func()
		done chan struct{}
	)
	halt := func() {
		if stop == nil {
			return
		}
		stop()
		<-done
		stop, done = nil, nil
		a.Logger.Info("price stream stopped")
	}
	defer halt()

	for {
		enabled := a.Settings.IsEnabled(ctx, service.FeaturePriceStream, false)
		switch {
		case enabled && stop == nil:
			feedCtx, cancel := context.WithCancel(ctx)
			ch := make(chan struct{})
			stop, done = cancel, ch
			go func() {
				defer close(ch)
				if err := a.Feed.Run(feedCtx); err != nil && !errors.Is(err, context.Canceled) {
					a.Logger.Warn("price stream exited", zap.Error(err))
				}
			}()
			a.Logger.Info("price stream started")
		case !enabled && stop != nil:
			halt()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close releases clients in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.Logger != nil {
			a.Logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}

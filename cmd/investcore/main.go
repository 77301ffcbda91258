package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"investcore/internal/app"
	"investcore/internal/audit"
	"investcore/internal/config"
	cronrunner "investcore/internal/cron"
	"investcore/internal/handler"
	"investcore/internal/logger"
	"investcore/internal/service"

	_ "investcore/docs"
)

func main() {
	dotenvErr := godotenv.Load()

	cfgPath := os.Getenv("IC_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("IC_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	if dotenvErr != nil {
		logger.Debug("no .env file loaded", zap.Error(dotenvErr))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Fatal("app init failed", zap.Error(err))
	}
	defer a.Close()

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())
	engine.Use(audit.RequireUserMiddleware())
	engine.Use(audit.InjectRecorderMiddleware(a.Audit))
	engine.Use(audit.WriteAuditMiddleware(a.Audit))

	checks := map[string]handler.Check{}
	for name, fn := range a.ReadinessChecks() {
		checks[name] = fn
	}
	healthHandler := &handler.HealthHandler{Checks: checks}
	healthHandler.Register(engine)
	handler.RegisterDocs(engine)

	portfolioHandler := &handler.PortfolioHandler{Portfolios: a.Portfolios}
	portfolioHandler.Register(engine)
	transactionHandler := &handler.TransactionHandler{Settlement: a.Settlement, Operators: cfg.Server.Operators}
	transactionHandler.Register(engine)
	optimizationHandler := &handler.OptimizationHandler{Manager: a.Optimizations}
	optimizationHandler.Register(engine)
	modelHandler := &handler.ModelHandler{Registry: a.Registry}
	modelHandler.Register(engine)
	settingsHandler := &handler.SettingsHandler{Settings: a.Settings}
	settingsHandler.Register(engine)

	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	baseCtx := audit.WithRecorder(ctx, a.Audit)

	if cfg.Cron.Enabled {
		cronRunner := cronrunner.New(logger, baseCtx, a.Settings)
		jobs := []cronrunner.Job{
			{
				Name:    "settle_pending",
				Spec:    cfg.Cron.SettlePending,
				Feature: service.FeatureSettlementSweep,
				Run: func(ctx context.Context) error {
					n, err := a.Settlement.SettlePending(ctx)
					if n > 0 {
						logger.Info("cron settled pending transactions", zap.Int("count", n))
					}
					return err
				},
			},
			{
				Name:    "price_refresh",
				Spec:    cfg.Cron.PriceRefresh,
				Feature: service.FeaturePriceRefresh,
				Run: func(ctx context.Context) error {
					_, err := a.Portfolios.RefreshPrices(ctx)
					return err
				},
			},
			{
				Name:    "portfolio_snapshot",
				Spec:    cfg.Cron.PortfolioSnapshot,
				Feature: service.FeaturePortfolioSnapshot,
				Run: func(ctx context.Context) error {
					_, err := a.Portfolios.SnapshotPortfolios(ctx)
					return err
				},
			},
			{
				Name:    "stale_optimizations",
				Spec:    cfg.Cron.StaleOptimizations,
				Feature: service.FeatureOptimizationExpiry,
				Run: func(ctx context.Context) error {
					n, err := a.Optimizations.ExpireStale(ctx)
					if n > 0 {
						logger.Warn("cron expired stale optimizations", zap.Int("count", n))
					}
					return err
				},
			},
			{
				Name:    "model_health",
				Spec:    cfg.Cron.ModelHealth,
				Feature: service.FeatureModelHealth,
				Run: func(ctx context.Context) error {
					_, err := a.Registry.HealthAll(ctx)
					return err
				},
			},
		}
		for _, job := range jobs {
			if _, err := cronRunner.Add(job); err != nil {
				logger.Warn("cron register failed", zap.String("job", job.Name), zap.Error(err))
			}
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	go func() {
		if err := a.RunPriceStream(baseCtx, 30*time.Second); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("price stream supervisor stopped", zap.Error(err))
		}
	}()

	errCh := make(chan error, 1)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-User-ID")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

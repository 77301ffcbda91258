// investctl runs one-off operations against the investcore store.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"investcore/internal/app"
	"investcore/internal/config"
	"investcore/internal/db"
	"investcore/internal/logger"
)

var (
	cfgPath string
	envOnly bool
	verbose bool
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "investctl",
		Short:         "Operate the investcore ledger and optimization store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", envOr("IC_CONFIG", "config/config.yaml"), "Config file path")
	rootCmd.PersistentFlags().BoolVar(&envOnly, "env-only", envBool("IC_ENV_ONLY"), "Read configuration from IC_* env vars only")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(settlePendingCmd())
	rootCmd.AddCommand(optimizeCmd())
	rootCmd.AddCommand(applyCmd())
	rootCmd.AddCommand(holdingsCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	v := strings.TrimSpace(os.Getenv(key))
	return strings.EqualFold(v, "true") || v == "1"
}

func loadConfig() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}

// withApp builds the service graph without touching the schema, runs fn and
// releases everything afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()
	a, err := app.New(cmd.Context(), cfg, log, app.Options{SkipMigrate: true})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()
			conn, err := db.Open(cfg.DB)
			if err != nil {
				return fmt.Errorf("db open: %w", err)
			}
			defer db.Close(conn)
			if err := db.AutoMigrate(conn); err != nil {
				return fmt.Errorf("auto-migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func settlePendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "settle-pending",
		Short: "Settle every on-hold transaction if the market is open",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.Settlement.SettlePending(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "settled %d transaction(s)\n", n)
				return nil
			})
		},
	}
}

func optimizeCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "optimize <portfolio-id>",
		Short: "Request an optimization for a portfolio",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Optimizations.RequestOptimization(ctx, userID, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "Owner user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func applyCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "apply <optimization-id>",
		Short: "Apply a created optimization to its portfolio",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				rec, err := a.Optimizations.ApplyRecommendation(ctx, userID, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rec)
			})
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "Owner user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func holdingsCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "holdings <portfolio-id>",
		Short: "Print the holdings of a portfolio",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				items, err := a.Portfolios.Holdings(ctx, userID, args[0])
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "%-8s %14s %16s %16s %9s\n", "SYMBOL", "QUANTITY", "COST BASIS", "MARKET VALUE", "CHANGE%")
				for _, h := range items {
					fmt.Fprintf(w, "%-8s %14s %16s %16s %9s\n",
						h.Symbol,
						h.Quantity.String(),
						h.CostBasis.StringFixed(2),
						h.MarketValue.StringFixed(2),
						h.ChangePercent.StringFixed(2),
					)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "Owner user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Server       ServerConfig       `mapstructure:"server"`
	Log          LogConfig          `mapstructure:"log"`
	DB           DBConfig           `mapstructure:"db"`
	Store        StoreConfig        `mapstructure:"store"`
	Lock         LockConfig         `mapstructure:"lock"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Cron         CronConfig         `mapstructure:"cron"`
	Market       MarketConfig       `mapstructure:"market"`
	Optimization OptimizationConfig `mapstructure:"optimization"`
	Provider     ProviderConfig     `mapstructure:"provider"`
	Models       ModelsConfig       `mapstructure:"models"`
	Risk         RiskConfig         `mapstructure:"risk"`
	Audit        AuditConfig        `mapstructure:"audit"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
	// Operators are the caller ids allowed on operator routes.
	Operators []string `mapstructure:"operators"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

// StoreConfig selects the repository backend: "postgres" or "memory".
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
}

// LockConfig selects the key-scoped lock backend: "local" or "redis".
type LockConfig struct {
	Backend       string        `mapstructure:"backend"`
	TTL           time.Duration `mapstructure:"ttl"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	WaitTimeout   time.Duration `mapstructure:"wait_timeout"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type CronConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	SettlePending      string `mapstructure:"settle_pending"`
	PriceRefresh       string `mapstructure:"price_refresh"`
	PortfolioSnapshot  string `mapstructure:"portfolio_snapshot"`
	StaleOptimizations string `mapstructure:"stale_optimizations"`
	ModelHealth        string `mapstructure:"model_health"`
}

type MarketConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerMinute int           `mapstructure:"rate_per_minute"`
	PriceTTL      time.Duration `mapstructure:"price_ttl"`
	Cache         string        `mapstructure:"cache"`
	StreamURL     string        `mapstructure:"stream_url"`
	AlwaysOpen    bool          `mapstructure:"always_open"`
	Session       SessionConfig `mapstructure:"session"`
}

// SessionConfig describes regular trading hours, e.g. open "09:30", close "16:00".
type SessionConfig struct {
	Open     string `mapstructure:"open"`
	Close    string `mapstructure:"close"`
	Timezone string `mapstructure:"timezone"`
	Weekends bool   `mapstructure:"weekends"`
}

type OptimizationConfig struct {
	CoolOff         time.Duration `mapstructure:"cool_off"`
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
	StaleAfter      time.Duration `mapstructure:"stale_after"`
	ApplyMode       string        `mapstructure:"apply_mode"`
	Provider        string        `mapstructure:"provider"`
	Model           string        `mapstructure:"model"`
}

type ProviderConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RatePerSecond   float64       `mapstructure:"rate_per_second"`
	GeminiAPIKeyEnv string        `mapstructure:"gemini_api_key_env"`
	GeminiModel     string        `mapstructure:"gemini_model"`
}

type ModelsConfig struct {
	Apollo ModelEndpointConfig `mapstructure:"apollo"`
	Ignis  ModelEndpointConfig `mapstructure:"ignis"`
	Gaia   ModelEndpointConfig `mapstructure:"gaia"`
}

type ModelEndpointConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RiskConfig struct {
	MaxTransactionValue float64 `mapstructure:"max_transaction_value"`
	MaxQuantity         float64 `mapstructure:"max_quantity"`
	MaxPendingPerUser   int     `mapstructure:"max_pending_per_user"`
}

type AuditConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Agent   string `mapstructure:"agent"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("IC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	setDefaults(v)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.operators", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("store.backend", "postgres")

	v.SetDefault("lock.backend", "local")
	v.SetDefault("lock.ttl", "30s")
	v.SetDefault("lock.retry_interval", "25ms")
	v.SetDefault("lock.wait_timeout", "10s")
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "investcore:")

	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.settle_pending", "@every 30s")
	v.SetDefault("cron.price_refresh", "@every 1m")
	v.SetDefault("cron.portfolio_snapshot", "@every 1h")
	v.SetDefault("cron.stale_optimizations", "@every 5m")
	v.SetDefault("cron.model_health", "@every 5m")

	v.SetDefault("market.base_url", "")
	v.SetDefault("market.timeout", "10s")
	v.SetDefault("market.rate_per_minute", 120)
	v.SetDefault("market.price_ttl", "15s")
	v.SetDefault("market.cache", "memory")
	v.SetDefault("market.stream_url", "")
	v.SetDefault("market.always_open", false)
	v.SetDefault("market.session.open", "09:30")
	v.SetDefault("market.session.close", "16:00")
	v.SetDefault("market.session.timezone", "America/New_York")
	v.SetDefault("market.session.weekends", false)

	v.SetDefault("optimization.cool_off", "24h")
	v.SetDefault("optimization.provider_timeout", "60s")
	v.SetDefault("optimization.stale_after", "15m")
	v.SetDefault("optimization.apply_mode", "direct")
	v.SetDefault("optimization.provider", "http")
	v.SetDefault("optimization.model", "apollo")

	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.timeout", "60s")
	v.SetDefault("provider.rate_per_second", 2)
	v.SetDefault("provider.gemini_api_key_env", "GEMINI_API_KEY")
	v.SetDefault("provider.gemini_model", "gemini-2.5-flash")

	v.SetDefault("models.apollo.timeout", "30s")
	v.SetDefault("models.ignis.timeout", "30s")
	v.SetDefault("models.gaia.timeout", "30s")

	// Zero disables the corresponding limit.
	v.SetDefault("risk.max_transaction_value", 0)
	v.SetDefault("risk.max_quantity", 0)
	v.SetDefault("risk.max_pending_per_user", 0)

	v.SetDefault("audit.base_url", "")
	v.SetDefault("audit.api_key", "")
	v.SetDefault("audit.agent", "investcore")
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"bond-screener/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Data      DataConfig      `mapstructure:"data"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Moex      MoexConfig      `mapstructure:"moex"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DataConfig locates the persisted JSON documents.
type DataConfig struct {
	Backend      string `mapstructure:"backend"`
	Dir          string `mapstructure:"dir"`
	Bonds        string `mapstructure:"bonds"`
	Coupons      string `mapstructure:"coupons"`
	Ratings      string `mapstructure:"ratings"`
	Issuers      string `mapstructure:"issuers"`
	Columns      string `mapstructure:"columns"`
	Descriptions string `mapstructure:"descriptions"`
}

// RedisConfig is used when data.backend is "redis".
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// MoexConfig covers exchange connectivity.
type MoexConfig struct {
	ISSBaseURL        string        `mapstructure:"iss_base_url"`
	SiteBaseURL       string        `mapstructure:"site_base_url"`
	SecuritiesURL     string        `mapstructure:"securities_url"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

// CacheConfig holds per-source TTLs in days.
type CacheConfig struct {
	CouponTTLDays int `mapstructure:"coupon_ttl_days"`
	RatingTTLDays int `mapstructure:"rating_ttl_days"`
}

// DatabaseConfig encapsulates optional PostgreSQL connectivity for the refresh ledger.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs refresh cadence.
type SchedulerConfig struct {
	StaticInterval  time.Duration `mapstructure:"static_interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	StaticOnStart   bool          `mapstructure:"static_on_start"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	RatingsCron     string        `mapstructure:"ratings_cron"`
	CouponsCron     string        `mapstructure:"coupons_cron"`
	IssuersCron     string        `mapstructure:"issuers_cron"`
}

// AlertingConfig routes batch refresh reports.
type AlertingConfig struct {
	Enabled      bool           `mapstructure:"enabled"`
	OnlyOnErrors bool           `mapstructure:"only_on_errors"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram bot target.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxRows int `mapstructure:"max_rows"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("BONDSCREENER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "bondscreener")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("data.backend", "file")
	v.SetDefault("data.dir", "data")
	v.SetDefault("data.bonds", "bonds.json")
	v.SetDefault("data.coupons", "coupons_data.json")
	v.SetDefault("data.ratings", "bonds_rating.json")
	v.SetDefault("data.issuers", "bonds_emitent.json")
	v.SetDefault("data.columns", "columns.json")
	v.SetDefault("data.descriptions", "describe.json")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "bondscreener:")

	v.SetDefault("moex.iss_base_url", "https://iss.moex.com/iss")
	v.SetDefault("moex.site_base_url", "https://www.moex.com")
	v.SetDefault("moex.securities_url", "https://iss.moex.com/iss/engines/stock/markets/bonds/securities.json")
	v.SetDefault("moex.request_timeout", "30s")
	v.SetDefault("moex.user_agent", "Mozilla/5.0")
	v.SetDefault("moex.requests_per_second", 5.0)

	v.SetDefault("cache.coupon_ttl_days", 14)
	v.SetDefault("cache.rating_ttl_days", 30)

	v.SetDefault("scheduler.static_interval", "1h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.static_on_start", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x626f6e64))
	v.SetDefault("scheduler.ratings_cron", "0 3 * * *")
	v.SetDefault("scheduler.coupons_cron", "30 3 * * *")
	v.SetDefault("scheduler.issuers_cron", "0 4 * * 1")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.only_on_errors", true)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("export.max_rows", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Data.Backend {
	case "file":
		if c.Data.Dir == "" {
			return fmt.Errorf("data.dir must be set for the file backend")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr must be set for the redis backend")
		}
	default:
		return fmt.Errorf("data.backend must be file or redis, got %q", c.Data.Backend)
	}
	if c.Moex.RequestTimeout <= 0 {
		return fmt.Errorf("moex.request_timeout must be greater than zero")
	}
	if c.Moex.RequestsPerSecond < 0 {
		return fmt.Errorf("moex.requests_per_second cannot be negative")
	}
	if c.Cache.CouponTTLDays < 0 || c.Cache.RatingTTLDays < 0 {
		return fmt.Errorf("cache ttl days cannot be negative")
	}
	if c.Scheduler.StaticInterval <= 0 {
		return fmt.Errorf("scheduler.static_interval must be greater than zero")
	}
	if c.Export.MaxRows <= 0 {
		return fmt.Errorf("export.max_rows must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be set")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id must be set")
		}
	}
	return nil
}

// ResolveMaxRows returns either the CLI override or config default.
func (c *Config) ResolveMaxRows(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxRows
}

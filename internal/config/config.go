// Package config provides application configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the complete application configuration.
type Config struct {
	Server           ServerConfig
	Database         DatabaseConfig
	Redis            RedisConfig
	RatesAPI         RatesAPIConfig         `mapstructure:"rates_api"`
	ExchangeRateHost ExchangeRateHostConfig `mapstructure:"exchangerate_host"`
	Worker           WorkerConfig
	Cache            CacheConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port          int  `mapstructure:"port"`
	ServeSwagger  bool `mapstructure:"serve_swagger"`
	ServeAsynqmon bool `mapstructure:"serve_asynqmon"`
	ServeMetrics  bool `mapstructure:"serve_metrics"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	Name               string `mapstructure:"name"`
	SSLMode            string `mapstructure:"sslmode"`
	MaxOpenConns       int    `mapstructure:"max_open_conns"`
	MaxIdleConns       int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSec int    `mapstructure:"conn_max_lifetime_sec"`
	DSN                string
}

// RedisConfig holds connection settings for both Redis instances.
type RedisConfig struct {
	AsynqAddr string `mapstructure:"asynq_addr"` // Redis instance for the refresh task queue (required).
	CacheAddr string `mapstructure:"cache_addr"` // Redis instance shared by replicas for fetched rates (required).
}

// RatesAPIConfig holds settings for the primary provider serving GET /latest?base=CODE.
type RatesAPIConfig struct {
	Name    string `mapstructure:"name"`
	BaseURL string `mapstructure:"base_url"`
	Timeout int    `mapstructure:"timeout_sec"`
}

// ExchangeRateHostConfig holds settings for the exchangerate.host provider.
type ExchangeRateHostConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Timeout int    `mapstructure:"timeout_sec"`
}

// WorkerConfig holds background worker, scheduler and task queue settings.
type WorkerConfig struct {
	Concurrency      int      `mapstructure:"concurrency"`
	MaxRetry         int      `mapstructure:"max_retry"`
	TimeoutSec       int      `mapstructure:"timeout_sec"`
	CheckIntervalSec int      `mapstructure:"check_interval_sec"`
	RefreshCron      string   `mapstructure:"refresh_cron"`
	RefreshBases     []string `mapstructure:"refresh_bases"`
}

// CacheConfig holds caching settings.
type CacheConfig struct {
	RatesTTLSec                 int    `mapstructure:"rates_ttl_sec"`
	ExchangeProviderPriceTTLSec int    `mapstructure:"exchange_provider_price_ttl_sec"`
	DefaultBase                 string `mapstructure:"default_base"`
	WarmStart                   bool   `mapstructure:"warm_start"`
}

// LoadConfig reads configuration from config files, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		fmt.Printf("No .env file found or error loading it: %v\n", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Config search paths
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("./internal/config")

	v.SetEnvPrefix("RATESVC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// It's okay if no config file, we have defaults and env
		fmt.Printf("Config file not found: %v\n", err)
	}

	return fromViper(v)
}

// SetDefaults registers the default value of every known key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.serve_swagger", true)
	v.SetDefault("server.serve_asynqmon", true)
	v.SetDefault("server.serve_metrics", true)
	v.SetDefault("database.host", "db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "ratesdb")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime_sec", 300)
	v.SetDefault("redis.asynq_addr", "redis_asynq:6380")
	v.SetDefault("redis.cache_addr", "redis_cache:6381")
	v.SetDefault("rates_api.name", "frankfurter")
	v.SetDefault("rates_api.base_url", "https://api.frankfurter.dev/v1")
	v.SetDefault("rates_api.timeout_sec", 5)
	v.SetDefault("exchangerate_host.base_url", "https://api.exchangerate.host")
	v.SetDefault("exchangerate_host.api_key", "")
	v.SetDefault("exchangerate_host.timeout_sec", 5)
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.max_retry", 3)
	v.SetDefault("worker.timeout_sec", 30)
	v.SetDefault("worker.check_interval_sec", 5)
	v.SetDefault("worker.refresh_cron", "@every 10m")
	v.SetDefault("worker.refresh_bases", []string{"INR"})
	v.SetDefault("cache.rates_ttl_sec", 600)
	v.SetDefault("cache.exchange_provider_price_ttl_sec", 300)
	v.SetDefault("cache.default_base", "INR")
	v.SetDefault("cache.warm_start", false)
}

func fromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	// Env vars arrive as a single comma separated string.
	cfg.Worker.RefreshBases = splitList(cfg.Worker.RefreshBases)
	cfg.Cache.DefaultBase = strings.ToUpper(strings.TrimSpace(cfg.Cache.DefaultBase))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if cfg.Database.MaxOpenConns <= 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns <= 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeSec <= 0 {
		cfg.Database.ConnMaxLifetimeSec = 300
	}

	cfg.Database.DSN = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.User, cfg.Database.Password,
		cfg.Database.Host, cfg.Database.Port,
		cfg.Database.Name, cfg.Database.SSLMode)

	return &cfg, nil
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.ToUpper(strings.TrimSpace(part)); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// Validate checks that all required configuration fields are set and valid.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be positive, got %d", c.Server.Port))
	}

	if c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("database.host is required"))
	}
	if c.Database.Port <= 0 {
		errs = append(errs, fmt.Errorf("database.port must be positive, got %d", c.Database.Port))
	}
	if c.Database.User == "" {
		errs = append(errs, fmt.Errorf("database.user is required"))
	}
	if c.Database.Name == "" {
		errs = append(errs, fmt.Errorf("database.name is required"))
	}

	if c.Redis.AsynqAddr == "" {
		errs = append(errs, fmt.Errorf("redis.asynq_addr is required (set RATESVC_REDIS_ASYNQ_ADDR)"))
	}
	if c.Redis.CacheAddr == "" {
		errs = append(errs, fmt.Errorf("redis.cache_addr is required (set RATESVC_REDIS_CACHE_ADDR)"))
	}

	if c.RatesAPI.BaseURL == "" && c.ExchangeRateHost.APIKey == "" {
		errs = append(errs, fmt.Errorf("rates_api.base_url or exchangerate_host.api_key is required"))
	}
	if c.RatesAPI.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("rates_api.timeout_sec must be positive, got %d", c.RatesAPI.Timeout))
	}

	if c.Worker.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("worker.concurrency must be positive, got %d", c.Worker.Concurrency))
	}
	if c.Worker.MaxRetry < 0 {
		errs = append(errs, fmt.Errorf("worker.max_retry must be non-negative, got %d", c.Worker.MaxRetry))
	}
	if c.Worker.TimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("worker.timeout_sec must be positive, got %d", c.Worker.TimeoutSec))
	}
	if c.Worker.CheckIntervalSec <= 0 {
		errs = append(errs, fmt.Errorf("worker.check_interval_sec must be positive, got %d", c.Worker.CheckIntervalSec))
	}

	if c.Cache.RatesTTLSec <= 0 {
		errs = append(errs, fmt.Errorf("cache.rates_ttl_sec must be positive, got %d", c.Cache.RatesTTLSec))
	}
	if c.Cache.ExchangeProviderPriceTTLSec <= 0 {
		errs = append(errs, fmt.Errorf("cache.exchange_provider_price_ttl_sec must be positive, got %d", c.Cache.ExchangeProviderPriceTTLSec))
	}
	if len(c.Cache.DefaultBase) != 3 {
		errs = append(errs, fmt.Errorf("cache.default_base must be a 3-letter currency code, got %q", c.Cache.DefaultBase))
	}

	return errors.Join(errs...)
}

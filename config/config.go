/*
Package config loads server configuration.

SOURCES (later wins):
  1. Built-in defaults
  2. config.yaml in the working directory, or the file passed to Load
  3. Environment variables: BILLING_ prefix, dots become underscores
     (http.port → BILLING_HTTP_PORT)

KEYS:
  app.env                               development | production
  http.port                             8080
  http.read_timeout / write_timeout     15s
  database.path                         billing.db (":memory:" for scratch)
  log.level / log.format / log.output   info / console / stdout
  sync.driver                           inline | memory | redis
  sync.workers / sync.buffer            2 / 256
  sync.max_attempts                     5
  sync.reconcile_interval / reconcile_batch  5m / 500
  redis.addr / password / db / queue_key
  billing.lead_scope_applies_to_partners  true
  billing.number_retries                3
*/
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Sync drivers.
const (
	SyncInline = "inline"
	SyncMemory = "memory"
	SyncRedis  = "redis"
)

// Config holds all application configuration.
type Config struct {
	App      AppConfig
	HTTP     HTTPConfig
	Database DatabaseConfig
	Log      LogConfig
	Sync     SyncConfig
	Redis    RedisConfig
	Billing  BillingConfig
}

type AppConfig struct {
	Env string
}

type HTTPConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
}

type DatabaseConfig struct {
	Path string
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

type SyncConfig struct {
	Driver      string
	Workers     int
	Buffer      int
	MaxAttempts int

	// ReconcileInterval of zero disables the reconciler.
	ReconcileInterval time.Duration
	ReconcileBatch    int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	QueueKey string
}

type BillingConfig struct {
	LeadScopeAppliesToPartners bool
	NumberRetries              int
}

// IsProduction reports whether app.env is production.
func (c *Config) IsProduction() bool { return c.App.Env == "production" }

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.cors_origins", []string{"http://localhost:5173", "http://localhost:8080"})
	v.SetDefault("database.path", "billing.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("sync.driver", SyncInline)
	v.SetDefault("sync.workers", 2)
	v.SetDefault("sync.buffer", 256)
	v.SetDefault("sync.max_attempts", 5)
	v.SetDefault("sync.reconcile_interval", 5*time.Minute)
	v.SetDefault("sync.reconcile_batch", 500)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.queue_key", "billing:wipsync")
	v.SetDefault("billing.lead_scope_applies_to_partners", true)
	v.SetDefault("billing.number_retries", 3)
}

// Load reads configuration. An empty path looks for an optional
// config.yaml; a non-empty path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("BILLING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Env: v.GetString("app.env"),
		},
		HTTP: HTTPConfig{
			Port:         v.GetInt("http.port"),
			ReadTimeout:  v.GetDuration("http.read_timeout"),
			WriteTimeout: v.GetDuration("http.write_timeout"),
			CORSOrigins:  v.GetStringSlice("http.cors_origins"),
		},
		Database: DatabaseConfig{
			Path: v.GetString("database.path"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Sync: SyncConfig{
			Driver:      strings.ToLower(v.GetString("sync.driver")),
			Workers:     v.GetInt("sync.workers"),
			Buffer:      v.GetInt("sync.buffer"),
			MaxAttempts: v.GetInt("sync.max_attempts"),

			ReconcileInterval: v.GetDuration("sync.reconcile_interval"),
			ReconcileBatch:    v.GetInt("sync.reconcile_batch"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			QueueKey: v.GetString("redis.queue_key"),
		},
		Billing: BillingConfig{
			LeadScopeAppliesToPartners: v.GetBool("billing.lead_scope_applies_to_partners"),
			NumberRetries:              v.GetInt("billing.number_retries"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.HTTP.Port)
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	switch c.Sync.Driver {
	case SyncInline, SyncMemory:
	case SyncRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required when sync.driver is redis")
		}
	default:
		return fmt.Errorf("unknown sync.driver %q", c.Sync.Driver)
	}
	if c.Sync.Workers < 1 {
		return errors.New("sync.workers must be at least 1")
	}
	if c.Billing.NumberRetries < 1 {
		return errors.New("billing.number_retries must be at least 1")
	}
	return nil
}

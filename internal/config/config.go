package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string `mapstructure:"REDIS_URL"`

	HoldStore       string        `mapstructure:"HOLD_STORE"`
	HoldTTL         time.Duration `mapstructure:"HOLD_TTL"`
	HoldMaxLifetime time.Duration `mapstructure:"HOLD_MAX_LIFETIME"`
	ReaperSchedule  string        `mapstructure:"REAPER_SCHEDULE"`

	CacheTTL  time.Duration `mapstructure:"CACHE_TTL"`
	CacheSize int           `mapstructure:"CACHE_SIZE"`

	RetryAttempts int           `mapstructure:"RETRY_ATTEMPTS"`
	RetryDelay    time.Duration `mapstructure:"RETRY_DELAY"`
	RetryBackoff  string        `mapstructure:"RETRY_BACKOFF"`

	DatesHorizonDays int    `mapstructure:"DATES_HORIZON_DAYS"`
	Timezone         string `mapstructure:"TIMEZONE"`

	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`

	AMQPURL      string `mapstructure:"AMQP_URL"`
	AMQPExchange string `mapstructure:"AMQP_EXCHANGE"`

	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
}

const (
	HoldStorePostgres = "postgres"
	HoldStoreRedis    = "redis"
	HoldStoreMemory   = "memory"

	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"HOLD_STORE", "HOLD_TTL", "HOLD_MAX_LIFETIME", "REAPER_SCHEDULE",
	"CACHE_TTL", "CACHE_SIZE",
	"RETRY_ATTEMPTS", "RETRY_DELAY", "RETRY_BACKOFF",
	"DATES_HORIZON_DAYS", "TIMEZONE",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"AMQP_URL", "AMQP_EXCHANGE",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT", "BODY_LIMIT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("HOLD_STORE", HoldStorePostgres)
	v.SetDefault("HOLD_TTL", "15m")
	v.SetDefault("HOLD_MAX_LIFETIME", "45m")
	v.SetDefault("REAPER_SCHEDULE", "@every 1m")
	v.SetDefault("CACHE_TTL", "5m")
	v.SetDefault("CACHE_SIZE", 1024)
	v.SetDefault("RETRY_ATTEMPTS", 3)
	v.SetDefault("RETRY_DELAY", "1s")
	v.SetDefault("RETRY_BACKOFF", BackoffFixed)
	v.SetDefault("DATES_HORIZON_DAYS", 30)
	v.SetDefault("TIMEZONE", "America/Sao_Paulo")
	v.SetDefault("AMQP_EXCHANGE", "agenda.events")
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("BODY_LIMIT", "64K")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		log.Println("WARNING: ENV=development without AUTH_SIGNING_KEY; every request is authenticated as an admin.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Location resolves TIMEZONE.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch c.HoldStore {
	case HoldStorePostgres, HoldStoreMemory:
	case HoldStoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when HOLD_STORE is %q", HoldStoreRedis)
		}
	default:
		return fmt.Errorf("HOLD_STORE must be %q, %q or %q, got %q", HoldStorePostgres, HoldStoreRedis, HoldStoreMemory, c.HoldStore)
	}
	if c.HoldTTL <= 0 {
		return fmt.Errorf("HOLD_TTL must be positive, got %s", c.HoldTTL)
	}
	if c.HoldMaxLifetime < 0 || (c.HoldMaxLifetime > 0 && c.HoldMaxLifetime < c.HoldTTL) {
		return fmt.Errorf("HOLD_MAX_LIFETIME must be 0 or at least HOLD_TTL, got %s", c.HoldMaxLifetime)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive, got %s", c.CacheTTL)
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("RETRY_ATTEMPTS must be at least 1, got %d", c.RetryAttempts)
	}
	if c.RetryBackoff != BackoffFixed && c.RetryBackoff != BackoffExponential {
		return fmt.Errorf("RETRY_BACKOFF must be %q or %q, got %q", BackoffFixed, BackoffExponential, c.RetryBackoff)
	}
	if c.DatesHorizonDays < 1 || c.DatesHorizonDays > 90 {
		return fmt.Errorf("DATES_HORIZON_DAYS must be between 1 and 90, got %d", c.DatesHorizonDays)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required outside development (ENV=%q)", c.Env)
	}
	return nil
}

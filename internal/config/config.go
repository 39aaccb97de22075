/**
 * @description
 * This package handles configuration management for the crypto-ledger-service.
 * Settings come from environment variables (optionally a .env file in the given path)
 * through Viper. Invalid optional values are coerced to their defaults and reported
 * in Config.Warnings so the caller can log them once a logger exists.
 *
 * @dependencies
 * - github.com/spf13/viper: configuration loading and env binding.
 */

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"

	defaultServerPort         = "8080"
	defaultEventExchange      = "crypto.events"
	defaultStatePrefix        = "crypto_ledger:reconcile"
	defaultLedgerTimeout      = 15 * time.Second
	defaultTickInterval       = 2 * time.Minute
	defaultProductionInterval = 10 * time.Minute
	defaultMaxRetries         = 5
	defaultStuckAge           = 6 * time.Hour
	defaultBitcoinNetwork     = "mainnet"
)

var ErrMissingDatabaseURL = errors.New("DATABASE_URL must be configured")

// Config holds all configuration for the crypto-ledger-service.
type Config struct {
	AppEnv        string `mapstructure:"APP_ENV"`
	ServerPort    string `mapstructure:"SERVER_PORT"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	RunMigrations bool   `mapstructure:"RUN_MIGRATIONS"`

	RedisURL             string `mapstructure:"REDIS_URL"`
	ReconcileStatePrefix string `mapstructure:"RECONCILE_STATE_PREFIX"`

	RabbitMQURL   string `mapstructure:"RABBITMQ_URL"`
	EventExchange string `mapstructure:"EVENT_EXCHANGE"`

	LedgerAPIBaseURL         string        `mapstructure:"LEDGER_API_BASE_URL"`
	LedgerAPIKey             string        `mapstructure:"LEDGER_API_KEY"`
	LedgerTimeout            time.Duration `mapstructure:"-"`
	LedgerRateLimitPerSecond float64       `mapstructure:"LEDGER_RATE_LIMIT_PER_SECOND"`
	LedgerSimulationMode     bool          `mapstructure:"LEDGER_SIMULATION_MODE"`
	BitcoinNetwork           string        `mapstructure:"BITCOIN_NETWORK"`

	ReconcileTickInterval time.Duration `mapstructure:"-"`
	ReconcileMaxRetries   int           `mapstructure:"RECONCILE_MAX_RETRIES"`
	StuckTransactionAge   time.Duration `mapstructure:"-"`

	InternalAPIKey     string   `mapstructure:"INTERNAL_API_KEY"`
	OperatorJWTSecret  string   `mapstructure:"OPERATOR_JWT_SECRET"`
	CORSAllowedOrigins []string `mapstructure:"-"`

	// Warnings lists every value that was coerced back to a default.
	Warnings []string `mapstructure:"-"`
}

// IsProduction reports whether APP_ENV selects production behaviour.
func (c Config) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

// LoadConfig reads configuration from environment variables and an optional .env
// file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("APP_ENV", EnvDevelopment)
	viper.SetDefault("SERVER_PORT", defaultServerPort)
	viper.SetDefault("RUN_MIGRATIONS", false)
	viper.SetDefault("RECONCILE_STATE_PREFIX", defaultStatePrefix)
	viper.SetDefault("EVENT_EXCHANGE", defaultEventExchange)
	viper.SetDefault("LEDGER_RATE_LIMIT_PER_SECOND", 0)
	viper.SetDefault("LEDGER_SIMULATION_MODE", false)
	viper.SetDefault("BITCOIN_NETWORK", defaultBitcoinNetwork)
	viper.SetDefault("RECONCILE_MAX_RETRIES", defaultMaxRetries)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("APP_ENV")
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RUN_MIGRATIONS")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("RECONCILE_STATE_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENT_EXCHANGE")
	_ = viper.BindEnv("LEDGER_API_BASE_URL")
	_ = viper.BindEnv("LEDGER_API_KEY")
	_ = viper.BindEnv("LEDGER_TIMEOUT")
	_ = viper.BindEnv("LEDGER_RATE_LIMIT_PER_SECOND")
	_ = viper.BindEnv("LEDGER_SIMULATION_MODE")
	_ = viper.BindEnv("BITCOIN_NETWORK")
	_ = viper.BindEnv("RECONCILE_TICK_INTERVAL")
	_ = viper.BindEnv("RECONCILE_MAX_RETRIES")
	_ = viper.BindEnv("STUCK_TRANSACTION_AGE")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "CRYPTO_LEDGER_INTERNAL_API_KEY")
	_ = viper.BindEnv("OPERATOR_JWT_SECRET")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")

	// The .env file is optional.
	if err = viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			config.Warnings = append(config.Warnings, fmt.Sprintf("failed to read config file; using environment values: %v", err))
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	// Durations are parsed by hand so a malformed value degrades to its default
	// instead of failing the whole load.
	config.LedgerTimeout = config.durationValue("LEDGER_TIMEOUT")
	config.ReconcileTickInterval = config.durationValue("RECONCILE_TICK_INTERVAL")
	config.StuckTransactionAge = config.durationValue("STUCK_TRANSACTION_AGE")

	config.CORSAllowedOrigins = splitList(viper.GetString("CORS_ALLOWED_ORIGINS"))

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	config.normalize()

	if config.DatabaseURL == "" {
		return config, ErrMissingDatabaseURL
	}
	return config, nil
}

func (c *Config) normalize() {
	c.AppEnv = strings.ToLower(strings.TrimSpace(c.AppEnv))
	if c.AppEnv == "" {
		c.AppEnv = EnvDevelopment
	}
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.RedisURL = strings.TrimSpace(c.RedisURL)
	c.RabbitMQURL = strings.TrimSpace(c.RabbitMQURL)
	c.LedgerAPIBaseURL = strings.TrimSpace(c.LedgerAPIBaseURL)
	c.LedgerAPIKey = strings.TrimSpace(c.LedgerAPIKey)
	c.InternalAPIKey = strings.TrimSpace(c.InternalAPIKey)
	c.OperatorJWTSecret = strings.TrimSpace(c.OperatorJWTSecret)

	c.ReconcileStatePrefix = strings.TrimSpace(c.ReconcileStatePrefix)
	if c.ReconcileStatePrefix == "" {
		c.ReconcileStatePrefix = defaultStatePrefix
	}
	c.EventExchange = strings.TrimSpace(c.EventExchange)
	if c.EventExchange == "" {
		c.EventExchange = defaultEventExchange
	}
	c.BitcoinNetwork = strings.ToLower(strings.TrimSpace(c.BitcoinNetwork))
	if c.BitcoinNetwork == "" {
		c.BitcoinNetwork = defaultBitcoinNetwork
	}

	if c.LedgerTimeout <= 0 {
		c.LedgerTimeout = defaultLedgerTimeout
	}
	if c.LedgerRateLimitPerSecond < 0 {
		c.warnf("negative LEDGER_RATE_LIMIT_PER_SECOND %v; disabling ledger rate limit", c.LedgerRateLimitPerSecond)
		c.LedgerRateLimitPerSecond = 0
	}

	if c.ReconcileTickInterval <= 0 {
		c.ReconcileTickInterval = defaultTickInterval
		if c.IsProduction() {
			c.ReconcileTickInterval = defaultProductionInterval
		}
	}
	if c.ReconcileMaxRetries <= 0 {
		c.warnf("non-positive RECONCILE_MAX_RETRIES %d; using %d", c.ReconcileMaxRetries, defaultMaxRetries)
		c.ReconcileMaxRetries = defaultMaxRetries
	}
	if c.StuckTransactionAge <= 0 {
		c.StuckTransactionAge = defaultStuckAge
	}
}

// durationValue returns zero when key is unset or malformed; normalize applies defaults.
func (c *Config) durationValue(key string) time.Duration {
	raw := strings.TrimSpace(viper.GetString(key))
	if raw == "" {
		return 0
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		c.warnf("invalid %s %q; using default", key, raw)
		return 0
	}
	return parsed
}

func (c *Config) warnf(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

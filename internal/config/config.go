// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Port           string `mapstructure:"PORT"`
	Env            string `mapstructure:"APP_ENV"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`
	FeatureFlags   string `mapstructure:"FEATURE_FLAGS"`

	// JWTSecret is the HMAC key shared with the identity provider. Tokens are
	// verified, never issued, by this service.
	JWTSecret string `mapstructure:"JWT_SECRET"`

	DBDriver                 string `mapstructure:"DB_DRIVER"`
	DBHost                   string `mapstructure:"DB_HOST"`
	DBPort                   string `mapstructure:"DB_PORT"`
	DBUser                   string `mapstructure:"DB_USER"`
	DBPassword               string `mapstructure:"DB_PASSWORD"`
	DBName                   string `mapstructure:"DB_NAME"`
	DBSSLMode                string `mapstructure:"DB_SSLMODE"`
	DBSQLitePath             string `mapstructure:"DB_SQLITE_PATH"`
	DBMaxOpenConns           int    `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns           int    `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBConnMaxLifetimeMinutes int    `mapstructure:"DB_CONN_MAX_LIFETIME_MINUTES"`

	RedisURL     string `mapstructure:"REDIS_URL"`
	AMQPURL      string `mapstructure:"AMQP_URL"`
	AMQPExchange string `mapstructure:"AMQP_EXCHANGE"`

	StartingBalance           int64 `mapstructure:"STARTING_BALANCE"`
	WeeklyBonusAmount         int64 `mapstructure:"WEEKLY_BONUS_AMOUNT"`
	StoreRetryMaxElapsedMS    int   `mapstructure:"STORE_RETRY_MAX_ELAPSED_MS"`
	LeaderboardCacheTTLSecond int   `mapstructure:"LEADERBOARD_CACHE_TTL_SECONDS"`
	GiftRateLimitPerMinute    int   `mapstructure:"GIFT_RATE_LIMIT_PER_MINUTE"`

	RankRefreshSchedule    string `mapstructure:"RANK_REFRESH_SCHEDULE"`
	WeeklyReportSchedule   string `mapstructure:"WEEKLY_REPORT_SCHEDULE"`
	PointsExpiringSchedule string `mapstructure:"POINTS_EXPIRING_SCHEDULE"`
	WeeklyBonusSchedule    string `mapstructure:"WEEKLY_BONUS_SCHEDULE"`

	TracingEnabled      bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter     string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint        string  `mapstructure:"OTLP_ENDPOINT"`
	TracingSamplerRatio float64 `mapstructure:"TRACING_SAMPLER_RATIO"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base config file is optional.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "test" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	config.DBSSLMode = strings.ToLower(strings.TrimSpace(config.DBSSLMode))
	config.DBDriver = strings.ToLower(strings.TrimSpace(config.DBDriver))

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("PORT", "8375")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")
	viper.SetDefault("FEATURE_FLAGS", "rank_refresh=on,weekly_report=on,points_expiring=on,weekly_bonus=off")
	viper.SetDefault("JWT_SECRET", "your-secret-key-change-in-production")

	viper.SetDefault("DB_DRIVER", "postgres")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "fetch")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("DB_SQLITE_PATH", "fetch.db")
	viper.SetDefault("DB_MAX_OPEN_CONNS", 25)
	viper.SetDefault("DB_MAX_IDLE_CONNS", 5)
	viper.SetDefault("DB_CONN_MAX_LIFETIME_MINUTES", 5)

	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("AMQP_URL", "")
	viper.SetDefault("AMQP_EXCHANGE", "fetch.notifications")

	viper.SetDefault("STARTING_BALANCE", 500)
	viper.SetDefault("WEEKLY_BONUS_AMOUNT", 50)
	viper.SetDefault("STORE_RETRY_MAX_ELAPSED_MS", 2000)
	viper.SetDefault("LEADERBOARD_CACHE_TTL_SECONDS", 30)
	viper.SetDefault("GIFT_RATE_LIMIT_PER_MINUTE", 20)

	viper.SetDefault("RANK_REFRESH_SCHEDULE", "*/5 * * * *")
	viper.SetDefault("WEEKLY_REPORT_SCHEDULE", "0 9 * * MON")
	viper.SetDefault("POINTS_EXPIRING_SCHEDULE", "0 8 * * *")
	viper.SetDefault("WEEKLY_BONUS_SCHEDULE", "0 0 * * MON")

	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("TRACING_SAMPLER_RATIO", 1.0)
}

// IsProduction reports whether the configuration targets a production environment.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// StoreRetryBudget returns how long a store operation may be retried on write conflicts.
func (c *Config) StoreRetryBudget() time.Duration {
	if c.StoreRetryMaxElapsedMS <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.StoreRetryMaxElapsedMS) * time.Millisecond
}

// LeaderboardCacheTTL returns the TTL of the cached leaderboard page.
func (c *Config) LeaderboardCacheTTL() time.Duration {
	if c.LeaderboardCacheTTLSecond <= 0 {
		return 0
	}
	return time.Duration(c.LeaderboardCacheTTLSecond) * time.Second
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.StartingBalance < 0 {
		return errors.New("STARTING_BALANCE must not be negative")
	}
	if c.WeeklyBonusAmount < 0 {
		return errors.New("WEEKLY_BONUS_AMOUNT must not be negative")
	}
	switch c.DBDriver {
	case "", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}

	if c.IsProduction() {
		if c.JWTSecret == "your-secret-key-change-in-production" {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.DBDriver == "sqlite" {
			return errors.New("sqlite is not supported in production")
		}
		if c.DBPassword == "password" || c.DBPassword == "" {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.DBSSLMode == "disable" || c.DBSSLMode == "" {
			return errors.New("DB_SSLMODE must enable SSL in production")
		}
		if c.AllowedOrigins == "*" {
			log.Println("WARNING: ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
	} else if len(c.JWTSecret) < 32 {
		log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}

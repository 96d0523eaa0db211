// Package config provides configuration management for the portfolio guardian.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Analysis  AnalysisConfig
	Agents    AgentsConfig
	Session   SessionConfig
	Data      DataConfig
	CoinGecko CoinGeckoConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// AnalysisConfig holds the statistical knobs of both engines
type AnalysisConfig struct {
	ReferenceSymbol        string
	WindowDays             int
	MinDays                int
	MaxExcludedValueRatio  float64
	HighCorrelation        float64
	ModerateCorrelation    float64
	ConcentrationThreshold float64
	ExtremeConcentration   float64
	SectorCrashScenario    string
}

// AgentsConfig holds orchestration settings. An empty URL means the role
// runs in-process.
type AgentsConfig struct {
	ResponseTimeout       time.Duration
	LateResponseRetention time.Duration
	CorrelationAgentURL   string
	SectorAgentURL        string
}

// SessionConfig holds conversation state settings
type SessionConfig struct {
	Store string // memory or redis
	TTL   time.Duration
}

// DataConfig holds collaborator data sources
type DataConfig struct {
	PriceSource         string // clickhouse or csv
	PriceDataDir        string
	PriceCacheTTL       time.Duration
	SectorMappingsPath  string
	HistoricalCrashPath string
	DemoWalletsPath     string
}

// CoinGeckoConfig holds the price refresh source
type CoinGeckoConfig struct {
	BaseURL           string
	APIKey            string
	RequestsPerSecond float64
	RefreshSchedule   string
	HistoryDays       int
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional; environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "portfolio_guardian"),
				User:           getEnv("POSTGRES_USER", "guardian"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "portfolio_guardian"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Analysis: AnalysisConfig{
			ReferenceSymbol:        getEnv("REFERENCE_SYMBOL", "ETH"),
			WindowDays:             getEnvAsInt("CORRELATION_WINDOW_DAYS", 90),
			MinDays:                getEnvAsInt("MIN_REQUIRED_DATA_DAYS", 60),
			MaxExcludedValueRatio:  getEnvAsFloat("MAX_EXCLUDED_VALUE_RATIO", 0.5),
			HighCorrelation:        getEnvAsFloat("HIGH_CORRELATION_THRESHOLD", 0.85),
			ModerateCorrelation:    getEnvAsFloat("MODERATE_CORRELATION_THRESHOLD", 0.70),
			ConcentrationThreshold: getEnvAsFloat("CONCENTRATION_THRESHOLD", 60),
			ExtremeConcentration:   getEnvAsFloat("EXTREME_CONCENTRATION_THRESHOLD", 90),
			SectorCrashScenario:    getEnv("SECTOR_CRASH_SCENARIO", "crash_2022_bear"),
		},
		Agents: AgentsConfig{
			ResponseTimeout:       getEnvAsDuration("AGENT_RESPONSE_TIMEOUT", 10*time.Second),
			LateResponseRetention: getEnvAsDuration("LATE_RESPONSE_RETENTION", time.Minute),
			CorrelationAgentURL:   getEnv("CORRELATION_AGENT_URL", ""),
			SectorAgentURL:        getEnv("SECTOR_AGENT_URL", ""),
		},
		Session: SessionConfig{
			Store: getEnv("SESSION_STORE", "redis"),
			TTL:   getEnvAsDuration("SESSION_TTL", 24*time.Hour),
		},
		Data: DataConfig{
			PriceSource:         getEnv("PRICE_SOURCE", "clickhouse"),
			PriceDataDir:        getEnv("PRICE_DATA_DIR", "data/prices"),
			PriceCacheTTL:       getEnvAsDuration("PRICE_CACHE_TTL", time.Hour),
			SectorMappingsPath:  getEnv("SECTOR_MAPPINGS_PATH", ""),
			HistoricalCrashPath: getEnv("HISTORICAL_CRASHES_PATH", ""),
			DemoWalletsPath:     getEnv("DEMO_WALLETS_PATH", ""),
		},
		CoinGecko: CoinGeckoConfig{
			BaseURL:           getEnv("COINGECKO_BASE_URL", "https://api.coingecko.com/api/v3"),
			APIKey:            getEnv("COINGECKO_API_KEY", ""),
			RequestsPerSecond: getEnvAsFloat("COINGECKO_RPS", 0.5),
			RefreshSchedule:   getEnv("PRICE_REFRESH_SCHEDULE", "0 30 0 * * *"),
			HistoryDays:       getEnvAsInt("PRICE_HISTORY_DAYS", 180),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 60),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects settings the engines cannot honor
func (c *Config) Validate() error {
	a := c.Analysis
	if a.WindowDays < 2 {
		return fmt.Errorf("CORRELATION_WINDOW_DAYS must be at least 2, got %d", a.WindowDays)
	}
	if a.MinDays < 1 || a.MinDays > a.WindowDays {
		return fmt.Errorf("MIN_REQUIRED_DATA_DAYS must be in [1, %d], got %d", a.WindowDays, a.MinDays)
	}
	if a.MaxExcludedValueRatio < 0 || a.MaxExcludedValueRatio > 1 {
		return fmt.Errorf("MAX_EXCLUDED_VALUE_RATIO must be in [0, 1], got %v", a.MaxExcludedValueRatio)
	}
	if a.ModerateCorrelation <= 0 || a.ModerateCorrelation > a.HighCorrelation || a.HighCorrelation >= 1 {
		return fmt.Errorf("correlation thresholds must satisfy 0 < moderate <= high < 1, got %v/%v",
			a.ModerateCorrelation, a.HighCorrelation)
	}
	if a.ConcentrationThreshold <= 0 || a.ConcentrationThreshold >= 100 {
		return fmt.Errorf("CONCENTRATION_THRESHOLD must be in (0, 100), got %v", a.ConcentrationThreshold)
	}
	if a.ExtremeConcentration < a.ConcentrationThreshold || a.ExtremeConcentration > 100 {
		return fmt.Errorf("EXTREME_CONCENTRATION_THRESHOLD must be in [%v, 100], got %v",
			a.ConcentrationThreshold, a.ExtremeConcentration)
	}
	if c.Agents.ResponseTimeout <= 0 {
		return fmt.Errorf("AGENT_RESPONSE_TIMEOUT must be positive")
	}
	switch c.Session.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("SESSION_STORE must be memory or redis, got %q", c.Session.Store)
	}
	switch c.Data.PriceSource {
	case "clickhouse", "csv":
	default:
		return fmt.Errorf("PRICE_SOURCE must be clickhouse or csv, got %q", c.Data.PriceSource)
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("POSTGRES_HOST", "testhost")
	t.Setenv("AGENT_RESPONSE_TIMEOUT", "3s")
	t.Setenv("CONCENTRATION_THRESHOLD", "55.5")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %v, want %v", cfg.Server.Port, "9090")
	}
	if cfg.Database.Postgres.Host != "testhost" {
		t.Errorf("Database.Postgres.Host = %v, want %v", cfg.Database.Postgres.Host, "testhost")
	}
	if cfg.Agents.ResponseTimeout != 3*time.Second {
		t.Errorf("Agents.ResponseTimeout = %v, want %v", cfg.Agents.ResponseTimeout, 3*time.Second)
	}
	if cfg.Analysis.ConcentrationThreshold != 55.5 {
		t.Errorf("Analysis.ConcentrationThreshold = %v, want 55.5", cfg.Analysis.ConcentrationThreshold)
	}
	if cfg.Analysis.ReferenceSymbol != "ETH" || cfg.Analysis.WindowDays != 90 || cfg.Analysis.MinDays != 60 {
		t.Errorf("unexpected analysis defaults: %+v", cfg.Analysis)
	}
}

func TestLoadConfig_ExtremeConcentration(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Analysis.ExtremeConcentration != 90 {
		t.Errorf("Analysis.ExtremeConcentration default = %v, want 90", cfg.Analysis.ExtremeConcentration)
	}

	t.Setenv("EXTREME_CONCENTRATION_THRESHOLD", "100")
	cfg, err = LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Analysis.ExtremeConcentration != 100 {
		t.Errorf("Analysis.ExtremeConcentration = %v, want 100", cfg.Analysis.ExtremeConcentration)
	}
}

func TestLoadConfig_RejectsInvalidThresholds(t *testing.T) {
	t.Setenv("HIGH_CORRELATION_THRESHOLD", "0.6")
	t.Setenv("MODERATE_CORRELATION_THRESHOLD", "0.7")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when moderate threshold exceeds high threshold")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Analysis: AnalysisConfig{
				WindowDays: 90, MinDays: 60, MaxExcludedValueRatio: 0.5,
				HighCorrelation: 0.85, ModerateCorrelation: 0.7, ConcentrationThreshold: 60,
				ExtremeConcentration: 90,
			},
			Agents:  AgentsConfig{ResponseTimeout: 10 * time.Second},
			Session: SessionConfig{Store: "memory"},
			Data:    DataConfig{PriceSource: "csv"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"min days above window", func(c *Config) { c.Analysis.MinDays = 91 }, true},
		{"ratio above one", func(c *Config) { c.Analysis.MaxExcludedValueRatio = 1.5 }, true},
		{"concentration at 100", func(c *Config) { c.Analysis.ConcentrationThreshold = 100 }, true},
		{"extreme below threshold", func(c *Config) { c.Analysis.ExtremeConcentration = 50 }, true},
		{"unknown session store", func(c *Config) { c.Session.Store = "etcd" }, true},
		{"unknown price source", func(c *Config) { c.Data.PriceSource = "s3" }, true},
		{"zero timeout", func(c *Config) { c.Agents.ResponseTimeout = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetEnvAsFloat(t *testing.T) {
	t.Setenv("TEST_FLOAT", "0.25")
	t.Setenv("TEST_FLOAT_INVALID", "abc")

	if got := getEnvAsFloat("TEST_FLOAT", 1); got != 0.25 {
		t.Errorf("getEnvAsFloat() = %v, want 0.25", got)
	}
	if got := getEnvAsFloat("TEST_FLOAT_INVALID", 1); got != 1 {
		t.Errorf("getEnvAsFloat() = %v, want default 1", got)
	}
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_KEY",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when environment variable not set",
			key:          "NONEXISTENT_KEY",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue int
		envValue     string
		want         int
	}{
		{
			name:         "returns integer when valid",
			key:          "TEST_INT",
			defaultValue: 100,
			envValue:     "200",
			want:         200,
		},
		{
			name:         "returns default when invalid",
			key:          "TEST_INT_INVALID",
			defaultValue: 100,
			envValue:     "invalid",
			want:         100,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_INT_NOTSET",
			defaultValue: 100,
			envValue:     "",
			want:         100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnvAsInt(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue time.Duration
		envValue     string
		want         time.Duration
	}{
		{
			name:         "returns duration when valid",
			key:          "TEST_DURATION",
			defaultValue: 10 * time.Second,
			envValue:     "30s",
			want:         30 * time.Second,
		},
		{
			name:         "returns default when invalid",
			key:          "TEST_DURATION_INVALID",
			defaultValue: 10 * time.Second,
			envValue:     "invalid",
			want:         10 * time.Second,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_DURATION_NOTSET",
			defaultValue: 10 * time.Second,
			envValue:     "",
			want:         10 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnvAsDuration(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

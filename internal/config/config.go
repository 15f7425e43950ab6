// Package config loads ppmcore configuration from a YAML file with
// environment-variable overrides. A .env file next to the binary or in the
// working directory is honored before the environment is read.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all ppmcore configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Storage
	Database DatabaseConfig `yaml:"database"`

	// AI call-outs
	AI AIConfig `yaml:"ai"`

	// Import pipeline tuning
	Import ImportConfig `yaml:"import"`

	// Default portfolio used by the project linker for auto-created projects
	DefaultPortfolioID string `yaml:"default_portfolio_id"`

	// Cache and rate limiting
	Cache CacheConfig `yaml:"cache"`

	// HTTP transport
	Server ServerConfig `yaml:"server"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// DatabaseConfig configures the relational store.
type DatabaseConfig struct {
	// Path is the SQLite database file ("" or ":memory:" for ephemeral).
	Path string `yaml:"path"`
	// AnonKey and ServiceKey are passed through to external collaborators
	// (transport-level verification); the core only carries them.
	AnonKey    string `yaml:"anon_key"`
	ServiceKey string `yaml:"service_key"`
}

// AIConfig configures embedding and chat-completion call-outs.
type AIConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"` // optional endpoint override
	Provider       string `yaml:"provider"` // "genai" or "ollama"
	EmbeddingModel string `yaml:"embedding_model"`
	ChatModel      string `yaml:"chat_model"`
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	Timeout        string `yaml:"timeout"`
}

// ImportConfig tunes the bulk import engine.
type ImportConfig struct {
	BatchSize          int    `yaml:"batch_size"`
	MaxErrorsToCollect int    `yaml:"max_errors_to_collect"`
	Workers            int    `yaml:"workers"`
	MaxFileBytes       int64  `yaml:"max_file_bytes"`
	Timeout            string `yaml:"timeout"`
}

// CacheConfig configures the cache substrate.
type CacheConfig struct {
	// BackendURL is an optional external KV; empty means in-process only.
	BackendURL string `yaml:"backend_url"`
	MaxEntries int    `yaml:"max_entries"`

	PermissionTTL string `yaml:"permission_ttl"`
	DashboardTTL  string `yaml:"dashboard_ttl"`
	RAGMinTTL     string `yaml:"rag_min_ttl"`
	RAGMaxTTL     string `yaml:"rag_max_ttl"`
}

// ServerConfig configures the HTTP shell.
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// LoggingConfig configures the category file logger.
type LoggingConfig struct {
	DebugMode bool   `yaml:"debug_mode"`
	Level     string `yaml:"level"` // debug, info, warn, error
	DataDir   string `yaml:"data_dir"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "ppmcore",
		Version: "1.0.0",

		Database: DatabaseConfig{
			Path: "data/ppmcore.db",
		},

		AI: AIConfig{
			Provider:       "genai",
			EmbeddingModel: "gemini-embedding-001",
			ChatModel:      "gemini-2.5-flash",
			OllamaEndpoint: "http://localhost:11434",
			Timeout:        "120s",
		},

		Import: ImportConfig{
			BatchSize:          1000,
			MaxErrorsToCollect: 50,
			Workers:            4,
			MaxFileBytes:       10 << 20,
			Timeout:            "10m",
		},

		Cache: CacheConfig{
			MaxEntries:    10000,
			PermissionTTL: "300s",
			DashboardTTL:  "60s",
			RAGMinTTL:     "5m",
			RAGMaxTTL:     "10m",
		},

		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: "15s",
		},

		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
			DataDir:   "data",
		},
	}
}

// Load loads configuration from a YAML file, then applies env overrides.
// A missing file is not an error; defaults are used.
func Load(path string) (*Config, error) {
	// .env next to the binary takes precedence over CWD, matching how the
	// server is deployed (one directory per instance).
	if exePath, err := os.Executable(); err == nil {
		_ = godotenv.Load(filepath.Join(filepath.Dir(exePath), ".env"))
	}
	_ = godotenv.Load()

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
// Only the enumerated variables influence core behavior.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("DATABASE_ANON_KEY"); v != "" {
		c.Database.AnonKey = v
	}
	if v := os.Getenv("DATABASE_SERVICE_KEY"); v != "" {
		c.Database.ServiceKey = v
	}
	if v := os.Getenv("AI_MODEL_KEY"); v != "" {
		c.AI.APIKey = v
	}
	if v := os.Getenv("AI_BASE_URL"); v != "" {
		c.AI.BaseURL = v
	}
	if v := os.Getenv("DEFAULT_PORTFOLIO_ID"); v != "" {
		c.DefaultPortfolioID = v
	}
	if v := os.Getenv("CACHE_BACKEND_URL"); v != "" {
		c.Cache.BackendURL = v
	}
}

// Validate checks settings the core cannot run without.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path not configured (set DATABASE_URL)")
	}
	if c.Import.BatchSize <= 0 {
		return fmt.Errorf("import batch_size must be positive")
	}
	if c.Import.Workers <= 0 || c.Import.Workers > 64 {
		return fmt.Errorf("import workers must be in 1..64")
	}
	return nil
}

// GetAITimeout returns the AI call timeout as a duration.
func (c *Config) GetAITimeout() time.Duration {
	return parseDuration(c.AI.Timeout, 120*time.Second)
}

// GetImportTimeout returns the bulk-import deadline as a duration.
func (c *Config) GetImportTimeout() time.Duration {
	return parseDuration(c.Import.Timeout, 10*time.Minute)
}

// GetPermissionTTL returns the authorization cache TTL.
func (c *Config) GetPermissionTTL() time.Duration {
	return parseDuration(c.Cache.PermissionTTL, 300*time.Second)
}

// GetDashboardTTL returns the dashboard snapshot TTL.
func (c *Config) GetDashboardTTL() time.Duration {
	return parseDuration(c.Cache.DashboardTTL, 60*time.Second)
}

// GetRAGTTLBounds returns the confidence-dependent RAG cache TTL range.
func (c *Config) GetRAGTTLBounds() (time.Duration, time.Duration) {
	return parseDuration(c.Cache.RAGMinTTL, 5*time.Minute),
		parseDuration(c.Cache.RAGMaxTTL, 10*time.Minute)
}

// GetShutdownTimeout returns the HTTP graceful-shutdown window.
func (c *Config) GetShutdownTimeout() time.Duration {
	return parseDuration(c.Server.ShutdownTimeout, 15*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Backend identifiers accepted in the storage routing lists.
const (
	BackendPostgres     = "postgres"
	BackendSQLite       = "sqlite"
	BackendRepositoryV1 = "repository-v1"
	BackendS3Repository = "s3-repository"
)

// Config holds all configuration for the server
type Config struct {
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Storage  StorageConfig  `toml:"storage" yaml:"storage"`
	Logging  LoggingConfig  `toml:"logging" yaml:"logging"`
	Metrics  MetricsConfig  `toml:"metrics" yaml:"metrics"`
	Security SecurityConfig `toml:"security" yaml:"security"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int    `toml:"port" yaml:"port"`
	Host           string `toml:"host" yaml:"host"`
	ReadTimeout    int    `toml:"read_timeout" yaml:"read_timeout"`       // seconds
	WriteTimeout   int    `toml:"write_timeout" yaml:"write_timeout"`     // seconds
	IdleTimeout    int    `toml:"idle_timeout" yaml:"idle_timeout"`       // seconds
	RequestTimeout int    `toml:"request_timeout" yaml:"request_timeout"` // seconds
}

// StorageConfig holds the backend routing and per-backend settings.
//
// Read names the single backend serving every read. WriteOrErr backends must
// all succeed for a verification to be stored; WriteOrWarn failures are only
// logged.
type StorageConfig struct {
	Read                 string   `toml:"read" yaml:"read"`
	WriteOrWarn          []string `toml:"write_or_warn" yaml:"write_or_warn"`
	WriteOrErr           []string `toml:"write_or_err" yaml:"write_or_err"`
	FanOutWorkers        int      `toml:"fanout_workers" yaml:"fanout_workers"`
	ConditionalPromotion bool     `toml:"conditional_promotion" yaml:"conditional_promotion"`

	Postgres   PostgresConfig   `toml:"postgres" yaml:"postgres"`
	SQLite     SQLiteConfig     `toml:"sqlite" yaml:"sqlite"`
	Repository RepositoryConfig `toml:"repository" yaml:"repository"`
	S3         S3Config         `toml:"s3" yaml:"s3"`
}

// PostgresConfig holds Postgres connection settings
type PostgresConfig struct {
	URL                    string `toml:"url" yaml:"url"`
	MaxConns               int    `toml:"max_conns" yaml:"max_conns"`
	MinConns               int    `toml:"min_conns" yaml:"min_conns"`
	ConnMaxLifetimeSeconds int    `toml:"conn_max_lifetime_seconds" yaml:"conn_max_lifetime_seconds"`
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path     string `toml:"path" yaml:"path"`
	MaxConns int    `toml:"max_conns" yaml:"max_conns"`
}

// RepositoryConfig holds the filesystem repository settings
type RepositoryConfig struct {
	Path string `toml:"path" yaml:"path"`
}

// S3Config holds object store settings for the S3 repository backend
type S3Config struct {
	Endpoint        string `toml:"endpoint" yaml:"endpoint"`
	Bucket          string `toml:"bucket" yaml:"bucket"`
	AccessKeyID     string `toml:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key" yaml:"secret_access_key"`
	Region          string `toml:"region" yaml:"region"`
	UseSSL          bool   `toml:"use_ssl" yaml:"use_ssl"`
	Prefix          string `toml:"prefix" yaml:"prefix"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"` // "text" or "json"
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled bool `toml:"enabled" yaml:"enabled"`
}

// SecurityConfig holds request limits
type SecurityConfig struct {
	MaxBodySizeMB int             `toml:"max_body_size_mb" yaml:"max_body_size_mb"`
	RateLimit     RateLimitConfig `toml:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig throttles verification submissions per client IP.
// Reads are never limited.
type RateLimitConfig struct {
	Enabled        bool `toml:"enabled" yaml:"enabled"`
	RequestsPerMin int  `toml:"requests_per_min" yaml:"requests_per_min"`
	BurstSize      int  `toml:"burst_size" yaml:"burst_size"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			Host:           "0.0.0.0",
			ReadTimeout:    30,
			WriteTimeout:   60,
			IdleTimeout:    120,
			RequestTimeout: 30,
		},
		Storage: StorageConfig{
			Read:          BackendSQLite,
			WriteOrErr:    []string{BackendSQLite},
			FanOutWorkers: 16,
			Postgres: PostgresConfig{
				MaxConns:               5,
				MinConns:               1,
				ConnMaxLifetimeSeconds: 3600,
			},
			SQLite: SQLiteConfig{
				Path:     "./data/matchstore.db",
				MaxConns: 5,
			},
			Repository: RepositoryConfig{
				Path: "./data/repository",
			},
			S3: S3Config{
				Region: "us-east-1",
				UseSSL: true,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Security: SecurityConfig{
			MaxBodySizeMB: 50,
			RateLimit: RateLimitConfig{
				RequestsPerMin: 60,
				BurstSize:      10,
			},
		},
	}
}

// Load builds the configuration from defaults, an optional config file
// (TOML or YAML, picked by extension) and environment variables, in that
// order of precedence from lowest to highest.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config file extension: %s", filepath.Ext(path))
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnvInt("PORT", cfg.Server.Port)
	cfg.Server.Host = getEnv("HOST", cfg.Server.Host)
	cfg.Server.ReadTimeout = getEnvInt("SERVER_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvInt("SERVER_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.IdleTimeout = getEnvInt("SERVER_IDLE_TIMEOUT", cfg.Server.IdleTimeout)
	cfg.Server.RequestTimeout = getEnvInt("SERVER_REQUEST_TIMEOUT", cfg.Server.RequestTimeout)

	cfg.Storage.Read = getEnv("STORAGE_READ", cfg.Storage.Read)
	cfg.Storage.WriteOrWarn = getEnvStringSlice("STORAGE_WRITE_OR_WARN", cfg.Storage.WriteOrWarn)
	cfg.Storage.WriteOrErr = getEnvStringSlice("STORAGE_WRITE_OR_ERR", cfg.Storage.WriteOrErr)
	cfg.Storage.FanOutWorkers = getEnvInt("STORAGE_FANOUT_WORKERS", cfg.Storage.FanOutWorkers)
	cfg.Storage.ConditionalPromotion = getEnvBool("STORAGE_CONDITIONAL_PROMOTION", cfg.Storage.ConditionalPromotion)

	cfg.Storage.Postgres.URL = getEnv("DATABASE_URL", cfg.Storage.Postgres.URL)
	cfg.Storage.Postgres.MaxConns = getEnvInt("DATABASE_MAX_CONNS", cfg.Storage.Postgres.MaxConns)
	cfg.Storage.Postgres.MinConns = getEnvInt("DATABASE_MIN_CONNS", cfg.Storage.Postgres.MinConns)
	cfg.Storage.SQLite.Path = getEnv("SQLITE_PATH", cfg.Storage.SQLite.Path)
	cfg.Storage.SQLite.MaxConns = getEnvInt("SQLITE_MAX_CONNS", cfg.Storage.SQLite.MaxConns)
	cfg.Storage.Repository.Path = getEnv("REPOSITORY_PATH", cfg.Storage.Repository.Path)

	cfg.Storage.S3.Endpoint = getEnv("S3_ENDPOINT", cfg.Storage.S3.Endpoint)
	cfg.Storage.S3.Bucket = getEnv("S3_BUCKET", cfg.Storage.S3.Bucket)
	cfg.Storage.S3.AccessKeyID = getEnv("S3_ACCESS_KEY_ID", cfg.Storage.S3.AccessKeyID)
	cfg.Storage.S3.SecretAccessKey = getEnv("S3_SECRET_ACCESS_KEY", cfg.Storage.S3.SecretAccessKey)
	cfg.Storage.S3.Region = getEnv("S3_REGION", cfg.Storage.S3.Region)
	cfg.Storage.S3.UseSSL = getEnvBool("S3_USE_SSL", cfg.Storage.S3.UseSSL)
	cfg.Storage.S3.Prefix = getEnv("S3_PREFIX", cfg.Storage.S3.Prefix)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)
	cfg.Metrics.Enabled = getEnvBool("METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Security.MaxBodySizeMB = getEnvInt("SECURITY_MAX_BODY_SIZE_MB", cfg.Security.MaxBodySizeMB)
	cfg.Security.RateLimit.Enabled = getEnvBool("RATE_LIMIT_ENABLED", cfg.Security.RateLimit.Enabled)
	cfg.Security.RateLimit.RequestsPerMin = getEnvInt("RATE_LIMIT_REQUESTS_PER_MIN", cfg.Security.RateLimit.RequestsPerMin)
	cfg.Security.RateLimit.BurstSize = getEnvInt("RATE_LIMIT_BURST_SIZE", cfg.Security.RateLimit.BurstSize)

	// If DATABASE_URL is set and nothing else was chosen, default to postgres
	if cfg.Storage.Postgres.URL != "" && os.Getenv("STORAGE_READ") == "" && cfg.Storage.Read == BackendSQLite &&
		len(cfg.Storage.WriteOrErr) == 1 && cfg.Storage.WriteOrErr[0] == BackendSQLite {
		cfg.Storage.Read = BackendPostgres
		cfg.Storage.WriteOrErr = []string{BackendPostgres}
	}
}

// Backends returns every distinct backend referenced by the routing lists,
// read backend first.
func (c StorageConfig) Backends() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, id := range append(append([]string{c.Read}, c.WriteOrErr...), c.WriteOrWarn...) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// Validate checks the storage routing for unknown or conflicting backends.
func (c *Config) Validate() error {
	s := c.Storage
	if s.Read == "" {
		return errors.New("storage.read must name a backend")
	}
	if len(s.WriteOrErr)+len(s.WriteOrWarn) == 0 {
		return errors.New("at least one write backend must be configured")
	}

	for _, id := range s.Backends() {
		switch id {
		case BackendPostgres:
			if s.Postgres.URL == "" {
				return errors.New("postgres backend requires DATABASE_URL")
			}
		case BackendSQLite:
			if s.SQLite.Path == "" {
				return errors.New("sqlite backend requires a path")
			}
		case BackendRepositoryV1:
			if s.Repository.Path == "" {
				return errors.New("repository-v1 backend requires a path")
			}
		case BackendS3Repository:
			if s.S3.Endpoint == "" || s.S3.Bucket == "" {
				return errors.New("s3-repository backend requires an endpoint and a bucket")
			}
		default:
			return fmt.Errorf("unknown storage backend: %s", id)
		}
	}

	inErr := make(map[string]bool, len(s.WriteOrErr))
	for _, id := range s.WriteOrErr {
		inErr[id] = true
	}
	for _, id := range s.WriteOrWarn {
		if inErr[id] {
			return fmt.Errorf("backend %s is listed in both write_or_err and write_or_warn", id)
		}
	}

	if s.FanOutWorkers <= 0 {
		return errors.New("storage.fanout_workers must be positive")
	}

	if rl := c.Security.RateLimit; rl.Enabled && (rl.RequestsPerMin <= 0 || rl.BurstSize <= 0) {
		return errors.New("security.rate_limit needs positive requests_per_min and burst_size")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

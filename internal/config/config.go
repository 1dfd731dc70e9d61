package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultEndpoint is the public NerdGraph GraphQL endpoint.
const DefaultEndpoint = "https://api.newrelic.com/graphql"

// Config captures every setting the CLI and servers need.
type Config struct {
	NerdGraph NerdGraphConfig `yaml:"nerdgraph"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Cache     CacheConfig     `yaml:"cache"`
	Reports   ReportsConfig   `yaml:"reports"`
}

// NerdGraphConfig holds the account credentials and transport policy.
type NerdGraphConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	AccountID  int64         `yaml:"accountID"`
	APIKey     string        `yaml:"apiKey"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"maxRetries"`
	RetryMin   time.Duration `yaml:"retryMin"`
	RetryMax   time.Duration `yaml:"retryMax"`
}

// ServerConfig controls the gRPC and HTTP listeners.
type ServerConfig struct {
	GRPCAddress     string        `yaml:"grpcAddress"`
	HTTPAddress     string        `yaml:"httpAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	JSON       bool   `yaml:"json"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// CacheConfig controls caching of successful query payloads.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Backend      string        `yaml:"backend"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	Path         string        `yaml:"path"`
	TTL          time.Duration `yaml:"ttl"`
	Compress     bool          `yaml:"compress"`
}

// ReportsConfig points at the scheduled report definitions.
type ReportsConfig struct {
	Path string `yaml:"path"`
}

// Load builds Config from defaults, an optional YAML file and environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("NRQUERY_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		NerdGraph: NerdGraphConfig{
			Endpoint:   DefaultEndpoint,
			Timeout:    30 * time.Second,
			MaxRetries: 3,
			RetryMin:   200 * time.Millisecond,
			RetryMax:   5 * time.Second,
		},
		Server: ServerConfig{
			GRPCAddress:     ":50051",
			HTTPAddress:     ":8080",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 28},
		Cache: CacheConfig{
			Backend:      "valkey",
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			TTL:          time.Minute,
		},
	}
}

func applyEnvOverrides(cfg *Config) error {
	// Credential names shared with the original New Relic tooling.
	if v := os.Getenv("NRACCOUNT"); v != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("NRACCOUNT: %w", err)
		}
		cfg.NerdGraph.AccountID = id
	}
	if v := os.Getenv("NRAPIKEY"); v != "" {
		cfg.NerdGraph.APIKey = v
	}

	setString("NRQUERY_ENDPOINT", &cfg.NerdGraph.Endpoint)
	setDuration("NRQUERY_TIMEOUT", &cfg.NerdGraph.Timeout)
	setInt("NRQUERY_MAX_RETRIES", &cfg.NerdGraph.MaxRetries)

	setString("NRQUERY_GRPC_ADDRESS", &cfg.Server.GRPCAddress)
	setString("NRQUERY_HTTP_ADDRESS", &cfg.Server.HTTPAddress)

	setString("NRQUERY_LOG_LEVEL", &cfg.Logging.Level)
	if v := os.Getenv("NRQUERY_LOG_FORMAT"); v != "" {
		cfg.Logging.JSON = strings.EqualFold(v, "json")
	}
	setString("NRQUERY_LOG_FILE", &cfg.Logging.File)

	setBool("NRQUERY_CACHE_ENABLED", &cfg.Cache.Enabled)
	setString("NRQUERY_CACHE_BACKEND", &cfg.Cache.Backend)
	setString("NRQUERY_CACHE_ADDR", &cfg.Cache.Addr)
	setString("NRQUERY_CACHE_USERNAME", &cfg.Cache.Username)
	setString("NRQUERY_CACHE_PASSWORD", &cfg.Cache.Password)
	setInt("NRQUERY_CACHE_DB", &cfg.Cache.DB)
	setBool("NRQUERY_CACHE_TLS", &cfg.Cache.TLS)
	setString("NRQUERY_CACHE_PATH", &cfg.Cache.Path)
	setDuration("NRQUERY_CACHE_TTL", &cfg.Cache.TTL)
	setBool("NRQUERY_CACHE_COMPRESS", &cfg.Cache.Compress)

	setString("NRQUERY_REPORTS_PATH", &cfg.Reports.Path)
	return nil
}

func setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}

// setInt and setDuration ignore malformed values, keeping the previous setting.
func setInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// Package config loads the fabric's configuration: ambient logging/server
// settings plus one section per protocol adapter, defaults first, YAML
// second, environment-sourced secrets last.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxBodySize int64 = 2 * 1024 * 1024 // 2MB
	DefaultConfigPath        = "fabric.yaml"
)

// ServerConfig holds the connection settings for one registered protocol
// server. Protocol-specific fields live in Extra and are interpreted by
// the adapter itself (e.g. "resolver_url" for ANP, "base_url" for ACP).
type ServerConfig struct {
	Protocol  string         `yaml:"protocol"` // mcp, a2a, acp, anp
	SDK       string         `yaml:"sdk"`       // official, custom, hybrid, auto
	Namespace string         `yaml:"namespace"`
	Token     string         `yaml:"-"` // from env, never in YAML
	Extra     map[string]any `yaml:",inline"`
}

// Config is the fabric daemon's full configuration.
type Config struct {
	Log struct {
		Level    string `yaml:"level"`  // DEBUG, INFO, WARN, ERROR
		Format   string `yaml:"format"` // text, json
		Output   string `yaml:"output"` // stdout, stderr, /path/to/file (comma separated for multiple)
		Rotation struct {
			MaxSize    int  `yaml:"max_size"` // megabytes
			MaxBackups int  `yaml:"max_backups"`
			MaxAge     int  `yaml:"max_age"` // days
			Compress   bool `yaml:"compress"`
		} `yaml:"rotation"`
	} `yaml:"log"`

	Server struct {
		Port             int           `yaml:"port"`
		ConcurrencyLimit int64         `yaml:"concurrency_limit"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxBodySize      int64         `yaml:"max_body_size"`
	} `yaml:"server"`

	Servers map[string]ServerConfig `yaml:"servers"`

	Catalog struct {
		DumpPath string `yaml:"dump_path"` // non-empty: fabricd dumps the catalog here at startup and keeps serving
	} `yaml:"catalog"`
}

// GetLogLevel returns the slog.Level for c.Log.Level.
func (c *Config) GetLogLevel() slog.Level {
	switch strings.ToUpper(c.Log.Level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadConfig loads configuration: defaults, then YAML, then environment
// overrides for secrets.
func LoadConfig() *Config {
	// Local dev convenience: load a .env file into the process environment
	// before anything below reads it. A missing file is not an error — CI
	// and production supply TOKEN_* and friends directly.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("load .env failed", "error", err)
	}

	cfg := &Config{}

	cfg.Log.Level = "INFO"
	cfg.Log.Format = "text"
	cfg.Log.Output = "stdout"
	cfg.Log.Rotation.MaxSize = 100
	cfg.Log.Rotation.MaxBackups = 3
	cfg.Log.Rotation.MaxAge = 28
	cfg.Log.Rotation.Compress = true
	cfg.Server.Port = 8080
	cfg.Server.ConcurrencyLimit = 16
	cfg.Server.ReadTimeout = 10 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.MaxBodySize = DefaultMaxBodySize
	cfg.Servers = map[string]ServerConfig{}

	configPath := getEnv("CONFIG_PATH", DefaultConfigPath)
	data, err := os.ReadFile(configPath)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			slog.Error("unmarshal config failed", "error", err, "path", configPath)
			os.Exit(1)
		}
		slog.Info("config loaded", "path", configPath)
	} else {
		if !os.IsNotExist(err) {
			slog.Error("read config failed", "error", err, "path", configPath)
			os.Exit(1)
		}
		slog.Info("config not found, using defaults", "path", configPath)
	}

	// Per-server tokens come from the environment, never from YAML:
	// TOKEN_<SERVERNAME_UPPER>.
	for name, sc := range cfg.Servers {
		sc.Token = getEnv("TOKEN_"+strings.ToUpper(name), "")
		cfg.Servers[name] = sc
	}

	if envPort := getEnvInt("PORT", 0); envPort != 0 {
		cfg.Server.Port = envPort
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("LOG_OUTPUT"); v != "" {
		cfg.Log.Output = v
	}
	if v := os.Getenv("DUMP_CATALOG_PATH"); v != "" {
		cfg.Catalog.DumpPath = v
	}

	return cfg
}

// Validate checks the config is complete enough to initialize the fabric.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid server port: %d", c.Server.Port))
	}

	if len(c.Servers) == 0 {
		errs = append(errs, "at least one entry under servers: must be configured")
	}

	for name, sc := range c.Servers {
		switch sc.Protocol {
		case "mcp", "a2a", "acp", "anp":
		default:
			errs = append(errs, fmt.Sprintf("servers.%s: unknown protocol %q", name, sc.Protocol))
		}
		switch sc.SDK {
		case "", "official", "custom", "hybrid", "auto":
		default:
			errs = append(errs, fmt.Sprintf("servers.%s: unknown sdk preference %q", name, sc.SDK))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Guard policy.
	GuardPolicyFile string // path to the guard policy YAML

	// Database connection. Optional; enables the query tool.
	DatabaseURL  string
	ReadOnly     bool
	QueryTimeout time.Duration

	// Schema filtering for --generate-config.
	Schemas []string // empty means all non-system schemas

	// Logging.
	LogLevel slog.Level

	// Transport.
	Transport       string // "stdio" (default) or "http"
	HTTPAddr        string // listen address for HTTP transport (default ":8080")
	HTTPBearerToken string // required when transport=http

	// Connection pool.
	PoolMaxConns        int32         // default: 5
	PoolMinConns        int32         // default: 1
	PoolMaxConnLifetime time.Duration // default: 30m

	// Observability.
	OTelEnabled bool // enable OpenTelemetry tracing and metrics

	// CLI-only fields (not settable via env vars).
	Check          string // evaluate one statement and exit
	GenerateConfig bool   // print a starter policy built from DATABASE_URL's indexes
	AuditLog       string // path to NDJSON audit log file
}

// Overrides holds CLI flag values that override environment variables.
// Pointer fields distinguish "not set" from zero values.
type Overrides struct {
	GuardPolicyFile *string
	DatabaseURL     *string
	LogLevel        *string
	QueryTimeout    *time.Duration
	Transport       *string
	HTTPAddr        *string
	HTTPBearerToken *string
	OTelEnabled     bool
	Check           *string
	GenerateConfig  bool
	AuditLog        string

	// Connection pool overrides.
	PoolMaxConns        *int32
	PoolMinConns        *int32
	PoolMaxConnLifetime *time.Duration
}

// Load builds a Config from environment variables, then applies CLI overrides,
// then validates the result.
func Load(overrides Overrides) (*Config, error) {
	cfg := defaults()

	if err := loadEnvVars(cfg); err != nil {
		return nil, err
	}
	if err := applyOverrides(cfg, overrides); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// HasDatabase reports whether a database connection is configured.
func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

// defaults returns a Config populated with default values.
func defaults() *Config {
	return &Config{
		ReadOnly:            true,
		QueryTimeout:        10 * time.Second,
		LogLevel:            slog.LevelInfo,
		Transport:           "stdio",
		HTTPAddr:            ":8080",
		PoolMaxConns:        5,
		PoolMinConns:        1,
		PoolMaxConnLifetime: 30 * time.Minute,
	}
}

// loadEnvVars reads all supported environment variables into cfg.
func loadEnvVars(cfg *Config) error {
	cfg.GuardPolicyFile = os.Getenv("GUARD_POLICY_FILE")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	if v := os.Getenv("READ_ONLY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid READ_ONLY value %q: %w", v, err)
		}
		cfg.ReadOnly = b
	}

	if v := os.Getenv("QUERY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid QUERY_TIMEOUT value %q: %w", v, err)
		}
		if d <= 0 {
			return fmt.Errorf("invalid QUERY_TIMEOUT value %q: must be positive", v)
		}
		cfg.QueryTimeout = d
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return err
		}
		cfg.LogLevel = level
	}

	if v := os.Getenv("SCHEMAS"); v != "" {
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				cfg.Schemas = append(cfg.Schemas, s)
			}
		}
	}

	if v := os.Getenv("TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	cfg.HTTPBearerToken = os.Getenv("HTTP_BEARER_TOKEN")

	if v := os.Getenv("OTEL_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid OTEL_ENABLED value %q: %w", v, err)
		}
		cfg.OTelEnabled = b
	}

	return loadPoolEnvVars(cfg)
}

// loadPoolEnvVars reads connection pool environment variables.
func loadPoolEnvVars(cfg *Config) error {
	if v := os.Getenv("POOL_MAX_CONNS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid POOL_MAX_CONNS value %q: must be a positive integer", v)
		}
		cfg.PoolMaxConns = int32(n)
	}
	if v := os.Getenv("POOL_MIN_CONNS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid POOL_MIN_CONNS value %q: must be a non-negative integer", v)
		}
		cfg.PoolMinConns = int32(n)
	}
	if v := os.Getenv("POOL_MAX_CONN_LIFETIME"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid POOL_MAX_CONN_LIFETIME value %q: %w", v, err)
		}
		cfg.PoolMaxConnLifetime = d
	}
	return nil
}

// applyOverrides applies CLI flag values on top of the env-loaded config.
func applyOverrides(cfg *Config, o Overrides) error {
	if o.GuardPolicyFile != nil {
		cfg.GuardPolicyFile = *o.GuardPolicyFile
	}
	if o.DatabaseURL != nil {
		cfg.DatabaseURL = *o.DatabaseURL
	}
	if o.LogLevel != nil {
		level, err := parseLogLevel(*o.LogLevel)
		if err != nil {
			return err
		}
		cfg.LogLevel = level
	}
	if o.QueryTimeout != nil {
		if *o.QueryTimeout <= 0 {
			return fmt.Errorf("invalid --query-timeout value: must be positive")
		}
		cfg.QueryTimeout = *o.QueryTimeout
	}
	if o.Transport != nil {
		cfg.Transport = *o.Transport
	}
	if o.HTTPAddr != nil {
		cfg.HTTPAddr = *o.HTTPAddr
	}
	if o.HTTPBearerToken != nil {
		cfg.HTTPBearerToken = *o.HTTPBearerToken
	}
	if o.Check != nil {
		cfg.Check = *o.Check
	}

	if err := applyPoolOverrides(cfg, o); err != nil {
		return err
	}

	cfg.GenerateConfig = o.GenerateConfig
	cfg.AuditLog = o.AuditLog
	cfg.OTelEnabled = cfg.OTelEnabled || o.OTelEnabled

	return nil
}

// applyPoolOverrides applies connection pool CLI flag overrides.
func applyPoolOverrides(cfg *Config, o Overrides) error {
	if o.PoolMaxConns != nil {
		if *o.PoolMaxConns <= 0 {
			return fmt.Errorf("invalid --pool-max-conns value: must be a positive integer")
		}
		cfg.PoolMaxConns = *o.PoolMaxConns
	}
	if o.PoolMinConns != nil {
		if *o.PoolMinConns < 0 {
			return fmt.Errorf("invalid --pool-min-conns value: must be a non-negative integer")
		}
		cfg.PoolMinConns = *o.PoolMinConns
	}
	if o.PoolMaxConnLifetime != nil {
		cfg.PoolMaxConnLifetime = *o.PoolMaxConnLifetime
	}
	return nil
}

// validate checks cross-field constraints on the final config.
func validate(cfg *Config) error {
	if cfg.GenerateConfig {
		if cfg.Check != "" {
			return fmt.Errorf("--check and --generate-config are mutually exclusive")
		}
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for --generate-config (set via env var or --database-url flag)")
		}
		return validatePool(cfg)
	}

	if cfg.GuardPolicyFile == "" {
		return fmt.Errorf("GUARD_POLICY_FILE is required (set via env var or --policy-file flag)")
	}

	switch cfg.Transport {
	case "stdio", "http":
	default:
		return fmt.Errorf("invalid TRANSPORT value %q: must be \"stdio\" or \"http\"", cfg.Transport)
	}

	if cfg.Transport == "http" && cfg.Check == "" && cfg.HTTPBearerToken == "" {
		return fmt.Errorf("HTTP_BEARER_TOKEN is required when transport is \"http\" (set via env var or --http-bearer-token flag)")
	}

	return validatePool(cfg)
}

func validatePool(cfg *Config) error {
	if cfg.PoolMinConns > cfg.PoolMaxConns {
		return fmt.Errorf("POOL_MIN_CONNS (%d) must not exceed POOL_MAX_CONNS (%d)", cfg.PoolMinConns, cfg.PoolMaxConns)
	}
	return nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL value %q: must be debug, info, warn, or error", s)
	}
}

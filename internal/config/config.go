// Package config loads server configuration from environment variables.
//
// Required variables:
//   - DATABASE_URL: PostgreSQL connection string.
//
// Optional variables:
//   - HTTP_ADDR: listen address for the HTTP API (default ":8080").
//   - GRPC_ADDR: listen address for the gRPC health service (default ":9090").
//   - LOG_LEVEL: debug, info, warn or error (default "info").
//   - APP_ENV: runtime environment (default "development"). "production"
//     enforces authorization; anything else bypasses it.
//   - AUTHZ_POLICY: explicit "enforced" or "bypassed", overriding APP_ENV.
//   - AUTHZ_POLICY_FILE: casbin CSV policy (default "config/access/policy.csv").
//   - AUTH_RATE_LIMIT: failed bearer attempts per IP per minute (default 10).
//   - MAX_JSON_BODY_SIZE: max request body size in bytes (default 1048576).
//   - DEFAULT_PAGE_SIZE: list page size when none is requested (default 10).
//   - MAX_PAGE_SIZE: upper bound on list page size (default 100).
//   - MIGRATE_ON_START: run database migrations at boot (default true).
//   - HEALTH_CHECK_INTERVAL: database ping interval feeding gRPC health
//     (default "10s", must be > 0 if set).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/matt-riley/tenantdesk/internal/authz"
	"github.com/matt-riley/tenantdesk/internal/logging"
)

const (
	defaultHTTPAddr                  = ":8080"
	defaultGRPCAddr                  = ":9090"
	defaultLogLevel                  = "info"
	defaultAppEnv                    = "development"
	defaultPolicyFile                = "config/access/policy.csv"
	defaultAuthRateLimit             = 10
	defaultMaxJSONBodySize     int64 = 1 << 20 // 1MB
	defaultPageSize                  = 10
	defaultMaxPageSize               = 100
	defaultHealthCheckInterval       = 10 * time.Second
)

// Config holds the runtime configuration for the tenantdesk server.
type Config struct {
	DatabaseURL         string
	HTTPAddr            string
	GRPCAddr            string
	LogLevel            string
	AppEnv              string
	AuthzPolicy         authz.Policy
	AuthzPolicyFile     string
	AuthRateLimit       int
	MaxJSONBodySize     int64
	DefaultPageSize     int
	MaxPageSize         int
	MigrateOnStart      bool
	HealthCheckInterval time.Duration
}

// Load reads configuration from environment variables, applying defaults where
// appropriate. It returns an error if required variables are missing or if
// optional values fail validation.
func Load() (Config, error) {
	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}

	logLevel := envOrDefault("LOG_LEVEL", defaultLogLevel)
	if _, ok := logging.LookupLevel(logLevel); !ok {
		return Config{}, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", logLevel)
	}

	appEnv := envOrDefault("APP_ENV", defaultAppEnv)
	policy := authz.PolicyForEnvironment(appEnv)
	if v := strings.TrimSpace(os.Getenv("AUTHZ_POLICY")); v != "" {
		parsed, err := authz.ParsePolicy(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse AUTHZ_POLICY: %w", err)
		}
		policy = parsed
	}

	authRateLimit, err := positiveInt("AUTH_RATE_LIMIT", defaultAuthRateLimit)
	if err != nil {
		return Config{}, err
	}

	maxJSONBodySize := defaultMaxJSONBodySize
	if v := strings.TrimSpace(os.Getenv("MAX_JSON_BODY_SIZE")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 {
			return Config{}, errors.New("MAX_JSON_BODY_SIZE must be a positive integer (bytes)")
		}
		maxJSONBodySize = n
	}

	pageSize, err := positiveInt("DEFAULT_PAGE_SIZE", defaultPageSize)
	if err != nil {
		return Config{}, err
	}
	maxPageSize, err := positiveInt("MAX_PAGE_SIZE", defaultMaxPageSize)
	if err != nil {
		return Config{}, err
	}
	if pageSize > maxPageSize {
		return Config{}, fmt.Errorf("DEFAULT_PAGE_SIZE (%d) must not exceed MAX_PAGE_SIZE (%d)", pageSize, maxPageSize)
	}

	migrateOnStart := true
	if v := strings.TrimSpace(os.Getenv("MIGRATE_ON_START")); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse MIGRATE_ON_START: %w", err)
		}
		migrateOnStart = parsed
	}

	healthCheckInterval := defaultHealthCheckInterval
	if v := strings.TrimSpace(os.Getenv("HEALTH_CHECK_INTERVAL")); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse HEALTH_CHECK_INTERVAL: %w", err)
		}
		if parsed <= 0 {
			return Config{}, errors.New("HEALTH_CHECK_INTERVAL must be > 0")
		}
		healthCheckInterval = parsed
	}

	return Config{
		DatabaseURL:         databaseURL,
		HTTPAddr:            envOrDefault("HTTP_ADDR", defaultHTTPAddr),
		GRPCAddr:            envOrDefault("GRPC_ADDR", defaultGRPCAddr),
		LogLevel:            logLevel,
		AppEnv:              appEnv,
		AuthzPolicy:         policy,
		AuthzPolicyFile:     envOrDefault("AUTHZ_POLICY_FILE", defaultPolicyFile),
		AuthRateLimit:       authRateLimit,
		MaxJSONBodySize:     maxJSONBodySize,
		DefaultPageSize:     pageSize,
		MaxPageSize:         maxPageSize,
		MigrateOnStart:      migrateOnStart,
		HealthCheckInterval: healthCheckInterval,
	}, nil
}

func positiveInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return n, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the YAML file read when no path is given.
const DefaultConfigFile = "agentbuilder.yaml"

// Guest policy modes accepted in auth.guest_policy.
const (
	GuestPolicyDeny      = "deny"
	GuestPolicyFirstUser = "first_user"
	GuestPolicyGuestUser = "guest_user"
)

// Load reads DefaultConfigFile. See LoadFrom.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom layers defaults, then the YAML file at path (optional), then
// environment variables, and validates the result.
func LoadFrom(path string) (*Config, error) {
	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}
	if err := loadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}
	return &cfg, nil
}

// loadYAML decodes path over cfg. A missing file is fine; unknown keys are
// not.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// binding ties one environment variable to a config field.
type binding struct {
	key   string
	apply func(raw string) error
}

func bind[T any](key string, dst *T, parse func(string) (T, error)) binding {
	return binding{key: key, apply: func(raw string) error {
		v, err := parse(raw)
		if err != nil {
			return err
		}
		*dst = v
		return nil
	}}
}

func parseString(s string) (string, error) { return s, nil }

func parseList(s string) ([]string, error) {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

func parseInt(s string) (int, error) { return strconv.Atoi(s) }

func parseInt32(s string) (int32, error) {
	n, err := strconv.ParseInt(s, 10, 32)
	return int32(n), err
}

func parseInt64(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) }

func parseFloat(s string) (float64, error) { return strconv.ParseFloat(s, 64) }

func envBindings(cfg *Config) []binding {
	return []binding{
		bind("AGENTBUILDER_PORT", &cfg.Server.Port, parseString),
		bind("AGENTBUILDER_CORS_ORIGINS", &cfg.Server.CORSOrigins, parseList),
		bind("AGENTBUILDER_MAX_BODY_BYTES", &cfg.Server.MaxBodyBytes, parseInt64),
		bind("AGENTBUILDER_READ_TIMEOUT", &cfg.Server.ReadTimeout, time.ParseDuration),
		bind("AGENTBUILDER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout, time.ParseDuration),

		bind("DATABASE_URL", &cfg.Postgres.DSN, parseString),
		bind("AGENTBUILDER_PG_MAX_CONNS", &cfg.Postgres.MaxConns, parseInt32),
		bind("AGENTBUILDER_PG_MIN_CONNS", &cfg.Postgres.MinConns, parseInt32),
		bind("AGENTBUILDER_PG_MAX_CONN_LIFETIME", &cfg.Postgres.MaxConnLifetime, time.ParseDuration),
		bind("AGENTBUILDER_PG_MAX_CONN_IDLE_TIME", &cfg.Postgres.MaxConnIdleTime, time.ParseDuration),
		bind("AGENTBUILDER_PG_HEALTH_CHECK", &cfg.Postgres.HealthCheck, time.ParseDuration),

		bind("AGENTBUILDER_NATS_ENABLED", &cfg.NATS.Enabled, strconv.ParseBool),
		bind("NATS_URL", &cfg.NATS.URL, parseString),
		bind("AGENTBUILDER_NATS_CACHE_BUCKET", &cfg.NATS.CacheBucket, parseString),

		bind("LITELLM_URL", &cfg.LiteLLM.URL, parseString),
		bind("LITELLM_MASTER_KEY", &cfg.LiteLLM.MasterKey, parseString),
		bind("AGENTBUILDER_DEFAULT_MODEL", &cfg.LiteLLM.DefaultModel, parseString),
		bind("AGENTBUILDER_LITELLM_TIMEOUT", &cfg.LiteLLM.Timeout, time.ParseDuration),

		bind("AGENTBUILDER_LOG_LEVEL", &cfg.Logging.Level, parseString),
		bind("AGENTBUILDER_LOG_SERVICE", &cfg.Logging.Service, parseString),
		bind("AGENTBUILDER_LOG_ASYNC", &cfg.Logging.Async, strconv.ParseBool),
		bind("AGENTBUILDER_LOG_ASYNC_BUFFER", &cfg.Logging.AsyncBuffer, parseInt),
		bind("AGENTBUILDER_LOG_ASYNC_WORKERS", &cfg.Logging.AsyncWorkers, parseInt),

		bind("AGENTBUILDER_BREAKER_MAX_FAILURES", &cfg.Breaker.MaxFailures, parseInt),
		bind("AGENTBUILDER_BREAKER_TIMEOUT", &cfg.Breaker.Timeout, time.ParseDuration),

		bind("AGENTBUILDER_RATE_ENABLED", &cfg.Rate.Enabled, strconv.ParseBool),
		bind("AGENTBUILDER_RATE_DEFAULT_PER_MINUTE", &cfg.Rate.DefaultPerMinute, parseInt),
		bind("AGENTBUILDER_RATE_STRICT_PER_MINUTE", &cfg.Rate.StrictPerMinute, parseInt),
		bind("AGENTBUILDER_RATE_CLEANUP_INTERVAL", &cfg.Rate.CleanupInterval, time.ParseDuration),
		bind("AGENTBUILDER_RATE_MAX_IDLE_TIME", &cfg.Rate.MaxIdleTime, time.ParseDuration),

		bind("AGENTBUILDER_AUTH_ENABLED", &cfg.Auth.Enabled, strconv.ParseBool),
		bind("AGENTBUILDER_JWT_SECRET", &cfg.Auth.JWTSecret, parseString),
		bind("AGENTBUILDER_TOKEN_EXPIRY", &cfg.Auth.TokenExpiry, time.ParseDuration),
		bind("AGENTBUILDER_BCRYPT_COST", &cfg.Auth.BcryptCost, parseInt),
		bind("AGENTBUILDER_GUEST_POLICY", &cfg.Auth.GuestPolicy, parseString),
		bind("AGENTBUILDER_GUEST_USERNAME", &cfg.Auth.GuestUsername, parseString),
		bind("AGENTBUILDER_GUEST_EMAIL", &cfg.Auth.GuestEmail, parseString),

		bind("AGENTBUILDER_DEFAULT_SYSTEM_PROMPT", &cfg.Orchestrator.DefaultSystemPrompt, parseString),
		bind("AGENTBUILDER_MAX_CONCURRENT_RUNS", &cfg.Orchestrator.MaxConcurrentRuns, parseInt64),
		bind("AGENTBUILDER_TURN_TIMEOUT", &cfg.Orchestrator.TurnTimeout, time.ParseDuration),
		bind("AGENTBUILDER_RUN_TIMEOUT", &cfg.Orchestrator.RunTimeout, time.ParseDuration),

		bind("AGENTBUILDER_REPORT_CACHE_TTL", &cfg.Analytics.ReportCacheTTL, time.ParseDuration),
		bind("AGENTBUILDER_CACHE_L1_SIZE_MB", &cfg.Analytics.L1MaxSizeMB, parseInt64),
		bind("AGENTBUILDER_ROLLUP_ENABLED", &cfg.Analytics.RollupEnabled, strconv.ParseBool),
		bind("AGENTBUILDER_ROLLUP_INTERVAL", &cfg.Analytics.RollupInterval, time.ParseDuration),

		bind("AGENTBUILDER_OTEL_ENABLED", &cfg.OTel.Enabled, strconv.ParseBool),
		bind("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.OTel.Endpoint, parseString),
		bind("OTEL_SERVICE_NAME", &cfg.OTel.ServiceName, parseString),
		bind("AGENTBUILDER_OTEL_INSECURE", &cfg.OTel.Insecure, strconv.ParseBool),
		bind("AGENTBUILDER_OTEL_SAMPLE_RATE", &cfg.OTel.SampleRate, parseFloat),
	}
}

// loadEnv overlays every non-empty bound variable. Malformed values are
// reported together and leave their field untouched.
func loadEnv(cfg *Config) error {
	var errs []error
	for _, b := range envBindings(cfg) {
		raw := os.Getenv(b.key)
		if raw == "" {
			continue
		}
		if err := b.apply(raw); err != nil {
			errs = append(errs, fmt.Errorf("%s=%q: %w", b.key, raw, err))
		}
	}
	return errors.Join(errs...)
}

// validate reports every invalid setting at once.
func validate(cfg *Config) error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}
	check(cfg.Server.Port != "", "server.port is required")
	check(cfg.Postgres.DSN != "", "postgres.dsn is required")
	check(!cfg.NATS.Enabled || cfg.NATS.URL != "", "nats.url is required when nats is enabled")
	check(cfg.Postgres.MaxConns >= 1, "postgres.max_conns must be >= 1")
	check(cfg.Breaker.MaxFailures >= 1, "breaker.max_failures must be >= 1")
	check(cfg.Rate.DefaultPerMinute >= 1 && cfg.Rate.StrictPerMinute >= 1, "rate limits must be >= 1 per minute")
	check(!cfg.Auth.Enabled || cfg.Auth.JWTSecret != "", "auth.jwt_secret is required when auth is enabled")
	switch cfg.Auth.GuestPolicy {
	case GuestPolicyDeny, GuestPolicyFirstUser, GuestPolicyGuestUser:
	default:
		errs = append(errs, fmt.Errorf("auth.guest_policy %q must be deny, first_user, or guest_user", cfg.Auth.GuestPolicy))
	}
	check(cfg.Orchestrator.MaxConcurrentRuns >= 1, "orchestrator.max_concurrent_runs must be >= 1")
	check(!cfg.Analytics.RollupEnabled || cfg.Analytics.RollupInterval > 0, "analytics.rollup_interval must be positive")
	return errors.Join(errs...)
}

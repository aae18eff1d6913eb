package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config is the process configuration shared by the api, worker and tools.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	JWTIssuer          string
	JWTAudience        string
	CORSAllowedOrigins []string
	RuleCacheTTL       time.Duration
	IdempotencyTTL     time.Duration
	CalcRateLimit      int
	CalcRateWindow     time.Duration
	APIRateLimit       string
	BodyLimitBytes     int64
	MigrateOnStart     bool
	OrderLockTTL       time.Duration
	WorkerConcurrency  int
	CurrencyCode       string
	LogFormat          string
	LogLevel           string
	OTLPEndpoint       string
	TracingEnabled     bool
	MetricsBuckets     string
}

var defaults = map[string]string{
	"APP_ENV":            "development",
	"PORT":               "8080",
	"JWT_ISSUER":         "vaayugo",
	"RULE_CACHE_TTL":     "5m",
	"IDEMPOTENCY_TTL":    "24h",
	"CALC_RATE_LIMIT":    "60",
	"CALC_RATE_WINDOW":   "1m",
	"API_RATE_LIMIT":     "300-M",
	"BODY_LIMIT_BYTES":   "1048576",
	"MIGRATE_ON_START":   "false",
	"ORDER_LOCK_TTL":     "10s",
	"WORKER_CONCURRENCY": "10",
	"CURRENCY_CODE":      "INR",
	"LOG_FORMAT":         "json",
	"LOG_LEVEL":          "info",
	"TRACING_ENABLED":    "false",
}

var required = []string{"DATABASE_URL", "REDIS_URL", "JWT_SECRET"}

// Load merges an optional .env file into the environment and reads every key through koanf.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	for _, key := range required {
		if strings.TrimSpace(k.String(key)) == "" {
			return nil, fmt.Errorf("%s is required", key)
		}
	}

	r := &reader{k: k}
	cfg := &Config{
		AppEnv:             r.str("APP_ENV"),
		Port:               r.str("PORT"),
		DatabaseURL:        r.str("DATABASE_URL"),
		RedisURL:           r.str("REDIS_URL"),
		JWTSecret:          r.str("JWT_SECRET"),
		JWTIssuer:          r.str("JWT_ISSUER"),
		JWTAudience:        r.str("JWT_AUDIENCE"),
		CORSAllowedOrigins: r.list("CORS_ALLOWED_ORIGINS"),
		RuleCacheTTL:       r.duration("RULE_CACHE_TTL"),
		IdempotencyTTL:     r.duration("IDEMPOTENCY_TTL"),
		CalcRateLimit:      r.positiveInt("CALC_RATE_LIMIT"),
		CalcRateWindow:     r.duration("CALC_RATE_WINDOW"),
		APIRateLimit:       r.str("API_RATE_LIMIT"),
		BodyLimitBytes:     int64(r.positiveInt("BODY_LIMIT_BYTES")),
		MigrateOnStart:     r.flag("MIGRATE_ON_START"),
		OrderLockTTL:       r.duration("ORDER_LOCK_TTL"),
		WorkerConcurrency:  r.positiveInt("WORKER_CONCURRENCY"),
		CurrencyCode:       strings.ToUpper(r.str("CURRENCY_CODE")),
		LogFormat:          r.str("LOG_FORMAT"),
		LogLevel:           r.str("LOG_LEVEL"),
		OTLPEndpoint:       r.str("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TracingEnabled:     r.flag("TRACING_ENABLED"),
		MetricsBuckets:     r.str("METRICS_BUCKETS_MS"),
	}
	if err := errors.Join(r.errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.AppEnv), "production")
}

// HTTPAddr accepts PORT as either "8080" or ":8080".
func (c *Config) HTTPAddr() string {
	port := strings.TrimPrefix(strings.TrimSpace(c.Port), ":")
	if port == "" {
		port = defaults["PORT"]
	}
	return ":" + port
}

// reader collects every malformed key instead of stopping at the first one.
type reader struct {
	k    *koanf.Koanf
	errs []error
}

func (r *reader) str(key string) string {
	if v := strings.TrimSpace(r.k.String(key)); v != "" {
		return v
	}
	return defaults[key]
}

func (r *reader) list(key string) []string {
	var out []string
	for _, part := range strings.Split(r.str(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (r *reader) duration(key string) time.Duration {
	d, err := time.ParseDuration(r.str(key))
	if err != nil || d <= 0 {
		r.errs = append(r.errs, fmt.Errorf("%s must be a positive duration, got %q", key, r.str(key)))
	}
	return d
}

func (r *reader) positiveInt(key string) int {
	n, err := strconv.Atoi(r.str(key))
	if err != nil || n <= 0 {
		r.errs = append(r.errs, fmt.Errorf("%s must be a positive integer, got %q", key, r.str(key)))
	}
	return n
}

func (r *reader) flag(key string) bool {
	switch strings.ToLower(r.str(key)) {
	case "1", "true", "yes", "on":
		return true
	case "", "0", "false", "no", "off":
		return false
	}
	r.errs = append(r.errs, fmt.Errorf("%s must be a boolean, got %q", key, r.str(key)))
	return false
}

// LoadForTests runs Load with env applied on top of the process environment and restores it
// afterwards. An empty value unsets the key.
func LoadForTests(env map[string]string) (*Config, error) {
	saved := make(map[string]*string, len(env))
	for key, value := range env {
		if prev, ok := os.LookupEnv(key); ok {
			saved[key] = &prev
		} else {
			saved[key] = nil
		}
		if err := setenv(key, value); err != nil {
			return nil, err
		}
	}
	defer func() {
		for key, prev := range saved {
			if prev == nil {
				_ = os.Unsetenv(key)
			} else {
				_ = os.Setenv(key, *prev)
			}
		}
	}()
	return Load()
}

func setenv(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

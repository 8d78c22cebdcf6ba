package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/joho/godotenv"
	koanfjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/pontocerto/checkout/internal/fees"
	"github.com/pontocerto/checkout/internal/tender"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	RedisURL           string
	CORSAllowedOrigins []string
	SessionTTL         time.Duration
	FeeScheduleFile    string
	MerchantName       string
	MerchantCity       string
	PixKey             string
	EventLogCap        int
	RateLimit          string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		SessionTTL:         parseDuration(k.String("SESSION_TTL"), "12h"),
		FeeScheduleFile:    strings.TrimSpace(k.String("FEE_SCHEDULE_FILE")),
		MerchantName:       strings.TrimSpace(k.String("MERCHANT_NAME")),
		MerchantCity:       strings.TrimSpace(k.String("MERCHANT_CITY")),
		PixKey:             strings.TrimSpace(k.String("PIX_KEY")),
		EventLogCap:        intOrDefault(k.Int("EVENT_LOG_CAP"), 1024),
		RateLimit:          valueOrDefault(k.String("RATE_LIMIT"), "120-M"),
	}

	if cfg.MerchantName == "" {
		return nil, errors.New("MERCHANT_NAME is required")
	}
	if cfg.MerchantCity == "" {
		return nil, errors.New("MERCHANT_CITY is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// LoadFeeSchedule reads the merchant's pass-through fee file into an
// immutable schedule snapshot. The file holds display percentages
// ({"rates": {"credit": 3.5}}); rates are converted to basis points here so
// the core never does float arithmetic. A missing path yields a disabled
// schedule rather than an error: a register with no fee file simply never
// surcharges.
func LoadFeeSchedule(path string) (fees.Schedule, error) {
	if strings.TrimSpace(path) == "" {
		return fees.Schedule{}, nil
	}
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), koanfjson.Parser()); err != nil {
		return fees.Schedule{}, fmt.Errorf("load fee schedule %s: %w", path, err)
	}
	schedule := fees.Schedule{
		PassThroughEnabled: k.Bool("pass_through_enabled"),
		Rates:              map[tender.Method]int64{},
	}
	for name, percent := range k.Cut("rates").All() {
		method, err := tender.ParseMethod(name)
		if err != nil {
			continue
		}
		p, ok := percent.(float64)
		if !ok || p <= 0 {
			continue
		}
		schedule.Rates[method] = int64(math.Round(p * 100))
	}
	return schedule, nil
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func intOrDefault(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

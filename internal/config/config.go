package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port         int
	MasterSecret string
	GinMode      string
	TLSCertFile  string
	TLSKeyFile   string
	TokenExpiry  time.Duration

	// RedisAddr empty means the in-memory store (tests, single box).
	RedisAddr     string
	RedisPassword string

	// PostgresDSN empty means the static in-memory identity resolver.
	PostgresDSN string

	// LivenessThreshold is the single online/offline cutoff used everywhere.
	LivenessThreshold time.Duration
	// RecordTTL bounds the life of abandoned connection/liveness records.
	// Must be at least the liveness threshold.
	RecordTTL time.Duration
}

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

func LoadConfig() (Config, error) {
	return LoadConfigFromEnv(osEnv{})
}

func LoadConfigFromEnv(env Env) (Config, error) {
	cfg := Config{
		Port:              3000,
		GinMode:           "release",
		TokenExpiry:       7 * 24 * time.Hour,
		LivenessThreshold: 10 * time.Second,
		RecordTTL:         60 * time.Second,
	}

	if raw := env.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return Config{}, fmt.Errorf("invalid PORT")
		}
		cfg.Port = port
	}

	cfg.MasterSecret = env.Getenv("MASTER_SECRET")
	if cfg.MasterSecret == "" {
		return Config{}, fmt.Errorf("MASTER_SECRET is required")
	}

	if raw := env.Getenv("GIN_MODE"); raw != "" {
		cfg.GinMode = raw
	}

	cfg.TLSCertFile = env.Getenv("TLS_CERT_FILE")
	cfg.TLSKeyFile = env.Getenv("TLS_KEY_FILE")

	if raw := env.Getenv("TOKEN_EXPIRY_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return Config{}, fmt.Errorf("invalid TOKEN_EXPIRY_SECONDS")
		}
		cfg.TokenExpiry = time.Duration(seconds) * time.Second
	}

	cfg.RedisAddr = env.Getenv("REDIS_ADDR")
	cfg.RedisPassword = env.Getenv("REDIS_PASSWORD")
	cfg.PostgresDSN = env.Getenv("POSTGRES_DSN")

	if raw := env.Getenv("LIVENESS_THRESHOLD_MS"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms <= 0 {
			return Config{}, fmt.Errorf("invalid LIVENESS_THRESHOLD_MS")
		}
		cfg.LivenessThreshold = time.Duration(ms) * time.Millisecond
	}

	if raw := env.Getenv("RECORD_TTL_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return Config{}, fmt.Errorf("invalid RECORD_TTL_SECONDS")
		}
		cfg.RecordTTL = time.Duration(seconds) * time.Second
	}
	if cfg.RecordTTL < cfg.LivenessThreshold {
		return Config{}, fmt.Errorf("RECORD_TTL_SECONDS must cover LIVENESS_THRESHOLD_MS")
	}

	return cfg, nil
}

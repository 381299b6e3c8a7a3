// Package config builds service configuration from the environment so main
// stays lean. Defaults are development-safe; production deployments override
// via environment variables.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures everything the enforcement service needs at startup.
type Config struct {
	Addr string

	// Token verification
	Issuer              string
	Audience            string
	JWKSURL             string
	JWKSRefreshInterval time.Duration

	// Policy decision service
	PDPURL     string
	PDPTimeout time.Duration

	// Re-authentication window enforced for TOP_SECRET resources.
	ReauthWindow time.Duration

	// Key-encryption key for the key release broker, base64-encoded, 32 bytes.
	// Provisioning is out of band (secret mount / env injection).
	KEK []byte

	PostgresDSN string
	Redis       RedisConfig
	Kafka       KafkaConfig
}

// RedisConfig controls the optional policy registry cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// TTL for cached resource policies. Registry data is sensitive; keep short.
	PolicyCacheTTL time.Duration
}

// KafkaConfig controls the best-effort audit mirror.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

// FromEnv builds a Config from environment variables.
func FromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("ACCORD_ADDR", ":8443"),
		Issuer:              envOr("ACCORD_ISSUER", "http://localhost:8081/realms/coalition"),
		Audience:            envOr("ACCORD_AUDIENCE", "accord"),
		JWKSURL:             os.Getenv("ACCORD_JWKS_URL"),
		JWKSRefreshInterval: envDuration("ACCORD_JWKS_REFRESH_INTERVAL", 5*time.Minute),
		PDPURL:              envOr("ACCORD_PDP_URL", "http://localhost:8181/v1/data/accord/decision"),
		PDPTimeout:          envDuration("ACCORD_PDP_TIMEOUT", 250*time.Millisecond),
		ReauthWindow:        envDuration("ACCORD_REAUTH_WINDOW", 4*time.Hour),
		PostgresDSN:         os.Getenv("ACCORD_POSTGRES_DSN"),
		Redis: RedisConfig{
			URL:            os.Getenv("ACCORD_REDIS_URL"),
			PoolSize:       envInt("ACCORD_REDIS_POOL_SIZE", 10),
			MinIdleConns:   envInt("ACCORD_REDIS_MIN_IDLE", 2),
			DialTimeout:    envDuration("ACCORD_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:    envDuration("ACCORD_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout:   envDuration("ACCORD_REDIS_WRITE_TIMEOUT", 3*time.Second),
			PolicyCacheTTL: envDuration("ACCORD_POLICY_CACHE_TTL", 5*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers:    splitNonEmpty(os.Getenv("ACCORD_KAFKA_BROKERS")),
			AuditTopic: envOr("ACCORD_KAFKA_AUDIT_TOPIC", "accord.audit.events"),
		},
	}

	if cfg.JWKSURL == "" {
		cfg.JWKSURL = strings.TrimSuffix(cfg.Issuer, "/") + "/protocol/openid-connect/certs"
	}

	if raw := os.Getenv("ACCORD_KEK"); raw != "" {
		kek, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return Config{}, fmt.Errorf("decode ACCORD_KEK: %w", err)
		}
		if len(kek) != 32 {
			return Config{}, fmt.Errorf("ACCORD_KEK must be 32 bytes, got %d", len(kek))
		}
		cfg.KEK = kek
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

package config

import (
	"os"
	"strings"
)

const (
	defaultRedisURL        = "redis://localhost:6379"
	defaultGatewayAddr     = ":8081"
	defaultMetricsNS       = "stocklock"
	defaultGuardConfigPath = "config/guard.yaml"
	envNATSURL             = "NATS_URL"
	envRedisURL            = "REDIS_URL"
	envGatewayAddr         = "GATEWAY_ADDR"
	envMetricsNamespace    = "METRICS_NAMESPACE"
	envGuardConfigPath     = "GUARD_CONFIG_PATH"
	envAPIKey              = "API_KEY"
)

// Config holds runtime configuration for the lock gateway and CLI.
type Config struct {
	// NatsURL is empty when lock events should not be published.
	NatsURL          string
	RedisURL         string
	GatewayAddr      string
	MetricsNamespace string
	GuardConfigPath  string
	APIKey           string
}

// Load returns configuration using environment variables with sane defaults.
func Load() *Config {
	redisURL := os.Getenv(envRedisURL)
	if redisURL == "" {
		redisURL = defaultRedisURL
	}
	gatewayAddr := os.Getenv(envGatewayAddr)
	if gatewayAddr == "" {
		gatewayAddr = defaultGatewayAddr
	}
	namespace := os.Getenv(envMetricsNamespace)
	if namespace == "" {
		namespace = defaultMetricsNS
	}
	guardCfg := os.Getenv(envGuardConfigPath)
	if guardCfg == "" {
		guardCfg = defaultGuardConfigPath
	}

	return &Config{
		NatsURL:          strings.TrimSpace(os.Getenv(envNATSURL)),
		RedisURL:         redisURL,
		GatewayAddr:      gatewayAddr,
		MetricsNamespace: namespace,
		GuardConfigPath:  guardCfg,
		APIKey:           strings.TrimSpace(os.Getenv(envAPIKey)),
	}
}

// Package config loads and validates the hub's environment configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration for the signaling hub.
type Config struct {
	// Required
	Port string

	// Optional with defaults
	GoEnv    string
	LogLevel string

	// Auth
	Auth0Domain     string
	Auth0Audience   string
	SkipAuth        bool
	DevelopmentMode bool
	AllowedOrigins  string

	// Redis bus (optional)
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Meeting Store Adapter
	MeetingStoreBaseURL    string
	MeetingStoreHealthAddr string

	// Admission / signaling / transport limits
	SendQueueDepth           int
	SignalingPayloadCapBytes int
	PendingRequestTTL        time.Duration
	AdmissionDedupWindow     time.Duration
	AdmissionSweepInterval   time.Duration
	RoomCleanupGrace         time.Duration

	// Rate limits (ulule/limiter formatted strings, e.g. "100-M")
	RateLimitWsIP      string
	RateLimitWsUser    string
	RateLimitAdmission string
	RateLimitSignaling string
}

// ValidateEnv reads environment variables, validates them, and returns a Config.
// All validation failures are collected and returned together rather than failing
// on the first one, so an operator sees the full list of problems in one pass.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errs = append(errs, "PORT is required")
	} else if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.Auth0Domain = os.Getenv("AUTH0_DOMAIN")
	cfg.Auth0Audience = os.Getenv("AUTH0_AUDIENCE")
	cfg.SkipAuth = os.Getenv("SKIP_AUTH") == "true"
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = getEnvOrDefault("ALLOWED_ORIGINS", "http://localhost:3000")

	if !cfg.SkipAuth {
		if cfg.Auth0Domain == "" || cfg.Auth0Audience == "" {
			errs = append(errs, "AUTH0_DOMAIN and AUTH0_AUDIENCE are required when SKIP_AUTH is not true")
		}
	}

	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	cfg.MeetingStoreBaseURL = os.Getenv("MEETING_STORE_BASE_URL")
	cfg.MeetingStoreHealthAddr = getEnvOrDefault("MEETING_STORE_HEALTH_ADDR", "")

	cfg.SendQueueDepth = getEnvIntOrDefault("SEND_QUEUE_DEPTH", 256, &errs)
	cfg.SignalingPayloadCapBytes = getEnvIntOrDefault("SIGNALING_PAYLOAD_CAP_BYTES", 65536, &errs)
	cfg.PendingRequestTTL = getEnvDurationOrDefault("PENDING_REQUEST_TTL", 5*time.Minute, &errs)
	cfg.AdmissionDedupWindow = getEnvDurationOrDefault("ADMISSION_DEDUP_WINDOW", 5*time.Second, &errs)
	cfg.AdmissionSweepInterval = getEnvDurationOrDefault("ADMISSION_SWEEP_INTERVAL", 60*time.Second, &errs)
	cfg.RoomCleanupGrace = getEnvDurationOrDefault("ROOM_CLEANUP_GRACE_PERIOD", 5*time.Second, &errs)

	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.RateLimitWsUser = getEnvOrDefault("RATE_LIMIT_WS_USER", "10-M")
	cfg.RateLimitAdmission = getEnvOrDefault("RATE_LIMIT_ADMISSION", "30-M")
	cfg.RateLimitSignaling = getEnvOrDefault("RATE_LIMIT_SIGNALING", "500-M")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}
	return parts[0] != ""
}

func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated",
		"port", cfg.Port,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"redis_enabled", cfg.RedisEnabled,
		"development_mode", cfg.DevelopmentMode,
		"send_queue_depth", cfg.SendQueueDepth,
		"pending_request_ttl", cfg.PendingRequestTTL,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int, errs *[]string) int {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s must be an integer (got '%s')", key, raw))
		return defaultValue
	}
	return v
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration, errs *[]string) time.Duration {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return defaultValue
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s must be a valid duration (got '%s')", key, raw))
		return defaultValue
	}
	return v
}

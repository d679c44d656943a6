package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config contains all runtime settings for the interview coordinator.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// SessionIdleTimeout bounds how long an abandoned interview (no
	// attached connections) is kept in memory. Zero disables eviction.
	SessionIdleTimeout time.Duration

	JWTSecret string
	TokenTTL  time.Duration
	DevTokens bool

	InferenceMode    string
	InferenceHTTPURL string
	InferenceTimeout time.Duration

	Greeting string

	DatabaseURL string
}

const defaultGreeting = "Hello, I am FortiTwin, your AI interviewer. When you are ready, please introduce yourself."

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:           envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:   envOrDefault("APP_METRICS_NAMESPACE", "fortitwin"),
		AllowAnyOrigin:     false,
		JWTSecret:          trimSpace(os.Getenv("AUTH_JWT_SECRET")),
		InferenceMode:      envOrDefault("INFERENCE_MODE", "auto"),
		InferenceHTTPURL:   trimSpace(os.Getenv("INFERENCE_HTTP_URL")),
		Greeting:           envOrDefault("INTERVIEW_GREETING", defaultGreeting),
		DatabaseURL:        trimSpace(os.Getenv("DATABASE_URL")),
		ShutdownTimeout:    15 * time.Second,
		SessionIdleTimeout: 5 * time.Minute,
		TokenTTL:           7 * 24 * time.Hour,
		InferenceTimeout:   60 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionIdleTimeout, err = durationFromEnv("APP_SESSION_IDLE_TIMEOUT", cfg.SessionIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TokenTTL, err = durationFromEnv("AUTH_TOKEN_TTL", cfg.TokenTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.InferenceTimeout, err = durationFromEnv("INFERENCE_TIMEOUT", cfg.InferenceTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.DevTokens, err = boolFromEnv("AUTH_DEV_TOKENS", cfg.DevTokens)
	if err != nil {
		return Config{}, err
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("AUTH_JWT_SECRET is required")
	}
	if cfg.SessionIdleTimeout != 0 && cfg.SessionIdleTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_IDLE_TIMEOUT must be 0 or at least 5s")
	}
	if cfg.InferenceTimeout < time.Second {
		return Config{}, fmt.Errorf("INFERENCE_TIMEOUT must be at least 1s")
	}
	if cfg.TokenTTL <= 0 {
		return Config{}, fmt.Errorf("AUTH_TOKEN_TTL must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := trimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func trimSpace(v string) string {
	return strings.TrimSpace(v)
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimSpace(os.Getenv(key)))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

// Package config loads and validates gateway configuration from the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every runtime setting the gateway reads at startup.
type Config struct {
	Port int
	Host string

	// BackendURL is the static base URL of the user-management API. When
	// ConsulAddr is set, the backend is discovered through Consul instead
	// and this value is only the fallback.
	BackendURL     string
	BackendService string

	ConsulAddr  string
	ConsulToken string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// SessionSecret seals the token cookie. Required.
	SessionSecret string
	// SessionMaxAge bounds the encrypted cookie lifetime in seconds.
	SessionMaxAge int

	CORSOrigins []string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Load reads configuration from the environment and validates the
// variables the gateway cannot run without.
func Load() (*Config, error) {
	if err := ValidateEnv([]string{"SESSION_SECRET", "BACKEND_API_URL"}); err != nil {
		return nil, err
	}

	port, err := strconv.Atoi(getEnv("GATEWAY_PORT", "8080"))
	if err != nil || port < 1 || port > 65535 {
		return nil, fmt.Errorf("GATEWAY_PORT must be a port number, got %q", getEnv("GATEWAY_PORT", "8080"))
	}

	cfg := &Config{
		Port:           port,
		Host:           getEnv("GATEWAY_HOST", "localhost"),
		BackendURL:     os.Getenv("BACKEND_API_URL"),
		BackendService: getEnv("BACKEND_SERVICE_NAME", "user-api"),
		ConsulAddr:     os.Getenv("CONSUL_HTTP_ADDR"),
		ConsulToken:    os.Getenv("CONSUL_HTTP_TOKEN"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		SessionSecret:  os.Getenv("SESSION_SECRET"),
		SessionMaxAge:  getEnvInt("SESSION_MAX_AGE", 3600),
		ReadTimeout:    getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:   getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:    getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
	}

	origins := getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}

	return cfg, nil
}

// ValidateEnv verifies that every listed environment variable is set.
func ValidateEnv(required []string) error {
	var missing []string
	for _, name := range required {
		if os.Getenv(name) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// Package config loads application configuration from environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Store      StoreConfig
	Federation FederationConfig
	Broker     BrokerConfig
	Logging    LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// StoreConfig holds backing store configuration. Empty URLs select the
// in-memory fallbacks, intended for development only.
type StoreConfig struct {
	RedisURL      string
	RedisPassword string
	RedisDB       int
	PostgresURL   string
}

// FederationConfig holds the trust material and signing key locations.
type FederationConfig struct {
	TrustFile string
	CertFile  string
	KeyFile   string

	// ForwardRoles adds the subject's role list to issued assertions.
	ForwardRoles bool
	// AllowFallbackIdentity lets an unauthenticated request name its own
	// subject. Never enable outside a test environment.
	AllowFallbackIdentity bool
	// DebugRequests traces issued response documents to the log.
	DebugRequests bool
}

// BrokerConfig holds broker protocol settings.
type BrokerConfig struct {
	SessionTTL       time.Duration
	IdentityCacheTTL time.Duration
	IdentityCacheLen int

	// Login throttling, shared by the broker login command and the
	// browser login form.
	LoginAttempts int
	LoginWindow   time.Duration
}

// LoggingConfig holds log settings
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("FEDGATE_HOST", "0.0.0.0"),
			Port:            getEnv("FEDGATE_PORT", "8080"),
			ReadTimeout:     getEnvDuration("FEDGATE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("FEDGATE_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("FEDGATE_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("FEDGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("FEDGATE_HEALTH_PORT", "9090"),
		},
		Store: StoreConfig{
			RedisURL:      getEnv("FEDGATE_REDIS_URL", ""),
			RedisPassword: getEnv("FEDGATE_REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("FEDGATE_REDIS_DB", 0),
			PostgresURL:   getEnv("FEDGATE_POSTGRES_URL", ""),
		},
		Federation: FederationConfig{
			TrustFile:             getEnv("FEDGATE_TRUST_FILE", "trust.yaml"),
			CertFile:              getEnv("FEDGATE_CERT_FILE", ""),
			KeyFile:               getEnv("FEDGATE_KEY_FILE", ""),
			ForwardRoles:          getEnvBool("FEDGATE_FORWARD_ROLES", false),
			AllowFallbackIdentity: getEnvBool("FEDGATE_ALLOW_FALLBACK_IDENTITY", false),
			DebugRequests:         getEnvBool("FEDGATE_DEBUG_REQUESTS", false),
		},
		Broker: BrokerConfig{
			SessionTTL:       getEnvDuration("FEDGATE_SESSION_TTL", 10*time.Minute),
			IdentityCacheTTL: getEnvDuration("FEDGATE_IDENTITY_CACHE_TTL", time.Minute),
			IdentityCacheLen: getEnvInt("FEDGATE_IDENTITY_CACHE_LEN", 1024),
			LoginAttempts:    getEnvInt("FEDGATE_LOGIN_ATTEMPTS", 5),
			LoginWindow:      getEnvDuration("FEDGATE_LOGIN_WINDOW", time.Minute),
		},
		Logging: LoggingConfig{
			Level:  getEnv("FEDGATE_LOG_LEVEL", "info"),
			Format: getEnv("FEDGATE_LOG_FORMAT", "text"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Federation.TrustFile == "" {
		return fmt.Errorf("trust file is required")
	}
	// Key material comes as a pair or not at all.
	if (c.Federation.CertFile == "") != (c.Federation.KeyFile == "") {
		return fmt.Errorf("certificate and key files must be configured together")
	}

	if c.Broker.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if c.Broker.IdentityCacheLen <= 0 {
		return fmt.Errorf("identity cache length must be positive")
	}
	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

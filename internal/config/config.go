package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"finanzas/internal/secret"
)

// Backends accepted by DATA_BACKEND.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

var validBackends = []string{BackendMemory, BackendSQLite, BackendPostgres}

var validLogLevels = []string{"debug", "info", "warn", "error"}

type Config struct {
	// HTTP Server
	Port string

	// Backend selection
	DataBackend string

	// Database
	SQLiteDBPath string
	DatabaseURL  string

	// AMQP; an empty URL disables loan events
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Sessions and the credential vault
	SessionSecret     string
	SecretKey         string
	SecretKeyPrevious string
	// SecureCookies marks the session cookie Secure; enable behind TLS.
	SecureCookies bool

	// Owner used when the session carries none; 0 means unauthenticated
	// requests are rejected.
	DefaultOwnerID int64

	PageSize int
	LogLevel string

	// Worker
	HandlerTimeout time.Duration
}

func Load() *Config {
	cfg := &Config{
		Port:        getEnv("PORT", "8081"),
		DataBackend: getEnv("DATA_BACKEND", BackendMemory),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/finanzas.db"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "finanzas"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "loan_audit"),

		SessionSecret:     getEnv("SESSION_SECRET", ""),
		SecretKey:         getEnv("SECRET_KEY", ""),
		SecretKeyPrevious: getEnv("SECRET_KEY_PREVIOUS", ""),
		SecureCookies:     getEnvBool("COOKIE_SECURE", false),

		DefaultOwnerID: int64(getEnvInt("DEFAULT_OWNER_ID", 0)),

		PageSize: getEnvInt("PAGE_SIZE", 10),
		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),

		HandlerTimeout: getEnvDuration("WORKER_HANDLER_TIMEOUT", 10*time.Second),
	}

	return cfg
}

// Persistent reports whether data outlives the process.
func (c *Config) Persistent() bool {
	return c.DataBackend != BackendMemory
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	switch c.DataBackend {
	case BackendSQLite:
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errors = append(errors, "DATABASE_URL is required when using postgres backend")
		} else if u, err := url.Parse(c.DatabaseURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid DATABASE_URL: %v", err))
		} else if u.Scheme != "postgres" && u.Scheme != "postgresql" {
			errors = append(errors, fmt.Sprintf("invalid DATABASE_URL scheme '%s': must be 'postgres' or 'postgresql'", u.Scheme))
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Persistent backends need stable keys, otherwise sessions and stored
	// secrets would not survive a restart.
	if c.Persistent() {
		if c.SecretKey == "" {
			errors = append(errors, "SECRET_KEY is required when using a persistent backend")
		}
		if len(c.SessionSecret) < 32 {
			errors = append(errors, "SESSION_SECRET must be at least 32 characters when using a persistent backend")
		}
	}
	if c.SecretKey != "" {
		if _, err := secret.NewCodecFromBase64(c.SecretKey, c.SecretKeyPrevious); err != nil {
			errors = append(errors, fmt.Sprintf("invalid SECRET_KEY: %v", err))
		}
	}

	if c.DefaultOwnerID < 0 {
		errors = append(errors, fmt.Sprintf("invalid default owner id %d: must not be negative", c.DefaultOwnerID))
	}

	if c.PageSize < 1 || c.PageSize > 100 {
		errors = append(errors, fmt.Sprintf("invalid page size %d: must be between 1 and 100", c.PageSize))
	}

	if !slices.Contains(validLogLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of %v", c.LogLevel, validLogLevels))
	}

	if c.HandlerTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid worker handler timeout %v: must be at least 1 second", c.HandlerTimeout))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Codec builds the credential codec. Without a configured key an ephemeral
// one is generated, which only makes sense for the memory backend.
func (c *Config) Codec() (*secret.Codec, bool, error) {
	if c.SecretKey != "" {
		codec, err := secret.NewCodecFromBase64(c.SecretKey, c.SecretKeyPrevious)
		return codec, false, err
	}
	key, err := secret.GenerateKey()
	if err != nil {
		return nil, false, err
	}
	codec, err := secret.NewCodecFromBase64(key, "")
	return codec, true, err
}

// SessionKey returns the cookie signing key, generating a random one when
// none is configured.
func (c *Config) SessionKey() []byte {
	if c.SessionSecret != "" {
		return []byte(c.SessionSecret)
	}
	key, err := secret.GenerateKey()
	if err != nil {
		panic(err)
	}
	raw, _ := base64.StdEncoding.DecodeString(key)
	return raw
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

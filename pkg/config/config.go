// Package config holds runtime settings for the scamtrap gateway. Every
// setting comes from the environment with a development-safe default;
// production mode (SCAMTRAP_ENV=production) turns the development fallbacks
// into startup failures.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/scamtrap-ai/scamtrap/pkg/oracle"
	"github.com/scamtrap-ai/scamtrap/pkg/session"
)

// DefaultEncryptionKey is the well-known development key. Running with it
// means evidence at rest is effectively plaintext; Validate warns, and
// production mode refuses to start.
const DefaultEncryptionKey = "12345678901234567890123456789012"

// Config holds global settings for the scamtrap gateway.
// All settings can be configured via environment variables or programmatically.
type Config struct {
	// === Core Settings ===
	Port   string // HTTP listen port (default: "3000")
	APIKey string // x-api-key expected on /api/chat; well-known dev fallback, REQUIRED in production

	// === Crypto ===
	EncryptionKey string // AES key material for evidence at rest (32 bytes after clamping)

	// === LLM Oracles ===
	LLMBaseURL   string   // OpenAI-compatible chat-completions base URL
	LLMAPIKeys   []string // comma-separated key pool, rotated on failure
	ScoringModel string   // model for the maliciousness analyst
	PersonaModel string   // model for the honeypot persona

	// === Engine Tuning ===
	ActivationThreshold float64       // score at which a session latches (default: 0.80)
	LockWait            time.Duration // bounded per-session lock wait (default: 5s)
	PatternsFile        string        // optional YAML file extending keywords/UPI handles

	// === Persistence (optional; empty = in-memory only) ===
	RedisAddr   string // host:port of a Redis persister
	DatabaseURL string // Postgres DSN for the sessions table

	// === Reporting ===
	ReportURL string // sink for activation snapshots; empty disables reporting
}

// NewDefaultConfig creates a Config with development defaults, overridable
// via environment variables.
func NewDefaultConfig() *Config {
	return &Config{
		Port:   GetEnv("PORT", "3000"),
		APIKey: GetEnv("SCAMTRAP_API_KEY", "dev-secret-key"),

		EncryptionKey: getEncryptionKey(),

		LLMBaseURL:   GetEnv("SCAMTRAP_LLM_BASE_URL", oracle.DefaultBaseURL),
		LLMAPIKeys:   GetEnvSlice("SCAMTRAP_LLM_API_KEYS", nil),
		ScoringModel: GetEnv("SCAMTRAP_SCORING_MODEL", ""),
		PersonaModel: GetEnv("SCAMTRAP_PERSONA_MODEL", ""),

		ActivationThreshold: clampFloat(GetEnvFloat("SCAMTRAP_ACTIVATION_THRESHOLD", session.DefaultActivationThreshold), 0, 1),
		LockWait:            time.Duration(GetEnvInt("SCAMTRAP_LOCK_WAIT_MS", 5000)) * time.Millisecond,
		PatternsFile:        GetEnv("SCAMTRAP_PATTERNS_FILE", ""),

		RedisAddr:   GetEnv("SCAMTRAP_REDIS_ADDR", ""),
		DatabaseURL: GetEnv("DATABASE_URL", ""),

		ReportURL: GetEnv("SCAMTRAP_REPORT_URL", ""),
	}
}

// getEncryptionKey returns the configured key, falling back to the
// well-known development key with a loud warning.
func getEncryptionKey() string {
	if key := os.Getenv("SCAMTRAP_ENCRYPTION_KEY"); key != "" {
		return key
	}
	log.Printf("[WARN] SCAMTRAP_ENCRYPTION_KEY not set - using the well-known development key. Evidence at rest is NOT protected. Set SCAMTRAP_ENCRYPTION_KEY in production!")
	return DefaultEncryptionKey
}

func clampFloat(val, min, max float64) float64 {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// IsProduction reports whether SCAMTRAP_ENV selects production mode.
func IsProduction() bool {
	env := strings.ToLower(os.Getenv("SCAMTRAP_ENV"))
	return env == "production" || env == "prod"
}

// Helper functions for environment variable parsing.
// Exported for use by other packages.

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvBool returns the boolean value of an environment variable or a default value.
func GetEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

// GetEnvFloat returns the float64 value of an environment variable or a default value.
func GetEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

// GetEnvInt returns the integer value of an environment variable or a default value.
func GetEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

// GetEnvSlice returns a comma-separated list from an environment variable or a default value.
func GetEnvSlice(key string, defaultValue []string) []string {
	if v := os.Getenv(key); v != "" {
		var parts []string
		for _, p := range strings.Split(v, ",") {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		if len(parts) > 0 {
			return parts
		}
	}
	return defaultValue
}

// RequiredSecret defines a required environment variable for startup validation.
type RequiredSecret struct {
	Name        string // Environment variable name
	Description string // Human-readable description
	Production  bool   // Required in production only (false = required always)
}

// CriticalSecrets returns the list of secrets required for the gateway to operate.
func CriticalSecrets() []RequiredSecret {
	return []RequiredSecret{
		{Name: "SCAMTRAP_API_KEY", Description: "API key for gateway authentication", Production: true},
		{Name: "SCAMTRAP_ENCRYPTION_KEY", Description: "AES key for evidence at rest (32 bytes)", Production: true},
	}
}

// Validate checks that all required configuration is present.
// In production mode, missing critical secrets are an error; in development
// they log warnings so local testing can proceed.
func (c *Config) Validate() error {
	isProduction := IsProduction()

	var missing []string
	for _, secret := range CriticalSecrets() {
		if os.Getenv(secret.Name) != "" {
			continue
		}
		entry := secret.Name + " (" + secret.Description + ")"
		if secret.Production && !isProduction {
			log.Printf("[STARTUP] Warning: missing secret: %s", entry)
			continue
		}
		missing = append(missing, entry)
	}

	if isProduction && c.EncryptionKey == DefaultEncryptionKey {
		missing = append(missing, "SCAMTRAP_ENCRYPTION_KEY (must not be the development default)")
	}
	if c.EncryptionKey == DefaultEncryptionKey {
		log.Printf("[STARTUP] Warning: running with the development encryption key")
	}
	if len(c.LLMAPIKeys) == 0 {
		log.Printf("[STARTUP] Warning: SCAMTRAP_LLM_API_KEYS not set - oracle calls will degrade to neutral verdicts and fallback replies")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required secrets: %s", strings.Join(missing, ", "))
	}
	return nil
}

// MustValidate calls Validate and fatally exits if validation fails.
// Call this at startup before starting the server.
func (c *Config) MustValidate() {
	if err := c.Validate(); err != nil {
		log.Fatalf("[STARTUP] FATAL: Configuration validation failed: %v", err)
	}
	log.Println("[STARTUP] Configuration validated successfully")
}

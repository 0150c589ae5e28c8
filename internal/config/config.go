// Package config loads and validates the SecureLMS configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the LMS_ prefix (e.g., LMS_DATABASE_HOST
// overrides database.host in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment variables
// in containerized deployments; no recompilation or different binaries needed.
//
// The PASSWORD_PEPPER and AUDIT_SECRET_KEY variables have no LMS_ prefix because
// they may be injected by infrastructure tooling (e.g., Kubernetes secrets, Vault
// agent) that does not know the application-specific prefix and treats them as
// generic secret names.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	MFA       MFAConfig       `mapstructure:"mfa"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// AuthConfig holds authentication configuration: the password pepper, the
// lockout policy, session lifetime, and the argon2 cost profile.
type AuthConfig struct {
	// PasswordPepper is appended to every password before hashing. Usually
	// injected via the PASSWORD_PEPPER environment variable.
	PasswordPepper string `mapstructure:"password_pepper"`
	// LockThreshold is the number of consecutive failed logins that locks
	// an account
	LockThreshold int `mapstructure:"lock_threshold"`
	// LockDuration is how long a lockout lasts
	LockDuration time.Duration `mapstructure:"lock_duration"`
	// SessionTTL is the lifetime of an issued session token
	SessionTTL time.Duration `mapstructure:"session_ttl"`
	Argon2     Argon2Config  `mapstructure:"argon2"`
}

// Argon2Config holds the argon2id cost parameters for new password hashes
type Argon2Config struct {
	MemoryKiB   uint32 `mapstructure:"memory_kib"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
}

// MFAConfig holds TOTP configuration
type MFAConfig struct {
	Issuer string `mapstructure:"issuer"`
	// Period is seconds per time step
	Period uint `mapstructure:"period"`
	Digits int  `mapstructure:"digits"`
	// Skew is the number of adjacent time steps accepted on either side
	Skew uint `mapstructure:"skew"`
}

// PolicyConfig holds the rule-based access window
type PolicyConfig struct {
	// WorkStart and WorkEnd bound the access window, hours 0-23 inclusive
	// on both ends
	WorkStart int `mapstructure:"work_start"`
	WorkEnd   int `mapstructure:"work_end"`
}

// AuditConfig holds audit chain configuration
type AuditConfig struct {
	// SecretKey keys the HMAC hash chain. Usually injected via the
	// AUDIT_SECRET_KEY environment variable.
	SecretKey string `mapstructure:"secret_key"`
	// VerifyIntervalMinutes determines how often the background chain
	// verification job runs; 0 disables it
	VerifyIntervalMinutes int `mapstructure:"verify_interval_minutes"`
	// Shipper configures optional export of committed entries
	Shipper AuditShipperConfig `mapstructure:"shipper"`
}

// AuditShipperConfig holds configuration for the audit shipper
type AuditShipperConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Type    string `mapstructure:"type"` // file, webhook
	// File configuration
	FilePath string `mapstructure:"file_path"`
	// Webhook configuration
	WebhookURL     string            `mapstructure:"webhook_url"`
	WebhookTimeout time.Duration     `mapstructure:"webhook_timeout"`
	WebhookHeaders map[string]string `mapstructure:"webhook_headers"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
	Headers      HeadersConfig      `mapstructure:"headers"`
}

// HeadersConfig tunes the protective response headers. Only the HSTS knobs
// vary by deployment (HSTS must be off when TLS terminates at a proxy that
// sets its own header); the rest of the header set is fixed in middleware.
type HeadersConfig struct {
	HSTSEnabled           bool `mapstructure:"hsts_enabled"`
	HSTSMaxAgeSeconds     int  `mapstructure:"hsts_max_age_seconds"`
	HSTSIncludeSubdomains bool `mapstructure:"hsts_include_subdomains"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
// viper.BindEnv only errors when called with zero keys; since every key here is a non-empty
// hardcoded string, any error indicates a programming bug and is surfaced to the caller.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.read_timeout",
		"server.write_timeout",

		// Auth
		"auth.password_pepper",
		"auth.lock_threshold",
		"auth.lock_duration",
		"auth.session_ttl",
		"auth.argon2.memory_kib",
		"auth.argon2.iterations",
		"auth.argon2.parallelism",

		// MFA
		"mfa.issuer",
		"mfa.period",
		"mfa.digits",
		"mfa.skew",

		// Policy
		"policy.work_start",
		"policy.work_end",

		// Audit
		"audit.secret_key",
		"audit.verify_interval_minutes",
		"audit.shipper.enabled",
		"audit.shipper.type",
		"audit.shipper.file_path",
		"audit.shipper.webhook_url",
		"audit.shipper.webhook_timeout",

		// Security
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",

		// Logging
		"logging.level",
		"logging.format",
		"logging.output",

		// Telemetry
		"telemetry.enabled",
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Set config file path if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config.yaml in common locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/securelms")
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	// Enable environment variable support
	v.SetEnvPrefix("LMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind environment variables for nested structures
	// This is necessary because AutomaticEnv() doesn't work well with Unmarshal()
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	// Unmarshal configuration
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Auth.PasswordPepper = expandEnv(cfg.Auth.PasswordPepper)
	cfg.Audit.SecretKey = expandEnv(cfg.Audit.SecretKey)

	// Unprefixed secret names take precedence when present; infrastructure
	// tooling typically injects these directly.
	if pepper := os.Getenv("PASSWORD_PEPPER"); pepper != "" {
		cfg.Auth.PasswordPepper = pepper
	}
	if key := os.Getenv("AUDIT_SECRET_KEY"); key != "" {
		cfg.Audit.SecretKey = key
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "securelms")
	v.SetDefault("database.user", "securelms")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Auth defaults
	v.SetDefault("auth.lock_threshold", 5)
	v.SetDefault("auth.lock_duration", "15m")
	v.SetDefault("auth.session_ttl", "30m")
	v.SetDefault("auth.argon2.memory_kib", 65536)
	v.SetDefault("auth.argon2.iterations", 3)
	v.SetDefault("auth.argon2.parallelism", 2)

	// MFA defaults
	v.SetDefault("mfa.issuer", "SecureLMS")
	v.SetDefault("mfa.period", 30)
	v.SetDefault("mfa.digits", 6)
	v.SetDefault("mfa.skew", 1)

	// Policy defaults
	v.SetDefault("policy.work_start", 5)
	v.SetDefault("policy.work_end", 23)

	// Audit defaults
	v.SetDefault("audit.verify_interval_minutes", 60)
	v.SetDefault("audit.shipper.enabled", false)
	v.SetDefault("audit.shipper.type", "file")
	v.SetDefault("audit.shipper.webhook_timeout", "10s")

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 60)
	v.SetDefault("security.rate_limiting.burst", 10)
	v.SetDefault("security.tls.enabled", false)
	v.SetDefault("security.headers.hsts_enabled", true)
	v.SetDefault("security.headers.hsts_max_age_seconds", 31536000)
	v.SetDefault("security.headers.hsts_include_subdomains", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "securelms")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	// Validate database
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	// Validate auth
	if c.Auth.LockThreshold < 1 {
		return fmt.Errorf("auth.lock_threshold must be at least 1")
	}
	if c.Auth.LockDuration <= 0 {
		return fmt.Errorf("auth.lock_duration must be positive")
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("auth.session_ttl must be positive")
	}
	if c.Auth.Argon2.MemoryKiB < 8*1024 {
		return fmt.Errorf("auth.argon2.memory_kib must be at least 8192")
	}
	if c.Auth.Argon2.Iterations < 1 {
		return fmt.Errorf("auth.argon2.iterations must be at least 1")
	}
	if c.Auth.Argon2.Parallelism < 1 {
		return fmt.Errorf("auth.argon2.parallelism must be at least 1")
	}

	// Validate MFA
	if c.MFA.Digits != 6 && c.MFA.Digits != 8 {
		return fmt.Errorf("mfa.digits must be 6 or 8")
	}
	if c.MFA.Period == 0 {
		return fmt.Errorf("mfa.period must be positive")
	}

	// Validate policy window
	if c.Policy.WorkStart < 0 || c.Policy.WorkStart > 23 {
		return fmt.Errorf("policy.work_start must be between 0 and 23")
	}
	if c.Policy.WorkEnd < 0 || c.Policy.WorkEnd > 23 {
		return fmt.Errorf("policy.work_end must be between 0 and 23")
	}
	if c.Policy.WorkStart > c.Policy.WorkEnd {
		return fmt.Errorf("policy.work_start must not be later than policy.work_end")
	}

	// Validate audit shipper
	if c.Audit.Shipper.Enabled {
		switch c.Audit.Shipper.Type {
		case "file":
			if c.Audit.Shipper.FilePath == "" {
				return fmt.Errorf("audit.shipper.file_path is required for the file shipper")
			}
		case "webhook":
			if c.Audit.Shipper.WebhookURL == "" {
				return fmt.Errorf("audit.shipper.webhook_url is required for the webhook shipper")
			}
		default:
			return fmt.Errorf("invalid audit shipper type: %s (must be file or webhook)", c.Audit.Shipper.Type)
		}
	}

	// Validate TLS if enabled
	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	// Validate logging level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// RequireSecrets checks the secrets a production deployment cannot run
// without. Separated from Validate so the migrate subcommand, which never
// hashes passwords or appends audit entries, can still load config.
func (c *Config) RequireSecrets() error {
	if c.Auth.PasswordPepper == "" {
		return fmt.Errorf("auth.password_pepper (or PASSWORD_PEPPER) is required")
	}
	if c.Audit.SecretKey == "" {
		return fmt.Errorf("audit.secret_key (or AUDIT_SECRET_KEY) is required")
	}
	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

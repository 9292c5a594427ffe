package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage drivers understood by store.Open.
const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Admin    AdminConfig    `yaml:"admin"`
	Telegram TelegramConfig `yaml:"telegram"`
	Log      LogConfig      `yaml:"log"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// ServerConfig represents the HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// Origins allowed to call the API from the mini-app
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
}

// StorageConfig represents the storage configuration
type StorageConfig struct {
	// One of file, sqlite, postgres
	Driver string `yaml:"driver"`
	// Directory holding one JSON document per request (file driver)
	Dir string `yaml:"dir"`
	// Database file (sqlite driver)
	SQLitePath string `yaml:"sqlite_path"`
	// Connection string (postgres driver)
	PostgresDSN string `yaml:"postgres_dsn"`
}

// AdminConfig represents the administrator identity and token settings
type AdminConfig struct {
	Username string `yaml:"username"`
	// Either a plain password or an argon2id PHC hash; the hash wins when both are set
	Password     string        `yaml:"password"`
	PasswordHash string        `yaml:"password_hash"`
	TokenSecret  string        `yaml:"token_secret"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
	Issuer       string        `yaml:"issuer"`
	// Failed logins allowed per username inside LockoutWindow
	MaxLoginAttempts int           `yaml:"max_login_attempts"`
	LockoutWindow    time.Duration `yaml:"lockout_window"`
}

// TelegramConfig represents the mini-app and bot integration
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	// Reject /register calls without valid signed init data
	RequireInitData bool          `yaml:"require_init_data"`
	InitDataMaxAge  time.Duration `yaml:"init_data_max_age"`
	// Message the requester after a decision
	NotifyDecisions bool   `yaml:"notify_decisions"`
	APIBaseURL      string `yaml:"api_base_url"`
}

// LogConfig represents the logger configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig represents the OpenTelemetry configuration
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate"`
	ServiceName  string  `yaml:"service_name"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			RequestTimeout:  15 * time.Second,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    20 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Driver:     DriverFile,
			Dir:        "/var/lib/staffgate/requests",
			SQLitePath: "/var/lib/staffgate/staffgate.db",
		},
		Admin: AdminConfig{
			Username:         "admin",
			TokenTTL:         30 * time.Minute,
			Issuer:           "staffgate-api",
			MaxLoginAttempts: 5,
			LockoutWindow:    15 * time.Minute,
		},
		Telegram: TelegramConfig{
			InitDataMaxAge: 24 * time.Hour,
			APIBaseURL:     "https://api.telegram.org",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: TracingConfig{
			Exporter:     "stdout",
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
			ServiceName:  "staffgate-api",
		},
	}
}

// LoadConfig loads configuration from a YAML file and applies environment overrides
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	config.applyEnv()
	return config, nil
}

// Secrets are usually injected by the environment rather than the file.
func (c *Config) applyEnv() {
	c.Admin.Username = GetEnvOrDefault("STAFFGATE_ADMIN_USERNAME", c.Admin.Username)
	c.Admin.Password = GetEnvOrDefault("STAFFGATE_ADMIN_PASSWORD", c.Admin.Password)
	c.Admin.PasswordHash = GetEnvOrDefault("STAFFGATE_ADMIN_PASSWORD_HASH", c.Admin.PasswordHash)
	c.Admin.TokenSecret = GetEnvOrDefault("STAFFGATE_TOKEN_SECRET", c.Admin.TokenSecret)
	c.Telegram.BotToken = GetEnvOrDefault("STAFFGATE_BOT_TOKEN", c.Telegram.BotToken)
	c.Storage.PostgresDSN = GetEnvOrDefault("STAFFGATE_DATABASE_URL", c.Storage.PostgresDSN)
}

// minTokenSecretLength is the shortest HMAC key accepted for admin tokens.
const minTokenSecretLength = 32

// Validate reports configuration that would make the server unusable or unsafe.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Storage.Driver {
	case DriverFile:
		if c.Storage.Dir == "" {
			return fmt.Errorf("storage.dir is required for the file driver")
		}
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}

	if c.Admin.Username == "" {
		return fmt.Errorf("admin.username is required")
	}
	if c.Admin.Password == "" && c.Admin.PasswordHash == "" {
		return fmt.Errorf("admin.password or admin.password_hash is required")
	}
	if len(c.Admin.TokenSecret) < minTokenSecretLength {
		return fmt.Errorf("admin.token_secret must be at least %d bytes", minTokenSecretLength)
	}
	if c.Admin.TokenTTL <= 0 {
		return fmt.Errorf("admin.token_ttl must be positive")
	}

	if (c.Telegram.RequireInitData || c.Telegram.NotifyDecisions) && c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required when init data checks or notifications are enabled")
	}

	return nil
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GetEnvOrDefault returns the environment variable value or a default
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

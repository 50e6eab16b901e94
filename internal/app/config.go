package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/florianilch/vbsession/internal/tokenstore"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
	LogFormatOTel LogFormat = "otel"
)

// RememberStorageType selects where the remember value is persisted.
type RememberStorageType string

const (
	RememberStorageNone    RememberStorageType = "none"
	RememberStorageFile    RememberStorageType = "file"
	RememberStorageEnv     RememberStorageType = "env"
	RememberStorageKeyring RememberStorageType = "keyring"
)

// Default configuration values
const (
	DefaultConfigLogFormat              = LogFormatText
	DefaultConfigServerHost             = "127.0.0.1"
	DefaultConfigServerPort             = 4080
	DefaultConfigShutdownTimeout        = 5 * time.Second
	DefaultConfigBackendBaseURL         = "https://localhost:7104/api/Auth"
	DefaultConfigBackendTimeout         = 15 * time.Second
	DefaultConfigBackendReadyTimeout    = 3 * time.Second
	DefaultConfigBackendLogoutTimeout   = 5 * time.Second
	DefaultConfigRememberDays           = 30
	DefaultConfigRememberStorage        = RememberStorageNone
	DefaultConfigRememberEnvKey         = "VB_REMEMBER_TOKEN"
	DefaultConfigRememberKeyringService = "vbsession-remember"
)

// ServerConfig holds sidecar listener configuration.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// BackendConfig describes the authentication API.
type BackendConfig struct {
	BaseURL string `json:"base_url" validate:"required,url"`
	// Timeout bounds every backend call.
	Timeout time.Duration `json:"timeout" validate:"gte=0"`
	// ReadyTimeout bounds how long sidecar calls wait for the session probe.
	ReadyTimeout time.Duration `json:"ready_timeout" validate:"gte=0"`
	// LogoutTimeout bounds the best-effort logout notification.
	LogoutTimeout time.Duration `json:"logout_timeout" validate:"gte=0"`
}

// RememberConfig describes how the remember value survives restarts.
type RememberConfig struct {
	Days    int                 `json:"days" validate:"gte=0,lte=365"`
	Storage RememberStorageType `json:"storage" validate:"required,oneof=none file env keyring"`

	// Storage-specific settings (mutually exclusive based on Storage type)
	File        string `json:"file,omitempty"`
	EnvKey      string `json:"env_key,omitempty"`
	KeyringUser string `json:"keyring_user,omitempty"`
}

// NewStore creates the configured store, or nil when remembering is off.
func (r *RememberConfig) NewStore() (tokenstore.Store, error) {
	switch r.Storage {
	case RememberStorageNone:
		return nil, nil
	case RememberStorageFile:
		return tokenstore.NewFileStore(r.File)
	case RememberStorageEnv:
		return tokenstore.NewEnvStore(r.EnvKey)
	case RememberStorageKeyring:
		return tokenstore.NewKeyringStore(DefaultConfigRememberKeyringService, r.KeyringUser)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", r.Storage)
	}
}

// OTLPConfig enables OTLP log export in otel log format.
type OTLPConfig struct {
	Endpoint string `json:"endpoint" validate:"omitempty,url"`
	Protocol string `json:"protocol" validate:"omitempty,oneof=http grpc"`
}

// MetricsConfig controls the /metrics route.
type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level     `json:"log_level"`
	LogFormat LogFormat      `json:"log_format" validate:"oneof=text json otel"`
	OTLP      OTLPConfig     `json:"otlp"`
	Server    ServerConfig   `json:"server"`
	Shutdown  ShutdownConfig `json:"shutdown"`
	Backend   BackendConfig  `json:"backend"`
	Remember  RememberConfig `json:"remember"`
	Metrics   MetricsConfig  `json:"metrics"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = DefaultConfigBackendBaseURL
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = DefaultConfigBackendTimeout
	}
	if c.Backend.ReadyTimeout == 0 {
		c.Backend.ReadyTimeout = DefaultConfigBackendReadyTimeout
	}
	if c.Backend.LogoutTimeout == 0 {
		c.Backend.LogoutTimeout = DefaultConfigBackendLogoutTimeout
	}
	if c.Remember.Days == 0 {
		c.Remember.Days = DefaultConfigRememberDays
	}
	if c.Remember.Storage == "" {
		c.Remember.Storage = DefaultConfigRememberStorage
	}

	// Dynamic defaults based on storage type
	switch c.Remember.Storage {
	case RememberStorageFile:
		if c.Remember.File == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("remember.file required (auto-detect failed: %w)", err)
			}
			c.Remember.File = filepath.Join(configDir, "vbsession", "remember")
		}
	case RememberStorageEnv:
		if c.Remember.EnvKey == "" {
			c.Remember.EnvKey = DefaultConfigRememberEnvKey
		}
	case RememberStorageKeyring:
		if c.Remember.KeyringUser == "" {
			currentUser, err := user.Current()
			if err != nil {
				return fmt.Errorf("remember.keyring_user required (auto-detect failed: %w)", err)
			}
			c.Remember.KeyringUser = currentUser.Username
		}
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if c.OTLP.Endpoint != "" && c.LogFormat != LogFormatOTel {
		return errors.New("otlp.endpoint requires log_format otel")
	}

	switch c.Remember.Storage {
	case RememberStorageFile:
		if c.Remember.File == "" {
			return errors.New("file path required for file storage")
		}
	case RememberStorageEnv:
		if c.Remember.EnvKey == "" {
			return errors.New("env_key required for env storage")
		}
	case RememberStorageKeyring:
		if c.Remember.KeyringUser == "" {
			return errors.New("keyring_user required for keyring storage")
		}
	}

	return nil
}

// Address returns the sidecar listen address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/foxzi/herald/internal/ipfilter"
)

// Config is the herald process configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Links    LinksConfig    `yaml:"links"`
	DKIM     DKIMConfig     `yaml:"dkim"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`

	// SMTP bootstrap values from HERALD_SMTP_* (not in YAML)
	SMTPBootstrap SMTPBootstrap `yaml:"-"`
}

// ServerConfig contains admin HTTP API settings
type ServerConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	APITokenHash string        `yaml:"api_token_hash"` // bcrypt hash of the admin bearer token
	AllowedIPs   []string      `yaml:"allowed_ips"`    // IP addresses/CIDRs allowed to call the API
	TLSCertFile  string        `yaml:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DatabaseConfig contains SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SandboxConfig switches outgoing mail to the local capture store
type SandboxConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DispatchConfig tunes campaign fan-out
type DispatchConfig struct {
	Concurrency int           `yaml:"concurrency"`  // Default: 4
	SampleSize  int           `yaml:"sample_size"`  // Audience preview sample, default: 10
	SendTimeout time.Duration `yaml:"send_timeout"` // Per message, default: 30s
}

// LinksConfig holds static links exposed to every campaign render
type LinksConfig struct {
	AppURL         string `yaml:"app_url"`
	UnsubscribeURL string `yaml:"unsubscribe_url"`
	SupportEmail   string `yaml:"support_email"`
}

// DKIMConfig contains optional signing settings
type DKIMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Domain   string `yaml:"domain"`
	Selector string `yaml:"selector"`
	KeyFile  string `yaml:"key_file"`
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled    bool     `yaml:"enabled"`
	ListenAddr string   `yaml:"listen_addr"` // Default: :9090
	Path       string   `yaml:"path"`        // Default: /metrics
	AllowedIPs []string `yaml:"allowed_ips"` // IP addresses/CIDRs allowed to scrape
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// SMTPBootstrap carries SMTP values used by seed to pre-populate the mail config
type SMTPBootstrap struct {
	Host   string
	Port   int
	Secure bool
	User   string
	Pass   string
	From   string
}

// IsSet reports whether any bootstrap value was provided
func (s SMTPBootstrap) IsSet() bool {
	return s.Host != "" || s.User != "" || s.Pass != "" || s.From != ""
}

// Load loads configuration from a YAML file. A .env file next to it, if
// present, is loaded first and HERALD_* variables override file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("HERALD_DATABASE_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("HERALD_API_TOKEN_HASH"); v != "" {
		c.Server.APITokenHash = v
	}
	if v := os.Getenv("HERALD_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("HERALD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("HERALD_SANDBOX"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid HERALD_SANDBOX: %w", err)
		}
		c.Sandbox.Enabled = enabled
	}

	c.SMTPBootstrap.Host = os.Getenv("HERALD_SMTP_HOST")
	c.SMTPBootstrap.User = os.Getenv("HERALD_SMTP_USER")
	c.SMTPBootstrap.Pass = os.Getenv("HERALD_SMTP_PASS")
	c.SMTPBootstrap.From = os.Getenv("HERALD_SMTP_FROM")
	if v := os.Getenv("HERALD_SMTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid HERALD_SMTP_PORT: %w", err)
		}
		c.SMTPBootstrap.Port = port
	}
	if v := os.Getenv("HERALD_SMTP_SECURE"); v != "" {
		secure, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid HERALD_SMTP_SECURE: %w", err)
		}
		c.SMTPBootstrap.Secure = secure
	}

	return nil
}

func (c *Config) setDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8088"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 5 * time.Minute
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Database.Path == "" {
		c.Database.Path = "/var/lib/herald/herald.db"
	}
	if c.Sandbox.Path == "" {
		c.Sandbox.Path = "/var/lib/herald/sandbox.db"
	}
	if c.Dispatch.Concurrency <= 0 {
		c.Dispatch.Concurrency = 4
	}
	if c.Dispatch.SampleSize <= 0 {
		c.Dispatch.SampleSize = 10
	}
	if c.Dispatch.SendTimeout == 0 {
		c.Dispatch.SendTimeout = 30 * time.Second
	}
	if c.SMTPBootstrap.IsSet() && c.SMTPBootstrap.Port == 0 {
		c.SMTPBootstrap.Port = 587
	}
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Dispatch.Concurrency > 64 {
		return fmt.Errorf("dispatch.concurrency must be at most 64, got %d", c.Dispatch.Concurrency)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	if err := c.validateDKIM(); err != nil {
		return err
	}

	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		return fmt.Errorf("server.tls_cert_file and server.tls_key_file must be set together")
	}

	if _, err := ipfilter.Parse(c.Server.AllowedIPs); err != nil {
		return fmt.Errorf("server.allowed_ips: %w", err)
	}
	if _, err := ipfilter.Parse(c.Metrics.AllowedIPs); err != nil {
		return fmt.Errorf("metrics.allowed_ips: %w", err)
	}

	return nil
}

func (c *Config) validateDKIM() error {
	if !c.DKIM.Enabled {
		return nil
	}

	if c.DKIM.Selector == "" {
		return fmt.Errorf("dkim.selector is required when DKIM is enabled")
	}
	if c.DKIM.KeyFile == "" {
		return fmt.Errorf("dkim.key_file is required when DKIM is enabled")
	}
	if c.DKIM.Domain == "" {
		return fmt.Errorf("dkim.domain is required when DKIM is enabled")
	}

	return nil
}

// StaticVariables returns the link variables merged into every campaign render
func (c *Config) StaticVariables() map[string]any {
	vars := make(map[string]any, 3)
	if c.Links.AppURL != "" {
		vars["appUrl"] = c.Links.AppURL
	}
	if c.Links.UnsubscribeURL != "" {
		vars["unsubscribeUrl"] = c.Links.UnsubscribeURL
	}
	if c.Links.SupportEmail != "" {
		vars["supportEmail"] = c.Links.SupportEmail
	}
	return vars
}

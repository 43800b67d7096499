package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// AccountConfig defines a single OCEAN account to monitor
type AccountConfig struct {
	Username     string `json:"username" mapstructure:"username"`
	ScanInterval int    `json:"scan_interval" mapstructure:"scan_interval"` // seconds
}

// Interval returns the scan interval as a duration, falling back to the default
func (a AccountConfig) Interval() time.Duration {
	if a.ScanInterval <= 0 {
		return DefaultScanInterval * time.Second
	}
	return time.Duration(a.ScanInterval) * time.Second
}

// OceanConfig defines the pool endpoints and request timeouts
type OceanConfig struct {
	APIBaseURL     string        `json:"api_base_url" mapstructure:"api_base_url"`
	PoolURL        string        `json:"pool_url" mapstructure:"pool_url"`
	RequestTimeout time.Duration `json:"request_timeout" mapstructure:"request_timeout"`
	ScrapeTimeout  time.Duration `json:"scrape_timeout" mapstructure:"scrape_timeout"`
}

// AlertConfig defines worker alerting settings
type AlertConfig struct {
	Enabled         bool   `json:"enabled" mapstructure:"enabled"`
	WebhookURL      string `json:"webhook_url,omitempty" mapstructure:"webhook_url"`
	OnWorkerOffline bool   `json:"on_worker_offline" mapstructure:"on_worker_offline"`
	OnWorkerOnline  bool   `json:"on_worker_online" mapstructure:"on_worker_online"`
	OnWorkerMissing bool   `json:"on_worker_missing" mapstructure:"on_worker_missing"`
	CooldownMinutes int    `json:"cooldown_minutes" mapstructure:"cooldown_minutes"`
}

// PricingConfig defines BTC exchange rate fetching settings
type PricingConfig struct {
	Enabled        bool          `json:"enabled" mapstructure:"enabled"`
	UpdateInterval time.Duration `json:"update_interval" mapstructure:"update_interval"`
	FiatCurrency   string        `json:"fiat_currency" mapstructure:"fiat_currency"`
}

// ServerConfig defines HTTP server settings
type ServerConfig struct {
	Host         string        `json:"host" mapstructure:"host"`
	Port         int           `json:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
}

// Config is the main configuration structure
type Config struct {
	Server   ServerConfig    `json:"server" mapstructure:"server"`
	Accounts []AccountConfig `json:"accounts" mapstructure:"accounts"`
	Ocean    OceanConfig     `json:"ocean" mapstructure:"ocean"`
	Alerts   AlertConfig     `json:"alerts" mapstructure:"alerts"`
	Pricing  PricingConfig   `json:"pricing" mapstructure:"pricing"`
	LogLevel string          `json:"log_level" mapstructure:"log_level"`
	LogFile  string          `json:"log_file,omitempty" mapstructure:"log_file"`
}

// DefaultScanInterval matches OCEAN's own 60s stats window.
const DefaultScanInterval = 60

// EnvPrefix prefixes every environment override, e.g. OCEANHQ_SERVER_PORT.
const EnvPrefix = "OCEANHQ"

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
		Accounts: []AccountConfig{},
		Ocean: OceanConfig{
			APIBaseURL:     "https://api.ocean.xyz/v1",
			PoolURL:        "https://ocean.xyz",
			RequestTimeout: 10 * time.Second,
			ScrapeTimeout:  15 * time.Second,
		},
		Alerts: AlertConfig{
			Enabled:         true,
			OnWorkerOffline: true,
			OnWorkerOnline:  false,
			OnWorkerMissing: true,
			CooldownMinutes: 5,
		},
		Pricing: PricingConfig{
			Enabled:        true,
			UpdateInterval: 5 * time.Minute,
			FiatCurrency:   "usd",
		},
		LogLevel: "info",
	}
}

// ErrNotFound is returned by Load, along with a usable config, when the file does not exist
var ErrNotFound = errors.New("config file not found")

// Load reads configuration from a file (any format viper understands) with
// OCEANHQ_* environment overrides. A .env file in the working directory is
// loaded first when present. A missing file yields the defaults with the
// environment applied and an ErrNotFound error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	var missing error
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, err
		}
		missing = fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.applyEnvAccount()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, missing
}

// setDefaults registers every scalar key so AutomaticEnv can override it even
// when the file omits the key.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("ocean.api_base_url", d.Ocean.APIBaseURL)
	v.SetDefault("ocean.pool_url", d.Ocean.PoolURL)
	v.SetDefault("ocean.request_timeout", d.Ocean.RequestTimeout)
	v.SetDefault("ocean.scrape_timeout", d.Ocean.ScrapeTimeout)
	v.SetDefault("alerts.enabled", d.Alerts.Enabled)
	v.SetDefault("alerts.webhook_url", d.Alerts.WebhookURL)
	v.SetDefault("alerts.on_worker_offline", d.Alerts.OnWorkerOffline)
	v.SetDefault("alerts.on_worker_online", d.Alerts.OnWorkerOnline)
	v.SetDefault("alerts.on_worker_missing", d.Alerts.OnWorkerMissing)
	v.SetDefault("alerts.cooldown_minutes", d.Alerts.CooldownMinutes)
	v.SetDefault("pricing.enabled", d.Pricing.Enabled)
	v.SetDefault("pricing.update_interval", d.Pricing.UpdateInterval)
	v.SetDefault("pricing.fiat_currency", d.Pricing.FiatCurrency)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_file", d.LogFile)
}

// applyEnvAccount adds OCEAN_USERNAME as the only account when the file lists none.
func (c *Config) applyEnvAccount() {
	if len(c.Accounts) > 0 {
		return
	}
	username := strings.TrimSpace(os.Getenv("OCEAN_USERNAME"))
	if username == "" {
		return
	}
	c.Accounts = append(c.Accounts, AccountConfig{Username: username, ScanInterval: DefaultScanInterval})
}

// Validate checks the values Load cannot coerce
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Ocean.RequestTimeout <= 0 || c.Ocean.ScrapeTimeout <= 0 {
		return fmt.Errorf("ocean timeouts must be positive")
	}
	if c.Pricing.Enabled && c.Pricing.UpdateInterval <= 0 {
		return fmt.Errorf("pricing update interval must be positive")
	}

	seen := make(map[string]bool, len(c.Accounts))
	for i, a := range c.Accounts {
		if strings.TrimSpace(a.Username) == "" {
			return fmt.Errorf("account %d: username is required", i)
		}
		if a.ScanInterval < 0 {
			return fmt.Errorf("account %s: scan interval must not be negative", a.Username)
		}
		if seen[a.Username] {
			return fmt.Errorf("account %s configured twice", a.Username)
		}
		seen[a.Username] = true
	}
	return nil
}

// Save writes configuration to a JSON file
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

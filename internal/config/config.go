// Package config provides environment-variable-first configuration
// loading with optional YAML file fallback for the fax gateway. The
// loaded Config is constructed once at startup and injected into every
// component; nothing reads process state after that.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration.
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Email       EmailConfig       `yaml:"email"`
	Fax         FaxConfig         `yaml:"fax"`
	Storage     StorageConfig     `yaml:"storage"`
	Station     StationConfig     `yaml:"station"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// HTTPConfig holds the webhook server configuration.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// EmailConfig selects and configures the outbound email backend.
type EmailConfig struct {
	// Provider is "ses" or "stdout"; empty auto-detects.
	Provider string    `yaml:"provider"`
	SES      SESConfig `yaml:"ses"`
}

// SESConfig holds AWS SES v2 configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// FaxConfig holds the fax provider credentials and station numbers.
type FaxConfig struct {
	AccountSID     string `yaml:"account_sid"`
	AuthToken      string `yaml:"auth_token"`
	FromNumber     string `yaml:"from_number"`
	CountryCode    string `yaml:"country_code"`
	ToPattern      string `yaml:"to_pattern"`
	DefaultQuality string `yaml:"default_quality"`
}

// StorageConfig holds the transient blob store configuration.
type StorageConfig struct {
	Bucket           string `yaml:"bucket"`
	CredentialsJSON  string `yaml:"credentials_json"`
	SignerEmail      string `yaml:"signer_email"`
	SignerPrivateKey string `yaml:"signer_private_key"`
	// URLTTLMinutes is the validity window of signed media URLs.
	URLTTLMinutes int `yaml:"url_ttl_minutes"`
}

// StationConfig holds the email-facing identity of the fax station.
type StationConfig struct {
	// AgentAddr is the address outbound emails are sent from; it
	// accepts the "Display Name <addr>" form.
	AgentAddr string `yaml:"agent_addr"`
	// InboxAddr is the comma-separated list receiving fax reports.
	InboxAddr string `yaml:"inbox_addr"`
	// Domain forms synthetic sender addresses for incoming faxes.
	Domain string `yaml:"domain"`
}

// CorrelationConfig bounds the pending-reply store.
type CorrelationConfig struct {
	TTLHours int `yaml:"ttl_hours"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible
// defaults. Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// SESConfigured returns true if the SES backend has a region set.
func (c *Config) SESConfigured() bool {
	return c.Email.SES.Region != ""
}

// FaxConfigured returns true if the fax provider credentials are set.
func (c *Config) FaxConfigured() bool {
	return c.Fax.AccountSID != "" && c.Fax.AuthToken != "" && c.Fax.FromNumber != ""
}

// StorageConfigured returns true if a blob bucket is set.
func (c *Config) StorageConfigured() bool {
	return c.Storage.Bucket != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.HTTP.Listen = ":8080"
	c.Fax.CountryCode = "1"
	c.Fax.ToPattern = `^(\+?\d+)@`
	c.Fax.DefaultQuality = "fine"
	c.Storage.URLTTLMinutes = 30
	c.Station.AgentAddr = "fax@example.com"
	c.Correlation.TTLHours = 4
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("HTTP_LISTEN"); v != "" {
		c.HTTP.Listen = v
	}

	if v := os.Getenv("EMAIL_PROVIDER"); v != "" {
		c.Email.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("SES_REGION"); v != "" {
		c.Email.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY_ID"); v != "" {
		c.Email.SES.AccessKeyID = v
	}
	if v := os.Getenv("SES_SECRET_ACCESS_KEY"); v != "" {
		c.Email.SES.SecretAccessKey = v
	}

	if v := os.Getenv("FAX_ACCOUNT_SID"); v != "" {
		c.Fax.AccountSID = v
	}
	if v := os.Getenv("FAX_AUTH_TOKEN"); v != "" {
		c.Fax.AuthToken = v
	}
	if v := os.Getenv("FAX_FROM_NUMBER"); v != "" {
		c.Fax.FromNumber = v
	}
	if v := os.Getenv("FAX_COUNTRY_CODE"); v != "" {
		c.Fax.CountryCode = v
	}
	if v := os.Getenv("FAX_TO_PATTERN"); v != "" {
		c.Fax.ToPattern = v
	}
	if v := os.Getenv("FAX_DEFAULT_QUALITY"); v != "" {
		c.Fax.DefaultQuality = strings.ToLower(v)
	}

	if v := os.Getenv("GCS_BUCKET"); v != "" {
		c.Storage.Bucket = v
	}
	if v := os.Getenv("GCS_CREDENTIALS_JSON"); v != "" {
		c.Storage.CredentialsJSON = v
	}
	if v := os.Getenv("GCS_SIGNER_EMAIL"); v != "" {
		c.Storage.SignerEmail = v
	}
	if v := os.Getenv("GCS_SIGNER_PRIVATE_KEY"); v != "" {
		c.Storage.SignerPrivateKey = v
	}
	if v := os.Getenv("STORAGE_URL_TTL_MINUTES"); v != "" {
		if minutes, err := strconv.Atoi(v); err == nil {
			c.Storage.URLTTLMinutes = minutes
		}
	}

	if v := os.Getenv("STATION_AGENT_ADDR"); v != "" {
		c.Station.AgentAddr = v
	}
	if v := os.Getenv("STATION_INBOX_ADDR"); v != "" {
		c.Station.InboxAddr = v
	}
	if v := os.Getenv("STATION_DOMAIN"); v != "" {
		c.Station.Domain = v
	}

	if v := os.Getenv("CORRELATION_TTL_HOURS"); v != "" {
		if hours, err := strconv.Atoi(v); err == nil {
			c.Correlation.TTLHours = hours
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// MailboxConfig holds the remote mailbox (IMAP) connection defaults.
// Credentials themselves live in the credential store, not here.
type MailboxConfig struct {
	// ConnectTimeoutSec bounds the initial dial and login.
	ConnectTimeoutSec int `mapstructure:"connect_timeout_sec" yaml:"connect_timeout_sec"`

	// FetchTimeoutSec bounds each per-message fetch. A fetch timeout
	// skips that message; it does not abort the run.
	FetchTimeoutSec int `mapstructure:"fetch_timeout_sec" yaml:"fetch_timeout_sec"`
}

// SubmissionConfig holds the SMTP submission settings for outbound mail.
type SubmissionConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`

	// ImplicitTLS selects TLS-on-connect (465) over STARTTLS (587).
	ImplicitTLS bool `mapstructure:"implicit_tls" yaml:"implicit_tls"`
}

// StorageConfig holds the local envelope database settings.
type StorageConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// AppConfig is the top-level engine configuration.
type AppConfig struct {
	Mailbox    MailboxConfig    `mapstructure:"mailbox" yaml:"mailbox"`
	Submission SubmissionConfig `mapstructure:"submission" yaml:"submission"`
	Storage    StorageConfig    `mapstructure:"storage" yaml:"storage"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailsync/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailsync", "config.yaml")
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "mailsync.db")
	}
	return filepath.Join(home, ".local", "share", "mailsync", "mailsync.db")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Mailbox: MailboxConfig{
			ConnectTimeoutSec: 30,
			FetchTimeoutSec:   60,
		},
		Submission: SubmissionConfig{
			Port: "587",
		},
		Storage: StorageConfig{
			Path: defaultDBPath(),
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("mailbox.connect_timeout_sec", 30)
	v.SetDefault("mailbox.fetch_timeout_sec", 60)
	v.SetDefault("submission.port", "587")
	v.SetDefault("storage.path", defaultDBPath())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("mailbox", cfg.Mailbox)
	v.Set("submission", cfg.Submission)
	v.Set("storage", cfg.Storage)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}

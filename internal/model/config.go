package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// AccountConfig holds the configuration for a single mailbox account.
type AccountConfig struct {
	// ID is the unique identifier for this account.
	ID string `mapstructure:"id" yaml:"id"`

	// Host and Port locate the IMAP server.
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`

	// Username authenticates the session. Password may be left empty to
	// resolve it from the system keyring under the account ID.
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`

	// TLS selects implicit TLS; otherwise STARTTLS is used.
	TLS bool `mapstructure:"tls" yaml:"tls"`

	// Folder is the mailbox folder to retrieve from.
	Folder string `mapstructure:"folder" yaml:"folder"`

	// Enabled controls whether this account is actively polled.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// PollIntervalSec is how often (in seconds) to poll for new mail.
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`

	// DeleteAfterRetrieve marks retrieved messages deleted and expunges
	// them when the retrieval cursor closes.
	DeleteAfterRetrieve bool `mapstructure:"delete_after_retrieve" yaml:"delete_after_retrieve"`
}

// RetrievalConfig holds pagination and decomposition defaults.
type RetrievalConfig struct {
	// PageSize bounds each fetched message window.
	PageSize int `mapstructure:"page_size" yaml:"page_size"`

	// Limit caps results per list operation; -1 means unlimited.
	Limit int `mapstructure:"limit" yaml:"limit"`

	// NamingStrategy is "name", "name_headers", or "name_headers_subject".
	NamingStrategy string `mapstructure:"naming_strategy" yaml:"naming_strategy"`

	// TreatTextAsAttachment classifies attachment-dispositioned text
	// parts as attachments instead of body text.
	TreatTextAsAttachment bool `mapstructure:"treat_text_as_attachment" yaml:"treat_text_as_attachment"`
}

// StorageConfig holds the local archive settings.
type StorageConfig struct {
	// Enabled controls whether polled messages are archived locally.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Path is the SQLite database file location.
	Path string `mapstructure:"path" yaml:"path"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Accounts  []AccountConfig `mapstructure:"accounts" yaml:"accounts"`
	Retrieval RetrievalConfig `mapstructure:"retrieval" yaml:"retrieval"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailfeed/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailfeed", "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Accounts: []AccountConfig{},
		Retrieval: RetrievalConfig{
			PageSize:       50,
			Limit:          -1,
			NamingStrategy: "name_headers_subject",
		},
		Storage: StorageConfig{
			Path: filepath.Join(filepath.Dir(DefaultConfigPath()), "archive.db"),
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
	v.SetDefault("retrieval.page_size", 50)
	v.SetDefault("retrieval.limit", -1)
	v.SetDefault("retrieval.naming_strategy", "name_headers_subject")

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

	// Apply defaults for each account entry.
	for i := range cfg.Accounts {
		if cfg.Accounts[i].PollIntervalSec == 0 {
			cfg.Accounts[i].PollIntervalSec = 120
		}
		if cfg.Accounts[i].Folder == "" {
			cfg.Accounts[i].Folder = "INBOX"
		}
		if !cfg.Accounts[i].Enabled {
			// Viper unmarshals missing bools as false; treat unset
			// as true. We use the raw viper value to distinguish
			// explicit false from absent.
			key := fmt.Sprintf("accounts.%d.enabled", i)
			if !v.IsSet(key) {
				cfg.Accounts[i].Enabled = true
			}
		}
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

	v.Set("accounts", cfg.Accounts)
	v.Set("retrieval", cfg.Retrieval)
	v.Set("storage", cfg.Storage)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}

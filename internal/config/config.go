package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v4"
)

// Default folder names used when an account does not configure its own.
const (
	DefaultProcessedFolder   = "INBOX.Processed"
	DefaultJunkFolder        = "INBOX.Junk"
	DefaultApprovedAdsFolder = "INBOX.Approved_Ads"
	DefaultPendingFolder     = "INBOX.Pending"
)

// Default fetch limits for the two triage runs.
const (
	DefaultPrimaryLimit     = 100
	DefaultMaintenanceLimit = 500
)

// Config is the top-level application configuration.
type Config struct {
	LogLevel       string         `yaml:"log_level"`
	LogFormat      string         `yaml:"log_format"` // "text" or "json"
	DataDir        string         `yaml:"data_dir"`
	ListsDir       string         `yaml:"lists_dir"`
	RulesFile      string         `yaml:"rules_file"`
	RuleStore      string         `yaml:"rule_store"` // "json" or "sqlite"
	HistoryDB      string         `yaml:"history_db"`
	Listen         string         `yaml:"listen"`
	LabelProviders []string       `yaml:"label_providers"`
	Retention      map[string]int `yaml:"retention"`
	Sender         SMTP           `yaml:"sender"`
	Accounts       []Account      `yaml:"accounts"`
}

// SMTP holds the outgoing mail server used by the forward rule action.
type SMTP struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	UseTLS   bool   `yaml:"use_tls"`
}

// Enabled reports whether an SMTP relay is configured.
func (s SMTP) Enabled() bool {
	return s.Host != "" && s.Port != 0
}

// Folders maps triage categories to mailbox folder names.
type Folders struct {
	Processed   string `yaml:"processed"`
	Junk        string `yaml:"junk"`
	ApprovedAds string `yaml:"approved_ads"`
	Pending     string `yaml:"pending"`
}

// WithDefaults fills every unset folder with its fallback name.
func (f Folders) WithDefaults() Folders {
	if f.Processed == "" {
		f.Processed = DefaultProcessedFolder
	}
	if f.Junk == "" {
		f.Junk = DefaultJunkFolder
	}
	if f.ApprovedAds == "" {
		f.ApprovedAds = DefaultApprovedAdsFolder
	}
	if f.Pending == "" {
		f.Pending = DefaultPendingFolder
	}
	return f
}

// DefaultFolders returns the fallback folder set.
func DefaultFolders() Folders {
	return Folders{}.WithDefaults()
}

// Account describes one managed mailbox.
type Account struct {
	Name             string  `yaml:"name"`
	Email            string  `yaml:"email"`
	Host             string  `yaml:"host"`
	Port             int     `yaml:"port"`
	Username         string  `yaml:"username"`
	Password         string  `yaml:"password"`
	PasswordEnv      string  `yaml:"password_env"`
	UseTLS           bool    `yaml:"use_tls"`
	Folder           string  `yaml:"folder"`
	Limit            int     `yaml:"limit"`
	MaintenanceLimit int     `yaml:"maintenance_limit"`
	Folders          Folders `yaml:"folders"`
}

// GetFolder returns the folder triage runs read from, defaulting to "INBOX".
func (a *Account) GetFolder() string {
	if a.Folder == "" {
		return "INBOX"
	}
	return a.Folder
}

// GetLimit returns the primary run fetch limit, defaulting to 100.
func (a *Account) GetLimit() int {
	if a.Limit <= 0 {
		return DefaultPrimaryLimit
	}
	return a.Limit
}

// GetMaintenanceLimit returns the maintenance run fetch limit, defaulting to 500.
func (a *Account) GetMaintenanceLimit() int {
	if a.MaintenanceLimit <= 0 {
		return DefaultMaintenanceLimit
	}
	return a.MaintenanceLimit
}

// GetUsername returns the login name, falling back to the account email.
func (a *Account) GetUsername() string {
	if a.Username == "" {
		return a.Email
	}
	return a.Username
}

// Label returns a printable identifier for log lines.
func (a *Account) Label() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Email
}

// AccountByEmail returns the configured account with the given address.
func (c *Config) AccountByEmail(email string) (*Account, bool) {
	for i := range c.Accounts {
		if strings.EqualFold(c.Accounts[i].Email, email) {
			return &c.Accounts[i], true
		}
	}
	return nil, false
}

// FoldersFor resolves the destination folders of an account. Unknown accounts
// get the fallback names.
func (c *Config) FoldersFor(email string) Folders {
	if acct, ok := c.AccountByEmail(email); ok {
		return acct.Folders.WithDefaults()
	}
	return DefaultFolders()
}

// RetentionDays returns the retention setting for a category; 0 disables purging.
func (c *Config) RetentionDays(category string) int {
	days := c.Retention[category]
	if days < 0 {
		return 0
	}
	return days
}

// ListsPath returns the directory holding sender lists.
func (c *Config) ListsPath() string {
	if c.ListsDir != "" {
		return c.ListsDir
	}
	return filepath.Join(c.DataDir, "lists")
}

// RulesPath returns the rule store location.
func (c *Config) RulesPath() string {
	if c.RulesFile != "" {
		return c.RulesFile
	}
	if c.RuleStore == "sqlite" {
		return filepath.Join(c.DataDir, "rules.db")
	}
	return filepath.Join(c.DataDir, "rules.json")
}

// HistoryPath returns the run history database location.
func (c *Config) HistoryPath() string {
	if c.HistoryDB != "" {
		return c.HistoryDB
	}
	return filepath.Join(c.DataDir, "history.db")
}

// Load reads and parses a YAML configuration file. A .env file next to the
// working directory is loaded first so MAIL_RULEZ_* overrides can live there.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes configuration bytes, applies environment overrides and validates.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{
		LogLevel:       "info",
		LogFormat:      "text",
		DataDir:        "data",
		RuleStore:      "json",
		Listen:         "127.0.0.1:8080",
		LabelProviders: []string{"gmail.com", "googlemail.com"},
		Retention:      map[string]int{},
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.LogLevel = getEnv("MAIL_RULEZ_LOG_LEVEL", c.LogLevel)
	c.DataDir = getEnv("MAIL_RULEZ_DATA_DIR", c.DataDir)
	c.Listen = getEnv("MAIL_RULEZ_LISTEN", c.Listen)
	for i := range c.Accounts {
		if env := c.Accounts[i].PasswordEnv; env != "" {
			c.Accounts[i].Password = getEnv(env, c.Accounts[i].Password)
		}
	}
	if c.Retention == nil {
		c.Retention = map[string]int{}
	}
}

func (c *Config) validate() error {
	if c.RuleStore != "json" && c.RuleStore != "sqlite" {
		return fmt.Errorf("rule_store must be json or sqlite")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format must be text or json")
	}
	if c.Sender.Host != "" && c.Sender.Port == 0 {
		return fmt.Errorf("sender.port is required when sender.host is set")
	}
	seen := make(map[string]struct{}, len(c.Accounts))
	for i, a := range c.Accounts {
		label := a.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		if a.Email == "" {
			return fmt.Errorf("account %s: email is required", label)
		}
		if a.Host == "" {
			return fmt.Errorf("account %s: host is required", label)
		}
		if a.Port == 0 {
			return fmt.Errorf("account %s: port is required", label)
		}
		key := strings.ToLower(a.Email)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("account %s: duplicate email %s", label, a.Email)
		}
		seen[key] = struct{}{}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

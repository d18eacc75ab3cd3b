package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// DatabaseConfig holds the database connection information.
type DatabaseConfig struct {
	Type string `yaml:"type"`
	DSN  string `yaml:"dsn"`
}

// AdminConfig holds configuration for the admin endpoints.
type AdminConfig struct {
	Password string `yaml:"password"`
}

// AuthConfig lists the tokens accepted on the public endpoints. An empty list
// disables client authentication.
type AuthConfig struct {
	ClientTokens []string `yaml:"client_tokens"`
}

// LogConfig configures the optional rotating file sinks. FallbackFile
// receives records that could not be written to their durable store.
type LogConfig struct {
	File         string `yaml:"file"`
	FallbackFile string `yaml:"fallback_file"`
	MaxSizeMB    int    `yaml:"max_size_mb"`
	MaxBackups   int    `yaml:"max_backups"`
	MaxAgeDays   int    `yaml:"max_age_days"`
}

// RetryConfig holds the retry policy for extraction calls.
type RetryConfig struct {
	MaxAttempts      int      `yaml:"max_attempts"`
	InitialDelay     string   `yaml:"initial_delay"`
	MaxDelay         string   `yaml:"max_delay"`
	Multiplier       float64  `yaml:"multiplier"`
	Jitter           *bool    `yaml:"jitter"`
	TransientPhrases []string `yaml:"transient_phrases"`
}

// CatalogConfig holds the reference cache settings.
type CatalogConfig struct {
	TTL             string `yaml:"ttl"`
	FailureCooldown string `yaml:"failure_cooldown"`
	RefreshSchedule string `yaml:"refresh_schedule"`
}

// MatchConfig holds the approximate matching defaults.
type MatchConfig struct {
	Scorer string  `yaml:"scorer"`
	TopK   int     `yaml:"top_k"`
	Cutoff float64 `yaml:"cutoff"`
}

// LedgerConfig holds credential selection and quota warning settings.
type LedgerConfig struct {
	Selection    string  `yaml:"selection"`
	WarningRatio float64 `yaml:"warning_ratio"`
}

// ExtractionConfig holds settings for the remote extraction model.
type ExtractionConfig struct {
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
}

// SecretsConfig holds the key used to seal credential secrets at rest.
type SecretsConfig struct {
	SealingKey string `yaml:"sealing_key"`
}

// SchedulerConfig holds cron specs for background jobs.
type SchedulerConfig struct {
	QuotaReport string `yaml:"quota_report"`
}

// Config holds the configuration for the service.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Admin      AdminConfig      `yaml:"admin"`
	Auth       AuthConfig       `yaml:"auth"`
	Log        LogConfig        `yaml:"log"`
	Retry      RetryConfig      `yaml:"retry"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Match      MatchConfig      `yaml:"match"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Secrets    SecretsConfig    `yaml:"secrets"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Port       int              `yaml:"port"`
	Debug      bool             `yaml:"debug"`
}

// RetryInitialDelay returns the parsed initial retry delay.
func (c *Config) RetryInitialDelay() time.Duration {
	d, _ := time.ParseDuration(c.Retry.InitialDelay)
	return d
}

// RetryMaxDelay returns the parsed maximum retry delay.
func (c *Config) RetryMaxDelay() time.Duration {
	d, _ := time.ParseDuration(c.Retry.MaxDelay)
	return d
}

// RetryJitter reports whether jitter is enabled. It defaults to true.
func (c *Config) RetryJitter() bool {
	return c.Retry.Jitter == nil || *c.Retry.Jitter
}

// CatalogTTL returns the parsed cache time-to-live.
func (c *Config) CatalogTTL() time.Duration {
	d, _ := time.ParseDuration(c.Catalog.TTL)
	return d
}

// CatalogFailureCooldown returns how long a failed refresh suppresses new attempts.
func (c *Config) CatalogFailureCooldown() time.Duration {
	d, _ := time.ParseDuration(c.Catalog.FailureCooldown)
	return d
}

// ExtractionTimeout returns the per-attempt timeout for the extraction call.
func (c *Config) ExtractionTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Extraction.Timeout)
	return d
}

// LoadConfig reads and parses the configuration file. It returns the config and a potential warning message.
var LoadConfig = func(path string) (*Config, string, error) {
	var config Config
	var warnings []string

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err == nil {
		err = yaml.Unmarshal(data, &config)
		if err != nil {
			return nil, "", fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, "", fmt.Errorf("failed to read config file: %w", err)
	}
	// If file does not exist, we continue with an empty config and rely on environment variables.

	applyEnv(&config)
	warnings = append(warnings, applyDefaults(&config)...)

	if config.Database.Type == "" || config.Database.DSN == "" {
		return nil, "", fmt.Errorf("database type and dsn must be configured in config.yaml or via environment variables")
	}
	if err := config.Validate(); err != nil {
		return nil, "", err
	}

	return &config, strings.Join(warnings, "; "), nil
}

func applyEnv(config *Config) {
	if dsn := os.Getenv("INVOICEMATCH_DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}
	if dbType := os.Getenv("INVOICEMATCH_DATABASE_TYPE"); dbType != "" {
		config.Database.Type = dbType
	}
	if port := os.Getenv("INVOICEMATCH_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Port = p
		}
	}
	if password := os.Getenv("INVOICEMATCH_ADMIN_PASSWORD"); password != "" {
		config.Admin.Password = password
	}
	if debug := os.Getenv("INVOICEMATCH_DEBUG"); debug != "" {
		config.Debug = (debug == "true")
	}
	if key := os.Getenv("INVOICEMATCH_SEALING_KEY"); key != "" {
		config.Secrets.SealingKey = key
	}
	if tokens := os.Getenv("INVOICEMATCH_CLIENT_TOKENS"); tokens != "" {
		config.Auth.ClientTokens = nil
		for _, t := range strings.Split(tokens, ",") {
			if t = strings.TrimSpace(t); t != "" {
				config.Auth.ClientTokens = append(config.Auth.ClientTokens, t)
			}
		}
	}
}

func applyDefaults(config *Config) []string {
	var warnings []string
	if config.Port == 0 {
		config.Port = 8000
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry.MaxAttempts = 4
		warnings = append(warnings, "retry.max_attempts not set, using default value of 4")
	}
	if config.Retry.InitialDelay == "" {
		config.Retry.InitialDelay = "1s"
	}
	if config.Retry.MaxDelay == "" {
		config.Retry.MaxDelay = "30s"
	}
	if config.Retry.Multiplier == 0 {
		config.Retry.Multiplier = 2
	}
	if config.Catalog.TTL == "" {
		config.Catalog.TTL = "1h"
		warnings = append(warnings, "catalog.ttl not set, using default value of 1h")
	}
	if config.Catalog.FailureCooldown == "" {
		config.Catalog.FailureCooldown = "30s"
	}
	if config.Match.Scorer == "" {
		config.Match.Scorer = "token_set_ratio"
	}
	if config.Match.TopK == 0 {
		config.Match.TopK = 3
	}
	if config.Match.Cutoff == 0 {
		config.Match.Cutoff = 60
	}
	if config.Ledger.Selection == "" {
		config.Ledger.Selection = "random"
	}
	if config.Ledger.WarningRatio == 0 {
		config.Ledger.WarningRatio = 0.1
	}
	if config.Extraction.Model == "" {
		config.Extraction.Model = "gemini-2.0-flash-lite"
	}
	if config.Extraction.Timeout == "" {
		config.Extraction.Timeout = "120s"
	}
	if config.Scheduler.QuotaReport == "" {
		config.Scheduler.QuotaReport = "@daily"
	}
	return warnings
}

// Validate checks that numeric and duration settings are usable.
func (c *Config) Validate() error {
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if err := positiveDuration("retry.initial_delay", c.Retry.InitialDelay); err != nil {
		return err
	}
	if err := positiveDuration("retry.max_delay", c.Retry.MaxDelay); err != nil {
		return err
	}
	if c.RetryMaxDelay() < c.RetryInitialDelay() {
		return fmt.Errorf("retry.max_delay (%s) must not be less than retry.initial_delay (%s)", c.Retry.MaxDelay, c.Retry.InitialDelay)
	}
	if math.IsNaN(c.Retry.Multiplier) || math.IsInf(c.Retry.Multiplier, 0) || c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be a finite value >= 1, got %v", c.Retry.Multiplier)
	}
	if err := positiveDuration("catalog.ttl", c.Catalog.TTL); err != nil {
		return err
	}
	if _, err := time.ParseDuration(c.Catalog.FailureCooldown); err != nil {
		return fmt.Errorf("invalid catalog.failure_cooldown %q: %w", c.Catalog.FailureCooldown, err)
	}
	if err := positiveDuration("extraction.timeout", c.Extraction.Timeout); err != nil {
		return err
	}
	if c.Match.TopK < 1 {
		return fmt.Errorf("match.top_k must be at least 1, got %d", c.Match.TopK)
	}
	if c.Match.Cutoff < 0 || c.Match.Cutoff > 100 {
		return fmt.Errorf("match.cutoff must be within [0, 100], got %v", c.Match.Cutoff)
	}
	if c.Ledger.WarningRatio < 0 || c.Ledger.WarningRatio > 1 {
		return fmt.Errorf("ledger.warning_ratio must be within [0, 1], got %v", c.Ledger.WarningRatio)
	}
	return nil
}

func positiveDuration(name, value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, value)
	}
	return nil
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration.
type Config struct {
	Account    AccountConfig    `json:"account" yaml:"account"`
	Queue      QueueConfig      `json:"queue" yaml:"queue"`
	Reconcile  ReconcileConfig  `json:"reconcile" yaml:"reconcile"`
	Journal    JournalConfig    `json:"journal" yaml:"journal"`
	Sim        SimConfig        `json:"sim" yaml:"sim"`
	Strategies []StrategyConfig `json:"strategies" yaml:"strategies"`
}

type AccountConfig struct {
	ID       string  `json:"id" yaml:"id"`
	Currency string  `json:"currency" yaml:"currency"`
	Equity   float64 `json:"equity" yaml:"equity"`
}

type QueueConfig struct {
	Capacity int    `json:"capacity" yaml:"capacity"`
	Policy   string `json:"policy" yaml:"policy"` // "reject" or "drop-oldest"
}

type ReconcileConfig struct {
	Interval string `json:"interval" yaml:"interval"` // e.g. "1m", "30s"
	Timeout  string `json:"timeout" yaml:"timeout"`
}

// ParseInterval converts the interval string to a time.Duration.
func (r ReconcileConfig) ParseInterval() (time.Duration, error) {
	return time.ParseDuration(r.Interval)
}

func (r ReconcileConfig) ParseTimeout() (time.Duration, error) {
	return time.ParseDuration(r.Timeout)
}

type JournalConfig struct {
	DBPath string `json:"db_path" yaml:"db_path"`
}

// SimConfig seeds the in-process broker used by the demo run: initial prices
// per instrument and optional drift the reconciler should surface as
// unattributed quantity.
type SimConfig struct {
	Prices map[string]float64 `json:"prices,omitempty" yaml:"prices,omitempty"`
	Drift  map[string]float64 `json:"drift,omitempty" yaml:"drift,omitempty"`
}

type StrategyConfig struct {
	Name           string   `json:"name" yaml:"name"`
	Variant        string   `json:"variant" yaml:"variant"` // "noop" or "open-once"
	Instrument     string   `json:"instrument,omitempty" yaml:"instrument,omitempty"`
	Quantity       float64  `json:"quantity,omitempty" yaml:"quantity,omitempty"`
	EquityOverride *float64 `json:"equity_override,omitempty" yaml:"equity_override,omitempty"`
	TargetWeight   *float64 `json:"target_weight,omitempty" yaml:"target_weight,omitempty"`
}

// envOverlay holds the settings that may be overridden by environment
// variables after the file is loaded.
type envOverlay struct {
	AccountID         string `env:"LEDGER_ACCOUNT_ID"`
	DBPath            string `env:"LEDGER_DB_PATH"`
	QueueCapacity     int    `env:"LEDGER_QUEUE_CAPACITY"`
	QueuePolicy       string `env:"LEDGER_QUEUE_POLICY"`
	ReconcileInterval string `env:"LEDGER_RECONCILE_INTERVAL"`
	ReconcileTimeout  string `env:"LEDGER_RECONCILE_TIMEOUT"`
}

// LoadFromFile loads configuration from a file (YAML or JSON based on
// content), applies environment overrides, and validates the result.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}

	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides file settings from the environment.
func (c *Config) ApplyEnv() error {
	var o envOverlay
	if err := env.Parse(&o); err != nil {
		return err
	}
	if o.AccountID != "" {
		c.Account.ID = o.AccountID
	}
	if o.DBPath != "" {
		c.Journal.DBPath = o.DBPath
	}
	if o.QueueCapacity > 0 {
		c.Queue.Capacity = o.QueueCapacity
	}
	if o.QueuePolicy != "" {
		c.Queue.Policy = o.QueuePolicy
	}
	if o.ReconcileInterval != "" {
		c.Reconcile.Interval = o.ReconcileInterval
	}
	if o.ReconcileTimeout != "" {
		c.Reconcile.Timeout = o.ReconcileTimeout
	}
	return nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension).
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Account.ID == "" {
		return fmt.Errorf("account.id is required")
	}
	if c.Account.Currency == "" {
		return fmt.Errorf("account.currency is required")
	}
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue.capacity must be positive")
	}
	if c.Queue.Policy != "reject" && c.Queue.Policy != "drop-oldest" {
		return fmt.Errorf("queue.policy must be 'reject' or 'drop-oldest'")
	}
	if _, err := c.Reconcile.ParseInterval(); err != nil {
		return fmt.Errorf("reconcile.interval: %w", err)
	}
	if _, err := c.Reconcile.ParseTimeout(); err != nil {
		return fmt.Errorf("reconcile.timeout: %w", err)
	}
	if c.Journal.DBPath == "" {
		return fmt.Errorf("journal.db_path is required")
	}

	seen := map[string]bool{}
	for i, s := range c.Strategies {
		if s.Name == "" {
			return fmt.Errorf("strategies[%d].name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate strategy name %q", s.Name)
		}
		seen[s.Name] = true
		if s.TargetWeight != nil && (*s.TargetWeight < 0 || *s.TargetWeight > 1) {
			return fmt.Errorf("strategy %s: target_weight must be between 0 and 1", s.Name)
		}
		if s.EquityOverride != nil && *s.EquityOverride < 0 {
			return fmt.Errorf("strategy %s: equity_override must not be negative", s.Name)
		}
	}
	return nil
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	weight := 0.25
	return &Config{
		Account: AccountConfig{
			ID:       "ACC-001",
			Currency: "USD",
			Equity:   1_000_000,
		},
		Queue: QueueConfig{
			Capacity: 1024,
			Policy:   "drop-oldest",
		},
		Reconcile: ReconcileConfig{
			Interval: "1m",
			Timeout:  "15s",
		},
		Journal: JournalConfig{
			DBPath: "./ledger.db",
		},
		Sim: SimConfig{
			Prices: map[string]float64{"AAPL": 190.0},
		},
		Strategies: []StrategyConfig{
			{
				Name:         "alpha",
				Variant:      "open-once",
				Instrument:   "AAPL",
				Quantity:     100,
				TargetWeight: &weight,
			},
		},
	}
}

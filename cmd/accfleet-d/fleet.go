package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/accfleet/accfleet/pkg/core"
)

// FleetConfig is the operator-supplied fleet description. Account order
// is scheduling priority: earlier accounts are preferred when several
// are available.
type FleetConfig struct {
	Accounts []string `json:"accounts"`

	Warmup struct {
		// WaitTimeout bounds the per-step wait for a cooldown to clear.
		WaitTimeout string `json:"wait_timeout,omitempty"`
	} `json:"warmup"`

	Connector struct {
		// DialLatency simulates session establishment time on the mock
		// connector.
		DialLatency string `json:"dial_latency,omitempty"`
		// FailAccounts lists accounts whose dials always fail. Useful in
		// staging to rehearse session-failure handling.
		FailAccounts []string `json:"fail_accounts,omitempty"`
	} `json:"connector"`

	waitTimeout time.Duration
	dialLatency time.Duration
}

// LoadFleetConfig reads and validates the fleet config file. A missing
// file surfaces as os.ErrNotExist so the caller can boot with an empty
// fleet instead of failing.
func LoadFleetConfig(path string) (FleetConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FleetConfig{}, err
	}

	var cfg FleetConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return FleetConfig{}, fmt.Errorf("invalid fleet config %s: %w", path, err)
	}

	seen := make(map[string]bool, len(cfg.Accounts))
	for _, account := range cfg.Accounts {
		if account == "" {
			return FleetConfig{}, fmt.Errorf("fleet config %s: empty account id", path)
		}
		if seen[account] {
			return FleetConfig{}, fmt.Errorf("fleet config %s: duplicate account %q", path, account)
		}
		seen[account] = true
	}

	if cfg.Warmup.WaitTimeout != "" {
		d, err := time.ParseDuration(cfg.Warmup.WaitTimeout)
		if err != nil {
			return FleetConfig{}, fmt.Errorf("fleet config %s: invalid warmup.wait_timeout: %w", path, err)
		}
		if d <= 0 {
			return FleetConfig{}, fmt.Errorf("fleet config %s: warmup.wait_timeout must be positive", path)
		}
		cfg.waitTimeout = d
	}

	if cfg.Connector.DialLatency != "" {
		d, err := time.ParseDuration(cfg.Connector.DialLatency)
		if err != nil {
			return FleetConfig{}, fmt.Errorf("fleet config %s: invalid connector.dial_latency: %w", path, err)
		}
		if d < 0 {
			return FleetConfig{}, fmt.Errorf("fleet config %s: connector.dial_latency cannot be negative", path)
		}
		cfg.dialLatency = d
	}

	return cfg, nil
}

// AccountIDs returns the fleet in priority order.
func (c FleetConfig) AccountIDs() []core.AccountID {
	ids := make([]core.AccountID, 0, len(c.Accounts))
	for _, a := range c.Accounts {
		ids = append(ids, core.AccountID(a))
	}
	return ids
}

// FailAccountIDs returns the accounts the mock connector should refuse.
func (c FleetConfig) FailAccountIDs() []core.AccountID {
	ids := make([]core.AccountID, 0, len(c.Connector.FailAccounts))
	for _, a := range c.Connector.FailAccounts {
		ids = append(ids, core.AccountID(a))
	}
	return ids
}

// WaitTimeout returns the configured warmup wait timeout, zero when the
// file omitted it.
func (c FleetConfig) WaitTimeout() time.Duration { return c.waitTimeout }

// DialLatency returns the configured mock dial latency.
func (c FleetConfig) DialLatency() time.Duration { return c.dialLatency }

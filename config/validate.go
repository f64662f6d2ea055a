package config

import (
	"fmt"
	"strings"

	"cdpchain/crypto"
)

// Validate checks cross-field constraints after defaults and environment
// overrides have been applied.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Node.DataDir) == "" {
		return fmt.Errorf("node: data_dir must be set")
	}
	if strings.TrimSpace(c.Node.ListenAddress) == "" {
		return fmt.Errorf("node: listen_address must be set")
	}
	if authority := strings.TrimSpace(c.Node.Authority); authority != "" {
		if _, err := crypto.DecodeAddress(authority); err != nil {
			return fmt.Errorf("node: authority: %w", err)
		}
	}
	if err := c.CDP.Validate(); err != nil {
		return fmt.Errorf("cdp: %w", err)
	}

	switch c.Oracle.Source {
	case OracleManual:
	case OracleHermes:
		if len(c.Oracle.Feeds) == 0 {
			return fmt.Errorf("oracle: hermes source requires feeds")
		}
		if c.Oracle.PollSeconds <= 0 {
			return fmt.Errorf("oracle: poll_seconds must be positive")
		}
	default:
		return fmt.Errorf("oracle: unknown source %q", c.Oracle.Source)
	}
	if c.Oracle.MaxAgeSeconds <= 0 {
		return fmt.Errorf("oracle: max_age_seconds must be positive")
	}
	if c.Oracle.MaxConfidenceBps > 10_000 {
		return fmt.Errorf("oracle: max_confidence_bps must be <= 10000")
	}

	if c.Auth.Enabled && strings.TrimSpace(c.Auth.HMACSecret) == "" {
		return fmt.Errorf("auth: hmac_secret (or %s) required when auth is enabled", EnvAuthSecret)
	}
	if c.Auth.ClockSkewSeconds < 0 {
		return fmt.Errorf("auth: clock_skew_seconds must not be negative")
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}

	if c.Indexer.Enabled {
		switch c.Indexer.Driver {
		case DriverSQLite, DriverPostgres:
		default:
			return fmt.Errorf("indexer: unknown driver %q", c.Indexer.Driver)
		}
		if strings.TrimSpace(c.Indexer.DSN) == "" {
			return fmt.Errorf("indexer: dsn (or %s) required", EnvIndexerDSN)
		}
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within [0, 1]")
	}
	return nil
}

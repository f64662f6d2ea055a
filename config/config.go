package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"cdpchain/native/cdp"
	"cdpchain/observability/logging"
)

const (
	// EnvAuthSecret overrides [auth].hmac_secret.
	EnvAuthSecret = "CDP_AUTH_SECRET"
	// EnvIndexerDSN overrides [indexer].dsn.
	EnvIndexerDSN = "CDP_INDEXER_DSN"
)

type Config struct {
	Node      Node       `toml:"node"`
	Log       Log        `toml:"log"`
	Oracle    Oracle     `toml:"oracle"`
	CDP       cdp.Params `toml:"cdp"`
	Auth      Auth       `toml:"auth"`
	RateLimit RateLimit  `toml:"rate_limit"`
	Indexer   Indexer    `toml:"indexer"`
	Telemetry Telemetry  `toml:"telemetry"`
}

type Node struct {
	DataDir       string `toml:"data_dir"`
	ListenAddress string `toml:"listen_address"`
	Environment   string `toml:"environment"`
	GenesisFile   string `toml:"genesis_file"`
	// Authority restricts protocol initialisation to one account. Empty lets
	// the first caller claim the administrator role.
	Authority     string   `toml:"authority"`
	PausedModules []string `toml:"paused_modules"`
}

type Log struct {
	Level string             `toml:"level"`
	File  logging.FileConfig `toml:"file"`
}

type Oracle struct {
	Source           string   `toml:"source"`
	MaxAgeSeconds    int64    `toml:"max_age_seconds"`
	MaxConfidenceBps uint64   `toml:"max_confidence_bps"`
	HermesURL        string   `toml:"hermes_url"`
	PollSeconds      int64    `toml:"poll_seconds"`
	Feeds            []string `toml:"feeds"`
}

type Auth struct {
	Enabled          bool   `toml:"enabled"`
	HMACSecret       string `toml:"hmac_secret"`
	Issuer           string `toml:"issuer"`
	Audience         string `toml:"audience"`
	ClockSkewSeconds int64  `toml:"clock_skew_seconds"`
}

type RateLimit struct {
	RequestsPerMinute float64 `toml:"requests_per_minute"`
	Burst             int     `toml:"burst"`
}

type Indexer struct {
	Enabled bool   `toml:"enabled"`
	Driver  string `toml:"driver"`
	DSN     string `toml:"dsn"`
}

type Telemetry struct {
	Endpoint    string  `toml:"endpoint"`
	Insecure    bool    `toml:"insecure"`
	Traces      bool    `toml:"traces"`
	Metrics     bool    `toml:"metrics"`
	Headers     string  `toml:"headers"`
	SampleRatio float64 `toml:"sample_ratio"`
}

const (
	OracleManual = "manual"
	OracleHermes = "hermes"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Default returns a configuration suitable for a local single-node run.
func Default() *Config {
	return &Config{
		Node: Node{
			DataDir:       "./cdp-data",
			ListenAddress: ":8080",
			Environment:   "local",
			PausedModules: []string{},
		},
		Log: Log{Level: "info"},
		Oracle: Oracle{
			Source:           OracleManual,
			MaxAgeSeconds:    30,
			MaxConfidenceBps: 200,
			PollSeconds:      5,
			Feeds:            []string{},
		},
		CDP:       cdp.DefaultParams(),
		Auth:      Auth{Enabled: true, ClockSkewSeconds: 120},
		RateLimit: RateLimit{RequestsPerMinute: 600, Burst: 60},
		Indexer:   Indexer{Enabled: true, Driver: DriverSQLite},
		Telemetry: Telemetry{Endpoint: "localhost:4318", SampleRatio: 1},
	}
}

// Load reads the TOML file at path over the defaults. A missing file is
// created with the defaults. Keys the decoder does not recognise are
// rejected.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := persist(path, cfg); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, key := range undecoded {
				keys = append(keys, key.String())
			}
			return nil, fmt.Errorf("config file %s: unknown keys %s", path, strings.Join(keys, ", "))
		}
	}
	cfg.applyEnv()
	if cfg.Indexer.Enabled && strings.TrimSpace(cfg.Indexer.DSN) == "" && cfg.Indexer.Driver == DriverSQLite {
		cfg.Indexer.DSN = filepath.Join(cfg.Node.DataDir, "events.db")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if secret := strings.TrimSpace(os.Getenv(EnvAuthSecret)); secret != "" {
		c.Auth.HMACSecret = secret
	}
	if dsn := strings.TrimSpace(os.Getenv(EnvIndexerDSN)); dsn != "" {
		c.Indexer.DSN = dsn
	}
}

// OracleMaxAge returns the configured staleness bound.
func (c *Config) OracleMaxAge() time.Duration {
	return time.Duration(c.Oracle.MaxAgeSeconds) * time.Second
}

// OraclePollInterval returns the Hermes polling interval.
func (c *Config) OraclePollInterval() time.Duration {
	return time.Duration(c.Oracle.PollSeconds) * time.Second
}

// ClockSkew returns the tolerated token clock skew.
func (c *Config) ClockSkew() time.Duration {
	return time.Duration(c.Auth.ClockSkewSeconds) * time.Second
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

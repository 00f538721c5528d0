package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the escrowd service configuration.
type Config struct {
	ListenAddress string       `toml:"ListenAddress"`
	DataDir       string       `toml:"DataDir"`
	Environment   string       `toml:"Environment"`
	Escrow        Escrow       `toml:"Escrow"`
	Auth          Auth         `toml:"Auth"`
	RateLimit     RateLimit    `toml:"RateLimit"`
	Telemetry     Telemetry    `toml:"Telemetry"`
	Logging       Logging      `toml:"Logging"`
	Allocations   []Allocation `toml:"Allocations"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.normalise()
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		ListenAddress: ":8080",
		DataDir:       "./escrow-data",
		Environment:   "dev",
		Escrow: Escrow{
			EscrowPeriodSeconds:   259200,
			ProtectionFee:         "10",
			FeeSource:             "FEE",
			ReputationThreshold:   50,
			MinTransactions:       10,
			DecayWindowSeconds:    15552000,
			AgeBonusWindowSeconds: 31536000,
		},
		Auth: Auth{
			Enabled:          false,
			Issuer:           "escrowd",
			ClockSkewSeconds: 120,
		},
		RateLimit: RateLimit{
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Telemetry: Telemetry{
			ServiceName: "escrowd",
			Metrics:     true,
		},
		Logging: Logging{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Allocations: []Allocation{},
	}
}

func (c *Config) normalise() {
	c.Environment = strings.ToLower(strings.TrimSpace(c.Environment))
	if c.Environment == "" {
		c.Environment = "dev"
	}
	c.Escrow.FeeSource = strings.ToUpper(strings.TrimSpace(c.Escrow.FeeSource))
	c.Escrow.Industry = strings.ToLower(strings.TrimSpace(c.Escrow.Industry))
	if c.Allocations == nil {
		c.Allocations = []Allocation{}
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

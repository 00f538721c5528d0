package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "escrowd.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Escrow.EscrowPeriodSeconds != 259200 || cfg.Escrow.ProtectionFee != "10" {
		t.Fatalf("unexpected defaults: %+v", cfg.Escrow)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config to be persisted: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.ListenAddress != cfg.ListenAddress || reloaded.Escrow != cfg.Escrow {
		t.Fatalf("reloaded config differs: %+v vs %+v", reloaded, cfg)
	}
}

func TestLoadParsesEscrowSettings(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "escrowd.toml", `ListenAddress = "127.0.0.1:9000"
DataDir = "./data"
Environment = " Prod "

[Escrow]
EscrowPeriodSeconds = 86400
ProtectionFee = "25"
FeeSource = " fee "
ReputationThreshold = 60
MinTransactions = 5
DecayWindowSeconds = 1000
AgeBonusWindowSeconds = 2000
Controller = "0x00000000000000000000000000000000000000c0"

[RateLimit]
RequestsPerSecond = 5.5
Burst = 10

[[Allocations]]
Owner = "0x0000000000000000000000000000000000000001"
Source = "usdc"
Amount = "1000"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Environment != "prod" || cfg.Escrow.FeeSource != "FEE" {
		t.Fatalf("expected normalised values, got %q / %q", cfg.Environment, cfg.Escrow.FeeSource)
	}
	params, err := cfg.EscrowParams()
	if err != nil {
		t.Fatalf("escrow params: %v", err)
	}
	if params.EscrowPeriod != 86400 || params.ProtectionFee.Int64() != 25 || params.ReputationThreshold != 60 {
		t.Fatalf("unexpected params: %+v", params)
	}
	if params.Scoring.MinTransactions != 5 || params.Scoring.DecayWindow != 1000 || params.Scoring.AgeBonusWindow != 2000 {
		t.Fatalf("unexpected scoring params: %+v", params.Scoring)
	}
	controller, err := cfg.Controller()
	if err != nil || controller[19] != 0xc0 {
		t.Fatalf("unexpected controller %x (%v)", controller, err)
	}
	vault, err := cfg.Vault()
	if err != nil || vault != DefaultVaultAddress {
		t.Fatalf("expected default vault, got %x (%v)", vault, err)
	}
	allocations, err := cfg.CustodyAllocations()
	if err != nil {
		t.Fatalf("allocations: %v", err)
	}
	if len(allocations) != 1 || allocations[0].Amount.Int64() != 1000 || allocations[0].Owner[19] != 0x01 {
		t.Fatalf("unexpected allocations: %+v", allocations)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "escrowd.toml", `ListenAddress = ":8080"
DataDir = "./data"
Bogus = true
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "Bogus") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestValidateConfig(t *testing.T) {
	cases := map[string]func(*Config){
		"short period":       func(c *Config) { c.Escrow.EscrowPeriodSeconds = 1 },
		"huge period":        func(c *Config) { c.Escrow.EscrowPeriodSeconds = 1 << 62 },
		"negative fee":       func(c *Config) { c.Escrow.ProtectionFee = "-1" },
		"garbage fee":        func(c *Config) { c.Escrow.ProtectionFee = "ten" },
		"bad controller":     func(c *Config) { c.Escrow.Controller = "0x1234" },
		"zero min txs":       func(c *Config) { c.Escrow.MinTransactions = 0 },
		"industry no policy": func(c *Config) { c.Escrow.Industry = "travel" },
		"sample ratio":       func(c *Config) { c.Telemetry.TraceSampleRatio = 1.5 },
		"auth without secret": func(c *Config) {
			c.Auth.Enabled = true
			c.Auth.HMACSecretEnv = ""
		},
		"controller is vault": func(c *Config) {
			c.Escrow.Controller = "0xE5C0000000000000000000000000000000000001"
		},
		"allocation owner": func(c *Config) {
			c.Allocations = []Allocation{{Owner: "", Source: "USDC", Amount: "1"}}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			if err := ValidateConfig(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
	if err := ValidateConfig(Default()); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestIndustryPolicyOverridesPeriod(t *testing.T) {
	dir := t.TempDir()
	policyPath := writeFile(t, dir, "industries.yaml", `industries:
  Travel:
    escrowPeriod: 168h
  digital:
    escrowPeriod: 24h
`)
	policy, err := LoadIndustryPolicy(policyPath)
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	if d, ok := policy.EscrowPeriod(" travel "); !ok || d.Hours() != 168 {
		t.Fatalf("unexpected travel period %v (%v)", d, ok)
	}

	cfg := Default()
	cfg.Escrow.Industry = "digital"
	cfg.Escrow.PolicyFile = policyPath
	params, err := cfg.EscrowParams()
	if err != nil {
		t.Fatalf("escrow params: %v", err)
	}
	if params.EscrowPeriod != 86400 {
		t.Fatalf("expected industry period 86400, got %d", params.EscrowPeriod)
	}

	cfg.Escrow.Industry = "unknown"
	if _, err := cfg.EscrowParams(); err == nil {
		t.Fatalf("expected error for unknown industry")
	}
}

func TestIndustryPolicyRejectsShortPeriod(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "industries.yaml", `industries:
  flash:
    escrowPeriod: 10ms
`)
	if _, err := LoadIndustryPolicy(path); err == nil {
		t.Fatalf("expected error for sub-second period")
	}
}

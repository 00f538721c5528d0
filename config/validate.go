package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"trustescrow/native/escrow"
)

var (
	MinEscrowPeriodSeconds = int64(60)
	// MaxWindowSeconds bounds the decay and age windows so the scorer's
	// intermediate products stay within 64 bits.
	MaxWindowSeconds = int64(100 * 365 * 24 * 60 * 60)
)

func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return fmt.Errorf("ListenAddress must be set")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("DataDir must be set")
	}
	e := cfg.Escrow
	if e.EscrowPeriodSeconds < MinEscrowPeriodSeconds {
		return fmt.Errorf("escrow: EscrowPeriodSeconds must be at least %d", MinEscrowPeriodSeconds)
	}
	if e.EscrowPeriodSeconds > escrow.MaxEscrowPeriod {
		return fmt.Errorf("escrow: EscrowPeriodSeconds must not exceed %d", escrow.MaxEscrowPeriod)
	}
	if _, err := parseUintAmount(e.ProtectionFee); err != nil {
		return fmt.Errorf("escrow: ProtectionFee: %w", err)
	}
	if e.DecayWindowSeconds <= 0 || e.DecayWindowSeconds > MaxWindowSeconds {
		return fmt.Errorf("escrow: DecayWindowSeconds out of range")
	}
	if e.AgeBonusWindowSeconds <= 0 || e.AgeBonusWindowSeconds > MaxWindowSeconds {
		return fmt.Errorf("escrow: AgeBonusWindowSeconds out of range")
	}
	if e.MinTransactions == 0 {
		return fmt.Errorf("escrow: MinTransactions must be positive")
	}
	controller, err := cfg.Controller()
	if err != nil {
		return fmt.Errorf("escrow: Controller: %w", err)
	}
	vault, err := cfg.Vault()
	if err != nil {
		return fmt.Errorf("escrow: VaultAddress: %w", err)
	}
	if controller == vault {
		return fmt.Errorf("escrow: Controller must differ from the custodial account")
	}
	if e.Industry != "" && strings.TrimSpace(e.PolicyFile) == "" {
		return fmt.Errorf("escrow: Industry requires PolicyFile")
	}
	if cfg.Auth.Enabled {
		if strings.TrimSpace(cfg.Auth.HMACSecretEnv) == "" {
			return fmt.Errorf("auth: HMACSecretEnv must be set when auth is enabled")
		}
		if cfg.Auth.ClockSkewSeconds < 0 {
			return fmt.Errorf("auth: ClockSkewSeconds must be non-negative")
		}
	}
	if r := cfg.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("telemetry: TraceSampleRatio must be within [0, 1]")
	}
	if cfg.RateLimit.RequestsPerSecond < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("ratelimit: values must be non-negative")
	}
	for i, alloc := range cfg.Allocations {
		if _, err := parseAddress(alloc.Owner, false); err != nil {
			return fmt.Errorf("allocations[%d]: Owner: %w", i, err)
		}
		if strings.TrimSpace(alloc.Source) == "" {
			return fmt.Errorf("allocations[%d]: Source must be set", i)
		}
		if _, err := parseUintAmount(alloc.Amount); err != nil {
			return fmt.Errorf("allocations[%d]: Amount: %w", i, err)
		}
	}
	return nil
}

func parseUintAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must be non-negative")
	}
	if amount.BitLen() > 256 {
		return nil, fmt.Errorf("amount exceeds 256 bits")
	}
	return amount, nil
}

// parseAddress decodes a 0x-prefixed hex account. An empty value yields the
// zero address when optional is true.
func parseAddress(value string, optional bool) ([20]byte, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		if optional {
			return [20]byte{}, nil
		}
		return [20]byte{}, fmt.Errorf("address required")
	}
	if !common.IsHexAddress(trimmed) {
		return [20]byte{}, fmt.Errorf("invalid address %q", value)
	}
	return common.HexToAddress(trimmed), nil
}

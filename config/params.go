package config

import (
	"fmt"
	"time"

	"trustescrow/native/custody"
	"trustescrow/native/escrow"
	"trustescrow/native/reputation"
)

// DefaultVaultAddress is the custodial account used when VaultAddress is unset.
var DefaultVaultAddress = [20]byte{0xE5, 0xC0, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01}

// EscrowParams converts the [Escrow] section into engine parameters. When an
// industry is configured its period from the policy table replaces
// EscrowPeriodSeconds.
func (c *Config) EscrowParams() (escrow.Params, error) {
	fee, err := parseUintAmount(c.Escrow.ProtectionFee)
	if err != nil {
		return escrow.Params{}, fmt.Errorf("invalid Escrow.ProtectionFee: %w", err)
	}
	period := c.Escrow.EscrowPeriodSeconds
	if c.Escrow.Industry != "" {
		policy, err := LoadIndustryPolicy(c.Escrow.PolicyFile)
		if err != nil {
			return escrow.Params{}, err
		}
		d, ok := policy.EscrowPeriod(c.Escrow.Industry)
		if !ok {
			return escrow.Params{}, fmt.Errorf("industry %q not found in %s", c.Escrow.Industry, c.Escrow.PolicyFile)
		}
		period = int64(d / time.Second)
	}
	params := escrow.Params{
		EscrowPeriod:        period,
		ProtectionFee:       fee,
		FeeSource:           c.Escrow.FeeSource,
		ReputationThreshold: c.Escrow.ReputationThreshold,
		Scoring: reputation.Params{
			MinTransactions: c.Escrow.MinTransactions,
			DecayWindow:     c.Escrow.DecayWindowSeconds,
			AgeBonusWindow:  c.Escrow.AgeBonusWindowSeconds,
		},
	}
	return params.Validate()
}

// Controller returns the protocol controller account. The zero address means
// fee sweeps are disabled.
func (c *Config) Controller() ([20]byte, error) {
	return parseAddress(c.Escrow.Controller, true)
}

// Vault returns the custodial account, falling back to DefaultVaultAddress.
func (c *Config) Vault() ([20]byte, error) {
	addr, err := parseAddress(c.Escrow.VaultAddress, true)
	if err != nil {
		return [20]byte{}, err
	}
	if addr == ([20]byte{}) {
		return DefaultVaultAddress, nil
	}
	return addr, nil
}

// CustodyAllocations parses the [[Allocations]] entries.
func (c *Config) CustodyAllocations() ([]custody.Allocation, error) {
	out := make([]custody.Allocation, 0, len(c.Allocations))
	for i, alloc := range c.Allocations {
		owner, err := parseAddress(alloc.Owner, false)
		if err != nil {
			return nil, fmt.Errorf("allocations[%d]: %w", i, err)
		}
		amount, err := parseUintAmount(alloc.Amount)
		if err != nil {
			return nil, fmt.Errorf("allocations[%d]: %w", i, err)
		}
		out = append(out, custody.Allocation{Owner: owner, Source: alloc.Source, Amount: amount})
	}
	return out, nil
}

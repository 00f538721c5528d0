package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// IndustryPolicy is the operator's table of escrow periods per industry.
type IndustryPolicy struct {
	Industries map[string]IndustryTerms `yaml:"industries"`
}

// IndustryTerms holds the escrow terms applied to one industry.
type IndustryTerms struct {
	EscrowPeriod time.Duration `yaml:"escrowPeriod"`
}

// LoadIndustryPolicy reads the YAML policy table at path.
func LoadIndustryPolicy(path string) (*IndustryPolicy, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open industry policy: %w", err)
	}
	defer file.Close()

	var policy IndustryPolicy
	if err := yaml.NewDecoder(file).Decode(&policy); err != nil {
		return nil, fmt.Errorf("decode industry policy: %w", err)
	}
	normalised := make(map[string]IndustryTerms, len(policy.Industries))
	for name, terms := range policy.Industries {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			return nil, fmt.Errorf("industry policy: empty industry name")
		}
		if terms.EscrowPeriod < time.Second {
			return nil, fmt.Errorf("industry policy: %s: escrowPeriod must be at least 1s", key)
		}
		normalised[key] = terms
	}
	policy.Industries = normalised
	return &policy, nil
}

// EscrowPeriod returns the escrow period configured for industry.
func (p *IndustryPolicy) EscrowPeriod(industry string) (time.Duration, bool) {
	if p == nil {
		return 0, false
	}
	terms, ok := p.Industries[strings.ToLower(strings.TrimSpace(industry))]
	if !ok {
		return 0, false
	}
	return terms.EscrowPeriod, true
}

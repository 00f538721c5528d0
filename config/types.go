package config

// Escrow captures the protocol policy fixed at deployment.
type Escrow struct {
	EscrowPeriodSeconds   int64  `toml:"EscrowPeriodSeconds"`
	ProtectionFee         string `toml:"ProtectionFee"`
	FeeSource             string `toml:"FeeSource"`
	ReputationThreshold   uint64 `toml:"ReputationThreshold"`
	MinTransactions       uint64 `toml:"MinTransactions"`
	DecayWindowSeconds    int64  `toml:"DecayWindowSeconds"`
	AgeBonusWindowSeconds int64  `toml:"AgeBonusWindowSeconds"`
	Controller            string `toml:"Controller"`
	VaultAddress          string `toml:"VaultAddress"`

	// Industry selects an escrow period from PolicyFile, overriding
	// EscrowPeriodSeconds when set.
	Industry   string `toml:"Industry"`
	PolicyFile string `toml:"PolicyFile"`
}

// Auth configures bearer token verification on the HTTP API.
type Auth struct {
	Enabled          bool   `toml:"Enabled"`
	HMACSecretEnv    string `toml:"HMACSecretEnv"`
	Issuer           string `toml:"Issuer"`
	Audience         string `toml:"Audience"`
	ClockSkewSeconds int64  `toml:"ClockSkewSeconds"`
}

// RateLimit bounds the request rate per caller.
type RateLimit struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
}

// Telemetry configures metrics and OTLP export.
type Telemetry struct {
	ServiceName  string `toml:"ServiceName"`
	Metrics      bool   `toml:"Metrics"`
	OTLPEndpoint string `toml:"OTLPEndpoint"`
	OTLPHeaders  string `toml:"OTLPHeaders"`
	Insecure     bool   `toml:"Insecure"`

	// TraceSampleRatio is the fraction of root spans exported. Zero keeps
	// every trace.
	TraceSampleRatio float64 `toml:"TraceSampleRatio"`
}

// Logging configures the optional rotating log file.
type Logging struct {
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Allocation is an opening custody balance credited on first start.
type Allocation struct {
	Owner  string `toml:"Owner"`
	Source string `toml:"Source"`
	Amount string `toml:"Amount"`
}

package config

import "time"

// RetryConfig controls the exponential backoff schedule used by the
// ChainGateway retry wrapper and the chain-sync poller (spec §4.3, §5).
type RetryConfig struct {
	Max        int
	InitialMS  uint64
	MaxMS      uint64
	Multiplier float64
}

// Governance captures the multisig signer-set bounds enforced globally.
type Governance struct {
	MaxSigners         uint32
	ProposalTTLSeconds uint64
}

// Match captures the policy knobs for the match authority service.
type Match struct {
	ReconcileIntervalSeconds uint64
	InFlightTTLSeconds       uint64
	FinalizerRequiredStates  []string
}

// Global bundles the runtime configuration values enforced by ValidateConfig
// (spec §6.5).
type Global struct {
	Governance Governance
	Match      Match
	ChainRetry RetryConfig
}

// ReconcileInterval returns the configured reconcile interval as a duration.
func (g Global) ReconcileInterval() time.Duration {
	return time.Duration(g.Match.ReconcileIntervalSeconds) * time.Second
}

// InFlightTTL returns the configured idempotency in-flight TTL as a duration.
func (g Global) InFlightTTL() time.Duration {
	return time.Duration(g.Match.InFlightTTLSeconds) * time.Second
}

// ProposalTTL returns the configured proposal time-to-live as a duration.
func (g Global) ProposalTTL() time.Duration {
	return time.Duration(g.Governance.ProposalTTLSeconds) * time.Second
}

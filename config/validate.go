package config

import "fmt"

// MaxSignersHardCap is the absolute ceiling on the signer set size (spec §3).
const MaxSignersHardCap = 20

// ValidateConfig enforces the global invariants named in spec §6.5. It is
// called once at startup, from FromEnv.
func ValidateConfig(g Global) error {
	if g.Governance.MaxSigners == 0 || g.Governance.MaxSigners > MaxSignersHardCap {
		return fmt.Errorf("governance: max_signers must be in [1,%d]", MaxSignersHardCap)
	}
	if g.Governance.ProposalTTLSeconds == 0 {
		return fmt.Errorf("governance: proposal_ttl_seconds must be positive")
	}
	if g.Match.ReconcileIntervalSeconds == 0 {
		return fmt.Errorf("match: reconcile_interval_seconds must be positive")
	}
	if g.Match.InFlightTTLSeconds == 0 {
		return fmt.Errorf("match: in_flight_ttl_seconds must be positive")
	}
	if len(g.Match.FinalizerRequiredStates) == 0 {
		return fmt.Errorf("match: finalizer_required_state must name at least one state")
	}
	if g.ChainRetry.Max <= 0 {
		return fmt.Errorf("chain_retry: max must be positive")
	}
	if g.ChainRetry.InitialMS == 0 || g.ChainRetry.MaxMS < g.ChainRetry.InitialMS {
		return fmt.Errorf("chain_retry: initial_ms/max_ms out of range")
	}
	if g.ChainRetry.Multiplier <= 1.0 {
		return fmt.Errorf("chain_retry: multiplier must exceed 1.0")
	}
	return nil
}

// DefaultGlobal returns the documented defaults from spec §6.5.
func DefaultGlobal() Global {
	return Global{
		Governance: Governance{
			MaxSigners:         MaxSignersHardCap,
			ProposalTTLSeconds: 7 * 24 * 60 * 60,
		},
		Match: Match{
			ReconcileIntervalSeconds: 60,
			InFlightTTLSeconds:       300,
			FinalizerRequiredStates:  []string{"Completed", "Disputed"},
		},
		ChainRetry: RetryConfig{
			Max:        3,
			InitialMS:  1000,
			MaxMS:      10000,
			Multiplier: 2.0,
		},
	}
}

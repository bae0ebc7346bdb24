package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type matchAuthorityMetrics struct {
	operations  *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	divergence  *prometheus.CounterVec
	wsConnected prometheus.Gauge
}

type governanceMetrics struct {
	proposals *prometheus.CounterVec
	approvals prometheus.Counter
	executed  prometheus.Counter
}

type slashingMetrics struct {
	casesOpened    *prometheus.CounterVec
	casesExecuted  *prometheus.CounterVec
	bansActive     prometheus.Gauge
}

var (
	matchAuthorityOnce sync.Once
	matchAuthorityReg  *matchAuthorityMetrics

	governanceOnce sync.Once
	governanceReg  *governanceMetrics

	slashingOnce sync.Once
	slashingReg  *slashingMetrics
)

// MatchAuthority returns the lazily-initialised metrics registry for the
// Match Authority Service (spec C4), tracking request outcomes, latency, and
// reconciliation divergence.
func MatchAuthority() *matchAuthorityMetrics {
	matchAuthorityOnce.Do(func() {
		matchAuthorityReg = &matchAuthorityMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "matchguard",
				Subsystem: "match_authority",
				Name:      "operations_total",
				Help:      "Count of match authority operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "matchguard",
				Subsystem: "match_authority",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for match authority operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			divergence: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "matchguard",
				Subsystem: "match_authority",
				Name:      "reconciliation_divergence_total",
				Help:      "Count of reconciliation outcomes by resolution action, with synchronized (no divergence) outcomes under \"synchronized\".",
			}, []string{"resolution_action"}),
			wsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "matchguard",
				Subsystem: "match_authority",
				Name:      "ws_connections",
				Help:      "Current count of open match event WebSocket subscriptions.",
			}),
		}
		prometheus.MustRegister(
			matchAuthorityReg.operations,
			matchAuthorityReg.latency,
			matchAuthorityReg.divergence,
			matchAuthorityReg.wsConnected,
		)
	})
	return matchAuthorityReg
}

// Observe records the outcome and latency of a match authority operation.
func (m *matchAuthorityMetrics) Observe(operation string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordDivergence increments the divergence counter for a reconciliation
// resolution action ("auto_forward", "manual", or "" for synchronized).
func (m *matchAuthorityMetrics) RecordDivergence(resolutionAction string) {
	if m == nil {
		return
	}
	if resolutionAction == "" {
		resolutionAction = "synchronized"
	}
	m.divergence.WithLabelValues(resolutionAction).Inc()
}

// SetWSConnections updates the current open-subscription gauge.
func (m *matchAuthorityMetrics) SetWSConnections(n int) {
	if m == nil {
		return
	}
	m.wsConnected.Set(float64(n))
}

// Governance returns the lazily-initialised metrics registry for the
// Multisig Governance Core (spec C5).
func Governance() *governanceMetrics {
	governanceOnce.Do(func() {
		governanceReg = &governanceMetrics{
			proposals: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "matchguard",
				Subsystem: "governance",
				Name:      "proposals_total",
				Help:      "Count of governance proposal status changes segmented by the status reached.",
			}, []string{"status"}),
			approvals: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "matchguard",
				Subsystem: "governance",
				Name:      "approvals_total",
				Help:      "Count of signer approvals recorded across all proposals.",
			}),
			executed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "matchguard",
				Subsystem: "governance",
				Name:      "executions_total",
				Help:      "Count of proposals successfully executed.",
			}),
		}
		prometheus.MustRegister(governanceReg.proposals, governanceReg.approvals, governanceReg.executed)
	})
	return governanceReg
}

func (m *governanceMetrics) RecordProposalStatus(status string) {
	if m == nil {
		return
	}
	m.proposals.WithLabelValues(strings.ToLower(status)).Inc()
}

func (m *governanceMetrics) RecordApproval() {
	if m == nil {
		return
	}
	m.approvals.Inc()
}

func (m *governanceMetrics) RecordExecution() {
	if m == nil {
		return
	}
	m.executed.Inc()
}

// Slashing returns the lazily-initialised metrics registry for the Slashing
// Core (spec C6).
func Slashing() *slashingMetrics {
	slashingOnce.Do(func() {
		slashingReg = &slashingMetrics{
			casesOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "matchguard",
				Subsystem: "slashing",
				Name:      "cases_opened_total",
				Help:      "Count of slash cases opened segmented by penalty type.",
			}, []string{"penalty_type"}),
			casesExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "matchguard",
				Subsystem: "slashing",
				Name:      "cases_executed_total",
				Help:      "Count of slash cases executed segmented by penalty type and outcome.",
			}, []string{"penalty_type", "outcome"}),
			bansActive: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "matchguard",
				Subsystem: "slashing",
				Name:      "bans_active",
				Help:      "Count of ban records written by this process since start; expired bans are not subtracted.",
			}),
		}
		prometheus.MustRegister(slashingReg.casesOpened, slashingReg.casesExecuted, slashingReg.bansActive)
	})
	return slashingReg
}

func (m *slashingMetrics) RecordCaseOpened(penaltyType string) {
	if m == nil {
		return
	}
	m.casesOpened.WithLabelValues(penaltyType).Inc()
}

func (m *slashingMetrics) RecordCaseExecuted(penaltyType string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.casesExecuted.WithLabelValues(penaltyType, outcome).Inc()
}

func (m *slashingMetrics) SetActiveBans(n int) {
	if m == nil {
		return
	}
	m.bansActive.Set(float64(n))
}

// Package events implements the Event Publisher collaborator (spec §4.6,
// C7). Each event is a small typed struct exposing its wire Type and a flat
// attribute map, following the teacher's core/events pattern
// (EventType()/Event()) but broadcast in-process instead of encoded onto a
// chain log.
package events

import "time"

// Event types published across the system (spec §4.6).
const (
	TypeMatchCreated        = "match_created"
	TypeMatchStarted        = "match_started"
	TypeMatchCompleted      = "match_completed"
	TypeMatchDisputed       = "match_disputed"
	TypeMatchFinalized      = "match_finalized"
	TypeMatchStateChanged   = "match_state_changed"
	TypeProposalCreated     = "proposal_created"
	TypeProposalApproved    = "proposal_approved"
	TypeProposalRevoked     = "proposal_revoked"
	TypeProposalExecuted    = "proposal_executed"
	TypeProposalCancelled   = "proposal_cancelled"
	TypeSignerAdded         = "signer_added"
	TypeSignerRemoved       = "signer_removed"
	TypeThresholdUpdated    = "threshold_updated"
	TypeCaseOpened          = "case_opened"
	TypeCaseApproved        = "case_approved"
	TypeCaseExecuted        = "case_executed"
	TypeCaseCancelled       = "case_cancelled"
	TypeStakeSlashed        = "stake_slashed"
	TypeRewardConfiscated   = "reward_confiscated"
	TypeTemporarySuspension = "temporary_suspension"
	TypePermanentBan        = "permanent_ban"
)

// Event is the envelope delivered to every subscriber. Delivery is
// best-effort, at-least-once; consumers must be idempotent on ID
// (spec §4.6).
type Event struct {
	ID        string
	Type      string
	Subject   string
	MatchID   string
	Timestamp time.Time
	Delta     map[string]any
}

// Publisher broadcasts domain events to subscribers (spec C7). Concrete
// implementations fan the event out to WS clients, metrics, or log sinks.
type Publisher interface {
	Publish(event Event)
}

// NoopPublisher discards every event. It is the default collaborator for
// components constructed without an explicit Publisher, mirroring the
// teacher's events.NoopEmitter pattern.
type NoopPublisher struct{}

func (NoopPublisher) Publish(Event) {}

// Package gormstore is the Postgres-backed implementation of store.Store
// (spec §6.4), grounded on the teacher's services/otc-gateway/models
// conventions: one struct per table, gorm tags for keys/indices/sizes, and
// a single AutoMigrate entrypoint.
package gormstore

import (
	"time"

	"gorm.io/gorm"
)

// Match is the matches table row.
type Match struct {
	ID             string `gorm:"primaryKey;size:64"`
	OnChainID      string `gorm:"size:128;index"`
	PlayerA        string `gorm:"size:128;index"`
	PlayerB        string `gorm:"size:128;index"`
	Winner         *string `gorm:"size:128"`
	State          string  `gorm:"size:32;index"`
	CreatedAt      time.Time
	StartedAt      *time.Time
	EndedAt        *time.Time
	LastChainTxRef string  `gorm:"size:128"`
	IdempotencyKey *string `gorm:"size:128;uniqueIndex"`
	Metadata       []byte  `gorm:"type:jsonb"`
}

// MatchTransition is the append-only match_transitions table row.
type MatchTransition struct {
	ID         string `gorm:"primaryKey;size:64"`
	MatchID    string `gorm:"size:64;index"`
	FromState  string `gorm:"size:32"`
	ToState    string `gorm:"size:32"`
	Actor      string `gorm:"size:128"`
	Timestamp  time.Time
	ChainTxRef string `gorm:"size:128"`
	Metadata   []byte `gorm:"type:jsonb"`
	Error      string `gorm:"type:text"`
}

// MatchChainSync is the match_chain_sync table row. The block_height column
// follows the confirmation-height field the original Rust match authority
// model persisted alongside each on-chain reference.
type MatchChainSync struct {
	ID            string `gorm:"primaryKey;size:64"`
	MatchID       string `gorm:"size:64;index"`
	OperationName string `gorm:"size:64"`
	TxReference   string `gorm:"size:128;index"`
	TxStatus      string `gorm:"size:16;index"`
	BlockHeight   *int64
	SubmittedAt   time.Time
	ConfirmedAt   *time.Time
	RetryCount    int
	ErrorMessage  string `gorm:"type:text"`
}

// MatchReconciliationLog is the match_reconciliation_log table row.
type MatchReconciliationLog struct {
	ID               string `gorm:"primaryKey;size:64"`
	MatchID          string `gorm:"size:64;index"`
	CheckedAt        time.Time
	OffChainState    string `gorm:"size:32"`
	OnChainState     string `gorm:"size:64"`
	IsDivergent      bool   `gorm:"index"`
	ResolutionAction string `gorm:"size:32"`
	ResolvedAt       *time.Time
}

// MatchOperation is the match_operations idempotency table row.
type MatchOperation struct {
	Key                string `gorm:"primaryKey;size:128"`
	OperationName      string `gorm:"size:64"`
	Status             string `gorm:"size:16;index"`
	RequestFingerprint string `gorm:"size:128"`
	ResponsePayload    []byte `gorm:"type:jsonb"`
	CreatedAt          time.Time
	CompletedAt        *time.Time
}

// GovernanceSigner is the governance_signers table row.
type GovernanceSigner struct {
	Address  string `gorm:"primaryKey;size:128"`
	Position int    `gorm:"index"`
	Active   bool   `gorm:"index"`
}

// GovernanceThreshold is a single-row table holding the active M-of-N
// threshold, guarded by its primary key to keep exactly one record.
type GovernanceThreshold struct {
	Singleton bool `gorm:"primaryKey"`
	Threshold int
}

// GovernanceProposal is the governance_proposals table row.
type GovernanceProposal struct {
	ProposalID     string `gorm:"primaryKey;size:64"`
	TargetContract string `gorm:"size:128"`
	FunctionName   string `gorm:"size:64"`
	EncodedArgs    []byte `gorm:"type:jsonb"`
	Proposer       string `gorm:"size:128;index"`
	Status         string `gorm:"size:16;index"`
	ApprovalCount  int
	CreatedAt      time.Time
	ExecuteAfter   *time.Time
	ExecutedAt     *time.Time
	Expiry         time.Time
	ExecutionGuard bool `gorm:"index"`
}

// GovernanceApproval is the governance_approvals table row, unique on
// (proposal_id, signer).
type GovernanceApproval struct {
	ProposalID string `gorm:"primaryKey;size:64"`
	Signer     string `gorm:"primaryKey;size:128"`
	ApprovedAt time.Time
}

// GovernanceChainSync mirrors MatchChainSync for governance-execution
// on-chain calls, kept as a separate table since proposal and match
// execution have independent retry/backoff lifecycles.
type GovernanceChainSync struct {
	ID            string `gorm:"primaryKey;size:64"`
	ProposalID    string `gorm:"size:64;index"`
	TxReference   string `gorm:"size:128;index"`
	TxStatus      string `gorm:"size:16;index"`
	SubmittedAt   time.Time
	ConfirmedAt   *time.Time
	RetryCount    int
	ErrorMessage  string `gorm:"type:text"`
}

// SlashCase is the slash_cases table row.
type SlashCase struct {
	CaseID       string `gorm:"primaryKey;size:64"`
	Subject      string `gorm:"size:128;index"`
	Initiator    string `gorm:"size:128"`
	ReasonCode   int
	EvidenceHash string `gorm:"size:128"`
	Status       string `gorm:"size:16;index"`
	PenaltyType  string `gorm:"size:32"`
	Amount       string `gorm:"size:64"`
	Asset        string `gorm:"size:32"`
	DurationSecs int64
	Approvers    []byte `gorm:"type:jsonb"`
	CreatedAt    time.Time
	ResolvedAt   *time.Time
	ExecutionGuard bool `gorm:"index"`
}

// BanRecord is the ban_records table row.
type BanRecord struct {
	Subject     string `gorm:"primaryKey;size:128"`
	CaseID      string `gorm:"size:64;index"`
	BannedAt    time.Time
	IsPermanent bool `gorm:"index"`
	ExpiresAt   *time.Time
}

// AutoMigrate performs schema migration for every table this service owns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Match{},
		&MatchTransition{},
		&MatchChainSync{},
		&MatchReconciliationLog{},
		&MatchOperation{},
		&GovernanceSigner{},
		&GovernanceThreshold{},
		&GovernanceProposal{},
		&GovernanceApproval{},
		&GovernanceChainSync{},
		&SlashCase{},
		&BanRecord{},
	)
}

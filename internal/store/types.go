// Package store defines the DurableStore collaborator (spec C2, §6.4) and
// ships two implementations: gormstore (Postgres, for production) and
// memstore (in-memory, for unit tests). Domain code only depends on the
// Store interface in this file.
package store

import (
	"context"
	"time"

	"matchguard/internal/matchfsm"
)

// TxStatus mirrors chain.TxStatus without importing the chain package, to
// keep store free of a dependency on the gateway contract.
type TxStatus string

const (
	TxPending TxStatus = "pending"
	TxSuccess TxStatus = "success"
	TxFailed  TxStatus = "failed"
)

// Match is the durable match entity (spec §3).
type Match struct {
	ID              string
	OnChainID       string
	PlayerA         string
	PlayerB         string
	Winner          *string
	State           matchfsm.State
	CreatedAt       time.Time
	StartedAt       *time.Time
	EndedAt         *time.Time
	LastChainTxRef  string
	IdempotencyKey  *string
	Metadata        map[string]any
}

// MatchTransition is one append-only row of the transition log (spec §3).
type MatchTransition struct {
	ID          string
	MatchID     string
	FromState   matchfsm.State
	ToState     matchfsm.State
	Actor       string
	Timestamp   time.Time
	ChainTxRef  string
	Metadata    map[string]any
	Error       string
}

// ChainSyncRecord tracks one on-chain transaction for a match (spec §3).
type ChainSyncRecord struct {
	ID            string
	MatchID       string
	OperationName string
	TxReference   string
	TxStatus      TxStatus
	SubmittedAt   time.Time
	ConfirmedAt   *time.Time
	// BlockHeight is the confirmation height reported by the chain gateway
	// once the poller observes TxSuccess. Nil until confirmed.
	BlockHeight  *int64
	RetryCount   int
	ErrorMessage string
}

// ReconciliationLogEntry records one comparison between off-chain and
// on-chain match state (spec §3).
type ReconciliationLogEntry struct {
	ID               string
	MatchID          string
	CheckedAt        time.Time
	OffChainState    matchfsm.State
	OnChainState     string
	IsDivergent      bool
	ResolutionAction string
	ResolvedAt       *time.Time
}

// IdempotencyStatus is the lifecycle of an idempotency record (spec §3).
type IdempotencyStatus string

const (
	IdempotencyInFlight  IdempotencyStatus = "in_flight"
	IdempotencyCompleted IdempotencyStatus = "completed"
)

// IdempotencyRecord dedupes mutating requests by caller-supplied key
// (spec §3, §4.2).
type IdempotencyRecord struct {
	Key                string
	OperationName      string
	Status             IdempotencyStatus
	RequestFingerprint string
	ResponsePayload    []byte
	CreatedAt          time.Time
	CompletedAt        *time.Time
}

// ProposalStatus is the governance proposal lifecycle (spec §3).
type ProposalStatus string

const (
	ProposalPending   ProposalStatus = "Pending"
	ProposalApproved  ProposalStatus = "Approved"
	ProposalExecuted  ProposalStatus = "Executed"
	ProposalCancelled ProposalStatus = "Cancelled"
)

// GovernanceProposal is a multisig-gated action awaiting approvals (spec §3).
type GovernanceProposal struct {
	ProposalID    string
	TargetContract string
	FunctionName  string
	EncodedArgs   []byte
	Proposer      string
	Status        ProposalStatus
	ApprovalCount int
	CreatedAt     time.Time
	ExecuteAfter  *time.Time
	ExecutedAt    *time.Time
	Expiry        time.Time
}

// GovernanceApproval is one signer's approval of a proposal (spec §3
// ApprovalSet, unique on (proposal_id, signer)).
type GovernanceApproval struct {
	ProposalID string
	Signer     string
	ApprovedAt time.Time
}

// Signer is one member of the active SignerSet (spec §3).
type Signer struct {
	Address  string
	Position int // preserves insertion order for deterministic listing
	Active   bool
}

// SlashCaseStatus is the slashing case lifecycle (spec §3).
type SlashCaseStatus string

const (
	CaseProposed  SlashCaseStatus = "Proposed"
	CaseApproved  SlashCaseStatus = "Approved"
	CaseExecuted  SlashCaseStatus = "Executed"
	CaseCancelled SlashCaseStatus = "Cancelled"
)

// PenaltyType enumerates the slashing dispatch table (spec §4.5).
type PenaltyType string

const (
	PenaltyStakeSlash          PenaltyType = "StakeSlash"
	PenaltyRewardConfiscation  PenaltyType = "RewardConfiscation"
	PenaltyTemporarySuspension PenaltyType = "TemporarySuspension"
	PenaltyPermanentBan        PenaltyType = "PermanentBan"
)

// SlashCase is a penalty case against a subject (spec §3).
type SlashCase struct {
	CaseID       string
	Subject      string
	Initiator    string
	ReasonCode   int
	EvidenceHash string
	Status       SlashCaseStatus
	PenaltyType  PenaltyType
	Amount       string // decimal string; interpretation is asset-specific
	Asset        string
	Duration     time.Duration
	Approvers    []string
	CreatedAt    time.Time
	ResolvedAt   *time.Time
}

// BanRecord is an immutable-once-permanent ban (spec §3).
type BanRecord struct {
	Subject     string
	CaseID      string
	BannedAt    time.Time
	IsPermanent bool
	ExpiresAt   *time.Time
}

// AdvisoryLock is a store-level serialization primitive scoped to an object
// id, held for the duration of a single service operation (spec §9).
type AdvisoryLock interface {
	Unlock(ctx context.Context) error
}

// Store is the DurableStore collaborator (spec C2). All mutating methods are
// expected to run inside the transaction started by WithTx; read methods may
// run outside a transaction.
type Store interface {
	// WithTx runs fn inside a single database transaction with
	// read-committed isolation (spec §5). A non-nil error returned by fn
	// rolls the transaction back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// LockMatch takes an advisory lock scoped to matchID for the duration of
	// the request (spec §4.2 step 2, §9).
	LockMatch(ctx context.Context, matchID string) (AdvisoryLock, error)

	// LockProposal takes an advisory lock scoped to proposalID (spec §5).
	LockProposal(ctx context.Context, proposalID string) (AdvisoryLock, error)

	// LockCase takes an advisory lock scoped to caseID.
	LockCase(ctx context.Context, caseID string) (AdvisoryLock, error)

	GetMatch(ctx context.Context, matchID string) (*Match, error)
	GetMatchByIdempotencyKey(ctx context.Context, key string) (*Match, error)
	ListTransitions(ctx context.Context, matchID string) ([]MatchTransition, error)
	ListPendingChainSync(ctx context.Context, limit int) ([]ChainSyncRecord, error)
	ListNonTerminalMatches(ctx context.Context) ([]Match, error)

	GetIdempotencyRecord(ctx context.Context, key string) (*IdempotencyRecord, error)
	GarbageCollectStaleInFlight(ctx context.Context, olderThan time.Time) (int, error)

	GetProposal(ctx context.Context, proposalID string) (*GovernanceProposal, error)
	ListApprovals(ctx context.Context, proposalID string) ([]GovernanceApproval, error)
	ListSigners(ctx context.Context) ([]Signer, error)
	GetThreshold(ctx context.Context) (int, error)
	IsInitialized(ctx context.Context) (bool, error)
	IsExecutionGuardSet(ctx context.Context, proposalID string) (bool, error)

	GetSlashCase(ctx context.Context, caseID string) (*SlashCase, error)
	IsCaseExecutionGuardSet(ctx context.Context, caseID string) (bool, error)
	IsBanned(ctx context.Context, subject string, now time.Time) (bool, error)
	HasPermanentBan(ctx context.Context, subject string) (bool, error)
}

// Tx is the transactional handle passed to Store.WithTx callbacks. It
// exposes every mutation a single service operation may need to perform
// atomically (spec §4.2 step 5, §4.4, §4.5).
type Tx interface {
	PutIdempotencyRecord(ctx context.Context, rec IdempotencyRecord) error
	UpdateIdempotencyRecord(ctx context.Context, key string, status IdempotencyStatus, response []byte) error

	PutMatch(ctx context.Context, m Match) error
	UpdateMatch(ctx context.Context, m Match) error
	AppendTransition(ctx context.Context, t MatchTransition) error
	AppendChainSync(ctx context.Context, c ChainSyncRecord) error
	UpdateChainSyncStatus(ctx context.Context, id string, status TxStatus, confirmedAt *time.Time, blockHeight *int64, retryCount int, errMsg string) error
	AppendReconciliationLog(ctx context.Context, r ReconciliationLogEntry) error

	InitializeSigners(ctx context.Context, signers []string, threshold int) error
	PutProposal(ctx context.Context, p GovernanceProposal) error
	UpdateProposal(ctx context.Context, p GovernanceProposal) error
	PutApproval(ctx context.Context, a GovernanceApproval) error
	DeleteApproval(ctx context.Context, proposalID, signer string) error
	SetExecutionGuard(ctx context.Context, proposalID string) error
	PutSigner(ctx context.Context, s Signer) error
	RemoveSigner(ctx context.Context, address string) error
	SetThreshold(ctx context.Context, threshold int) error

	PutSlashCase(ctx context.Context, c SlashCase) error
	UpdateSlashCase(ctx context.Context, c SlashCase) error
	SetCaseExecutionGuard(ctx context.Context, caseID string) error
	PutBanRecord(ctx context.Context, b BanRecord) error

	// Get* mirrors the Store-level read methods for use within a
	// transaction, where read-committed isolation must see the writes made
	// so far in the same transaction.
	GetMatch(ctx context.Context, matchID string) (*Match, error)
	GetProposal(ctx context.Context, proposalID string) (*GovernanceProposal, error)
	GetSlashCase(ctx context.Context, caseID string) (*SlashCase, error)
	ListApprovals(ctx context.Context, proposalID string) ([]GovernanceApproval, error)
	ListSigners(ctx context.Context) ([]Signer, error)
}

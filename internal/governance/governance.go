// Package governance implements the Multisig Governance Core (spec C5):
// proposal CRUD, approval tallying, threshold evaluation, the
// checks-effects-interactions execution guard, and signer-set
// self-governance.
package governance

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"matchguard/internal/apierr"
	"matchguard/internal/chain"
	"matchguard/internal/events"
	"matchguard/internal/store"
	"matchguard/observability"
)

const selfContractID = "governance_core"

// Core is the Multisig Governance Core.
type Core struct {
	store          store.Store
	chain          chain.Gateway
	publisher      events.Publisher
	idGen          func() string
	clock          func() time.Time
	maxSigners     int
	defaultTTL     time.Duration
}

// Option customizes Core construction.
type Option func(*Core)

func WithClock(fn func() time.Time) Option { return func(c *Core) { c.clock = fn } }
func WithIDGenerator(fn func() string) Option { return func(c *Core) { c.idGen = fn } }

// New constructs a Core. maxSigners and defaultTTL come from config (spec
// §6.5: max_signers=20, proposal_ttl_seconds=604800).
func New(st store.Store, gw chain.Gateway, pub events.Publisher, maxSigners int, defaultTTL time.Duration, opts ...Option) *Core {
	c := &Core{
		store:      st,
		chain:      gw,
		publisher:  pub,
		idGen:      uuid.NewString,
		clock:      time.Now,
		maxSigners: maxSigners,
		defaultTTL: defaultTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize implements initialize(signers, threshold) (spec §4.4).
func (c *Core) Initialize(ctx context.Context, signers []string, threshold int) error {
	already, err := c.store.IsInitialized(ctx)
	if err != nil {
		return err
	}
	if already {
		return apierr.New(apierr.KindFSM, apierr.CodeAlreadyInitialized, "governance core is already initialized")
	}
	if len(signers) == 0 || len(signers) > c.maxSigners {
		return apierr.New(apierr.KindValidation, apierr.CodeInvalidInput, "signer count must be between 1 and max_signers")
	}
	if threshold < 1 || threshold > len(signers) {
		return apierr.New(apierr.KindValidation, apierr.CodeInvalidInput, "threshold must satisfy 1 <= threshold <= len(signers)")
	}
	seen := map[string]bool{}
	for _, s := range signers {
		if seen[s] {
			return apierr.New(apierr.KindValidation, apierr.CodeInvalidInput, "duplicate signer in initial set")
		}
		seen[s] = true
	}

	return c.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.InitializeSigners(ctx, signers, threshold)
	})
}

// CreateProposalInput is the create_proposal request (spec §4.4).
type CreateProposalInput struct {
	Proposer       string
	ProposalID     string
	TargetContract string
	FunctionName   string
	Args           map[string]any
	ExecuteAfter   *time.Time
}

// CreateProposal implements create_proposal (spec §4.4).
func (c *Core) CreateProposal(ctx context.Context, in CreateProposalInput) (store.GovernanceProposal, error) {
	if in.TargetContract == selfContractID {
		return store.GovernanceProposal{}, apierr.New(apierr.KindValidation, apierr.CodeSelfTargetForbidden, "a proposal's target contract may not be the governance core itself")
	}

	if err := c.requireActiveSigner(ctx, in.Proposer); err != nil {
		return store.GovernanceProposal{}, err
	}

	if in.ProposalID == "" {
		in.ProposalID = c.idGen()
	} else if existing, _ := c.store.GetProposal(ctx, in.ProposalID); existing != nil {
		return store.GovernanceProposal{}, apierr.New(apierr.KindValidation, apierr.CodeInvalidInput, "proposal_id already exists")
	}

	argsJSON, _ := json.Marshal(in.Args)
	now := c.clock()
	p := store.GovernanceProposal{
		ProposalID:     in.ProposalID,
		TargetContract: in.TargetContract,
		FunctionName:   in.FunctionName,
		EncodedArgs:    argsJSON,
		Proposer:       in.Proposer,
		Status:         store.ProposalPending,
		ApprovalCount:  0,
		CreatedAt:      now,
		ExecuteAfter:   in.ExecuteAfter,
		Expiry:         now.Add(c.defaultTTL),
	}

	if err := c.store.WithTx(ctx, func(tx store.Tx) error { return tx.PutProposal(ctx, p) }); err != nil {
		return store.GovernanceProposal{}, err
	}

	observability.Governance().RecordProposalStatus(string(p.Status))
	c.publisher.Publish(events.Event{ID: c.idGen(), Type: events.TypeProposalCreated, Subject: p.ProposalID, Timestamp: now})
	return p, nil
}

// Approve implements approve(signer, proposal_id) (spec §4.4).
func (c *Core) Approve(ctx context.Context, signer, proposalID string) (store.GovernanceProposal, error) {
	lock, err := c.store.LockProposal(ctx, proposalID)
	if err != nil {
		return store.GovernanceProposal{}, err
	}
	defer lock.Unlock(ctx)

	if err := c.requireActiveSigner(ctx, signer); err != nil {
		return store.GovernanceProposal{}, err
	}

	p, err := c.store.GetProposal(ctx, proposalID)
	if err != nil {
		return store.GovernanceProposal{}, err
	}
	if err := c.requireLive(ctx, p); err != nil {
		return store.GovernanceProposal{}, err
	}

	approvals, err := c.store.ListApprovals(ctx, proposalID)
	if err != nil {
		return store.GovernanceProposal{}, err
	}
	for _, a := range approvals {
		if a.Signer == signer {
			return store.GovernanceProposal{}, apierr.New(apierr.KindFSM, apierr.CodeAlreadyApproved, "signer has already approved this proposal")
		}
	}

	threshold, err := c.store.GetThreshold(ctx)
	if err != nil {
		return store.GovernanceProposal{}, err
	}

	now := c.clock()
	newCount := p.ApprovalCount + 1
	p.ApprovalCount = newCount
	if newCount >= threshold {
		p.Status = store.ProposalApproved
	}

	err = c.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.PutApproval(ctx, store.GovernanceApproval{ProposalID: proposalID, Signer: signer, ApprovedAt: now}); err != nil {
			return err
		}
		return tx.UpdateProposal(ctx, p)
	})
	if err != nil {
		return store.GovernanceProposal{}, err
	}

	observability.Governance().RecordApproval()
	if p.Status == store.ProposalApproved {
		observability.Governance().RecordProposalStatus(string(p.Status))
	}
	c.publisher.Publish(events.Event{ID: c.idGen(), Type: events.TypeProposalApproved, Subject: proposalID, Timestamp: now, Delta: map[string]any{"signer": signer, "approval_count": newCount}})
	return p, nil
}

// RevokeApproval implements revoke_approval(signer, proposal_id) (spec §4.4).
func (c *Core) RevokeApproval(ctx context.Context, signer, proposalID string) (store.GovernanceProposal, error) {
	lock, err := c.store.LockProposal(ctx, proposalID)
	if err != nil {
		return store.GovernanceProposal{}, err
	}
	defer lock.Unlock(ctx)

	p, err := c.store.GetProposal(ctx, proposalID)
	if err != nil {
		return store.GovernanceProposal{}, err
	}
	if p.Status == store.ProposalExecuted {
		return store.GovernanceProposal{}, apierr.New(apierr.KindFSM, apierr.CodeProposalAlreadyExecuted, "cannot revoke approval on an executed proposal")
	}

	approvals, err := c.store.ListApprovals(ctx, proposalID)
	if err != nil {
		return store.GovernanceProposal{}, err
	}
	found := false
	for _, a := range approvals {
		if a.Signer == signer {
			found = true
			break
		}
	}
	if !found {
		return store.GovernanceProposal{}, apierr.New(apierr.KindValidation, apierr.CodeInvalidInput, "signer has not approved this proposal")
	}

	threshold, err := c.store.GetThreshold(ctx)
	if err != nil {
		return store.GovernanceProposal{}, err
	}

	p.ApprovalCount--
	if p.ApprovalCount < threshold && p.Status == store.ProposalApproved {
		p.Status = store.ProposalPending
	}

	err = c.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.DeleteApproval(ctx, proposalID, signer); err != nil {
			return err
		}
		return tx.UpdateProposal(ctx, p)
	})
	if err != nil {
		return store.GovernanceProposal{}, err
	}

	c.publisher.Publish(events.Event{ID: c.idGen(), Type: events.TypeProposalRevoked, Subject: proposalID, Timestamp: c.clock(), Delta: map[string]any{"signer": signer}})
	return p, nil
}

// Execute implements execute(executor, proposal_id) (spec §4.4). It applies
// checks-effects-interactions: the execution guard is set true before the
// chain invocation, so a crash after the guard but before/during the call
// can never be replayed into a second on-chain effect.
func (c *Core) Execute(ctx context.Context, executor, proposalID string) (store.GovernanceProposal, error) {
	lock, err := c.store.LockProposal(ctx, proposalID)
	if err != nil {
		return store.GovernanceProposal{}, err
	}
	defer lock.Unlock(ctx)

	if err := c.requireActiveSigner(ctx, executor); err != nil {
		return store.GovernanceProposal{}, err
	}

	p, err := c.store.GetProposal(ctx, proposalID)
	if err != nil {
		return store.GovernanceProposal{}, err
	}

	guardSet, err := c.store.IsExecutionGuardSet(ctx, proposalID)
	if err != nil {
		return store.GovernanceProposal{}, err
	}
	if guardSet || p.Status == store.ProposalExecuted {
		return store.GovernanceProposal{}, apierr.New(apierr.KindFSM, apierr.CodeProposalAlreadyExecuted, "proposal has already been executed")
	}
	if p.Status != store.ProposalApproved {
		return store.GovernanceProposal{}, apierr.New(apierr.KindFSM, apierr.CodeProposalNotApproved, "proposal must be Approved to execute")
	}

	now := c.clock()
	if now.After(p.Expiry) {
		return store.GovernanceProposal{}, apierr.New(apierr.KindFSM, apierr.CodeProposalExpired, "proposal has expired")
	}
	if p.ExecuteAfter != nil && now.Before(*p.ExecuteAfter) {
		return store.GovernanceProposal{}, apierr.New(apierr.KindFSM, apierr.CodeExecutionTooEarly, "execute_after has not elapsed")
	}

	// Effects before interaction: mark the guard durable first.
	if err := c.store.WithTx(ctx, func(tx store.Tx) error { return tx.SetExecutionGuard(ctx, proposalID) }); err != nil {
		return store.GovernanceProposal{}, err
	}

	_, invokeErr := c.chain.Invoke(ctx, p.TargetContract, p.FunctionName, p.EncodedArgs, "system")

	p.Status = store.ProposalExecuted
	p.ExecutedAt = &now
	if err := c.store.WithTx(ctx, func(tx store.Tx) error { return tx.UpdateProposal(ctx, p) }); err != nil {
		return store.GovernanceProposal{}, err
	}
	observability.Governance().RecordProposalStatus(string(p.Status))

	if invokeErr != nil {
		return p, apierr.Wrap(apierr.KindChain, apierr.CodeChainError, invokeErr)
	}

	observability.Governance().RecordExecution()
	c.publisher.Publish(events.Event{ID: c.idGen(), Type: events.TypeProposalExecuted, Subject: proposalID, Timestamp: now})
	return p, nil
}

// CancelProposal implements cancel_proposal(caller, proposal_id) (spec §4.4).
func (c *Core) CancelProposal(ctx context.Context, caller, proposalID string) (store.GovernanceProposal, error) {
	lock, err := c.store.LockProposal(ctx, proposalID)
	if err != nil {
		return store.GovernanceProposal{}, err
	}
	defer lock.Unlock(ctx)

	p, err := c.store.GetProposal(ctx, proposalID)
	if err != nil {
		return store.GovernanceProposal{}, err
	}
	if p.Proposer != caller {
		return store.GovernanceProposal{}, apierr.New(apierr.KindAuth, apierr.CodeNotProposer, "only the proposer may cancel a proposal")
	}
	if p.Status == store.ProposalExecuted {
		return store.GovernanceProposal{}, apierr.New(apierr.KindFSM, apierr.CodeProposalAlreadyExecuted, "cannot cancel an executed proposal")
	}

	p.Status = store.ProposalCancelled
	if err := c.store.WithTx(ctx, func(tx store.Tx) error { return tx.UpdateProposal(ctx, p) }); err != nil {
		return store.GovernanceProposal{}, err
	}
	observability.Governance().RecordProposalStatus(string(p.Status))

	c.publisher.Publish(events.Event{ID: c.idGen(), Type: events.TypeProposalCancelled, Subject: proposalID, Timestamp: c.clock()})
	return p, nil
}

// AddSigner implements self-governance add_signer (spec §4.4). It performs
// no caller check of its own, and Execute does not dispatch to it: nothing
// in this module calls it after a proposal executes.
func (c *Core) AddSigner(ctx context.Context, address string) error {
	signers, err := c.store.ListSigners(ctx)
	if err != nil {
		return err
	}
	active := 0
	for _, s := range signers {
		if s.Active {
			active++
		}
		if s.Address == address && s.Active {
			return apierr.New(apierr.KindValidation, apierr.CodeInvalidInput, "signer already active")
		}
	}
	if active >= c.maxSigners {
		return apierr.New(apierr.KindValidation, apierr.CodeInvalidInput, "signer set already at max_signers")
	}

	err = c.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.PutSigner(ctx, store.Signer{Address: address, Position: len(signers), Active: true})
	})
	if err != nil {
		return err
	}
	c.publisher.Publish(events.Event{ID: c.idGen(), Type: events.TypeSignerAdded, Subject: address, Timestamp: c.clock()})
	return nil
}

// RemoveSigner implements self-governance remove_signer (spec §4.4). The
// last active signer may never be removed, and the threshold is clamped
// down if removal would leave threshold > active signer count.
func (c *Core) RemoveSigner(ctx context.Context, address string) error {
	signers, err := c.store.ListSigners(ctx)
	if err != nil {
		return err
	}
	active := 0
	found := false
	for _, s := range signers {
		if s.Active {
			active++
		}
		if s.Address == address && s.Active {
			found = true
		}
	}
	if !found {
		return apierr.New(apierr.KindValidation, apierr.CodeInvalidInput, "signer is not active")
	}
	if active <= 1 {
		return apierr.New(apierr.KindFSM, apierr.CodeCannotRemoveLastSigner, "cannot remove the last active signer")
	}

	threshold, err := c.store.GetThreshold(ctx)
	if err != nil {
		return err
	}
	remaining := active - 1

	err = c.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.RemoveSigner(ctx, address); err != nil {
			return err
		}
		if threshold > remaining {
			return tx.SetThreshold(ctx, remaining)
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.publisher.Publish(events.Event{ID: c.idGen(), Type: events.TypeSignerRemoved, Subject: address, Timestamp: c.clock()})
	return nil
}

// UpdateThreshold implements self-governance update_threshold (spec §4.4),
// bound by 1 <= threshold <= active signer count.
func (c *Core) UpdateThreshold(ctx context.Context, threshold int) error {
	signers, err := c.store.ListSigners(ctx)
	if err != nil {
		return err
	}
	active := 0
	for _, s := range signers {
		if s.Active {
			active++
		}
	}
	if threshold < 1 || threshold > active {
		return apierr.New(apierr.KindValidation, apierr.CodeInvalidInput, "threshold must satisfy 1 <= threshold <= active signer count")
	}

	if err := c.store.WithTx(ctx, func(tx store.Tx) error { return tx.SetThreshold(ctx, threshold) }); err != nil {
		return err
	}
	c.publisher.Publish(events.Event{ID: c.idGen(), Type: events.TypeThresholdUpdated, Subject: selfContractID, Timestamp: c.clock(), Delta: map[string]any{"threshold": threshold}})
	return nil
}

func (c *Core) requireLive(_ context.Context, p *store.GovernanceProposal) error {
	switch p.Status {
	case store.ProposalExecuted:
		return apierr.New(apierr.KindFSM, apierr.CodeProposalAlreadyExecuted, "proposal has already been executed")
	case store.ProposalCancelled:
		return apierr.New(apierr.KindFSM, apierr.CodeProposalNotPending, "proposal has been cancelled")
	}
	if c.clock().After(p.Expiry) {
		return apierr.New(apierr.KindFSM, apierr.CodeProposalExpired, "proposal has expired")
	}
	return nil
}

func (c *Core) requireActiveSigner(ctx context.Context, address string) error {
	signers, err := c.store.ListSigners(ctx)
	if err != nil {
		return err
	}
	for _, s := range signers {
		if s.Address == address && s.Active {
			return nil
		}
	}
	return apierr.New(apierr.KindAuth, apierr.CodeNotASigner, "caller is not an active signer")
}

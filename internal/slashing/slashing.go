// Package slashing implements the Slashing Core (spec C6, §4.5): penalty
// case lifecycle, a per-case single-execution guard, permanent-ban
// immutability, and the penalty dispatch table (stake slash, reward
// confiscation, temporary suspension, permanent ban).
package slashing

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"matchguard/internal/apierr"
	"matchguard/internal/events"
	"matchguard/internal/identity"
	"matchguard/internal/store"
	"matchguard/observability"
)

// Core is the Slashing Core.
type Core struct {
	store      store.Store
	escrow     Escrow
	publisher  events.Publisher
	idGen      func() string
	clock      func() time.Time
	activeBans atomic.Int64
}

// Option customizes Core construction.
type Option func(*Core)

func WithClock(fn func() time.Time) Option   { return func(c *Core) { c.clock = fn } }
func WithIDGenerator(fn func() string) Option { return func(c *Core) { c.idGen = fn } }

// New constructs a Core.
func New(st store.Store, escrow Escrow, pub events.Publisher, opts ...Option) *Core {
	c := &Core{store: st, escrow: escrow, publisher: pub, idGen: uuid.NewString, clock: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func requireAuthority(caller identity.Caller) error {
	if caller.Role != identity.RoleAdmin && caller.Role != identity.RoleSystem {
		return apierr.New(apierr.KindAuth, apierr.CodeUnauthorized, "caller must hold Admin or System authority")
	}
	return nil
}

// OpenCaseInput is the open-case request (spec §4.5).
type OpenCaseInput struct {
	Caller       identity.Caller
	CaseID       string
	Subject      string
	ReasonCode   int
	EvidenceHash string
	PenaltyType  store.PenaltyType
	Amount       string
	Asset        string
	Duration     time.Duration
}

// OpenCase opens a new SlashCase in status Proposed.
func (c *Core) OpenCase(ctx context.Context, in OpenCaseInput) (store.SlashCase, error) {
	if err := requireAuthority(in.Caller); err != nil {
		return store.SlashCase{}, err
	}

	banned, err := c.store.HasPermanentBan(ctx, in.Subject)
	if err != nil {
		return store.SlashCase{}, err
	}
	if banned {
		return store.SlashCase{}, apierr.New(apierr.KindFSM, apierr.CodeSubjectPermanentlyBanned, "subject already carries a permanent ban")
	}

	if err := validatePenaltyArgs(in.PenaltyType, in.Amount, in.Asset, in.Duration); err != nil {
		return store.SlashCase{}, err
	}

	if in.CaseID == "" {
		in.CaseID = c.idGen()
	}

	caseRow := store.SlashCase{
		CaseID:       in.CaseID,
		Subject:      in.Subject,
		Initiator:    in.Caller.Subject,
		ReasonCode:   in.ReasonCode,
		EvidenceHash: in.EvidenceHash,
		Status:       store.CaseProposed,
		PenaltyType:  in.PenaltyType,
		Amount:       in.Amount,
		Asset:        in.Asset,
		Duration:     in.Duration,
		CreatedAt:    c.clock(),
	}

	if err := c.store.WithTx(ctx, func(tx store.Tx) error { return tx.PutSlashCase(ctx, caseRow) }); err != nil {
		return store.SlashCase{}, err
	}

	observability.Slashing().RecordCaseOpened(string(caseRow.PenaltyType))
	c.publisher.Publish(events.Event{ID: c.idGen(), Type: events.TypeCaseOpened, Subject: in.Subject, Timestamp: caseRow.CreatedAt})
	return caseRow, nil
}

func validatePenaltyArgs(pt store.PenaltyType, amount, asset string, duration time.Duration) error {
	switch pt {
	case store.PenaltyStakeSlash, store.PenaltyRewardConfiscation:
		if amount == "" || asset == "" {
			return apierr.New(apierr.KindValidation, apierr.CodeInvalidPenaltyArgs, "amount and asset are required")
		}
	case store.PenaltyTemporarySuspension:
		if duration <= 0 {
			return apierr.New(apierr.KindValidation, apierr.CodeInvalidPenaltyArgs, "duration must be positive")
		}
	case store.PenaltyPermanentBan:
		// no additional args required
	default:
		return apierr.New(apierr.KindValidation, apierr.CodeInvalidPenaltyArgs, "unknown penalty type")
	}
	return nil
}

// ApproveCase transitions a case from Proposed to Approved. Unlike
// governance proposals, a single Admin/System approval is sufficient (the
// multisig layer, if desired, gates who holds those roles); the spec names
// no M-of-N threshold for cases.
func (c *Core) ApproveCase(ctx context.Context, caller identity.Caller, caseID string) (store.SlashCase, error) {
	if err := requireAuthority(caller); err != nil {
		return store.SlashCase{}, err
	}

	lock, err := c.store.LockCase(ctx, caseID)
	if err != nil {
		return store.SlashCase{}, err
	}
	defer lock.Unlock(ctx)

	sc, err := c.store.GetSlashCase(ctx, caseID)
	if err != nil {
		return store.SlashCase{}, err
	}
	if sc.Status != store.CaseProposed {
		return store.SlashCase{}, apierr.New(apierr.KindFSM, apierr.CodeCaseNotApproved, "case must be Proposed to approve")
	}

	sc.Status = store.CaseApproved
	sc.Approvers = append(sc.Approvers, caller.Subject)

	if err := c.store.WithTx(ctx, func(tx store.Tx) error { return tx.UpdateSlashCase(ctx, *sc) }); err != nil {
		return store.SlashCase{}, err
	}

	c.publisher.Publish(events.Event{ID: c.idGen(), Type: events.TypeCaseApproved, Subject: sc.Subject, Timestamp: c.clock()})
	return *sc, nil
}

// ExecuteCase implements execute (spec §4.5): dispatches the penalty exactly
// once. The execution guard is set before dispatch (checks-effects-
// interactions), mirroring the governance core's Execute.
func (c *Core) ExecuteCase(ctx context.Context, caller identity.Caller, caseID string) (store.SlashCase, error) {
	if err := requireAuthority(caller); err != nil {
		return store.SlashCase{}, err
	}

	lock, err := c.store.LockCase(ctx, caseID)
	if err != nil {
		return store.SlashCase{}, err
	}
	defer lock.Unlock(ctx)

	sc, err := c.store.GetSlashCase(ctx, caseID)
	if err != nil {
		return store.SlashCase{}, err
	}

	guardSet, err := c.store.IsCaseExecutionGuardSet(ctx, caseID)
	if err != nil {
		return store.SlashCase{}, err
	}
	if guardSet || sc.Status == store.CaseExecuted {
		return store.SlashCase{}, apierr.New(apierr.KindFSM, apierr.CodeCaseAlreadyExecuted, "case has already been executed")
	}
	if sc.Status != store.CaseApproved {
		return store.SlashCase{}, apierr.New(apierr.KindFSM, apierr.CodeCaseNotApproved, "case must be Approved to execute")
	}

	banned, err := c.store.HasPermanentBan(ctx, sc.Subject)
	if err != nil {
		return store.SlashCase{}, err
	}
	if banned {
		return store.SlashCase{}, apierr.New(apierr.KindFSM, apierr.CodeSubjectPermanentlyBanned, "subject already carries a permanent ban")
	}

	if err := c.store.WithTx(ctx, func(tx store.Tx) error { return tx.SetCaseExecutionGuard(ctx, caseID) }); err != nil {
		return store.SlashCase{}, err
	}

	dispatchErr := c.dispatch(ctx, *sc)

	now := c.clock()
	sc.Status = store.CaseExecuted
	sc.ResolvedAt = &now
	if err := c.store.WithTx(ctx, func(tx store.Tx) error { return tx.UpdateSlashCase(ctx, *sc) }); err != nil {
		return store.SlashCase{}, err
	}
	observability.Slashing().RecordCaseExecuted(string(sc.PenaltyType), dispatchErr)

	if dispatchErr != nil {
		return *sc, apierr.Wrap(apierr.KindChain, apierr.CodeChainError, dispatchErr)
	}

	c.publisher.Publish(events.Event{ID: c.idGen(), Type: events.TypeCaseExecuted, Subject: sc.Subject, Timestamp: now})
	return *sc, nil
}

func (c *Core) dispatch(ctx context.Context, sc store.SlashCase) error {
	switch sc.PenaltyType {
	case store.PenaltyStakeSlash:
		if err := c.escrow.SlashStake(ctx, sc.Subject, sc.Amount, sc.Asset); err != nil {
			return err
		}
		c.publisher.Publish(events.Event{ID: c.idGen(), Type: events.TypeStakeSlashed, Subject: sc.Subject, Timestamp: c.clock(), Delta: map[string]any{"amount": sc.Amount, "asset": sc.Asset}})
		return nil

	case store.PenaltyRewardConfiscation:
		if err := c.escrow.ConfiscateReward(ctx, sc.Subject, sc.Amount, sc.Asset); err != nil {
			return err
		}
		c.publisher.Publish(events.Event{ID: c.idGen(), Type: events.TypeRewardConfiscated, Subject: sc.Subject, Timestamp: c.clock(), Delta: map[string]any{"amount": sc.Amount, "asset": sc.Asset}})
		return nil

	case store.PenaltyTemporarySuspension:
		expiresAt := c.clock().Add(sc.Duration)
		ban := store.BanRecord{Subject: sc.Subject, CaseID: sc.CaseID, BannedAt: c.clock(), IsPermanent: false, ExpiresAt: &expiresAt}
		if err := c.store.WithTx(ctx, func(tx store.Tx) error { return tx.PutBanRecord(ctx, ban) }); err != nil {
			return err
		}
		observability.Slashing().SetActiveBans(int(c.activeBans.Add(1)))
		c.publisher.Publish(events.Event{ID: c.idGen(), Type: events.TypeTemporarySuspension, Subject: sc.Subject, Timestamp: c.clock(), Delta: map[string]any{"expires_at": expiresAt}})
		return nil

	case store.PenaltyPermanentBan:
		ban := store.BanRecord{Subject: sc.Subject, CaseID: sc.CaseID, BannedAt: c.clock(), IsPermanent: true}
		if err := c.store.WithTx(ctx, func(tx store.Tx) error { return tx.PutBanRecord(ctx, ban) }); err != nil {
			return err
		}
		observability.Slashing().SetActiveBans(int(c.activeBans.Add(1)))
		c.publisher.Publish(events.Event{ID: c.idGen(), Type: events.TypePermanentBan, Subject: sc.Subject, Timestamp: c.clock()})
		return nil

	default:
		return apierr.New(apierr.KindValidation, apierr.CodeInvalidPenaltyArgs, "unknown penalty type")
	}
}

// CancelCase cancels a case that has not yet been executed. Only the
// original initiator may cancel (mirrors governance's proposer-only rule).
func (c *Core) CancelCase(ctx context.Context, caller identity.Caller, caseID string) (store.SlashCase, error) {
	lock, err := c.store.LockCase(ctx, caseID)
	if err != nil {
		return store.SlashCase{}, err
	}
	defer lock.Unlock(ctx)

	sc, err := c.store.GetSlashCase(ctx, caseID)
	if err != nil {
		return store.SlashCase{}, err
	}
	if sc.Initiator != caller.Subject {
		return store.SlashCase{}, apierr.New(apierr.KindAuth, apierr.CodeNotProposer, "only the initiator may cancel a case")
	}
	if sc.Status == store.CaseExecuted {
		return store.SlashCase{}, apierr.New(apierr.KindFSM, apierr.CodeCaseAlreadyExecuted, "cannot cancel an executed case")
	}

	sc.Status = store.CaseCancelled
	if err := c.store.WithTx(ctx, func(tx store.Tx) error { return tx.UpdateSlashCase(ctx, *sc) }); err != nil {
		return store.SlashCase{}, err
	}

	c.publisher.Publish(events.Event{ID: c.idGen(), Type: events.TypeCaseCancelled, Subject: sc.Subject, Timestamp: c.clock()})
	return *sc, nil
}

// IsBanned reports whether a subject currently carries an active ban
// (permanent, or temporary with expires_at in the future).
func (c *Core) IsBanned(ctx context.Context, subject string) (bool, error) {
	return c.store.IsBanned(ctx, subject, c.clock())
}

package slashing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"matchguard/internal/apierr"
	"matchguard/internal/events"
	"matchguard/internal/identity"
	"matchguard/internal/slashing"
	"matchguard/internal/store"
	"matchguard/internal/store/memstore"
)

type fakeEscrow struct {
	slashed    []string
	confiscated []string
	err        error
}

func (f *fakeEscrow) SlashStake(_ context.Context, subject, amount, asset string) error {
	if f.err != nil {
		return f.err
	}
	f.slashed = append(f.slashed, subject+":"+amount+":"+asset)
	return nil
}

func (f *fakeEscrow) ConfiscateReward(_ context.Context, subject, amount, asset string) error {
	if f.err != nil {
		return f.err
	}
	f.confiscated = append(f.confiscated, subject+":"+amount+":"+asset)
	return nil
}

var admin = identity.Caller{Subject: "GADMIN", Role: identity.RoleAdmin}
var system = identity.Caller{Subject: "system", Role: identity.RoleSystem}
var player = identity.Caller{Subject: "GPLAYER", Role: identity.RolePlayer}

func newTestCore(t *testing.T) (*slashing.Core, *fakeEscrow, *memstore.Store) {
	t.Helper()
	escrow := &fakeEscrow{}
	st := memstore.New()
	core := slashing.New(st, escrow, events.NoopPublisher{})
	return core, escrow, st
}

func TestStakeSlashHappyPath(t *testing.T) {
	core, escrow, _ := newTestCore(t)
	ctx := context.Background()

	sc, err := core.OpenCase(ctx, slashing.OpenCaseInput{
		Caller: admin, Subject: "GCHEATER", ReasonCode: 1, EvidenceHash: "deadbeef",
		PenaltyType: store.PenaltyStakeSlash, Amount: "50", Asset: "USDC",
	})
	require.NoError(t, err)
	require.Equal(t, store.CaseProposed, sc.Status)

	sc, err = core.ApproveCase(ctx, admin, sc.CaseID)
	require.NoError(t, err)
	require.Equal(t, store.CaseApproved, sc.Status)

	sc, err = core.ExecuteCase(ctx, system, sc.CaseID)
	require.NoError(t, err)
	require.Equal(t, store.CaseExecuted, sc.Status)
	require.Len(t, escrow.slashed, 1)
}

func TestPlayerCannotOpenCase(t *testing.T) {
	core, _, _ := newTestCore(t)
	_, err := core.OpenCase(context.Background(), slashing.OpenCaseInput{
		Caller: player, Subject: "GCHEATER", PenaltyType: store.PenaltyPermanentBan,
	})
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.KindAuth, apiErr.Kind)
}

func TestExecuteCannotRunTwice(t *testing.T) {
	core, _, _ := newTestCore(t)
	ctx := context.Background()

	sc, err := core.OpenCase(ctx, slashing.OpenCaseInput{Caller: admin, Subject: "GSUB", PenaltyType: store.PenaltyPermanentBan})
	require.NoError(t, err)
	_, err = core.ApproveCase(ctx, admin, sc.CaseID)
	require.NoError(t, err)
	_, err = core.ExecuteCase(ctx, admin, sc.CaseID)
	require.NoError(t, err)

	_, err = core.ExecuteCase(ctx, admin, sc.CaseID)
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.CodeCaseAlreadyExecuted, apiErr.Code)
}

func TestPermanentBanIsImmutableAndBlocksNewCases(t *testing.T) {
	core, _, st := newTestCore(t)
	ctx := context.Background()

	sc, err := core.OpenCase(ctx, slashing.OpenCaseInput{Caller: admin, Subject: "GREPEAT", PenaltyType: store.PenaltyPermanentBan})
	require.NoError(t, err)
	_, err = core.ApproveCase(ctx, admin, sc.CaseID)
	require.NoError(t, err)
	_, err = core.ExecuteCase(ctx, admin, sc.CaseID)
	require.NoError(t, err)

	banned, err := core.IsBanned(ctx, "GREPEAT")
	require.NoError(t, err)
	require.True(t, banned)

	_, err = core.OpenCase(ctx, slashing.OpenCaseInput{Caller: admin, Subject: "GREPEAT", PenaltyType: store.PenaltyStakeSlash, Amount: "1", Asset: "USDC"})
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.CodeSubjectPermanentlyBanned, apiErr.Code)

	has, err := st.HasPermanentBan(ctx, "GREPEAT")
	require.NoError(t, err)
	require.True(t, has)
}

func TestTemporarySuspensionExpires(t *testing.T) {
	core, _, st := newTestCore(t)
	ctx := context.Background()

	sc, err := core.OpenCase(ctx, slashing.OpenCaseInput{Caller: admin, Subject: "GSHORT", PenaltyType: store.PenaltyTemporarySuspension, Duration: 1 * time.Hour})
	require.NoError(t, err)
	_, err = core.ApproveCase(ctx, admin, sc.CaseID)
	require.NoError(t, err)
	_, err = core.ExecuteCase(ctx, admin, sc.CaseID)
	require.NoError(t, err)

	bannedNow, err := st.IsBanned(ctx, "GSHORT", time.Now())
	require.NoError(t, err)
	require.True(t, bannedNow)

	bannedLater, err := st.IsBanned(ctx, "GSHORT", time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	require.False(t, bannedLater)
}

func TestInvalidPenaltyArgsRejected(t *testing.T) {
	core, _, _ := newTestCore(t)
	_, err := core.OpenCase(context.Background(), slashing.OpenCaseInput{
		Caller: admin, Subject: "GSUB", PenaltyType: store.PenaltyStakeSlash,
	})
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.CodeInvalidPenaltyArgs, apiErr.Code)
}

func TestEscrowFailureStillMarksCaseExecuted(t *testing.T) {
	core, escrow, _ := newTestCore(t)
	escrow.err = errors.New("escrow unreachable")
	ctx := context.Background()

	sc, err := core.OpenCase(ctx, slashing.OpenCaseInput{Caller: admin, Subject: "GSUB", PenaltyType: store.PenaltyStakeSlash, Amount: "5", Asset: "USDC"})
	require.NoError(t, err)
	_, err = core.ApproveCase(ctx, admin, sc.CaseID)
	require.NoError(t, err)

	updated, err := core.ExecuteCase(ctx, admin, sc.CaseID)
	require.Error(t, err, "a failed escrow invocation surfaces as a chain error")
	require.Equal(t, store.CaseExecuted, updated.Status, "the execution guard is checks-effects: status still advances so a retry cannot re-dispatch")
}

func TestOnlyInitiatorCanCancel(t *testing.T) {
	core, _, _ := newTestCore(t)
	ctx := context.Background()

	sc, err := core.OpenCase(ctx, slashing.OpenCaseInput{Caller: admin, Subject: "GSUB", PenaltyType: store.PenaltyPermanentBan})
	require.NoError(t, err)

	_, err = core.CancelCase(ctx, system, sc.CaseID)
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.CodeNotProposer, apiErr.Code)

	cancelled, err := core.CancelCase(ctx, admin, sc.CaseID)
	require.NoError(t, err)
	require.Equal(t, store.CaseCancelled, cancelled.Status)
}

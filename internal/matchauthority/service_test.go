package matchauthority_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"matchguard/internal/apierr"
	"matchguard/internal/chain"
	"matchguard/internal/events"
	"matchguard/internal/matchauthority"
	"matchguard/internal/matchfsm"
	"matchguard/internal/store/memstore"
)

func newTestService(t *testing.T) (*matchauthority.Service, *chain.FakeGateway) {
	t.Helper()
	gw := chain.NewFakeGateway()
	st := memstore.New()
	svc := matchauthority.New(st, gw, events.NoopPublisher{}, matchauthority.NoopSettlement{}, 5*time.Minute)
	return svc, gw
}

func TestHappyPathMatch(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	view, err := svc.CreateMatch(ctx, matchauthority.CreateMatchInput{PlayerA: "GAAA", PlayerB: "GBBB", IdempotencyKey: "idemp-1"})
	require.NoError(t, err)
	require.Equal(t, matchfsm.Created, view.Match.State)
	matchID := view.Match.ID

	view, err = svc.StartMatch(ctx, matchID)
	require.NoError(t, err)
	require.Equal(t, matchfsm.Started, view.Match.State)

	view, err = svc.CompleteMatch(ctx, matchID, "GAAA")
	require.NoError(t, err)
	require.Equal(t, matchfsm.Completed, view.Match.State)
	require.Equal(t, "GAAA", *view.Match.Winner)

	view, err = svc.FinalizeMatch(ctx, matchID)
	require.NoError(t, err)
	require.Equal(t, matchfsm.Finalized, view.Match.State)

	transitions, err := svc.GetMatch(ctx, matchID)
	require.NoError(t, err)
	require.Len(t, transitions.Transitions, 4)
}

func TestCreateMatchIdempotentReplay(t *testing.T) {
	svc, gw := newTestService(t)
	ctx := context.Background()

	in := matchauthority.CreateMatchInput{PlayerA: "GAAA", PlayerB: "GBBB", IdempotencyKey: "idemp-2"}
	first, err := svc.CreateMatch(ctx, in)
	require.NoError(t, err)

	second, err := svc.CreateMatch(ctx, in)
	require.NoError(t, err)
	require.Equal(t, first.Match.ID, second.Match.ID)

	require.Len(t, gw.Invocations(), 1, "second call must not re-invoke the chain")

	b1, _ := json.Marshal(first)
	b2, _ := json.Marshal(second)
	require.JSONEq(t, string(b1), string(b2))
}

func TestCreateMatchRejectsDistinctPlayersViolation(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.CreateMatch(context.Background(), matchauthority.CreateMatchInput{PlayerA: "GAAA", PlayerB: "GAAA"})
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.KindValidation, apiErr.Kind)
}

func TestInvalidTransitionRejectedWithoutChainCall(t *testing.T) {
	svc, gw := newTestService(t)
	ctx := context.Background()

	view, err := svc.CreateMatch(ctx, matchauthority.CreateMatchInput{PlayerA: "GAAA", PlayerB: "GBBB"})
	require.NoError(t, err)

	invocationsBefore := len(gw.Invocations())
	_, err = svc.CompleteMatch(ctx, view.Match.ID, "GAAA")
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.CodeInvalidTransition, apiErr.Code)
	require.Equal(t, invocationsBefore, len(gw.Invocations()), "no chain call should be issued for a rejected transition")
}

func TestCompleteMatchRejectsNonParticipantWinner(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	view, err := svc.CreateMatch(ctx, matchauthority.CreateMatchInput{PlayerA: "GAAA", PlayerB: "GBBB"})
	require.NoError(t, err)
	_, err = svc.StartMatch(ctx, view.Match.ID)
	require.NoError(t, err)

	_, err = svc.CompleteMatch(ctx, view.Match.ID, "GCCC")
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.CodeInvalidWinner, apiErr.Code)
}

func TestSelfLoopIsIdempotentNoOp(t *testing.T) {
	svc, gw := newTestService(t)
	ctx := context.Background()

	view, err := svc.CreateMatch(ctx, matchauthority.CreateMatchInput{PlayerA: "GAAA", PlayerB: "GBBB"})
	require.NoError(t, err)
	_, err = svc.StartMatch(ctx, view.Match.ID)
	require.NoError(t, err)

	invocationsBefore := len(gw.Invocations())
	again, err := svc.StartMatch(ctx, view.Match.ID)
	require.NoError(t, err)
	require.Equal(t, matchfsm.Started, again.Match.State)
	require.Equal(t, invocationsBefore, len(gw.Invocations()), "repeating an already-applied transition must not re-invoke the chain")
}

func TestRaiseDisputeRequiresParticipant(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	view, err := svc.CreateMatch(ctx, matchauthority.CreateMatchInput{PlayerA: "GAAA", PlayerB: "GBBB"})
	require.NoError(t, err)
	_, err = svc.StartMatch(ctx, view.Match.ID)
	require.NoError(t, err)
	_, err = svc.CompleteMatch(ctx, view.Match.ID, "GAAA")
	require.NoError(t, err)

	_, err = svc.RaiseDispute(ctx, view.Match.ID, "GZZZ", "cheating")
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.KindAuth, apiErr.Kind)

	disputed, err := svc.RaiseDispute(ctx, view.Match.ID, "GBBB", "cheating")
	require.NoError(t, err)
	require.Equal(t, matchfsm.Disputed, disputed.Match.State)
}

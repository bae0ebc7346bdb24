package matchauthority_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"matchguard/internal/chain"
	"matchguard/internal/events"
	"matchguard/internal/matchauthority"
	"matchguard/internal/matchfsm"
	"matchguard/internal/store/memstore"
)

func TestReconcileRepairsForwardDivergence(t *testing.T) {
	gw := chain.NewFakeGateway()
	st := memstore.New()
	svc := matchauthority.New(st, gw, events.NoopPublisher{}, matchauthority.NoopSettlement{}, 5*time.Minute)
	ctx := context.Background()

	view, err := svc.CreateMatch(ctx, matchauthority.CreateMatchInput{PlayerA: "GAAA", PlayerB: "GBBB"})
	require.NoError(t, err)
	require.Equal(t, matchfsm.Created, view.Match.State)

	// Simulate the chain having advanced to Started while the database
	// partial-commit left the match record at Created (spec S6).
	gw.SetContractState("match_authority", "get_match_state", []byte(`{"state":"Started"}`))

	synced, message, err := svc.ReconcileMatch(ctx, view.Match.ID)
	require.NoError(t, err)
	require.True(t, synced)
	require.Contains(t, message, "repaired")

	after, err := svc.GetMatch(ctx, view.Match.ID)
	require.NoError(t, err)
	require.Equal(t, matchfsm.Started, after.Match.State)

	var reconcilerTransition bool
	for _, tr := range after.Transitions {
		if tr.Actor == "reconciler" {
			reconcilerTransition = true
			require.Equal(t, matchfsm.Created, tr.FromState)
			require.Equal(t, matchfsm.Started, tr.ToState)
		}
	}
	require.True(t, reconcilerTransition)
}

func TestReconcileMarksManualWhenChainBehind(t *testing.T) {
	gw := chain.NewFakeGateway()
	st := memstore.New()
	svc := matchauthority.New(st, gw, events.NoopPublisher{}, matchauthority.NoopSettlement{}, 5*time.Minute)
	ctx := context.Background()

	view, err := svc.CreateMatch(ctx, matchauthority.CreateMatchInput{PlayerA: "GAAA", PlayerB: "GBBB"})
	require.NoError(t, err)
	_, err = svc.StartMatch(ctx, view.Match.ID)
	require.NoError(t, err)
	_, err = svc.CompleteMatch(ctx, view.Match.ID, "GAAA")
	require.NoError(t, err)

	// Chain reports Created, which is behind the database's Completed state;
	// this is not a legal forward successor so it must resolve manually.
	gw.SetContractState("match_authority", "get_match_state", []byte(`{"state":"Created"}`))

	synced, message, err := svc.ReconcileMatch(ctx, view.Match.ID)
	require.NoError(t, err)
	require.False(t, synced)
	require.Contains(t, message, "manual")

	after, err := svc.GetMatch(ctx, view.Match.ID)
	require.NoError(t, err)
	require.Equal(t, matchfsm.Completed, after.Match.State, "reconciliation must never regress state")
}

func TestReconcileSynchronizedWhenStatesMatch(t *testing.T) {
	gw := chain.NewFakeGateway()
	st := memstore.New()
	svc := matchauthority.New(st, gw, events.NoopPublisher{}, matchauthority.NoopSettlement{}, 5*time.Minute)
	ctx := context.Background()

	view, err := svc.CreateMatch(ctx, matchauthority.CreateMatchInput{PlayerA: "GAAA", PlayerB: "GBBB"})
	require.NoError(t, err)

	gw.SetContractState("match_authority", "get_match_state", []byte(`{"state":"Created"}`))

	synced, message, err := svc.ReconcileMatch(ctx, view.Match.ID)
	require.NoError(t, err)
	require.True(t, synced)
	require.Equal(t, "synchronized", message)
}

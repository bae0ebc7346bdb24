package matchauthority

import (
	"context"
	"encoding/json"
	"time"

	"matchguard/internal/apierr"
	"matchguard/internal/events"
	"matchguard/internal/matchfsm"
	"matchguard/internal/store"
	"matchguard/observability"
)

// chainStateView is the shape an on-chain match_authority query returns for
// a single match, decoded from GetContractState.
type chainStateView struct {
	State string `json:"state"`
}

// ReconcileMatch implements reconcile_match (spec §4.2, §4.3). It compares
// the database state against the on-chain state and, when the chain has
// legally moved ahead, advances the database to match. It never regresses
// the database (spec Open Question 3).
func (s *Service) ReconcileMatch(ctx context.Context, matchID string) (bool, string, error) {
	m, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return false, "", err
	}

	raw, err := s.chain.GetContractState(ctx, "match_authority", "get_match_state", []byte(`{"match_id":"`+matchID+`"}`))
	if err != nil {
		return false, "", apierr.Wrap(apierr.KindChain, apierr.CodeChainError, err)
	}

	var onChain chainStateView
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &onChain); err != nil {
			return false, "", apierr.Wrap(apierr.KindChain, apierr.CodeChainError, err)
		}
	}
	onChainState := matchfsm.State(onChain.State)

	now := s.clock()
	entry := store.ReconciliationLogEntry{
		ID:            s.idGen(),
		MatchID:       matchID,
		CheckedAt:     now,
		OffChainState: m.State,
		OnChainState:  string(onChainState),
	}

	if onChainState == "" || onChainState == m.State {
		entry.IsDivergent = false
		if err := s.store.WithTx(ctx, func(tx store.Tx) error { return tx.AppendReconciliationLog(ctx, entry) }); err != nil {
			return false, "", err
		}
		observability.MatchAuthority().RecordDivergence("")
		return true, "synchronized", nil
	}

	entry.IsDivergent = true

	if !matchfsm.IsSuccessor(m.State, onChainState) {
		entry.ResolutionAction = "manual"
		if err := s.store.WithTx(ctx, func(tx store.Tx) error { return tx.AppendReconciliationLog(ctx, entry) }); err != nil {
			return false, "", err
		}
		observability.MatchAuthority().RecordDivergence("manual")
		return false, "divergent: manual review required", nil
	}

	entry.ResolutionAction = "auto_forward"
	if err := s.store.WithTx(ctx, func(tx store.Tx) error { return tx.AppendReconciliationLog(ctx, entry) }); err != nil {
		return false, "", err
	}
	observability.MatchAuthority().RecordDivergence("auto_forward")

	lock, err := s.store.LockMatch(ctx, matchID)
	if err != nil {
		return false, "", err
	}
	defer lock.Unlock(ctx)

	fresh, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return false, "", err
	}
	if fresh.State == onChainState {
		// already repaired by a concurrent reconcile pass
		resolvedAt := now
		synced := entry
		synced.ID = s.idGen()
		synced.IsDivergent = false
		synced.ResolutionAction = "already_synchronized"
		synced.ResolvedAt = &resolvedAt
		_ = s.store.WithTx(ctx, func(tx store.Tx) error { return tx.AppendReconciliationLog(ctx, synced) })
		return true, "synchronized", nil
	}

	updated := *fresh
	updated.State = onChainState

	transition := store.MatchTransition{
		ID:        s.idGen(),
		MatchID:   matchID,
		FromState: fresh.State,
		ToState:   onChainState,
		Actor:     "reconciler",
		Timestamp: now,
	}

	resolvedAt := now
	synced := entry
	synced.ID = s.idGen()
	synced.IsDivergent = false
	synced.ResolvedAt = &resolvedAt

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.UpdateMatch(ctx, updated); err != nil {
			return err
		}
		if err := tx.AppendTransition(ctx, transition); err != nil {
			return err
		}
		return tx.AppendReconciliationLog(ctx, synced)
	})
	if err != nil {
		return false, "", err
	}

	s.publisher.Publish(events.Event{
		ID:        s.idGen(),
		Type:      events.TypeMatchStateChanged,
		Subject:   matchID,
		MatchID:   matchID,
		Timestamp: now,
		Delta:     map[string]any{"from_state": string(fresh.State), "to_state": string(onChainState), "actor": "reconciler"},
	})

	return true, "divergence repaired: database advanced to " + string(onChainState), nil
}

// Reconciler periodically runs ReconcileMatch over every non-terminal match
// (spec §4.2 "Reconciliation"), on the interval from config.
type Reconciler struct {
	service  *Service
	store    store.Store
	interval time.Duration
}

// NewReconciler constructs a Reconciler.
func NewReconciler(service *Service, st store.Store, interval time.Duration) *Reconciler {
	return &Reconciler{service: service, store: st, interval: interval}
}

// Run blocks, executing one reconciliation pass per tick until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Reconciler) runOnce(ctx context.Context) {
	matches, err := r.store.ListNonTerminalMatches(ctx)
	if err != nil {
		return
	}
	for _, m := range matches {
		_, _, _ = r.service.ReconcileMatch(ctx, m.ID)
	}
}

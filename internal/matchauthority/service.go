// Package matchauthority implements the Match Authority Service (spec C4):
// the per-request orchestration of idempotency gate → FSM validate → chain
// invoke → durable persist → event emit, plus the background reconciler and
// chain-sync poller (§4.2, §4.3).
package matchauthority

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"matchguard/internal/apierr"
	"matchguard/internal/chain"
	"matchguard/internal/events"
	"matchguard/internal/matchfsm"
	"matchguard/internal/store"
	"matchguard/observability"
)

const operationCreateMatch = "create_match"

// Service is the Match Authority Service (spec C4).
type Service struct {
	store                   store.Store
	chain                   chain.Gateway
	publisher               events.Publisher
	settlement              Settlement
	idGen                   func() string
	clock                   func() time.Time
	inFlightTTL             time.Duration
	finalizerRequiredStates []matchfsm.State
}

// Option customizes Service construction, following the teacher's functional
// options style used across services/payoutd.
type Option func(*Service)

// WithClock overrides the time source, used by tests.
func WithClock(fn func() time.Time) Option { return func(s *Service) { s.clock = fn } }

// WithIDGenerator overrides the opaque-id generator, used by tests wanting
// deterministic ids.
func WithIDGenerator(fn func() string) Option { return func(s *Service) { s.idGen = fn } }

// WithFinalizerRequiredStates overrides the states finalize_match accepts a
// transition from (spec §6.5 finalizer_required_state). Unknown states are
// dropped; an empty result leaves the built-in default in place.
func WithFinalizerRequiredStates(states []string) Option {
	return func(s *Service) {
		var parsed []matchfsm.State
		for _, raw := range states {
			st := matchfsm.State(raw)
			if st.Valid() {
				parsed = append(parsed, st)
			}
		}
		if len(parsed) > 0 {
			s.finalizerRequiredStates = parsed
		}
	}
}

// New constructs a Service. settlement may be NoopSettlement{} when the
// caller wires finalize fan-out through events instead.
func New(st store.Store, gw chain.Gateway, pub events.Publisher, settlement Settlement, inFlightTTL time.Duration, opts ...Option) *Service {
	s := &Service{
		store:                   st,
		chain:                   gw,
		publisher:               pub,
		settlement:              settlement,
		idGen:                   uuid.NewString,
		clock:                   time.Now,
		inFlightTTL:             inFlightTTL,
		finalizerRequiredStates: []matchfsm.State{matchfsm.Completed, matchfsm.Disputed},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MatchView is the entity + history returned by get_match and echoed by
// every mutating operation (spec §6.1 "match + transitions").
type MatchView struct {
	Match       store.Match
	Transitions []store.MatchTransition
}

// CreateMatchInput is the create_match request (spec §4.2).
type CreateMatchInput struct {
	PlayerA        string
	PlayerB        string
	IdempotencyKey string
}

func fingerprint(v any) string {
	b, _ := json.Marshal(v)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// CreateMatch implements the create_match operation (spec §4.2).
func (s *Service) CreateMatch(ctx context.Context, in CreateMatchInput) (view MatchView, err error) {
	start := s.clock()
	defer func() { observability.MatchAuthority().Observe(operationCreateMatch, err, s.clock().Sub(start)) }()

	if in.PlayerA == "" || in.PlayerB == "" {
		return MatchView{}, apierr.New(apierr.KindValidation, apierr.CodeInvalidInput, "player ids must be non-empty")
	}
	if in.PlayerA == in.PlayerB {
		return MatchView{}, apierr.New(apierr.KindValidation, apierr.CodeInvalidInput, "player_a and player_b must differ")
	}

	for _, player := range []string{in.PlayerA, in.PlayerB} {
		banned, err := s.store.HasPermanentBan(ctx, player)
		if err != nil {
			return MatchView{}, err
		}
		if banned {
			return MatchView{}, apierr.New(apierr.KindAuth, apierr.CodeSubjectPermanentlyBanned, fmt.Sprintf("%s is permanently banned", player))
		}
	}

	fp := fingerprint(in)

	if in.IdempotencyKey != "" {
		replay, err := s.checkIdempotency(ctx, in.IdempotencyKey, fp)
		if err != nil {
			return MatchView{}, err
		}
		if replay != nil {
			var view MatchView
			if err := json.Unmarshal(replay, &view); err != nil {
				return MatchView{}, apierr.Wrap(apierr.KindStore, apierr.CodeInternal, err)
			}
			return view, nil
		}
		if err := s.beginInFlight(ctx, in.IdempotencyKey, operationCreateMatch, fp); err != nil {
			return MatchView{}, err
		}
	}

	argsJSON, _ := json.Marshal(map[string]string{"player_a": in.PlayerA, "player_b": in.PlayerB})
	res, err := s.chain.Invoke(ctx, "match_authority", operationCreateMatch, argsJSON, "system")
	if err != nil {
		if in.IdempotencyKey != "" {
			_ = s.completeIdempotencyWithError(ctx, in.IdempotencyKey, err)
		}
		return MatchView{}, apierr.Wrap(apierr.KindChain, apierr.CodeChainError, err)
	}

	now := s.clock()
	m := store.Match{
		ID:             s.idGen(),
		PlayerA:        in.PlayerA,
		PlayerB:        in.PlayerB,
		State:          matchfsm.Created,
		CreatedAt:      now,
		LastChainTxRef: res.Hash,
	}
	if in.IdempotencyKey != "" {
		key := in.IdempotencyKey
		m.IdempotencyKey = &key
	}

	transition := store.MatchTransition{
		ID:         s.idGen(),
		MatchID:    m.ID,
		FromState:  "",
		ToState:    matchfsm.Created,
		Actor:      "system",
		Timestamp:  now,
		ChainTxRef: res.Hash,
	}
	sync := store.ChainSyncRecord{
		ID:            s.idGen(),
		MatchID:       m.ID,
		OperationName: operationCreateMatch,
		TxReference:   res.Hash,
		TxStatus:      store.TxStatus(res.Status),
		SubmittedAt:   now,
	}

	view = MatchView{Match: m, Transitions: []store.MatchTransition{transition}}
	payload, _ := json.Marshal(view)

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.PutMatch(ctx, m); err != nil {
			return err
		}
		if err := tx.AppendTransition(ctx, transition); err != nil {
			return err
		}
		if err := tx.AppendChainSync(ctx, sync); err != nil {
			return err
		}
		if in.IdempotencyKey != "" {
			if err := tx.UpdateIdempotencyRecord(ctx, in.IdempotencyKey, store.IdempotencyCompleted, payload); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return MatchView{}, err
	}

	s.publisher.Publish(events.Event{
		ID:        s.idGen(),
		Type:      events.TypeMatchCreated,
		Subject:   m.ID,
		MatchID:   m.ID,
		Timestamp: now,
		Delta:     map[string]any{"state": string(matchfsm.Created)},
	})

	return view, nil
}

// transitionOp bundles the shared shape of start/complete/dispute/finalize.
type transitionOp struct {
	requiredFrom []matchfsm.State
	target       matchfsm.State
	chainFn      string
	eventType    string
	actor        string
}

func (s *Service) runTransition(ctx context.Context, matchID string, op transitionOp, chainArgs map[string]any, mutate func(*store.Match)) (view MatchView, err error) {
	start := s.clock()
	defer func() { observability.MatchAuthority().Observe(op.chainFn, err, s.clock().Sub(start)) }()

	lock, err := s.store.LockMatch(ctx, matchID)
	if err != nil {
		return MatchView{}, err
	}
	defer lock.Unlock(ctx)

	m, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return MatchView{}, err
	}

	if m.State == op.target {
		// Self-loop: the operation already completed, spec §4.1's "any S → S
		// is a legal no-op for idempotency". Return current state without a
		// second chain call.
		transitions, err := s.store.ListTransitions(ctx, matchID)
		if err != nil {
			return MatchView{}, err
		}
		return MatchView{Match: *m, Transitions: transitions}, nil
	}

	allowed := false
	for _, from := range op.requiredFrom {
		if m.State == from {
			allowed = true
			break
		}
	}
	if !allowed {
		return MatchView{}, apierr.New(apierr.KindFSM, apierr.CodeInvalidTransition, fmt.Sprintf("cannot run %s from state %s", op.chainFn, m.State))
	}
	if err := matchfsm.Validate(m.State, op.target); err != nil {
		return MatchView{}, err
	}

	argsJSON, _ := json.Marshal(chainArgs)
	res, err := s.chain.Invoke(ctx, "match_authority", op.chainFn, argsJSON, "system")
	if err != nil {
		return MatchView{}, apierr.Wrap(apierr.KindChain, apierr.CodeChainError, err)
	}

	now := s.clock()
	fromState := m.State
	updated := *m
	updated.State = op.target
	updated.LastChainTxRef = res.Hash
	if mutate != nil {
		mutate(&updated)
	}

	transition := store.MatchTransition{
		ID:         s.idGen(),
		MatchID:    matchID,
		FromState:  fromState,
		ToState:    op.target,
		Actor:      op.actor,
		Timestamp:  now,
		ChainTxRef: res.Hash,
	}
	sync := store.ChainSyncRecord{
		ID:            s.idGen(),
		MatchID:       matchID,
		OperationName: op.chainFn,
		TxReference:   res.Hash,
		TxStatus:      store.TxStatus(res.Status),
		SubmittedAt:   now,
	}

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.UpdateMatch(ctx, updated); err != nil {
			return err
		}
		if err := tx.AppendTransition(ctx, transition); err != nil {
			return err
		}
		return tx.AppendChainSync(ctx, sync)
	})
	if err != nil {
		return MatchView{}, err
	}

	s.publisher.Publish(events.Event{
		ID:        s.idGen(),
		Type:      op.eventType,
		Subject:   matchID,
		MatchID:   matchID,
		Timestamp: now,
		Delta:     map[string]any{"from_state": string(fromState), "to_state": string(op.target)},
	})
	s.publisher.Publish(events.Event{
		ID:        s.idGen(),
		Type:      events.TypeMatchStateChanged,
		Subject:   matchID,
		MatchID:   matchID,
		Timestamp: now,
		Delta:     map[string]any{"from_state": string(fromState), "to_state": string(op.target)},
	})

	if op.target == matchfsm.Finalized {
		winner := ""
		if updated.Winner != nil {
			winner = *updated.Winner
		}
		if err := s.settlement.Settle(ctx, matchID, winner); err != nil {
			return MatchView{}, apierr.Wrap(apierr.KindStore, apierr.CodeInternal, err)
		}
	}

	transitions, err := s.store.ListTransitions(ctx, matchID)
	if err != nil {
		return MatchView{}, err
	}
	return MatchView{Match: updated, Transitions: transitions}, nil
}

// StartMatch implements start_match (spec §4.2).
func (s *Service) StartMatch(ctx context.Context, matchID string) (MatchView, error) {
	return s.runTransition(ctx, matchID, transitionOp{
		requiredFrom: []matchfsm.State{matchfsm.Created},
		target:       matchfsm.Started,
		chainFn:      "start_match",
		eventType:    events.TypeMatchStarted,
		actor:        "system",
	}, map[string]any{"match_id": matchID}, func(m *store.Match) {
		now := s.clock()
		m.StartedAt = &now
	})
}

// CompleteMatch implements complete_match (spec §4.2).
func (s *Service) CompleteMatch(ctx context.Context, matchID, winner string) (MatchView, error) {
	m, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return MatchView{}, err
	}
	if winner != m.PlayerA && winner != m.PlayerB {
		return MatchView{}, apierr.New(apierr.KindValidation, apierr.CodeInvalidWinner, "winner must be one of the two players")
	}

	return s.runTransition(ctx, matchID, transitionOp{
		requiredFrom: []matchfsm.State{matchfsm.Started},
		target:       matchfsm.Completed,
		chainFn:      "complete_match",
		eventType:    events.TypeMatchCompleted,
		actor:        "system",
	}, map[string]any{"match_id": matchID, "winner": winner}, func(mm *store.Match) {
		w := winner
		mm.Winner = &w
	})
}

// RaiseDispute implements raise_dispute (spec §4.2).
func (s *Service) RaiseDispute(ctx context.Context, matchID, actor, reason string) (MatchView, error) {
	m, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return MatchView{}, err
	}
	if actor != m.PlayerA && actor != m.PlayerB {
		return MatchView{}, apierr.New(apierr.KindAuth, apierr.CodeUnauthorized, "actor must be a participant")
	}

	return s.runTransition(ctx, matchID, transitionOp{
		requiredFrom: []matchfsm.State{matchfsm.Completed},
		target:       matchfsm.Disputed,
		chainFn:      "raise_dispute",
		eventType:    events.TypeMatchDisputed,
		actor:        actor,
	}, map[string]any{"match_id": matchID, "actor": actor, "reason": reason}, nil)
}

// FinalizeMatch implements finalize_match (spec §4.2).
func (s *Service) FinalizeMatch(ctx context.Context, matchID string) (MatchView, error) {
	return s.runTransition(ctx, matchID, transitionOp{
		requiredFrom: s.finalizerRequiredStates,
		target:       matchfsm.Finalized,
		chainFn:      "finalize_match",
		eventType:    events.TypeMatchFinalized,
		actor:        "system",
	}, map[string]any{"match_id": matchID}, func(m *store.Match) {
		now := s.clock()
		m.EndedAt = &now
	})
}

// GetMatch implements get_match (spec §4.2).
func (s *Service) GetMatch(ctx context.Context, matchID string) (MatchView, error) {
	m, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return MatchView{}, err
	}
	transitions, err := s.store.ListTransitions(ctx, matchID)
	if err != nil {
		return MatchView{}, err
	}
	return MatchView{Match: *m, Transitions: transitions}, nil
}

// checkIdempotency returns a non-nil payload when the key is already
// completed, matching the request fingerprint. A completed record with a
// different fingerprint is an idempotency conflict, not a cache hit.
func (s *Service) checkIdempotency(ctx context.Context, key, fp string) ([]byte, error) {
	rec, err := s.store.GetIdempotencyRecord(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	if rec.Status == store.IdempotencyInFlight {
		if s.clock().Sub(rec.CreatedAt) > s.inFlightTTL {
			return nil, nil // stale in-flight record, caller proceeds to re-acquire it
		}
		return nil, apierr.New(apierr.KindIdempotency, apierr.CodeConflictInFlight, "request with this idempotency key is already in flight")
	}
	if rec.RequestFingerprint != fp {
		return nil, apierr.New(apierr.KindIdempotency, apierr.CodeDuplicateIdempotent, "idempotency key reused with a different request payload")
	}
	return rec.ResponsePayload, nil
}

func (s *Service) beginInFlight(ctx context.Context, key, operation, fp string) error {
	return s.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.PutIdempotencyRecord(ctx, store.IdempotencyRecord{
			Key:                key,
			OperationName:      operation,
			Status:             store.IdempotencyInFlight,
			RequestFingerprint: fp,
			CreatedAt:          s.clock(),
		})
	})
}

func (s *Service) completeIdempotencyWithError(ctx context.Context, key string, cause error) error {
	payload, _ := json.Marshal(map[string]string{"error": cause.Error()})
	return s.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.UpdateIdempotencyRecord(ctx, key, store.IdempotencyCompleted, payload)
	})
}

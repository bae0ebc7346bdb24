// Package memstore is an in-memory store.Store used by unit tests across the
// core packages, mirroring the shape of gormstore without a database
// (spec §9 "Testing uses in-memory fakes").
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"matchguard/internal/apierr"
	"matchguard/internal/store"
)

// Store is a mutex-guarded in-memory implementation of store.Store. All
// writes happen through WithTx so callers exercise the same transactional
// shape as gormstore; there is no real rollback-on-conflict since memstore
// never serves concurrent test writers to the same key.
type Store struct {
	mu sync.Mutex

	matches       map[string]store.Match
	transitions   map[string][]store.MatchTransition
	chainSync     map[string]store.ChainSyncRecord
	reconLog      map[string][]store.ReconciliationLogEntry
	idempotency   map[string]store.IdempotencyRecord
	signers       map[string]store.Signer
	threshold     int
	initialized   bool
	proposals     map[string]store.GovernanceProposal
	approvals     map[string]map[string]store.GovernanceApproval // proposalID -> signer -> approval
	executionGuard map[string]bool
	cases         map[string]store.SlashCase
	caseGuard     map[string]bool
	bans          map[string]store.BanRecord
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		matches:        map[string]store.Match{},
		transitions:    map[string][]store.MatchTransition{},
		chainSync:      map[string]store.ChainSyncRecord{},
		reconLog:       map[string][]store.ReconciliationLogEntry{},
		idempotency:    map[string]store.IdempotencyRecord{},
		signers:        map[string]store.Signer{},
		proposals:      map[string]store.GovernanceProposal{},
		approvals:      map[string]map[string]store.GovernanceApproval{},
		executionGuard: map[string]bool{},
		cases:          map[string]store.SlashCase{},
		caseGuard:      map[string]bool{},
		bans:           map[string]store.BanRecord{},
	}
}

// noopLock satisfies store.AdvisoryLock; memstore serializes everything with
// a single mutex already held for the WithTx duration.
type noopLock struct{}

func (noopLock) Unlock(context.Context) error { return nil }

func (s *Store) LockMatch(context.Context, string) (store.AdvisoryLock, error)    { return noopLock{}, nil }
func (s *Store) LockProposal(context.Context, string) (store.AdvisoryLock, error) { return noopLock{}, nil }
func (s *Store) LockCase(context.Context, string) (store.AdvisoryLock, error)     { return noopLock{}, nil }

func (s *Store) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&tx{s: s})
}

func notFound(what string) error {
	return apierr.New(apierr.KindNotFound, apierr.CodeNotFound, what+" not found")
}

func (s *Store) GetMatch(_ context.Context, matchID string) (*store.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[matchID]
	if !ok {
		return nil, notFound("match")
	}
	return &m, nil
}

func (s *Store) GetMatchByIdempotencyKey(_ context.Context, key string) (*store.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.matches {
		if m.IdempotencyKey != nil && *m.IdempotencyKey == key {
			cp := m
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) ListTransitions(_ context.Context, matchID string) ([]store.MatchTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]store.MatchTransition{}, s.transitions[matchID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *Store) ListPendingChainSync(_ context.Context, limit int) ([]store.ChainSyncRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.ChainSyncRecord
	for _, c := range s.chainSync {
		if c.TxStatus == store.TxPending {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListNonTerminalMatches(_ context.Context) ([]store.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Match
	for _, m := range s.matches {
		if m.State != "Finalized" {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) GetIdempotencyRecord(_ context.Context, key string) (*store.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.idempotency[key]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *Store) GarbageCollectStaleInFlight(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, r := range s.idempotency {
		if r.Status == store.IdempotencyInFlight && r.CreatedAt.Before(olderThan) {
			delete(s.idempotency, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) GetProposal(_ context.Context, proposalID string) (*store.GovernanceProposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[proposalID]
	if !ok {
		return nil, notFound("proposal")
	}
	return &p, nil
}

func (s *Store) ListApprovals(_ context.Context, proposalID string) ([]store.GovernanceApproval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.GovernanceApproval
	for _, a := range s.approvals[proposalID] {
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) ListSigners(_ context.Context) ([]store.Signer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Signer
	for _, sg := range s.signers {
		if sg.Active {
			out = append(out, sg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *Store) GetThreshold(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threshold, nil
}

func (s *Store) IsInitialized(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized, nil
}

func (s *Store) IsExecutionGuardSet(_ context.Context, proposalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executionGuard[proposalID], nil
}

func (s *Store) GetSlashCase(_ context.Context, caseID string) (*store.SlashCase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[caseID]
	if !ok {
		return nil, notFound("slash case")
	}
	return &c, nil
}

func (s *Store) IsCaseExecutionGuardSet(_ context.Context, caseID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caseGuard[caseID], nil
}

func (s *Store) IsBanned(_ context.Context, subject string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bans[subject]
	if !ok {
		return false, nil
	}
	if b.IsPermanent {
		return true, nil
	}
	return b.ExpiresAt != nil && b.ExpiresAt.After(now), nil
}

func (s *Store) HasPermanentBan(_ context.Context, subject string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bans[subject]
	return ok && b.IsPermanent, nil
}

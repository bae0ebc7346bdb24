package memstore

import (
	"context"
	"sort"
	"time"

	"matchguard/internal/store"
)

// tx implements store.Tx directly against the parent Store's maps. Callers
// already hold s.mu for the duration of the enclosing WithTx call.
type tx struct{ s *Store }

func (t *tx) PutIdempotencyRecord(_ context.Context, rec store.IdempotencyRecord) error {
	t.s.idempotency[rec.Key] = rec
	return nil
}

func (t *tx) UpdateIdempotencyRecord(_ context.Context, key string, status store.IdempotencyStatus, response []byte) error {
	rec, ok := t.s.idempotency[key]
	if !ok {
		return nil
	}
	now := time.Now()
	rec.Status = status
	rec.ResponsePayload = response
	rec.CompletedAt = &now
	t.s.idempotency[key] = rec
	return nil
}

func (t *tx) PutMatch(_ context.Context, m store.Match) error {
	t.s.matches[m.ID] = m
	return nil
}

func (t *tx) UpdateMatch(_ context.Context, m store.Match) error {
	t.s.matches[m.ID] = m
	return nil
}

func (t *tx) AppendTransition(_ context.Context, tr store.MatchTransition) error {
	t.s.transitions[tr.MatchID] = append(t.s.transitions[tr.MatchID], tr)
	return nil
}

func (t *tx) AppendChainSync(_ context.Context, c store.ChainSyncRecord) error {
	t.s.chainSync[c.ID] = c
	return nil
}

func (t *tx) UpdateChainSyncStatus(_ context.Context, id string, status store.TxStatus, confirmedAt *time.Time, blockHeight *int64, retryCount int, errMsg string) error {
	c, ok := t.s.chainSync[id]
	if !ok {
		return nil
	}
	c.TxStatus = status
	c.ConfirmedAt = confirmedAt
	c.BlockHeight = blockHeight
	c.RetryCount = retryCount
	c.ErrorMessage = errMsg
	t.s.chainSync[id] = c
	return nil
}

func (t *tx) AppendReconciliationLog(_ context.Context, r store.ReconciliationLogEntry) error {
	t.s.reconLog[r.MatchID] = append(t.s.reconLog[r.MatchID], r)
	return nil
}

func (t *tx) InitializeSigners(_ context.Context, signers []string, threshold int) error {
	for i, addr := range signers {
		t.s.signers[addr] = store.Signer{Address: addr, Position: i, Active: true}
	}
	t.s.threshold = threshold
	t.s.initialized = true
	return nil
}

func (t *tx) PutProposal(_ context.Context, p store.GovernanceProposal) error {
	t.s.proposals[p.ProposalID] = p
	return nil
}

func (t *tx) UpdateProposal(_ context.Context, p store.GovernanceProposal) error {
	t.s.proposals[p.ProposalID] = p
	return nil
}

func (t *tx) PutApproval(_ context.Context, a store.GovernanceApproval) error {
	if t.s.approvals[a.ProposalID] == nil {
		t.s.approvals[a.ProposalID] = map[string]store.GovernanceApproval{}
	}
	t.s.approvals[a.ProposalID][a.Signer] = a
	return nil
}

func (t *tx) DeleteApproval(_ context.Context, proposalID, signer string) error {
	delete(t.s.approvals[proposalID], signer)
	return nil
}

func (t *tx) SetExecutionGuard(_ context.Context, proposalID string) error {
	t.s.executionGuard[proposalID] = true
	return nil
}

func (t *tx) PutSigner(_ context.Context, sg store.Signer) error {
	t.s.signers[sg.Address] = sg
	return nil
}

func (t *tx) RemoveSigner(_ context.Context, address string) error {
	sg, ok := t.s.signers[address]
	if !ok {
		return nil
	}
	sg.Active = false
	t.s.signers[address] = sg
	return nil
}

func (t *tx) SetThreshold(_ context.Context, threshold int) error {
	t.s.threshold = threshold
	return nil
}

func (t *tx) PutSlashCase(_ context.Context, c store.SlashCase) error {
	t.s.cases[c.CaseID] = c
	return nil
}

func (t *tx) UpdateSlashCase(_ context.Context, c store.SlashCase) error {
	t.s.cases[c.CaseID] = c
	return nil
}

func (t *tx) SetCaseExecutionGuard(_ context.Context, caseID string) error {
	t.s.caseGuard[caseID] = true
	return nil
}

func (t *tx) PutBanRecord(_ context.Context, b store.BanRecord) error {
	t.s.bans[b.Subject] = b
	return nil
}

// The Get*/List* methods below read directly from the parent Store's maps
// rather than calling its exported methods, which would re-acquire s.mu and
// deadlock: the enclosing WithTx call already holds it for the transaction's
// duration.

func (t *tx) GetMatch(_ context.Context, matchID string) (*store.Match, error) {
	m, ok := t.s.matches[matchID]
	if !ok {
		return nil, notFound("match")
	}
	return &m, nil
}

func (t *tx) GetProposal(_ context.Context, proposalID string) (*store.GovernanceProposal, error) {
	p, ok := t.s.proposals[proposalID]
	if !ok {
		return nil, notFound("proposal")
	}
	return &p, nil
}

func (t *tx) GetSlashCase(_ context.Context, caseID string) (*store.SlashCase, error) {
	c, ok := t.s.cases[caseID]
	if !ok {
		return nil, notFound("slash case")
	}
	return &c, nil
}

func (t *tx) ListApprovals(_ context.Context, proposalID string) ([]store.GovernanceApproval, error) {
	var out []store.GovernanceApproval
	for _, a := range t.s.approvals[proposalID] {
		out = append(out, a)
	}
	return out, nil
}

func (t *tx) ListSigners(_ context.Context) ([]store.Signer, error) {
	var out []store.Signer
	for _, sg := range t.s.signers {
		if sg.Active {
			out = append(out, sg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

package gormstore

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"matchguard/internal/apierr"
	"matchguard/internal/store"
)

// txHandle implements store.Tx over a single *gorm.DB transaction.
type txHandle struct {
	db *gorm.DB
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	return apierr.Wrap(apierr.KindStore, apierr.CodeInternal, err)
}

func (t *txHandle) PutIdempotencyRecord(ctx context.Context, rec store.IdempotencyRecord) error {
	row := MatchOperation{
		Key:                rec.Key,
		OperationName:      rec.OperationName,
		Status:             string(rec.Status),
		RequestFingerprint: rec.RequestFingerprint,
		ResponsePayload:    rec.ResponsePayload,
		CreatedAt:          rec.CreatedAt,
		CompletedAt:        rec.CompletedAt,
	}
	return wrapErr(t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"operation_name", "status", "request_fingerprint", "created_at", "completed_at"}),
	}).Create(&row).Error)
}

func (t *txHandle) UpdateIdempotencyRecord(ctx context.Context, key string, status store.IdempotencyStatus, response []byte) error {
	now := time.Now()
	return wrapErr(t.db.WithContext(ctx).Model(&MatchOperation{}).Where("key = ?", key).Updates(map[string]any{
		"status":           string(status),
		"response_payload": response,
		"completed_at":     &now,
	}).Error)
}

func (t *txHandle) PutMatch(ctx context.Context, m store.Match) error {
	return wrapErr(t.db.WithContext(ctx).Create(ptrFromDomainMatch(m)).Error)
}

func (t *txHandle) UpdateMatch(ctx context.Context, m store.Match) error {
	return wrapErr(t.db.WithContext(ctx).Save(ptrFromDomainMatch(m)).Error)
}

func ptrFromDomainMatch(m store.Match) *Match {
	row := fromDomainMatch(m)
	return &row
}

func (t *txHandle) AppendTransition(ctx context.Context, tr store.MatchTransition) error {
	row := MatchTransition{
		ID:         tr.ID,
		MatchID:    tr.MatchID,
		FromState:  string(tr.FromState),
		ToState:    string(tr.ToState),
		Actor:      tr.Actor,
		Timestamp:  tr.Timestamp,
		ChainTxRef: tr.ChainTxRef,
		Metadata:   marshalMeta(tr.Metadata),
		Error:      tr.Error,
	}
	return wrapErr(t.db.WithContext(ctx).Create(&row).Error)
}

func (t *txHandle) AppendChainSync(ctx context.Context, c store.ChainSyncRecord) error {
	row := MatchChainSync{
		ID:            c.ID,
		MatchID:       c.MatchID,
		OperationName: c.OperationName,
		TxReference:   c.TxReference,
		TxStatus:      string(c.TxStatus),
		SubmittedAt:   c.SubmittedAt,
		ConfirmedAt:   c.ConfirmedAt,
		BlockHeight:   c.BlockHeight,
		RetryCount:    c.RetryCount,
		ErrorMessage:  c.ErrorMessage,
	}
	return wrapErr(t.db.WithContext(ctx).Create(&row).Error)
}

func (t *txHandle) UpdateChainSyncStatus(ctx context.Context, id string, status store.TxStatus, confirmedAt *time.Time, blockHeight *int64, retryCount int, errMsg string) error {
	return wrapErr(t.db.WithContext(ctx).Model(&MatchChainSync{}).Where("id = ?", id).Updates(map[string]any{
		"tx_status":     string(status),
		"confirmed_at":  confirmedAt,
		"block_height":  blockHeight,
		"retry_count":   retryCount,
		"error_message": errMsg,
	}).Error)
}

func (t *txHandle) AppendReconciliationLog(ctx context.Context, r store.ReconciliationLogEntry) error {
	row := MatchReconciliationLog{
		ID:               r.ID,
		MatchID:          r.MatchID,
		CheckedAt:        r.CheckedAt,
		OffChainState:    string(r.OffChainState),
		OnChainState:     r.OnChainState,
		IsDivergent:      r.IsDivergent,
		ResolutionAction: r.ResolutionAction,
		ResolvedAt:       r.ResolvedAt,
	}
	return wrapErr(t.db.WithContext(ctx).Create(&row).Error)
}

func (t *txHandle) InitializeSigners(ctx context.Context, signers []string, threshold int) error {
	for i, addr := range signers {
		row := GovernanceSigner{Address: addr, Position: i, Active: true}
		if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
			return wrapErr(err)
		}
	}
	thresholdRow := GovernanceThreshold{Singleton: true, Threshold: threshold}
	return wrapErr(t.db.WithContext(ctx).Create(&thresholdRow).Error)
}

func (t *txHandle) PutProposal(ctx context.Context, p store.GovernanceProposal) error {
	row := GovernanceProposal{
		ProposalID:     p.ProposalID,
		TargetContract: p.TargetContract,
		FunctionName:   p.FunctionName,
		EncodedArgs:    p.EncodedArgs,
		Proposer:       p.Proposer,
		Status:         string(p.Status),
		ApprovalCount:  p.ApprovalCount,
		CreatedAt:      p.CreatedAt,
		ExecuteAfter:   p.ExecuteAfter,
		ExecutedAt:     p.ExecutedAt,
		Expiry:         p.Expiry,
	}
	return wrapErr(t.db.WithContext(ctx).Create(&row).Error)
}

func (t *txHandle) UpdateProposal(ctx context.Context, p store.GovernanceProposal) error {
	return wrapErr(t.db.WithContext(ctx).Model(&GovernanceProposal{}).Where("proposal_id = ?", p.ProposalID).Updates(map[string]any{
		"status":         string(p.Status),
		"approval_count": p.ApprovalCount,
		"execute_after":  p.ExecuteAfter,
		"executed_at":    p.ExecutedAt,
	}).Error)
}

func (t *txHandle) PutApproval(ctx context.Context, a store.GovernanceApproval) error {
	row := GovernanceApproval{ProposalID: a.ProposalID, Signer: a.Signer, ApprovedAt: a.ApprovedAt}
	return wrapErr(t.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error)
}

func (t *txHandle) DeleteApproval(ctx context.Context, proposalID, signer string) error {
	return wrapErr(t.db.WithContext(ctx).Where("proposal_id = ? AND signer = ?", proposalID, signer).Delete(&GovernanceApproval{}).Error)
}

func (t *txHandle) SetExecutionGuard(ctx context.Context, proposalID string) error {
	return wrapErr(t.db.WithContext(ctx).Model(&GovernanceProposal{}).Where("proposal_id = ?", proposalID).Update("execution_guard", true).Error)
}

func (t *txHandle) PutSigner(ctx context.Context, s store.Signer) error {
	row := GovernanceSigner{Address: s.Address, Position: s.Position, Active: s.Active}
	return wrapErr(t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"position", "active"}),
	}).Create(&row).Error)
}

func (t *txHandle) RemoveSigner(ctx context.Context, address string) error {
	return wrapErr(t.db.WithContext(ctx).Model(&GovernanceSigner{}).Where("address = ?", address).Update("active", false).Error)
}

func (t *txHandle) SetThreshold(ctx context.Context, threshold int) error {
	return wrapErr(t.db.WithContext(ctx).Model(&GovernanceThreshold{}).Where("singleton = ?", true).Update("threshold", threshold).Error)
}

func (t *txHandle) PutSlashCase(ctx context.Context, c store.SlashCase) error {
	approvers, _ := json.Marshal(c.Approvers)
	row := SlashCase{
		CaseID:       c.CaseID,
		Subject:      c.Subject,
		Initiator:    c.Initiator,
		ReasonCode:   c.ReasonCode,
		EvidenceHash: c.EvidenceHash,
		Status:       string(c.Status),
		PenaltyType:  string(c.PenaltyType),
		Amount:       c.Amount,
		Asset:        c.Asset,
		DurationSecs: int64(c.Duration.Seconds()),
		Approvers:    approvers,
		CreatedAt:    c.CreatedAt,
		ResolvedAt:   c.ResolvedAt,
	}
	return wrapErr(t.db.WithContext(ctx).Create(&row).Error)
}

func (t *txHandle) UpdateSlashCase(ctx context.Context, c store.SlashCase) error {
	approvers, _ := json.Marshal(c.Approvers)
	return wrapErr(t.db.WithContext(ctx).Model(&SlashCase{}).Where("case_id = ?", c.CaseID).Updates(map[string]any{
		"status":      string(c.Status),
		"approvers":   approvers,
		"resolved_at": c.ResolvedAt,
	}).Error)
}

func (t *txHandle) SetCaseExecutionGuard(ctx context.Context, caseID string) error {
	return wrapErr(t.db.WithContext(ctx).Model(&SlashCase{}).Where("case_id = ?", caseID).Update("execution_guard", true).Error)
}

func (t *txHandle) PutBanRecord(ctx context.Context, b store.BanRecord) error {
	row := BanRecord{
		Subject:     b.Subject,
		CaseID:      b.CaseID,
		BannedAt:    b.BannedAt,
		IsPermanent: b.IsPermanent,
		ExpiresAt:   b.ExpiresAt,
	}
	return wrapErr(t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subject"}},
		DoUpdates: clause.AssignmentColumns([]string{"case_id", "banned_at", "is_permanent", "expires_at"}),
	}).Create(&row).Error)
}

func (t *txHandle) GetMatch(ctx context.Context, matchID string) (*store.Match, error) {
	var row Match
	if err := t.db.WithContext(ctx).First(&row, "id = ?", matchID).Error; err != nil {
		if rowNotFound(err) {
			return nil, apierr.New(apierr.KindNotFound, apierr.CodeNotFound, "match not found")
		}
		return nil, wrapErr(err)
	}
	return toDomainMatch(row), nil
}

func (t *txHandle) GetProposal(ctx context.Context, proposalID string) (*store.GovernanceProposal, error) {
	var row GovernanceProposal
	if err := t.db.WithContext(ctx).First(&row, "proposal_id = ?", proposalID).Error; err != nil {
		if rowNotFound(err) {
			return nil, apierr.New(apierr.KindNotFound, apierr.CodeNotFound, "proposal not found")
		}
		return nil, wrapErr(err)
	}
	return toDomainProposal(row), nil
}

func (t *txHandle) GetSlashCase(ctx context.Context, caseID string) (*store.SlashCase, error) {
	var row SlashCase
	if err := t.db.WithContext(ctx).First(&row, "case_id = ?", caseID).Error; err != nil {
		if rowNotFound(err) {
			return nil, apierr.New(apierr.KindNotFound, apierr.CodeNotFound, "slash case not found")
		}
		return nil, wrapErr(err)
	}
	return toDomainCase(row), nil
}

func (t *txHandle) ListApprovals(ctx context.Context, proposalID string) ([]store.GovernanceApproval, error) {
	var rows []GovernanceApproval
	if err := t.db.WithContext(ctx).Where("proposal_id = ?", proposalID).Find(&rows).Error; err != nil {
		return nil, wrapErr(err)
	}
	out := make([]store.GovernanceApproval, 0, len(rows))
	for _, r := range rows {
		out = append(out, store.GovernanceApproval{ProposalID: r.ProposalID, Signer: r.Signer, ApprovedAt: r.ApprovedAt})
	}
	return out, nil
}

func (t *txHandle) ListSigners(ctx context.Context) ([]store.Signer, error) {
	var rows []GovernanceSigner
	if err := t.db.WithContext(ctx).Where("active = ?", true).Order("position asc").Find(&rows).Error; err != nil {
		return nil, wrapErr(err)
	}
	out := make([]store.Signer, 0, len(rows))
	for _, r := range rows {
		out = append(out, store.Signer{Address: r.Address, Position: r.Position, Active: r.Active})
	}
	return out, nil
}

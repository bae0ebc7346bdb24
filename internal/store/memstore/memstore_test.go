package memstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"matchguard/internal/apierr"
	"matchguard/internal/matchfsm"
	"matchguard/internal/store"
	"matchguard/internal/store/memstore"
)

func TestPutAndGetMatch(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx store.Tx) error {
		return tx.PutMatch(ctx, store.Match{ID: "m1", PlayerA: "alice", PlayerB: "bob", State: matchfsm.Created, CreatedAt: time.Now()})
	})
	require.NoError(t, err)

	m, err := s.GetMatch(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, "alice", m.PlayerA)
	require.Equal(t, matchfsm.Created, m.State)
}

func TestGetMatchNotFound(t *testing.T) {
	s := memstore.New()
	_, err := s.GetMatch(context.Background(), "missing")
	require.Error(t, err)

	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.KindNotFound, apiErr.Kind)
}

func TestIdempotencyRecordLifecycle(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx store.Tx) error {
		return tx.PutIdempotencyRecord(ctx, store.IdempotencyRecord{
			Key:           "req-1",
			OperationName: "create_match",
			Status:        store.IdempotencyInFlight,
			CreatedAt:     time.Now(),
		})
	})
	require.NoError(t, err)

	rec, err := s.GetIdempotencyRecord(ctx, "req-1")
	require.NoError(t, err)
	require.Equal(t, store.IdempotencyInFlight, rec.Status)

	err = s.WithTx(ctx, func(tx store.Tx) error {
		return tx.UpdateIdempotencyRecord(ctx, "req-1", store.IdempotencyCompleted, []byte(`{"ok":true}`))
	})
	require.NoError(t, err)

	rec, err = s.GetIdempotencyRecord(ctx, "req-1")
	require.NoError(t, err)
	require.Equal(t, store.IdempotencyCompleted, rec.Status)
	require.NotNil(t, rec.CompletedAt)
}

func TestGovernanceSignerLifecycle(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx store.Tx) error {
		return tx.InitializeSigners(ctx, []string{"sig-a", "sig-b", "sig-c"}, 2)
	})
	require.NoError(t, err)

	signers, err := s.ListSigners(ctx)
	require.NoError(t, err)
	require.Len(t, signers, 3)

	threshold, err := s.GetThreshold(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, threshold)

	err = s.WithTx(ctx, func(tx store.Tx) error {
		return tx.RemoveSigner(ctx, "sig-c")
	})
	require.NoError(t, err)

	signers, err = s.ListSigners(ctx)
	require.NoError(t, err)
	require.Len(t, signers, 2)
}

func TestBanRecordPermanence(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx store.Tx) error {
		return tx.PutBanRecord(ctx, store.BanRecord{Subject: "cheater-1", CaseID: "case-1", BannedAt: time.Now(), IsPermanent: true})
	})
	require.NoError(t, err)

	banned, err := s.IsBanned(ctx, "cheater-1", time.Now())
	require.NoError(t, err)
	require.True(t, banned)

	permanent, err := s.HasPermanentBan(ctx, "cheater-1")
	require.NoError(t, err)
	require.True(t, permanent)
}

func TestTemporaryBanExpires(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	expiry := time.Now().Add(-time.Hour)

	err := s.WithTx(ctx, func(tx store.Tx) error {
		return tx.PutBanRecord(ctx, store.BanRecord{Subject: "late-1", CaseID: "case-2", BannedAt: time.Now().Add(-2 * time.Hour), IsPermanent: false, ExpiresAt: &expiry})
	})
	require.NoError(t, err)

	banned, err := s.IsBanned(ctx, "late-1", time.Now())
	require.NoError(t, err)
	require.False(t, banned)
}

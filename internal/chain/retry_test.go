package chain_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"matchguard/config"
	"matchguard/internal/chain"
)

func testRetryConfig() config.RetryConfig {
	return config.RetryConfig{Max: 3, InitialMS: 1, MaxMS: 5, Multiplier: 2}
}

func TestRetryingGatewayRetriesTransientThenSucceeds(t *testing.T) {
	fake := chain.NewFakeGateway()
	fake.SetError("create_match", &chain.TransientError{Cause: errors.New("rpc timeout")})

	gw := chain.NewRetryingGateway(fake, testRetryConfig())
	res, err := gw.Invoke(context.Background(), "match_authority", "create_match", []byte("{}"), "")
	require.NoError(t, err)
	require.NotEmpty(t, res.Hash)
	require.Len(t, fake.Invocations(), 2, "first call fails transiently, second succeeds")
}

func TestRetryingGatewayGivesUpOnDeterministicReject(t *testing.T) {
	fake := chain.NewFakeGateway()
	rejectErr := errors.New("invalid winner")
	fake.SetError("complete_match", rejectErr)

	gw := chain.NewRetryingGateway(fake, testRetryConfig())
	_, err := gw.Invoke(context.Background(), "match_authority", "complete_match", []byte("{}"), "")
	require.Error(t, err)
	require.Equal(t, rejectErr.Error(), err.Error())
	require.Len(t, fake.Invocations(), 1, "a deterministic reject is never retried")
}

func TestFakeGatewayRecordsInvocationsAndContractState(t *testing.T) {
	fake := chain.NewFakeGateway()
	fake.SetContractState("governance_core", "get_proposal", []byte(`{"status":"Approved"}`))

	_, err := fake.Invoke(context.Background(), "governance_core", "approve", []byte(`{"id":"p1"}`), "")
	require.NoError(t, err)

	state, err := fake.GetContractState(context.Background(), "governance_core", "get_proposal", nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"Approved"}`, string(state))

	invs := fake.Invocations()
	require.Len(t, invs, 1)
	require.Equal(t, "approve", invs[0].FunctionName)
}

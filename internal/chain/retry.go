package chain

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"matchguard/config"
)

// RetryingGateway wraps a Gateway with the exponential backoff schedule from
// spec §4.3/§5 (base 1s, multiplier 2, cap 10s, bounded attempts). Only
// transient errors are retried; a deterministic reject from the underlying
// gateway is returned immediately so the caller can record it as a terminal
// chain error (spec §7 "Terminal chain reject").
type RetryingGateway struct {
	inner Gateway
	cfg   config.RetryConfig
}

// NewRetryingGateway constructs a RetryingGateway around inner using cfg's
// backoff schedule.
func NewRetryingGateway(inner Gateway, cfg config.RetryConfig) *RetryingGateway {
	return &RetryingGateway{inner: inner, cfg: cfg}
}

// TransientError marks an error from a Gateway implementation as retryable
// (timeouts, RPC 5xx). Deterministic contract rejects should NOT be wrapped
// in TransientError so the retry loop gives up immediately.
type TransientError struct{ Cause error }

func (t *TransientError) Error() string { return t.Cause.Error() }
func (t *TransientError) Unwrap() error { return t.Cause }

func (g *RetryingGateway) backoffPolicy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Duration(g.cfg.InitialMS) * time.Millisecond
	eb.MaxInterval = time.Duration(g.cfg.MaxMS) * time.Millisecond
	eb.Multiplier = g.cfg.Multiplier
	eb.MaxElapsedTime = 0
	// cfg.Max counts attempts including the first, so Max-1 retries follow it.
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(g.cfg.Max-1)), ctx)
}

func (g *RetryingGateway) Invoke(ctx context.Context, contractID, functionName string, argsJSON []byte, signerSecret string) (InvokeResult, error) {
	var result InvokeResult
	op := func() error {
		res, err := g.inner.Invoke(ctx, contractID, functionName, argsJSON, signerSecret)
		if err != nil {
			var transient *TransientError
			if errors.As(err, &transient) {
				return err
			}
			return backoff.Permanent(err)
		}
		result = res
		return nil
	}
	if err := backoff.Retry(op, g.backoffPolicy(ctx)); err != nil {
		return InvokeResult{}, unwrapPermanent(err)
	}
	return result, nil
}

func (g *RetryingGateway) GetTxStatus(ctx context.Context, hash string) (TxStatus, *int64, error) {
	var status TxStatus
	var height *int64
	op := func() error {
		s, h, err := g.inner.GetTxStatus(ctx, hash)
		if err != nil {
			var transient *TransientError
			if errors.As(err, &transient) {
				return err
			}
			return backoff.Permanent(err)
		}
		status = s
		height = h
		return nil
	}
	if err := backoff.Retry(op, g.backoffPolicy(ctx)); err != nil {
		return "", nil, unwrapPermanent(err)
	}
	return status, height, nil
}

func (g *RetryingGateway) GetContractState(ctx context.Context, contractID, queryFn string, argsJSON []byte) ([]byte, error) {
	var value []byte
	op := func() error {
		v, err := g.inner.GetContractState(ctx, contractID, queryFn, argsJSON)
		if err != nil {
			var transient *TransientError
			if errors.As(err, &transient) {
				return err
			}
			return backoff.Permanent(err)
		}
		value = v
		return nil
	}
	if err := backoff.Retry(op, g.backoffPolicy(ctx)); err != nil {
		return nil, unwrapPermanent(err)
	}
	return value, nil
}

func unwrapPermanent(err error) error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

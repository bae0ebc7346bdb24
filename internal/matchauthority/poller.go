package matchauthority

import (
	"context"
	"time"

	"matchguard/internal/chain"
	"matchguard/internal/store"
)

// MaxChainSyncRetries bounds the poller's attempts before giving up on a
// pending chain-sync row and handing it to the reconciler (spec §4.3).
const MaxChainSyncRetries = 3

// Poller is the ChainSync Poller (spec C-unnamed/§4.3): it scans pending
// chain-sync rows and updates their status by polling the ChainGateway,
// with a bounded worker pool (default 8, spec §5 "Backpressure").
type Poller struct {
	store       store.Store
	chain       chain.Gateway
	interval    time.Duration
	concurrency int
}

// NewPoller constructs a Poller. concurrency <= 0 defaults to 8 per spec §5.
func NewPoller(st store.Store, gw chain.Gateway, interval time.Duration, concurrency int) *Poller {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Poller{store: st, chain: gw, interval: interval, concurrency: concurrency}
}

// Run blocks, executing one poll pass per tick until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

func (p *Poller) runOnce(ctx context.Context) {
	records, err := p.store.ListPendingChainSync(ctx, 0)
	if err != nil {
		return
	}

	sem := make(chan struct{}, p.concurrency)
	done := make(chan struct{}, len(records))
	for _, rec := range records {
		sem <- struct{}{}
		go func(r store.ChainSyncRecord) {
			defer func() { <-sem; done <- struct{}{} }()
			p.pollOne(ctx, r)
		}(rec)
	}
	for range records {
		<-done
	}
}

func (p *Poller) pollOne(ctx context.Context, rec store.ChainSyncRecord) {
	if rec.RetryCount >= MaxChainSyncRetries {
		_ = p.store.WithTx(ctx, func(tx store.Tx) error {
			return tx.UpdateChainSyncStatus(ctx, rec.ID, store.TxFailed, nil, nil, rec.RetryCount, "max retries exceeded")
		})
		return
	}

	status, height, err := p.chain.GetTxStatus(ctx, rec.TxReference)
	if err != nil {
		_ = p.store.WithTx(ctx, func(tx store.Tx) error {
			return tx.UpdateChainSyncStatus(ctx, rec.ID, store.TxPending, nil, nil, rec.RetryCount+1, err.Error())
		})
		return
	}

	switch status {
	case chain.TxSuccess:
		now := time.Now()
		_ = p.store.WithTx(ctx, func(tx store.Tx) error {
			return tx.UpdateChainSyncStatus(ctx, rec.ID, store.TxSuccess, &now, height, rec.RetryCount, "")
		})
	case chain.TxFailed:
		_ = p.store.WithTx(ctx, func(tx store.Tx) error {
			return tx.UpdateChainSyncStatus(ctx, rec.ID, store.TxFailed, nil, nil, rec.RetryCount, "chain reported failure")
		})
	default:
		_ = p.store.WithTx(ctx, func(tx store.Tx) error {
			return tx.UpdateChainSyncStatus(ctx, rec.ID, store.TxPending, nil, nil, rec.RetryCount+1, "")
		})
	}
}

// Package chain defines the ledger capability the ingestion pipeline reads
// from. Adapters for concrete networks live in subpackages.
package chain

import (
	"context"
	"time"

	"github.com/groblegark/arbiter/internal/model"
)

// Ledger is a read-only view of a blockchain.
type Ledger interface {
	// BlockNumber returns the height of the latest block.
	BlockNumber(ctx context.Context) (uint64, error)
	// Logs returns the notifications emitted by contract in blocks
	// [from, to], inclusive, in block and log order.
	Logs(ctx context.Context, contract string, from, to uint64) ([]model.ChainLog, error)
}

// WatchBlockNumber polls the ledger every interval and calls fn with the
// current height. It polls once immediately and returns when ctx is done.
// Errors from BlockNumber are passed to onErr, when set, and polling goes on.
func WatchBlockNumber(ctx context.Context, l Ledger, interval time.Duration, fn func(context.Context, uint64), onErr func(error)) {
	poll := func() {
		height, err := l.BlockNumber(ctx)
		if err != nil {
			if onErr != nil && ctx.Err() == nil {
				onErr(err)
			}
			return
		}
		fn(ctx, height)
	}

	poll()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poll()
		}
	}
}

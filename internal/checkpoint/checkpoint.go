// Package checkpoint tracks the last block processed for each watched
// contract.
package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/groblegark/arbiter/internal/chain"
	"github.com/groblegark/arbiter/internal/model"
	"github.com/groblegark/arbiter/internal/store"
)

// ErrCheckpointRegression is returned by Set when the new block is lower
// than the stored one.
var ErrCheckpointRegression = errors.New("checkpoint regression")

// Store reads and advances per-contract checkpoints.
type Store struct {
	store  store.Store
	ledger chain.Ledger
}

// New creates a checkpoint store. The ledger supplies the starting block
// for contracts seen for the first time.
func New(s store.Store, l chain.Ledger) *Store {
	return &Store{store: s, ledger: l}
}

// Get returns the last processed block for contract. A contract without a
// checkpoint starts at the current chain head, which is persisted.
func (c *Store) Get(ctx context.Context, contract string) (uint64, error) {
	contract = model.NormalizeAddress(contract)
	cp, err := c.store.GetCheckpoint(ctx, contract)
	if err == nil {
		return cp.LastProcessedBlock, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("get checkpoint: %w", err)
	}

	head, err := c.ledger.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("get chain head: %w", err)
	}
	if err := c.store.CreateCheckpoint(ctx, contract, head); err != nil {
		return 0, err
	}
	// A concurrent initializer may have won; return what is stored.
	cp, err = c.store.GetCheckpoint(ctx, contract)
	if err != nil {
		return 0, fmt.Errorf("get checkpoint: %w", err)
	}
	return cp.LastProcessedBlock, nil
}

// Set advances the checkpoint for contract to block. It never moves the
// checkpoint backwards.
func (c *Store) Set(ctx context.Context, contract string, block uint64) error {
	contract = model.NormalizeAddress(contract)
	ok, err := c.store.AdvanceCheckpoint(ctx, contract, block)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	cp, err := c.store.GetCheckpoint(ctx, contract)
	if errors.Is(err, sql.ErrNoRows) {
		return c.store.CreateCheckpoint(ctx, contract, block)
	}
	if err != nil {
		return fmt.Errorf("get checkpoint: %w", err)
	}
	return fmt.Errorf("%w: %s at %d, refusing %d", ErrCheckpointRegression, contract, cp.LastProcessedBlock, block)
}

// List returns every stored checkpoint.
func (c *Store) List(ctx context.Context) ([]*model.EventCheckpoint, error) {
	return c.store.ListCheckpoints(ctx)
}

// Lookup returns the stored checkpoint for contract without initializing it.
func (c *Store) Lookup(ctx context.Context, contract string) (*model.EventCheckpoint, error) {
	return c.store.GetCheckpoint(ctx, model.NormalizeAddress(contract))
}

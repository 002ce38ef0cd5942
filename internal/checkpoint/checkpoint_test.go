package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/groblegark/arbiter/internal/model"
	"github.com/groblegark/arbiter/internal/store/storetest"
)

type headLedger struct {
	head  uint64
	err   error
	calls int
}

func (h *headLedger) BlockNumber(context.Context) (uint64, error) {
	h.calls++
	return h.head, h.err
}

func (h *headLedger) Logs(context.Context, string, uint64, uint64) ([]model.ChainLog, error) {
	return nil, nil
}

func TestGet_InitializesFromHead(t *testing.T) {
	ms := storetest.New()
	l := &headLedger{head: 1234}
	cps := New(ms, l)
	ctx := context.Background()

	got, err := cps.Get(ctx, "0xABC")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != 1234 {
		t.Errorf("Get = %d, want 1234", got)
	}

	// Second call reads the stored row without asking the ledger.
	l.head = 9999
	got, err = cps.Get(ctx, "0xabc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != 1234 || l.calls != 1 {
		t.Errorf("Get = %d after %d ledger calls, want 1234 after 1", got, l.calls)
	}
}

func TestGet_LedgerError(t *testing.T) {
	cps := New(storetest.New(), &headLedger{err: errors.New("rpc down")})
	if _, err := cps.Get(context.Background(), "0xabc"); err == nil {
		t.Fatal("expected error")
	}
}

func TestSet(t *testing.T) {
	ms := storetest.New()
	cps := New(ms, &headLedger{head: 100})
	ctx := context.Background()

	if _, err := cps.Get(ctx, "0xabc"); err != nil {
		t.Fatal(err)
	}
	if err := cps.Set(ctx, "0xabc", 150); err != nil {
		t.Fatalf("Set forward: %v", err)
	}
	if err := cps.Set(ctx, "0xabc", 150); err != nil {
		t.Fatalf("Set same block: %v", err)
	}

	err := cps.Set(ctx, "0xabc", 120)
	if !errors.Is(err, ErrCheckpointRegression) {
		t.Fatalf("expected ErrCheckpointRegression, got %v", err)
	}
	got, _ := cps.Get(ctx, "0xabc")
	if got != 150 {
		t.Errorf("checkpoint = %d after rejected regression, want 150", got)
	}
}

func TestSet_CreatesMissing(t *testing.T) {
	ms := storetest.New()
	cps := New(ms, &headLedger{})
	ctx := context.Background()

	if err := cps.Set(ctx, "0xnew", 77); err != nil {
		t.Fatalf("Set: %v", err)
	}
	cp, err := cps.Lookup(ctx, "0xNEW")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if cp.LastProcessedBlock != 77 {
		t.Errorf("block = %d, want 77", cp.LastProcessedBlock)
	}
	if _, err := cps.Lookup(ctx, "0xother"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("Lookup missing: %v", err)
	}

	list, err := cps.List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("List = %v, %v", list, err)
	}
}

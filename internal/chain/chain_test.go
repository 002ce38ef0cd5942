package chain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/groblegark/arbiter/internal/model"
)

type fakeLedger struct {
	mu     sync.Mutex
	height uint64
	err    error
	calls  int
}

func (f *fakeLedger) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	f.height++
	return f.height, nil
}

func (f *fakeLedger) Logs(ctx context.Context, contract string, from, to uint64) ([]model.ChainLog, error) {
	return nil, nil
}

func TestWatchBlockNumber_PollsImmediatelyAndOnTick(t *testing.T) {
	l := &fakeLedger{}
	ctx, cancel := context.WithCancel(context.Background())

	heights := make(chan uint64, 16)
	done := make(chan struct{})
	go func() {
		WatchBlockNumber(ctx, l, 10*time.Millisecond, func(_ context.Context, h uint64) {
			heights <- h
		}, nil)
		close(done)
	}()

	for want := uint64(1); want <= 3; want++ {
		select {
		case got := <-heights:
			if got != want {
				t.Fatalf("height = %d, want %d", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for height %d", want)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WatchBlockNumber did not return after cancel")
	}
}

func TestWatchBlockNumber_ReportsErrors(t *testing.T) {
	boom := errors.New("rpc unavailable")
	l := &fakeLedger{err: boom}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errs := make(chan error, 1)
	go WatchBlockNumber(ctx, l, time.Hour, func(context.Context, uint64) {
		t.Error("fn should not be called on error")
	}, func(err error) {
		select {
		case errs <- err:
		default:
		}
	})

	select {
	case err := <-errs:
		if !errors.Is(err, boom) {
			t.Errorf("err = %v, want %v", err, boom)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error")
	}
}

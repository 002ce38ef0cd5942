package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/groblegark/arbiter/internal/store"
)

// Destination receives the exported JSONL payload.
type Destination interface {
	Write(ctx context.Context, data []byte) error
}

// Archiver exports finalized sessions to one or more destinations. Run it
// with loop.New("archive", interval, a.Tick, logger).
type Archiver struct {
	store        store.Store
	destinations []Destination
	window       time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// New creates an archiver. window limits the export to sessions finalized
// within that span; zero exports everything.
func New(s store.Store, destinations []Destination, window time.Duration, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{store: s, destinations: destinations, window: window, logger: logger, now: time.Now}
}

// Tick exports once and writes the payload to every destination. A failing
// destination does not stop the others.
func (a *Archiver) Tick(ctx context.Context) error {
	var since time.Time
	if a.window > 0 {
		since = a.now().Add(-a.window)
	}

	var buf bytes.Buffer
	n, err := ExportJSONL(ctx, a.store, since, &buf)
	if err != nil {
		return fmt.Errorf("archive export: %w", err)
	}
	data := buf.Bytes()

	var errs []error
	for i, dest := range a.destinations {
		if err := dest.Write(ctx, data); err != nil {
			a.logger.Error("archive destination write failed", "destination", destName(i, dest), "err", err)
			errs = append(errs, err)
		}
	}

	a.logger.Info("archive completed", "sessions", n, "destinations", len(a.destinations), "bytes", len(data))
	return errors.Join(errs...)
}

func destName(i int, d Destination) string {
	if s, ok := d.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%d", i)
}

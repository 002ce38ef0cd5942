package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/groblegark/arbiter/internal/loop"
	"github.com/groblegark/arbiter/internal/model"
	"github.com/groblegark/arbiter/internal/store/storetest"
)

func nonEmptyLines(s string) []string {
	var result []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			result = append(result, line)
		}
	}
	return result
}

func seed(t *testing.T) *storetest.Memory {
	t.Helper()
	ms := storetest.New()
	ctx := context.Background()
	now := time.Now().UTC()
	for _, s := range []*model.Session{
		{ID: "s-b", Address: "0xb", Status: model.SessionCompleted, WinnerAddress: "0x1",
			Metadata: json.RawMessage(`{"outcome":{"winner":"initiator"},"rewards":{"total_pool":200}}`), UpdatedAt: now},
		{ID: "s-a", Address: "0xa", Status: model.SessionCancelled,
			Metadata: json.RawMessage(`{"cancellationReason":"Insufficient evaluations (2/3)"}`), UpdatedAt: now.Add(-48 * time.Hour)},
		{ID: "s-c", Address: "0xc", Status: model.SessionVoting, UpdatedAt: now},
	} {
		if err := ms.CreateSession(ctx, s); err != nil {
			t.Fatal(err)
		}
	}
	ms.SetEvaluations(&model.Evaluation{ID: "e1", SessionID: "s-b", EvaluatorAddress: "0x9", Vote: true, Weight: 120})
	return ms
}

func TestExportJSONL(t *testing.T) {
	ms := seed(t)
	var buf bytes.Buffer
	n, err := ExportJSONL(context.Background(), ms, time.Time{}, &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("exported %d sessions, want 2", n)
	}

	lines := nonEmptyLines(buf.String())
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d:\n%s", len(lines), buf.String())
	}
	var h header
	if err := json.Unmarshal([]byte(lines[0]), &h); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if h.Version != "1" || h.Type != "header" || h.SessionCount != 2 {
		t.Fatalf("unexpected header: %+v", h)
	}

	var recs [2]struct {
		Type string `json:"type"`
		Data Entry  `json:"data"`
	}
	for i := range recs {
		if err := json.Unmarshal([]byte(lines[i+1]), &recs[i]); err != nil {
			t.Fatalf("unmarshal line %d: %v", i+1, err)
		}
	}
	a, b := recs[0].Data, recs[1].Data
	if a.Session.ID != "s-a" || b.Session.ID != "s-b" {
		t.Fatalf("sessions not sorted: %q, %q", a.Session.ID, b.Session.ID)
	}
	if a.Reason != "Insufficient evaluations (2/3)" || len(a.Evaluations) != 0 {
		t.Errorf("cancelled entry = %+v", a)
	}
	if !strings.Contains(string(b.Outcome), "initiator") || !strings.Contains(string(b.Rewards), "200") {
		t.Errorf("completed entry outcome=%s rewards=%s", b.Outcome, b.Rewards)
	}
	if len(b.Evaluations) != 1 || b.Evaluations[0].Weight != 120 {
		t.Errorf("evaluations = %+v", b.Evaluations)
	}
}

func TestExportJSONL_StoreError(t *testing.T) {
	ms := seed(t)
	ms.Errs["ListEvaluations"] = errors.New("db down")
	if _, err := ExportJSONL(context.Background(), ms, time.Time{}, io.Discard); err == nil {
		t.Fatal("expected error")
	}
}

// mockDestination records calls to Write.
type mockDestination struct {
	writes atomic.Int64
	last   atomic.Value // []byte
	err    error
}

func (d *mockDestination) Write(_ context.Context, data []byte) error {
	d.writes.Add(1)
	d.last.Store(append([]byte(nil), data...))
	return d.err
}

func TestArchiver_Window(t *testing.T) {
	ms := seed(t)
	dest := &mockDestination{}
	a := New(ms, []Destination{dest}, 24*time.Hour, nil)

	if err := a.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	data, _ := dest.last.Load().([]byte)
	if lines := nonEmptyLines(string(data)); len(lines) != 2 {
		t.Fatalf("expected header + 1 session, got %d lines", len(lines))
	}
}

func TestArchiver_DestinationFailure(t *testing.T) {
	ms := seed(t)
	bad := &mockDestination{err: errors.New("bucket gone")}
	good := &mockDestination{}
	a := New(ms, []Destination{bad, good}, 0, nil)

	if err := a.Tick(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if good.writes.Load() != 1 {
		t.Error("a failing destination should not block the others")
	}
}

func TestArchiver_Loop(t *testing.T) {
	ms := seed(t)
	dest := &mockDestination{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	l := loop.New("archive", 50*time.Millisecond, New(ms, []Destination{dest}, 0, logger).Tick, logger)
	l.Start()
	time.Sleep(120 * time.Millisecond)
	l.Stop()

	if writes := dest.writes.Load(); writes < 2 {
		t.Fatalf("expected at least 2 writes, got %d", writes)
	}
}

type fakePutter struct {
	in  *s3.PutObjectInput
	err error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	return &s3.PutObjectOutput{}, f.err
}

func TestS3Destination_Write(t *testing.T) {
	p := &fakePutter{}
	d := &S3Destination{client: p, bucket: "arbiter", key: "arbiter/outcomes.jsonl"}

	if err := d.Write(context.Background(), []byte("{}\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if *p.in.Bucket != "arbiter" || *p.in.Key != "arbiter/outcomes.jsonl" || *p.in.ContentType != "application/x-ndjson" {
		t.Errorf("put input = %+v", p.in)
	}
	body, _ := io.ReadAll(p.in.Body)
	if string(body) != "{}\n" {
		t.Errorf("body = %q", body)
	}
	if d.String() != "s3://arbiter/arbiter/outcomes.jsonl" {
		t.Errorf("String = %q", d.String())
	}

	p.err = errors.New("denied")
	if err := d.Write(context.Background(), nil); err == nil || !strings.Contains(err.Error(), "denied") {
		t.Errorf("err = %v", err)
	}
}

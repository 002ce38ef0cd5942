package processor

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/groblegark/arbiter/internal/events"
	"github.com/groblegark/arbiter/internal/model"
	"github.com/groblegark/arbiter/internal/queue"
	"github.com/groblegark/arbiter/internal/store/storetest"
)

const (
	contract   = "0xabc0000000000000000000000000000000000001"
	initiator  = "0x1111111111111111111111111111111111111111"
	challenger = "0x2222222222222222222222222222222222222222"
	evaluator  = "0x3333333333333333333333333333333333333333"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeCache struct{ invalidated []string }

func (f *fakeCache) Invalidate(id string) { f.invalidated = append(f.invalidated, id) }

type harness struct {
	ms    *storetest.Memory
	q     *queue.Queue
	p     *Processor
	rec   *events.Recorder
	cache *fakeCache
	block uint64
}

func newHarness() *harness {
	ms := storetest.New()
	q := queue.New(ms)
	rec := &events.Recorder{}
	cache := &fakeCache{}
	p := New(ms, q, cache, rec, nil)
	p.now = func() time.Time { return testNow }
	return &harness{ms: ms, q: q, p: p, rec: rec, cache: cache}
}

// log builds the next chain log in block order with a unique tx hash.
func (h *harness) log(name model.EventName, args ...string) *model.ChainLog {
	h.block++
	return &model.ChainLog{
		ContractAddress: contract,
		EventName:       name,
		BlockNumber:     h.block,
		TransactionHash: "0xtx" + strconv.FormatUint(h.block, 10),
		Args:            args,
	}
}

// enqueue puts l on the queue and claims it.
func (h *harness) enqueue(t *testing.T, l *model.ChainLog) *model.EventQueueItem {
	t.Helper()
	ctx := context.Background()
	if _, err := h.q.Enqueue(ctx, l.ContractAddress, string(l.EventName), l, l.EventName.Priority()); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	item, err := h.q.Dequeue(ctx)
	if err != nil || item == nil {
		t.Fatalf("Dequeue = %v, %v", item, err)
	}
	return item
}

func (h *harness) handle(t *testing.T, l *model.ChainLog) error {
	t.Helper()
	return h.p.Handle(context.Background(), h.enqueue(t, l))
}

func (h *harness) mustHandle(t *testing.T, l *model.ChainLog) {
	t.Helper()
	if err := h.handle(t, l); err != nil {
		t.Fatalf("Handle %s: %v", l.EventName, err)
	}
}

func (h *harness) session(t *testing.T) *model.Session {
	t.Helper()
	s, err := h.ms.GetSessionByAddress(context.Background(), contract)
	if err != nil {
		t.Fatalf("GetSessionByAddress: %v", err)
	}
	return s
}

func unix(t time.Time) string { return strconv.FormatInt(t.Unix(), 10) }

func TestHandle_Lifecycle(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	h.mustHandle(t, h.log(model.EventSessionCreated, initiator, "", "1000", "Is Go better than Rust?"))
	s := h.session(t)
	if s.Status != model.SessionPending || s.WagerAmount != 1000 || s.Topic != "Is Go better than Rust?" {
		t.Fatalf("created session = %+v", s)
	}
	if h.ms.Participants(s.ID)[initiator] != model.RoleInitiator {
		t.Errorf("initiator not recorded as participant")
	}

	joined := testNow.Add(-time.Hour)
	h.mustHandle(t, h.log(model.EventChallengerJoined, challenger, unix(joined)))
	s = h.session(t)
	if s.Status != model.SessionActive || s.ChallengerAddress != challenger {
		t.Fatalf("joined session = %+v", s)
	}
	if s.StartTime == nil || !s.StartTime.Equal(joined) {
		t.Errorf("StartTime = %v, want %v", s.StartTime, joined)
	}

	end := testNow.Add(24 * time.Hour)
	h.mustHandle(t, h.log(model.EventVotingStarted, unix(end)))
	s = h.session(t)
	if s.Status != model.SessionVoting || !s.VotingEndTime.Equal(end) || !s.VotingStartTime.Equal(testNow) {
		t.Fatalf("voting session = %+v", s)
	}

	h.mustHandle(t, h.log(model.EventEvaluationSubmitted, evaluator, "true", "500", "strong opening"))
	evals, _ := h.ms.ListEvaluations(ctx, s.ID)
	if len(evals) != 1 {
		t.Fatalf("evaluations = %d, want 1", len(evals))
	}
	if evals[0].Weight != 300 || evals[0].Confidence != chainConfidence || !evals[0].Vote {
		t.Errorf("evaluation = %+v, want weight clamped to 300", evals[0])
	}
	if len(h.cache.invalidated) != 1 || h.cache.invalidated[0] != s.ID {
		t.Errorf("invalidated = %v", h.cache.invalidated)
	}

	h.mustHandle(t, h.log(model.EventResultFinalized, initiator, "300", "120"))
	s = h.session(t)
	if s.Status != model.SessionCompleted || s.WinnerAddress != initiator ||
		s.InitiatorVotes != 300 || s.ChallengerVotes != 120 || s.EndTime == nil {
		t.Fatalf("completed session = %+v", s)
	}

	want := []string{
		events.TopicSessionCreated,
		events.TopicSessionJoined,
		events.TopicSessionVotingStarted,
		events.TopicEvaluationSubmitted,
		events.TopicSessionCompleted,
	}
	if got := h.rec.Topics(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("topics = %v, want %v", got, want)
	}

	logs, _ := h.ms.ListEventLogs(ctx, model.EventLogFilter{})
	if len(logs) != 5 {
		t.Errorf("event logs = %d, want 5", len(logs))
	}
	for _, item := range h.ms.QueueItems() {
		if item.Status != model.QueueCompleted {
			t.Errorf("item %s status = %s", item.ID, item.Status)
		}
	}
}

func TestHandle_Idempotent(t *testing.T) {
	h := newHarness()
	created := h.log(model.EventSessionCreated, initiator, challenger, "10", "topic")
	h.mustHandle(t, created)
	h.mustHandle(t, created)

	logs, _ := h.ms.ListEventLogs(context.Background(), model.EventLogFilter{})
	if len(logs) != 1 {
		t.Errorf("event logs = %d, want 1", len(logs))
	}
	if n := len(h.rec.Topics()); n != 1 {
		t.Errorf("notifications = %d, want 1", n)
	}
	for _, item := range h.ms.QueueItems() {
		if item.Status != model.QueueCompleted {
			t.Errorf("replayed item %s status = %s", item.ID, item.Status)
		}
	}
}

func TestHandle_DuplicateSessionSkipped(t *testing.T) {
	h := newHarness()
	h.mustHandle(t, h.log(model.EventSessionCreated, initiator, "", "10", "first"))
	h.mustHandle(t, h.log(model.EventSessionCreated, initiator, "", "99", "second"))

	if s := h.session(t); s.Topic != "first" || s.WagerAmount != 10 {
		t.Errorf("session overwritten: %+v", s)
	}
}

func TestHandle_DisallowedTransitionSkipped(t *testing.T) {
	h := newHarness()
	h.mustHandle(t, h.log(model.EventSessionCreated, initiator, "", "10", "topic"))

	// A pending session cannot complete.
	l := h.log(model.EventResultFinalized, initiator, "1", "0")
	res, err := h.p.Apply(context.Background(), l, model.ResultFinalized{Winner: initiator, InitiatorWeight: 1})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !res.Skipped {
		t.Error("expected skipped result")
	}
	if s := h.session(t); s.Status != model.SessionPending {
		t.Errorf("status = %s, want pending", s.Status)
	}
	if ok, _ := h.ms.HasEventLog(context.Background(), l.TransactionHash, l.LogIndex); !ok {
		t.Error("skipped log should still be recorded")
	}
}

func TestHandle_Cancelled(t *testing.T) {
	h := newHarness()
	h.mustHandle(t, h.log(model.EventSessionCreated, initiator, "", "10", "topic"))
	h.mustHandle(t, h.log(model.EventSessionCancelled, "no challenger", "0"))

	s := h.session(t)
	if s.Status != model.SessionCancelled || s.EndTime == nil || !s.EndTime.Equal(testNow) {
		t.Fatalf("cancelled session = %+v", s)
	}
	if got := s.MetadataMap()["cancellationReason"]; got != "no challenger" {
		t.Errorf("cancellationReason = %v", got)
	}
}

func TestHandle_LedgerEvents(t *testing.T) {
	h := newHarness()
	h.mustHandle(t, h.log(model.EventSessionCreated, initiator, challenger, "10", "topic"))

	h.mustHandle(t, h.log(model.EventWagerDeposited, challenger, "10"))
	credLog := h.log(model.EventCredibilityUpdated, evaluator, "72", "evaluation_accurate")
	h.mustHandle(t, credLog)
	mintLog := h.log(model.EventAchievementMinted, evaluator, "first_win", "7")
	h.mustHandle(t, mintLog)

	cred := h.ms.CredibilityEvents()
	if len(cred) != 2 {
		t.Fatalf("credibility events = %d, want 2", len(cred))
	}
	if cred[0].EventType != model.CredibilityWagerPlaced || cred[0].Points != 0 ||
		cred[0].SessionID != h.session(t).ID || !strings.Contains(string(cred[0].Metadata), `"amount":"10"`) {
		t.Errorf("wager event = %+v", cred[0])
	}
	if cred[1].Points != 72 || cred[1].EventType != "evaluation_accurate" ||
		!strings.Contains(string(cred[1].Metadata), credLog.TransactionHash) {
		t.Errorf("credibility event = %+v", cred[1])
	}

	ach := h.ms.Achievements()
	if len(ach) != 1 || ach[0].TokenID != "7" || ach[0].TransactionHash != mintLog.TransactionHash {
		t.Errorf("achievements = %+v", ach)
	}
}

func TestHandle_MissingSessionRetriesThenFails(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	item := h.enqueue(t, h.log(model.EventVotingStarted, unix(testNow)))

	for attempt := 1; attempt <= model.DefaultMaxRetries; attempt++ {
		err := h.p.Handle(ctx, item)
		if !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("attempt %d: err = %v, want ErrSessionNotFound", attempt, err)
		}
		cur, _ := h.q.Get(ctx, item.ID)
		if attempt < model.DefaultMaxRetries {
			if cur.Status != model.QueuePending {
				t.Fatalf("attempt %d: status = %s", attempt, cur.Status)
			}
			cur.Status = model.QueueProcessing
			h.ms.SetQueueItem(cur)
		} else if cur.Status != model.QueueFailed {
			t.Fatalf("final status = %s, want failed", cur.Status)
		}
	}

	errs, _ := h.ms.ListEventErrors(ctx, model.EventLogFilter{})
	if len(errs) != model.DefaultMaxRetries {
		t.Errorf("event errors = %d, want %d", len(errs), model.DefaultMaxRetries)
	}
	if ok, _ := h.ms.HasEventLog(ctx, "0xtx1", 0); ok {
		t.Error("failed log must not be recorded as processed")
	}
}

func TestHandle_BadPayload(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	if _, err := h.q.Enqueue(ctx, contract, "VotingStarted", map[string]string{"transaction_hash": ""}, 1); err != nil {
		t.Fatal(err)
	}
	item, _ := h.q.Dequeue(ctx)
	if err := h.p.Handle(ctx, item); err == nil {
		t.Fatal("expected decode error")
	}
	errs, _ := h.ms.ListEventErrors(ctx, model.EventLogFilter{})
	if len(errs) != 1 || errs[0].EventName != "VotingStarted" || errs[0].ContractAddress != contract {
		t.Errorf("event errors = %+v", errs)
	}

	bad := h.log(model.EventEvaluationSubmitted, evaluator, "maybe", "10", "x")
	if err := h.handle(t, bad); err == nil || !strings.Contains(err.Error(), "arg 1") {
		t.Errorf("err = %v, want arg decode error", err)
	}
}

func TestHandle_VotingStartedWithoutEndTime(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.mustHandle(t, h.log(model.EventSessionCreated, initiator, "", "1000", "topic"))
	h.mustHandle(t, h.log(model.EventChallengerJoined, challenger, unix(testNow)))

	l := h.log(model.EventVotingStarted, "0")
	item := h.enqueue(t, l)
	err := h.p.Handle(ctx, item)
	if err == nil || !strings.Contains(err.Error(), "voting end time") {
		t.Fatalf("err = %v, want voting end time error", err)
	}

	s := h.session(t)
	if s.Status != model.SessionActive || s.VotingEndTime != nil {
		t.Errorf("session entered voting: status=%s end=%v", s.Status, s.VotingEndTime)
	}
	errs, _ := h.ms.ListEventErrors(ctx, model.EventLogFilter{})
	if len(errs) != 1 || errs[0].EventName != "VotingStarted" || errs[0].TransactionHash != l.TransactionHash {
		t.Errorf("event errors = %+v", errs)
	}
	if cur, _ := h.q.Get(ctx, item.ID); cur.Status != model.QueuePending || cur.RetryCount != 1 {
		t.Errorf("queue item = %+v, want pending retry", cur)
	}
}

func TestHandle_RollsBackOnFailure(t *testing.T) {
	h := newHarness()
	h.ms.Errs["AddParticipant"] = errors.New("db down")

	if err := h.handle(t, h.log(model.EventSessionCreated, initiator, "", "10", "topic")); err == nil {
		t.Fatal("expected error")
	}
	if _, err := h.ms.GetSessionByAddress(context.Background(), contract); err == nil {
		t.Error("session should have been rolled back")
	}
	if n := len(h.rec.Topics()); n != 0 {
		t.Errorf("notifications = %d, want none after rollback", n)
	}
}

package evaluation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/groblegark/arbiter/internal/events"
	"github.com/groblegark/arbiter/internal/model"
	"github.com/groblegark/arbiter/internal/store/storetest"
)

const reasoning = "This is a detailed and well-thought-out reasoning that provides good evidence and argumentation for the evaluation."

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type invalidations struct{ ids []string }

func (i *invalidations) Invalidate(id string) { i.ids = append(i.ids, id) }

func votingSession(t *testing.T, st *storetest.Memory) *model.Session {
	t.Helper()
	start := testNow.Add(-time.Hour)
	end := testNow.Add(23 * time.Hour)
	s := &model.Session{
		ID:                "sess-1",
		Address:           "0xsession",
		InitiatorAddress:  "0xinit",
		ChallengerAddress: "0xchal",
		WagerAmount:       1000,
		Status:            model.SessionVoting,
		VotingStartTime:   &start,
		VotingEndTime:     &end,
	}
	if err := st.CreateSession(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	return s
}

func newTestService(st *storetest.Memory, cache Invalidator, pub events.Publisher) *Service {
	svc := NewService(st, cache, pub)
	clock := func() time.Time { return testNow }
	svc.now = clock
	svc.validator.now = clock
	return svc
}

func sub(evaluator string) Submission {
	return Submission{SessionID: "sess-1", EvaluatorAddress: evaluator, Vote: true, Confidence: 85, Reasoning: reasoning}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name      string
		mutate    func(*Submission, *model.Session)
		wantErr   string
		wantWarn  string
		wantValid bool
	}{
		{name: "Valid", mutate: func(*Submission, *model.Session) {}, wantValid: true},
		{name: "UnknownSession", mutate: func(s *Submission, _ *model.Session) { s.SessionID = "nope" }, wantErr: MsgSessionNotFound},
		{name: "NotVoting", mutate: func(_ *Submission, se *model.Session) { se.Status = model.SessionActive }, wantErr: "Session is not in voting phase (current status: active)"},
		{name: "Ended", mutate: func(_ *Submission, se *model.Session) { end := testNow.Add(-time.Minute); se.VotingEndTime = &end }, wantErr: MsgVotingEnded},
		{name: "Initiator", mutate: func(s *Submission, _ *model.Session) { s.EvaluatorAddress = "0xINIT" }, wantErr: MsgInitiatorVote},
		{name: "Challenger", mutate: func(s *Submission, _ *model.Session) { s.EvaluatorAddress = "  0xchal" }, wantErr: MsgChallengerVote},
		{name: "NoEvaluator", mutate: func(s *Submission, _ *model.Session) { s.EvaluatorAddress = " " }, wantErr: MsgNoEvaluator},
		{name: "ConfidenceHigh", mutate: func(s *Submission, _ *model.Session) { s.Confidence = 101 }, wantErr: MsgConfidenceRange},
		{name: "ConfidenceNegative", mutate: func(s *Submission, _ *model.Session) { s.Confidence = -1 }, wantErr: MsgConfidenceRange},
		{name: "ConfidenceLow", mutate: func(s *Submission, _ *model.Session) { s.Confidence = 10 }, wantWarn: WarnLowConfidence, wantValid: true},
		{name: "ConfidenceFull", mutate: func(s *Submission, _ *model.Session) { s.Confidence = 100 }, wantWarn: WarnFullConfidence, wantValid: true},
		{name: "NoReasoning", mutate: func(s *Submission, _ *model.Session) { s.Reasoning = "   " }, wantErr: MsgReasoningEmpty},
		{name: "ShortReasoning", mutate: func(s *Submission, _ *model.Session) { s.Reasoning = "too short" }, wantErr: MsgReasoningShort},
		{name: "LongReasoning", mutate: func(s *Submission, _ *model.Session) { s.Reasoning = strings.Repeat("x", 2001) }, wantErr: MsgReasoningLong},
		{name: "BriefReasoning", mutate: func(s *Submission, _ *model.Session) { s.Reasoning = "A fair point, well made." }, wantWarn: WarnShortReasoning, wantValid: true},
		{name: "ClosingSoon", mutate: func(_ *Submission, se *model.Session) { end := testNow.Add(30 * time.Minute); se.VotingEndTime = &end }, wantWarn: "Only 30 minutes remaining to evaluate", wantValid: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			st := storetest.New()
			sess := votingSession(t, st)
			s := sub("0xeval")
			tc.mutate(&s, sess)
			if _, err := st.UpdateSessionIfStatus(context.Background(), sess, model.SessionVoting); err != nil {
				t.Fatal(err)
			}

			v := NewValidator(st)
			v.now = func() time.Time { return testNow }
			res, err := v.Validate(context.Background(), s)
			if err != nil {
				t.Fatal(err)
			}
			if res.Valid != tc.wantValid {
				t.Errorf("Valid = %v, want %v (errors %v)", res.Valid, tc.wantValid, res.Errors)
			}
			if tc.wantErr != "" && !slices.Contains(res.Errors, tc.wantErr) {
				t.Errorf("errors %v missing %q", res.Errors, tc.wantErr)
			}
			if tc.wantWarn != "" && !slices.Contains(res.Warnings, tc.wantWarn) {
				t.Errorf("warnings %v missing %q", res.Warnings, tc.wantWarn)
			}
		})
	}
}

func TestValidate_Limits(t *testing.T) {
	ctx := context.Background()

	t.Run("RateLimited", func(t *testing.T) {
		st := storetest.New()
		votingSession(t, st)
		for i := 0; i < MaxEvaluationsPerHr; i++ {
			st.SetEvaluations(&model.Evaluation{
				ID: fmt.Sprintf("e%d", i), SessionID: fmt.Sprintf("other-%d", i),
				EvaluatorAddress: "0xeval", CreatedAt: testNow.Add(-10 * time.Minute),
			})
		}
		v := NewValidator(st)
		v.now = func() time.Time { return testNow }
		res, _ := v.Validate(ctx, sub("0xeval"))
		if res.Valid || !slices.Contains(res.Errors, MsgRateLimited) {
			t.Errorf("errors = %v", res.Errors)
		}
	})

	for _, tc := range []struct {
		count int
		err   string
		warn  string
	}{
		{count: 100, err: MsgSessionFull},
		{count: 90, warn: "Session nearing maximum evaluations (90/100)"},
		{count: 89},
	} {
		t.Run(fmt.Sprintf("Count%d", tc.count), func(t *testing.T) {
			st := storetest.New()
			votingSession(t, st)
			for i := 0; i < tc.count; i++ {
				st.SetEvaluations(&model.Evaluation{
					ID: fmt.Sprintf("e%d", i), SessionID: "sess-1",
					EvaluatorAddress: fmt.Sprintf("0xother%d", i), CreatedAt: testNow.Add(-2 * time.Hour),
				})
			}
			v := NewValidator(st)
			v.now = func() time.Time { return testNow }
			res, _ := v.Validate(ctx, sub("0xeval"))
			if tc.err != "" && !slices.Contains(res.Errors, tc.err) {
				t.Errorf("errors %v missing %q", res.Errors, tc.err)
			}
			if tc.warn != "" && !slices.Contains(res.Warnings, tc.warn) {
				t.Errorf("warnings %v missing %q", res.Warnings, tc.warn)
			}
			if tc.err == "" && !res.Valid {
				t.Errorf("unexpected errors %v", res.Errors)
			}
		})
	}
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()
	st := storetest.New()
	votingSession(t, st)
	cache := &invalidations{}
	rec := &events.Recorder{}
	svc := newTestService(st, cache, rec)

	got, err := svc.Submit(ctx, sub("0xEVAL"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	e := got.Evaluation
	if e.ID == "" || e.EvaluatorAddress != "0xeval" || e.SessionID != "sess-1" {
		t.Errorf("unexpected evaluation %+v", e)
	}
	// cold start 1.0 x confidence 1.5 x early 1.2 x reasoning 1.3
	if e.Weight != 234 || got.Weight.FinalWeight != 234 {
		t.Errorf("weight = %d, want 234", e.Weight)
	}
	if e.QualityScore <= 0 || e.QualityScore > 100 {
		t.Errorf("quality score %d out of range", e.QualityScore)
	}

	stored, err := svc.Get(ctx, e.ID)
	if err != nil || stored.Weight != 234 {
		t.Fatalf("Get = %+v, %v", stored, err)
	}
	if role := st.Participants("sess-1")["0xeval"]; role != model.RoleEvaluator {
		t.Errorf("participant role = %q", role)
	}
	if len(cache.ids) != 1 || cache.ids[0] != "sess-1" {
		t.Errorf("invalidations = %v", cache.ids)
	}
	if topics := rec.Topics(); len(topics) != 1 || topics[0] != events.TopicEvaluationSubmitted {
		t.Errorf("topics = %v", topics)
	}
}

func TestSubmit_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("Invalid", func(t *testing.T) {
		st := storetest.New()
		votingSession(t, st)
		svc := newTestService(st, nil, nil)
		s := sub("0xinit")
		_, err := svc.Submit(ctx, s)
		var verr *ValidationError
		if !errors.As(err, &verr) || !slices.Contains(verr.Errors, MsgInitiatorVote) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("Duplicate", func(t *testing.T) {
		st := storetest.New()
		votingSession(t, st)
		svc := newTestService(st, nil, nil)
		if _, err := svc.Submit(ctx, sub("0xeval")); err != nil {
			t.Fatal(err)
		}
		_, err := svc.Submit(ctx, sub("0xeval"))
		var verr *ValidationError
		if !errors.As(err, &verr) || !slices.Contains(verr.Errors, MsgDuplicate) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("Spam", func(t *testing.T) {
		st := storetest.New()
		votingSession(t, st)
		cache := &invalidations{}
		svc := newTestService(st, cache, nil)
		if _, err := svc.Submit(ctx, sub("0xfirst")); err != nil {
			t.Fatal(err)
		}
		s := sub("0xsecond")
		s.Reasoning = "  " + strings.ToUpper(reasoning[:1]) + reasoning[1:] + " "
		_, err := svc.Submit(ctx, s)
		if !errors.Is(err, ErrSpam) || !strings.Contains(err.Error(), "Duplicate reasoning detected") {
			t.Fatalf("err = %v", err)
		}
		var verr *ValidationError
		if !errors.As(err, &verr) || len(verr.Errors) != 1 || !strings.HasPrefix(verr.Errors[0], MsgSpamPrefix) {
			t.Errorf("spam must be a validation error with the reason, got %v", err)
		}
		if n, _ := st.CountEvaluations(ctx, "sess-1"); n != 1 {
			t.Errorf("spam must not be stored, count = %d", n)
		}
		if len(cache.ids) != 1 {
			t.Errorf("spam must not invalidate the cache, got %v", cache.ids)
		}
	})

	t.Run("StoreFailureRollsBack", func(t *testing.T) {
		st := storetest.New()
		votingSession(t, st)
		st.Errs["CreateEvaluation"] = errors.New("disk full")
		svc := newTestService(st, nil, nil)
		if _, err := svc.Submit(ctx, sub("0xeval")); err == nil {
			t.Fatal("expected error")
		}
		if _, ok := st.Participants("sess-1")["0xeval"]; ok {
			t.Error("participant recorded despite failed insert")
		}
	})
}

func TestListByEvaluator(t *testing.T) {
	ctx := context.Background()
	st := storetest.New()
	votingSession(t, st)
	svc := newTestService(st, nil, nil)
	if _, err := svc.Submit(ctx, sub("0xeval")); err != nil {
		t.Fatal(err)
	}

	h, err := svc.ListByEvaluator(ctx, "0xEVAL", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(h.Evaluations) != 1 || h.Profile.TotalEvaluations != 1 {
		t.Errorf("history = %+v", h)
	}
	if h.Tier != "intermediate" {
		t.Errorf("tier = %s, want intermediate for the default score", h.Tier)
	}

	list, err := svc.ListBySession(ctx, "sess-1")
	if err != nil || len(list) != 1 {
		t.Errorf("ListBySession = %d, %v", len(list), err)
	}
}

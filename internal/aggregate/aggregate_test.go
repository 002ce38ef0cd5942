package aggregate

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/groblegark/arbiter/internal/model"
	"github.com/groblegark/arbiter/internal/store/storetest"
)

func eval(id string, vote bool, weight, confidence int) *model.Evaluation {
	return &model.Evaluation{
		ID:               id,
		SessionID:        "sess-1",
		EvaluatorAddress: "0xe" + id,
		Vote:             vote,
		Weight:           weight,
		Confidence:       confidence,
		CreatedAt:        time.Now(),
	}
}

func TestAggregate(t *testing.T) {
	got := Aggregate("sess-1", []*model.Evaluation{
		eval("1", true, 120, 80),
		eval("2", true, 150, 60),
		eval("3", true, 90, 70),
		eval("4", false, 100, 50),
	})

	if got.TotalEvaluations != 4 || got.InitiatorVotes != 3 || got.ChallengerVotes != 1 {
		t.Fatalf("counts = %d/%d/%d", got.TotalEvaluations, got.InitiatorVotes, got.ChallengerVotes)
	}
	if got.InitiatorWeight != 360 || got.ChallengerWeight != 100 || got.TotalWeight != 460 {
		t.Errorf("weights = %d/%d/%d", got.InitiatorWeight, got.ChallengerWeight, got.TotalWeight)
	}
	if got.AverageConfidence != 65 {
		t.Errorf("average confidence = %v, want 65", got.AverageConfidence)
	}
	// |360-100| / 460 = 56.5%
	if got.ConsensusStrength != 57 {
		t.Errorf("consensus strength = %d, want 57", got.ConsensusStrength)
	}
	if got.ConsensusLevel != model.ConsensusModerate {
		t.Errorf("level = %s, want moderate", got.ConsensusLevel)
	}
	if got.Leader != model.SideInitiator {
		t.Errorf("leader = %s", got.Leader)
	}
	if sum := got.InitiatorPercentage + got.ChallengerPercentage; sum < 99.999 || sum > 100.001 {
		t.Errorf("percentages sum to %v", sum)
	}
}

func TestAggregate_Empty(t *testing.T) {
	got := Aggregate("sess-1", nil)
	if got.TotalEvaluations != 0 || got.ConsensusStrength != 0 || got.InitiatorPercentage != 0 {
		t.Errorf("unexpected empty assessment: %+v", got)
	}
	if got.ConsensusLevel != model.ConsensusDivided || got.Leader != model.SideTie {
		t.Errorf("level/leader = %s/%s", got.ConsensusLevel, got.Leader)
	}
}

func TestConsensusStrengthAndLevel(t *testing.T) {
	for _, tc := range []struct {
		i, c  int64
		want  int
		level model.ConsensusLevel
	}{
		{0, 0, 0, model.ConsensusDivided},
		{100, 100, 0, model.ConsensusDivided},
		{100, 0, 100, model.ConsensusStrong},
		{0, 100, 100, model.ConsensusStrong},
		{85, 15, 70, model.ConsensusStrong},
		{75, 25, 50, model.ConsensusModerate},
		{65, 35, 30, model.ConsensusWeak},
		{64, 36, 28, model.ConsensusDivided},
	} {
		got := ConsensusStrength(tc.i, tc.c)
		if got != tc.want {
			t.Errorf("ConsensusStrength(%d, %d) = %d, want %d", tc.i, tc.c, got, tc.want)
		}
		if l := Level(got); l != tc.level {
			t.Errorf("Level(%d) = %s, want %s", got, l, tc.level)
		}
	}
}

func TestAggregator_CachesUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	st := storetest.New()
	if err := st.CreateSession(ctx, &model.Session{ID: "sess-1", Address: "0xs1", Status: model.SessionVoting}); err != nil {
		t.Fatal(err)
	}
	st.SetEvaluations(eval("1", true, 100, 50))

	agg := New(st, NewCache(time.Minute))
	first, err := agg.Assessment(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if first.TotalEvaluations != 1 {
		t.Fatalf("total = %d", first.TotalEvaluations)
	}

	st.SetEvaluations(eval("2", false, 200, 50))
	cached, _ := agg.Assessment(ctx, "sess-1")
	if cached.TotalEvaluations != 1 {
		t.Errorf("expected cached assessment, got %d evaluations", cached.TotalEvaluations)
	}

	agg.Invalidate("sess-1")
	fresh, _ := agg.Assessment(ctx, "sess-1")
	if fresh.TotalEvaluations != 2 || fresh.Leader != model.SideChallenger {
		t.Errorf("after invalidate: %+v", fresh)
	}
}

// racingStore invalidates the cache while evaluations are being read, as a
// concurrent submission would.
type racingStore struct {
	*storetest.Memory
	cache *Cache
}

func (s *racingStore) ListEvaluations(ctx context.Context, sessionID string) ([]*model.Evaluation, error) {
	evals, err := s.Memory.ListEvaluations(ctx, sessionID)
	s.cache.Invalidate(sessionID)
	return evals, err
}

func TestAggregator_InvalidateDuringRead(t *testing.T) {
	ctx := context.Background()
	st := storetest.New()
	if err := st.CreateSession(ctx, &model.Session{ID: "sess-1", Address: "0xs1", Status: model.SessionVoting}); err != nil {
		t.Fatal(err)
	}
	st.SetEvaluations(eval("1", true, 100, 50))

	cache := NewCache(time.Minute)
	agg := New(&racingStore{Memory: st, cache: cache}, cache)
	got, err := agg.Assessment(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.TotalEvaluations != 1 {
		t.Fatalf("total = %d", got.TotalEvaluations)
	}
	if _, ok := cache.Get("sess-1"); ok {
		t.Error("assessment read across an invalidation must not be cached")
	}
}

func TestAggregator_UnknownSession(t *testing.T) {
	agg := New(storetest.New(), nil)
	_, err := agg.Assessment(context.Background(), "missing")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("err = %v, want sql.ErrNoRows", err)
	}
}

func TestAggregator_StoreError(t *testing.T) {
	ctx := context.Background()
	st := storetest.New()
	_ = st.CreateSession(ctx, &model.Session{ID: "sess-1", Address: "0xs1"})
	st.Errs["ListEvaluations"] = errors.New("connection reset")

	agg := New(st, NewCache(0))
	if _, err := agg.Assessment(ctx, "sess-1"); err == nil {
		t.Fatal("expected error")
	}
	if agg.cache.Len() != 0 {
		t.Error("failed lookups must not be cached")
	}
}

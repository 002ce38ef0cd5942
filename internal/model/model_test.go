package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSessionStatus_CanTransition(t *testing.T) {
	for _, tc := range []struct {
		from, to SessionStatus
		want     bool
	}{
		{SessionPending, SessionActive, true},
		{SessionActive, SessionVoting, true},
		{SessionVoting, SessionCompleted, true},
		{SessionPending, SessionCancelled, true},
		{SessionActive, SessionCancelled, true},
		{SessionVoting, SessionCancelled, true},
		{SessionPending, SessionVoting, false},
		{SessionActive, SessionCompleted, false},
		{SessionCompleted, SessionCancelled, false},
		{SessionCancelled, SessionActive, false},
		{SessionCompleted, SessionVoting, false},
		{SessionVoting, SessionActive, false},
		{SessionStatus("bogus"), SessionCancelled, false},
	} {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestSessionStatus_IsTerminal(t *testing.T) {
	for _, s := range []SessionStatus{SessionCompleted, SessionCancelled} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []SessionStatus{SessionPending, SessionActive, SessionVoting} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestNormalizeAddress(t *testing.T) {
	for _, tc := range []struct {
		in, want string
	}{
		{"  0xABCdef  ", "0xabcdef"},
		{"0XAB", "0xab"},
		{"NVTiAjNgagDkTr5HTzDmQP9kPwPHN5BgVq", "NVTiAjNgagDkTr5HTzDmQP9kPwPHN5BgVq"},
		{"", ""},
	} {
		if got := NormalizeAddress(tc.in); got != tc.want {
			t.Errorf("NormalizeAddress(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSession_IsParticipant(t *testing.T) {
	s := &Session{InitiatorAddress: "0xAAA", ChallengerAddress: "0xbbb"}
	if !s.IsParticipant("0xaaa") {
		t.Error("initiator should be a participant")
	}
	if !s.IsParticipant("0xBBB") {
		t.Error("challenger should be a participant")
	}
	if s.IsParticipant("0xccc") {
		t.Error("outsider should not be a participant")
	}
	if s.IsParticipant("") {
		t.Error("empty address should not be a participant")
	}
}

func TestSession_VotingWindow(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	start := created.Add(time.Hour)
	votingStart := created.Add(2 * time.Hour)
	end := created.Add(26 * time.Hour)

	s := &Session{CreatedAt: created, VotingEndTime: &end}
	if got, _ := s.VotingWindow(); !got.Equal(created) {
		t.Errorf("start = %v, want created_at", got)
	}
	s.StartTime = &start
	if got, _ := s.VotingWindow(); !got.Equal(start) {
		t.Errorf("start = %v, want start_time", got)
	}
	s.VotingStartTime = &votingStart
	gotStart, gotEnd := s.VotingWindow()
	if !gotStart.Equal(votingStart) || !gotEnd.Equal(end) {
		t.Errorf("window = %v..%v", gotStart, gotEnd)
	}
}

func TestSession_MergeMetadata(t *testing.T) {
	s := &Session{Metadata: json.RawMessage(`{"extensionCount":1}`)}
	merged, err := s.MergeMetadata(map[string]any{"cancellationReason": "timeout"})
	if err != nil {
		t.Fatalf("MergeMetadata: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(merged, &m); err != nil {
		t.Fatal(err)
	}
	if m["extensionCount"] != float64(1) || m["cancellationReason"] != "timeout" {
		t.Errorf("merged = %v", m)
	}

	// Malformed metadata is treated as empty.
	s.Metadata = json.RawMessage(`not-json`)
	if got := s.MetadataMap(); len(got) != 0 {
		t.Errorf("MetadataMap() = %v, want empty", got)
	}
}

func TestDecodeEvent(t *testing.T) {
	for _, tc := range []struct {
		name    string
		log     ChainLog
		want    ChainEvent
		wantErr bool
	}{
		{
			name: "SessionCreated",
			log:  ChainLog{EventName: EventSessionCreated, Args: []string{"0xa", "0xb", "1000", "Is Go better?"}},
			want: SessionCreated{Initiator: "0xa", Challenger: "0xb", WagerAmount: 1000, Topic: "Is Go better?"},
		},
		{
			name: "ChallengerJoined",
			log:  ChainLog{EventName: EventChallengerJoined, Args: []string{"0xb", "1700000000"}},
			want: ChallengerJoined{Challenger: "0xb", Timestamp: time.Unix(1700000000, 0).UTC()},
		},
		{
			name: "VotingStartedMillis",
			log:  ChainLog{EventName: EventVotingStarted, Args: []string{"1700086400123"}},
			want: VotingStarted{VotingEndTime: time.UnixMilli(1700086400123).UTC()},
		},
		{
			name: "VotingStarted",
			log:  ChainLog{EventName: EventVotingStarted, Args: []string{"1700086400"}},
			want: VotingStarted{VotingEndTime: time.Unix(1700086400, 0).UTC()},
		},
		{
			name: "EvaluationSubmitted",
			log:  ChainLog{EventName: EventEvaluationSubmitted, Args: []string{"0xc", "true", "150", "solid"}},
			want: EvaluationSubmitted{Evaluator: "0xc", Vote: true, Weight: 150, Reasoning: "solid"},
		},
		{
			name: "ResultFinalized",
			log:  ChainLog{EventName: EventResultFinalized, Args: []string{"0xa", "360", "100"}},
			want: ResultFinalized{Winner: "0xa", InitiatorWeight: 360, ChallengerWeight: 100},
		},
		{
			name: "SessionCancelled",
			log:  ChainLog{EventName: EventSessionCancelled, Args: []string{"no challenger", "1700000000"}},
			want: SessionCancelledEvent{Reason: "no challenger", Timestamp: time.Unix(1700000000, 0).UTC()},
		},
		{
			name: "AchievementMinted",
			log:  ChainLog{EventName: EventAchievementMinted, Args: []string{"0xa", "first_win", "7"}},
			want: AchievementMinted{Recipient: "0xa", AchievementType: "first_win", TokenID: "7"},
		},
		{
			name: "CredibilityUpdated",
			log:  ChainLog{EventName: EventCredibilityUpdated, Args: []string{"0xa", "-5", "evaluation_incorrect"}},
			want: CredibilityUpdated{User: "0xa", NewScore: -5, EventType: "evaluation_incorrect"},
		},
		{
			name: "WagerDeposited",
			log:  ChainLog{EventName: EventWagerDeposited, Args: []string{"0xa", "500"}},
			want: WagerDeposited{Participant: "0xa", Amount: 500},
		},
		{
			name:    "MissingArg",
			log:     ChainLog{EventName: EventResultFinalized, Args: []string{"0xa"}},
			wantErr: true,
		},
		{
			name:    "BadInteger",
			log:     ChainLog{EventName: EventWagerDeposited, Args: []string{"0xa", "lots"}},
			wantErr: true,
		},
		{
			name:    "BadBool",
			log:     ChainLog{EventName: EventEvaluationSubmitted, Args: []string{"0xc", "maybe", "1", "x"}},
			wantErr: true,
		},
		{
			name:    "VotingStartedZeroEnd",
			log:     ChainLog{EventName: EventVotingStarted, Args: []string{"0"}},
			wantErr: true,
		},
		{
			name:    "Unknown",
			log:     ChainLog{EventName: "Transfer"},
			wantErr: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeEvent(&tc.log)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %#v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %#v, want %#v", got, tc.want)
			}
			if got.Name() != tc.log.EventName {
				t.Errorf("Name() = %s, want %s", got.Name(), tc.log.EventName)
			}
		})
	}
}

func TestDecodeChainLog(t *testing.T) {
	l, err := DecodeChainLog([]byte(`{"contract_address":"0xs","event_name":"VotingStarted","block_number":12,"transaction_hash":"0xt","log_index":2,"args":["1"]}`))
	if err != nil {
		t.Fatalf("DecodeChainLog: %v", err)
	}
	if l.BlockNumber != 12 || l.LogIndex != 2 || l.EventName != EventVotingStarted {
		t.Errorf("got %+v", l)
	}
	if _, err := DecodeChainLog([]byte(`{"event_name":"VotingStarted"}`)); err == nil {
		t.Error("expected error for missing transaction hash")
	}
	if _, err := DecodeChainLog([]byte(`{`)); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestEventName_Priority(t *testing.T) {
	if EventResultFinalized.Priority() <= EventVotingStarted.Priority() {
		t.Error("ResultFinalized should outrank VotingStarted")
	}
	if EventVotingStarted.Priority() <= EventEvaluationSubmitted.Priority() {
		t.Error("VotingStarted should outrank EvaluationSubmitted")
	}
	for _, n := range KnownEvents {
		if !n.IsKnown() {
			t.Errorf("%s should be known", n)
		}
	}
	if EventName("Transfer").IsKnown() {
		t.Error("Transfer should not be known")
	}
}

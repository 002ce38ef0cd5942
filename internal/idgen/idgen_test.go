package idgen

import (
	"regexp"
	"strings"
	"testing"
)

func TestQueueItemID_Format(t *testing.T) {
	pattern := regexp.MustCompile(`^evq-[a-zA-Z0-9]{12}$`)
	for i := 0; i < 100; i++ {
		id, err := QueueItemID()
		if err != nil {
			t.Fatalf("QueueItemID() error on iteration %d: %v", i, err)
		}
		if !pattern.MatchString(id) {
			t.Fatalf("QueueItemID() = %q, does not match %s", id, pattern)
		}
	}
}

func TestQueueItemID_Uniqueness(t *testing.T) {
	const count = 10_000
	seen := make(map[string]struct{}, count)
	for i := 0; i < count; i++ {
		id, err := QueueItemID()
		if err != nil {
			t.Fatalf("QueueItemID() error on iteration %d: %v", i, err)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate ID after %d generations: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}

func TestRecordID(t *testing.T) {
	id := RecordID()
	if !IsRecordID(id) {
		t.Errorf("RecordID() = %q is not a UUID", id)
	}
	if strings.HasPrefix(id, QueuePrefix) {
		t.Errorf("RecordID() = %q should not carry the queue prefix", id)
	}
	for _, bad := range []string{"", "evq-abc", "not-a-uuid"} {
		if IsRecordID(bad) {
			t.Errorf("IsRecordID(%q) = true", bad)
		}
	}
}

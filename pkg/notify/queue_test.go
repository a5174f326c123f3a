package notify

import (
	"testing"
	"time"

	"msgcore/pkg/models"
)

func at(hour, min int) time.Time {
	return time.Date(2026, 8, 30, hour, min, 0, 0, time.UTC)
}

func TestEnqueueDedupMergesWithinWindow(t *testing.T) {
	s := NewState(Config{}, at(10, 0))
	s = s.Enqueue(Incoming{ThreadID: "t1", Type: "message", Message: "first"}, at(10, 0))
	s = s.Enqueue(Incoming{ThreadID: "t1", Type: "message", Severity: "HIGH", Message: "second"}, at(10, 1))

	items := s.Pending()
	if len(items) != 1 {
		t.Fatalf("expected 1 merged item, got %d", len(items))
	}
	got := items[0]
	if got.Count != 2 {
		t.Fatalf("count = %d, want 2", got.Count)
	}
	if got.Severity != models.SeverityHigh {
		t.Fatalf("severity = %s, want HIGH", got.Severity)
	}
	if got.Message != "second" {
		t.Fatalf("message = %q", got.Message)
	}
}

func TestEnqueueOutsideDedupWindowCreatesNewItem(t *testing.T) {
	s := NewState(Config{DedupeWindow: time.Minute}, at(10, 0))
	s = s.Enqueue(Incoming{ThreadID: "t1", Type: "message"}, at(10, 0))
	s = s.Enqueue(Incoming{ThreadID: "t1", Type: "message"}, at(10, 5))
	if s.Len() != 2 {
		t.Fatalf("expected 2 items, got %d", s.Len())
	}
}

func TestEnqueueDistinctKeysDoNotMerge(t *testing.T) {
	s := NewState(Config{}, at(10, 0))
	s = s.Enqueue(Incoming{ThreadID: "t1", Type: "message"}, at(10, 0))
	s = s.Enqueue(Incoming{ThreadID: "t2", Type: "message"}, at(10, 0))
	s = s.Enqueue(Incoming{Type: "system"}, at(10, 0))
	if s.Len() != 3 {
		t.Fatalf("expected 3 items, got %d", s.Len())
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	s := NewState(Config{MaxItems: 2}, at(10, 0))
	s = s.Enqueue(Incoming{DedupeKey: "a"}, at(10, 0))
	s = s.Enqueue(Incoming{DedupeKey: "b"}, at(10, 1))
	s = s.Enqueue(Incoming{DedupeKey: "c"}, at(10, 2))
	items := s.Pending()
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].DedupeKey != "b" || items[1].DedupeKey != "c" {
		t.Fatalf("unexpected survivors: %+v", items)
	}
	// evicted dedup entry must not merge future notifications
	s = s.Enqueue(Incoming{DedupeKey: "a"}, at(10, 2))
	if s.Len() != 2 {
		t.Fatalf("expected eviction to keep capacity, got %d", s.Len())
	}
}

func quietConfig() Config {
	return Config{QuietHours: QuietHours{
		Enabled:  true,
		StartMin: 22 * 60,
		EndMin:   6 * 60,
	}}
}

func TestQuietHoursWrapAroundMidnight(t *testing.T) {
	s := NewState(quietConfig(), at(12, 0))
	cases := []struct {
		now   time.Time
		quiet bool
	}{
		{at(23, 30), true},
		{at(2, 0), true},
		{at(5, 59), true},
		{at(6, 0), false},
		{at(12, 0), false},
		{at(21, 59), false},
		{at(22, 0), true},
	}
	for _, c := range cases {
		if got := s.InQuietHours(c.now); got != c.quiet {
			t.Fatalf("InQuietHours(%v) = %v, want %v", c.now, got, c.quiet)
		}
	}
}

func TestQuietHoursDeferAndBypass(t *testing.T) {
	s := NewState(quietConfig(), at(23, 0))
	s = s.Enqueue(Incoming{DedupeKey: "normal", Severity: "NORMAL"}, at(23, 0))
	s = s.Enqueue(Incoming{DedupeKey: "crit", Severity: "CRITICAL"}, at(23, 0))

	next, ready := s.Flush(at(23, 5))
	if len(ready) != 1 || ready[0].DedupeKey != "crit" {
		t.Fatalf("expected only critical to flush, got %+v", ready)
	}
	if next.Len() != 1 {
		t.Fatalf("expected 1 deferred item, got %d", next.Len())
	}

	// after quiet hours end, the deferred item becomes ready
	next, ready = next.Flush(at(7, 0))
	if len(ready) != 1 || ready[0].DedupeKey != "normal" {
		t.Fatalf("expected deferred item to flush, got %+v", ready)
	}
	if next.Len() != 0 {
		t.Fatalf("queue should be empty, got %d", next.Len())
	}
}

func TestCollectDigestGroupsByThread(t *testing.T) {
	cfg := quietConfig()
	cfg.DigestWindow = 10 * time.Minute
	s := NewState(cfg, at(23, 0))
	s = s.Enqueue(Incoming{ThreadID: "t1", Type: "a", Message: "m1"}, at(23, 0))
	s = s.Enqueue(Incoming{ThreadID: "t1", Type: "b", Message: "m2", Severity: "HIGH"}, at(23, 1))
	s = s.Enqueue(Incoming{ThreadID: "t2", Type: "a"}, at(23, 2))

	next, groups := s.CollectDigest(at(23, 15))
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	var t1 models.DigestGroup
	for _, g := range groups {
		if g.ThreadID == "t1" {
			t1 = g
		}
	}
	if t1.Count != 2 || t1.Severity != models.SeverityHigh {
		t.Fatalf("unexpected t1 group: %+v", t1)
	}
	if len(t1.Samples) != 2 {
		t.Fatalf("samples = %v", t1.Samples)
	}

	// immediate re-collection is suppressed by the notified stamp
	_, again := next.CollectDigest(at(23, 16))
	if len(again) != 0 {
		t.Fatalf("expected no repeat digest, got %+v", again)
	}
}

func TestCollectDigestSkipsFreshItems(t *testing.T) {
	s := NewState(quietConfig(), at(23, 0))
	s = s.Enqueue(Incoming{ThreadID: "t1"}, at(23, 0))
	if _, groups := s.CollectDigest(at(23, 5)); len(groups) != 0 {
		t.Fatalf("fresh deferred item should not digest, got %+v", groups)
	}
}

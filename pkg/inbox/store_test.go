package inbox

import (
	"testing"
	"time"

	"msgcore/pkg/events"
	"msgcore/pkg/models"
)

var t0 = time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

func seed() *State {
	return NewState(events.InboxPayload{
		Threads: []models.InboxEntry{
			{ThreadID: "t1", Kind: models.KindInquiry, LastMessageAt: t0.Add(-2 * time.Hour), UnreadCount: 1},
			{ThreadID: "t2", Kind: models.KindProject, LastMessageAt: t0.Add(-time.Hour)},
			{ThreadID: "t3", Kind: models.KindInquiry, LastMessageAt: t0.Add(-3 * time.Hour), Archived: true},
		},
		Requests: []models.MessageRequest{
			{RequestID: "r1", ThreadID: "t9", CreditCost: 4, CreatedAt: t0.Add(-time.Minute), ExpiresAt: t0.Add(time.Hour)},
		},
		RateLimit: models.RateLimit{Window: 24 * time.Hour, MaxNew: 2},
		Credits:   models.Credits{Available: 10, Floor: 2, CostPer: 3},
	}, t0)
}

func TestHydrationOrdersByRecency(t *testing.T) {
	s := seed()
	got := s.Select(SelectOptions{})
	if len(got) != 2 {
		t.Fatalf("expected 2 visible threads, got %d", len(got))
	}
	if got[0].ThreadID != "t2" || got[1].ThreadID != "t1" {
		t.Fatalf("unexpected order: %s, %s", got[0].ThreadID, got[1].ThreadID)
	}
}

func TestApplyUnknownEventReturnsSameState(t *testing.T) {
	s := seed()
	if next := s.Apply(&events.InboxEvent{Type: events.ThreadRead, ThreadID: "missing"}, t0); next != s {
		t.Fatal("unknown thread should be a no-op returning the same pointer")
	}
	if next := s.Apply(nil, t0); next != s {
		t.Fatal("nil event should be a no-op")
	}
}

func TestMessageReceivedReordersAndIncrementsUnread(t *testing.T) {
	s := seed()
	next := s.Apply(&events.InboxEvent{
		Type:            events.ThreadMessageReceived,
		ThreadID:        "t1",
		LastMessageAt:   t0,
		IncrementUnread: 1,
	}, t0)
	if next == s {
		t.Fatal("expected a new state")
	}
	got := next.Select(SelectOptions{})
	if got[0].ThreadID != "t1" {
		t.Fatalf("t1 should move to front, got %s", got[0].ThreadID)
	}
	if got[0].UnreadCount != 2 {
		t.Fatalf("unread = %d, want 2", got[0].UnreadCount)
	}
	if next.TotalUnread() != 2 {
		t.Fatalf("total unread = %d", next.TotalUnread())
	}
	// original state untouched
	if entry, _ := s.Entry("t1"); entry.UnreadCount != 1 {
		t.Fatalf("source state mutated: %+v", entry)
	}
}

func TestThreadReadClearsUnread(t *testing.T) {
	s := seed().Apply(&events.InboxEvent{Type: events.ThreadRead, ThreadID: "t1"}, t0)
	if entry, _ := s.Entry("t1"); entry.UnreadCount != 0 {
		t.Fatalf("unread = %d", entry.UnreadCount)
	}
}

func TestPinArchiveMuteBlock(t *testing.T) {
	s := seed()
	s = s.Apply(&events.InboxEvent{Type: events.ThreadPinned, ThreadID: "t1"}, t0)
	if got := s.Select(SelectOptions{Folder: FolderPinned}); len(got) != 1 || got[0].ThreadID != "t1" {
		t.Fatalf("pinned folder: %+v", got)
	}
	s = s.Apply(&events.InboxEvent{Type: events.ThreadUnpinned, ThreadID: "t1"}, t0)
	if got := s.Select(SelectOptions{Folder: FolderPinned}); len(got) != 0 {
		t.Fatalf("pinned folder after unpin: %+v", got)
	}

	s = s.Apply(&events.InboxEvent{Type: events.ThreadArchived, ThreadID: "t2"}, t0)
	if got := s.Select(SelectOptions{}); len(got) != 1 {
		t.Fatalf("archived thread should leave default view: %+v", got)
	}
	if got := s.Select(SelectOptions{Folder: FolderArchived}); len(got) != 2 {
		t.Fatalf("archived folder: %+v", got)
	}

	muted := true
	s = s.Apply(&events.InboxEvent{Type: events.ThreadMuted, ThreadID: "t1", Muted: &muted}, t0)
	if entry, _ := s.Entry("t1"); !entry.Muted {
		t.Fatal("expected muted")
	}

	s = s.Apply(&events.InboxEvent{Type: events.ThreadBlocked, ThreadID: "t1"}, t0)
	if entry, _ := s.Entry("t1"); !entry.Blocked {
		t.Fatal("expected blocked")
	}
	s = s.Apply(&events.InboxEvent{Type: events.ThreadUnblocked, ThreadID: "t1"}, t0)
	if entry, _ := s.Entry("t1"); entry.Blocked {
		t.Fatal("expected unblocked")
	}
}

func TestCanStartChecksCreditsBeforeRateLimit(t *testing.T) {
	s := NewState(events.InboxPayload{
		RateLimit: models.RateLimit{Window: time.Hour, MaxNew: 1, Recent: []time.Time{t0.Add(-time.Minute)}},
		Credits:   models.Credits{Available: 1, CostPer: 3},
	}, t0)
	_, denial := s.CanStart(t0, 0)
	if denial == nil || denial.Code != models.DenyInsufficientCredits {
		t.Fatalf("expected credit denial first, got %+v", denial)
	}
	if denial.AvailableCredits != 1 || denial.RequiredCredits != 3 {
		t.Fatalf("denial detail: %+v", denial)
	}
}

func TestCanStartRateLimitWindow(t *testing.T) {
	recent := []time.Time{t0.Add(-30 * time.Minute), t0.Add(-10 * time.Minute)}
	s := NewState(events.InboxPayload{
		RateLimit: models.RateLimit{Window: time.Hour, MaxNew: 2, Recent: recent},
		Credits:   models.Credits{Available: -1},
	}, t0)
	_, denial := s.CanStart(t0, 0)
	if denial == nil || denial.Code != models.DenyRateLimited {
		t.Fatalf("expected rate limit denial, got %+v", denial)
	}
	want := t0.Add(-30 * time.Minute).Add(time.Hour)
	if !denial.NextAllowedAt.Equal(want) {
		t.Fatalf("nextAllowedAt = %v, want %v", denial.NextAllowedAt, want)
	}

	// once the oldest start slides out of the window a slot frees up
	remaining, denial := s.CanStart(t0.Add(31*time.Minute), 0)
	if denial != nil || remaining != 1 {
		t.Fatalf("remaining = %d, denial = %+v", remaining, denial)
	}
}

func TestRecordStartDebitsToFloor(t *testing.T) {
	s := NewState(events.InboxPayload{
		RateLimit: models.RateLimit{Window: time.Hour, MaxNew: 5},
		Credits:   models.Credits{Available: 4, Floor: 2, CostPer: 3},
	}, t0)
	s = s.RecordStart(t0, 0)
	if got := s.Credits().Available; got != 2 {
		t.Fatalf("available = %d, want floor 2", got)
	}
	if got := len(s.RateLimit().Recent); got != 1 {
		t.Fatalf("recent = %d", got)
	}
}

func TestRecordStartUnlimitedCreditsUntouched(t *testing.T) {
	s := NewState(events.InboxPayload{Credits: models.Credits{Available: -1, CostPer: 5}}, t0)
	s = s.RecordStart(t0, 0)
	if !s.Credits().Unlimited() {
		t.Fatalf("credits = %+v", s.Credits())
	}
}

func TestAcceptRequestPromotesThreadAndDebits(t *testing.T) {
	s := seed()
	next := s.AcceptRequest("r1", t0)
	if next == s {
		t.Fatal("expected new state")
	}
	if _, ok := next.Request("r1"); ok {
		t.Fatal("request should be removed")
	}
	entry, ok := next.Entry("t9")
	if !ok {
		t.Fatal("thread should be promoted into inbox")
	}
	if entry.Archived || entry.Pinned {
		t.Fatalf("promoted thread flags: %+v", entry)
	}
	if !entry.LastMessageAt.Equal(t0) {
		t.Fatalf("lastMessageAt = %v", entry.LastMessageAt)
	}
	if got := next.Credits().Available; got != 6 {
		t.Fatalf("available = %d, want 10-4=6", got)
	}
	if next.AcceptRequest("nope", t0) != next {
		t.Fatal("unknown request should be a no-op")
	}
}

func TestDeclineAndPruneRequests(t *testing.T) {
	s := seed()
	s = s.DeclineRequest("r1", true, t0)
	req, _ := s.Request("r1")
	if req.Status != models.RequestBlocked {
		t.Fatalf("status = %q", req.Status)
	}
	s = s.PruneExpiredRequests(t0)
	if _, ok := s.Request("r1"); ok {
		t.Fatal("non-pending request should be pruned")
	}
}

func TestPruneExpiredRequestsByTime(t *testing.T) {
	s := seed()
	s = s.PruneExpiredRequests(t0.Add(2 * time.Hour))
	if got := s.SelectRequests(""); len(got) != 0 {
		t.Fatalf("expected expiry prune, got %+v", got)
	}
}

func TestPruneWithNothingExpiredIsNoOp(t *testing.T) {
	s := seed()
	if next := s.PruneExpiredRequests(t0.Add(time.Minute)); next != s {
		t.Fatal("prune with only live requests should return the same pointer")
	}
}

func TestSelectFilters(t *testing.T) {
	s := seed()
	if got := s.Select(SelectOptions{Kinds: []string{"project"}}); len(got) != 1 || got[0].ThreadID != "t2" {
		t.Fatalf("kind filter: %+v", got)
	}
	if got := s.Select(SelectOptions{OnlyUnread: true}); len(got) != 1 || got[0].ThreadID != "t1" {
		t.Fatalf("unread filter: %+v", got)
	}
	if got := s.Select(SelectOptions{IncludeArchived: true}); len(got) != 3 {
		t.Fatalf("includeArchived: %+v", got)
	}
	if got := s.Select(SelectOptions{Query: "T2"}); len(got) != 1 || got[0].ThreadID != "t2" {
		t.Fatalf("query filter: %+v", got)
	}
	if got := s.Select(SelectOptions{Predicate: func(e models.InboxEntry) bool { return e.ThreadID == "t1" }}); len(got) != 1 {
		t.Fatalf("predicate filter: %+v", got)
	}
}

func TestSelectQueryMetadata(t *testing.T) {
	s := NewState(events.InboxPayload{Threads: []models.InboxEntry{
		{ThreadID: "t1", LastMessageAt: t0, Metadata: map[string]any{"displayName": "Avery Artist"}},
		{ThreadID: "t2", LastMessageAt: t0, Metadata: map[string]any{"searchTokens": []any{"alpha", "beta"}}},
	}}, t0)
	if got := s.Select(SelectOptions{Query: "avery"}); len(got) != 1 || got[0].ThreadID != "t1" {
		t.Fatalf("displayName query: %+v", got)
	}
	if got := s.Select(SelectOptions{Query: "beta"}); len(got) != 1 || got[0].ThreadID != "t2" {
		t.Fatalf("token query: %+v", got)
	}
}

func TestCustomMatcherExtendsDefault(t *testing.T) {
	s := seed()
	matcher := func(e models.InboxEntry, q string) bool { return q == "special" && e.ThreadID == "t1" }
	if got := s.Select(SelectOptions{Query: "special", Matcher: matcher}); len(got) != 1 || got[0].ThreadID != "t1" {
		t.Fatalf("custom matcher: %+v", got)
	}
}

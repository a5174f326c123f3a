package controller

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"msgcore/pkg/actioncard"
	"msgcore/pkg/events"
	"msgcore/pkg/ids"
	"msgcore/pkg/metrics"
	"msgcore/pkg/models"
	"msgcore/pkg/thread"
	"msgcore/pkg/uploads"
)

func at(min int) time.Time {
	return time.Date(2025, 6, 1, 12, min, 0, 0, time.UTC)
}

func newController(t *testing.T) *Controller {
	t.Helper()
	clock := at(0)
	return New(Options{
		ViewerUserID: "viewer",
		Now:          func() time.Time { return clock },
		IDs:          ids.Sequential(),
		Inbox: &events.InboxPayload{
			Threads: []models.InboxEntry{
				{ThreadID: "t-1", Kind: models.KindProject, Status: "OPEN", LastMessageAt: at(0)},
			},
			Credits: models.Credits{Available: -1},
		},
		Threads: []events.ThreadPayload{
			{
				Thread: models.Thread{ThreadID: "t-1", Kind: models.KindProject},
				Messages: []models.Message{
					{MessageID: "m-1", AuthorUserID: "other", CreatedAt: at(0)},
				},
				Cards: []models.ActionCard{
					{CardID: "c-1", ActionType: "RESCHEDULE", State: "PENDING", Version: 1, UpdatedAt: at(0)},
				},
			},
		},
	})
}

func TestMessageCreatedSyncsInbox(t *testing.T) {
	c := newController(t)
	var got [][]Change
	unsubscribe := c.Subscribe(func(changes []Change, snap Snapshot) {
		got = append(got, changes)
	})
	defer unsubscribe()

	next := c.ApplyThreadEvent("t-1", &events.ThreadEvent{
		Type:    events.MessageCreated,
		Message: &models.Message{MessageID: "m-2", AuthorUserID: "other", CreatedAt: at(5)},
	})
	if next == nil || next.Len() != 2 {
		t.Fatalf("thread state after event: %+v", next)
	}
	entry, ok := c.InboxState().Entry("t-1")
	if !ok || entry.UnreadCount != 1 || !entry.LastMessageAt.Equal(at(5)) {
		t.Fatalf("inbox entry not synced: %+v", entry)
	}
	if len(got) != 1 {
		t.Fatalf("expected one batch, got %d", len(got))
	}
	if len(got[0]) != 2 || got[0][0].Scope != ScopeThread || got[0][1].Scope != ScopeInbox {
		t.Fatalf("batch shape: %+v", got[0])
	}
}

func TestViewerMessagesDoNotIncrementUnread(t *testing.T) {
	c := newController(t)
	c.ApplyThreadEvent("t-1", &events.ThreadEvent{
		Type:    events.MessageCreated,
		Message: &models.Message{MessageID: "m-2", AuthorUserID: "viewer", CreatedAt: at(5)},
	})
	entry, _ := c.InboxState().Entry("t-1")
	if entry.UnreadCount != 0 {
		t.Fatalf("viewer message incremented unread: %+v", entry)
	}
}

func TestUnknownThreadIsLoggedNoOp(t *testing.T) {
	c := newController(t)
	notified := false
	defer c.Subscribe(func([]Change, Snapshot) { notified = true })()
	if st := c.ApplyThreadEvent("t-404", &events.ThreadEvent{Type: events.ThreadStatusChanged, Status: "LOCKED"}); st != nil {
		t.Fatalf("expected nil state for unknown thread")
	}
	if notified {
		t.Fatalf("no-op should not notify")
	}
}

func TestDiscardedEventsAreCounted(t *testing.T) {
	c := newController(t)

	threadDrops := testutil.ToFloat64(metrics.EventsDropped.WithLabelValues("unknown_thread"))
	c.ApplyThreadEvent("t-404", &events.ThreadEvent{Type: events.ThreadStatusChanged, Status: "LOCKED"})
	if got := testutil.ToFloat64(metrics.EventsDropped.WithLabelValues("unknown_thread")); got != threadDrops+1 {
		t.Fatalf("unknown_thread drops = %v, want %v", got, threadDrops+1)
	}

	attDrops := testutil.ToFloat64(metrics.EventsDropped.WithLabelValues("unknown_attachment"))
	if _, applied, err := c.ApplyAttachmentStatus(uploads.ServerStatus{AttachmentID: "att-404", Status: models.UploadReady}); err != nil || applied {
		t.Fatalf("unknown attachment should be a no-op, applied=%v err=%v", applied, err)
	}
	if got := testutil.ToFloat64(metrics.EventsDropped.WithLabelValues("unknown_attachment")); got != attDrops+1 {
		t.Fatalf("unknown_attachment drops = %v, want %v", got, attDrops+1)
	}
}

func TestListenerPanicDoesNotStarveOthers(t *testing.T) {
	c := newController(t)
	second := false
	c.Subscribe(func([]Change, Snapshot) { panic("first listener") })
	c.Subscribe(func([]Change, Snapshot) { second = true })

	var recovered any
	func() {
		defer func() { recovered = recover() }()
		c.ApplyThreadEvent("t-1", &events.ThreadEvent{Type: events.ThreadStatusChanged, Status: "LOCKED"})
	}()
	if recovered != "first listener" {
		t.Fatalf("panic not propagated: %v", recovered)
	}
	if !second {
		t.Fatalf("second listener not notified")
	}
}

func TestSubscribeDisposerIsIdempotent(t *testing.T) {
	c := newController(t)
	count := 0
	unsubscribe := c.Subscribe(func([]Change, Snapshot) { count++ })
	unsubscribe()
	unsubscribe()
	c.ApplyThreadEvent("t-1", &events.ThreadEvent{Type: events.ThreadStatusChanged, Status: "LOCKED"})
	if count != 0 {
		t.Fatalf("disposed listener still notified %d times", count)
	}
}

func TestMarkThreadReadClearsInboxUnread(t *testing.T) {
	c := newController(t)
	c.ApplyThreadEvent("t-1", &events.ThreadEvent{
		Type:    events.MessageCreated,
		Message: &models.Message{MessageID: "m-2", AuthorUserID: "other", CreatedAt: at(5)},
	})
	if _, err := c.MarkThreadRead("t-1", ReadOptions{LastReadMsgID: "m-2"}); err != nil {
		t.Fatalf("MarkThreadRead: %v", err)
	}
	entry, _ := c.InboxState().Entry("t-1")
	if entry.UnreadCount != 0 {
		t.Fatalf("unread not cleared: %+v", entry)
	}
	if ids := c.UnreadMessageIDs("t-1", "viewer"); len(ids) != 0 {
		t.Fatalf("unread ids: %v", ids)
	}

	bare := New(Options{})
	if _, err := bare.MarkThreadRead("t-1", ReadOptions{}); err == nil {
		t.Fatalf("expected error without viewer or user id")
	}
}

func TestOptimisticFlowThroughController(t *testing.T) {
	c := newController(t)
	pending, err := c.EnqueueOptimistic("t-1", thread.OptimisticMessage{ClientID: "cl-1", AuthorUserID: "viewer", Body: "hi"})
	if err != nil {
		t.Fatalf("EnqueueOptimistic: %v", err)
	}
	if _, ok := pending.Message("temp:cl-1"); !ok {
		t.Fatalf("placeholder missing")
	}
	entry, _ := c.InboxState().Entry("t-1")
	if entry.UnreadCount != 0 {
		t.Fatalf("own send changed unread: %+v", entry)
	}

	resolved := c.ResolveOptimistic("t-1", "cl-1", models.Message{MessageID: "m-9", AuthorUserID: "viewer", CreatedAt: at(1)})
	if _, ok := resolved.Message("temp:cl-1"); ok {
		t.Fatalf("placeholder survived")
	}

	if _, err := c.EnqueueOptimistic("t-404", thread.OptimisticMessage{ClientID: "cl-2"}); err == nil {
		t.Fatalf("expected error for unknown thread")
	}
}

func TestApplyCardIntentUpdatesThreadAndInbox(t *testing.T) {
	c := newController(t)
	next, auditEvent, err := c.ApplyCardIntent("t-1", "c-1", "accept", actioncard.Options{ActorUserID: "viewer"})
	if err != nil {
		t.Fatalf("ApplyCardIntent: %v", err)
	}
	card, _ := next.Card("c-1")
	if card.State != "ACCEPTED" || card.Version != 2 {
		t.Fatalf("card: %+v", card)
	}
	if auditEvent == nil || auditEvent.ThreadID != "t-1" {
		t.Fatalf("audit: %+v", auditEvent)
	}
	if _, _, err := c.ApplyCardIntent("t-404", "c-1", "accept", actioncard.Options{}); err == nil {
		t.Fatalf("expected unknown thread error")
	}
}

func TestBlockThreadSyncsInboxAndOpensCase(t *testing.T) {
	c := newController(t)
	opened, err := c.BlockThread("t-1", ModerationOptions{Reason: "tos"})
	if err != nil {
		t.Fatalf("BlockThread: %v", err)
	}
	if opened == nil || opened.Type != models.CaseTypeThread || opened.Reason != "tos" {
		t.Fatalf("case: %+v", opened)
	}
	entry, _ := c.InboxState().Entry("t-1")
	if !entry.Blocked || entry.Status != "LOCKED" {
		t.Fatalf("inbox entry: %+v", entry)
	}
	st := c.ThreadState("t-1")
	if mod := st.Moderation(); mod == nil || !mod.Blocked || !mod.Locked {
		t.Fatalf("thread moderation: %+v", mod)
	}

	reopened, err := c.UnblockThread("t-1", ModerationOptions{})
	if err != nil {
		t.Fatalf("UnblockThread: %v", err)
	}
	if reopened != nil {
		t.Fatalf("unblock should not open a case by default")
	}
	entry, _ = c.InboxState().Entry("t-1")
	if entry.Blocked || entry.Status != "OPEN" {
		t.Fatalf("inbox entry after unblock: %+v", entry)
	}
}

func TestReportMessageSuppressedEnqueue(t *testing.T) {
	c := newController(t)
	off := false
	reported, err := c.ReportMessage("t-1", "m-1", ModerationOptions{Enqueue: &off, Reason: "spam"})
	if err != nil {
		t.Fatalf("ReportMessage: %v", err)
	}
	if reported != nil {
		t.Fatalf("case opened despite enqueue=false")
	}
	if c.ModerationState().Len() != 0 {
		t.Fatalf("queue not empty")
	}
	msg, _ := c.ThreadState("t-1").Message("m-1")
	if msg.Moderation == nil || msg.Moderation.Reason != "spam" {
		t.Fatalf("message moderation: %+v", msg.Moderation)
	}

	reported, err = c.ReportMessage("t-1", "m-1", ModerationOptions{Reason: "spam"})
	if err != nil || reported == nil || reported.Severity != "MEDIUM" {
		t.Fatalf("default report: %+v err=%v", reported, err)
	}
	if _, err := c.ReportMessage("", "m-1", ModerationOptions{}); err == nil {
		t.Fatalf("expected threadId error")
	}
}

func TestModerationDecisionResolvesCase(t *testing.T) {
	c := newController(t)
	opened, err := c.ReportThread("t-1", ModerationOptions{Reason: "harassment"})
	if err != nil || opened == nil {
		t.Fatalf("ReportThread: %+v err=%v", opened, err)
	}
	if _, err := c.SubmitModerationDecision(opened.CaseID, models.ModerationDecision{ActorID: "mod-1", Decision: "approve"}); err != nil {
		t.Fatalf("SubmitModerationDecision: %v", err)
	}
	resolved, _ := c.ModerationCase(opened.CaseID)
	if resolved.Status != models.CaseResolved || resolved.Resolution == nil {
		t.Fatalf("case not resolved: %+v", resolved)
	}
	if _, err := c.SubmitModerationDecision("", models.ModerationDecision{}); err == nil {
		t.Fatalf("expected caseId error")
	}
}

func TestUploadLifecycleThroughController(t *testing.T) {
	c := newController(t)
	item, err := c.RegisterUpload(uploads.Descriptor{
		ClientID: "u-1", FileName: "a.png", SizeBytes: 10,
		Metadata: map[string]any{"threadId": "t-1"},
	})
	if err != nil {
		t.Fatalf("RegisterUpload: %v", err)
	}
	if item.Status != models.UploadRequested {
		t.Fatalf("status: %+v", item)
	}
	if _, err := c.MarkUploadSigned("u-1", uploads.SignedDetails{AttachmentID: "att-1", UploadURL: "https://x"}); err != nil {
		t.Fatalf("MarkUploadSigned: %v", err)
	}
	if _, err := c.MarkUploadProgress("u-1", 5, 10); err != nil {
		t.Fatalf("MarkUploadProgress: %v", err)
	}
	if _, err := c.MarkUploadComplete("u-1", uploads.CompleteDetails{}); err != nil {
		t.Fatalf("MarkUploadComplete: %v", err)
	}
	item, changed, err := c.ApplyAttachmentStatus(uploads.ServerStatus{AttachmentID: "att-1", Status: "READY"})
	if err != nil || !changed || item.Status != models.UploadReady {
		t.Fatalf("ApplyAttachmentStatus: %+v changed=%v err=%v", item, changed, err)
	}

	if _, changed, err := c.ApplyAttachmentStatus(uploads.ServerStatus{AttachmentID: "att-404", Status: "READY"}); err != nil || changed {
		t.Fatalf("unknown attachment should no-op: changed=%v err=%v", changed, err)
	}

	if got := c.ListUploads("t-1"); len(got) != 1 {
		t.Fatalf("ListUploads: %+v", got)
	}
	if got := c.ListUploads("t-other"); len(got) != 0 {
		t.Fatalf("thread filter failed: %+v", got)
	}
}

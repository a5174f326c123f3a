package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"msgcore/pkg/controller"
	"msgcore/pkg/events"
	"msgcore/pkg/ids"
	"msgcore/pkg/models"
	"msgcore/pkg/thread"
	"msgcore/pkg/transport"
)

func at(min int) time.Time {
	return time.Date(2025, 6, 1, 12, min, 0, 0, time.UTC)
}

type codedErr struct {
	code string
	msg  string
}

func (e codedErr) Error() string { return e.msg }
func (e codedErr) Code() string  { return e.code }

func newFixture(t *testing.T) (*Client, *controller.Controller, *transport.Memory) {
	t.Helper()
	ctrl := controller.New(controller.Options{
		ViewerUserID: "viewer",
		Now:          func() time.Time { return at(0) },
		IDs:          ids.Sequential(),
		Inbox: &events.InboxPayload{
			Threads: []models.InboxEntry{
				{ThreadID: "t-1", Kind: models.KindProject, Status: "OPEN", LastMessageAt: at(0)},
			},
			Credits: models.Credits{Available: -1},
		},
		Threads: []events.ThreadPayload{
			{
				Thread: models.Thread{ThreadID: "t-1", Kind: models.KindProject, Status: "OPEN"},
				Messages: []models.Message{
					{MessageID: "m-1", AuthorUserID: "other", CreatedAt: at(0)},
				},
			},
		},
	})
	mem := transport.NewMemory(func() time.Time { return at(1) })
	c, err := New(Options{
		Controller: ctrl,
		Fetcher:    mem,
		Subscriber: mem,
		Mutations:  mem,
		Uploads:    mem,
		IDs:        ids.Sequential(),
		Sleep:      func(context.Context, time.Duration) error { return nil },
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c, ctrl, mem
}

func TestNewRequiresController(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error without controller")
	}
}

func TestSendMessageResolvesAck(t *testing.T) {
	c, ctrl, _ := newFixture(t)
	msg, err := c.SendMessage(context.Background(), "t-1", transport.SendInput{ClientID: "cl-1", Body: "hi"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg == nil || msg.MessageID != "srv-1" {
		t.Fatalf("ack: %+v", msg)
	}
	st := ctrl.ThreadState("t-1")
	if _, ok := st.Message(thread.TempID("cl-1")); ok {
		t.Fatalf("placeholder survived resolution")
	}
	acked, ok := st.Message("srv-1")
	if !ok || acked.Optimistic || acked.Delivery != models.DeliveryDelivered {
		t.Fatalf("acked message: %+v", acked)
	}
}

func TestSendMessageFailureMarksPlaceholder(t *testing.T) {
	c, ctrl, mem := newFixture(t)
	mem.FailNext("sendMessage", codedErr{code: "RATE_LIMITED", msg: "slow down"})
	if _, err := c.SendMessage(context.Background(), "t-1", transport.SendInput{ClientID: "cl-1", Body: "hi"}); err == nil {
		t.Fatalf("expected send error")
	}
	m, ok := ctrl.ThreadState("t-1").Message(thread.TempID("cl-1"))
	if !ok || m.Delivery != models.DeliveryFailed || m.ErrorCode != "RATE_LIMITED" {
		t.Fatalf("failed placeholder: %+v", m)
	}
}

func TestMarkThreadReadCompensatesOnFailure(t *testing.T) {
	c, _, mem := newFixture(t)
	mem.SetThreadPayload("t-1", map[string]any{
		"thread":   map[string]any{"threadId": "t-1", "kind": "PROJECT", "status": "OPEN"},
		"messages": []any{map[string]any{"messageId": "m-1", "authorUserId": "other"}},
	})
	mem.FailNext("markThreadRead", errors.New("backend down"))
	err := c.MarkThreadRead(context.Background(), "t-1", controller.ReadOptions{UserID: "viewer"})
	if err == nil {
		t.Fatalf("expected mutation error")
	}
	if mem.CallCount("fetchThread") != 1 {
		t.Fatalf("expected compensating refetch, calls %+v", mem.Calls())
	}
}

func TestPinThreadIsMutationFirst(t *testing.T) {
	c, ctrl, mem := newFixture(t)
	mem.FailNext("pinThread", errors.New("nope"))
	if _, err := c.PinThread(context.Background(), "t-1"); err == nil {
		t.Fatalf("expected pin error")
	}
	if entry, _ := ctrl.InboxState().Entry("t-1"); entry.Pinned {
		t.Fatalf("pin applied despite rejected mutation")
	}
	entry, err := c.PinThread(context.Background(), "t-1")
	if err != nil || !entry.Pinned {
		t.Fatalf("pin: %+v %v", entry, err)
	}
}

func TestBlockThreadRollsBackOnFailure(t *testing.T) {
	c, ctrl, mem := newFixture(t)
	mem.FailNext("blockThread", errors.New("rejected"))
	if _, err := c.BlockThread(context.Background(), "t-1", controller.ModerationOptions{Reason: "tos"}); err == nil {
		t.Fatalf("expected block error")
	}
	entry, _ := ctrl.InboxState().Entry("t-1")
	if entry.Blocked || entry.Status != "OPEN" {
		t.Fatalf("inbox entry not rolled back: %+v", entry)
	}
	if mod := ctrl.ThreadState("t-1").Moderation(); mod != nil && mod.Blocked {
		t.Fatalf("thread moderation not rolled back: %+v", mod)
	}
	if got := ctrl.ModerationState().Len(); got != 0 {
		t.Fatalf("case queue not rolled back, %d cases", got)
	}
}

func TestBlockThreadAppliesOnSuccess(t *testing.T) {
	c, ctrl, _ := newFixture(t)
	cs, err := c.BlockThread(context.Background(), "t-1", controller.ModerationOptions{Reason: "tos"})
	if err != nil || cs == nil {
		t.Fatalf("block: %v %+v", err, cs)
	}
	entry, _ := ctrl.InboxState().Entry("t-1")
	if !entry.Blocked {
		t.Fatalf("entry not blocked: %+v", entry)
	}
}

func TestReportThreadFailureMarksCase(t *testing.T) {
	c, ctrl, mem := newFixture(t)
	mem.FailNext("reportThread", codedErr{code: "FORBIDDEN", msg: "not allowed"})
	cs, err := c.ReportThread(context.Background(), "t-1", controller.ModerationOptions{Reason: "spam"})
	if err == nil {
		t.Fatalf("expected report error")
	}
	if cs == nil {
		t.Fatalf("local case missing")
	}
	got, ok := ctrl.ModerationCase(cs.CaseID)
	if !ok || got.Status != "FAILED" {
		t.Fatalf("case not marked failed: %+v", got)
	}
	if got.Metadata["errorCode"] != "FORBIDDEN" {
		t.Fatalf("failure metadata: %+v", got.Metadata)
	}
}

func TestThreadSubscriptionAppliesEvents(t *testing.T) {
	c, ctrl, mem := newFixture(t)
	dispose, err := c.StartThreadSubscription(context.Background(), "t-1", SubscribeOptions{DisableRefresh: true})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer dispose()
	mem.EmitThread("t-1", map[string]any{
		"type":    "MESSAGE_CREATED",
		"message": map[string]any{"messageId": "m-2", "authorUserId": "other"},
	})
	if _, ok := ctrl.ThreadState("t-1").Message("m-2"); !ok {
		t.Fatalf("subscription event not applied")
	}
}

func TestThreadStreamErrorTriggersRehydrate(t *testing.T) {
	c, _, mem := newFixture(t)
	mem.SetThreadPayload("t-1", map[string]any{
		"thread": map[string]any{"threadId": "t-1", "kind": "PROJECT", "status": "OPEN"},
	})
	if _, err := c.StartThreadSubscription(context.Background(), "t-1", SubscribeOptions{}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	mem.FailThreadStream("t-1", errors.New("socket dropped"))
	if mem.CallCount("fetchThread") != 1 {
		t.Fatalf("expected rehydrate after stream error, calls %+v", mem.Calls())
	}
}

func TestSubscriptionDisposersAreIdempotent(t *testing.T) {
	c, _, _ := newFixture(t)
	dispose, err := c.StartThreadSubscription(context.Background(), "t-1", SubscribeOptions{DisableRefresh: true})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := c.StartThreadSubscription(context.Background(), "t-1", SubscribeOptions{DisableRefresh: true}); err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	dispose()
	dispose()
	c.StopThreadSubscription("t-1")
}

func TestHydrateThreadFromFetcher(t *testing.T) {
	c, _, mem := newFixture(t)
	mem.SetThreadPayload("t-2", map[string]any{
		"thread": map[string]any{"threadId": "t-2", "kind": "CASUAL", "status": "OPEN"},
		"messages": []any{
			map[string]any{"messageId": "m-9", "authorUserId": "other", "body": "hello"},
		},
	})
	st, err := c.HydrateThread(context.Background(), "t-2", HydrateOptions{})
	if err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if st.Len() != 1 {
		t.Fatalf("hydrated thread: %d messages", st.Len())
	}
}

func TestPrepareUploadHappyPath(t *testing.T) {
	c, _, mem := newFixture(t)
	item, err := c.PrepareUpload(context.Background(), "t-1", UploadDescriptor{
		ClientID: "u-1",
		FileName: "photo.jpg",
		MimeType: "image/jpeg",
		Payload:  []byte("bytes"),
	}, UploadOptions{})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if item.Status != models.UploadReady || item.AttachmentID != "att_u-1" {
		t.Fatalf("final item: %+v", item)
	}
	if mem.CallCount("getUploadStatus") != 0 {
		t.Fatalf("happy path should not poll")
	}
}

func TestPrepareUploadPollsUntilTerminal(t *testing.T) {
	c, _, mem := newFixture(t)
	band := 2
	mem.ScriptStatus("att_u-1",
		transport.StatusUpdate{Status: "SCANNING"},
		transport.StatusUpdate{Status: "SCANNING"},
		transport.StatusUpdate{Status: "READY", NSFWBand: &band},
	)
	item, err := c.PrepareUpload(context.Background(), "t-1", UploadDescriptor{
		ClientID: "u-1",
		FileName: "photo.jpg",
		Payload:  []byte("bytes"),
	}, UploadOptions{PollMaxAttempts: 5})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if item.Status != models.UploadReady || item.NSFWBand != 2 {
		t.Fatalf("final item: %+v", item)
	}
	if mem.CallCount("getUploadStatus") != 2 {
		t.Fatalf("poll count: %d", mem.CallCount("getUploadStatus"))
	}
}

func TestPrepareUploadTimesOut(t *testing.T) {
	c, _, mem := newFixture(t)
	mem.ScriptStatus("att_u-2", transport.StatusUpdate{Status: "SCANNING"})
	item, err := c.PrepareUpload(context.Background(), "t-1", UploadDescriptor{
		ClientID: "u-2",
		FileName: "clip.mp4",
		Payload:  []byte("bytes"),
	}, UploadOptions{PollMaxAttempts: 3})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if item.Status != models.UploadFailed || item.ErrorCode != "UPLOAD_STATUS_TIMEOUT" {
		t.Fatalf("final item: %+v", item)
	}
	if mem.CallCount("getUploadStatus") != 3 {
		t.Fatalf("poll count: %d", mem.CallCount("getUploadStatus"))
	}
}

func TestPrepareUploadSessionFailure(t *testing.T) {
	c, _, mem := newFixture(t)
	mem.FailNext("createUploadSession", codedErr{code: "QUOTA_EXCEEDED", msg: "full"})
	item, err := c.PrepareUpload(context.Background(), "t-1", UploadDescriptor{ClientID: "u-3"}, UploadOptions{})
	if err == nil {
		t.Fatalf("expected session error")
	}
	if item.Status != models.UploadFailed || item.ErrorCode != "QUOTA_EXCEEDED" {
		t.Fatalf("final item: %+v", item)
	}
}

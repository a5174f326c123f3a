package transport

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryFetchAndSubscribe(t *testing.T) {
	m := NewMemory(nil)
	m.SetInboxPayload(map[string]any{"threads": []any{}})
	m.SetThreadPayload("t-1", map[string]any{"thread": map[string]any{"threadId": "t-1"}})

	ctx := context.Background()
	if _, err := m.FetchInbox(ctx, nil); err != nil {
		t.Fatalf("FetchInbox: %v", err)
	}
	if _, err := m.FetchThread(ctx, "t-404", nil); err == nil {
		t.Fatalf("expected error for unscripted thread")
	}

	var got []map[string]any
	dispose, err := m.SubscribeThread(ctx, "t-1", Handlers{
		Next: func(envelope map[string]any) { got = append(got, envelope) },
	})
	if err != nil {
		t.Fatalf("SubscribeThread: %v", err)
	}
	m.EmitThread("t-1", map[string]any{"type": "MESSAGE_CREATED"})
	m.EmitThread("t-2", map[string]any{"type": "MESSAGE_CREATED"})
	if len(got) != 1 {
		t.Fatalf("expected one delivery, got %d", len(got))
	}
	dispose()
	dispose()
	m.EmitThread("t-1", map[string]any{"type": "MESSAGE_CREATED"})
	if len(got) != 1 {
		t.Fatalf("disposed subscriber still delivered")
	}
}

func TestMemoryFailNextIsOneShot(t *testing.T) {
	m := NewMemory(nil)
	boom := errors.New("boom")
	m.FailNext("markThreadRead", boom)

	ctx := context.Background()
	if err := m.MarkThreadRead(ctx, "t-1", nil); !errors.Is(err, boom) {
		t.Fatalf("expected scripted failure, got %v", err)
	}
	if err := m.MarkThreadRead(ctx, "t-1", nil); err != nil {
		t.Fatalf("second call should succeed: %v", err)
	}
	if m.CallCount("markThreadRead") != 1 {
		t.Fatalf("failed call should not be recorded")
	}
}

func TestMemorySendMessageSynthesizesAck(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(func() time.Time { return now })
	ack, err := m.SendMessage(context.Background(), "t-1", SendInput{ClientID: "cl-1", AuthorUserID: "u-1", Body: "hi"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if ack["messageId"] != "srv-1" || ack["clientId"] != "cl-1" || ack["type"] != "TEXT" {
		t.Fatalf("ack: %+v", ack)
	}
}

func TestMemoryUploadStatusScripting(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()

	session, err := m.CreateUploadSession(ctx, "t-1", SessionRequest{ClientID: "u-1", FileName: "a.png"})
	if err != nil {
		t.Fatalf("CreateUploadSession: %v", err)
	}
	if session.AttachmentID != "att_u-1" {
		t.Fatalf("session: %+v", session)
	}

	m.ScriptStatus(session.AttachmentID, StatusUpdate{Status: "SCANNING"}, StatusUpdate{Status: "READY"})
	first, err := m.GetUploadStatus(ctx, session.AttachmentID)
	if err != nil || first == nil || first.Status != "SCANNING" {
		t.Fatalf("first status: %+v err=%v", first, err)
	}
	second, _ := m.GetUploadStatus(ctx, session.AttachmentID)
	if second == nil || second.Status != "READY" {
		t.Fatalf("second status: %+v", second)
	}
	if drained, _ := m.GetUploadStatus(ctx, session.AttachmentID); drained != nil {
		t.Fatalf("queue should be drained: %+v", drained)
	}
}

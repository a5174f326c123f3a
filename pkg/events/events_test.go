package events

import (
	"testing"
	"time"
)

func TestCanonicalizeType(t *testing.T) {
	cases := map[string]string{
		"messageCreatedEvent":   "MESSAGE_CREATED",
		"MESSAGE_NEW_EVENT":     "MESSAGE_NEW",
		"ThreadStatusChanged":   "THREAD_STATUS_CHANGED",
		"  presence  ":          "PRESENCE",
		"ACTION_CARD__UPDATED":  "ACTION_CARD_UPDATED",
		"projectPanelChange":    "PROJECT_PANEL_CHANGE",
		"":                      "",
	}
	for in, want := range cases {
		if got := CanonicalizeType(in); got != want {
			t.Fatalf("CanonicalizeType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMapThreadEnvelopeMessageCreated(t *testing.T) {
	ev := MapThreadEnvelope(map[string]any{
		"type": "messageNewEvent",
		"payload": map[string]any{
			"message": map[string]any{
				"id":        "m1",
				"body":      "hello",
				"senderId":  "u2",
				"createdAt": "2026-01-02T03:04:05Z",
				"clientId":  "c-9",
			},
		},
	})
	if ev == nil || ev.Type != MessageCreated {
		t.Fatalf("expected MESSAGE_CREATED, got %+v", ev)
	}
	if ev.Message.MessageID != "m1" || ev.Message.AuthorUserID != "u2" {
		t.Fatalf("unexpected message: %+v", ev.Message)
	}
	if ev.Message.ClientID != "c-9" {
		t.Fatalf("clientId not carried: %+v", ev.Message)
	}
	want := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if !ev.Message.CreatedAt.Equal(want) {
		t.Fatalf("createdAt = %v, want %v", ev.Message.CreatedAt, want)
	}
}

func TestMapThreadEnvelopeUnknownType(t *testing.T) {
	if ev := MapThreadEnvelope(map[string]any{"type": "SOMETHING_ELSE"}); ev != nil {
		t.Fatalf("expected nil for unknown type, got %+v", ev)
	}
}

func TestMapThreadEnvelopeMessageFailedRequiresClientID(t *testing.T) {
	if ev := MapThreadEnvelope(map[string]any{"type": "MESSAGE_ERROR"}); ev != nil {
		t.Fatalf("expected nil without clientId, got %+v", ev)
	}
	ev := MapThreadEnvelope(map[string]any{
		"type":    "MESSAGE_ERROR",
		"payload": map[string]any{"clientId": "c-1", "errorCode": "RATE_LIMITED"},
	})
	if ev == nil || ev.ClientID != "c-1" || ev.ErrorCode != "RATE_LIMITED" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestMapInboxEnvelopeMutedCarriesBoolean(t *testing.T) {
	ev := MapInboxEnvelope(map[string]any{
		"type":    "THREAD_UNMUTED",
		"payload": map[string]any{"threadId": "t1", "muted": false},
	})
	if ev == nil || ev.Type != ThreadMuted {
		t.Fatalf("expected THREAD_MUTED alias, got %+v", ev)
	}
	if ev.Muted == nil || *ev.Muted {
		t.Fatalf("expected muted=false, got %+v", ev.Muted)
	}
}

func TestNormalizeInboxPayloadEdges(t *testing.T) {
	got := NormalizeInboxPayload(map[string]any{
		"threads": map[string]any{
			"edges": []any{
				map[string]any{"node": map[string]any{"id": "t1", "kind": "project", "unread": float64(3)}},
				map[string]any{"node": map[string]any{"title": "no id"}},
			},
		},
	})
	if len(got.Threads) != 1 {
		t.Fatalf("expected 1 thread, got %d", len(got.Threads))
	}
	th := got.Threads[0]
	if th.ThreadID != "t1" || th.Kind != "PROJECT" || th.UnreadCount != 3 {
		t.Fatalf("unexpected thread: %+v", th)
	}
	if !got.Credits.Unlimited() {
		t.Fatalf("expected unlimited default credits, got %+v", got.Credits)
	}
	if got.RateLimit.Window != 24*time.Hour || got.RateLimit.MaxNew != 5 {
		t.Fatalf("unexpected rate limit defaults: %+v", got.RateLimit)
	}
}

func TestNormalizeThreadPayloadOptimisticFallback(t *testing.T) {
	payload, err := NormalizeThreadPayload(map[string]any{
		"thread": map[string]any{"threadId": "t1", "kind": "INQUIRY"},
		"messages": []any{
			map[string]any{"clientId": "c-5", "body": "pending"},
		},
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(payload.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(payload.Messages))
	}
	if payload.Messages[0].MessageID != "temp:c-5" {
		t.Fatalf("expected temp id, got %q", payload.Messages[0].MessageID)
	}
	if payload.PresenceTTL != 60*time.Second {
		t.Fatalf("presence ttl default = %v", payload.PresenceTTL)
	}
	if payload.SafeMode.BandMax != 1 {
		t.Fatalf("safe mode default = %+v", payload.SafeMode)
	}
}

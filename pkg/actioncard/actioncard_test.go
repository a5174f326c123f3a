package actioncard

import (
	"strings"
	"testing"
	"time"

	"msgcore/pkg/models"
)

func TestTransitionAdvancesStateAndVersion(t *testing.T) {
	card := models.ActionCard{
		CardID:     "ac1",
		ActionType: "RESCHEDULE",
		State:      "PENDING",
		Version:    3,
		Payload:    map[string]any{"slot": "2026-09-01T10:00:00Z"},
	}
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	next, audit, err := Transition(card, "ACCEPT", Options{Now: now, ActorUserID: "u1", ThreadID: "t1"})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if next.State != "ACCEPTED" || next.Version != 4 {
		t.Fatalf("unexpected card: state=%s version=%d", next.State, next.Version)
	}
	if next.LastIntent != "ACCEPT" {
		t.Fatalf("lastIntent = %q", next.LastIntent)
	}
	if card.State != "PENDING" || card.Version != 3 {
		t.Fatalf("input card mutated: %+v", card)
	}
	if audit == nil {
		t.Fatal("expected audit event")
	}
	if audit.FromState != "PENDING" || audit.ToState != "ACCEPTED" || audit.Category != "booking.schedule" {
		t.Fatalf("unexpected audit: %+v", audit)
	}
	if !audit.Timestamp.Equal(now) {
		t.Fatalf("audit timestamp = %v", audit.Timestamp)
	}
}

func TestTransitionRejectsUnknownIntent(t *testing.T) {
	card := models.ActionCard{ActionType: "RESCHEDULE", State: "PENDING"}
	_, _, err := Transition(card, "reject", Options{})
	if err == nil {
		t.Fatal("expected error for unknown intent")
	}
	if !strings.Contains(err.Error(), `"reject"`) || !strings.Contains(err.Error(), "RESCHEDULE:PENDING") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTransitionFromTerminalStateFails(t *testing.T) {
	card := models.ActionCard{ActionType: "ACCEPTANCE_ACK", State: "COMPLETED"}
	if !IsTerminal(card, Options{}) {
		t.Fatal("COMPLETED should be terminal")
	}
	if _, _, err := Transition(card, "acknowledge", Options{}); err == nil {
		t.Fatal("expected error from terminal state")
	}
}

func TestCardEmbeddedTransitionsWin(t *testing.T) {
	card := models.ActionCard{
		ActionType: "RESCHEDULE",
		State:      "PENDING",
		AllowedTransitions: []models.TransitionOption{
			{Intent: "postpone", To: "POSTPONED"},
		},
	}
	if _, _, err := Transition(card, "accept", Options{}); err == nil {
		t.Fatal("definition intents should be shadowed by card transitions")
	}
	next, _, err := Transition(card, "postpone", Options{})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if next.State != "POSTPONED" {
		t.Fatalf("state = %q", next.State)
	}
}

func TestTransitionExplicitVersionAndPayloadPatch(t *testing.T) {
	card := models.ActionCard{ActionType: "REQUEST_EXTRA", State: "PENDING", Version: 1}
	next, _, err := Transition(card, "approve", Options{
		Version:      9,
		PayloadPatch: map[string]any{"paid_at": "2026-08-30T00:00:00Z"},
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if next.Version != 9 {
		t.Fatalf("version = %d", next.Version)
	}
	if next.Payload["paid_at"] != "2026-08-30T00:00:00Z" {
		t.Fatalf("payload = %+v", next.Payload)
	}
}

func TestTransitionSuppressAudit(t *testing.T) {
	card := models.ActionCard{ActionType: "DISPUTE_OPEN", State: "OPEN"}
	next, audit, err := Transition(card, "escalate", Options{SuppressAudit: true})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if audit != nil {
		t.Fatalf("expected no audit event, got %+v", audit)
	}
	if next.State != "ESCALATED" {
		t.Fatalf("state = %q", next.State)
	}
}

func TestDescribe(t *testing.T) {
	card := models.ActionCard{ActionType: "REFUND_REQUEST", State: "SETTLED"}
	s := Describe(card, Options{})
	if s.Pending {
		t.Fatal("settled refund should not be pending")
	}
	if s.Category != "booking.refund" {
		t.Fatalf("category = %q", s.Category)
	}
	unknown := Describe(models.ActionCard{}, Options{})
	if unknown.Type != "UNKNOWN" || unknown.State != "UNKNOWN" || !unknown.Pending {
		t.Fatalf("unexpected summary: %+v", unknown)
	}
}

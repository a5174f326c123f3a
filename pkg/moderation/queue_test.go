package moderation

import (
	"testing"
	"time"

	"msgcore/pkg/models"
)

var t0 = time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)

func newCase(id string, dual bool) models.ModerationCase {
	return models.ModerationCase{
		CaseID:               id,
		Type:                 "message",
		ThreadID:             "t1",
		Reason:               "spam",
		RequiresDualApproval: dual,
	}
}

func TestEnqueueNormalizesAndFronts(t *testing.T) {
	s := NewState(nil, t0)
	s = s.Enqueue(newCase("c1", false), false, t0)
	s = s.Enqueue(newCase("c2", false), false, t0.Add(time.Minute))

	cases := s.Select(Filters{})
	if len(cases) != 2 || cases[0].CaseID != "c2" {
		t.Fatalf("expected c2 at front, got %+v", cases)
	}
	if cases[0].Type != models.CaseTypeMessage || cases[0].Status != models.CasePending {
		t.Fatalf("not normalized: %+v", cases[0])
	}
	if cases[0].Severity != "MEDIUM" {
		t.Fatalf("severity default = %q", cases[0].Severity)
	}
	if got := s.Stats(); got.Pending != 2 || got.Resolved != 0 {
		t.Fatalf("stats = %+v", got)
	}
}

func TestEnqueueIgnoresMissingCaseID(t *testing.T) {
	s := NewState(nil, t0)
	if next := s.Enqueue(models.ModerationCase{}, false, t0); next != s {
		t.Fatal("expected no-op for case without id")
	}
}

func TestSingleApprovalResolvesImmediately(t *testing.T) {
	s := NewState(nil, t0).Enqueue(newCase("c1", false), false, t0)
	s = s.SubmitDecision("c1", models.ModerationDecision{ActorID: "mod1", Decision: "approve"}, 0, t0.Add(time.Minute))

	c, ok := s.Case("c1")
	if !ok || c.Status != models.CaseResolved {
		t.Fatalf("expected resolved, got %+v", c)
	}
	if c.Resolution == nil || c.Resolution.Outcome != models.OutcomeApproved || c.Resolution.ResolvedBy != "mod1" {
		t.Fatalf("unexpected resolution: %+v", c.Resolution)
	}
	if got := s.Stats(); got.Resolved != 1 || got.Pending != 0 {
		t.Fatalf("stats = %+v", got)
	}
}

func TestDualApprovalNeedsDistinctActors(t *testing.T) {
	s := NewState(nil, t0).Enqueue(newCase("c1", true), false, t0)

	s = s.SubmitDecision("c1", models.ModerationDecision{ActorID: "mod1", Decision: "approve"}, 2, t0.Add(time.Minute))
	c, _ := s.Case("c1")
	if c.Status != models.CaseAwaitingSecond {
		t.Fatalf("status = %q, want AWAITING_SECOND_APPROVAL", c.Status)
	}
	if c.Resolution != nil {
		t.Fatalf("resolution should be nil while awaiting, got %+v", c.Resolution)
	}
	if got := s.Stats(); got.AwaitingSecond != 1 || got.DualApproval != 1 {
		t.Fatalf("stats = %+v", got)
	}

	// same actor deciding again replaces, does not finalize
	s = s.SubmitDecision("c1", models.ModerationDecision{ActorID: "mod1", Decision: "approve"}, 2, t0.Add(2*time.Minute))
	c, _ = s.Case("c1")
	if c.Status != models.CaseAwaitingSecond || len(c.Approvals) != 1 {
		t.Fatalf("same actor should not satisfy dual approval: %+v", c)
	}

	s = s.SubmitDecision("c1", models.ModerationDecision{ActorID: "mod2", Decision: "approved"}, 2, t0.Add(3*time.Minute))
	c, _ = s.Case("c1")
	if c.Status != models.CaseResolved || c.RequiresDualApproval {
		t.Fatalf("expected finalized case, got %+v", c)
	}
	if c.Resolution.Outcome != models.OutcomeApproved {
		t.Fatalf("outcome = %q", c.Resolution.Outcome)
	}
}

func TestTerminalOutcomeShortCircuitsDualApproval(t *testing.T) {
	s := NewState(nil, t0).Enqueue(newCase("c1", true), false, t0)
	s = s.SubmitDecision("c1", models.ModerationDecision{ActorID: "mod1", Decision: "deny"}, 2, t0.Add(time.Minute))
	c, _ := s.Case("c1")
	if c.Status != models.CaseResolved || c.Resolution.Outcome != models.OutcomeRejected {
		t.Fatalf("deny should finalize immediately: %+v", c)
	}
}

func TestResolvedCaseMovesToEnd(t *testing.T) {
	s := NewState(nil, t0)
	s = s.Enqueue(newCase("c1", false), false, t0)
	s = s.Enqueue(newCase("c2", false), false, t0)
	s = s.SubmitDecision("c1", models.ModerationDecision{ActorID: "mod1", Decision: "approve"}, 0, t0.Add(time.Minute))

	all := s.Select(Filters{})
	if all[len(all)-1].CaseID != "c1" {
		t.Fatalf("resolved case should be last, got order %+v", []string{all[0].CaseID, all[1].CaseID})
	}
}

func TestSelectFilters(t *testing.T) {
	s := NewState(nil, t0)
	c1 := newCase("c1", true)
	c1.Severity = "HIGH"
	c2 := newCase("c2", false)
	c2.Type = "thread"
	c2.ThreadID = "t2"
	s = s.Enqueue(c1, false, t0)
	s = s.Enqueue(c2, false, t0)

	if got := s.Select(Filters{Type: []string{"thread"}}); len(got) != 1 || got[0].CaseID != "c2" {
		t.Fatalf("type filter: %+v", got)
	}
	if got := s.Select(Filters{Severity: []string{"high"}}); len(got) != 1 || got[0].CaseID != "c1" {
		t.Fatalf("severity filter: %+v", got)
	}
	dual := true
	if got := s.Select(Filters{RequiresDualApproval: &dual}); len(got) != 1 || got[0].CaseID != "c1" {
		t.Fatalf("dual filter: %+v", got)
	}
	if got := s.Select(Filters{ThreadID: "t2"}); len(got) != 1 || got[0].CaseID != "c2" {
		t.Fatalf("thread filter: %+v", got)
	}
}

func TestRemove(t *testing.T) {
	s := NewState(nil, t0).Enqueue(newCase("c1", false), false, t0)
	s = s.Remove("c1", t0.Add(time.Minute))
	if s.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", s.Len())
	}
	if _, ok := s.Case("c1"); ok {
		t.Fatal("case should be gone")
	}
}

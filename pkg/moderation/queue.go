// Package moderation maintains the client-side moderation review queue:
// reported messages and threads, decision recording with dual-approval
// support, and recomputed queue statistics. State values are immutable.
package moderation

import (
	"strings"
	"time"

	"msgcore/pkg/models"
)

// DefaultRequiredApprovals is the number of distinct actors a
// dual-approval case needs before it finalizes.
const DefaultRequiredApprovals = 2

// State is an immutable moderation-queue snapshot. Active cases sit at
// the front of the order; resolved cases move to the end.
type State struct {
	casesByID   map[string]models.ModerationCase
	order       []string
	stats       models.ModerationStats
	lastUpdated time.Time
}

// NewState builds a queue from an optional initial case list.
func NewState(cases []models.ModerationCase, now time.Time) *State {
	s := &State{casesByID: map[string]models.ModerationCase{}}
	for _, c := range cases {
		nc, ok := normalizeCase(c, now)
		if !ok {
			continue
		}
		s.casesByID[nc.CaseID] = nc
		s.order = append(s.order, nc.CaseID)
	}
	s.refresh(now)
	return s
}

func (s *State) clone() *State {
	next := *s
	next.casesByID = make(map[string]models.ModerationCase, len(s.casesByID))
	for id, c := range s.casesByID {
		next.casesByID[id] = c.Clone()
	}
	next.order = make([]string, len(s.order))
	copy(next.order, s.order)
	return &next
}

func (s *State) refresh(now time.Time) {
	var stats models.ModerationStats
	for _, c := range s.casesByID {
		if c.Status == models.CaseResolved {
			stats.Resolved++
			continue
		}
		stats.Pending++
		if c.RequiresDualApproval {
			stats.DualApproval++
		}
		if c.Status == models.CaseAwaitingSecond {
			stats.AwaitingSecond++
		}
	}
	s.stats = stats
	s.lastUpdated = now
}

func upper(s, fallback string) string {
	v := strings.ToUpper(strings.TrimSpace(s))
	if v == "" {
		return fallback
	}
	return v
}

func normalizeCase(c models.ModerationCase, now time.Time) (models.ModerationCase, bool) {
	if strings.TrimSpace(c.CaseID) == "" {
		return models.ModerationCase{}, false
	}
	out := c.Clone()
	out.CaseID = strings.TrimSpace(c.CaseID)
	out.Status = upper(c.Status, models.CasePending)
	out.Severity = upper(c.Severity, "MEDIUM")
	typ := upper(c.Type, "")
	if typ != models.CaseTypeThread && typ != models.CaseTypeMessage {
		typ = models.CaseTypeMessage
	}
	out.Type = typ
	if out.CreatedAt.IsZero() {
		if !out.ReportedAt.IsZero() {
			out.CreatedAt = out.ReportedAt
		} else {
			out.CreatedAt = now
		}
	}
	if out.ReportedAt.IsZero() {
		out.ReportedAt = out.CreatedAt
	}
	if out.LastUpdatedAt.IsZero() {
		out.LastUpdatedAt = out.ReportedAt
	}
	kept := out.Approvals[:0]
	for _, d := range out.Approvals {
		d.Decision = upper(d.Decision, "")
		if d.Decision == "" {
			continue
		}
		kept = append(kept, d)
	}
	out.Approvals = kept
	if out.Resolution != nil {
		out.Resolution.Outcome = upper(out.Resolution.Outcome, "")
	}
	return out, true
}

func remove(order []string, id string) []string {
	out := order[:0]
	for _, v := range order {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// Case returns a copy of one case.
func (s *State) Case(caseID string) (models.ModerationCase, bool) {
	c, ok := s.casesByID[caseID]
	if !ok {
		return models.ModerationCase{}, false
	}
	return c.Clone(), true
}

// Enqueue adds or replaces a case. New and re-enqueued cases move to
// the front unless append is requested. Invalid cases are ignored.
func (s *State) Enqueue(c models.ModerationCase, appendEnd bool, now time.Time) *State {
	nc, ok := normalizeCase(c, now)
	if !ok {
		return s
	}
	next := s.clone()
	next.casesByID[nc.CaseID] = nc
	next.order = remove(next.order, nc.CaseID)
	if appendEnd {
		next.order = append(next.order, nc.CaseID)
	} else {
		next.order = append([]string{nc.CaseID}, next.order...)
	}
	next.refresh(now)
	return next
}

// CasePatch is a partial case update; nil fields are untouched.
type CasePatch struct {
	Type                 *string
	Status               *string
	Severity             *string
	ThreadID             *string
	MessageID            *string
	Reason               *string
	RequiresDualApproval *bool
	Approvals            []models.ModerationDecision
	Metadata             map[string]any
	HasMetadata          bool
	Resolution           *models.ModerationResolution
	HasResolution        bool
}

// Update patches an existing case and moves it to the front of the
// queue. Unknown case ids are a no-op.
func (s *State) Update(caseID string, patch CasePatch, now time.Time) *State {
	cur, ok := s.casesByID[caseID]
	if !ok {
		return s
	}
	next := s.clone()
	c := cur.Clone()
	if patch.Type != nil {
		if t := upper(*patch.Type, ""); t == models.CaseTypeThread || t == models.CaseTypeMessage {
			c.Type = t
		}
	}
	if patch.Status != nil {
		c.Status = upper(*patch.Status, c.Status)
	}
	if patch.Severity != nil {
		c.Severity = upper(*patch.Severity, c.Severity)
	}
	if patch.ThreadID != nil {
		c.ThreadID = *patch.ThreadID
	}
	if patch.MessageID != nil {
		c.MessageID = *patch.MessageID
	}
	if patch.Reason != nil {
		c.Reason = *patch.Reason
	}
	if patch.RequiresDualApproval != nil {
		c.RequiresDualApproval = *patch.RequiresDualApproval
	}
	if patch.Approvals != nil {
		c.Approvals = nil
		for _, d := range patch.Approvals {
			d.Decision = upper(d.Decision, "")
			if d.Decision == "" {
				continue
			}
			c.Approvals = append(c.Approvals, d)
		}
	}
	if patch.HasMetadata {
		c.Metadata = patch.Metadata
	}
	if patch.HasResolution {
		c.Resolution = patch.Resolution
	}
	c.LastUpdatedAt = now
	next.casesByID[caseID] = c
	next.order = append([]string{caseID}, remove(next.order, caseID)...)
	next.refresh(now)
	return next
}

// MapOutcome canonicalizes a decision verb: approve/approved collapse
// to APPROVED, reject/deny variants to REJECTED, and so on. Unknown
// verbs pass through upper-cased.
func MapOutcome(decision string) string {
	switch upper(decision, "") {
	case "APPROVE", "APPROVED":
		return models.OutcomeApproved
	case "REJECT", "REJECTED", "DENY", "DENIED":
		return models.OutcomeRejected
	case "ESCALATE", "ESCALATED":
		return models.OutcomeEscalated
	case "OVERRIDE", "OVERRIDDEN":
		return models.OutcomeOverridden
	default:
		return upper(decision, "")
	}
}

func isTerminalOutcome(outcome string) bool {
	switch outcome {
	case models.OutcomeRejected, models.OutcomeEscalated, models.OutcomeOverridden, models.OutcomeBlocked:
		return true
	}
	return false
}

func uniqueActors(approvals []models.ModerationDecision) int {
	seen := map[string]bool{}
	for _, d := range approvals {
		key := d.ActorID
		if key == "" {
			key = d.Decision + ":" + d.DecidedAt.UTC().Format(time.RFC3339Nano)
		}
		seen[key] = true
	}
	return len(seen)
}

// SubmitDecision records one actor's decision. Terminal outcomes
// (reject, escalate, override, block) finalize immediately. Otherwise a
// dual-approval case waits at the front of the queue until the required
// number of distinct actors have decided; single-approval cases
// finalize at once. Resolved cases move to the end of the queue.
func (s *State) SubmitDecision(caseID string, decision models.ModerationDecision, requiredApprovals int, now time.Time) *State {
	cur, ok := s.casesByID[caseID]
	if !ok {
		return s
	}
	decision.Decision = upper(decision.Decision, "")
	if decision.Decision == "" {
		return s
	}
	if decision.DecidedAt.IsZero() {
		decision.DecidedAt = now
	}
	if requiredApprovals <= 0 {
		requiredApprovals = DefaultRequiredApprovals
	}

	next := s.clone()
	c := cur.Clone()
	replaced := false
	for i, d := range c.Approvals {
		if d.ActorID != "" && d.ActorID == decision.ActorID {
			c.Approvals[i] = decision
			replaced = true
			break
		}
	}
	if !replaced {
		c.Approvals = append(c.Approvals, decision)
	}
	c.LastUpdatedAt = decision.DecidedAt

	outcome := MapOutcome(decision.Decision)
	finalize := func(finalOutcome string) {
		if finalOutcome == "" {
			finalOutcome = models.OutcomeResolved
		}
		c.Status = models.CaseResolved
		c.RequiresDualApproval = false
		c.Resolution = &models.ModerationResolution{
			Outcome:    finalOutcome,
			Notes:      decision.Notes,
			ResolvedBy: decision.ActorID,
			ResolvedAt: decision.DecidedAt,
		}
		next.order = append(remove(next.order, caseID), caseID)
	}

	switch {
	case isTerminalOutcome(outcome):
		finalize(outcome)
	case c.RequiresDualApproval:
		if uniqueActors(c.Approvals) >= requiredApprovals {
			finalize(outcome)
		} else {
			c.Status = models.CaseAwaitingSecond
			c.Resolution = nil
			next.order = append([]string{caseID}, remove(next.order, caseID)...)
		}
	default:
		finalize(outcome)
	}

	next.casesByID[caseID] = c
	next.refresh(now)
	return next
}

// Resolve marks a case resolved with an explicit resolution, bypassing
// the decision flow.
func (s *State) Resolve(caseID string, res models.ModerationResolution, now time.Time) *State {
	cur, ok := s.casesByID[caseID]
	if !ok {
		return s
	}
	res.Outcome = upper(res.Outcome, models.OutcomeResolved)
	if res.ResolvedAt.IsZero() {
		res.ResolvedAt = now
	}
	next := s.clone()
	c := cur.Clone()
	c.Status = models.CaseResolved
	c.RequiresDualApproval = false
	c.Resolution = &res
	c.LastUpdatedAt = res.ResolvedAt
	next.casesByID[caseID] = c
	next.order = append(remove(next.order, caseID), caseID)
	next.refresh(now)
	return next
}

// Remove deletes a case from the queue.
func (s *State) Remove(caseID string, now time.Time) *State {
	if _, ok := s.casesByID[caseID]; !ok {
		return s
	}
	next := s.clone()
	delete(next.casesByID, caseID)
	next.order = remove(next.order, caseID)
	next.refresh(now)
	return next
}

// Filters narrows Select results. Empty fields match everything.
type Filters struct {
	Status               []string
	Severity             []string
	Type                 []string
	RequiresDualApproval *bool
	ThreadID             string
}

func filterSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	set := map[string]bool{}
	for _, v := range values {
		if u := upper(v, ""); u != "" {
			set[u] = true
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

// Select returns cases in queue order, filtered.
func (s *State) Select(f Filters) []models.ModerationCase {
	statuses := filterSet(f.Status)
	severities := filterSet(f.Severity)
	types := filterSet(f.Type)
	var out []models.ModerationCase
	for _, id := range s.order {
		c, ok := s.casesByID[id]
		if !ok {
			continue
		}
		if statuses != nil && !statuses[c.Status] {
			continue
		}
		if severities != nil && !severities[c.Severity] {
			continue
		}
		if types != nil && !types[c.Type] {
			continue
		}
		if f.RequiresDualApproval != nil && c.RequiresDualApproval != *f.RequiresDualApproval {
			continue
		}
		if f.ThreadID != "" && c.ThreadID != f.ThreadID {
			continue
		}
		out = append(out, c.Clone())
	}
	return out
}

// Pending returns cases still awaiting a first decision.
func (s *State) Pending() []models.ModerationCase {
	return s.Select(Filters{Status: []string{models.CasePending}})
}

// Stats returns the queue statistics.
func (s *State) Stats() models.ModerationStats { return s.stats }

// Len returns the number of cases in the queue.
func (s *State) Len() int { return len(s.order) }

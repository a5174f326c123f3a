package models

import "time"

// Moderation case types.
const (
	CaseTypeMessage = "MESSAGE"
	CaseTypeThread  = "THREAD"
)

// Moderation case statuses. Status strings are free-form upper-case;
// these are the ones the queue itself assigns.
const (
	CasePending        = "PENDING"
	CaseAwaitingSecond = "AWAITING_SECOND_APPROVAL"
	CaseResolved       = "RESOLVED"
)

// Decision outcomes recorded on a resolution.
const (
	OutcomeApproved   = "APPROVED"
	OutcomeRejected   = "REJECTED"
	OutcomeEscalated  = "ESCALATED"
	OutcomeOverridden = "OVERRIDDEN"
	OutcomeBlocked    = "BLOCKED"
	OutcomeResolved   = "RESOLVED"
)

// ModerationCase is a queued review item. Dual-approval cases require
// decisions from distinct actors before finalizing.
type ModerationCase struct {
	CaseID               string                `json:"case_id"`
	Type                 string                `json:"type"`
	ThreadID             string                `json:"thread_id,omitempty"`
	MessageID            string                `json:"message_id,omitempty"`
	Status               string                `json:"status"`
	Severity             string                `json:"severity"`
	Reason               string                `json:"reason,omitempty"`
	ReportedBy           string                `json:"reported_by,omitempty"`
	ReportedAt           time.Time             `json:"reported_at"`
	AuditTrailID         string                `json:"audit_trail_id,omitempty"`
	RequiresDualApproval bool                  `json:"requires_dual_approval,omitempty"`
	Approvals            []ModerationDecision  `json:"approvals,omitempty"`
	Metadata             map[string]any        `json:"metadata,omitempty"`
	Source               map[string]any        `json:"source,omitempty"`
	CreatedAt            time.Time             `json:"created_at"`
	LastUpdatedAt        time.Time             `json:"last_updated_at"`
	Resolution           *ModerationResolution `json:"resolution,omitempty"`
}

// Clone copies the case including approvals, metadata, source, and the
// resolution record.
func (c ModerationCase) Clone() ModerationCase {
	out := c
	if c.Approvals != nil {
		out.Approvals = make([]ModerationDecision, len(c.Approvals))
		copy(out.Approvals, c.Approvals)
	}
	if c.Metadata != nil {
		out.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	if c.Source != nil {
		out.Source = make(map[string]any, len(c.Source))
		for k, v := range c.Source {
			out.Source[k] = v
		}
	}
	if c.Resolution != nil {
		r := *c.Resolution
		out.Resolution = &r
	}
	return out
}

// ModerationDecision is one actor's recorded decision on a case. A
// later decision by the same actor replaces the earlier one.
type ModerationDecision struct {
	ActorID   string    `json:"actor_id,omitempty"`
	ActorRole string    `json:"actor_role,omitempty"`
	Decision  string    `json:"decision"`
	Notes     string    `json:"notes,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

// ModerationResolution records the final state of a resolved case.
type ModerationResolution struct {
	Outcome    string    `json:"outcome"`
	Notes      string    `json:"notes,omitempty"`
	ResolvedBy string    `json:"resolved_by,omitempty"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// ModerationStats is recomputed from scratch after every queue change.
type ModerationStats struct {
	Pending        int `json:"pending"`
	DualApproval   int `json:"dual_approval"`
	AwaitingSecond int `json:"awaiting_second"`
	Resolved       int `json:"resolved"`
}

// Package actioncard drives the state machines behind interactive
// workflow cards: reschedules, extras, overtime, deliverables,
// cancellations, refunds, deposit claims, and disputes. Each card type
// has a definition naming its per-state intents and terminal states; a
// card may override the table with its own transition list.
package actioncard

import (
	"fmt"
	"strings"
	"time"

	"msgcore/pkg/models"
)

// Definition describes one card type's state machine.
type Definition struct {
	Category string
	States   map[string]map[string]string // state -> intent -> next state
	Terminal []string
}

// DefaultDefinitions is the stock state-machine table.
var DefaultDefinitions = map[string]Definition{
	"RESCHEDULE": {
		Category: "booking.schedule",
		States: map[string]map[string]string{
			"PENDING": {"accept": "ACCEPTED", "decline": "DECLINED", "expire": "EXPIRED"},
		},
		Terminal: []string{"ACCEPTED", "DECLINED", "EXPIRED"},
	},
	"REQUEST_EXTRA": {
		Category: "booking.extras",
		States: map[string]map[string]string{
			"PENDING": {"approve": "PAID", "decline": "DECLINED", "fail": "FAILED"},
			"PAID":    {"refund": "REFUNDED"},
		},
		Terminal: []string{"PAID", "DECLINED", "FAILED", "REFUNDED"},
	},
	"OVERTIME_START": {
		Category: "booking.overtime",
		States: map[string]map[string]string{
			"PENDING": {"confirm": "RUNNING", "cancel": "CANCELLED"},
			"RUNNING": {"stop": "STOPPED"},
		},
		Terminal: []string{"STOPPED", "CANCELLED"},
	},
	"OVERTIME_STOP": {
		Category: "booking.overtime",
		States: map[string]map[string]string{
			"PENDING": {"confirm": "STOPPED", "fail": "FAILED"},
		},
		Terminal: []string{"STOPPED", "FAILED"},
	},
	"DELIVERABLE_PROOF": {
		Category: "deliverables.proof",
		States: map[string]map[string]string{
			"SUBMITTED":          {"approve": "APPROVED", "request_revisions": "REVISION_REQUESTED"},
			"REVISION_REQUESTED": {"resubmit": "SUBMITTED", "cancel": "CANCELLED"},
		},
		Terminal: []string{"APPROVED", "CANCELLED"},
	},
	"DELIVERABLE_FINAL": {
		Category: "deliverables.final",
		States: map[string]map[string]string{
			"SUBMITTED":          {"acknowledge": "ACCEPTED", "request_revisions": "REVISION_REQUESTED"},
			"REVISION_REQUESTED": {"resubmit": "SUBMITTED", "cancel": "CANCELLED"},
		},
		Terminal: []string{"ACCEPTED", "CANCELLED"},
	},
	"CANCEL_REQUEST": {
		Category: "booking.cancellation",
		States: map[string]map[string]string{
			"PENDING":   {"approve": "APPROVED", "decline": "DECLINED", "escalate": "ESCALATED"},
			"ESCALATED": {"resolve": "RESOLVED"},
		},
		Terminal: []string{"APPROVED", "DECLINED", "RESOLVED"},
	},
	"REFUND_REQUEST": {
		Category: "booking.refund",
		States: map[string]map[string]string{
			"PENDING":   {"approve": "APPROVED", "decline": "DECLINED", "escalate": "ESCALATED"},
			"APPROVED":  {"settle": "SETTLED"},
			"ESCALATED": {"resolve": "RESOLVED"},
		},
		Terminal: []string{"DECLINED", "SETTLED", "RESOLVED"},
	},
	"ACCEPTANCE_ACK": {
		Category: "booking.completion",
		States: map[string]map[string]string{
			"PENDING": {"acknowledge": "COMPLETED"},
		},
		Terminal: []string{"COMPLETED"},
	},
	"DEPOSIT_CLAIM_OPEN": {
		Category: "finance.deposit_claim",
		States: map[string]map[string]string{
			"PENDING":   {"approve": "APPROVED", "deny": "DENIED", "escalate": "ESCALATED"},
			"ESCALATED": {"resolve": "RESOLVED"},
		},
		Terminal: []string{"APPROVED", "DENIED", "RESOLVED"},
	},
	"DISPUTE_OPEN": {
		Category: "finance.dispute",
		States: map[string]map[string]string{
			"OPEN":      {"settle": "SETTLED", "escalate": "ESCALATED"},
			"ESCALATED": {"resolve": "RESOLVED"},
		},
		Terminal: []string{"SETTLED", "RESOLVED"},
	},
}

// Options tunes a transition call. The zero value uses the defaults.
type Options struct {
	Definitions map[string]Definition
	// Now stamps the transitioned card; zero means time.Now().
	Now time.Time
	// Version, when > 0, replaces the card version outright; otherwise
	// the current version advances by VersionIncrement (default 1).
	Version          int
	VersionIncrement int
	Metadata         map[string]any
	PayloadPatch     map[string]any
	MutatePayload    func(payload map[string]any, next *models.ActionCard) map[string]any
	ActorUserID      string
	ThreadID         string
	AuditMetadata    map[string]any
	SuppressAudit    bool
}

func (o Options) definitions() map[string]Definition {
	if o.Definitions != nil {
		return o.Definitions
	}
	return DefaultDefinitions
}

// Lookup returns the definition for a card type, if one is configured.
func Lookup(actionType string, opts Options) (Definition, bool) {
	def, ok := opts.definitions()[actionType]
	return def, ok
}

// AllowedTransitions lists the intents available from the card's current
// state. A transition list embedded on the card takes precedence over
// the definition table.
func AllowedTransitions(card models.ActionCard, opts Options) []models.TransitionOption {
	if card.AllowedTransitions != nil {
		out := make([]models.TransitionOption, 0, len(card.AllowedTransitions))
		for _, tr := range card.AllowedTransitions {
			if tr.Intent == "" || tr.To == "" {
				continue
			}
			out = append(out, tr)
		}
		return out
	}
	def, ok := Lookup(card.ActionType, opts)
	if !ok {
		return nil
	}
	stateConfig, ok := def.States[card.State]
	if !ok {
		return nil
	}
	out := make([]models.TransitionOption, 0, len(stateConfig))
	for intent, to := range stateConfig {
		out = append(out, models.TransitionOption{Intent: intent, To: to})
	}
	return out
}

// AuditEvent records one applied transition for the audit trail.
type AuditEvent struct {
	CardID      string         `json:"card_id,omitempty"`
	ActionType  string         `json:"action_type"`
	FromState   string         `json:"from_state"`
	ToState     string         `json:"to_state"`
	Intent      string         `json:"intent"`
	Version     int            `json:"version"`
	ActorUserID string         `json:"actor_user_id,omitempty"`
	ThreadID    string         `json:"thread_id,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Category    string         `json:"category,omitempty"`
}

// Transition applies an intent to a card, returning the advanced card
// and an audit event (nil when suppressed). The input card is not
// modified. Intent matching is case-insensitive.
func Transition(card models.ActionCard, intent string, opts Options) (models.ActionCard, *AuditEvent, error) {
	if intent == "" {
		return models.ActionCard{}, nil, fmt.Errorf("transition requires an intent")
	}
	var match *models.TransitionOption
	lowered := strings.ToLower(intent)
	for _, tr := range AllowedTransitions(card, opts) {
		if strings.ToLower(tr.Intent) == lowered || tr.Intent == intent {
			m := tr
			match = &m
			break
		}
	}
	if match == nil {
		actionType := card.ActionType
		if actionType == "" {
			actionType = "UNKNOWN"
		}
		state := card.State
		if state == "" {
			state = "UNKNOWN"
		}
		return models.ActionCard{}, nil, fmt.Errorf("invalid transition %q for %s:%s", intent, actionType, state)
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	version := opts.Version
	if version <= 0 {
		inc := opts.VersionIncrement
		if inc == 0 {
			inc = 1
		}
		version = card.Version + inc
	}

	next := card.Clone()
	next.State = match.To
	next.Version = version
	next.UpdatedAt = now
	next.LastIntent = intent
	if len(opts.Metadata) > 0 {
		if next.Metadata == nil {
			next.Metadata = make(map[string]any, len(opts.Metadata))
		}
		for k, v := range opts.Metadata {
			next.Metadata[k] = v
		}
	}
	if opts.MutatePayload != nil {
		payload := next.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		next.Payload = opts.MutatePayload(payload, &next)
	} else if len(opts.PayloadPatch) > 0 {
		if next.Payload == nil {
			next.Payload = make(map[string]any, len(opts.PayloadPatch))
		}
		for k, v := range opts.PayloadPatch {
			next.Payload[k] = v
		}
	}

	var audit *AuditEvent
	if !opts.SuppressAudit {
		category := ""
		if def, ok := Lookup(card.ActionType, opts); ok {
			category = def.Category
		}
		audit = &AuditEvent{
			CardID:      card.CardID,
			ActionType:  card.ActionType,
			FromState:   card.State,
			ToState:     match.To,
			Intent:      intent,
			Version:     version,
			ActorUserID: opts.ActorUserID,
			ThreadID:    opts.ThreadID,
			Timestamp:   now,
			Metadata:    opts.AuditMetadata,
			Category:    category,
		}
	}
	return next, audit, nil
}

// IsTerminal reports whether the card's state admits no further
// transitions under its definition. Unknown types are never terminal.
func IsTerminal(card models.ActionCard, opts Options) bool {
	def, ok := Lookup(card.ActionType, opts)
	if !ok {
		return false
	}
	for _, s := range def.Terminal {
		if s == card.State {
			return true
		}
	}
	return false
}

// Summary is a lightweight description used for surfacing cards in UI
// ordering decisions.
type Summary struct {
	Type          string    `json:"type"`
	State         string    `json:"state"`
	Pending       bool      `json:"pending"`
	Category      string    `json:"category,omitempty"`
	LastUpdatedAt time.Time `json:"last_updated_at,omitempty"`
}

// Describe summarizes a card for display.
func Describe(card models.ActionCard, opts Options) Summary {
	s := Summary{
		Type:          card.ActionType,
		State:         card.State,
		Pending:       !IsTerminal(card, opts),
		LastUpdatedAt: card.UpdatedAt,
	}
	if s.Type == "" {
		s.Type = "UNKNOWN"
	}
	if s.State == "" {
		s.State = "UNKNOWN"
	}
	if def, ok := Lookup(card.ActionType, opts); ok {
		s.Category = def.Category
	}
	return s
}

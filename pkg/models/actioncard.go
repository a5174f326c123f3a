package models

import "time"

// ActionCard is an interactive workflow card embedded in a thread.
// Version gates concurrent updates: a card update with a version at or
// below the stored version is discarded.
type ActionCard struct {
	CardID     string         `json:"card_id"`
	ThreadID   string         `json:"thread_id,omitempty"`
	ActionType string         `json:"action_type"`
	State      string         `json:"state"`
	Version    int            `json:"version"`
	Payload    map[string]any `json:"payload,omitempty"`
	Category   string         `json:"category,omitempty"`
	// AllowedTransitions, when set on the card itself, overrides the
	// engine's definition table for this card.
	AllowedTransitions []TransitionOption `json:"allowed_transitions,omitempty"`
	LastIntent         string             `json:"last_intent,omitempty"`
	Metadata           map[string]any     `json:"metadata,omitempty"`
	UpdatedAt          time.Time          `json:"updated_at,omitempty"`
}

// TransitionOption names one intent available from a card state and the
// state it leads to.
type TransitionOption struct {
	Intent string `json:"intent"`
	To     string `json:"to"`
}

// Clone returns a deep-enough copy of the card for copy-on-write stores:
// the payload map and transition table are duplicated one level deep.
func (c ActionCard) Clone() ActionCard {
	out := c
	if c.Payload != nil {
		out.Payload = make(map[string]any, len(c.Payload))
		for k, v := range c.Payload {
			out.Payload[k] = v
		}
	}
	if c.AllowedTransitions != nil {
		out.AllowedTransitions = make([]TransitionOption, len(c.AllowedTransitions))
		copy(out.AllowedTransitions, c.AllowedTransitions)
	}
	if c.Metadata != nil {
		out.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

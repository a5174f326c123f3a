package models

import "time"

// DeliveryState tracks an optimistic message's lifecycle on the sender's
// device.
type DeliveryState string

const (
	DeliverySending   DeliveryState = "SENDING"
	DeliveryDelivered DeliveryState = "DELIVERED"
	DeliveryFailed    DeliveryState = "FAILED"
)

// Message is a single timeline entry. Optimistic placeholders use a
// synthetic MessageID of the form "temp:<client id>" until the server
// acknowledges them.
type Message struct {
	MessageID    string             `json:"message_id"`
	ThreadID     string             `json:"thread_id"`
	ClientID     string             `json:"client_id,omitempty"`
	AuthorUserID string             `json:"author_user_id"`
	Type         string             `json:"type,omitempty"`
	Body         string             `json:"body,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	EditedAt     time.Time          `json:"edited_at,omitempty"`
	NSFWBand     int                `json:"nsfw_band,omitempty"`
	Action       map[string]any     `json:"action,omitempty"`
	Attachments  []Attachment       `json:"attachments,omitempty"`
	Delivery     DeliveryState      `json:"delivery,omitempty"`
	ErrorCode    string             `json:"error_code,omitempty"`
	Moderation   *MessageModeration `json:"moderation,omitempty"`
	Optimistic   bool               `json:"optimistic,omitempty"`
}

// Clone copies the message including its attachments, action payload,
// and moderation record.
func (m Message) Clone() Message {
	out := m
	if m.Attachments != nil {
		out.Attachments = make([]Attachment, len(m.Attachments))
		for i, a := range m.Attachments {
			out.Attachments[i] = a.Clone()
		}
	}
	if m.Action != nil {
		out.Action = make(map[string]any, len(m.Action))
		for k, v := range m.Action {
			out.Action[k] = v
		}
	}
	out.Moderation = m.Moderation.Clone()
	return out
}

// MessageModeration flags a single message as hidden or annotated by a
// moderation decision.
type MessageModeration struct {
	Hidden    bool      `json:"hidden,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Severity  string    `json:"severity,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Clone returns a copy of the moderation record.
func (m *MessageModeration) Clone() *MessageModeration {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// Attachment is an opaque attachment descriptor carried on messages.
// Fields beyond the id are product-defined and passed through untouched.
type Attachment map[string]any

// ID returns the attachment id field, if present.
func (a Attachment) ID() string {
	s, _ := a["attachment_id"].(string)
	return s
}

// Clone copies the attachment map one level deep.
func (a Attachment) Clone() Attachment {
	out := make(Attachment, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Package events canonicalizes raw transport envelopes into the typed
// events consumed by the inbox and thread stores. Payloads arrive as
// decoded JSON maps with provider-specific field aliases; everything
// leaving this package uses canonical types and names.
package events

import (
	"time"

	"msgcore/pkg/models"
)

// Canonical thread event types.
const (
	MessageCreated           = "MESSAGE_CREATED"
	MessageUpdated           = "MESSAGE_UPDATED"
	MessageFailed            = "MESSAGE_FAILED"
	MessageModerationUpdated = "MESSAGE_MODERATION_UPDATED"
	ActionCardUpsert         = "ACTION_CARD_UPSERT"
	ReadReceiptUpdated       = "READ_RECEIPT_UPDATED"
	PresenceEvent            = "PRESENCE_EVENT"
	ThreadStatusChanged      = "THREAD_STATUS_CHANGED"
	ThreadModerationUpdated  = "THREAD_MODERATION_UPDATED"
	SafeModeOverride         = "SAFE_MODE_OVERRIDE"
	ProjectPanelUpdated      = "PROJECT_PANEL_UPDATED"
)

// Canonical inbox event types.
const (
	ThreadCreated         = "THREAD_CREATED"
	ThreadUpdated         = "THREAD_UPDATED"
	ThreadMessageReceived = "THREAD_MESSAGE_RECEIVED"
	ThreadPinned          = "THREAD_PINNED"
	ThreadUnpinned        = "THREAD_UNPINNED"
	ThreadArchived        = "THREAD_ARCHIVED"
	ThreadUnarchived      = "THREAD_UNARCHIVED"
	ThreadMuted           = "THREAD_MUTED"
	ThreadBlocked         = "THREAD_BLOCKED"
	ThreadUnblocked       = "THREAD_UNBLOCKED"
	ThreadRead            = "THREAD_READ"
	RequestReceived       = "REQUEST_RECEIVED"
)

// ThreadEvent is one canonical thread-scoped event. Exactly the fields
// relevant to Type are populated.
type ThreadEvent struct {
	Type string

	// MESSAGE_CREATED
	Message *models.Message
	// MESSAGE_UPDATED
	Patch *MessagePatch
	// MESSAGE_FAILED
	ClientID  string
	ErrorCode string
	// MESSAGE_MODERATION_UPDATED
	MessageID         string
	MessageModeration *models.MessageModeration
	// ACTION_CARD_UPSERT
	Card *models.ActionCard
	// READ_RECEIPT_UPDATED
	Receipt *models.Participant
	// PRESENCE_EVENT
	Presence *PresenceUpdate
	// THREAD_STATUS_CHANGED, THREAD_MODERATION_UPDATED
	Status           string
	ThreadID         string
	ThreadModeration *models.ThreadModeration
	// SAFE_MODE_OVERRIDE
	SafeMode *SafeModeChange
	// PROJECT_PANEL_UPDATED
	Panel *models.ProjectPanel
}

// MessagePatch is a partial message update. Nil fields are untouched;
// ModerationSet distinguishes clearing moderation from leaving it alone.
type MessagePatch struct {
	MessageID     string
	Body          *string
	CreatedAt     *time.Time
	AuthorUserID  *string
	Type          *string
	NSFWBand      *int
	Attachments   []models.Attachment
	HasAttach     bool
	Action        map[string]any
	HasAction     bool
	Moderation    *models.MessageModeration
	ModerationSet bool
}

// PresenceUpdate refreshes one participant's presence entry.
type PresenceUpdate struct {
	UserID   string
	LastSeen *time.Time
	Typing   bool
}

// SafeModeChange adjusts the viewer's safe-mode override; BandMax is
// only applied when present on the wire.
type SafeModeChange struct {
	Override bool
	BandMax  *int
}

// InboxEvent is one canonical inbox-scoped event.
type InboxEvent struct {
	Type string

	ThreadID string
	// THREAD_CREATED, THREAD_UPDATED
	Entry *models.InboxEntry
	// THREAD_UPDATED may carry a partial patch instead of a full entry;
	// when both are present the patch wins.
	Patch *models.ThreadPatch
	// THREAD_MESSAGE_RECEIVED
	LastMessageAt   time.Time
	IncrementUnread int
	// THREAD_MUTED (wire carries the boolean)
	Muted *bool
	// THREAD_BLOCKED / THREAD_UNBLOCKED and moderation-bearing events
	Blocked    *bool
	Status     string
	Moderation *models.ThreadModeration
	// REQUEST_RECEIVED
	Request *models.MessageRequest
}

// InboxPayload is the normalized hydration snapshot for the inbox store.
type InboxPayload struct {
	Threads   []models.InboxEntry
	Requests  []models.MessageRequest
	RateLimit models.RateLimit
	Credits   models.Credits
}

// ThreadPayload is the normalized hydration snapshot for one thread.
type ThreadPayload struct {
	Thread       models.Thread
	Messages     []models.Message
	Cards        []models.ActionCard
	Participants []models.Participant
	Panel        *models.ProjectPanel
	SafeMode     models.SafeMode
	PresenceTTL  time.Duration
}

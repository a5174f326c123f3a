package events

import (
	"regexp"
	"strings"
)

var (
	eventSuffixRe = regexp.MustCompile(`(?i)(Event|_EVENT)$`)
	camelBreakRe  = regexp.MustCompile(`([a-z0-9])([A-Z])`)
	underscoresRe = regexp.MustCompile(`__+`)
)

// CanonicalizeType reduces a raw event-type token to canonical
// SCREAMING_SNAKE form: a trailing "Event" suffix is stripped, camelCase
// boundaries become underscores, runs of underscores collapse, and the
// result is upper-cased. Empty input yields "".
func CanonicalizeType(raw string) string {
	v := strings.TrimSpace(raw)
	if v == "" {
		return ""
	}
	v = eventSuffixRe.ReplaceAllString(v, "")
	v = camelBreakRe.ReplaceAllString(v, "${1}_${2}")
	v = underscoresRe.ReplaceAllString(v, "_")
	return strings.ToUpper(v)
}

var threadEventAliases = map[string]string{
	"MESSAGE_CREATED":                  MessageCreated,
	"MESSAGE_NEW":                      MessageCreated,
	"MESSAGE_UPDATED":                  MessageUpdated,
	"MESSAGE_EDITED":                   MessageUpdated,
	"MESSAGE_FAILED":                   MessageFailed,
	"MESSAGE_ERROR":                    MessageFailed,
	"MESSAGE_FLAGGED":                  MessageModerationUpdated,
	"MESSAGE_REPORTED":                 MessageModerationUpdated,
	"MESSAGE_MODERATION_UPDATED":       MessageModerationUpdated,
	"ACTION_CARD_UPDATED":              ActionCardUpsert,
	"ACTION_CARD_CREATED":              ActionCardUpsert,
	"ACTION_CARD_UPSERT":               ActionCardUpsert,
	"ACTION_CARD_STATE_CHANGED":        ActionCardUpsert,
	"ACTION_CARD_PATCHED":              ActionCardUpsert,
	"READ_RECEIPT_UPDATED":             ReadReceiptUpdated,
	"PARTICIPANT_READ_RECEIPT_UPDATED": ReadReceiptUpdated,
	"PRESENCE_EVENT":                   PresenceEvent,
	"PRESENCE":                         PresenceEvent,
	"TYPING":                           PresenceEvent,
	"THREAD_STATUS_CHANGED":            ThreadStatusChanged,
	"THREAD_STATUS_UPDATED":            ThreadStatusChanged,
	"THREAD_LOCK_STATE":                ThreadModerationUpdated,
	"THREAD_BLOCK_STATE":               ThreadModerationUpdated,
	"THREAD_MODERATION_UPDATED":        ThreadModerationUpdated,
	"SAFE_MODE_OVERRIDE":               SafeModeOverride,
	"SAFE_MODE_CHANGED":                SafeModeOverride,
	"PROJECT_PANEL_UPDATED":            ProjectPanelUpdated,
	"PROJECT_PANEL_CHANGE":             ProjectPanelUpdated,
}

var inboxEventAliases = map[string]string{
	"THREAD_CREATED":          ThreadCreated,
	"THREAD_NEW":              ThreadCreated,
	"THREAD_UPDATED":          ThreadUpdated,
	"THREAD_EDITED":           ThreadUpdated,
	"THREAD_MESSAGE_RECEIVED": ThreadMessageReceived,
	"THREAD_MESSAGE":          ThreadMessageReceived,
	"THREAD_PINNED":           ThreadPinned,
	"THREAD_UNPINNED":         ThreadUnpinned,
	"THREAD_ARCHIVED":         ThreadArchived,
	"THREAD_UNARCHIVED":       ThreadUnarchived,
	"THREAD_MUTED":            ThreadMuted,
	"THREAD_UNMUTED":          ThreadMuted,
	"THREAD_BLOCKED":          ThreadBlocked,
	"THREAD_UNBLOCKED":        ThreadUnblocked,
	"THREAD_READ":             ThreadRead,
	"REQUEST_RECEIVED":        RequestReceived,
	"MESSAGE_REQUEST_CREATED": RequestReceived,
}

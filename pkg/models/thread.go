package models

import "time"

// ThreadKind distinguishes a pre-booking inquiry conversation from a
// booked project conversation.
type ThreadKind string

const (
	KindInquiry ThreadKind = "INQUIRY"
	KindProject ThreadKind = "PROJECT"
)

// Thread is the header of a conversation as seen by a thread store.
type Thread struct {
	ThreadID         string            `json:"thread_id"`
	Kind             ThreadKind        `json:"kind"`
	Status           string            `json:"status"`
	SafeModeRequired bool              `json:"safe_mode_required,omitempty"`
	// LastMessageAt is derived as the max of the header value and the
	// newest timeline message; zero means no message observed yet.
	LastMessageAt time.Time         `json:"last_message_at,omitempty"`
	Moderation    *ThreadModeration `json:"moderation,omitempty"`
}

// ThreadModeration carries lock/block state attached to a thread by
// moderation actions.
type ThreadModeration struct {
	Locked       bool      `json:"locked,omitempty"`
	Blocked      bool      `json:"blocked,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Severity     string    `json:"severity,omitempty"`
	ReportedBy   string    `json:"reported_by,omitempty"`
	AuditTrailID string    `json:"audit_trail_id,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// Clone returns a copy of the moderation record.
func (m *ThreadModeration) Clone() *ThreadModeration {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// Participant tracks a member of a thread and their read position.
type Participant struct {
	UserID        string    `json:"user_id"`
	Role          string    `json:"role"`
	LastReadMsgID string    `json:"last_read_msg_id,omitempty"`
	LastReadAt    time.Time `json:"last_read_at,omitempty"`
}

// Presence is a TTL-bounded liveness entry for one user in a thread.
type Presence struct {
	LastSeen time.Time `json:"last_seen"`
	Typing   bool      `json:"typing,omitempty"`
}

// SafeMode is the per-thread content-visibility snapshot. BandMax bounds
// the displayed NSFW band; Override indicates the viewer opted out.
type SafeMode struct {
	BandMax  int  `json:"band_max"`
	Override bool `json:"override,omitempty"`
}

// ProjectPanel is the version-gated side-panel state for PROJECT threads.
type ProjectPanel struct {
	Version int            `json:"version"`
	Tabs    map[string]any `json:"tabs,omitempty"`
}

// Clone returns a copy with a fresh tabs map.
func (p ProjectPanel) Clone() ProjectPanel {
	out := ProjectPanel{Version: p.Version, Tabs: make(map[string]any, len(p.Tabs))}
	for k, v := range p.Tabs {
		out.Tabs[k] = v
	}
	return out
}

package models

import "time"

// InboxEntry is the thread summary row held by the inbox store. Entries
// are ordered newest-first by LastMessageAt.
type InboxEntry struct {
	ThreadID      string         `json:"thread_id"`
	Kind          ThreadKind     `json:"kind"`
	Status        string         `json:"status"`
	Title         string         `json:"title,omitempty"`
	Subtitle      string         `json:"subtitle,omitempty"`
	LastMessageAt time.Time      `json:"last_message_at"`
	UnreadCount   int            `json:"unread_count"`
	Pinned        bool           `json:"pinned,omitempty"`
	Archived      bool           `json:"archived,omitempty"`
	Muted         bool           `json:"muted,omitempty"`
	Blocked       bool           `json:"blocked,omitempty"`
	SafeMode      bool           `json:"safe_mode,omitempty"`
	Labels        []string       `json:"labels,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Clone copies the entry including its labels slice and metadata map.
func (e InboxEntry) Clone() InboxEntry {
	out := e
	if e.Labels != nil {
		out.Labels = make([]string, len(e.Labels))
		copy(out.Labels, e.Labels)
	}
	if e.Metadata != nil {
		out.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// ThreadPatch is a partial update applied to an inbox entry. Nil fields
// are left untouched.
type ThreadPatch struct {
	Kind          *ThreadKind    `json:"kind,omitempty"`
	Status        *string        `json:"status,omitempty"`
	Title         *string        `json:"title,omitempty"`
	Subtitle      *string        `json:"subtitle,omitempty"`
	LastMessageAt *time.Time     `json:"last_message_at,omitempty"`
	UnreadCount   *int           `json:"unread_count,omitempty"`
	Pinned        *bool          `json:"pinned,omitempty"`
	Archived      *bool          `json:"archived,omitempty"`
	Muted         *bool          `json:"muted,omitempty"`
	Blocked       *bool          `json:"blocked,omitempty"`
	SafeMode      *bool          `json:"safe_mode,omitempty"`
	Labels        []string       `json:"labels,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// MessageRequest is a pending first-contact request shown in the
// requests folder until accepted, declined, or expired.
type MessageRequest struct {
	RequestID      string     `json:"request_id"`
	ThreadID       string     `json:"thread_id"`
	FromUserID     string     `json:"from_user_id"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at,omitempty"`
	PreviewText    string     `json:"preview_text,omitempty"`
	CreditCost     int        `json:"credit_cost,omitempty"`
	RequesterBlock bool       `json:"requester_block,omitempty"`
	Kind           ThreadKind `json:"kind,omitempty"`
	Title          string     `json:"title,omitempty"`
	Subtitle       string     `json:"subtitle,omitempty"`
}

// Request statuses.
const (
	RequestPending  = "PENDING"
	RequestDeclined = "DECLINED"
	RequestBlocked  = "BLOCKED"
)

// Credits is the viewer's conversation-credit balance. Available < 0
// means unlimited.
type Credits struct {
	Available int `json:"available"`
	Floor     int `json:"floor"`
	CostPer   int `json:"cost_per"`
}

// Unlimited reports whether the balance never runs out.
func (c Credits) Unlimited() bool { return c.Available < 0 }

// RateLimit is the sliding-window new-conversation limit. Timestamps of
// recent starts are retained so the window can be pruned exactly.
type RateLimit struct {
	Window   time.Duration `json:"window"`
	MaxNew   int           `json:"max_new"`
	Recent   []time.Time   `json:"recent,omitempty"`
}

// Denial codes returned by conversation-start checks.
const (
	DenyInsufficientCredits = "INSUFFICIENT_CREDITS"
	DenyRateLimited         = "RATE_LIMIT_EXCEEDED"
)

// StartDenial explains why a new conversation cannot be started now.
type StartDenial struct {
	Code             string    `json:"code"`
	AvailableCredits int       `json:"available_credits,omitempty"`
	RequiredCredits  int       `json:"required_credits,omitempty"`
	NextAllowedAt    time.Time `json:"next_allowed_at,omitempty"`
}

func (d *StartDenial) Error() string { return d.Code }

package models

import "time"

// Severity orders notification urgency. Unknown values normalize to
// SeverityNormal.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityNormal   Severity = "NORMAL"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityNormal:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank returns the numeric ordering of the severity; unknown severities
// rank as NORMAL.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return 1
}

// Max returns the more urgent of two severities.
func (s Severity) Max(o Severity) Severity {
	if o.Rank() > s.Rank() {
		return o
	}
	return s
}

// NotificationItem is a queued notification. Deduplicated duplicates
// merge into one item with an incremented Count.
type NotificationItem struct {
	ID               string         `json:"id"`
	ThreadID         string         `json:"thread_id,omitempty"`
	Type             string         `json:"type,omitempty"`
	Severity         Severity       `json:"severity"`
	Message          string         `json:"message,omitempty"`
	Data             map[string]any `json:"data,omitempty"`
	DedupeKey        string         `json:"dedupe_key"`
	Count            int            `json:"count"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	Deferred         bool           `json:"deferred,omitempty"`
	DigestNotifiedAt time.Time      `json:"digest_notified_at,omitempty"`
}

// Clone copies the item including its data map.
func (n NotificationItem) Clone() NotificationItem {
	out := n
	if n.Data != nil {
		out.Data = make(map[string]any, len(n.Data))
		for k, v := range n.Data {
			out.Data[k] = v
		}
	}
	return out
}

// DigestGroup summarizes deferred notifications for one thread. An
// empty ThreadID groups notifications with no thread.
type DigestGroup struct {
	ThreadID string    `json:"thread_id,omitempty"`
	Count    int       `json:"count"`
	Severity Severity  `json:"severity"`
	FirstAt  time.Time `json:"first_at"`
	LastAt   time.Time `json:"last_at"`
	Samples  []string  `json:"samples,omitempty"`
}

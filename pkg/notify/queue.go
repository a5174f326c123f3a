// Package notify implements the client notification queue: severity
// normalization, dedup merging, quiet-hours deferral, flushing, and
// digest summaries for long-deferred items. State values are immutable;
// every operation returns a fresh state.
package notify

import (
	"fmt"
	"sort"
	"time"

	"msgcore/pkg/models"
)

const (
	DefaultDedupeWindow = 2 * time.Minute
	DefaultDigestWindow = 10 * time.Minute
	DefaultMaxItems     = 200
)

// QuietHours is a minutes-of-day interval with a timezone offset.
// Enabled is false when either boundary is missing. Start == End means
// always quiet; Start > End wraps past midnight.
type QuietHours struct {
	Enabled     bool
	StartMin    int
	EndMin      int
	TzOffsetMin int
	// Bypass severities are enqueued immediately even during quiet
	// hours. Defaults to CRITICAL only.
	Bypass map[models.Severity]bool
}

// Config tunes a queue. Zero fields fall back to the defaults.
type Config struct {
	QuietHours   QuietHours
	DedupeWindow time.Duration
	DigestWindow time.Duration
	MaxItems     int
}

type dedupeRecord struct {
	itemID   string
	lastSeen time.Time
}

// State is an immutable notification-queue snapshot.
type State struct {
	itemsByID    map[string]models.NotificationItem
	order        []string
	dedupe       map[string]dedupeRecord
	quiet        QuietHours
	dedupeWindow time.Duration
	digestWindow time.Duration
	maxItems     int
	lastUpdated  time.Time
}

// NewState builds an empty queue from a config.
func NewState(cfg Config, now time.Time) *State {
	s := &State{
		itemsByID:    map[string]models.NotificationItem{},
		dedupe:       map[string]dedupeRecord{},
		quiet:        cfg.QuietHours,
		dedupeWindow: cfg.DedupeWindow,
		digestWindow: cfg.DigestWindow,
		maxItems:     cfg.MaxItems,
		lastUpdated:  now,
	}
	if s.dedupeWindow == 0 {
		s.dedupeWindow = DefaultDedupeWindow
	}
	if s.digestWindow == 0 {
		s.digestWindow = DefaultDigestWindow
	}
	if s.maxItems == 0 {
		s.maxItems = DefaultMaxItems
	}
	if s.quiet.Bypass == nil {
		s.quiet.Bypass = map[models.Severity]bool{models.SeverityCritical: true}
	}
	return s
}

func (s *State) clone() *State {
	next := *s
	next.itemsByID = make(map[string]models.NotificationItem, len(s.itemsByID))
	for id, item := range s.itemsByID {
		next.itemsByID[id] = item.Clone()
	}
	next.order = make([]string, len(s.order))
	copy(next.order, s.order)
	next.dedupe = make(map[string]dedupeRecord, len(s.dedupe))
	for k, v := range s.dedupe {
		next.dedupe[k] = v
	}
	return &next
}

// NormalizeSeverity maps free-form severity strings onto the known set;
// unknown or empty values become NORMAL.
func NormalizeSeverity(raw string) models.Severity {
	s := models.Severity(raw)
	switch s {
	case models.SeverityLow, models.SeverityNormal, models.SeverityHigh, models.SeverityCritical:
		return s
	}
	return models.SeverityNormal
}

func minutesOfDay(now time.Time, offsetMin int) int {
	utc := now.UTC()
	m := utc.Hour()*60 + utc.Minute()
	return ((m+offsetMin)%1440 + 1440) % 1440
}

// InQuietHours reports whether now falls inside the configured quiet
// interval.
func (s *State) InQuietHours(now time.Time) bool {
	q := s.quiet
	if !q.Enabled {
		return false
	}
	m := minutesOfDay(now, q.TzOffsetMin)
	switch {
	case q.StartMin == q.EndMin:
		return true
	case q.StartMin < q.EndMin:
		return m >= q.StartMin && m < q.EndMin
	default:
		return m >= q.StartMin || m < q.EndMin
	}
}

func (s *State) shouldDefer(severity models.Severity, now time.Time) bool {
	if !s.InQuietHours(now) {
		return false
	}
	return !s.quiet.Bypass[severity]
}

// Incoming is one notification handed to Enqueue. Severity is
// free-form; unknown values normalize to NORMAL. The dedup key defaults
// to "<thread or global>:<type or generic>".
type Incoming struct {
	ID        string
	DedupeKey string
	ThreadID  string
	Type      string
	Severity  string
	Message   string
	Data      map[string]any
	Count     int
}

func (n Incoming) key() string {
	if n.DedupeKey != "" {
		return n.DedupeKey
	}
	thread := n.ThreadID
	if thread == "" {
		thread = "global"
	}
	typ := n.Type
	if typ == "" {
		typ = "generic"
	}
	return thread + ":" + typ
}

// Enqueue adds a notification, merging it into an existing item when a
// matching dedup key was seen within the dedup window. Oldest items are
// evicted once the queue exceeds its capacity.
func (s *State) Enqueue(n Incoming, now time.Time) *State {
	severity := NormalizeSeverity(n.Severity)
	key := n.key()
	count := n.Count
	if count == 0 {
		count = 1
	}

	next := s.clone()
	next.lastUpdated = now

	if rec, ok := next.dedupe[key]; ok && now.Sub(rec.lastSeen) <= next.dedupeWindow {
		if item, ok := next.itemsByID[rec.itemID]; ok {
			item.Count += count
			item.UpdatedAt = now
			item.Severity = item.Severity.Max(severity)
			if n.Message != "" {
				item.Message = n.Message
			}
			if len(n.Data) > 0 {
				if item.Data == nil {
					item.Data = make(map[string]any, len(n.Data))
				}
				for k, v := range n.Data {
					item.Data[k] = v
				}
			}
			item.Deferred = item.Deferred && next.shouldDefer(item.Severity, now)
			next.itemsByID[rec.itemID] = item
			next.dedupe[key] = dedupeRecord{itemID: rec.itemID, lastSeen: now}
			return next
		}
	}

	id := n.ID
	if id == "" {
		id = fmt.Sprintf("%s:%s", key, now.UTC().Format(time.RFC3339Nano))
	}
	item := models.NotificationItem{
		ID:        id,
		ThreadID:  n.ThreadID,
		Type:      n.Type,
		Severity:  severity,
		Message:   n.Message,
		DedupeKey: key,
		Count:     count,
		CreatedAt: now,
		UpdatedAt: now,
		Deferred:  next.shouldDefer(severity, now),
	}
	if len(n.Data) > 0 {
		item.Data = make(map[string]any, len(n.Data))
		for k, v := range n.Data {
			item.Data[k] = v
		}
	}
	next.itemsByID[item.ID] = item
	next.order = append(next.order, item.ID)
	next.dedupe[key] = dedupeRecord{itemID: item.ID, lastSeen: now}

	for len(next.order) > next.maxItems {
		dropID := next.order[0]
		next.order = next.order[1:]
		if dropped, ok := next.itemsByID[dropID]; ok {
			delete(next.itemsByID, dropID)
			delete(next.dedupe, dropped.DedupeKey)
		}
	}
	return next
}

// Flush releases ready notifications in queue order and removes them.
// Deferred items are un-deferred first when quiet hours have ended.
func (s *State) Flush(now time.Time) (*State, []models.NotificationItem) {
	next := s.clone()
	next.lastUpdated = now
	quiet := next.InQuietHours(now)

	var ready []models.NotificationItem
	remaining := next.order[:0]
	for _, id := range next.order {
		item, ok := next.itemsByID[id]
		if !ok {
			continue
		}
		if item.Deferred && !quiet {
			item.Deferred = false
		}
		if !item.Deferred {
			ready = append(ready, item)
			delete(next.itemsByID, id)
			delete(next.dedupe, item.DedupeKey)
			continue
		}
		next.itemsByID[id] = item
		remaining = append(remaining, id)
	}
	next.order = remaining
	return next, ready
}

// CollectDigest summarizes deferred items older than the digest window,
// grouped per thread with at most three sample messages each. Items
// that contributed are stamped so a second collection within half the
// window skips them. Ordering of groups is stable by thread id.
func (s *State) CollectDigest(now time.Time) (*State, []models.DigestGroup) {
	next := s.clone()
	groups := map[string]*models.DigestGroup{}
	samples := map[string]map[string]bool{}

	for _, id := range next.order {
		item, ok := next.itemsByID[id]
		if !ok || !item.Deferred {
			continue
		}
		if now.Sub(item.CreatedAt) < next.digestWindow {
			continue
		}
		if !item.DigestNotifiedAt.IsZero() &&
			!item.DigestNotifiedAt.Before(item.CreatedAt) &&
			now.Sub(item.DigestNotifiedAt) < next.digestWindow/2 {
			continue
		}

		key := item.ThreadID
		if key == "" {
			key = "global"
		}
		g, ok := groups[key]
		if !ok {
			g = &models.DigestGroup{
				ThreadID: item.ThreadID,
				Severity: item.Severity,
				FirstAt:  item.CreatedAt,
				LastAt:   item.UpdatedAt,
			}
			groups[key] = g
			samples[key] = map[string]bool{}
		}
		g.Count += item.Count
		if item.UpdatedAt.After(g.LastAt) {
			g.LastAt = item.UpdatedAt
		}
		if item.CreatedAt.Before(g.FirstAt) {
			g.FirstAt = item.CreatedAt
		}
		g.Severity = g.Severity.Max(item.Severity)
		if item.Message != "" && !samples[key][item.Message] && len(g.Samples) < 3 {
			samples[key][item.Message] = true
			g.Samples = append(g.Samples, item.Message)
		}
		item.DigestNotifiedAt = now
		next.itemsByID[id] = item
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]models.DigestGroup, 0, len(keys))
	for _, k := range keys {
		out = append(out, *groups[k])
	}
	return next, out
}

// Pending returns the queued notifications in order.
func (s *State) Pending() []models.NotificationItem {
	out := make([]models.NotificationItem, 0, len(s.order))
	for _, id := range s.order {
		if item, ok := s.itemsByID[id]; ok {
			out = append(out, item)
		}
	}
	return out
}

// Len returns the number of queued notifications.
func (s *State) Len() int { return len(s.order) }

// Package inbox maintains the conversation-list state: thread summary
// rows ordered newest-first, pending message requests, the viewer's
// conversation credits, and the sliding-window rate limit on starting
// new conversations. State values are immutable; reducers return the
// same pointer when an event changes nothing.
package inbox

import (
	"sort"
	"time"

	"msgcore/pkg/events"
	"msgcore/pkg/models"
)

// State is an immutable inbox snapshot.
type State struct {
	threadsByID map[string]models.InboxEntry
	order       []string
	pinned      []string
	archived    []string
	unread      map[string]int
	requests    map[string]models.MessageRequest
	reqOrder    []string
	credits     models.Credits
	rateLimit   models.RateLimit
	lastUpdated time.Time
}

// NewState builds inbox state from a hydration payload. Threads sort
// newest-first; requests sort oldest-first and reset to PENDING.
func NewState(payload events.InboxPayload, now time.Time) *State {
	s := &State{
		threadsByID: map[string]models.InboxEntry{},
		unread:      map[string]int{},
		requests:    map[string]models.MessageRequest{},
		credits:     payload.Credits,
		rateLimit:   payload.RateLimit,
		lastUpdated: now,
	}
	if s.rateLimit.Window == 0 {
		s.rateLimit.Window = 24 * time.Hour
	}
	if s.rateLimit.MaxNew == 0 {
		s.rateLimit.MaxNew = 5
	}

	threads := make([]models.InboxEntry, 0, len(payload.Threads))
	for _, t := range payload.Threads {
		if t.ThreadID == "" {
			continue
		}
		threads = append(threads, t.Clone())
	}
	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].LastMessageAt.After(threads[j].LastMessageAt)
	})
	for _, t := range threads {
		s.threadsByID[t.ThreadID] = t
		s.order = append(s.order, t.ThreadID)
		if t.Pinned {
			s.pinned = append(s.pinned, t.ThreadID)
		}
		if t.Archived {
			s.archived = append(s.archived, t.ThreadID)
		}
		s.unread[t.ThreadID] = t.UnreadCount
	}

	reqs := make([]models.MessageRequest, 0, len(payload.Requests))
	reqs = append(reqs, payload.Requests...)
	sort.SliceStable(reqs, func(i, j int) bool {
		return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
	})
	for _, r := range reqs {
		r.Status = models.RequestPending
		s.requests[r.RequestID] = r
		s.reqOrder = append(s.reqOrder, r.RequestID)
	}
	return s
}

func (s *State) clone() *State {
	next := *s
	next.threadsByID = make(map[string]models.InboxEntry, len(s.threadsByID))
	for id, t := range s.threadsByID {
		next.threadsByID[id] = t
	}
	next.order = append([]string(nil), s.order...)
	next.pinned = append([]string(nil), s.pinned...)
	next.archived = append([]string(nil), s.archived...)
	next.unread = make(map[string]int, len(s.unread))
	for id, n := range s.unread {
		next.unread[id] = n
	}
	next.requests = make(map[string]models.MessageRequest, len(s.requests))
	for id, r := range s.requests {
		next.requests[id] = r
	}
	next.reqOrder = append([]string(nil), s.reqOrder...)
	next.rateLimit.Recent = append([]time.Time(nil), s.rateLimit.Recent...)
	return &next
}

func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// upsert merges an entry into the state, maintaining the pinned and
// archived indexes. New threads go to the front.
func (s *State) upsert(entry models.InboxEntry) {
	id := entry.ThreadID
	if _, exists := s.threadsByID[id]; !exists {
		s.order = append([]string{id}, s.order...)
	}
	s.threadsByID[id] = entry
	s.unread[id] = entry.UnreadCount
	if entry.Pinned && !contains(s.pinned, id) {
		s.pinned = append(s.pinned, id)
	}
	if !entry.Pinned {
		s.pinned = without(s.pinned, id)
	}
	if entry.Archived && !contains(s.archived, id) {
		s.archived = append(s.archived, id)
	}
	if !entry.Archived {
		s.archived = without(s.archived, id)
	}
}

// reorder re-inserts a thread into the recency ordering at the position
// its new lastMessageAt warrants.
func (s *State) reorder(id string, lastMessageAt time.Time) {
	s.order = without(s.order, id)
	inserted := false
	for i, curID := range s.order {
		cur := s.threadsByID[curID]
		if !lastMessageAt.Before(cur.LastMessageAt) {
			s.order = append(s.order[:i], append([]string{id}, s.order[i:]...)...)
			inserted = true
			break
		}
	}
	if !inserted {
		s.order = append(s.order, id)
	}
	entry := s.threadsByID[id]
	entry.LastMessageAt = lastMessageAt
	s.threadsByID[id] = entry
}

// mergeEntry overlays a normalized incoming entry on an existing one.
// Core fields always win; descriptive fields only replace when set.
func mergeEntry(existing, incoming models.InboxEntry) models.InboxEntry {
	out := existing.Clone()
	out.Kind = incoming.Kind
	out.LastMessageAt = incoming.LastMessageAt
	out.UnreadCount = incoming.UnreadCount
	out.Pinned = incoming.Pinned
	out.Archived = incoming.Archived
	out.Muted = incoming.Muted
	out.SafeMode = incoming.SafeMode
	if incoming.Status != "" {
		out.Status = incoming.Status
	}
	if incoming.Title != "" {
		out.Title = incoming.Title
	}
	if incoming.Subtitle != "" {
		out.Subtitle = incoming.Subtitle
	}
	if incoming.Labels != nil {
		out.Labels = append([]string(nil), incoming.Labels...)
	}
	if incoming.Metadata != nil {
		out.Metadata = make(map[string]any, len(incoming.Metadata))
		for k, v := range incoming.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// applyEntryPatch overlays only the patch's set fields.
func applyEntryPatch(entry *models.InboxEntry, p *models.ThreadPatch) {
	if p.Kind != nil {
		entry.Kind = *p.Kind
	}
	if p.Status != nil {
		entry.Status = *p.Status
	}
	if p.Title != nil {
		entry.Title = *p.Title
	}
	if p.Subtitle != nil {
		entry.Subtitle = *p.Subtitle
	}
	if p.LastMessageAt != nil {
		entry.LastMessageAt = *p.LastMessageAt
	}
	if p.UnreadCount != nil {
		entry.UnreadCount = *p.UnreadCount
	}
	if p.Pinned != nil {
		entry.Pinned = *p.Pinned
	}
	if p.Archived != nil {
		entry.Archived = *p.Archived
	}
	if p.Muted != nil {
		entry.Muted = *p.Muted
	}
	if p.Blocked != nil {
		entry.Blocked = *p.Blocked
	}
	if p.SafeMode != nil {
		entry.SafeMode = *p.SafeMode
	}
	if p.Labels != nil {
		entry.Labels = append([]string(nil), p.Labels...)
	}
	if p.Metadata != nil {
		entry.Metadata = make(map[string]any, len(p.Metadata))
		for k, v := range p.Metadata {
			entry.Metadata[k] = v
		}
	}
}

// Apply reduces one inbox event. Events for unknown threads (other than
// creation and request arrival) return the receiver unchanged.
func (s *State) Apply(ev *events.InboxEvent, now time.Time) *State {
	if ev == nil {
		return s
	}
	switch ev.Type {
	case events.ThreadCreated:
		if ev.Entry == nil {
			return s
		}
		next := s.clone()
		next.upsert(ev.Entry.Clone())
		next.lastUpdated = now
		return next

	case events.ThreadUpdated:
		if ev.Patch != nil {
			id := ev.ThreadID
			if id == "" {
				return s
			}
			next := s.clone()
			entry := next.threadsByID[id]
			entry.ThreadID = id
			applyEntryPatch(&entry, ev.Patch)
			next.upsert(entry)
			if ev.Patch.LastMessageAt != nil {
				next.reorder(id, *ev.Patch.LastMessageAt)
			}
			next.lastUpdated = now
			return next
		}
		if ev.Entry == nil {
			return s
		}
		next := s.clone()
		merged := ev.Entry.Clone()
		if existing, ok := next.threadsByID[ev.Entry.ThreadID]; ok {
			merged = mergeEntry(existing, *ev.Entry)
		}
		next.upsert(merged)
		if !ev.Entry.LastMessageAt.IsZero() {
			next.reorder(ev.Entry.ThreadID, ev.Entry.LastMessageAt)
		}
		next.lastUpdated = now
		return next

	case events.ThreadRead:
		entry, ok := s.threadsByID[ev.ThreadID]
		if !ok {
			return s
		}
		next := s.clone()
		next.unread[ev.ThreadID] = 0
		entry.UnreadCount = 0
		next.threadsByID[ev.ThreadID] = entry
		next.lastUpdated = now
		return next

	case events.ThreadPinned, events.ThreadUnpinned:
		entry, ok := s.threadsByID[ev.ThreadID]
		if !ok {
			return s
		}
		next := s.clone()
		entry.Pinned = ev.Type == events.ThreadPinned
		if entry.Pinned && !contains(next.pinned, ev.ThreadID) {
			next.pinned = append(next.pinned, ev.ThreadID)
		}
		if !entry.Pinned {
			next.pinned = without(next.pinned, ev.ThreadID)
		}
		next.threadsByID[ev.ThreadID] = entry
		next.lastUpdated = now
		return next

	case events.ThreadArchived, events.ThreadUnarchived:
		entry, ok := s.threadsByID[ev.ThreadID]
		if !ok {
			return s
		}
		next := s.clone()
		entry.Archived = ev.Type == events.ThreadArchived
		if entry.Archived && !contains(next.archived, ev.ThreadID) {
			next.archived = append(next.archived, ev.ThreadID)
		}
		if !entry.Archived {
			next.archived = without(next.archived, ev.ThreadID)
		}
		next.threadsByID[ev.ThreadID] = entry
		next.lastUpdated = now
		return next

	case events.ThreadMuted:
		entry, ok := s.threadsByID[ev.ThreadID]
		if !ok {
			return s
		}
		next := s.clone()
		entry.Muted = ev.Muted != nil && *ev.Muted
		next.threadsByID[ev.ThreadID] = entry
		next.lastUpdated = now
		return next

	case events.ThreadBlocked, events.ThreadUnblocked:
		entry, ok := s.threadsByID[ev.ThreadID]
		if !ok {
			return s
		}
		next := s.clone()
		entry.Blocked = ev.Type == events.ThreadBlocked
		if ev.Status != "" {
			entry.Status = ev.Status
		}
		next.threadsByID[ev.ThreadID] = entry
		next.lastUpdated = now
		return next

	case events.ThreadMessageReceived:
		if _, ok := s.threadsByID[ev.ThreadID]; !ok {
			return s
		}
		next := s.clone()
		next.reorder(ev.ThreadID, ev.LastMessageAt)
		next.unread[ev.ThreadID] += ev.IncrementUnread
		entry := next.threadsByID[ev.ThreadID]
		entry.LastMessageAt = ev.LastMessageAt
		entry.UnreadCount = next.unread[ev.ThreadID]
		next.threadsByID[ev.ThreadID] = entry
		next.lastUpdated = now
		return next

	case events.RequestReceived:
		if ev.Request == nil {
			return s
		}
		next := s.clone()
		req := *ev.Request
		req.Status = models.RequestPending
		next.requests[req.RequestID] = req
		if !contains(next.reqOrder, req.RequestID) {
			next.reqOrder = append(next.reqOrder, req.RequestID)
		}
		next.lastUpdated = now
		return next
	}
	return s
}

func pruneWindow(recent []time.Time, window time.Duration, now time.Time) []time.Time {
	cutoff := now.Add(-window)
	out := make([]time.Time, 0, len(recent))
	for _, ts := range recent {
		if !ts.Before(cutoff) {
			out = append(out, ts)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// CanStart reports whether the viewer may start a new conversation.
// Credits are checked before the rate limit; on success remaining is
// the number of starts left in the window.
func (s *State) CanStart(now time.Time, requiredCredits int) (int, *models.StartDenial) {
	if requiredCredits == 0 {
		requiredCredits = s.credits.CostPer
	}
	if !s.credits.Unlimited() && s.credits.Available < requiredCredits {
		return 0, &models.StartDenial{
			Code:             models.DenyInsufficientCredits,
			AvailableCredits: s.credits.Available,
			RequiredCredits:  requiredCredits,
		}
	}
	pruned := pruneWindow(s.rateLimit.Recent, s.rateLimit.Window, now)
	if len(pruned) >= s.rateLimit.MaxNew {
		return 0, &models.StartDenial{
			Code:          models.DenyRateLimited,
			NextAllowedAt: pruned[0].Add(s.rateLimit.Window),
		}
	}
	return s.rateLimit.MaxNew - len(pruned), nil
}

// RecordStart accounts for a started conversation: the window is pruned
// and extended, and credits are debited down to the floor. Unlimited
// balances are never debited.
func (s *State) RecordStart(now time.Time, creditsSpent int) *State {
	if creditsSpent == 0 {
		creditsSpent = s.credits.CostPer
	}
	next := s.clone()
	next.rateLimit.Recent = append(pruneWindow(next.rateLimit.Recent, next.rateLimit.Window, now), now)
	if !next.credits.Unlimited() {
		if v := next.credits.Available - creditsSpent; v > next.credits.Floor {
			next.credits.Available = v
		} else {
			next.credits.Available = next.credits.Floor
		}
	}
	next.lastUpdated = now
	return next
}

// AcceptRequest removes a pending request and promotes its thread into
// the default folder, debiting the request's credit cost. Unknown
// request ids are a no-op.
func (s *State) AcceptRequest(requestID string, now time.Time) *State {
	req, ok := s.requests[requestID]
	if !ok {
		return s
	}
	next := s.clone()
	delete(next.requests, requestID)
	next.reqOrder = without(next.reqOrder, requestID)

	entry := models.InboxEntry{
		ThreadID:      req.ThreadID,
		Kind:          req.Kind,
		Title:         req.Title,
		Subtitle:      req.Subtitle,
		LastMessageAt: now,
		UnreadCount:   next.unread[req.ThreadID],
	}
	if existing, ok := next.threadsByID[req.ThreadID]; ok {
		entry = existing.Clone()
		entry.LastMessageAt = now
		entry.Archived = false
		entry.Pinned = false
	}
	next.upsert(entry)

	cost := req.CreditCost
	if cost == 0 {
		cost = next.credits.CostPer
	}
	if !next.credits.Unlimited() {
		if v := next.credits.Available - cost; v > next.credits.Floor {
			next.credits.Available = v
		} else {
			next.credits.Available = next.credits.Floor
		}
	}
	next.lastUpdated = now
	return next
}

// DeclineRequest marks a request DECLINED, or BLOCKED when block is
// set. The request stays in the list until pruned.
func (s *State) DeclineRequest(requestID string, block bool, now time.Time) *State {
	req, ok := s.requests[requestID]
	if !ok {
		return s
	}
	next := s.clone()
	if block {
		req.Status = models.RequestBlocked
	} else {
		req.Status = models.RequestDeclined
	}
	next.requests[requestID] = req
	next.lastUpdated = now
	return next
}

// PruneExpiredRequests drops requests that are expired or no longer
// pending. Returns the same pointer when nothing qualifies.
func (s *State) PruneExpiredRequests(now time.Time) *State {
	drop := func(req models.MessageRequest) bool {
		return (!req.ExpiresAt.IsZero() && !req.ExpiresAt.After(now)) || req.Status != models.RequestPending
	}
	any := false
	for _, id := range s.reqOrder {
		if req, ok := s.requests[id]; !ok || drop(req) {
			any = true
			break
		}
	}
	if !any {
		return s
	}
	next := s.clone()
	order := make([]string, 0, len(next.reqOrder))
	for _, id := range next.reqOrder {
		req, ok := next.requests[id]
		if !ok {
			continue
		}
		if drop(req) {
			delete(next.requests, id)
			continue
		}
		order = append(order, id)
	}
	next.reqOrder = order
	next.lastUpdated = now
	return next
}

// TotalUnread sums unread counts across all threads.
func (s *State) TotalUnread() int {
	total := 0
	for _, n := range s.unread {
		total += n
	}
	return total
}

// Entry returns one thread summary row.
func (s *State) Entry(threadID string) (models.InboxEntry, bool) {
	entry, ok := s.threadsByID[threadID]
	if !ok {
		return models.InboxEntry{}, false
	}
	entry.UnreadCount = s.unread[threadID]
	return entry.Clone(), true
}

// Request returns one message request.
func (s *State) Request(requestID string) (models.MessageRequest, bool) {
	req, ok := s.requests[requestID]
	return req, ok
}

// Credits returns the current credit balance.
func (s *State) Credits() models.Credits { return s.credits }

// RateLimit returns the current rate-limit window.
func (s *State) RateLimit() models.RateLimit {
	rl := s.rateLimit
	rl.Recent = append([]time.Time(nil), s.rateLimit.Recent...)
	return rl
}

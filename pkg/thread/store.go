// Package thread maintains the per-conversation state: the message
// timeline, optimistic sends, action cards, participants, presence, the
// project panel, and safe-mode visibility. States are immutable; every
// operation returns a new *State, and returning the same pointer means
// the operation was a no-op.
package thread

import (
	"fmt"
	"sort"
	"time"

	"msgcore/pkg/actioncard"
	"msgcore/pkg/events"
	"msgcore/pkg/models"
)

// DefaultPresenceTTL bounds how long a presence entry stays visible
// after the user's last heartbeat.
const DefaultPresenceTTL = 60 * time.Second

// TempID returns the synthetic message id used for an optimistic send.
func TempID(clientID string) string {
	return "temp:" + clientID
}

// State is one immutable snapshot of a thread.
type State struct {
	thread       models.Thread
	messagesByID map[string]models.Message
	order        []string
	optimistic   map[string]string
	cardsByID    map[string]models.ActionCard
	cardOrder    []string
	participants map[string]models.Participant
	presence     map[string]models.Presence
	panel        models.ProjectPanel
	safeMode     models.SafeMode
	presenceTTL  time.Duration
	lastUpdated  time.Time
}

// NewState hydrates a thread from a normalized payload. Messages and
// cards are ordered ascending by creation time with id as tiebreak, and
// the header's lastMessageAt is reconciled against the newest timeline
// entry.
func NewState(p events.ThreadPayload, now time.Time) (*State, error) {
	if p.Thread.ThreadID == "" {
		return nil, fmt.Errorf("thread state requires threadId")
	}
	s := &State{
		thread:       p.Thread,
		messagesByID: make(map[string]models.Message, len(p.Messages)),
		order:        make([]string, 0, len(p.Messages)),
		optimistic:   map[string]string{},
		cardsByID:    make(map[string]models.ActionCard, len(p.Cards)),
		cardOrder:    make([]string, 0, len(p.Cards)),
		participants: make(map[string]models.Participant, len(p.Participants)),
		presence:     map[string]models.Presence{},
		safeMode:     p.SafeMode,
		presenceTTL:  p.PresenceTTL,
		lastUpdated:  now,
	}
	if s.presenceTTL <= 0 {
		s.presenceTTL = DefaultPresenceTTL
	}
	if s.thread.Status == "" {
		s.thread.Status = "OPEN"
	}
	if s.safeMode.BandMax == 0 {
		s.safeMode.BandMax = 1
	}

	msgs := make([]models.Message, len(p.Messages))
	for i, m := range p.Messages {
		msgs[i] = m.Clone()
		if msgs[i].Delivery == "" {
			msgs[i].Delivery = models.DeliveryDelivered
		}
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].MessageID < msgs[j].MessageID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	for _, m := range msgs {
		s.messagesByID[m.MessageID] = m
		s.order = append(s.order, m.MessageID)
	}

	cards := make([]models.ActionCard, len(p.Cards))
	for i, c := range p.Cards {
		cards[i] = c.Clone()
	}
	sort.SliceStable(cards, func(i, j int) bool {
		if cards[i].UpdatedAt.Equal(cards[j].UpdatedAt) {
			return cards[i].CardID < cards[j].CardID
		}
		return cards[i].UpdatedAt.Before(cards[j].UpdatedAt)
	})
	for _, c := range cards {
		s.cardsByID[c.CardID] = c
		s.cardOrder = append(s.cardOrder, c.CardID)
	}

	for _, pt := range p.Participants {
		s.participants[pt.UserID] = pt
	}
	if p.Panel != nil {
		s.panel = p.Panel.Clone()
	} else {
		s.panel = models.ProjectPanel{Tabs: map[string]any{}}
	}

	if n := len(s.order); n > 0 {
		newest := s.messagesByID[s.order[n-1]].CreatedAt
		if newest.After(s.thread.LastMessageAt) {
			s.thread.LastMessageAt = newest
		}
	}
	return s, nil
}

func (s *State) clone() *State {
	next := &State{
		thread:       s.thread,
		messagesByID: make(map[string]models.Message, len(s.messagesByID)),
		order:        append([]string(nil), s.order...),
		optimistic:   make(map[string]string, len(s.optimistic)),
		cardsByID:    make(map[string]models.ActionCard, len(s.cardsByID)),
		cardOrder:    append([]string(nil), s.cardOrder...),
		participants: make(map[string]models.Participant, len(s.participants)),
		presence:     make(map[string]models.Presence, len(s.presence)),
		panel:        s.panel.Clone(),
		safeMode:     s.safeMode,
		presenceTTL:  s.presenceTTL,
		lastUpdated:  s.lastUpdated,
	}
	for id, m := range s.messagesByID {
		next.messagesByID[id] = m
	}
	for cid, tid := range s.optimistic {
		next.optimistic[cid] = tid
	}
	for id, c := range s.cardsByID {
		next.cardsByID[id] = c
	}
	for id, pt := range s.participants {
		next.participants[id] = pt
	}
	for id, pr := range s.presence {
		next.presence[id] = pr
	}
	return next
}

func removeID(order []string, id string) []string {
	out := order[:0:0]
	for _, cur := range order {
		if cur != id {
			out = append(out, cur)
		}
	}
	return out
}

// insertMessage places the message into the ascending timeline and
// advances the header's lastMessageAt to the newest entry.
func (s *State) insertMessage(m models.Message) {
	s.messagesByID[m.MessageID] = m
	s.order = removeID(s.order, m.MessageID)
	idx := len(s.order)
	for i, id := range s.order {
		other := s.messagesByID[id]
		if m.CreatedAt.Before(other.CreatedAt) ||
			(m.CreatedAt.Equal(other.CreatedAt) && m.MessageID < id) {
			idx = i
			break
		}
	}
	s.order = append(s.order, "")
	copy(s.order[idx+1:], s.order[idx:])
	s.order[idx] = m.MessageID
	if last := s.messagesByID[s.order[len(s.order)-1]]; !last.CreatedAt.IsZero() {
		s.thread.LastMessageAt = last.CreatedAt
	}
}

// dropOptimistic removes the temp placeholder tracked for clientID, if
// any.
func (s *State) dropOptimistic(clientID string) {
	tempID, ok := s.optimistic[clientID]
	if !ok {
		return
	}
	delete(s.optimistic, clientID)
	delete(s.messagesByID, tempID)
	s.order = removeID(s.order, tempID)
}

// Apply folds one canonical thread event into the state. Unknown event
// types and events that change nothing return the receiver unchanged.
func (s *State) Apply(ev *events.ThreadEvent, now time.Time) *State {
	if ev == nil {
		return s
	}
	switch ev.Type {
	case events.MessageCreated:
		if ev.Message == nil {
			return s
		}
		next := s.clone()
		m := ev.Message.Clone()
		if m.Delivery == "" {
			m.Delivery = models.DeliveryDelivered
		}
		next.insertMessage(m)
		if m.ClientID != "" {
			next.dropOptimistic(m.ClientID)
		}
		next.lastUpdated = now
		return next

	case events.MessageUpdated:
		if ev.Patch == nil {
			return s
		}
		existing, ok := s.messagesByID[ev.Patch.MessageID]
		if !ok {
			return s
		}
		next := s.clone()
		m := existing.Clone()
		applyPatch(&m, ev.Patch)
		next.insertMessage(m)
		next.lastUpdated = now
		return next

	case events.MessageFailed:
		if ev.ClientID == "" {
			return s
		}
		tempID, ok := s.optimistic[ev.ClientID]
		if !ok {
			return s
		}
		existing, ok := s.messagesByID[tempID]
		if !ok {
			return s
		}
		next := s.clone()
		m := existing.Clone()
		m.Delivery = models.DeliveryFailed
		m.ErrorCode = ev.ErrorCode
		if m.ErrorCode == "" {
			m.ErrorCode = "UNKNOWN"
		}
		next.messagesByID[tempID] = m
		next.lastUpdated = now
		return next

	case events.MessageModerationUpdated:
		existing, ok := s.messagesByID[ev.MessageID]
		if !ok {
			return s
		}
		next := s.clone()
		m := existing.Clone()
		m.Moderation = ev.MessageModeration.Clone()
		next.messagesByID[ev.MessageID] = m
		next.lastUpdated = now
		return next

	case events.ActionCardUpsert:
		if ev.Card == nil || ev.Card.CardID == "" {
			return s
		}
		if existing, ok := s.cardsByID[ev.Card.CardID]; ok && ev.Card.Version <= existing.Version {
			return s
		}
		next := s.clone()
		next.upsertCard(ev.Card.Clone(), now)
		next.lastUpdated = now
		return next

	case events.ReadReceiptUpdated:
		if ev.Receipt == nil || ev.Receipt.UserID == "" {
			return s
		}
		next := s.clone()
		pt, ok := next.participants[ev.Receipt.UserID]
		if !ok {
			pt = models.Participant{UserID: ev.Receipt.UserID, Role: "GUEST"}
		}
		if ev.Receipt.Role != "" {
			pt.Role = ev.Receipt.Role
		}
		if ev.Receipt.LastReadMsgID != "" {
			pt.LastReadMsgID = ev.Receipt.LastReadMsgID
		}
		if !ev.Receipt.LastReadAt.IsZero() {
			pt.LastReadAt = ev.Receipt.LastReadAt
		}
		next.participants[ev.Receipt.UserID] = pt
		next.lastUpdated = now
		return next

	case events.PresenceEvent:
		if ev.Presence == nil || ev.Presence.UserID == "" {
			return s
		}
		next := s.clone()
		entry := next.presence[ev.Presence.UserID]
		if ev.Presence.LastSeen != nil {
			entry.LastSeen = *ev.Presence.LastSeen
		} else if entry.LastSeen.IsZero() {
			entry.LastSeen = now
		}
		entry.Typing = ev.Presence.Typing
		next.presence[ev.Presence.UserID] = entry
		next.prunePresence(now)
		next.lastUpdated = now
		return next

	case events.ThreadStatusChanged:
		if ev.Status == "" || ev.Status == s.thread.Status {
			return s
		}
		next := s.clone()
		next.thread.Status = ev.Status
		next.lastUpdated = now
		return next

	case events.ThreadModerationUpdated:
		if ev.ThreadModeration == nil {
			return s
		}
		next := s.clone()
		next.thread.Moderation = ev.ThreadModeration.Clone()
		if ev.Status != "" {
			next.thread.Status = ev.Status
		}
		next.lastUpdated = now
		return next

	case events.SafeModeOverride:
		if ev.SafeMode == nil {
			return s
		}
		next := s.clone()
		next.safeMode.Override = ev.SafeMode.Override
		if ev.SafeMode.BandMax != nil {
			next.safeMode.BandMax = *ev.SafeMode.BandMax
		}
		next.lastUpdated = now
		return next

	case events.ProjectPanelUpdated:
		if ev.Panel == nil || ev.Panel.Version < s.panel.Version {
			return s
		}
		next := s.clone()
		next.panel.Version = ev.Panel.Version
		for k, v := range ev.Panel.Tabs {
			next.panel.Tabs[k] = v
		}
		next.lastUpdated = now
		return next
	}
	return s
}

func applyPatch(m *models.Message, p *events.MessagePatch) {
	if p.Body != nil {
		m.Body = *p.Body
	}
	if p.CreatedAt != nil {
		m.CreatedAt = *p.CreatedAt
	}
	if p.AuthorUserID != nil {
		m.AuthorUserID = *p.AuthorUserID
	}
	if p.Type != nil {
		m.Type = *p.Type
	}
	if p.NSFWBand != nil {
		m.NSFWBand = *p.NSFWBand
	}
	if p.HasAttach {
		m.Attachments = make([]models.Attachment, len(p.Attachments))
		for i, a := range p.Attachments {
			m.Attachments[i] = a.Clone()
		}
	}
	if p.HasAction {
		m.Action = p.Action
	}
	if p.ModerationSet {
		m.Moderation = p.Moderation.Clone()
	}
}

// upsertCard replaces an existing card in place; new cards are inserted
// ascending by updatedAt with id as tiebreak.
func (s *State) upsertCard(c models.ActionCard, now time.Time) {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	if _, ok := s.cardsByID[c.CardID]; ok {
		s.cardsByID[c.CardID] = c
		return
	}
	s.cardsByID[c.CardID] = c
	idx := len(s.cardOrder)
	for i, id := range s.cardOrder {
		other := s.cardsByID[id]
		if c.UpdatedAt.Before(other.UpdatedAt) ||
			(c.UpdatedAt.Equal(other.UpdatedAt) && c.CardID < id) {
			idx = i
			break
		}
	}
	s.cardOrder = append(s.cardOrder, "")
	copy(s.cardOrder[idx+1:], s.cardOrder[idx:])
	s.cardOrder[idx] = c.CardID
}

func (s *State) prunePresence(now time.Time) {
	cutoff := now.Add(-s.presenceTTL)
	for userID, entry := range s.presence {
		if entry.LastSeen.Before(cutoff) {
			delete(s.presence, userID)
		}
	}
}

// OptimisticMessage describes a locally authored message awaiting server
// acknowledgement.
type OptimisticMessage struct {
	ClientID     string
	AuthorUserID string
	Type         string
	Body         string
	Attachments  []models.Attachment
	CreatedAt    time.Time
}

// EnqueueOptimistic inserts a SENDING placeholder under the synthetic id
// "temp:<clientId>" so the timeline reflects the send immediately.
func (s *State) EnqueueOptimistic(in OptimisticMessage, now time.Time) (*State, error) {
	if in.ClientID == "" {
		return s, fmt.Errorf("optimistic message requires clientId")
	}
	next := s.clone()
	tempID := TempID(in.ClientID)
	next.optimistic[in.ClientID] = tempID
	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	msgType := in.Type
	if msgType == "" {
		msgType = "TEXT"
	}
	m := models.Message{
		MessageID:    tempID,
		ThreadID:     s.thread.ThreadID,
		ClientID:     in.ClientID,
		AuthorUserID: in.AuthorUserID,
		Type:         msgType,
		Body:         in.Body,
		CreatedAt:    createdAt,
		Delivery:     models.DeliverySending,
		Optimistic:   true,
	}
	if in.Attachments != nil {
		m.Attachments = make([]models.Attachment, len(in.Attachments))
		for i, a := range in.Attachments {
			m.Attachments[i] = a.Clone()
		}
	}
	next.insertMessage(m)
	next.lastUpdated = now
	return next, nil
}

// ResolveOptimistic swaps the placeholder tracked for clientID with the
// acknowledged message. When the clientID is unknown the message is
// applied as a plain MESSAGE_CREATED, which makes resolution idempotent.
func (s *State) ResolveOptimistic(clientID string, m models.Message, now time.Time) *State {
	tempID, ok := s.optimistic[clientID]
	if !ok {
		return s.Apply(&events.ThreadEvent{Type: events.MessageCreated, Message: &m}, now)
	}
	next := s.clone()
	delete(next.optimistic, clientID)
	delete(next.messagesByID, tempID)
	next.order = removeID(next.order, tempID)
	acked := m.Clone()
	if acked.Delivery == "" || acked.Delivery == models.DeliverySending {
		acked.Delivery = models.DeliveryDelivered
	}
	acked.Optimistic = false
	next.insertMessage(acked)
	next.lastUpdated = now
	return next
}

// FailOptimistic marks the placeholder for clientID as FAILED. The
// placeholder stays in the timeline so the sender can retry.
func (s *State) FailOptimistic(clientID, errorCode string, now time.Time) *State {
	tempID, ok := s.optimistic[clientID]
	if !ok {
		return s
	}
	existing, ok := s.messagesByID[tempID]
	if !ok {
		return s
	}
	if errorCode == "" {
		errorCode = "UNKNOWN"
	}
	next := s.clone()
	m := existing.Clone()
	m.Delivery = models.DeliveryFailed
	m.ErrorCode = errorCode
	next.messagesByID[tempID] = m
	next.lastUpdated = now
	return next
}

// CardTransitions lists the intents currently available on a card, or
// nil for an unknown card.
func (s *State) CardTransitions(cardID string, opts actioncard.Options) []models.TransitionOption {
	card, ok := s.cardsByID[cardID]
	if !ok {
		return nil
	}
	return actioncard.AllowedTransitions(card, opts)
}

// ApplyCardIntent advances a card's workflow through the transition
// engine and returns the new state together with the audit event.
func (s *State) ApplyCardIntent(cardID, intent string, opts actioncard.Options) (*State, *actioncard.AuditEvent, error) {
	card, ok := s.cardsByID[cardID]
	if !ok {
		return s, nil, fmt.Errorf("unknown action card: %s", cardID)
	}
	if opts.ThreadID == "" {
		opts.ThreadID = s.thread.ThreadID
	}
	nextCard, audit, err := actioncard.Transition(card, intent, opts)
	if err != nil {
		return s, nil, err
	}
	next := s.clone()
	next.upsertCard(nextCard, nextCard.UpdatedAt)
	next.lastUpdated = nextCard.UpdatedAt
	return next, audit, nil
}

// UnreadMessageIDs returns the timeline suffix after the participant's
// last read message. An unknown participant or read marker yields the
// whole timeline.
func (s *State) UnreadMessageIDs(userID string) []string {
	all := append([]string(nil), s.order...)
	pt, ok := s.participants[userID]
	if !ok || pt.LastReadMsgID == "" {
		return all
	}
	for i, id := range all {
		if id == pt.LastReadMsgID {
			return all[i+1:]
		}
	}
	return all
}

// PresenceSnapshot returns the live presence entries as of now, with
// expired entries dropped.
func (s *State) PresenceSnapshot(now time.Time) map[string]models.Presence {
	cutoff := now.Add(-s.presenceTTL)
	out := make(map[string]models.Presence, len(s.presence))
	for userID, entry := range s.presence {
		if !entry.LastSeen.Before(cutoff) {
			out[userID] = entry
		}
	}
	return out
}

// Thread returns the thread header.
func (s *State) Thread() models.Thread { return s.thread }

// Moderation returns the current thread moderation record, if any.
func (s *State) Moderation() *models.ThreadModeration {
	return s.thread.Moderation.Clone()
}

// SafeModeState returns the effective safe-mode snapshot.
func (s *State) SafeModeState() models.SafeMode { return s.safeMode }

// Panel returns the project panel snapshot.
func (s *State) Panel() models.ProjectPanel { return s.panel.Clone() }

// Message looks up one message by id.
func (s *State) Message(id string) (models.Message, bool) {
	m, ok := s.messagesByID[id]
	return m, ok
}

// Messages returns the timeline in ascending creation order.
func (s *State) Messages() []models.Message {
	out := make([]models.Message, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.messagesByID[id])
	}
	return out
}

// Card looks up one action card by id.
func (s *State) Card(id string) (models.ActionCard, bool) {
	c, ok := s.cardsByID[id]
	return c, ok
}

// Cards returns the action cards in ascending creation order.
func (s *State) Cards() []models.ActionCard {
	out := make([]models.ActionCard, 0, len(s.cardOrder))
	for _, id := range s.cardOrder {
		out = append(out, s.cardsByID[id])
	}
	return out
}

// Participants returns the participant roster keyed by user id.
func (s *State) Participants() map[string]models.Participant {
	out := make(map[string]models.Participant, len(s.participants))
	for id, pt := range s.participants {
		out[id] = pt
	}
	return out
}

// PendingClientIDs lists client ids with unresolved optimistic sends.
func (s *State) PendingClientIDs() []string {
	out := make([]string, 0, len(s.optimistic))
	for id := range s.optimistic {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len reports the number of timeline messages.
func (s *State) Len() int { return len(s.order) }

// Package controller composes the inbox store, the per-thread stores,
// the notification queue, the moderation queue, and the upload manager
// behind one subscribe/emit surface. Every mutating method applies the
// relevant reducer, collects scoped change records for whatever moved,
// and notifies subscribers once per batch with the changes and a full
// snapshot.
package controller

import (
	"fmt"
	"sync"
	"time"

	"msgcore/pkg/actioncard"
	"msgcore/pkg/audit"
	"msgcore/pkg/events"
	"msgcore/pkg/ids"
	"msgcore/pkg/inbox"
	"msgcore/pkg/logger"
	"msgcore/pkg/metrics"
	"msgcore/pkg/models"
	"msgcore/pkg/moderation"
	"msgcore/pkg/notify"
	"msgcore/pkg/thread"
	"msgcore/pkg/uploads"
)

// Change scopes.
const (
	ScopeInbox         = "inbox"
	ScopeThread        = "thread"
	ScopeNotifications = "notifications"
	ScopeModeration    = "moderation"
	ScopeUploads       = "uploads"
)

// Change is one scoped state transition within a batch.
type Change struct {
	Scope        string
	Action       string
	ThreadID     string
	ClientID     string
	MessageID    string
	CardID       string
	Intent       string
	CaseID       string
	RequestID    string
	AttachmentID string
	Status       string
	ErrorCode    string
	Count        int
}

// Snapshot is a point-in-time view of every store. The thread map is a
// copy; the states themselves are immutable.
type Snapshot struct {
	Inbox         *inbox.State
	Threads       map[string]*thread.State
	Notifications *notify.State
	Moderation    *moderation.State
	Uploads       *uploads.State
	ViewerUserID  string
}

// Listener receives each change batch together with the snapshot taken
// after the batch was applied.
type Listener func(changes []Change, snap Snapshot)

// Options configures a Controller. Zero fields take defaults.
type Options struct {
	ViewerUserID string
	// Now supplies timestamps; defaults to time.Now.
	Now func() time.Time
	// IDs generates case and message-request identifiers.
	IDs ids.Generator
	// Audit, when set, receives action-card and moderation records.
	Audit *audit.Trail

	Notifications     notify.Config
	UploadTTL         time.Duration
	RequiredApprovals int

	Inbox           *events.InboxPayload
	Threads         []events.ThreadPayload
	ModerationCases []models.ModerationCase
}

type subscriber struct {
	id int
	fn Listener
}

// Controller orchestrates all client-side messaging state for one
// viewer.
type Controller struct {
	mu sync.Mutex

	viewerUserID string
	now          func() time.Time
	newID        ids.Generator
	trail        *audit.Trail
	approvals    int

	inbox         *inbox.State
	threads       map[string]*thread.State
	notifications *notify.State
	moderation    *moderation.State
	uploads       *uploads.State

	subs    []subscriber
	nextSub int
}

// New builds a controller, hydrating any stores the options carry.
func New(opts Options) *Controller {
	c := &Controller{
		viewerUserID: opts.ViewerUserID,
		now:          opts.Now,
		newID:        opts.IDs,
		trail:        opts.Audit,
		approvals:    opts.RequiredApprovals,
		threads:      map[string]*thread.State{},
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newID == nil {
		c.newID = ids.New()
	}
	if c.approvals <= 0 {
		c.approvals = moderation.DefaultRequiredApprovals
	}
	now := c.now()
	if opts.Inbox != nil {
		c.inbox = inbox.NewState(*opts.Inbox, now)
	} else {
		c.inbox = inbox.NewState(events.InboxPayload{}, now)
	}
	for _, payload := range opts.Threads {
		st, err := thread.NewState(payload, now)
		if err != nil {
			if logger.Log != nil {
				logger.Log.Warn("thread_hydrate_failed", "thread_id", payload.Thread.ThreadID, "error", err.Error())
			}
			continue
		}
		c.threads[st.Thread().ThreadID] = st
	}
	c.notifications = notify.NewState(opts.Notifications, now)
	c.moderation = moderation.NewState(opts.ModerationCases, now)
	c.uploads = uploads.NewState(opts.UploadTTL, now)
	return c
}

// Subscribe registers a listener and returns an idempotent disposer.
func (c *Controller) Subscribe(fn Listener) func() {
	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs = append(c.subs, subscriber{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, s := range c.subs {
				if s.id == id {
					c.subs = append(c.subs[:i], c.subs[i+1:]...)
					break
				}
			}
		})
	}
}

// Dispose drops every subscriber.
func (c *Controller) Dispose() {
	c.mu.Lock()
	c.subs = nil
	c.mu.Unlock()
}

// ViewerUserID returns the current viewer identity.
func (c *Controller) ViewerUserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewerUserID
}

// SetViewerUserID changes the viewer identity used for unread
// accounting and default report attribution.
func (c *Controller) SetViewerUserID(id string) {
	c.mu.Lock()
	c.viewerUserID = id
	c.mu.Unlock()
}

func (c *Controller) snapshotLocked() Snapshot {
	threads := make(map[string]*thread.State, len(c.threads))
	for id, st := range c.threads {
		threads[id] = st
	}
	return Snapshot{
		Inbox:         c.inbox,
		Threads:       threads,
		Notifications: c.notifications,
		Moderation:    c.moderation,
		Uploads:       c.uploads,
		ViewerUserID:  c.viewerUserID,
	}
}

// GetSnapshot returns the current state of every store.
func (c *Controller) GetSnapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// emit notifies every subscriber. A panicking listener does not stop
// the remaining listeners; the first panic is re-raised to the caller
// once all have run.
func (c *Controller) emit(changes []Change, snap Snapshot) {
	if len(changes) == 0 {
		return
	}
	c.mu.Lock()
	subs := append([]subscriber(nil), c.subs...)
	c.mu.Unlock()

	var first any
	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					metrics.ListenerPanics.Inc()
					if logger.Log != nil {
						logger.Log.Error("listener_panic", "recovered", fmt.Sprint(r))
					}
					if first == nil {
						first = r
					}
				}
			}()
			s.fn(changes, snap)
		}()
	}
	if first != nil {
		panic(first)
	}
}

// updateInbox applies a reducer and records a change when the state
// pointer moved.
func (c *Controller) updateInbox(apply func(*inbox.State) *inbox.State, change Change, changes *[]Change) bool {
	next := apply(c.inbox)
	if next == c.inbox {
		return false
	}
	c.inbox = next
	change.Scope = ScopeInbox
	*changes = append(*changes, change)
	return true
}

func (c *Controller) updateNotifications(apply func(*notify.State) *notify.State, change Change, changes *[]Change) bool {
	next := apply(c.notifications)
	if next == c.notifications {
		return false
	}
	c.notifications = next
	change.Scope = ScopeNotifications
	*changes = append(*changes, change)
	return true
}

func (c *Controller) updateModeration(apply func(*moderation.State) *moderation.State, change Change, changes *[]Change) bool {
	next := apply(c.moderation)
	if next == c.moderation {
		return false
	}
	c.moderation = next
	change.Scope = ScopeModeration
	*changes = append(*changes, change)
	return true
}

// updateThread applies a reducer to one thread store. A missing thread
// logs and returns nil; an unchanged state returns the current pointer
// without recording a change.
func (c *Controller) updateThread(threadID string, apply func(*thread.State) *thread.State, change Change, changes *[]Change) *thread.State {
	current, ok := c.threads[threadID]
	if !ok {
		if logger.Log != nil {
			logger.Log.Warn("thread_missing", "thread_id", threadID, "action", change.Action)
		}
		return nil
	}
	next := apply(current)
	if next == current {
		return current
	}
	c.threads[threadID] = next
	change.Scope = ScopeThread
	change.ThreadID = threadID
	*changes = append(*changes, change)
	return next
}

// mapThreadEventToInbox translates a thread-scoped event into the inbox
// side effect that keeps both stores consistent.
func mapThreadEventToInbox(ev *events.ThreadEvent, next *thread.State, viewer string) *events.InboxEvent {
	if ev == nil || next == nil {
		return nil
	}
	threadID := next.Thread().ThreadID
	switch ev.Type {
	case events.MessageCreated:
		increment := 0
		if ev.Message != nil && ev.Message.AuthorUserID != "" && viewer != "" && ev.Message.AuthorUserID != viewer {
			increment = 1
		}
		last := next.Thread().LastMessageAt
		if last.IsZero() && ev.Message != nil {
			last = ev.Message.CreatedAt
		}
		return &events.InboxEvent{
			Type:            events.ThreadMessageReceived,
			ThreadID:        threadID,
			LastMessageAt:   last,
			IncrementUnread: increment,
		}
	case events.MessageUpdated:
		last := next.Thread().LastMessageAt
		if last.IsZero() {
			return nil
		}
		return &events.InboxEvent{
			Type:     events.ThreadUpdated,
			ThreadID: threadID,
			Patch:    &models.ThreadPatch{LastMessageAt: &last},
		}
	case events.ThreadStatusChanged:
		status := next.Thread().Status
		return &events.InboxEvent{
			Type:     events.ThreadUpdated,
			ThreadID: threadID,
			Patch:    &models.ThreadPatch{Status: &status},
		}
	case events.ThreadModerationUpdated:
		mod := next.Moderation()
		if mod == nil {
			return nil
		}
		etype := events.ThreadUnblocked
		if mod.Blocked {
			etype = events.ThreadBlocked
		}
		return &events.InboxEvent{
			Type:       etype,
			ThreadID:   threadID,
			Status:     next.Thread().Status,
			Moderation: mod,
		}
	case events.SafeModeOverride:
		safeMode := next.Thread().SafeModeRequired
		return &events.InboxEvent{
			Type:     events.ThreadUpdated,
			ThreadID: threadID,
			Patch:    &models.ThreadPatch{SafeMode: &safeMode},
		}
	case events.ReadReceiptUpdated:
		if viewer != "" && ev.Receipt != nil && ev.Receipt.UserID == viewer {
			return &events.InboxEvent{Type: events.ThreadRead, ThreadID: threadID}
		}
		return nil
	}
	return nil
}

// applyThreadEventLocked folds a thread event and, unless suppressed,
// its inbox side effect. Caller holds the lock.
func (c *Controller) applyThreadEventLocked(threadID string, ev *events.ThreadEvent, skipInbox bool, changes *[]Change) *thread.State {
	now := c.now()
	next := c.updateThread(threadID, func(st *thread.State) *thread.State {
		return st.Apply(ev, now)
	}, Change{Action: "event"}, changes)
	if next == nil {
		metrics.EventsDropped.WithLabelValues("unknown_thread").Inc()
		return nil
	}
	if ev != nil {
		metrics.ThreadEventsApplied.WithLabelValues(ev.Type).Inc()
	}
	if !skipInbox {
		if inboxEvent := mapThreadEventToInbox(ev, next, c.viewerUserID); inboxEvent != nil {
			c.updateInbox(func(st *inbox.State) *inbox.State {
				return st.Apply(inboxEvent, now)
			}, Change{Action: "sync", ThreadID: threadID}, changes)
		}
	}
	return next
}

// ApplyThreadEvent routes one canonical thread event, keeping the inbox
// in step. Returns nil when the thread is unknown.
func (c *Controller) ApplyThreadEvent(threadID string, ev *events.ThreadEvent) *thread.State {
	c.mu.Lock()
	var changes []Change
	next := c.applyThreadEventLocked(threadID, ev, false, &changes)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(changes, snap)
	return next
}

// HydrateInbox replaces the inbox store from a fresh payload.
func (c *Controller) HydrateInbox(payload events.InboxPayload) *inbox.State {
	c.mu.Lock()
	var changes []Change
	now := c.now()
	c.updateInbox(func(*inbox.State) *inbox.State {
		return inbox.NewState(payload, now)
	}, Change{Action: "hydrate"}, &changes)
	state := c.inbox
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(changes, snap)
	return state
}

// ApplyInboxEvent routes one canonical inbox event.
func (c *Controller) ApplyInboxEvent(ev *events.InboxEvent) *inbox.State {
	c.mu.Lock()
	var changes []Change
	now := c.now()
	if c.updateInbox(func(st *inbox.State) *inbox.State {
		return st.Apply(ev, now)
	}, Change{Action: "event", ThreadID: eventThreadID(ev)}, &changes) && ev != nil {
		metrics.InboxEventsApplied.WithLabelValues(ev.Type).Inc()
	}
	state := c.inbox
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(changes, snap)
	return state
}

func eventThreadID(ev *events.InboxEvent) string {
	if ev == nil {
		return ""
	}
	return ev.ThreadID
}

// HydrateThread installs (or replaces) one thread store. Unless
// syncInbox is false, the inbox entry is updated from the thread header
// in the same batch.
func (c *Controller) HydrateThread(payload events.ThreadPayload, syncInbox bool) (*thread.State, error) {
	now := c.now()
	st, err := thread.NewState(payload, now)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	threadID := st.Thread().ThreadID
	c.threads[threadID] = st
	changes := []Change{{Scope: ScopeThread, ThreadID: threadID, Action: "hydrate"}}
	if syncInbox {
		header := st.Thread()
		kind := header.Kind
		status := header.Status
		safeMode := header.SafeModeRequired
		patch := &models.ThreadPatch{
			Kind:     &kind,
			Status:   &status,
			SafeMode: &safeMode,
		}
		if !header.LastMessageAt.IsZero() {
			last := header.LastMessageAt
			patch.LastMessageAt = &last
		}
		c.updateInbox(func(stInbox *inbox.State) *inbox.State {
			return stInbox.Apply(&events.InboxEvent{
				Type:     events.ThreadUpdated,
				ThreadID: threadID,
				Patch:    patch,
			}, now)
		}, Change{Action: "sync", ThreadID: threadID}, &changes)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(changes, snap)
	return st, nil
}

// RemoveThread drops a thread store. The inbox entry is untouched.
func (c *Controller) RemoveThread(threadID string) bool {
	c.mu.Lock()
	if _, ok := c.threads[threadID]; !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.threads, threadID)
	changes := []Change{{Scope: ScopeThread, ThreadID: threadID, Action: "remove"}}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(changes, snap)
	return true
}

// ReadOptions tunes MarkThreadRead.
type ReadOptions struct {
	UserID        string
	Role          string
	LastReadMsgID string
	ReadAt        time.Time
}

// MarkThreadRead records a read receipt for the viewer (or an explicit
// user) and clears the inbox unread count when the reader is the viewer.
func (c *Controller) MarkThreadRead(threadID string, opts ReadOptions) (*thread.State, error) {
	c.mu.Lock()
	userID := opts.UserID
	if userID == "" {
		userID = c.viewerUserID
	}
	if userID == "" {
		c.mu.Unlock()
		return nil, fmt.Errorf("mark thread read requires a user id")
	}
	role := opts.Role
	if role == "" {
		role = "PARTICIPANT"
	}
	readAt := opts.ReadAt
	if readAt.IsZero() {
		readAt = c.now()
	}
	var changes []Change
	next := c.applyThreadEventLocked(threadID, &events.ThreadEvent{
		Type: events.ReadReceiptUpdated,
		Receipt: &models.Participant{
			UserID:        userID,
			Role:          role,
			LastReadMsgID: opts.LastReadMsgID,
			LastReadAt:    readAt,
		},
	}, false, &changes)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(changes, snap)
	return next, nil
}

// EnqueueOptimistic inserts a SENDING placeholder into the thread and
// bumps the inbox ordering without touching unread counts.
func (c *Controller) EnqueueOptimistic(threadID string, in thread.OptimisticMessage) (*thread.State, error) {
	c.mu.Lock()
	now := c.now()
	if in.CreatedAt.IsZero() {
		in.CreatedAt = now
	}
	var enqueueErr error
	var changes []Change
	next := c.updateThread(threadID, func(st *thread.State) *thread.State {
		out, err := st.EnqueueOptimistic(in, now)
		if err != nil {
			enqueueErr = err
			return st
		}
		return out
	}, Change{Action: "optimistic", ClientID: in.ClientID}, &changes)
	if next == nil || enqueueErr != nil {
		c.mu.Unlock()
		if enqueueErr != nil {
			return nil, enqueueErr
		}
		return nil, fmt.Errorf("unknown thread: %s", threadID)
	}
	last := next.Thread().LastMessageAt
	if last.IsZero() {
		last = in.CreatedAt
	}
	c.updateInbox(func(st *inbox.State) *inbox.State {
		return st.Apply(&events.InboxEvent{
			Type:            events.ThreadMessageReceived,
			ThreadID:        threadID,
			LastMessageAt:   last,
			IncrementUnread: 0,
		}, now)
	}, Change{Action: "sync", ThreadID: threadID}, &changes)
	metrics.OptimisticSends.WithLabelValues("enqueued").Inc()
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(changes, snap)
	return next, nil
}

// ResolveOptimistic swaps a placeholder for its acknowledged message.
func (c *Controller) ResolveOptimistic(threadID, clientID string, msg models.Message) *thread.State {
	c.mu.Lock()
	now := c.now()
	var changes []Change
	next := c.updateThread(threadID, func(st *thread.State) *thread.State {
		return st.ResolveOptimistic(clientID, msg, now)
	}, Change{Action: "optimisticResolve", ClientID: clientID, MessageID: msg.MessageID}, &changes)
	if next == nil {
		c.mu.Unlock()
		return nil
	}
	last := next.Thread().LastMessageAt
	if !last.IsZero() {
		c.updateInbox(func(st *inbox.State) *inbox.State {
			return st.Apply(&events.InboxEvent{
				Type:     events.ThreadUpdated,
				ThreadID: threadID,
				Patch:    &models.ThreadPatch{LastMessageAt: &last},
			}, now)
		}, Change{Action: "sync", ThreadID: threadID}, &changes)
	}
	metrics.OptimisticSends.WithLabelValues("resolved").Inc()
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(changes, snap)
	return next
}

// FailOptimistic marks a placeholder FAILED with the given error code.
func (c *Controller) FailOptimistic(threadID, clientID, errorCode string) *thread.State {
	c.mu.Lock()
	now := c.now()
	var changes []Change
	next := c.updateThread(threadID, func(st *thread.State) *thread.State {
		return st.FailOptimistic(clientID, errorCode, now)
	}, Change{Action: "optimisticFail", ClientID: clientID, ErrorCode: errorCode}, &changes)
	if len(changes) > 0 {
		metrics.OptimisticSends.WithLabelValues("failed").Inc()
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(changes, snap)
	return next
}

// ApplyCardIntent advances an action card, records the audit event, and
// bumps the inbox entry for the thread.
func (c *Controller) ApplyCardIntent(threadID, cardID, intent string, opts actioncard.Options) (*thread.State, *actioncard.AuditEvent, error) {
	c.mu.Lock()
	current, ok := c.threads[threadID]
	if !ok {
		c.mu.Unlock()
		return nil, nil, fmt.Errorf("unknown thread: %s", threadID)
	}
	if opts.Now.IsZero() {
		opts.Now = c.now()
	}
	next, auditEvent, err := current.ApplyCardIntent(cardID, intent, opts)
	if err != nil {
		c.mu.Unlock()
		return nil, nil, err
	}
	c.threads[threadID] = next
	changes := []Change{{Scope: ScopeThread, ThreadID: threadID, Action: "actionCard", CardID: cardID, Intent: intent}}
	now := c.now()
	last := next.Thread().LastMessageAt
	if !last.IsZero() {
		c.updateInbox(func(st *inbox.State) *inbox.State {
			return st.Apply(&events.InboxEvent{
				Type:     events.ThreadUpdated,
				ThreadID: threadID,
				Patch:    &models.ThreadPatch{LastMessageAt: &last},
			}, now)
		}, Change{Action: "sync", ThreadID: threadID}, &changes)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if auditEvent != nil && c.trail != nil {
		c.trail.Record(audit.Entry{
			Kind:        audit.KindActionCard,
			ThreadID:    threadID,
			ActorUserID: auditEvent.ActorUserID,
			Action:      auditEvent.Intent,
			At:          auditEvent.Timestamp,
			Data: map[string]any{
				"card_id":     cardID,
				"action_type": auditEvent.ActionType,
				"from_state":  auditEvent.FromState,
				"to_state":    auditEvent.ToState,
				"version":     auditEvent.Version,
				"category":    auditEvent.Category,
			},
		})
	}
	c.emit(changes, snap)
	return next, auditEvent, nil
}

// EnqueueNotification adds one notification to the queue.
func (c *Controller) EnqueueNotification(n notify.Incoming) *notify.State {
	c.mu.Lock()
	now := c.now()
	var changes []Change
	if c.updateNotifications(func(st *notify.State) *notify.State {
		return st.Enqueue(n, now)
	}, Change{Action: "enqueue", ThreadID: n.ThreadID}, &changes) {
		metrics.NotificationsEnqueued.Inc()
	}
	state := c.notifications
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(changes, snap)
	return state
}

// FlushNotifications releases everything deliverable right now.
func (c *Controller) FlushNotifications() []models.NotificationItem {
	c.mu.Lock()
	now := c.now()
	var flushed []models.NotificationItem
	var changes []Change
	c.updateNotifications(func(st *notify.State) *notify.State {
		next, items := st.Flush(now)
		flushed = items
		return next
	}, Change{Action: "flush", Count: len(flushed)}, &changes)
	if len(changes) > 0 {
		changes[len(changes)-1].Count = len(flushed)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(changes, snap)
	return flushed
}

// CollectNotificationDigest groups long-deferred notifications into
// per-thread digests and stamps them as digest-notified.
func (c *Controller) CollectNotificationDigest() []models.DigestGroup {
	c.mu.Lock()
	now := c.now()
	var digest []models.DigestGroup
	var changes []Change
	c.updateNotifications(func(st *notify.State) *notify.State {
		next, groups := st.CollectDigest(now)
		digest = groups
		return next
	}, Change{Action: "digest", Count: len(digest)}, &changes)
	if len(changes) > 0 {
		changes[len(changes)-1].Count = len(digest)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(changes, snap)
	return digest
}

// PendingNotifications lists undeferred queue items in order.
func (c *Controller) PendingNotifications() []models.NotificationItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notifications.Pending()
}

// PruneExpiredRequests drops expired or already-handled message
// requests.
func (c *Controller) PruneExpiredRequests() *inbox.State {
	c.mu.Lock()
	now := c.now()
	var changes []Change
	c.updateInbox(func(st *inbox.State) *inbox.State {
		return st.PruneExpiredRequests(now)
	}, Change{Action: "pruneRequests"}, &changes)
	state := c.inbox
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(changes, snap)
	return state
}

// CanStartConversation checks credits first, then the rate limit.
func (c *Controller) CanStartConversation(requiredCredits int) (int, *models.StartDenial) {
	c.mu.Lock()
	remaining, denial := c.inbox.CanStart(c.now(), requiredCredits)
	c.mu.Unlock()
	if denial != nil {
		metrics.StartDenials.WithLabelValues(denial.Code).Inc()
	}
	return remaining, denial
}

// RecordConversationStart burns a rate-limit slot and debits credits.
func (c *Controller) RecordConversationStart(creditsSpent int) *inbox.State {
	c.mu.Lock()
	now := c.now()
	var changes []Change
	c.updateInbox(func(st *inbox.State) *inbox.State {
		return st.RecordStart(now, creditsSpent)
	}, Change{Action: "conversationStart"}, &changes)
	state := c.inbox
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(changes, snap)
	return state
}

// AcceptMessageRequest promotes a pending request into a live thread
// entry.
func (c *Controller) AcceptMessageRequest(requestID string) *inbox.State {
	c.mu.Lock()
	now := c.now()
	var changes []Change
	c.updateInbox(func(st *inbox.State) *inbox.State {
		return st.AcceptRequest(requestID, now)
	}, Change{Action: "requestAccept", RequestID: requestID}, &changes)
	state := c.inbox
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(changes, snap)
	return state
}

// DeclineMessageRequest declines (or blocks) a pending request.
func (c *Controller) DeclineMessageRequest(requestID string, block bool) *inbox.State {
	action := "requestDecline"
	if block {
		action = "requestBlock"
	}
	c.mu.Lock()
	now := c.now()
	var changes []Change
	c.updateInbox(func(st *inbox.State) *inbox.State {
		return st.DeclineRequest(requestID, block, now)
	}, Change{Action: action, RequestID: requestID}, &changes)
	state := c.inbox
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(changes, snap)
	return state
}

// mutateInboxThread is the shared path for pin/archive/mute toggles.
func (c *Controller) mutateInboxThread(ev *events.InboxEvent, action string) (*inbox.State, error) {
	if ev.ThreadID == "" {
		return nil, fmt.Errorf("%s requires threadId", action)
	}
	c.mu.Lock()
	now := c.now()
	var changes []Change
	c.updateInbox(func(st *inbox.State) *inbox.State {
		return st.Apply(ev, now)
	}, Change{Action: action, ThreadID: ev.ThreadID}, &changes)
	state := c.inbox
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(changes, snap)
	return state, nil
}

// PinThread pins a thread into the pinned folder.
func (c *Controller) PinThread(threadID string) (*inbox.State, error) {
	return c.mutateInboxThread(&events.InboxEvent{Type: events.ThreadPinned, ThreadID: threadID}, "threadPinned")
}

// UnpinThread removes a thread from the pinned folder.
func (c *Controller) UnpinThread(threadID string) (*inbox.State, error) {
	return c.mutateInboxThread(&events.InboxEvent{Type: events.ThreadUnpinned, ThreadID: threadID}, "threadUnpinned")
}

// ArchiveThread moves a thread to the archive folder.
func (c *Controller) ArchiveThread(threadID string) (*inbox.State, error) {
	return c.mutateInboxThread(&events.InboxEvent{Type: events.ThreadArchived, ThreadID: threadID}, "threadArchived")
}

// UnarchiveThread restores a thread from the archive.
func (c *Controller) UnarchiveThread(threadID string) (*inbox.State, error) {
	return c.mutateInboxThread(&events.InboxEvent{Type: events.ThreadUnarchived, ThreadID: threadID}, "threadUnarchived")
}

// MuteThread sets a thread's muted flag.
func (c *Controller) MuteThread(threadID string, muted bool) (*inbox.State, error) {
	action := "threadMuted"
	if !muted {
		action = "threadUnmuted"
	}
	return c.mutateInboxThread(&events.InboxEvent{Type: events.ThreadMuted, ThreadID: threadID, Muted: &muted}, action)
}

// UnmuteThread clears a thread's muted flag.
func (c *Controller) UnmuteThread(threadID string) (*inbox.State, error) {
	return c.MuteThread(threadID, false)
}

// InboxState returns the inbox store.
func (c *Controller) InboxState() *inbox.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inbox
}

// ThreadState returns one thread store, or nil if not hydrated.
func (c *Controller) ThreadState(threadID string) *thread.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threads[threadID]
}

// ThreadIDs lists hydrated thread ids.
func (c *Controller) ThreadIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.threads))
	for id := range c.threads {
		out = append(out, id)
	}
	return out
}

// NotificationState returns the notification queue.
func (c *Controller) NotificationState() *notify.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notifications
}

// TotalUnread sums unread counts over non-muted, non-archived threads.
func (c *Controller) TotalUnread() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inbox.TotalUnread()
}

// SelectInboxThreads runs a folder/filter query against the inbox.
func (c *Controller) SelectInboxThreads(opts inbox.SelectOptions) []models.InboxEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inbox.Select(opts)
}

// UnreadMessageIDs returns the unread suffix of one thread's timeline.
func (c *Controller) UnreadMessageIDs(threadID, userID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.threads[threadID]
	if !ok {
		return nil
	}
	return st.UnreadMessageIDs(userID)
}

// ActionCards lists one thread's cards in creation order.
func (c *Controller) ActionCards(threadID string) []models.ActionCard {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.threads[threadID]
	if !ok {
		return nil
	}
	return st.Cards()
}

// CardTransitions lists the intents available on one card.
func (c *Controller) CardTransitions(threadID, cardID string, opts actioncard.Options) []models.TransitionOption {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.threads[threadID]
	if !ok {
		return nil
	}
	return st.CardTransitions(cardID, opts)
}

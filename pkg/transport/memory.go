package transport

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Call records one mutation the Memory transport received.
type Call struct {
	Intent   string
	ThreadID string
	TargetID string
	Args     map[string]any
}

// Memory is a deterministic in-process transport for tests and the demo
// binary. Payloads and mutation responses are scripted up front; events
// are injected with the Emit methods and fan out to live subscribers.
type Memory struct {
	mu sync.Mutex

	inboxPayload      map[string]any
	threadPayloads    map[string]map[string]any
	moderationPayload map[string]any

	inboxSubs  map[int]Handlers
	threadSubs map[string]map[int]Handlers
	nextSub    int

	calls     []Call
	responses map[string]map[string]any
	failures  map[string]error

	statusQueues map[string][]StatusUpdate
	nextAck      int
	now          func() time.Time
}

// NewMemory returns an empty transport. Timestamps on synthesized acks
// come from nowFn; nil means time.Now.
func NewMemory(nowFn func() time.Time) *Memory {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Memory{
		threadPayloads: map[string]map[string]any{},
		inboxSubs:      map[int]Handlers{},
		threadSubs:     map[string]map[int]Handlers{},
		responses:      map[string]map[string]any{},
		failures:       map[string]error{},
		statusQueues:   map[string][]StatusUpdate{},
		now:            nowFn,
	}
}

// SetInboxPayload scripts the next FetchInbox result.
func (m *Memory) SetInboxPayload(payload map[string]any) {
	m.mu.Lock()
	m.inboxPayload = payload
	m.mu.Unlock()
}

// SetThreadPayload scripts the FetchThread result for one thread.
func (m *Memory) SetThreadPayload(threadID string, payload map[string]any) {
	m.mu.Lock()
	m.threadPayloads[threadID] = payload
	m.mu.Unlock()
}

// SetModerationPayload scripts the FetchModerationQueue result.
func (m *Memory) SetModerationPayload(payload map[string]any) {
	m.mu.Lock()
	m.moderationPayload = payload
	m.mu.Unlock()
}

// Respond scripts the response payload for one mutation intent.
func (m *Memory) Respond(intent string, payload map[string]any) {
	m.mu.Lock()
	m.responses[intent] = payload
	m.mu.Unlock()
}

// FailNext makes the next call for the intent fail once. Fetches and
// upload handshake steps use their method names as intents.
func (m *Memory) FailNext(intent string, err error) {
	m.mu.Lock()
	m.failures[intent] = err
	m.mu.Unlock()
}

func (m *Memory) takeFailure(intent string) error {
	err, ok := m.failures[intent]
	if ok {
		delete(m.failures, intent)
	}
	return err
}

// Calls returns a copy of every recorded mutation call.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount counts recorded calls for one intent.
func (m *Memory) CallCount(intent string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Intent == intent {
			n++
		}
	}
	return n
}

func (m *Memory) record(c Call) {
	m.calls = append(m.calls, c)
}

// FetchInbox implements Fetcher.
func (m *Memory) FetchInbox(ctx context.Context, args map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("fetchInbox"); err != nil {
		return nil, err
	}
	if m.inboxPayload == nil {
		return map[string]any{}, nil
	}
	return m.inboxPayload, nil
}

// FetchThread implements Fetcher.
func (m *Memory) FetchThread(ctx context.Context, threadID string, args map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("fetchThread"); err != nil {
		return nil, err
	}
	m.record(Call{Intent: "fetchThread", ThreadID: threadID, Args: args})
	payload, ok := m.threadPayloads[threadID]
	if !ok {
		return nil, fmt.Errorf("no scripted payload for thread %s", threadID)
	}
	return payload, nil
}

// FetchModerationQueue implements Fetcher.
func (m *Memory) FetchModerationQueue(ctx context.Context, args map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("fetchModerationQueue"); err != nil {
		return nil, err
	}
	if m.moderationPayload == nil {
		return map[string]any{}, nil
	}
	return m.moderationPayload, nil
}

// SubscribeInbox implements Subscriber.
func (m *Memory) SubscribeInbox(ctx context.Context, h Handlers) (func(), error) {
	m.mu.Lock()
	if err := m.takeFailure("subscribeInbox"); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.nextSub++
	id := m.nextSub
	m.inboxSubs[id] = h
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.inboxSubs, id)
		m.mu.Unlock()
	}, nil
}

// SubscribeThread implements Subscriber.
func (m *Memory) SubscribeThread(ctx context.Context, threadID string, h Handlers) (func(), error) {
	m.mu.Lock()
	if err := m.takeFailure("subscribeThread"); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.nextSub++
	id := m.nextSub
	subs, ok := m.threadSubs[threadID]
	if !ok {
		subs = map[int]Handlers{}
		m.threadSubs[threadID] = subs
	}
	subs[id] = h
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		if subs, ok := m.threadSubs[threadID]; ok {
			delete(subs, id)
		}
		m.mu.Unlock()
	}, nil
}

func snapshotHandlers(subs map[int]Handlers) []Handlers {
	out := make([]Handlers, 0, len(subs))
	for _, h := range subs {
		out = append(out, h)
	}
	return out
}

// EmitInbox delivers one envelope to every inbox subscriber.
func (m *Memory) EmitInbox(envelope map[string]any) {
	m.mu.Lock()
	handlers := snapshotHandlers(m.inboxSubs)
	m.mu.Unlock()
	for _, h := range handlers {
		if h.Next != nil {
			h.Next(envelope)
		}
	}
}

// EmitThread delivers one envelope to every subscriber of the thread.
func (m *Memory) EmitThread(threadID string, envelope map[string]any) {
	m.mu.Lock()
	handlers := snapshotHandlers(m.threadSubs[threadID])
	m.mu.Unlock()
	for _, h := range handlers {
		if h.Next != nil {
			h.Next(envelope)
		}
	}
}

// FailInboxStream invokes every inbox subscriber's error handler.
func (m *Memory) FailInboxStream(err error) {
	m.mu.Lock()
	handlers := snapshotHandlers(m.inboxSubs)
	m.mu.Unlock()
	for _, h := range handlers {
		if h.Error != nil {
			h.Error(err)
		}
	}
}

// FailThreadStream invokes the thread's subscriber error handlers.
func (m *Memory) FailThreadStream(threadID string, err error) {
	m.mu.Lock()
	handlers := snapshotHandlers(m.threadSubs[threadID])
	m.mu.Unlock()
	for _, h := range handlers {
		if h.Error != nil {
			h.Error(err)
		}
	}
}

// CompleteThreadStream ends the thread's subscription streams.
func (m *Memory) CompleteThreadStream(threadID string) {
	m.mu.Lock()
	handlers := snapshotHandlers(m.threadSubs[threadID])
	delete(m.threadSubs, threadID)
	m.mu.Unlock()
	for _, h := range handlers {
		if h.Complete != nil {
			h.Complete()
		}
	}
}

// CompleteInboxStream ends the inbox subscription streams.
func (m *Memory) CompleteInboxStream() {
	m.mu.Lock()
	handlers := snapshotHandlers(m.inboxSubs)
	m.inboxSubs = map[int]Handlers{}
	m.mu.Unlock()
	for _, h := range handlers {
		if h.Complete != nil {
			h.Complete()
		}
	}
}

func (m *Memory) mutate(ctx context.Context, c Call) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(c.Intent); err != nil {
		return nil, err
	}
	m.record(c)
	return m.responses[c.Intent], nil
}

// SendMessage implements Mutations. Without a scripted response the ack
// is synthesized from the input.
func (m *Memory) SendMessage(ctx context.Context, threadID string, input SendInput) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("sendMessage"); err != nil {
		return nil, err
	}
	m.record(Call{Intent: "sendMessage", ThreadID: threadID, TargetID: input.ClientID})
	if resp, ok := m.responses["sendMessage"]; ok {
		return resp, nil
	}
	m.nextAck++
	msgType := input.Type
	if msgType == "" {
		msgType = "TEXT"
	}
	return map[string]any{
		"messageId":    fmt.Sprintf("srv-%d", m.nextAck),
		"clientId":     input.ClientID,
		"authorUserId": input.AuthorUserID,
		"type":         msgType,
		"body":         input.Body,
		"createdAt":    m.now().UTC().Format(time.RFC3339Nano),
	}, nil
}

func (m *Memory) MarkThreadRead(ctx context.Context, threadID string, args map[string]any) error {
	_, err := m.mutate(ctx, Call{Intent: "markThreadRead", ThreadID: threadID, Args: args})
	return err
}

func (m *Memory) AcceptMessageRequest(ctx context.Context, requestID string, args map[string]any) error {
	_, err := m.mutate(ctx, Call{Intent: "acceptMessageRequest", TargetID: requestID, Args: args})
	return err
}

func (m *Memory) DeclineMessageRequest(ctx context.Context, requestID string, args map[string]any) error {
	_, err := m.mutate(ctx, Call{Intent: "declineMessageRequest", TargetID: requestID, Args: args})
	return err
}

func (m *Memory) PinThread(ctx context.Context, threadID string, pinned bool) error {
	intent := "pinThread"
	if !pinned {
		intent = "unpinThread"
	}
	_, err := m.mutate(ctx, Call{Intent: intent, ThreadID: threadID})
	return err
}

func (m *Memory) ArchiveThread(ctx context.Context, threadID string, archived bool) error {
	intent := "archiveThread"
	if !archived {
		intent = "unarchiveThread"
	}
	_, err := m.mutate(ctx, Call{Intent: intent, ThreadID: threadID})
	return err
}

func (m *Memory) MuteThread(ctx context.Context, threadID string, muted bool) error {
	intent := "muteThread"
	if !muted {
		intent = "unmuteThread"
	}
	_, err := m.mutate(ctx, Call{Intent: intent, ThreadID: threadID})
	return err
}

func (m *Memory) ReportMessage(ctx context.Context, threadID, messageID string, args map[string]any) (map[string]any, error) {
	return m.mutate(ctx, Call{Intent: "reportMessage", ThreadID: threadID, TargetID: messageID, Args: args})
}

func (m *Memory) ReportThread(ctx context.Context, threadID string, args map[string]any) (map[string]any, error) {
	return m.mutate(ctx, Call{Intent: "reportThread", ThreadID: threadID, Args: args})
}

func (m *Memory) LockThread(ctx context.Context, threadID string, locked bool, args map[string]any) (map[string]any, error) {
	intent := "lockThread"
	if !locked {
		intent = "unlockThread"
	}
	return m.mutate(ctx, Call{Intent: intent, ThreadID: threadID, Args: args})
}

func (m *Memory) BlockThread(ctx context.Context, threadID string, blocked bool, args map[string]any) (map[string]any, error) {
	intent := "blockThread"
	if !blocked {
		intent = "unblockThread"
	}
	return m.mutate(ctx, Call{Intent: intent, ThreadID: threadID, Args: args})
}

func (m *Memory) UpdateModerationCase(ctx context.Context, caseID string, patch map[string]any) error {
	_, err := m.mutate(ctx, Call{Intent: "updateModerationCase", TargetID: caseID, Args: patch})
	return err
}

func (m *Memory) ResolveModerationCase(ctx context.Context, caseID string, resolution map[string]any) error {
	_, err := m.mutate(ctx, Call{Intent: "resolveModerationCase", TargetID: caseID, Args: resolution})
	return err
}

func (m *Memory) RemoveModerationCase(ctx context.Context, caseID string) error {
	_, err := m.mutate(ctx, Call{Intent: "removeModerationCase", TargetID: caseID})
	return err
}

func (m *Memory) RecordConversationStart(ctx context.Context, args map[string]any) error {
	_, err := m.mutate(ctx, Call{Intent: "recordConversationStart", Args: args})
	return err
}

// ScriptStatus queues server verdicts for an attachment; GetUploadStatus
// pops them in order and returns nil once the queue is drained.
func (m *Memory) ScriptStatus(attachmentID string, updates ...StatusUpdate) {
	m.mu.Lock()
	m.statusQueues[attachmentID] = append(m.statusQueues[attachmentID], updates...)
	m.mu.Unlock()
}

// CreateUploadSession implements UploadHandlers.
func (m *Memory) CreateUploadSession(ctx context.Context, threadID string, req SessionRequest) (*SessionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("createUploadSession"); err != nil {
		return nil, err
	}
	m.record(Call{Intent: "createUploadSession", ThreadID: threadID, TargetID: req.ClientID})
	attachmentID := "att_" + req.ClientID
	return &SessionResult{
		AttachmentID: attachmentID,
		UploadURL:    "mem://upload/" + attachmentID,
	}, nil
}

// PerformUpload implements UploadHandlers, reporting a single complete
// progress tick.
func (m *Memory) PerformUpload(ctx context.Context, session *SessionResult, payload []byte, onProgress func(uploaded, total int64)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	err := m.takeFailure("performUpload")
	if err == nil {
		m.record(Call{Intent: "performUpload", TargetID: session.AttachmentID})
	}
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if onProgress != nil {
		size := int64(len(payload))
		onProgress(size, size)
	}
	return nil
}

// CompleteUpload implements UploadHandlers. Without scripted statuses the
// verdict is READY.
func (m *Memory) CompleteUpload(ctx context.Context, threadID string, attachmentID string, metadata map[string]any) (*StatusUpdate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("completeUpload"); err != nil {
		return nil, err
	}
	m.record(Call{Intent: "completeUpload", ThreadID: threadID, TargetID: attachmentID})
	if update := m.popStatus(attachmentID); update != nil {
		return update, nil
	}
	return &StatusUpdate{Status: "READY"}, nil
}

// GetUploadStatus implements UploadHandlers.
func (m *Memory) GetUploadStatus(ctx context.Context, attachmentID string) (*StatusUpdate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("getUploadStatus"); err != nil {
		return nil, err
	}
	m.record(Call{Intent: "getUploadStatus", TargetID: attachmentID})
	return m.popStatus(attachmentID), nil
}

func (m *Memory) popStatus(attachmentID string) *StatusUpdate {
	queue := m.statusQueues[attachmentID]
	if len(queue) == 0 {
		return nil
	}
	update := queue[0]
	m.statusQueues[attachmentID] = queue[1:]
	return &update
}

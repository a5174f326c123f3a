// Package transport defines the collaborator interfaces the messaging
// client depends on: one-shot fetches, push subscriptions, intent
// mutations, and the upload session handshake. Implementations deliver
// raw envelopes and payloads as plain maps; canonicalization into event
// and payload types happens in pkg/events.
package transport

import "context"

// Handlers receives one subscription's lifecycle. Next is required;
// Error and Complete may be nil.
type Handlers struct {
	Next     func(envelope map[string]any)
	Error    func(err error)
	Complete func()
}

// Fetcher performs one-shot authoritative reads.
type Fetcher interface {
	FetchInbox(ctx context.Context, args map[string]any) (map[string]any, error)
	FetchThread(ctx context.Context, threadID string, args map[string]any) (map[string]any, error)
	FetchModerationQueue(ctx context.Context, args map[string]any) (map[string]any, error)
}

// Subscriber opens push streams. The returned disposer tears the stream
// down; calling it more than once is harmless.
type Subscriber interface {
	SubscribeInbox(ctx context.Context, h Handlers) (func(), error)
	SubscribeThread(ctx context.Context, threadID string, h Handlers) (func(), error)
}

// SendInput is the wire shape of one outgoing message.
type SendInput struct {
	ClientID     string           `json:"clientId"`
	AuthorUserID string           `json:"authorUserId,omitempty"`
	Type         string           `json:"type,omitempty"`
	Body         string           `json:"body,omitempty"`
	Attachments  []map[string]any `json:"attachments,omitempty"`
	Metadata     map[string]any   `json:"metadata,omitempty"`
}

// Mutations issues server-side intents. Every method is called with the
// optimistic local update already applied; a returned error triggers the
// caller's compensating action. Methods returning a map hand back the
// server's response payload for remote-state reconciliation.
type Mutations interface {
	SendMessage(ctx context.Context, threadID string, input SendInput) (map[string]any, error)
	MarkThreadRead(ctx context.Context, threadID string, args map[string]any) error
	AcceptMessageRequest(ctx context.Context, requestID string, args map[string]any) error
	DeclineMessageRequest(ctx context.Context, requestID string, args map[string]any) error
	PinThread(ctx context.Context, threadID string, pinned bool) error
	ArchiveThread(ctx context.Context, threadID string, archived bool) error
	MuteThread(ctx context.Context, threadID string, muted bool) error
	ReportMessage(ctx context.Context, threadID, messageID string, args map[string]any) (map[string]any, error)
	ReportThread(ctx context.Context, threadID string, args map[string]any) (map[string]any, error)
	LockThread(ctx context.Context, threadID string, locked bool, args map[string]any) (map[string]any, error)
	BlockThread(ctx context.Context, threadID string, blocked bool, args map[string]any) (map[string]any, error)
	UpdateModerationCase(ctx context.Context, caseID string, patch map[string]any) error
	ResolveModerationCase(ctx context.Context, caseID string, resolution map[string]any) error
	RemoveModerationCase(ctx context.Context, caseID string) error
	RecordConversationStart(ctx context.Context, args map[string]any) error
}

// SessionRequest describes the attachment an upload session is for.
type SessionRequest struct {
	ClientID  string         `json:"clientId"`
	FileName  string         `json:"fileName"`
	MimeType  string         `json:"mimeType,omitempty"`
	SizeBytes int64          `json:"sizeBytes,omitempty"`
	Checksum  string         `json:"checksum,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SessionResult is the server's signed upload grant.
type SessionResult struct {
	AttachmentID string         `json:"attachmentId"`
	UploadURL    string         `json:"uploadUrl,omitempty"`
	Checksum     string         `json:"checksum,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// StatusUpdate is one server verdict on an uploaded attachment.
type StatusUpdate struct {
	Status    string         `json:"status"`
	NSFWBand  *int           `json:"nsfwBand,omitempty"`
	ErrorCode string         `json:"errorCode,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// UploadHandlers drives the attachment upload handshake. PerformUpload
// may report progress through the callback; a nil onProgress is allowed.
// CompleteUpload and GetUploadStatus may return a nil update when the
// server has nothing to say yet.
type UploadHandlers interface {
	CreateUploadSession(ctx context.Context, threadID string, req SessionRequest) (*SessionResult, error)
	PerformUpload(ctx context.Context, session *SessionResult, payload []byte, onProgress func(uploaded, total int64)) error
	CompleteUpload(ctx context.Context, threadID string, attachmentID string, metadata map[string]any) (*StatusUpdate, error)
	GetUploadStatus(ctx context.Context, attachmentID string) (*StatusUpdate, error)
}

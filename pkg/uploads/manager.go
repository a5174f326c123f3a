// Package uploads tracks client-initiated attachment uploads from
// request through signing, transfer, scanning, and the final verdict.
// Items are indexed both ways: by client id and, once signed, by the
// server-assigned attachment id. State values are immutable.
package uploads

import (
	"fmt"
	"time"

	"msgcore/pkg/models"
)

// DefaultTTL bounds how long terminal uploads linger before pruning.
const DefaultTTL = 60 * time.Minute

// State is an immutable upload-manager snapshot.
type State struct {
	byClientID     map[string]models.UploadItem
	byAttachmentID map[string]string
	order          []string
	ttl            time.Duration
	lastUpdated    time.Time
}

// NewState builds an empty manager. A zero ttl uses DefaultTTL.
func NewState(ttl time.Duration, now time.Time) *State {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &State{
		byClientID:     map[string]models.UploadItem{},
		byAttachmentID: map[string]string{},
		ttl:            ttl,
		lastUpdated:    now,
	}
}

func (s *State) clone() *State {
	next := *s
	next.byClientID = make(map[string]models.UploadItem, len(s.byClientID))
	for id, item := range s.byClientID {
		next.byClientID[id] = item.Clone()
	}
	next.byAttachmentID = make(map[string]string, len(s.byAttachmentID))
	for k, v := range s.byAttachmentID {
		next.byAttachmentID[k] = v
	}
	next.order = make([]string, len(s.order))
	copy(next.order, s.order)
	return &next
}

func (s *State) item(clientID string) (models.UploadItem, error) {
	item, ok := s.byClientID[clientID]
	if !ok {
		return models.UploadItem{}, fmt.Errorf("unknown upload clientId: %s", clientID)
	}
	return item, nil
}

// linkAttachment binds an attachment id to an item, dropping any stale
// reverse mapping the item held before.
func (s *State) linkAttachment(item *models.UploadItem, attachmentID string) {
	if attachmentID == "" {
		return
	}
	if item.AttachmentID != "" && item.AttachmentID != attachmentID {
		delete(s.byAttachmentID, item.AttachmentID)
	}
	item.AttachmentID = attachmentID
	s.byAttachmentID[attachmentID] = item.ClientID
}

func mergeMeta(dst *models.UploadItem, meta map[string]any) {
	if len(meta) == 0 {
		return
	}
	if dst.Metadata == nil {
		dst.Metadata = make(map[string]any, len(meta))
	}
	for k, v := range meta {
		dst.Metadata[k] = v
	}
}

// Descriptor registers a new client upload.
type Descriptor struct {
	ClientID  string
	FileName  string
	MimeType  string
	SizeBytes int64
	Metadata  map[string]any
}

// Register creates a REQUESTED item for the descriptor. Re-registering
// a client id replaces the item but keeps its queue position.
func (s *State) Register(d Descriptor, now time.Time) (*State, error) {
	if d.ClientID == "" {
		return nil, fmt.Errorf("register requires clientId")
	}
	next := s.clone()
	item := models.UploadItem{
		ClientID:  d.ClientID,
		FileName:  d.FileName,
		MimeType:  d.MimeType,
		SizeBytes: d.SizeBytes,
		Status:    models.UploadRequested,
		Progress:  models.UploadProgress{TotalBytes: d.SizeBytes},
		CreatedAt: now,
		UpdatedAt: now,
	}
	mergeMeta(&item, d.Metadata)
	if _, exists := next.byClientID[d.ClientID]; !exists {
		next.order = append(next.order, d.ClientID)
	}
	next.byClientID[d.ClientID] = item
	next.lastUpdated = now
	return next, nil
}

// SignedDetails carries the signed-URL response.
type SignedDetails struct {
	AttachmentID string
	UploadURL    string
	Metadata     map[string]any
}

// MarkSigned records signed-URL metadata and moves the item to SIGNED.
func (s *State) MarkSigned(clientID string, d SignedDetails, now time.Time) (*State, error) {
	next := s.clone()
	item, err := next.item(clientID)
	if err != nil {
		return nil, err
	}
	item.Status = models.UploadSigned
	if d.UploadURL != "" {
		item.UploadURL = d.UploadURL
	}
	mergeMeta(&item, d.Metadata)
	item.UpdatedAt = now
	next.linkAttachment(&item, d.AttachmentID)
	next.byClientID[clientID] = item
	next.lastUpdated = now
	return next, nil
}

// MarkProgress updates transfer progress and moves the item to
// UPLOADING. A zero total keeps the previous total.
func (s *State) MarkProgress(clientID string, uploaded, total int64, now time.Time) (*State, error) {
	next := s.clone()
	item, err := next.item(clientID)
	if err != nil {
		return nil, err
	}
	item.Status = models.UploadUploading
	item.Progress.UploadedBytes = uploaded
	switch {
	case total > 0:
		item.Progress.TotalBytes = total
	case item.Progress.TotalBytes == 0 && item.SizeBytes > 0:
		item.Progress.TotalBytes = item.SizeBytes
	case item.Progress.TotalBytes == 0:
		item.Progress.TotalBytes = uploaded
	}
	item.UpdatedAt = now
	next.byClientID[clientID] = item
	next.lastUpdated = now
	return next, nil
}

// CompleteDetails carries client-side completion info.
type CompleteDetails struct {
	AttachmentID string
	Checksum     string
	Metadata     map[string]any
}

// MarkComplete records the client-side finish and moves the item to
// SCANNING while the server verdict is pending.
func (s *State) MarkComplete(clientID string, d CompleteDetails, now time.Time) (*State, error) {
	next := s.clone()
	item, err := next.item(clientID)
	if err != nil {
		return nil, err
	}
	item.Status = models.UploadScanning
	if d.Checksum != "" {
		item.Checksum = d.Checksum
	}
	mergeMeta(&item, d.Metadata)
	item.UpdatedAt = now
	next.linkAttachment(&item, d.AttachmentID)
	next.byClientID[clientID] = item
	next.lastUpdated = now
	return next, nil
}

// ServerStatus is a scan-pipeline update keyed by attachment id.
type ServerStatus struct {
	AttachmentID string
	Status       string
	NSFWBand     *int
	ErrorCode    string
	Metadata     map[string]any
}

// ApplyServerStatus applies a server-side status change. An attachment
// id the manager has never seen is a silent no-op; a missing id is an
// error.
func (s *State) ApplyServerStatus(u ServerStatus, now time.Time) (*State, error) {
	if u.AttachmentID == "" {
		return nil, fmt.Errorf("server status requires attachmentId")
	}
	clientID, ok := s.byAttachmentID[u.AttachmentID]
	if !ok {
		return s, nil
	}
	next := s.clone()
	item, err := next.item(clientID)
	if err != nil {
		return nil, err
	}
	item.Status = u.Status
	if u.NSFWBand != nil {
		item.NSFWBand = *u.NSFWBand
	}
	item.ErrorCode = u.ErrorCode
	mergeMeta(&item, u.Metadata)
	item.UpdatedAt = now
	next.byClientID[clientID] = item
	next.lastUpdated = now
	return next, nil
}

// MarkFailed fails an upload on the client side. A missing error code
// records UNKNOWN.
func (s *State) MarkFailed(clientID, errorCode string, now time.Time) (*State, error) {
	next := s.clone()
	item, err := next.item(clientID)
	if err != nil {
		return nil, err
	}
	item.Status = models.UploadFailed
	if errorCode == "" {
		errorCode = "UNKNOWN"
	}
	item.ErrorCode = errorCode
	item.UpdatedAt = now
	next.byClientID[clientID] = item
	next.lastUpdated = now
	return next, nil
}

// Cancel abandons an in-flight upload. Items already in a terminal
// state are left untouched.
func (s *State) Cancel(clientID string, now time.Time) (*State, error) {
	if cur, ok := s.byClientID[clientID]; ok && models.UploadTerminal(cur.Status) {
		return s, nil
	}
	next := s.clone()
	item, err := next.item(clientID)
	if err != nil {
		return nil, err
	}
	item.Status = models.UploadCancelled
	item.UpdatedAt = now
	next.byClientID[clientID] = item
	next.lastUpdated = now
	return next, nil
}

// Prune drops terminal items whose last update is older than the ttl.
// In-flight items are never pruned.
func (s *State) Prune(now time.Time) *State {
	cutoff := now.Add(-s.ttl)
	next := s.clone()
	remaining := next.order[:0]
	for _, clientID := range next.order {
		item, ok := next.byClientID[clientID]
		if !ok {
			continue
		}
		if models.UploadTerminal(item.Status) && item.UpdatedAt.Before(cutoff) {
			delete(next.byClientID, clientID)
			if item.AttachmentID != "" {
				delete(next.byAttachmentID, item.AttachmentID)
			}
			continue
		}
		remaining = append(remaining, clientID)
	}
	next.order = remaining
	next.lastUpdated = now
	return next
}

// Get returns an item by client id.
func (s *State) Get(clientID string) (models.UploadItem, bool) {
	item, ok := s.byClientID[clientID]
	if !ok {
		return models.UploadItem{}, false
	}
	return item.Clone(), true
}

// GetByAttachment returns an item by its server attachment id.
func (s *State) GetByAttachment(attachmentID string) (models.UploadItem, bool) {
	clientID, ok := s.byAttachmentID[attachmentID]
	if !ok {
		return models.UploadItem{}, false
	}
	return s.Get(clientID)
}

// List returns items in registration order.
func (s *State) List() []models.UploadItem {
	out := make([]models.UploadItem, 0, len(s.order))
	for _, id := range s.order {
		if item, ok := s.byClientID[id]; ok {
			out = append(out, item.Clone())
		}
	}
	return out
}

// Len returns the number of tracked uploads.
func (s *State) Len() int { return len(s.order) }

package controller

import (
	"msgcore/pkg/metrics"
	"msgcore/pkg/models"
	"msgcore/pkg/uploads"
)

// applyUploads swaps in the next upload state when it changed, records
// the change, and bumps the transition counter.
func (c *Controller) applyUploads(next *uploads.State, change Change, changes *[]Change) bool {
	if next == nil || next == c.uploads {
		return false
	}
	c.uploads = next
	change.Scope = ScopeUploads
	*changes = append(*changes, change)
	if change.Status != "" {
		metrics.UploadTransitions.WithLabelValues(change.Status).Inc()
	}
	return true
}

func uploadThreadID(item models.UploadItem) string {
	if s, ok := item.Metadata["threadId"].(string); ok {
		return s
	}
	return ""
}

// RegisterUpload creates a REQUESTED upload for a client id.
func (c *Controller) RegisterUpload(d uploads.Descriptor) (models.UploadItem, error) {
	c.mu.Lock()
	now := c.now()
	next, err := c.uploads.Register(d, now)
	if err != nil {
		c.mu.Unlock()
		return models.UploadItem{}, err
	}
	item, _ := next.Get(d.ClientID)
	var changes []Change
	c.applyUploads(next, Change{
		Action:       "uploadRegistered",
		ClientID:     d.ClientID,
		AttachmentID: item.AttachmentID,
		Status:       string(item.Status),
		ThreadID:     uploadThreadID(item),
	}, &changes)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(changes, snap)
	return item, nil
}

// MarkUploadSigned records the signed upload slot for a client id.
func (c *Controller) MarkUploadSigned(clientID string, d uploads.SignedDetails) (models.UploadItem, error) {
	c.mu.Lock()
	now := c.now()
	next, err := c.uploads.MarkSigned(clientID, d, now)
	if err != nil {
		c.mu.Unlock()
		return models.UploadItem{}, err
	}
	item, _ := next.Get(clientID)
	var changes []Change
	c.applyUploads(next, Change{
		Action:       "uploadSigned",
		ClientID:     clientID,
		AttachmentID: item.AttachmentID,
		Status:       string(item.Status),
		ThreadID:     uploadThreadID(item),
	}, &changes)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(changes, snap)
	return item, nil
}

// MarkUploadProgress updates transfer progress for a client id.
func (c *Controller) MarkUploadProgress(clientID string, uploaded, total int64) (models.UploadItem, error) {
	c.mu.Lock()
	now := c.now()
	next, err := c.uploads.MarkProgress(clientID, uploaded, total, now)
	if err != nil {
		c.mu.Unlock()
		return models.UploadItem{}, err
	}
	item, _ := next.Get(clientID)
	var changes []Change
	c.applyUploads(next, Change{
		Action:       "uploadProgress",
		ClientID:     clientID,
		AttachmentID: item.AttachmentID,
		Status:       string(item.Status),
		ThreadID:     uploadThreadID(item),
	}, &changes)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(changes, snap)
	return item, nil
}

// MarkUploadComplete records the client-side finish; the item moves to
// SCANNING until the server verdict arrives.
func (c *Controller) MarkUploadComplete(clientID string, d uploads.CompleteDetails) (models.UploadItem, error) {
	c.mu.Lock()
	now := c.now()
	next, err := c.uploads.MarkComplete(clientID, d, now)
	if err != nil {
		c.mu.Unlock()
		return models.UploadItem{}, err
	}
	item, _ := next.Get(clientID)
	var changes []Change
	c.applyUploads(next, Change{
		Action:       "uploadComplete",
		ClientID:     clientID,
		AttachmentID: item.AttachmentID,
		Status:       string(item.Status),
		ThreadID:     uploadThreadID(item),
	}, &changes)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(changes, snap)
	return item, nil
}

// ApplyAttachmentStatus applies a server-side status change keyed by
// attachment id. Unknown attachments are a silent no-op.
func (c *Controller) ApplyAttachmentStatus(u uploads.ServerStatus) (models.UploadItem, bool, error) {
	c.mu.Lock()
	now := c.now()
	next, err := c.uploads.ApplyServerStatus(u, now)
	if err != nil {
		c.mu.Unlock()
		return models.UploadItem{}, false, err
	}
	if next == c.uploads {
		c.mu.Unlock()
		metrics.EventsDropped.WithLabelValues("unknown_attachment").Inc()
		return models.UploadItem{}, false, nil
	}
	item, _ := next.GetByAttachment(u.AttachmentID)
	var changes []Change
	c.applyUploads(next, Change{
		Action:       "uploadStatus",
		ClientID:     item.ClientID,
		AttachmentID: u.AttachmentID,
		Status:       string(item.Status),
		ThreadID:     uploadThreadID(item),
	}, &changes)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(changes, snap)
	return item, true, nil
}

// MarkUploadFailed moves an upload to FAILED with an error code.
func (c *Controller) MarkUploadFailed(clientID, errorCode string) (models.UploadItem, error) {
	c.mu.Lock()
	now := c.now()
	next, err := c.uploads.MarkFailed(clientID, errorCode, now)
	if err != nil {
		c.mu.Unlock()
		return models.UploadItem{}, err
	}
	item, _ := next.Get(clientID)
	var changes []Change
	c.applyUploads(next, Change{
		Action:       "uploadFailed",
		ClientID:     clientID,
		AttachmentID: item.AttachmentID,
		Status:       string(item.Status),
		ErrorCode:    item.ErrorCode,
		ThreadID:     uploadThreadID(item),
	}, &changes)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(changes, snap)
	return item, nil
}

// CancelUpload cancels an in-flight upload.
func (c *Controller) CancelUpload(clientID string) (models.UploadItem, error) {
	c.mu.Lock()
	now := c.now()
	next, err := c.uploads.Cancel(clientID, now)
	if err != nil {
		c.mu.Unlock()
		return models.UploadItem{}, err
	}
	item, _ := next.Get(clientID)
	var changes []Change
	c.applyUploads(next, Change{
		Action:       "uploadCancelled",
		ClientID:     clientID,
		AttachmentID: item.AttachmentID,
		Status:       string(item.Status),
		ThreadID:     uploadThreadID(item),
	}, &changes)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(changes, snap)
	return item, nil
}

// PruneUploads drops terminal uploads older than the TTL and reports
// how many were removed.
func (c *Controller) PruneUploads() int {
	c.mu.Lock()
	now := c.now()
	before := c.uploads.Len()
	next := c.uploads.Prune(now)
	removed := before - next.Len()
	var changes []Change
	c.applyUploads(next, Change{Action: "uploadPruned", Count: removed}, &changes)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(changes, snap)
	return removed
}

// Upload looks up an upload by client id.
func (c *Controller) Upload(clientID string) (models.UploadItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uploads.Get(clientID)
}

// UploadByAttachment looks up an upload by attachment id.
func (c *Controller) UploadByAttachment(attachmentID string) (models.UploadItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uploads.GetByAttachment(attachmentID)
}

// ListUploads returns uploads in registration order, optionally limited
// to one thread via the threadId metadata key.
func (c *Controller) ListUploads(threadID string) []models.UploadItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	items := c.uploads.List()
	if threadID == "" {
		return items
	}
	out := items[:0:0]
	for _, item := range items {
		if uploadThreadID(item) == threadID {
			out = append(out, item)
		}
	}
	return out
}

// UploadState returns the upload manager state.
func (c *Controller) UploadState() *uploads.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uploads
}

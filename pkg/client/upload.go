package client

import (
	"context"
	"fmt"
	"time"

	"msgcore/pkg/logger"
	"msgcore/pkg/models"
	"msgcore/pkg/transport"
	"msgcore/pkg/uploads"
)

// UploadDescriptor describes one attachment to push through the full
// lifecycle. ClientID and AttachmentID are generated when empty.
type UploadDescriptor struct {
	ClientID  string
	FileName  string
	MimeType  string
	SizeBytes int64
	Checksum  string
	Payload   []byte
	Metadata  map[string]any
}

// UploadOptions overrides the client's status-poll bounds per call.
type UploadOptions struct {
	PollInterval    time.Duration
	PollMaxAttempts int
}

// PrepareUpload drives one attachment end to end: register, session,
// signed, perform, complete, then poll the server status until the item
// reaches a terminal state. An exhausted poll marks the item FAILED with
// UPLOAD_STATUS_TIMEOUT. The returned item is the final local state.
func (c *Client) PrepareUpload(ctx context.Context, threadID string, d UploadDescriptor, opts UploadOptions) (models.UploadItem, error) {
	if threadID == "" {
		return models.UploadItem{}, fmt.Errorf("prepare upload requires threadId")
	}
	if c.uploads == nil {
		return models.UploadItem{}, fmt.Errorf("prepare upload requires upload handlers")
	}
	clientID := d.ClientID
	if clientID == "" {
		clientID = c.newID("up")
	}
	meta := map[string]any{"threadId": threadID}
	for k, v := range d.Metadata {
		meta[k] = v
	}
	if _, err := c.ctrl.RegisterUpload(uploads.Descriptor{
		ClientID:  clientID,
		FileName:  d.FileName,
		MimeType:  d.MimeType,
		SizeBytes: d.SizeBytes,
		Metadata:  meta,
	}); err != nil {
		return models.UploadItem{}, err
	}

	fail := func(cause error) (models.UploadItem, error) {
		if logger.Log != nil {
			logger.Log.Error("upload_failed", "client_id", clientID, "thread_id", threadID, "error", cause.Error())
		}
		item, _ := c.ctrl.MarkUploadFailed(clientID, errorCode(cause))
		return item, cause
	}

	session, err := c.uploads.CreateUploadSession(ctx, threadID, transport.SessionRequest{
		ClientID:  clientID,
		FileName:  d.FileName,
		MimeType:  d.MimeType,
		SizeBytes: d.SizeBytes,
		Checksum:  d.Checksum,
		Metadata:  meta,
	})
	if err != nil {
		return fail(err)
	}
	attachmentID := session.AttachmentID
	if attachmentID == "" {
		attachmentID = "att_" + clientID
	}
	if _, err := c.ctrl.MarkUploadSigned(clientID, uploads.SignedDetails{
		AttachmentID: attachmentID,
		UploadURL:    session.UploadURL,
		Metadata:     session.Metadata,
	}); err != nil {
		return fail(err)
	}

	if err := c.uploads.PerformUpload(ctx, session, d.Payload, func(uploaded, total int64) {
		if _, perr := c.ctrl.MarkUploadProgress(clientID, uploaded, total); perr != nil && logger.Log != nil {
			logger.Log.Warn("upload_progress_failed", "client_id", clientID, "error", perr.Error())
		}
	}); err != nil {
		return fail(err)
	}

	checksum := d.Checksum
	if session.Checksum != "" {
		checksum = session.Checksum
	}
	if _, err := c.ctrl.MarkUploadComplete(clientID, uploads.CompleteDetails{
		AttachmentID: attachmentID,
		Checksum:     checksum,
	}); err != nil {
		return fail(err)
	}

	verdict, err := c.uploads.CompleteUpload(ctx, threadID, attachmentID, meta)
	if err != nil {
		return fail(err)
	}
	c.applyUploadStatus(attachmentID, verdict)

	if item, ok := c.ctrl.Upload(clientID); ok && models.UploadTerminal(item.Status) {
		return item, nil
	}
	return c.pollUploadStatus(ctx, clientID, attachmentID, opts)
}

func (c *Client) applyUploadStatus(attachmentID string, update *transport.StatusUpdate) {
	if update == nil || update.Status == "" {
		return
	}
	if _, _, err := c.ctrl.ApplyAttachmentStatus(uploads.ServerStatus{
		AttachmentID: attachmentID,
		Status:       update.Status,
		NSFWBand:     update.NSFWBand,
		ErrorCode:    update.ErrorCode,
		Metadata:     update.Metadata,
	}); err != nil && logger.Log != nil {
		logger.Log.Warn("attachment_status_failed", "attachment_id", attachmentID, "error", err.Error())
	}
}

// pollUploadStatus polls the server verdict until the item turns
// terminal or the attempt ceiling is hit.
func (c *Client) pollUploadStatus(ctx context.Context, clientID, attachmentID string, opts UploadOptions) (models.UploadItem, error) {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = c.pollInterval
	}
	attempts := opts.PollMaxAttempts
	if attempts <= 0 {
		attempts = c.pollMaxAttempts
	}
	for i := 0; i < attempts; i++ {
		if err := c.sleep(ctx, interval); err != nil {
			item, _ := c.ctrl.MarkUploadFailed(clientID, errorCode(err))
			return item, err
		}
		update, err := c.uploads.GetUploadStatus(ctx, attachmentID)
		if err != nil {
			if logger.Log != nil {
				logger.Log.Warn("upload_status_poll_failed", "attachment_id", attachmentID, "error", err.Error())
			}
			continue
		}
		c.applyUploadStatus(attachmentID, update)
		if item, ok := c.ctrl.Upload(clientID); ok && models.UploadTerminal(item.Status) {
			return item, nil
		}
	}
	if logger.Log != nil {
		logger.Log.Warn("upload_status_timeout", "attachment_id", attachmentID, "attempts", attempts)
	}
	item, _ := c.ctrl.MarkUploadFailed(clientID, "UPLOAD_STATUS_TIMEOUT")
	return item, nil
}

// CancelUpload abandons an in-flight item locally.
func (c *Client) CancelUpload(clientID string) (models.UploadItem, error) {
	return c.ctrl.CancelUpload(clientID)
}

package models

import "time"

// Upload lifecycle states.
const (
	UploadRequested   = "REQUESTED"
	UploadSigned      = "SIGNED"
	UploadUploading   = "UPLOADING"
	UploadScanning    = "SCANNING"
	UploadReady       = "READY"
	UploadQuarantined = "QUARANTINED"
	UploadFailed      = "FAILED"
	UploadCancelled   = "CANCELLED"
)

// UploadTerminal reports whether an upload state admits no further
// transitions.
func UploadTerminal(state string) bool {
	switch state {
	case UploadReady, UploadQuarantined, UploadFailed, UploadCancelled:
		return true
	}
	return false
}

// UploadItem tracks one client-initiated attachment upload from request
// through scan verdict. ClientID is the local key; AttachmentID arrives
// once the upload session is signed.
type UploadItem struct {
	ClientID     string         `json:"client_id"`
	AttachmentID string         `json:"attachment_id,omitempty"`
	FileName     string         `json:"file_name,omitempty"`
	MimeType     string         `json:"mime_type,omitempty"`
	SizeBytes    int64          `json:"size_bytes,omitempty"`
	Status       string         `json:"status"`
	Progress     UploadProgress `json:"progress"`
	Checksum     string         `json:"checksum,omitempty"`
	UploadURL    string         `json:"upload_url,omitempty"`
	NSFWBand     int            `json:"nsfw_band,omitempty"`
	ErrorCode    string         `json:"error_code,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Clone copies the item including its metadata map.
func (u UploadItem) Clone() UploadItem {
	out := u
	if u.Metadata != nil {
		out.Metadata = make(map[string]any, len(u.Metadata))
		for k, v := range u.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// UploadProgress is byte-level progress for the UPLOADING phase.
type UploadProgress struct {
	UploadedBytes int64 `json:"uploaded_bytes"`
	TotalBytes    int64 `json:"total_bytes"`
}

package uploads

import (
	"testing"
	"time"

	"msgcore/pkg/models"
)

var t0 = time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC)

func register(t *testing.T) *State {
	t.Helper()
	s, err := NewState(0, t0).Register(Descriptor{
		ClientID:  "c1",
		FileName:  "photo.jpg",
		MimeType:  "image/jpeg",
		SizeBytes: 2048,
	}, t0)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return s
}

func TestLifecycleHappyPath(t *testing.T) {
	s := register(t)
	item, _ := s.Get("c1")
	if item.Status != models.UploadRequested || item.Progress.TotalBytes != 2048 {
		t.Fatalf("unexpected item: %+v", item)
	}

	s, err := s.MarkSigned("c1", SignedDetails{AttachmentID: "att1", UploadURL: "https://upload"}, t0.Add(time.Second))
	if err != nil {
		t.Fatalf("signed: %v", err)
	}
	s, err = s.MarkProgress("c1", 1024, 0, t0.Add(2*time.Second))
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	item, _ = s.Get("c1")
	if item.Status != models.UploadUploading || item.Progress.UploadedBytes != 1024 || item.Progress.TotalBytes != 2048 {
		t.Fatalf("unexpected progress: %+v", item)
	}

	s, err = s.MarkComplete("c1", CompleteDetails{Checksum: "abc"}, t0.Add(3*time.Second))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	s, err = s.ApplyServerStatus(ServerStatus{AttachmentID: "att1", Status: models.UploadReady}, t0.Add(4*time.Second))
	if err != nil {
		t.Fatalf("server status: %v", err)
	}
	item, _ = s.GetByAttachment("att1")
	if item.Status != models.UploadReady || item.Checksum != "abc" {
		t.Fatalf("unexpected final item: %+v", item)
	}
}

func TestUnknownClientIDErrors(t *testing.T) {
	s := NewState(0, t0)
	if _, err := s.MarkSigned("missing", SignedDetails{}, t0); err == nil {
		t.Fatal("expected error for unknown clientId")
	}
}

func TestUnknownAttachmentIsNoOp(t *testing.T) {
	s := register(t)
	next, err := s.ApplyServerStatus(ServerStatus{AttachmentID: "nope", Status: models.UploadReady}, t0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != s {
		t.Fatal("unknown attachment should return the same state")
	}
	if _, err := s.ApplyServerStatus(ServerStatus{}, t0); err == nil {
		t.Fatal("missing attachmentId should error")
	}
}

func TestRelinkAttachmentDropsStaleMapping(t *testing.T) {
	s := register(t)
	s, _ = s.MarkSigned("c1", SignedDetails{AttachmentID: "att1"}, t0)
	s, _ = s.MarkComplete("c1", CompleteDetails{AttachmentID: "att2"}, t0)
	if _, ok := s.GetByAttachment("att1"); ok {
		t.Fatal("stale attachment mapping should be removed")
	}
	if item, ok := s.GetByAttachment("att2"); !ok || item.ClientID != "c1" {
		t.Fatalf("expected relinked item, got %+v ok=%v", item, ok)
	}
}

func TestMarkFailedDefaultsErrorCode(t *testing.T) {
	s := register(t)
	s, err := s.MarkFailed("c1", "", t0)
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	item, _ := s.Get("c1")
	if item.Status != models.UploadFailed || item.ErrorCode != "UNKNOWN" {
		t.Fatalf("unexpected item: %+v", item)
	}
}

func TestCancelOnTerminalIsNoOp(t *testing.T) {
	s := register(t)
	s, _ = s.MarkSigned("c1", SignedDetails{AttachmentID: "att1"}, t0)
	s, _ = s.ApplyServerStatus(ServerStatus{AttachmentID: "att1", Status: models.UploadReady}, t0)

	next, err := s.Cancel("c1", t0.Add(time.Second))
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if next != s {
		t.Fatal("cancel on a terminal item should return the same state")
	}
	item, _ := next.Get("c1")
	if item.Status != models.UploadReady {
		t.Fatalf("terminal status overwritten: %+v", item)
	}

	in := register(t)
	in, err = in.Cancel("c1", t0.Add(time.Second))
	if err != nil {
		t.Fatalf("cancel in-flight: %v", err)
	}
	if item, _ := in.Get("c1"); item.Status != models.UploadCancelled {
		t.Fatalf("in-flight item not cancelled: %+v", item)
	}
}

func TestPruneOnlyTerminalAndExpired(t *testing.T) {
	s, _ := NewState(10*time.Minute, t0).Register(Descriptor{ClientID: "done"}, t0)
	s, _ = s.Register(Descriptor{ClientID: "live"}, t0)
	s, _ = s.MarkSigned("done", SignedDetails{AttachmentID: "att1"}, t0)
	s, _ = s.ApplyServerStatus(ServerStatus{AttachmentID: "att1", Status: models.UploadQuarantined}, t0)

	// before ttl elapses nothing is pruned
	pruned := s.Prune(t0.Add(5 * time.Minute))
	if pruned.Len() != 2 {
		t.Fatalf("expected 2 items, got %d", pruned.Len())
	}

	pruned = s.Prune(t0.Add(11 * time.Minute))
	if pruned.Len() != 1 {
		t.Fatalf("expected 1 item after prune, got %d", pruned.Len())
	}
	if _, ok := pruned.Get("done"); ok {
		t.Fatal("terminal expired item should be pruned")
	}
	if _, ok := pruned.Get("live"); !ok {
		t.Fatal("in-flight item must survive pruning")
	}
	if _, ok := pruned.GetByAttachment("att1"); ok {
		t.Fatal("attachment index should be cleaned up")
	}
}

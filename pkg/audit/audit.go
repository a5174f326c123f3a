// Package audit appends workflow and moderation audit records to a
// JSONL trail. Writes happen on a background goroutine; enqueueing never
// blocks the caller, and records are dropped rather than queued
// unboundedly when the writer falls behind.
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"msgcore/pkg/logger"
)

// Entry is one audit record.
type Entry struct {
	EntryID     string         `json:"entry_id"`
	Kind        string         `json:"kind"`
	ThreadID    string         `json:"thread_id,omitempty"`
	ActorUserID string         `json:"actor_user_id,omitempty"`
	Action      string         `json:"action"`
	At          time.Time      `json:"at"`
	Data        map[string]any `json:"data,omitempty"`
}

// Record kinds.
const (
	KindActionCard = "action_card"
	KindModeration = "moderation"
	KindUpload     = "upload"
	KindInbox      = "inbox"
)

// Trail owns one audit file. The zero path disables persistence; records
// still get ids assigned so callers can reference them.
type Trail struct {
	path string

	once sync.Once
	ch   chan []byte
	done chan struct{}
	ctr  uint64

	closeOnce sync.Once
}

// New returns a trail appending to path. An empty path yields a trail
// that assigns ids but persists nothing.
func New(path string) *Trail {
	return &Trail{path: path}
}

// initWriter lazily starts the background writer.
func (t *Trail) initWriter() {
	t.ch = make(chan []byte, 1024)
	t.done = make(chan struct{})
	go func() {
		defer close(t.done)
		_ = os.MkdirAll(filepath.Dir(t.path), 0o755)
		f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			if logger.Log != nil {
				logger.Log.Warn("audit_open_failed", "path", t.path, "error", err.Error())
			}
			for range t.ch {
			}
			return
		}
		defer f.Close()
		for b := range t.ch {
			_, _ = f.Write(append(b, '\n'))
		}
	}()
}

// Record assigns the entry an id and timestamp when missing and enqueues
// it for persistence. The assigned id is returned.
func (t *Trail) Record(e Entry) string {
	if e.EntryID == "" {
		e.EntryID = t.nextID()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if t == nil || t.path == "" {
		return e.EntryID
	}
	b, err := json.Marshal(e)
	if err != nil {
		return e.EntryID
	}
	t.once.Do(t.initWriter)
	select {
	case t.ch <- b:
	default:
		// drop if the writer is behind
	}
	return e.EntryID
}

// Close stops the writer and waits for buffered records to flush.
func (t *Trail) Close() {
	if t == nil || t.path == "" {
		return
	}
	t.closeOnce.Do(func() {
		t.once.Do(t.initWriter)
		close(t.ch)
		<-t.done
	})
}

func (t *Trail) nextID() string {
	n := atomic.AddUint64(&t.ctr, 1)
	return "audit-" + time.Now().UTC().Format("20060102T150405") + "-" + fmtUint64(n)
}

func fmtUint64(v uint64) string {
	if v == 0 {
		return "0"
	}
	buf := make([]byte, 0, 20)
	for v > 0 {
		buf = append(buf, byte('0')+byte(v%10))
		v /= 10
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}

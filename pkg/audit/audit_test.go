package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRecordAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "trail.jsonl")
	tr := New(path)

	id1 := tr.Record(Entry{Kind: KindActionCard, ThreadID: "t-1", Action: "accept"})
	id2 := tr.Record(Entry{Kind: KindModeration, Action: "APPROVED", At: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)})
	if id1 == "" || id2 == "" || id1 == id2 {
		t.Fatalf("ids: %q %q", id1, id2)
	}
	tr.Close()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	var entries []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("unmarshal %q: %v", sc.Text(), err)
		}
		entries = append(entries, e)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d", len(entries))
	}
	if entries[0].EntryID != id1 || entries[0].Action != "accept" || entries[0].At.IsZero() {
		t.Fatalf("first entry: %+v", entries[0])
	}
	if !entries[1].At.Equal(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("explicit timestamp lost: %+v", entries[1])
	}
}

func TestDisabledTrailStillAssignsIDs(t *testing.T) {
	tr := New("")
	if id := tr.Record(Entry{Kind: KindUpload, Action: "register"}); id == "" {
		t.Fatalf("expected id from disabled trail")
	}
	tr.Close()
}

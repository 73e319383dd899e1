package mailstore

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/beehive-labs/swarm-orchestrator/internal/errs"
	"github.com/beehive-labs/swarm-orchestrator/internal/mail"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(afero.NewMemMapFs(), "/data")
}

func TestStore_WriteThenList(t *testing.T) {
	s := newTestStore(t)
	dirs := s.AgentDirs("bee-1")

	m := mail.New("human", "bee-1", "hi", "x", mail.TypeHuman)
	path, err := s.Write(dirs.Inbox, m)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if filepath.Dir(path) != dirs.Inbox {
		t.Errorf("Expected file in %q, got %q", dirs.Inbox, path)
	}

	files, err := s.List(dirs.Inbox)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(files) != 1 || files[0] != path {
		t.Errorf("Expected [%q], got %v", path, files)
	}
}

func TestStore_WriteLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	dirs := s.AgentDirs("bee-1")

	if _, err := s.Write(dirs.Inbox, mail.New("a", "bee-1", "s", "b", mail.TypeAgent)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	entries, err := afero.ReadDir(s.Fs(), dirs.Inbox)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("Temp file left behind: %s", e.Name())
		}
	}
}

func TestStore_ListSortsFIFO(t *testing.T) {
	s := newTestStore(t)
	dirs := s.AgentDirs("bee-1")

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	// Write out of order; the listing must come back in timestamp order.
	for _, offset := range []int{2, 0, 1} {
		m := mail.New("a", "bee-1", "s", "b", mail.TypeAgent)
		m.Timestamp = base.Add(time.Duration(offset) * time.Millisecond)
		if _, err := s.Write(dirs.Inbox, m); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	files, err := s.List(dirs.Inbox)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("Expected 3 files, got %d", len(files))
	}
	for i, f := range files {
		m, err := s.Peek(f)
		if err != nil {
			t.Fatalf("Peek failed: %v", err)
		}
		want := base.Add(time.Duration(i) * time.Millisecond)
		if !m.Timestamp.Equal(want) {
			t.Errorf("Position %d: expected timestamp %v, got %v", i, want, m.Timestamp)
		}
	}
}

func TestStore_ListIgnoresSubdirsAndNonJSON(t *testing.T) {
	s := newTestStore(t)
	dirs := s.AgentDirs("bee-1")

	if _, err := s.Write(dirs.Inbox, mail.New("a", "bee-1", "s", "b", mail.TypeAgent)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s.Fs().MkdirAll(filepath.Join(dirs.Inbox, DirPoison), 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := afero.WriteFile(s.Fs(), filepath.Join(dirs.Inbox, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	files, err := s.List(dirs.Inbox)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(files) != 1 {
		t.Errorf("Expected 1 mail file, got %d: %v", len(files), files)
	}
}

func TestStore_ListMissingDir(t *testing.T) {
	s := newTestStore(t)
	files, err := s.List("/data/agents/ghost/inbox")
	if err != nil {
		t.Fatalf("List of a missing directory should not error, got %v", err)
	}
	if files != nil {
		t.Errorf("Expected nil, got %v", files)
	}
}

func TestStore_TakeRemovesFile(t *testing.T) {
	s := newTestStore(t)
	dirs := s.AgentDirs("bee-1")

	m := mail.New("a", "bee-1", "s", "b", mail.TypeAgent)
	path, err := s.Write(dirs.Inbox, m)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := s.Take(path)
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	if got.ID != m.ID {
		t.Errorf("Expected id %q, got %q", m.ID, got.ID)
	}

	files, _ := s.List(dirs.Inbox)
	if len(files) != 0 {
		t.Errorf("Take should unlink the file, found %v", files)
	}
}

func TestStore_TakePoisonsCorruptFile(t *testing.T) {
	s := newTestStore(t)
	dirs := s.AgentDirs("bee-1")
	if err := s.EnsureAgentDirs("bee-1"); err != nil {
		t.Fatalf("EnsureAgentDirs failed: %v", err)
	}

	bad := filepath.Join(dirs.Outbox, "1700000000000-corrupt.json")
	if err := afero.WriteFile(s.Fs(), bad, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	_, err := s.Take(bad)
	if err == nil {
		t.Fatal("Take of a corrupt file should error")
	}
	if !errs.Is(err, errs.ErrMailCorrupt) {
		t.Errorf("Expected ErrMailCorrupt, got %v", err)
	}

	// The file moved to poison/ with an error log alongside it.
	moved := filepath.Join(dirs.Outbox, DirPoison, "1700000000000-corrupt.json")
	if ok, _ := afero.Exists(s.Fs(), moved); !ok {
		t.Error("Corrupt file was not moved to poison/")
	}
	if ok, _ := afero.Exists(s.Fs(), moved+".error.log"); !ok {
		t.Error("Poisoned file has no error log entry")
	}
	if ok, _ := afero.Exists(s.Fs(), bad); ok {
		t.Error("Corrupt file still present in the outbox")
	}
}

func TestStore_PoisonedFileNotListed(t *testing.T) {
	s := newTestStore(t)
	dirs := s.AgentDirs("bee-1")
	if err := s.EnsureAgentDirs("bee-1"); err != nil {
		t.Fatalf("EnsureAgentDirs failed: %v", err)
	}

	bad := filepath.Join(dirs.Outbox, "1700000000000-corrupt.json")
	if err := afero.WriteFile(s.Fs(), bad, []byte("]["), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	_, _ = s.Take(bad)

	if _, err := s.Write(dirs.Outbox, mail.New("bee-1", "b", "s", "x", mail.TypeAgent)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	files, err := s.List(dirs.Outbox)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(files) != 1 {
		t.Errorf("Poisoned file should not appear in listings, got %v", files)
	}
}

func TestStore_InflightFlow(t *testing.T) {
	s := newTestStore(t)
	dirs := s.AgentDirs("bee-1")

	m := mail.New("bee-1", "bee-2", "s", "b", mail.TypeAgent)
	outPath, err := s.Write(dirs.Outbox, m)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	inflightPath, err := s.MoveToInflight(outPath, "bee-1")
	if err != nil {
		t.Fatalf("MoveToInflight failed: %v", err)
	}
	if ok, _ := afero.Exists(s.Fs(), outPath); ok {
		t.Error("MoveToInflight should remove the outbox copy")
	}

	byAgent, err := s.ListInflight()
	if err != nil {
		t.Fatalf("ListInflight failed: %v", err)
	}
	if len(byAgent["bee-1"]) != 1 || byAgent["bee-1"][0] != inflightPath {
		t.Errorf("Expected inflight entry for bee-1, got %v", byAgent)
	}

	if err := s.RemoveInflight(inflightPath); err != nil {
		t.Fatalf("RemoveInflight failed: %v", err)
	}
	byAgent, _ = s.ListInflight()
	if len(byAgent) != 0 {
		t.Errorf("Expected empty inflight spool, got %v", byAgent)
	}
}

func TestStore_ListInflightEmpty(t *testing.T) {
	s := newTestStore(t)
	byAgent, err := s.ListInflight()
	if err != nil {
		t.Fatalf("ListInflight failed: %v", err)
	}
	if len(byAgent) != 0 {
		t.Errorf("Expected no inflight entries, got %v", byAgent)
	}
}

func TestStore_WriteDeadletter(t *testing.T) {
	s := newTestStore(t)
	m := mail.New("system", "a", "Bounced: s", "no route", mail.TypeBounce)

	path, err := s.WriteDeadletter(m)
	if err != nil {
		t.Fatalf("WriteDeadletter failed: %v", err)
	}
	if filepath.Dir(path) != s.DeadletterDir() {
		t.Errorf("Expected dead-letter in %q, got %q", s.DeadletterDir(), path)
	}
}

func TestStore_RemoveData(t *testing.T) {
	s := newTestStore(t)
	if err := s.EnsureAgentDirs("bee-1"); err != nil {
		t.Fatalf("EnsureAgentDirs failed: %v", err)
	}
	dirs := s.AgentDirs("bee-1")
	if _, err := s.Write(dirs.Inbox, mail.New("a", "bee-1", "s", "b", mail.TypeAgent)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if err := s.RemoveData("bee-1"); err != nil {
		t.Fatalf("RemoveData failed: %v", err)
	}
	if ok, _ := afero.DirExists(s.Fs(), filepath.Join("/data", "agents", "bee-1")); ok {
		t.Error("Agent subtree still present after RemoveData")
	}
}

func TestFilename_SortsByTimestamp(t *testing.T) {
	early := Filename(time.UnixMilli(1700000000000), "aaaa")
	late := Filename(time.UnixMilli(1700000000001), "0000")
	if !(early < late) {
		t.Errorf("Expected %q < %q", early, late)
	}
}

package mailstore

import (
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/beehive-labs/swarm-orchestrator/internal/mail"
)

func TestHumanStore_EmptyReads(t *testing.T) {
	h := NewHumanStore(afero.NewMemMapFs(), "/data")

	inbox, err := h.ReadInbox()
	if err != nil {
		t.Fatalf("ReadInbox failed: %v", err)
	}
	if len(inbox) != 0 {
		t.Errorf("Expected empty inbox, got %d entries", len(inbox))
	}

	outbox, err := h.ReadOutbox()
	if err != nil {
		t.Fatalf("ReadOutbox failed: %v", err)
	}
	if len(outbox) != 0 {
		t.Errorf("Expected empty outbox, got %d entries", len(outbox))
	}
}

func TestHumanStore_AppendThenRead(t *testing.T) {
	h := NewHumanStore(afero.NewMemMapFs(), "/data")

	first := mail.New("bee-1", "human", "one", "x", mail.TypeAgent)
	second := mail.New("bee-2", "human", "two", "y", mail.TypeAgent)
	if err := h.AppendInbox(first); err != nil {
		t.Fatalf("AppendInbox failed: %v", err)
	}
	if err := h.AppendInbox(second); err != nil {
		t.Fatalf("AppendInbox failed: %v", err)
	}

	inbox, err := h.ReadInbox()
	if err != nil {
		t.Fatalf("ReadInbox failed: %v", err)
	}
	if len(inbox) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(inbox))
	}
	if inbox[0].Subject != "one" || inbox[1].Subject != "two" {
		t.Errorf("Append order not preserved: %q, %q", inbox[0].Subject, inbox[1].Subject)
	}
}

func TestHumanStore_InboxOutboxIndependent(t *testing.T) {
	h := NewHumanStore(afero.NewMemMapFs(), "/data")

	if err := h.AppendOutbox(mail.New("human", "bee-1", "sent", "x", mail.TypeHuman)); err != nil {
		t.Fatalf("AppendOutbox failed: %v", err)
	}

	inbox, _ := h.ReadInbox()
	if len(inbox) != 0 {
		t.Errorf("Outbox append leaked into the inbox: %d entries", len(inbox))
	}
	outbox, _ := h.ReadOutbox()
	if len(outbox) != 1 {
		t.Errorf("Expected 1 outbox entry, got %d", len(outbox))
	}
}

func TestHumanStore_RewriteLeavesNoTempFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	h := NewHumanStore(fs, "/data")

	if err := h.AppendInbox(mail.New("bee-1", "human", "s", "x", mail.TypeAgent)); err != nil {
		t.Fatalf("AppendInbox failed: %v", err)
	}

	entries, err := afero.ReadDir(fs, "/data/human")
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("Temp file left behind: %s", e.Name())
		}
	}
}

package mail

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	m := New("a", "b", "subject", "body", TypeAgent)

	if m.ID == "" {
		t.Error("New should assign a non-empty id")
	}
	if m.Status != StatusQueued {
		t.Errorf("Expected status %q, got %q", StatusQueued, m.Status)
	}
	if m.Metadata.Priority != PriorityNormal {
		t.Errorf("Expected priority %q, got %q", PriorityNormal, m.Metadata.Priority)
	}
	if m.Metadata.Type != TypeAgent {
		t.Errorf("Expected type %q, got %q", TypeAgent, m.Metadata.Type)
	}
	if m.Timestamp.Location() != time.UTC {
		t.Error("New should stamp timestamps in UTC")
	}
}

func TestNew_UniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		m := New("a", "b", "s", "b", TypeAgent)
		if seen[m.ID] {
			t.Fatalf("Duplicate id %q", m.ID)
		}
		seen[m.ID] = true
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusQueued, false},
		{StatusDelivered, true},
		{StatusBounced, true},
		{StatusFailed, true},
		{Status(""), false},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.terminal {
			t.Errorf("IsTerminal(%q) = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestIsMailboxID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"mailbox:slack", true},
		{"mailbox:", false},
		{"mailbox", false},
		{"agent-1", false},
		{"human", false},
	}
	for _, tt := range tests {
		if got := IsMailboxID(tt.id); got != tt.want {
			t.Errorf("IsMailboxID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestMailboxName(t *testing.T) {
	if got := MailboxName("mailbox:slack"); got != "slack" {
		t.Errorf("Expected %q, got %q", "slack", got)
	}
	if got := MailboxName("agent-1"); got != "agent-1" {
		t.Errorf("Non-mailbox ids should pass through, got %q", got)
	}
}

func TestMail_RoundTripKnownFields(t *testing.T) {
	m := New("a", "b", "hello", "world", TypeHuman)
	m.Metadata.InReplyTo = "prev-id"
	m.Attachments = []Attachment{{ID: "f1", Filename: "x.txt", MimeType: "text/plain", Size: 12}}

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var got Mail
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if got.ID != m.ID || got.From != m.From || got.To != m.To {
		t.Errorf("Identity fields changed on round trip: %+v", got)
	}
	if got.Metadata.InReplyTo != "prev-id" {
		t.Errorf("Expected inReplyTo %q, got %q", "prev-id", got.Metadata.InReplyTo)
	}
	if len(got.Attachments) != 1 || got.Attachments[0].ID != "f1" {
		t.Errorf("Attachments changed on round trip: %+v", got.Attachments)
	}
}

func TestMail_PreservesUnknownFields(t *testing.T) {
	src := `{
		"id": "m-1",
		"from": "a",
		"to": "b",
		"subject": "s",
		"body": "b",
		"timestamp": "2026-01-02T03:04:05Z",
		"metadata": {"type": "agent", "priority": "normal"},
		"status": "queued",
		"x-custom": {"nested": true},
		"traceId": "abc123"
	}`

	var m Mail
	if err := json.Unmarshal([]byte(src), &m); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if len(m.Extra) != 2 {
		t.Fatalf("Expected 2 preserved unknown fields, got %d: %v", len(m.Extra), m.Extra)
	}

	out, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	s := string(out)
	if !strings.Contains(s, `"x-custom"`) || !strings.Contains(s, `"traceId":"abc123"`) {
		t.Errorf("Unknown fields dropped on round trip: %s", s)
	}
}

func TestMail_ExtraNeverShadowsKnownFields(t *testing.T) {
	m := New("a", "b", "s", "b", TypeAgent)
	m.Extra = map[string]json.RawMessage{"id": json.RawMessage(`"spoofed"`)}

	out, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded["id"] != m.ID {
		t.Errorf("Extra overwrote a known field: id = %v", decoded["id"])
	}
}

func TestMail_Clone(t *testing.T) {
	m := New("a", "b", "s", "b", TypeAgent)
	m.Attachments = []Attachment{{ID: "f1"}}
	m.Extra = map[string]json.RawMessage{"k": json.RawMessage(`1`)}

	c := m.Clone()
	c.Attachments[0].ID = "changed"
	c.Extra["k"] = json.RawMessage(`2`)

	if m.Attachments[0].ID != "f1" {
		t.Error("Clone aliased the attachments slice")
	}
	if string(m.Extra["k"]) != "1" {
		t.Error("Clone aliased the Extra map")
	}
}

// Package mail defines the wire-critical domain type exchanged between
// agents, mailboxes, and the human node: an immutable, JSON-encoded message
// deposited into and harvested from filesystem queues by the mail store,
// outbox watcher, and router.
package mail

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Human is the reserved node identifier for the external human endpoint.
// It carries no special connectivity privileges; edges to and from it must
// be explicit in the topology.
const Human = "human"

// MailboxPrefix marks a node identifier as a named external mailbox rather
// than an agent, e.g. "mailbox:slack".
const MailboxPrefix = "mailbox:"

// Status is the lifecycle value of a Mail. Once a Mail reaches a terminal
// status its fields never change again.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusDelivered Status = "delivered"
	StatusBounced   Status = "bounced"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether s is one of the statuses after which a Mail's
// fields are frozen.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusBounced, StatusFailed:
		return true
	default:
		return false
	}
}

// Type classifies the origin of a Mail for metadata.type.
type Type string

const (
	TypeHuman    Type = "human"
	TypeAgent    Type = "agent"
	TypeSystem   Type = "system"
	TypeCron     Type = "cron"
	TypeExternal Type = "external"
	TypeBounce   Type = "bounce"
)

// Priority classifies delivery urgency for metadata.priority.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Attachment is a reference to a blob held in the shared attachment store;
// per DESIGN.md's Open Question decision, mail carries attachments by
// reference only, never inline bytes.
type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// Metadata carries the classification fields of a Mail.
type Metadata struct {
	Type      Type     `json:"type"`
	Priority  Priority `json:"priority"`
	InReplyTo string   `json:"inReplyTo,omitempty"`
}

// Mail is the immutable record routed between nodes. Field names and JSON
// tags are wire-critical; unknown fields encountered on
// a round trip are preserved in Extra rather than dropped.
type Mail struct {
	ID           string       `json:"id"`
	From         string       `json:"from"`
	To           string       `json:"to"`
	Subject      string       `json:"subject"`
	Body         string       `json:"body"`
	Timestamp    time.Time    `json:"timestamp"`
	Metadata     Metadata     `json:"metadata"`
	Status       Status       `json:"status"`
	Attachments  []Attachment `json:"attachments,omitempty"`
	BounceReason string       `json:"bounceReason,omitempty"`

	// Extra holds fields present in the source JSON that this type does not
	// model. It round-trips them unchanged so the router never silently
	// drops data it doesn't understand.
	Extra map[string]json.RawMessage `json:"-"`
}

// New constructs a Mail with a fresh UUID, the current UTC timestamp, and
// metadata.priority defaulted to normal.
func New(from, to, subject, body string, msgType Type) Mail {
	return Mail{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Subject:   subject,
		Body:      body,
		Timestamp: time.Now().UTC(),
		Metadata: Metadata{
			Type:     msgType,
			Priority: PriorityNormal,
		},
		Status: StatusQueued,
	}
}

// IsMailboxID reports whether id names a mailbox node (prefix "mailbox:").
func IsMailboxID(id string) bool {
	return len(id) > len(MailboxPrefix) && id[:len(MailboxPrefix)] == MailboxPrefix
}

// MailboxName strips the "mailbox:" prefix from a mailbox node identifier.
func MailboxName(id string) string {
	if !IsMailboxID(id) {
		return id
	}
	return id[len(MailboxPrefix):]
}

// knownFields lists the JSON keys modeled directly by Mail, used by
// UnmarshalJSON to decide what belongs in Extra.
var knownFields = map[string]bool{
	"id": true, "from": true, "to": true, "subject": true, "body": true,
	"timestamp": true, "metadata": true, "status": true, "attachments": true,
	"bounceReason": true,
}

// MarshalJSON emits the known fields via the default struct encoding, then
// overlays any preserved unknown fields from Extra, never overwriting a
// known field with an Extra value of the same name.
func (m Mail) MarshalJSON() ([]byte, error) {
	type alias Mail
	data, err := json.Marshal(alias(m))
	if err != nil {
		return nil, err
	}
	if len(m.Extra) == 0 {
		return data, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for k, v := range m.Extra {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes the known fields and stashes anything else in Extra.
func (m *Mail) UnmarshalJSON(data []byte) error {
	type alias Mail
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*m = Mail(a)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var extra map[string]json.RawMessage
	for k, v := range raw {
		if knownFields[k] {
			continue
		}
		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}
		extra[k] = v
	}
	m.Extra = extra
	return nil
}

// Clone returns a deep-enough copy of m suitable for producing a derived
// mail (e.g. a bounce) without aliasing slices or the Extra map.
func (m Mail) Clone() Mail {
	out := m
	if m.Attachments != nil {
		out.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

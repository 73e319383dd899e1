package mailstore

import (
	"encoding/json"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/beehive-labs/swarm-orchestrator/internal/errs"
	"github.com/beehive-labs/swarm-orchestrator/internal/mail"
)

// HumanStore persists the human node's inbox and outbox as single,
// atomically-rewritten JSON arrays.
// Unlike an agent's per-file inbox, the human inbox is browsed by an
// operator through the Gateway rather than drained by a container, so
// entries are appended and kept rather than consumed by unlink.
type HumanStore struct {
	fs   afero.Fs
	root string
	mu   sync.Mutex
}

// NewHumanStore creates a HumanStore rooted at root.
func NewHumanStore(fs afero.Fs, root string) *HumanStore {
	return &HumanStore{fs: fs, root: root}
}

// InboxPath returns the path to human/inbox.json.
func (h *HumanStore) InboxPath() string { return filepath.Join(h.root, humanDir, "inbox.json") }

// OutboxPath returns the path to human/outbox.json.
func (h *HumanStore) OutboxPath() string { return filepath.Join(h.root, humanDir, "outbox.json") }

// ReadInbox returns every mail ever delivered to the human node.
func (h *HumanStore) ReadInbox() ([]mail.Mail, error) {
	return h.read(h.InboxPath())
}

// ReadOutbox returns every mail the human node has ever sent.
func (h *HumanStore) ReadOutbox() ([]mail.Mail, error) {
	return h.read(h.OutboxPath())
}

// AppendInbox durably records a mail delivered to the human node.
func (h *HumanStore) AppendInbox(m mail.Mail) error {
	return h.append(h.InboxPath(), m)
}

// AppendOutbox durably records a mail the human node is about to send,
// ahead of routing it (Gateway's mail.send write path).
func (h *HumanStore) AppendOutbox(m mail.Mail) error {
	return h.append(h.OutboxPath(), m)
}

func (h *HumanStore) read(path string) ([]mail.Mail, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.readLocked(path)
}

func (h *HumanStore) readLocked(path string) ([]mail.Mail, error) {
	data, err := afero.ReadFile(h.fs, path)
	if err != nil {
		if os_IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.NewIOError(path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var out []mail.Mail
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errs.NewMailError(path, err)
	}
	return out, nil
}

func (h *HumanStore) append(path string, m mail.Mail) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	existing, err := h.readLocked(path)
	if err != nil {
		return err
	}
	existing = append(existing, m)

	dir := filepath.Dir(path)
	if err := h.fs.MkdirAll(dir, 0o755); err != nil {
		return errs.NewIOError(dir, err)
	}

	data, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return errs.Wrap(err, "marshal human mail store")
	}

	tmp := path + ".tmp-" + uuid.NewString()
	if err := afero.WriteFile(h.fs, tmp, data, 0o644); err != nil {
		return errs.NewIOError(tmp, err)
	}
	if err := h.fs.Rename(tmp, path); err != nil {
		_ = h.fs.Remove(tmp)
		return errs.NewIOError(path, err)
	}
	return nil
}

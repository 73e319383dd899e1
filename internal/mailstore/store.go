// Package mailstore implements the shared-nothing filesystem mail store:
// one JSON file per message, named by monotonic timestamp plus UUID, written via temp-sibling-then-rename and consumed via
// read-then-unlink. Rename and unlink are atomic on a single filesystem, so
// no additional locking is required as long as each directory has at most
// one writer and at most one consumer — a guarantee the orchestrator
// enforces (the owning agent drains its inbox; the Outbox Watcher drains
// the outbox).
package mailstore

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/beehive-labs/swarm-orchestrator/internal/errs"
	"github.com/beehive-labs/swarm-orchestrator/internal/mail"
)

// Fixed subdirectory names the orchestrator creates under a data root.
const (
	DirInbox      = "inbox"
	DirOutbox     = "outbox"
	DirWorkspace  = "workspace"
	DirState      = "state"
	DirLogs       = "logs"
	DirPoison     = "poison"
	DirInflight   = "inflight"
	DirDeadletter = "deadletter"

	agentsDir    = "agents"
	humanDir     = "human"
	mailboxesDir = "mailboxes"
)

// AgentDirs names the full subtree for one agent. Base is the agent's
// root directory; the soul file lives there as a direct child, next to
// the queue directories.
type AgentDirs struct {
	Base      string
	Inbox     string
	Outbox    string
	Workspace string
	State     string
	Logs      string
}

// MailboxDirs names the inbox/outbox pair for a named external mailbox.
type MailboxDirs struct {
	Inbox  string
	Outbox string
}

// Store is the filesystem mail store rooted at a data directory.
type Store struct {
	fs   afero.Fs
	root string
}

// New creates a Store rooted at root, backed by fs. Production callers
// pass afero.NewOsFs(); tests pass afero.NewMemMapFs() to exercise the
// rename/unlink contract without touching disk.
func New(fs afero.Fs, root string) *Store {
	return &Store{fs: fs, root: root}
}

// Root returns the data root directory.
func (s *Store) Root() string { return s.root }

// Fs returns the filesystem the Store is backed by, so callers needing to
// read adjacent files (e.g. a transcript log) stay on the same abstraction.
func (s *Store) Fs() afero.Fs { return s.fs }

// AgentDirs returns the subtree paths for agentID.
func (s *Store) AgentDirs(agentID string) AgentDirs {
	base := filepath.Join(s.root, agentsDir, agentID)
	return AgentDirs{
		Base:      base,
		Inbox:     filepath.Join(base, DirInbox),
		Outbox:    filepath.Join(base, DirOutbox),
		Workspace: filepath.Join(base, DirWorkspace),
		State:     filepath.Join(base, DirState),
		Logs:      filepath.Join(base, DirLogs),
	}
}

// MailboxDirs returns the inbox/outbox paths for a named mailbox.
func (s *Store) MailboxDirs(name string) MailboxDirs {
	base := filepath.Join(s.root, mailboxesDir, name)
	return MailboxDirs{
		Inbox:  filepath.Join(base, DirInbox),
		Outbox: filepath.Join(base, DirOutbox),
	}
}

// EnsureAgentDirs creates every directory in an agent's subtree.
func (s *Store) EnsureAgentDirs(agentID string) error {
	d := s.AgentDirs(agentID)
	for _, dir := range []string{d.Inbox, d.Outbox, d.Workspace, d.State, d.Logs} {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return errs.NewIOError(dir, err)
		}
	}
	return nil
}

// EnsureMailboxDirs creates the inbox/outbox directories for a mailbox.
func (s *Store) EnsureMailboxDirs(name string) error {
	d := s.MailboxDirs(name)
	for _, dir := range []string{d.Inbox, d.Outbox} {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return errs.NewIOError(dir, err)
		}
	}
	return nil
}

// InflightDir returns the orchestrator-owned spool directory for an agent's
// in-flight mail, used to survive a crash between outbox-consume and
// inbox-deliver.
func (s *Store) InflightDir(agentID string) string {
	return filepath.Join(s.root, DirInflight, agentID)
}

// DeadletterDir returns the terminal directory for mail that cannot be
// delivered anywhere, including bounces whose own delivery fails.
func (s *Store) DeadletterDir() string {
	return filepath.Join(s.root, DirDeadletter)
}

// Filename produces the epoch-millis + UUID name that imposes FIFO read
// order when a directory listing is sorted lexicographically.
func Filename(t time.Time, id string) string {
	return fmt.Sprintf("%d-%s.json", t.UnixMilli(), id)
}

// Write serializes m and deposits it into dir via the write contract: write
// to a temporary sibling, then rename into place. The rename is what makes
// the file visible to any directory-listing consumer.
func (s *Store) Write(dir string, m mail.Mail) (string, error) {
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return "", errs.NewIOError(dir, err)
	}

	name := Filename(m.Timestamp, m.ID)
	final := filepath.Join(dir, name)
	tmp := final + ".tmp-" + uuid.NewString()

	data, err := json.Marshal(m)
	if err != nil {
		return "", errs.Wrap(err, "marshal mail")
	}
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return "", errs.NewIOError(tmp, err)
	}
	if err := s.fs.Rename(tmp, final); err != nil {
		_ = s.fs.Remove(tmp)
		return "", errs.NewIOError(final, err)
	}
	return final, nil
}

// List returns the *.json file paths in dir in sorted (FIFO) order. Poison
// and other orchestrator-owned subdirectories are never returned because
// they do not match the .json suffix filter applied to direct entries.
func (s *Store) List(dir string) ([]string, error) {
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if os_IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.NewIOError(dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = filepath.Join(dir, n)
	}
	return out, nil
}

// Peek reads and parses path without removing it. On a parse failure the
// file is moved to the poison/ subdirectory of its containing directory and
// the returned error wraps ErrMailCorrupt; the caller should not retry.
func (s *Store) Peek(path string) (mail.Mail, error) {
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return mail.Mail{}, errs.NewIOError(path, err)
	}
	var m mail.Mail
	if err := json.Unmarshal(data, &m); err != nil {
		if poisonErr := s.poison(path, err); poisonErr != nil {
			return mail.Mail{}, errs.Join(errs.NewMailError(path, err), poisonErr)
		}
		return mail.Mail{}, errs.NewMailError(path, err)
	}
	return m, nil
}

// Take reads path, unlinks it, and returns the parsed Mail. On a parse
// failure the file is moved to dir's poison/ subdirectory with an appended
// error log entry and is not retried; the returned error wraps
// ErrMailCorrupt.
func (s *Store) Take(path string) (mail.Mail, error) {
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return mail.Mail{}, errs.NewIOError(path, err)
	}

	var m mail.Mail
	if err := json.Unmarshal(data, &m); err != nil {
		poisonErr := s.poison(path, err)
		if poisonErr != nil {
			return mail.Mail{}, errs.Join(errs.NewMailError(path, err), poisonErr)
		}
		return mail.Mail{}, errs.NewMailError(path, err)
	}

	if err := s.fs.Remove(path); err != nil {
		return mail.Mail{}, errs.NewIOError(path, err)
	}
	return m, nil
}

// poison moves a file that failed to parse into <dir>/poison/ and appends
// an error log line alongside it.
func (s *Store) poison(path string, cause error) error {
	dir := filepath.Dir(path)
	poisonDir := filepath.Join(dir, DirPoison)
	if err := s.fs.MkdirAll(poisonDir, 0o755); err != nil {
		return errs.NewIOError(poisonDir, err)
	}

	dest := filepath.Join(poisonDir, filepath.Base(path))
	if err := s.fs.Rename(path, dest); err != nil {
		return errs.NewIOError(dest, err)
	}

	logPath := dest + ".error.log"
	entry := fmt.Sprintf("%s\t%s\t%v\n", time.Now().UTC().Format(time.RFC3339), path, cause)
	f, err := s.fs.OpenFile(logPath, fileAppendFlags, 0o644)
	if err != nil {
		return errs.NewIOError(logPath, err)
	}
	defer f.Close()
	_, err = f.Write([]byte(entry))
	return err
}

// MoveToInflight renames a just-consumed outbox file into the orchestrator
// owned inflight spool for agentID, giving the router a durable copy to
// re-route from if the process crashes before the inbox write completes.
func (s *Store) MoveToInflight(path, agentID string) (string, error) {
	dir := s.InflightDir(agentID)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return "", errs.NewIOError(dir, err)
	}
	dest := filepath.Join(dir, filepath.Base(path))
	if err := s.fs.Rename(path, dest); err != nil {
		return "", errs.NewIOError(dest, err)
	}
	return dest, nil
}

// ListInflight scans the entire inflight spool at crash-recovery restart,
// returning agentID -> sorted in-flight mail file paths.
func (s *Store) ListInflight() (map[string][]string, error) {
	base := filepath.Join(s.root, DirInflight)
	entries, err := afero.ReadDir(s.fs, base)
	if err != nil {
		if os_IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.NewIOError(base, err)
	}

	out := make(map[string][]string)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		files, err := s.List(filepath.Join(base, e.Name()))
		if err != nil {
			return nil, err
		}
		if len(files) > 0 {
			out[e.Name()] = files
		}
	}
	return out, nil
}

// RemoveInflight deletes an in-flight spool file once the router has
// durably delivered it.
func (s *Store) RemoveInflight(path string) error {
	if err := s.fs.Remove(path); err != nil {
		return errs.NewIOError(path, err)
	}
	return nil
}

// WriteDeadletter deposits m into the terminal dead-letter directory,
// reached when a bounce's own delivery fails.
func (s *Store) WriteDeadletter(m mail.Mail) (string, error) {
	return s.Write(s.DeadletterDir(), m)
}

// RemoveData deletes an agent's entire data subtree. Callers must ensure
// the agent has already been removed from the Swarm Registry.
func (s *Store) RemoveData(agentID string) error {
	base := filepath.Join(s.root, agentsDir, agentID)
	if err := s.fs.RemoveAll(base); err != nil {
		return errs.NewIOError(base, err)
	}
	return nil
}

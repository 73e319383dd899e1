// Package registry implements the Swarm Registry: the persistent
// JSON graph configuration — bees, mailboxes, and connections — that the
// Topology is rebuilt from on every mutation. Mutations are serialized
// behind a single-writer mutex, validated before persistence, written with
// an fsync-on-close, and followed by a swarm:updated event.
package registry

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/beehive-labs/swarm-orchestrator/internal/errs"
	"github.com/beehive-labs/swarm-orchestrator/internal/eventbus"
	"github.com/beehive-labs/swarm-orchestrator/internal/mail"
	"github.com/beehive-labs/swarm-orchestrator/internal/topology"
)

// Bee is one agent's configuration within a swarm.
type Bee struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Model string `json:"model,omitempty" yaml:"model,omitempty"`
	Soul  string `json:"soul,omitempty" yaml:"soul,omitempty"`
}

// Mailbox is a named non-agent endpoint within a swarm.
type Mailbox struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Connection is a directed (optionally bidirectional) permission edge.
type Connection struct {
	From          string `json:"from" yaml:"from"`
	To            string `json:"to" yaml:"to"`
	Bidirectional bool   `json:"bidirectional,omitempty" yaml:"bidirectional,omitempty"`
}

// SwarmConfig is the full persisted graph configuration. The human node is
// implicit and always present; it never appears in Bees.
type SwarmConfig struct {
	ID          string       `json:"id" yaml:"id"`
	Name        string       `json:"name" yaml:"name"`
	Bees        []Bee        `json:"bees" yaml:"bees"`
	Mailboxes   []Mailbox    `json:"mailboxes" yaml:"mailboxes"`
	Connections []Connection `json:"connections" yaml:"connections"`

	// AutoConnectHuman: when true, node.add auto-seeds both directed
	// human<->agent edges for the new bee; when false (the default), no
	// edges are implied and an operator must conn.add explicitly. The human
	// node must not be privileged by default, which makes false the safer
	// default.
	AutoConnectHuman bool `json:"autoConnectHuman" yaml:"autoConnectHuman"`
}

// clone returns a deep copy so callers can mutate their copy without
// affecting the Registry's internal state (copy-on-read).
func (c SwarmConfig) clone() SwarmConfig {
	out := c
	out.Bees = append([]Bee(nil), c.Bees...)
	out.Mailboxes = append([]Mailbox(nil), c.Mailboxes...)
	out.Connections = append([]Connection(nil), c.Connections...)
	return out
}

// Registry guards the persisted SwarmConfig behind a single-writer mutex
// and publishes swarm:updated after every successful mutation.
type Registry struct {
	mu   sync.Mutex
	fs   afero.Fs
	path string
	bus  *eventbus.Bus
	cfg  SwarmConfig
}

// New creates a Registry persisting to path (a JSON file, typically
// <DATA_ROOT>/swarm.json) via fs, publishing mutation events on bus.
func New(fs afero.Fs, path string, bus *eventbus.Bus) *Registry {
	return &Registry{fs: fs, path: path, bus: bus}
}

// Load reads the persisted config from disk. If the file does not exist, an
// empty SwarmConfig is used (first run).
func (r *Registry) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := afero.ReadFile(r.fs, r.path)
	if err != nil {
		if os_IsNotExist(err) {
			r.cfg = SwarmConfig{ID: uuid.NewString(), Name: "default"}
			return nil
		}
		return errs.NewIOError(r.path, err)
	}

	var cfg SwarmConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return errs.Wrap(err, "parse swarm config")
	}
	r.cfg = cfg
	return nil
}

// Get returns a deep copy of the current configuration (copy-on-read).
func (r *Registry) Get() SwarmConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.clone()
}

// Topology rebuilds a Topology snapshot from the current connections, as
// every Topology mutation must.
func (r *Registry) Topology() *topology.Topology {
	r.mu.Lock()
	conns := make([]topology.Connection, len(r.cfg.Connections))
	for i, c := range r.cfg.Connections {
		conns[i] = topology.Connection{From: c.From, To: c.To, Bidirectional: c.Bidirectional}
	}
	r.mu.Unlock()
	return topology.Build(conns)
}

// Put validates and replaces the entire configuration, persists it, and
// publishes swarm:updated.
func (r *Registry) Put(cfg SwarmConfig) error {
	if verrs := Validate(cfg); len(verrs) > 0 {
		return verrs
	}

	r.mu.Lock()
	r.cfg = cfg.clone()
	err := r.persistLocked()
	r.mu.Unlock()

	if err != nil {
		return err
	}
	r.bus.Publish(eventbus.TopicSwarmUpdated, r.Get())
	return nil
}

// AddBee inserts a new bee, optionally auto-seeding human<->bee edges per
// AutoConnectHuman, validates, and persists.
func (r *Registry) AddBee(b Bee) error {
	return r.mutate(func(cfg *SwarmConfig) error {
		for _, existing := range cfg.Bees {
			if existing.ID == b.ID {
				return errs.NewAlreadyExistsError("bee", b.ID)
			}
		}
		cfg.Bees = append(cfg.Bees, b)
		if cfg.AutoConnectHuman {
			cfg.Connections = append(cfg.Connections, Connection{From: mail.Human, To: b.ID, Bidirectional: true})
		}
		return nil
	})
}

// RemoveBee deletes a bee and every connection referencing it.
func (r *Registry) RemoveBee(id string) error {
	return r.mutate(func(cfg *SwarmConfig) error {
		idx := -1
		for i, b := range cfg.Bees {
			if b.ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return errs.NewNotFoundError("bee", id)
		}
		cfg.Bees = append(cfg.Bees[:idx], cfg.Bees[idx+1:]...)

		kept := cfg.Connections[:0]
		for _, c := range cfg.Connections {
			if c.From == id || c.To == id {
				continue
			}
			kept = append(kept, c)
		}
		cfg.Connections = kept
		return nil
	})
}

// AddMailbox inserts a new named mailbox.
func (r *Registry) AddMailbox(mb Mailbox) error {
	return r.mutate(func(cfg *SwarmConfig) error {
		for _, existing := range cfg.Mailboxes {
			if existing.ID == mb.ID {
				return errs.NewAlreadyExistsError("mailbox", mb.ID)
			}
		}
		cfg.Mailboxes = append(cfg.Mailboxes, mb)
		return nil
	})
}

// AddConnection idempotently adds a connection (conn.add).
func (r *Registry) AddConnection(from, to string, bidir bool) error {
	return r.mutate(func(cfg *SwarmConfig) error {
		for i, c := range cfg.Connections {
			if c.From == from && c.To == to {
				cfg.Connections[i].Bidirectional = cfg.Connections[i].Bidirectional || bidir
				return nil
			}
		}
		cfg.Connections = append(cfg.Connections, Connection{From: from, To: to, Bidirectional: bidir})
		return nil
	})
}

// RemoveConnection removes the from->to connection (conn.remove). If bidir
// is true, a to->from connection recorded as its own entry is removed too.
func (r *Registry) RemoveConnection(from, to string, bidir bool) error {
	return r.mutate(func(cfg *SwarmConfig) error {
		kept := cfg.Connections[:0]
		for _, c := range cfg.Connections {
			if c.From == from && c.To == to {
				continue
			}
			if bidir && c.From == to && c.To == from {
				continue
			}
			kept = append(kept, c)
		}
		cfg.Connections = kept
		return nil
	})
}

// SetBidirectional flips a connection's Bidirectional flag (conn.setBidir).
func (r *Registry) SetBidirectional(from, to string, bidir bool) error {
	return r.mutate(func(cfg *SwarmConfig) error {
		for i, c := range cfg.Connections {
			if c.From == from && c.To == to {
				cfg.Connections[i].Bidirectional = bidir
				return nil
			}
		}
		return errs.NewNotFoundError("connection", fmt.Sprintf("%s->%s", from, to))
	})
}

// mutate applies fn to a working copy of the config, validates, persists,
// and on success publishes swarm:updated. On any failure the in-memory
// config is left unchanged.
func (r *Registry) mutate(fn func(*SwarmConfig) error) error {
	r.mu.Lock()
	working := r.cfg.clone()
	if err := fn(&working); err != nil {
		r.mu.Unlock()
		return err
	}
	if verrs := Validate(working); len(verrs) > 0 {
		r.mu.Unlock()
		return verrs
	}
	r.cfg = working
	err := r.persistLocked()
	r.mu.Unlock()

	if err != nil {
		return err
	}
	r.bus.Publish(eventbus.TopicSwarmUpdated, r.Get())
	return nil
}

// persistLocked writes r.cfg to disk via temp-file-then-rename, fsyncing
// the temp file before rename so the write survives a crash.
// Must be called with r.mu held.
func (r *Registry) persistLocked() error {
	dir := filepath.Dir(r.path)
	if err := r.fs.MkdirAll(dir, 0o755); err != nil {
		return errs.NewIOError(dir, err)
	}

	data, err := json.MarshalIndent(r.cfg, "", "  ")
	if err != nil {
		return errs.Wrap(err, "marshal swarm config")
	}

	tmp := r.path + ".tmp-" + uuid.NewString()
	f, err := r.fs.OpenFile(tmp, osCreateWriteTrunc, 0o644)
	if err != nil {
		return errs.NewIOError(tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = r.fs.Remove(tmp)
		return errs.NewIOError(tmp, err)
	}
	if syncer, ok := f.(interface{ Sync() error }); ok {
		if err := syncer.Sync(); err != nil {
			_ = f.Close()
			_ = r.fs.Remove(tmp)
			return errs.NewIOError(tmp, err)
		}
	}
	if err := f.Close(); err != nil {
		_ = r.fs.Remove(tmp)
		return errs.NewIOError(tmp, err)
	}

	if err := r.fs.Rename(tmp, r.path); err != nil {
		_ = r.fs.Remove(tmp)
		return errs.NewIOError(r.path, err)
	}
	return nil
}

// Package supervisor implements the Container Supervisor: creates,
// starts, stops, and introspects sandboxed agent containers through an
// abstract Runtime capability, reconciling desired vs. observed state.
// Starting an agent also drives its mail-plane lifecycle: directories,
// the hierarchy file, outbox watching, and queue counting.
package supervisor

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/beehive-labs/swarm-orchestrator/internal/errs"
	"github.com/beehive-labs/swarm-orchestrator/internal/eventbus"
	"github.com/beehive-labs/swarm-orchestrator/internal/mail"
	"github.com/beehive-labs/swarm-orchestrator/internal/mailstore"
	"github.com/beehive-labs/swarm-orchestrator/internal/registry"
	"github.com/beehive-labs/swarm-orchestrator/internal/watcher"
)

// DefaultCallTimeout bounds every Runtime call; exceeding it
// surfaces as ErrContainerRuntime.
const DefaultCallTimeout = 30 * time.Second

// Mount is one bind mount from the host into the container.
type Mount struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// Spec is everything the Runtime needs to create an agent's container:
// image, environment (including AGENT_ID, AGENT_NAME, MODEL, and the
// provider API key), and the agent's directory mounts.
type Spec struct {
	AgentID string
	Image   string
	Env     map[string]string
	Mounts  []Mount
}

// Handle is an opaque, runtime-assigned container identifier.
type Handle string

// State is the Runtime's reported view of one container.
type State struct {
	Running   bool
	StartedAt time.Time
	Raw       string
}

// Runtime is the abstract container capability. No concrete backend is
// assumed; the orchestrator is wired against whichever implementation the
// deployment provides.
type Runtime interface {
	Create(ctx context.Context, spec Spec) (Handle, error)
	Start(ctx context.Context, h Handle) error
	Stop(ctx context.Context, h Handle) error
	Remove(ctx context.Context, h Handle) error
	Inspect(ctx context.Context, h Handle) (State, error)
}

// HierarchyFile is the sole channel by which an agent learns its
// neighborhood: agents are never told the global graph.
type HierarchyFile struct {
	AgentID           string        `json:"agentId"`
	ReceivesTasksFrom []NeighborRef `json:"receivesTasksFrom"`
	CanDelegateTo     []NeighborRef `json:"canDelegateTo"`
}

// NeighborRef names one node reachable from an agent's hierarchy file.
type NeighborRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type record struct {
	handle      Handle
	hasHandle   bool
	containerID string
	startedAt   time.Time
}

// Supervisor reconciles desired vs. observed container state for every
// agent, driving the Outbox Watcher and Inbox Counter lifecycle alongside
// the container itself.
type Supervisor struct {
	runtime     Runtime
	store       *mailstore.Store
	reg         *registry.Registry
	bus         *eventbus.Bus
	outbox      *watcher.OutboxWatcher
	counter     *watcher.Counter
	callTimeout time.Duration
	providerKey string

	mu      sync.Mutex
	records map[string]*record
}

// New creates a Supervisor. providerAPIKey is injected into every agent's
// container spec as PROVIDER_API_KEY.
func New(runtime Runtime, store *mailstore.Store, reg *registry.Registry, bus *eventbus.Bus, outbox *watcher.OutboxWatcher, counter *watcher.Counter, providerAPIKey string) *Supervisor {
	return &Supervisor{
		runtime:     runtime,
		store:       store,
		reg:         reg,
		bus:         bus,
		outbox:      outbox,
		counter:     counter,
		callTimeout: DefaultCallTimeout,
		providerKey: providerAPIKey,
		records:     make(map[string]*record),
	}
}

// SetCallTimeout overrides the per-Runtime-call deadline (default 30s).
func (s *Supervisor) SetCallTimeout(d time.Duration) { s.callTimeout = d }

// Start ensures agentID's directories and hierarchy file exist, creates the
// container if it does not already exist, starts it, begins outbox
// watching, and emits bee:status.
func (s *Supervisor) Start(ctx context.Context, agentID string) error {
	bee, ok := s.findBee(agentID)
	if !ok {
		return errs.NewNotFoundError("bee", agentID)
	}

	if err := s.store.EnsureAgentDirs(agentID); err != nil {
		return err
	}
	if err := s.writeSoul(bee); err != nil {
		return err
	}
	if err := s.writeHierarchy(agentID); err != nil {
		return err
	}

	s.mu.Lock()
	rec, exists := s.records[agentID]
	if !exists {
		rec = &record{}
		s.records[agentID] = rec
	}
	s.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	if !rec.hasHandle {
		spec := s.buildSpec(bee)
		handle, err := s.runtime.Create(callCtx, spec)
		if err != nil {
			return errs.NewContainerError(agentID, err)
		}
		s.mu.Lock()
		rec.handle = handle
		rec.hasHandle = true
		s.mu.Unlock()
	}

	if err := s.runtime.Start(callCtx, rec.handle); err != nil {
		return errs.NewContainerError(agentID, err)
	}
	s.mu.Lock()
	rec.startedAt = time.Now().UTC()
	s.mu.Unlock()

	if err := s.outbox.Watch(ctx, agentID); err != nil {
		return errs.Wrap(err, "start outbox watcher")
	}

	dirs := s.store.AgentDirs(agentID)
	_ = s.counter.Watch(ctx, s.store, agentID, dirs.Inbox, dirs.Outbox)
	s.counter.SetRunning(agentID, true)

	s.bus.Publish(eventbus.TopicBeeStatus, map[string]any{
		"agentId": agentID,
		"running": true,
	})
	return nil
}

// Stop stops the container and the outbox watcher, symmetric with Start.
func (s *Supervisor) Stop(ctx context.Context, agentID string) error {
	s.mu.Lock()
	rec, ok := s.records[agentID]
	s.mu.Unlock()
	if !ok || !rec.hasHandle {
		return errs.NewNotFoundError("bee", agentID)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	if err := s.runtime.Stop(callCtx, rec.handle); err != nil {
		return errs.NewContainerError(agentID, err)
	}

	s.outbox.Unwatch(agentID)
	s.counter.SetRunning(agentID, false)

	s.bus.Publish(eventbus.TopicBeeStatus, map[string]any{
		"agentId": agentID,
		"running": false,
	})
	return nil
}

// Remove stops (if running) and removes the container plus the agent's
// entire data subtree. It fails if the agent still appears in the Swarm
// Registry; removal from the registry must precede this call.
func (s *Supervisor) Remove(ctx context.Context, agentID string) error {
	if _, ok := s.findBee(agentID); ok {
		return errs.Wrap(errs.ErrValidation, "agent still present in swarm registry; remove it from the registry first")
	}

	s.mu.Lock()
	rec, ok := s.records[agentID]
	s.mu.Unlock()

	if ok && rec.hasHandle {
		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		_ = s.runtime.Stop(callCtx, rec.handle)
		err := s.runtime.Remove(callCtx, rec.handle)
		cancel()
		if err != nil {
			return errs.NewContainerError(agentID, err)
		}
	}

	s.mu.Lock()
	delete(s.records, agentID)
	s.mu.Unlock()

	s.outbox.Unwatch(agentID)
	s.counter.Unwatch(agentID)

	return s.store.RemoveData(agentID)
}

// Inspect never trusts a cached value: it always issues a fresh Runtime
// call bounded by the per-call deadline.
func (s *Supervisor) Inspect(ctx context.Context, agentID string) (State, error) {
	s.mu.Lock()
	rec, ok := s.records[agentID]
	s.mu.Unlock()
	if !ok || !rec.hasHandle {
		return State{}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	st, err := s.runtime.Inspect(callCtx, rec.handle)
	if err != nil {
		return State{}, errs.NewContainerError(agentID, err)
	}
	return st, nil
}

func (s *Supervisor) findBee(agentID string) (registry.Bee, bool) {
	cfg := s.reg.Get()
	for _, b := range cfg.Bees {
		if b.ID == agentID {
			return b, true
		}
	}
	return registry.Bee{}, false
}

func (s *Supervisor) buildSpec(bee registry.Bee) Spec {
	dirs := s.store.AgentDirs(bee.ID)
	env := map[string]string{
		"AGENT_ID":   bee.ID,
		"AGENT_NAME": bee.Name,
		"MODEL":      bee.Model,
	}
	if s.providerKey != "" {
		env["PROVIDER_API_KEY"] = s.providerKey
	}

	return Spec{
		AgentID: bee.ID,
		Image:   "swarm-agent:latest",
		Env:     env,
		Mounts: []Mount{
			{HostPath: dirs.Inbox, ContainerPath: "/mail/inbox"},
			{HostPath: dirs.Outbox, ContainerPath: "/mail/outbox"},
			{HostPath: dirs.State, ContainerPath: "/mail/state"},
			{HostPath: dirs.Logs, ContainerPath: "/mail/logs"},
			{HostPath: dirs.Workspace, ContainerPath: "/workspace"},
			{HostPath: s.soulPath(bee.ID), ContainerPath: "/mail/soul.md", ReadOnly: true},
		},
	}
}

// soulPath names the agent's soul file, a direct child of the agent root
// next to the queue directories.
func (s *Supervisor) soulPath(agentID string) string {
	return filepath.Join(s.store.AgentDirs(agentID).Base, "soul.md")
}

// writeSoul materializes the bee's configured soul onto disk. Start is the
// only writer; inside the container the file is mounted read-only.
func (s *Supervisor) writeSoul(bee registry.Bee) error {
	path := s.soulPath(bee.ID)
	if err := writeFileAtomic(s.store.Fs(), path, path+".tmp", []byte(bee.Soul)); err != nil {
		return errs.NewIOError(path, err)
	}
	return nil
}

// writeHierarchy rewrites <root>/agents/<id>/state/hierarchy.json from the
// current registry and topology, on every Start and (via the caller
// re-invoking this for every live agent) on every topology-affecting
// change.
func (s *Supervisor) writeHierarchy(agentID string) error {
	cfg := s.reg.Get()
	topo := s.reg.Topology()

	names := make(map[string]string, len(cfg.Bees)+len(cfg.Mailboxes)+1)
	names[mail.Human] = mail.Human
	for _, b := range cfg.Bees {
		names[b.ID] = b.Name
	}
	for _, m := range cfg.Mailboxes {
		names[mail.MailboxPrefix+m.Name] = m.Name
	}

	nodeType := func(id string) string {
		switch {
		case id == mail.Human:
			return "human"
		case mail.IsMailboxID(id):
			return "mailbox"
		default:
			return "agent"
		}
	}

	var receives, delegates []NeighborRef
	for _, n := range topo.Nodes() {
		if n == agentID {
			continue
		}
		if topo.CanSend(n, agentID) {
			receives = append(receives, NeighborRef{ID: n, Name: names[n], Type: nodeType(n)})
		}
		if topo.CanSend(agentID, n) {
			delegates = append(delegates, NeighborRef{ID: n, Name: names[n], Type: nodeType(n)})
		}
	}

	hf := HierarchyFile{AgentID: agentID, ReceivesTasksFrom: receives, CanDelegateTo: delegates}
	data, err := json.MarshalIndent(hf, "", "  ")
	if err != nil {
		return errs.Wrap(err, "marshal hierarchy file")
	}

	dirs := s.store.AgentDirs(agentID)
	path := filepath.Join(dirs.State, "hierarchy.json")
	tmp := path + ".tmp"
	if err := writeFileAtomic(s.store.Fs(), path, tmp, data); err != nil {
		return errs.NewIOError(path, err)
	}
	return nil
}

// RefreshHierarchies rewrites the hierarchy file for every agent whose
// container has been created, stopped ones included; call this after any
// Topology-affecting registry mutation.
func (s *Supervisor) RefreshHierarchies() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.records))
	for id, rec := range s.records {
		if rec.hasHandle {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	var wg conc.WaitGroup
	for _, id := range ids {
		id := id
		wg.Go(func() { _ = s.writeHierarchy(id) })
	}
	wg.Wait()
}

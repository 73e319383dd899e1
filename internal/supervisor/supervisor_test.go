package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/beehive-labs/swarm-orchestrator/internal/errs"
	"github.com/beehive-labs/swarm-orchestrator/internal/eventbus"
	"github.com/beehive-labs/swarm-orchestrator/internal/mail"
	"github.com/beehive-labs/swarm-orchestrator/internal/mailstore"
	"github.com/beehive-labs/swarm-orchestrator/internal/registry"
	"github.com/beehive-labs/swarm-orchestrator/internal/watcher"
)

// fakeRuntime records calls and serves canned state.
type fakeRuntime struct {
	mu         sync.Mutex
	created    []Spec
	started    []Handle
	stopped    []Handle
	removed    []Handle
	running    map[Handle]bool
	inspectErr error
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{running: make(map[Handle]bool)}
}

func (f *fakeRuntime) Create(ctx context.Context, spec Spec) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, spec)
	return Handle("fake-" + spec.AgentID), nil
}

func (f *fakeRuntime) Start(ctx context.Context, h Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, h)
	f.running[h] = true
	return nil
}

func (f *fakeRuntime) Stop(ctx context.Context, h Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, h)
	f.running[h] = false
	return nil
}

func (f *fakeRuntime) Remove(ctx context.Context, h Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, h)
	delete(f.running, h)
	return nil
}

func (f *fakeRuntime) Inspect(ctx context.Context, h Handle) (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inspectErr != nil {
		return State{}, f.inspectErr
	}
	return State{Running: f.running[h], StartedAt: time.Now().UTC()}, nil
}

type supFixture struct {
	fs      afero.Fs
	store   *mailstore.Store
	reg     *registry.Registry
	bus     *eventbus.Bus
	runtime *fakeRuntime
	sup     *Supervisor
}

func newSupFixture(t *testing.T) *supFixture {
	t.Helper()
	fs := afero.NewOsFs()
	root := t.TempDir()
	store := mailstore.New(fs, root)
	bus := eventbus.New()

	reg := registry.New(fs, filepath.Join(root, "swarm.json"), bus)
	if err := reg.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	outbox := watcher.New(store, bus, func(ctx context.Context, m mail.Mail) {})
	counter := watcher.NewCounter(bus)
	t.Cleanup(counter.Stop)

	runtime := newFakeRuntime()
	sup := New(runtime, store, reg, bus, outbox, counter, "key-123")
	return &supFixture{fs: fs, store: store, reg: reg, bus: bus, runtime: runtime, sup: sup}
}

func (f *supFixture) addBee(t *testing.T, id, name string) {
	t.Helper()
	if err := f.reg.AddBee(registry.Bee{ID: id, Name: name, Model: "model-1"}); err != nil {
		t.Fatalf("AddBee failed: %v", err)
	}
}

func readHierarchy(t *testing.T, f *supFixture, agentID string) HierarchyFile {
	t.Helper()
	path := filepath.Join(f.store.AgentDirs(agentID).State, "hierarchy.json")
	data, err := afero.ReadFile(f.fs, path)
	if err != nil {
		t.Fatalf("Read hierarchy file: %v", err)
	}
	var hf HierarchyFile
	if err := json.Unmarshal(data, &hf); err != nil {
		t.Fatalf("Parse hierarchy file: %v", err)
	}
	return hf
}

func TestSupervisor_StartUnknownBee(t *testing.T) {
	f := newSupFixture(t)
	err := f.sup.Start(context.Background(), "ghost")
	if err == nil {
		t.Fatal("Start of an unregistered bee should fail")
	}
	if !errs.Is(err, errs.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSupervisor_StartCreatesAndStarts(t *testing.T) {
	f := newSupFixture(t)
	f.addBee(t, "bee-a", "Worker A")

	statusEvents, unsubscribe := f.bus.Subscribe(8, eventbus.TopicBeeStatus)
	defer unsubscribe()

	if err := f.sup.Start(context.Background(), "bee-a"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = f.sup.Stop(context.Background(), "bee-a") })

	if len(f.runtime.created) != 1 || len(f.runtime.started) != 1 {
		t.Fatalf("Expected 1 create + 1 start, got %d/%d", len(f.runtime.created), len(f.runtime.started))
	}

	spec := f.runtime.created[0]
	if spec.Env["AGENT_ID"] != "bee-a" || spec.Env["AGENT_NAME"] != "Worker A" || spec.Env["MODEL"] != "model-1" {
		t.Errorf("Container env incomplete: %v", spec.Env)
	}
	if spec.Env["PROVIDER_API_KEY"] != "key-123" {
		t.Error("Provider API key not injected into the container env")
	}

	dirs := f.store.AgentDirs("bee-a")
	for _, dir := range []string{dirs.Inbox, dirs.Outbox, dirs.State, dirs.Logs, dirs.Workspace} {
		if ok, _ := afero.DirExists(f.fs, dir); !ok {
			t.Errorf("Directory %q not created", dir)
		}
	}

	select {
	case ev := <-statusEvents:
		payload := ev.Payload.(map[string]any)
		if payload["agentId"] != "bee-a" || payload["running"] != true {
			t.Errorf("Unexpected bee:status payload: %v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("bee:status never published")
	}
}

func TestSupervisor_StartTwiceReusesContainer(t *testing.T) {
	f := newSupFixture(t)
	f.addBee(t, "bee-a", "A")

	if err := f.sup.Start(context.Background(), "bee-a"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := f.sup.Start(context.Background(), "bee-a"); err != nil {
		t.Fatalf("Second Start failed: %v", err)
	}
	t.Cleanup(func() { _ = f.sup.Stop(context.Background(), "bee-a") })

	if len(f.runtime.created) != 1 {
		t.Errorf("Container should be created once, got %d creates", len(f.runtime.created))
	}
	if len(f.runtime.started) != 2 {
		t.Errorf("Expected 2 starts, got %d", len(f.runtime.started))
	}
}

func TestSupervisor_StartWritesHierarchy(t *testing.T) {
	f := newSupFixture(t)
	f.addBee(t, "bee-a", "A")
	f.addBee(t, "bee-b", "B")
	if err := f.reg.AddConnection("human", "bee-a", true); err != nil {
		t.Fatalf("AddConnection failed: %v", err)
	}
	if err := f.reg.AddConnection("bee-a", "bee-b", false); err != nil {
		t.Fatalf("AddConnection failed: %v", err)
	}

	if err := f.sup.Start(context.Background(), "bee-a"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = f.sup.Stop(context.Background(), "bee-a") })

	hf := readHierarchy(t, f, "bee-a")
	if hf.AgentID != "bee-a" {
		t.Errorf("Expected agentId bee-a, got %q", hf.AgentID)
	}
	if len(hf.ReceivesTasksFrom) != 1 || hf.ReceivesTasksFrom[0].ID != "human" {
		t.Errorf("Expected to receive from human only, got %+v", hf.ReceivesTasksFrom)
	}
	delegates := map[string]string{}
	for _, n := range hf.CanDelegateTo {
		delegates[n.ID] = n.Type
	}
	if delegates["human"] != "human" || delegates["bee-b"] != "agent" {
		t.Errorf("Expected delegation to human and bee-b, got %+v", hf.CanDelegateTo)
	}
	// The file lists only the agent's neighbors; the agent itself never
	// appears in either list.
	for _, n := range append(hf.ReceivesTasksFrom, hf.CanDelegateTo...) {
		if n.ID == "bee-a" {
			t.Error("Hierarchy file should not list the agent itself")
		}
	}
}

func TestSupervisor_RefreshHierarchies(t *testing.T) {
	f := newSupFixture(t)
	f.addBee(t, "bee-a", "A")
	if err := f.sup.Start(context.Background(), "bee-a"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = f.sup.Stop(context.Background(), "bee-a") })

	if got := readHierarchy(t, f, "bee-a"); len(got.ReceivesTasksFrom) != 0 {
		t.Fatalf("Expected empty neighborhood, got %+v", got)
	}

	if err := f.reg.AddConnection("human", "bee-a", false); err != nil {
		t.Fatalf("AddConnection failed: %v", err)
	}
	f.sup.RefreshHierarchies()

	hf := readHierarchy(t, f, "bee-a")
	if len(hf.ReceivesTasksFrom) != 1 || hf.ReceivesTasksFrom[0].ID != "human" {
		t.Errorf("Hierarchy not refreshed: %+v", hf)
	}
}

func TestSupervisor_StopUnknown(t *testing.T) {
	f := newSupFixture(t)
	err := f.sup.Stop(context.Background(), "ghost")
	if !errs.Is(err, errs.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSupervisor_StopPublishesStatus(t *testing.T) {
	f := newSupFixture(t)
	f.addBee(t, "bee-a", "A")
	if err := f.sup.Start(context.Background(), "bee-a"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	statusEvents, unsubscribe := f.bus.Subscribe(8, eventbus.TopicBeeStatus)
	defer unsubscribe()

	if err := f.sup.Stop(context.Background(), "bee-a"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if len(f.runtime.stopped) != 1 {
		t.Errorf("Expected 1 runtime stop, got %d", len(f.runtime.stopped))
	}

	select {
	case ev := <-statusEvents:
		payload := ev.Payload.(map[string]any)
		if payload["running"] != false {
			t.Errorf("Expected running=false, got %v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("bee:status never published on stop")
	}
}

func TestSupervisor_RemoveRefusedWhileRegistered(t *testing.T) {
	f := newSupFixture(t)
	f.addBee(t, "bee-a", "A")

	err := f.sup.Remove(context.Background(), "bee-a")
	if err == nil {
		t.Fatal("Remove must fail while the bee is still registered")
	}
	if !errs.Is(err, errs.ErrValidation) {
		t.Errorf("Expected ErrValidation, got %v", err)
	}
}

func TestSupervisor_RemovePurgesData(t *testing.T) {
	f := newSupFixture(t)
	f.addBee(t, "bee-a", "A")
	if err := f.sup.Start(context.Background(), "bee-a"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := f.sup.Stop(context.Background(), "bee-a"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := f.reg.RemoveBee("bee-a"); err != nil {
		t.Fatalf("RemoveBee failed: %v", err)
	}

	if err := f.sup.Remove(context.Background(), "bee-a"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if len(f.runtime.removed) != 1 {
		t.Errorf("Expected 1 runtime remove, got %d", len(f.runtime.removed))
	}

	base := filepath.Join(f.store.Root(), "agents", "bee-a")
	if ok, _ := afero.DirExists(f.fs, base); ok {
		t.Error("Agent data subtree still present after Remove")
	}
}

func TestSupervisor_InspectFreshState(t *testing.T) {
	f := newSupFixture(t)
	f.addBee(t, "bee-a", "A")
	if err := f.sup.Start(context.Background(), "bee-a"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = f.sup.Stop(context.Background(), "bee-a") })

	st, err := f.sup.Inspect(context.Background(), "bee-a")
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if !st.Running {
		t.Error("Expected running=true after start")
	}

	// A crash observed by the runtime shows up on the next inspect; no
	// cached value shadows it.
	f.runtime.mu.Lock()
	for h := range f.runtime.running {
		f.runtime.running[h] = false
	}
	f.runtime.mu.Unlock()

	st, err = f.sup.Inspect(context.Background(), "bee-a")
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if st.Running {
		t.Error("Inspect returned a stale running=true")
	}
}

func TestSupervisor_InspectNoContainer(t *testing.T) {
	f := newSupFixture(t)
	st, err := f.sup.Inspect(context.Background(), "bee-a")
	if err != nil {
		t.Fatalf("Inspect of an unstarted bee should not error, got %v", err)
	}
	if st.Running {
		t.Error("Unstarted bee reported running")
	}
}

func TestSupervisor_InspectRuntimeFailure(t *testing.T) {
	f := newSupFixture(t)
	f.addBee(t, "bee-a", "A")
	if err := f.sup.Start(context.Background(), "bee-a"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = f.sup.Stop(context.Background(), "bee-a") })

	f.runtime.mu.Lock()
	f.runtime.inspectErr = errors.New("daemon unreachable")
	f.runtime.mu.Unlock()

	_, err := f.sup.Inspect(context.Background(), "bee-a")
	if err == nil {
		t.Fatal("Expected an error from a failing runtime")
	}
	if !errs.Is(err, errs.ErrContainerRuntime) {
		t.Errorf("Expected ErrContainerRuntime, got %v", err)
	}
}

func TestSupervisor_StartProvisionsSoulFile(t *testing.T) {
	f := newSupFixture(t)
	if err := f.reg.AddBee(registry.Bee{ID: "bee-a", Name: "A", Soul: "You are a careful worker."}); err != nil {
		t.Fatalf("AddBee failed: %v", err)
	}
	if err := f.sup.Start(context.Background(), "bee-a"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = f.sup.Stop(context.Background(), "bee-a") })

	// The soul file is a direct child of the agent root, next to the
	// queue directories, and holds the configured soul text.
	soulPath := filepath.Join(f.store.AgentDirs("bee-a").Base, "soul.md")
	data, err := afero.ReadFile(f.fs, soulPath)
	if err != nil {
		t.Fatalf("Soul file not provisioned: %v", err)
	}
	if string(data) != "You are a careful worker." {
		t.Errorf("Soul content %q differs from the bee's configuration", data)
	}

	var found bool
	for _, m := range f.runtime.created[0].Mounts {
		if filepath.Base(m.HostPath) == "soul.md" {
			found = true
			if m.HostPath != soulPath {
				t.Errorf("Soul mounted from %q, expected %q", m.HostPath, soulPath)
			}
			if !m.ReadOnly {
				t.Error("Soul file must be mounted read-only")
			}
		}
	}
	if !found {
		t.Error("Soul file mount missing from the container spec")
	}
}

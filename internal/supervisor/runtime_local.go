package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/beehive-labs/swarm-orchestrator/internal/errs"
)

// LocalProcessRuntime is a Runtime backend that spawns a plain OS process
// in place of a sandboxed container. It exists so this orchestrator runs
// end to end without a real container daemon wired in; a production
// deployment implements Runtime against its actual sandbox (Docker,
// Firecracker, gVisor, ...); the interface deliberately does not assume
// which.
//
// Liveness is probed with a zero signal against the recorded PID rather
// than a cached flag.
type LocalProcessRuntime struct {
	command func(spec Spec) *exec.Cmd

	mu        sync.Mutex
	processes map[Handle]*exec.Cmd
	started   map[Handle]time.Time
	nextID    int
}

// NewLocalProcessRuntime creates a LocalProcessRuntime. command builds the
// *exec.Cmd to run for a given Spec; callers typically wrap the agent
// runtime's entrypoint binary. A nil command defaults to a no-op sleep
// loop, useful for tests and local smoke-runs.
func NewLocalProcessRuntime(command func(spec Spec) *exec.Cmd) *LocalProcessRuntime {
	if command == nil {
		command = func(spec Spec) *exec.Cmd {
			return exec.Command("sleep", "infinity")
		}
	}
	return &LocalProcessRuntime{
		command:   command,
		processes: make(map[Handle]*exec.Cmd),
		started:   make(map[Handle]time.Time),
	}
}

// Create builds a Cmd for spec but does not start it.
func (r *LocalProcessRuntime) Create(ctx context.Context, spec Spec) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	handle := Handle(fmt.Sprintf("local-%s-%d", spec.AgentID, r.nextID))

	cmd := r.command(spec)
	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	r.processes[handle] = cmd
	return handle, nil
}

// Start launches the process associated with handle.
func (r *LocalProcessRuntime) Start(ctx context.Context, handle Handle) error {
	r.mu.Lock()
	cmd, ok := r.processes[handle]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("local runtime: unknown handle %q", handle)
	}
	if cmd.Process != nil && processAlive(cmd.Process.Pid) {
		return nil
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	r.mu.Lock()
	r.started[handle] = time.Now().UTC()
	r.mu.Unlock()

	go func() { _ = cmd.Wait() }()
	return nil
}

// Stop sends SIGTERM; Remove escalates to SIGKILL for anything that
// ignores it.
func (r *LocalProcessRuntime) Stop(ctx context.Context, handle Handle) error {
	r.mu.Lock()
	cmd, ok := r.processes[handle]
	r.mu.Unlock()
	if !ok || cmd.Process == nil {
		return nil
	}
	if !processAlive(cmd.Process.Pid) {
		return nil
	}
	return cmd.Process.Signal(unix.SIGTERM)
}

// Remove force-kills the process (if still alive) and forgets its handle.
func (r *LocalProcessRuntime) Remove(ctx context.Context, handle Handle) error {
	r.mu.Lock()
	cmd, ok := r.processes[handle]
	delete(r.processes, handle)
	delete(r.started, handle)
	r.mu.Unlock()
	if !ok || cmd.Process == nil {
		return nil
	}
	if processAlive(cmd.Process.Pid) {
		_ = cmd.Process.Kill()
	}
	return nil
}

// Inspect reports liveness via a zero-signal probe rather than a cached
// flag, per the Supervisor's no-cached-state contract.
func (r *LocalProcessRuntime) Inspect(ctx context.Context, handle Handle) (State, error) {
	r.mu.Lock()
	cmd, ok := r.processes[handle]
	startedAt := r.started[handle]
	r.mu.Unlock()
	if !ok || cmd.Process == nil {
		return State{}, errs.NewNotFoundError("container", string(handle))
	}

	running := processAlive(cmd.Process.Pid)
	return State{Running: running, StartedAt: startedAt, Raw: fmt.Sprintf("pid=%d", cmd.Process.Pid)}, nil
}

// processAlive probes liveness with a zero signal.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(unix.Signal(0)) == nil
}

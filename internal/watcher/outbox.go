// Package watcher implements the Outbox Watcher and the Inbox
// Counter: one long-running, cancellable task per watched directory,
// fsnotify-backed, with a mandatory startup rescan so files created while
// the watcher was down are still drained.
package watcher

import (
	"context"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/beehive-labs/swarm-orchestrator/internal/errs"
	"github.com/beehive-labs/swarm-orchestrator/internal/eventbus"
	"github.com/beehive-labs/swarm-orchestrator/internal/mail"
	"github.com/beehive-labs/swarm-orchestrator/internal/mailstore"
)

// debounceWindow is how long the watcher waits for a path to go quiet
// before reading it, so a producer's multi-write is never read partially.
// Preferred producers rename into place instead, which makes this a
// pure safety net.
const debounceWindow = 50 * time.Millisecond

// RouteFunc hands a harvested, already-parsed mail to the Mail Router. It
// is expressed as a plain function type (matching (*router.Router).Route's
// signature) so this package never imports router, which would otherwise
// be a needless dependency for something watcher only calls through.
type RouteFunc func(ctx context.Context, m mail.Mail)

// OutboxWatcher drains running agents' outbox directories. Watch is
// idempotent per agent: a second call replaces any existing watcher for
// that agent.
type OutboxWatcher struct {
	store   *mailstore.Store
	bus     *eventbus.Bus
	deliver RouteFunc

	mu      sync.Mutex
	cancel  map[string]context.CancelFunc
	stopped map[string]chan struct{}
}

// New creates an OutboxWatcher that hands each harvested mail to deliver
// once it has been durably moved into the inflight spool.
func New(store *mailstore.Store, bus *eventbus.Bus, deliver RouteFunc) *OutboxWatcher {
	return &OutboxWatcher{
		store:   store,
		bus:     bus,
		deliver: deliver,
		cancel:  make(map[string]context.CancelFunc),
		stopped: make(map[string]chan struct{}),
	}
}

// Watch starts (or restarts) draining agentID's outbox directory. It
// performs a full rescan before entering its event loop.
func (w *OutboxWatcher) Watch(ctx context.Context, agentID string) error {
	w.Unwatch(agentID)

	dirs := w.store.AgentDirs(agentID)
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errs.Wrap(err, "create fsnotify watcher")
	}
	if err := fsw.Add(dirs.Outbox); err != nil {
		_ = fsw.Close()
		return errs.NewIOError(dirs.Outbox, err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	w.mu.Lock()
	w.cancel[agentID] = cancel
	w.stopped[agentID] = done
	w.mu.Unlock()

	// Drain anything already present before entering the event loop.
	w.rescan(watchCtx, agentID, dirs.Outbox)

	go w.loop(watchCtx, fsw, agentID, dirs.Outbox, done)
	return nil
}

// Unwatch stops the watcher for agentID and releases its OS-level watch,
// returning once the loop has actually exited.
func (w *OutboxWatcher) Unwatch(agentID string) {
	w.mu.Lock()
	cancel, ok := w.cancel[agentID]
	done := w.stopped[agentID]
	delete(w.cancel, agentID)
	delete(w.stopped, agentID)
	w.mu.Unlock()

	if !ok {
		return
	}
	cancel()
	<-done
}

// rescan lists the outbox directory and processes every file currently
// present, in FIFO order.
func (w *OutboxWatcher) rescan(ctx context.Context, agentID, outboxDir string) {
	files, err := w.store.List(outboxDir)
	if err != nil {
		return
	}
	for _, f := range files {
		w.process(ctx, agentID, f)
	}
}

// loop is the per-agent watch goroutine; it debounces per-path events and
// terminates within ~1s of ctx cancellation, closing fsw first.
func (w *OutboxWatcher) loop(ctx context.Context, fsw *fsnotify.Watcher, agentID, outboxDir string, done chan struct{}) {
	defer close(done)
	defer fsw.Close()

	pending := make(map[string]*time.Timer)
	fire := make(chan string, 64)

	defer func() {
		for _, t := range pending {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Dir(ev.Name) != outboxDir {
				continue
			}
			path := ev.Name
			if t, exists := pending[path]; exists {
				t.Stop()
			}
			pending[path] = time.AfterFunc(debounceWindow, func() {
				select {
				case fire <- path:
				default:
				}
			})

		case path := <-fire:
			delete(pending, path)
			w.process(ctx, agentID, path)

		case _, ok := <-fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

// process handles one outbox file: parse (poisoning on failure), move into
// the orchestrator-owned inflight spool, route, then remove the inflight
// copy. A crash between the inflight rename and its removal is recovered
// by the orchestrator's startup inflight scan.
func (w *OutboxWatcher) process(ctx context.Context, agentID, path string) {
	m, err := w.store.Peek(path)
	if err != nil {
		// The rescan and a buffered fsnotify event can race on the same
		// file; whichever runs second sees it already gone.
		if errs.Is(err, fs.ErrNotExist) {
			return
		}
		w.bus.Publish(eventbus.TopicMailFailed, err)
		return
	}

	inflightPath, err := w.store.MoveToInflight(path, agentID)
	if err != nil {
		if errs.Is(err, fs.ErrNotExist) {
			return
		}
		w.bus.Publish(eventbus.TopicMailFailed, err)
		return
	}

	w.deliver(ctx, m)

	_ = w.store.RemoveInflight(inflightPath)
}

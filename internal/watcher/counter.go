package watcher

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/beehive-labs/swarm-orchestrator/internal/eventbus"
	"github.com/beehive-labs/swarm-orchestrator/internal/mailstore"
)

// coalesceWindow is how often the Inbox Counter's single timer flushes a
// dirty snapshot to mail:counts; the counter runs one timer total, not one
// per node.
const coalesceWindow = 150 * time.Millisecond

// NodeCounts is the queue-depth snapshot for one node.
type NodeCounts struct {
	Inbox      int  `json:"inbox"`
	Outbox     int  `json:"outbox"`
	Processing bool `json:"processing"`
}

type nodeState struct {
	inbox   atomic.Int64
	outbox  atomic.Int64
	running atomic.Bool
}

func (n *nodeState) snapshot() NodeCounts {
	inbox := n.inbox.Load()
	return NodeCounts{
		Inbox:      int(inbox),
		Outbox:     int(n.outbox.Load()),
		Processing: n.running.Load() && inbox > 0,
	}
}

// Counter maintains a real-time queue-depth snapshot per node, updated
// incrementally on inbox/outbox filesystem arrivals and departures.
type Counter struct {
	bus *eventbus.Bus

	mu     sync.Mutex
	nodes  map[string]*nodeState
	cancel map[string]context.CancelFunc
	dirty  atomic.Bool

	stopTicker context.CancelFunc
}

// NewCounter creates a Counter publishing coalesced mail:counts events on
// bus, and starts its single coalescing timer.
func NewCounter(bus *eventbus.Bus) *Counter {
	c := &Counter{
		bus:    bus,
		nodes:  make(map[string]*nodeState),
		cancel: make(map[string]context.CancelFunc),
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.stopTicker = cancel
	go c.coalesceLoop(ctx)
	return c
}

// Stop halts the coalescing timer and every per-node watch.
func (c *Counter) Stop() {
	c.stopTicker()
	c.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(c.cancel))
	for _, cancel := range c.cancel {
		cancels = append(cancels, cancel)
	}
	c.cancel = make(map[string]context.CancelFunc)
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// SetRunning records whether nodeID's agent is currently running, which
// feeds the Processing bit of its snapshot ("running and inbox
// non-empty").
func (c *Counter) SetRunning(nodeID string, running bool) {
	c.state(nodeID).running.Store(running)
	c.markDirty()
}

// Watch begins tracking inbox/outbox arrivals for nodeID, seeding counts
// from an initial scan, mirroring the Outbox Watcher's startup rescan.
func (c *Counter) Watch(ctx context.Context, store *mailstore.Store, nodeID, inboxDir, outboxDir string) error {
	c.Unwatch(nodeID)

	st := c.state(nodeID)

	inboxFiles, _ := store.List(inboxDir)
	outboxFiles, _ := store.List(outboxDir)
	st.inbox.Store(int64(len(inboxFiles)))
	st.outbox.Store(int64(len(outboxFiles)))

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	_ = fsw.Add(inboxDir)
	_ = fsw.Add(outboxDir)

	watchCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel[nodeID] = cancel
	c.mu.Unlock()

	go c.watchLoop(watchCtx, fsw, st, inboxDir, outboxDir)
	c.markDirty()
	return nil
}

// Unwatch stops tracking nodeID.
func (c *Counter) Unwatch(nodeID string) {
	c.mu.Lock()
	cancel, ok := c.cancel[nodeID]
	delete(c.cancel, nodeID)
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

// Snapshot returns the current counts for every tracked node.
func (c *Counter) Snapshot() map[string]NodeCounts {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]NodeCounts, len(c.nodes))
	for id, st := range c.nodes {
		out[id] = st.snapshot()
	}
	return out
}

func (c *Counter) state(nodeID string) *nodeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.nodes[nodeID]
	if !ok {
		st = &nodeState{}
		c.nodes[nodeID] = st
	}
	return st
}

func (c *Counter) markDirty() { c.dirty.Store(true) }

func (c *Counter) coalesceLoop(ctx context.Context) {
	ticker := time.NewTicker(coalesceWindow)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.dirty.Swap(false) {
				c.bus.Publish(eventbus.TopicMailCounts, c.Snapshot())
			}
		}
	}
}

func (c *Counter) watchLoop(ctx context.Context, fsw *fsnotify.Watcher, st *nodeState, inboxDir, outboxDir string) {
	defer fsw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, ".json") {
				continue
			}
			dir := filepath.Dir(ev.Name)
			var counter *atomic.Int64
			switch dir {
			case inboxDir:
				counter = &st.inbox
			case outboxDir:
				counter = &st.outbox
			default:
				continue
			}
			// A rename-in surfaces as Create on the new path; a rename-out
			// surfaces as Rename on the old path, so Rename is a departure.
			switch {
			case ev.Op&fsnotify.Create != 0:
				counter.Add(1)
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				if v := counter.Add(-1); v < 0 {
					counter.Store(0)
				}
			default:
				continue
			}
			c.markDirty()
		case _, ok := <-fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

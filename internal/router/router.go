// Package router implements the Mail Router: the only component
// permitted to call Topology.CanSend. It validates every mail against the
// current topology snapshot, delivers to the recipient's inbox, the human
// inbox, or a mailbox inbox, and otherwise converts the failure into a
// bounce or, for a bounce that cannot itself be delivered, a dead-letter —
// routing never raises an error to its caller.
package router

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/beehive-labs/swarm-orchestrator/internal/eventbus"
	"github.com/beehive-labs/swarm-orchestrator/internal/mail"
	"github.com/beehive-labs/swarm-orchestrator/internal/mailstore"
	"github.com/beehive-labs/swarm-orchestrator/internal/topology"
)

// retryDelays are the bounded backoff delays for inbox-write retries:
// after a failed first attempt, 3 retries follow at 100ms, 500ms, 2s.
var retryDelays = []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 2 * time.Second}

const (
	reasonNoRoute        = "no route from %q to %q"
	reasonDeliveryFailed = "delivery to %q failed after %d attempts: %v"
)

// Router routes mail between agents, mailboxes, and the human node.
type Router struct {
	store *mailstore.Store
	human *mailstore.HumanStore
	bus   *eventbus.Bus
	topo  atomic.Pointer[topology.Topology]
	now   func() time.Time
	sleep func(time.Duration)
}

// New creates a Router backed by store (agent/mailbox per-file queues),
// human (the human node's array store), topo (the initial topology
// snapshot), and bus (for mail:* event publication).
func New(store *mailstore.Store, human *mailstore.HumanStore, topo *topology.Topology, bus *eventbus.Bus) *Router {
	r := &Router{
		store: store,
		human: human,
		bus:   bus,
		now:   time.Now,
		sleep: time.Sleep,
	}
	r.topo.Store(topo)
	return r
}

// SetTopology atomically swaps the topology snapshot the Router consults.
// Callers subscribe this to swarm:updated so route() always sees the
// most recently committed graph.
func (r *Router) SetTopology(t *topology.Topology) {
	r.topo.Store(t)
}

// CanSend reports whether from may send to to under the current topology
// snapshot. It exists so the Gateway can synchronously reject mail.send
// with ErrNoRoute without itself calling Topology.CanSend — the
// Router remains the sole caller of that method.
func (r *Router) CanSend(from, to string) bool {
	return r.topo.Load().CanSend(from, to)
}

// Route validates and delivers m, never returning an error: every failure
// becomes a bounce, a dead-letter, or a published event.
func (r *Router) Route(ctx context.Context, m mail.Mail) {
	r.route(ctx, m, 0)
}

// route is the recursive implementation; depth is 0 for ordinary mail and 1
// for a bounce generated from ordinary mail's failure. A bounce's own
// failure at depth 1 goes straight to the dead-letter directory instead of
// generating a further bounce, which would otherwise loop forever.
func (r *Router) route(ctx context.Context, m mail.Mail, depth int) {
	if m.Status == "" {
		m.Status = mail.StatusQueued
	}

	// Topology validation applies to ordinary mail only: a bounce is
	// system-originated and must reach the original sender even though no
	// explicit system->sender edge exists.
	if depth == 0 && !r.topo.Load().CanSend(m.From, m.To) {
		reason := fmt.Sprintf(reasonNoRoute, m.From, m.To)
		r.fail(ctx, m, depth, reason)
		return
	}

	switch {
	case m.To == mail.Human:
		m.Status = mail.StatusDelivered
		if err := r.human.AppendInbox(m); err != nil {
			r.fail(ctx, m, depth, fmt.Sprintf("human inbox append failed: %v", err))
			return
		}
		r.bus.Publish(eventbus.TopicMailReceived, m)

	case mail.IsMailboxID(m.To):
		dirs := r.store.MailboxDirs(mail.MailboxName(m.To))
		r.deliver(ctx, m, depth, dirs.Inbox)

	default:
		dirs := r.store.AgentDirs(m.To)
		r.deliver(ctx, m, depth, dirs.Inbox)
	}
}

// deliver writes m into inboxDir with bounded retry, producing a failure
// bounce (or dead-lettering) on exhaustion.
func (r *Router) deliver(ctx context.Context, m mail.Mail, depth int, inboxDir string) {
	var lastErr error
	for attempt := 0; attempt <= len(retryDelays); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				r.fail(ctx, m, depth, fmt.Sprintf("cancelled while retrying delivery to %q", m.To))
				return
			default:
			}
			r.sleep(retryDelays[attempt-1])
		}

		delivered := m
		delivered.Status = mail.StatusDelivered
		if _, err := r.store.Write(inboxDir, delivered); err != nil {
			lastErr = err
			continue
		}
		r.bus.Publish(eventbus.TopicMailRouted, delivered)
		return
	}

	reason := fmt.Sprintf(reasonDeliveryFailed, m.To, len(retryDelays)+1, lastErr)
	r.bus.Publish(eventbus.TopicMailFailed, m)
	r.fail(ctx, m, depth, reason)
}

// fail converts a routing failure into a bounce (depth 0) or a dead-letter
// (depth 1, a bounce that itself could not be delivered).
func (r *Router) fail(ctx context.Context, original mail.Mail, depth int, reason string) {
	if depth > 0 {
		r.deadletter(original, reason)
		return
	}

	bounce := r.bounce(original, reason)
	r.bus.Publish(eventbus.TopicMailBounced, bounce)
	r.route(ctx, bounce, depth+1)
}

// bounce constructs the system-originated reply mail reporting a delivery
// failure to the original sender.
func (r *Router) bounce(original mail.Mail, reason string) mail.Mail {
	b := mail.New("system", original.From, "Bounced: "+original.Subject, reason, mail.TypeBounce)
	b.Metadata.InReplyTo = original.ID
	b.BounceReason = reason
	b.Timestamp = r.now().UTC()
	return b
}

// deadletter persists a mail that could not be routed anywhere, typically a
// bounce whose own delivery failed.
func (r *Router) deadletter(m mail.Mail, reason string) {
	m.Status = mail.StatusFailed
	if m.BounceReason == "" {
		m.BounceReason = reason
	}
	_, _ = r.store.WriteDeadletter(m)
	r.bus.Publish(eventbus.TopicMailFailed, m)
}

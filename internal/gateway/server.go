// Package gateway implements the External Gateway: the boundary
// surface the canvas editor and external senders talk to. It is the only
// component that converts between wire formats (JSON over HTTP, plus a
// websocket event stream) and the orchestrator's domain types. The route
// table below is a concrete realization of the orchestrator's operation
// surface, expressed as JSON over HTTP on Go 1.22's method+pattern
// ServeMux.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/beehive-labs/swarm-orchestrator/internal/errs"
	"github.com/beehive-labs/swarm-orchestrator/internal/eventbus"
	"github.com/beehive-labs/swarm-orchestrator/internal/logging"
	"github.com/beehive-labs/swarm-orchestrator/internal/mail"
	"github.com/beehive-labs/swarm-orchestrator/internal/mailstore"
	"github.com/beehive-labs/swarm-orchestrator/internal/registry"
	"github.com/beehive-labs/swarm-orchestrator/internal/router"
	"github.com/beehive-labs/swarm-orchestrator/internal/supervisor"
	"github.com/beehive-labs/swarm-orchestrator/internal/watcher"
)

// Server is the External Gateway's HTTP surface.
type Server struct {
	reg     *registry.Registry
	rt      *router.Router
	sup     *supervisor.Supervisor
	counter *watcher.Counter
	store   *mailstore.Store
	human   *mailstore.HumanStore
	bus     *eventbus.Bus
	files   *FileStore
	log     *logging.Logger

	mux *http.ServeMux
}

// New wires a Server against the orchestrator's core components and
// registers every route of the operation surface.
func New(reg *registry.Registry, rt *router.Router, sup *supervisor.Supervisor, counter *watcher.Counter, store *mailstore.Store, human *mailstore.HumanStore, bus *eventbus.Bus, files *FileStore, log *logging.Logger) *Server {
	if log == nil {
		log = logging.NopLogger()
	}
	s := &Server{reg: reg, rt: rt, sup: sup, counter: counter, store: store, human: human, bus: bus, files: files, log: log.WithComponent("gateway"), mux: http.NewServeMux()}
	s.routes()
	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /swarm", s.handleSwarmGet)
	s.mux.HandleFunc("PUT /swarm", s.handleSwarmPut)

	s.mux.HandleFunc("GET /nodes", s.handleNodeList)
	s.mux.HandleFunc("POST /nodes", s.handleNodeAdd)
	s.mux.HandleFunc("DELETE /nodes/{id}", s.handleNodeRemove)
	s.mux.HandleFunc("POST /nodes/{id}/start", s.handleNodeStart)
	s.mux.HandleFunc("POST /nodes/{id}/stop", s.handleNodeStop)
	s.mux.HandleFunc("GET /nodes/{id}/status", s.handleNodeStatus)
	s.mux.HandleFunc("GET /nodes/{id}/hierarchy", s.handleNodeHierarchy)
	s.mux.HandleFunc("GET /nodes/{id}/transcript", s.handleNodeTranscript)
	s.mux.HandleFunc("GET /nodes/{id}/inbox", s.handleNodeInbox)
	s.mux.HandleFunc("GET /nodes/{id}/outbox", s.handleNodeOutbox)

	s.mux.HandleFunc("POST /connections", s.handleConnAdd)
	s.mux.HandleFunc("DELETE /connections", s.handleConnRemove)
	s.mux.HandleFunc("PATCH /connections", s.handleConnSetBidir)

	s.mux.HandleFunc("POST /mail", s.handleMailSend)
	s.mux.HandleFunc("GET /human/inbox", s.handleHumanInbox)
	s.mux.HandleFunc("GET /human/outbox", s.handleHumanOutbox)
	s.mux.HandleFunc("GET /mail/counts", s.handleMailCounts)

	s.mux.HandleFunc("GET /events", s.handleEventsSubscribe)

	s.mux.HandleFunc("POST /files", s.handleFilesUpload)
	s.mux.HandleFunc("GET /files/{id}", s.handleFilesFetch)
	s.mux.HandleFunc("GET /files/{id}/meta", s.handleFilesMeta)
}

// --- swarm.* ---

func (s *Server) handleSwarmGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.Get())
}

func (s *Server) handleSwarmPut(w http.ResponseWriter, r *http.Request) {
	var cfg registry.SwarmConfig
	if !decodeJSON(w, r, &cfg) {
		return
	}
	if err := s.reg.Put(cfg); err != nil {
		writeError(w, err)
		return
	}
	s.sup.RefreshHierarchies()
	writeJSON(w, http.StatusOK, s.reg.Get())
}

// --- node.* ---

type nodeView struct {
	registry.Bee
	Running bool `json:"running"`
}

func (s *Server) handleNodeList(w http.ResponseWriter, r *http.Request) {
	cfg := s.reg.Get()
	out := make([]nodeView, 0, len(cfg.Bees))
	for _, b := range cfg.Bees {
		st, _ := s.sup.Inspect(r.Context(), b.ID)
		out = append(out, nodeView{Bee: b, Running: st.Running})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleNodeAdd(w http.ResponseWriter, r *http.Request) {
	var bee registry.Bee
	if !decodeJSON(w, r, &bee) {
		return
	}
	if err := s.reg.AddBee(bee); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bee)
}

func (s *Server) handleNodeRemove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sup.Stop(r.Context(), id); err != nil && !errs.Is(err, errs.ErrNotFound) {
		writeError(w, err)
		return
	}
	if err := s.reg.RemoveBee(id); err != nil {
		writeError(w, err)
		return
	}
	if err := s.sup.Remove(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNodeStart(w http.ResponseWriter, r *http.Request) {
	if err := s.sup.Start(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleNodeStop(w http.ResponseWriter, r *http.Request) {
	if err := s.sup.Stop(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleNodeStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.sup.Inspect(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleNodeHierarchy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	topo := s.reg.Topology()
	cfg := s.reg.Get()

	names := map[string]string{mail.Human: mail.Human}
	for _, b := range cfg.Bees {
		names[b.ID] = b.Name
	}
	for _, m := range cfg.Mailboxes {
		names[mail.MailboxPrefix+m.Name] = m.Name
	}

	nodeType := func(n string) string {
		switch {
		case n == mail.Human:
			return "human"
		case mail.IsMailboxID(n):
			return "mailbox"
		default:
			return "agent"
		}
	}

	var receives, delegates []supervisor.NeighborRef
	for _, n := range topo.Nodes() {
		if n == id {
			continue
		}
		if topo.CanSend(n, id) {
			receives = append(receives, supervisor.NeighborRef{ID: n, Name: names[n], Type: nodeType(n)})
		}
		if topo.CanSend(id, n) {
			delegates = append(delegates, supervisor.NeighborRef{ID: n, Name: names[n], Type: nodeType(n)})
		}
	}
	writeJSON(w, http.StatusOK, supervisor.HierarchyFile{AgentID: id, ReceivesTasksFrom: receives, CanDelegateTo: delegates})
}

func (s *Server) handleNodeTranscript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	dirs := s.store.AgentDirs(id)
	lines := tailLog(s.store.Fs(), dirs.Logs, 200)
	writeJSON(w, http.StatusOK, map[string]any{"agentId": id, "lines": lines})
}

func (s *Server) handleNodeInbox(w http.ResponseWriter, r *http.Request) {
	dirs := s.store.AgentDirs(r.PathValue("id"))
	s.listMailDir(w, dirs.Inbox)
}

func (s *Server) handleNodeOutbox(w http.ResponseWriter, r *http.Request) {
	dirs := s.store.AgentDirs(r.PathValue("id"))
	s.listMailDir(w, dirs.Outbox)
}

func (s *Server) listMailDir(w http.ResponseWriter, dir string) {
	files, err := s.store.List(dir)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]mail.Mail, 0, len(files))
	for _, f := range files {
		m, err := s.store.Peek(f)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	writeJSON(w, http.StatusOK, out)
}

// --- conn.* ---

type connRequest struct {
	From          string `json:"from"`
	To            string `json:"to"`
	Bidirectional bool   `json:"bidirectional"`
}

func (s *Server) handleConnAdd(w http.ResponseWriter, r *http.Request) {
	var req connRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.reg.AddConnection(req.From, req.To, req.Bidirectional); err != nil {
		writeError(w, err)
		return
	}
	s.sup.RefreshHierarchies()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleConnRemove(w http.ResponseWriter, r *http.Request) {
	var req connRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.reg.RemoveConnection(req.From, req.To, req.Bidirectional); err != nil {
		writeError(w, err)
		return
	}
	s.sup.RefreshHierarchies()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleConnSetBidir(w http.ResponseWriter, r *http.Request) {
	var req connRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.reg.SetBidirectional(req.From, req.To, req.Bidirectional); err != nil {
		writeError(w, err)
		return
	}
	s.sup.RefreshHierarchies()
	w.WriteHeader(http.StatusOK)
}

// --- mail.* / human.* ---

type mailSendRequest struct {
	To          string            `json:"to"`
	Subject     string            `json:"subject"`
	Body        string            `json:"body"`
	Attachments []mail.Attachment `json:"attachments,omitempty"`
}

// handleMailSend implements mail.send: it fails synchronously with
// ErrNoRoute if canSend(human, to) is false, otherwise writes to the human
// outbox and routes.
func (s *Server) handleMailSend(w http.ResponseWriter, r *http.Request) {
	var req mailSendRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if !s.rt.CanSend(mail.Human, req.To) {
		writeError(w, errs.NewRouteError(mail.Human, req.To))
		return
	}

	m := mail.New(mail.Human, req.To, req.Subject, req.Body, mail.TypeHuman)
	m.Attachments = req.Attachments

	if err := s.human.AppendOutbox(m); err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	s.rt.Route(ctx, m)

	writeJSON(w, http.StatusAccepted, m)
}

func (s *Server) handleHumanInbox(w http.ResponseWriter, r *http.Request) {
	mails, err := s.human.ReadInbox()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mails)
}

func (s *Server) handleHumanOutbox(w http.ResponseWriter, r *http.Request) {
	mails, err := s.human.ReadOutbox()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mails)
}

func (s *Server) handleMailCounts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.counter.Snapshot())
}

// --- helpers ---

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, errs.NewValidationError("malformed request body: "+err.Error()))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errs.Is(err, errs.ErrNoRoute):
		status = http.StatusForbidden
	case errs.Is(err, errs.ErrNotFound):
		status = http.StatusNotFound
	case errs.Is(err, errs.ErrAlreadyExists):
		status = http.StatusConflict
	case errs.Is(err, errs.ErrValidation):
		status = http.StatusBadRequest
	case errs.Is(err, errs.ErrBusy):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package ctlplane serves the administrative HTTP API on a unix socket.
package ctlplane

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"grimm.is/procwall/internal/correlator"
	"grimm.is/procwall/internal/dns"
	"grimm.is/procwall/internal/engine"
	"grimm.is/procwall/internal/errors"
	"grimm.is/procwall/internal/logging"
	"grimm.is/procwall/internal/metrics"
)

// SocketMode is the permission of the control socket.
const SocketMode = 0o660

// Daemon exposes the correlator's read-only views.
type Daemon interface {
	Connections() []correlator.ConnectionView
	Pending() []correlator.PendingView
	PendingDepths() correlator.Depths
	Started() time.Time
}

// Rules is the subset of the rule engine the API manages.
type Rules interface {
	Rules() []engine.Rule
	AddRule(ctx context.Context, r engine.Rule) (engine.Rule, error)
	RemoveRule(ctx context.Context, id string) error
	DefaultAction() engine.Verdict
}

// Config locates the socket.
type Config struct {
	Socket string
	Group  string
}

// Deps are the server's collaborators. DNS and Metrics may be nil.
type Deps struct {
	Daemon  Daemon
	Rules   Rules
	DNS     *dns.ReverseTable
	Metrics *metrics.Metrics
	Hub     *Hub
	Logger  *logging.Logger
}

// Status summarizes the daemon.
type Status struct {
	Started       time.Time         `json:"started"`
	Uptime        string            `json:"uptime"`
	Pending       correlator.Depths `json:"pending"`
	Connections   int               `json:"connections"`
	Rules         int               `json:"rules"`
	DefaultAction engine.Verdict    `json:"default_action"`
	DNS           DNSStatus         `json:"dns"`
	Subscribers   int               `json:"subscribers"`
}

// DNSStatus reports reverse table sizes.
type DNSStatus struct {
	Enabled bool `json:"enabled"`
	IPv4    int  `json:"ipv4"`
	IPv6    int  `json:"ipv6"`
}

// Lookup is the answer to a reverse DNS query.
type Lookup struct {
	Address string `json:"address"`
	Domain  string `json:"domain,omitempty"`
	Found   bool   `json:"found"`
}

// Server is the control API.
type Server struct {
	cfg    Config
	deps   Deps
	router *mux.Router
	logger *logging.Logger
}

// NewServer builds the router. Daemon and Rules are required.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Daemon == nil || deps.Rules == nil {
		return nil, errors.New(errors.KindValidation, "control server needs the daemon and the rule engine")
	}
	if deps.Logger == nil {
		deps.Logger = logging.WithComponent("ctlplane")
	}
	if deps.Hub == nil {
		deps.Hub = NewHub(deps.Logger)
	}
	s := &Server{cfg: cfg, deps: deps, router: mux.NewRouter(), logger: deps.Logger}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	r := s.router
	r.HandleFunc("/api/v1/status", s.handleStatus).Methods("GET")
	r.HandleFunc("/api/v1/connections", s.handleConnections).Methods("GET")
	r.HandleFunc("/api/v1/pending", s.handlePending).Methods("GET")
	r.HandleFunc("/api/v1/rules", s.handleListRules).Methods("GET")
	r.HandleFunc("/api/v1/rules", s.handleAddRule).Methods("POST")
	r.HandleFunc("/api/v1/rules/{id}", s.handleDeleteRule).Methods("DELETE")
	r.HandleFunc("/api/v1/dns/{addr}", s.handleLookup).Methods("GET")
	r.Handle("/api/v1/events", s.deps.Hub).Methods("GET")
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics.Handler()).Methods("GET")
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// Hub returns the prompt broadcaster.
func (s *Server) Hub() *Hub { return s.deps.Hub }

// Serve listens on the configured socket until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := s.listen()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("control socket listening", "path", s.cfg.Socket)

	select {
	case err := <-errCh:
		return errors.Wrap(err, errors.KindUnavailable, "control server stopped")
	case <-ctx.Done():
	}

	s.deps.Hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.WithError(err).Warn("control server shutdown")
	}
	os.Remove(s.cfg.Socket)
	if err := <-errCh; err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) listen() (net.Listener, error) {
	path := s.cfg.Socket
	if path == "" {
		return nil, errors.New(errors.KindValidation, "control socket path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Attr(errors.Wrap(err, errors.KindUnavailable, "failed to create socket directory"), "path", path)
	}
	// A previous instance may have left its socket behind.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, errors.Attr(errors.Wrap(err, errors.KindUnavailable, "failed to remove stale socket"), "path", path)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, errors.Attr(errors.Wrap(err, errors.KindUnavailable, "failed to listen on control socket"), "path", path)
	}
	if err := os.Chmod(path, SocketMode); err != nil {
		ln.Close()
		return nil, errors.Attr(errors.Wrap(err, errors.KindUnavailable, "failed to set socket mode"), "path", path)
	}
	if s.cfg.Group != "" {
		if err := chownGroup(path, s.cfg.Group); err != nil {
			ln.Close()
			return nil, err
		}
	}
	return ln, nil
}

func chownGroup(path, group string) error {
	g, err := user.LookupGroup(group)
	if err != nil {
		return errors.Attr(errors.Wrap(err, errors.KindValidation, "unknown control group"), "group", group)
	}
	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		return errors.Attr(errors.Wrap(err, errors.KindInternal, "invalid group id"), "group", group)
	}
	if err := os.Chown(path, -1, gid); err != nil {
		return errors.Attr(errors.Wrap(err, errors.KindPermission, "failed to chown control socket"), "group", group)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	started := s.deps.Daemon.Started()
	st := Status{
		Started:       started,
		Uptime:        time.Since(started).Round(time.Second).String(),
		Pending:       s.deps.Daemon.PendingDepths(),
		Connections:   len(s.deps.Daemon.Connections()),
		Rules:         len(s.deps.Rules.Rules()),
		DefaultAction: s.deps.Rules.DefaultAction(),
		Subscribers:   s.deps.Hub.Subscribers(),
	}
	if s.deps.DNS != nil {
		st.DNS.Enabled = true
		st.DNS.IPv4, st.DNS.IPv6 = s.deps.DNS.Len()
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Daemon.Connections())
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Daemon.Pending())
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Rules.Rules())
}

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var rule engine.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	added, err := s.deps.Rules.AddRule(r.Context(), rule)
	if err != nil {
		writeError(w, statusFor(err), "Failed to add rule", err)
		return
	}
	s.logger.Info("rule added", "id", added.ID, "action", added.Action, "persistent", added.Persistent)
	writeJSON(w, http.StatusCreated, added)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.deps.Rules.RemoveRule(r.Context(), id); err != nil {
		writeError(w, statusFor(err), "Failed to remove rule", err)
		return
	}
	s.logger.Info("rule removed", "id", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "id": id})
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["addr"]
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid address", err)
		return
	}
	if s.deps.DNS == nil {
		writeError(w, http.StatusNotFound, "DNS snooping is disabled", nil)
		return
	}
	res := Lookup{Address: addr.String()}
	res.Domain, res.Found = s.deps.DNS.Lookup(addr)
	writeJSON(w, http.StatusOK, res)
}

func statusFor(err error) int {
	switch errors.GetKind(err) {
	case errors.KindValidation:
		return http.StatusBadRequest
	case errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindConflict:
		return http.StatusConflict
	case errors.KindPermission:
		return http.StatusForbidden
	case errors.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]interface{}{
		"error":  message,
		"status": status,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	writeJSON(w, status, response)
}

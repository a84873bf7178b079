// ABOUTME: Stub generation backend serving the HTTP and channel contract behind a chi router.
// ABOUTME: Simulates generation stages and executions with configurable timing and fault injection.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/2389-research/conductor/channel"
)

// SocketPath is where the channel endpoint is mounted.
const SocketPath = "/ws"

// Defaults applied to zero Config fields.
const (
	DefaultAddr       = "127.0.0.1:8089"
	DefaultStageDelay = 400 * time.Millisecond
	DefaultExecDelay  = 500 * time.Millisecond
)

// Config holds the stub backend settings. Zero durations use the defaults.
type Config struct {
	Addr string // listen address (default: DefaultAddr)

	// StageDelay is the pause before each progress event.
	StageDelay time.Duration
	// JoinTimeout is how long a generation waits for a room listener
	// before pushing events anyway.
	JoinTimeout time.Duration
	// ExecDelay is the pause between a run ack and its execution event.
	ExecDelay time.Duration

	// FailMarker in a prompt makes the generation end with project_failed.
	FailMarker string
	// ServerMarker in a prompt makes the project run as a long-lived server.
	ServerMarker string
	// ErrorMarker in a prompt makes every execution end with execution_error.
	ErrorMarker string

	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.StageDelay <= 0 {
		c.StageDelay = DefaultStageDelay
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 5 * time.Second
	}
	if c.ExecDelay <= 0 {
		c.ExecDelay = DefaultExecDelay
	}
	if c.FailMarker == "" {
		c.FailMarker = "[fail]"
	}
	if c.ServerMarker == "" {
		c.ServerMarker = "[server]"
	}
	if c.ErrorMarker == "" {
		c.ErrorMarker = "[crash]"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Server is the stub backend. It implements http.Handler.
type Server struct {
	cfg    Config
	store  *Store
	hub    *hub
	router chi.Router
	logger *slog.Logger

	upgrader websocket.Upgrader

	failStop    atomic.Bool
	failRunning atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a stub backend.
func New(cfg Config) *Server {
	cfg.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:    cfg,
		store:  NewStore(),
		logger: cfg.Logger.With("component", "devserver"),
		ctx:    ctx,
		cancel: cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.hub = newHub(s.logger)
	s.router = s.buildRouter()
	return s
}

// ServeHTTP delegates to the chi router, satisfying http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Store exposes the project store for inspection.
func (s *Server) Store() *Store {
	return s.store
}

// ListenAndServe serves on the configured address until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		s.Close()
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close stops simulated work and drops every socket.
func (s *Server) Close() {
	s.cancel()
	s.hub.closeAll()
	s.wg.Wait()
}

// SetFailStop makes /stop respond 500 while enabled.
func (s *Server) SetFailStop(fail bool) { s.failStop.Store(fail) }

// SetFailRunning makes /projects/running respond 503 while enabled.
func (s *Server) SetFailRunning(fail bool) { s.failRunning.Store(fail) }

// DropConnections closes every open socket and returns how many there were.
func (s *Server) DropConnections() int { return s.hub.closeAll() }

// Connections reports the number of open sockets.
func (s *Server) Connections() int { return s.hub.size() }

// SetRunning marks a project running or not, as if changed out of band.
func (s *Server) SetRunning(projectID string, running bool) bool {
	_, ok := s.store.Update(projectID, func(p *Project) { p.Running = running })
	return ok
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get(SocketPath, s.handleSocket)
	r.Post("/generate", s.handleGenerate)

	r.Route("/projects", func(r chi.Router) {
		r.Get("/running", s.handleRunning)
		r.Get("/history", s.handleHistory)
		r.Route("/{projectID}", func(r chi.Router) {
			r.Post("/run", s.handleRun)
			r.Post("/stop", s.handleStop)
		})
	})
	return r
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

type runningEntry struct {
	ProjectID string `json:"project_id"`
}

type runResponse struct {
	RunMethod string `json:"run_method"`
	Message   string `json:"message,omitempty"`
	URL       string `json:"url,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p, err := s.store.Create(req.Prompt)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Info("generation started", "project_id", p.ID)
	s.spawn(func(ctx context.Context) { s.generate(ctx, p) })
	writeJSON(w, http.StatusOK, map[string]string{"project_id": p.ID})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	p, ok := s.store.Get(projectID)
	if !ok {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	if p.Status != StatusCompleted {
		writeError(w, http.StatusConflict, "project is not ready to run")
		return
	}

	method := "script"
	if containsMarker(p.Prompt, s.cfg.ServerMarker) {
		method = "server"
	}
	var already bool
	p, _ = s.store.Update(projectID, func(p *Project) {
		already = p.Running
		p.Running = true
		p.RunMethod = method
	})
	if already {
		writeError(w, http.StatusConflict, "project is already running")
		return
	}

	resp := runResponse{RunMethod: method, Message: "running generated script"}
	if method == "server" {
		resp.Message = "starting application server"
	}
	s.spawn(func(ctx context.Context) { s.execute(ctx, p) })
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if s.failStop.Load() {
		writeError(w, http.StatusInternalServerError, "failed to stop project")
		return
	}
	if _, ok := s.store.Update(projectID, func(p *Project) { p.Running = false }); !ok {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleRunning(w http.ResponseWriter, r *http.Request) {
	if s.failRunning.Load() {
		writeError(w, http.StatusServiceUnavailable, "running list unavailable")
		return
	}
	ids := s.store.Running()
	out := make([]runningEntry, 0, len(ids))
	for _, id := range ids {
		out = append(out, runningEntry{ProjectID: id})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.List())
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("socket upgrade failed", "error", err)
		return
	}
	c := &conn{ws: ws}
	s.hub.add(c)
	defer func() {
		s.hub.remove(c)
		_ = ws.Close()
	}()

	for {
		var f channel.Frame
		if err := ws.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("socket read ended", "error", err)
			}
			return
		}
		switch f.Event {
		case channel.CommandJoinProject:
			var d channel.JoinProjectData
			if err := json.Unmarshal(f.Data, &d); err != nil || d.ProjectID == "" {
				s.logger.Debug("bad join_project", "data", string(f.Data))
				continue
			}
			s.hub.join(c, d.ProjectID)
		default:
			s.logger.Debug("unknown socket command", "event", f.Event)
		}
	}
}

// spawn runs simulated work that Close waits for.
func (s *Server) spawn(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

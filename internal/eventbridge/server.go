package eventbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kingrea/cadence/internal/engine"
	"github.com/kingrea/cadence/internal/transition"
)

// ServerStatus reports runtime lifecycle states for the HTTP server.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusDraining ServerStatus = "draining"
)

// ErrServerDisabled is returned by Start when settings disable the bridge.
var ErrServerDisabled = errors.New("eventbridge: server disabled")

// Server exposes an engine over HTTP: progress and transition reads,
// control commands, and a server-sent event stream.
type Server struct {
	settings   Settings
	controller Controller
	router     *Router
	logger     Logger
	clock      func() time.Time

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	status    ServerStatus
	startTime time.Time
	done      chan struct{}
}

// Option customizes server construction.
type Option func(*Server)

// WithController sets the engine the server drives.
func WithController(c Controller) Option {
	return func(s *Server) {
		if c != nil {
			s.controller = c
		}
	}
}

// WithRouter sets the router feeding /events.
func WithRouter(r *Router) Option {
	return func(s *Server) {
		if r != nil {
			s.router = r
		}
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewServer prepares a bridge server using the provided settings.
func NewServer(settings Settings, opts ...Option) *Server {
	s := &Server{
		settings: settings,
		logger:   nopLogger{},
		clock:    func() time.Time { return time.Now().UTC() },
		status:   StatusStarting,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.router == nil {
		s.router = NewRouter(RouterWithSubscriberCapacity(settings.Buffer), RouterWithLogger(s.logger))
	}
	return s
}

// Router returns the router feeding /events.
func (s *Server) Router() *Router {
	return s.router
}

// Handler returns the bridge routes without binding a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/progress", s.handleProgress)
	mux.HandleFunc("/transition", s.handleTransition)
	mux.HandleFunc("/commands", s.handleCommands)
	mux.HandleFunc("/events", s.handleEvents)
	return mux
}

// Start binds the TCP listener and begins serving HTTP traffic.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("eventbridge: server is nil")
	}
	if !s.settings.Enabled {
		return ErrServerDisabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("eventbridge: server already started")
	}
	addr := s.settings.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("eventbridge: listen %s: %w", addr, err)
	}
	s.listener = listener
	s.startTime = s.clock()
	s.done = make(chan struct{})
	server := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.settings.ReadTimeout,
		WriteTimeout: s.settings.WriteTimeout,
		IdleTimeout:  s.settings.IdleTimeout,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	s.status = StatusReady
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("eventbridge: serve error: %v", err)
		}
	}()
	s.logger.Printf("eventbridge: listening on %s", listener.Addr().String())
	return nil
}

// Run starts the server and blocks until ctx is cancelled, then shuts down.
// A disabled bridge blocks without listening.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		if errors.Is(err, ErrServerDisabled) {
			<-ctx.Done()
			return nil
		}
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown ends event streams, stops accepting new connections and waits
// for in-flight requests to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	server := s.server
	if s.listener == nil || server == nil {
		s.mu.Unlock()
		return nil
	}
	s.status = StatusDraining
	close(s.done)
	s.listener = nil
	s.server = nil
	s.mu.Unlock()
	// Handlers take s.mu, so the drain runs unlocked.
	deadline := ctx
	if deadline == nil {
		var cancel context.CancelFunc
		deadline, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	return server.Shutdown(deadline)
}

// Addr returns the bound TCP address once the server has started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// BaseURL returns the HTTP base URL (scheme + host:port) for the running server.
func (s *Server) BaseURL() string {
	addr := s.Addr()
	if addr == "" {
		return s.settings.URL()
	}
	return "http://" + addr
}

// Status reports the server's lifecycle state.
func (s *Server) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Server) uptimeSeconds() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return int64(s.clock().Sub(s.startTime).Seconds())
}

func (s *Server) stopped() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.done
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	resp := healthResponse{
		Status:        string(s.Status()),
		Version:       ProtocolVersion,
		RouterReady:   s.router != nil,
		UptimeSeconds: s.uptimeSeconds(),
		Subscribers:   s.router.Subscribers(),
	}
	if s.controller != nil {
		resp.RoutineID = s.controller.Snapshot().RoutineID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	if s.controller == nil {
		writeError(w, http.StatusServiceUnavailable, "no engine attached")
		return
	}
	writeJSON(w, http.StatusOK, progressFrom(s.controller.Snapshot()))
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	if s.controller == nil {
		writeError(w, http.StatusServiceUnavailable, "no engine attached")
		return
	}
	current, ok := s.controller.Transition()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, current)
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	if s.controller == nil {
		writeError(w, http.StatusServiceUnavailable, "no engine attached")
		return
	}
	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "empty body")
		return
	}
	reader := http.MaxBytesReader(w, r.Body, s.settings.MaxBodyBytes)
	defer reader.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload exceeds limit")
			return
		}
		writeError(w, http.StatusBadRequest, "unable to read body")
		return
	}
	var cmd Command
	if err := json.Unmarshal(body, &cmd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	cmd.Normalize()
	if err := cmd.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := Execute(s.controller, cmd); err != nil {
		s.logger.Printf("eventbridge: command %s: %v", cmd.Action, err)
		writeError(w, commandStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{
		Status:   "ok",
		Action:   cmd.Action,
		Progress: progressFrom(s.controller.Snapshot()),
	})
}

func commandStatus(err error) int {
	switch {
	case errors.Is(err, transition.ErrAcknowledgementRequired), errors.Is(err, errNoTransition):
		return http.StatusConflict
	case errors.Is(err, transition.ErrUnknownRequest):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidStepIndex), errors.Is(err, engine.ErrEmptyRoutine):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// handleEvents streams router events as text/event-stream until the client
// goes away or the server shuts down.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	rc := http.NewResponseController(w)
	// Streams outlive the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	sub := s.router.Subscribe(r.URL.Query().Get("routine"))
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.logger.Printf("eventbridge: stream flush unsupported: %v", err)
		return
	}

	heartbeat := s.settings.Heartbeat
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	done := s.stopped()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
		case evt, ok := <-sub.Events:
			if !ok {
				return
			}
			if err := writeSSE(w, evt); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeSSE(w io.Writer, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.Sequence, evt.Type, data)
	return err
}

func allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

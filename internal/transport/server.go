// Package transport provides the WebSocket server that connects callers to
// the agent.
//
// The server exposes four routes on one mux:
//
//   - /ws       — WebSocket endpoint; each accepted connection becomes a
//     [Client] with a unique ID.
//   - /healthz  — liveness probe; always 200 once the server runs.
//   - /readyz   — readiness probe; 200 only when all registered [Checker]
//     functions pass.
//   - /metrics  — Prometheus scrape endpoint.
//
// Inbound WebSocket frames are JSON audio envelopes (see
// [audio.ParseAudioMessage]); malformed frames are dropped with a logged
// diagnostic, never a closed connection.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voxlead-ai/voxlead/internal/observe"
	"github.com/voxlead-ai/voxlead/pkg/audio"
)

const shutdownTimeout = 10 * time.Second

// Checker is a named readiness check. Check must respect context
// cancellation and return nil when the dependency is healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Option is a functional option for configuring a Server.
type Option func(*Server)

// WithMetrics sets the metrics instance used by the HTTP middleware and the
// session gauge. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithChecker registers a readiness check evaluated on every /readyz request.
func WithChecker(c Checker) Option {
	return func(s *Server) { s.checkers = append(s.checkers, c) }
}

// WithTLS serves HTTPS using the given certificate and key files.
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) {
		s.certFile = certFile
		s.keyFile = keyFile
	}
}

// Server accepts WebSocket clients and hands their audio frames to the
// registered handlers. Create with [New], then register handlers before
// calling [Server.Run].
type Server struct {
	addr     string
	logger   *slog.Logger
	metrics  *observe.Metrics
	checkers []Checker

	certFile string
	keyFile  string

	mu           sync.Mutex
	clients      map[string]*Client
	onConnect    func(*Client)
	onAudio      func(*Client, []byte)
	onDisconnect func(*Client)
}

// New creates a Server listening on addr. A nil logger uses [slog.Default].
func New(addr string, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:    addr,
		logger:  logger.With("component", "transport"),
		clients: make(map[string]*Client),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// OnConnect registers the handler invoked after a client completes the
// WebSocket handshake. Replaces any previously registered handler.
func (s *Server) OnConnect(h func(*Client)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnect = h
}

// OnAudio registers the handler invoked with the decoded PCM payload of each
// audio envelope a client sends. Replaces any previously registered handler.
func (s *Server) OnAudio(h func(*Client, []byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAudio = h
}

// OnDisconnect registers the handler invoked after a client's connection
// closes, for any reason. Replaces any previously registered handler.
func (s *Server) OnDisconnect(h func(*Client)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisconnect = h
}

// Handler returns the server's route mux wrapped in the observability
// middleware. Exposed so tests can serve it without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(s.metrics)(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully, closing all
// client connections. It returns the first serve error, or nil on clean
// shutdown.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if s.certFile != "" {
			err = srv.ListenAndServeTLS(s.certFile, s.keyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("transport: serve: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		s.closeAllClients()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("transport: shutdown: %w", err)
		}
		return nil
	})

	s.logger.Info("transport listening", "addr", s.addr, "tls", s.certFile != "")
	return g.Wait()
}

// Clients returns a snapshot of the currently connected clients.
func (s *Server) Clients() []*Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	return out
}

// handleWS upgrades the request and runs the client's read loop until the
// connection drops.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // origin policy is the deployment proxy's concern
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	client := &Client{
		id:     uuid.NewString(),
		remote: r.RemoteAddr,
		conn:   conn,
	}

	s.mu.Lock()
	s.clients[client.id] = client
	onConnect := s.onConnect
	s.mu.Unlock()

	s.metrics.ActiveSessions.Add(r.Context(), 1)
	s.logger.Info("client connected", "client", client.id, "remote", client.remote)

	if onConnect != nil {
		onConnect(client)
	}

	s.readLoop(r.Context(), client)

	s.mu.Lock()
	delete(s.clients, client.id)
	onDisconnect := s.onDisconnect
	s.mu.Unlock()

	s.metrics.ActiveSessions.Add(context.Background(), -1)
	s.logger.Info("client disconnected", "client", client.id)

	if onDisconnect != nil {
		onDisconnect(client)
	}
}

// readLoop consumes frames until the connection closes. Each well-formed
// audio envelope is decoded and handed to the audio handler; everything else
// is dropped.
func (s *Server) readLoop(ctx context.Context, client *Client) {
	defer client.conn.Close(websocket.StatusNormalClosure, "")

	for {
		typ, data, err := client.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				s.logger.Debug("client read ended", "client", client.id, "err", err)
			}
			return
		}
		if typ != websocket.MessageText {
			s.logger.Debug("dropping non-text frame", "client", client.id, "type", typ)
			continue
		}

		pcm := audio.ParseAudioMessage(data)
		if pcm == nil {
			continue
		}

		s.metrics.AudioChunks.Add(ctx, 1)

		s.mu.Lock()
		onAudio := s.onAudio
		s.mu.Unlock()
		if onAudio != nil {
			onAudio(client, pcm)
		}
	}
}

// closeAllClients closes every connected client with a going-away status.
func (s *Server) closeAllClients() {
	for _, c := range s.Clients() {
		_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

// ── health endpoints ─────────────────────────────────────────────────────────

// healthResult is the JSON response body for health endpoints.
type healthResult struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// handleHealthz is a liveness probe. A running process that can serve HTTP
// is considered alive.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResult{Status: "ok"})
}

// handleReadyz evaluates every registered [Checker] sequentially and returns
// 200 only when all pass.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.checkers))
	allOK := true

	for _, c := range s.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := healthResult{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}

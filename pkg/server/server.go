package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/syncline-dev/syncline/pkg/protocol"
)

// Server exposes a Manager over HTTP: the /sync WebSocket endpoint plus
// health and metrics.
type Server struct {
	manager    *Manager
	config     *ServerConfig
	upgrader   websocket.Upgrader
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a server for the given session manager.
func New(manager *Manager, config *ServerConfig) *Server {
	if config == nil {
		config = DefaultServerConfig()
	} else {
		defaults := DefaultServerConfig()
		if config.Address == "" {
			config.Address = defaults.Address
		}
		if config.ReadBufferSize == 0 {
			config.ReadBufferSize = defaults.ReadBufferSize
		}
		if config.WriteBufferSize == 0 {
			config.WriteBufferSize = defaults.WriteBufferSize
		}
		if config.CheckOrigin == nil {
			config.CheckOrigin = defaults.CheckOrigin
		}
		if config.ReadHeaderTimeout == 0 {
			config.ReadHeaderTimeout = defaults.ReadHeaderTimeout
		}
		if config.ShutdownTimeout == 0 {
			config.ShutdownTimeout = defaults.ShutdownTimeout
		}
	}

	s := &Server{
		manager: manager,
		config:  config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    config.ReadBufferSize,
			WriteBufferSize:   config.WriteBufferSize,
			CheckOrigin:       config.CheckOrigin,
			EnableCompression: config.EnableCompression,
		},
		logger: slog.Default().With("component", "server"),
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/sync", s.handleSync)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:              config.Address,
		Handler:           r,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	return s
}

// Manager returns the server's session manager.
func (s *Server) Manager() *Manager {
	return s.manager
}

// Handler returns the server's HTTP handler, for mounting under an outer
// router or for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// handleSync upgrades the connection and runs the handshake: the first
// message must be a hello, answered with a welcome plus either a delta
// replay or a snapshot.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	hello, err := s.readHello(conn)
	if err != nil {
		s.logger.Warn("handshake failed", "error", err, "remote", r.RemoteAddr)
		conn.WriteMessage(websocket.TextMessage,
			protocol.EncodeErrorMessage(protocol.NewFatalError(protocol.ErrCodeBadMessage, "expected hello")))
		conn.Close()
		return
	}

	if _, err := s.manager.Handshake(conn, hello); err != nil {
		s.logger.Warn("session rejected", "error", err, "remote", r.RemoteAddr)
		code := protocol.ErrCodeServerError
		if errors.Is(err, ErrMaxSessionsReached) {
			code = protocol.ErrCodeRateLimited
		}
		conn.WriteMessage(websocket.TextMessage,
			protocol.EncodeErrorMessage(protocol.NewFatalError(code, err.Error())))
		conn.Close()
		return
	}
}

// readHello reads and decodes the client's opening message.
func (s *Server) readHello(conn *websocket.Conn) (*protocol.Hello, error) {
	timeout := s.manager.config.Session.HandshakeTimeout
	conn.SetReadDeadline(time.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{})

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	env, err := protocol.Decode(msg)
	if err != nil {
		return nil, err
	}
	if env.Type != protocol.MsgHello {
		return nil, ErrInvalidHandshake
	}
	return protocol.DecodeHello(env.Data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// ListenAndServe starts serving and blocks until the listener fails or
// Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("listening", "address", s.config.Address)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains the HTTP server and shuts the manager down, persisting
// sessions to the backing store when one is configured.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	httpErr := s.httpServer.Shutdown(ctx)
	mgrErr := s.manager.Shutdown(ctx)
	if httpErr != nil {
		return httpErr
	}
	return mgrErr
}

// Run serves until SIGINT or SIGTERM, then shuts down gracefully within
// the configured timeout.
func (s *Server) Run() error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		s.logger.Info("signal received", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

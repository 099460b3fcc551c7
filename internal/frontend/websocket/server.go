// Package websocket serves the gateway protocol over WebSocket: each text
// message carries one command line and each reply is one text message.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	ws "github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/nightraid/internal/config"
	"github.com/cory-johannsen/nightraid/internal/gateway"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Handler serves one client connection until it ends.
type Handler interface {
	Serve(ctx context.Context, conn gateway.Conn) error
}

// Server upgrades HTTP requests on the configured path and hands each
// WebSocket connection to a Handler.
type Server struct {
	cfg     config.WebSocketConfig
	handler Handler
	logger  *zap.Logger

	httpSrv  *http.Server
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// NewServer creates a WebSocket server with the given configuration.
//
// Precondition: cfg must be valid; handler and logger must be non-nil.
// Postcondition: Returns a Server ready to be started with ListenAndServe,
// or mounted directly as an http.Handler.
func NewServer(cfg config.WebSocketConfig, handler Handler, logger *zap.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With(zap.String("transport", "websocket")),
		ctx:     ctx,
		cancel:  cancel,
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, s)
	s.httpSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// ListenAndServe listens on the configured address and serves until Stop is called.
//
// Postcondition: Returns nil after Stop, or the listen/serve error.
func (s *Server) ListenAndServe() error {
	start := time.Now()

	listener, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr(), err)
	}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		listener.Close()
		return nil
	}
	s.listener = listener
	s.running = true
	s.mu.Unlock()

	s.logger.Info("websocket server listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("path", s.cfg.Path),
		zap.Duration("startup", time.Since(start)),
	)

	if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving websocket: %w", err)
	}
	return nil
}

// ServeHTTP upgrades the request and runs the connection to completion.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != s.cfg.Path {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	c, err := ws.Accept(w, r, &ws.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		s.logger.Info("websocket upgrade rejected",
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("origin", r.Header.Get("Origin")),
			zap.Error(err),
		)
		return
	}
	c.SetReadLimit(s.cfg.MaxFrameBytes)

	start := time.Now()
	conn := NewConn(c, r.RemoteAddr, s.cfg.WriteTimeout, s.cfg.ReadIdleTimeout)
	defer conn.Close("")

	if err := s.handler.Serve(s.ctx, conn); err != nil {
		s.logger.Debug("connection ended",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return
	}
	s.logger.Debug("connection ended cleanly",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Duration("duration", time.Since(start)),
	)
}

// Stop cancels every open connection so clients receive the shutdown notice,
// shuts the HTTP server down, and waits for connection goroutines to finish.
//
// Postcondition: All connections are closed and goroutines have exited.
func (s *Server) Stop() {
	s.mu.Lock()
	s.cancel()
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Warn("websocket server shutdown", zap.Error(err))
	}
	s.wg.Wait()

	if wasRunning {
		s.logger.Info("websocket server stopped")
	}
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the server is accepting connections.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

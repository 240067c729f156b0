// ABOUTME: HTTP server wiring and lifecycle for stagecast
// ABOUTME: Owns the store handle, the directory and graceful shutdown

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/stagecast/stagecast/internal/config"
	"github.com/stagecast/stagecast/internal/directory"
	"github.com/stagecast/stagecast/internal/store"
)

const shutdownTimeout = 5 * time.Second

// Server hosts the room store API and the public directory
type Server struct {
	config     *config.Config
	logger     *slog.Logger
	store      store.Store
	directory  *directory.Directory
	httpServer *http.Server
}

// New creates a server from configuration. The store is opened here and
// closed by Shutdown; it is the process-wide handle.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	s := newServer(cfg, st, logger)
	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// newServer wires a server around an already-open store (tests use this
// directly with a temp-dir store)
func newServer(cfg *config.Config, st store.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:    cfg,
		logger:    logger.With("component", "server"),
		store:     st,
		directory: directory.New(st, cfg.Directory.PushInterval, logger),
	}
}

// routes builds the HTTP mux for the API boundary
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// Rooms
	mux.HandleFunc("GET /api/rooms", s.directory.HandleList)
	mux.HandleFunc("POST /api/rooms", s.handleCreateRoom)
	mux.HandleFunc("GET /api/rooms/{name}", s.handleGetRoom)
	mux.HandleFunc("PATCH /api/rooms/{name}", s.handleUpdateRoom)
	mux.HandleFunc("DELETE /api/rooms/{name}", s.handleDeleteRoom)
	mux.HandleFunc("POST /api/rooms/{name}/auth", s.handleAuthRoom)

	// VIP codes
	mux.HandleFunc("POST /api/rooms/{name}/codes", s.handleAddCode)
	mux.HandleFunc("GET /api/rooms/{name}/codes", s.handleListCodes)
	mux.HandleFunc("DELETE /api/rooms/{name}/codes/{code}", s.handleDeleteCode)
	mux.HandleFunc("GET /api/codes/{code}", s.handleLookupCode)
	mux.HandleFunc("POST /api/codes/redeem", s.handleRedeem)

	// VIP users
	mux.HandleFunc("POST /api/rooms/{name}/vips", s.handleGrantVIP)
	mux.HandleFunc("GET /api/rooms/{name}/vips", s.handleListVIPs)
	mux.HandleFunc("DELETE /api/rooms/{name}/vips/{user}", s.handleRevokeVIP)

	// Directory push
	mux.HandleFunc("GET /ws/directory", s.directory.HandleSocket)

	return mux
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the
// server fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server, disconnects directory clients and closes
// the store. Safe to call once on every exit path.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	var errs []error
	if s.httpServer != nil {
		errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))
	}

	s.directory.Close()
	errs = appendCloseError(errs, "store close", s.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

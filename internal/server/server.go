// Package server wires storage, the sync service and the HTTP layer into a
// runnable server.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/iudanet/toolsync/internal/server/config"
	"github.com/iudanet/toolsync/internal/server/handlers"
	"github.com/iudanet/toolsync/internal/server/middleware"
	"github.com/iudanet/toolsync/internal/server/service"
	"github.com/iudanet/toolsync/internal/server/storage/sqlite"
)

// Server is the sync HTTP server with its storage.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *sqlite.Storage
	limiter *middleware.RateLimiter
	handler http.Handler
}

// New opens the database, applies migrations and builds the HTTP handler.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	store, err := sqlite.New(ctx, cfg.Database.Path,
		sqlite.WithLogger(logger),
		sqlite.WithBusyTimeout(cfg.Database.BusyTimeout),
		sqlite.WithMaxOpenConns(cfg.Database.MaxOpenConns),
		sqlite.WithSaveRetries(cfg.Database.SaveRetries),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
	if cfg.RateLimit.Enabled {
		proxies, err := cfg.RateLimit.ProxyPrefixes()
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		s.limiter = middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window, logger)
		s.limiter.SetTrustedProxies(proxies)
	}
	s.handler = s.routes()

	return s, nil
}

func (s *Server) routes() http.Handler {
	svc := service.NewSyncService(s.logger, s.store)

	syncHandler := handlers.NewSyncHandler(s.logger, svc)
	syncHandler.SetMaxBodyBytes(s.cfg.Server.MaxBodyBytes)
	healthHandler := handlers.NewHealthHandler(s.logger, s.store)

	protect := func(h http.HandlerFunc) http.Handler { return h }
	if s.cfg.Auth.Enabled() {
		auth := middleware.AuthMiddleware(s.logger, handlers.JWTConfig{
			Secret:         []byte(s.cfg.Auth.JWTSecret),
			AccessTokenTTL: s.cfg.Auth.TokenTTL,
		})
		protect = func(h http.HandlerFunc) http.Handler { return auth(h) }
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthHandler.Health)
	mux.Handle("POST /sync", protect(syncHandler.HandleSyncV1))
	mux.Handle("POST /sync/v2", protect(syncHandler.HandleSyncV2))
	mux.Handle("GET /sync/records", protect(syncHandler.HandleListRecords))
	mux.Handle("GET /sync/records/{id}", protect(syncHandler.HandleGetRecord))
	mux.Handle("GET /sync/snapshots/{revision}", protect(syncHandler.HandleGetSnapshot))
	mux.Handle("POST /sync/rollback", protect(syncHandler.HandleRollback))

	var h http.Handler = mux
	if s.limiter != nil {
		h = s.limiter.Middleware(h)
	}
	h = middleware.RecoveryMiddleware(s.logger)(h)
	h = middleware.LoggingWithSkip(s.logger, []string{"/healthz"})(h)
	h = middleware.RequestID(s.logger)(h)

	return h
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves on the configured address until ctx is cancelled, then shuts
// down gracefully and releases resources.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		s.Close()
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer s.Close()

	// запросы не отменяются вместе с ctx: Shutdown дает им доработать
	baseCtx := context.WithoutCancel(ctx)
	httpServer := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server started", "addr", ln.Addr().String(), "db_path", s.cfg.Database.Path, "auth", s.cfg.Auth.Enabled())
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(baseCtx, s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		_ = httpServer.Close()
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	<-errCh

	s.logger.Info("Server stopped")
	return nil
}

// Close stops the rate limiter and closes the database.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("Failed to close storage", "error", err)
	}
}

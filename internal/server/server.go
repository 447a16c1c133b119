// Package server exposes the HTTP surface: the session REST API, the
// WebSocket endpoint, health, and metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/reviewarcade/server/internal/auth"
	"github.com/reviewarcade/server/internal/config"
	"github.com/reviewarcade/server/internal/events"
	"github.com/reviewarcade/server/internal/limits"
	"github.com/reviewarcade/server/internal/session"
	"github.com/reviewarcade/server/internal/store"
)

// Server wires the registry, store, auth, and admission guards behind one
// http.Server.
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger

	registry *session.Registry
	store    store.Store
	events   events.Publisher
	auth     *auth.Manager
	limiter  *limits.ConnRateLimiter
	guard    *limits.ResourceGuard

	connCount int64
	httpSrv   *http.Server
	upgrader  websocket.Upgrader
}

// New assembles a server. Start must still be called to listen.
func New(cfg *config.Config, logger zerolog.Logger, st store.Store, pub events.Publisher, authMgr *auth.Manager) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logger,
		store:  st,
		events: pub,
		auth:   authMgr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Session codes and player tokens are the access control;
			// browser origin is not.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.registry = session.NewRegistry(cfg.SessionCodeLength, cfg.MaxSessions, st, pub, logger)
	s.limiter = limits.NewConnRateLimiter(cfg.ConnRatePerIP, cfg.ConnBurstPerIP, cfg.ConnRateGlobal, cfg.ConnBurstGlobal, logger)
	s.guard = limits.NewResourceGuard(cfg.CPUThreshold, cfg.MemThreshold, cfg.MaxGoroutines, cfg.MaxConnections, &s.connCount, logger)

	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.withRecovery(s.withLogging(s.routes())),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/reviewarcade/sessions", s.auth.Middleware(s.handleCreateSession))
	mux.HandleFunc("GET /api/reviewarcade/sessions", s.auth.Middleware(s.handleListSessions))
	mux.HandleFunc("GET /api/reviewarcade/sessions/{code}", s.handlePreviewSession)
	mux.HandleFunc("POST /api/reviewarcade/sessions/{code}/join", s.handleJoinSession)
	mux.HandleFunc("POST /api/reviewarcade/sessions/{code}/join-teacher", s.auth.Middleware(s.handleJoinTeacher))
	mux.HandleFunc("GET /api/reviewarcade/sessions/{id}/results", s.auth.Middleware(s.handleSessionResults))
	mux.HandleFunc("GET /api/reviewarcade/banks", s.auth.Middleware(s.handleListBanks))

	mux.HandleFunc("GET /ws/reviewarcade/{code}", s.handleWS)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	return mux
}

// Start begins serving and blocks until the listener closes.
func (s *Server) Start(ctx context.Context) error {
	s.guard.Start(ctx, s.cfg.GuardInterval)
	s.logger.Info().Str("addr", s.cfg.Addr).Msg("server listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown ends all sessions, then drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.registry.Shutdown(ctx)
	s.limiter.Stop()
	return s.httpSrv.Shutdown(ctx)
}

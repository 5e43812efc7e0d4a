package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/authgate/authgate/internal/config"
	"github.com/authgate/authgate/internal/handler"
	"github.com/authgate/authgate/internal/model"
	"github.com/authgate/authgate/internal/ratelimit"
	"github.com/authgate/authgate/internal/server/middleware"
	"github.com/authgate/authgate/internal/service"
	"github.com/authgate/authgate/internal/store"
)

// Server is the top-level HTTP server for authgate. It owns the Chi router
// and the guard chain every request passes through: security headers, CORS,
// rate limiting, then authentication and authorization on the routes that
// need them.
type Server struct {
	cfg        *config.Config
	router     chi.Router
	store      *store.Store
	tokens     *service.TokenService
	resolver   *service.Resolver
	limiter    *ratelimit.Limiter
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg *config.Config, st *store.Store, tokens *service.TokenService, resolver *service.Resolver, limiter *ratelimit.Limiter, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		tokens:   tokens,
		resolver: resolver,
		limiter:  limiter,
		logger:   logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	cookies := middleware.CookiePolicy{
		Domain:        s.cfg.Auth.CookieDomain,
		Secure:        s.cfg.Auth.SecureCookies,
		AccessMaxAge:  s.tokens.AccessTTL(),
		RefreshMaxAge: s.tokens.RefreshTTL(),
	}

	// --- Global middleware, outermost first ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders(s.cfg.Server.TLS.Enabled))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORS.Origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RateLimit(s.limiter, s.routePolicies()))

	// --- Health check (no auth required) ---
	r.Get("/healthz", s.handleHealthz)

	// --- API routes ---
	authHandler := handler.NewAuthHandler(s.store, s.tokens, cookies)
	keyHandler := handler.NewAPIKeyHandler(s.store, s.cfg.Auth.BcryptCost)
	userHandler := handler.NewUserHandler(s.store)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/refresh", authHandler.Refresh)
		r.Post("/auth/logout", authHandler.Logout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(s.resolver, cookies))

			r.Get("/auth/me", authHandler.Me)
			r.Post("/auth/password", authHandler.ChangePassword)

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireRole(model.RoleAdmin))

				r.Get("/users", userHandler.List)
				r.Put("/users/{userID}/role", userHandler.UpdateRole)
				r.Delete("/users/{userID}", userHandler.Delete)

				r.Get("/keys", keyHandler.List)
				r.Post("/keys", keyHandler.Create)
				r.Delete("/keys/{keyID}", keyHandler.Revoke)
			})
		})
	})

	// --- Page routes: session-gated by the route permission matrix. Page
	// rendering belongs to the frontend; the guard only decides whether the
	// navigation may reach it.
	r.With(middleware.PageGuard(s.tokens, s.guardRoutes())).Handle("/*", http.NotFoundHandler())

	s.router = r
}

// routePolicies translates the rate-limit config into the middleware's
// policy set. Auth endpoints get the tight window; credential-changing
// endpoints the tightest.
func (s *Server) routePolicies() middleware.RoutePolicies {
	rl := s.cfg.RateLimit
	return middleware.RoutePolicies{
		General:   ratelimit.Policy{Window: config.Duration(rl.General.Window, time.Minute), Max: rl.General.Max},
		Auth:      ratelimit.Policy{Window: config.Duration(rl.Auth.Window, 15*time.Minute), Max: rl.Auth.Max},
		Sensitive: ratelimit.Policy{Window: config.Duration(rl.Sensitive.Window, time.Hour), Max: rl.Sensitive.Max},
		AuthPaths: map[string]bool{
			"/api/v1/auth/login":    true,
			"/api/v1/auth/register": true,
			"/api/v1/auth/refresh":  true,
		},
		SensitivePaths: map[string]bool{
			"/api/v1/auth/password": true,
		},
	}
}

func (s *Server) guardRoutes() middleware.GuardRoutes {
	public := make(map[string]bool, len(s.cfg.Routes.PublicPaths))
	for _, p := range s.cfg.Routes.PublicPaths {
		public[p] = true
	}
	return middleware.GuardRoutes{
		PublicPaths:       public,
		ProtectedPrefixes: s.cfg.Routes.ProtectedPrefixes,
		Groups:            s.cfg.Routes.Groups,
	}
}

// handleHealthz is a liveness probe. Returns 200 while the store is
// reachable, 503 otherwise.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"degraded"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests before returning.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr, "tls", s.cfg.Server.TLS.Enabled)
		var err error
		if s.cfg.Server.TLS.Enabled {
			err = s.httpServer.ListenAndServeTLS(s.cfg.Server.TLS.CertFile, s.cfg.Server.TLS.KeyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		config.Duration(s.cfg.Server.ShutdownTimeout, 30*time.Second))
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

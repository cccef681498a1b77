package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/snipurl/snipurl/internal/auth"
	"github.com/snipurl/snipurl/internal/config"
	"github.com/snipurl/snipurl/internal/httpx"
	"github.com/snipurl/snipurl/internal/shortener"
)

const limiterEvictInterval = 5 * time.Minute

// Server represents the HTTP server with all dependencies.
type Server struct {
	config   *config.Config
	logger   *slog.Logger
	handler  *shortener.Handler
	verifier *auth.Verifier
	metrics  http.Handler
	limiter  *httpx.RateLimiter
	server   *http.Server
	done     chan struct{}
}

// Options holds the Server dependencies.
type Options struct {
	Config   *config.Config
	Logger   *slog.Logger
	Handler  *shortener.Handler
	Verifier *auth.Verifier
	Metrics  http.Handler
}

// New creates a new Server instance.
func New(opts Options) *Server {
	s := &Server{
		config:   opts.Config,
		logger:   opts.Logger,
		handler:  opts.Handler,
		verifier: opts.Verifier,
		metrics:  opts.Metrics,
		done:     make(chan struct{}),
	}
	if opts.Config.RateLimit.Enabled {
		s.limiter = httpx.NewRateLimiter(opts.Config.RateLimit.RPS, opts.Config.RateLimit.Burst)
	}
	return s
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	mux := s.setupRoutes()
	handler := s.applyMiddleware(mux)
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Server.Host, s.config.Server.Port),
		Handler:      handler,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	if s.limiter != nil {
		go s.evictLoop()
	}

	// Listen for errors from the server
	serverErrors := make(chan error, 1)

	// Start server in a goroutine
	go func() {
		s.logger.Info("starting http server",
			"addr", s.server.Addr,
			"env", s.config.App.Environment,
		)
		serverErrors <- s.server.ListenAndServe()
	}()

	// Listen for interrupt signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		s.logger.Info("received shutdown signal", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()

		return s.Shutdown(ctx)
	}
}

// setupRoutes configures all HTTP routes. The redirect route is the hot path
// and carries no auth or rate limiting; the management API requires a bearer
// token everywhere except creation, where anonymous use is a deploy choice.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /x/health", s.healthCheckHandler)
	mux.Handle("GET /metrics", s.metrics)

	mux.HandleFunc("GET /{code}", s.handler.Redirect)

	mux.Handle("POST /api/links", s.api(s.verifier.Optional, s.handler.CreateLink))
	mux.Handle("GET /api/links", s.api(s.verifier.Require, s.handler.ListLinks))
	mux.Handle("GET /api/links/{id}", s.api(s.verifier.Require, s.handler.GetLink))
	mux.Handle("PATCH /api/links/{id}", s.api(s.verifier.Require, s.handler.UpdateLink))
	mux.Handle("DELETE /api/links/{id}", s.api(s.verifier.Require, s.handler.DeleteLink))
	mux.Handle("GET /api/links/{id}/analytics", s.api(s.verifier.Require, s.handler.LinkAnalytics))
	mux.Handle("GET /api/analytics", s.api(s.verifier.Require, s.handler.OwnerAnalytics))

	return mux
}

// api wraps a management endpoint with rate limiting and the given auth
// middleware.
func (s *Server) api(authMW func(http.Handler) http.Handler, h http.HandlerFunc) http.Handler {
	handler := authMW(h)
	if s.limiter != nil {
		handler = s.limiter.Middleware()(handler)
	}
	return handler
}

// applyMiddleware wraps the handler with middleware in the correct order.
func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	return httpx.Chain(
		httpx.Recovery(s.logger), // Outermost: catch panics
		httpx.RequestID,          // Add request ID
		httpx.Logger(s.logger),   // Log requests
		httpx.StripSlashes,       // "/api/links/" routes like "/api/links"
		httpx.CORS(nil),          // CORS headers (allow all in dev)
	)(handler)
}

// healthCheckHandler handles health check requests.
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"env":    s.config.App.Environment,
	})
}

func (s *Server) evictLoop() {
	ticker := time.NewTicker(limiterEvictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.limiter.Evict(limiterEvictInterval); n > 0 {
				s.logger.Debug("evicted idle rate limiter buckets", "count", n)
			}
		case <-s.done:
			return
		}
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}

	if s.server == nil {
		return nil
	}

	s.logger.Info("shutting down server")

	if err := s.server.Shutdown(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("shutdown timeout exceeded, forcing close")
			return s.server.Close()
		}
		return err
	}

	return nil
}

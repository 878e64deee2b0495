package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/storefront-studio/internal/auth"
)

const defaultRequestTimeout = 90 * time.Second

type Server struct {
	Router *chi.Mux
	Port   int

	authenticator *auth.Authenticator
	timeout       time.Duration
	logger        *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	closed     bool
}

// New creates a server with the shared middleware stack. Routes are added
// with Mount. A nil or empty authenticator leaves the API open.
func New(port int, logger *slog.Logger, authenticator *auth.Authenticator, timeout time.Duration) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()

	// Apply middleware in order
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	// Wrap with OpenTelemetry HTTP instrumentation
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "storefront-studio")
	})

	return &Server{
		Router:        r,
		Port:          port,
		authenticator: authenticator,
		timeout:       timeout,
		logger:        logger,
	}
}

// Mount registers the health check and h's session API. The API sits behind
// the authenticator; every route except the preview stream also gets the
// request timeout.
func (s *Server) Mount(h *Handler) {
	s.Router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.Router.Route("/v1/sessions", func(r chi.Router) {
		if s.authenticator.Enabled() {
			r.Use(AuthMiddleware(s.authenticator))
		}

		r.Get("/{id}/preview", h.StreamPreview)

		r.Group(func(r chi.Router) {
			r.Use(TimeoutMiddleware(s.timeout))
			h.Routes(r)
		})
	})
}

// Start listens until Shutdown is called. It returns nil after a graceful
// shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.Port),
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("starting server", slog.Int("port", s.Port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.httpServer
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	s.logger.Info("shutting down server")
	return srv.Shutdown(ctx)
}

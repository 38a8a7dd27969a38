// Package server assembles the HTTP surface of the service and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/asvalue/asvalue-auth/auth"
	"github.com/asvalue/asvalue-auth/endpoint"
	"github.com/asvalue/asvalue-auth/middleware"
	"github.com/asvalue/asvalue-auth/profile"
	"github.com/asvalue/asvalue-auth/session"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

const (
	DefaultJanitorInterval = 5 * time.Minute
	DefaultShutdownTimeout = 15 * time.Second
)

// Services are the handlers and managers the server routes to.
type Services struct {
	Auth     *auth.Handler
	Profile  *profile.Handler
	Guard    *middleware.RouteGuard
	Headers  *middleware.SecurityHeaders
	States   *auth.StateManager
	Sessions *session.Manager
	// Ping reports storage health for /healthz. Optional.
	Ping func(ctx context.Context) error
	// Static serves page assets. Optional.
	Static http.Handler
}

// Server routes requests and purges expired state in the background.
type Server struct {
	Services

	logger          zerolog.Logger
	router          chi.Router
	janitorInterval time.Duration
	shutdownTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithJanitorInterval sets how often expired states and sessions are purged.
func WithJanitorInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.janitorInterval = d
		}
	}
}

// WithShutdownTimeout bounds how long Serve waits for in-flight requests.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// New builds the router:
//
//	GET  /healthz
//	*    /auth/...   auth.Handler
//	*    /api/...    profile.Handler
//	*    /...        Static, when set
//
// Every request passes the security headers and the route guard.
func New(logger zerolog.Logger, svc Services, opts ...Option) (*Server, error) {
	if svc.Auth == nil || svc.Profile == nil || svc.Guard == nil || svc.Headers == nil ||
		svc.States == nil || svc.Sessions == nil {
		return nil, errors.New("server: incomplete services")
	}
	s := &Server{
		Services:        svc,
		logger:          logger,
		janitorInterval: DefaultJanitorInterval,
		shutdownTimeout: DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(hlog.NewHandler(logger))
	r.Use(requestIDField)
	r.Use(hlog.AccessHandler(accessLog))
	r.Use(chimw.Recoverer)
	r.Use(svc.Headers.Middleware)
	r.Use(svc.Guard.Middleware)

	r.Get("/healthz", endpoint.HandleFunc(s.health))
	r.Mount("/auth", svc.Auth)
	r.Mount("/api", svc.Profile)
	if svc.Static != nil {
		r.Handle("/*", svc.Static)
	}
	s.router = r
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestIDField adds chi's request id to the request logger.
func requestIDField(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := chimw.GetReqID(r.Context()); id != "" {
			zerolog.Ctx(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("req_id", id)
			})
		}
		next.ServeHTTP(w, r)
	})
}

func accessLog(r *http.Request, status, size int, duration time.Duration) {
	hlog.FromRequest(r).Info().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("request")
}

// Health is the /healthz body.
type Health struct {
	Status string `json:"status"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	if s.Ping != nil {
		if err := s.Ping(r.Context()); err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("health check")
			return &endpoint.JSONRenderer{Status: http.StatusServiceUnavailable, Value: Health{Status: "unavailable"}}, nil
		}
	}
	return &endpoint.JSONRenderer{Value: Health{Status: "ok"}}, nil
}

// Run listens on addr and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
// The janitor runs for the lifetime of the call.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return s.logger.WithContext(context.Background())
		},
	}

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go s.janitor(janitorCtx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) janitor(ctx context.Context) {
	t := time.NewTicker(s.janitorInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Purge(s.logger.WithContext(ctx))
		}
	}
}

// Purge removes used or expired states and expired sessions.
func (s *Server) Purge(ctx context.Context) {
	log := zerolog.Ctx(ctx)
	if n, err := s.States.Purge(ctx); err != nil {
		log.Error().Err(err).Msg("purge oauth states")
	} else if n > 0 {
		log.Debug().Int64("count", n).Msg("purged oauth states")
	}
	if n, err := s.Sessions.Purge(ctx); err != nil {
		log.Error().Err(err).Msg("purge sessions")
	} else if n > 0 {
		log.Debug().Int64("count", n).Msg("purged sessions")
	}
}

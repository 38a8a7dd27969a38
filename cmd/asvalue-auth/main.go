package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asvalue/asvalue-auth/audit"
	"github.com/asvalue/asvalue-auth/auth"
	"github.com/asvalue/asvalue-auth/config"
	"github.com/asvalue/asvalue-auth/middleware"
	"github.com/asvalue/asvalue-auth/profile"
	"github.com/asvalue/asvalue-auth/server"
	"github.com/asvalue/asvalue-auth/session"
	"github.com/asvalue/asvalue-auth/store"
	"github.com/asvalue/asvalue-auth/store/memory"
	"github.com/asvalue/asvalue-auth/store/postgres"
	redisstore "github.com/asvalue/asvalue-auth/store/redis"
	"github.com/asvalue/asvalue-auth/store/sqlite"
	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog"
)

const appName = "asvalue auth"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "asvalue-auth: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if cfg.LogFormat == "console" {
		displayAppName(appName)
	}
	logger.Info().Interface("config", cfg.Redacted()).Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx)

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	var states auth.StateStore = backend
	ping := backend.Ping
	if cfg.RedisURL != "" {
		rdb, err := redisstore.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		states = redisstore.NewStateStore(rdb)
		ping = func(ctx context.Context) error {
			return errors.Join(backend.Ping(ctx), rdb.Ping(ctx).Err())
		}
		logger.Info().Msg("oauth states in redis")
	}

	currentKey, keys, err := cfg.SealingKeys()
	if err != nil {
		return err
	}
	sealed, err := middleware.NewSecureCookie(middleware.SessionCookieName, currentKey, keys,
		middleware.WithSecure(cfg.CookieSecure))
	if err != nil {
		return fmt.Errorf("session cookie: %w", err)
	}
	cookie := middleware.NewSessionCookie(sealed)

	providerOpts := []auth.ProviderOption{auth.WithTimeout(cfg.HTTPTimeout)}
	if cfg.VerifyIDTokens {
		providerOpts = append(providerOpts, auth.WithIDTokenVerifier(auth.NewGoogleIDTokenVerifier(ctx, cfg.GoogleClientID)))
	}
	provider := auth.NewGoogleProvider(auth.ProviderConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.RedirectURL(),
	}, providerOpts...)

	auditLog := audit.NewLogger(backend)
	stateManager := auth.NewStateManager(states, auth.WithStateTTL(cfg.StateTTL))
	sessions := session.NewManager(backend, auditLog, session.WithTTL(cfg.SessionTTL))
	profiles := profile.NewService(backend, nil)

	authHandler, err := auth.NewHandler(auth.Services{
		Provider: provider,
		States:   stateManager,
		Profiles: profiles,
		Sessions: sessions,
		Audit:    auditLog,
		Cookie:   cookie,
	}, "/auth")
	if err != nil {
		return err
	}

	headerOpts := []middleware.SecurityHeadersOption{}
	if !cfg.CookieSecure {
		headerOpts = append(headerOpts, middleware.WithoutHSTS())
	}
	svc := server.Services{
		Auth:     authHandler,
		Profile:  profile.NewHandler(profiles, auditLog, middleware.NewSessionProcessor(cookie, sessions)),
		Guard:    middleware.NewRouteGuard(middleware.SessionCookieName, cfg.SignInPath, cfg.ProtectedPrefixes),
		Headers:  middleware.NewSecurityHeaders(headerOpts...),
		States:   stateManager,
		Sessions: sessions,
		Ping:     ping,
	}
	if cfg.StaticDir != "" {
		svc.Static = http.FileServer(http.Dir(cfg.StaticDir))
	}

	srv, err := server.New(logger, svc,
		server.WithJanitorInterval(cfg.JanitorInterval),
		server.WithShutdownTimeout(cfg.ShutdownTimeout))
	if err != nil {
		return err
	}
	if err := srv.Run(ctx, cfg.Addr); err != nil {
		return err
	}
	logger.Info().Msg("stopped")
	return nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	var logger zerolog.Logger
	if cfg.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(cfg.Level()).With().Timestamp().Str("service", "asvalue-auth").Logger()
}

func openBackend(ctx context.Context, cfg *config.Config) (store.Backend, error) {
	switch cfg.Store {
	case config.StorePostgres:
		return postgres.Open(ctx, cfg.DatabaseURL)
	case config.StoreSQLite:
		return sqlite.Open(cfg.SQLitePath)
	case config.StoreMemory:
		zerolog.Ctx(ctx).Warn().Msg("in-memory store: all data is lost on restart")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

func displayAppName(name string) {
	figure.NewFigure(name, "cybermedium", true).Print()
	fmt.Println()
}

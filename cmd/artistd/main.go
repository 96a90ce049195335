package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/auth/exchange"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/auth/pkce"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/auth/token"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/capability"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/config"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/connect"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/db"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/grants"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/logging"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/permissions"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/profiles"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/providers"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/server"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/server/middleware"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/version"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat))
	slog.Info("starting", "build", version.Get(), "config", cfg)

	overrides, err := providers.LoadOverrides(cfg.ProvidersFile)
	if err != nil {
		return err
	}
	registry, err := providers.NewRegistry(cfg.ProviderCredentials(), overrides...)
	if err != nil {
		return err
	}

	database, err := db.InitDB(cfg.DatabaseURL, db.Options{Debug: logging.ParseLevel(cfg.LogLevel) == slog.LevelDebug})
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(database); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}()

	policy := db.Policy{
		Timeout:         cfg.StorageTimeout,
		Retries:         cfg.StorageRetries,
		InitialInterval: 50 * time.Millisecond,
	}
	grantStore := grants.NewGormStore(database, policy)
	exchanger := exchange.NewClient(registry, exchange.Options{
		ExchangeTimeout: cfg.TokenExchangeTimeout,
		IdentityTimeout: cfg.IdentityTimeout,
	})

	svc := connect.NewService(
		registry,
		exchanger,
		grantStore,
		profiles.NewGormLinker(database, policy),
		pkce.NewGormStore(database, policy, cfg.PendingAuthorizationTTL),
		connect.Config{CallbackBaseURL: cfg.CallbackBaseURL, AppBaseURL: cfg.AppBaseURL},
	)

	router := server.NewRouter(server.Deps{
		Connect:     svc,
		Permissions: permissions.NewGormGate(database, policy),
		Tokens:      token.NewManager(grantStore, exchanger),
		Sessions:    middleware.NewJWTVerifier(cfg.SessionJWTSecret, cfg.SessionJWTAudience),
		Composer:    capability.NotConfigured{},
		Summarizer:  capability.NotConfigured{},
		InboxSyncer: capability.NotConfigured{},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, p := range registry.Providers() {
		slog.Debug("provider configured", "redirect_uri", svc.RedirectURI(p), "provider", p)
	}
	// The callback runs the exchange, the identity fetch, then two storage writes.
	callbackBudget := cfg.TokenExchangeTimeout + cfg.IdentityTimeout + 2*policy.WriteBudget()
	return server.Run(ctx, cfg.Addr(), router, server.Options{RequestBudget: callbackBudget})
}

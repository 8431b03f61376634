// Package app wires the CipherTalk server runtime: config, logging, metrics,
// the identity and session stores, the unlock gate, and the chat surface.
//
// It is intentionally small and deterministic to keep behavior predictable.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ciphertalk/cmd/identity"
	authapi "ciphertalk/cmd/internal/auth/api"
	"ciphertalk/cmd/internal/auth/binder"
	"ciphertalk/cmd/internal/auth/session"
	"ciphertalk/cmd/internal/chat"
	"ciphertalk/cmd/internal/gate"
	"ciphertalk/cmd/internal/observability/metrics"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// registerMetricsOnce guards the Prometheus default registry against double
// registration when multiple Apps are built in one process (tests).
var registerMetricsOnce sync.Once

// App is the CipherTalk server runtime.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	auth *authapi.Handler
	gate *gate.Handler
	chat *chat.Handler
	sse  *chat.SSEGateway
	ws   *chat.WSGateway
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	registerMetricsOnce.Do(metrics.MustRegister)

	deps, err := newStores(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	ledger := session.NewLedger(deps.sessions)

	resolver := identity.NewResolver(deps.identity)
	if err := seedUsers(resolver, cfg.SeedUsers); err != nil {
		return nil, err
	}

	b := binder.NewService(deps.identity, ledger, log,
		binder.WithSessionTTL(cfg.SessionTTL))

	tokens := gate.NewTokenService(deps.tokens, log,
		gate.WithTokenTTL(cfg.UnlockTokenTTL),
		gate.WithVerifyLimit(cfg.VerifyRateLimit, cfg.VerifyRateWindow),
		gate.WithMintLimit(cfg.MintRateLimit, cfg.MintRateWindow))

	fanout := chat.NewFanout(deps.messages, log,
		chat.WithPollInterval(cfg.StreamPollInterval),
		chat.WithSendQueueSize(cfg.StreamQueueSize))

	return &App{
		cfg:       cfg,
		log:       log,
		store:     deps.lifecycle,
		dbPool:    deps.pool,
		dbEnabled: deps.pool != nil,
		auth:      authapi.NewHandler(b, resolver, ledger, log),
		gate:      gate.NewHandler(tokens, ledger, log),
		chat:      chat.NewHandler(deps.messages, fanout, ledger, deps.identity, log),
		sse:       chat.NewSSEGateway(fanout, ledger, log),
		ws:        chat.NewWSGateway(fanout, ledger, log, cfg.WSAllowedOrigins),
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal
// server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	a.registerHTTP(mux)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(WithSecurityHeaders(WithCORS(mux, a.cfg, a.log)), a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      a.cfg.WriteTimeout, // zero keeps SSE streams alive
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// storeDeps bundles every persistence boundary plus its shared lifecycle.
type storeDeps struct {
	lifecycle Store
	pool      *pgxpool.Pool
	identity  identity.Store
	sessions  session.Store
	tokens    gate.TokenStore
	messages  chat.MessageLog
}

// newStores decides between Postgres-backed persistence and in-memory dev
// stores. All four boundaries always pick the same mode.
func newStores(ctx context.Context, cfg Config, log Logger) (storeDeps, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return storeDeps{
			lifecycle: nopStore{},
			identity:  identity.NewInMemoryStore(),
			sessions:  session.NewInMemoryStore(),
			tokens:    gate.NewInMemoryTokenStore(),
			messages:  chat.NewInMemoryLog(),
		}, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return storeDeps{}, err
	}
	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)

	ids, err := identity.NewPostgresStore(pool, identity.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return storeDeps{}, err
	}
	sessions, err := session.NewPostgresStore(pool, session.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return storeDeps{}, err
	}
	tokens, err := gate.NewPostgresTokenStore(pool, gate.WithTokenSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return storeDeps{}, err
	}
	messages, err := chat.NewPostgresLog(pool, chat.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return storeDeps{}, err
	}

	return storeDeps{
		lifecycle: dbStore{pool: pool, messages: messages},
		pool:      pool,
		identity:  ids,
		sessions:  sessions,
		tokens:    tokens,
		messages:  messages,
	}, nil
}

type dbStore struct {
	pool     *pgxpool.Pool
	messages chat.MessageLog
}

func (s dbStore) Close(_ context.Context) error {
	// PostgresLog.Close is a no-op by design (pool is owned here).
	if s.messages != nil {
		_ = s.messages.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// seedUsers registers the configured legacy password identities.
func seedUsers(r *identity.Resolver, pairs []string) error {
	for _, pair := range pairs {
		handle, pass, ok := strings.Cut(pair, ":")
		if !ok || strings.TrimSpace(handle) == "" || strings.TrimSpace(pass) == "" {
			return fmt.Errorf("app: malformed seed user %q (want handle:password)", pair)
		}
		if err := r.SeedPasswordUser(handle, pass); err != nil {
			return fmt.Errorf("app: seed user %q: %w", handle, err)
		}
	}
	return nil
}

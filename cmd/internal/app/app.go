// Package app wires the postboard server runtime: config, logging, storage,
// token managers, and HTTP routes.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"postboard/cmd/identity"
	"postboard/cmd/internal/auth/access"
	authapi "postboard/cmd/internal/auth/api"
	"postboard/cmd/internal/auth/refresh"
	"postboard/cmd/security/token"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// App is the postboard server runtime. It owns the DB pool and Redis client.
type App struct {
	cfg Config
	log Logger

	dbPool *pgxpool.Pool
	rdb    *redis.Client

	registry     *prometheus.Registry
	refreshStore string

	auth *authapi.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	hasher := token.HasherFromEnv()
	if err := ValidateSecurityConfig(cfg, hasher); err != nil {
		return nil, err
	}

	refreshCfg, err := refresh.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	accessCfg, err := access.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log}
	ready := false
	defer func() {
		if !ready {
			a.close()
		}
	}()

	if cfg.DatabaseURL != "" {
		if a.dbPool, err = NewDBPool(ctx, cfg); err != nil {
			return nil, fmt.Errorf("db: %w", err)
		}
		if cfg.DBMigrate {
			if err = Migrate(ctx, a.dbPool, log); err != nil {
				return nil, err
			}
		}
		log.Info("db.enabled")
	} else {
		log.Info("db.disabled")
	}

	if cfg.RedisURL != "" {
		if a.rdb, err = NewRedisClient(ctx, cfg.RedisURL); err != nil {
			return nil, err
		}
		log.Info("redis.enabled")
	}

	store, kind, err := newRefreshStore(cfg, a.dbPool, a.rdb, refreshCfg.RedisRetention)
	if err != nil {
		return nil, err
	}
	a.refreshStore = kind

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	refreshMgr, err := refresh.NewManager(refreshCfg, store, hasher,
		refresh.WithMetrics(refresh.NewMetrics(a.registry)),
		refresh.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	accessMgr, err := access.NewManager(accessCfg)
	if err != nil {
		return nil, err
	}

	verifiers := newVerifiers(cfg)
	if len(verifiers) == 0 {
		log.Warn("auth.identity.no_verifiers", "env", cfg.Env)
	}

	var directory identity.Directory = identity.NewMemoryDirectory()
	auditor := authapi.MultiAuditor{authapi.LogAuditor{Log: log}}
	if a.dbPool != nil {
		pgDir, err := identity.NewPostgresDirectory(a.dbPool)
		if err != nil {
			return nil, err
		}
		directory = identity.NewCachedDirectory(pgDir, 0)
		auditor = append(auditor, authapi.NewPostgresAuditor(a.dbPool, log))
	}

	a.auth, err = authapi.NewHandler(log, authapi.LoadConfigFromEnv(cfg.Env), refreshMgr, accessMgr, verifiers, directory,
		authapi.WithAuditor(auditor),
	)
	if err != nil {
		return nil, err
	}

	log.Info("auth.ready",
		"refresh_store", kind,
		"reuse_policy", string(refreshCfg.ReusePolicy),
		"refresh_ttl", refreshCfg.TTL.String(),
		"hmac_digest", hasher.HMACEnabled(),
		"providers", verifiers.Providers(),
	)

	ready = true
	return a, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, httpDeps{
		log:      a.log,
		cfg:      a.cfg,
		dbPool:   a.dbPool,
		rdb:      redisOrNil(a.rdb),
		registry: a.registry,
		auth:     a.auth,
	})

	var h http.Handler = mux
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	h = WithRequestLogging(h, a.log)
	h = WithRequestID(h)
	return h
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"base_url", runtimeBaseURL(a.cfg.HTTPAddr),
		"env", a.cfg.Env,
		"db_enabled", a.dbPool != nil,
		"redis_enabled", a.rdb != nil,
	)

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
		a.close()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		a.close()
		return err
	}

	a.close()
	a.log.Info("server.stopped")
	return nil
}

func (a *App) close() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis.close.fail", "err", err)
		}
		a.rdb = nil
	}
	if a.dbPool != nil {
		a.dbPool.Close()
		a.dbPool = nil
	}
}

// newRefreshStore picks the refresh.Store backend for cfg.RefreshStore.
func newRefreshStore(cfg Config, pool *pgxpool.Pool, rdb *redis.Client, retention time.Duration) (refresh.Store, string, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.RefreshStore))
	if kind == "" || kind == RefreshStoreAuto {
		kind = RefreshStoreMemory
		if pool != nil {
			kind = RefreshStorePostgres
		}
	}

	switch kind {
	case RefreshStoreMemory:
		return refresh.NewMemoryStore(), kind, nil
	case RefreshStorePostgres:
		if pool == nil {
			return nil, "", errors.New("config: POSTBOARD_REFRESH_STORE=postgres requires POSTBOARD_DATABASE_URL")
		}
		return refresh.NewPostgresStore(pool), kind, nil
	case RefreshStoreRedis:
		if rdb == nil {
			return nil, "", errors.New("config: POSTBOARD_REFRESH_STORE=redis requires POSTBOARD_REDIS_URL")
		}
		return refresh.NewRedisStore(rdb, refresh.DefaultRedisPrefix, retention), kind, nil
	default:
		return nil, "", fmt.Errorf("config: unknown POSTBOARD_REFRESH_STORE %q", cfg.RefreshStore)
	}
}

// newVerifiers registers the identity verifiers available in this environment.
// The dev verifier is never served in production.
func newVerifiers(cfg Config) identity.Verifiers {
	v := identity.Verifiers{}
	if cfg.Env != "production" && cfg.Env != "prod" {
		v[identity.DevProvider] = identity.DevVerifier{}
	}
	return v
}

// redisOrNil avoids storing a typed nil in the interface.
func redisOrNil(rdb *redis.Client) redis.UniversalClient {
	if rdb == nil {
		return nil
	}
	return rdb
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + strings.TrimSpace(addr)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
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

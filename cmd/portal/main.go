package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"wildwatch.app/internal/auth"
	"wildwatch.app/internal/backend"
	"wildwatch.app/internal/config"
	"wildwatch.app/internal/evidence"
	"wildwatch.app/internal/httpapi"
	"wildwatch.app/internal/migrate"
	"wildwatch.app/internal/obs"
	"wildwatch.app/internal/profile"
	"wildwatch.app/internal/session"
	"wildwatch.app/internal/store"
	"wildwatch.app/internal/store/redisstore"
	"wildwatch.app/internal/store/sqlkv"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

const clientCookieTTL = 365 * 24 * time.Hour

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	keys, err := auth.DeriveKeys(cfg.SessionSecret)
	if err != nil {
		log.Fatalf("session keys: %v", err)
	}
	signer, err := auth.NewClientSigner(keys.ClientCookie, clientCookieTTL)
	if err != nil {
		log.Fatalf("client signer: %v", err)
	}

	// Local storage survives restarts when a database is configured.
	var (
		local store.KV = store.NewMemory()
		db    *sql.DB
	)
	if dialect, dsn, ok := databaseTarget(cfg); ok {
		st, err := sqlkv.Open(dialect, dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer st.Close()
		migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err = migrate.NewManager(st.DB(), dialect).Up(migrateCtx)
		cancel()
		if err != nil {
			log.Fatalf("migrate: %v", err)
		}
		st.StartJanitor(ctx, 5*time.Minute, func(err error) {
			obs.Warn("storage_purge_failed", map[string]any{"err": err})
		})
		local, db = st, st.DB()
	}

	// Session storage, staged evidence and the profile cache are short-lived.
	var (
		volatile   store.KV = store.NewMemory()
		redisProbe func(context.Context) error
	)
	if cfg.RedisAddr != "" {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		client, err := redisstore.Dial(dialCtx, cfg.RedisAddr, cfg.RedisPassword)
		cancel()
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer client.Close()
		volatile = redisstore.New(client, "wildwatch")
		redisProbe = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}

	be, err := backend.New(cfg.BackendURL,
		backend.WithTimeout(cfg.BackendTimeout),
		backend.WithRateLimit(cfg.BackendRatePerSec, cfg.BackendRateBurst),
		backend.WithUserAgent("wildwatch-portal/"+version),
	)
	if err != nil {
		log.Fatalf("backend client: %v", err)
	}

	api := httpapi.New(httpapi.Deps{
		Backend:       be,
		Profiles:      profile.NewLoader(be, profile.WithCache(volatile, keys.Fingerprint, cfg.ProfileCacheTTL)),
		Signer:        signer,
		Bus:           session.NewBus(),
		Local:         local,
		Session:       volatile,
		Evidence:      evidence.NewStager(volatile),
		WSURL:         cfg.BackendWSURL,
		Ready:         httpapi.ReadyProbe{DB: db, Redis: redisProbe},
		Version:       version,
		PublicURL:     cfg.PublicURL,
		OAuthURL:      cfg.OAuthURL,
		Cookies:       session.CookieOptions{Secure: cfg.CookieSecure, MaxAge: cfg.TokenTTL},
		SessionTTL:    cfg.SessionStorageTTL,
		LogoutTimeout: cfg.LogoutTimeout,
		RateBurst:     cfg.RateBurst,
		RatePerSec:    cfg.RatePerSec,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	health := httpapi.NewHealthServer(httpapi.ReadyProbe{DB: db, Redis: redisProbe}, api.Mounted)
	grpcSrv := grpc.NewServer()
	health.Register(grpcSrv)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("grpc listen: %v", err)
	}
	go func() {
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Fatalf("grpc serve: %v", err)
		}
	}()
	go health.Run(ctx, 5*time.Second)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()
	api.MarkReady()
	obs.Info("portal_started", map[string]any{
		"version": version,
		"http":    cfg.HTTPAddr,
		"grpc":    cfg.GRPCAddr,
		"backend": cfg.BackendURL,
		"durable": db != nil,
		"redis":   cfg.RedisAddr != "",
	})

	<-ctx.Done()
	obs.Info("portal_stopping", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	obs.Info("portal_stopped", nil)
}

func databaseTarget(cfg config.Config) (migrate.Dialect, string, bool) {
	switch {
	case cfg.PostgresDSN != "":
		return migrate.Postgres, cfg.PostgresDSN, true
	case cfg.SQLitePath != "":
		return migrate.SQLite, sqlkv.SQLiteDSN(cfg.SQLitePath), true
	}
	return "", "", false
}

// Command traced runs the provenance tracking server.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/verdantlabs/agritrace/pkg/actors"
	"github.com/verdantlabs/agritrace/pkg/advisory"
	"github.com/verdantlabs/agritrace/pkg/api"
	"github.com/verdantlabs/agritrace/pkg/authz"
	"github.com/verdantlabs/agritrace/pkg/config"
	"github.com/verdantlabs/agritrace/pkg/eventlog"
	"github.com/verdantlabs/agritrace/pkg/harvest"
	"github.com/verdantlabs/agritrace/pkg/history"
	"github.com/verdantlabs/agritrace/pkg/registry"
	"github.com/verdantlabs/agritrace/pkg/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	st, closeDB, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer func() { _ = redisClient.Close() }()
	}

	var directory actors.Directory = actors.StaticDirectory{}
	if cfg.ActorDirectory != "" {
		directory = actors.NewHTTPDirectory(cfg.ActorDirectory)
		if redisClient != nil {
			directory = actors.NewCachedDirectory(directory, redisClient,
				time.Duration(cfg.ActorCacheTTLSec)*time.Second)
		}
	}

	var analyzer advisory.Analyzer
	if cfg.AdvisoryURL != "" {
		analyzer = advisory.NewHTTPAnalyzer(cfg.AdvisoryURL)
	}

	var locker harvest.FieldLocker
	if redisClient != nil {
		locker = harvest.NewRedisLocker(redisClient, time.Duration(cfg.LockTTLSeconds)*time.Second)
	}

	reg := registry.New(st.Nodes)
	events := eventlog.New(st.Nodes, st.Events, analyzer)
	roles := authz.NewDirectoryRoles(directory)
	engine := harvest.New(reg, events, st, roles, locker)
	hist := history.New(st.Nodes, st.Events, directory)

	server := &api.Server{
		Registry: reg,
		Events:   events,
		Harvest:  engine,
		History:  hist,
	}

	auth := api.NewAuthenticator(cfg.JWTSecret)
	limiter := api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/v1/", limiter.Middleware(auth.Middleware(server.Routes())))

	// Spans go to the global provider; deployments that want them
	// exported install an SDK, everyone else gets the no-op default.
	handler := otelhttp.NewHandler(mux, "agritrace",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		slog.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}

// openStore picks Postgres when DATABASE_URL is set, SQLite otherwise.
func openStore(cfg *config.Config) (store.Store, func(), error) {
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return store.Store{}, nil, fmt.Errorf("open postgres: %w", err)
		}
		pg, err := store.NewPostgresStore(db)
		if err != nil {
			_ = db.Close()
			return store.Store{}, nil, err
		}
		return pg.Handles(), func() { _ = db.Close() }, nil
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return store.Store{}, nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serializes writes per connection.
	db.SetMaxOpenConns(1)
	sl, err := store.NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return store.Store{}, nil, err
	}
	return sl.Handles(), func() { _ = db.Close() }, nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

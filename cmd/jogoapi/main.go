// Entry point for the draw ingestion service: config + catalog load, SQLite
// open, proxy pool, scheduler loop, and the chi admin/status router.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/AlfaStage/jogodobicho-api-sub000/internal/adapter"
	"github.com/AlfaStage/jogodobicho-api-sub000/internal/config"
	"github.com/AlfaStage/jogodobicho-api-sub000/internal/dbopen"
	"github.com/AlfaStage/jogodobicho-api-sub000/internal/fetch"
	"github.com/AlfaStage/jogodobicho-api-sub000/internal/ingest"
	"github.com/AlfaStage/jogodobicho-api-sub000/internal/proxy"
	"github.com/AlfaStage/jogodobicho-api-sub000/internal/schedule"
	"github.com/AlfaStage/jogodobicho-api-sub000/internal/status"
	"github.com/AlfaStage/jogodobicho-api-sub000/internal/store"
)

func main() {
	port := env("PORT", "8087")
	configPath := env("CONFIG_FILE", "config.yaml")
	catalogPath := env("CATALOG_FILE", "entities.yaml")
	logLevel := env("LOG_LEVEL", "info")

	// Logging.
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		slog.Error("load config", "path", configPath, "error", err)
		os.Exit(1)
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	catalog, err := config.LoadCatalog(catalogPath)
	if err != nil {
		slog.Error("load catalog", "path", catalogPath, "error", err)
		os.Exit(1)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		slog.Error("load timezone", "tz", cfg.Timezone, "error", err)
		os.Exit(1)
	}

	// Database.
	dbPath := filepath.Join(cfg.DataDir, "jogo.db")
	db, err := dbopen.Open(dbPath, dbopen.WithMkdirAll(), dbopen.WithSchema(store.Schema))
	if err != nil {
		slog.Error("open db", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	st := store.NewStore(db)

	// Proxy pool.
	pool := proxy.NewPool(st, cfg.Proxy, logger)

	// Shared browser for fallback rendering, lazily launched.
	browser := fetch.NewBrowser(cfg.Fetch.BrowserRemoteURL, nil, logger)
	defer browser.Close()

	// Result notifier.
	var notifier ingest.Notifier
	if cfg.Notifier.WebhookURL != "" {
		notifier = ingest.NewWebhookNotifier(cfg.Notifier.WebhookURL, logger)
	}
	recon := ingest.NewReconciler(st, catalog, notifier, logger)

	// Source adapters in priority order: primary provider first.
	adapters := adapter.Chain{
		adapter.NewTableAdapter("deunoposte"),
		adapter.NewTableAdapter("resultadofacil"),
		adapter.NewTableAdapter("ojogodobicho"),
	}

	// One fetcher per provider so failure state stays isolated.
	factory := func(providerKey string) schedule.Fetcher {
		return fetch.New(cfg.Fetch, pool, browser, logger.With("provider", providerKey))
	}

	sched := schedule.New(st, catalog, recon, adapters, factory, cfg.Scheduler, loc, logger)
	go sched.Run(ctx)

	// Status surface.
	statusSvc := status.NewService(st, catalog, cfg.Scheduler.GracePeriod, loc)

	// HTTP server.
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           newRouter(st, pool, statusSvc, logger),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", port, "entities", len(catalog.Entities))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

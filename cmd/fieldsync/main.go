// Package main runs the fieldsync server: the offline-first assessment
// store and its sync pipeline behind a small REST API.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	app "github.com/relief-ops/fieldsync/internal/app"
	"github.com/relief-ops/fieldsync/internal/app/httpapi"
	"github.com/relief-ops/fieldsync/internal/app/metrics"
	"github.com/relief-ops/fieldsync/internal/app/storage/sqlite"
	"github.com/relief-ops/fieldsync/internal/config"
	"github.com/relief-ops/fieldsync/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to yaml config file")
	addr := flag.String("addr", "", "Listen address (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config; \"memory\" for no persistence)")
	remoteURL := flag.String("remote", "", "Remote API base URL (overrides config)")
	flag.Parse()

	if v := os.Getenv("FIELDSYNC_CONFIG"); v != "" && *configPath == "" {
		*configPath = v
	}

	log := logger.NewDefault("fieldsync")

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.WithError(err).Error("load config failed")
		os.Exit(1)
	}

	// Environment variable overrides
	if v := os.Getenv("FIELDSYNC_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("FIELDSYNC_DB"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("FIELDSYNC_REMOTE_URL"); v != "" {
		cfg.RemoteBaseURL = v
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *dbPath != "" {
		cfg.DatabasePath = *dbPath
	}
	if *remoteURL != "" {
		cfg.RemoteBaseURL = *remoteURL
	}

	var stores app.Stores
	if cfg.DatabasePath != "" && cfg.DatabasePath != "memory" {
		store, err := sqlite.Open(cfg.DatabasePath)
		if err != nil {
			log.WithError(err).WithField("path", cfg.DatabasePath).Error("open database failed")
			os.Exit(1)
		}
		defer store.Close()
		stores = app.Stores{Drafts: store, Queue: store, Usage: store}
		log.WithField("path", cfg.DatabasePath).Info("using sqlite storage")
	} else {
		log.Warn("using in-memory storage; drafts will not survive restarts")
	}

	application, err := app.New(cfg, stores, log)
	if err != nil {
		log.WithError(err).Error("build application failed")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Error("start application failed")
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", metrics.InstrumentHandler(httpapi.NewHandler(application)))

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("http server listening")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Error("http server failed")
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown error")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application stop error")
	}

	log.Info("stopped")
}

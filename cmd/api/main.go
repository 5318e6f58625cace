// Command api serves a dialogue document, its samples and its batches over
// HTTP, with optional batches from a datalab database.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Hyrsta/AiSpea/internal/api"
	"github.com/Hyrsta/AiSpea/internal/config"
	"github.com/Hyrsta/AiSpea/internal/db"
	"github.com/Hyrsta/AiSpea/internal/dialogue"
	"github.com/Hyrsta/AiSpea/internal/observe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to the YAML configuration file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "api: %v\n", err)
		return 1
	}

	slog.SetDefault(observe.NewLogger(string(cfg.Server.LogLevel)))
	slog.Info("api starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"dialogue_path", cfg.Dialogue.Path,
		"datalab", cfg.Database.URL != "",
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to init telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	var dataset *dialogue.Dataset
	if cfg.Dialogue.Path != "" {
		start := time.Now()
		dataset, err = dialogue.Open(cfg.Dialogue.Path)
		if err != nil {
			slog.Error("failed to load dialogue", "path", cfg.Dialogue.Path, "err", err)
			return 1
		}
		metrics.RecordDocumentLoad(ctx, "file", time.Since(start).Seconds())
		slog.Info("dialogue loaded", "path", cfg.Dialogue.Path, "turns", dataset.Len())
	}

	var database *sql.DB
	if cfg.Database.URL != "" {
		database, err = db.Open(ctx, cfg.Database.URL)
		if err != nil {
			slog.Error("db open failed", "err", err)
			return 1
		}
		defer database.Close()
	}

	h := api.NewHandler(api.HandlerDeps{
		Dataset:       dataset,
		DB:            database,
		LoaderOptions: cfg.Loader.Options(),
		Metrics:       metrics,
	})

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("api listening", "addr", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("listen failed", "err", err)
			return 1
		}
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		slog.Warn("api shutdown", "err", err)
	}
	slog.Info("api stopped")
	return 0
}

package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gyaneshwarpardhi/skilltree/internal/api"
	"github.com/gyaneshwarpardhi/skilltree/internal/config"
	"github.com/gyaneshwarpardhi/skilltree/internal/engine"
	"github.com/gyaneshwarpardhi/skilltree/internal/store"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	catalogPath := flag.String("catalog", "configs/catalog.yaml", "Path to the skill catalog YAML")
	dbPath := flag.String("db", "data/skilltree.db", "SQLite database path (\":memory:\" for ephemeral)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(logger, *addr, *catalogPath, *dbPath); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, addr, catalogPath, dbPath string) error {
	// ── Catalog ───────────────────────────────────────────────────────────────
	loader, err := config.NewLoader(catalogPath, logger)
	if err != nil {
		return err
	}
	cat, err := engine.Compile(loader.Config())
	if err != nil {
		return err
	}
	logger.Info("catalog compiled",
		"version", cat.Version,
		"skills", cat.Graph.NodeCount(),
		"selectors", len(cat.Selectors))

	// ── Store ─────────────────────────────────────────────────────────────────
	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng := engine.New(ctx, cat, st, logger)

	// A catalog that fails to compile leaves the running one in place.
	loader.OnChange(eng.ApplyConfig)
	stopWatch, err := loader.Watch()
	if err != nil {
		logger.Warn("catalog watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── HTTP ──────────────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:        addr,
		Handler:     api.New(eng, loader, st, logger),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
		// No WriteTimeout: /await long-polls and /ws streams.
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return eng.RunReaper(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		eng.Shutdown()
		return srv.Shutdown(shutCtx)
	})

	err = g.Wait()
	logger.Info("goodbye")
	return err
}

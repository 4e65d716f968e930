package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"csv-file-drop/internal/auth"
	"csv-file-drop/internal/config"
	"csv-file-drop/internal/files"
	"csv-file-drop/internal/logging"
	"csv-file-drop/internal/server"
	"csv-file-drop/internal/storage"
	"csv-file-drop/internal/store"
	"csv-file-drop/internal/users"
)

func main() {
	configPath := flag.String("config", "", "optional config file (yaml, json or toml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "service=backend msg=%q err=%v\n", "config_load_failed", err)
		os.Exit(1)
	}

	log, err := logging.New("backend", cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "service=backend msg=%q err=%v\n", "logger_init_failed", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	// SIGINT (Ctrl+C) or SIGTERM (container stop) starts a graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("backend stopped", zap.Error(err))
		os.Exit(1)
	}
}

// run wires the backends into the HTTP server and serves until ctx is
// cancelled or the listener fails.
func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	kv, err := store.Open(ctx, cfg.Store.URL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := kv.Close(); err != nil {
			log.Warn("close store", zap.Error(err))
		}
	}()
	if cfg.Breaker.Enabled {
		kv = store.WithBreaker(kv, cfg.Breaker.Timeout, log)
	}

	dirs, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	codec, err := auth.NewTokenCodec(cfg.Token.Secret, cfg.Token.Algorithm, cfg.Token.TTL())
	if err != nil {
		return fmt.Errorf("token codec: %w", err)
	}

	srv := server.New(server.Config{
		Addr:           cfg.Addr(),
		Version:        cfg.Version,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Login:          cfg.Login,
		Users:          users.NewService(kv, dirs, auth.NewPasswordHasher(cfg.BcryptCost), log),
		Files:          files.NewService(dirs, log),
		Codec:          codec,
		Log:            log,
		Components: map[string]server.Pinger{
			"store":   kv,
			"storage": dirs,
		},
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting",
			zap.String("addr", cfg.Addr()),
			zap.String("base_url", cfg.BaseURL),
			zap.String("storage", cfg.Storage.Driver))
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		// A fresh context: gctx is already done, in-flight requests still
		// get ShutdownTimeout to finish.
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		log.Info("shutdown complete")
		return nil
	})
	return g.Wait()
}

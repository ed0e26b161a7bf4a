// Command apiserver boots the HTTP application server: loads configuration,
// opens database connections, builds the endpoint catalog, and runs the
// reactor until a termination signal arrives.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cppservergit/apiserver-odbc/internal/apiserver"
	"github.com/cppservergit/apiserver-odbc/internal/config"
	"github.com/cppservergit/apiserver-odbc/internal/httpx"
	"github.com/cppservergit/apiserver-odbc/internal/logx"
	"github.com/cppservergit/apiserver-odbc/internal/sqlstore"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	log := logx.NewStderr(slog.LevelInfo).With("main")
	if cfg.JWTSecret == "" {
		log.Error("config", "CPP_JWT_SECRET is empty; tokens cannot be issued or validated")
	}

	if blobDir := os.Getenv("CPP_BLOB_DIR"); blobDir != "" {
		httpx.BlobDir = blobDir
	}
	httpx.MaxBodyBytes = cfg.MaxPayload
	if err := os.MkdirAll(httpx.BlobDir, 0o755); err != nil {
		return fmt.Errorf("creating blob directory: %w", err)
	}

	store, err := sqlstore.Open(cfg.Databases)
	if err != nil {
		return fmt.Errorf("opening databases: %w", err)
	}
	defer store.Close()

	srv := apiserver.New(cfg, store, log, version)
	registerUserEndpoints(srv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sigCh
		cancel()
	}()

	log.Info("main", fmt.Sprintf("starting apiserver %s on port %d", version, cfg.Port))
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("reactor: %w", err)
	}
	log.Info("main", "shutdown complete")
	return nil
}

// registerUserEndpoints is where application-specific WebAPIs are wired in.
// None are defined here; the built-in diagnostic and auth endpoints
// registered by apiserver.New cover the operational surface this command
// ships with.
func registerUserEndpoints(srv *apiserver.Server) {
	_ = srv
}

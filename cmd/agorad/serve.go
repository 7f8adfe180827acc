package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/agoramesh/agora/pkg/api"
	"github.com/agoramesh/agora/pkg/chain"
	"github.com/agoramesh/agora/pkg/config"
	"github.com/agoramesh/agora/pkg/crypto"
	"github.com/agoramesh/agora/pkg/node"
	"github.com/agoramesh/agora/pkg/observability"
	"github.com/agoramesh/agora/pkg/registry"
	"github.com/agoramesh/agora/pkg/store"
)

func runServe(args []string, stderr io.Writer) int {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	configPath := cmd.String("config", "", "path to YAML config file")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if err := serve(*configPath); err != nil {
		_, _ = fmt.Fprintf(stderr, "agorad: %v\n", err)
		return 2
	}
	return 0
}

func serve(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	signer, err := loadSigner(cfg, logger)
	if err != nil {
		return err
	}

	reg, chainStore, jobStore, cleanup, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	n, err := node.New(reg, chainStore, jobStore, signer, logger)
	if err != nil {
		return err
	}
	n.WithMaxAppendRetries(cfg.MaxAppendRetries)

	telemetry, err := observability.New(ctx, observability.Config{
		ServiceName:  cfg.ServiceName,
		OTLPEndpoint: cfg.OTLPEndpoint,
		Insecure:     true,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(shutdownCtx)
	}()

	limiter := api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	server := api.NewServer(n, logger, telemetry, limiter)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("node listening",
			"addr", cfg.ListenAddr, "authority", n.AuthorityID(), "database", cfg.DatabasePath)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// loadSigner restores the authority identity from configuration, or
// generates an ephemeral one for throwaway runs.
func loadSigner(cfg *config.Config, logger *slog.Logger) (*crypto.Ed25519Signer, error) {
	if cfg.AuthorityKeyHex != "" {
		return crypto.NewEd25519SignerFromHex(cfg.AuthorityKeyHex)
	}
	signer, err := crypto.NewEd25519Signer()
	if err != nil {
		return nil, err
	}
	logger.Warn("no authority key configured, generated ephemeral identity",
		"agent_id", signer.AgentID())
	return signer, nil
}

// openStores selects SQLite-backed stores when a database path is set and
// in-memory stores otherwise.
func openStores(cfg *config.Config) (registry.Registry, chain.Store, node.JobStore, func(), error) {
	if cfg.DatabasePath == "" {
		return registry.NewInMemoryRegistry(), chain.NewMemStore(), node.NewMemJobStore(), func() {}, nil
	}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	cleanup := func() { _ = db.Close() }

	reg, err := store.NewSQLiteRegistry(db)
	if err != nil {
		cleanup()
		return nil, nil, nil, nil, err
	}
	chainStore, err := store.NewSQLiteChainStore(db)
	if err != nil {
		cleanup()
		return nil, nil, nil, nil, err
	}
	jobStore, err := store.NewSQLiteJobStore(db)
	if err != nil {
		cleanup()
		return nil, nil, nil, nil, err
	}
	return reg, chainStore, jobStore, cleanup, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"classdesk/api/internal/app"
	"classdesk/api/internal/config"
	"classdesk/api/internal/local"
	"classdesk/api/internal/metrics"
	"classdesk/api/internal/remote"
	"classdesk/api/internal/syncer"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync engine and its HTTP API",
	Long: `Run the sync engine and its HTTP API. Every flag can also be set with an
environment variable CLASSDESK_<FLAG> (e.g. CLASSDESK_REMOTE_DSN=redis://localhost:6379/0).`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String(config.KeyAddr, ":8787", "address the HTTP API listens on")
	serveCmd.Flags().String(config.KeyRemoteDSN, "", "remote store (redis://, postgres://, s3://, minio://, memory://); empty disables remote sync")
	serveCmd.Flags().Duration(config.KeyFlushDelay, time.Second, "trailing delay that coalesces updates into one write")
	serveCmd.Flags().Duration(config.KeyWriteTimeout, 10*time.Second, "timeout of a single physical write")
	serveCmd.Flags().String(config.KeyIdentitySecret, "", "HMAC secret verifying identity tokens")
	serveCmd.Flags().String(config.KeyCORSOrigin, "*", "allowed CORS origin")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	localStore, err := local.NewFileStore(cfg.DataDir, cfg.LocalKey, logger)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}

	var remoteStore remote.Store
	var pinger app.Pinger
	if cfg.RemoteDSN != "" {
		remoteStore, err = remote.Open(ctx, cfg.RemoteDSN, logger)
		if err != nil {
			return fmt.Errorf("open remote store: %w", err)
		}
		defer remoteStore.Close()
		pinger = remoteStore
	} else {
		logger.Info("remote sync disabled, authenticated identities use local storage")
	}

	rec := metrics.New()
	coordinator := syncer.New(localStore, remoteStore, syncer.Options{
		FlushDelay:   cfg.FlushDelay,
		WriteTimeout: cfg.WriteTimeout,
		Logger:       logger,
		Metrics:      rec,
	})
	if err := coordinator.SetIdentity(ctx, syncer.Anonymous()); err != nil {
		return fmt.Errorf("start sync session: %w", err)
	}

	service := app.New(cfg, coordinator, pinger, rec, logger)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("classdesk API listening", "addr", cfg.Addr, "version", Version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			_ = coordinator.Close(context.Background())
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", "error", err)
	}
	if err := coordinator.Close(shutdownCtx); err != nil {
		logger.Warn("final flush failed", "error", err)
	}
	logger.Info("classdesk API stopped")
	return nil
}

// Package main initializes and runs the bifrostd evaluation daemon.
//
// It acts as the composition root: it loads configuration, wires the embedded
// evaluation client with its optional Redis mirror, and serves the REST
// evaluation API alongside the observability endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rafaeljc/bifrost"
	"github.com/rafaeljc/bifrost/internal/bigsegments"
	"github.com/rafaeljc/bifrost/internal/config"
	"github.com/rafaeljc/bifrost/internal/evalapi"
	"github.com/rafaeljc/bifrost/internal/logger"
	"github.com/rafaeljc/bifrost/internal/observability"
	"github.com/rafaeljc/bifrost/redisstore"
)

// main is the application entrypoint.
func main() {
	if err := run(); err != nil {
		log.Printf("Fatal error: %v", err)
		os.Exit(1)
	}
}

// run executes the service lifecycle.
func run() error {
	// -------------------------------------------------------------------------
	// 1. Configuration & Logging
	// -------------------------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger := logger.New(&cfg.App)
	// Request middleware and library code fall back to the default logger.
	slog.SetDefault(appLogger)

	cfg.LogConfig(appLogger)

	ctx := context.Background()

	// -------------------------------------------------------------------------
	// 2. Infrastructure Setup (optional Redis mirror)
	// -------------------------------------------------------------------------
	var (
		store    *redisstore.DataStore
		checkers []observability.Checker
	)

	clientConfig := bifrost.Config{
		SDKKey:       cfg.SDK.Key,
		BaseURI:      cfg.SDK.BaseURI,
		Filter:       cfg.SDK.Filter,
		Offline:      cfg.SDK.Offline,
		PollingOnly:  cfg.SDK.PollingOnly,
		PollInterval: cfg.SDK.PollInterval,
		Logger:       appLogger,
	}

	if cfg.Redis.IsConfigured() {
		opts := redisstore.Options{
			Addr:     cfg.Redis.Address(),
			Prefix:   cfg.Redis.Prefix,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}

		store, err = redisstore.NewDataStore(ctx, opts)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer store.Close()

		clientConfig.PersistentStore = store
		checkers = append(checkers, redisstore.NewHealthChecker(store))

		if cfg.BigSegments.Enabled {
			bigSegmentStore, err := redisstore.NewBigSegmentStore(ctx, opts)
			if err != nil {
				return fmt.Errorf("failed to connect big segment store: %w", err)
			}
			clientConfig.BigSegmentStore = bigSegmentStore
			clientConfig.BigSegments = bigsegments.Config{
				MembershipCacheSize: cfg.BigSegments.MembershipCacheSize,
				MembershipCacheTTL:  cfg.BigSegments.MembershipCacheTTL,
				StatusPollInterval:  cfg.BigSegments.StatusPollInterval,
				StaleAfter:          cfg.BigSegments.StaleAfter,
			}
		}
	}

	// -------------------------------------------------------------------------
	// 3. Evaluation Client
	// -------------------------------------------------------------------------
	client, err := bifrost.MakeClient(clientConfig, cfg.SDK.InitTimeout)
	if err != nil {
		// A timeout is not fatal: the client keeps synchronizing in the
		// background and becomes ready as soon as a full payload lands.
		if !errors.Is(err, bifrost.ErrInitializationTimeout) {
			return fmt.Errorf("failed to initialize evaluation client: %w", err)
		}
		appLogger.Warn("client not ready yet, continuing startup",
			slog.Duration("waited", cfg.SDK.InitTimeout),
		)
	}
	defer client.Close()

	checkers = append(checkers, &clientChecker{client: client})

	// -------------------------------------------------------------------------
	// 4. HTTP Servers
	// -------------------------------------------------------------------------
	obsServer := observability.NewServer(appLogger, &cfg.Observability, checkers...)
	obsServer.Start()
	defer func() { _ = obsServer.Shutdown(ctx) }()

	api := evalapi.NewAPIWithConfig(client, cfg.Server.APIKeyHash, cfg.Server.APIKeyHash == "")

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           api.Router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		MaxHeaderBytes:    cfg.Server.MaxHeaderBytes,
	}

	errChan := make(chan error, 1)
	go func() {
		appLogger.Info("starting evaluation API server",
			slog.String("addr", addr),
			slog.Bool("tls", cfg.Server.TLSEnabled),
			slog.String("instance_id", client.InstanceID()),
		)

		var serveErr error
		if cfg.Server.TLSEnabled {
			serveErr = server.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
		} else {
			serveErr = server.ListenAndServe()
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			errChan <- fmt.Errorf("evaluation API server failed: %w", serveErr)
		}
	}()

	// -------------------------------------------------------------------------
	// 5. Graceful Shutdown
	// -------------------------------------------------------------------------
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		appLogger.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("evaluation API shutdown failed: %w", err)
	}

	appLogger.Info("service exited successfully")
	return nil
}

// clientChecker reports readiness of the embedded evaluation client.
type clientChecker struct {
	client *bifrost.Client
}

func (c *clientChecker) Name() string { return "client" }

func (c *clientChecker) Check(ctx context.Context) error {
	if !c.client.Initialized() {
		return fmt.Errorf("no flag data received yet")
	}
	return nil
}

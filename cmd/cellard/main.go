// SPDX-License-Identifier: MIT

// cellard is the file-access daemon: it tracks account sessions, keeps
// credentials fresh, runs the transfer engine, and serves the HTTP API.
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
	"time"

	"github.com/cellar-sync/cellar/internal/account"
	"github.com/cellar-sync/cellar/internal/api"
	"github.com/cellar-sync/cellar/internal/auth"
	"github.com/cellar-sync/cellar/internal/config"
	"github.com/cellar-sync/cellar/internal/health"
	"github.com/cellar-sync/cellar/internal/ledger"
	"github.com/cellar-sync/cellar/internal/log"
	"github.com/cellar-sync/cellar/internal/netmon"
	"github.com/cellar-sync/cellar/internal/remote"
	"github.com/cellar-sync/cellar/internal/session"
	"github.com/cellar-sync/cellar/internal/transfer"
)

var (
	version   = "v0.3.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	log.Configure(log.Config{Level: "info", Service: "cellar", Version: version})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("config_path", *configPath).Msg("failed to load configuration")
	}
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "cellar", Version: version})

	if err := run(ctx, cfg, *configPath); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("daemon exited with error")
	}
	logger.Info().Msg("daemon stopped")
}

func run(ctx context.Context, cfg config.Config, configPath string) error {
	logger := log.WithComponent("daemon")
	logger.Info().
		Str("version", version).
		Str("listen", cfg.Listen).
		Str("data_dir", cfg.DataDir).
		Msg("starting cellard")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	holder := config.NewHolder(cfg, configPath)
	if err := holder.StartWatcher(ctx); err != nil {
		logger.Warn().Err(err).Msg("config watcher disabled")
	}

	// Stores.
	accountStore, err := account.NewStore(cfg.AccountsDBPath())
	if err != nil {
		return fmt.Errorf("open account store: %w", err)
	}
	defer accountStore.Close()

	ledgerStore, err := ledger.NewStore(cfg.LedgerDBPath())
	if err != nil {
		return fmt.Errorf("open ledger store: %w", err)
	}
	defer ledgerStore.Close()

	transferStore, err := transfer.NewStore(cfg.TransfersDBPath())
	if err != nil {
		return fmt.Errorf("open transfer store: %w", err)
	}
	defer transferStore.Close()

	tokenStore, err := auth.OpenTokenStore(cfg.TokensPath())
	if err != nil {
		return fmt.Errorf("open token store: %w", err)
	}
	defer tokenStore.Close()

	// Core services. The credential store and the remote resolver need each
	// other, so the refresher is wired late.
	accounts, err := account.NewService(ctx, accountStore)
	if err != nil {
		return fmt.Errorf("init account service: %w", err)
	}
	credentials := auth.NewCredentials(tokenStore, nil)
	resolver := remote.NewResolver(accountStore, credentials)
	credentials.SetRefresher(resolver)

	jobs := ledger.New(ledgerStore)
	defer jobs.Flush()

	monitor := auth.NewMonitor(ctx, credentials, accounts,
		auth.WithIntervals(cfg.Monitor.CycleInterval, cfg.Monitor.ExpiryThreshold, time.Second, 30*time.Second))

	network := netmon.New(netmon.WithProbe(cfg.Network.ProbeAddr, cfg.Network.ProbeInterval))
	go network.Run(ctx)

	aggregator := session.NewAggregator(ctx, network.Status(), accounts.Active(), monitor)

	transfers := transfer.NewManager(transferStore, resolver, jobs, cfg.FilesDir(),
		aggregator.Current,
		transfer.WithWorkers(cfg.Transfers.WorkerCount),
		transfer.WithGate(transfer.DefaultGate(transfer.GatePolicy{
			AllowMetered: cfg.Transfers.AllowMetered,
			AllowRoaming: cfg.Transfers.AllowRoaming,
		})),
	)
	go func() {
		if err := transfers.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("transfer engine stopped")
		}
	}()

	// Re-kick gated transfers whenever the session recovers.
	go func() {
		sub := aggregator.Status().Subscribe()
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case status := <-sub.C():
				if !status.Degraded() {
					transfers.Nudge(ctx)
				}
			}
		}
	}()

	healthMgr := health.NewManager(version)
	healthMgr.RegisterChecker(health.NewDBChecker("accounts", accountStore.DB()))
	healthMgr.RegisterChecker(health.NewDBChecker("ledger", ledgerStore.DB()))
	healthMgr.RegisterChecker(health.NewDBChecker("transfers", transferStore.DB()))
	healthMgr.RegisterChecker(health.NewSessionChecker(aggregator.Current))

	server := api.NewServer(aggregator, accounts, jobs, transfers, healthMgr)
	httpServer := &http.Server{
		Addr:         cfg.Listen,
		Handler:      server.Router(cfg.API.RateLimit),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  90 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Listen).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	monitor.Pause()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	return ctx.Err()
}

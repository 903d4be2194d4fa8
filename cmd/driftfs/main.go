package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/driftfs/driftfs/internal/logger"
	"github.com/driftfs/driftfs/pkg/config"
	"github.com/driftfs/driftfs/pkg/metrics"
	"github.com/driftfs/driftfs/pkg/provider"
	"github.com/driftfs/driftfs/pkg/remote/webdav"
	"github.com/driftfs/driftfs/pkg/store/metadata"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: "+config.GetDefaultConfigPath()+")")
	logLevel := flag.String("log-level", "", "Log level override (DEBUG, INFO, WARN, ERROR)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	logger.SetLevel(cfg.Logging.Level)

	fmt.Println("driftfs - file provider sync core")
	logger.Info("Log level set to: %s", cfg.Logging.Level)
	logger.Info("Content cache root: %s", cfg.Storage.Root)
	logger.Info("Metadata store: %s", cfg.Metadata.Type)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := config.NewMetadataStore(cfg.Metadata)
	if err != nil {
		log.Fatalf("Failed to open metadata store: %v", err)
	}

	if err := seedAccounts(ctx, store, cfg.Accounts); err != nil {
		log.Fatalf("Failed to seed accounts: %v", err)
	}

	account, err := store.GetActiveAccount(ctx)
	if err != nil {
		if metadata.IsNotFound(err) {
			log.Fatalf("No active account configured; add one to the accounts section")
		}
		log.Fatalf("Failed to read active account: %v", err)
	}
	logger.Info("Active account: %s", account.ID)

	client := webdav.New(webdav.Config{
		Username:          account.UserID,
		Password:          account.Password,
		UserAgent:         cfg.Remote.UserAgent,
		Timeout:           cfg.Remote.Timeout,
		RequestsPerSecond: cfg.Remote.RequestsPerSecond,
		Burst:             cfg.Remote.Burst,
	})

	var observe *metrics.SyncMetrics
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		observe = metrics.NewSyncMetrics()
		metricsServer = serveMetrics(cfg.Metrics.Address)
		logger.Info("Metrics endpoint listening on %s", cfg.Metrics.Address)
	}

	p, err := provider.New(ctx, store, client, provider.NewStorage(cfg.Storage.Root), observe, provider.Options{
		PageSize:   cfg.Provider.PageSize,
		RankBase:   cfg.Provider.RankBase,
		ShowHidden: cfg.Provider.ShowHidden,
	})
	if err != nil {
		log.Fatalf("Failed to initialize provider: %v", err)
	}

	logger.Info("Provider is running. Press Ctrl+C to stop.")
	<-ctx.Done()
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	p.Close()
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics endpoint shutdown error: %v", err)
		}
	}
	if err := store.Close(); err != nil {
		logger.Error("Metadata store close error: %v", err)
		os.Exit(1)
	}
	logger.Info("Stopped gracefully")
}

// seedAccounts upserts the configured accounts into the store. Accounts
// already present keep their stored state except for credentials, which the
// config always wins on.
func seedAccounts(ctx context.Context, store metadata.Store, accounts []config.AccountConfig) error {
	for _, account := range accounts {
		record := &metadata.Account{
			ID:            account.ID,
			User:          account.User,
			UserID:        account.UserID,
			ServerURL:     account.ServerURL,
			HomeServerURL: account.ServerURL + "/remote.php/dav/files/" + account.UserID,
			Password:      account.Password,
			Active:        account.Active,
		}
		if err := store.AddAccount(ctx, record); err != nil {
			return fmt.Errorf("account %q: %w", account.ID, err)
		}
		if account.Active {
			if err := store.SetAccountActive(ctx, account.ID); err != nil {
				return fmt.Errorf("account %q: %w", account.ID, err)
			}
		}
		logger.Debug("Account %s seeded", account.ID)
	}
	return nil
}

// serveMetrics exposes the Prometheus registry over HTTP in the background.
func serveMetrics(address string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics endpoint failed: %v", err)
		}
	}()
	return server
}

// Package main provides the modelkeep server entry point. One process
// hosts the registry, ledger, preset, artifact, and audit APIs.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/modelkeep/modelkeep/pkg/config"
	"github.com/modelkeep/modelkeep/pkg/db"
	"github.com/modelkeep/modelkeep/pkg/events"
	"github.com/modelkeep/modelkeep/pkg/ha"
	"github.com/modelkeep/modelkeep/pkg/server"
)

func main() {
	var (
		configPath string
		listenAddr string
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file (optional)")
	flag.StringVar(&listenAddr, "listen", "", "Address to listen on (overrides configuration)")
	flag.Parse()

	// Initialize glog for backwards compatibility
	_ = flag.Set("logtostderr", "true")

	cfg, err := config.Load(configPath)
	if err != nil {
		glog.Fatalf("Failed to load config: %v", err)
	}
	if listenAddr == "" {
		listenAddr = cfg.Server.Addr()
	}

	// The level lives in a LevelVar so the config watcher can adjust it
	// without restarting.
	levelVar := &slog.LevelVar{}
	levelVar.Set(cfg.Logging.SlogLevel())
	logger := newLogger(cfg.Logging.Format, levelVar)
	slog.SetDefault(logger)

	logger.Info("starting modelkeep server",
		"listen", listenAddr,
		"database", cfg.Database.Type,
		"backend", cfg.Backend.Mode,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		glog.Fatalf("Failed to connect to database: %v", err)
	}

	var serverOpts []server.Option
	if cfg.HA.MigrationLock {
		serverOpts = append(serverOpts, server.WithMigrationLocker(db.NewMigrationLocker(gormDB)))
	}
	if cfg.HA.LeaderElection {
		// Leader election needs an in-cluster client. The server must run
		// in a pod with RBAC granting get/update on coordination Leases.
		k8sCfg, err := rest.InClusterConfig()
		if err != nil {
			glog.Fatalf("Failed to create in-cluster K8s config (is the server running in a pod?): %v", err)
		}
		clientset, err := kubernetes.NewForConfig(k8sCfg)
		if err != nil {
			glog.Fatalf("Failed to create K8s clientset: %v", err)
		}
		elector := ha.NewLeaderElector(&cfg.HA, clientset, cfg.HA.Identity, logger)
		serverOpts = append(serverOpts, server.WithLeaderElector(elector))
		logger.Info("leader election enabled",
			"lease", cfg.HA.LeaseName, "namespace", cfg.HA.LeaseNamespace, "identity", cfg.HA.Identity)
	}

	// The webhook sink is always registered so a reload can set a URL on
	// a server that started without one.
	webhook := events.NewWebhookSink(cfg.Events.WebhookURL, cfg.Events.WebhookTimeout)
	serverOpts = append(serverOpts, server.WithSinks(webhook))

	srv := server.NewServer(cfg, gormDB, logger, serverOpts...)
	if err := srv.Init(ctx); err != nil {
		glog.Fatalf("Failed to initialize server: %v", err)
	}

	router := srv.MountRoutes()
	srv.Start(ctx)

	if configPath != "" {
		watcher := config.NewWatcher(configPath, func(next *config.Config) {
			levelVar.Set(next.Logging.SlogLevel())
			webhook.SetURL(next.Events.WebhookURL)
			logger.Info("applied configuration changes",
				"logLevel", next.Logging.Level, "webhook", next.Events.WebhookURL != "")
		}, logger)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Warn("config watcher stopped", "error", err)
			}
		}()
	}

	logger.Info("modelkeep server ready", "listen", listenAddr)

	// Create HTTP server with graceful shutdown
	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: router,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("worker shutdown error", "error", err)
	}

	logger.Info("modelkeep server stopped")
}

func newLogger(format string, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

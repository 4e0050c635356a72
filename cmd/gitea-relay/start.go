package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mattjoyce/gitea-relay/internal/admin"
	"github.com/mattjoyce/gitea-relay/internal/auth"
	"github.com/mattjoyce/gitea-relay/internal/config"
	"github.com/mattjoyce/gitea-relay/internal/delivery"
	"github.com/mattjoyce/gitea-relay/internal/events"
	"github.com/mattjoyce/gitea-relay/internal/lock"
	"github.com/mattjoyce/gitea-relay/internal/log"
	"github.com/mattjoyce/gitea-relay/internal/monitor"
	"github.com/mattjoyce/gitea-relay/internal/notify"
	"github.com/mattjoyce/gitea-relay/internal/storage"
	"github.com/mattjoyce/gitea-relay/internal/webhook"
)

const (
	pruneInterval = time.Hour
	eventRingSize = 256
)

func resolveConfigPath(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	discovered, err := config.DiscoverConfigPath()
	if err != nil {
		return "", err
	}
	fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", discovered)
	return discovered, nil
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("gitea-relay starting", "version", version, "config", cfg.SourcePath)

	if err := storage.RequireLocal(cfg.Monitors.Path); err != nil {
		logger.Warn("monitors file may not be protected against a second instance", "path", cfg.Monitors.Path, "error", err)
	}

	lockPath := lock.PathFor(cfg.Monitors.Path)
	pidLock, err := lock.AcquirePIDLock(lockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", lockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", lockPath)

	store, err := monitor.Open(cfg.Monitors.Path, log.WithComponent("monitor"))
	if err != nil {
		logger.Error("failed to open monitor store", "path", cfg.Monitors.Path, "error", err)
		return 1
	}
	logger.Info("monitor store loaded", "path", cfg.Monitors.Path, "monitors", store.Len())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	webhookConfig, err := webhook.FromGlobalConfig(cfg.Webhook)
	if err != nil {
		logger.Error("failed to configure webhook server", "error", err)
		return 1
	}

	sender, err := notify.New(cfg.Sender, log.WithComponent("notify"))
	if err != nil {
		logger.Error("failed to configure sender", "kind", cfg.Sender.Kind, "error", err)
		return 1
	}
	logger.Info("sender configured", "kind", cfg.Sender.Kind, "max_attempts", cfg.Sender.MaxAttempts)

	hub := events.NewHub(eventRingSize)
	opts := []webhook.HandlerOption{
		webhook.WithDispatchTimeout(webhookConfig.DispatchTimeout),
		webhook.WithNotifyUnknown(webhookConfig.NotifyUnknownEvents),
		webhook.WithPublisher(hub),
	}

	var deliveries admin.DeliveryLister
	if cfg.Deliveries.Enabled {
		db, err := storage.OpenSQLite(ctx, cfg.Deliveries.Path)
		if err != nil {
			logger.Error("failed to open delivery log", "path", cfg.Deliveries.Path, "error", err)
			return 1
		}
		defer db.Close()

		dlog := delivery.New(db)
		opts = append(opts, webhook.WithRecorder(dlog))
		deliveries = dlog
		go dlog.RunPruner(ctx, cfg.Deliveries.Retention, pruneInterval, log.WithComponent("delivery"))
		logger.Info("delivery log opened", "path", cfg.Deliveries.Path, "retention", cfg.Deliveries.Retention.String())
	}

	handler := webhook.NewHandler(store, sender, log.WithComponent("webhook"), opts...)
	webhookServer := webhook.New(webhookConfig, handler, store, log.WithComponent("webhook"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := webhookServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("webhook: %w", err)
		}
	}()

	if cfg.Admin.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.Admin.Tokens))
		for _, t := range cfg.Admin.Tokens {
			tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
		}
		svc := admin.NewService(store, deliveries,
			admin.WebhookInfo{Listen: webhookConfig.Listen, Path: webhookConfig.Path},
			admin.WithEvents(hub),
		)
		adminServer := admin.NewServer(admin.Config{
			Listen: cfg.Admin.Listen,
			Token:  cfg.Admin.Token,
			Tokens: tokens,
		}, svc, log.WithComponent("admin"))

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := adminServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("admin: %w", err)
			}
		}()
		logger.Info("admin API enabled", "listen", cfg.Admin.Listen)
	} else {
		logger.Warn("admin API disabled; monitors can only be changed by editing the monitors file while stopped", "path", cfg.Monitors.Path)
	}

	logger.Info("gitea-relay running (press Ctrl+C to stop)", "listen", webhookConfig.Listen, "path", webhookConfig.Path)

	exit := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		exit = 1
	}
	cancel()
	wg.Wait()

	logger.Info("gitea-relay stopped")
	return exit
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	fmt.Printf("Configuration valid: %s\n", cfg.SourcePath)
	fmt.Printf("  webhook:    %s%s\n", cfg.Webhook.Listen, cfg.Webhook.Path)
	fmt.Printf("  monitors:   %s\n", cfg.Monitors.Path)
	fmt.Printf("  sender:     %s\n", cfg.Sender.Kind)
	if cfg.Deliveries.Enabled {
		fmt.Printf("  deliveries: %s (retention %s)\n", cfg.Deliveries.Path, cfg.Deliveries.Retention)
	} else {
		fmt.Println("  deliveries: disabled")
	}
	if cfg.Admin.Enabled {
		fmt.Printf("  admin:      %s\n", cfg.Admin.Listen)
	} else {
		fmt.Println("  admin:      disabled")
	}
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	cfg, err := config.LoadUnlocked(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Refusing to lock invalid config: %v\n", err)
		return 1
	}

	manifest, err := config.Lock(cfg.SourcePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}
	fmt.Printf("Wrote %s\n", manifest)
	return 0
}

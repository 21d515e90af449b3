// Command meetbotd runs the meeting-bot control plane: the REST/WebSocket
// API, the status machine, the bot supervisor and its watchdog, the
// worker allocator's reaper, and retention cleanup, all against one
// shared PostgreSQL pool and an optional Redis coordination store.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/vexa-ai/meetbotd/pkg/allocator"
	"github.com/vexa-ai/meetbotd/pkg/api"
	"github.com/vexa-ai/meetbotd/pkg/cleanup"
	"github.com/vexa-ai/meetbotd/pkg/config"
	"github.com/vexa-ai/meetbotd/pkg/database"
	"github.com/vexa-ai/meetbotd/pkg/events"
	"github.com/vexa-ai/meetbotd/pkg/notify"
	"github.com/vexa-ai/meetbotd/pkg/registry"
	"github.com/vexa-ai/meetbotd/pkg/statemachine"
	"github.com/vexa-ai/meetbotd/pkg/supervisor"
	"github.com/vexa-ai/meetbotd/pkg/transcriptstore"
	"github.com/vexa-ai/meetbotd/pkg/webhook"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	} else {
		slog.Info("loaded environment file", "path", envPath)
	}

	if err := run(); err != nil {
		slog.Error("meetbotd exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}

	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	dbClient, err := database.NewClient(ctx, dbCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("error closing database client", "error", err)
		}
	}()
	slog.Info("connected to PostgreSQL", "database", dbCfg.Database)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() {
		if err := rdb.Close(); err != nil {
			slog.Error("error closing redis client", "error", err)
		}
	}()

	reg := registry.New(dbClient.DB())
	eventPublisher := events.NewEventPublisher(dbClient.DB())
	machine := statemachine.New(dbClient.DB(), eventPublisher)
	alloc := allocator.New(rdb, cfg.HeartbeatTTL)

	connManager := events.NewConnectionManager(reg, cfg.WSWriteTimeout)

	notifyListener := events.NewNotifyListener(dbCfg.DSN(), connManager)
	connManager.SetListener(notifyListener)
	if err := notifyListener.Start(ctx); err != nil {
		return err
	}
	defer notifyListener.Stop(context.Background())

	launcher, err := supervisor.NewDockerLauncher(cfg.BotImage)
	if err != nil {
		return err
	}

	slackNotifier := notify.NewService(notify.ServiceConfig{
		Token:        cfg.SlackToken,
		Channel:      cfg.SlackChannel,
		DashboardURL: cfg.DashboardURL,
	})

	webhookDispatcher := webhook.New(3)

	sup := supervisor.New(supervisor.Config{
		BotImage:                cfg.BotImage,
		CallbackBaseURL:         cfg.CallbackBaseURL,
		AllocatorEndpoint:       cfg.AllocatorEndpoint,
		NLaunch:                 cfg.NLaunch,
		TShutdown:               cfg.TShutdown,
		TCallbackGrace:          cfg.TCallbackGrace,
		WatchdogInterval:        cfg.WatchdogInterval,
		DefaultConcurrencyLimit: cfg.DefaultConcurrencyLimit,
		BotAuthSecret:           cfg.BotAuthToken,
	}, reg, machine, alloc, eventPublisher, launcher, slackNotifier, webhookDispatcher)

	if err := notifyListener.SubscribeSystemChannel(ctx, events.MeetingCancelChannel, sup.HandleRemoteCancel); err != nil {
		return err
	}

	go sup.RunWatchdog(ctx)
	go runAllocatorReaper(ctx, alloc, cfg.ReaperInterval)

	cleanupSvc := cleanup.NewService(dbClient.DB(), cfg.MeetingRetentionDays, cfg.CleanupInterval)
	cleanupSvc.Start(ctx)
	defer cleanupSvc.Stop()

	redisPinger := func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}

	transcripts := transcriptstore.New(cfg.TranscriptStoreURL)
	server := api.NewServer(cfg, dbClient, reg, sup, connManager, transcripts, alloc, redisPinger, cfg.BotAuthToken)
	if dashboardDir := os.Getenv("DASHBOARD_DIR"); dashboardDir != "" {
		server.SetDashboardDir(dashboardDir)
	}

	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return err
	}

	serverErrCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := server.StartWithListener(ln); err != nil {
			serverErrCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-serverErrCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// runAllocatorReaper periodically removes rank entries whose heartbeat
// key has expired, per spec.md §4.3's T_reaper sweep.
func runAllocatorReaper(ctx context.Context, alloc *allocator.Allocator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := alloc.Reap(ctx); err != nil {
				slog.Error("allocator reaper scan failed", "error", err)
			} else if n > 0 {
				slog.Info("allocator reaper removed stale workers", "count", n)
			}
		}
	}
}

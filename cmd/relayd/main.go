package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"

	apiPkg "github.com/h1v3-io/relay/internal/api"
	"github.com/h1v3-io/relay/internal/config"
	"github.com/h1v3-io/relay/internal/connector/telegram"
	"github.com/h1v3-io/relay/internal/connector/webhook"
	"github.com/h1v3-io/relay/internal/logbuf"
	"github.com/h1v3-io/relay/internal/notify"
	"github.com/h1v3-io/relay/internal/relay"
	"github.com/h1v3-io/relay/internal/scheduler"
	"github.com/h1v3-io/relay/internal/ticket"
	"github.com/h1v3-io/relay/pkg/protocol"
)

func main() {
	configPath := flag.String("config", os.Getenv("RELAY_CONFIG"), "Path to config file (.json, .yaml); empty reads RELAY_* env")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	// Set up logging
	level := new(slog.LevelVar)
	logBuf := logbuf.New(logbuf.DefaultSize)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	logger := slog.New(logbuf.NewHandler(jsonHandler, logBuf))

	// Load config (2 modes: file, env)
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if lvl, err := cfg.SlogLevel(); err == nil {
		level.Set(lvl)
	}
	if *verbose {
		level.Set(slog.LevelDebug)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, logBuf); err != nil {
		logger.Error("relayd failed", "error", err)
		os.Exit(1)
	}
	logger.Info("relayd stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, logBuf *logbuf.Buffer) error {
	responderChatID := strconv.FormatInt(cfg.Telegram.ResponderChatID, 10)
	logger.Info("relayd starting",
		"store", cfg.Store.Driver,
		"webhook", cfg.WebhookMode(),
		"responder_chat_id", responderChatID,
	)

	// 1. Ticket store
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	// Ticket ids continue after the newest stored one even if the clock
	// went backwards across a restart.
	ids := relay.NewIDGenerator()
	latest, err := store.List(ctx, ticket.Filter{Limit: 1})
	if err != nil {
		return fmt.Errorf("read latest ticket: %w", err)
	}
	if len(latest) > 0 {
		ids.Seed(latest[0].ID)
	}

	// 2. Audit feed
	var observer relay.Observer = relay.NopObserver{}
	var feed *notify.Slack
	if cfg.Notify.SlackWebhookURL != "" {
		feed = notify.NewSlack(cfg.Notify.SlackWebhookURL, logger.With("component", "notify"))
		observer = feed
	}

	// 3. Telegram transport. Updates go through the per-chat queue,
	// which is created once the dispatcher exists.
	var queue *relay.Queue
	tgCfg := telegram.Config{
		Token:    cfg.Telegram.Token,
		SendRate: cfg.Telegram.SendRate,
	}
	if cfg.WebhookMode() {
		tgCfg.WebhookURL = cfg.WebhookURL()
	}
	tg, err := telegram.New(ctx, tgCfg, func(ctx context.Context, ev protocol.Event) error {
		return queue.Submit(ctx, ev)
	}, logger.With("component", "telegram"))
	if err != nil {
		return err
	}

	// 4. Relay
	dispatcher := relay.NewDispatcher(relay.DispatcherConfig{
		ResponderChatID: responderChatID,
		AdminUserID:     strconv.FormatInt(cfg.Telegram.AdminUserID, 10),
		Transport:       tg,
		Store:           store,
		Observer:        observer,
		IDs:             ids,
		Logger:          logger,
	})
	queue = relay.NewQueue(dispatcher.Handle, cfg.Relay.MaxConcurrent, cfg.Relay.QueueSize, logger)
	defer queue.Close()

	// 5. API server (+ webhook receiver)
	api := apiPkg.NewServer(store, apiPkg.Config{
		Host:            cfg.API.Host,
		Port:            cfg.API.Port,
		Key:             cfg.API.Key,
		ResponderChatID: responderChatID,
	}, logger.With("component", "api"), logBuf)
	if cfg.WebhookMode() {
		wh := webhook.New(webhook.Config{Secret: cfg.Telegram.Webhook.Secret}, tg.HandleUpdateJSON, logger.With("component", "webhook"))
		api.Handle("POST /telegram/webhook/{secret}", wh)
	}

	// 6. Scheduler
	sched := scheduler.New(logger.With("component", "scheduler"))
	if cfg.Digest.Schedule != "" {
		digest := relay.NewDigest(store, tg, responderChatID, cfg.Digest.Limit)
		if err := sched.AddJob("digest", cfg.Digest.Schedule, digest.Run); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(safeGo(logger, "telegram", func() error { return tg.Start(gctx) }))
	g.Go(safeGo(logger, "api", func() error { return api.Start(gctx) }))
	g.Go(safeGo(logger, "scheduler", func() error { return sched.Start(gctx) }))
	if feed != nil {
		g.Go(safeGo(logger, "notify", func() error { return feed.Run(gctx) }))
	}

	logger.Info("relayd running", "api_addr", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (ticket.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		return ticket.NewPostgresStore(ctx, cfg.Store.DSN)
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		return ticket.NewSQLiteStore(cfg.Store.Path)
	}
}

// safeGo wraps fn with panic recovery for use with errgroup.
func safeGo(logger *slog.Logger, name string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
				err = fmt.Errorf("%s: panic: %v", name, r)
			}
		}()
		return fn()
	}
}

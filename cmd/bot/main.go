package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/camuig/sigtrader/internal/broker"
	"github.com/camuig/sigtrader/internal/config"
	"github.com/camuig/sigtrader/internal/domain"
	"github.com/camuig/sigtrader/internal/exchange"
	"github.com/camuig/sigtrader/internal/executor"
	"github.com/camuig/sigtrader/internal/exposure"
	"github.com/camuig/sigtrader/internal/guard"
	"github.com/camuig/sigtrader/internal/intent"
	"github.com/camuig/sigtrader/internal/logger"
	"github.com/camuig/sigtrader/internal/placement"
	"github.com/camuig/sigtrader/internal/protect"
	"github.com/camuig/sigtrader/internal/reconcile"
	"github.com/camuig/sigtrader/internal/scheduler"
	"github.com/camuig/sigtrader/internal/storage"
	"github.com/camuig/sigtrader/internal/telegram"
	"github.com/camuig/sigtrader/internal/throttle"
	"github.com/camuig/sigtrader/internal/trace"
	"github.com/camuig/sigtrader/internal/web"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	dbPath := flag.String("db", "data/sigtrader.db", "path to SQLite database")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	// Init logger
	log := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format, os.Stdout)

	mode := tradingMode(cfg)
	log.Info("starting sigtrader", "mode", mode, "live_trading", cfg.Trading.LiveTrading, "symbols", len(cfg.Watchlist))

	// Init database
	db, err := storage.NewDatabase(*dbPath)
	if err != nil {
		log.Error("database init failed", "error", err)
		os.Exit(1)
	}
	repo := storage.NewRepository(db)

	// Context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := repo.SyncWatchItems(ctx, cfg.WatchItems()); err != nil {
		log.Error("sync watchlist failed", "error", err)
		os.Exit(1)
	}

	// Init broker client
	bc, err := broker.NewClient(ctx, cfg, log)
	if err != nil {
		log.Error("broker client init failed", "error", err)
		os.Exit(1)
	}

	var venue exchange.Adapter = bc
	if cfg.Trading.Paper {
		venue = exchange.NewPaper(decimal.NewFromFloat(cfg.Trading.PaperCash))
	}
	limited := exchange.NewRateLimited(venue, cfg.Trading.RateLimit.RequestsPerSecond, cfg.Trading.RateLimit.Burst)

	// Init services
	notifier := telegram.NewNotifier(cfg.Telegram, log)
	tracker := exposure.NewTracker(repo)
	gate := throttle.NewGate(repo)
	placer := placement.NewService(limited, repo, placement.Config{
		OrderType:   domain.OrderType(cfg.Trading.OrderType),
		MaxAttempts: cfg.Trading.Retry.MaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay(),
		MaxDelay:    cfg.RetryMaxDelay(),
	}, log)
	guards := guard.NewPipeline(tracker, repo, limited, guard.Limits{
		LiveTrading:      cfg.Trading.LiveTrading,
		OrderCooldown:    cfg.OrderCooldown(),
		MaxOpenPositions: cfg.Trading.MaxOpenPositions,
		MaxPositionValue: cfg.Trading.MaxPositionValue,
	})
	exec := executor.NewExecutor(
		broker.NewSnapshotProvider(bc),
		repo,
		gate,
		trace.NewTracer(repo, gate, notifier, log),
		intent.NewLedger(repo),
		guards,
		placer,
		cfg.Trading.PriceBucket,
		log,
	).WithPriceObserver(limited)
	creator := protect.NewCreator(placer, repo, notifier, protect.Config{
		Window: cfg.ProtectionWindow(),
		Blend:  cfg.Trading.Protection.Blend,
	}, log)
	reconciler := reconcile.NewReconciler(limited, repo, tracker, creator, cfg.CallTimeout(), log).WithAlerter(notifier)
	exec.WithRefresher(reconciler)

	start, end := cfg.SessionBounds()
	sched := scheduler.NewScheduler(repo, exec, reconciler, notifier, scheduler.Config{
		Interval:    cfg.TradingInterval(),
		UnitTimeout: cfg.UnitTimeout(),
		Concurrency: cfg.Trading.Concurrency,
		Session: scheduler.Session{
			Enabled:  cfg.Trading.Session.Enabled,
			Location: cfg.SessionLocation(),
			Start:    start,
			End:      end,
		},
	}, log)
	webServer := web.NewServer(repo, cfg.Web.Port, log)

	// Start scheduler in goroutine
	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.Run(ctx)
	}()

	// Start web server in goroutine
	go func() {
		if err := webServer.Start(); err != nil {
			log.Error("web server error", "error", err)
		}
	}()

	notifier.NotifyStatus(fmt.Sprintf("🤖 Sigtrader started (%s, live trading %v)", mode, cfg.Trading.LiveTrading))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", "signal", sig.String())

	// Graceful shutdown
	cancel() // stop scheduler

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Warn("scheduler did not stop before shutdown deadline")
	}

	if err := webServer.Shutdown(shutdownCtx); err != nil {
		log.Error("web server shutdown error", "error", err)
	}

	if err := bc.Stop(); err != nil {
		log.Error("broker client stop error", "error", err)
	}

	notifier.NotifyStatus("🛑 Sigtrader stopped")
	log.Info("sigtrader stopped")
}

func tradingMode(cfg *config.Config) string {
	switch {
	case cfg.Trading.Paper:
		return "PAPER"
	case cfg.IsSandbox():
		return "SANDBOX"
	default:
		return "LIVE"
	}
}

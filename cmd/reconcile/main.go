package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/camuig/sigtrader/internal/broker"
	"github.com/camuig/sigtrader/internal/config"
	"github.com/camuig/sigtrader/internal/domain"
	"github.com/camuig/sigtrader/internal/exchange"
	"github.com/camuig/sigtrader/internal/exposure"
	"github.com/camuig/sigtrader/internal/logger"
	"github.com/camuig/sigtrader/internal/placement"
	"github.com/camuig/sigtrader/internal/protect"
	"github.com/camuig/sigtrader/internal/reconcile"
	"github.com/camuig/sigtrader/internal/storage"
	"github.com/camuig/sigtrader/internal/telegram"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	dbPath := flag.String("db", "data/sigtrader.db", "path to SQLite database")
	dryRun := flag.Bool("dry-run", false, "show open orders and exposure without querying the exchange")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if cfg.Trading.Paper {
		fmt.Fprintln(os.Stderr, "paper orders live in the bot process; nothing to reconcile")
		os.Exit(1)
	}

	log := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	db, err := storage.NewDatabase(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database error: %v\n", err)
		os.Exit(1)
	}
	repo := storage.NewRepository(db)

	ctx := context.Background()

	open, err := repo.ListOpenOrders(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list open orders: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Found %d open order(s):\n\n", len(open))
	for _, o := range open {
		fmt.Printf("  %s %-6s %-11s %-4s %s qty %s filled %s\n",
			o.OrderID, o.Symbol, o.Role, o.Side, o.Status, o.Qty, o.FilledQty)
	}
	fmt.Println()

	if *dryRun {
		printExposure(ctx, repo)
		fmt.Println("Dry run: exchange not queried.")
		return
	}

	bc, err := broker.NewClient(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "broker init error: %v\n", err)
		os.Exit(1)
	}
	defer bc.Stop()

	venue := exchange.NewRateLimited(bc, cfg.Trading.RateLimit.RequestsPerSecond, cfg.Trading.RateLimit.Burst)
	notifier := telegram.NewNotifier(cfg.Telegram, log)
	tracker := exposure.NewTracker(repo)
	placer := placement.NewService(venue, repo, placement.Config{
		OrderType:   domain.OrderType(cfg.Trading.OrderType),
		MaxAttempts: cfg.Trading.Retry.MaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay(),
		MaxDelay:    cfg.RetryMaxDelay(),
	}, log)
	creator := protect.NewCreator(placer, repo, notifier, protect.Config{
		Window: cfg.ProtectionWindow(),
		Blend:  cfg.Trading.Protection.Blend,
	}, log)
	reconciler := reconcile.NewReconciler(venue, repo, tracker, creator, cfg.CallTimeout(), log).WithAlerter(notifier)

	transitions, runErr := reconciler.Run(ctx)
	for _, t := range transitions {
		fmt.Printf("  [OK]   %s %s %s: %s -> %s (+%s)\n", t.Symbol, t.Role, t.OrderID, t.From, t.To, t.FillDelta)
	}
	fmt.Printf("\nDone: %d transition(s).\n\n", len(transitions))

	printExposure(ctx, repo)

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "reconcile errors: %v\n", runErr)
		os.Exit(1)
	}
}

func printExposure(ctx context.Context, repo *storage.Repository) {
	counters, err := repo.ListExposure(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list exposure: %v\n", err)
		return
	}
	fmt.Println("Exposure:")
	for _, c := range counters {
		fmt.Printf("  %-6s net %s, open positions %d\n", c.Symbol, c.NetQty, c.OpenPositions)
	}
	fmt.Println()
}

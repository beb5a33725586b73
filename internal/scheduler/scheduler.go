// Package scheduler drives the tick loop: reconcile open orders, then fan out one unit per watch item.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/camuig/sigtrader/internal/logger"
	"github.com/camuig/sigtrader/internal/metrics"
	"github.com/camuig/sigtrader/internal/reconcile"
	"github.com/camuig/sigtrader/internal/storage"
)

type WatchList interface {
	ListWatchItems(ctx context.Context) ([]storage.WatchItem, error)
}

// UnitRunner evaluates one watch item. RunUnit must not panic out and handles its own errors.
type UnitRunner interface {
	RunUnit(ctx context.Context, item storage.WatchItem)
}

type Reconciler interface {
	Run(ctx context.Context) ([]reconcile.Transition, error)
}

type Alerter interface {
	Send(text string) bool
}

type Config struct {
	Interval    time.Duration
	UnitTimeout time.Duration
	Concurrency int
	Session     Session
}

// Session is the weekday trading window; a zero Session is always open.
type Session struct {
	Enabled  bool
	Location *time.Location
	Start    int // minutes after midnight
	End      int
}

func (s Session) Open(t time.Time) bool {
	if !s.Enabled {
		return true
	}
	if s.Location != nil {
		t = t.In(s.Location)
	}
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	return m >= s.Start && m <= s.End
}

type Scheduler struct {
	items      WatchList
	units      UnitRunner
	reconciler Reconciler
	alerts     Alerter
	cfg        Config
	logger     *logger.Logger
	now        func() time.Time

	mu       sync.Mutex
	inFlight map[string]time.Time
}

func NewScheduler(items WatchList, units UnitRunner, reconciler Reconciler, alerts Alerter, cfg Config, log *logger.Logger) *Scheduler {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Scheduler{
		items:      items,
		units:      units,
		reconciler: reconciler,
		alerts:     alerts,
		cfg:        cfg,
		logger:     log,
		now:        time.Now,
		inFlight:   make(map[string]time.Time),
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "interval", s.cfg.Interval.String(), "concurrency", s.cfg.Concurrency)

	// Run immediately on start
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// TickReport summarizes one tick.
type TickReport struct {
	Started     []string
	Skipped     []string
	Abandoned   []string
	Transitions int
}

// Tick runs one reconciliation pass and one unit per watch item. It returns when every unit
// finished or the tick deadline passed, whichever comes first.
func (s *Scheduler) Tick(ctx context.Context) (report TickReport) {
	start := time.Now()
	defer func() {
		metrics.ObserveTick(time.Since(start))
	}()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in scheduler tick", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			if s.alerts != nil {
				s.alerts.Send(fmt.Sprintf("⚠️ *Scheduler panic*\n%v", r))
			}
		}
	}()

	if !s.cfg.Session.Open(s.now()) {
		s.logger.Debug("outside trading hours, skipping tick")
		return report
	}

	tickCtx, cancel := context.WithTimeout(ctx, s.cfg.Interval)
	defer cancel()

	report.Transitions = s.reconcile(tickCtx)

	items, err := s.items.ListWatchItems(tickCtx)
	if err != nil {
		s.logger.Error("list watch items", "error", err)
		return report
	}

	var (
		g       errgroup.Group
		mu      sync.Mutex
		closed  bool
		running = make(map[string]bool, len(items))
		done    = make(chan struct{})
	)
	g.SetLimit(s.cfg.Concurrency)

	go func() {
		defer close(done)
		for _, item := range items {
			if tickCtx.Err() != nil {
				break
			}
			if !s.acquire(item.Symbol) {
				s.logger.Warn("previous unit still running, skipping", "symbol", item.Symbol)
				mu.Lock()
				if !closed {
					report.Skipped = append(report.Skipped, item.Symbol)
				}
				mu.Unlock()
				continue
			}
			mu.Lock()
			if closed {
				mu.Unlock()
				s.release(item.Symbol)
				break
			}
			running[item.Symbol] = true
			report.Started = append(report.Started, item.Symbol)
			mu.Unlock()

			item := item
			g.Go(func() error {
				defer func() {
					s.release(item.Symbol)
					mu.Lock()
					delete(running, item.Symbol)
					mu.Unlock()
				}()
				// the slot may free up only after the deadline
				if tickCtx.Err() != nil {
					return nil
				}
				unitCtx, cancel := context.WithTimeout(ctx, s.cfg.UnitTimeout)
				defer cancel()
				s.units.RunUnit(unitCtx, item)
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
	case <-tickCtx.Done():
	}

	mu.Lock()
	closed = true
	for symbol := range running {
		report.Abandoned = append(report.Abandoned, symbol)
	}
	mu.Unlock()

	sort.Strings(report.Abandoned)
	for _, symbol := range report.Abandoned {
		metrics.IncAbandoned()
		s.logger.Warn("unit abandoned at tick deadline", "symbol", symbol)
	}

	s.logger.Debug("tick completed",
		"started", len(report.Started), "skipped", len(report.Skipped),
		"abandoned", len(report.Abandoned), "duration", time.Since(start).String())
	return report
}

func (s *Scheduler) reconcile(ctx context.Context) int {
	if s.reconciler == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.UnitTimeout)
	defer cancel()

	transitions, err := s.reconciler.Run(ctx)
	if err != nil {
		s.logger.Error("reconcile orders", "error", err)
	}
	for _, t := range transitions {
		s.logger.Info("order transition",
			"order_id", t.OrderID, "symbol", t.Symbol, "role", t.Role,
			"from", t.From, "to", t.To, "fill_delta", t.FillDelta.String())
	}
	return len(transitions)
}

// acquire marks symbol as in flight unless an earlier unit for it has not returned yet.
func (s *Scheduler) acquire(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[symbol]; busy {
		return false
	}
	s.inFlight[symbol] = s.now()
	return true
}

func (s *Scheduler) release(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, symbol)
}

// Package executor runs one watch item through the signal-to-order pipeline.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/shopspring/decimal"

	"github.com/camuig/sigtrader/internal/domain"
	"github.com/camuig/sigtrader/internal/exchange"
	"github.com/camuig/sigtrader/internal/guard"
	"github.com/camuig/sigtrader/internal/intent"
	"github.com/camuig/sigtrader/internal/logger"
	"github.com/camuig/sigtrader/internal/metrics"
	"github.com/camuig/sigtrader/internal/placement"
	"github.com/camuig/sigtrader/internal/signal"
	"github.com/camuig/sigtrader/internal/storage"
	"github.com/camuig/sigtrader/internal/throttle"
	"github.com/camuig/sigtrader/internal/trace"
)

// SnapshotProvider supplies the current price and indicators of a watch item.
type SnapshotProvider interface {
	Snapshot(ctx context.Context, item *storage.WatchItem) (signal.Input, error)
}

// ProtectionRefresher brings a symbol's protective orders up to date with the venue.
type ProtectionRefresher interface {
	RefreshProtection(ctx context.Context, symbol string) error
}

type Executor struct {
	snapshots   SnapshotProvider
	repo        *storage.Repository
	gate        *throttle.Gate
	tracer      *trace.Tracer
	ledger      *intent.Ledger
	guards      *guard.Pipeline
	placer      *placement.Service
	observer    exchange.PriceObserver
	refresher   ProtectionRefresher
	priceBucket decimal.Decimal
	logger      *logger.Logger
	now         func() time.Time
}

func NewExecutor(
	snapshots SnapshotProvider,
	repo *storage.Repository,
	gate *throttle.Gate,
	tracer *trace.Tracer,
	ledger *intent.Ledger,
	guards *guard.Pipeline,
	placer *placement.Service,
	priceBucket decimal.Decimal,
	log *logger.Logger,
) *Executor {
	return &Executor{
		snapshots:   snapshots,
		repo:        repo,
		gate:        gate,
		tracer:      tracer,
		ledger:      ledger,
		guards:      guards,
		placer:      placer,
		priceBucket: priceBucket,
		logger:      log,
		now:         time.Now,
	}
}

// WithPriceObserver feeds every evaluated price to a simulated venue.
func (e *Executor) WithPriceObserver(o exchange.PriceObserver) *Executor {
	e.observer = o
	return e
}

// WithRefresher reconciles a symbol's protective orders before the guards read its exposure.
func (e *Executor) WithRefresher(r ProtectionRefresher) *Executor {
	e.refresher = r
	return e
}

// Result describes how far a signal got. Outcome is set only when a trace was emitted.
type Result struct {
	Decision  signal.Decision
	Throttled *throttle.Result
	Outcome   trace.Outcome
	Traced    bool
	OrderID   string
}

// unit is the state of one signal lifecycle.
type unit struct {
	item   *storage.WatchItem
	sig    signal.Signal
	lc     *trace.Lifecycle
	key    string
	intent *storage.OrderIntent
	checks []string
	log    *logger.Logger
}

// RunUnit evaluates item once. It never panics and never returns an error: every failure is
// logged and, when nothing else traced it, recorded as a FAILED trace.
func (e *Executor) RunUnit(ctx context.Context, item storage.WatchItem) {
	start := time.Now()
	defer func() {
		metrics.ObserveUnit(time.Since(start))
	}()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic in unit", "symbol", item.Symbol, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			e.tracer.Unattached(context.WithoutCancel(ctx), item.Symbol, domain.ReasonUnexpectedError, fmt.Sprintf("panic: %v", r))
		}
	}()

	in, err := e.snapshots.Snapshot(ctx, &item)
	if err != nil {
		e.logger.Warn("snapshot unavailable, holding", "symbol", item.Symbol, "error", err)
		return
	}

	if _, err := e.Process(ctx, &item, in); err != nil {
		e.logger.Error("unit failed", "symbol", item.Symbol, "error", err)
		e.tracer.Unattached(context.WithoutCancel(ctx), item.Symbol, domain.ReasonUnexpectedError, err.Error())
	}
}

// Process runs one snapshot through evaluation, throttling and, for a signal that passes, the
// traced order lifecycle. An error is returned only for failures before the signal was stored;
// later failures are traced on the signal itself.
func (e *Executor) Process(ctx context.Context, item *storage.WatchItem, in signal.Input) (res Result, err error) {
	st, err := signal.Resolve(item.StrategyKey)
	if err != nil {
		return res, fmt.Errorf("resolve strategy for %s: %w", item.Symbol, err)
	}
	if in.Symbol == "" {
		in.Symbol = item.Symbol
	}
	if in.At.IsZero() {
		in.At = e.now()
	}
	if e.observer != nil && in.Price.IsPositive() {
		e.observer.ObservePrice(item.Symbol, in.Price)
	}

	res.Decision = signal.Evaluate(in.Price, in.Snapshot, st)
	sig, ok := signal.NewSignal(in, st, res.Decision)
	if !ok {
		e.logger.Debug("hold", "symbol", item.Symbol, "reason", res.Decision.Reason, "message", res.Decision.Message)
		return res, nil
	}

	th, err := e.gate.Check(ctx, sig.Symbol, sig.Side, sig.Price, sig.At, throttle.RulesFor(item))
	if err != nil {
		return res, err
	}
	if !th.Pass {
		res.Throttled = &th
		e.logger.Info("signal throttled", "symbol", sig.Symbol, "side", sig.Side, "reason", th.Reason, "message", th.Message)
		return res, nil
	}

	rec, err := e.saveSignal(ctx, sig)
	if err != nil {
		return res, err
	}

	u := &unit{item: item, sig: sig, lc: e.tracer.Begin(trace.SubjectOf(rec, item.AlertEnabled(sig.Side)))}
	u.log = e.logger.With("symbol", sig.Symbol, "side", sig.Side, "signal_id", rec.ID, "correlation_id", u.lc.CorrelationID())

	defer func() {
		if r := recover(); r != nil {
			e.fail(ctx, u, fmt.Errorf("panic: %v", r))
			u.log.Error("panic in order lifecycle", "stack", string(debug.Stack()))
		}
		res.Outcome, res.Traced = u.lc.Emitted()
		if u.intent != nil && u.intent.OrderID != nil {
			res.OrderID = *u.intent.OrderID
		}
	}()

	e.decide(ctx, u, rec.ID)
	return res, nil
}

// decide runs guards, admission and placement. Every return path emits exactly one outcome.
func (e *Executor) decide(ctx context.Context, u *unit, signalID uint) {
	sig := u.sig

	if e.refresher != nil {
		if err := e.refresher.RefreshProtection(ctx, sig.Symbol); err != nil {
			u.log.Warn("refresh protective orders", "error", err)
		}
	}

	gres, err := e.guards.Run(ctx, guard.Request{Item: u.item, Side: sig.Side, Price: sig.Price, Now: e.now()})
	u.checks = gres.Checks
	if err != nil {
		e.fail(ctx, u, err)
		return
	}

	u.key = intent.Key(intent.KeyInput{
		SourceID: sig.SourceID,
		Symbol:   sig.Symbol,
		Side:     sig.Side,
		Price:    sig.Price,
		At:       sig.At,
	}, e.priceBucket)

	adm, err := e.ledger.Admit(ctx, u.key, &signalID, sig.Symbol, sig.Side)
	if err != nil {
		e.fail(ctx, u, err)
		return
	}
	if adm.Duplicate {
		metrics.IncDedup()
		e.emit(ctx, u, trace.Skipped(domain.ReasonDedupSkipped,
			fmt.Sprintf("idempotency key %s already admitted", u.key), e.traceContext(u, nil)))
		return
	}
	u.intent = adm.Intent

	if !gres.Passed {
		e.emit(ctx, u, trace.Skipped(gres.Reason, gres.Message, e.traceContext(u, nil)))
		e.resolve(ctx, u, gres.IntentStatus(), nil, gres.Message)
		return
	}

	order, err := e.placer.PlaceEntry(ctx, placement.EntryRequest{
		Intent:        u.intent,
		ClientOrderID: intent.ClientOrderID(u.key),
		Symbol:        sig.Symbol,
		Side:          sig.Side,
		Price:         sig.Price,
		Amount:        u.item.TradeAmount,
		ATR:           sig.ATR(),
		Closing:       gres.ClosingQty(sig.Side),
	})

	var failure *placement.Failure
	switch {
	case err == nil:
		orderID := order.OrderID
		e.emit(ctx, u, trace.Executed(domain.ReasonOrderPlaced,
			fmt.Sprintf("%s %s %s @ %s, order %s", sig.Side, order.Qty, sig.Symbol, order.Price, orderID),
			e.traceContext(u, map[string]any{"order_id": orderID, "qty": order.Qty.String(), "price": order.Price.String()})))
		e.resolve(ctx, u, domain.IntentOrderPlaced, &orderID, "")

	case errors.As(err, &failure):
		e.emit(ctx, u, trace.Failed(failure.Reason, failure.Error(), failure.Snippet, e.traceContext(u, nil)))
		e.resolve(ctx, u, domain.IntentOrderFailed, nil, failure.Error())

	case order != nil:
		// accepted by the venue but not recorded: the reconciler cannot follow it
		orderID := order.OrderID
		e.emit(ctx, u, trace.Failed(domain.ReasonUnexpectedError,
			fmt.Sprintf("order %s accepted by the venue but not recorded: %v", orderID, err),
			"", e.traceContext(u, map[string]any{"order_id": orderID})))
		e.resolve(ctx, u, domain.IntentOrderPlaced, &orderID, err.Error())

	default:
		e.fail(ctx, u, err)
	}
}

// fail records an unexpected error on the lifecycle and the intent, whichever are still open.
func (e *Executor) fail(ctx context.Context, u *unit, err error) {
	u.log.Error("order lifecycle failed", "error", err)
	e.emit(ctx, u, trace.Failed(domain.ReasonUnexpectedError, err.Error(), "", e.traceContext(u, nil)))
	if u.intent != nil && u.intent.Status == domain.IntentPending {
		e.resolve(ctx, u, domain.IntentOrderFailed, nil, err.Error())
	}
}

// emit and resolve outlive the unit deadline so a timed-out unit still leaves its records.
func (e *Executor) emit(ctx context.Context, u *unit, o trace.Outcome) {
	u.lc.Emit(context.WithoutCancel(ctx), o)
}

func (e *Executor) resolve(ctx context.Context, u *unit, status domain.IntentStatus, orderID *string, msg string) {
	if err := e.ledger.Resolve(context.WithoutCancel(ctx), u.intent, status, orderID, msg); err != nil {
		u.log.Error("resolve intent", "intent_id", u.intent.ID, "status", status, "error", err)
	}
}

func (e *Executor) traceContext(u *unit, extra map[string]any) map[string]any {
	c := map[string]any{
		"strategy":   u.sig.Strategy,
		"confidence": u.sig.Confidence,
		"price":      u.sig.Price.String(),
	}
	if len(u.checks) > 0 {
		c["checks"] = u.checks
	}
	if u.key != "" {
		c["idempotency_key"] = u.key
	}
	for k, v := range extra {
		c[k] = v
	}
	return c
}

func (e *Executor) saveSignal(ctx context.Context, sig signal.Signal) (*storage.SignalRecord, error) {
	snap, err := json.Marshal(sig.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	rec := &storage.SignalRecord{
		Symbol:      sig.Symbol,
		Side:        sig.Side,
		Price:       sig.Price,
		Confidence:  sig.Confidence,
		StrategyKey: sig.Strategy,
		SourceID:    sig.SourceID,
		Snapshot:    string(snap),
		ATR:         sig.ATR(),
		EvaluatedAt: sig.At,
	}
	if err := e.repo.SaveSignal(ctx, rec); err != nil {
		return nil, fmt.Errorf("save signal %s: %w", sig.Symbol, err)
	}
	return rec, nil
}

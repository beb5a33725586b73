// Package reconcile follows open orders at the venue and applies fills to the store and exposure.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/camuig/sigtrader/internal/domain"
	"github.com/camuig/sigtrader/internal/exchange"
	"github.com/camuig/sigtrader/internal/exposure"
	"github.com/camuig/sigtrader/internal/logger"
	"github.com/camuig/sigtrader/internal/metrics"
	"github.com/camuig/sigtrader/internal/storage"
)

// Protector attaches exit orders to a filled ENTRY order.
type Protector interface {
	Protect(ctx context.Context, entry *storage.ExchangeOrder) error
}

type Alerter interface {
	Send(text string) bool
}

type Transition struct {
	OrderID   string
	Symbol    string
	Role      domain.OrderRole
	From      domain.OrderStatus
	To        domain.OrderStatus
	FillDelta decimal.Decimal
}

type Reconciler struct {
	adapter     exchange.Adapter
	repo        *storage.Repository
	exposure    *exposure.Tracker
	protector   Protector
	alerts      Alerter
	callTimeout time.Duration
	logger      *logger.Logger
	now         func() time.Time
}

func NewReconciler(
	adapter exchange.Adapter,
	repo *storage.Repository,
	exp *exposure.Tracker,
	protector Protector,
	callTimeout time.Duration,
	log *logger.Logger,
) *Reconciler {
	return &Reconciler{
		adapter:     adapter,
		repo:        repo,
		exposure:    exp,
		protector:   protector,
		callTimeout: callTimeout,
		logger:      log,
		now:         time.Now,
	}
}

// WithAlerter reports positions left without protection after a partial exit.
func (r *Reconciler) WithAlerter(a Alerter) *Reconciler {
	r.alerts = a
	return r
}

// Run reconciles every non-terminal order once. A failing order is logged and skipped so the
// rest of the pass still runs; the returned error joins all failures.
func (r *Reconciler) Run(ctx context.Context) ([]Transition, error) {
	orders, err := r.repo.ListOpenOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("list open orders: %w", err)
	}

	var transitions []Transition
	var errs []error
	for i := range orders {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		tr, err := r.ReconcileOrder(ctx, &orders[i])
		if err != nil {
			r.logger.Error("reconcile order", "order_id", orders[i].OrderID, "symbol", orders[i].Symbol, "error", err)
			errs = append(errs, err)
			continue
		}
		if tr != nil {
			transitions = append(transitions, *tr)
		}
	}

	if err := r.protectPending(ctx); err != nil {
		errs = append(errs, err)
	}
	return transitions, errors.Join(errs...)
}

// RefreshProtection reconciles the working protective orders on symbol, so a stop that already
// fired at the venue shows in exposure before a new order is sized against it.
func (r *Reconciler) RefreshProtection(ctx context.Context, symbol string) error {
	legs, err := r.repo.ListWorkingProtective(ctx, symbol, "")
	if err != nil {
		return fmt.Errorf("list protective orders %s: %w", symbol, err)
	}
	var errs []error
	for i := range legs {
		if _, err := r.ReconcileOrder(ctx, &legs[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ReconcileOrder queries one order and applies its transition, if any.
func (r *Reconciler) ReconcileOrder(ctx context.Context, o *storage.ExchangeOrder) (*Transition, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	st, err := r.adapter.GetOrderStatus(callCtx, exchange.OrderRef{OrderID: o.OrderID, Symbol: o.Symbol, Type: o.Type})
	cancel()
	if err != nil {
		return nil, fmt.Errorf("order status %s: %w", o.OrderID, err)
	}

	to, filled := MapStatus(st, o.Qty)
	if filled.LessThan(o.FilledQty) {
		filled = o.FilledQty
	}
	delta := filled.Sub(o.FilledQty)

	moreFill := to == o.Status && delta.IsPositive()
	if !domain.CanTransition(o.Status, to) && !moreFill {
		if to != o.Status {
			r.logger.Debug("ignoring status regression",
				"order_id", o.OrderID, "from", o.Status, "to", to, "raw", st.RawStatus)
		}
		return nil, nil
	}

	update := storage.OrderUpdate{
		Status:      to,
		FilledQty:   filled,
		FilledPrice: o.FilledPrice,
		FilledAt:    o.FilledAt,
	}
	if st.AvgPrice.IsPositive() {
		update.FilledPrice = st.AvgPrice
	} else if delta.IsPositive() && update.FilledPrice.IsZero() {
		update.FilledPrice = fallbackFillPrice(o)
	}
	if to == domain.OrderFilled {
		at := r.now()
		if st.FilledAt != nil {
			at = *st.FilledAt
		}
		update.FilledAt = &at
	}

	applied := false
	err = r.repo.Transaction(ctx, func(tx *storage.Repository) error {
		ok, err := tx.UpdateOrderFrom(ctx, o.OrderID, o.Status, o.FilledQty, update)
		if err != nil {
			return fmt.Errorf("update order %s: %w", o.OrderID, err)
		}
		if !ok {
			return nil
		}
		applied = true
		if delta.IsPositive() {
			_, err := r.exposure.In(tx).Apply(ctx, exposure.Fill{
				Symbol:    o.Symbol,
				Side:      o.Side,
				Qty:       delta,
				FirstFill: o.FilledQty.IsZero(),
			})
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, nil
	}

	tr := &Transition{OrderID: o.OrderID, Symbol: o.Symbol, Role: o.Role, From: o.Status, To: to, FillDelta: delta}
	r.logger.Info("order transition",
		"order_id", o.OrderID,
		"symbol", o.Symbol,
		"role", o.Role,
		"from", o.Status,
		"to", to,
		"fill_delta", delta,
	)
	if delta.IsPositive() {
		metrics.IncFill(string(o.Role), string(o.Side))
	}

	o.Status = to
	o.FilledQty = filled
	o.FilledPrice = update.FilledPrice
	o.FilledAt = update.FilledAt

	if to == domain.OrderFilled {
		r.afterFill(ctx, o)
	}
	return tr, nil
}

func (r *Reconciler) afterFill(ctx context.Context, o *storage.ExchangeOrder) {
	if o.Role.Protective() {
		if err := r.cancelSibling(ctx, o); err != nil {
			r.logger.Error("cancel OCO sibling", "order_id", o.OrderID, "oco_group_id", o.OcoGroupID, "error", err)
		}
		return
	}
	if o.ReducesPosition {
		r.retireProtection(ctx, o)
		return
	}
	if r.protector == nil {
		return
	}
	if err := r.protector.Protect(ctx, o); err != nil {
		r.logger.Error("protect entry", "order_id", o.OrderID, "symbol", o.Symbol, "error", err)
	}
}

func (r *Reconciler) cancelSibling(ctx context.Context, o *storage.ExchangeOrder) error {
	sib, err := r.repo.OcoSibling(ctx, o)
	if err != nil {
		return err
	}
	if sib == nil || sib.Status.Terminal() {
		return nil
	}
	if err := r.cancel(ctx, sib); err != nil {
		return err
	}
	r.logger.Info("OCO sibling cancelled", "order_id", sib.OrderID, "filled_leg", o.OrderID)
	return nil
}

// retireProtection cancels the working exit legs of the position a filled closing entry reduced.
// A leg that already filled at the venue is left for the next pass to record.
func (r *Reconciler) retireProtection(ctx context.Context, exit *storage.ExchangeOrder) {
	legs, err := r.repo.ListWorkingProtective(ctx, exit.Symbol, exit.Side)
	if err != nil {
		r.logger.Error("list protective legs", "symbol", exit.Symbol, "exit_order", exit.OrderID, "error", err)
		return
	}
	for i := range legs {
		if err := r.cancel(ctx, &legs[i]); err != nil {
			r.logger.Error("cancel protective leg", "order_id", legs[i].OrderID, "exit_order", exit.OrderID, "error", err)
			continue
		}
		r.logger.Info("protective leg retired", "order_id", legs[i].OrderID, "role", legs[i].Role, "exit_order", exit.OrderID)
	}
	if len(legs) == 0 {
		return
	}

	net, err := r.exposure.NetQuantity(ctx, exit.Symbol)
	if err != nil {
		r.logger.Error("read exposure after exit", "symbol", exit.Symbol, "error", err)
		return
	}
	left := (exit.Side == domain.SideSell && net.IsPositive()) || (exit.Side == domain.SideBuy && net.IsNegative())
	if left && r.alerts != nil {
		r.alerts.Send(fmt.Sprintf("🚨 *Manual intervention* %s\nExit %s left %s open without protective orders",
			exit.Symbol, exit.OrderID, net.Abs()))
	}
}

// cancel cancels o at the venue and marks it CANCELLED. An order the venue no longer knows
// counts as cancelled.
func (r *Reconciler) cancel(ctx context.Context, o *storage.ExchangeOrder) error {
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	err := r.adapter.CancelOrder(callCtx, exchange.OrderRef{OrderID: o.OrderID, Symbol: o.Symbol, Type: o.Type})
	if err != nil && !errors.Is(err, exchange.ErrNotFound) {
		return fmt.Errorf("cancel %s: %w", o.OrderID, err)
	}
	if err := r.repo.MarkCancelled(ctx, o.OrderID); err != nil {
		return fmt.Errorf("mark %s cancelled: %w", o.OrderID, err)
	}
	return nil
}

// protectPending retries protection for filled entries whose claim never happened, e.g. after
// a restart between the fill update and the protector call.
func (r *Reconciler) protectPending(ctx context.Context) error {
	if r.protector == nil {
		return nil
	}
	entries, err := r.repo.ListUnprotectedEntries(ctx)
	if err != nil {
		return fmt.Errorf("list unprotected entries: %w", err)
	}
	var errs []error
	for i := range entries {
		if err := r.protector.Protect(ctx, &entries[i]); err != nil {
			errs = append(errs, fmt.Errorf("protect %s: %w", entries[i].OrderID, err))
		}
	}
	return errors.Join(errs...)
}

func fallbackFillPrice(o *storage.ExchangeOrder) decimal.Decimal {
	if o.Price.IsPositive() {
		return o.Price
	}
	return o.StopPrice
}

// Package protect attaches a stop-loss and take-profit pair to a filled ENTRY order.
//
// Both legs share one oco_group_id and are persisted together, so a parent has either no
// protective orders or two. When protection cannot be completed an alert asks for manual
// intervention; the position is never closed automatically.
package protect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/camuig/sigtrader/internal/domain"
	"github.com/camuig/sigtrader/internal/exchange"
	"github.com/camuig/sigtrader/internal/logger"
	"github.com/camuig/sigtrader/internal/placement"
	"github.com/camuig/sigtrader/internal/signal"
	"github.com/camuig/sigtrader/internal/storage"
)

var hundred = decimal.NewFromInt(100)

type Alerter interface {
	Send(text string) bool
}

// Placer submits and cancels orders at the venue.
type Placer interface {
	Submit(ctx context.Context, role domain.OrderRole, req exchange.OrderRequest) (exchange.OrderAck, error)
	Cancel(ctx context.Context, ref exchange.OrderRef) error
	Metadata(ctx context.Context, symbol string) (exchange.InstrumentMetadata, error)
}

type Config struct {
	// Window is the longest fill delay after order creation that still gets automatic protection.
	Window time.Duration
	// Blend weighs the percentage offset against the ATR offset.
	Blend float64
}

type Creator struct {
	placer Placer
	repo   *storage.Repository
	alerts Alerter
	cfg    Config
	logger *logger.Logger
}

func NewCreator(placer Placer, repo *storage.Repository, alerts Alerter, cfg Config, log *logger.Logger) *Creator {
	return &Creator{placer: placer, repo: repo, alerts: alerts, cfg: cfg, logger: log}
}

// Levels are the trigger prices of a protective pair.
type Levels struct {
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
}

// Offsets holds what Compute needs beyond the entry itself.
type Offsets struct {
	Mode          domain.ProtectionMode
	StopLossPct   float64
	TakeProfitPct float64
	ATR           float64
	ATRStopMult   float64
	ATRTakeMult   float64
	Blend         float64
}

// Compute returns tick-rounded levels for an entry on side filled at price. The percentage offset
// is used alone when mode is PERCENT or the ATR is unknown; otherwise it is blended with the ATR
// offset.
func Compute(side domain.Side, price decimal.Decimal, tick decimal.Decimal, o Offsets) Levels {
	slOff := price.Mul(decimal.NewFromFloat(o.StopLossPct)).Div(hundred)
	tpOff := price.Mul(decimal.NewFromFloat(o.TakeProfitPct)).Div(hundred)

	if o.Mode != domain.ProtectionPercent && o.ATR > 0 {
		w := decimal.NewFromFloat(o.Blend)
		rest := decimal.NewFromInt(1).Sub(w)
		atr := decimal.NewFromFloat(o.ATR)
		slOff = slOff.Mul(w).Add(atr.Mul(decimal.NewFromFloat(o.ATRStopMult)).Mul(rest))
		tpOff = tpOff.Mul(w).Add(atr.Mul(decimal.NewFromFloat(o.ATRTakeMult)).Mul(rest))
	}

	var sl, tp decimal.Decimal
	if side == domain.SideBuy {
		sl, tp = price.Sub(slOff), price.Add(tpOff)
	} else {
		sl, tp = price.Add(slOff), price.Sub(tpOff)
	}
	return Levels{
		StopLoss:   placement.StopLossPrice(sl, tick),
		TakeProfit: placement.TakeProfitPrice(tp, tick),
	}
}

// Protect runs at most once per entry order id. Entries that reduce a position get no legs.
func (c *Creator) Protect(ctx context.Context, entry *storage.ExchangeOrder) error {
	if entry.Role != domain.RoleEntry || entry.Status != domain.OrderFilled || entry.ReducesPosition {
		return nil
	}
	claimed, err := c.repo.ClaimProtection(ctx, entry.OrderID)
	if err != nil {
		return fmt.Errorf("claim protection %s: %w", entry.OrderID, err)
	}
	if !claimed {
		return nil
	}
	log := c.logger.With("order_id", entry.OrderID, "symbol", entry.Symbol)

	item, err := c.repo.GetWatchItem(ctx, entry.Symbol)
	if err != nil {
		c.manual(entry, "watch item unavailable", err)
		return fmt.Errorf("load watch item %s: %w", entry.Symbol, err)
	}
	if item.ProtectionMode == domain.ProtectionNone {
		log.Info("protection disabled for symbol")
		return nil
	}

	if entry.FilledAt != nil && entry.FilledAt.Sub(entry.CreatedAt) > c.cfg.Window {
		c.manual(entry, fmt.Sprintf("filled %s after creation, beyond the %s protection window",
			entry.FilledAt.Sub(entry.CreatedAt).Round(time.Second), c.cfg.Window), nil)
		return nil
	}

	existing, err := c.repo.ListProtectiveOrders(ctx, entry.OrderID)
	if err != nil {
		return fmt.Errorf("list protective orders %s: %w", entry.OrderID, err)
	}
	if len(existing) > 0 {
		log.Warn("protective orders already linked", "count", len(existing))
		if len(existing) != 2 {
			c.manual(entry, fmt.Sprintf("%d protective orders linked, expected 2", len(existing)), nil)
		}
		return nil
	}

	meta, err := c.placer.Metadata(ctx, entry.Symbol)
	if err != nil {
		c.manual(entry, "instrument metadata unavailable", err)
		return fmt.Errorf("instrument metadata %s: %w", entry.Symbol, err)
	}

	offsets := Offsets{
		Mode:          item.ProtectionMode,
		StopLossPct:   item.StopLossPct,
		TakeProfitPct: item.TakeProfitPct,
		ATR:           entry.EntryATR,
		Blend:         c.cfg.Blend,
	}
	if st, err := signal.Resolve(item.StrategyKey); err == nil {
		offsets.ATRStopMult = st.ATRStopMult
		offsets.ATRTakeMult = st.ATRTakeMult
	} else {
		offsets.ATR = 0
	}

	price := entry.FilledPrice
	if !price.IsPositive() {
		price = entry.Price
	}
	qty := entry.FilledQty
	if !qty.IsPositive() {
		qty = entry.Qty
	}
	levels := Compute(entry.Side, price, meta.TickSize, offsets)

	if err := c.place(ctx, entry, qty, levels); err != nil {
		c.manual(entry, "protective orders not placed", err)
		return err
	}

	log.Info("protection placed", "stop_loss", levels.StopLoss, "take_profit", levels.TakeProfit, "qty", qty)
	c.send(fmt.Sprintf("🛡 *Protection* %s\nSL: %s\nTP: %s\nQty: %s", entry.Symbol, levels.StopLoss, levels.TakeProfit, qty))
	return nil
}

func (c *Creator) place(ctx context.Context, entry *storage.ExchangeOrder, qty decimal.Decimal, levels Levels) error {
	group := uuid.NewString()
	parent := entry.OrderID
	exit := entry.Side.Opposite()

	legs := []struct {
		role  domain.OrderRole
		typ   domain.OrderType
		price decimal.Decimal
	}{
		{domain.RoleStopLoss, domain.OrderTypeStopLoss, levels.StopLoss},
		{domain.RoleTakeProfit, domain.OrderTypeTakeProfit, levels.TakeProfit},
	}

	placed := make([]*storage.ExchangeOrder, 0, len(legs))
	for _, leg := range legs {
		req := exchange.OrderRequest{
			ClientOrderID: uuid.NewSHA1(uuid.NameSpaceOID, []byte(parent+"|"+string(leg.role))).String(),
			Symbol:        entry.Symbol,
			Side:          exit,
			Type:          leg.typ,
			Qty:           qty,
			Price:         leg.price,
			StopPrice:     leg.price,
		}
		ack, err := c.placer.Submit(ctx, leg.role, req)
		if err != nil {
			c.rollback(ctx, placed)
			return fmt.Errorf("place %s for %s: %w", leg.role, parent, err)
		}
		placed = append(placed, &storage.ExchangeOrder{
			OrderID:       ack.OrderID,
			ClientOrderID: req.ClientOrderID,
			Symbol:        entry.Symbol,
			Side:          exit,
			Role:          leg.role,
			Type:          leg.typ,
			Status:        domain.OrderNew,
			Qty:           qty,
			Price:         leg.price,
			StopPrice:     leg.price,
			ParentOrderID: &parent,
			OcoGroupID:    &group,
		})
	}

	if err := c.repo.CreateOrders(ctx, placed); err != nil {
		c.rollback(ctx, placed)
		return fmt.Errorf("persist protective orders for %s: %w", parent, err)
	}
	return nil
}

// rollback cancels already submitted legs so no single leg is left working.
func (c *Creator) rollback(ctx context.Context, placed []*storage.ExchangeOrder) {
	for _, o := range placed {
		err := c.placer.Cancel(ctx, exchange.OrderRef{OrderID: o.OrderID, Symbol: o.Symbol, Type: o.Type})
		if err != nil {
			c.logger.Error("cancel orphan protective leg", "order_id", o.OrderID, "error", err)
			c.send(fmt.Sprintf("🚨 *Orphan %s* %s order %s is still working at the venue: %v",
				o.Role, o.Symbol, o.OrderID, err))
		}
	}
}

// manual alerts that entry stays unprotected. cause may carry a venue error snippet.
func (c *Creator) manual(entry *storage.ExchangeOrder, reason string, cause error) {
	c.logger.Error("protection needs manual intervention",
		"order_id", entry.OrderID, "symbol", entry.Symbol, "reason", reason, "error", cause)
	msg := fmt.Sprintf("🚨 *Manual intervention* %s\nEntry %s has no protective orders\n%s", entry.Symbol, entry.OrderID, reason)
	var f *placement.Failure
	if errors.As(cause, &f) && f.Snippet != "" {
		msg += "\n```\n" + f.Snippet + "\n```"
	}
	c.send(msg)
}

func (c *Creator) send(msg string) {
	if c.alerts != nil {
		c.alerts.Send(msg)
	}
}

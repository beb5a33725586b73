// Package exposure keeps the net open quantity per symbol derived from fills.
//
// Open positions are derived from the net quantity and the average entry lot instead of
// matching individual BUY orders against SELLs, which overcounts when exits are partial.
package exposure

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/camuig/sigtrader/internal/domain"
	"github.com/camuig/sigtrader/internal/storage"
)

// Fill is a filled quantity delta of one order.
type Fill struct {
	Symbol string
	Side   domain.Side
	Qty    decimal.Decimal
	// FirstFill is set on the first delta of an order; it counts the order as one lot.
	FirstFill bool
}

type Tracker struct {
	repo *storage.Repository
}

func NewTracker(repo *storage.Repository) *Tracker {
	return &Tracker{repo: repo}
}

// In returns a tracker bound to tx, so fills commit together with the order update.
func (t *Tracker) In(tx *storage.Repository) *Tracker {
	return &Tracker{repo: tx}
}

func (t *Tracker) Apply(ctx context.Context, f Fill) (*storage.ExposureCounter, error) {
	if !f.Qty.IsPositive() {
		return nil, fmt.Errorf("apply fill %s: quantity must be positive, got %s", f.Symbol, f.Qty)
	}

	c, err := t.repo.GetExposure(ctx, f.Symbol)
	if err != nil {
		return nil, fmt.Errorf("load exposure %s: %w", f.Symbol, err)
	}

	switch f.Side {
	case domain.SideBuy:
		c.NetQty = c.NetQty.Add(f.Qty)
		c.BoughtQty = c.BoughtQty.Add(f.Qty)
		if f.FirstFill {
			c.BuyFills++
		}
	case domain.SideSell:
		c.NetQty = c.NetQty.Sub(f.Qty)
	default:
		return nil, fmt.Errorf("apply fill %s: unknown side %q", f.Symbol, f.Side)
	}
	c.OpenPositions = openPositions(c)

	if err := t.repo.SaveExposure(ctx, c); err != nil {
		return nil, fmt.Errorf("save exposure %s: %w", f.Symbol, err)
	}
	return c, nil
}

// Get reads the counter straight from the store.
func (t *Tracker) Get(ctx context.Context, symbol string) (*storage.ExposureCounter, error) {
	c, err := t.repo.GetExposure(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("load exposure %s: %w", symbol, err)
	}
	return c, nil
}

func (t *Tracker) NetQuantity(ctx context.Context, symbol string) (decimal.Decimal, error) {
	c, err := t.Get(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return c.NetQty, nil
}

func (t *Tracker) OpenPositions(ctx context.Context, symbol string) (int, error) {
	c, err := t.Get(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return openPositions(c), nil
}

// AverageLot is bought quantity over the number of BUY orders that filled.
func AverageLot(c *storage.ExposureCounter) decimal.Decimal {
	if c.BuyFills == 0 {
		return decimal.Zero
	}
	return c.BoughtQty.Div(decimal.NewFromInt(int64(c.BuyFills)))
}

func openPositions(c *storage.ExposureCounter) int {
	lot := AverageLot(c)
	if !lot.IsPositive() || c.NetQty.IsZero() {
		return 0
	}
	return int(c.NetQty.Abs().Div(lot).Round(0).IntPart())
}

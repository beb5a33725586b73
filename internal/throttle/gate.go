// Package throttle suppresses repeated signals per (symbol, side) by elapsed time and price movement.
package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/camuig/sigtrader/internal/domain"
	"github.com/camuig/sigtrader/internal/storage"
)

var hundred = decimal.NewFromInt(100)

type Result struct {
	Pass    bool
	Reason  domain.ReasonCode
	Message string
}

// Rules are the per-watch-item thresholds.
type Rules struct {
	MinInterval       time.Duration
	MinPriceChangePct float64
}

func RulesFor(item *storage.WatchItem) Rules {
	return Rules{MinInterval: item.MinInterval, MinPriceChangePct: item.MinPriceChangePct}
}

// Gate keeps its reference points in the store so several instances share them.
type Gate struct {
	repo *storage.Repository
}

func NewGate(repo *storage.Repository) *Gate {
	return &Gate{repo: repo}
}

// Check never mutates state. A pair with no reference always passes.
func (g *Gate) Check(ctx context.Context, symbol string, side domain.Side, price decimal.Decimal, at time.Time, r Rules) (Result, error) {
	st, err := g.repo.GetThrottleState(ctx, symbol, side)
	if err != nil {
		return Result{}, fmt.Errorf("load throttle state %s/%s: %w", symbol, side, err)
	}
	if st == nil {
		return Result{Pass: true}, nil
	}

	elapsed := at.Sub(st.RefAt)
	if elapsed < r.MinInterval {
		return Result{
			Reason:  domain.ReasonThrottledMinTime,
			Message: fmt.Sprintf("last %s signal %s ago, minimum %s", side, elapsed.Round(time.Second), r.MinInterval),
		}, nil
	}

	change := ChangePct(st.RefPrice, price)
	if change.LessThan(decimal.NewFromFloat(r.MinPriceChangePct)) {
		return Result{
			Reason: domain.ReasonThrottledPriceGate,
			Message: fmt.Sprintf("price moved %s%% from %s, minimum %.4g%%",
				change.StringFixed(4), st.RefPrice, r.MinPriceChangePct),
		}, nil
	}
	return Result{Pass: true}, nil
}

// Record moves the reference point. Callers invoke it once a signal has a terminal trace.
func (g *Gate) Record(ctx context.Context, symbol string, side domain.Side, price decimal.Decimal, at time.Time) error {
	err := g.repo.UpsertThrottleState(ctx, &storage.ThrottleState{
		Symbol:   symbol,
		Side:     side,
		RefPrice: price,
		RefAt:    at,
	})
	if err != nil {
		return fmt.Errorf("save throttle state %s/%s: %w", symbol, side, err)
	}
	return nil
}

// ChangePct is |price - ref| / ref * 100. A zero reference counts as an unbounded move.
func ChangePct(ref, price decimal.Decimal) decimal.Decimal {
	if ref.IsZero() {
		return hundred
	}
	return price.Sub(ref).Abs().Div(ref).Mul(hundred)
}

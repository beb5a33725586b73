// Package guard runs the ordered eligibility checks that may block an order for a business reason.
package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/camuig/sigtrader/internal/domain"
	"github.com/camuig/sigtrader/internal/exchange"
	"github.com/camuig/sigtrader/internal/exposure"
	"github.com/camuig/sigtrader/internal/storage"
)

// Check names, in the order they run.
const (
	CheckTradeEnabled  = "trade_enabled"
	CheckBalance       = "balance"
	CheckOpenPositions = "open_positions"
	CheckCooldown      = "cooldown"
	CheckLiveTrading   = "live_trading"
)

type Limits struct {
	LiveTrading      bool
	OrderCooldown    time.Duration
	MaxOpenPositions int
	// MaxPositionValue caps net exposure value per symbol; zero disables it.
	MaxPositionValue decimal.Decimal
}

type Request struct {
	Item  *storage.WatchItem
	Side  domain.Side
	Price decimal.Decimal
	Now   time.Time
}

type Result struct {
	Passed  bool
	Reason  domain.ReasonCode
	Message string
	// Checks lists the checks that ran, the last one being the blocker when not Passed.
	Checks []string
	// Net is the symbol's net quantity as read by the balance check.
	Net decimal.Decimal
}

// ClosingQty is the position an order on side would reduce, or zero when the order opens or
// adds to a position.
func (r Result) ClosingQty(side domain.Side) decimal.Decimal {
	switch {
	case side == domain.SideSell && r.Net.IsPositive():
		return r.Net
	case side == domain.SideBuy && r.Net.IsNegative():
		return r.Net.Neg()
	}
	return decimal.Zero
}

// IntentStatus is the terminal ledger status for a blocked result.
func (r Result) IntentStatus() domain.IntentStatus {
	if r.Reason == domain.ReasonLiveTradingDisabled {
		return domain.IntentBlockedLiveTrading
	}
	return domain.IntentBlockedByGuard
}

func (r Result) Context() map[string]any {
	return map[string]any{"checks": r.Checks}
}

// OrderHistory is the part of the store the cooldown check reads.
type OrderHistory interface {
	LastEntryOrderAt(ctx context.Context, symbol string) (*time.Time, error)
}

type verdict struct {
	blocked bool
	reason  domain.ReasonCode
	message string
	net     *decimal.Decimal
}

func pass() verdict { return verdict{} }

func block(reason domain.ReasonCode, format string, args ...any) verdict {
	return verdict{blocked: true, reason: reason, message: fmt.Sprintf(format, args...)}
}

type check struct {
	name string
	run  func(ctx context.Context, p *Pipeline, req Request) (verdict, error)
}

// checks is fixed; the first block ends the run.
var checks = []check{
	{CheckTradeEnabled, checkTradeEnabled},
	{CheckBalance, checkBalance},
	{CheckOpenPositions, checkOpenPositions},
	{CheckCooldown, checkCooldown},
	{CheckLiveTrading, checkLiveTrading},
}

type Pipeline struct {
	exposure *exposure.Tracker
	orders   OrderHistory
	account  exchange.Account
	limits   Limits
}

func NewPipeline(exp *exposure.Tracker, orders OrderHistory, account exchange.Account, limits Limits) *Pipeline {
	return &Pipeline{exposure: exp, orders: orders, account: account, limits: limits}
}

// Run evaluates every check in order until one blocks. An error means a check could not be
// evaluated; the result then lists the checks up to and including the failing one.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	res := Result{Checks: make([]string, 0, len(checks))}
	for _, c := range checks {
		res.Checks = append(res.Checks, c.name)
		v, err := c.run(ctx, p, req)
		if err != nil {
			return res, fmt.Errorf("guard %s: %w", c.name, err)
		}
		if v.net != nil {
			res.Net = *v.net
		}
		if v.blocked {
			res.Reason = v.reason
			res.Message = v.message
			return res, nil
		}
	}
	res.Passed = true
	return res, nil
}

func checkTradeEnabled(_ context.Context, _ *Pipeline, req Request) (verdict, error) {
	if !req.Item.TradeEnabled(req.Side) {
		return block(domain.ReasonTradeDisabled, "%s trading disabled for %s", req.Side, req.Item.Symbol), nil
	}
	return pass(), nil
}

func checkBalance(ctx context.Context, p *Pipeline, req Request) (verdict, error) {
	item := req.Item
	net, err := p.exposure.NetQuantity(ctx, item.Symbol)
	if err != nil {
		return verdict{}, err
	}
	v, err := balanceVerdict(ctx, p, req, net)
	v.net = &net
	return v, err
}

func balanceVerdict(ctx context.Context, p *Pipeline, req Request, net decimal.Decimal) (verdict, error) {
	item := req.Item
	if req.Side == domain.SideSell {
		if !item.Margin && !net.IsPositive() {
			return block(domain.ReasonInsufficientBalance, "no %s holdings to sell and margin is off", item.Symbol), nil
		}
		return pass(), nil
	}

	cash, err := p.account.AvailableCash(ctx)
	if err != nil {
		return verdict{}, fmt.Errorf("available cash: %w", err)
	}
	if cash.LessThan(item.TradeAmount) {
		return block(domain.ReasonInsufficientBalance, "available cash %s below trade amount %s", cash, item.TradeAmount), nil
	}

	if p.limits.MaxPositionValue.IsPositive() {
		value := net.Mul(req.Price).Add(item.TradeAmount)
		if value.GreaterThan(p.limits.MaxPositionValue) {
			return block(domain.ReasonPortfolioLimit, "%s exposure would reach %s, limit %s",
				item.Symbol, value.StringFixed(2), p.limits.MaxPositionValue), nil
		}
	}
	return pass(), nil
}

func checkOpenPositions(ctx context.Context, p *Pipeline, req Request) (verdict, error) {
	if req.Side != domain.SideBuy || p.limits.MaxOpenPositions <= 0 {
		return pass(), nil
	}
	open, err := p.exposure.OpenPositions(ctx, req.Item.Symbol)
	if err != nil {
		return verdict{}, err
	}
	if open >= p.limits.MaxOpenPositions {
		return block(domain.ReasonMaxOpenPositions, "%d open positions in %s, limit %d",
			open, req.Item.Symbol, p.limits.MaxOpenPositions), nil
	}
	return pass(), nil
}

func checkCooldown(ctx context.Context, p *Pipeline, req Request) (verdict, error) {
	if p.limits.OrderCooldown <= 0 {
		return pass(), nil
	}
	last, err := p.orders.LastEntryOrderAt(ctx, req.Item.Symbol)
	if err != nil {
		return verdict{}, err
	}
	if last != nil && req.Now.Sub(*last) < p.limits.OrderCooldown {
		return block(domain.ReasonRecentOrderCooldown, "last %s order %s ago, cooldown %s",
			req.Item.Symbol, req.Now.Sub(*last).Round(time.Second), p.limits.OrderCooldown), nil
	}
	return pass(), nil
}

func checkLiveTrading(_ context.Context, p *Pipeline, _ Request) (verdict, error) {
	if !p.limits.LiveTrading {
		return block(domain.ReasonLiveTradingDisabled, "live trading is switched off"), nil
	}
	return pass(), nil
}

package guard

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/camuig/sigtrader/internal/domain"
	"github.com/camuig/sigtrader/internal/exposure"
	"github.com/camuig/sigtrader/internal/storage"
	"github.com/camuig/sigtrader/internal/storage/storagetest"
)

type fakeAccount struct{ cash decimal.Decimal }

func (f fakeAccount) AvailableCash(context.Context) (decimal.Decimal, error) { return f.cash, nil }

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func item() *storage.WatchItem {
	return &storage.WatchItem{
		Symbol:      "SBER",
		TradeBuy:    true,
		TradeSell:   true,
		TradeAmount: dec(500),
	}
}

func liveLimits() Limits {
	return Limits{LiveTrading: true, OrderCooldown: time.Minute, MaxOpenPositions: 1}
}

func TestPipeline(t *testing.T) {
	all := []string{CheckTradeEnabled, CheckBalance, CheckOpenPositions, CheckCooldown, CheckLiveTrading}

	tests := []struct {
		name   string
		item   func(w *storage.WatchItem)
		side   domain.Side
		cash   int64
		limits func(l *Limits)
		fills  []exposure.Fill
		entry  bool
		reason domain.ReasonCode
		checks []string
	}{
		{
			name:   "trade disabled stops before everything else",
			item:   func(w *storage.WatchItem) { w.TradeBuy = false },
			side:   domain.SideBuy,
			cash:   0,
			limits: func(l *Limits) { l.LiveTrading = false },
			entry:  true,
			reason: domain.ReasonTradeDisabled,
			checks: all[:1],
		},
		{
			name:   "buy without cash",
			side:   domain.SideBuy,
			cash:   100,
			reason: domain.ReasonInsufficientBalance,
			checks: all[:2],
		},
		{
			name:   "sell without holdings",
			side:   domain.SideSell,
			cash:   1000,
			reason: domain.ReasonInsufficientBalance,
			checks: all[:2],
		},
		{
			name:   "sell on margin",
			item:   func(w *storage.WatchItem) { w.Margin = true },
			side:   domain.SideSell,
			cash:   0,
			checks: all,
		},
		{
			name:   "portfolio limit",
			side:   domain.SideBuy,
			cash:   10000,
			limits: func(l *Limits) { l.MaxPositionValue = dec(1200); l.MaxOpenPositions = 5 },
			fills:  []exposure.Fill{{Symbol: "SBER", Side: domain.SideBuy, Qty: dec(10), FirstFill: true}},
			reason: domain.ReasonPortfolioLimit,
			checks: all[:2],
		},
		{
			name:   "max open positions",
			side:   domain.SideBuy,
			cash:   10000,
			fills:  []exposure.Fill{{Symbol: "SBER", Side: domain.SideBuy, Qty: dec(10), FirstFill: true}},
			reason: domain.ReasonMaxOpenPositions,
			checks: all[:3],
		},
		{
			name: "closed round trip frees the position slot",
			side: domain.SideBuy,
			cash: 10000,
			fills: []exposure.Fill{
				{Symbol: "SBER", Side: domain.SideBuy, Qty: dec(10), FirstFill: true},
				{Symbol: "SBER", Side: domain.SideSell, Qty: dec(10), FirstFill: true},
			},
			checks: all,
		},
		{
			name:   "recent entry order",
			side:   domain.SideBuy,
			cash:   10000,
			entry:  true,
			reason: domain.ReasonRecentOrderCooldown,
			checks: all[:4],
		},
		{
			name:   "kill switch",
			side:   domain.SideBuy,
			cash:   10000,
			limits: func(l *Limits) { l.LiveTrading = false },
			reason: domain.ReasonLiveTradingDisabled,
			checks: all,
		},
		{
			name:   "all clear",
			side:   domain.SideBuy,
			cash:   10000,
			checks: all,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			repo := storagetest.NewRepository(t)
			tracker := exposure.NewTracker(repo)
			for _, f := range tt.fills {
				if _, err := tracker.Apply(ctx, f); err != nil {
					t.Fatal(err)
				}
			}
			if tt.entry {
				err := repo.CreateOrder(ctx, &storage.ExchangeOrder{
					OrderID: "o-1", Symbol: "SBER", Side: domain.SideBuy, Role: domain.RoleEntry,
					Type: domain.OrderTypeLimit, Status: domain.OrderNew, Qty: dec(5),
				})
				if err != nil {
					t.Fatal(err)
				}
			}

			w := item()
			if tt.item != nil {
				tt.item(w)
			}
			limits := liveLimits()
			if tt.limits != nil {
				tt.limits(&limits)
			}

			p := NewPipeline(tracker, repo, fakeAccount{cash: dec(tt.cash)}, limits)
			res, err := p.Run(ctx, Request{Item: w, Side: tt.side, Price: dec(100), Now: time.Now()})
			if err != nil {
				t.Fatal(err)
			}

			if res.Passed != (tt.reason == "") {
				t.Fatalf("passed = %v, reason = %s (%s)", res.Passed, res.Reason, res.Message)
			}
			if res.Reason != tt.reason {
				t.Errorf("reason = %s, want %s", res.Reason, tt.reason)
			}
			if !reflect.DeepEqual(res.Checks, tt.checks) {
				t.Errorf("checks = %v, want %v", res.Checks, tt.checks)
			}
		})
	}
}

func TestResultIntentStatus(t *testing.T) {
	if got := (Result{Reason: domain.ReasonLiveTradingDisabled}).IntentStatus(); got != domain.IntentBlockedLiveTrading {
		t.Errorf("kill switch status = %s", got)
	}
	if got := (Result{Reason: domain.ReasonTradeDisabled}).IntentStatus(); got != domain.IntentBlockedByGuard {
		t.Errorf("guard status = %s", got)
	}
}

func TestClosingQty(t *testing.T) {
	tests := []struct {
		name string
		net  int64
		side domain.Side
		want int64
	}{
		{"sell against a long", 10, domain.SideSell, 10},
		{"buy adds to a long", 10, domain.SideBuy, 0},
		{"buy covers a short", -7, domain.SideBuy, 7},
		{"sell adds to a short", -7, domain.SideSell, 0},
		{"flat", 0, domain.SideSell, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Result{Net: dec(tt.net)}.ClosingQty(tt.side)
			if !got.Equal(dec(tt.want)) {
				t.Errorf("closing qty = %s, want %d", got, tt.want)
			}
		})
	}
}

func TestRunReportsNetQuantity(t *testing.T) {
	ctx := context.Background()
	repo := storagetest.NewRepository(t)
	tracker := exposure.NewTracker(repo)
	if _, err := tracker.Apply(ctx, exposure.Fill{Symbol: "SBER", Side: domain.SideBuy, Qty: dec(10), FirstFill: true}); err != nil {
		t.Fatal(err)
	}

	p := NewPipeline(tracker, repo, fakeAccount{}, liveLimits())
	res, err := p.Run(ctx, Request{Item: item(), Side: domain.SideSell, Price: dec(50), Now: time.Now()})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Passed || !res.Net.Equal(dec(10)) {
		t.Errorf("result = %+v, want passed with net 10", res)
	}
	if got := res.ClosingQty(domain.SideSell); !got.Equal(dec(10)) {
		t.Errorf("closing qty = %s, want 10", got)
	}
}

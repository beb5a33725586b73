package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/camuig/sigtrader/internal/domain"
	"github.com/camuig/sigtrader/internal/storage/storagetest"
)

func TestGateEmptyStatePasses(t *testing.T) {
	g := NewGate(storagetest.NewRepository(t))
	res, err := g.Check(context.Background(), "SBER", domain.SideBuy, decimal.NewFromInt(100), time.Now(),
		Rules{MinInterval: time.Hour, MinPriceChangePct: 5})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Pass {
		t.Fatalf("empty state must pass, got %s", res.Reason)
	}
}

func TestGateBoundaries(t *testing.T) {
	ctx := context.Background()
	g := NewGate(storagetest.NewRepository(t))

	ref := decimal.NewFromInt(100)
	refAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := g.Record(ctx, "SBER", domain.SideBuy, ref, refAt); err != nil {
		t.Fatal(err)
	}
	rules := Rules{MinInterval: 10 * time.Minute, MinPriceChangePct: 2}

	tests := []struct {
		name   string
		side   domain.Side
		price  string
		at     time.Time
		pass   bool
		reason domain.ReasonCode
	}{
		{"half threshold suppressed", domain.SideBuy, "101", refAt.Add(time.Hour), false, domain.ReasonThrottledPriceGate},
		{"double threshold passes", domain.SideBuy, "104", refAt.Add(time.Hour), true, ""},
		{"drop counts as movement", domain.SideBuy, "96", refAt.Add(time.Hour), true, ""},
		{"exact threshold passes", domain.SideBuy, "102", refAt.Add(time.Hour), true, ""},
		{"too soon", domain.SideBuy, "110", refAt.Add(5 * time.Minute), false, domain.ReasonThrottledMinTime},
		{"exact interval passes", domain.SideBuy, "110", refAt.Add(10 * time.Minute), true, ""},
		{"other side independent", domain.SideSell, "100", refAt.Add(time.Second), true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := g.Check(ctx, "SBER", tt.side, decimal.RequireFromString(tt.price), tt.at, rules)
			if err != nil {
				t.Fatal(err)
			}
			if res.Pass != tt.pass || res.Reason != tt.reason {
				t.Errorf("got pass=%v reason=%s, want pass=%v reason=%s", res.Pass, res.Reason, tt.pass, tt.reason)
			}
		})
	}
}

func TestGateRecordMovesReference(t *testing.T) {
	ctx := context.Background()
	g := NewGate(storagetest.NewRepository(t))
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	rules := Rules{MinInterval: time.Minute, MinPriceChangePct: 1}

	if err := g.Record(ctx, "GAZP", domain.SideSell, decimal.NewFromInt(200), t0); err != nil {
		t.Fatal(err)
	}
	if err := g.Record(ctx, "GAZP", domain.SideSell, decimal.NewFromInt(300), t0.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	res, err := g.Check(ctx, "GAZP", domain.SideSell, decimal.NewFromInt(301), t0.Add(2*time.Hour), rules)
	if err != nil {
		t.Fatal(err)
	}
	if res.Pass || res.Reason != domain.ReasonThrottledPriceGate {
		t.Errorf("got pass=%v reason=%s, want THROTTLED_PRICE_GATE against the newer reference", res.Pass, res.Reason)
	}
}

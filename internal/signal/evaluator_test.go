package signal

import (
	"errors"
	"reflect"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/camuig/sigtrader/internal/domain"
)

func f(v float64) *float64 { return &v }

func mustResolve(t *testing.T, key string) Strategy {
	t.Helper()
	st, err := Resolve(key)
	if err != nil {
		t.Fatalf("Resolve(%q): %v", key, err)
	}
	return st
}

func TestEvaluate(t *testing.T) {
	price := decimal.NewFromInt(100)

	tests := []struct {
		name       string
		strategy   string
		snap       Snapshot
		action     domain.Action
		reason     domain.ReasonCode
		confidence int
	}{
		{
			name:       "oversold in uptrend buys",
			strategy:   "swing-conservative",
			snap:       Snapshot{RSI: f(20), MA50: f(110), MA200: f(100)},
			action:     domain.ActionBuy,
			confidence: 70,
		},
		{
			name:       "overbought in downtrend sells",
			strategy:   "swing-conservative",
			snap:       Snapshot{RSI: f(85), MA50: f(90), MA200: f(100)},
			action:     domain.ActionSell,
			confidence: 75,
		},
		{
			name:     "oversold against trend holds",
			strategy: "swing-conservative",
			snap:     Snapshot{RSI: f(20), MA50: f(90), MA200: f(100)},
			action:   domain.ActionHold,
			reason:   domain.ReasonNoSignal,
		},
		{
			name:     "neutral RSI holds",
			strategy: "swing-conservative",
			snap:     Snapshot{RSI: f(50), MA50: f(110), MA200: f(100)},
			action:   domain.ActionHold,
			reason:   domain.ReasonNoSignal,
		},
		{
			name:       "weak scalp buy is low confidence",
			strategy:   "scalp-conservative",
			snap:       Snapshot{RSI: f(39), Volume: f(150), AvgVolume: f(100)},
			action:     domain.ActionHold,
			reason:     domain.ReasonLowConfidence,
			confidence: 56,
		},
		{
			name:     "thin volume holds",
			strategy: "scalp-aggressive",
			snap:     Snapshot{RSI: f(20), Volume: f(100), AvgVolume: f(100)},
			action:   domain.ActionHold,
			reason:   domain.ReasonNoSignal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(price, tt.snap, mustResolve(t, tt.strategy))
			if d.Action != tt.action {
				t.Fatalf("action = %s, want %s (%s)", d.Action, tt.action, d.Message)
			}
			if d.Reason != tt.reason {
				t.Errorf("reason = %s, want %s", d.Reason, tt.reason)
			}
			if d.Confidence != tt.confidence {
				t.Errorf("confidence = %d, want %d", d.Confidence, tt.confidence)
			}
		})
	}
}

func TestEvaluateMissingIndicators(t *testing.T) {
	d := Evaluate(decimal.NewFromInt(100), Snapshot{MA50: f(110)}, mustResolve(t, "swing-conservative"))
	if d.Action != domain.ActionHold || d.Reason != domain.ReasonDataMissing {
		t.Fatalf("got %s/%s, want HOLD/DATA_MISSING", d.Action, d.Reason)
	}
	if want := []string{"rsi", "ma200"}; !reflect.DeepEqual(d.Missing, want) {
		t.Errorf("missing = %v, want %v", d.Missing, want)
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	st := mustResolve(t, "intraday-aggressive")
	snap := Snapshot{RSI: f(31), MA50: f(120), MA200: f(100), EMA10: f(99), Volume: f(180), AvgVolume: f(100)}
	first := Evaluate(decimal.NewFromInt(100), snap, st)
	for i := 0; i < 100; i++ {
		if got := Evaluate(decimal.NewFromInt(100), snap, st); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d: %+v != %+v", i, got, first)
		}
	}
}

func TestResolve(t *testing.T) {
	st := mustResolve(t, "Swing-Aggressive")
	if st.Key != "swing-aggressive" || st.RSIBuyBelow != 35 || st.MinConfidence != 40 {
		t.Errorf("unexpected strategy %+v", st)
	}

	for _, key := range []string{"swing", "momentum-conservative", "swing-yolo"} {
		if _, err := Resolve(key); !errors.Is(err, ErrUnknownStrategy) {
			t.Errorf("Resolve(%q) err = %v, want ErrUnknownStrategy", key, err)
		}
	}
}

func TestNewSignalRejectsHold(t *testing.T) {
	if _, ok := NewSignal(Input{Symbol: "SBER"}, Strategy{}, Decision{Action: domain.ActionHold}); ok {
		t.Fatal("HOLD must not become a signal")
	}
}

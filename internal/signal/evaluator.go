// Package signal turns an indicator snapshot into a BUY, SELL or HOLD decision.
package signal

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/camuig/sigtrader/internal/domain"
)

// Snapshot holds the indicators known at evaluation time. A nil field is missing data.
type Snapshot struct {
	RSI       *float64 `json:"rsi,omitempty"`
	MA50      *float64 `json:"ma50,omitempty"`
	MA200     *float64 `json:"ma200,omitempty"`
	EMA10     *float64 `json:"ema10,omitempty"`
	Volume    *float64 `json:"volume,omitempty"`
	AvgVolume *float64 `json:"avg_volume,omitempty"`
	ATR       *float64 `json:"atr,omitempty"`
}

// Input is everything the snapshot provider knows about one symbol at one moment.
type Input struct {
	Symbol   string
	Price    decimal.Decimal
	At       time.Time
	SourceID string
	Snapshot Snapshot
}

type Decision struct {
	Action     domain.Action
	Confidence int
	Reason     domain.ReasonCode
	Message    string
	Missing    []string
}

// Signal is a BUY or SELL decision ready for the throttle gate.
type Signal struct {
	Symbol     string
	Side       domain.Side
	Price      decimal.Decimal
	At         time.Time
	SourceID   string
	Strategy   string
	Confidence int
	Snapshot   Snapshot
}

// ATR returns the snapshot ATR or 0 when unknown.
func (s Signal) ATR() float64 {
	if s.Snapshot.ATR == nil {
		return 0
	}
	return *s.Snapshot.ATR
}

// NewSignal builds a Signal from a non-HOLD decision.
func NewSignal(in Input, st Strategy, d Decision) (Signal, bool) {
	side, ok := d.Action.Side()
	if !ok {
		return Signal{}, false
	}
	return Signal{
		Symbol:     in.Symbol,
		Side:       side,
		Price:      in.Price,
		At:         in.At,
		SourceID:   in.SourceID,
		Strategy:   st.Key,
		Confidence: d.Confidence,
		Snapshot:   in.Snapshot,
	}, true
}

// Evaluate is pure: the same inputs always give the same decision.
func Evaluate(price decimal.Decimal, snap Snapshot, st Strategy) Decision {
	if missing := missingIndicators(snap, st); len(missing) > 0 {
		return Decision{
			Action:  domain.ActionHold,
			Reason:  domain.ReasonDataMissing,
			Message: fmt.Sprintf("missing indicators: %v", missing),
			Missing: missing,
		}
	}
	if !price.IsPositive() {
		return Decision{
			Action:  domain.ActionHold,
			Reason:  domain.ReasonDataMissing,
			Message: "missing price",
			Missing: []string{"price"},
		}
	}

	p := price.InexactFloat64()
	rsi := *snap.RSI

	var action domain.Action
	var depth float64
	switch {
	case rsi <= st.RSIBuyBelow:
		action = domain.ActionBuy
		depth = (st.RSIBuyBelow - rsi) / st.RSIBuyBelow
	case rsi >= st.RSISellAbove:
		action = domain.ActionSell
		depth = (rsi - st.RSISellAbove) / (100 - st.RSISellAbove)
	default:
		return hold(domain.ReasonNoSignal, "RSI %.2f inside [%.0f, %.0f]", rsi, st.RSIBuyBelow, st.RSISellAbove)
	}

	score := 50 + 30*clamp(depth, 0, 1)

	if snap.MA50 != nil && snap.MA200 != nil {
		aligned := (action == domain.ActionBuy && *snap.MA50 >= *snap.MA200) ||
			(action == domain.ActionSell && *snap.MA50 <= *snap.MA200)
		if st.TrendFilter && !aligned {
			return hold(domain.ReasonNoSignal, "%s against trend: MA50 %.2f, MA200 %.2f", action, *snap.MA50, *snap.MA200)
		}
		if aligned {
			score += 10
		}
	}

	if st.MinVolumeRatio > 0 {
		ratio := *snap.Volume / *snap.AvgVolume
		if ratio < st.MinVolumeRatio {
			return hold(domain.ReasonNoSignal, "volume ratio %.2f below %.2f", ratio, st.MinVolumeRatio)
		}
		score += math.Min(10, (ratio-1)*10)
	}

	if snap.EMA10 != nil {
		if (action == domain.ActionBuy && p > *snap.EMA10) || (action == domain.ActionSell && p < *snap.EMA10) {
			score += 5
		}
	}

	confidence := int(math.Round(clamp(score, 0, 100)))
	if confidence < st.MinConfidence {
		d := hold(domain.ReasonLowConfidence, "%s confidence %d below %d", action, confidence, st.MinConfidence)
		d.Confidence = confidence
		return d
	}

	return Decision{
		Action:     action,
		Confidence: confidence,
		Message:    fmt.Sprintf("RSI %.2f, confidence %d", rsi, confidence),
	}
}

func missingIndicators(snap Snapshot, st Strategy) []string {
	var missing []string
	if snap.RSI == nil {
		missing = append(missing, "rsi")
	}
	if st.TrendFilter {
		if snap.MA50 == nil {
			missing = append(missing, "ma50")
		}
		if snap.MA200 == nil {
			missing = append(missing, "ma200")
		}
	}
	if st.MinVolumeRatio > 0 {
		if snap.Volume == nil {
			missing = append(missing, "volume")
		}
		if snap.AvgVolume == nil || *snap.AvgVolume <= 0 {
			missing = append(missing, "avg_volume")
		}
	}
	return missing
}

func hold(reason domain.ReasonCode, format string, args ...any) Decision {
	return Decision{Action: domain.ActionHold, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

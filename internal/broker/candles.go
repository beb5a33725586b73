package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	pb "github.com/russianinvestments/invest-api-go-sdk/proto"

	"github.com/camuig/sigtrader/internal/indicators"
	"github.com/camuig/sigtrader/internal/signal"
	"github.com/camuig/sigtrader/internal/storage"
)

const (
	rsiPeriod      = 14
	atrPeriod      = 14
	emaPeriod      = 10
	volumePeriod   = 20
	candleLookback = 364 * 24 * time.Hour // day candles are served at most one year per request
)

type Candle struct {
	Time   time.Time
	High   float64
	Low    float64
	Close  decimal.Decimal
	Volume float64
}

// SnapshotProvider builds signal inputs from Tinkoff daily candles.
type SnapshotProvider struct {
	client *Client
	now    func() time.Time
}

func NewSnapshotProvider(c *Client) *SnapshotProvider {
	return &SnapshotProvider{client: c, now: time.Now}
}

func (p *SnapshotProvider) Snapshot(ctx context.Context, item *storage.WatchItem) (signal.Input, error) {
	if err := ctx.Err(); err != nil {
		return signal.Input{}, err
	}
	inst, err := p.client.instrument(item.Symbol)
	if err != nil {
		return signal.Input{}, err
	}

	now := p.now()
	md := p.client.sdk.NewMarketDataServiceClient()
	resp, err := md.GetCandles(
		inst.UID,
		pb.CandleInterval_CANDLE_INTERVAL_DAY,
		now.Add(-candleLookback), now,
		pb.GetCandlesRequest_CANDLE_SOURCE_EXCHANGE,
		0,
	)
	if err != nil {
		return signal.Input{}, fmt.Errorf("candles %s: %w", item.Symbol, classify(err))
	}

	candles := make([]Candle, 0, len(resp.GetCandles()))
	for _, c := range resp.GetCandles() {
		candles = append(candles, Candle{
			Time:   c.GetTime().AsTime(),
			High:   fromQuotation(c.GetHigh()).InexactFloat64(),
			Low:    fromQuotation(c.GetLow()).InexactFloat64(),
			Close:  fromQuotation(c.GetClose()),
			Volume: float64(c.GetVolume()),
		})
	}
	return SnapshotFrom(item.Symbol, candles, now)
}

// SnapshotFrom computes the indicator snapshot over candles ordered oldest first. Indicators
// without enough history stay nil so the evaluator reports them missing.
func SnapshotFrom(symbol string, candles []Candle, at time.Time) (signal.Input, error) {
	if len(candles) == 0 {
		return signal.Input{}, fmt.Errorf("no candles for %s", symbol)
	}

	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close.InexactFloat64()
		highs[i] = c.High
		lows[i] = c.Low
		volumes[i] = c.Volume
	}

	last := candles[len(candles)-1]
	var snap signal.Snapshot
	snap.RSI = optional(indicators.RSI(closes, rsiPeriod))
	snap.MA50 = optional(indicators.SMA(closes, 50))
	snap.MA200 = optional(indicators.SMA(closes, 200))
	snap.EMA10 = optional(indicators.EMA(closes, emaPeriod))
	snap.ATR = optional(indicators.ATR(highs, lows, closes, atrPeriod))
	if len(volumes) > volumePeriod {
		v := last.Volume
		snap.Volume = &v
		snap.AvgVolume = optional(indicators.SMA(volumes[:len(volumes)-1], volumePeriod))
	}

	return signal.Input{
		Symbol:   symbol,
		Price:    last.Close,
		At:       at,
		Snapshot: snap,
	}, nil
}

func optional(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &v
}

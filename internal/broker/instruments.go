package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/camuig/sigtrader/internal/exchange"
)

type instrument struct {
	UID    string
	Ticker string
	Lot    int64
	Tick   decimal.Decimal
}

// instrumentCache holds resolved instruments by ticker for the life of the client.
type instrumentCache struct {
	byTicker sync.Map // ticker -> instrument
}

func (c *Client) instrument(ticker string) (instrument, error) {
	if cached, ok := c.cache.byTicker.Load(ticker); ok {
		return cached.(instrument), nil
	}

	instruments := c.sdk.NewInstrumentsServiceClient()
	found, err := instruments.FindInstrument(ticker)
	if err != nil {
		return instrument{}, fmt.Errorf("find instrument %s: %w", ticker, classify(err))
	}

	uid := ""
	for _, inst := range found.GetInstruments() {
		if inst.GetTicker() == ticker && inst.GetApiTradeAvailableFlag() {
			uid = inst.GetUid()
			break
		}
	}
	if uid == "" {
		return instrument{}, fmt.Errorf("instrument %s: %w", ticker, exchange.ErrNotFound)
	}

	resp, err := instruments.InstrumentByUid(uid)
	if err != nil {
		return instrument{}, fmt.Errorf("instrument by uid %s: %w", uid, classify(err))
	}
	full := resp.GetInstrument()
	inst := instrument{
		UID:    uid,
		Ticker: ticker,
		Lot:    int64(full.GetLot()),
		Tick:   fromQuotation(full.GetMinPriceIncrement()),
	}
	if inst.Lot <= 0 {
		inst.Lot = 1
	}

	c.cache.byTicker.Store(ticker, inst)
	return inst, nil
}

// GetInstrumentMetadata reports quantity steps in shares: one step is one lot.
func (c *Client) GetInstrumentMetadata(ctx context.Context, symbol string) (exchange.InstrumentMetadata, error) {
	if err := ctx.Err(); err != nil {
		return exchange.InstrumentMetadata{}, exchange.Transient(err)
	}
	inst, err := c.instrument(symbol)
	if err != nil {
		return exchange.InstrumentMetadata{}, err
	}
	return exchange.InstrumentMetadata{
		TickSize: inst.Tick,
		StepSize: decimal.New(inst.Lot, 0),
	}, nil
}

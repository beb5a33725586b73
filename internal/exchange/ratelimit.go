package exchange

import (
	"context"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// RateLimited throttles every venue call through one token bucket.
type RateLimited struct {
	inner   Adapter
	limiter *rate.Limiter
}

func NewRateLimited(inner Adapter, perSecond float64, burst int) *RateLimited {
	return &RateLimited{inner: inner, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (r *RateLimited) wait(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return Transient(err)
	}
	return nil
}

func (r *RateLimited) PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	if err := r.wait(ctx); err != nil {
		return OrderAck{}, err
	}
	return r.inner.PlaceOrder(ctx, req)
}

func (r *RateLimited) GetOrderStatus(ctx context.Context, ref OrderRef) (OrderState, error) {
	if err := r.wait(ctx); err != nil {
		return OrderState{}, err
	}
	return r.inner.GetOrderStatus(ctx, ref)
}

func (r *RateLimited) CancelOrder(ctx context.Context, ref OrderRef) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.inner.CancelOrder(ctx, ref)
}

func (r *RateLimited) GetInstrumentMetadata(ctx context.Context, symbol string) (InstrumentMetadata, error) {
	if err := r.wait(ctx); err != nil {
		return InstrumentMetadata{}, err
	}
	return r.inner.GetInstrumentMetadata(ctx, symbol)
}

// AvailableCash passes through when the wrapped adapter is also an Account.
func (r *RateLimited) AvailableCash(ctx context.Context) (decimal.Decimal, error) {
	acc, ok := r.inner.(Account)
	if !ok {
		return decimal.Zero, ErrNotFound
	}
	if err := r.wait(ctx); err != nil {
		return decimal.Zero, err
	}
	return acc.AvailableCash(ctx)
}

func (r *RateLimited) ObservePrice(symbol string, price decimal.Decimal) {
	if obs, ok := r.inner.(PriceObserver); ok {
		obs.ObservePrice(symbol, price)
	}
}

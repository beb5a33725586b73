// Package exchange defines the venue contract used by placement, reconciliation and protection.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/camuig/sigtrader/internal/domain"
)

// SnippetLimit is how many bytes of a raw venue error are kept for traces and alerts.
const SnippetLimit = 256

var (
	// ErrTransient marks failures worth retrying: timeouts, unavailability, rate limits.
	ErrTransient = errors.New("transient exchange error")
	ErrNotFound  = errors.New("order not found")
)

// RejectedError is a terminal business rejection by the venue.
type RejectedError struct {
	Code string
	Raw  string
}

func (e *RejectedError) Error() string {
	if e.Code == "" {
		return "exchange rejected: " + e.Raw
	}
	return fmt.Sprintf("exchange rejected [%s]: %s", e.Code, e.Raw)
}

// Transient wraps err so errors.Is(err, ErrTransient) holds.
func Transient(err error) error {
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Snippet cuts raw to SnippetLimit bytes without splitting a UTF-8 sequence.
func Snippet(raw string) string {
	if len(raw) <= SnippetLimit {
		return raw
	}
	cut := SnippetLimit
	for cut > 0 && !utf8.RuneStart(raw[cut]) {
		cut--
	}
	return raw[:cut]
}

type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          domain.Side
	Type          domain.OrderType
	Qty           decimal.Decimal
	// Price is the limit price; zero for MARKET.
	Price decimal.Decimal
	// StopPrice is the trigger of STOP_LOSS and TAKE_PROFIT orders.
	StopPrice decimal.Decimal
}

type OrderAck struct {
	OrderID string
	// RawStatus is the venue status at acknowledgement; empty means accepted and working.
	RawStatus string
}

// OrderRef identifies an order for status and cancel calls. Type selects the venue API
// for venues that keep stop orders apart.
type OrderRef struct {
	OrderID string
	Symbol  string
	Type    domain.OrderType
}

// OrderState is the raw venue view of an order; mapping to OrderStatus is the reconciler's job.
type OrderState struct {
	OrderID   string
	RawStatus string
	FilledQty decimal.Decimal
	AvgPrice  decimal.Decimal
	// FilledAt is the venue's execution time, nil when the venue does not report one.
	FilledAt *time.Time
}

type InstrumentMetadata struct {
	TickSize decimal.Decimal
	StepSize decimal.Decimal
}

// Adapter is the venue. Implementations return ErrTransient-wrapped errors for retryable
// failures and *RejectedError for business rejections.
type Adapter interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	GetOrderStatus(ctx context.Context, ref OrderRef) (OrderState, error)
	CancelOrder(ctx context.Context, ref OrderRef) error
	GetInstrumentMetadata(ctx context.Context, symbol string) (InstrumentMetadata, error)
}

// Account reports buying power for the balance guard.
type Account interface {
	AvailableCash(ctx context.Context) (decimal.Decimal, error)
}

// PriceObserver is implemented by simulated venues that trigger stop orders from observed prices.
type PriceObserver interface {
	ObservePrice(symbol string, price decimal.Decimal)
}

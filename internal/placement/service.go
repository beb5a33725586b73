// Package placement normalizes and submits orders, retrying transient venue failures.
package placement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/camuig/sigtrader/internal/domain"
	"github.com/camuig/sigtrader/internal/exchange"
	"github.com/camuig/sigtrader/internal/logger"
	"github.com/camuig/sigtrader/internal/metrics"
	"github.com/camuig/sigtrader/internal/storage"
)

// Failure is a placement outcome the caller traces as FAILED.
type Failure struct {
	Reason  domain.ReasonCode
	Snippet string
	Err     error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Reason, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Classify maps a venue error to the reason code and snippet recorded in traces.
func Classify(err error) *Failure {
	var rej *exchange.RejectedError
	switch {
	case errors.As(err, &rej):
		return &Failure{Reason: domain.ReasonExchangeRejected, Snippet: exchange.Snippet(rej.Raw), Err: err}
	case errors.Is(err, exchange.ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return &Failure{Reason: domain.ReasonNetworkTransient, Snippet: exchange.Snippet(err.Error()), Err: err}
	default:
		return &Failure{Reason: domain.ReasonExchangeRejected, Snippet: exchange.Snippet(err.Error()), Err: err}
	}
}

type Config struct {
	OrderType   domain.OrderType
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

type Service struct {
	adapter exchange.Adapter
	repo    *storage.Repository
	cfg     Config
	logger  *logger.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewService(adapter exchange.Adapter, repo *storage.Repository, cfg Config, log *logger.Logger) *Service {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Service{adapter: adapter, repo: repo, cfg: cfg, logger: log, sleep: sleepCtx}
}

// EntryRequest is an admitted intent ready for the venue.
type EntryRequest struct {
	Intent        *storage.OrderIntent
	ClientOrderID string
	Symbol        string
	Side          domain.Side
	Price         decimal.Decimal
	Amount        decimal.Decimal
	ATR           float64
	// Closing is the open position this order reduces, zero when it opens or adds to one.
	// The quantity never exceeds it.
	Closing decimal.Decimal
}

// PlaceEntry normalizes, submits and persists an ENTRY order. Failures the trace should record
// come back as *Failure. If the venue accepted the order but persisting it failed, the order is
// returned together with the error.
func (s *Service) PlaceEntry(ctx context.Context, req EntryRequest) (*storage.ExchangeOrder, error) {
	meta, err := s.adapter.GetInstrumentMetadata(ctx, req.Symbol)
	if err != nil {
		return nil, Classify(fmt.Errorf("instrument metadata %s: %w", req.Symbol, err))
	}

	price := EntryPrice(req.Side, req.Price, meta.TickSize)
	qty := Quantity(req.Amount, price, meta.StepSize)
	if req.Closing.IsPositive() {
		if limit := RoundDown(req.Closing, meta.StepSize); qty.GreaterThan(limit) {
			qty = limit
		}
	}
	if !qty.IsPositive() {
		return nil, &Failure{
			Reason: domain.ReasonInvalidQuantity,
			Err: fmt.Errorf("%s amount %s at price %s is below one step of %s",
				req.Symbol, req.Amount, price, meta.StepSize),
		}
	}

	order := exchange.OrderRequest{
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          s.cfg.OrderType,
		Qty:           qty,
	}
	if s.cfg.OrderType == domain.OrderTypeLimit {
		order.Price = price
	}

	ack, err := s.Submit(ctx, domain.RoleEntry, order)
	if err != nil {
		return nil, err
	}

	var intentID *uint
	if req.Intent != nil {
		id := req.Intent.ID
		intentID = &id
	}
	rec := &storage.ExchangeOrder{
		OrderID:         ack.OrderID,
		ClientOrderID:   req.ClientOrderID,
		IntentID:        intentID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Role:            domain.RoleEntry,
		Type:            order.Type,
		Status:          domain.OrderNew,
		Qty:             qty,
		Price:           price,
		EntryATR:        req.ATR,
		ReducesPosition: req.Closing.IsPositive(),
	}
	if err := s.repo.CreateOrder(ctx, rec); err != nil {
		return rec, fmt.Errorf("persist order %s: %w", ack.OrderID, err)
	}
	return rec, nil
}

// Submit sends req, retrying only ErrTransient with exponential backoff. Any other error, or
// the last transient one, comes back as *Failure.
func (s *Service) Submit(ctx context.Context, role domain.OrderRole, req exchange.OrderRequest) (exchange.OrderAck, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		ack, err := s.adapter.PlaceOrder(ctx, req)
		if err == nil {
			metrics.IncOrder(string(role), string(req.Side), "placed")
			s.logger.Info("order placed",
				"symbol", req.Symbol,
				"side", req.Side,
				"role", role,
				"type", req.Type,
				"qty", req.Qty,
				"price", req.Price,
				"stop_price", req.StopPrice,
				"order_id", ack.OrderID,
				"attempt", attempt,
			)
			return ack, nil
		}
		lastErr = err

		if !errors.Is(err, exchange.ErrTransient) {
			metrics.IncOrder(string(role), string(req.Side), "rejected")
			return exchange.OrderAck{}, Classify(err)
		}
		metrics.IncOrder(string(role), string(req.Side), "transient")
		if attempt == s.cfg.MaxAttempts {
			break
		}

		delay := s.backoff(attempt)
		s.logger.Warn("transient order failure, retrying",
			"symbol", req.Symbol, "role", role, "attempt", attempt, "delay", delay, "error", err)
		if err := s.sleep(ctx, delay); err != nil {
			lastErr = exchange.Transient(err)
			break
		}
	}
	return exchange.OrderAck{}, Classify(fmt.Errorf("after %d attempts: %w", s.cfg.MaxAttempts, lastErr))
}

// Cancel cancels an order at the venue; an order already gone counts as cancelled.
func (s *Service) Cancel(ctx context.Context, ref exchange.OrderRef) error {
	err := s.adapter.CancelOrder(ctx, ref)
	if err == nil || errors.Is(err, exchange.ErrNotFound) {
		return nil
	}
	return fmt.Errorf("cancel order %s: %w", ref.OrderID, err)
}

// Metadata exposes instrument tick and step sizes to protective order pricing.
func (s *Service) Metadata(ctx context.Context, symbol string) (exchange.InstrumentMetadata, error) {
	return s.adapter.GetInstrumentMetadata(ctx, symbol)
}

func (s *Service) backoff(attempt int) time.Duration {
	d := s.cfg.BaseDelay << (attempt - 1)
	if s.cfg.MaxDelay > 0 && (d > s.cfg.MaxDelay || d <= 0) {
		d = s.cfg.MaxDelay
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

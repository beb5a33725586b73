package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/camuig/sigtrader/internal/domain"
)

// Raw statuses reported by Paper.
const (
	PaperNew       = "NEW"
	PaperFilled    = "FILLED"
	PaperCancelled = "CANCELLED"
)

type paperOrder struct {
	id     string
	req    OrderRequest
	status string
	filled   decimal.Decimal
	avg      decimal.Decimal
	filledAt *time.Time
}

// Paper simulates a venue in memory. Entry orders fill in full on the first status query;
// stop-loss and take-profit orders fill when ObservePrice crosses their trigger.
type Paper struct {
	mu        sync.Mutex
	seq       int
	cash      decimal.Decimal
	orders    map[string]*paperOrder
	byClient  map[string]string
	meta      map[string]InstrumentMetadata
	lastPrice map[string]decimal.Decimal
}

var defaultPaperMeta = InstrumentMetadata{
	TickSize: decimal.RequireFromString("0.01"),
	StepSize: decimal.NewFromInt(1),
}

func NewPaper(cash decimal.Decimal) *Paper {
	return &Paper{
		cash:      cash,
		orders:    make(map[string]*paperOrder),
		byClient:  make(map[string]string),
		meta:      make(map[string]InstrumentMetadata),
		lastPrice: make(map[string]decimal.Decimal),
	}
}

func (p *Paper) SetMetadata(symbol string, m InstrumentMetadata) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.meta[symbol] = m
}

func (p *Paper) GetInstrumentMetadata(_ context.Context, symbol string) (InstrumentMetadata, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.meta[symbol]; ok {
		return m, nil
	}
	return defaultPaperMeta, nil
}

func (p *Paper) AvailableCash(context.Context) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cash, nil
}

func (p *Paper) PlaceOrder(_ context.Context, req OrderRequest) (OrderAck, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if req.ClientOrderID != "" {
		if id, ok := p.byClient[req.ClientOrderID]; ok {
			return OrderAck{OrderID: id, RawStatus: p.orders[id].status}, nil
		}
	}
	if !req.Qty.IsPositive() {
		return OrderAck{}, &RejectedError{Code: "INVALID_QUANTITY", Raw: fmt.Sprintf("quantity %s must be positive", req.Qty)}
	}
	if req.Side == domain.SideBuy && (req.Type == domain.OrderTypeLimit || req.Type == domain.OrderTypeMarket) {
		cost := req.Qty.Mul(p.entryPrice(req))
		if cost.GreaterThan(p.cash) {
			return OrderAck{}, &RejectedError{
				Code: "INSUFFICIENT_FUNDS",
				Raw:  fmt.Sprintf("order value %s exceeds available cash %s", cost, p.cash),
			}
		}
	}

	p.seq++
	o := &paperOrder{id: fmt.Sprintf("paper-%d", p.seq), req: req, status: PaperNew}
	p.orders[o.id] = o
	if req.ClientOrderID != "" {
		p.byClient[req.ClientOrderID] = o.id
	}
	return OrderAck{OrderID: o.id, RawStatus: PaperNew}, nil
}

func (p *Paper) GetOrderStatus(_ context.Context, ref OrderRef) (OrderState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[ref.OrderID]
	if !ok {
		return OrderState{}, fmt.Errorf("paper order %s: %w", ref.OrderID, ErrNotFound)
	}
	if o.status == PaperNew && (o.req.Type == domain.OrderTypeLimit || o.req.Type == domain.OrderTypeMarket) {
		p.fill(o, p.entryPrice(o.req))
	}
	return OrderState{OrderID: o.id, RawStatus: o.status, FilledQty: o.filled, AvgPrice: o.avg, FilledAt: o.filledAt}, nil
}

func (p *Paper) CancelOrder(_ context.Context, ref OrderRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[ref.OrderID]
	if !ok {
		return fmt.Errorf("paper order %s: %w", ref.OrderID, ErrNotFound)
	}
	switch o.status {
	case PaperNew:
		o.status = PaperCancelled
		return nil
	case PaperCancelled:
		return nil
	default:
		return &RejectedError{Code: "ORDER_FILLED", Raw: fmt.Sprintf("order %s already %s", o.id, o.status)}
	}
}

// ObservePrice triggers working stop-loss and take-profit orders for symbol.
func (p *Paper) ObservePrice(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastPrice[symbol] = price
	for _, o := range p.orders {
		if o.req.Symbol != symbol || o.status != PaperNew {
			continue
		}
		if triggered(o.req, price) {
			p.fill(o, o.req.StopPrice)
		}
	}
}

func triggered(req OrderRequest, price decimal.Decimal) bool {
	sell := req.Side == domain.SideSell
	switch req.Type {
	case domain.OrderTypeStopLoss:
		if sell {
			return price.LessThanOrEqual(req.StopPrice)
		}
		return price.GreaterThanOrEqual(req.StopPrice)
	case domain.OrderTypeTakeProfit:
		if sell {
			return price.GreaterThanOrEqual(req.StopPrice)
		}
		return price.LessThanOrEqual(req.StopPrice)
	}
	return false
}

func (p *Paper) entryPrice(req OrderRequest) decimal.Decimal {
	if req.Type == domain.OrderTypeMarket {
		if last, ok := p.lastPrice[req.Symbol]; ok {
			return last
		}
	}
	return req.Price
}

func (p *Paper) fill(o *paperOrder, price decimal.Decimal) {
	now := time.Now()
	o.status = PaperFilled
	o.filled = o.req.Qty
	o.avg = price
	o.filledAt = &now
	value := o.req.Qty.Mul(price)
	if o.req.Side == domain.SideBuy {
		p.cash = p.cash.Sub(value)
	} else {
		p.cash = p.cash.Add(value)
	}
}

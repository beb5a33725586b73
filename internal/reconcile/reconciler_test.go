package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/camuig/sigtrader/internal/domain"
	"github.com/camuig/sigtrader/internal/exchange"
	"github.com/camuig/sigtrader/internal/exposure"
	"github.com/camuig/sigtrader/internal/logger"
	"github.com/camuig/sigtrader/internal/storage"
	"github.com/camuig/sigtrader/internal/storage/storagetest"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestMapStatus(t *testing.T) {
	qty := dec(10)
	tests := []struct {
		raw        string
		filled     int64
		want       domain.OrderStatus
		wantFilled int64
	}{
		{"NEW", 0, domain.OrderNew, 0},
		{"EXECUTION_REPORT_STATUS_FILL", 10, domain.OrderFilled, 10},
		{"STOP_ORDER_STATUS_EXECUTED", 0, domain.OrderFilled, 10},
		{"STOP_ORDER_STATUS_CANCELED", 0, domain.OrderCancelled, 0},
		{"something-new", 0, domain.OrderUnknown, 0},
		{"something-new", 3, domain.OrderPartiallyFilled, 3},
		{"something-new", 10, domain.OrderFilled, 10},
		{"NEW", 4, domain.OrderPartiallyFilled, 4},
		{"PARTIALLY_FILLED", 10, domain.OrderFilled, 10},
		{"CANCELLED", 4, domain.OrderCancelled, 4},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, filled := MapStatus(exchange.OrderState{RawStatus: tt.raw, FilledQty: dec(tt.filled)}, qty)
			if got != tt.want || !filled.Equal(dec(tt.wantFilled)) {
				t.Errorf("got %s/%s, want %s/%d", got, filled, tt.want, tt.wantFilled)
			}
		})
	}
}

type statusAdapter struct {
	exchange.Paper
	mu     sync.Mutex
	states map[string]exchange.OrderState
}

func (a *statusAdapter) GetOrderStatus(_ context.Context, ref exchange.OrderRef) (exchange.OrderState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.states[ref.OrderID]
	if !ok {
		return exchange.OrderState{}, exchange.ErrNotFound
	}
	return st, nil
}

func (a *statusAdapter) set(id, raw string, filled int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.states[id] = exchange.OrderState{OrderID: id, RawStatus: raw, FilledQty: dec(filled), AvgPrice: dec(100)}
}

type countingProtector struct {
	repo  *storage.Repository
	mu    sync.Mutex
	calls []string
}

func (p *countingProtector) Protect(ctx context.Context, o *storage.ExchangeOrder) error {
	claimed, err := p.repo.ClaimProtection(ctx, o.OrderID)
	if err != nil || !claimed {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, o.OrderID)
	return nil
}

func createEntry(t *testing.T, repo *storage.Repository, id string) {
	t.Helper()
	err := repo.CreateOrder(context.Background(), &storage.ExchangeOrder{
		OrderID: id, Symbol: "SBER", Side: domain.SideBuy, Role: domain.RoleEntry,
		Type: domain.OrderTypeLimit, Status: domain.OrderNew, Qty: dec(10), Price: dec(100),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestPartialFillsAccumulate(t *testing.T) {
	ctx := context.Background()
	repo := storagetest.NewRepository(t)
	tracker := exposure.NewTracker(repo)
	a := &statusAdapter{states: map[string]exchange.OrderState{}}
	prot := &countingProtector{repo: repo}
	r := NewReconciler(a, repo, tracker, prot, time.Second, logger.Nop())

	createEntry(t, repo, "e-1")

	steps := []struct {
		raw    string
		filled int64
		want   domain.OrderStatus
		net    int64
	}{
		{"mystery", 4, domain.OrderPartiallyFilled, 4},
		{"mystery", 4, domain.OrderPartiallyFilled, 4},
		{"NEW", 0, domain.OrderPartiallyFilled, 4},
		{"PARTIALLY_FILLED", 7, domain.OrderPartiallyFilled, 7},
		{"FILLED", 10, domain.OrderFilled, 10},
	}
	for i, s := range steps {
		a.set("e-1", s.raw, s.filled)
		if _, err := r.Run(ctx); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		o, err := repo.GetOrder(ctx, "e-1")
		if err != nil {
			t.Fatal(err)
		}
		if o.Status != s.want {
			t.Errorf("step %d: status = %s, want %s", i, o.Status, s.want)
		}
		c, _ := tracker.Get(ctx, "SBER")
		if !c.NetQty.Equal(dec(s.net)) {
			t.Errorf("step %d: net = %s, want %d", i, c.NetQty, s.net)
		}
	}

	c, _ := tracker.Get(ctx, "SBER")
	if c.BuyFills != 1 || c.OpenPositions != 1 {
		t.Errorf("counter = %+v, want one buy fill and one open position", c)
	}
	if len(prot.calls) != 1 || prot.calls[0] != "e-1" {
		t.Errorf("protector calls = %v, want [e-1]", prot.calls)
	}

	// terminal orders are no longer followed
	a.set("e-1", "CANCELLED", 0)
	trs, err := r.Run(ctx)
	if err != nil || len(trs) != 0 {
		t.Errorf("transitions after terminal = %v, %v", trs, err)
	}
}

func TestNewToCancelled(t *testing.T) {
	ctx := context.Background()
	repo := storagetest.NewRepository(t)
	a := &statusAdapter{states: map[string]exchange.OrderState{}}
	prot := &countingProtector{repo: repo}
	r := NewReconciler(a, repo, exposure.NewTracker(repo), prot, time.Second, logger.Nop())

	createEntry(t, repo, "e-2")
	a.set("e-2", "EXECUTION_REPORT_STATUS_REJECTED", 0)

	trs, err := r.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(trs) != 1 || trs[0].To != domain.OrderCancelled {
		t.Fatalf("transitions = %+v", trs)
	}
	if len(prot.calls) != 0 {
		t.Errorf("cancelled entry must not be protected")
	}
}

func TestOcoLegFillCancelsSibling(t *testing.T) {
	ctx := context.Background()
	repo := storagetest.NewRepository(t)
	tracker := exposure.NewTracker(repo)
	paper := exchange.NewPaper(dec(0))
	r := NewReconciler(paper, repo, tracker, nil, time.Second, logger.Nop())

	if _, err := tracker.Apply(ctx, exposure.Fill{Symbol: "SBER", Side: domain.SideBuy, Qty: dec(10), FirstFill: true}); err != nil {
		t.Fatal(err)
	}

	parent := "e-3"
	group := "oco-1"
	var legs []*storage.ExchangeOrder
	for _, leg := range []struct {
		role domain.OrderRole
		typ  domain.OrderType
		stop int64
	}{
		{domain.RoleStopLoss, domain.OrderTypeStopLoss, 97},
		{domain.RoleTakeProfit, domain.OrderTypeTakeProfit, 105},
	} {
		ack, err := paper.PlaceOrder(ctx, exchange.OrderRequest{
			Symbol: "SBER", Side: domain.SideSell, Type: leg.typ, Qty: dec(10), StopPrice: dec(leg.stop),
		})
		if err != nil {
			t.Fatal(err)
		}
		legs = append(legs, &storage.ExchangeOrder{
			OrderID: ack.OrderID, Symbol: "SBER", Side: domain.SideSell, Role: leg.role, Type: leg.typ,
			Status: domain.OrderNew, Qty: dec(10), StopPrice: dec(leg.stop),
			ParentOrderID: &parent, OcoGroupID: &group,
		})
	}
	if err := repo.CreateOrders(ctx, legs); err != nil {
		t.Fatal(err)
	}

	paper.ObservePrice("SBER", dec(106))
	if _, err := r.Run(ctx); err != nil {
		t.Fatal(err)
	}

	tp, _ := repo.GetOrder(ctx, legs[1].OrderID)
	sl, _ := repo.GetOrder(ctx, legs[0].OrderID)
	if tp.Status != domain.OrderFilled {
		t.Errorf("take profit = %s, want FILLED", tp.Status)
	}
	if sl.Status != domain.OrderCancelled {
		t.Errorf("stop loss = %s, want CANCELLED", sl.Status)
	}
	if st, _ := paper.GetOrderStatus(ctx, exchange.OrderRef{OrderID: sl.OrderID}); st.RawStatus != exchange.PaperCancelled {
		t.Errorf("venue stop loss = %s, want CANCELLED", st.RawStatus)
	}
	c, _ := tracker.Get(ctx, "SBER")
	if !c.NetQty.IsZero() || c.OpenPositions != 0 {
		t.Errorf("exposure after exit = %+v", c)
	}
}

type fakeAlerter struct {
	mu   sync.Mutex
	sent []string
}

func (a *fakeAlerter) Send(text string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, text)
	return true
}

// openLong books a filled 10-share long on SBER with working SELL stop-loss and take-profit legs.
func openLong(t *testing.T, paper *exchange.Paper, repo *storage.Repository, tracker *exposure.Tracker) []*storage.ExchangeOrder {
	t.Helper()
	ctx := context.Background()
	if _, err := tracker.Apply(ctx, exposure.Fill{Symbol: "SBER", Side: domain.SideBuy, Qty: dec(10), FirstFill: true}); err != nil {
		t.Fatal(err)
	}
	parent := "e-long"
	group := "oco-long"
	var legs []*storage.ExchangeOrder
	for _, leg := range []struct {
		role domain.OrderRole
		typ  domain.OrderType
		stop int64
	}{
		{domain.RoleStopLoss, domain.OrderTypeStopLoss, 97},
		{domain.RoleTakeProfit, domain.OrderTypeTakeProfit, 105},
	} {
		ack, err := paper.PlaceOrder(ctx, exchange.OrderRequest{
			Symbol: "SBER", Side: domain.SideSell, Type: leg.typ, Qty: dec(10), StopPrice: dec(leg.stop),
		})
		if err != nil {
			t.Fatal(err)
		}
		legs = append(legs, &storage.ExchangeOrder{
			OrderID: ack.OrderID, Symbol: "SBER", Side: domain.SideSell, Role: leg.role, Type: leg.typ,
			Status: domain.OrderNew, Qty: dec(10), StopPrice: dec(leg.stop),
			ParentOrderID: &parent, OcoGroupID: &group,
		})
	}
	if err := repo.CreateOrders(ctx, legs); err != nil {
		t.Fatal(err)
	}
	return legs
}

func TestClosingEntryRetiresProtectiveLegs(t *testing.T) {
	tests := []struct {
		name   string
		qty    int64
		net    int64
		alerts int
	}{
		{name: "full exit", qty: 10, net: 0, alerts: 0},
		{name: "partial exit leaves the rest unprotected", qty: 4, net: 6, alerts: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			repo := storagetest.NewRepository(t)
			tracker := exposure.NewTracker(repo)
			paper := exchange.NewPaper(dec(0))
			prot := &countingProtector{repo: repo}
			alerts := &fakeAlerter{}
			r := NewReconciler(paper, repo, tracker, prot, time.Second, logger.Nop()).WithAlerter(alerts)

			legs := openLong(t, paper, repo, tracker)

			ack, err := paper.PlaceOrder(ctx, exchange.OrderRequest{
				Symbol: "SBER", Side: domain.SideSell, Type: domain.OrderTypeLimit, Qty: dec(tt.qty), Price: dec(100),
			})
			if err != nil {
				t.Fatal(err)
			}
			err = repo.CreateOrder(ctx, &storage.ExchangeOrder{
				OrderID: ack.OrderID, Symbol: "SBER", Side: domain.SideSell, Role: domain.RoleEntry,
				Type: domain.OrderTypeLimit, Status: domain.OrderNew, Qty: dec(tt.qty), Price: dec(100),
				ReducesPosition: true,
			})
			if err != nil {
				t.Fatal(err)
			}

			if _, err := r.Run(ctx); err != nil {
				t.Fatal(err)
			}

			exit, _ := repo.GetOrder(ctx, ack.OrderID)
			if exit.Status != domain.OrderFilled {
				t.Fatalf("exit = %s, want FILLED", exit.Status)
			}
			for _, leg := range legs {
				stored, _ := repo.GetOrder(ctx, leg.OrderID)
				if stored.Status != domain.OrderCancelled {
					t.Errorf("%s = %s, want CANCELLED", leg.Role, stored.Status)
				}
				if st, _ := paper.GetOrderStatus(ctx, exchange.OrderRef{OrderID: leg.OrderID}); st.RawStatus != exchange.PaperCancelled {
					t.Errorf("venue %s = %s, want CANCELLED", leg.Role, st.RawStatus)
				}
			}
			if len(prot.calls) != 0 {
				t.Errorf("protector calls = %v, want none for a closing entry", prot.calls)
			}
			if len(alerts.sent) != tt.alerts {
				t.Errorf("alerts = %v, want %d", alerts.sent, tt.alerts)
			}

			// the old stop level no longer sells anything
			paper.ObservePrice("SBER", dec(96))
			if _, err := r.Run(ctx); err != nil {
				t.Fatal(err)
			}
			net, _ := tracker.NetQuantity(ctx, "SBER")
			if !net.Equal(dec(tt.net)) {
				t.Errorf("net = %s, want %d", net, tt.net)
			}
			pending, _ := repo.ListUnprotectedEntries(ctx)
			if len(pending) != 0 {
				t.Errorf("unprotected entries = %d, want closing entries excluded", len(pending))
			}
		})
	}
}

func TestFillTimeComesFromVenue(t *testing.T) {
	observed := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	venue := observed.Add(-3 * time.Hour)

	tests := []struct {
		name     string
		filledAt *time.Time
		want     time.Time
	}{
		{"venue execution time", &venue, venue},
		{"observation time when the venue has none", nil, observed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			repo := storagetest.NewRepository(t)
			a := &statusAdapter{states: map[string]exchange.OrderState{}}
			r := NewReconciler(a, repo, exposure.NewTracker(repo), nil, time.Second, logger.Nop())
			r.now = func() time.Time { return observed }

			createEntry(t, repo, "e-4")
			a.states["e-4"] = exchange.OrderState{
				OrderID: "e-4", RawStatus: "FILLED", FilledQty: dec(10), AvgPrice: dec(100), FilledAt: tt.filledAt,
			}

			if _, err := r.Run(ctx); err != nil {
				t.Fatal(err)
			}
			o, err := repo.GetOrder(ctx, "e-4")
			if err != nil {
				t.Fatal(err)
			}
			if o.FilledAt == nil || !o.FilledAt.Equal(tt.want) {
				t.Errorf("filled at = %v, want %v", o.FilledAt, tt.want)
			}
		})
	}
}

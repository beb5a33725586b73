package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/camuig/sigtrader/internal/domain"
)

// Exchange orders

func (r *Repository) CreateOrder(ctx context.Context, o *ExchangeOrder) error {
	return r.conn(ctx).Create(o).Error
}

// CreateOrders inserts all orders or none.
func (r *Repository) CreateOrders(ctx context.Context, orders []*ExchangeOrder) error {
	return r.Transaction(ctx, func(tx *Repository) error {
		for _, o := range orders {
			if err := tx.conn(ctx).Create(o).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Repository) GetOrder(ctx context.Context, orderID string) (*ExchangeOrder, error) {
	var o ExchangeOrder
	if err := r.conn(ctx).Where("order_id = ?", orderID).First(&o).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

// ListOpenOrders returns orders the reconciler still has to follow.
func (r *Repository) ListOpenOrders(ctx context.Context) ([]ExchangeOrder, error) {
	var orders []ExchangeOrder
	err := r.conn(ctx).
		Where("status IN ?", []domain.OrderStatus{domain.OrderNew, domain.OrderPartiallyFilled, domain.OrderUnknown}).
		Order("id").Find(&orders).Error
	return orders, err
}

func (r *Repository) ListOrders(ctx context.Context, symbol string, limit int) ([]ExchangeOrder, error) {
	q := r.conn(ctx).Order("id DESC")
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var orders []ExchangeOrder
	err := q.Find(&orders).Error
	return orders, err
}

func (r *Repository) ListProtectiveOrders(ctx context.Context, parentOrderID string) ([]ExchangeOrder, error) {
	var orders []ExchangeOrder
	err := r.conn(ctx).Where("parent_order_id = ?", parentOrderID).Order("id").Find(&orders).Error
	return orders, err
}

// OcoSibling returns the other leg of an OCO pair, or nil when there is none.
func (r *Repository) OcoSibling(ctx context.Context, o *ExchangeOrder) (*ExchangeOrder, error) {
	if o.OcoGroupID == nil {
		return nil, nil
	}
	var sib ExchangeOrder
	err := r.conn(ctx).Where("oco_group_id = ? AND order_id <> ?", *o.OcoGroupID, o.OrderID).First(&sib).Error
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sib, nil
}

// LastEntryOrderAt returns the creation time of the newest ENTRY order for symbol, or nil.
func (r *Repository) LastEntryOrderAt(ctx context.Context, symbol string) (*time.Time, error) {
	var o ExchangeOrder
	err := r.conn(ctx).Where("symbol = ? AND role = ?", symbol, domain.RoleEntry).
		Order("created_at DESC").First(&o).Error
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o.CreatedAt, nil
}

type OrderUpdate struct {
	Status      domain.OrderStatus
	FilledQty   decimal.Decimal
	FilledPrice decimal.Decimal
	FilledAt    *time.Time
}

// UpdateOrderFrom applies u only if the stored order still has status from and filled quantity
// prevFilled. It reports whether the row changed, so concurrent reconcilers apply each delta once.
func (r *Repository) UpdateOrderFrom(ctx context.Context, orderID string, from domain.OrderStatus, prevFilled decimal.Decimal, u OrderUpdate) (bool, error) {
	res := r.conn(ctx).Model(&ExchangeOrder{}).
		Where("order_id = ? AND status = ? AND filled_qty = ?", orderID, from, prevFilled.String()).
		Updates(map[string]any{
			"status":       u.Status,
			"filled_qty":   u.FilledQty,
			"filled_price": u.FilledPrice,
			"filled_at":    u.FilledAt,
			"updated_at":   time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkCancelled moves a non-terminal order to CANCELLED.
func (r *Repository) MarkCancelled(ctx context.Context, orderID string) error {
	return r.conn(ctx).Model(&ExchangeOrder{}).
		Where("order_id = ? AND status NOT IN ?", orderID, []domain.OrderStatus{domain.OrderFilled, domain.OrderCancelled}).
		Updates(map[string]any{"status": domain.OrderCancelled, "updated_at": time.Now()}).Error
}

// ClaimProtection flips protection_claimed once per order. Only the caller that gets true may
// create protective orders.
func (r *Repository) ClaimProtection(ctx context.Context, orderID string) (bool, error) {
	res := r.conn(ctx).Model(&ExchangeOrder{}).
		Where("order_id = ? AND protection_claimed = ?", orderID, false).
		Update("protection_claimed", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListUnprotectedEntries returns filled position-opening ENTRY orders whose protection was never claimed.
func (r *Repository) ListUnprotectedEntries(ctx context.Context) ([]ExchangeOrder, error) {
	var orders []ExchangeOrder
	err := r.conn(ctx).
		Where("role = ? AND status = ? AND protection_claimed = ? AND reduces_position = ?",
			domain.RoleEntry, domain.OrderFilled, false, false).
		Order("id").Find(&orders).Error
	return orders, err
}

// ListWorkingProtective returns the non-terminal protective orders on symbol. An empty side
// matches both.
func (r *Repository) ListWorkingProtective(ctx context.Context, symbol string, side domain.Side) ([]ExchangeOrder, error) {
	q := r.conn(ctx).
		Where("symbol = ? AND role IN ? AND status IN ?", symbol,
			[]domain.OrderRole{domain.RoleStopLoss, domain.RoleTakeProfit},
			[]domain.OrderStatus{domain.OrderNew, domain.OrderPartiallyFilled, domain.OrderUnknown})
	if side != "" {
		q = q.Where("side = ?", side)
	}
	var orders []ExchangeOrder
	err := q.Order("id").Find(&orders).Error
	return orders, err
}

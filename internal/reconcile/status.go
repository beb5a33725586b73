package reconcile

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/camuig/sigtrader/internal/domain"
	"github.com/camuig/sigtrader/internal/exchange"
)

// rawStatuses maps venue statuses, generic and Tinkoff Invest, to the order state machine.
var rawStatuses = map[string]domain.OrderStatus{
	"NEW":              domain.OrderNew,
	"PENDING_NEW":      domain.OrderNew,
	"ACCEPTED":         domain.OrderNew,
	"ACTIVE":           domain.OrderNew,
	"PARTIALLY_FILLED": domain.OrderPartiallyFilled,
	"PARTIAL":          domain.OrderPartiallyFilled,
	"FILLED":           domain.OrderFilled,
	"EXECUTED":         domain.OrderFilled,
	"CANCELLED":        domain.OrderCancelled,
	"CANCELED":         domain.OrderCancelled,
	"REJECTED":         domain.OrderCancelled,
	"EXPIRED":          domain.OrderCancelled,

	"EXECUTION_REPORT_STATUS_NEW":           domain.OrderNew,
	"EXECUTION_REPORT_STATUS_PARTIALLYFILL": domain.OrderPartiallyFilled,
	"EXECUTION_REPORT_STATUS_FILL":          domain.OrderFilled,
	"EXECUTION_REPORT_STATUS_CANCELLED":     domain.OrderCancelled,
	"EXECUTION_REPORT_STATUS_REJECTED":      domain.OrderCancelled,

	"STOP_ORDER_STATUS_ACTIVE":   domain.OrderNew,
	"STOP_ORDER_STATUS_EXECUTED": domain.OrderFilled,
	"STOP_ORDER_STATUS_CANCELED": domain.OrderCancelled,
	"STOP_ORDER_STATUS_EXPIRED":  domain.OrderCancelled,
}

// MapStatus turns a raw venue state into a status and filled quantity for an order of qty.
// Any fill on a status that does not already say so makes the order at least PARTIALLY_FILLED.
func MapStatus(st exchange.OrderState, qty decimal.Decimal) (domain.OrderStatus, decimal.Decimal) {
	status, ok := rawStatuses[strings.ToUpper(strings.TrimSpace(st.RawStatus))]
	if !ok {
		status = domain.OrderUnknown
	}
	filled := st.FilledQty

	switch status {
	case domain.OrderFilled:
		if !filled.IsPositive() {
			filled = qty
		}
	case domain.OrderUnknown, domain.OrderNew, domain.OrderPartiallyFilled:
		if filled.IsPositive() {
			status = domain.OrderPartiallyFilled
			if filled.GreaterThanOrEqual(qty) {
				status = domain.OrderFilled
			}
		}
	}
	return status, filled
}

package broker

import (
	"fmt"

	"github.com/shopspring/decimal"

	pb "github.com/russianinvestments/invest-api-go-sdk/proto"

	"github.com/camuig/sigtrader/internal/domain"
	"github.com/camuig/sigtrader/internal/exchange"
)

var nano = decimal.New(1, 9)

func toQuotation(d decimal.Decimal) *pb.Quotation {
	units := d.Truncate(0)
	return &pb.Quotation{
		Units: units.IntPart(),
		Nano:  int32(d.Sub(units).Mul(nano).IntPart()),
	}
}

func fromQuotation(q *pb.Quotation) decimal.Decimal {
	if q == nil {
		return decimal.Zero
	}
	return fromUnitsNano(q.GetUnits(), q.GetNano())
}

func fromMoney(m *pb.MoneyValue) decimal.Decimal {
	if m == nil {
		return decimal.Zero
	}
	return fromUnitsNano(m.GetUnits(), m.GetNano())
}

func fromUnitsNano(units int64, n int32) decimal.Decimal {
	return decimal.New(units, 0).Add(decimal.New(int64(n), -9))
}

// toLots converts a share quantity to whole lots. A quantity that is not a lot multiple is a
// caller bug, so it is rejected instead of rounded.
func toLots(qty decimal.Decimal, lot int64) (int64, error) {
	if lot <= 0 {
		return 0, fmt.Errorf("invalid lot size %d", lot)
	}
	lots := qty.Div(decimal.New(lot, 0))
	if !lots.IsInteger() || !lots.IsPositive() {
		return 0, &exchange.RejectedError{
			Code: string(domain.ReasonInvalidQuantity),
			Raw:  fmt.Sprintf("quantity %s is not a positive multiple of lot %d", qty, lot),
		}
	}
	return lots.IntPart(), nil
}

func toShares(lots, lot int64) decimal.Decimal {
	return decimal.New(lots*lot, 0)
}

func orderDirection(side domain.Side) pb.OrderDirection {
	if side == domain.SideSell {
		return pb.OrderDirection_ORDER_DIRECTION_SELL
	}
	return pb.OrderDirection_ORDER_DIRECTION_BUY
}

func stopDirection(side domain.Side) pb.StopOrderDirection {
	if side == domain.SideSell {
		return pb.StopOrderDirection_STOP_ORDER_DIRECTION_SELL
	}
	return pb.StopOrderDirection_STOP_ORDER_DIRECTION_BUY
}

func stopOrderType(t domain.OrderType) pb.StopOrderType {
	if t == domain.OrderTypeTakeProfit {
		return pb.StopOrderType_STOP_ORDER_TYPE_TAKE_PROFIT
	}
	return pb.StopOrderType_STOP_ORDER_TYPE_STOP_LOSS
}

func isStop(t domain.OrderType) bool {
	return t == domain.OrderTypeStopLoss || t == domain.OrderTypeTakeProfit
}

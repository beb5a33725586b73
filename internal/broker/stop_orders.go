package broker

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/russianinvestments/invest-api-go-sdk/investgo"
	pb "github.com/russianinvestments/invest-api-go-sdk/proto"

	"github.com/camuig/sigtrader/internal/exchange"
)

// stopLookback bounds the stop order history scanned for a status query.
const stopLookback = 30 * 24 * time.Hour

func (c *Client) placeStop(req exchange.OrderRequest, inst instrument, lots int64) (exchange.OrderAck, error) {
	if c.sandbox {
		// Stop orders are not supported in sandbox
		return exchange.OrderAck{}, &exchange.RejectedError{
			Code: "SANDBOX_UNSUPPORTED",
			Raw:  fmt.Sprintf("stop orders are not available in sandbox (%s %s @ %s)", req.Type, req.Symbol, req.StopPrice),
		}
	}

	resp, err := c.sdk.NewStopOrdersServiceClient().PostStopOrder(&investgo.PostStopOrderRequest{
		InstrumentId:   inst.UID,
		Quantity:       lots,
		StopPrice:      toQuotation(req.StopPrice),
		Direction:      stopDirection(req.Side),
		AccountId:      c.accountID(),
		ExpirationType: pb.StopOrderExpirationType_STOP_ORDER_EXPIRATION_TYPE_GOOD_TILL_CANCEL,
		StopOrderType:  stopOrderType(req.Type),
		OrderID:        req.ClientOrderID,
	})
	if err != nil {
		return exchange.OrderAck{}, fmt.Errorf("post %s %s: %w", req.Type, req.Symbol, classify(err))
	}

	return exchange.OrderAck{
		OrderID:   resp.GetStopOrderId(),
		RawStatus: pb.StopOrderStatusOption_STOP_ORDER_STATUS_ACTIVE.String(),
	}, nil
}

// stopOrderStatus reports an executed stop order as fully filled at its stop price; the
// venue does not expose the resulting market fill on the stop order itself.
func (c *Client) stopOrderStatus(ref exchange.OrderRef) (exchange.OrderState, error) {
	if c.sandbox {
		return exchange.OrderState{}, fmt.Errorf("stop order %s: %w", ref.OrderID, exchange.ErrNotFound)
	}
	inst, err := c.instrument(ref.Symbol)
	if err != nil {
		return exchange.OrderState{}, err
	}

	now := time.Now()
	resp, err := c.sdk.NewStopOrdersServiceClient().GetStopOrders(&investgo.GetStopOrdersRequest{
		AccountId: c.accountID(),
		Status:    pb.StopOrderStatusOption_STOP_ORDER_STATUS_ALL,
		From:      now.Add(-stopLookback),
		To:        now,
	})
	if err != nil {
		return exchange.OrderState{}, fmt.Errorf("stop orders: %w", classify(err))
	}

	for _, so := range resp.GetStopOrders() {
		if so.GetStopOrderId() != ref.OrderID {
			continue
		}
		st := exchange.OrderState{
			OrderID:   ref.OrderID,
			RawStatus: so.GetStatus().String(),
			FilledQty: decimal.Zero,
		}
		if so.GetStatus() == pb.StopOrderStatusOption_STOP_ORDER_STATUS_EXECUTED {
			st.FilledQty = toShares(so.GetLotsRequested(), inst.Lot)
			st.AvgPrice = fromMoney(so.GetStopPrice())
			if ts := so.GetActivationDateTime(); ts.IsValid() {
				at := ts.AsTime()
				st.FilledAt = &at
			}
		}
		return st, nil
	}
	return exchange.OrderState{}, fmt.Errorf("stop order %s: %w", ref.OrderID, exchange.ErrNotFound)
}

func (c *Client) cancelStop(ref exchange.OrderRef) error {
	if c.sandbox {
		return nil
	}
	if _, err := c.sdk.NewStopOrdersServiceClient().CancelStopOrder(c.accountID(), ref.OrderID); err != nil {
		return fmt.Errorf("cancel stop order %s: %w", ref.OrderID, classify(err))
	}
	return nil
}

package broker

import (
	"context"
	"fmt"

	"github.com/russianinvestments/invest-api-go-sdk/investgo"
	pb "github.com/russianinvestments/invest-api-go-sdk/proto"

	"github.com/camuig/sigtrader/internal/domain"
	"github.com/camuig/sigtrader/internal/exchange"
)

// PlaceOrder posts entries as exchange orders and protective legs as stop orders. The client
// order id is passed as the Tinkoff order id, which the venue deduplicates on.
func (c *Client) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
	if err := ctx.Err(); err != nil {
		return exchange.OrderAck{}, exchange.Transient(err)
	}
	inst, err := c.instrument(req.Symbol)
	if err != nil {
		return exchange.OrderAck{}, err
	}
	lots, err := toLots(req.Qty, inst.Lot)
	if err != nil {
		return exchange.OrderAck{}, err
	}

	if isStop(req.Type) {
		return c.placeStop(req, inst, lots)
	}

	orderReq := &investgo.PostOrderRequest{
		InstrumentId: inst.UID,
		Quantity:     lots,
		Direction:    orderDirection(req.Side),
		AccountId:    c.accountID(),
		OrderType:    pb.OrderType_ORDER_TYPE_MARKET,
		OrderId:      req.ClientOrderID,
	}
	if req.Type == domain.OrderTypeLimit {
		orderReq.OrderType = pb.OrderType_ORDER_TYPE_LIMIT
		orderReq.Price = toQuotation(req.Price)
	}

	var resp *investgo.PostOrderResponse
	if c.sandbox {
		resp, err = c.sdk.NewSandboxServiceClient().PostSandboxOrder(orderReq)
	} else {
		resp, err = c.sdk.NewOrdersServiceClient().PostOrder(orderReq)
	}
	if err != nil {
		return exchange.OrderAck{}, fmt.Errorf("post %s order %s: %w", req.Side, req.Symbol, classify(err))
	}

	return exchange.OrderAck{
		OrderID:   resp.GetOrderId(),
		RawStatus: resp.GetExecutionReportStatus().String(),
	}, nil
}

func (c *Client) GetOrderStatus(ctx context.Context, ref exchange.OrderRef) (exchange.OrderState, error) {
	if err := ctx.Err(); err != nil {
		return exchange.OrderState{}, exchange.Transient(err)
	}
	if isStop(ref.Type) {
		return c.stopOrderStatus(ref)
	}
	inst, err := c.instrument(ref.Symbol)
	if err != nil {
		return exchange.OrderState{}, err
	}

	var resp *investgo.GetOrderStateResponse
	if c.sandbox {
		resp, err = c.sdk.NewSandboxServiceClient().GetSandboxOrderState(c.accountID(), ref.OrderID)
	} else {
		resp, err = c.sdk.NewOrdersServiceClient().GetOrderState(c.accountID(), ref.OrderID, pb.PriceType_PRICE_TYPE_CURRENCY, nil)
	}
	if err != nil {
		return exchange.OrderState{}, fmt.Errorf("order state %s: %w", ref.OrderID, classify(err))
	}

	return exchange.OrderState{
		OrderID:   ref.OrderID,
		RawStatus: resp.GetExecutionReportStatus().String(),
		FilledQty: toShares(resp.GetLotsExecuted(), inst.Lot),
		AvgPrice:  fromMoney(resp.GetAveragePositionPrice()),
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, ref exchange.OrderRef) error {
	if err := ctx.Err(); err != nil {
		return exchange.Transient(err)
	}
	if isStop(ref.Type) {
		return c.cancelStop(ref)
	}

	var err error
	if c.sandbox {
		_, err = c.sdk.NewSandboxServiceClient().CancelSandboxOrder(c.accountID(), ref.OrderID)
	} else {
		_, err = c.sdk.NewOrdersServiceClient().CancelOrder(c.accountID(), ref.OrderID, nil)
	}
	if err != nil {
		return fmt.Errorf("cancel order %s: %w", ref.OrderID, classify(err))
	}
	return nil
}

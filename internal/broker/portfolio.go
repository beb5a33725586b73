package broker

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	pb "github.com/russianinvestments/invest-api-go-sdk/proto"

	"github.com/camuig/sigtrader/internal/exchange"
)

// AvailableCash returns the RUB currency balance of the trading account.
func (c *Client) AvailableCash(ctx context.Context) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, exchange.Transient(err)
	}
	accountID := c.accountID()
	currency := pb.PortfolioRequest_RUB

	var resp interface {
		GetTotalAmountCurrencies() *pb.MoneyValue
	}

	if c.sandbox {
		r, err := c.sdk.NewSandboxServiceClient().GetSandboxPortfolio(accountID, currency)
		if err != nil {
			return decimal.Zero, fmt.Errorf("get sandbox portfolio: %w", classify(err))
		}
		resp = r.PortfolioResponse
	} else {
		r, err := c.sdk.NewOperationsServiceClient().GetPortfolio(accountID, currency)
		if err != nil {
			return decimal.Zero, fmt.Errorf("get portfolio: %w", classify(err))
		}
		resp = r.PortfolioResponse
	}

	return fromMoney(resp.GetTotalAmountCurrencies()), nil
}

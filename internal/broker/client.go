// Package broker adapts the Tinkoff Invest API to the exchange contract.
package broker

import (
	"context"
	"fmt"

	"github.com/russianinvestments/invest-api-go-sdk/investgo"

	"github.com/camuig/sigtrader/internal/config"
	"github.com/camuig/sigtrader/internal/logger"
)

const (
	sandboxEndpoint = "sandbox-invest-public-api.tinkoff.ru:443"
	liveEndpoint    = "invest-public-api.tinkoff.ru:443"
)

// Client implements exchange.Adapter and exchange.Account over the Tinkoff Invest SDK.
// Quantities cross this boundary in shares and are converted to lots here.
type Client struct {
	sdk     *investgo.Client
	sandbox bool
	logger  *logger.Logger
	cache   instrumentCache
}

func NewClient(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Client, error) {
	endpoint := liveEndpoint
	if cfg.IsSandbox() {
		endpoint = sandboxEndpoint
	}

	investCfg := investgo.Config{
		EndPoint:  endpoint,
		Token:     cfg.Tinkoff.Token,
		AccountId: cfg.Tinkoff.AccountID,
		AppName:   "sigtrader",
	}

	sdk, err := investgo.NewClient(ctx, investCfg, log)
	if err != nil {
		return nil, fmt.Errorf("create investgo client: %w", err)
	}

	c := &Client{
		sdk:     sdk,
		sandbox: cfg.IsSandbox(),
		logger:  log,
	}

	if cfg.IsSandbox() && cfg.Tinkoff.AccountID == "" {
		if err := c.setupSandbox(); err != nil {
			return nil, fmt.Errorf("setup sandbox: %w", err)
		}
	}

	return c, nil
}

func (c *Client) setupSandbox() error {
	sandbox := c.sdk.NewSandboxServiceClient()

	// Top up sandbox account with 1,000,000 RUB
	_, err := sandbox.SandboxPayIn(&investgo.SandboxPayInRequest{
		AccountId: c.accountID(),
		Currency:  "RUB",
		Unit:      1000000,
		Nano:      0,
	})
	if err != nil {
		return fmt.Errorf("sandbox pay in: %w", classify(err))
	}

	c.logger.Info("sandbox account funded", "account_id", c.accountID())
	return nil
}

func (c *Client) accountID() string {
	return c.sdk.Config.AccountId
}

func (c *Client) Stop() error {
	return c.sdk.Stop()
}

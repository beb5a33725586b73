package placement

import (
	"github.com/shopspring/decimal"

	"github.com/camuig/sigtrader/internal/domain"
)

// RoundDown floors v to a multiple of step. A non-positive step leaves v unchanged.
func RoundDown(v, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}

// RoundUp ceils v to a multiple of step.
func RoundUp(v, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return v
	}
	return v.Div(step).Ceil().Mul(step)
}

// EntryPrice never pays more on a buy or accepts less on a sell than the signal price.
func EntryPrice(side domain.Side, price, tick decimal.Decimal) decimal.Decimal {
	if side == domain.SideBuy {
		return RoundDown(price, tick)
	}
	return RoundUp(price, tick)
}

func StopLossPrice(price, tick decimal.Decimal) decimal.Decimal {
	return RoundDown(price, tick)
}

func TakeProfitPrice(price, tick decimal.Decimal) decimal.Decimal {
	return RoundUp(price, tick)
}

// Quantity is amount / price floored to the lot step.
func Quantity(amount, price, step decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	return RoundDown(amount.Div(price), step)
}

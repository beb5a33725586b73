// Package domain holds the enums shared by the pipeline stages and the store.
package domain

import "strings"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the exit side for a position opened with s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func ParseSide(v string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "BUY":
		return SideBuy, true
	case "SELL":
		return SideSell, true
	}
	return "", false
}

// Action is the evaluator output. HOLD never leaves the evaluator as a Signal.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

func (a Action) Side() (Side, bool) {
	switch a {
	case ActionBuy:
		return SideBuy, true
	case ActionSell:
		return SideSell, true
	}
	return "", false
}

type DecisionType string

const (
	DecisionExecuted DecisionType = "EXECUTED"
	DecisionSkipped  DecisionType = "SKIPPED"
	DecisionFailed   DecisionType = "FAILED"
)

type ReasonCode string

const (
	// evaluator
	ReasonDataMissing   ReasonCode = "DATA_MISSING"
	ReasonLowConfidence ReasonCode = "LOW_CONFIDENCE"
	ReasonNoSignal      ReasonCode = "NO_SIGNAL"

	// throttle gate
	ReasonThrottledMinTime   ReasonCode = "THROTTLED_MIN_TIME"
	ReasonThrottledPriceGate ReasonCode = "THROTTLED_PRICE_GATE"

	// guard pipeline, in check order
	ReasonTradeDisabled       ReasonCode = "TRADE_DISABLED"
	ReasonInsufficientBalance ReasonCode = "INSUFFICIENT_BALANCE"
	ReasonPortfolioLimit      ReasonCode = "PORTFOLIO_LIMIT"
	ReasonMaxOpenPositions    ReasonCode = "MAX_OPEN_POSITIONS"
	ReasonRecentOrderCooldown ReasonCode = "RECENT_ORDER_COOLDOWN"
	ReasonLiveTradingDisabled ReasonCode = "LIVE_TRADING_DISABLED"

	// ledger
	ReasonDedupSkipped ReasonCode = "DEDUP_SKIPPED"

	// placement
	ReasonOrderPlaced      ReasonCode = "ORDER_PLACED"
	ReasonExchangeRejected ReasonCode = "EXCHANGE_REJECTED"
	ReasonNetworkTransient ReasonCode = "NETWORK_TRANSIENT"
	ReasonInvalidQuantity  ReasonCode = "INVALID_QUANTITY"

	ReasonUnexpectedError ReasonCode = "UNEXPECTED_ERROR"
)

type IntentStatus string

const (
	IntentPending            IntentStatus = "PENDING"
	IntentOrderPlaced        IntentStatus = "ORDER_PLACED"
	IntentOrderFailed        IntentStatus = "ORDER_FAILED"
	IntentDedupSkipped       IntentStatus = "DEDUP_SKIPPED"
	IntentBlockedByGuard     IntentStatus = "ORDER_BLOCKED_BY_GUARD"
	IntentBlockedLiveTrading IntentStatus = "ORDER_BLOCKED_LIVE_TRADING"
)

func (s IntentStatus) Terminal() bool {
	return s != IntentPending
}

type OrderRole string

const (
	RoleEntry      OrderRole = "ENTRY"
	RoleStopLoss   OrderRole = "STOP_LOSS"
	RoleTakeProfit OrderRole = "TAKE_PROFIT"
)

func (r OrderRole) Protective() bool {
	return r == RoleStopLoss || r == RoleTakeProfit
}

type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopLoss   OrderType = "STOP_LOSS"
	OrderTypeTakeProfit OrderType = "TAKE_PROFIT"
)

type OrderStatus string

const (
	OrderNew             OrderStatus = "NEW"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCancelled       OrderStatus = "CANCELLED"
	OrderUnknown         OrderStatus = "UNKNOWN"
)

func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCancelled
}

// rank orders statuses along NEW -> PARTIALLY_FILLED -> FILLED so reconciliation never regresses.
func (s OrderStatus) rank() int {
	switch s {
	case OrderUnknown:
		return 0
	case OrderNew:
		return 1
	case OrderPartiallyFilled:
		return 2
	case OrderFilled, OrderCancelled:
		return 3
	}
	return 0
}

// CanTransition reports whether from -> to is a legal ExchangeOrder transition.
func CanTransition(from, to OrderStatus) bool {
	if from == to || from.Terminal() {
		return false
	}
	return to.rank() > from.rank()
}

// ProtectionMode selects how protective offsets are computed.
type ProtectionMode string

const (
	ProtectionPercent ProtectionMode = "PERCENT"
	ProtectionBlended ProtectionMode = "BLENDED"
	ProtectionNone    ProtectionMode = "NONE"
)

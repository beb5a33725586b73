package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/camuig/sigtrader/internal/domain"
)

// Prices and quantities are stored as text so decimals round-trip exactly.

type WatchItem struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Symbol      string `gorm:"uniqueIndex;not null" json:"symbol"`
	Exchange    string `gorm:"not null" json:"exchange"`
	StrategyKey string `gorm:"not null" json:"strategy_key"`

	AlertBuy  bool `json:"alert_buy"`
	AlertSell bool `json:"alert_sell"`
	TradeBuy  bool `json:"trade_buy"`
	TradeSell bool `json:"trade_sell"`

	TradeAmount decimal.Decimal `gorm:"type:text;not null" json:"trade_amount"`
	Margin      bool            `json:"margin"`

	MinInterval       time.Duration `json:"min_interval"`
	MinPriceChangePct float64       `json:"min_price_change_pct"`

	ProtectionMode domain.ProtectionMode `gorm:"not null" json:"protection_mode"`
	StopLossPct    float64               `json:"sl_pct"`
	TakeProfitPct  float64               `json:"tp_pct"`
}

func (w *WatchItem) TradeEnabled(side domain.Side) bool {
	if side == domain.SideBuy {
		return w.TradeBuy
	}
	return w.TradeSell
}

func (w *WatchItem) AlertEnabled(side domain.Side) bool {
	if side == domain.SideBuy {
		return w.AlertBuy
	}
	return w.AlertSell
}

type ThrottleState struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	UpdatedAt time.Time `json:"updated_at"`

	Symbol   string          `gorm:"uniqueIndex:idx_throttle_symbol_side;not null" json:"symbol"`
	Side     domain.Side     `gorm:"uniqueIndex:idx_throttle_symbol_side;not null" json:"side"`
	RefPrice decimal.Decimal `gorm:"type:text;not null" json:"ref_price"`
	RefAt    time.Time       `gorm:"not null" json:"ref_at"`
}

// SignalRecord is a signal that cleared the throttle gate.
type SignalRecord struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Symbol      string          `gorm:"index;not null" json:"symbol"`
	Side        domain.Side     `gorm:"not null" json:"side"`
	Price       decimal.Decimal `gorm:"type:text;not null" json:"price"`
	Confidence  int             `json:"confidence"`
	StrategyKey string          `json:"strategy_key"`
	SourceID    string          `gorm:"index" json:"source_id,omitempty"`
	Snapshot    string          `gorm:"type:text" json:"snapshot"`
	ATR         float64         `gorm:"column:atr" json:"atr"`
	EvaluatedAt time.Time       `gorm:"not null" json:"evaluated_at"`
}

func (SignalRecord) TableName() string {
	return "signals"
}

type DecisionTrace struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	// SignalID is nil only for unit failures that happened before a signal existed.
	SignalID      *uint  `gorm:"uniqueIndex" json:"signal_id,omitempty"`
	CorrelationID string `gorm:"uniqueIndex;not null" json:"correlation_id"`

	Symbol               string              `gorm:"index;not null" json:"symbol"`
	Side                 domain.Side         `json:"side,omitempty"`
	DecisionType         domain.DecisionType `gorm:"index;not null" json:"decision_type"`
	ReasonCode           domain.ReasonCode   `gorm:"index;not null" json:"reason_code"`
	ReasonMessage        string              `json:"reason_message"`
	Context              string              `gorm:"type:text" json:"context"`
	ExchangeErrorSnippet *string             `json:"exchange_error_snippet,omitempty"`
}

type OrderIntent struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	IdempotencyKey string              `gorm:"uniqueIndex;not null" json:"idempotency_key"`
	SignalID       *uint               `gorm:"index" json:"signal_id,omitempty"`
	Symbol         string              `gorm:"index;not null" json:"symbol"`
	Side           domain.Side         `gorm:"not null" json:"side"`
	Status         domain.IntentStatus `gorm:"index;not null" json:"status"`
	OrderID        *string             `json:"order_id,omitempty"`
	ErrorMessage   string              `json:"error_message,omitempty"`
}

type ExchangeOrder struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OrderID       string `gorm:"uniqueIndex;not null" json:"order_id"`
	ClientOrderID string `json:"client_order_id"`
	IntentID      *uint  `gorm:"index" json:"intent_id,omitempty"`

	Symbol string             `gorm:"index;not null" json:"symbol"`
	Side   domain.Side        `gorm:"not null" json:"side"`
	Role   domain.OrderRole   `gorm:"index;not null" json:"role"`
	Type   domain.OrderType   `gorm:"not null" json:"type"`
	Status domain.OrderStatus `gorm:"index;not null" json:"status"`

	Qty       decimal.Decimal `gorm:"type:text;not null" json:"qty"`
	Price     decimal.Decimal `gorm:"type:text" json:"price"`
	StopPrice decimal.Decimal `gorm:"type:text" json:"stop_price"`

	ParentOrderID *string `gorm:"index" json:"parent_order_id,omitempty"`
	OcoGroupID    *string `gorm:"index" json:"oco_group_id,omitempty"`

	FilledQty   decimal.Decimal `gorm:"type:text" json:"filled_qty"`
	FilledPrice decimal.Decimal `gorm:"type:text" json:"filled_price"`
	FilledAt    *time.Time      `json:"filled_at,omitempty"`

	EntryATR          float64 `gorm:"column:entry_atr" json:"entry_atr"`
	ProtectionClaimed bool    `json:"protection_claimed"`

	// ReducesPosition marks an ENTRY placed against an open position. Its fill retires the
	// position's protective legs instead of getting its own.
	ReducesPosition bool `json:"reduces_position"`
}

type ExposureCounter struct {
	Symbol    string    `gorm:"primaryKey" json:"symbol"`
	UpdatedAt time.Time `json:"updated_at"`

	NetQty        decimal.Decimal `gorm:"type:text;not null" json:"net_qty"`
	BoughtQty     decimal.Decimal `gorm:"type:text;not null" json:"bought_qty"`
	BuyFills      int             `json:"buy_fills"`
	OpenPositions int             `json:"open_positions"`
}

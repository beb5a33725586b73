package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/camuig/sigtrader/internal/domain"
	"github.com/camuig/sigtrader/internal/signal"
	"github.com/camuig/sigtrader/internal/storage"
)

type Config struct {
	Tinkoff   TinkoffConfig     `yaml:"tinkoff"`
	Trading   TradingConfig     `yaml:"trading"`
	Telegram  TelegramConfig    `yaml:"telegram"`
	Web       WebConfig         `yaml:"web"`
	Logging   LoggingConfig     `yaml:"logging"`
	Watchlist []WatchItemConfig `yaml:"watchlist"`
}

type TinkoffConfig struct {
	Token     string `yaml:"token"`
	Sandbox   bool   `yaml:"sandbox"`
	AccountID string `yaml:"account_id"`
}

type TradingConfig struct {
	Interval    string `yaml:"interval"`
	UnitTimeout string `yaml:"unit_timeout"`
	CallTimeout string `yaml:"call_timeout"`
	Concurrency int    `yaml:"concurrency"`

	// LiveTrading is the global kill switch. When false every order is blocked by the guard pipeline.
	LiveTrading bool    `yaml:"live_trading"`
	Paper       bool    `yaml:"paper"`
	PaperCash   float64 `yaml:"paper_cash"`

	OrderType        string          `yaml:"order_type"`
	PriceBucket      decimal.Decimal `yaml:"price_bucket"`
	OrderCooldown    string          `yaml:"order_cooldown"`
	MaxOpenPositions int             `yaml:"max_open_positions"`
	MaxPositionValue decimal.Decimal `yaml:"max_position_value"`

	Retry      RetryConfig      `yaml:"retry"`
	Protection ProtectionConfig `yaml:"protection"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Session    SessionConfig    `yaml:"session"`
}

// SessionConfig limits ticks to exchange hours on weekdays.
type SessionConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Timezone string `yaml:"timezone"`
	Start    string `yaml:"start"`
	End      string `yaml:"end"`
}

type RetryConfig struct {
	MaxAttempts int    `yaml:"max_attempts"`
	BaseDelay   string `yaml:"base_delay"`
	MaxDelay    string `yaml:"max_delay"`
}

type ProtectionConfig struct {
	Window string  `yaml:"window"`
	Blend  float64 `yaml:"blend"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

type WebConfig struct {
	Port int `yaml:"port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type WatchItemConfig struct {
	Symbol            string          `yaml:"symbol"`
	Exchange          string          `yaml:"exchange"`
	Strategy          string          `yaml:"strategy"`
	AlertBuy          bool            `yaml:"alert_buy"`
	AlertSell         bool            `yaml:"alert_sell"`
	TradeBuy          bool            `yaml:"trade_buy"`
	TradeSell         bool            `yaml:"trade_sell"`
	TradeAmount       decimal.Decimal `yaml:"trade_amount"`
	Margin            bool            `yaml:"margin"`
	MinInterval       string          `yaml:"min_interval"`
	MinPriceChangePct float64         `yaml:"min_price_change_pct"`
	Protection        string          `yaml:"protection"`
	StopLossPct       float64         `yaml:"sl_pct"`
	TakeProfitPct     float64         `yaml:"tp_pct"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	// Ignore error so the bot still starts when .env is missing.
	_ = godotenv.Load()
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML and applies defaults without touching the environment.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	setDefaults(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TINKOFF_TOKEN"); v != "" {
		cfg.Tinkoff.Token = v
	}
	if v := os.Getenv("TINKOFF_ACCOUNT_ID"); v != "" {
		cfg.Tinkoff.AccountID = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("LIVE_TRADING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Trading.LiveTrading = b
		}
	}
}

func setDefaults(cfg *Config) {
	t := &cfg.Trading
	if t.Interval == "" {
		t.Interval = "30s"
	}
	if t.UnitTimeout == "" {
		t.UnitTimeout = "20s"
	}
	if t.CallTimeout == "" {
		t.CallTimeout = "10s"
	}
	if t.Concurrency == 0 {
		t.Concurrency = 8
	}
	if t.PaperCash == 0 {
		t.PaperCash = 100000
	}
	if t.OrderType == "" {
		t.OrderType = "LIMIT"
	}
	t.OrderType = strings.ToUpper(t.OrderType)
	if t.PriceBucket.IsZero() {
		t.PriceBucket = decimal.RequireFromString("0.01")
	}
	if t.OrderCooldown == "" {
		t.OrderCooldown = "5m"
	}
	if t.MaxOpenPositions == 0 {
		t.MaxOpenPositions = 1
	}
	if t.Retry.MaxAttempts == 0 {
		t.Retry.MaxAttempts = 3
	}
	if t.Retry.BaseDelay == "" {
		t.Retry.BaseDelay = "500ms"
	}
	if t.Retry.MaxDelay == "" {
		t.Retry.MaxDelay = "5s"
	}
	if t.Protection.Window == "" {
		t.Protection.Window = "1h"
	}
	if t.Protection.Blend == 0 {
		t.Protection.Blend = 0.5
	}
	if t.RateLimit.RequestsPerSecond == 0 {
		t.RateLimit.RequestsPerSecond = 5
	}
	if t.RateLimit.Burst == 0 {
		t.RateLimit.Burst = 5
	}
	if t.Session.Timezone == "" {
		t.Session.Timezone = "Europe/Moscow"
	}
	if t.Session.Start == "" {
		t.Session.Start = "10:00"
	}
	if t.Session.End == "" {
		t.Session.End = "18:50"
	}
	if cfg.Web.Port == 0 {
		cfg.Web.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	for i := range cfg.Watchlist {
		w := &cfg.Watchlist[i]
		w.Symbol = strings.ToUpper(strings.TrimSpace(w.Symbol))
		if w.Exchange == "" {
			w.Exchange = "MOEX"
		}
		if w.Strategy == "" {
			w.Strategy = "swing-conservative"
		}
		if w.MinInterval == "" {
			w.MinInterval = "15m"
		}
		if w.Protection == "" {
			w.Protection = "BLENDED"
		}
		w.Protection = strings.ToUpper(w.Protection)
		if w.StopLossPct == 0 {
			w.StopLossPct = 3.0
		}
		if w.TakeProfitPct == 0 {
			w.TakeProfitPct = 5.0
		}
	}
}

func (c *Config) Validate() error {
	// candles come from Tinkoff in paper mode too
	if c.Tinkoff.Token == "" {
		return fmt.Errorf("tinkoff.token is required")
	}
	for name, v := range map[string]string{
		"trading.interval":          c.Trading.Interval,
		"trading.unit_timeout":      c.Trading.UnitTimeout,
		"trading.call_timeout":      c.Trading.CallTimeout,
		"trading.order_cooldown":    c.Trading.OrderCooldown,
		"trading.retry.base_delay":  c.Trading.Retry.BaseDelay,
		"trading.retry.max_delay":   c.Trading.Retry.MaxDelay,
		"trading.protection.window": c.Trading.Protection.Window,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, v, err)
		}
	}
	if c.UnitTimeout() >= c.TradingInterval() {
		return fmt.Errorf("trading.unit_timeout must be shorter than trading.interval")
	}
	if c.Trading.OrderType != "LIMIT" && c.Trading.OrderType != "MARKET" {
		return fmt.Errorf("trading.order_type must be LIMIT or MARKET, got %q", c.Trading.OrderType)
	}
	if !c.Trading.PriceBucket.IsPositive() {
		return fmt.Errorf("trading.price_bucket must be positive")
	}
	if c.Trading.Protection.Blend < 0 || c.Trading.Protection.Blend > 1 {
		return fmt.Errorf("trading.protection.blend must be within [0,1]")
	}
	start, err := clockMinutes(c.Trading.Session.Start)
	if err != nil {
		return fmt.Errorf("invalid trading.session.start: %w", err)
	}
	end, err := clockMinutes(c.Trading.Session.End)
	if err != nil {
		return fmt.Errorf("invalid trading.session.end: %w", err)
	}
	if start >= end {
		return fmt.Errorf("trading.session.start must be before trading.session.end")
	}
	if c.Trading.Concurrency < 1 {
		return fmt.Errorf("trading.concurrency must be positive")
	}
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	if len(c.Watchlist) == 0 {
		return fmt.Errorf("watchlist is empty")
	}
	seen := make(map[string]bool, len(c.Watchlist))
	for _, w := range c.Watchlist {
		if w.Symbol == "" {
			return fmt.Errorf("watchlist item without symbol")
		}
		if seen[w.Symbol] {
			return fmt.Errorf("duplicate watchlist symbol %s", w.Symbol)
		}
		seen[w.Symbol] = true
		if !w.TradeAmount.IsPositive() {
			return fmt.Errorf("watchlist %s: trade_amount must be positive", w.Symbol)
		}
		if _, err := signal.Resolve(w.Strategy); err != nil {
			return fmt.Errorf("watchlist %s: %w", w.Symbol, err)
		}
		if _, err := time.ParseDuration(w.MinInterval); err != nil {
			return fmt.Errorf("watchlist %s: invalid min_interval %q: %w", w.Symbol, w.MinInterval, err)
		}
		if w.MinPriceChangePct < 0 {
			return fmt.Errorf("watchlist %s: min_price_change_pct must not be negative", w.Symbol)
		}
		switch w.Protection {
		case "PERCENT", "BLENDED", "NONE":
		default:
			return fmt.Errorf("watchlist %s: unknown protection mode %q", w.Symbol, w.Protection)
		}
	}
	return nil
}

func (c *Config) IsSandbox() bool {
	return c.Tinkoff.Sandbox
}

func (c *Config) TradingInterval() time.Duration { return mustDuration(c.Trading.Interval) }
func (c *Config) UnitTimeout() time.Duration { return mustDuration(c.Trading.UnitTimeout) }
func (c *Config) CallTimeout() time.Duration { return mustDuration(c.Trading.CallTimeout) }
func (c *Config) OrderCooldown() time.Duration { return mustDuration(c.Trading.OrderCooldown) }
func (c *Config) RetryBaseDelay() time.Duration { return mustDuration(c.Trading.Retry.BaseDelay) }
func (c *Config) RetryMaxDelay() time.Duration { return mustDuration(c.Trading.Retry.MaxDelay) }
func (c *Config) ProtectionWindow() time.Duration {
	return mustDuration(c.Trading.Protection.Window)
}

// SessionLocation falls back to a fixed MSK offset when tzdata is unavailable.
func (c *Config) SessionLocation() *time.Location {
	loc, err := time.LoadLocation(c.Trading.Session.Timezone)
	if err != nil {
		loc = time.FixedZone("MSK", 3*60*60)
	}
	return loc
}

// SessionBounds returns the session start and end as minutes after midnight.
func (c *Config) SessionBounds() (start, end int) {
	start, _ = clockMinutes(c.Trading.Session.Start)
	end, _ = clockMinutes(c.Trading.Session.End)
	return start, end
}

func clockMinutes(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// MinIntervalDuration is the throttle interval of a watch item.
func (w WatchItemConfig) MinIntervalDuration() time.Duration {
	return mustDuration(w.MinInterval)
}

// WatchItems converts the validated watchlist into store rows.
func (c *Config) WatchItems() []storage.WatchItem {
	items := make([]storage.WatchItem, 0, len(c.Watchlist))
	for _, w := range c.Watchlist {
		items = append(items, storage.WatchItem{
			Symbol:            w.Symbol,
			Exchange:          w.Exchange,
			StrategyKey:       w.Strategy,
			AlertBuy:          w.AlertBuy,
			AlertSell:         w.AlertSell,
			TradeBuy:          w.TradeBuy,
			TradeSell:         w.TradeSell,
			TradeAmount:       w.TradeAmount,
			Margin:            w.Margin,
			MinInterval:       w.MinIntervalDuration(),
			MinPriceChangePct: w.MinPriceChangePct,
			ProtectionMode:    domain.ProtectionMode(w.Protection),
			StopLossPct:       w.StopLossPct,
			TakeProfitPct:     w.TakeProfitPct,
		})
	}
	return items
}

func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

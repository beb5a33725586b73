package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/camuig/sigtrader/internal/domain"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Transaction runs fn with a repository bound to a single transaction.
// fn must only use the repository it is given.
func (r *Repository) Transaction(ctx context.Context, fn func(tx *Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx})
	})
}

func (r *Repository) conn(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

func notFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// Watch items

// SyncWatchItems upserts items by symbol and removes symbols no longer configured.
func (r *Repository) SyncWatchItems(ctx context.Context, items []WatchItem) error {
	return r.Transaction(ctx, func(tx *Repository) error {
		symbols := make([]string, 0, len(items))
		for i := range items {
			symbols = append(symbols, items[i].Symbol)
			err := tx.conn(ctx).Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "symbol"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"updated_at", "exchange", "strategy_key", "alert_buy", "alert_sell", "trade_buy", "trade_sell",
					"trade_amount", "margin", "min_interval", "min_price_change_pct", "protection_mode",
					"stop_loss_pct", "take_profit_pct",
				}),
			}).Create(&items[i]).Error
			if err != nil {
				return err
			}
		}
		q := tx.conn(ctx)
		if len(symbols) > 0 {
			q = q.Where("symbol NOT IN ?", symbols)
		} else {
			q = q.Where("1 = 1")
		}
		return q.Delete(&WatchItem{}).Error
	})
}

func (r *Repository) ListWatchItems(ctx context.Context) ([]WatchItem, error) {
	var items []WatchItem
	err := r.conn(ctx).Order("symbol").Find(&items).Error
	return items, err
}

func (r *Repository) GetWatchItem(ctx context.Context, symbol string) (*WatchItem, error) {
	var item WatchItem
	if err := r.conn(ctx).Where("symbol = ?", symbol).First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// Throttle state

// GetThrottleState returns nil without error when no reference exists yet.
func (r *Repository) GetThrottleState(ctx context.Context, symbol string, side domain.Side) (*ThrottleState, error) {
	var st ThrottleState
	err := r.conn(ctx).Where("symbol = ? AND side = ?", symbol, side).First(&st).Error
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (r *Repository) UpsertThrottleState(ctx context.Context, st *ThrottleState) error {
	return r.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "side"}},
		DoUpdates: clause.AssignmentColumns([]string{"ref_price", "ref_at", "updated_at"}),
	}).Create(st).Error
}

// Signals

func (r *Repository) SaveSignal(ctx context.Context, s *SignalRecord) error {
	return r.conn(ctx).Create(s).Error
}

func (r *Repository) GetSignal(ctx context.Context, id uint) (*SignalRecord, error) {
	var s SignalRecord
	if err := r.conn(ctx).First(&s, id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// Decision traces

func (r *Repository) SaveTrace(ctx context.Context, t *DecisionTrace) error {
	return r.conn(ctx).Create(t).Error
}

type TraceFilter struct {
	Symbol       string
	DecisionType domain.DecisionType
	Limit        int
}

func (r *Repository) ListTraces(ctx context.Context, f TraceFilter) ([]DecisionTrace, error) {
	q := r.conn(ctx).Order("id DESC")
	if f.Symbol != "" {
		q = q.Where("symbol = ?", f.Symbol)
	}
	if f.DecisionType != "" {
		q = q.Where("decision_type = ?", f.DecisionType)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var traces []DecisionTrace
	err := q.Find(&traces).Error
	return traces, err
}

func (r *Repository) TracesForSignal(ctx context.Context, signalID uint) ([]DecisionTrace, error) {
	var traces []DecisionTrace
	err := r.conn(ctx).Where("signal_id = ?", signalID).Find(&traces).Error
	return traces, err
}

// Order intents

// InsertIntentIfAbsent inserts the intent unless its idempotency key already exists.
// It reports whether this call created the row.
func (r *Repository) InsertIntentIfAbsent(ctx context.Context, in *OrderIntent) (bool, error) {
	res := r.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(in)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ResolveIntent moves a PENDING intent to status. It reports false when the intent was not pending.
func (r *Repository) ResolveIntent(ctx context.Context, id uint, status domain.IntentStatus, orderID *string, errMsg string) (bool, error) {
	res := r.conn(ctx).Model(&OrderIntent{}).
		Where("id = ? AND status = ?", id, domain.IntentPending).
		Updates(map[string]any{
			"status":        status,
			"order_id":      orderID,
			"error_message": errMsg,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *Repository) GetIntentByKey(ctx context.Context, key string) (*OrderIntent, error) {
	var in OrderIntent
	if err := r.conn(ctx).Where("idempotency_key = ?", key).First(&in).Error; err != nil {
		return nil, err
	}
	return &in, nil
}

func (r *Repository) ListIntents(ctx context.Context, symbol string, limit int) ([]OrderIntent, error) {
	q := r.conn(ctx).Order("id DESC")
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var intents []OrderIntent
	err := q.Find(&intents).Error
	return intents, err
}

// Exposure

// GetExposure returns a zero counter when the symbol has no fills yet.
func (r *Repository) GetExposure(ctx context.Context, symbol string) (*ExposureCounter, error) {
	var c ExposureCounter
	err := r.conn(ctx).Where("symbol = ?", symbol).First(&c).Error
	if notFound(err) {
		return &ExposureCounter{Symbol: symbol}, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repository) SaveExposure(ctx context.Context, c *ExposureCounter) error {
	return r.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		UpdateAll: true,
	}).Create(c).Error
}

func (r *Repository) ListExposure(ctx context.Context) ([]ExposureCounter, error) {
	var counters []ExposureCounter
	err := r.conn(ctx).Order("symbol").Find(&counters).Error
	return counters, err
}

// Package intent admits order attempts exactly once per idempotency key.
//
// The unique index on idempotency_key is the only synchronization between concurrent units and
// between instances: admission is an INSERT that does nothing on conflict.
package intent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/camuig/sigtrader/internal/domain"
	"github.com/camuig/sigtrader/internal/storage"
)

var ErrAlreadyResolved = errors.New("intent already resolved")

const timeBucket = 60 // seconds

// clientOrderNamespace scopes client order ids derived from idempotency keys.
var clientOrderNamespace = uuid.MustParse("6f1c8a52-3d4b-5e7f-9a0b-1c2d3e4f5a6b")

// KeyInput is the part of a signal that identifies it.
type KeyInput struct {
	SourceID string
	Symbol   string
	Side     domain.Side
	Price    decimal.Decimal
	At       time.Time
}

// Key prefers the upstream id; otherwise it hashes symbol, side, bucketed price and the minute.
func Key(in KeyInput, priceBucket decimal.Decimal) string {
	if id := strings.TrimSpace(in.SourceID); id != "" {
		return "sig:" + id
	}

	price := in.Price
	if priceBucket.IsPositive() {
		price = price.Div(priceBucket).Floor().Mul(priceBucket)
	}
	minute := in.At.Unix() / timeBucket

	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d", in.Symbol, in.Side, price.String(), minute)))
	return "h:" + hex.EncodeToString(h[:])
}

// ClientOrderID is stable per key so a resubmitted order is recognized by the venue.
func ClientOrderID(key string) string {
	return uuid.NewSHA1(clientOrderNamespace, []byte(key)).String()
}

type Ledger struct {
	repo *storage.Repository
}

func NewLedger(repo *storage.Repository) *Ledger {
	return &Ledger{repo: repo}
}

// Admission is the result of Admit. Intent is nil when the key collided.
type Admission struct {
	Intent    *storage.OrderIntent
	Duplicate bool
}

// Admit inserts a PENDING intent. A collision yields Duplicate and leaves the store unchanged.
func (l *Ledger) Admit(ctx context.Context, key string, signalID *uint, symbol string, side domain.Side) (Admission, error) {
	in := &storage.OrderIntent{
		IdempotencyKey: key,
		SignalID:       signalID,
		Symbol:         symbol,
		Side:           side,
		Status:         domain.IntentPending,
	}
	created, err := l.repo.InsertIntentIfAbsent(ctx, in)
	if err != nil {
		return Admission{}, fmt.Errorf("admit intent %s: %w", key, err)
	}
	if !created {
		return Admission{Duplicate: true}, nil
	}
	return Admission{Intent: in}, nil
}

// Resolve moves a PENDING intent to a terminal status exactly once.
func (l *Ledger) Resolve(ctx context.Context, in *storage.OrderIntent, status domain.IntentStatus, orderID *string, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("resolve intent %d: %s is not terminal", in.ID, status)
	}
	ok, err := l.repo.ResolveIntent(ctx, in.ID, status, orderID, errMsg)
	if err != nil {
		return fmt.Errorf("resolve intent %d: %w", in.ID, err)
	}
	if !ok {
		return fmt.Errorf("resolve intent %d to %s: %w", in.ID, status, ErrAlreadyResolved)
	}
	in.Status = status
	in.OrderID = orderID
	in.ErrorMessage = errMsg
	return nil
}

// Package trace records exactly one terminal DecisionTrace per signal that cleared the throttle gate.
//
// Every code path that ends a signal's processing goes through Lifecycle.Emit. The first Emit
// writes the row and runs the follow-ups for its decision type; later calls are refused.
package trace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/camuig/sigtrader/internal/domain"
	"github.com/camuig/sigtrader/internal/logger"
	"github.com/camuig/sigtrader/internal/metrics"
	"github.com/camuig/sigtrader/internal/storage"
)

// Alerter delivers a human-readable alert. It reports whether the message went out.
type Alerter interface {
	Send(text string) bool
}

// Recorder moves the throttle reference once a signal has a terminal trace.
type Recorder interface {
	Record(ctx context.Context, symbol string, side domain.Side, price decimal.Decimal, at time.Time) error
}

type Outcome struct {
	Type    domain.DecisionType
	Reason  domain.ReasonCode
	Message string
	Context map[string]any
	// Snippet is the raw exchange error, already truncated.
	Snippet string
}

func Executed(reason domain.ReasonCode, msg string, ctx map[string]any) Outcome {
	return Outcome{Type: domain.DecisionExecuted, Reason: reason, Message: msg, Context: ctx}
}

func Skipped(reason domain.ReasonCode, msg string, ctx map[string]any) Outcome {
	return Outcome{Type: domain.DecisionSkipped, Reason: reason, Message: msg, Context: ctx}
}

func Failed(reason domain.ReasonCode, msg, snippet string, ctx map[string]any) Outcome {
	return Outcome{Type: domain.DecisionFailed, Reason: reason, Message: msg, Snippet: snippet, Context: ctx}
}

type Tracer struct {
	repo     *storage.Repository
	throttle Recorder
	alerts   Alerter
	logger   *logger.Logger
}

func NewTracer(repo *storage.Repository, throttle Recorder, alerts Alerter, log *logger.Logger) *Tracer {
	return &Tracer{repo: repo, throttle: throttle, alerts: alerts, logger: log}
}

// Subject is what a lifecycle traces.
type Subject struct {
	SignalID     *uint
	Symbol       string
	Side         domain.Side
	Price        decimal.Decimal
	At           time.Time
	AlertEnabled bool
}

// SubjectOf builds the subject of a persisted signal.
func SubjectOf(sig *storage.SignalRecord, alertEnabled bool) Subject {
	id := sig.ID
	return Subject{
		SignalID:     &id,
		Symbol:       sig.Symbol,
		Side:         sig.Side,
		Price:        sig.Price,
		At:           sig.EvaluatedAt,
		AlertEnabled: alertEnabled,
	}
}

// Begin opens the lifecycle of one signal.
func (t *Tracer) Begin(s Subject) *Lifecycle {
	return &Lifecycle{tracer: t, subject: s, correlationID: uuid.NewString()}
}

// Unattached records a unit failure that happened before any signal existed.
func (t *Tracer) Unattached(ctx context.Context, symbol string, reason domain.ReasonCode, msg string) {
	l := t.Begin(Subject{Symbol: symbol})
	l.Emit(ctx, Failed(reason, msg, "", nil))
}

type Lifecycle struct {
	tracer        *Tracer
	subject       Subject
	correlationID string

	mu      sync.Mutex
	emitted *Outcome
}

func (l *Lifecycle) CorrelationID() string { return l.correlationID }

// Emitted returns the outcome already recorded, if any.
func (l *Lifecycle) Emitted() (Outcome, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.emitted == nil {
		return Outcome{}, false
	}
	return *l.emitted, true
}

// Emit records the terminal outcome. Only the first call has any effect; it returns false for
// the rest. A store failure is logged with the whole record and counted, but does not stop the
// follow-ups.
func (l *Lifecycle) Emit(ctx context.Context, o Outcome) bool {
	l.mu.Lock()
	if l.emitted != nil {
		prev := *l.emitted
		l.mu.Unlock()
		l.tracer.logger.Error("second terminal outcome refused",
			"symbol", l.subject.Symbol,
			"correlation_id", l.correlationID,
			"recorded", prev.Reason,
			"refused", o.Reason,
		)
		return false
	}
	l.emitted = &o
	l.mu.Unlock()

	t := l.tracer
	rec := l.record(o)
	if err := t.repo.SaveTrace(ctx, rec); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			t.logger.Warn("signal already traced by another unit",
				"symbol", rec.Symbol, "correlation_id", rec.CorrelationID, "reason", rec.ReasonCode)
			return false
		}
		metrics.IncTraceWriteFailure()
		t.logger.Error("save decision trace",
			"error", err,
			"symbol", rec.Symbol,
			"side", rec.Side,
			"decision_type", rec.DecisionType,
			"reason_code", rec.ReasonCode,
			"reason_message", rec.ReasonMessage,
			"context", rec.Context,
			"correlation_id", rec.CorrelationID,
		)
	}

	metrics.IncDecision(string(o.Type), string(o.Reason))
	if follow, ok := followUps[o.Type]; ok {
		follow(t, l.subject, rec)
	}

	if l.subject.SignalID != nil && t.throttle != nil {
		if err := t.throttle.Record(ctx, l.subject.Symbol, l.subject.Side, l.subject.Price, l.subject.At); err != nil {
			t.logger.Error("advance throttle reference", "symbol", l.subject.Symbol, "side", l.subject.Side, "error", err)
		}
	}

	t.logger.Info("decision",
		"symbol", rec.Symbol,
		"side", rec.Side,
		"decision_type", rec.DecisionType,
		"reason_code", rec.ReasonCode,
		"message", rec.ReasonMessage,
		"correlation_id", rec.CorrelationID,
	)
	return true
}

func (l *Lifecycle) record(o Outcome) *storage.DecisionTrace {
	rec := &storage.DecisionTrace{
		SignalID:      l.subject.SignalID,
		CorrelationID: l.correlationID,
		Symbol:        l.subject.Symbol,
		Side:          l.subject.Side,
		DecisionType:  o.Type,
		ReasonCode:    o.Reason,
		ReasonMessage: o.Message,
	}
	if o.Snippet != "" {
		s := o.Snippet
		rec.ExchangeErrorSnippet = &s
	}
	if len(o.Context) > 0 {
		if data, err := json.Marshal(o.Context); err == nil {
			rec.Context = string(data)
		} else {
			rec.Context = fmt.Sprintf("%v", o.Context)
		}
	}
	return rec
}

// followUps is the per-decision-type dispatch table run after a trace is written.
var followUps = map[domain.DecisionType]func(t *Tracer, s Subject, rec *storage.DecisionTrace){
	domain.DecisionExecuted: func(t *Tracer, s Subject, rec *storage.DecisionTrace) {
		if !s.AlertEnabled {
			return
		}
		t.alert(fmt.Sprintf("%s *%s* %s\nPrice: %s\n%s", sideEmoji(s.Side), s.Side, s.Symbol, s.Price, rec.ReasonMessage))
	},
	domain.DecisionSkipped: func(t *Tracer, s Subject, rec *storage.DecisionTrace) {},
	domain.DecisionFailed: func(t *Tracer, s Subject, rec *storage.DecisionTrace) {
		msg := fmt.Sprintf("🚨 *FAILED* %s %s\nReason: %s\n%s", s.Side, s.Symbol, rec.ReasonCode, rec.ReasonMessage)
		if rec.ExchangeErrorSnippet != nil {
			msg += "\n```\n" + *rec.ExchangeErrorSnippet + "\n```"
		}
		t.alert(msg)
	},
}

func (t *Tracer) alert(msg string) {
	if t.alerts == nil {
		return
	}
	if !t.alerts.Send(msg) {
		t.logger.Debug("alert not delivered", "message", msg)
	}
}

func sideEmoji(s domain.Side) string {
	if s == domain.SideBuy {
		return "🟢"
	}
	return "🔴"
}

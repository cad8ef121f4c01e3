// Package sim is an in-process broker used by the demo command and the
// engine tests. Market orders fill immediately at the configured price and
// produce the same fill/status event stream a live connection would.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantfold/ledger/broker"
	"github.com/quantfold/ledger/events"
)

type Engine struct {
	mu        sync.Mutex
	accountID string
	currency  string
	equity    float64
	cash      float64
	book      map[string]broker.InstrumentPosition
	prices    map[string]float64
	queue     *events.Queue
	log       *zap.Logger
	snapErr   error
	now       func() time.Time
}

func NewEngine(accountID string, equity float64, q *events.Queue, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		accountID: accountID,
		currency:  "USD",
		equity:    equity,
		cash:      equity,
		book:      make(map[string]broker.InstrumentPosition),
		prices:    make(map[string]float64),
		queue:     q,
		log:       log,
		now:       time.Now,
	}
}

// SetPrice sets the current market price for an instrument and re-marks the
// broker book.
func (e *Engine) SetPrice(instrument string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[instrument] = price
	if p, ok := e.book[instrument]; ok {
		p.MarketPrice = price
		p.MarketValue = p.Quantity * price
		e.book[instrument] = p
	}
}

// InjectDrift adds quantity to the broker book without emitting any events,
// as if an execution happened outside this engine's view. Reconciliation is
// expected to surface it as unattributed quantity.
func (e *Engine) InjectDrift(instrument string, quantity float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applyLocked(instrument, quantity)
}

// SetSnapshotError makes GetAccountSnapshot fail until cleared with nil.
func (e *Engine) SetSnapshotError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapErr = err
}

// SetClock overrides the time source. Used in tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

func (e *Engine) GetAccountSnapshot(ctx context.Context, accountID string) (broker.AccountSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snapErr != nil {
		return broker.AccountSnapshot{}, e.snapErr
	}

	positions := make(map[string]broker.InstrumentPosition, len(e.book))
	for in, p := range e.book {
		positions[in] = p
	}
	return broker.AccountSnapshot{
		AccountID: e.accountID,
		Time:      e.now(),
		Positions: positions,
	}, nil
}

func (e *Engine) GetAccountSummary(ctx context.Context, accountID string) (broker.AccountSummary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	equity := e.cash
	for _, p := range e.book {
		equity += p.MarketValue
	}
	return broker.AccountSummary{
		AccountID: e.accountID,
		Currency:  e.currency,
		Equity:    equity,
		Cash:      e.cash,
	}, nil
}

// CreateMarketOrder fills the order at the current price and emits the
// submitted status, the fill, and the filled status, in that order.
func (e *Engine) CreateMarketOrder(ctx context.Context, req broker.MarketOrderRequest) error {
	if req.Quantity == 0 {
		return fmt.Errorf("create market order %s: zero quantity", req.OrderID)
	}

	e.mu.Lock()
	price, ok := e.prices[req.Instrument]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("create market order %s: no price for %q", req.OrderID, req.Instrument)
	}
	e.applyLocked(req.Instrument, req.Quantity)
	e.cash -= req.Quantity * price
	now := e.now()
	e.mu.Unlock()

	e.emit(events.Event{
		Kind:   events.KindOrderStatus,
		Source: e.accountID,
		Status: broker.OrderStatusEvent{
			OrderID: req.OrderID,
			Status:  broker.StatusSubmitted,
			Time:    now,
		},
	})
	e.emit(events.Event{
		Kind:   events.KindFill,
		Source: e.accountID,
		Fill: broker.FillEvent{
			OrderID:     req.OrderID,
			ExecutionID: uuid.NewString(),
			Instrument:  req.Instrument,
			Quantity:    req.Quantity,
			Price:       price,
			Time:        now,
		},
	})
	e.emit(events.Event{
		Kind:   events.KindOrderStatus,
		Source: e.accountID,
		Status: broker.OrderStatusEvent{
			OrderID:        req.OrderID,
			Status:         broker.StatusFilled,
			FilledQuantity: req.Quantity,
			Time:           now,
		},
	})
	return nil
}

func (e *Engine) applyLocked(instrument string, quantity float64) {
	p := e.book[instrument]
	p.Instrument = instrument
	p.Quantity += quantity
	p.MarketPrice = e.prices[instrument]
	p.MarketValue = p.Quantity * p.MarketPrice
	e.book[instrument] = p
}

func (e *Engine) emit(ev events.Event) {
	if e.queue == nil {
		return
	}
	if err := e.queue.Enqueue(ev); err != nil {
		e.log.Warn("event not enqueued", zap.Error(err))
	}
}

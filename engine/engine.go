// Package engine wires the event queue, fill processor, order tracker, and
// reconciler into one running unit: one goroutine per strategy producing
// orders, one consumer draining the queue, and one reconciliation timer.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantfold/ledger/broker"
	"github.com/quantfold/ledger/equity"
	"github.com/quantfold/ledger/events"
	"github.com/quantfold/ledger/journal"
	"github.com/quantfold/ledger/ledger"
	"github.com/quantfold/ledger/pkg/id"
	"github.com/quantfold/ledger/reconcile"
	"github.com/quantfold/ledger/strategies"
)

type Engine struct {
	account  string
	broker   broker.Broker
	queue    *events.Queue
	store    journal.Store
	book     *ledger.Book
	fills    *ledger.FillProcessor
	orders   *ledger.OrderTracker
	resolver *equity.Resolver
	rec      *reconcile.Reconciler
	log      *zap.Logger

	mu    sync.Mutex
	strat map[string]strategies.Strategy

	flushEvery time.Duration
}

type Option func(*Engine)

func WithReconcileInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.rec = reconcile.New(e.account, e.broker, e.store, e.book, e.log,
			reconcile.WithInterval(d))
	}
}

func WithOrderFlushInterval(d time.Duration) Option {
	return func(e *Engine) { e.flushEvery = d }
}

func New(account string, b broker.Broker, store journal.Store, q *events.Queue, resolver *equity.Resolver, log *zap.Logger, opts ...Option) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	book := ledger.NewBook(account)
	e := &Engine{
		account:    account,
		broker:     b,
		queue:      q,
		store:      store,
		book:       book,
		fills:      ledger.NewFillProcessor(book, store, log),
		orders:     ledger.NewOrderTracker(book, log),
		resolver:   resolver,
		log:        log,
		strat:      make(map[string]strategies.Strategy),
		flushEvery: time.Minute,
	}
	e.rec = reconcile.New(account, b, store, book, log)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Book() *ledger.Book { return e.book }

func (e *Engine) Tracker() *ledger.OrderTracker { return e.orders }

// AddStrategy registers a strategy with the engine. Must happen before Run.
func (e *Engine) AddStrategy(s strategies.Strategy) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.strat[s.Name()]; dup {
		return fmt.Errorf("strategy %q already registered", s.Name())
	}
	e.strat[s.Name()] = s
	return nil
}

// AccountID implements strategies.Env.
func (e *Engine) AccountID() string { return e.account }

// ResolveEquity returns the capital allocated to a strategy against current
// total account equity. A missing allocation is the caller's error to handle;
// it is never defaulted.
func (e *Engine) ResolveEquity(ctx context.Context, strategy string) (float64, error) {
	summary, err := e.broker.GetAccountSummary(ctx, e.account)
	if err != nil {
		return 0, fmt.Errorf("account summary: %w", err)
	}
	return e.resolver.Resolve(strategy, summary.Equity)
}

// Positions returns the attributed rows for one strategy, ordered by
// instrument.
func (e *Engine) Positions(strategy string) []ledger.Position {
	return e.book.Positions(strategy)
}

// UnattributedPositions returns the residual rows.
func (e *Engine) UnattributedPositions() []ledger.Position {
	return e.book.Positions(ledger.StrategyUnattributed)
}

// PlaceMarketOrder registers order ownership, then submits to the broker.
// Placement fails fast on an unknown strategy or a missing equity
// allocation, since capital sizing would be undefined.
func (e *Engine) PlaceMarketOrder(ctx context.Context, strategy, instrument string, quantity float64) (string, error) {
	e.mu.Lock()
	s, known := e.strat[strategy]
	e.mu.Unlock()
	if !known {
		return "", fmt.Errorf("place order: unknown strategy %q", strategy)
	}
	if _, err := e.ResolveEquity(ctx, strategy); err != nil {
		return "", fmt.Errorf("place order: %w", err)
	}

	orderID := id.New()
	if err := e.book.RecordOrder(orderID, strategy, instrument, quantity); err != nil {
		return "", err
	}
	s.OnOrderRegistered(orderID)

	if err := e.broker.CreateMarketOrder(ctx, broker.MarketOrderRequest{
		AccountID:  e.account,
		OrderID:    orderID,
		Instrument: instrument,
		Quantity:   quantity,
	}); err != nil {
		return "", fmt.Errorf("place order %s: %w", orderID, err)
	}
	return orderID, nil
}

// Recover hydrates the in-memory book from the durable ledger: live position
// rows plus every known execution id, so replayed fill deliveries stay
// idempotent across restarts.
func (e *Engine) Recover(ctx context.Context) error {
	rows, err := e.store.ListPositionRows(ctx, e.account)
	if err != nil {
		return fmt.Errorf("recover positions: %w", err)
	}
	execIDs, err := e.store.ListExecutionIDs(ctx, e.account)
	if err != nil {
		return fmt.Errorf("recover execution ids: %w", err)
	}
	e.book.Hydrate(reconcile.Aggregate(rows), execIDs)
	e.log.Info("ledger recovered",
		zap.String("account", e.account),
		zap.Int("rows", len(rows)),
		zap.Int("fills", len(execIDs)))
	return nil
}

// Run recovers state, initializes and starts every strategy, starts the
// reconciler, and drains the event queue until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Recover(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	strats := make([]strategies.Strategy, 0, len(e.strat))
	for _, s := range e.strat {
		strats = append(strats, s)
	}
	e.mu.Unlock()

	for _, s := range strats {
		if err := s.Initialize(ctx, e); err != nil {
			return fmt.Errorf("initialize strategy %s: %w", s.Name(), err)
		}
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = e.rec.Run(ctx)
	}()

	for _, s := range strats {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Run(ctx); err != nil {
				e.log.Error("strategy stopped", zap.String("strategy", s.Name()), zap.Error(err))
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(e.flushEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := e.orders.Flush(ctx, e.store); err != nil {
					e.log.Warn("order archive flush failed", zap.Error(err))
				} else if n > 0 {
					e.log.Debug("orders archived", zap.Int("count", n))
				}
			}
		}
	}()

	err := e.queue.Run(ctx, func(ev events.Event) { e.Handle(ctx, ev) })
	wg.Wait()

	if err == context.Canceled {
		return nil
	}
	return err
}

// storeWriteTimeout bounds the journal writes done per fill event.
const storeWriteTimeout = 10 * time.Second

// Handle dispatches one queue event. Recoverable anomalies are logged and
// absorbed; the pipeline never stops on bad data. Store writes inherit the
// run context, so shutdown is not held up by a stuck journal.
func (e *Engine) Handle(ctx context.Context, ev events.Event) {
	switch ev.Kind {
	case events.KindFill:
		wctx, cancel := context.WithTimeout(ctx, storeWriteTimeout)
		_, err := e.fills.Process(wctx, ev.Fill)
		cancel()
		if err != nil {
			e.log.Warn("fill not applied",
				zap.String("execution_id", ev.Fill.ExecutionID),
				zap.Error(err))
		}
	case events.KindOrderStatus:
		e.orders.Apply(ev.Status)
	default:
		e.log.Warn("unknown event kind discarded", zap.Int("kind", int(ev.Kind)))
	}
}

// ReconcileNow runs a single reconciliation pass outside the timer.
func (e *Engine) ReconcileNow(ctx context.Context) error {
	return e.rec.Reconcile(ctx)
}

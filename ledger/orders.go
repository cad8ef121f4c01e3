package ledger

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/quantfold/ledger/broker"
)

// OrderArchiver is the slice of the ledger store that receives terminal
// orders on flush.
type OrderArchiver interface {
	ArchiveOrders(ctx context.Context, orders []OrderState) error
}

// OrderTracker maintains order lifecycle state from status events,
// independently of fill processing. Terminal states are immutable; any event
// arriving after one is an anomaly, logged and discarded.
type OrderTracker struct {
	mu     sync.Mutex
	book   *Book
	orders map[string]*OrderState
	log    *zap.Logger
}

func NewOrderTracker(book *Book, log *zap.Logger) *OrderTracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &OrderTracker{
		book:   book,
		orders: make(map[string]*OrderState),
		log:    log,
	}
}

var statusRank = map[broker.OrderStatus]int{
	broker.StatusSubmitted:       1,
	broker.StatusPartiallyFilled: 2,
	broker.StatusFilled:          3,
	broker.StatusCancelled:       3,
	broker.StatusRejected:        3,
}

// Apply drives the state machine for one order:
//
//	Submitted -> {PartiallyFilled <-> PartiallyFilled, Filled, Cancelled, Rejected}
//
// It never blocks on ledger writes.
func (t *OrderTracker) Apply(ev broker.OrderStatusEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	o, ok := t.orders[ev.OrderID]
	if !ok {
		o = &OrderState{OrderID: ev.OrderID, Account: t.book.Account()}
		if ref, owned := t.book.Owner(ev.OrderID); owned {
			o.Strategy = ref.Strategy
			o.Instrument = ref.Instrument
			o.RequestedQuantity = ref.RequestedQuantity
		} else {
			o.Strategy = StrategyUnattributed
		}
		t.orders[ev.OrderID] = o
	}

	if o.Status.Terminal() {
		t.log.Warn("status event after terminal state discarded",
			zap.String("order_id", ev.OrderID),
			zap.String("terminal", string(o.Status)),
			zap.String("event", string(ev.Status)))
		return
	}

	// PartiallyFilled -> PartiallyFilled is the only allowed same-rank step;
	// a regression (e.g. Submitted after PartiallyFilled) is out of order.
	if statusRank[ev.Status] < statusRank[o.Status] {
		t.log.Warn("out-of-order status event discarded",
			zap.String("order_id", ev.OrderID),
			zap.String("current", string(o.Status)),
			zap.String("event", string(ev.Status)))
		return
	}

	o.Status = ev.Status
	if ev.FilledQuantity > o.FilledQuantity {
		o.FilledQuantity = ev.FilledQuantity
	}
	o.UpdatedAt = ev.Time
}

// Get returns a copy of the tracked state for one order.
func (t *OrderTracker) Get(orderID string) (OrderState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.orders[orderID]
	if !ok {
		return OrderState{}, false
	}
	return *o, true
}

// Open returns the number of orders not yet terminal.
func (t *OrderTracker) Open() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, o := range t.orders {
		if !o.Status.Terminal() {
			n++
		}
	}
	return n
}

// Flush archives terminal orders to the store and drops them from memory.
// Non-terminal orders are untouched. Returns the number archived.
func (t *OrderTracker) Flush(ctx context.Context, store OrderArchiver) (int, error) {
	t.mu.Lock()
	var done []OrderState
	for _, o := range t.orders {
		if o.Status.Terminal() {
			done = append(done, *o)
		}
	}
	t.mu.Unlock()

	if len(done) == 0 {
		return 0, nil
	}
	if err := store.ArchiveOrders(ctx, done); err != nil {
		return 0, err
	}

	t.mu.Lock()
	for _, o := range done {
		delete(t.orders, o.OrderID)
	}
	t.mu.Unlock()
	return len(done), nil
}

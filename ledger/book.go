package ledger

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// Book is the in-memory attributed position set for one account. Mutation is
// serialized per instrument: fill application and reconciliation merges on
// the same instrument never interleave, while unrelated instruments proceed
// in parallel.
type Book struct {
	account string

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	rows    map[rowKey]*Position
	owners  map[string]OrderRef
	applied map[string]struct{} // execution ids already applied
}

type rowKey struct {
	strategy   string
	instrument string
}

func NewBook(account string) *Book {
	return &Book{
		account: account,
		locks:   make(map[string]*sync.Mutex),
		rows:    make(map[rowKey]*Position),
		owners:  make(map[string]OrderRef),
		applied: make(map[string]struct{}),
	}
}

func (b *Book) Account() string { return b.account }

// instrumentLock returns the mutex serializing writes for one instrument.
func (b *Book) instrumentLock(instrument string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.locks[instrument]
	if !ok {
		l = &sync.Mutex{}
		b.locks[instrument] = l
	}
	return l
}

// RecordOrder registers strategy ownership of an order before any fill for it
// can be attributed. Re-registering an order id under a different strategy is
// an error; capital attribution must never be ambiguous.
func (b *Book) RecordOrder(orderID, strategy, instrument string, requestedQty float64) error {
	if orderID == "" || strategy == "" {
		return fmt.Errorf("record order: order id and strategy are required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if ref, ok := b.owners[orderID]; ok && ref.Strategy != strategy {
		return fmt.Errorf("record order: order %q already owned by strategy %q", orderID, ref.Strategy)
	}
	b.owners[orderID] = OrderRef{
		OrderID:           orderID,
		Strategy:          strategy,
		Instrument:        instrument,
		RequestedQuantity: requestedQty,
	}
	return nil
}

// Owner resolves an order id to its registered owner.
func (b *Book) Owner(orderID string) (OrderRef, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ref, ok := b.owners[orderID]
	return ref, ok
}

// Seen reports whether an execution id has already been applied.
func (b *Book) Seen(executionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.applied[executionID]
	return ok
}

// MarkApplied records an execution id as applied. Used on startup recovery to
// rebuild the idempotency set from the durable fill log.
func (b *Book) MarkApplied(executionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.applied[executionID] = struct{}{}
}

// Apply mutates the (strategy, instrument) row with a signed fill delta and
// returns the updated position. The caller is expected to have checked
// idempotency; Apply itself refuses a duplicate execution id.
//
// Average cost follows the weighted-average-cost rule on same-direction adds.
// Reducing fills realize P&L proportionally; a reversing fill closes the
// whole position and opens the remainder at the fill price.
func (b *Book) Apply(f Fill) (Position, error) {
	if f.Quantity == 0 {
		return Position{}, fmt.Errorf("apply fill %s: zero quantity", f.ExecutionID)
	}

	il := b.instrumentLock(f.Instrument)
	il.Lock()
	defer il.Unlock()

	// The row is mutated under b.mu so concurrent readers copying rows
	// (Row, Positions, All) never observe a half-applied delta.
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.applied[f.ExecutionID]; dup {
		return Position{}, fmt.Errorf("apply fill %s: duplicate execution id", f.ExecutionID)
	}
	b.applied[f.ExecutionID] = struct{}{}
	key := rowKey{strategy: f.Strategy, instrument: f.Instrument}
	p, ok := b.rows[key]
	if !ok {
		p = &Position{Account: b.account, Strategy: f.Strategy, Instrument: f.Instrument}
		b.rows[key] = p
	}

	applyDelta(p, f)
	return *p, nil
}

func applyDelta(p *Position, f Fill) {
	q, fq := p.Quantity, f.Quantity

	switch {
	case q == 0 || sameSign(q, fq):
		// Opening or adding: weighted-average cost.
		total := math.Abs(q) + math.Abs(fq)
		p.AvgCost = (math.Abs(q)*p.AvgCost + math.Abs(fq)*f.Price) / total
		p.Quantity = q + fq

	case math.Abs(fq) <= math.Abs(q):
		// Reducing: realize P&L on the closed quantity, cost basis unchanged.
		closed := math.Abs(fq)
		p.RealizedPL += closed * (f.Price - p.AvgCost) * sign(q)
		p.Quantity = q + fq
		if p.Quantity == 0 {
			p.AvgCost = 0
		}

	default:
		// Reversing: close the whole position, open remainder at fill price.
		closed := math.Abs(q)
		p.RealizedPL += closed * (f.Price - p.AvgCost) * sign(q)
		p.Quantity = q + fq
		p.AvgCost = f.Price
	}

	p.RealizedPL -= f.Commission
	p.MarketPrice = f.Price
	p.UpdatedAt = f.Time
}

func sameSign(a, b float64) bool { return (a > 0) == (b > 0) }

func sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}

// Row returns a copy of the (strategy, instrument) position, if present.
func (b *Book) Row(strategy, instrument string) (Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.rows[rowKey{strategy: strategy, instrument: instrument}]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Positions returns the attributed rows for one strategy, ordered by
// instrument.
func (b *Book) Positions(strategy string) []Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Position
	for k, p := range b.rows {
		if k.strategy == strategy {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

// All returns every row, ordered by (strategy, instrument).
func (b *Book) All() []Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Position, 0, len(b.rows))
	for _, p := range b.rows {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Strategy != out[j].Strategy {
			return out[i].Strategy < out[j].Strategy
		}
		return out[i].Instrument < out[j].Instrument
	})
	return out
}

// ReplaceInstrument swaps every row for one instrument with the merged set
// produced by a reconciliation pass. It must be called with the instrument
// lock held (see WithInstrument).
func (b *Book) ReplaceInstrument(instrument string, rows []Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k := range b.rows {
		if k.instrument == instrument {
			delete(b.rows, k)
		}
	}
	for i := range rows {
		r := rows[i]
		r.Account = b.account
		b.rows[rowKey{strategy: r.Strategy, instrument: r.Instrument}] = &r
	}
}

// WithInstrument runs fn while holding the instrument's write lock.
func (b *Book) WithInstrument(instrument string, fn func()) {
	il := b.instrumentLock(instrument)
	il.Lock()
	defer il.Unlock()
	fn()
}

// LockInstruments takes the write locks for a set of instruments in sorted
// order and returns the matching unlock. Fill application only ever holds a
// single instrument lock, so the sorted multi-acquire cannot deadlock
// against it.
func (b *Book) LockInstruments(instruments []string) (unlock func()) {
	sorted := make([]string, len(instruments))
	copy(sorted, instruments)
	sort.Strings(sorted)

	locks := make([]*sync.Mutex, 0, len(sorted))
	for _, in := range sorted {
		l := b.instrumentLock(in)
		l.Lock()
		locks = append(locks, l)
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

// Hydrate replaces the book contents with rows loaded from the store and
// seeds the idempotency set with known execution ids.
func (b *Book) Hydrate(rows []Position, executionIDs []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows = make(map[rowKey]*Position, len(rows))
	for i := range rows {
		r := rows[i]
		r.Account = b.account
		b.rows[rowKey{strategy: r.Strategy, instrument: r.Instrument}] = &r
	}
	for _, id := range executionIDs {
		b.applied[id] = struct{}{}
	}
}

// Instruments returns every instrument with at least one row.
func (b *Book) Instruments() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	seen := make(map[string]struct{})
	for k := range b.rows {
		seen[k.instrument] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for in := range seen {
		out = append(out, in)
	}
	sort.Strings(out)
	return out
}

// Package reconcile merges the broker's authoritative, strategy-agnostic
// position snapshot with the engine's attributed ledger. The broker has no
// concept of strategy attribution; the ledger does. Residual quantity the
// strategies cannot explain lands in the reserved "unattributed" row, so
// that for every instrument the attributed rows always sum to exactly what
// the broker reports.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/quantfold/ledger/broker"
	"github.com/quantfold/ledger/journal"
	"github.com/quantfold/ledger/ledger"
	"github.com/quantfold/ledger/pkg/id"
)

var (
	// ErrSkipped means the pass did not run because the broker snapshot
	// could not be fetched. The previous attributed snapshot is untouched.
	ErrSkipped = errors.New("reconciliation pass skipped")

	// ErrInvariant means the merged rows did not sum to the broker totals.
	// The write-back was aborted; nothing was persisted.
	ErrInvariant = errors.New("reconciliation invariant violated")
)

// qtyTolerance bounds float drift when checking merged sums against broker
// totals. Residuals are computed by subtraction, so anything above this is a
// real merge defect, not rounding.
const qtyTolerance = 1e-9

type Reconciler struct {
	account  string
	broker   broker.Broker
	store    journal.Store
	book     *ledger.Book
	log      *zap.Logger
	interval time.Duration
	timeout  time.Duration
}

type Option func(*Reconciler)

func WithInterval(d time.Duration) Option {
	return func(r *Reconciler) { r.interval = d }
}

func WithTimeout(d time.Duration) Option {
	return func(r *Reconciler) { r.timeout = d }
}

func New(account string, b broker.Broker, store journal.Store, book *ledger.Book, log *zap.Logger, opts ...Option) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Reconciler{
		account:  account,
		broker:   b,
		store:    store,
		book:     book,
		log:      log,
		interval: time.Minute,
		timeout:  15 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one pass immediately, then one per interval until the context
// is cancelled. A skipped or failed pass schedules no mid-cycle retry; the
// next tick is the retry.
func (r *Reconciler) Run(ctx context.Context) error {
	if err := r.Reconcile(ctx); err != nil {
		r.logPassError(err)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Reconcile(ctx); err != nil {
				r.logPassError(err)
			}
		}
	}
}

func (r *Reconciler) logPassError(err error) {
	switch {
	case errors.Is(err, ErrSkipped):
		r.log.Warn("reconciliation skipped", zap.Error(err))
	case errors.Is(err, ErrInvariant):
		r.log.Error("reconciliation consistency alert", zap.Error(err))
	case errors.Is(err, context.Canceled):
	default:
		r.log.Error("reconciliation failed", zap.Error(err))
	}
}

// Reconcile runs a single pass. If the broker snapshot fetch fails or times
// out, the pass is abandoned and the last attributed snapshot stays exactly
// as it was.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	snap, err := r.broker.GetAccountSnapshot(fetchCtx, r.account)
	if err != nil {
		return fmt.Errorf("%w: broker snapshot fetch: %v", ErrSkipped, err)
	}

	// Union of instruments known to either side. The instrument locks are
	// held through merge, persist, and book replacement so no fill update
	// can interleave with the pass on the same row.
	instruments := unionInstruments(r.book.Instruments(), snap)
	unlock := r.book.LockInstruments(instruments)
	defer unlock()

	merged := make(map[string][]ledger.Position, len(instruments))
	var flat []ledger.Position
	for _, instrument := range instruments {
		rows := r.mergeInstrument(instrument, snap)
		merged[instrument] = rows
		flat = append(flat, rows...)
	}

	if err := verify(merged, snap); err != nil {
		return err
	}

	storeCtx, cancelStore := context.WithTimeout(ctx, r.timeout)
	defer cancelStore()

	version := id.New()
	if err := r.store.WriteSnapshot(storeCtx, r.account, version, flat); err != nil {
		return fmt.Errorf("persist snapshot %s: %w", version, err)
	}

	for instrument, rows := range merged {
		r.book.ReplaceInstrument(instrument, rows)
	}

	r.log.Info("reconciliation pass complete",
		zap.String("account", r.account),
		zap.String("version", version),
		zap.Int("instruments", len(instruments)),
		zap.Int("rows", len(flat)))
	return nil
}

// mergeInstrument produces the merged attributed rows for one instrument.
// Duplicate (strategy, instrument) rows are aggregated first; the
// unattributed row is then set to absorb the residual exactly.
func (r *Reconciler) mergeInstrument(instrument string, snap broker.AccountSnapshot) []ledger.Position {
	bp, onBroker := snap.Positions[instrument]

	var attributed []ledger.Position
	var unattr *ledger.Position
	for _, row := range Aggregate(rowsFor(r.book, instrument)) {
		row := row
		if row.Strategy == ledger.StrategyUnattributed {
			unattr = &row
			continue
		}
		attributed = append(attributed, row)
	}

	var sum float64
	for i := range attributed {
		sum += attributed[i].Quantity
		if onBroker {
			attributed[i].MarketPrice = bp.MarketPrice
			attributed[i].UpdatedAt = snap.Time
		}
	}

	brokerQty := 0.0
	if onBroker {
		brokerQty = bp.Quantity
	}
	residual := brokerQty - sum

	switch {
	case residual != 0:
		// The unattributed row absorbs the residual exactly, so the rows
		// always sum to the broker total after the pass.
		row := ledger.Position{
			Account:    r.account,
			Strategy:   ledger.StrategyUnattributed,
			Instrument: instrument,
			Quantity:   residual,
			UpdatedAt:  snap.Time,
		}
		if unattr != nil {
			row.AvgCost = unattr.AvgCost
			row.RealizedPL = unattr.RealizedPL
		}
		if onBroker {
			row.MarketPrice = bp.MarketPrice
			if row.AvgCost == 0 {
				row.AvgCost = bp.MarketPrice
			}
		}
		if unattr != nil && math.Abs(unattr.Quantity-residual) > qtyTolerance {
			r.log.Warn("unattributed quantity adjusted",
				zap.String("instrument", instrument),
				zap.Float64("previous", unattr.Quantity),
				zap.Float64("residual", residual))
		} else if unattr == nil {
			r.log.Warn("residual quantity attributed to unattributed",
				zap.String("instrument", instrument),
				zap.Float64("residual", residual))
		}
		unattr = &row

	case unattr != nil:
		// Residual is zero: any prior unattributed quantity is explained
		// now, and the row is closed out rather than deleted.
		unattr.Quantity = 0
		if onBroker {
			unattr.MarketPrice = bp.MarketPrice
		}
		unattr.UpdatedAt = snap.Time
	}

	if brokerQty == 0 && residual == 0 {
		// Broker is flat and the strategies agree: rows are marked closed,
		// preserving historical attribution for audit.
		for i := range attributed {
			attributed[i].Quantity = 0
			attributed[i].UpdatedAt = snap.Time
		}
	}

	rows := attributed
	if unattr != nil {
		rows = append(rows, *unattr)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Strategy < rows[j].Strategy })
	return rows
}

func rowsFor(book *ledger.Book, instrument string) []ledger.Position {
	var out []ledger.Position
	for _, p := range book.All() {
		if p.Instrument == instrument {
			out = append(out, p)
		}
	}
	return out
}

// verify checks the post-merge invariant: for every instrument, the merged
// rows (unattributed included) sum to the broker-reported quantity.
func verify(merged map[string][]ledger.Position, snap broker.AccountSnapshot) error {
	for instrument, rows := range merged {
		var sum float64
		for _, p := range rows {
			sum += p.Quantity
		}
		brokerQty := 0.0
		if bp, ok := snap.Positions[instrument]; ok {
			brokerQty = bp.Quantity
		}
		if math.Abs(sum-brokerQty) > qtyTolerance {
			return fmt.Errorf("%w: instrument %s: merged sum %v != broker %v",
				ErrInvariant, instrument, sum, brokerQty)
		}
	}
	return nil
}

// Aggregate collapses duplicate (strategy, instrument) rows, which can exist
// after concurrent writes, by summing quantities and volume-weighting the
// average cost.
func Aggregate(rows []ledger.Position) []ledger.Position {
	type key struct{ strategy, instrument string }
	byKey := make(map[key]*ledger.Position)
	var order []key
	for _, row := range rows {
		k := key{row.Strategy, row.Instrument}
		cur, ok := byKey[k]
		if !ok {
			row := row
			byKey[k] = &row
			order = append(order, k)
			continue
		}
		totalAbs := math.Abs(cur.Quantity) + math.Abs(row.Quantity)
		if totalAbs > 0 {
			cur.AvgCost = (math.Abs(cur.Quantity)*cur.AvgCost + math.Abs(row.Quantity)*row.AvgCost) / totalAbs
		}
		cur.Quantity += row.Quantity
		cur.RealizedPL += row.RealizedPL
		if row.UpdatedAt.After(cur.UpdatedAt) {
			cur.UpdatedAt = row.UpdatedAt
			cur.MarketPrice = row.MarketPrice
		}
	}

	out := make([]ledger.Position, 0, len(byKey))
	for _, k := range order {
		out = append(out, *byKey[k])
	}
	return out
}

func unionInstruments(fromBook []string, snap broker.AccountSnapshot) []string {
	seen := make(map[string]struct{}, len(fromBook)+len(snap.Positions))
	for _, in := range fromBook {
		seen[in] = struct{}{}
	}
	for in := range snap.Positions {
		seen[in] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for in := range seen {
		out = append(out, in)
	}
	sort.Strings(out)
	return out
}

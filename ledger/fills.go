package ledger

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/quantfold/ledger/broker"
)

// FillStore is the slice of the ledger store the fill pipeline writes to.
// AppendFill must be idempotent on execution id and report whether the row
// was new.
type FillStore interface {
	AppendFill(ctx context.Context, f Fill) (bool, error)
	UpsertPositionRow(ctx context.Context, p Position) error
}

// FillProcessor consumes fill events, applies signed deltas to the book, and
// appends the immutable fill record. Anomalies (unknown order, duplicate
// delivery) never fail the pipeline; they are logged and absorbed.
type FillProcessor struct {
	book  *Book
	store FillStore
	log   *zap.Logger
}

func NewFillProcessor(book *Book, store FillStore, log *zap.Logger) *FillProcessor {
	if log == nil {
		log = zap.NewNop()
	}
	return &FillProcessor{book: book, store: store, log: log}
}

// Process applies one fill event and returns the updated position.
// Processing the same execution id twice is a no-op after the first
// application.
func (p *FillProcessor) Process(ctx context.Context, ev broker.FillEvent) (Position, error) {
	if ev.Quantity == 0 {
		return Position{}, fmt.Errorf("fill %s: zero quantity", ev.ExecutionID)
	}
	if ev.Instrument == "" {
		return Position{}, fmt.Errorf("fill %s: missing instrument", ev.ExecutionID)
	}
	if ev.ExecutionID == "" {
		return Position{}, fmt.Errorf("fill for order %s: missing execution id", ev.OrderID)
	}

	strategy := StrategyUnattributed
	if ref, ok := p.book.Owner(ev.OrderID); ok {
		strategy = ref.Strategy
	} else {
		p.log.Warn("fill for unregistered order, attributing to unattributed",
			zap.String("order_id", ev.OrderID),
			zap.String("execution_id", ev.ExecutionID),
			zap.String("instrument", ev.Instrument))
	}

	if p.book.Seen(ev.ExecutionID) {
		p.log.Debug("duplicate fill delivery ignored",
			zap.String("execution_id", ev.ExecutionID))
		pos, _ := p.book.Row(strategy, ev.Instrument)
		return pos, nil
	}

	f := Fill{
		ExecutionID: ev.ExecutionID,
		OrderID:     ev.OrderID,
		Account:     p.book.Account(),
		Strategy:    strategy,
		Instrument:  ev.Instrument,
		Quantity:    ev.Quantity,
		Price:       ev.Price,
		Commission:  ev.Commission,
		Time:        ev.Time,
	}

	pos, err := p.book.Apply(f)
	if err != nil {
		return Position{}, fmt.Errorf("apply fill: %w", err)
	}

	if err := p.append(ctx, f); err != nil {
		return pos, fmt.Errorf("append fill %s: %w", f.ExecutionID, err)
	}

	if err := p.store.UpsertPositionRow(ctx, pos); err != nil {
		return pos, fmt.Errorf("upsert position row: %w", err)
	}
	return pos, nil
}

// append writes the fill record, retrying once on transient failure. The
// store insert is keyed on execution id, so a retry can never duplicate.
func (p *FillProcessor) append(ctx context.Context, f Fill) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var fresh bool
		fresh, err = p.store.AppendFill(ctx, f)
		if err == nil {
			if !fresh {
				p.log.Debug("fill already durable", zap.String("execution_id", f.ExecutionID))
			}
			return nil
		}
	}
	return err
}

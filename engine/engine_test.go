package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/ledger/broker"
	"github.com/quantfold/ledger/broker/sim"
	"github.com/quantfold/ledger/equity"
	"github.com/quantfold/ledger/events"
	"github.com/quantfold/ledger/journal"
	"github.com/quantfold/ledger/ledger"
	"github.com/quantfold/ledger/strategies"
)

func newTestEngine(t *testing.T) (*Engine, *sim.Engine, *events.Queue, *journal.SQLite) {
	t.Helper()

	store, err := journal.NewSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	queue := events.New(64, events.Reject, nil)
	brk := sim.NewEngine("ACC", 1_000_000, queue, nil)
	brk.SetPrice("AAPL", 190)

	resolver := equity.NewResolver()
	resolver.SetOverride("alpha", 50_000)

	eng := New("ACC", brk, store, queue, resolver, nil)
	require.NoError(t, eng.AddStrategy(strategies.NewNoop("alpha")))
	return eng, brk, queue, store
}

func drain(t *testing.T, q *events.Queue, eng *Engine) {
	t.Helper()
	q.Close()
	ctx := context.Background()
	require.NoError(t, q.Run(ctx, func(ev events.Event) { eng.Handle(ctx, ev) }))
}

func TestPlaceMarketOrderAttributesFills(t *testing.T) {
	t.Parallel()

	eng, _, queue, store := newTestEngine(t)
	ctx := context.Background()

	orderID, err := eng.PlaceMarketOrder(ctx, "alpha", "AAPL", 100)
	require.NoError(t, err)
	require.NotEmpty(t, orderID)
	drain(t, queue, eng)

	positions := eng.Positions("alpha")
	require.Len(t, positions, 1)
	assert.Equal(t, 100.0, positions[0].Quantity)
	assert.Equal(t, 190.0, positions[0].AvgCost)

	o, ok := eng.Tracker().Get(orderID)
	require.True(t, ok)
	assert.Equal(t, broker.StatusFilled, o.Status)
	assert.Equal(t, "alpha", o.Strategy)

	fills, err := store.ListFills(ctx, "ACC", "alpha", time.Time{}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, orderID, fills[0].OrderID)
}

func TestPlaceMarketOrderUnknownStrategy(t *testing.T) {
	t.Parallel()

	eng, _, _, _ := newTestEngine(t)

	_, err := eng.PlaceMarketOrder(context.Background(), "ghost", "AAPL", 100)
	assert.Error(t, err)
}

func TestPlaceMarketOrderMissingAllocation(t *testing.T) {
	t.Parallel()

	eng, _, _, _ := newTestEngine(t)
	require.NoError(t, eng.AddStrategy(strategies.NewNoop("beta")))

	_, err := eng.PlaceMarketOrder(context.Background(), "beta", "AAPL", 100)
	require.Error(t, err)

	var missing *equity.MissingAllocationError
	assert.ErrorAs(t, err, &missing)
}

func TestResolveEquityUsesBrokerTotal(t *testing.T) {
	t.Parallel()

	eng, _, _, _ := newTestEngine(t)

	got, err := eng.ResolveEquity(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, 50_000.0, got)
}

func TestDuplicateFillDeliveryViaQueue(t *testing.T) {
	t.Parallel()

	eng, _, queue, _ := newTestEngine(t)

	require.NoError(t, eng.Book().RecordOrder("O1", "alpha", "AAPL", 10))

	ev := events.Event{
		Kind:   events.KindFill,
		Source: "test",
		Fill: broker.FillEvent{
			OrderID:     "O1",
			ExecutionID: "X1",
			Instrument:  "AAPL",
			Quantity:    10,
			Price:       190,
			Time:        time.Now(),
		},
	}
	require.NoError(t, queue.Enqueue(ev))
	require.NoError(t, queue.Enqueue(ev))
	drain(t, queue, eng)

	positions := eng.Positions("alpha")
	require.Len(t, positions, 1)
	assert.Equal(t, 10.0, positions[0].Quantity)
}

func TestReconcileNowSurfacesDrift(t *testing.T) {
	t.Parallel()

	eng, brk, queue, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.PlaceMarketOrder(ctx, "alpha", "AAPL", 100)
	require.NoError(t, err)
	drain(t, queue, eng)

	brk.InjectDrift("AAPL", 50)
	require.NoError(t, eng.ReconcileNow(ctx))

	residual := eng.UnattributedPositions()
	require.Len(t, residual, 1)
	assert.Equal(t, "AAPL", residual[0].Instrument)
	assert.Equal(t, 50.0, residual[0].Quantity)

	attributed := eng.Positions("alpha")
	require.Len(t, attributed, 1)
	assert.Equal(t, 100.0, attributed[0].Quantity)
}

func TestRecoverRestoresBookAndIdempotency(t *testing.T) {
	t.Parallel()

	eng, _, queue, store := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertPositionRow(ctx, ledger.Position{
		Account: "ACC", Strategy: "alpha", Instrument: "AAPL",
		Quantity: 100, AvgCost: 185, UpdatedAt: time.Now(),
	}))
	_, err := store.AppendFill(ctx, ledger.Fill{
		ExecutionID: "X1", OrderID: "O1", Account: "ACC",
		Strategy: "alpha", Instrument: "AAPL", Quantity: 100, Price: 185, Time: time.Now(),
	})
	require.NoError(t, err)

	require.NoError(t, eng.Recover(ctx))

	positions := eng.Positions("alpha")
	require.Len(t, positions, 1)
	assert.Equal(t, 100.0, positions[0].Quantity)

	// A replayed delivery of a recovered fill must not re-apply.
	require.NoError(t, eng.Book().RecordOrder("O1", "alpha", "AAPL", 100))
	require.NoError(t, queue.Enqueue(events.Event{
		Kind: events.KindFill,
		Fill: broker.FillEvent{
			OrderID: "O1", ExecutionID: "X1", Instrument: "AAPL",
			Quantity: 100, Price: 185, Time: time.Now(),
		},
	}))
	drain(t, queue, eng)

	positions = eng.Positions("alpha")
	require.Len(t, positions, 1)
	assert.Equal(t, 100.0, positions[0].Quantity)
}

func TestRecoverKeepsReconciledState(t *testing.T) {
	t.Parallel()

	store, err := journal.NewSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	resolver := equity.NewResolver()
	resolver.SetOverride("alpha", 50_000)
	ctx := context.Background()

	queue := events.New(64, events.Reject, nil)
	brk := sim.NewEngine("ACC", 1_000_000, queue, nil)
	brk.SetPrice("AAPL", 190)

	eng := New("ACC", brk, store, queue, resolver, nil)
	require.NoError(t, eng.AddStrategy(strategies.NewNoop("alpha")))

	_, err = eng.PlaceMarketOrder(ctx, "alpha", "AAPL", 100)
	require.NoError(t, err)
	drain(t, queue, eng)

	brk.InjectDrift("AAPL", 20)
	require.NoError(t, eng.ReconcileNow(ctx))

	// Restart against the same store with the broker unreachable: the
	// last merged state, unattributed residual included, must still be
	// there without waiting for a successful broker fetch.
	queue2 := events.New(64, events.Reject, nil)
	brk2 := sim.NewEngine("ACC", 1_000_000, queue2, nil)
	brk2.SetSnapshotError(assert.AnError)

	eng2 := New("ACC", brk2, store, queue2, resolver, nil)
	require.NoError(t, eng2.Recover(ctx))

	residual := eng2.UnattributedPositions()
	require.Len(t, residual, 1)
	assert.Equal(t, "AAPL", residual[0].Instrument)
	assert.InDelta(t, 20.0, residual[0].Quantity, 1e-9)

	attributed := eng2.Positions("alpha")
	require.Len(t, attributed, 1)
	assert.InDelta(t, 100.0, attributed[0].Quantity, 1e-9)
}

func TestRunEndToEnd(t *testing.T) {
	t.Parallel()

	store, err := journal.NewSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	queue := events.New(64, events.DropOldest, nil)
	brk := sim.NewEngine("ACC", 1_000_000, queue, nil)
	brk.SetPrice("AAPL", 190)

	resolver := equity.NewResolver()
	resolver.SetOverride("alpha", 50_000)

	eng := New("ACC", brk, store, queue, resolver, nil,
		WithReconcileInterval(10*time.Millisecond))
	require.NoError(t, eng.AddStrategy(strategies.NewOpenOnce("alpha", "AAPL", 100)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	require.Eventually(t, func() bool {
		positions := eng.Positions("alpha")
		return len(positions) == 1 && positions[0].Quantity == 100
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop on cancel")
	}
}

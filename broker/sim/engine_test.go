package sim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/ledger/broker"
	"github.com/quantfold/ledger/events"
)

func TestCreateMarketOrderEmitsEventStream(t *testing.T) {
	t.Parallel()

	q := events.New(16, events.Reject, nil)
	e := NewEngine("ACC", 1_000_000, q, nil)
	e.SetPrice("AAPL", 190)

	err := e.CreateMarketOrder(context.Background(), broker.MarketOrderRequest{
		AccountID:  "ACC",
		OrderID:    "O1",
		Instrument: "AAPL",
		Quantity:   10,
	})
	require.NoError(t, err)
	q.Close()

	var got []events.Event
	require.NoError(t, q.Run(context.Background(), func(ev events.Event) {
		got = append(got, ev)
	}))

	// Submitted status, fill, filled status, in that order.
	require.Len(t, got, 3)
	assert.Equal(t, events.KindOrderStatus, got[0].Kind)
	assert.Equal(t, broker.StatusSubmitted, got[0].Status.Status)
	assert.Equal(t, events.KindFill, got[1].Kind)
	assert.Equal(t, "O1", got[1].Fill.OrderID)
	assert.NotEmpty(t, got[1].Fill.ExecutionID)
	assert.Equal(t, 190.0, got[1].Fill.Price)
	assert.Equal(t, events.KindOrderStatus, got[2].Kind)
	assert.Equal(t, broker.StatusFilled, got[2].Status.Status)
	assert.Equal(t, 10.0, got[2].Status.FilledQuantity)
}

func TestCreateMarketOrderRequiresPrice(t *testing.T) {
	t.Parallel()

	e := NewEngine("ACC", 1_000_000, nil, nil)
	err := e.CreateMarketOrder(context.Background(), broker.MarketOrderRequest{
		OrderID: "O1", Instrument: "AAPL", Quantity: 10,
	})
	assert.Error(t, err)
}

func TestSnapshotReflectsOrdersAndDrift(t *testing.T) {
	t.Parallel()

	e := NewEngine("ACC", 1_000_000, nil, nil)
	e.SetPrice("AAPL", 190)

	require.NoError(t, e.CreateMarketOrder(context.Background(), broker.MarketOrderRequest{
		OrderID: "O1", Instrument: "AAPL", Quantity: 100,
	}))
	e.InjectDrift("AAPL", 50)

	snap, err := e.GetAccountSnapshot(context.Background(), "ACC")
	require.NoError(t, err)
	p := snap.Positions["AAPL"]
	assert.Equal(t, 150.0, p.Quantity)
	assert.Equal(t, 190.0, p.MarketPrice)
	assert.InDelta(t, 150*190.0, p.MarketValue, 1e-9)
}

func TestSnapshotErrorInjection(t *testing.T) {
	t.Parallel()

	e := NewEngine("ACC", 1_000_000, nil, nil)
	e.SetSnapshotError(assert.AnError)

	_, err := e.GetAccountSnapshot(context.Background(), "ACC")
	assert.ErrorIs(t, err, assert.AnError)

	e.SetSnapshotError(nil)
	_, err = e.GetAccountSnapshot(context.Background(), "ACC")
	assert.NoError(t, err)
}

func TestSummaryMarksPositions(t *testing.T) {
	t.Parallel()

	e := NewEngine("ACC", 1_000_000, nil, nil)
	e.SetPrice("AAPL", 100)

	require.NoError(t, e.CreateMarketOrder(context.Background(), broker.MarketOrderRequest{
		OrderID: "O1", Instrument: "AAPL", Quantity: 100,
	}))

	// Cash fell by the notional, the position marks it right back.
	sum, err := e.GetAccountSummary(context.Background(), "ACC")
	require.NoError(t, err)
	assert.InDelta(t, 1_000_000.0, sum.Equity, 1e-9)
	assert.InDelta(t, 990_000.0, sum.Cash, 1e-9)

	e.SetPrice("AAPL", 110)
	sum, err = e.GetAccountSummary(context.Background(), "ACC")
	require.NoError(t, err)
	assert.InDelta(t, 1_001_000.0, sum.Equity, 1e-9)
}

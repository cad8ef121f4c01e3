package events

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/ledger/broker"
)

func fillEvent(execID string) Event {
	return Event{
		Kind:   KindFill,
		Source: "test",
		Fill:   broker.FillEvent{ExecutionID: execID, Instrument: "AAPL", Quantity: 1},
	}
}

func TestQueuePreservesProducerOrder(t *testing.T) {
	t.Parallel()

	q := New(16, Reject, nil)
	for i := 0; i < 10; i++ {
		assert.NoError(t, q.Enqueue(fillEvent(fmt.Sprintf("X%d", i))))
	}
	q.Close()

	var got []string
	ctx := context.Background()
	assert.NoError(t, q.Run(ctx, func(e Event) {
		got = append(got, e.Fill.ExecutionID)
	}))

	require.Len(t, got, 10)
	for i, id := range got {
		assert.Equal(t, fmt.Sprintf("X%d", i), id)
	}
}

func TestQueueRejectPolicy(t *testing.T) {
	t.Parallel()

	q := New(2, Reject, nil)
	assert.NoError(t, q.Enqueue(fillEvent("X1")))
	assert.NoError(t, q.Enqueue(fillEvent("X2")))

	err := q.Enqueue(fillEvent("X3"))
	assert.ErrorIs(t, err, ErrQueueFull)

	// Buffer is intact: the first two events are still there.
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, uint64(0), q.Dropped())
}

func TestQueueDropOldestPolicy(t *testing.T) {
	t.Parallel()

	q := New(2, DropOldest, nil)
	assert.NoError(t, q.Enqueue(fillEvent("X1")))
	assert.NoError(t, q.Enqueue(fillEvent("X2")))
	assert.NoError(t, q.Enqueue(fillEvent("X3")))

	assert.Equal(t, uint64(1), q.Dropped())
	q.Close()

	var got []string
	assert.NoError(t, q.Run(context.Background(), func(e Event) {
		got = append(got, e.Fill.ExecutionID)
	}))

	// Oldest was evicted, newest kept.
	assert.Equal(t, []string{"X2", "X3"}, got)
}

func TestQueueEnqueueAfterClose(t *testing.T) {
	t.Parallel()

	q := New(4, Reject, nil)
	q.Close()
	assert.ErrorIs(t, q.Enqueue(fillEvent("X1")), ErrQueueClosed)
}

func TestQueueCloseDuringEnqueue(t *testing.T) {
	t.Parallel()

	// Producers racing Close must get ErrQueueClosed back, never a panic
	// from sending on a closed channel.
	for round := 0; round < 50; round++ {
		q := New(4, DropOldest, nil)

		var wg sync.WaitGroup
		for p := 0; p < 4; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 100; i++ {
					if err := q.Enqueue(fillEvent("X")); err != nil {
						assert.ErrorIs(t, err, ErrQueueClosed)
						return
					}
				}
			}()
		}
		q.Close()
		wg.Wait()

		assert.ErrorIs(t, q.Enqueue(fillEvent("X")), ErrQueueClosed)
	}
}

func TestQueueRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	q := New(4, Reject, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- q.Run(ctx, func(Event) {})
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop on cancel")
	}
}

func TestQueueConcurrentProducers(t *testing.T) {
	t.Parallel()

	q := New(1024, Reject, nil)
	const producers, perProducer = 8, 50

	done := make(chan struct{})
	for p := 0; p < producers; p++ {
		p := p
		go func() {
			for i := 0; i < perProducer; i++ {
				_ = q.Enqueue(fillEvent(fmt.Sprintf("P%d-%d", p, i)))
			}
			done <- struct{}{}
		}()
	}
	for p := 0; p < producers; p++ {
		<-done
	}
	q.Close()

	perSource := make(map[int]int)
	assert.NoError(t, q.Run(context.Background(), func(e Event) {
		var p, i int
		fmt.Sscanf(e.Fill.ExecutionID, "P%d-%d", &p, &i)
		// Per-producer order is preserved in the merged stream.
		assert.Equal(t, perSource[p], i)
		perSource[p]++
	}))

	for p := 0; p < producers; p++ {
		assert.Equal(t, perProducer, perSource[p])
	}
}

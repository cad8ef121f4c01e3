package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/quantfold/ledger/broker"
)

var (
	ErrQueueFull   = errors.New("event queue full")
	ErrQueueClosed = errors.New("event queue closed")
)

// Kind discriminates the event payload.
type Kind int

const (
	KindFill Kind = iota + 1
	KindOrderStatus
)

// Event is the unit passed from broker connections to the consumer. Exactly
// one payload field is set, according to Kind. Source identifies the producing
// connection so per-producer ordering can be audited.
type Event struct {
	Kind   Kind
	Source string
	Fill   broker.FillEvent
	Status broker.OrderStatusEvent
}

// OverflowPolicy controls what happens when the queue is at capacity.
type OverflowPolicy int

const (
	// Reject returns ErrQueueFull to the producer and keeps the buffer intact.
	Reject OverflowPolicy = iota
	// DropOldest evicts the oldest buffered event to make room, counts the
	// drop, and logs it. Enqueue never blocks and never fails.
	DropOldest
)

func (p OverflowPolicy) String() string {
	switch p {
	case Reject:
		return "reject"
	case DropOldest:
		return "drop-oldest"
	}
	return "unknown"
}

// Queue is a bounded multi-producer, single-consumer event queue. Enqueue is
// non-blocking from any goroutine; a single buffered channel gives a total
// order consistent with each producer's own order.
type Queue struct {
	ch      chan Event
	policy  OverflowPolicy
	log     *zap.Logger
	dropped atomic.Uint64

	mu     sync.Mutex // serializes sends against Close and evict+send
	closed bool       // guarded by mu
}

func New(capacity int, policy OverflowPolicy, log *zap.Logger) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{
		ch:     make(chan Event, capacity),
		policy: policy,
		log:    log,
	}
}

// Enqueue offers an event without blocking. Under Reject it returns
// ErrQueueFull when the buffer is at capacity; under DropOldest it evicts the
// oldest event instead and always succeeds.
func (q *Queue) Enqueue(e Event) error {
	// Sends happen under q.mu, which Close also takes: a producer racing
	// Close gets ErrQueueClosed, never a send on a closed channel.
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.ch <- e:
		return nil
	default:
	}

	if q.policy == Reject {
		return ErrQueueFull
	}

	// DropOldest: evict one, then retry. The lock keeps two overflowing
	// producers from both evicting when one slot would do.
	for {
		select {
		case q.ch <- e:
			return nil
		default:
		}
		select {
		case old := <-q.ch:
			n := q.dropped.Add(1)
			q.log.Warn("event queue overflow, dropping oldest",
				zap.String("source", old.Source),
				zap.Uint64("dropped_total", n))
		default:
		}
	}
}

// Dropped returns the number of events evicted under DropOldest.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Len returns the number of buffered events.
func (q *Queue) Len() int { return len(q.ch) }

// Close stops the queue from accepting new events. Buffered events remain
// drainable by the consumer.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Run drains the queue into handler until the context is cancelled or the
// queue is closed and empty. It is the single logical consumer.
func (q *Queue) Run(ctx context.Context, handler func(Event)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-q.ch:
			if !ok {
				return nil
			}
			handler(e)
		}
	}
}

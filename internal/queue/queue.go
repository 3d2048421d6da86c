package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fairyhunter13/cart-checkout-engine/internal/model"
	"github.com/fairyhunter13/cart-checkout-engine/internal/obs"
)

// Stats is a point-in-time view of the feed intake.
type Stats struct {
	Enqueued  uint64
	Processed uint64
	Backlog   int // accepted, not yet handed to a worker
	Depth     int // backlog plus events buffered for workers
}

// Queue buffers catalog events between the HTTP intake and the feed
// workers. Enqueue never blocks: events pile up in an unbounded backlog that
// a pump goroutine moves into a bounded channel, preserving arrival order.
type Queue struct {
	mu      sync.Mutex
	pending []model.Event
	wake    chan struct{}
	ready   chan model.Event
	closed  atomic.Bool

	enqueued  atomic.Uint64
	processed atomic.Uint64
}

func New(buffer int) *Queue {
	if buffer <= 0 {
		buffer = 64
	}
	return &Queue{
		wake:  make(chan struct{}, 1),
		ready: make(chan model.Event, buffer),
	}
}

// Start runs the pump until ctx is done. A positive highWatermark logs once
// each time the backlog crosses it and once when it falls back.
func (q *Queue) Start(ctx context.Context, highWatermark int) {
	go q.pump(ctx, highWatermark)
}

func (q *Queue) pump(ctx context.Context, highWatermark int) {
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	over := false
	for {
		left := q.move()
		if highWatermark > 0 {
			switch {
			case !over && left > highWatermark:
				over = true
				obs.Logger.Warn("feed_backlog_high_watermark", "backlog_size", left, "high_watermark", highWatermark)
			case over && left <= highWatermark:
				over = false
				obs.Logger.Info("feed_backlog_recovered", "backlog_size", left)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-tick.C:
		}
	}
}

// move hands as many pending events to workers as the buffer takes and
// returns what is left.
func (q *Queue) move() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := min(len(q.pending), cap(q.ready)-len(q.ready))
	for _, ev := range q.pending[:n] {
		q.ready <- ev
	}
	if n == len(q.pending) {
		q.pending = nil
	} else {
		q.pending = q.pending[n:]
	}
	return len(q.pending)
}

// Enqueue appends ev to the backlog. It reports false once intake is closed.
func (q *Queue) Enqueue(ev model.Event) bool {
	if q.closed.Load() {
		return false
	}
	q.enqueued.Add(1)
	q.mu.Lock()
	q.pending = append(q.pending, ev)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Out is read by the feed workers.
func (q *Queue) Out() <-chan model.Event { return q.ready }

func (q *Queue) BacklogSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) QueueDepth() int {
	return q.BacklogSize() + len(q.ready)
}

// Done records that a worker finished with one event, applied or not.
func (q *Queue) Done() { q.processed.Add(1) }

func (q *Queue) Stats() Stats {
	backlog := q.BacklogSize()
	return Stats{
		Enqueued:  q.enqueued.Load(),
		Processed: q.processed.Load(),
		Backlog:   backlog,
		Depth:     backlog + len(q.ready),
	}
}

// CloseIntake rejects further enqueues; pending events still reach workers.
func (q *Queue) CloseIntake() { q.closed.Store(true) }

func (q *Queue) IsShuttingDown() bool { return q.closed.Load() }

// Package queue feeds admin catalog events to a scalable pool of workers.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/fairyhunter13/cart-checkout-engine/internal/config"
	"github.com/fairyhunter13/cart-checkout-engine/internal/model"
	"github.com/fairyhunter13/cart-checkout-engine/internal/obs"
)

// Applier consumes one catalog event. The catalog feed implements it.
type Applier interface {
	Apply(ctx context.Context, ev model.Event) error
}

// Manager runs the feed workers and scales them on backlog.
type Manager struct {
	cfg     config.Config
	q       *Queue
	applier Applier
	seq     Sequencer
	ctx     context.Context
	cancel  context.CancelFunc

	mu            sync.Mutex
	workerCancels []context.CancelFunc
	failed        uint64
}

func NewManager(cfg config.Config, q *Queue, applier Applier) *Manager {
	return &Manager{cfg: cfg, q: q, applier: applier}
}

// Start launches the broker, the initial workers and the scaler.
func (m *Manager) Start(parent context.Context) {
	m.ctx, m.cancel = context.WithCancel(parent)
	m.q.Start(m.ctx, m.cfg.QueueHighWatermark)
	m.addWorkers(m.cfg.InitialWorkerCount)
	go m.scaler()
}

func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Lock()
	for _, c := range m.workerCancels {
		c()
	}
	m.workerCancels = nil
	m.mu.Unlock()
}

func (m *Manager) scaler() {
	t := time.NewTicker(m.cfg.ScaleInterval)
	defer t.Stop()
	idleTicks := 0
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-t.C:
			backlog := m.q.BacklogSize()
			wc := m.WorkerCount()
			if backlog > wc*m.cfg.ScaleUpBacklogPerWorker && wc < m.cfg.WorkerMax {
				m.addWorkers(1)
				idleTicks = 0
				continue
			}
			if backlog > 0 {
				idleTicks = 0
				continue
			}
			idleTicks++
			if idleTicks >= m.cfg.ScaleDownIdleTicks && wc > m.cfg.WorkerMin {
				m.removeWorkers(1)
				idleTicks = 0
			}
		}
	}
}

func (m *Manager) addWorkers(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		wctx, cancel := context.WithCancel(m.ctx)
		m.workerCancels = append(m.workerCancels, cancel)
		go m.worker(wctx)
	}
	obs.Logger.Info("feed_workers_scaled", "worker_count", len(m.workerCancels))
}

func (m *Manager) removeWorkers(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n = min(n, len(m.workerCancels))
	for i := 0; i < n; i++ {
		last := len(m.workerCancels) - 1
		m.workerCancels[last]()
		m.workerCancels = m.workerCancels[:last]
	}
	obs.Logger.Info("feed_workers_scaled", "worker_count", len(m.workerCancels))
}

// worker applies events until its context is cancelled. A failed event is
// logged and counted; it is not retried.
func (m *Manager) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.q.Out():
			if err := m.applier.Apply(ctx, ev); err != nil {
				m.mu.Lock()
				m.failed++
				m.mu.Unlock()
				obs.Logger.Warn("feed_event_failed", "product_id", ev.ProductID, "sequence", ev.Sequence, "error", err)
			}
			m.q.Done()
		}
	}
}

// Submit stamps ev with the next feed sequence and enqueues it. The
// sequence fixes the last-write-wins order of events for a product.
func (m *Manager) Submit(ev model.Event) (uint64, bool) {
	ev.Sequence = m.seq.Next()
	return ev.Sequence, m.q.Enqueue(ev)
}

func (m *Manager) BacklogSize() int { return m.q.BacklogSize() }

func (m *Manager) QueueDepth() int { return m.q.QueueDepth() }

func (m *Manager) WorkerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workerCancels)
}

// Failed returns the number of events the applier rejected.
func (m *Manager) Failed() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failed
}

func (m *Manager) IsShuttingDown() bool { return m.q.IsShuttingDown() }

// CloseIntake rejects further submissions; queued events still drain.
func (m *Manager) CloseIntake() { m.q.CloseIntake() }

func (m *Manager) Stats() Stats { return m.q.Stats() }

// DrainUntil blocks until every enqueued event was processed or ctx is done.
func (m *Manager) DrainUntil(ctx context.Context) bool {
	for {
		st := m.q.Stats()
		if st.Depth == 0 && st.Enqueued == st.Processed {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
}

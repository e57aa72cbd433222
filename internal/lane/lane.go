// Package lane serializes work per sender key.
//
// Each sender gets its own lane with a worker goroutine that processes tasks
// strictly in FIFO order, so a read-modify-write of one sender's session can
// never race with another event for the same sender. Distinct senders run
// concurrently on their own lanes.
package lane

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Task is one unit of per-sender work.
type Task func(ctx context.Context)

// errLaneClosed signals that the lane's worker has shut down and the caller
// must obtain a fresh lane from the manager.
var errLaneClosed = errors.New("lane closed")

// laneItem wraps a task with its completion channel.
type laneItem struct {
	ctx  context.Context
	task Task
	done chan struct{}
}

// lane is a single sender's queue.
type lane struct {
	key        string
	queue      chan laneItem
	idle       bool
	closed     bool
	lastActive time.Time
	mu         sync.Mutex
}

// enqueue places item on the lane's queue. It refuses with errLaneClosed once
// the worker has shut down, so the caller can retry on a fresh lane instead of
// leaving the item stranded.
func (l *lane) enqueue(ctx context.Context, item laneItem) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return errLaneClosed
	}
	select {
	case l.queue <- item:
		l.mu.Unlock()
		return nil
	default:
	}
	l.mu.Unlock()

	// Queue full: the worker is actively consuming, so it cannot go idle and
	// close while we wait for a slot.
	select {
	case l.queue <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Manager owns the lanes for all senders.
type Manager struct {
	mu          sync.RWMutex
	lanes       map[string]*lane
	maxLanes    int
	idleTimeout time.Duration
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// Config tunes a lane Manager.
type Config struct {
	MaxLanes    int           // max concurrent lanes (default 1000)
	IdleTimeout time.Duration // worker exit after inactivity (default 5m)
}

// NewManager creates a lane manager.
func NewManager(cfg Config) *Manager {
	if cfg.MaxLanes == 0 {
		cfg.MaxLanes = 1000
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	return &Manager{
		lanes:       make(map[string]*lane),
		maxLanes:    cfg.MaxLanes,
		idleTimeout: cfg.IdleTimeout,
		stopCh:      make(chan struct{}),
	}
}

// Submit queues task on key's lane and waits until it has run.
// Returns early with ctx.Err() if the context ends while waiting to enqueue;
// once the task is queued it will run even if the caller's wait is abandoned.
func (m *Manager) Submit(ctx context.Context, key string, task Task) error {
	item := laneItem{ctx: ctx, task: task, done: make(chan struct{})}

	// A lane fetched from the map can have its worker time out and close
	// before we enqueue; retry on a fresh lane when that happens.
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		l := m.getOrCreateLane(key)
		err := l.enqueue(ctx, item)
		if err == nil {
			break
		}
		if errors.Is(err, errLaneClosed) {
			continue
		}
		return err
	}

	select {
	case <-item.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) getOrCreateLane(key string) *lane {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.lanes[key]; ok {
		return l
	}

	if len(m.lanes) >= m.maxLanes {
		m.evictIdleLanes()
	}

	l := &lane{
		key:        key,
		queue:      make(chan laneItem, 100),
		lastActive: time.Now(),
	}
	m.lanes[key] = l

	m.wg.Add(1)
	go m.runWorker(l)
	return l
}

// runWorker is the per-lane loop: one task at a time, FIFO.
func (m *Manager) runWorker(l *lane) {
	defer m.wg.Done()
	for {
		select {
		case item := <-l.queue:
			l.mu.Lock()
			l.idle = false
			l.lastActive = time.Now()
			l.mu.Unlock()

			item.task(item.ctx)
			close(item.done)

			l.mu.Lock()
			l.idle = true
			l.lastActive = time.Now()
			l.mu.Unlock()

		case <-time.After(m.idleTimeout):
			// Unpublish first so new submitters get a fresh lane, then close
			// and drain: an item enqueued between the map lookup and the close
			// still runs instead of being stranded.
			m.mu.Lock()
			if m.lanes[l.key] == l {
				delete(m.lanes, l.key)
			}
			m.mu.Unlock()

			l.mu.Lock()
			l.closed = true
			l.mu.Unlock()

			for {
				select {
				case item := <-l.queue:
					item.task(item.ctx)
					close(item.done)
				default:
					return
				}
			}

		case <-m.stopCh:
			// Drain anything already queued so an accepted webhook is not
			// dropped mid-shutdown.
			for {
				select {
				case item := <-l.queue:
					item.task(item.ctx)
					close(item.done)
				default:
					return
				}
			}
		}
	}
}

// evictIdleLanes removes long-idle lanes (called under m.mu).
func (m *Manager) evictIdleLanes() {
	threshold := time.Now().Add(-m.idleTimeout)
	for key, l := range m.lanes {
		l.mu.Lock()
		if l.idle && l.lastActive.Before(threshold) {
			delete(m.lanes, key)
		}
		l.mu.Unlock()
	}
}

// Stop signals all workers to finish queued work and exit, then waits.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// LaneCount returns the number of live lanes.
func (m *Manager) LaneCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.lanes)
}

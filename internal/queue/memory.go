package queue

import (
	"context"
	"sync"
	"time"

	"github.com/talkincode/netdoctor/internal/domain"
)

// MemoryQueue single-process queue; jobs do not survive a restart.
type MemoryQueue struct {
	mu       sync.Mutex
	ready    []string
	inflight map[string]string
	timers   map[*time.Timer]struct{}
	notify   chan struct{}
	done     chan struct{}
	closed   bool
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		inflight: make(map[string]string),
		timers:   make(map[*time.Timer]struct{}),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, job *domain.DiagnosticJob) error {
	payload, err := encode(job)
	if err != nil {
		return err
	}
	return q.push(payload)
}

func (q *MemoryQueue) push(payload string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.ready = append(q.ready, payload)
	q.signal()
	return nil
}

// signal wakes one waiter; caller holds q.mu
func (q *MemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		if len(q.ready) > 0 {
			payload := q.ready[0]
			q.ready = q.ready[1:]
			if len(q.ready) > 0 {
				q.signal()
			}
			d, err := decode(payload)
			if err == nil {
				q.inflight[d.ID] = payload
			}
			q.mu.Unlock()
			return d, err
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.done:
			return nil, ErrClosed
		case <-q.notify:
		}
	}
}

func (q *MemoryQueue) Ack(_ context.Context, d *Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, d.ID)
	return nil
}

func (q *MemoryQueue) Retry(ctx context.Context, d *Delivery, delay time.Duration) error {
	payload, err := encode(nextAttempt(d.Job))
	if err != nil {
		return err
	}
	if err := q.Ack(ctx, d); err != nil {
		return err
	}
	if delay <= 0 {
		return q.push(payload)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		q.mu.Unlock()
		_ = q.push(payload)
	})
	q.timers[timer] = struct{}{}
	return nil
}

// Len jobs ready for delivery
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}

// InFlight jobs delivered but not yet acked
func (q *MemoryQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for t := range q.timers {
		t.Stop()
	}
	q.timers = nil
	close(q.done)
	return nil
}

package diagnostic

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/talkincode/netdoctor/internal/domain"
	"github.com/talkincode/netdoctor/internal/lease"
	"github.com/talkincode/netdoctor/internal/metrics"
	"github.com/talkincode/netdoctor/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DispatcherConfig tunes the worker pool
type DispatcherConfig struct {
	Workers        int
	LeaseTTL       time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// Dispatcher pulls jobs from the queue with a fixed number of workers. Each
// worker handles one job fully before taking the next.
type Dispatcher struct {
	queue   queue.Queue
	leaser  lease.Leaser
	engine  *Engine
	cfg     DispatcherConfig
	metrics *metrics.Metrics
}

func NewDispatcher(q queue.Queue, leaser lease.Leaser, engine *Engine, cfg DispatcherConfig, m *metrics.Metrics) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Dispatcher{queue: q, leaser: leaser, engine: engine, cfg: cfg, metrics: m}
}

// Run blocks until ctx is done or the queue is closed.
func (d *Dispatcher) Run(ctx context.Context) error {
	zap.L().Info("diagnostic workers started",
		zap.String("namespace", "diagnostic"),
		zap.Int("workers", d.cfg.Workers))

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			return d.loop(ctx, worker)
		})
	}
	err := g.Wait()
	zap.L().Info("diagnostic workers stopped", zap.String("namespace", "diagnostic"))
	return err
}

func (d *Dispatcher) loop(ctx context.Context, worker int) error {
	for {
		del, err := d.queue.Dequeue(ctx)
		switch {
		case ctx.Err() != nil, errors.Is(err, queue.ErrClosed):
			return nil
		case err != nil:
			zap.L().Error("dequeue failed",
				zap.String("namespace", "diagnostic"),
				zap.Int("worker", worker),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		d.Handle(ctx, del)
	}
}

// Handle processes one delivery: lease, run, then ack, retry or record the fault.
func (d *Dispatcher) Handle(ctx context.Context, del *queue.Delivery) {
	job := del.Job
	logger := zap.L().With(
		zap.String("namespace", "diagnostic"),
		zap.String("target", job.TargetId),
		zap.Int("attempt", job.Attempt))

	err := d.run(ctx, job)
	switch {
	case err == nil:
		d.metrics.JobHandled(metrics.OutcomeCompleted)
		d.ack(ctx, del)
	case errors.Is(err, lease.ErrHeld):
		logger.Info("diagnosis already in progress, dropping job")
		d.metrics.JobHandled(metrics.OutcomeConflict)
		d.ack(ctx, del)
	case ctx.Err() != nil:
		// shutting down; the job stays unacked for redelivery
		logger.Warn("diagnostic run aborted", zap.Error(err))
		d.metrics.JobHandled(metrics.OutcomeAborted)
	default:
		d.fault(ctx, del, err, logger)
	}
}

func (d *Dispatcher) run(ctx context.Context, job *domain.DiagnosticJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &FaultError{Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return lease.WithLease(ctx, d.leaser, leaseKey(job), d.cfg.LeaseTTL, func(ctx context.Context) error {
		_, err := d.engine.Diagnose(ctx, job)
		return err
	})
}

func (d *Dispatcher) fault(ctx context.Context, del *queue.Delivery, cause error, logger *zap.Logger) {
	job := del.Job
	if job.Attempt < d.cfg.MaxRetries {
		delay := RetryDelay(job.Attempt, d.cfg.RetryBaseDelay, d.cfg.RetryMaxDelay)
		logger.Warn("infrastructure fault, retrying", zap.Duration("delay", delay), zap.Error(cause))
		if err := d.queue.Retry(ctx, del, delay); err != nil {
			logger.Error("retry enqueue failed", zap.Error(err))
			return
		}
		d.metrics.JobHandled(metrics.OutcomeRetried)
		return
	}

	logger.Error("infrastructure fault, retries exhausted", zap.Error(cause))
	err := lease.WithLease(ctx, d.leaser, leaseKey(job), d.cfg.LeaseTTL, func(ctx context.Context) error {
		_, err := d.engine.RecordFault(ctx, job, cause, job.Attempt+1)
		return err
	})
	if err != nil && !errors.Is(err, lease.ErrHeld) {
		logger.Error("recording fault log failed", zap.Error(err))
		return
	}
	d.metrics.JobHandled(metrics.OutcomeFaulted)
	d.ack(ctx, del)
}

func (d *Dispatcher) ack(ctx context.Context, del *queue.Delivery) {
	if err := d.queue.Ack(context.WithoutCancel(ctx), del); err != nil {
		zap.L().Error("ack failed",
			zap.String("namespace", "diagnostic"),
			zap.String("delivery", del.ID),
			zap.Error(err))
	}
}

func leaseKey(job *domain.DiagnosticJob) string {
	if job.DedupeKey != "" {
		return job.DedupeKey
	}
	return domain.DedupeKeyFor(job.TargetId)
}

// RetryDelay exponential delay before the redelivery following attempt.
func RetryDelay(attempt int, base, maxDelay time.Duration) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = maxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	delay := b.NextBackOff()
	for i := 0; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

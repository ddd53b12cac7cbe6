package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talkincode/netdoctor/internal/domain"
)

func newRedisQueue(t *testing.T) *RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisQueue(rdb, "test:")
}

func queues(t *testing.T) map[string]Queue {
	return map[string]Queue{
		"memory": NewMemoryQueue(),
		"redis":  newRedisQueue(t),
	}
}

func job(id string) *domain.DiagnosticJob {
	return domain.NewDiagnosticJob(id, domain.TargetDevice, nil, time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC))
}

func dequeue(t *testing.T, q Queue) *Delivery {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	return d
}

func TestEnqueueDequeueFIFO(t *testing.T) {
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, q.Enqueue(ctx, job("d1")))
			require.NoError(t, q.Enqueue(ctx, job("d2")))

			first := dequeue(t, q)
			second := dequeue(t, q)
			assert.Equal(t, "d1", first.Job.TargetId)
			assert.Equal(t, "diag:d1", first.Job.DedupeKey)
			assert.Equal(t, domain.TargetDevice, first.Job.TargetType)
			assert.Equal(t, "d2", second.Job.TargetId)
			assert.NotEqual(t, first.ID, second.ID)

			require.NoError(t, q.Ack(ctx, first))
			require.NoError(t, q.Ack(ctx, second))
			require.NoError(t, q.Close())
		})
	}
}

func TestDuplicateTargetsAreBothDelivered(t *testing.T) {
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, q.Enqueue(ctx, job("d1")))
			require.NoError(t, q.Enqueue(ctx, job("d1")))
			a, b := dequeue(t, q), dequeue(t, q)
			assert.Equal(t, a.Job.TargetId, b.Job.TargetId)
			assert.NotEqual(t, a.ID, b.ID)
		})
	}
}

func TestMemoryDequeueHonoursContext(t *testing.T) {
	q := NewMemoryQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryDequeueWakesOnEnqueue(t *testing.T) {
	q := NewMemoryQueue()
	got := make(chan *Delivery, 1)
	go func() {
		d, err := q.Dequeue(context.Background())
		if err == nil {
			got <- d
		}
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Enqueue(context.Background(), job("late")))
	select {
	case d := <-got:
		assert.Equal(t, "late", d.Job.TargetId)
		assert.Equal(t, 1, q.InFlight())
	case <-time.After(2 * time.Second):
		t.Fatal("waiting consumer was not woken")
	}
}

func TestMemoryCloseUnblocksConsumers(t *testing.T) {
	q := NewMemoryQueue()
	errc := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Close())
	assert.ErrorIs(t, <-errc, ErrClosed)
	assert.ErrorIs(t, q.Enqueue(context.Background(), job("x")), ErrClosed)
}

func TestMemoryRetryRedeliversAfterDelay(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, job("d1")))
	d := dequeue(t, q)

	require.NoError(t, q.Retry(ctx, d, 30*time.Millisecond))
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 0, q.InFlight())

	again := dequeue(t, q)
	assert.Equal(t, "d1", again.Job.TargetId)
	assert.Equal(t, 1, again.Job.Attempt)
	assert.Equal(t, 0, d.Job.Attempt, "the original delivery is not mutated")
}

func TestRedisAckRemovesFromProcessing(t *testing.T) {
	q := newRedisQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, job("d1")))
	d := dequeue(t, q)

	ready, processing, _, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), ready)
	assert.Equal(t, int64(1), processing)

	require.NoError(t, q.Ack(ctx, d))
	_, processing, _, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), processing)
}

func TestRedisRetryWaitsForPromotion(t *testing.T) {
	q := newRedisQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, job("d1")))
	require.NoError(t, q.Enqueue(ctx, job("d2")))
	d1, d2 := dequeue(t, q), dequeue(t, q)

	require.NoError(t, q.Retry(ctx, d1, 0))
	require.NoError(t, q.Retry(ctx, d2, time.Hour))

	ready, processing, delayed, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 0, 2}, []int64{ready, processing, delayed})

	n, err := q.PromoteDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the due job is promoted")

	again := dequeue(t, q)
	assert.Equal(t, "d1", again.Job.TargetId)
	assert.Equal(t, 1, again.Job.Attempt)
}

func TestRedisRecoverRequeuesOrphans(t *testing.T) {
	q := newRedisQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, job("d1")))
	require.NoError(t, q.Enqueue(ctx, job("d2")))
	dequeue(t, q)
	dequeue(t, q)

	n, err := q.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ready, processing, _, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), ready)
	assert.Equal(t, int64(0), processing)
	assert.Equal(t, "d1", dequeue(t, q).Job.TargetId)
}

func TestRedisDropsUndecodablePayload(t *testing.T) {
	q := newRedisQueue(t)
	ctx := context.Background()
	require.NoError(t, q.rdb.LPush(ctx, q.ready, "not json").Err())
	require.NoError(t, q.Enqueue(ctx, job("good")))

	d := dequeue(t, q)
	assert.Equal(t, "good", d.Job.TargetId)
	_, processing, _, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), processing)
}

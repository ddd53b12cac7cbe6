package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/talkincode/netdoctor/internal/domain"
	"go.uber.org/zap"
)

var promoteScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, ARGV[2])
for _, v in ipairs(due) do
	redis.call("ZREM", KEYS[1], v)
	redis.call("LPUSH", KEYS[2], v)
end
return #due
`)

// RedisQueue reliable list queue: jobs move from the ready list to the
// processing list on delivery and leave it on Ack. Delayed retries wait in a
// sorted set scored by due time until PromoteDue moves them back.
type RedisQueue struct {
	rdb        redis.UniversalClient
	ready      string
	processing string
	delayed    string
	poll       time.Duration
	closed     atomic.Bool
}

func NewRedisQueue(rdb redis.UniversalClient, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "netdoctor:queue:"
	}
	return &RedisQueue{
		rdb:        rdb,
		ready:      prefix + "ready",
		processing: prefix + "processing",
		delayed:    prefix + "delayed",
		poll:       time.Second,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *domain.DiagnosticJob) error {
	if q.closed.Load() {
		return ErrClosed
	}
	payload, err := encode(job)
	if err != nil {
		return err
	}
	if err := q.rdb.LPush(ctx, q.ready, payload).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", job.TargetId, err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	for {
		if q.closed.Load() {
			return nil, ErrClosed
		}
		payload, err := q.rdb.BRPopLPush(ctx, q.ready, q.processing, q.poll).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("dequeue: %w", err)
		}
		d, err := decode(payload)
		if err != nil {
			// poison entry, drop it so it is not redelivered forever
			zap.L().Error("drop undecodable job",
				zap.String("namespace", "queue"),
				zap.String("payload", payload),
				zap.Error(err))
			q.rdb.LRem(ctx, q.processing, 1, payload)
			continue
		}
		return d, nil
	}
}

func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	if err := q.rdb.LRem(ctx, q.processing, 1, d.payload).Err(); err != nil {
		return fmt.Errorf("ack %s: %w", d.ID, err)
	}
	return nil
}

func (q *RedisQueue) Retry(ctx context.Context, d *Delivery, delay time.Duration) error {
	payload, err := encode(nextAttempt(d.Job))
	if err != nil {
		return err
	}
	due := time.Now().Add(delay).UnixMilli()
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processing, 1, d.payload)
		pipe.ZAdd(ctx, q.delayed, redis.Z{Score: float64(due), Member: payload})
		return nil
	})
	if err != nil {
		return fmt.Errorf("retry %s: %w", d.ID, err)
	}
	return nil
}

// PromoteDue moves delayed jobs whose time has come onto the ready list.
func (q *RedisQueue) PromoteDue(ctx context.Context) (int, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	n, err := promoteScript.Run(ctx, q.rdb, []string{q.delayed, q.ready}, now, 100).Int()
	if err != nil {
		return 0, fmt.Errorf("promote delayed jobs: %w", err)
	}
	return n, nil
}

// Recover requeues jobs left in the processing list by a crashed process.
// Call it once at startup, before any worker of this deployment dequeues.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.rdb.RPopLPush(ctx, q.processing, q.ready).Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("recover processing list: %w", err)
		}
		n++
	}
}

// Depth sizes of the ready, processing and delayed sets
func (q *RedisQueue) Depth(ctx context.Context) (ready, processing, delayed int64, err error) {
	pipe := q.rdb.Pipeline()
	r := pipe.LLen(ctx, q.ready)
	p := pipe.LLen(ctx, q.processing)
	z := pipe.ZCard(ctx, q.delayed)
	if _, err = pipe.Exec(ctx); err != nil {
		return 0, 0, 0, err
	}
	return r.Val(), p.Val(), z.Val(), nil
}

func (q *RedisQueue) Close() error {
	q.closed.Store(true)
	return nil
}

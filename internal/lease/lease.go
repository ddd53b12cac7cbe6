package lease

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrHeld another holder has a valid lease on the key
	ErrHeld = errors.New("lease: held by another worker")
	// ErrNotHeld the lease expired or was taken over before release
	ErrNotHeld = errors.New("lease: not held")
)

// Lease exclusive claim on a key until ExpiresAt
type Lease struct {
	Key        string
	Token      string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// Leaser grants at most one live lease per key.
type Leaser interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error)
	Release(ctx context.Context, l *Lease) error
}

// WithLease runs fn while holding the lease on key. The lease is released on
// every exit path, panics included; a panic is re-raised after release.
func WithLease(ctx context.Context, leaser Leaser, key string, ttl time.Duration, fn func(ctx context.Context) error) (err error) {
	l, err := leaser.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	defer func() {
		// release must not be cut short by the caller's deadline
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if rerr := leaser.Release(rctx, l); rerr != nil {
			zap.L().Warn("lease release failed",
				zap.String("namespace", "lease"),
				zap.String("key", key),
				zap.Error(rerr))
		}
	}()
	return fn(ctx)
}

func newToken() string {
	return uuid.NewString()
}

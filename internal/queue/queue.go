package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/talkincode/netdoctor/internal/domain"
)

// ErrClosed returned by Dequeue once the queue has been closed
var ErrClosed = errors.New("queue: closed")

// Queue at-least-once delivery of diagnostic jobs. A delivered job stays
// in flight until it is acked or handed back through Retry.
type Queue interface {
	Enqueue(ctx context.Context, job *domain.DiagnosticJob) error
	// Dequeue blocks until a job is available or ctx is done.
	Dequeue(ctx context.Context) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	// Retry acks d and redelivers its job, with Attempt incremented, after delay.
	Retry(ctx context.Context, d *Delivery, delay time.Duration) error
	Close() error
}

// Delivery one handout of a job to a worker
type Delivery struct {
	ID  string
	Job *domain.DiagnosticJob

	payload string
}

type envelope struct {
	ID  string               `json:"id"`
	Job *domain.DiagnosticJob `json:"job"`
}

func encode(job *domain.DiagnosticJob) (string, error) {
	b, err := json.Marshal(envelope{ID: uuid.NewString(), Job: job})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decode(payload string) (*Delivery, error) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return nil, err
	}
	if env.Job == nil {
		return nil, errors.New("queue: envelope without job")
	}
	return &Delivery{ID: env.ID, Job: env.Job, payload: payload}, nil
}

func nextAttempt(job *domain.DiagnosticJob) *domain.DiagnosticJob {
	next := *job
	next.Attempt++
	return &next
}

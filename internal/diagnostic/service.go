package diagnostic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/talkincode/netdoctor/internal/domain"
	"github.com/talkincode/netdoctor/internal/lease"
	"github.com/talkincode/netdoctor/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TriggerRequest operator-initiated diagnostic of one or more targets
type TriggerRequest struct {
	TargetIDs  []string
	TargetType domain.TargetType
	UserChecks []string
	Sync       bool
}

// TriggerResult carries the queued jobs (async) or the finished logs (sync),
// in request order. InProgress lists sync targets skipped because another run
// held their lease.
type TriggerResult struct {
	Jobs       []*domain.DiagnosticJob
	Logs       []*domain.DiagnosticLog
	InProgress []string
}

// Service manual trigger and log queries
type Service struct {
	engine   *Engine
	queue    queue.Queue
	leaser   lease.Leaser
	logs     LogRepository
	leaseTTL time.Duration
	parallel int
	now      func() time.Time
}

func NewService(engine *Engine, q queue.Queue, leaser lease.Leaser, logs LogRepository, leaseTTL time.Duration, parallel int) *Service {
	if parallel <= 0 {
		parallel = 1
	}
	return &Service{engine: engine, queue: q, leaser: leaser, logs: logs, leaseTTL: leaseTTL, parallel: parallel, now: time.Now}
}

func (s *Service) Trigger(ctx context.Context, req TriggerRequest) (*TriggerResult, error) {
	ids := normalizeTargets(req.TargetIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: at least one target id is required", ErrBadRequest)
	}
	for _, c := range req.UserChecks {
		if !ValidUserCheck(c) {
			return nil, fmt.Errorf("%w: unknown user check %q", ErrBadRequest, c)
		}
	}

	jobs := make([]*domain.DiagnosticJob, len(ids))
	for i, id := range ids {
		jobs[i] = domain.NewDiagnosticJob(id, req.TargetType, req.UserChecks, s.now())
	}

	if !req.Sync {
		for _, job := range jobs {
			if err := s.queue.Enqueue(ctx, job); err != nil {
				return nil, fmt.Errorf("enqueue diagnostic for %s: %w", job.TargetId, err)
			}
		}
		return &TriggerResult{Jobs: jobs}, nil
	}

	logs := make([]*domain.DiagnosticLog, len(jobs))
	busy := make([]bool, len(jobs))
	var g errgroup.Group
	g.SetLimit(s.parallel)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			log, err := s.runNow(ctx, job)
			if errors.Is(err, ErrInProgress) {
				busy[i] = true
				return nil
			}
			logs[i] = log
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &TriggerResult{Jobs: jobs, Logs: make([]*domain.DiagnosticLog, 0, len(jobs))}
	for i, job := range jobs {
		if busy[i] {
			res.InProgress = append(res.InProgress, job.TargetId)
			continue
		}
		res.Logs = append(res.Logs, logs[i])
	}
	if len(res.Logs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrInProgress, strings.Join(res.InProgress, ", "))
	}
	return res, nil
}

// runNow diagnoses in-process under the target lease. Infrastructure faults
// are recorded immediately; there is no queue to retry through.
func (s *Service) runNow(ctx context.Context, job *domain.DiagnosticJob) (*domain.DiagnosticLog, error) {
	var log *domain.DiagnosticLog
	err := lease.WithLease(ctx, s.leaser, leaseKey(job), s.leaseTTL, func(ctx context.Context) error {
		var err error
		log, err = s.engine.Diagnose(ctx, job)
		var fe *FaultError
		if errors.As(err, &fe) && ctx.Err() == nil {
			zap.L().Error("synchronous diagnostic hit an infrastructure fault",
				zap.String("namespace", "diagnostic"),
				zap.String("target", job.TargetId),
				zap.Error(err))
			log, err = s.engine.RecordFault(ctx, job, err, 1)
		}
		return err
	})
	if errors.Is(err, lease.ErrHeld) {
		return nil, fmt.Errorf("%w: %s", ErrInProgress, job.TargetId)
	}
	return log, err
}

func (s *Service) GetLog(ctx context.Context, id int64) (*domain.DiagnosticLog, error) {
	return s.logs.GetByID(ctx, id)
}

func (s *Service) ListLogs(ctx context.Context, targetID string, page, pageSize int) ([]*domain.DiagnosticLog, int64, error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return nil, 0, fmt.Errorf("%w: target_id is required", ErrBadRequest)
	}
	return s.logs.ListByTarget(ctx, targetID, page, pageSize)
}

func normalizeTargets(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

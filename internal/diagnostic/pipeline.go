package diagnostic

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/talkincode/netdoctor/internal/domain"
	"github.com/talkincode/netdoctor/internal/gateway"
	"github.com/talkincode/netdoctor/internal/metrics"
	"go.uber.org/zap"
)

type outcome struct {
	status  domain.StepStatus
	summary string
	details domain.StepDetails
}

func success(summary string, d domain.StepDetails) outcome {
	return outcome{status: domain.StepSuccess, summary: summary, details: d}
}

func failure(summary string, d domain.StepDetails) outcome {
	return outcome{status: domain.StepFailure, summary: summary, details: d}
}

func warning(summary string, d domain.StepDetails) outcome {
	return outcome{status: domain.StepWarning, summary: summary, details: d}
}

func skipped(summary string) outcome {
	return outcome{status: domain.StepSkipped, summary: summary}
}

// stepDef one node of the step graph. A step runs only when every step it
// requires has not failed and was not itself skipped for a requirement.
type stepDef struct {
	name     string
	kind     domain.StepKind
	requires []string
	run      func(ctx context.Context, t *Target) outcome
}

// Pipeline executes the step plan of a target under an overall deadline.
type Pipeline struct {
	gw         gateway.Gateway
	neighbors  *NeighborAnalyzer
	runTimeout time.Duration
	metrics    *metrics.Metrics
}

func NewPipeline(gw gateway.Gateway, neighbors *NeighborAnalyzer, runTimeout time.Duration, m *metrics.Metrics) *Pipeline {
	return &Pipeline{gw: gw, neighbors: neighbors, runTimeout: runTimeout, metrics: m}
}

// Resolve loads the target. Gateway failures other than not-found are
// infrastructure faults; an unknown device yields a Target with NotFound set.
func (p *Pipeline) Resolve(ctx context.Context, job *domain.DiagnosticJob) (*Target, error) {
	t := &Target{ID: job.TargetId, Type: job.TargetType, UserChecks: job.UserChecks}
	if t.Type == domain.TargetUser {
		return t, nil
	}
	dev, err := p.gw.GetDeviceByID(ctx, job.TargetId)
	switch {
	case err == nil:
		t.Type, t.Device = domain.TargetDevice, dev
	case errors.Is(err, gateway.ErrNotFound) && t.Type == domain.TargetUnknown:
		t.Type = domain.TargetUser
	case errors.Is(err, gateway.ErrNotFound):
		t.NotFound = true
	default:
		return nil, err
	}
	return t, nil
}

// Execute resolves the job's target and runs its plan. Step problems are
// recorded in the returned steps; the error is either a *FaultError or the
// caller's context error when the run was abandoned from outside.
func (p *Pipeline) Execute(ctx context.Context, job *domain.DiagnosticJob) (*Target, []domain.DiagnosticStep, error) {
	started := time.Now()
	defer func() { p.metrics.RunFinished(time.Since(started)) }()

	runCtx, cancel := context.WithTimeout(ctx, p.runTimeout)
	defer cancel()

	target, err := p.Resolve(runCtx, job)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		if runCtx.Err() != nil {
			t := &Target{ID: job.TargetId, Type: job.TargetType}
			return t, []domain.DiagnosticStep{timeoutStep()}, nil
		}
		return nil, nil, &FaultError{Err: err}
	}
	steps, err := p.Run(ctx, runCtx, target)
	return target, steps, err
}

// Run walks the plan in order. parent is the caller's context, runCtx the
// same context bounded by the run deadline.
func (p *Pipeline) Run(parent, runCtx context.Context, t *Target) ([]domain.DiagnosticStep, error) {
	plan := p.plan(t)
	steps := make([]domain.DiagnosticStep, 0, len(plan)+1)
	status := make(map[string]domain.StepStatus, len(plan))
	blocked := make(map[string]bool)

	for _, def := range plan {
		if runCtx.Err() != nil {
			return p.interrupted(parent, steps)
		}

		if blocker, reason := unmet(def.requires, status, blocked); blocker != "" {
			blocked[def.name] = true
			steps = p.record(steps, status, def, skipped(reason), 0)
			continue
		}

		started := time.Now()
		res, done := p.runStep(runCtx, def, t)
		if !done {
			return p.interrupted(parent, steps)
		}
		steps = p.record(steps, status, def, res, time.Since(started))
	}
	return steps, nil
}

func unmet(requires []string, status map[string]domain.StepStatus, blocked map[string]bool) (string, string) {
	for _, r := range requires {
		if blocked[r] {
			return r, fmt.Sprintf("Skipped: requires %s, which did not run", r)
		}
		if status[r] == domain.StepFailure {
			return r, fmt.Sprintf("Skipped: requires %s, which failed", r)
		}
	}
	return "", ""
}

// runStep executes def in its own goroutine so the deadline can abandon it.
// done is false when the deadline fired first.
func (p *Pipeline) runStep(ctx context.Context, def stepDef, t *Target) (res outcome, done bool) {
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				zap.L().Error("diagnostic step panic",
					zap.String("namespace", "diagnostic"),
					zap.String("step", def.name),
					zap.String("target", t.ID),
					zap.Any("panic", r))
				ch <- failure(fmt.Sprintf("step crashed: %v", r), nil)
			}
		}()
		ch <- def.run(ctx, t)
	}()

	select {
	case res = <-ch:
		return res, true
	case <-ctx.Done():
		return outcome{}, false
	}
}

func (p *Pipeline) record(steps []domain.DiagnosticStep, status map[string]domain.StepStatus, def stepDef, res outcome, took time.Duration) []domain.DiagnosticStep {
	status[def.name] = res.status
	p.metrics.StepFinished(def.name, string(res.status))
	return append(steps, domain.DiagnosticStep{
		Name:       def.name,
		Kind:       def.kind,
		Status:     res.status,
		Summary:    res.summary,
		Details:    res.details,
		DurationMs: took.Milliseconds(),
	})
}

// interrupted closes a run cut short. A cancelled caller aborts the run; an
// expired deadline appends the timeout step and keeps the partial results.
func (p *Pipeline) interrupted(parent context.Context, steps []domain.DiagnosticStep) ([]domain.DiagnosticStep, error) {
	if err := parent.Err(); err != nil {
		return steps, err
	}
	p.metrics.StepFinished(domain.StepDiagnosticTimeout, string(domain.StepFailure))
	return append(steps, timeoutStep()), nil
}

func timeoutStep() domain.DiagnosticStep {
	return domain.DiagnosticStep{
		Name:    domain.StepDiagnosticTimeout,
		Kind:    domain.KindFault,
		Status:  domain.StepFailure,
		Summary: "diagnostic timed out",
	}
}

// FaultStep terminal step recorded when retries for an infrastructure fault ran out.
func FaultStep(err error, attempts int) domain.DiagnosticStep {
	return domain.DiagnosticStep{
		Name:    domain.StepInfrastructureFailure,
		Kind:    domain.KindFault,
		Status:  domain.StepFailure,
		Summary: fmt.Sprintf("diagnostic infrastructure unavailable after %d attempts: %v", attempts, err),
		Details: domain.FaultDetails{Error: err.Error(), Attempts: attempts},
	}
}

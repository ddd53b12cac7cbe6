package diagnostic

import (
	"context"
	"time"

	EventBus "github.com/asaskevich/EventBus"
	"github.com/pkg/errors"
	"github.com/talkincode/netdoctor/internal/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// Engine runs one diagnostic job end to end: pipeline, conclusion, persistence
// and the completion event. It does not deal with leases or the queue.
type Engine struct {
	pipeline *Pipeline
	logs     LogRepository
	bus      EventBus.Bus
}

func NewEngine(pipeline *Pipeline, logs LogRepository, bus EventBus.Bus) *Engine {
	return &Engine{pipeline: pipeline, logs: logs, bus: bus}
}

// Diagnose returns a *FaultError for infrastructure faults and the context
// error when ctx was cancelled mid-run; in both cases nothing is persisted.
func (e *Engine) Diagnose(ctx context.Context, job *domain.DiagnosticJob) (*domain.DiagnosticLog, error) {
	target, steps, err := e.pipeline.Execute(ctx, job)
	if err != nil {
		return nil, err
	}
	return e.persist(ctx, target.ID, target.Type, steps)
}

// RecordFault persists the terminal log of a job whose retries are exhausted.
func (e *Engine) RecordFault(ctx context.Context, job *domain.DiagnosticJob, fault error, attempts int) (*domain.DiagnosticLog, error) {
	var steps []domain.DiagnosticStep
	var fe *FaultError
	if errors.As(fault, &fe) {
		steps = append(steps, fe.Steps...)
		fault = fe.Err
	}
	steps = append(steps, FaultStep(fault, attempts))
	return e.persist(ctx, job.TargetId, job.TargetType, steps)
}

func (e *Engine) persist(ctx context.Context, targetID string, targetType domain.TargetType, steps []domain.DiagnosticStep) (*domain.DiagnosticLog, error) {
	log := &domain.DiagnosticLog{
		TargetId:        targetID,
		TargetType:      targetType,
		FinalConclusion: Conclude(steps),
	}
	if steps == nil {
		steps = []domain.DiagnosticStep{}
	}
	log.Steps = datatypes.NewJSONType(steps)

	// a run that hit its deadline is still written
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := e.logs.Create(wctx, log); err != nil {
		return nil, &FaultError{Steps: steps, Err: errors.Wrap(err, "persist diagnostic log")}
	}

	zap.L().Info("diagnostic completed",
		zap.String("namespace", "diagnostic"),
		zap.Int64("log_id", log.ID),
		zap.String("target", targetID),
		zap.String("target_type", string(targetType)),
		zap.Int("steps", len(steps)),
		zap.String("conclusion", log.FinalConclusion))

	if e.bus != nil {
		e.bus.Publish(EventDiagnosticCompleted, log)
	}
	return log, nil
}

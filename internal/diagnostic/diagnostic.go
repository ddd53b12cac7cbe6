// Package diagnostic runs network diagnostics: it resolves a target, walks the
// step plan for its type, analyzes neighbors, synthesizes a conclusion and
// persists one immutable log per run.
package diagnostic

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/talkincode/netdoctor/internal/domain"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("bad request")
	// ErrInProgress a run for the target already holds its lease
	ErrInProgress  = errors.New("diagnosis already in progress")
	ErrLogNotFound = errors.New("diagnostic log not found")
)

// EventDiagnosticCompleted is published with the persisted *domain.DiagnosticLog.
const EventDiagnosticCompleted = "diagnostic:completed"

// Target a resolved diagnostic subject
type Target struct {
	ID         string
	Type       domain.TargetType
	Device     *domain.NetDevice // nil for user targets
	UserChecks []string
	NotFound   bool
}

// FaultError an infrastructure fault that stopped a run. Steps holds the work
// completed before the fault.
type FaultError struct {
	Steps []domain.DiagnosticStep
	Err   error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("infrastructure fault: %v", e.Err)
}

func (e *FaultError) Unwrap() error { return e.Err }

package diagnostic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/talkincode/netdoctor/internal/domain"
)

func step(name string, status domain.StepStatus, summary string) domain.DiagnosticStep {
	return domain.DiagnosticStep{Name: name, Status: status, Summary: summary}
}

func TestConclude(t *testing.T) {
	tests := []struct {
		name  string
		steps []domain.DiagnosticStep
		want  string
	}{
		{
			name: "no steps",
			want: "No checks were run.",
		},
		{
			name: "all passed",
			steps: []domain.DiagnosticStep{
				step(domain.StepRouterCheck, domain.StepSuccess, "ok"),
				step(domain.StepCPECheck, domain.StepSuccess, "ok"),
			},
			want: "No issues detected: 2 checks passed.",
		},
		{
			name: "first failure wins",
			steps: []domain.DiagnosticStep{
				step(domain.StepBillingCheck, domain.StepWarning, "unknown status"),
				step(domain.StepRouterCheck, domain.StepFailure, "Router r1 (10.0.0.1) is unreachable."),
				step(domain.StepCPECheck, domain.StepFailure, "Device c1 is unreachable"),
			},
			want: "Root cause: Mikrotik Router Check failed: Router r1 (10.0.0.1) is unreachable. " +
				"**Recommendation:** Check power and uplink on the managing Mikrotik router and confirm its API service answers.",
		},
		{
			name: "warnings only",
			steps: []domain.DiagnosticStep{
				step(domain.StepCPECheck, domain.StepSuccess, "ok"),
				step(domain.StepPingStation, domain.StepWarning, "1 of 3 stations unreachable"),
				step(domain.StepNeighborApartment, domain.StepWarning, "All 2 neighbors are offline"),
			},
			want: "Degraded but functioning: Ping Station: 1 of 3 stations unreachable; " +
				"Neighbor Analysis (Apartment-Based): All 2 neighbors are offline.",
		},
		{
			name: "everything skipped",
			steps: []domain.DiagnosticStep{
				step(domain.StepBillingCheck, domain.StepSkipped, "no owner"),
			},
			want: "No checks could be completed: all 1 steps were skipped.",
		},
		{
			name: "unmapped failure uses default recommendation",
			steps: []domain.DiagnosticStep{
				step("Custom Probe", domain.StepFailure, ""),
			},
			want: "Root cause: Custom Probe failed: no details. **Recommendation:** Investigate the failing component.",
		},
		{
			name: "timeout",
			steps: []domain.DiagnosticStep{
				step(domain.StepBillingCheck, domain.StepSuccess, "ok"),
				timeoutStep(),
			},
			want: "Root cause: Diagnostic Timeout failed: diagnostic timed out. " +
				"**Recommendation:** Re-run the diagnostic; if it times out again, check how responsive the probed devices are.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Conclude(tt.steps))
		})
	}
}

func TestConcludeIsDeterministic(t *testing.T) {
	steps := []domain.DiagnosticStep{
		step(domain.StepBillingCheck, domain.StepSkipped, "no owner"),
		step(domain.StepRouterCheck, domain.StepFailure, "down"),
		step(domain.StepCPECheck, domain.StepSkipped, "blocked"),
	}
	first := Conclude(steps)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, Conclude(steps))
	}
	assert.Equal(t, domain.StepFailure, steps[1].Status, "input is not modified")
}

func TestVerdict(t *testing.T) {
	st := func(status domain.StepStatus) domain.DiagnosticStep { return step("x", status, "") }
	assert.Equal(t, VerdictInconclusive, Verdict(nil))
	assert.Equal(t, VerdictInconclusive, Verdict([]domain.DiagnosticStep{st(domain.StepSkipped)}))
	assert.Equal(t, VerdictHealthy, Verdict([]domain.DiagnosticStep{st(domain.StepSuccess), st(domain.StepSkipped)}))
	assert.Equal(t, VerdictDegraded, Verdict([]domain.DiagnosticStep{st(domain.StepWarning), st(domain.StepSuccess)}))
	assert.Equal(t, VerdictRootCause, Verdict([]domain.DiagnosticStep{st(domain.StepWarning), st(domain.StepFailure)}))
}

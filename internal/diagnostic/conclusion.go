package diagnostic

import (
	"fmt"
	"strings"

	"github.com/talkincode/netdoctor/internal/domain"
)

var recommendations = map[string]string{
	domain.StepBillingCheck:          "Renew or reactivate the subscriber account, then re-run the diagnostic.",
	domain.StepUserStatus:            "Renew or reactivate the subscriber account, then re-run the diagnostic.",
	domain.StepRouterCheck:           "Check power and uplink on the managing Mikrotik router and confirm its API service answers.",
	domain.StepCPECheck:              "Check power and cabling of the customer premises device, or dispatch a technician.",
	domain.StepAPCheck:               "Inspect the upstream access point; its stations cannot associate while it is down.",
	domain.StepPingInitialDevice:     "Check power and backhaul of the access point.",
	domain.StepPingStation:           "Review alignment and signal of the unreachable stations.",
	domain.StepNeighborStationBased:  "Neighbors on the same access point are affected too; investigate the shared access point.",
	domain.StepNeighborApartment:     "Units in the same building are affected too; investigate the building uplink.",
	domain.StepDiagnosticTimeout:     "Re-run the diagnostic; if it times out again, check how responsive the probed devices are.",
	domain.StepInfrastructureFailure: "The diagnostic backend was unavailable; retry once the inventory database is healthy.",
	domain.StepTargetLookup:          "Verify the identifier; the target is not registered in the network inventory.",
}

const defaultRecommendation = "Investigate the failing component."

// Conclude reduces the ordered steps to one statement. The earliest failure is
// the root cause; warnings alone mean the service is degraded.
func Conclude(steps []domain.DiagnosticStep) string {
	if len(steps) == 0 {
		return "No checks were run."
	}

	var warnings []string
	passed, skipped := 0, 0
	for _, s := range steps {
		switch s.Status {
		case domain.StepFailure:
			rec, ok := recommendations[s.Name]
			if !ok {
				rec = defaultRecommendation
			}
			return fmt.Sprintf("Root cause: %s failed: %s. **Recommendation:** %s", s.Name, sentence(s.Summary), rec)
		case domain.StepWarning:
			warnings = append(warnings, fmt.Sprintf("%s: %s", s.Name, sentence(s.Summary)))
		case domain.StepSuccess:
			passed++
		case domain.StepSkipped:
			skipped++
		}
	}

	if len(warnings) > 0 {
		return "Degraded but functioning: " + strings.Join(warnings, "; ") + "."
	}
	if passed == 0 {
		return fmt.Sprintf("No checks could be completed: all %d steps were skipped.", skipped)
	}
	if skipped > 0 {
		return fmt.Sprintf("No issues detected: %d checks passed, %d skipped.", passed, skipped)
	}
	return fmt.Sprintf("No issues detected: %d checks passed.", passed)
}

// Verdicts classify a finished run for dashboards
const (
	VerdictHealthy      = "healthy"
	VerdictDegraded     = "degraded"
	VerdictRootCause    = "root_cause"
	VerdictInconclusive = "inconclusive"
)

// Verdict applies the same precedence as Conclude.
func Verdict(steps []domain.DiagnosticStep) string {
	verdict := VerdictInconclusive
	for _, s := range steps {
		switch s.Status {
		case domain.StepFailure:
			return VerdictRootCause
		case domain.StepWarning:
			verdict = VerdictDegraded
		case domain.StepSuccess:
			if verdict == VerdictInconclusive {
				verdict = VerdictHealthy
			}
		}
	}
	return verdict
}

func sentence(s string) string {
	s = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(s), "."))
	if s == "" {
		return "no details"
	}
	return s
}

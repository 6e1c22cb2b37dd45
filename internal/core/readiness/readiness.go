// Package readiness provides pure functions for cluster readiness decisions.
// Following ADR-002: Values as Boundaries - this package contains NO I/O.
package readiness

import "fmt"

// Reading is a snapshot of cluster telemetry at preflight time.
type Reading struct {
	// UtilizationPercent is the aggregate cluster utilization (0-100).
	UtilizationPercent float64

	// UnhealthyCount is the number of workload instances currently failing
	// their health checks.
	UnhealthyCount int
}

// Evaluate decides whether a risk-gated environment may receive a deployment.
// Both conditions must hold: utilization strictly below the ceiling and zero
// unhealthy instances. The returned reason is empty when the cluster is ready.
func Evaluate(r Reading, utilizationCeiling float64) (ok bool, reason string) {
	if r.UtilizationPercent >= utilizationCeiling {
		return false, fmt.Sprintf("utilization %.1f%% at or above ceiling %.1f%%", r.UtilizationPercent, utilizationCeiling)
	}
	if r.UnhealthyCount > 0 {
		return false, fmt.Sprintf("%d unhealthy workload instance(s)", r.UnhealthyCount)
	}
	return true, ""
}

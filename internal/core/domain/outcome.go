package domain

import "time"

// =============================================================================
// Deployment Outcome
// =============================================================================

// Result classifies how a dispatch cycle ended.
type Result string

const (
	ResultSucceeded        Result = "succeeded"
	ResultFailedPreflight  Result = "failed-preflight"
	ResultFailedExecution  Result = "failed-execution"
	ResultFailedPostflight Result = "failed-postflight"
)

// DeploymentOutcome is the audit record produced at the end of every dispatch
// cycle. It feeds reporting and notification; the only control decision it
// drives is the cooldown update on success.
type DeploymentOutcome struct {
	RequestID   string      `json:"request_id"`
	Environment Environment `json:"environment"`
	Version     string      `json:"version"`
	Result      Result      `json:"result"`
	Detail      string      `json:"detail,omitempty"`
	StartedAt   time.Time   `json:"started_at"`
	FinishedAt  time.Time   `json:"finished_at"`
}

// NewOutcome builds an outcome record for a request.
func NewOutcome(req DeploymentRequest, result Result, detail string, startedAt, finishedAt time.Time) *DeploymentOutcome {
	return &DeploymentOutcome{
		RequestID:   req.ID,
		Environment: req.Environment,
		Version:     req.Version,
		Result:      result,
		Detail:      detail,
		StartedAt:   startedAt,
		FinishedAt:  finishedAt,
	}
}

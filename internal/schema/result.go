package schema

import (
	"github.com/roach88/stepflow/internal/fault"
)

// Step result status values.
const (
	StepSuccess = "success"
	StepFailed  = "failed"
	StepSkipped = "skipped"
)

// ResultVersion is the StepResult schema version emitted by this engine.
const ResultVersion = "1.0.0"

// StepError is one structured failure attached to a failed step.
type StepError struct {
	Code    string `json:"code" validate:"required,trimmed"`
	Message string `json:"message" validate:"required,trimmed"`
	Step    string `json:"step,omitempty"`
}

// StepMetrics carries optional integer step metrics.
type StepMetrics struct {
	TokensIn  int64 `json:"tokens_in"`
	TokensOut int64 `json:"tokens_out"`
	LatencyMS int64 `json:"latency_ms"`
}

// StepResult is the validated output of one step invocation.
type StepResult struct {
	Version    string         `json:"version" validate:"required,semver"`
	Step       string         `json:"step" validate:"required,trimmed"`
	Status     string         `json:"status" validate:"required,oneof=success failed skipped"`
	InputHash  string         `json:"input_hash" validate:"required,hexhash"`
	OutputHash string         `json:"output_hash" validate:"required,hexhash"`
	StartedAt  string         `json:"started_at" validate:"required,isoutc"`
	FinishedAt string         `json:"finished_at" validate:"required,isoutc"`
	Output     map[string]any `json:"output,omitempty"`
	Errors     []StepError    `json:"errors,omitempty" validate:"omitempty,dive"`
	Metrics    *StepMetrics   `json:"metrics,omitempty"`
}

var resultValidator = newValidator()

// ValidateStepResult checks the structural schema and the step contract.
// Structural failures return schema_invalid; contract failures (success
// without output, failed without errors, skipped carrying either, or
// started_at after finished_at) return step_contract_violation.
func ValidateStepResult(r *StepResult) error {
	if r == nil {
		return invalid("step_result", []string{"step_result: must not be nil"})
	}
	if err := resultValidator.Struct(r); err != nil {
		return invalid("step_result", violations("step_result", err))
	}

	switch r.Status {
	case StepSuccess:
		if r.Output == nil {
			return fault.New(fault.CodeStepContract, "success result requires output").WithStep(r.Step)
		}
		if len(r.Errors) > 0 {
			return fault.New(fault.CodeStepContract, "success result must not carry errors").WithStep(r.Step)
		}
	case StepFailed:
		if len(r.Errors) == 0 {
			return fault.New(fault.CodeStepContract, "failed result requires errors").WithStep(r.Step)
		}
		if r.Output != nil {
			return fault.New(fault.CodeStepContract, "failed result must not carry output").WithStep(r.Step)
		}
	case StepSkipped:
		if r.Output != nil || len(r.Errors) > 0 {
			return fault.New(fault.CodeStepContract, "skipped result carries neither output nor errors").WithStep(r.Step)
		}
	}

	// Timestamps are second-precision ISO-8601 UTC, so string order is
	// chronological order.
	if r.StartedAt > r.FinishedAt {
		return fault.New(fault.CodeStepContract, "started_at %s is after finished_at %s", r.StartedAt, r.FinishedAt).WithStep(r.Step)
	}
	return nil
}

// CanonicalValue projects the result into the map shape embedded in trace
// step records and hashed by the canonical encoder.
func (r *StepResult) CanonicalValue() any {
	out := map[string]any{
		"version":     r.Version,
		"step":        r.Step,
		"status":      r.Status,
		"input_hash":  r.InputHash,
		"output_hash": r.OutputHash,
		"started_at":  r.StartedAt,
		"finished_at": r.FinishedAt,
	}
	if r.Status == StepSuccess {
		output := r.Output
		if output == nil {
			output = map[string]any{}
		}
		out["output"] = output
	}
	if r.Status == StepFailed {
		errs := make([]any, 0, len(r.Errors))
		for _, e := range r.Errors {
			entry := map[string]any{"code": e.Code, "message": e.Message}
			if e.Step != "" {
				entry["step"] = e.Step
			}
			errs = append(errs, entry)
		}
		out["errors"] = errs
	}
	if r.Metrics != nil {
		out["metrics"] = map[string]any{
			"tokens_in":  r.Metrics.TokensIn,
			"tokens_out": r.Metrics.TokensOut,
			"latency_ms": r.Metrics.LatencyMS,
		}
	}
	return out
}

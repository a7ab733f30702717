// Package fault defines the stable error taxonomy shared by every component.
//
// Codes are part of the external contract: they appear in ReasoningState
// error entries, in trace records, and in HTTP responses. Renaming a code is
// a breaking change.
package fault

import (
	"errors"
	"fmt"
)

// Code identifies an error category from the fixed taxonomy.
type Code string

const (
	// CodeSchemaInvalid indicates a value failed structural validation.
	CodeSchemaInvalid Code = "schema_invalid"

	// CodeVersionUnsupported indicates a MAJOR version the engine cannot accept.
	CodeVersionUnsupported Code = "version_unsupported"

	// CodeCanonicalization indicates a value cannot be canonically encoded.
	CodeCanonicalization Code = "canonicalization_error"

	// CodeStepUnknown indicates a step name absent from the registry.
	CodeStepUnknown Code = "step_unknown"

	// CodeStepContract indicates a StepResult violating the step contract
	// (e.g. success with no output).
	CodeStepContract Code = "step_contract_violation"

	// CodeStateInvariant indicates a ReasoningState invariant violation
	// (monotonicity, terminal mutation).
	CodeStateInvariant Code = "state_invariant_violation"

	// CodeArtifactOverwrite indicates an attempt to overwrite an existing
	// artifact key.
	CodeArtifactOverwrite Code = "artifact_overwrite"

	// CodeLoopConfigInvalid indicates an unusable loop configuration.
	CodeLoopConfigInvalid Code = "loop_config_invalid"

	// CodeStopConditionInvalid indicates an unusable stop condition.
	CodeStopConditionInvalid Code = "stop_condition_invalid"

	// CodeHashMismatch indicates a declared hash differs from the computed one.
	CodeHashMismatch Code = "hash_mismatch"

	// CodeTraceChainBroken indicates a prev_hash that does not match the
	// prior record_hash.
	CodeTraceChainBroken Code = "trace_chain_broken"

	// CodeCancelled indicates the caller cancelled the run between steps.
	CodeCancelled Code = "cancelled"

	// CodeCollaboratorTimeout indicates an external collaborator timed out.
	CodeCollaboratorTimeout Code = "collaborator_timeout"

	// CodeStructuredGeneration indicates model output that failed schema
	// enforcement.
	CodeStructuredGeneration Code = "structured_generation_failed"
)

// Error is the structured error carried across component boundaries.
type Error struct {
	// Code is the taxonomy category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Step names the step involved, when one is.
	Step string

	// Violations enumerates individual rule failures for schema errors.
	Violations []string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("%s: %s (step=%s)", e.Code, e.Message, e.Step)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New creates an Error with the given code and message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep returns a copy of the error annotated with a step name.
func (e *Error) WithStep(step string) *Error {
	clone := *e
	clone.Step = step
	return &clone
}

// CodeOf extracts the taxonomy code from err, unwrapping as needed.
// Returns an empty Code when err is not a fault.Error.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// Fatal reports whether the code implies the trace is untrustworthy.
// Only canonicalization, chain, and state-invariant failures are fatal;
// everything else leaves the trace valid.
func Fatal(err error) bool {
	switch CodeOf(err) {
	case CodeCanonicalization, CodeTraceChainBroken, CodeStateInvariant:
		return true
	}
	return false
}

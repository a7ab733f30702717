package state

import (
	"github.com/roach88/stepflow/internal/fault"
	"github.com/roach88/stepflow/internal/schema"
)

// Manager applies validated step results to states. It is stateless; the
// runner owns the live State value and threads it through.
type Manager struct{}

// NewManager returns a state manager.
func NewManager() *Manager {
	return &Manager{}
}

// Apply produces the next state from (prev, result). The artifact is the
// typed output of a successful step; artifactKey is the (possibly
// iteration-tagged) key it lands under. now must come from the
// deterministic clock and strictly advance past prev's updated_at.
//
// Semantics by result status:
//   - success: append artifact under artifactKey, increment step_index
//   - failed: append result errors to state errors, set status=failed
//   - skipped: increment step_index, no artifact
//
// prev is never mutated. Apply refuses terminal states, artifact
// overwrites, and non-advancing clocks.
func (m *Manager) Apply(prev *State, result *schema.StepResult, artifact Artifact, artifactKey, now string) (*State, error) {
	if err := schema.ValidateStepResult(result); err != nil {
		return nil, err
	}
	if prev.Terminal() {
		return nil, fault.New(fault.CodeStateInvariant,
			"cannot apply %q result to terminal state (status=%s)", result.Step, prev.Status)
	}
	if now <= prev.Metadata.UpdatedAt {
		return nil, fault.New(fault.CodeStateInvariant,
			"updated_at must strictly advance (%s is not after %s)", now, prev.Metadata.UpdatedAt)
	}

	next := prev.Clone()
	next.Metadata.UpdatedAt = now

	switch result.Status {
	case schema.StepSuccess:
		if artifact == nil {
			return nil, fault.New(fault.CodeStepContract, "success result requires a typed artifact").WithStep(result.Step)
		}
		if artifactKey == "" {
			artifactKey = artifact.Key()
		}
		if _, exists := next.Artifacts[artifactKey]; exists {
			return nil, fault.New(fault.CodeArtifactOverwrite,
				"artifact key %q already exists", artifactKey).WithStep(result.Step)
		}
		next.Artifacts[artifactKey] = artifact
		next.StepIndex = prev.StepIndex + 1
		next.Status = StatusRunning
	case schema.StepFailed:
		for _, e := range result.Errors {
			entry := ErrorEntry{Code: e.Code, Message: e.Message, Step: e.Step}
			if entry.Step == "" {
				entry.Step = result.Step
			}
			next.Errors = append(next.Errors, entry)
		}
		next.Status = StatusFailed
	case schema.StepSkipped:
		next.StepIndex = prev.StepIndex + 1
	}

	if err := ValidateInvariants(next); err != nil {
		return nil, err
	}
	return next, nil
}

// MarkRunning transitions pending → running. Any other source status is a
// state_invariant_violation.
func (m *Manager) MarkRunning(prev *State, now string) (*State, error) {
	if prev.Status != StatusPending {
		return nil, fault.New(fault.CodeStateInvariant,
			"cannot transition %s → running", prev.Status)
	}
	next := prev.Clone()
	next.Status = StatusRunning
	next.Metadata.UpdatedAt = now
	return next, nil
}

// Complete transitions running → completed.
func (m *Manager) Complete(prev *State, now string) (*State, error) {
	if prev.Status != StatusRunning {
		return nil, fault.New(fault.CodeStateInvariant,
			"cannot transition %s → completed", prev.Status)
	}
	next := prev.Clone()
	next.Status = StatusCompleted
	next.Metadata.UpdatedAt = now
	return next, nil
}

// Fail appends errors and transitions to failed. Used by the runner for
// failures that originate outside a step result (cancellation, validator
// rejections).
func (m *Manager) Fail(prev *State, errs []ErrorEntry, now string) (*State, error) {
	if prev.Status == StatusCompleted {
		return nil, fault.New(fault.CodeStateInvariant, "cannot transition completed → failed")
	}
	next := prev.Clone()
	next.Status = StatusFailed
	next.Errors = append(next.Errors, errs...)
	next.Metadata.UpdatedAt = now
	return next, nil
}

// Package step implements the fixed registry of deterministic steps.
//
// Every step is a function from an immutable state view to an Outcome. A
// step derives its result solely from the state, the configuration embedded
// in it, and (for AcquireEvidence) a deterministic model oracle whose
// response is folded into the input hash. Steps never mutate state; the
// state manager applies their results.
package step

import (
	"context"
	"sort"

	"github.com/roach88/stepflow/internal/canon"
	"github.com/roach88/stepflow/internal/fault"
	"github.com/roach88/stepflow/internal/provider"
	"github.com/roach88/stepflow/internal/schema"
	"github.com/roach88/stepflow/internal/state"
)

// Registered step names.
const (
	NameNormalize       = "Normalize"
	NameDecompose       = "Decompose"
	NameAcquireEvidence = "AcquireEvidence"
	NameCompute         = "Compute"
	NameVerify          = "Verify"
	NameSynthesize      = "Synthesize"
	NameAudit           = "Audit"
)

// Clock is the deterministic timestamp source steps stamp results with.
type Clock interface {
	Now() string
}

// Outcome bundles a step's validated result with its typed artifact and the
// exact input payload the input hash was computed over. The runner re-hashes
// InputPayload to verify the declared input_hash.
type Outcome struct {
	Result       *schema.StepResult
	Artifact     state.Artifact
	InputPayload map[string]any
}

// Func is the uniform step contract.
type Func func(ctx context.Context, s *state.State, clk Clock) (*Outcome, error)

// Steps binds the step implementations to their collaborators.
type Steps struct {
	provider provider.Provider
}

// New creates the step set. The provider may be nil; AcquireEvidence then
// skips its model consult.
func New(p provider.Provider) *Steps {
	return &Steps{provider: p}
}

// Registry maps registered names to step functions.
type Registry struct {
	steps map[string]Func
}

// NewRegistry builds the fixed registry. The set is frozen per engine
// version; adding a step is a MAJOR change.
func NewRegistry(st *Steps) *Registry {
	return &Registry{steps: map[string]Func{
		NameNormalize:       st.Normalize,
		NameDecompose:       st.Decompose,
		NameAcquireEvidence: st.AcquireEvidence,
		NameCompute:         st.Compute,
		NameVerify:          st.Verify,
		NameSynthesize:      st.Synthesize,
		NameAudit:           st.Audit,
	}}
}

// Lookup resolves a step function by name.
func (r *Registry) Lookup(name string) (Func, error) {
	fn, ok := r.steps[name]
	if !ok {
		return nil, fault.New(fault.CodeStepUnknown, "step %q is not registered", name)
	}
	return fn, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.steps[name]
	return ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.steps))
	for name := range r.steps {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// success builds a validated success outcome. The output payload is the
// artifact's canonical projection, so output_hash commits to exactly what
// the state will store.
func success(step string, started, finished string, input map[string]any, artifact state.Artifact, metrics *schema.StepMetrics) (*Outcome, error) {
	output, ok := artifact.CanonicalValue().(map[string]any)
	if !ok {
		return nil, fault.New(fault.CodeStepContract, "artifact must project to an object").WithStep(step)
	}
	inputHash, err := canon.Hash(input)
	if err != nil {
		return nil, err
	}
	outputHash, err := canon.Hash(output)
	if err != nil {
		return nil, err
	}
	result := &schema.StepResult{
		Version:    schema.ResultVersion,
		Step:       step,
		Status:     schema.StepSuccess,
		InputHash:  inputHash,
		OutputHash: outputHash,
		StartedAt:  started,
		FinishedAt: finished,
		Output:     output,
		Metrics:    metrics,
	}
	if err := schema.ValidateStepResult(result); err != nil {
		return nil, err
	}
	return &Outcome{Result: result, Artifact: artifact, InputPayload: input}, nil
}

// failure builds a validated failed outcome. Failed steps carry errors and
// no output; the empty object is hashed as the output payload.
func failure(step string, started, finished string, input map[string]any, errs []schema.StepError) (*Outcome, error) {
	inputHash, err := canon.Hash(input)
	if err != nil {
		return nil, err
	}
	outputHash, err := canon.Hash(map[string]any{})
	if err != nil {
		return nil, err
	}
	result := &schema.StepResult{
		Version:    schema.ResultVersion,
		Step:       step,
		Status:     schema.StepFailed,
		InputHash:  inputHash,
		OutputHash: outputHash,
		StartedAt:  started,
		FinishedAt: finished,
		Errors:     errs,
	}
	if err := schema.ValidateStepResult(result); err != nil {
		return nil, err
	}
	return &Outcome{Result: result, InputPayload: input}, nil
}

// problemInputs returns the raw inputs mapping from the embedded problem.
func problemInputs(s *state.State) map[string]any {
	inputs, _ := s.Problem["inputs"].(map[string]any)
	return inputs
}

// problemSettings returns the raw settings mapping from the embedded
// problem, or nil.
func problemSettings(s *state.State) map[string]any {
	settings, _ := s.Problem["settings"].(map[string]any)
	return settings
}

func stringsOf(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, elem := range list {
		if s, ok := elem.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func boolSetting(settings map[string]any, key string, def bool) bool {
	if settings == nil {
		return def
	}
	if b, ok := settings[key].(bool); ok {
		return b
	}
	return def
}

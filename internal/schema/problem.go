package schema

import (
	"encoding/json"

	"github.com/roach88/stepflow/internal/fault"
)

// ProblemSpec is the immutable input to a run. The typed fields are the
// validated view; the raw mapping is retained because hashes and the state
// embedding are computed over the caller's exact value, unknown fields
// included.
type ProblemSpec struct {
	Version    string         `json:"version" validate:"required,semver"`
	ID         string         `json:"id" validate:"required,trimmed"`
	CreatedAt  string         `json:"created_at" validate:"required,isoutc"`
	Inputs     ProblemInputs  `json:"inputs" validate:"required"`
	Settings   *Settings      `json:"settings,omitempty"`
	Provenance map[string]any `json:"provenance,omitempty"`

	raw map[string]any
}

// ProblemInputs holds the problem payload.
type ProblemInputs struct {
	Prompt      string         `json:"prompt" validate:"required,trimmed"`
	Constraints []string       `json:"constraints,omitempty" validate:"omitempty,dive,trimmed"`
	Goals       []string       `json:"goals,omitempty" validate:"omitempty,dive,trimmed"`
	Context     map[string]any `json:"context,omitempty"`
}

// Settings carries execution knobs. Loop details are parsed and validated by
// the loop package; here only the general shape is checked.
type Settings struct {
	EvidenceRequired       *bool              `json:"evidence_required,omitempty"`
	MaxSteps               *int               `json:"max_steps,omitempty" validate:"omitempty,gt=0"`
	PolicyProfile          string             `json:"policy_profile,omitempty" validate:"omitempty,trimmed"`
	ModelProfile           string             `json:"model_profile,omitempty" validate:"omitempty,trimmed"`
	ModelProvider          string             `json:"model_provider,omitempty" validate:"omitempty,oneof=openai anthropic fixture"`
	ModelName              string             `json:"model_name,omitempty" validate:"omitempty,trimmed"`
	StructuredGeneration   *bool              `json:"structured_generation,omitempty"`
	OrchestrationFramework string             `json:"orchestration_framework,omitempty" validate:"omitempty,oneof=native"`
	VerificationPaths      []VerificationPath `json:"verification_paths,omitempty" validate:"omitempty,dive"`
	Loop                   json.RawMessage    `json:"loop,omitempty"`
}

// VerificationPath configures one parallel verification check.
type VerificationPath struct {
	Name             string `json:"name" validate:"required,trimmed"`
	EvidenceRequired *bool  `json:"evidence_required,omitempty"`
}

var problemValidator = newValidator()

// ParseProblemSpec validates a raw problem spec mapping and returns its
// typed view. Structural failures return schema_invalid with every violated
// rule; a MAJOR version the engine does not speak returns
// version_unsupported.
func ParseProblemSpec(raw map[string]any) (*ProblemSpec, error) {
	if raw == nil {
		return nil, invalid("problem_spec", []string{"problem_spec: must be an object"})
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, invalid("problem_spec", []string{"problem_spec: not JSON-shaped: " + err.Error()})
	}
	var spec ProblemSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, invalid("problem_spec", []string{"problem_spec: " + err.Error()})
	}

	if err := problemValidator.Struct(&spec); err != nil {
		return nil, invalid("problem_spec", violations("problem_spec", err))
	}

	if major := MajorOf(spec.Version); major != SupportedMajor {
		return nil, fault.New(fault.CodeVersionUnsupported,
			"problem_spec.version major %d is unsupported (engine speaks %d)", major, SupportedMajor)
	}

	spec.raw = raw
	return &spec, nil
}

// Raw returns the caller's exact mapping. Callers must treat it as
// immutable; hashing and state embedding read from here.
func (p *ProblemSpec) Raw() map[string]any {
	return p.raw
}

// RawSettings returns the raw settings mapping, or nil when absent.
func (p *ProblemSpec) RawSettings() map[string]any {
	settings, _ := p.raw["settings"].(map[string]any)
	return settings
}

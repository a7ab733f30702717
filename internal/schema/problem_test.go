package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stepflow/internal/fault"
)

func validSpec() map[string]any {
	return map[string]any{
		"version":    "1.0.0",
		"id":         "req-1",
		"created_at": "2026-02-02T00:00:00Z",
		"inputs": map[string]any{
			"prompt": "Hello world",
		},
	}
}

func TestParseProblemSpec_Valid(t *testing.T) {
	spec, err := ParseProblemSpec(validSpec())
	require.NoError(t, err)
	assert.Equal(t, "req-1", spec.ID)
	assert.Equal(t, "1.0.0", spec.Version)
	assert.Equal(t, "Hello world", spec.Inputs.Prompt)
	assert.Nil(t, spec.Settings)
}

func TestParseProblemSpec_RawPreserved(t *testing.T) {
	raw := validSpec()
	raw["custom_field"] = "kept"
	spec, err := ParseProblemSpec(raw)
	require.NoError(t, err)
	assert.Equal(t, "kept", spec.Raw()["custom_field"], "unknown fields survive in the raw view")
}

func TestParseProblemSpec_EmptyPrompt(t *testing.T) {
	raw := validSpec()
	raw["inputs"] = map[string]any{"prompt": "   "}
	_, err := ParseProblemSpec(raw)
	require.Error(t, err)
	assert.Equal(t, fault.CodeSchemaInvalid, fault.CodeOf(err))
}

func TestParseProblemSpec_MissingPrompt(t *testing.T) {
	raw := validSpec()
	raw["inputs"] = map[string]any{}
	_, err := ParseProblemSpec(raw)
	require.Error(t, err)
	assert.Equal(t, fault.CodeSchemaInvalid, fault.CodeOf(err))
}

func TestParseProblemSpec_EnumeratesAllViolations(t *testing.T) {
	raw := map[string]any{
		"version":    "not-semver",
		"id":         "",
		"created_at": "yesterday",
		"inputs":     map[string]any{"prompt": ""},
	}
	_, err := ParseProblemSpec(raw)
	require.Error(t, err)

	var fe *fault.Error
	require.ErrorAs(t, err, &fe)
	assert.GreaterOrEqual(t, len(fe.Violations), 4, "every violated rule is enumerated: %v", fe.Violations)
}

func TestParseProblemSpec_MajorVersionGate(t *testing.T) {
	raw := validSpec()
	raw["version"] = "2.0.0"
	_, err := ParseProblemSpec(raw)
	require.Error(t, err)
	assert.Equal(t, fault.CodeVersionUnsupported, fault.CodeOf(err))
}

func TestParseProblemSpec_HigherMinorAccepted(t *testing.T) {
	raw := validSpec()
	raw["version"] = "1.9.3"
	_, err := ParseProblemSpec(raw)
	assert.NoError(t, err)
}

func TestParseProblemSpec_EmptyConstraintRejected(t *testing.T) {
	raw := validSpec()
	raw["inputs"] = map[string]any{
		"prompt":      "ok",
		"constraints": []any{"fine", "  "},
	}
	_, err := ParseProblemSpec(raw)
	require.Error(t, err)
	assert.Equal(t, fault.CodeSchemaInvalid, fault.CodeOf(err))
}

func TestParseProblemSpec_BadOrchestrationFramework(t *testing.T) {
	raw := validSpec()
	raw["settings"] = map[string]any{"orchestration_framework": "langgraph"}
	_, err := ParseProblemSpec(raw)
	require.Error(t, err)
	assert.Equal(t, fault.CodeSchemaInvalid, fault.CodeOf(err))
}

func TestParseProblemSpec_SettingsParsed(t *testing.T) {
	raw := validSpec()
	raw["settings"] = map[string]any{
		"evidence_required": true,
		"max_steps":         int64(20),
		"policy_profile":    "default",
		"verification_paths": []any{
			map[string]any{"name": "facts"},
			map[string]any{"name": "logic", "evidence_required": false},
		},
	}
	spec, err := ParseProblemSpec(raw)
	require.NoError(t, err)
	require.NotNil(t, spec.Settings)
	require.NotNil(t, spec.Settings.EvidenceRequired)
	assert.True(t, *spec.Settings.EvidenceRequired)
	require.NotNil(t, spec.Settings.MaxSteps)
	assert.Equal(t, 20, *spec.Settings.MaxSteps)
	require.Len(t, spec.Settings.VerificationPaths, 2)
	assert.Equal(t, "facts", spec.Settings.VerificationPaths[0].Name)
}

func TestParseProblemSpec_Nil(t *testing.T) {
	_, err := ParseProblemSpec(nil)
	require.Error(t, err)
	assert.Equal(t, fault.CodeSchemaInvalid, fault.CodeOf(err))
}

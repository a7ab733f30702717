package step

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stepflow/internal/canon"
	"github.com/roach88/stepflow/internal/fault"
	"github.com/roach88/stepflow/internal/provider"
	"github.com/roach88/stepflow/internal/schema"
	"github.com/roach88/stepflow/internal/state"
)

// fakeClock hands out second-spaced timestamps deterministically.
type fakeClock struct {
	n int
}

func (c *fakeClock) Now() string {
	ts := fmt.Sprintf("2026-02-02T00:00:%02dZ", c.n)
	c.n++
	return ts
}

func specWith(t *testing.T, inputs, settings map[string]any) *schema.ProblemSpec {
	t.Helper()
	raw := map[string]any{
		"version":    "1.0.0",
		"id":         "req-1",
		"created_at": "2026-02-02T00:00:00Z",
		"inputs":     inputs,
	}
	if settings != nil {
		raw["settings"] = settings
	}
	spec, err := schema.ParseProblemSpec(raw)
	require.NoError(t, err)
	return spec
}

func stateFor(t *testing.T, inputs, settings map[string]any) *state.State {
	t.Helper()
	st := state.New(specWith(t, inputs, settings), "trace-1", "2026-02-02T00:00:00Z")
	st.Status = state.StatusRunning
	return st
}

func apply(t *testing.T, st *state.State, outcome *Outcome) *state.State {
	t.Helper()
	mgr := state.NewManager()
	next, err := mgr.Apply(st, outcome.Result, outcome.Artifact, "", outcome.Result.FinishedAt)
	require.NoError(t, err)
	return next
}

func TestNormalize_CollapsesWhitespace(t *testing.T) {
	steps := New(nil)
	st := stateFor(t, map[string]any{"prompt": "  Hello\t\tworld \n again  "}, nil)

	outcome, err := steps.Normalize(context.Background(), st, &fakeClock{})
	require.NoError(t, err)
	assert.Equal(t, schema.StepSuccess, outcome.Result.Status)

	artifact := outcome.Artifact.(Normalized)
	assert.Equal(t, "Hello world again", artifact.Prompt)
	assert.Equal(t, "2026-02-02T00:00:00Z", outcome.Result.StartedAt)
	assert.Equal(t, "2026-02-02T00:00:01Z", outcome.Result.FinishedAt)
}

func TestNormalize_FailsOnBlankPrompt(t *testing.T) {
	steps := New(nil)
	st := stateFor(t, map[string]any{"prompt": "x"}, nil)
	st.Problem["inputs"].(map[string]any)["prompt"] = "   "

	outcome, err := steps.Normalize(context.Background(), st, &fakeClock{})
	require.NoError(t, err)
	assert.Equal(t, schema.StepFailed, outcome.Result.Status)
	require.Len(t, outcome.Result.Errors, 1)
	assert.Equal(t, "invalid_prompt", outcome.Result.Errors[0].Code)
}

func TestNormalize_Deterministic(t *testing.T) {
	steps := New(nil)
	st := stateFor(t, map[string]any{"prompt": "Hello world"}, nil)

	o1, err := steps.Normalize(context.Background(), st, &fakeClock{})
	require.NoError(t, err)
	o2, err := steps.Normalize(context.Background(), st, &fakeClock{})
	require.NoError(t, err)
	assert.Equal(t, o1.Result.InputHash, o2.Result.InputHash)
	assert.Equal(t, o1.Result.OutputHash, o2.Result.OutputHash)
}

func TestDecompose_GoalsBecomeTasks(t *testing.T) {
	steps := New(nil)
	st := stateFor(t, map[string]any{
		"prompt": "Hello",
		"goals":  []any{"first", "second"},
	}, nil)

	outcome, err := steps.Decompose(context.Background(), st, &fakeClock{})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, outcome.Artifact.(Decomposition).Tasks)
}

func TestDecompose_FallsBackToNormalizedPrompt(t *testing.T) {
	steps := New(nil)
	st := stateFor(t, map[string]any{"prompt": "  Hello   world "}, nil)

	norm, err := steps.Normalize(context.Background(), st, &fakeClock{})
	require.NoError(t, err)
	st = apply(t, st, norm)

	outcome, err := steps.Decompose(context.Background(), st, &fakeClock{n: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello world"}, outcome.Artifact.(Decomposition).Tasks)
}

func TestAcquireEvidence_FromContext(t *testing.T) {
	steps := New(nil)
	st := stateFor(t, map[string]any{
		"prompt":  "Hello",
		"context": map[string]any{"evidence": []any{"doc-1", "doc-2"}},
	}, map[string]any{"evidence_required": true})

	outcome, err := steps.AcquireEvidence(context.Background(), st, &fakeClock{})
	require.NoError(t, err)
	artifact := outcome.Artifact.(Evidence)
	assert.Len(t, artifact.Items, 2)
	assert.True(t, artifact.EvidenceRequired)
	assert.False(t, artifact.ModelConsulted)
}

func TestAcquireEvidence_ModelConsultFoldsIntoInputHash(t *testing.T) {
	fixture := provider.NewFixture(map[string]string{
		"Summarize the evidence relevant to: Hello": "summary-a",
	})
	steps := New(fixture)
	st := stateFor(t, map[string]any{"prompt": "Hello"},
		map[string]any{"model_name": "fixture-model", "model_provider": "fixture"})

	outcome, err := steps.AcquireEvidence(context.Background(), st, &fakeClock{})
	require.NoError(t, err)

	artifact := outcome.Artifact.(Evidence)
	assert.True(t, artifact.ModelConsulted)
	assert.Equal(t, "summary-a", artifact.ModelSummary)
	assert.Equal(t, "summary-a", outcome.InputPayload["model_response"])
	require.NotNil(t, outcome.Result.Metrics)
	assert.Equal(t, int64(len("summary-a")), outcome.Result.Metrics.TokensOut)

	// Different oracle answer → different input hash.
	other := New(provider.NewFixture(map[string]string{
		"Summarize the evidence relevant to: Hello": "summary-b",
	}))
	outcome2, err := other.AcquireEvidence(context.Background(), st, &fakeClock{})
	require.NoError(t, err)
	assert.NotEqual(t, outcome.Result.InputHash, outcome2.Result.InputHash)
}

func TestAcquireEvidence_StructuredGeneration(t *testing.T) {
	fixture := provider.NewFixture(map[string]string{
		"Summarize the evidence relevant to: Hello": `{"summary":"two findings"}`,
	})
	steps := New(fixture)
	st := stateFor(t, map[string]any{"prompt": "Hello"},
		map[string]any{"model_name": "fixture-model", "structured_generation": true})

	outcome, err := steps.AcquireEvidence(context.Background(), st, &fakeClock{})
	require.NoError(t, err)
	assert.Equal(t, "two findings", outcome.Artifact.(Evidence).ModelSummary)
}

func TestAcquireEvidence_StructuredGenerationRejectsBadJSON(t *testing.T) {
	fixture := provider.NewFixture(map[string]string{
		"Summarize the evidence relevant to: Hello": "plain text, not JSON",
	})
	steps := New(fixture)
	st := stateFor(t, map[string]any{"prompt": "Hello"},
		map[string]any{"model_name": "fixture-model", "structured_generation": true})

	outcome, err := steps.AcquireEvidence(context.Background(), st, &fakeClock{})
	require.NoError(t, err)
	assert.Equal(t, schema.StepFailed, outcome.Result.Status)
	require.Len(t, outcome.Result.Errors, 1)
	assert.Equal(t, string(fault.CodeStructuredGeneration), outcome.Result.Errors[0].Code)
}

func TestAcquireEvidence_ProviderFailureFailsStep(t *testing.T) {
	steps := New(provider.NewFixture(nil))
	st := stateFor(t, map[string]any{"prompt": "Hello"},
		map[string]any{"model_name": "fixture-model"})

	outcome, err := steps.AcquireEvidence(context.Background(), st, &fakeClock{})
	require.NoError(t, err)
	assert.Equal(t, schema.StepFailed, outcome.Result.Status)
	require.Len(t, outcome.Result.Errors, 1)
	assert.Equal(t, string(fault.CodeCollaboratorTimeout), outcome.Result.Errors[0].Code)
}

func TestVerify_NoPathsSingleCheckSet(t *testing.T) {
	steps := New(nil)
	st := stateFor(t, map[string]any{"prompt": "Hello"}, nil)
	st.Artifacts["decomposition"] = Decomposition{Tasks: []string{"a"}}

	outcome, err := steps.Verify(context.Background(), st, &fakeClock{})
	require.NoError(t, err)
	v := outcome.Artifact.(Verification)
	assert.False(t, v.HasPaths)
	assert.True(t, v.Passed)
	assert.Equal(t, "passed", v.Status())
}

func TestVerify_PathsAggregate(t *testing.T) {
	steps := New(nil)
	st := stateFor(t, map[string]any{"prompt": "Hello"}, map[string]any{
		"verification_paths": []any{
			map[string]any{"name": "facts", "evidence_required": true},
			map[string]any{"name": "logic"},
		},
	})
	st.Artifacts["decomposition"] = Decomposition{Tasks: []string{"a"}}
	// No evidence artifact: the facts path (evidence required) fails.

	outcome, err := steps.Verify(context.Background(), st, &fakeClock{})
	require.NoError(t, err)
	v := outcome.Artifact.(Verification)
	require.Len(t, v.Paths, 2)
	assert.False(t, v.Paths[0].Passed)
	assert.True(t, v.Paths[1].Passed)
	assert.False(t, v.Passed, "aggregate passes only when all paths pass")

	encoded := v.CanonicalValue().(map[string]any)
	aggregate := encoded["aggregate"].(map[string]any)
	assert.Equal(t, int64(2), aggregate["total"])
	assert.Equal(t, int64(1), aggregate["failed_count"])
	assert.Equal(t, "failed", encoded["status"])
}

func TestVerify_ReadsLatestIterationArtifacts(t *testing.T) {
	steps := New(nil)
	st := stateFor(t, map[string]any{"prompt": "Hello"}, map[string]any{"evidence_required": true})
	st.Artifacts["decomposition"] = Decomposition{Tasks: []string{"a"}}
	st.Artifacts["evidence"] = Evidence{Items: []any{}}
	st.Artifacts["evidence.iter.2"] = Evidence{Items: []any{"found"}}

	outcome, err := steps.Verify(context.Background(), st, &fakeClock{})
	require.NoError(t, err)
	assert.True(t, outcome.Artifact.(Verification).Passed,
		"verify must see the newest iteration's evidence")
}

func TestComputeAndSynthesize(t *testing.T) {
	steps := New(nil)
	st := stateFor(t, map[string]any{"prompt": "Hello"}, nil)
	st.Artifacts["decomposition"] = Decomposition{Tasks: []string{"a", "b", "c"}}

	computeOutcome, err := steps.Compute(context.Background(), st, &fakeClock{})
	require.NoError(t, err)
	assert.Equal(t, 3, computeOutcome.Artifact.(Computation).TaskCount)

	st.Artifacts["computation"] = computeOutcome.Artifact.(Computation)
	synthOutcome, err := steps.Synthesize(context.Background(), st, &fakeClock{n: 2})
	require.NoError(t, err)
	assert.Equal(t, "Processed 3 task(s).", synthOutcome.Artifact.(Synthesis).Summary)
}

func TestAudit_Report(t *testing.T) {
	steps := New(nil)
	st := stateFor(t, map[string]any{
		"prompt": "Hello",
		"goals":  []any{"g1"},
	}, nil)
	st.Artifacts["decomposition"] = Decomposition{Tasks: []string{"a"}}
	st.Artifacts["verification"] = Verification{HasPaths: false, Passed: true, BaseChecks: Checks{TasksPresent: true, TaskCount: 1}}

	outcome, err := steps.Audit(context.Background(), st, &fakeClock{})
	require.NoError(t, err)

	report := outcome.Artifact.CanonicalValue().(map[string]any)
	inputs := report["inputs"].(map[string]any)
	assert.Equal(t, "Hello", inputs["prompt"])
	assert.Equal(t, int64(1), inputs["goal_count"])
	assert.Equal(t, "passed", report["verification"])
	assert.Equal(t, "ok", report["status"])
	assert.ElementsMatch(t, []any{"decomposition", "verification"}, report["steps"].([]any))
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry(New(nil))

	assert.True(t, registry.Has(NameNormalize))
	assert.False(t, registry.Has("Imagine"))

	_, err := registry.Lookup("Imagine")
	require.Error(t, err)
	assert.Equal(t, fault.CodeStepUnknown, fault.CodeOf(err))

	assert.Len(t, registry.Names(), 7)
}

func TestOutcome_HashesMatchPayloads(t *testing.T) {
	steps := New(nil)
	st := stateFor(t, map[string]any{"prompt": "Hello world"}, nil)

	outcome, err := steps.Normalize(context.Background(), st, &fakeClock{})
	require.NoError(t, err)

	inputHash, err := canon.Hash(outcome.InputPayload)
	require.NoError(t, err)
	assert.Equal(t, outcome.Result.InputHash, inputHash)

	outputHash, err := canon.Hash(outcome.Result.Output)
	require.NoError(t, err)
	assert.Equal(t, outcome.Result.OutputHash, outputHash)
}

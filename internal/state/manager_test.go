package state

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stepflow/internal/fault"
	"github.com/roach88/stepflow/internal/schema"
)

var hash64 = strings.Repeat("cd", 32)

func successResult(stepName string) *schema.StepResult {
	return &schema.StepResult{
		Version:    schema.ResultVersion,
		Step:       stepName,
		Status:     schema.StepSuccess,
		InputHash:  hash64,
		OutputHash: hash64,
		StartedAt:  "2026-02-02T00:00:01Z",
		FinishedAt: "2026-02-02T00:00:02Z",
		Output:     map[string]any{"ok": true},
	}
}

func runningState(t *testing.T) *State {
	t.Helper()
	mgr := NewManager()
	st := New(testSpec(t), "trace-1", "2026-02-02T00:00:00Z")
	st, err := mgr.MarkRunning(st, "2026-02-02T00:00:01Z")
	require.NoError(t, err)
	return st
}

func TestApply_Success(t *testing.T) {
	mgr := NewManager()
	st := runningState(t)

	next, err := mgr.Apply(st, successResult("Normalize"),
		fakeArtifact{"normalized", map[string]any{"normalized_prompt": "hi"}}, "", "2026-02-02T00:00:03Z")
	require.NoError(t, err)

	assert.Equal(t, 1, next.StepIndex)
	assert.Equal(t, StatusRunning, next.Status)
	assert.Contains(t, next.Artifacts, "normalized")
	assert.Equal(t, "2026-02-02T00:00:03Z", next.Metadata.UpdatedAt)

	// prev untouched
	assert.Equal(t, 0, st.StepIndex)
	assert.NotContains(t, st.Artifacts, "normalized")
}

func TestApply_ArtifactOverwriteRefused(t *testing.T) {
	mgr := NewManager()
	st := runningState(t)

	next, err := mgr.Apply(st, successResult("Normalize"),
		fakeArtifact{"normalized", map[string]any{}}, "", "2026-02-02T00:00:03Z")
	require.NoError(t, err)

	_, err = mgr.Apply(next, successResult("Normalize"),
		fakeArtifact{"normalized", map[string]any{}}, "", "2026-02-02T00:00:04Z")
	require.Error(t, err)
	assert.Equal(t, fault.CodeArtifactOverwrite, fault.CodeOf(err))

	// failed apply left state unchanged
	assert.Len(t, next.Artifacts, 1)
	assert.Equal(t, 1, next.StepIndex)
}

func TestApply_IterationTaggedKeyAvoidsOverwrite(t *testing.T) {
	mgr := NewManager()
	st := runningState(t)

	next, err := mgr.Apply(st, successResult("Verify"),
		fakeArtifact{"verification", map[string]any{}}, IterationKey("verification", 1), "2026-02-02T00:00:03Z")
	require.NoError(t, err)

	next, err = mgr.Apply(next, successResult("Verify"),
		fakeArtifact{"verification", map[string]any{}}, IterationKey("verification", 2), "2026-02-02T00:00:04Z")
	require.NoError(t, err)

	assert.Contains(t, next.Artifacts, "verification")
	assert.Contains(t, next.Artifacts, "verification.iter.2")
	assert.Equal(t, 2, next.StepIndex)
}

func TestApply_Failed(t *testing.T) {
	mgr := NewManager()
	st := runningState(t)

	result := successResult("Compute")
	result.Status = schema.StepFailed
	result.Output = nil
	result.Errors = []schema.StepError{{Code: "boom", Message: "bad"}}

	next, err := mgr.Apply(st, result, nil, "", "2026-02-02T00:00:03Z")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, next.Status)
	assert.Equal(t, 0, next.StepIndex, "failed results do not advance step_index")
	require.Len(t, next.Errors, 1)
	assert.Equal(t, "boom", next.Errors[0].Code)
	assert.Equal(t, "Compute", next.Errors[0].Step, "step name backfilled onto error entries")
}

func TestApply_Skipped(t *testing.T) {
	mgr := NewManager()
	st := runningState(t)

	result := successResult("Compute")
	result.Status = schema.StepSkipped
	result.Output = nil

	next, err := mgr.Apply(st, result, nil, "", "2026-02-02T00:00:03Z")
	require.NoError(t, err)
	assert.Equal(t, 1, next.StepIndex)
	assert.Empty(t, next.Artifacts)
}

func TestApply_TerminalStateFrozen(t *testing.T) {
	mgr := NewManager()
	st := runningState(t)

	failed, err := mgr.Fail(st, []ErrorEntry{{Code: "x", Message: "y"}}, "2026-02-02T00:00:03Z")
	require.NoError(t, err)

	_, err = mgr.Apply(failed, successResult("Compute"),
		fakeArtifact{"computation", map[string]any{}}, "", "2026-02-02T00:00:04Z")
	require.Error(t, err)
	assert.Equal(t, fault.CodeStateInvariant, fault.CodeOf(err))
}

func TestApply_UpdatedAtMustAdvance(t *testing.T) {
	mgr := NewManager()
	st := runningState(t)

	_, err := mgr.Apply(st, successResult("Normalize"),
		fakeArtifact{"normalized", map[string]any{}}, "", st.Metadata.UpdatedAt)
	require.Error(t, err)
	assert.Equal(t, fault.CodeStateInvariant, fault.CodeOf(err))
}

func TestTransitions(t *testing.T) {
	mgr := NewManager()
	st := New(testSpec(t), "trace-1", "2026-02-02T00:00:00Z")

	_, err := mgr.Complete(st, "2026-02-02T00:00:01Z")
	require.Error(t, err, "pending cannot complete directly")

	running, err := mgr.MarkRunning(st, "2026-02-02T00:00:01Z")
	require.NoError(t, err)

	_, err = mgr.MarkRunning(running, "2026-02-02T00:00:02Z")
	require.Error(t, err, "running cannot re-enter running")

	done, err := mgr.Complete(running, "2026-02-02T00:00:02Z")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)

	_, err = mgr.Fail(done, []ErrorEntry{{Code: "x", Message: "y"}}, "2026-02-02T00:00:03Z")
	require.Error(t, err, "completed is terminal")
}

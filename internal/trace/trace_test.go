package trace

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stepflow/internal/fault"
)

var stateHash = strings.Repeat("ef", 32)

func testHeader(t *testing.T) Record {
	t.Helper()
	header, err := NewHeader("trace-1", "2026-02-02T00:00:00Z", "0.1.0",
		map[string]any{"id": "req-1"}, map[string]any{"status": "running"})
	require.NoError(t, err)
	return header
}

func testStep(t *testing.T, index int64, prevHash string) Record {
	t.Helper()
	result := map[string]any{
		"step":        "Normalize",
		"status":      "success",
		"started_at":  "2026-02-02T00:00:01Z",
		"finished_at": "2026-02-02T00:00:02Z",
	}
	record, err := NewStep(index, 0, result, stateHash, stateHash, prevHash)
	require.NoError(t, err)
	return record
}

func TestNewHeader_Fields(t *testing.T) {
	header := testHeader(t)
	assert.Equal(t, KindHeader, header.Kind())
	assert.Equal(t, int64(0), header.Index())
	assert.Equal(t, "sha256", header["hash_algorithm"])
	assert.Equal(t, "json-c14n-v1", header["canonicalization"])
	assert.Len(t, header.Hash(), 64)
	assert.Empty(t, header.PrevHash())
	assert.Regexp(t, "^[0-9a-f]{64}$", header["problem_spec_hash"])
	assert.Regexp(t, "^[0-9a-f]{64}$", header["initial_state_hash"])
}

func TestComputeHash_ExcludesRecordHash(t *testing.T) {
	header := testHeader(t)
	computed, err := ComputeHash(header)
	require.NoError(t, err)
	assert.Equal(t, header.Hash(), computed, "stored hash equals the record-without-hash projection")
}

func TestWriter_ChainsRecords(t *testing.T) {
	w := NewWriter()
	header := testHeader(t)
	require.NoError(t, w.Append(header))

	step1 := testStep(t, 1, header.Hash())
	require.NoError(t, w.Append(step1))

	step2 := testStep(t, 2, step1.Hash())
	require.NoError(t, w.Append(step2))

	assert.Equal(t, int64(3), w.NextIndex())
	assert.Equal(t, step2.Hash(), w.Head())
}

func TestWriter_RejectsBrokenPrevHash(t *testing.T) {
	w := NewWriter()
	header := testHeader(t)
	require.NoError(t, w.Append(header))

	bad := testStep(t, 1, strings.Repeat("00", 32))
	err := w.Append(bad)
	require.Error(t, err)
	assert.Equal(t, fault.CodeTraceChainBroken, fault.CodeOf(err))
}

func TestWriter_RejectsNonMonotonicIndex(t *testing.T) {
	w := NewWriter()
	header := testHeader(t)
	require.NoError(t, w.Append(header))

	skipped := testStep(t, 5, header.Hash())
	err := w.Append(skipped)
	require.Error(t, err)
	assert.Equal(t, fault.CodeTraceChainBroken, fault.CodeOf(err))
}

func TestWriter_RejectsTamperedRecordHash(t *testing.T) {
	w := NewWriter()
	header := testHeader(t)
	require.NoError(t, w.Append(header))

	tampered := testStep(t, 1, header.Hash())
	tampered["record_hash"] = strings.Repeat("00", 32)
	err := w.Append(tampered)
	require.Error(t, err)
	assert.Equal(t, fault.CodeHashMismatch, fault.CodeOf(err))
}

func TestWriter_NDJSONShape(t *testing.T) {
	w := NewWriter()
	header := testHeader(t)
	require.NoError(t, w.Append(header))
	require.NoError(t, w.Append(testStep(t, 1, header.Hash())))

	data := w.Bytes()
	require.NotEmpty(t, data)
	assert.Equal(t, byte('\n'), data[len(data)-1], "LF terminated")

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.NotEmpty(t, line, "no blank lines")
		assert.False(t, strings.HasSuffix(line, " "), "no trailing whitespace")
		assert.True(t, strings.HasPrefix(line, "{"))
	}
}

func TestParseAndVerifyBytes_RoundTrip(t *testing.T) {
	w := NewWriter()
	header := testHeader(t)
	require.NoError(t, w.Append(header))
	step1 := testStep(t, 1, header.Hash())
	require.NoError(t, w.Append(step1))

	records, err := VerifyBytes(w.Bytes())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, header.Hash(), records[0].Hash())
}

func TestVerifyChain_DetectsTamperedOutput(t *testing.T) {
	w := NewWriter()
	header := testHeader(t)
	require.NoError(t, w.Append(header))
	require.NoError(t, w.Append(testStep(t, 1, header.Hash())))

	// Flip one byte inside the step record's result.
	data := string(w.Bytes())
	tampered := strings.Replace(data, `"status":"success"`, `"status":"suCcess"`, 1)
	require.NotEqual(t, data, tampered)

	_, err := VerifyBytes([]byte(tampered))
	require.Error(t, err)
	assert.Equal(t, fault.CodeHashMismatch, fault.CodeOf(err))
}

func TestVerifyChain_DetectsBrokenLink(t *testing.T) {
	header := testHeader(t)
	// Build a second record that self-hashes correctly but links to the
	// wrong predecessor.
	orphan := testStep(t, 1, strings.Repeat("11", 32))

	err := VerifyChain([]Record{header, orphan})
	require.Error(t, err)
	assert.Equal(t, fault.CodeTraceChainBroken, fault.CodeOf(err))
}

func TestVerifyChain_RequiresHeaderFirst(t *testing.T) {
	header := testHeader(t)
	step1 := testStep(t, 0, "")

	err := VerifyChain([]Record{step1})
	require.Error(t, err)
	assert.Equal(t, fault.CodeTraceChainBroken, fault.CodeOf(err))

	require.NoError(t, VerifyChain([]Record{header}))
}

func TestNewControl_Fields(t *testing.T) {
	header := testHeader(t)
	control, err := NewControl(1, ActionRepeat, 1, "AcquireEvidence", "Verify",
		StopCondition{Path: "artifacts.verification.status", Operator: "equals", Value: "passed"},
		stateHash, header.Hash())
	require.NoError(t, err)

	assert.Equal(t, KindControl, control.Kind())
	assert.Equal(t, "loop", control["control_type"])
	assert.Equal(t, ActionRepeat, control["action"])
	assert.Equal(t, int64(1), control["loop_iteration"])
	stop := control["stop_condition"].(map[string]any)
	assert.Equal(t, "artifacts.verification.status", stop["path"])
}

func TestAggregate_Metrics(t *testing.T) {
	w := NewWriter()
	header := testHeader(t)
	require.NoError(t, w.Append(header))
	step1 := testStep(t, 1, header.Hash())
	require.NoError(t, w.Append(step1))
	control, err := NewControl(2, ActionStop, 1, "AcquireEvidence", "Verify",
		StopCondition{Path: "artifacts.verification.status", Operator: "equals", Value: "passed"},
		stateHash, step1.Hash())
	require.NoError(t, err)
	require.NoError(t, w.Append(control))

	m := Aggregate(w.Records())
	assert.Equal(t, 1, m.StepsTotal)
	assert.Equal(t, 1, m.ControlsTotal)
	assert.Equal(t, 1, m.StepCounts["Normalize"])
	assert.Equal(t, 1, m.StepStatusCounts["success"])
	assert.Equal(t, 1, m.ControlActionCounts[ActionStop])
	assert.Equal(t, int64(1000), m.TotalStepDurationMS)
	assert.Equal(t, int64(1000), m.TraceDurationMS)
}

// Package trace implements the append-only, hash-chained execution trace.
//
// A trace is an ordered sequence of records: one header, then step and
// control records in monotonic index order. Each record's record_hash is
// the SHA-256 of its canonical JSON with the record_hash field omitted, and
// each non-header record's prev_hash equals the prior record_hash. The
// NDJSON byte representation is reproducible from the inputs alone.
package trace

import (
	"github.com/roach88/stepflow/internal/canon"
)

// Version is the trace format version stamped into headers.
const Version = "1.0.0"

// Record kinds.
const (
	KindHeader  = "header"
	KindStep    = "step"
	KindControl = "control"
)

// Loop control actions.
const (
	ActionRepeat        = "repeat"
	ActionStop          = "stop"
	ActionMaxIterations = "max_iterations_reached"
)

// Record is one trace record in its canonical map shape.
type Record map[string]any

// Kind returns the record kind.
func (r Record) Kind() string {
	kind, _ := r["type"].(string)
	return kind
}

// Index returns the record index.
func (r Record) Index() int64 {
	switch v := r["index"].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	}
	return -1
}

// Hash returns the stored record_hash.
func (r Record) Hash() string {
	h, _ := r["record_hash"].(string)
	return h
}

// PrevHash returns the stored prev_hash, empty on headers.
func (r Record) PrevHash() string {
	h, _ := r["prev_hash"].(string)
	return h
}

// ComputeHash hashes the record with record_hash omitted. The projection is
// built as a fresh value; no string surgery on encoded output.
func ComputeHash(r Record) (string, error) {
	stripped := make(map[string]any, len(r))
	for k, v := range r {
		if k == "record_hash" {
			continue
		}
		stripped[k] = v
	}
	return canon.Hash(stripped)
}

func finalize(rec map[string]any) (Record, error) {
	h, err := ComputeHash(rec)
	if err != nil {
		return nil, err
	}
	rec["record_hash"] = h
	return rec, nil
}

// NewHeader builds the index-0 header record committing to the problem spec
// and initial state.
func NewHeader(traceID, createdAt, engineVersion string, problemSpec, initialState any) (Record, error) {
	problemHash, err := canon.Hash(problemSpec)
	if err != nil {
		return nil, err
	}
	stateHash, err := canon.Hash(initialState)
	if err != nil {
		return nil, err
	}
	return finalize(map[string]any{
		"type":               KindHeader,
		"index":              int64(0),
		"version":            Version,
		"trace_id":           traceID,
		"created_at":         createdAt,
		"engine_version":     engineVersion,
		"hash_algorithm":     "sha256",
		"canonicalization":   "json-c14n-v1",
		"problem_spec_hash":  problemHash,
		"initial_state_hash": stateHash,
	})
}

// NewStep builds a step record. result must be the canonical projection of
// a validated StepResult.
func NewStep(index int64, stepIndex int, result any, stateBeforeHash, stateAfterHash, prevHash string) (Record, error) {
	return finalize(map[string]any{
		"type":              KindStep,
		"index":             index,
		"step_index":        int64(stepIndex),
		"result":            result,
		"state_before_hash": stateBeforeHash,
		"state_after_hash":  stateAfterHash,
		"prev_hash":         prevHash,
	})
}

// StopCondition is the stop-condition projection embedded in control
// records.
type StopCondition struct {
	Path     string
	Operator string
	Value    any
}

// NewControl builds a loop control record.
func NewControl(index int64, action string, loopIteration int, startStep, endStep string, stop StopCondition, stateHash, prevHash string) (Record, error) {
	return finalize(map[string]any{
		"type":           KindControl,
		"index":          index,
		"control_type":   "loop",
		"action":         action,
		"loop_iteration": int64(loopIteration),
		"start_step":     startStep,
		"end_step":       endStep,
		"stop_condition": map[string]any{
			"path":     stop.Path,
			"operator": stop.Operator,
			"value":    stop.Value,
		},
		"state_hash": stateHash,
		"prev_hash":  prevHash,
	})
}

// Package state owns the ReasoningState value and the rules for mutating it.
//
// A single live State exists per run, owned by the engine runner. Steps
// receive deep copies; every mutation flows through Manager.Apply against a
// validated StepResult. Artifacts are append-only: a key, once written, is
// never overwritten, and loop iterations land under iteration-tagged keys.
package state

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/stepflow/internal/fault"
	"github.com/roach88/stepflow/internal/schema"
)

// Version is the ReasoningState schema version.
const Version = "1.0.0"

// Status values for a ReasoningState. Transitions are
// pending → running → {completed | failed}; failed and completed are
// terminal.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusFailed    = "failed"
	StatusCompleted = "completed"
)

// Artifact is the capability shared by every step's typed output record.
// Implementations must be immutable value types: State copies share them.
type Artifact interface {
	// Key is the canonical short name the artifact is stored under
	// (before any iteration tagging).
	Key() string

	// CanonicalValue projects the artifact for canonical encoding.
	CanonicalValue() any
}

// ErrorEntry is one append-only failure record on the state.
type ErrorEntry struct {
	Code    string
	Message string
	Step    string
}

// Metadata carries run bookkeeping. UpdatedAt strictly advances on every
// mutation.
type Metadata struct {
	TraceID       string
	PolicyProfile string
	ModelProfile  string
	CreatedAt     string
	UpdatedAt     string
}

// State is the ReasoningState. Fields are exported for read access; all
// writes go through Manager.
type State struct {
	Version     string
	Problem     map[string]any
	StepIndex   int
	Status      string
	Artifacts   map[string]Artifact
	Assumptions []string
	Constraints []string
	Errors      []ErrorEntry
	Metadata    Metadata
}

// New builds the initial state for a validated problem spec.
// Status starts pending with step_index 0; constraints seed from
// inputs.constraints; metadata.created_at copies the spec's created_at.
func New(spec *schema.ProblemSpec, traceID, now string) *State {
	settings := spec.Settings
	meta := Metadata{
		TraceID:   traceID,
		CreatedAt: spec.CreatedAt,
		UpdatedAt: now,
	}
	if settings != nil {
		meta.PolicyProfile = settings.PolicyProfile
		meta.ModelProfile = settings.ModelProfile
	}
	return &State{
		Version:     Version,
		Problem:     copyMap(spec.Raw()),
		StepIndex:   0,
		Status:      StatusPending,
		Artifacts:   map[string]Artifact{},
		Assumptions: []string{},
		Constraints: append([]string{}, spec.Inputs.Constraints...),
		Errors:      []ErrorEntry{},
		Metadata:    meta,
	}
}

// Clone returns a deep copy safe to hand to a step function.
// Artifacts are shared (they are immutable by contract); the problem
// mapping and slices are copied.
func (s *State) Clone() *State {
	artifacts := make(map[string]Artifact, len(s.Artifacts))
	for k, v := range s.Artifacts {
		artifacts[k] = v
	}
	clone := *s
	clone.Problem = copyMap(s.Problem)
	clone.Artifacts = artifacts
	clone.Assumptions = append([]string{}, s.Assumptions...)
	clone.Constraints = append([]string{}, s.Constraints...)
	clone.Errors = append([]ErrorEntry{}, s.Errors...)
	return &clone
}

// Terminal reports whether the status admits no further mutation.
func (s *State) Terminal() bool {
	return s.Status == StatusFailed || s.Status == StatusCompleted
}

// Artifact returns the artifact stored under the exact key.
func (s *State) Artifact(key string) (Artifact, bool) {
	a, ok := s.Artifacts[key]
	return a, ok
}

// LatestArtifact resolves the newest value for a base artifact name,
// preferring the highest iteration-tagged key (<name>.iter.<n>) and falling
// back to the plain key. Loop re-executions append rather than overwrite, so
// readers go through here.
func (s *State) LatestArtifact(name string) (Artifact, bool) {
	best := -1
	var found Artifact
	prefix := name + ".iter."
	for key, a := range s.Artifacts {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		n, err := strconv.Atoi(key[len(prefix):])
		if err != nil || n <= best {
			continue
		}
		best = n
		found = a
	}
	if best >= 0 {
		return found, true
	}
	a, ok := s.Artifacts[name]
	return a, ok
}

// IterationKey composes the append-only key for a loop re-execution.
// The first pass uses the plain name; passes ≥ 2 are tagged.
func IterationKey(name string, iteration int) string {
	if iteration <= 1 {
		return name
	}
	return fmt.Sprintf("%s.iter.%d", name, iteration)
}

// CanonicalValue projects the full state for canonical encoding and
// hashing. Optional metadata fields encode as null when unset, keeping the
// byte representation stable whether or not profiles were supplied.
func (s *State) CanonicalValue() any {
	artifacts := make(map[string]any, len(s.Artifacts))
	for key, a := range s.Artifacts {
		artifacts[key] = a.CanonicalValue()
	}
	errs := make([]any, 0, len(s.Errors))
	for _, e := range s.Errors {
		entry := map[string]any{"code": e.Code, "message": e.Message}
		if e.Step != "" {
			entry["step"] = e.Step
		}
		errs = append(errs, entry)
	}
	meta := map[string]any{
		"trace_id":       s.Metadata.TraceID,
		"policy_profile": nullable(s.Metadata.PolicyProfile),
		"model_profile":  nullable(s.Metadata.ModelProfile),
		"created_at":     s.Metadata.CreatedAt,
		"updated_at":     s.Metadata.UpdatedAt,
	}
	return map[string]any{
		"version":     s.Version,
		"problem":     s.Problem,
		"step_index":  int64(s.StepIndex),
		"status":      s.Status,
		"artifacts":   artifacts,
		"assumptions": toAnySlice(s.Assumptions),
		"constraints": toAnySlice(s.Constraints),
		"errors":      errs,
		"metadata":    meta,
	}
}

// ArtifactKeys returns the stored keys in sorted order.
func (s *State) ArtifactKeys() []string {
	keys := make([]string, 0, len(s.Artifacts))
	for k := range s.Artifacts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func copyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return copyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = copyValue(elem)
		}
		return out
	default:
		return val
	}
}

// ValidateInvariants checks the structural invariants every state must
// satisfy. Violations return state_invariant_violation.
func ValidateInvariants(s *State) error {
	if s == nil {
		return fault.New(fault.CodeStateInvariant, "state must not be nil")
	}
	if s.StepIndex < 0 {
		return fault.New(fault.CodeStateInvariant, "step_index %d is negative", s.StepIndex)
	}
	switch s.Status {
	case StatusPending, StatusRunning, StatusFailed, StatusCompleted:
	default:
		return fault.New(fault.CodeStateInvariant, "unknown status %q", s.Status)
	}
	if s.Status != StatusPending && s.Metadata.TraceID == "" {
		return fault.New(fault.CodeStateInvariant, "metadata.trace_id is required once running")
	}
	for i, e := range s.Errors {
		if e.Code == "" || e.Message == "" {
			return fault.New(fault.CodeStateInvariant, "errors[%d] requires code and message", i)
		}
	}
	return nil
}

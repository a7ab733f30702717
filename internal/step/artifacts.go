package step

// Typed artifact variants, one per step. Each is an immutable value type
// implementing state.Artifact: construction fixes its content, and
// CanonicalValue is the exact object committed to by the step's output hash.

// Normalized is the Normalize artifact.
type Normalized struct {
	Prompt string
}

// Key implements state.Artifact.
func (Normalized) Key() string { return "normalized" }

// CanonicalValue implements state.Artifact.
func (a Normalized) CanonicalValue() any {
	return map[string]any{"normalized_prompt": a.Prompt}
}

// Decomposition is the Decompose artifact.
type Decomposition struct {
	Tasks []string
}

// Key implements state.Artifact.
func (Decomposition) Key() string { return "decomposition" }

// CanonicalValue implements state.Artifact.
func (a Decomposition) CanonicalValue() any {
	tasks := make([]any, len(a.Tasks))
	for i, t := range a.Tasks {
		tasks[i] = t
	}
	return map[string]any{"tasks": tasks}
}

// Evidence is the AcquireEvidence artifact.
type Evidence struct {
	Items            []any
	EvidenceRequired bool
	ModelSummary     string
	ModelConsulted   bool
}

// Key implements state.Artifact.
func (Evidence) Key() string { return "evidence" }

// CanonicalValue implements state.Artifact.
func (a Evidence) CanonicalValue() any {
	items := a.Items
	if items == nil {
		items = []any{}
	}
	out := map[string]any{
		"evidence":          items,
		"evidence_required": a.EvidenceRequired,
		"evidence_count":    int64(len(items)),
	}
	if a.ModelConsulted {
		out["model_summary"] = a.ModelSummary
	}
	return out
}

// Computation is the Compute artifact.
type Computation struct {
	TaskCount int
}

// Key implements state.Artifact.
func (Computation) Key() string { return "computation" }

// CanonicalValue implements state.Artifact.
func (a Computation) CanonicalValue() any {
	return map[string]any{"task_count": int64(a.TaskCount), "status": "ok"}
}

// PathOutcome is one verification path's result.
type PathOutcome struct {
	Name   string
	Checks Checks
	Passed bool
}

// Checks is the deterministic check set evaluated per verification path.
type Checks struct {
	TasksPresent     bool
	TaskCount        int
	EvidencePresent  bool
	EvidenceRequired bool
}

func (c Checks) canonical() map[string]any {
	return map[string]any{
		"tasks_present":     c.TasksPresent,
		"task_count":        int64(c.TaskCount),
		"evidence_present":  c.EvidencePresent,
		"evidence_required": c.EvidenceRequired,
	}
}

// Verification is the Verify artifact. When no verification paths are
// configured it carries a single check set; otherwise per-path outcomes
// plus the aggregate.
type Verification struct {
	Paths      []PathOutcome
	HasPaths   bool
	BaseChecks Checks
	Passed     bool
}

// Key implements state.Artifact.
func (Verification) Key() string { return "verification" }

// Status returns "passed" or "failed".
func (a Verification) Status() string {
	if a.Passed {
		return "passed"
	}
	return "failed"
}

// CanonicalValue implements state.Artifact.
func (a Verification) CanonicalValue() any {
	if !a.HasPaths {
		return map[string]any{
			"checks": a.BaseChecks.canonical(),
			"status": a.Status(),
		}
	}
	paths := make([]any, len(a.Paths))
	failed := 0
	for i, p := range a.Paths {
		status := "failed"
		if p.Passed {
			status = "passed"
		} else {
			failed++
		}
		paths[i] = map[string]any{
			"name":   p.Name,
			"checks": p.Checks.canonical(),
			"status": status,
		}
	}
	return map[string]any{
		"paths": paths,
		"aggregate": map[string]any{
			"status":       a.Status(),
			"total":        int64(len(a.Paths)),
			"failed_count": int64(failed),
		},
		"status": a.Status(),
	}
}

// Synthesis is the Synthesize artifact.
type Synthesis struct {
	Summary string
}

// Key implements state.Artifact.
func (Synthesis) Key() string { return "synthesis" }

// CanonicalValue implements state.Artifact.
func (a Synthesis) CanonicalValue() any {
	return map[string]any{"summary": a.Summary}
}

// Audit is the Audit artifact: a structured report over the whole run.
type Audit struct {
	Prompt             string
	GoalCount          int
	ConstraintCount    int
	ArtifactKeys       []string
	VerificationStatus string // empty when Verify has not run
	CreatedAt          string
	UpdatedAt          string
}

// Key implements state.Artifact.
func (Audit) Key() string { return "audit" }

// CanonicalValue implements state.Artifact.
func (a Audit) CanonicalValue() any {
	keys := make([]any, len(a.ArtifactKeys))
	for i, k := range a.ArtifactKeys {
		keys[i] = k
	}
	var verification any
	if a.VerificationStatus != "" {
		verification = a.VerificationStatus
	}
	return map[string]any{
		"inputs": map[string]any{
			"prompt":           a.Prompt,
			"goal_count":       int64(a.GoalCount),
			"constraint_count": int64(a.ConstraintCount),
		},
		"steps":        keys,
		"verification": verification,
		"timestamps": map[string]any{
			"created_at": a.CreatedAt,
			"updated_at": a.UpdatedAt,
		},
		"status": "ok",
	}
}

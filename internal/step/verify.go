package step

import (
	"context"
	"strings"

	"github.com/roach88/stepflow/internal/state"
)

// Verify evaluates the configured verification paths against the latest
// artifacts. Each path re-evaluates the deterministic check set with its
// own evidence requirement; the aggregate passes iff every path passes.
// Without configured paths a single check set is evaluated.
func (st *Steps) Verify(_ context.Context, s *state.State, clk Clock) (*Outcome, error) {
	started := clk.Now()
	finished := clk.Now()

	var tasks []string
	if a, ok := s.LatestArtifact("decomposition"); ok {
		if d, ok := a.(Decomposition); ok {
			tasks = d.Tasks
		}
	}

	evidenceCount := 0
	if a, ok := s.LatestArtifact("evidence"); ok {
		if e, ok := a.(Evidence); ok {
			evidenceCount = len(e.Items)
		}
	}

	settings := problemSettings(s)
	requiredDefault := boolSetting(settings, "evidence_required", false)
	base := Checks{
		TasksPresent:    len(tasks) > 0,
		TaskCount:       len(tasks),
		EvidencePresent: evidenceCount > 0,
	}

	input := map[string]any{"tasks": toAny(tasks)}

	rawPaths, _ := settings["verification_paths"].([]any)
	if len(rawPaths) == 0 {
		checks := base
		checks.EvidenceRequired = requiredDefault
		artifact := Verification{
			HasPaths:   false,
			BaseChecks: checks,
			Passed:     passes(checks),
		}
		return success(NameVerify, started, finished, input, artifact, nil)
	}

	outcomes := make([]PathOutcome, 0, len(rawPaths))
	allPassed := true
	for _, raw := range rawPaths {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := entry["name"].(string)
		if strings.TrimSpace(name) == "" {
			continue
		}
		required := requiredDefault
		if b, ok := entry["evidence_required"].(bool); ok {
			required = b
		}
		checks := base
		checks.EvidenceRequired = required
		passed := passes(checks)
		if !passed {
			allPassed = false
		}
		outcomes = append(outcomes, PathOutcome{Name: name, Checks: checks, Passed: passed})
	}

	artifact := Verification{
		HasPaths: true,
		Paths:    outcomes,
		Passed:   allPassed,
	}
	return success(NameVerify, started, finished, input, artifact, nil)
}

// passes is the per-path pass rule: tasks must exist, and evidence must
// exist when the path requires it.
func passes(c Checks) bool {
	return c.TasksPresent && (!c.EvidenceRequired || c.EvidencePresent)
}

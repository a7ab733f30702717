package step

import (
	"context"
	"strings"

	"github.com/roach88/stepflow/internal/state"
)

// Decompose derives a deterministic task list from the goals, falling back
// to the normalized prompt, then to the raw prompt.
func (st *Steps) Decompose(_ context.Context, s *state.State, clk Clock) (*Outcome, error) {
	started := clk.Now()
	finished := clk.Now()

	inputs := problemInputs(s)
	goals := stringsOf(inputs["goals"])

	basePrompt, _ := inputs["prompt"].(string)
	if a, ok := s.LatestArtifact("normalized"); ok {
		if n, ok := a.(Normalized); ok {
			basePrompt = n.Prompt
		}
	}

	tasks := make([]string, 0, len(goals))
	for _, goal := range goals {
		if strings.TrimSpace(goal) != "" {
			tasks = append(tasks, goal)
		}
	}
	if len(tasks) == 0 {
		if strings.TrimSpace(basePrompt) != "" {
			tasks = []string{basePrompt}
		} else {
			tasks = []string{"unspecified task"}
		}
	}

	input := map[string]any{
		"goals":  toAny(goals),
		"prompt": basePrompt,
	}
	return success(NameDecompose, started, finished, input, Decomposition{Tasks: tasks}, nil)
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

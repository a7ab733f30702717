package step

import (
	"context"
	"regexp"
	"strings"

	"github.com/roach88/stepflow/internal/schema"
	"github.com/roach88/stepflow/internal/state"
)

var whitespaceRE = regexp.MustCompile(`\s+`)

// Normalize trims and collapses whitespace in the input prompt.
// A missing or blank prompt fails the step with invalid_prompt.
func (st *Steps) Normalize(_ context.Context, s *state.State, clk Clock) (*Outcome, error) {
	started := clk.Now()
	finished := clk.Now()

	rawPrompt := problemInputs(s)["prompt"]
	input := map[string]any{"prompt": rawPrompt}

	prompt, ok := rawPrompt.(string)
	if !ok || strings.TrimSpace(prompt) == "" {
		return failure(NameNormalize, started, finished, input, []schema.StepError{
			{Code: "invalid_prompt", Message: "prompt is required"},
		})
	}

	normalized := strings.TrimSpace(whitespaceRE.ReplaceAllString(prompt, " "))
	return success(NameNormalize, started, finished, input, Normalized{Prompt: normalized}, nil)
}

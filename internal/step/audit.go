package step

import (
	"context"

	"github.com/roach88/stepflow/internal/state"
)

// Audit composes the structured end-of-run report: the inputs seen, the
// artifact keys produced, the latest verification outcome, and the run
// timestamps.
func (st *Steps) Audit(_ context.Context, s *state.State, clk Clock) (*Outcome, error) {
	started := clk.Now()
	finished := clk.Now()

	inputs := problemInputs(s)
	prompt, _ := inputs["prompt"].(string)

	verification := ""
	if a, ok := s.LatestArtifact("verification"); ok {
		if v, ok := a.(Verification); ok {
			verification = v.Status()
		}
	}

	keys := s.ArtifactKeys()
	artifact := Audit{
		Prompt:             prompt,
		GoalCount:          len(stringsOf(inputs["goals"])),
		ConstraintCount:    len(stringsOf(inputs["constraints"])),
		ArtifactKeys:       keys,
		VerificationStatus: verification,
		CreatedAt:          s.Metadata.CreatedAt,
		UpdatedAt:          s.Metadata.UpdatedAt,
	}

	input := map[string]any{"artifact_keys": toAny(keys)}
	return success(NameAudit, started, finished, input, artifact, nil)
}

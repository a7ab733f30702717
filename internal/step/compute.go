package step

import (
	"context"

	"github.com/roach88/stepflow/internal/state"
)

// Compute derives the deterministic computation record from the latest
// decomposition.
func (st *Steps) Compute(_ context.Context, s *state.State, clk Clock) (*Outcome, error) {
	started := clk.Now()
	finished := clk.Now()

	var tasks []string
	if a, ok := s.LatestArtifact("decomposition"); ok {
		if d, ok := a.(Decomposition); ok {
			tasks = d.Tasks
		}
	}

	input := map[string]any{"tasks": toAny(tasks)}
	return success(NameCompute, started, finished, input, Computation{TaskCount: len(tasks)}, nil)
}

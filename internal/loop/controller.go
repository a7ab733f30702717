package loop

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/roach88/stepflow/internal/canon"
	"github.com/roach88/stepflow/internal/graph"
	"github.com/roach88/stepflow/internal/state"
	"github.com/roach88/stepflow/internal/trace"
)

// Controller evaluates the stop condition after each end-step execution and
// decides the next execution index.
type Controller struct {
	cfg      *Config
	startIdx int
	endIdx   int
}

// NewController binds a validated config to a graph.
func NewController(cfg *Config, g *graph.Graph) (*Controller, error) {
	start, end, err := cfg.Bounds(g)
	if err != nil {
		return nil, err
	}
	return &Controller{cfg: cfg, startIdx: start, endIdx: end}, nil
}

// Config returns the bound configuration.
func (c *Controller) Config() *Config { return c.cfg }

// StartIndex returns the graph position of the loop's first step.
func (c *Controller) StartIndex() int { return c.startIdx }

// EndIndex returns the graph position of the loop's last step.
func (c *Controller) EndIndex() int { return c.endIdx }

// Decision is the controller's verdict after an end-step execution.
type Decision struct {
	Action        string // trace.ActionRepeat, ActionStop, or ActionMaxIterations
	NextIndex     int    // graph position to execute next
	NextIteration int    // loop iteration for the next pass
}

// Decide applies the decision protocol to the post-state:
// satisfied → stop; unsatisfied with budget left → repeat from start_step;
// otherwise max_iterations_reached and execution proceeds past end_step.
// Exhaustion does not fail the run; the verification artifact carries the
// truth.
func (c *Controller) Decide(post *state.State, iteration int) (Decision, error) {
	met, err := c.evaluate(post, iteration)
	if err != nil {
		return Decision{}, err
	}
	switch {
	case met:
		return Decision{Action: trace.ActionStop, NextIndex: c.endIdx + 1, NextIteration: iteration}, nil
	case iteration < c.cfg.MaxIterations:
		return Decision{Action: trace.ActionRepeat, NextIndex: c.startIdx, NextIteration: iteration + 1}, nil
	default:
		return Decision{Action: trace.ActionMaxIterations, NextIndex: c.endIdx + 1, NextIteration: iteration}, nil
	}
}

// StopCondition returns the trace projection of the stop condition.
func (c *Controller) StopCondition() trace.StopCondition {
	return trace.StopCondition{
		Path:     c.cfg.StopPath,
		Operator: c.cfg.StopOperator,
		Value:    c.cfg.StopValue,
	}
}

// evaluate resolves the dotted path against the canonical encoding of the
// post-state and applies the operator. A missing node fails closed. On
// iterations ≥ 2 the artifact segment resolves to its iteration-tagged key
// when one exists, so the condition always examines the newest value.
func (c *Controller) evaluate(post *state.State, iteration int) (bool, error) {
	data, err := canon.Marshal(post.CanonicalValue())
	if err != nil {
		return false, err
	}

	result := gjson.GetBytes(data, c.lookupPath(post, iteration))
	if !result.Exists() {
		return false, nil
	}

	target := c.cfg.StopValue
	switch c.cfg.StopOperator {
	case OpEquals:
		return jsonEquals(result, target), nil
	case OpNotEquals:
		return !jsonEquals(result, target), nil
	default:
		// Ordering operators require both sides integer; mismatch fails
		// closed.
		actual, ok := integerOf(result)
		if !ok {
			return false, nil
		}
		expected, ok := target.(int64)
		if !ok {
			return false, nil
		}
		switch c.cfg.StopOperator {
		case OpGT:
			return actual > expected, nil
		case OpGTE:
			return actual >= expected, nil
		case OpLT:
			return actual < expected, nil
		case OpLTE:
			return actual <= expected, nil
		}
		return false, nil
	}
}

// lookupPath rewrites "artifacts.<name>.<rest>" so the <name> segment hits
// the newest iteration-tagged key. Dots inside the composed key are escaped
// for gjson.
func (c *Controller) lookupPath(post *state.State, iteration int) string {
	segments := strings.Split(c.cfg.StopPath, ".")
	if len(segments) < 2 || segments[0] != "artifacts" {
		return c.cfg.StopPath
	}
	name := segments[1]
	key := name
	if iteration > 1 {
		tagged := state.IterationKey(name, iteration)
		if _, ok := post.Artifact(tagged); ok {
			key = tagged
		}
	}
	parts := append([]string{"artifacts", escapeKey(key)}, segments[2:]...)
	return strings.Join(parts, ".")
}

func escapeKey(key string) string {
	return strings.ReplaceAll(key, ".", `\.`)
}

func jsonEquals(actual gjson.Result, target any) bool {
	switch t := target.(type) {
	case string:
		return actual.Type == gjson.String && actual.Str == t
	case bool:
		return actual.IsBool() && actual.Bool() == t
	case int64:
		n, ok := integerOf(actual)
		return ok && n == t
	default:
		return false
	}
}

func integerOf(r gjson.Result) (int64, bool) {
	if r.Type != gjson.Number {
		return 0, false
	}
	f := r.Num
	if f != float64(int64(f)) {
		return 0, false
	}
	return int64(f), true
}

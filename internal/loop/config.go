// Package loop implements the conditional loop controller: configuration
// parsing, stop-condition evaluation, and repeat/stop/exhaustion decisions.
//
// The controller never mutates state; it reads the post-state of the loop's
// end step and emits a decision the runner turns into a control record.
package loop

import (
	"strings"

	"github.com/roach88/stepflow/internal/fault"
	"github.com/roach88/stepflow/internal/graph"
)

// Operators accepted in stop conditions. Ordering operators require both
// sides to be integers; equals and not_equals compare across types.
const (
	OpEquals    = "equals"
	OpNotEquals = "not_equals"
	OpGT        = "gt"
	OpGTE       = "gte"
	OpLT        = "lt"
	OpLTE       = "lte"
)

var allowedOperators = map[string]bool{
	OpEquals: true, OpNotEquals: true,
	OpGT: true, OpGTE: true, OpLT: true, OpLTE: true,
}

// Config is a validated loop configuration.
type Config struct {
	StartStep     string
	EndStep       string
	MaxIterations int
	StopPath      string
	StopOperator  string
	StopValue     any // string, int64, or bool
}

// Parse extracts and validates settings.loop from the raw settings mapping.
// Returns (nil, nil) when no loop is configured or enabled=false. The
// legacy `equals` field is accepted and rewritten to operator=equals.
func Parse(settings map[string]any) (*Config, error) {
	if settings == nil {
		return nil, nil
	}
	rawLoop, present := settings["loop"]
	if !present || rawLoop == nil {
		return nil, nil
	}
	loopMap, ok := rawLoop.(map[string]any)
	if !ok {
		return nil, fault.New(fault.CodeLoopConfigInvalid, "settings.loop must be an object")
	}

	if enabled, present := loopMap["enabled"]; present {
		b, ok := enabled.(bool)
		if !ok {
			return nil, fault.New(fault.CodeLoopConfigInvalid, "settings.loop.enabled must be a boolean")
		}
		if !b {
			return nil, nil
		}
	}

	startStep, err := requireString(loopMap, "start_step")
	if err != nil {
		return nil, err
	}
	endStep, err := requireString(loopMap, "end_step")
	if err != nil {
		return nil, err
	}

	maxIterations, ok := intOf(loopMap["max_iterations"])
	if !ok || maxIterations <= 0 {
		return nil, fault.New(fault.CodeLoopConfigInvalid, "settings.loop.max_iterations must be > 0")
	}

	stopRaw, ok := loopMap["stop_condition"].(map[string]any)
	if !ok {
		return nil, fault.New(fault.CodeLoopConfigInvalid, "settings.loop.stop_condition must be an object")
	}
	path, operator, value, err := parseStopCondition(stopRaw)
	if err != nil {
		return nil, err
	}

	return &Config{
		StartStep:     startStep,
		EndStep:       endStep,
		MaxIterations: int(maxIterations),
		StopPath:      path,
		StopOperator:  operator,
		StopValue:     value,
	}, nil
}

func parseStopCondition(raw map[string]any) (path, operator string, value any, err error) {
	path, ok := raw["path"].(string)
	if !ok || strings.TrimSpace(path) == "" {
		return "", "", nil, fault.New(fault.CodeStopConditionInvalid, "stop_condition.path must be a non-empty string")
	}
	if !strings.HasPrefix(path, "artifacts.") {
		return "", "", nil, fault.New(fault.CodeStopConditionInvalid, "stop_condition.path must start with 'artifacts.'")
	}

	_, hasEquals := raw["equals"]
	_, hasOperator := raw["operator"]
	_, hasValue := raw["value"]
	if hasEquals && (hasOperator || hasValue) {
		return "", "", nil, fault.New(fault.CodeStopConditionInvalid,
			"stop_condition must use either equals or operator/value, not both")
	}

	if hasEquals {
		operator = OpEquals
		value = raw["equals"]
	} else {
		operator, _ = raw["operator"].(string)
		if !allowedOperators[operator] {
			return "", "", nil, fault.New(fault.CodeStopConditionInvalid,
				"stop_condition.operator %q is not one of equals, not_equals, gt, gte, lt, lte", operator)
		}
		value = raw["value"]
	}

	switch operator {
	case OpGT, OpGTE, OpLT, OpLTE:
		n, ok := intOf(value)
		if !ok {
			return "", "", nil, fault.New(fault.CodeStopConditionInvalid,
				"stop_condition.value must be an integer for ordering operators")
		}
		value = n
	default:
		switch v := value.(type) {
		case string, bool:
		case int:
			value = int64(v)
		case int64:
		default:
			return "", "", nil, fault.New(fault.CodeStopConditionInvalid,
				"stop_condition.value must be a string, integer, or boolean")
		}
	}
	return path, operator, value, nil
}

// Bounds resolves the loop segment against the graph, enforcing that
// start_step does not come after end_step.
func (c *Config) Bounds(g *graph.Graph) (start, end int, err error) {
	start, err = g.IndexOf(c.StartStep)
	if err != nil {
		return 0, 0, fault.New(fault.CodeLoopConfigInvalid, "loop start_step %q not in execution graph", c.StartStep)
	}
	end, err = g.IndexOf(c.EndStep)
	if err != nil {
		return 0, 0, fault.New(fault.CodeLoopConfigInvalid, "loop end_step %q not in execution graph", c.EndStep)
	}
	if start > end {
		return 0, 0, fault.New(fault.CodeLoopConfigInvalid, "loop start_step must not come after end_step")
	}
	return start, end, nil
}

func requireString(m map[string]any, key string) (string, error) {
	s, ok := m[key].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fault.New(fault.CodeLoopConfigInvalid, "settings.loop.%s must be a non-empty string", key)
	}
	return s, nil
}

func intOf(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

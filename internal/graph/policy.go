package graph

import (
	"sort"

	"github.com/roach88/stepflow/internal/fault"
	"github.com/roach88/stepflow/internal/schema"
	"github.com/roach88/stepflow/internal/step"
)

// DefaultPolicyName is used when the problem names no policy_profile.
const DefaultPolicyName = "default"

// Policy maps a name to a step ordering.
type Policy struct {
	Name  string
	Steps []string
}

// PolicyRegistry holds the known routing policies.
type PolicyRegistry struct {
	policies map[string]Policy
}

// NewPolicyRegistry returns an empty registry.
func NewPolicyRegistry() *PolicyRegistry {
	return &PolicyRegistry{policies: map[string]Policy{}}
}

// Register adds a policy. Re-registering a name is rejected.
func (r *PolicyRegistry) Register(p Policy) error {
	if _, exists := r.policies[p.Name]; exists {
		return fault.New(fault.CodeSchemaInvalid, "policy %q already registered", p.Name)
	}
	r.policies[p.Name] = p
	return nil
}

// Get resolves a policy by name.
func (r *PolicyRegistry) Get(name string) (Policy, error) {
	p, ok := r.policies[name]
	if !ok {
		return Policy{}, fault.New(fault.CodeSchemaInvalid, "unknown policy %q", name)
	}
	return p, nil
}

// Names returns registered policy names in sorted order.
func (r *PolicyRegistry) Names() []string {
	out := make([]string, 0, len(r.policies))
	for name := range r.policies {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// DefaultRegistry returns the registry holding the default policy.
func DefaultRegistry() *PolicyRegistry {
	r := NewPolicyRegistry()
	// Registering a fresh name into an empty registry cannot fail.
	_ = r.Register(Policy{Name: DefaultPolicyName, Steps: DefaultOrder})
	return r
}

// Resolve selects the policy named by settings.policy_profile (or the
// default), checks every step against the registry, and returns the graph.
func Resolve(spec *schema.ProblemSpec, policies *PolicyRegistry, steps *step.Registry) (*Graph, error) {
	name := DefaultPolicyName
	if spec.Settings != nil && spec.Settings.PolicyProfile != "" {
		name = spec.Settings.PolicyProfile
	}
	policy, err := policies.Get(name)
	if err != nil {
		return nil, err
	}
	for _, stepName := range policy.Steps {
		if !steps.Has(stepName) {
			return nil, fault.New(fault.CodeStepUnknown, "policy %q names unregistered step %q", name, stepName)
		}
	}
	return NewLinear(policy.Steps)
}

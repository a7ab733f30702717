// Package graph defines the fixed execution ordering of steps and the
// routing policies that select one.
//
// The ordering is frozen per engine version: adding a step to the default
// policy is a MAJOR change.
package graph

import (
	"github.com/roach88/stepflow/internal/fault"
	"github.com/roach88/stepflow/internal/step"
)

// DefaultOrder is the canonical linear ordering.
var DefaultOrder = []string{
	step.NameNormalize,
	step.NameDecompose,
	step.NameAcquireEvidence,
	step.NameCompute,
	step.NameVerify,
	step.NameSynthesize,
	step.NameAudit,
}

// Graph is a static, acyclic linear ordering of step names.
type Graph struct {
	steps []string
	index map[string]int
}

// NewLinear builds a graph from an ordered step list. Empty lists and
// duplicate names are rejected.
func NewLinear(steps []string) (*Graph, error) {
	if len(steps) == 0 {
		return nil, fault.New(fault.CodeSchemaInvalid, "execution graph requires at least one step")
	}
	index := make(map[string]int, len(steps))
	for i, name := range steps {
		if _, dup := index[name]; dup {
			return nil, fault.New(fault.CodeSchemaInvalid, "duplicate step %q in execution graph", name)
		}
		index[name] = i
	}
	return &Graph{steps: append([]string{}, steps...), index: index}, nil
}

// Len returns the number of steps.
func (g *Graph) Len() int { return len(g.steps) }

// At returns the step name at position i.
func (g *Graph) At(i int) string { return g.steps[i] }

// Steps returns a copy of the ordering.
func (g *Graph) Steps() []string {
	return append([]string{}, g.steps...)
}

// IndexOf resolves a step name to its position.
func (g *Graph) IndexOf(name string) (int, error) {
	i, ok := g.index[name]
	if !ok {
		return 0, fault.New(fault.CodeStepUnknown, "step %q is not in the execution graph", name)
	}
	return i, nil
}

// Next returns the position after i, or false past the end.
func (g *Graph) Next(i int) (int, bool) {
	if i+1 >= len(g.steps) {
		return 0, false
	}
	return i + 1, true
}

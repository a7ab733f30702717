package provider

import (
	"context"
	"encoding/json"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/stepflow/internal/canon"
	"github.com/roach88/stepflow/internal/fault"
)

// Generator produces schema-conformant JSON objects from a model.
// The model's text response must parse as a single JSON object and satisfy
// the supplied target's validation tags; anything else is
// structured_generation_failed.
type Generator struct {
	provider Provider
	validate *validator.Validate
}

// NewGenerator wraps a provider for structured generation.
func NewGenerator(p Provider) *Generator {
	return &Generator{provider: p, validate: validator.New()}
}

// Generate sends the prompt, parses the response strictly, and returns the
// decoded object. When target is non-nil, the object is also unmarshalled
// into it and checked against its validation tags.
func (g *Generator) Generate(ctx context.Context, model, prompt string, target any) (map[string]any, error) {
	resp, err := g.provider.Complete(ctx, Request{
		Model:    model,
		Messages: []Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, err
	}

	decoded, err := canon.Decode([]byte(resp.Content))
	if err != nil {
		return nil, fault.New(fault.CodeStructuredGeneration,
			"model response is not valid JSON: %v", err)
	}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return nil, fault.New(fault.CodeStructuredGeneration,
			"model response JSON must be an object, got %T", decoded)
	}

	if target != nil {
		data, err := canon.Marshal(obj)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, target); err != nil {
			return nil, fault.New(fault.CodeStructuredGeneration,
				"model response does not fit schema: %v", err)
		}
		if err := g.validate.Struct(target); err != nil {
			return nil, fault.New(fault.CodeStructuredGeneration,
				"model response violates schema: %v", err)
		}
	}
	return obj, nil
}

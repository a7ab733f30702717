package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stepflow/internal/fault"
)

func TestFixture_Deterministic(t *testing.T) {
	f := NewFixture(map[string]string{"question": "answer"})
	ctx := context.Background()

	req := Request{Model: "m", Messages: []Message{{Role: "user", Content: "question"}}}
	first, err := f.Complete(ctx, req)
	require.NoError(t, err)
	second, err := f.Complete(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, "answer", first.Content)
	assert.Equal(t, "m", first.Model)
}

func TestFixture_UsesLastUserMessage(t *testing.T) {
	f := NewFixture(map[string]string{"second": "ok"})
	resp, err := f.Complete(context.Background(), Request{Messages: []Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "reply"},
		{Role: "user", Content: "second"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
}

func TestFixture_MissingEntry(t *testing.T) {
	f := NewFixture(nil)
	_, err := f.Complete(context.Background(), Request{Messages: []Message{{Role: "user", Content: "?"}}})
	require.Error(t, err)
	assert.Equal(t, fault.CodeCollaboratorTimeout, fault.CodeOf(err))
}

type summarySchema struct {
	Summary string `json:"summary" validate:"required"`
	Count   int64  `json:"count" validate:"gte=0"`
}

func TestGenerator_ValidObject(t *testing.T) {
	g := NewGenerator(NewFixture(map[string]string{
		"summarize": `{"summary":"three findings","count":3}`,
	}))

	var target summarySchema
	obj, err := g.Generate(context.Background(), "m", "summarize", &target)
	require.NoError(t, err)
	assert.Equal(t, "three findings", target.Summary)
	assert.Equal(t, int64(3), target.Count)
	assert.Equal(t, int64(3), obj["count"])
}

func TestGenerator_RejectsNonJSON(t *testing.T) {
	g := NewGenerator(NewFixture(map[string]string{"p": "not json at all"}))
	_, err := g.Generate(context.Background(), "m", "p", nil)
	require.Error(t, err)
	assert.Equal(t, fault.CodeStructuredGeneration, fault.CodeOf(err))
}

func TestGenerator_RejectsNonObject(t *testing.T) {
	g := NewGenerator(NewFixture(map[string]string{"p": `[1,2,3]`}))
	_, err := g.Generate(context.Background(), "m", "p", nil)
	require.Error(t, err)
	assert.Equal(t, fault.CodeStructuredGeneration, fault.CodeOf(err))
}

func TestGenerator_RejectsSchemaViolation(t *testing.T) {
	g := NewGenerator(NewFixture(map[string]string{"p": `{"count":-1}`}))
	var target summarySchema
	_, err := g.Generate(context.Background(), "m", "p", &target)
	require.Error(t, err)
	assert.Equal(t, fault.CodeStructuredGeneration, fault.CodeOf(err))
}

func TestGenerator_PropagatesProviderError(t *testing.T) {
	g := NewGenerator(NewFixture(nil))
	_, err := g.Generate(context.Background(), "m", "p", nil)
	require.Error(t, err)
	assert.Equal(t, fault.CodeCollaboratorTimeout, fault.CodeOf(err))
}

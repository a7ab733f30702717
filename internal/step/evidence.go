package step

import (
	"context"
	"errors"

	"github.com/roach88/stepflow/internal/fault"
	"github.com/roach88/stepflow/internal/provider"
	"github.com/roach88/stepflow/internal/schema"
	"github.com/roach88/stepflow/internal/state"
)

// AcquireEvidence collects evidence from inputs.context and, when the
// problem names a model, consults the configured provider for an evidence
// summary. The model call is the step's only suspension point; its response
// is part of the input payload, so the input hash commits to it and replay
// against a fixture reproduces the exact bytes.
func (st *Steps) AcquireEvidence(ctx context.Context, s *state.State, clk Clock) (*Outcome, error) {
	started := clk.Now()

	inputs := problemInputs(s)
	settings := problemSettings(s)

	contextMap, _ := inputs["context"].(map[string]any)
	evidence, _ := contextMap["evidence"].([]any)
	if evidence == nil {
		evidence = []any{}
	}
	required := boolSetting(settings, "evidence_required", false)

	input := map[string]any{"evidence": evidence}
	artifact := Evidence{Items: evidence, EvidenceRequired: required}

	var metrics *schema.StepMetrics
	modelName, _ := settings["model_name"].(string)
	if st.provider != nil && modelName != "" {
		prompt := evidencePrompt(s)
		summary, err := st.consultOracle(ctx, modelName, prompt, boolSetting(settings, "structured_generation", false))
		if err != nil {
			finished := clk.Now()
			code := string(fault.CodeCollaboratorTimeout)
			var fe *fault.Error
			if errors.As(err, &fe) {
				code = string(fe.Code)
			}
			return failure(NameAcquireEvidence, started, finished, input, []schema.StepError{
				{Code: code, Message: err.Error()},
			})
		}
		input["model_prompt"] = prompt
		input["model_response"] = summary
		artifact.ModelSummary = summary
		artifact.ModelConsulted = true
		metrics = &schema.StepMetrics{
			TokensIn:  int64(len(prompt)),
			TokensOut: int64(len(summary)),
			LatencyMS: 0,
		}
	}

	finished := clk.Now()
	return success(NameAcquireEvidence, started, finished, input, artifact, metrics)
}

// evidenceSummary is the schema enforced on structured oracle responses.
type evidenceSummary struct {
	Summary string `json:"summary" validate:"required"`
}

// consultOracle performs the model call. With structured generation enabled
// the response must be a JSON object satisfying evidenceSummary; otherwise
// the raw text is the summary.
func (st *Steps) consultOracle(ctx context.Context, model, prompt string, structured bool) (string, error) {
	if structured {
		var parsed evidenceSummary
		if _, err := provider.NewGenerator(st.provider).Generate(ctx, model, prompt, &parsed); err != nil {
			return "", err
		}
		return parsed.Summary, nil
	}
	resp, err := st.provider.Complete(ctx, provider.Request{
		Model:    model,
		Messages: []provider.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// evidencePrompt builds the deterministic oracle prompt from the normalized
// prompt (or the raw prompt before Normalize has run).
func evidencePrompt(s *state.State) string {
	prompt, _ := problemInputs(s)["prompt"].(string)
	if a, ok := s.LatestArtifact("normalized"); ok {
		if n, ok := a.(Normalized); ok {
			prompt = n.Prompt
		}
	}
	return "Summarize the evidence relevant to: " + prompt
}

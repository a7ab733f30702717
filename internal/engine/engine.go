// Package engine implements the deterministic execution runner.
//
// One Engine instance serves one request at a time; concurrency across
// requests uses independent instances sharing no mutable state. The runner
// exclusively owns the live ReasoningState and the trace writer; steps see
// deep copies and return results, the state manager applies them, and every
// transition is gated by the invariant validators. Given a fixed
// (ProblemSpec, trace_id, now seed), two runs produce byte-identical trace
// bytes — that is the primary external contract.
package engine

import (
	"bytes"
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/stepflow/internal/canon"
	"github.com/roach88/stepflow/internal/fault"
	"github.com/roach88/stepflow/internal/graph"
	"github.com/roach88/stepflow/internal/loop"
	"github.com/roach88/stepflow/internal/provider"
	"github.com/roach88/stepflow/internal/schema"
	"github.com/roach88/stepflow/internal/state"
	"github.com/roach88/stepflow/internal/step"
	"github.com/roach88/stepflow/internal/trace"
)

// Version is the engine version stamped into trace headers.
// The step set and graph ordering are frozen for a given MAJOR.
const Version = "0.1.0"

// Engine orchestrates the canonical encoder, validators, state manager,
// step registry, graph, loop controller, and trace writer over one problem.
type Engine struct {
	registry *step.Registry
	policies *graph.PolicyRegistry
	manager  *state.Manager
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*engineConfig)

type engineConfig struct {
	provider provider.Provider
	policies *graph.PolicyRegistry
	logger   *slog.Logger
}

// WithProvider supplies the model oracle consulted by AcquireEvidence.
func WithProvider(p provider.Provider) Option {
	return func(c *engineConfig) { c.provider = p }
}

// WithPolicies replaces the routing policy registry.
func WithPolicies(r *graph.PolicyRegistry) Option {
	return func(c *engineConfig) { c.policies = r }
}

// WithLogger attaches a structured logger. The engine is silent without
// one.
func WithLogger(l *slog.Logger) Option {
	return func(c *engineConfig) { c.logger = l }
}

// New creates an engine.
func New(opts ...Option) *Engine {
	cfg := engineConfig{
		policies: graph.DefaultRegistry(),
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{
		registry: step.NewRegistry(step.New(cfg.provider)),
		policies: cfg.policies,
		manager:  state.NewManager(),
		logger:   cfg.logger,
	}
}

// Request is one execution request.
type Request struct {
	// ProblemSpec is the raw problem spec mapping.
	ProblemSpec map[string]any

	// TraceID identifies the trace; defaults to the spec id.
	TraceID string

	// Now seeds the deterministic clock; defaults to the spec created_at.
	Now string
}

// Result is the outcome of one run.
type Result struct {
	TraceID       string
	EngineVersion string
	FinalState    *state.State
	Records       []trace.Record
	TraceBytes    []byte
}

// Execute runs the request to completion.
//
// Validation failures before the header is written return an error and no
// trace. After the header, failures surface in the final state's error
// history and the trace always ends with a terminal step record — except
// for fatal faults (canonicalization, chain, state invariant), which imply
// the trace is untrustworthy and return an error instead.
func (e *Engine) Execute(ctx context.Context, req Request) (*Result, error) {
	spec, err := schema.ParseProblemSpec(req.ProblemSpec)
	if err != nil {
		return nil, err
	}

	traceID := req.TraceID
	if traceID == "" {
		traceID = spec.ID
	}
	seed := req.Now
	if seed == "" {
		seed = spec.CreatedAt
	}
	clock, err := NewClock(seed)
	if err != nil {
		return nil, err
	}

	g, err := graph.Resolve(spec, e.policies, e.registry)
	if err != nil {
		return nil, err
	}

	loopCfg, err := loop.Parse(spec.RawSettings())
	if err != nil {
		return nil, err
	}
	var controller *loop.Controller
	if loopCfg != nil {
		controller, err = loop.NewController(loopCfg, g)
		if err != nil {
			return nil, err
		}
	}
	if err := checkMaxSteps(spec, g, controller); err != nil {
		return nil, err
	}

	run := &run{
		engine:     e,
		spec:       spec,
		traceID:    traceID,
		clock:      clock,
		graph:      g,
		controller: controller,
		writer:     trace.NewWriter(),
	}
	return run.execute(ctx)
}

// checkMaxSteps enforces settings.max_steps against the worst-case step
// count, loop iterations included.
func checkMaxSteps(spec *schema.ProblemSpec, g *graph.Graph, controller *loop.Controller) error {
	if spec.Settings == nil || spec.Settings.MaxSteps == nil {
		return nil
	}
	required := g.Len()
	if controller != nil {
		segment := controller.EndIndex() - controller.StartIndex() + 1
		required += (controller.Config().MaxIterations - 1) * segment
	}
	if *spec.Settings.MaxSteps < required {
		return fault.New(fault.CodeLoopConfigInvalid,
			"settings.max_steps %d is lower than the required step count %d",
			*spec.Settings.MaxSteps, required)
	}
	return nil
}

// run carries the mutable bookkeeping of one execution.
type run struct {
	engine     *Engine
	spec       *schema.ProblemSpec
	traceID    string
	clock      *Clock
	graph      *graph.Graph
	controller *loop.Controller
	writer     *trace.Writer

	state         *state.State
	loopIteration int
	failed        bool
}

func (r *run) execute(ctx context.Context) (*Result, error) {
	mgr := r.engine.manager

	t0 := r.clock.Now()
	st := state.New(r.spec, r.traceID, t0)
	if err := state.ValidateInvariants(st); err != nil {
		return nil, err
	}
	st, err := mgr.MarkRunning(st, r.clock.Now())
	if err != nil {
		return nil, err
	}
	r.state = st

	header, err := trace.NewHeader(r.traceID, t0, Version, r.spec.Raw(), st.CanonicalValue())
	if err != nil {
		return nil, err
	}
	if err := r.writer.Append(header); err != nil {
		return nil, err
	}

	cursor := 0
	for cursor < r.graph.Len() {
		if r.controller != nil && cursor == r.controller.StartIndex() && r.loopIteration == 0 {
			r.loopIteration = 1
		}

		if err := ctx.Err(); err != nil {
			if err := r.cancel(ctx, r.graph.At(cursor)); err != nil {
				return nil, err
			}
			return r.result(), nil
		}

		next, err := r.executeStep(ctx, cursor)
		if err != nil {
			if fault.Fatal(err) {
				return nil, err
			}
			if err := r.failRun(err, r.graph.At(cursor)); err != nil {
				return nil, err
			}
			return r.result(), nil
		}
		if r.failed {
			return r.result(), nil
		}
		cursor = next
	}

	if r.state.Status == state.StatusRunning {
		st, err := mgr.Complete(r.state, r.clock.Now())
		if err != nil {
			return nil, err
		}
		r.state = st
	}
	return r.result(), nil
}

// executeStep runs the step at cursor, applies its result, writes the step
// record, and (on the loop's end step) honors the controller's decision.
// It returns the next cursor.
func (r *run) executeStep(ctx context.Context, cursor int) (int, error) {
	stepName := r.graph.At(cursor)
	fn, err := r.engine.registry.Lookup(stepName)
	if err != nil {
		return 0, err
	}

	beforeHash, err := canon.Hash(r.state.CanonicalValue())
	if err != nil {
		return 0, err
	}
	snapshotIndex := r.state.StepIndex

	r.engine.logger.Debug("executing step", "step", stepName, "iteration", r.loopIteration)
	outcome, err := fn(ctx, r.state.Clone(), r.clock)
	if err != nil {
		return 0, err
	}
	result := outcome.Result
	if result.Step != stepName {
		return 0, fault.New(fault.CodeStepContract,
			"step %q returned a result for %q", stepName, result.Step).WithStep(stepName)
	}
	if err := schema.ValidateStepResult(result); err != nil {
		return 0, err
	}
	if err := verifyDeclaredHashes(outcome); err != nil {
		return 0, err
	}

	artifactKey := ""
	if outcome.Artifact != nil {
		iteration := 1
		if r.controller != nil && cursor >= r.controller.StartIndex() && cursor <= r.controller.EndIndex() {
			iteration = r.loopIteration
		}
		artifactKey = state.IterationKey(outcome.Artifact.Key(), iteration)
	}

	applied, err := r.engine.manager.Apply(r.state, result, outcome.Artifact, artifactKey, r.clock.Now())
	if err != nil {
		return 0, err
	}
	if err := state.ValidateInvariants(applied); err != nil {
		return 0, err
	}
	afterHash, err := canon.Hash(applied.CanonicalValue())
	if err != nil {
		return 0, err
	}

	record, err := trace.NewStep(r.writer.NextIndex(), snapshotIndex, result.CanonicalValue(), beforeHash, afterHash, r.writer.Head())
	if err != nil {
		return 0, err
	}
	if err := r.writer.Append(record); err != nil {
		return 0, err
	}
	r.state = applied

	if result.Status == schema.StepFailed {
		r.failed = true
		return cursor + 1, nil
	}

	if r.controller != nil && cursor == r.controller.EndIndex() && r.loopIteration > 0 {
		decision, err := r.controller.Decide(r.state, r.loopIteration)
		if err != nil {
			return 0, err
		}
		control, err := trace.NewControl(r.writer.NextIndex(), decision.Action, r.loopIteration,
			r.controller.Config().StartStep, r.controller.Config().EndStep,
			r.controller.StopCondition(), afterHash, r.writer.Head())
		if err != nil {
			return 0, err
		}
		if err := r.writer.Append(control); err != nil {
			return 0, err
		}
		r.engine.logger.Debug("loop decision", "action", decision.Action, "iteration", r.loopIteration)
		r.loopIteration = decision.NextIteration
		return decision.NextIndex, nil
	}

	return cursor + 1, nil
}

// verifyDeclaredHashes recomputes the declared input and output hashes from
// the outcome's payloads. A mismatch means the step lied about its inputs
// or outputs and the trace cannot be trusted to replay.
func verifyDeclaredHashes(outcome *step.Outcome) error {
	inputHash, err := canon.Hash(outcome.InputPayload)
	if err != nil {
		return err
	}
	if inputHash != outcome.Result.InputHash {
		return fault.New(fault.CodeHashMismatch,
			"declared input_hash %s does not match computed %s", outcome.Result.InputHash, inputHash).
			WithStep(outcome.Result.Step)
	}
	if outcome.Result.Status == schema.StepSuccess {
		outputHash, err := canon.Hash(outcome.Result.Output)
		if err != nil {
			return err
		}
		if outputHash != outcome.Result.OutputHash {
			return fault.New(fault.CodeHashMismatch,
				"declared output_hash %s does not match computed %s", outcome.Result.OutputHash, outputHash).
				WithStep(outcome.Result.Step)
		}
	}
	return nil
}

// failRun converts a non-fatal step failure into the terminal protocol:
// append the error, transition to failed, and write a terminal failed step
// record so the trace never ends mid-step.
func (r *run) failRun(cause error, stepName string) error {
	code := string(fault.CodeStepContract)
	var fe *fault.Error
	if errors.As(cause, &fe) {
		code = string(fe.Code)
	}
	entry := state.ErrorEntry{Code: code, Message: cause.Error(), Step: stepName}

	beforeHash, err := canon.Hash(r.state.CanonicalValue())
	if err != nil {
		return err
	}
	snapshotIndex := r.state.StepIndex

	started := r.clock.Now()
	finished := r.clock.Now()
	failedState, err := r.engine.manager.Fail(r.state, []state.ErrorEntry{entry}, finished)
	if err != nil {
		return err
	}
	r.state = failedState
	r.failed = true

	result, err := syntheticResult(stepName, schema.StepFailed, started, finished, []schema.StepError{
		{Code: code, Message: cause.Error(), Step: stepName},
	})
	if err != nil {
		return err
	}
	afterHash, err := canon.Hash(r.state.CanonicalValue())
	if err != nil {
		return err
	}
	record, err := trace.NewStep(r.writer.NextIndex(), snapshotIndex, result.CanonicalValue(), beforeHash, afterHash, r.writer.Head())
	if err != nil {
		return err
	}
	return r.writer.Append(record)
}

// cancel handles a cancellation observed between steps: the state fails
// with code cancelled and the interrupted step is recorded as skipped.
func (r *run) cancel(_ context.Context, stepName string) error {
	beforeHash, err := canon.Hash(r.state.CanonicalValue())
	if err != nil {
		return err
	}
	snapshotIndex := r.state.StepIndex

	started := r.clock.Now()
	finished := r.clock.Now()
	entry := state.ErrorEntry{Code: string(fault.CodeCancelled), Message: "run cancelled before step", Step: stepName}
	failedState, err := r.engine.manager.Fail(r.state, []state.ErrorEntry{entry}, finished)
	if err != nil {
		return err
	}
	r.state = failedState
	r.failed = true

	result, err := syntheticResult(stepName, schema.StepSkipped, started, finished, nil)
	if err != nil {
		return err
	}
	afterHash, err := canon.Hash(r.state.CanonicalValue())
	if err != nil {
		return err
	}
	record, err := trace.NewStep(r.writer.NextIndex(), snapshotIndex, result.CanonicalValue(), beforeHash, afterHash, r.writer.Head())
	if err != nil {
		return err
	}
	return r.writer.Append(record)
}

// syntheticResult builds a runner-originated terminal result (failed or
// skipped) with hashes over empty payloads.
func syntheticResult(stepName, status, started, finished string, errs []schema.StepError) (*schema.StepResult, error) {
	emptyHash, err := canon.Hash(map[string]any{})
	if err != nil {
		return nil, err
	}
	result := &schema.StepResult{
		Version:    schema.ResultVersion,
		Step:       stepName,
		Status:     status,
		InputHash:  emptyHash,
		OutputHash: emptyHash,
		StartedAt:  started,
		FinishedAt: finished,
		Errors:     errs,
	}
	if err := schema.ValidateStepResult(result); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *run) result() *Result {
	return &Result{
		TraceID:       r.traceID,
		EngineVersion: Version,
		FinalState:    r.state,
		Records:       r.writer.Records(),
		TraceBytes:    r.writer.Bytes(),
	}
}

// Replay re-executes a request and reports whether the produced trace bytes
// equal the expected bytes. Byte-identical replay is the primary external
// contract.
func (e *Engine) Replay(ctx context.Context, req Request, expected []byte) (*Result, bool, error) {
	result, err := e.Execute(ctx, req)
	if err != nil {
		return nil, false, err
	}
	return result, bytes.Equal(result.TraceBytes, expected), nil
}

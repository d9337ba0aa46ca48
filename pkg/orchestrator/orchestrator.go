// SPDX-License-Identifier: Apache-2.0

// Package orchestrator schedules multi-role conversations: a fixed role
// registry takes turns round-robin against a shared history until a
// stop signal fires or the turn budget runs out.
package orchestrator

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/tertulia/pkg/batch"
	"github.com/jllopis/tertulia/pkg/core"
	"github.com/jllopis/tertulia/pkg/errors"
	"github.com/jllopis/tertulia/pkg/executor"
	"github.com/jllopis/tertulia/pkg/flow"
	"github.com/jllopis/tertulia/pkg/telemetry"
)

const tracerName = "github.com/jllopis/tertulia/pkg/orchestrator"

// FlowLoader resolves a role's flow definition. The default reads the
// role's flow file from disk; tests substitute in-memory definitions.
type FlowLoader func(role core.Role) (*flow.Definition, error)

// ExecutorFactory builds the executor for one role.
type ExecutorFactory func(role core.Role, def *flow.Definition, opts executor.Options) (core.ExecutorProxy, error)

// Option customizes orchestrator construction.
type Option func(*Orchestrator)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithResolver replaces the inputs-mapping resolver.
func WithResolver(resolver core.InputResolver) Option {
	return func(o *Orchestrator) {
		if resolver != nil {
			o.resolver = resolver
		}
	}
}

// WithEvents sets the semantic event emitter.
func WithEvents(events core.EventEmitter) Option {
	return func(o *Orchestrator) {
		if events != nil {
			o.events = events
		}
	}
}

// WithTranscripts sets the sink that receives each finished conversation.
func WithTranscripts(sink core.TranscriptSink) Option {
	return func(o *Orchestrator) { o.transcripts = sink }
}

// WithMetrics sets the conversation metrics tracker.
func WithMetrics(metrics *telemetry.ConversationMetrics) Option {
	return func(o *Orchestrator) { o.metrics = metrics }
}

// WithExecutorOptions sets the options handed to the executor factory.
func WithExecutorOptions(opts executor.Options) Option {
	return func(o *Orchestrator) { o.executorOpts = opts }
}

// WithExecutorFactory replaces the executor factory.
func WithExecutorFactory(factory ExecutorFactory) Option {
	return func(o *Orchestrator) {
		if factory != nil {
			o.factory = factory
		}
	}
}

// WithFlowLoader replaces the flow definition loader.
func WithFlowLoader(loader FlowLoader) Option {
	return func(o *Orchestrator) {
		if loader != nil {
			o.loader = loader
		}
	}
}

// Orchestrator owns one executor per role and schedules lines through
// them. Line scheduling is strictly sequential within a line; distinct
// lines may be scheduled from different goroutines only if the
// underlying executors allow it.
type Orchestrator struct {
	roles       []core.Role
	maxTurn     int
	defs        []*flow.Definition
	executors   []core.ExecutorProxy
	historyKeys []string

	resolver     core.InputResolver
	loader       FlowLoader
	factory      ExecutorFactory
	executorOpts executor.Options

	logger      *slog.Logger
	tracer      trace.Tracer
	events      core.EventEmitter
	transcripts core.TranscriptSink
	metrics     *telemetry.ConversationMetrics

	destroyOnce sync.Once
	destroyErr  error
}

// New validates the role registry, loads every role's flow definition
// and builds one executor per role. Validation runs over all roles
// before any executor is created, so a bad registry never leaks
// half-started backends.
func New(roles []core.Role, maxTurn int, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		roles:    roles,
		maxTurn:  maxTurn,
		resolver: batch.NewResolver(),
		loader:   loadFlow,
		factory:  executor.New,
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
		events:   core.NoopEventEmitter{},
	}
	for _, opt := range opts {
		opt(o)
	}

	if err := o.validate(); err != nil {
		return nil, err
	}

	o.defs = make([]*flow.Definition, len(roles))
	o.executors = make([]core.ExecutorProxy, len(roles))
	for i, role := range roles {
		def, err := o.loader(role)
		if err != nil {
			o.teardown(context.Background(), i)
			return nil, err
		}
		exec, err := o.factory(role, def, o.executorOpts)
		if err != nil {
			o.teardown(context.Background(), i)
			return nil, err
		}
		o.defs[i] = def
		o.executors[i] = exec
	}
	return o, nil
}

func loadFlow(role core.Role) (*flow.Definition, error) {
	return flow.Load(role.WorkingDir, role.FlowFile)
}

// validate enforces the registry invariants before anything executes.
func (o *Orchestrator) validate() error {
	if len(o.roles) < 2 {
		return errors.New(errors.CodeInvalidRoleCount,
			fmt.Sprintf("a conversation needs at least two roles, got %d", len(o.roles)), nil).
			WithContext("role_count", len(o.roles))
	}
	if o.maxTurn < 1 {
		return errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("max turn must be at least 1, got %d", o.maxTurn), nil).
			WithContext("max_turn", o.maxTurn)
	}

	o.historyKeys = make([]string, len(o.roles))
	for i, role := range o.roles {
		switch n := role.HistoryMappingCount(); {
		case n == 0:
			return errors.New(errors.CodeMissingHistoryMapping,
				fmt.Sprintf("role %s: no inputs-mapping value equals %s",
					role, core.ConversationHistoryExpression), nil).
				WithContext("role", role.String())
		case n > 1:
			return errors.New(errors.CodeMultipleHistoryMappings,
				fmt.Sprintf("role %s: %d inputs-mapping values equal %s, exactly one allowed",
					role, n, core.ConversationHistoryExpression), nil).
				WithContext("role", role.String())
		}
		key, _ := o.roles[i].HistoryInputKey()
		o.historyKeys[i] = key
	}
	return nil
}

// Roles returns the role registry in scheduling order.
func (o *Orchestrator) Roles() []core.Role {
	out := make([]core.Role, len(o.roles))
	copy(out, o.roles)
	return out
}

// MaxTurn returns the turn budget per line.
func (o *Orchestrator) MaxTurn() int {
	return o.maxTurn
}

// Executors exposes the per-role executors, in registry order, for
// readiness probing.
func (o *Orchestrator) Executors() []core.ExecutorProxy {
	out := make([]core.ExecutorProxy, len(o.executors))
	copy(out, o.executors)
	return out
}

// ScheduleLine runs one conversation over rawInput: roles speak
// round-robin, each turn seeing the history accumulated so far, until
// maxTurn turns executed or a role's stop signal appears in its output.
func (o *Orchestrator) ScheduleLine(ctx context.Context, lineIndex int, rawInput map[string]any, runID string) (*core.LineResult, error) {
	if runID == "" {
		runID = core.NewRunID()
	}
	ctx = core.WithLineIndex(core.WithRunID(ctx, runID), lineIndex)

	ctx, span := o.tracer.Start(ctx, "conversation.schedule_line",
		trace.WithAttributes(telemetry.LineAttributes(runID, lineIndex, len(o.roles), o.maxTurn)...))
	defer span.End()

	lineStart := time.Now()
	o.events.Emit(ctx, core.NewEvent(core.EventLineStarted, runID, lineIndex, 0, "", nil))
	o.logger.InfoContext(ctx, "scheduling line",
		slog.String("run_id", runID),
		slog.Int("line_index", lineIndex),
		slog.Int("roles", len(o.roles)),
		slog.Int("max_turn", o.maxTurn))

	resolved, err := o.resolveInputs(rawInput)
	if err != nil {
		o.failLine(ctx, span, runID, lineIndex, 0, "", err, lineStart)
		return nil, err
	}

	history := make(core.History, 0, o.maxTurn)
	outputs := make(map[string]any, o.maxTurn+1)
	aggregation := make(map[string]any, o.maxTurn)
	var last *core.TurnResult

	for turn := 0; turn < o.maxTurn; turn++ {
		roleIndex := turn % len(o.roles)
		role := o.roles[roleIndex]

		result, err := o.runTurn(ctx, turn, roleIndex, lineIndex, runID, resolved[roleIndex], history)
		if err != nil {
			o.failLine(ctx, span, runID, lineIndex, turn, role.Kind, err, lineStart)
			return nil, err
		}

		record := core.NewTurnRecord(role.Kind, result.Output)
		history = append(history, record)
		outputs[strconv.Itoa(turn)] = record
		if len(result.AggregationInputs) > 0 {
			aggregation[strconv.Itoa(turn)] = result.AggregationInputs
		}
		last = result

		if stopSignalHit(role, result.Output) {
			span.AddEvent("conversation.stop_signal")
			span.SetAttributes(telemetry.StopAttributes(turn, role.Kind, role.StopSignal)...)
			o.events.Emit(ctx, core.NewEvent(core.EventStopSignal, runID, lineIndex, turn, role.Kind, nil))
			o.metrics.RecordStopSignal(ctx, role.Kind, turn)
			o.logger.InfoContext(ctx, "stop signal received",
				slog.String("role", role.String()),
				slog.Int("turn", turn))
			break
		}
	}

	outputs[core.ConversationHistoryOutputKey] = history
	line := &core.LineResult{
		Output:            outputs,
		AggregationInputs: aggregation,
	}
	if last != nil {
		line.NodeRunInfos = last.NodeRunInfos
		line.RunInfo = last.RunInfo
	}

	o.archive(ctx, runID, lineIndex, history)
	o.events.Emit(ctx, core.NewEvent(core.EventLineCompleted, runID, lineIndex, len(history)-1, "", nil))
	o.metrics.RecordLine(ctx, time.Since(lineStart), len(history), false)
	o.logger.InfoContext(ctx, "line completed",
		slog.String("run_id", runID),
		slog.Int("line_index", lineIndex),
		slog.Int("turns", len(history)))
	return line, nil
}

// resolveInputs maps the raw line input through every role's inputs
// mapping and applies flow-input defaults, before any turn executes.
func (o *Orchestrator) resolveInputs(rawInput map[string]any) ([]map[string]any, error) {
	resolved := make([]map[string]any, len(o.roles))
	for i, role := range o.roles {
		inputs, err := o.resolver.ResolveLine(rawInput, role.InputsMapping)
		if err != nil {
			return nil, errors.New(errors.CodeInvalidInput,
				fmt.Sprintf("role %s: cannot resolve line inputs", role), err).
				WithContext("role", role.String())
		}
		if o.defs != nil && o.defs[i] != nil {
			inputs = batch.ApplyDefaults(o.defs[i].Inputs, inputs)
		}
		resolved[i] = inputs
	}
	return resolved, nil
}

func (o *Orchestrator) runTurn(ctx context.Context, turn, roleIndex, lineIndex int, runID string,
	resolved map[string]any, history core.History) (*core.TurnResult, error) {

	role := o.roles[roleIndex]
	ctx, span := o.tracer.Start(ctx, "conversation.turn",
		trace.WithAttributes(telemetry.TurnAttributes(turn, role.Kind, role.Name, len(history))...))
	defer span.End()

	o.events.Emit(ctx, core.NewEvent(core.EventTurnStarted, runID, lineIndex, turn, role.Kind, nil))
	turnStart := time.Now()

	input := make(map[string]any, len(resolved)+1)
	for k, v := range resolved {
		input[k] = v
	}
	input[o.historyKeys[roleIndex]] = history.Snapshot()

	result, err := o.executors[roleIndex].ExecLine(ctx, input, lineIndex, runID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "turn failed")
		o.metrics.RecordTurn(ctx, role.Kind, time.Since(turnStart), true)
		o.metrics.RecordError(ctx, err, role.Kind)
		return nil, wrapTurnError(err, role, turn, lineIndex)
	}

	o.events.Emit(ctx, core.NewEvent(core.EventTurnCompleted, runID, lineIndex, turn, role.Kind, result.Output))
	o.metrics.RecordTurn(ctx, role.Kind, time.Since(turnStart), false)
	o.logger.DebugContext(ctx, "turn completed",
		slog.String("role", role.String()),
		slog.Int("turn", turn),
		slog.Duration("duration", time.Since(turnStart)))
	return result, nil
}

func wrapTurnError(err error, role core.Role, turn, lineIndex int) error {
	var te *errors.TertuliaError
	if stderrors.As(err, &te) {
		return te.WithContext("role", role.String()).
			WithContext("turn", turn).
			WithContext("line_index", lineIndex)
	}
	return errors.New(errors.CodeExecutionFailed,
		fmt.Sprintf("role %s: turn %d failed", role, turn), err).
		WithContext("role", role.String()).
		WithContext("turn", turn).
		WithContext("line_index", lineIndex)
}

func (o *Orchestrator) failLine(ctx context.Context, span trace.Span, runID string,
	lineIndex, turn int, roleKind string, err error, lineStart time.Time) {

	span.RecordError(err)
	span.SetStatus(codes.Error, "line failed")
	o.events.Emit(ctx, core.NewEvent(core.EventLineFailed, runID, lineIndex, turn, roleKind,
		map[string]any{"error": err.Error()}))
	o.metrics.RecordLine(ctx, time.Since(lineStart), turn, true)
	o.logger.ErrorContext(ctx, "line failed",
		slog.String("run_id", runID),
		slog.Int("line_index", lineIndex),
		slog.Int("turn", turn),
		slog.String("error", err.Error()))
}

// archive hands the finished history to the transcript sink. Archiving
// failures are logged, never fatal.
func (o *Orchestrator) archive(ctx context.Context, runID string, lineIndex int, history core.History) {
	if o.transcripts == nil {
		return
	}
	if err := o.transcripts.Save(ctx, runID, lineIndex, history); err != nil {
		o.logger.WarnContext(ctx, "transcript archive failed",
			slog.String("run_id", runID),
			slog.Int("line_index", lineIndex),
			slog.String("error", err.Error()))
	}
}

// stopSignalHit reports whether any output value equals the role's stop
// signal. Matching is deliberately value-wide, not field-scoped, so a
// judging role may publish its verdict under any output key.
func stopSignalHit(role core.Role, output map[string]any) bool {
	if role.StopSignal == "" {
		return false
	}
	for _, value := range output {
		if s, ok := value.(string); ok && s == role.StopSignal {
			return true
		}
	}
	return false
}

// Destroy releases every executor, in registry order, best-effort.
// Safe to call more than once; teardown runs once and the first result
// is returned thereafter.
func (o *Orchestrator) Destroy(ctx context.Context) error {
	o.destroyOnce.Do(func() {
		o.destroyErr = o.teardown(ctx, len(o.executors))
	})
	return o.destroyErr
}

func (o *Orchestrator) teardown(ctx context.Context, n int) error {
	var failures []error
	for i := 0; i < n; i++ {
		if o.executors[i] == nil {
			continue
		}
		if err := o.executors[i].Destroy(ctx); err != nil {
			o.logger.WarnContext(ctx, "executor destroy failed",
				slog.String("role", o.roles[i].String()),
				slog.String("error", err.Error()))
			failures = append(failures, err)
		}
	}
	if len(failures) > 0 {
		return errors.New(errors.CodeDestroyFailed,
			fmt.Sprintf("%d of %d executors failed to destroy", len(failures), n),
			stderrors.Join(failures...))
	}
	return nil
}

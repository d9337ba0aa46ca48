package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/tertulia/pkg/core"
	"github.com/jllopis/tertulia/pkg/errors"
	"github.com/jllopis/tertulia/pkg/flow"
	"github.com/jllopis/tertulia/pkg/llm"
	"github.com/jllopis/tertulia/pkg/resilience"
	"github.com/jllopis/tertulia/pkg/storage"
	"github.com/jllopis/tertulia/pkg/telemetry"
)

const tracerName = "github.com/jllopis/tertulia/pkg/executor"

// llmExecutor runs a model-backed flow. One turn is one blocking chat
// completion: system prompt, then the line inputs as a user preamble,
// then the conversation so far mapped onto assistant/user messages.
type llmExecutor struct {
	role       core.Role
	spec       *flow.LLMSpec
	provider   llm.Provider
	historyKey string
	hasHistory bool

	logger  *slog.Logger
	retry   resilience.RetryConfig
	timeout time.Duration
	breaker *resilience.CircuitBreaker
	store   storage.RunStorage
	turns   atomic.Int64
}

func newLLMExecutor(role core.Role, spec *flow.LLMSpec, provider llm.Provider, opts Options) *llmExecutor {
	key, ok := role.HistoryInputKey()
	return &llmExecutor{
		role:       role,
		spec:       spec,
		provider:   provider,
		historyKey: key,
		hasHistory: ok,
		logger:     opts.Logger,
		retry:      opts.Retry,
		timeout:    opts.Timeout,
		breaker:    resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{}),
		store:      opts.Storage,
	}
}

func (e *llmExecutor) ExecLine(ctx context.Context, input map[string]any, lineIndex int, runID string) (*core.TurnResult, error) {
	turn := int(e.turns.Add(1)) - 1
	history := e.historyFrom(input)
	meta := newRunMeta(runID, lineIndex, turn)

	req := llm.ChatRequest{
		Model:       e.spec.Model,
		Messages:    e.messages(input, history),
		Temperature: e.spec.Temperature,
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "executor.chat",
		trace.WithAttributes(
			attribute.String(telemetry.AttrFlowRunID, meta.flowRunID),
			attribute.String(telemetry.AttrFlowKind, string(flow.KindLLM)),
			attribute.String(telemetry.AttrRoleKind, e.role.Kind),
			attribute.Int(telemetry.AttrTurn, turn)))
	defer span.End()

	var resp *llm.ChatResponse
	call := func() error {
		return e.breaker.Call(ctx, func() error {
			return resilience.WithTimeout(ctx, resilience.TimeoutConfig{Duration: e.timeout}, func(ctx context.Context) error {
				r, err := e.provider.Chat(ctx, req)
				if err != nil {
					return err
				}
				resp = r
				return nil
			})
		})
	}

	if err := e.retry.Do(ctx, call); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat completion failed")
		persistTurn(ctx, e.store, e.logger, e.role, meta, lineIndex, turn, core.RunStatusFailed, nil, err.Error())
		return nil, errors.New(errors.CodeExecutionFailed,
			fmt.Sprintf("role %s: chat completion failed", e.role), err).
			WithContext("model", e.spec.Model).
			WithContext("turn", turn)
	}

	span.SetAttributes(telemetry.UsageAttributes(e.spec.Model, e.spec.Provider,
		resp.Usage.PromptTokens, resp.Usage.CompletionTokens)...)

	output := map[string]any{e.spec.OutputField: resp.Content}
	metrics := map[string]any{
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
		"total_tokens":      resp.Usage.TotalTokens,
	}
	persistTurn(ctx, e.store, e.logger, e.role, meta, lineIndex, turn, core.RunStatusCompleted, output, "")

	return &core.TurnResult{
		Output:       output,
		NodeRunInfos: meta.nodeRunInfos("chat", core.RunStatusCompleted, ""),
		RunInfo:      meta.runInfo(core.RunStatusCompleted, "", metrics),
	}, nil
}

func (e *llmExecutor) Destroy(_ context.Context) error {
	return nil
}

// Probe pings the provider when it supports it.
func (e *llmExecutor) Probe(ctx context.Context) ProbeResult {
	pinger, ok := e.provider.(interface{ Ping(ctx context.Context) error })
	if !ok {
		return ProbeResult{Probe: e.role.String(), Status: ProbeHealthy, Message: "provider has no ping"}
	}
	if err := pinger.Ping(ctx); err != nil {
		return ProbeResult{Probe: e.role.String(), Status: ProbeUnhealthy, Message: "provider unreachable", Err: err}
	}
	return ProbeResult{Probe: e.role.String(), Status: ProbeHealthy, Message: "provider reachable"}
}

func (e *llmExecutor) historyFrom(input map[string]any) core.History {
	if !e.hasHistory {
		return nil
	}
	switch h := input[e.historyKey].(type) {
	case core.History:
		return h
	case []core.TurnRecord:
		return core.History(h)
	case []map[string]any:
		out := make(core.History, len(h))
		for i, rec := range h {
			out[i] = core.TurnRecord(rec)
		}
		return out
	default:
		return nil
	}
}

func (e *llmExecutor) messages(input map[string]any, history core.History) []llm.Message {
	var msgs []llm.Message
	if e.spec.SystemPrompt != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: e.spec.SystemPrompt})
	}
	if preamble := e.preamble(input); preamble != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: preamble})
	}
	for _, record := range history {
		role := llm.RoleUser
		if kind, _ := record[core.RoleKey].(string); kind == e.role.Kind {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: recordContent(record)})
	}
	return msgs
}

// preamble flattens the non-history inputs into one user message so the
// model sees the line data (topic, question, context) every turn.
func (e *llmExecutor) preamble(input map[string]any) string {
	keys := make([]string, 0, len(input))
	for k := range input {
		if e.hasHistory && k == e.historyKey {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if len(keys) == 1 {
		if s, ok := input[keys[0]].(string); ok {
			return s
		}
	}
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, input[k])
	}
	return strings.TrimSpace(b.String())
}

// recordContent extracts printable content from one history record:
// the single output string when there is one, the JSON-encoded outputs
// otherwise.
func recordContent(record core.TurnRecord) string {
	outputs := make(map[string]any, len(record))
	for k, v := range record {
		if k == core.RoleKey {
			continue
		}
		outputs[k] = v
	}
	if len(outputs) == 1 {
		for _, v := range outputs {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	encoded, err := json.Marshal(outputs)
	if err != nil {
		return fmt.Sprintf("%v", outputs)
	}
	return string(encoded)
}

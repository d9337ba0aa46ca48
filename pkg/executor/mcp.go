package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jllopis/tertulia/pkg/core"
	"github.com/jllopis/tertulia/pkg/errors"
	"github.com/jllopis/tertulia/pkg/flow"
	"github.com/jllopis/tertulia/pkg/mcp"
	"github.com/jllopis/tertulia/pkg/resilience"
	"github.com/jllopis/tertulia/pkg/storage"
)

// mcpExecutor runs a tool-backed flow. One turn is one tool call with
// the resolved line inputs, conversation history included, as the tool
// arguments.
type mcpExecutor struct {
	role   core.Role
	spec   *flow.MCPSpec
	client *mcp.Client

	logger  *slog.Logger
	retry   resilience.RetryConfig
	timeout time.Duration
	breaker *resilience.CircuitBreaker
	store   storage.RunStorage
	turns   atomic.Int64
}

func newMCPExecutor(role core.Role, spec *flow.MCPSpec, client *mcp.Client, opts Options) *mcpExecutor {
	return &mcpExecutor{
		role:    role,
		spec:    spec,
		client:  client,
		logger:  opts.Logger,
		retry:   opts.Retry,
		timeout: opts.Timeout,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{}),
		store:   opts.Storage,
	}
}

func (e *mcpExecutor) ExecLine(ctx context.Context, input map[string]any, lineIndex int, runID string) (*core.TurnResult, error) {
	turn := int(e.turns.Add(1)) - 1
	meta := newRunMeta(runID, lineIndex, turn)

	args := make(map[string]any, len(input))
	for k, v := range input {
		args[k] = v
	}

	var value any
	call := func() error {
		return e.breaker.Call(ctx, func() error {
			return resilience.WithTimeout(ctx, resilience.TimeoutConfig{Duration: e.timeout}, func(ctx context.Context) error {
				result, err := e.client.CallTool(ctx, e.spec.Tool, args)
				if err != nil {
					return err
				}
				value, err = mcp.ResultOutput(result)
				return err
			})
		})
	}

	if err := e.retry.Do(ctx, call); err != nil {
		persistTurn(ctx, e.store, e.logger, e.role, meta, lineIndex, turn, core.RunStatusFailed, nil, err.Error())
		return nil, errors.New(errors.CodeExecutionFailed,
			fmt.Sprintf("role %s: tool call failed", e.role), err).
			WithContext("tool", e.spec.Tool).
			WithContext("turn", turn)
	}

	var output map[string]any
	if m, ok := value.(map[string]any); ok && len(m) > 0 {
		output = m
	} else {
		output = map[string]any{e.spec.OutputField: value}
	}
	persistTurn(ctx, e.store, e.logger, e.role, meta, lineIndex, turn, core.RunStatusCompleted, output, "")

	return &core.TurnResult{
		Output:       output,
		NodeRunInfos: meta.nodeRunInfos(e.spec.Tool, core.RunStatusCompleted, ""),
		RunInfo:      meta.runInfo(core.RunStatusCompleted, "", nil),
	}, nil
}

// Destroy closes the MCP connection. For stdio transports this also
// terminates the tool subprocess.
func (e *mcpExecutor) Destroy(_ context.Context) error {
	if err := e.client.Close(); err != nil {
		return errors.New(errors.CodeDestroyFailed,
			fmt.Sprintf("role %s: closing MCP client", e.role), err)
	}
	return nil
}

// Probe lists the server tools and verifies the configured one exists.
func (e *mcpExecutor) Probe(ctx context.Context) ProbeResult {
	tools, err := e.client.ListTools(ctx)
	if err != nil {
		return ProbeResult{Probe: e.role.String(), Status: ProbeUnhealthy, Message: "mcp server unreachable", Err: err}
	}
	for _, tool := range tools {
		if tool.Name == e.spec.Tool {
			return ProbeResult{Probe: e.role.String(), Status: ProbeHealthy, Message: "tool available"}
		}
	}
	return ProbeResult{
		Probe:   e.role.String(),
		Status:  ProbeDegraded,
		Message: fmt.Sprintf("tool %q not advertised by server", e.spec.Tool),
	}
}

package executor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jllopis/tertulia/pkg/core"
	"github.com/jllopis/tertulia/pkg/flow"
	"github.com/jllopis/tertulia/pkg/storage"
)

// scriptedExecutor replays canned outputs in order, repeating the last
// entry once exhausted. Deterministic; used for tests and dry runs.
type scriptedExecutor struct {
	role    core.Role
	outputs []map[string]any
	logger  *slog.Logger
	store   storage.RunStorage

	mu   sync.Mutex
	turn int
}

func newScriptedExecutor(role core.Role, spec *flow.ScriptedSpec, opts Options) *scriptedExecutor {
	return &scriptedExecutor{
		role:    role,
		outputs: spec.Outputs,
		logger:  opts.Logger,
		store:   opts.Storage,
	}
}

func (e *scriptedExecutor) ExecLine(ctx context.Context, input map[string]any, lineIndex int, runID string) (*core.TurnResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	turn := e.turn
	e.turn++
	e.mu.Unlock()

	idx := turn
	if idx >= len(e.outputs) {
		idx = len(e.outputs) - 1
	}
	output := make(map[string]any, len(e.outputs[idx]))
	for k, v := range e.outputs[idx] {
		output[k] = v
	}

	meta := newRunMeta(runID, lineIndex, turn)
	persistTurn(ctx, e.store, e.logger, e.role, meta, lineIndex, turn, core.RunStatusCompleted, output, "")

	return &core.TurnResult{
		Output:       output,
		NodeRunInfos: meta.nodeRunInfos("script", core.RunStatusCompleted, ""),
		RunInfo:      meta.runInfo(core.RunStatusCompleted, "", nil),
	}, nil
}

func (e *scriptedExecutor) Destroy(_ context.Context) error {
	return nil
}

// Probe reports static health; a scripted flow has no backend to lose.
func (e *scriptedExecutor) Probe(_ context.Context) ProbeResult {
	return ProbeResult{Probe: e.role.String(), Status: ProbeHealthy, Message: "scripted flow"}
}

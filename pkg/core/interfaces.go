package core

import "context"

// ExecutorProxy runs one role's flow, one turn at a time. Implementations
// wrap a model endpoint, an external tool, or an in-process script; the
// scheduler treats them as opaque. A proxy is owned by exactly one
// orchestrator and is not required to support concurrent ExecLine calls.
type ExecutorProxy interface {
	// ExecLine executes one turn with the resolved input. It must honor ctx
	// cancellation; on error no turn output is recorded.
	ExecLine(ctx context.Context, input map[string]any, lineIndex int, runID string) (*TurnResult, error)

	// Destroy releases the proxy's resources. Called exactly once.
	Destroy(ctx context.Context) error
}

// InputResolver produces a role's per-line input from the raw line input and
// the role's inputs mapping. The conversation-history binding is left for the
// scheduler to fill turn by turn.
type InputResolver interface {
	ResolveLine(rawInput map[string]any, inputsMapping map[string]string) (map[string]any, error)
}

// TranscriptSink receives the finished conversation history for a line.
// Optional collaborator; scheduling does not fail when archiving does.
type TranscriptSink interface {
	Save(ctx context.Context, runID string, lineIndex int, history History) error
}

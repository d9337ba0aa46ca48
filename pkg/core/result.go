package core

import "time"

// RunStatus describes the outcome of a flow or node run.
type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// RunInfo is execution metadata for one flow run (one turn). The scheduler
// forwards it untouched; only the last executed turn's RunInfo appears in the
// line result.
type RunInfo struct {
	RunID      string         `json:"run_id"`
	FlowRunID  string         `json:"flow_run_id"`
	Status     RunStatus      `json:"status"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Metrics    map[string]any `json:"metrics,omitempty"`
}

// NodeRunInfo is execution metadata for a single node inside a flow run.
type NodeRunInfo struct {
	Node       string         `json:"node"`
	Status     RunStatus      `json:"status"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Metrics    map[string]any `json:"metrics,omitempty"`
}

// TurnResult is what one executor invocation returns for one turn.
type TurnResult struct {
	// Output holds the flow's output fields. Any value equal to the acting
	// role's stop signal terminates the conversation.
	Output map[string]any

	// AggregationInputs are values reserved for an outer aggregation pass.
	AggregationInputs map[string]any

	// NodeRunInfos and RunInfo are forwarded untouched into the line result
	// when this is the last executed turn.
	NodeRunInfos map[string]NodeRunInfo
	RunInfo      RunInfo
}

// LineResult is the deliverable for one scheduled input line.
type LineResult struct {
	// Output is keyed by stringified turn index plus the reserved
	// ConversationHistoryOutputKey entry holding the full history.
	Output map[string]any

	// AggregationInputs is keyed by stringified turn index.
	AggregationInputs map[string]any

	// NodeRunInfos and RunInfo come verbatim from the last executed turn.
	NodeRunInfos map[string]NodeRunInfo
	RunInfo      RunInfo
}

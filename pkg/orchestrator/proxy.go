package orchestrator

import (
	"context"

	"github.com/jllopis/tertulia/pkg/core"
)

// Proxy presents a whole conversation group as a single ExecutorProxy,
// so an outer batch driver can schedule a line against the group the
// same way it schedules a line against one flow.
type Proxy struct {
	orchestrator *Orchestrator
}

// NewProxy wraps an orchestrator as an executor.
func NewProxy(o *Orchestrator) *Proxy {
	return &Proxy{orchestrator: o}
}

// ExecLine schedules the full conversation for one line and flattens
// the line result into a turn result.
func (p *Proxy) ExecLine(ctx context.Context, input map[string]any, lineIndex int, runID string) (*core.TurnResult, error) {
	line, err := p.orchestrator.ScheduleLine(ctx, lineIndex, input, runID)
	if err != nil {
		return nil, err
	}
	return &core.TurnResult{
		Output:            line.Output,
		AggregationInputs: line.AggregationInputs,
		NodeRunInfos:      line.NodeRunInfos,
		RunInfo:           line.RunInfo,
	}, nil
}

// Destroy tears down the wrapped orchestrator.
func (p *Proxy) Destroy(ctx context.Context) error {
	return p.orchestrator.Destroy(ctx)
}

var _ core.ExecutorProxy = (*Proxy)(nil)

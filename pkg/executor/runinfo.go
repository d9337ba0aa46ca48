package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jllopis/tertulia/pkg/core"
	"github.com/jllopis/tertulia/pkg/storage"
)

// runMeta derives per-turn run identifiers the way batch engines do:
// one flow run per line, one child run per turn.
type runMeta struct {
	runID     string
	flowRunID string
	turnRunID string
	startedAt time.Time
}

func newRunMeta(runID string, lineIndex, turn int) runMeta {
	flowRunID := fmt.Sprintf("%s_%d", runID, lineIndex)
	return runMeta{
		runID:     runID,
		flowRunID: flowRunID,
		turnRunID: fmt.Sprintf("%s_%d", flowRunID, turn),
		startedAt: time.Now().UTC(),
	}
}

func (m runMeta) runInfo(status core.RunStatus, errMsg string, metrics map[string]any) core.RunInfo {
	return core.RunInfo{
		RunID:      m.turnRunID,
		FlowRunID:  m.flowRunID,
		Status:     status,
		Error:      errMsg,
		StartedAt:  m.startedAt,
		FinishedAt: time.Now().UTC(),
		Metrics:    metrics,
	}
}

func (m runMeta) nodeRunInfos(node string, status core.RunStatus, errMsg string) map[string]core.NodeRunInfo {
	return map[string]core.NodeRunInfo{
		node: {
			Node:       node,
			Status:     status,
			Error:      errMsg,
			StartedAt:  m.startedAt,
			FinishedAt: time.Now().UTC(),
		},
	}
}

// persistTurn records one executed turn. Failures are logged and
// swallowed so storage outages never break a conversation.
func persistTurn(ctx context.Context, store storage.RunStorage, logger *slog.Logger,
	role core.Role, meta runMeta, lineIndex, turn int, status core.RunStatus,
	output map[string]any, errMsg string) {

	if store == nil {
		return
	}
	record := storage.LineRunRecord{
		ID:         storage.NewRecordID(),
		RunID:      meta.runID,
		LineIndex:  lineIndex,
		Turn:       turn,
		RoleKind:   role.Kind,
		RoleName:   role.Name,
		Status:     status,
		Output:     output,
		Error:      errMsg,
		StartedAt:  meta.startedAt,
		FinishedAt: time.Now().UTC(),
	}
	if err := store.PersistLineRun(ctx, record); err != nil {
		logger.WarnContext(ctx, "turn persistence failed",
			slog.String("role", role.String()),
			slog.Int("turn", turn),
			slog.String("error", err.Error()))
	}
}

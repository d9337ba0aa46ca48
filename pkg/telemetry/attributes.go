// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides OpenTelemetry integration with rich
// attributes for conversation scheduling observability.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic conventions for tertulia conversation telemetry.
// These follow OpenTelemetry naming conventions where applicable.
const (
	// Run and line attributes
	AttrRunID     = "tertulia.run.id"
	AttrFlowRunID = "tertulia.run.flow_run_id"
	AttrLineIndex = "tertulia.line.index"

	// Turn attributes
	AttrTurn    = "tertulia.turn.index"
	AttrMaxTurn = "tertulia.turn.max"

	// Role attributes
	AttrRoleKind  = "tertulia.role.kind"
	AttrRoleName  = "tertulia.role.name"
	AttrRoleCount = "tertulia.role.count"
	AttrFlowKind  = "tertulia.role.flow_kind"

	// Conversation attributes
	AttrHistoryLength = "tertulia.conversation.history_length"
	AttrStopSignal    = "tertulia.conversation.stop_signal"
	AttrStoppedEarly  = "tertulia.conversation.stopped_early"

	// LLM attributes (standard gen_ai conventions)
	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMProvider     = "gen_ai.system"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
	AttrLLMTokensTotal  = "gen_ai.usage.total_tokens"
)

// LineAttributes returns common attributes for line scheduling spans.
func LineAttributes(runID string, lineIndex, roleCount, maxTurn int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrRunID, runID),
		attribute.Int(AttrLineIndex, lineIndex),
		attribute.Int(AttrRoleCount, roleCount),
		attribute.Int(AttrMaxTurn, maxTurn),
	}
}

// TurnAttributes returns attributes for one turn span.
func TurnAttributes(turn int, roleKind, roleName string, historyLength int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int(AttrTurn, turn),
		attribute.String(AttrRoleKind, roleKind),
		attribute.Int(AttrHistoryLength, historyLength),
	}
	if roleName != "" {
		attrs = append(attrs, attribute.String(AttrRoleName, roleName))
	}
	return attrs
}

// StopAttributes returns attributes recorded when a stop signal ends a
// conversation before the turn budget is spent.
func StopAttributes(turn int, roleKind, signal string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(AttrStoppedEarly, true),
		attribute.Int(AttrTurn, turn),
		attribute.String(AttrRoleKind, roleKind),
		attribute.String(AttrStopSignal, signal),
	}
}

// UsageAttributes returns token usage attributes for model-backed turns.
func UsageAttributes(model, provider string, inputTokens, outputTokens int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if model != "" {
		attrs = append(attrs, attribute.String(AttrLLMModel, model))
	}
	if provider != "" {
		attrs = append(attrs, attribute.String(AttrLLMProvider, provider))
	}
	if inputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensInput, inputTokens))
	}
	if outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensOutput, outputTokens))
	}
	if inputTokens > 0 || outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensTotal, inputTokens+outputTokens))
	}
	return attrs
}

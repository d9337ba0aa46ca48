// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/tertulia/pkg/errors"
)

// ConversationMetrics tracks turn throughput, stop signals and failures
// for production monitoring of the scheduler.
type ConversationMetrics struct {
	turnCounter       metric.Int64Counter
	stopSignalCounter metric.Int64Counter
	errorCounter      metric.Int64Counter
	turnDuration      metric.Float64Histogram
	lineDuration      metric.Float64Histogram
	historyLength     metric.Int64Gauge
}

// NewConversationMetrics creates a metrics tracker on the global meter.
func NewConversationMetrics() (*ConversationMetrics, error) {
	meter := otel.Meter("tertulia/conversation")

	turnCounter, err := meter.Int64Counter(
		"tertulia.turns.total",
		metric.WithDescription("Executed turns by role kind and status"),
	)
	if err != nil {
		return nil, err
	}

	stopSignalCounter, err := meter.Int64Counter(
		"tertulia.stop_signals.total",
		metric.WithDescription("Conversations ended early by a stop signal"),
	)
	if err != nil {
		return nil, err
	}

	errorCounter, err := meter.Int64Counter(
		"tertulia.errors.total",
		metric.WithDescription("Scheduling errors by code and role kind"),
	)
	if err != nil {
		return nil, err
	}

	turnDuration, err := meter.Float64Histogram(
		"tertulia.turn.duration_ms",
		metric.WithDescription("Single turn duration in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	lineDuration, err := meter.Float64Histogram(
		"tertulia.line.duration_ms",
		metric.WithDescription("Scheduled line duration in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	historyLength, err := meter.Int64Gauge(
		"tertulia.conversation.history_length",
		metric.WithDescription("Conversation history length after the last turn"),
	)
	if err != nil {
		return nil, err
	}

	return &ConversationMetrics{
		turnCounter:       turnCounter,
		stopSignalCounter: stopSignalCounter,
		errorCounter:      errorCounter,
		turnDuration:      turnDuration,
		lineDuration:      lineDuration,
		historyLength:     historyLength,
	}, nil
}

// RecordTurn records one executed turn.
func (m *ConversationMetrics) RecordTurn(ctx context.Context, roleKind string, duration time.Duration, failed bool) {
	if m == nil {
		return
	}
	status := "completed"
	if failed {
		status = "failed"
	}
	attrs := metric.WithAttributes(
		attribute.String("role.kind", roleKind),
		attribute.String("status", status),
	)
	m.turnCounter.Add(ctx, 1, attrs)
	m.turnDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordStopSignal records a conversation ended by roleKind's stop signal.
func (m *ConversationMetrics) RecordStopSignal(ctx context.Context, roleKind string, turn int) {
	if m == nil {
		return
	}
	m.stopSignalCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("role.kind", roleKind),
			attribute.Int("turn", turn),
		),
	)
}

// RecordLine records a finished line schedule.
func (m *ConversationMetrics) RecordLine(ctx context.Context, duration time.Duration, historyLength int, failed bool) {
	if m == nil {
		return
	}
	status := "completed"
	if failed {
		status = "failed"
	}
	m.lineDuration.Record(ctx, float64(duration.Milliseconds()),
		metric.WithAttributes(attribute.String("status", status)),
	)
	m.historyLength.Record(ctx, int64(historyLength))
}

// RecordError increments the error counter, classifying typed errors by
// code and anything else as unknown.
func (m *ConversationMetrics) RecordError(ctx context.Context, err error, roleKind string) {
	if m == nil || err == nil {
		return
	}
	code := "UNKNOWN"
	recoverable := "unknown"
	if te := errors.AsTertuliaError(err); te != nil {
		code = string(te.Code)
		recoverable = te.RecoverableString()
	}
	m.errorCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error.code", code),
			attribute.String("role.kind", roleKind),
			attribute.String("recoverable", recoverable),
		),
	)
}

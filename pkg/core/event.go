package core

import (
	"context"
	"time"
)

// EventType identifies a semantic event emitted while scheduling a line.
type EventType string

const (
	EventLineStarted   EventType = "line.started"
	EventTurnStarted   EventType = "turn.started"
	EventTurnCompleted EventType = "turn.completed"
	EventStopSignal    EventType = "conversation.stop_signal"
	EventLineCompleted EventType = "line.completed"
	EventLineFailed    EventType = "line.failed"
)

// Event captures a semantic scheduling event.
type Event struct {
	Type      EventType
	RunID     string
	LineIndex int
	Turn      int
	Role      string
	Timestamp time.Time
	Payload   map[string]any
}

// EventEmitter receives semantic events.
type EventEmitter interface {
	Emit(ctx context.Context, event Event)
}

// NoopEventEmitter is a default no-op implementation.
type NoopEventEmitter struct{}

// Emit implements EventEmitter.
func (NoopEventEmitter) Emit(_ context.Context, _ Event) {}

// NewEvent builds a default event with timestamp.
func NewEvent(eventType EventType, runID string, lineIndex, turn int, role string, payload map[string]any) Event {
	return Event{
		Type:      eventType,
		RunID:     runID,
		LineIndex: lineIndex,
		Turn:      turn,
		Role:      role,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// SPDX-License-Identifier: Apache-2.0

// Package memory archives finished conversation transcripts and makes
// them retrievable, by run or by semantic similarity.
package memory

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jllopis/tertulia/pkg/core"
)

// Transcript is one archived conversation: the full history of a
// scheduled line.
type Transcript struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	LineIndex int          `json:"line_index"`
	History   core.History `json:"history"`
	SavedAt   time.Time    `json:"saved_at"`
}

// NewTranscript builds a transcript record with a fresh id.
func NewTranscript(runID string, lineIndex int, history core.History) Transcript {
	return Transcript{
		ID:        uuid.NewString(),
		RunID:     runID,
		LineIndex: lineIndex,
		History:   history.Snapshot(),
		SavedAt:   time.Now().UTC(),
	}
}

// Text flattens the transcript into readable "kind: content" lines, one
// per turn. Used for display and for embedding.
func (t Transcript) Text() string {
	var b strings.Builder
	for _, record := range t.History {
		kind, _ := record[core.RoleKey].(string)
		b.WriteString(kind)
		b.WriteString(": ")
		b.WriteString(recordText(record))
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func recordText(record core.TurnRecord) string {
	var parts []string
	for key, value := range record {
		if key == core.RoleKey {
			continue
		}
		if s, ok := value.(string); ok {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// TranscriptStore archives transcripts and lists them back by run.
// Save satisfies core.TranscriptSink so a store can be handed straight
// to the orchestrator.
type TranscriptStore interface {
	Save(ctx context.Context, runID string, lineIndex int, history core.History) error
	List(ctx context.Context, runID string) ([]Transcript, error)
}

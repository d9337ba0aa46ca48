// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/jllopis/tertulia/pkg/core"
)

// InMemoryStore keeps transcripts in process memory. Suitable for
// tests and short-lived runs.
type InMemoryStore struct {
	mu          sync.RWMutex
	transcripts []Transcript
}

// NewInMemoryStore creates an empty in-memory transcript store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// Save archives one finished conversation.
func (s *InMemoryStore) Save(_ context.Context, runID string, lineIndex int, history core.History) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts = append(s.transcripts, NewTranscript(runID, lineIndex, history))
	return nil
}

// List returns the run's transcripts ordered by line index. An empty
// runID matches every run.
func (s *InMemoryStore) List(_ context.Context, runID string) ([]Transcript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Transcript
	for _, t := range s.transcripts {
		if runID == "" || t.RunID == runID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LineIndex < out[j].LineIndex })
	return out, nil
}

var _ TranscriptStore = (*InMemoryStore)(nil)

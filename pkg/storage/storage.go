// Package storage persists per-turn run telemetry for scheduled lines.
package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jllopis/tertulia/pkg/core"
)

// LineRunRecord is one persisted turn execution.
type LineRunRecord struct {
	ID         string
	RunID      string
	LineIndex  int
	Turn       int
	RoleKind   string
	RoleName   string
	Status     core.RunStatus
	Output     map[string]any
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Filter narrows ListLineRuns results. Zero values match everything.
type Filter struct {
	RunID    string
	RoleKind string
	Status   core.RunStatus
	Limit    int
}

// RunStorage persists run telemetry. Implementations must be safe for
// concurrent use: an outer batch driver may schedule lines in parallel.
type RunStorage interface {
	PersistLineRun(ctx context.Context, record LineRunRecord) error
	ListLineRuns(ctx context.Context, filter Filter) ([]LineRunRecord, error)
}

// NewRecordID generates an id for a line run record.
func NewRecordID() string {
	return uuid.NewString()
}

// InMemory is a RunStorage for tests and single-process runs.
type InMemory struct {
	mu      sync.RWMutex
	records []LineRunRecord
}

// NewInMemory creates an empty in-memory run storage.
func NewInMemory() *InMemory {
	return &InMemory{}
}

// PersistLineRun implements RunStorage.
func (s *InMemory) PersistLineRun(_ context.Context, record LineRunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == "" {
		record.ID = NewRecordID()
	}
	s.records = append(s.records, record)
	return nil
}

// ListLineRuns implements RunStorage.
func (s *InMemory) ListLineRuns(_ context.Context, filter Filter) ([]LineRunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []LineRunRecord
	for _, r := range s.records {
		if filter.RunID != "" && r.RunID != filter.RunID {
			continue
		}
		if filter.RoleKind != "" && r.RoleKind != filter.RoleKind {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LineIndex != out[j].LineIndex {
			return out[i].LineIndex < out[j].LineIndex
		}
		return out[i].Turn < out[j].Turn
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/jllopis/tertulia/pkg/core"
)

// FileStore archives transcripts as JSONL, one file per run under
// baseDir. Simple persistence without external dependencies.
type FileStore struct {
	mu      sync.Mutex
	baseDir string
}

// NewFileStore creates the base directory if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create transcript directory: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) runFile(runID string) string {
	// filepath.Base guards against path traversal through the run id.
	return filepath.Join(s.baseDir, filepath.Base(runID)+".jsonl")
}

// Save appends one transcript line to the run's file.
func (s *FileStore) Save(_ context.Context, runID string, lineIndex int, history core.History) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encoded, err := json.Marshal(NewTranscript(runID, lineIndex, history))
	if err != nil {
		return fmt.Errorf("cannot encode transcript: %w", err)
	}

	f, err := os.OpenFile(s.runFile(runID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("cannot open transcript file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("cannot write transcript: %w", err)
	}
	return nil
}

// List reads back the run's transcripts ordered by line index. A
// missing file means no transcripts, not an error.
func (s *FileStore) List(_ context.Context, runID string) ([]Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.runFile(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot open transcript file: %w", err)
	}
	defer f.Close()

	var out []Transcript
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var t Transcript
		if err := json.Unmarshal(line, &t); err != nil {
			return nil, fmt.Errorf("corrupt transcript line: %w", err)
		}
		out = append(out, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("cannot read transcript file: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LineIndex < out[j].LineIndex })
	return out, nil
}

var _ TranscriptStore = (*FileStore)(nil)

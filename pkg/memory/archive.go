// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/jllopis/tertulia/pkg/core"
)

// VectorArchive embeds finished transcripts and stores them in a
// vector collection, so past conversations can be retrieved by
// semantic similarity. Save satisfies core.TranscriptSink.
type VectorArchive struct {
	store      VectorStore
	embedder   Embedder
	collection string

	initOnce sync.Once
	initErr  error
}

// NewVectorArchive creates an archive over the given collection.
func NewVectorArchive(store VectorStore, embedder Embedder, collection string) (*VectorArchive, error) {
	if store == nil || embedder == nil {
		return nil, fmt.Errorf("vector archive requires a store and an embedder")
	}
	if collection == "" {
		collection = "tertulia_transcripts"
	}
	return &VectorArchive{
		store:      store,
		embedder:   embedder,
		collection: collection,
	}, nil
}

// ensureCollection creates the collection on first use, probing the
// embedder once for the vector size.
func (a *VectorArchive) ensureCollection(ctx context.Context) error {
	a.initOnce.Do(func() {
		probe, err := a.embedder.Embed(ctx, "tertulia")
		if err != nil {
			a.initErr = fmt.Errorf("cannot probe embedding size: %w", err)
			return
		}
		if err := a.store.CreateCollection(ctx, a.collection, uint64(len(probe))); err != nil {
			a.initErr = fmt.Errorf("cannot create collection %s: %w", a.collection, err)
		}
	})
	return a.initErr
}

// Save embeds the transcript text and upserts one point per line.
func (a *VectorArchive) Save(ctx context.Context, runID string, lineIndex int, history core.History) error {
	if err := a.ensureCollection(ctx); err != nil {
		return err
	}

	transcript := NewTranscript(runID, lineIndex, history)
	text := transcript.Text()
	vector, err := a.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("cannot embed transcript: %w", err)
	}

	point := Point{
		ID:     transcript.ID,
		Vector: vector,
		Payload: map[string]any{
			"run_id":     runID,
			"line_index": lineIndex,
			"turns":      len(history),
			"text":       text,
		},
	}
	if err := a.store.Upsert(ctx, a.collection, []Point{point}); err != nil {
		return fmt.Errorf("cannot archive transcript: %w", err)
	}
	return nil
}

// SearchSimilar returns past transcripts semantically close to query.
func (a *VectorArchive) SearchSimilar(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if err := a.ensureCollection(ctx); err != nil {
		return nil, err
	}
	vector, err := a.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("cannot embed query: %w", err)
	}
	return a.store.Search(ctx, a.collection, vector, limit, 0)
}

var _ core.TranscriptSink = (*VectorArchive)(nil)

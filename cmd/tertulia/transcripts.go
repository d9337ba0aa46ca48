// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/jllopis/tertulia/pkg/config"
	"github.com/jllopis/tertulia/pkg/memory"
	"github.com/jllopis/tertulia/pkg/memory/ollama"
	"github.com/jllopis/tertulia/pkg/memory/qdrant"
)

func runTranscripts(ctx context.Context, flags globalFlags, args []string) {
	if len(args) == 0 {
		fatal(fmt.Errorf("usage: tertulia transcripts <list|search>"))
	}

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		fatal(fmt.Errorf("failed to load config: %w", err))
	}

	switch args[0] {
	case "list":
		listTranscripts(ctx, flags, cfg, args[1:])
	case "search":
		searchTranscripts(ctx, flags, cfg, args[1:])
	default:
		fatal(fmt.Errorf("unknown transcripts command %q", args[0]))
	}
}

func listTranscripts(ctx context.Context, flags globalFlags, cfg *config.Config, args []string) {
	cmd := flag.NewFlagSet("transcripts list", flag.ContinueOnError)
	runID := cmd.String("run", "", "Only list transcripts for this run")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}

	if cfg.Transcripts.Sink != "file" {
		fatal(fmt.Errorf("transcripts list needs the file sink, config has %q", cfg.Transcripts.Sink))
	}
	store, err := memory.NewFileStore(cfg.Transcripts.Dir)
	if err != nil {
		fatal(err)
	}

	transcripts, err := store.List(ctx, *runID)
	if err != nil {
		fatal(err)
	}

	if flags.JSON {
		printJSON(transcripts)
		return
	}
	if len(transcripts) == 0 {
		fmt.Println("no transcripts")
		return
	}
	for _, t := range transcripts {
		fmt.Printf("%s  line %d  %d turns  %s\n",
			t.RunID, t.LineIndex, len(t.History), t.SavedAt.Format("2006-01-02 15:04:05"))
	}
}

func searchTranscripts(ctx context.Context, flags globalFlags, cfg *config.Config, args []string) {
	cmd := flag.NewFlagSet("transcripts search", flag.ContinueOnError)
	query := cmd.String("query", "", "Similarity query text")
	limit := cmd.Int("limit", 5, "Maximum number of results")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}
	if *query == "" {
		fatal(fmt.Errorf("missing --query"))
	}

	if cfg.Transcripts.Sink != "qdrant" {
		fatal(fmt.Errorf("transcripts search needs the qdrant sink, config has %q", cfg.Transcripts.Sink))
	}
	store, err := qdrant.New(cfg.Transcripts.QdrantAddr)
	if err != nil {
		fatal(err)
	}
	embedder := ollama.NewEmbedder(cfg.Transcripts.EmbedderBaseURL, cfg.Transcripts.EmbedderModel)
	archive, err := memory.NewVectorArchive(store, embedder, cfg.Transcripts.Collection)
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(ctx, flags.Timeout)
	defer cancel()

	results, err := archive.SearchSimilar(ctx, *query, *limit)
	if err != nil {
		fatal(err)
	}

	if flags.JSON {
		printJSON(results)
		return
	}
	if len(results) == 0 {
		fmt.Println("no matches")
		return
	}
	for _, r := range results {
		payload := r.Point.Payload
		text, _ := payload["text"].(string)
		if idx := strings.IndexByte(text, '\n'); idx > 0 {
			text = text[:idx]
		}
		fmt.Printf("%.3f  run %v line %v  %s\n", r.Score, payload["run_id"], payload["line_index"], text)
	}
}

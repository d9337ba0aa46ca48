// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jllopis/tertulia/pkg/batch"
	"github.com/jllopis/tertulia/pkg/config"
	"github.com/jllopis/tertulia/pkg/core"
	"github.com/jllopis/tertulia/pkg/executor"
	"github.com/jllopis/tertulia/pkg/memory"
	"github.com/jllopis/tertulia/pkg/memory/ollama"
	"github.com/jllopis/tertulia/pkg/memory/qdrant"
	"github.com/jllopis/tertulia/pkg/orchestrator"
	"github.com/jllopis/tertulia/pkg/storage"
	"github.com/jllopis/tertulia/pkg/telemetry"
)

// lineOutput is one JSONL record written per scheduled line.
type lineOutput struct {
	LineIndex int            `json:"line_index"`
	RunID     string         `json:"run_id"`
	Output    map[string]any `json:"output,omitempty"`
	RunInfo   *core.RunInfo  `json:"run_info,omitempty"`
	Error     string         `json:"error,omitempty"`
}

func runRun(ctx context.Context, flags globalFlags, args []string) {
	// doRun owns the defers; exiting here keeps them running.
	failed, err := doRun(ctx, flags, args)
	if err != nil {
		fatal(err)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func doRun(ctx context.Context, flags globalFlags, args []string) (int, error) {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	rolesPath := cmd.String("roles", "", "Roles file (YAML)")
	dataPath := cmd.String("data", "", "Batch input file (JSONL or JSON array)")
	maxTurn := cmd.Int("max-turn", 0, "Turn budget override")
	lineIndex := cmd.Int("line", -1, "Schedule only this line index from the data file")
	runID := cmd.String("run-id", "", "Run identifier (minted when empty)")
	outPath := cmd.String("out", "", "Write line results as JSONL to this file (default stdout)")
	noTelemetry := cmd.Bool("no-telemetry", false, "Skip telemetry SDK initialization")

	if err := cmd.Parse(args); err != nil {
		return 0, err
	}

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return 0, fmt.Errorf("failed to load config: %w", err)
	}

	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	if !*noTelemetry {
		shutdown, err := telemetry.InitWithConfig("tertulia", version, telemetry.Config{
			Exporter:     cfg.Telemetry.Exporter,
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		})
		if err != nil {
			return 0, fmt.Errorf("failed to init telemetry: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "telemetry shutdown: %v\n", err)
			}
		}()
	}

	if *rolesPath == "" {
		*rolesPath = cfg.Conversation.RolesFile
	}
	if *rolesPath == "" {
		return 0, fmt.Errorf("no roles file; use --roles or set conversation.roles_file")
	}
	rolesFile, err := config.LoadRoles(*rolesPath)
	if err != nil {
		return 0, err
	}

	budget := turnBudget(*maxTurn, rolesFile.MaxTurn, cfg.Conversation.MaxTurn)

	store, closeStore, err := buildStorage(cfg)
	if err != nil {
		return 0, err
	}
	if closeStore != nil {
		defer closeStore()
	}

	sink, err := buildTranscriptSink(cfg)
	if err != nil {
		return 0, err
	}

	opts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithExecutorOptions(executor.Options{
			Logger:  logger,
			Storage: store,
		}),
	}
	if sink != nil {
		opts = append(opts, orchestrator.WithTranscripts(sink))
	}
	if !*noTelemetry {
		metrics, err := telemetry.NewConversationMetrics()
		if err != nil {
			return 0, fmt.Errorf("failed to init metrics: %w", err)
		}
		opts = append(opts, orchestrator.WithMetrics(metrics))
	}

	group, err := orchestrator.New(rolesFile.Roles, budget, opts...)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := group.Destroy(context.Background()); err != nil {
			logger.Warn("executor teardown reported failures", "error", err)
		}
	}()

	lines, err := loadLines(*dataPath, cfg.Conversation.MaxLines)
	if err != nil {
		return 0, err
	}

	out := io.Writer(os.Stdout)
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			return 0, err
		}
		defer f.Close()
		out = f
	}

	if *runID == "" {
		*runID = core.NewRunID()
	}

	start := time.Now()
	failed := 0
	scheduled := 0
	for index, rawInput := range lines {
		if *lineIndex >= 0 && index != *lineIndex {
			continue
		}
		scheduled++

		record := lineOutput{LineIndex: index, RunID: *runID}
		result, err := group.ScheduleLine(ctx, index, rawInput, *runID)
		if err != nil {
			failed++
			record.Error = err.Error()
			logger.Error("line failed", "line_index", index, "error", err)
		} else {
			record.Output = result.Output
			record.RunInfo = &result.RunInfo
		}
		if err := writeJSONLine(out, record); err != nil {
			return failed, err
		}

		if ctx.Err() != nil {
			break
		}
	}

	if !flags.JSON && *outPath != "" {
		fmt.Printf("scheduled %d lines (%d failed) in %s\n", scheduled, failed, time.Since(start).Round(time.Millisecond))
	}
	return failed, nil
}

func writeJSONLine(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

// turnBudget resolves the turn budget: CLI flag wins, then the roles
// file, then the config default.
func turnBudget(flagValue, rolesValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	if rolesValue > 0 {
		return rolesValue
	}
	return configValue
}

// loadLines reads the batch input, or yields a single empty line when no
// data file is given so literal-only mappings still run.
func loadLines(path string, maxLines int) ([]map[string]any, error) {
	if path == "" {
		return []map[string]any{{}}, nil
	}
	return batch.LoadLines(path, maxLines)
}

// buildStorage constructs the run store selected in config. The returned
// close function is nil when nothing needs closing.
func buildStorage(cfg *config.Config) (storage.RunStorage, func() error, error) {
	switch cfg.Storage.Driver {
	case "", "none":
		return nil, nil, nil
	case "memory":
		return storage.NewInMemory(), nil, nil
	case "sqlite":
		store, err := storage.Open(cfg.Storage.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// buildTranscriptSink constructs the transcript sink selected in config.
func buildTranscriptSink(cfg *config.Config) (core.TranscriptSink, error) {
	switch cfg.Transcripts.Sink {
	case "", "none":
		return nil, nil
	case "memory":
		return memory.NewInMemoryStore(), nil
	case "file":
		return memory.NewFileStore(cfg.Transcripts.Dir)
	case "qdrant":
		store, err := qdrant.New(cfg.Transcripts.QdrantAddr)
		if err != nil {
			return nil, err
		}
		embedder := ollama.NewEmbedder(cfg.Transcripts.EmbedderBaseURL, cfg.Transcripts.EmbedderModel)
		return memory.NewVectorArchive(store, embedder, cfg.Transcripts.Collection)
	default:
		return nil, fmt.Errorf("unknown transcript sink %q", cfg.Transcripts.Sink)
	}
}

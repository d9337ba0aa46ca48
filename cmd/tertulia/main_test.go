// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jllopis/tertulia/pkg/config"
	"github.com/jllopis/tertulia/pkg/core"
)

func TestParseGlobalFlags(t *testing.T) {
	flags, args, err := parseGlobalFlags([]string{"--json", "--timeout", "5s", "run", "--roles", "x.yaml"})
	if err != nil {
		t.Fatalf("parseGlobalFlags: %v", err)
	}
	if !flags.JSON {
		t.Error("expected JSON flag set")
	}
	if flags.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", flags.Timeout)
	}
	if len(args) != 3 || args[0] != "run" {
		t.Errorf("remaining args = %v, want [run --roles x.yaml]", args)
	}
}

func TestParseGlobalFlagsRejectsUnknown(t *testing.T) {
	if _, _, err := parseGlobalFlags([]string{"--bogus"}); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

func TestTurnBudget(t *testing.T) {
	if got := turnBudget(12, 6, 8); got != 12 {
		t.Errorf("flag should win, got %d", got)
	}
	if got := turnBudget(0, 6, 8); got != 6 {
		t.Errorf("roles file should win over config, got %d", got)
	}
	if got := turnBudget(0, 0, 8); got != 8 {
		t.Errorf("config default should apply, got %d", got)
	}
}

func TestBuildStorageDrivers(t *testing.T) {
	store, closer, err := buildStorage(&config.Config{Storage: config.StorageConfig{Driver: "none"}})
	if err != nil || store != nil || closer != nil {
		t.Fatalf("driver none: store=%v closer=%p err=%v", store, closer, err)
	}

	store, _, err = buildStorage(&config.Config{Storage: config.StorageConfig{Driver: "memory"}})
	if err != nil || store == nil {
		t.Fatalf("driver memory: store=%v err=%v", store, err)
	}

	if _, _, err = buildStorage(&config.Config{Storage: config.StorageConfig{Driver: "redis"}}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestBuildTranscriptSink(t *testing.T) {
	sink, err := buildTranscriptSink(&config.Config{})
	if err != nil || sink != nil {
		t.Fatalf("empty sink: sink=%v err=%v", sink, err)
	}

	sink, err = buildTranscriptSink(&config.Config{Transcripts: config.TranscriptsConfig{Sink: "memory"}})
	if err != nil || sink == nil {
		t.Fatalf("memory sink: sink=%v err=%v", sink, err)
	}

	dir := t.TempDir()
	sink, err = buildTranscriptSink(&config.Config{Transcripts: config.TranscriptsConfig{Sink: "file", Dir: dir}})
	if err != nil || sink == nil {
		t.Fatalf("file sink: sink=%v err=%v", sink, err)
	}

	if _, err = buildTranscriptSink(&config.Config{Transcripts: config.TranscriptsConfig{Sink: "s3"}}); err == nil {
		t.Fatal("expected error for unknown sink")
	}
}

func TestLoadLinesWithoutDataFile(t *testing.T) {
	lines, err := loadLines("", 0)
	if err != nil {
		t.Fatalf("loadLines: %v", err)
	}
	if len(lines) != 1 || len(lines[0]) != 0 {
		t.Fatalf("lines = %v, want one empty line", lines)
	}
}

// writeScriptedGroup lays out a minimal two-role group directory.
func writeScriptedGroup(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	flowYAML := "kind: scripted\nscripted:\n  outputs:\n    - answer: hello\n"
	for _, name := range []string{"advocate.yaml", "critic.yaml"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(flowYAML), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	rolesYAML := `max_turn: 2
roles:
  - role: advocate
    flow_file: advocate.yaml
    inputs_mapping:
      history: ${parent.conversation_history}
  - role: critic
    flow_file: critic.yaml
    inputs_mapping:
      history: ${parent.conversation_history}
`
	rolesPath := filepath.Join(dir, "roles.yaml")
	if err := os.WriteFile(rolesPath, []byte(rolesYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	return rolesPath
}

func TestDoRunWritesResults(t *testing.T) {
	rolesPath := writeScriptedGroup(t)
	outPath := filepath.Join(t.TempDir(), "out.jsonl")

	failed, err := doRun(context.Background(), globalFlags{JSON: true},
		[]string{"--roles", rolesPath, "--out", outPath, "--no-telemetry", "--run-id", "run-1"})
	if err != nil {
		t.Fatalf("doRun: %v", err)
	}
	if failed != 0 {
		t.Fatalf("failed = %d, want 0", failed)
	}
	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !strings.Contains(string(data), `"run_id":"run-1"`) {
		t.Fatalf("output missing run id: %s", data)
	}
	if !strings.Contains(string(data), core.ConversationHistoryOutputKey) {
		t.Fatalf("output missing history key: %s", data)
	}
}

func TestDoRunReturnsErrorForMissingData(t *testing.T) {
	rolesPath := writeScriptedGroup(t)

	// A bad data path must unwind as an error, not exit the process,
	// so the deferred executor teardown still runs.
	_, err := doRun(context.Background(), globalFlags{JSON: true},
		[]string{"--roles", rolesPath, "--data", filepath.Join(t.TempDir(), "absent.jsonl"), "--no-telemetry"})
	if err == nil {
		t.Fatal("expected error for missing data file")
	}
}

func TestValidateRoles(t *testing.T) {
	role := func(kind, stop string) core.Role {
		return core.Role{
			Kind:          kind,
			StopSignal:    stop,
			InputsMapping: map[string]string{"history": core.ConversationHistoryExpression},
		}
	}

	if check := validateRoles([]core.Role{role("solo", "")}); check.Status != "error" {
		t.Errorf("single role: status %q, want error", check.Status)
	}

	broken := role("a", "")
	broken.InputsMapping = map[string]string{"topic": "${data.topic}"}
	if check := validateRoles([]core.Role{broken, role("b", "")}); check.Status != "error" {
		t.Errorf("missing history mapping: status %q, want error", check.Status)
	}

	if check := validateRoles([]core.Role{role("a", ""), role("b", "")}); check.Status != "warn" {
		t.Errorf("no stop signals: status %q, want warn", check.Status)
	}

	if check := validateRoles([]core.Role{role("a", ""), role("b", "DONE")}); check.Status != "ok" {
		t.Errorf("valid group: status %q, want ok", check.Status)
	}
}

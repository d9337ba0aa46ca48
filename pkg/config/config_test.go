package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Fatalf("unexpected log defaults: %+v", cfg.Log)
	}
	if cfg.Conversation.MaxTurn != 8 {
		t.Fatalf("max_turn default = %d, want 8", cfg.Conversation.MaxTurn)
	}
	if cfg.Transcripts.Sink != "none" || cfg.Storage.Driver != "none" {
		t.Fatalf("unexpected sink/storage defaults: %+v %+v", cfg.Transcripts, cfg.Storage)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
log:
  level: debug
  format: json
conversation:
  max_turn: 12
storage:
  driver: sqlite
  path: /tmp/runs.db
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Fatalf("file values not applied: %+v", cfg.Log)
	}
	if cfg.Conversation.MaxTurn != 12 {
		t.Fatalf("max_turn = %d, want 12", cfg.Conversation.MaxTurn)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != "/tmp/runs.db" {
		t.Fatalf("storage not applied: %+v", cfg.Storage)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "log:\n  level: debug\n")

	t.Setenv("TERTULIA_LOG__LEVEL", "error")
	t.Setenv("TERTULIA_CONVERSATION__MAX_TURN", "3")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "error" {
		t.Fatalf("env must win over file, got %q", cfg.Log.Level)
	}
	if cfg.Conversation.MaxTurn != 3 {
		t.Fatalf("max_turn = %d, want 3", cfg.Conversation.MaxTurn)
	}
}

func TestLoadRoles(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "roles.yaml", `
max_turn: 6
roles:
  - role: assistant
    name: helper
    flow_file: assistant/flow.yaml
    inputs_mapping:
      topic: ${data.topic}
      history: ${parent.conversation_history}
  - role: critic
    name: skeptic
    flow_file: critic/flow.yaml
    working_dir: flows
    stop_signal: "[STOP]"
    inputs_mapping:
      history: ${parent.conversation_history}
`)
	rf, err := LoadRoles(path)
	if err != nil {
		t.Fatalf("LoadRoles: %v", err)
	}
	if rf.MaxTurn != 6 {
		t.Fatalf("max_turn = %d, want 6", rf.MaxTurn)
	}
	if len(rf.Roles) != 2 {
		t.Fatalf("got %d roles, want 2", len(rf.Roles))
	}

	assistant := rf.Roles[0]
	if assistant.Kind != "assistant" || assistant.Name != "helper" {
		t.Fatalf("unexpected first role: %+v", assistant)
	}
	if assistant.WorkingDir != dir {
		t.Fatalf("empty working_dir must anchor at the roles file dir, got %q", assistant.WorkingDir)
	}
	if key, ok := assistant.HistoryInputKey(); !ok || key != "history" {
		t.Fatalf("history mapping not parsed: %v %v", key, ok)
	}

	critic := rf.Roles[1]
	if critic.WorkingDir != filepath.Join(dir, "flows") {
		t.Fatalf("relative working_dir not anchored: %q", critic.WorkingDir)
	}
	if critic.StopSignal != "[STOP]" {
		t.Fatalf("stop_signal = %q", critic.StopSignal)
	}
	if _, ok := critic.HistoryInputKey(); !ok {
		t.Fatal("critic history mapping missing")
	}
}

func TestLoadRolesMissingFile(t *testing.T) {
	if _, err := LoadRoles(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing roles file")
	}
}

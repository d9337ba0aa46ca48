package batch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jllopis/tertulia/pkg/core"
	"github.com/jllopis/tertulia/pkg/errors"
	"github.com/jllopis/tertulia/pkg/flow"
)

func TestResolveLine(t *testing.T) {
	r := NewResolver()
	raw := map[string]any{"question": "why go?", "topic": "languages"}
	mapping := map[string]string{
		"question": "${data.question}",
		"history":  core.ConversationHistoryExpression,
		"style":    "socratic",
	}

	resolved, err := r.ResolveLine(raw, mapping)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolved["question"] != "why go?" {
		t.Errorf("expected data reference resolved, got %v", resolved["question"])
	}
	if resolved["style"] != "socratic" {
		t.Errorf("expected literal passed through, got %v", resolved["style"])
	}
	if _, ok := resolved["history"]; ok {
		t.Error("history binding must be left unset for the scheduler")
	}
}

func TestResolveLineMissingField(t *testing.T) {
	r := NewResolver()
	_, err := r.ResolveLine(map[string]any{}, map[string]string{"q": "${data.question}"})
	if err == nil {
		t.Fatal("expected error for missing raw field")
	}
	if te := errors.AsTertuliaError(err); te.Code != errors.CodeInvalidInput {
		t.Errorf("expected INVALID_INPUT, got %v", te.Code)
	}
}

func TestResolveLineUnsupportedExpression(t *testing.T) {
	r := NewResolver()
	_, err := r.ResolveLine(map[string]any{}, map[string]string{"q": "${run.outputs.q}"})
	if err == nil {
		t.Fatal("expected error for unsupported expression namespace")
	}
}

func TestApplyDefaults(t *testing.T) {
	inputs := map[string]flow.Input{
		"question": {Type: "string"},
		"style":    {Type: "string", Default: "neutral"},
		"depth":    {Type: "int", Default: 2},
	}
	resolved := map[string]any{"question": "hi", "depth": 5}

	out := ApplyDefaults(inputs, resolved)
	if out["style"] != "neutral" {
		t.Errorf("expected default applied, got %v", out["style"])
	}
	if out["depth"] != 5 {
		t.Errorf("resolved values must not be overwritten, got %v", out["depth"])
	}
	if resolved["style"] != nil {
		t.Error("ApplyDefaults must not mutate its argument")
	}
}

func TestTranspose(t *testing.T) {
	roleMajor := [][]map[string]any{
		{{"q": "l0-r0"}, {"q": "l1-r0"}},
		{{"q": "l0-r1"}, {"q": "l1-r1"}, {"q": "l2-r1"}},
	}

	lineMajor := Transpose(roleMajor)
	if len(lineMajor) != 2 {
		t.Fatalf("expected truncation to shortest role, got %d lines", len(lineMajor))
	}
	if lineMajor[1][0]["q"] != "l1-r0" || lineMajor[1][1]["q"] != "l1-r1" {
		t.Errorf("unexpected transposed line: %v", lineMajor[1])
	}

	if Transpose(nil) != nil {
		t.Error("expected nil for empty input")
	}
}

func TestLoadLinesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inputs.jsonl")
	content := "{\"q\":\"a\"}\n\n{\"q\":\"b\"}\n{\"q\":\"c\"}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	lines, err := LoadLines(path, 2)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected maxLines truncation to 2, got %d", len(lines))
	}
	if lines[1]["q"] != "b" {
		t.Errorf("unexpected line content: %v", lines[1])
	}
}

func TestLoadLinesJSONArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inputs.json")
	if err := os.WriteFile(path, []byte(`[{"q":"a"},{"q":"b"}]`), 0o644); err != nil {
		t.Fatal(err)
	}

	lines, err := LoadLines(path, 0)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
}

func TestLoadLinesBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inputs.jsonl")
	if err := os.WriteFile(path, []byte("not-json\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadLines(path, 0); err == nil {
		t.Fatal("expected parse error")
	}
}

package core

import "testing"

func TestHistoryInputKey(t *testing.T) {
	role := Role{
		Kind: "assistant",
		Name: "helper",
		InputsMapping: map[string]string{
			"question": "${data.question}",
			"history":  ConversationHistoryExpression,
		},
	}

	key, ok := role.HistoryInputKey()
	if !ok {
		t.Fatal("expected exactly one history binding")
	}
	if key != "history" {
		t.Errorf("expected key 'history', got %q", key)
	}
}

func TestHistoryInputKeyMissing(t *testing.T) {
	role := Role{
		Kind:          "assistant",
		InputsMapping: map[string]string{"question": "${data.question}"},
	}
	if _, ok := role.HistoryInputKey(); ok {
		t.Error("expected no history binding")
	}
	if got := role.HistoryMappingCount(); got != 0 {
		t.Errorf("expected 0 history mappings, got %d", got)
	}
}

func TestHistoryInputKeyDuplicate(t *testing.T) {
	role := Role{
		Kind: "critic",
		InputsMapping: map[string]string{
			"history":      ConversationHistoryExpression,
			"full_history": ConversationHistoryExpression,
		},
	}
	if _, ok := role.HistoryInputKey(); ok {
		t.Error("expected duplicate bindings to be rejected")
	}
	if got := role.HistoryMappingCount(); got != 2 {
		t.Errorf("expected 2 history mappings, got %d", got)
	}
}

func TestRoleString(t *testing.T) {
	if got := (Role{Kind: "critic", Name: "strict"}).String(); got != "critic/strict" {
		t.Errorf("expected critic/strict, got %q", got)
	}
	if got := (Role{Kind: "critic"}).String(); got != "critic" {
		t.Errorf("expected critic, got %q", got)
	}
}

func TestNewTurnRecord(t *testing.T) {
	record := NewTurnRecord("assistant", map[string]any{"answer": "hi", "score": 0.9})
	if record[RoleKey] != "assistant" {
		t.Errorf("expected role tag, got %v", record[RoleKey])
	}
	if record["answer"] != "hi" || record["score"] != 0.9 {
		t.Errorf("expected output fields copied, got %v", record)
	}
}

func TestHistorySnapshot(t *testing.T) {
	h := History{NewTurnRecord("a", map[string]any{"msg": "1"})}
	snap := h.Snapshot()

	h = append(h, NewTurnRecord("b", map[string]any{"msg": "2"}))
	if len(snap) != 1 {
		t.Errorf("snapshot must not observe later appends, got len %d", len(snap))
	}
	if len(h) != 2 {
		t.Errorf("expected history to grow, got len %d", len(h))
	}

	snap[0]["msg"] = "mutated"
	if h[0]["msg"] != "1" {
		t.Errorf("mutating a snapshot record must not touch the original")
	}
}

// SPDX-License-Identifier: Apache-2.0

package anthropic

import (
	"testing"

	"github.com/jllopis/tertulia/pkg/llm"
)

func TestProviderImplementsInterface(t *testing.T) {
	var _ llm.Provider = (*Provider)(nil)
}

func TestNewProviderDefaults(t *testing.T) {
	p := New()
	if p == nil {
		t.Fatal("expected non-nil provider")
	}
	if p.model != "claude-sonnet-4-20250514" {
		t.Errorf("unexpected default model %s", p.model)
	}
	if p.maxTokens != 4096 {
		t.Errorf("expected default max tokens 4096, got %d", p.maxTokens)
	}
}

func TestOptions(t *testing.T) {
	p := New(WithModel("claude-opus-4-20250514"), WithMaxTokens(8192))
	if p.model != "claude-opus-4-20250514" {
		t.Errorf("unexpected model %s", p.model)
	}
	if p.maxTokens != 8192 {
		t.Errorf("unexpected max tokens %d", p.maxTokens)
	}
}

func TestConvertMessageCoversAllRoles(t *testing.T) {
	// Verify conversion does not panic for any role the orchestrator emits.
	for _, role := range []llm.Role{llm.RoleUser, llm.RoleAssistant} {
		_ = convertMessage(llm.Message{Role: role, Content: "hello"})
	}
}

// SPDX-License-Identifier: Apache-2.0
package errors

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNew(t *testing.T) {
	cause := errors.New("executor connection refused")
	te := New(CodeExecutionFailed, "turn execution failed", cause)

	if te.Code != CodeExecutionFailed {
		t.Errorf("expected CodeExecutionFailed, got %v", te.Code)
	}
	if te.Message != "turn execution failed" {
		t.Errorf("expected message 'turn execution failed', got %q", te.Message)
	}
	if te.Err != cause {
		t.Errorf("expected cause to be preserved")
	}
	if !errors.Is(te, cause) {
		t.Errorf("expected errors.Is to work with wrapped error")
	}
}

func TestWithContext(t *testing.T) {
	te := New(CodeExecutionFailed, "turn failed", nil)
	te.WithContext("role", "assistant").
		WithContext("turn", 3)

	if te.Context["role"] != "assistant" {
		t.Errorf("expected context role to be 'assistant'")
	}
	if te.Context["turn"] != 3 {
		t.Errorf("expected context turn to be 3")
	}
}

func TestWithAttribute(t *testing.T) {
	te := New(CodeExecutionFailed, "turn failed", nil)
	te.WithAttribute("role_kind", "assistant").
		WithAttribute("line_index", "7")

	if te.Attributes["role_kind"] != "assistant" {
		t.Errorf("expected attribute role_kind")
	}
	if te.Attributes["line_index"] != "7" {
		t.Errorf("expected attribute line_index")
	}
}

func TestWithRecoverable(t *testing.T) {
	te := New(CodeTimeout, "executor timed out", nil)
	if te.Recoverable {
		t.Errorf("expected recoverable to be false by default")
	}

	te.WithRecoverable(true)
	if !te.Recoverable {
		t.Errorf("expected recoverable to be true after WithRecoverable")
	}
}

func TestError(t *testing.T) {
	tests := []struct {
		name     string
		te       *TertuliaError
		expected string
	}{
		{
			name:     "with cause",
			te:       New(CodeTimeout, "operation timed out", errors.New("deadline exceeded")),
			expected: "[TIMEOUT] operation timed out: deadline exceeded",
		},
		{
			name:     "without cause",
			te:       New(CodeInvalidRoleCount, "invalid chat role count: 1", nil),
			expected: "[INVALID_ROLE_COUNT] invalid chat role count: 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.te.Error(); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestIsConfiguration(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want bool
	}{
		{CodeInvalidRoleCount, true},
		{CodeMissingHistoryMapping, true},
		{CodeMultipleHistoryMappings, true},
		{CodeFlowLoadFailed, true},
		{CodeExecutionFailed, false},
		{CodeDestroyFailed, false},
		{CodeInternal, false},
	}

	for _, tt := range tests {
		if got := IsConfiguration(New(tt.code, "x", nil)); got != tt.want {
			t.Errorf("IsConfiguration(%s) = %v, want %v", tt.code, got, tt.want)
		}
	}

	if IsConfiguration(errors.New("plain")) {
		t.Errorf("plain errors are not configuration errors")
	}
}

func TestAsTertuliaError(t *testing.T) {
	te := New(CodeStorageError, "persist failed", nil)
	if got := AsTertuliaError(te); got != te {
		t.Errorf("expected same instance back")
	}

	plain := errors.New("boom")
	wrapped := AsTertuliaError(plain)
	if wrapped.Code != CodeInternal {
		t.Errorf("expected plain error wrapped as internal, got %v", wrapped.Code)
	}
	if !errors.Is(wrapped, plain) {
		t.Errorf("expected cause preserved in wrapper")
	}

	if AsTertuliaError(nil) != nil {
		t.Errorf("expected nil for nil error")
	}
}

func TestMarshalJSON(t *testing.T) {
	te := New(CodeMissingHistoryMapping, "no history mapping for role", nil).
		WithContext("role", "critic")

	data, err := json.Marshal(te)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded["code"] != string(CodeMissingHistoryMapping) {
		t.Errorf("expected code in JSON, got %v", decoded["code"])
	}
}

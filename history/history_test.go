// Copyright 2025 The agentwire Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/agentwire/agentwire"
)

func messages(texts ...string) []agentwire.Message {
	msgs := make([]agentwire.Message, 0, len(texts))
	for _, text := range texts {
		msgs = append(msgs, agentwire.NewAgentTextMessage(text))
	}
	return msgs
}

func TestAppendUpdateHistory(t *testing.T) {
	existing := messages("a", "b")
	merged := Append{}.UpdateHistory(existing, messages("c"))

	want := messages("a", "b", "c")
	if diff := cmp.Diff(want, merged); diff != "" {
		t.Errorf("UpdateHistory mismatch (-want +got):\n%s", diff)
	}
	// The input slice must not be mutated.
	if len(existing) != 2 {
		t.Errorf("Expected existing history untouched, got %d entries", len(existing))
	}
}

func TestRollingWindowUpdateHistory(t *testing.T) {
	window, err := NewRollingWindow(2)
	if err != nil {
		t.Fatalf("NewRollingWindow failed: %v", err)
	}

	merged := window.UpdateHistory(messages("a", "b"), messages("c"))
	want := messages("b", "c")
	if diff := cmp.Diff(want, merged); diff != "" {
		t.Errorf("UpdateHistory mismatch (-want +got):\n%s", diff)
	}
}

func TestNewRollingWindowRejectsBadSize(t *testing.T) {
	if _, err := NewRollingWindow(0); err == nil {
		t.Error("Expected error for window size 0")
	}
	if _, err := NewRollingWindow(-1); err == nil {
		t.Error("Expected error for negative window size")
	}
}

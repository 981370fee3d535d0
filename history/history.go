// Copyright 2025 The agentwire Authors
// SPDX-License-Identifier: Apache-2.0

// Package history provides pluggable merge policies for a task's context
// history: the message view fed to downstream reasoning, maintained
// separately from the task's raw audit-trail history.
package history

import (
	"fmt"

	"github.com/agentwire/agentwire"
)

// Strategy merges new messages into an existing context history. Strategies
// are stateless and must not mutate their inputs.
type Strategy interface {
	UpdateHistory(existing, incoming []agentwire.Message) []agentwire.Message
}

// Append keeps everything: the merged history is existing followed by
// incoming.
type Append struct{}

var _ Strategy = Append{}

// UpdateHistory implements [Strategy].
func (Append) UpdateHistory(existing, incoming []agentwire.Message) []agentwire.Message {
	merged := make([]agentwire.Message, 0, len(existing)+len(incoming))
	merged = append(merged, existing...)
	merged = append(merged, incoming...)
	return merged
}

// RollingWindow keeps only the last Size messages of the merged history.
type RollingWindow struct {
	Size int
}

var _ Strategy = RollingWindow{}

// NewRollingWindow creates a RollingWindow strategy. Size must be at least 1.
func NewRollingWindow(size int) (RollingWindow, error) {
	if size < 1 {
		return RollingWindow{}, fmt.Errorf("window size must be at least 1, got %d", size)
	}
	return RollingWindow{Size: size}, nil
}

// UpdateHistory implements [Strategy].
func (w RollingWindow) UpdateHistory(existing, incoming []agentwire.Message) []agentwire.Message {
	merged := Append{}.UpdateHistory(existing, incoming)
	if w.Size > 0 && len(merged) > w.Size {
		merged = merged[len(merged)-w.Size:]
	}
	return merged
}

// Copyright 2025 The agentwire Authors
// SPDX-License-Identifier: Apache-2.0

package agentwire

// Event is one update on a streaming subscription. Exactly two kinds exist:
// TaskStatusUpdateEvent and TaskArtifactUpdateEvent.
type Event interface {
	// EventTaskID returns the id of the task this event belongs to.
	EventTaskID() string
}

// TaskStatusUpdateEvent announces a task status transition. Final marks the
// last status event on the stream.
type TaskStatusUpdateEvent struct {
	ID       string         `json:"id"`
	Status   TaskStatus     `json:"status"`
	Final    bool           `json:"final"`
	Metadata map[string]any `json:"metadata,omitzero"`
}

// EventTaskID implements [Event].
func (e *TaskStatusUpdateEvent) EventTaskID() string { return e.ID }

// TaskArtifactUpdateEvent carries one artifact chunk.
type TaskArtifactUpdateEvent struct {
	ID       string         `json:"id"`
	Artifact *Artifact      `json:"artifact"`
	Metadata map[string]any `json:"metadata,omitzero"`
}

// EventTaskID implements [Event].
func (e *TaskArtifactUpdateEvent) EventTaskID() string { return e.ID }

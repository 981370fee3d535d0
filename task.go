// Copyright 2025 The agentwire Authors
// SPDX-License-Identifier: Apache-2.0

package agentwire

import (
	"fmt"
	"time"
)

// TaskState is the lifecycle position of a task.
type TaskState string

// Task lifecycle states. SUBMITTED and WORKING are live; INPUT_REQUIRED
// suspends the task until the next send on the same id; COMPLETED, CANCELED,
// and FAILED are terminal.
const (
	TaskStateSubmitted     TaskState = "submitted"
	TaskStateWorking       TaskState = "working"
	TaskStateInputRequired TaskState = "input-required"
	TaskStateCompleted     TaskState = "completed"
	TaskStateCanceled      TaskState = "canceled"
	TaskStateFailed        TaskState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateCanceled, TaskStateFailed:
		return true
	}
	return false
}

// Valid reports whether s is a known task state.
func (s TaskState) Valid() bool {
	switch s {
	case TaskStateSubmitted, TaskStateWorking, TaskStateInputRequired,
		TaskStateCompleted, TaskStateCanceled, TaskStateFailed:
		return true
	}
	return false
}

// TaskStatus is the current lifecycle position of a task, optionally carrying
// a clarification message (e.g. for input-required).
type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitzero"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// NewTaskStatus creates a TaskStatus stamped with the current time.
func NewTaskStatus(state TaskState) TaskStatus {
	return TaskStatus{State: state, Timestamp: time.Now().UTC()}
}

// Validate ensures the status carries a known state.
func (ts TaskStatus) Validate() error {
	if !ts.State.Valid() {
		return fmt.Errorf("invalid task state: %q", ts.State)
	}
	return nil
}

// Task is an addressable unit of work. The id is assigned by the caller and
// immutable once created; history is append-only; artifacts are addressed by
// a non-negative integer index that need not be contiguous.
type Task struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionId,omitzero"`
	Status    TaskStatus     `json:"status"`
	Artifacts []*Artifact    `json:"artifacts,omitzero"`
	History   []Message      `json:"history,omitzero"`
	Metadata  map[string]any `json:"metadata,omitzero"`
}

// Validate ensures the task is well formed.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task ID cannot be empty")
	}
	if err := t.Status.Validate(); err != nil {
		return fmt.Errorf("task status is invalid: %w", err)
	}
	for i, artifact := range t.Artifacts {
		if artifact == nil {
			return fmt.Errorf("artifact at index %d cannot be nil", i)
		}
		if err := artifact.Validate(); err != nil {
			return fmt.Errorf("artifact at index %d is invalid: %w", i, err)
		}
	}
	for i, message := range t.History {
		if err := message.Validate(); err != nil {
			return fmt.Errorf("history message at index %d is invalid: %w", i, err)
		}
	}
	return nil
}

// TruncateHistory returns the task with history cut to the last n entries.
// A non-positive n leaves the history untouched.
func (t *Task) TruncateHistory(n int) *Task {
	if n <= 0 || len(t.History) <= n {
		return t
	}
	clone := *t
	clone.History = t.History[len(t.History)-n:]
	return &clone
}

// AgentMessageFromArtifacts builds one synthetic agent message whose parts
// are the concatenation of every artifact's parts. It returns false when the
// task has no artifacts.
func (t *Task) AgentMessageFromArtifacts() (Message, bool) {
	var parts []Part
	for _, artifact := range t.Artifacts {
		parts = append(parts, artifact.Parts...)
	}
	if len(parts) == 0 {
		return Message{}, false
	}
	return NewAgentMessage(parts, t.Metadata), true
}

// Copyright 2025 The agentwire Authors
// SPDX-License-Identifier: Apache-2.0

package agentwire

import (
	"fmt"
)

// StatusEnvelope is a handler return value pairing an explicit task state
// with a content payload. The task builder takes the status verbatim and
// normalizes the content into artifacts.
type StatusEnvelope struct {
	State     TaskState      `json:"status"`
	SessionID string         `json:"sessionId,omitzero"`
	Content   any            `json:"content,omitzero"`
	Final     bool           `json:"final,omitzero"`
	Metadata  map[string]any `json:"metadata,omitzero"`
}

// Validate ensures the envelope carries a known state.
func (e *StatusEnvelope) Validate() error {
	if !e.State.Valid() {
		return fmt.Errorf("invalid task state: %q", e.State)
	}
	return nil
}

// StreamChunk is one unit of streaming handler output bound to an artifact
// index. Content may be a string, []byte, a Part, an *Artifact, or a list of
// these; the streaming normalizer turns it into a part list.
type StreamChunk struct {
	Content  any            `json:"content"`
	Index    int            `json:"index,omitzero"`
	Append   bool           `json:"append,omitzero"`
	Final    bool           `json:"final,omitzero"`
	Metadata map[string]any `json:"metadata,omitzero"`
}

// StateData is the durable per-task bundle: the canonical task, the
// policy-derived context history fed to downstream reasoning (distinct from
// the raw audit-trail history on the task), and the task's push notification
// configuration.
type StateData struct {
	TaskID                 string                  `json:"taskId"`
	Task                   *Task                   `json:"task"`
	ContextHistory         []Message               `json:"contextHistory,omitzero"`
	PushNotificationConfig *PushNotificationConfig `json:"pushNotificationConfig,omitzero"`
}

// Validate ensures the bundle is internally consistent.
func (sd *StateData) Validate() error {
	if sd.TaskID == "" {
		return fmt.Errorf("state data task ID cannot be empty")
	}
	if sd.Task == nil {
		return fmt.Errorf("state data task cannot be nil")
	}
	if sd.Task.ID != sd.TaskID {
		return fmt.Errorf("state data task ID mismatch: %s vs %s", sd.Task.ID, sd.TaskID)
	}
	return nil
}

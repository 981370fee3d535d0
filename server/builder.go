// Copyright 2025 The agentwire Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/base64"
	"fmt"
	"reflect"

	"github.com/bytedance/sonic"

	"github.com/agentwire/agentwire"
)

// TaskBuilder normalizes the many shapes a handler may return into a
// canonical *agentwire.Task. Dispatch order: a *Task passes through with
// gaps backfilled, a *StatusEnvelope carries an explicit status, a map
// conforming to the Task schema is decoded, and anything else is treated
// as loose content folded into a single artifact under the default status.
type TaskBuilder struct {
	// DefaultState is the status assigned when the handler result carries
	// none. Send paths default to COMPLETED, cancel paths to CANCELED.
	DefaultState agentwire.TaskState
}

// NewTaskBuilder creates a TaskBuilder with the given default state.
func NewTaskBuilder(state agentwire.TaskState) *TaskBuilder {
	return &TaskBuilder{DefaultState: state}
}

// Build normalizes content into a task addressed by taskID. The supplied
// history and metadata fill any gaps the content leaves open.
func (b *TaskBuilder) Build(content any, taskID, sessionID string, metadata map[string]any, history []agentwire.Message) (*agentwire.Task, error) {
	switch v := content.(type) {
	case *agentwire.Task:
		return b.fromTask(v, sessionID, metadata, history), nil
	case agentwire.Task:
		return b.fromTask(&v, sessionID, metadata, history), nil
	case *agentwire.StatusEnvelope:
		return b.fromEnvelope(v, taskID, sessionID, metadata, history)
	case agentwire.StatusEnvelope:
		return b.fromEnvelope(&v, taskID, sessionID, metadata, history)
	case map[string]any:
		if task, ok := b.fromTaskMap(v, sessionID, metadata, history); ok {
			return task, nil
		}
	}

	artifacts, err := normalizeContent(content)
	if err != nil {
		return nil, err
	}
	return &agentwire.Task{
		ID:        taskID,
		SessionID: sessionID,
		Status:    agentwire.NewTaskStatus(b.DefaultState),
		Artifacts: artifacts,
		History:   history,
		Metadata:  metadata,
	}, nil
}

// NormalizeFromStatus builds a task that carries only a status transition,
// for cancel results and status-only envelopes with no content.
func (b *TaskBuilder) NormalizeFromStatus(state agentwire.TaskState, taskID, sessionID string, metadata map[string]any, history []agentwire.Message) *agentwire.Task {
	return &agentwire.Task{
		ID:        taskID,
		SessionID: sessionID,
		Status:    agentwire.NewTaskStatus(state),
		History:   history,
		Metadata:  metadata,
	}
}

func (b *TaskBuilder) fromTask(task *agentwire.Task, sessionID string, metadata map[string]any, history []agentwire.Message) *agentwire.Task {
	if task.SessionID == "" {
		task.SessionID = sessionID
	}
	if task.Status.State == "" {
		task.Status = agentwire.NewTaskStatus(b.DefaultState)
	}
	if len(history) > 0 && !historyHasPrefix(task.History, history) {
		task.History = append(append([]agentwire.Message{}, history...), task.History...)
	}
	if task.Metadata == nil {
		task.Metadata = metadata
	}
	return task
}

// historyHasPrefix reports whether existing already starts with the supplied
// call history, as when a handler returns the stored task itself.
func historyHasPrefix(existing, prefix []agentwire.Message) bool {
	if len(existing) < len(prefix) {
		return false
	}
	for i := range prefix {
		if !reflect.DeepEqual(existing[i], prefix[i]) {
			return false
		}
	}
	return true
}

func (b *TaskBuilder) fromEnvelope(env *agentwire.StatusEnvelope, taskID, sessionID string, metadata map[string]any, history []agentwire.Message) (*agentwire.Task, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}

	artifacts, err := normalizeContent(env.Content)
	if err != nil {
		return nil, err
	}
	if env.SessionID != "" {
		sessionID = env.SessionID
	}
	merged := metadata
	if len(env.Metadata) > 0 {
		merged = make(map[string]any, len(metadata)+len(env.Metadata))
		for k, v := range metadata {
			merged[k] = v
		}
		for k, v := range env.Metadata {
			merged[k] = v
		}
	}
	return &agentwire.Task{
		ID:        taskID,
		SessionID: sessionID,
		Status:    agentwire.NewTaskStatus(env.State),
		Artifacts: artifacts,
		History:   history,
		Metadata:  merged,
	}, nil
}

// fromTaskMap attempts to decode a generic map as a full Task. A map that
// does not conform falls back to loose-content normalization.
func (b *TaskBuilder) fromTaskMap(m map[string]any, sessionID string, metadata map[string]any, history []agentwire.Message) (*agentwire.Task, bool) {
	raw, err := sonic.ConfigDefault.Marshal(m)
	if err != nil {
		return nil, false
	}
	var task agentwire.Task
	if err := sonic.ConfigDefault.Unmarshal(raw, &task); err != nil {
		return nil, false
	}
	if task.ID == "" || !task.Status.State.Valid() {
		return nil, false
	}
	return b.fromTask(&task, sessionID, metadata, history), true
}

// normalizeContent turns loose handler output into artifacts. Artifacts pass
// through; everything else collapses into a single artifact at index 0.
func normalizeContent(content any) ([]*agentwire.Artifact, error) {
	switch v := content.(type) {
	case nil:
		return nil, nil
	case *agentwire.Artifact:
		return []*agentwire.Artifact{v}, nil
	case agentwire.Artifact:
		return []*agentwire.Artifact{&v}, nil
	case []*agentwire.Artifact:
		return v, nil
	case []any:
		if artifacts, ok := allArtifacts(v); ok {
			return artifacts, nil
		}
		parts, err := partsFromMixed(v)
		if err != nil {
			return nil, err
		}
		if len(parts) == 0 {
			return nil, nil
		}
		return []*agentwire.Artifact{{Parts: parts}}, nil
	}

	part, err := contentPart(content)
	if err != nil {
		return nil, err
	}
	return []*agentwire.Artifact{{Parts: agentwire.PartList{part}}}, nil
}

func allArtifacts(items []any) ([]*agentwire.Artifact, bool) {
	if len(items) == 0 {
		return nil, false
	}
	artifacts := make([]*agentwire.Artifact, 0, len(items))
	for _, item := range items {
		a, ok := item.(*agentwire.Artifact)
		if !ok {
			return nil, false
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, true
}

// partsFromMixed flattens a heterogeneous list into one part list. Artifacts
// in the list contribute their own parts; loose items become parts.
func partsFromMixed(items []any) (agentwire.PartList, error) {
	var parts agentwire.PartList
	for _, item := range items {
		if a, ok := item.(*agentwire.Artifact); ok {
			parts = append(parts, a.Parts...)
			continue
		}
		part, err := contentPart(item)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	return parts, nil
}

// contentPart coerces one loose item into a Part.
func contentPart(item any) (agentwire.Part, error) {
	switch v := item.(type) {
	case agentwire.Part:
		return v, nil
	case string:
		return agentwire.NewTextPart(v), nil
	case []byte:
		return agentwire.NewFilePart(agentwire.FileContent{
			Bytes: base64.StdEncoding.EncodeToString(v),
		}), nil
	case map[string]any:
		raw, err := sonic.ConfigDefault.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode content map: %w", err)
		}
		if part, err := agentwire.UnmarshalPart(raw); err == nil {
			return part, nil
		}
		return agentwire.NewDataPart(v), nil
	default:
		return agentwire.NewTextPart(fmt.Sprint(v)), nil
	}
}

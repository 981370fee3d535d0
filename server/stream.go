// Copyright 2025 The agentwire Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/base64"
	"fmt"

	"github.com/agentwire/agentwire"
)

// chunkState tracks continuation per artifact index: how many chunks have
// arrived and whether one of them already declared itself last.
type chunkState struct {
	ordinal      int
	sawLastChunk bool
}

// eventNormalizer turns raw streaming handler output into protocol events.
// It is single-goroutine state owned by one subscription.
type eventNormalizer struct {
	taskID string
	states map[int]*chunkState
}

func newEventNormalizer(taskID string) *eventNormalizer {
	return &eventNormalizer{
		taskID: taskID,
		states: make(map[int]*chunkState),
	}
}

// normalize maps one handler chunk to an event. Chunks that are already
// events pass through. A StatusEnvelope or bare TaskState becomes a status
// update; everything else becomes an artifact update whose append and
// lastChunk flags are derived from per-index continuation state. An
// unrecognized chunk yields an invalid-params error without ending the
// stream.
func (n *eventNormalizer) normalize(chunk any) (agentwire.Event, *agentwire.Error) {
	switch v := chunk.(type) {
	case *agentwire.TaskStatusUpdateEvent:
		return v, nil
	case *agentwire.TaskArtifactUpdateEvent:
		return v, nil
	case *agentwire.StatusEnvelope:
		return n.statusEvent(v)
	case agentwire.StatusEnvelope:
		return n.statusEvent(&v)
	case agentwire.TaskState:
		return n.statusEvent(&agentwire.StatusEnvelope{State: v})
	case *agentwire.StreamChunk:
		return n.artifactEvent(v)
	case agentwire.StreamChunk:
		return n.artifactEvent(&v)
	}

	parts, err := streamParts(chunk)
	if err != nil {
		return nil, agentwire.NewInvalidParamsError().WithData(err.Error())
	}
	return n.emit(parts, 0, false, false, nil), nil
}

func (n *eventNormalizer) statusEvent(env *agentwire.StatusEnvelope) (agentwire.Event, *agentwire.Error) {
	if err := env.Validate(); err != nil {
		return nil, agentwire.NewInvalidParamsError().WithData(err.Error())
	}
	return &agentwire.TaskStatusUpdateEvent{
		ID:       n.taskID,
		Status:   agentwire.NewTaskStatus(env.State),
		Final:    env.Final || env.State == agentwire.TaskStateCompleted,
		Metadata: env.Metadata,
	}, nil
}

func (n *eventNormalizer) artifactEvent(chunk *agentwire.StreamChunk) (agentwire.Event, *agentwire.Error) {
	if chunk.Index < 0 {
		return nil, agentwire.NewInvalidParamsError().WithData("chunk index cannot be negative")
	}
	parts, err := streamParts(chunk.Content)
	if err != nil {
		return nil, agentwire.NewInvalidParamsError().WithData(err.Error())
	}
	return n.emit(parts, chunk.Index, chunk.Append, chunk.Final, chunk.Metadata), nil
}

// emit builds the artifact update and advances the continuation state for
// its index. A chunk appends when it says so or when it is not the first at
// its index; lastChunk is sticky once any chunk at the index declares it.
func (n *eventNormalizer) emit(parts agentwire.PartList, index int, appendFlag, final bool, metadata map[string]any) agentwire.Event {
	st, ok := n.states[index]
	if !ok {
		st = &chunkState{}
		n.states[index] = st
	}

	artifact := &agentwire.Artifact{
		Parts:     parts,
		Index:     index,
		Append:    appendFlag || st.ordinal > 0,
		LastChunk: final || st.sawLastChunk,
		Metadata:  metadata,
	}

	st.ordinal++
	if final {
		st.sawLastChunk = true
	}

	return &agentwire.TaskArtifactUpdateEvent{
		ID:       n.taskID,
		Artifact: artifact,
		Metadata: metadata,
	}
}

// streamParts coerces raw chunk content into a part list.
func streamParts(content any) (agentwire.PartList, error) {
	switch v := content.(type) {
	case string:
		return agentwire.PartList{agentwire.NewTextPart(v)}, nil
	case []byte:
		return agentwire.PartList{agentwire.NewFilePart(agentwire.FileContent{
			Bytes: base64.StdEncoding.EncodeToString(v),
		})}, nil
	case agentwire.Part:
		return agentwire.PartList{v}, nil
	case *agentwire.Artifact:
		return v.Parts, nil
	case agentwire.PartList:
		return v, nil
	case []agentwire.Part:
		return v, nil
	case []string:
		parts := make(agentwire.PartList, 0, len(v))
		for _, s := range v {
			parts = append(parts, agentwire.NewTextPart(s))
		}
		return parts, nil
	case []any:
		var parts agentwire.PartList
		for _, item := range v {
			sub, err := streamParts(item)
			if err != nil {
				return nil, err
			}
			parts = append(parts, sub...)
		}
		return parts, nil
	default:
		return nil, fmt.Errorf("unsupported stream chunk content type %T", content)
	}
}

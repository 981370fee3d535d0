// Copyright 2025 The agentwire Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/agentwire/agentwire"
	"github.com/agentwire/agentwire/state"
)

// handleSendSubscribe runs the tasks/sendSubscribe pipeline: materialize
// state, start the handler as a producer goroutine, and relay its chunks as
// server-sent events. Every event is persisted before it is emitted, so
// stored state is never behind what a subscriber has seen.
func (s *Server) handleSendSubscribe(ctx context.Context, w http.ResponseWriter, req *agentwire.Request) {
	var params agentwire.TaskSendParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		s.writeResponse(w, agentwire.NewErrorResponse(req.ID, rpcErr))
		return
	}

	reg, ok := s.registry.Lookup(agentwire.MethodTasksSendSubscribe)
	if !ok {
		s.writeResponse(w, agentwire.NewErrorResponse(req.ID, agentwire.NewMethodNotFoundError()))
		return
	}
	handler := reg.handler.(StreamHandler)

	stateData, rpcErr := s.materializeState(ctx, &params)
	if rpcErr != nil {
		s.writeResponse(w, agentwire.NewErrorResponse(req.ID, rpcErr))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeResponse(w, agentwire.NewErrorResponse(req.ID, agentwire.NewInternalError().WithData("streaming not supported by connection")))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The handler produces into the channel; yield fails once the
	// subscriber's context is gone, telling the producer to stop.
	chunks := make(chan any)
	handlerErr := make(chan error, 1)
	go func() {
		yield := func(chunk any) error {
			select {
			case chunks <- chunk:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		handlerErr <- handler(ctx, &params, stateData, yield)
		close(chunks)
	}()

	normalizer := newEventNormalizer(params.ID)
	for chunk := range chunks {
		event, rpcErr := normalizer.normalize(chunk)
		if rpcErr != nil {
			// Malformed chunks report an error frame without ending
			// the stream.
			s.writeFrame(w, flusher, agentwire.NewErrorResponse(req.ID, rpcErr))
			continue
		}

		if err := s.persistEvent(ctx, reg, stateData, event); err != nil {
			s.writeFrame(w, flusher, agentwire.NewErrorResponse(req.ID, agentwire.AsError(err)))
			return
		}
		s.writeFrame(w, flusher, agentwire.NewResponse(req.ID, event))
	}

	if err := <-handlerErr; err != nil && ctx.Err() == nil {
		s.writeFrame(w, flusher, agentwire.NewErrorResponse(req.ID, streamError(err)))
	}
}

// persistEvent folds one streaming event into durable state before it goes
// on the wire. The fold re-reads the record inside the task's exclusive
// section, so a webhook result applied between events is kept. Storeless
// engines skip persistence and webhook forwarding.
func (s *Server) persistEvent(ctx context.Context, reg registration, stateData *agentwire.StateData, event agentwire.Event) error {
	if stateData == nil {
		return nil
	}

	return s.states.WithTask(stateData.TaskID, func(tx *state.Tx) error {
		current, err := tx.Get(ctx)
		if err != nil {
			return err
		}

		task := current.Task
		switch e := event.(type) {
		case *agentwire.TaskArtifactUpdateEvent:
			task.Artifacts = agentwire.MergeArtifact(task.Artifacts, e.Artifact)
			if len(e.Artifact.Parts) > 0 {
				agentMsg := agentwire.NewAgentMessage(e.Artifact.Parts, e.Artifact.Metadata)
				task.History = append(task.History, agentMsg)
				current.ContextHistory = s.states.Strategy().UpdateHistory(current.ContextHistory, []agentwire.Message{agentMsg})
			}
		case *agentwire.TaskStatusUpdateEvent:
			task.Status = e.Status
		default:
			return nil
		}

		if err := tx.Update(ctx, current); err != nil {
			return err
		}
		s.forwardResult(ctx, reg, current, task)
		return nil
	})
}

// streamError maps a handler failure to its terminal error frame. Protocol
// errors pass through; a missing-task failure keeps its domain code.
func streamError(err error) *agentwire.Error {
	if rpcErr, ok := err.(*agentwire.Error); ok {
		return rpcErr
	}
	if strings.Contains(strings.ToLower(err.Error()), "not found") {
		return agentwire.NewTaskNotFoundError()
	}
	return agentwire.NewInternalError().WithData(err.Error())
}

// writeFrame emits one SSE data frame carrying a JSON-RPC envelope.
func (s *Server) writeFrame(w http.ResponseWriter, flusher http.Flusher, resp *agentwire.Response) {
	payload, err := sonic.ConfigDefault.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to encode stream frame", slog.String("error", err.Error()))
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}

// Copyright 2025 The agentwire Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/bytedance/sonic"

	"github.com/agentwire/agentwire"
	"github.com/agentwire/agentwire/state"
)

// handleInboundWebhook accepts an externally produced task result. The
// result is merged into durable state, the optional webhook hook runs and
// may rewrite the task, and the final snapshot is forwarded to the task's
// push notification URL. The endpoint always answers with an
// acknowledgement body, never a protocol error.
func (s *Server) handleInboundWebhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req agentwire.WebhookRequest
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeWebhookResponse(w, &agentwire.WebhookResponse{Error: "malformed webhook request"})
		return
	}
	if err := req.Validate(); err != nil {
		s.writeWebhookResponse(w, &agentwire.WebhookResponse{ID: req.ID, Error: err.Error()})
		return
	}

	ctx := r.Context()
	resp := s.processWebhook(ctx, &req)
	s.writeWebhookResponse(w, resp)
}

func (s *Server) processWebhook(ctx context.Context, req *agentwire.WebhookRequest) *agentwire.WebhookResponse {
	if s.states == nil {
		return s.completeWebhook(ctx, req, nil, nil)
	}

	// The merge, the hook, and the forward run inside the task's exclusive
	// section so a racing send cannot interleave with them.
	var resp *agentwire.WebhookResponse
	err := s.states.WithTask(req.ID, func(tx *state.Tx) error {
		var stateData *agentwire.StateData
		var err error
		if req.Result != nil {
			stateData, err = tx.ApplyWebhookResult(ctx, req.Result)
		} else {
			stateData, err = tx.Get(ctx)
		}
		if err != nil {
			resp = &agentwire.WebhookResponse{ID: req.ID, Error: agentwire.AsError(err).Message}
			return nil
		}
		resp = s.completeWebhook(ctx, req, stateData, tx)
		return nil
	})
	if err != nil {
		return &agentwire.WebhookResponse{ID: req.ID, Error: agentwire.AsError(err).Message}
	}
	return resp
}

func (s *Server) completeWebhook(ctx context.Context, req *agentwire.WebhookRequest, stateData *agentwire.StateData, tx *state.Tx) *agentwire.WebhookResponse {
	if hook := s.registry.Webhook(); hook != nil {
		result, err := hook(ctx, req, stateData)
		if err != nil {
			return &agentwire.WebhookResponse{ID: req.ID, Error: agentwire.AsError(err).Message}
		}
		if result != nil {
			if rpcErr := s.mergeWebhookResult(ctx, req.ID, result, stateData, tx); rpcErr != nil {
				return &agentwire.WebhookResponse{ID: req.ID, Error: rpcErr.Message}
			}
		}
	}

	// Forward the final snapshot to the task's push notification URL.
	if stateData != nil && stateData.PushNotificationConfig != nil {
		if err := s.webhooks.Deliver(ctx, stateData.PushNotificationConfig.URL, req.ID, stateData.Task); err != nil {
			s.logger.WarnContext(ctx, "push notification failed", slog.String("task_id", req.ID), slog.String("error", err.Error()))
			return &agentwire.WebhookResponse{ID: req.ID, Accepted: true, Error: "push notification failed"}
		}
	}

	return &agentwire.WebhookResponse{ID: req.ID, Accepted: true}
}

// mergeWebhookResult folds a hook's rewritten result into state the same way
// a send result is folded.
func (s *Server) mergeWebhookResult(ctx context.Context, taskID string, result any, stateData *agentwire.StateData, tx *state.Tx) *agentwire.Error {
	sessionID := ""
	var taskHistory []agentwire.Message
	if stateData != nil {
		sessionID = stateData.Task.SessionID
		taskHistory = append(taskHistory, stateData.Task.History...)
	}

	task, err := NewTaskBuilder(agentwire.TaskStateCompleted).Build(result, taskID, sessionID, nil, taskHistory)
	if err != nil {
		return agentwire.AsError(err)
	}
	if task.ID != taskID {
		return agentwire.NewInvalidParamsError().WithData("task id mismatch")
	}

	if stateData == nil {
		return nil
	}

	if agentMsg, ok := task.AgentMessageFromArtifacts(); ok {
		task.History = append(task.History, agentMsg)
		stateData.ContextHistory = s.states.Strategy().UpdateHistory(stateData.ContextHistory, []agentwire.Message{agentMsg})
	}
	stateData.Task = task
	if err := tx.Update(ctx, stateData); err != nil {
		return agentwire.AsError(err)
	}
	return nil
}

func (s *Server) writeWebhookResponse(w http.ResponseWriter, resp *agentwire.WebhookResponse) {
	payload, err := sonic.ConfigDefault.Marshal(resp)
	if err != nil {
		http.Error(w, "failed to encode webhook response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(payload)
}

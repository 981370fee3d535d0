// Copyright 2025 The agentwire Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/bytedance/sonic"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentwire/agentwire"
	"github.com/agentwire/agentwire/state"
)

// handleRPC decodes the JSON-RPC envelope and routes to the method branch.
// Envelope failures answer with protocol errors; only sendSubscribe takes
// over the connection for streaming.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req agentwire.Request
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeResponse(w, agentwire.NewErrorResponse(nil, agentwire.NewParseError()))
		return
	}
	if err := req.Validate(); err != nil {
		s.writeResponse(w, agentwire.NewErrorResponse(req.ID, agentwire.NewInvalidRequestError().WithData(err.Error())))
		return
	}

	ctx, span := s.tracer.Start(r.Context(), "server.rpc",
		trace.WithAttributes(attribute.String("rpc.method", req.Method)))
	defer span.End()

	switch req.Method {
	case agentwire.MethodTasksSend:
		s.writeResponse(w, s.handleSend(ctx, &req))
	case agentwire.MethodTasksSendSubscribe:
		s.handleSendSubscribe(ctx, w, &req)
	case agentwire.MethodTasksGet:
		s.writeResponse(w, s.handleGet(ctx, &req))
	case agentwire.MethodTasksCancel:
		s.writeResponse(w, s.handleCancel(ctx, &req))
	case agentwire.MethodTasksPushNotificationSet:
		s.writeResponse(w, s.handlePushSet(ctx, &req))
	case agentwire.MethodTasksPushNotificationGet:
		s.writeResponse(w, s.handlePushGet(ctx, &req))
	default:
		s.writeResponse(w, agentwire.NewErrorResponse(req.ID, agentwire.NewMethodNotFoundError()))
	}
}

// decodeParams unmarshals and validates method parameters.
func decodeParams[T interface{ Validate() error }](req *agentwire.Request, params T) *agentwire.Error {
	if len(req.Params) == 0 {
		return agentwire.NewInvalidParamsError().WithData("params are required")
	}
	if err := sonic.ConfigDefault.Unmarshal(req.Params, params); err != nil {
		return agentwire.NewInvalidParamsError().WithData(err.Error())
	}
	if err := params.Validate(); err != nil {
		return agentwire.NewInvalidParamsError().WithData(err.Error())
	}
	return nil
}

// handleSend runs the tasks/send pipeline: materialize state, invoke the
// handler, normalize its result into a task, fold the result back into
// state, and fire the webhook forward when configured. On a stateful engine
// the whole cycle holds the task's exclusive section, so a webhook result
// landing mid-send cannot be lost.
func (s *Server) handleSend(ctx context.Context, req *agentwire.Request) *agentwire.Response {
	var params agentwire.TaskSendParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return agentwire.NewErrorResponse(req.ID, rpcErr)
	}

	reg, ok := s.registry.Lookup(agentwire.MethodTasksSend)
	if !ok {
		return agentwire.NewErrorResponse(req.ID, agentwire.NewMethodNotFoundError())
	}
	handler := reg.handler.(SendHandler)

	if s.states == nil {
		return s.completeSend(ctx, req, &params, reg, handler, nil, nil)
	}

	var resp *agentwire.Response
	err := s.states.WithTask(params.ID, func(tx *state.Tx) error {
		stateData, err := tx.GetOrCreate(ctx, params.SessionID, params.Message, params.Metadata, params.PushNotification)
		if err != nil {
			return err
		}
		resp = s.completeSend(ctx, req, &params, reg, handler, stateData, tx)
		return nil
	})
	if err != nil {
		return agentwire.NewErrorResponse(req.ID, agentwire.AsError(err))
	}
	return resp
}

// completeSend invokes the send handler and folds its result into the
// response and, when stateful, into the stored record through tx. The task
// metadata fed to the builder is the state's merged metadata, so keys from
// earlier sends survive later ones.
func (s *Server) completeSend(ctx context.Context, req *agentwire.Request, params *agentwire.TaskSendParams, reg registration, handler SendHandler, stateData *agentwire.StateData, tx *state.Tx) *agentwire.Response {
	result, err := handler(ctx, params, stateData)
	if err != nil {
		return agentwire.NewErrorResponse(req.ID, agentwire.AsError(err))
	}

	sessionID := params.SessionID
	metadata := params.Metadata
	var taskHistory []agentwire.Message
	if stateData != nil {
		sessionID = stateData.Task.SessionID
		metadata = stateData.Task.Metadata
		taskHistory = append(taskHistory, stateData.Task.History...)
	} else {
		taskHistory = []agentwire.Message{params.Message}
	}

	builder := NewTaskBuilder(agentwire.TaskStateCompleted)
	task, err := builder.Build(result, params.ID, sessionID, metadata, taskHistory)
	if err != nil {
		return agentwire.NewErrorResponse(req.ID, agentwire.AsError(err))
	}
	if task.ID != params.ID {
		return agentwire.NewErrorResponse(req.ID, agentwire.NewInvalidParamsError().WithData("task id mismatch"))
	}

	if agentMsg, ok := task.AgentMessageFromArtifacts(); ok {
		task.History = append(task.History, agentMsg)
		if stateData != nil {
			stateData.ContextHistory = s.states.Strategy().UpdateHistory(stateData.ContextHistory, []agentwire.Message{agentMsg})
		}
	}

	if stateData != nil {
		stateData.Task = task
		if err := tx.Update(ctx, stateData); err != nil {
			return agentwire.NewErrorResponse(req.ID, agentwire.AsError(err))
		}
	}

	s.forwardResult(ctx, reg, stateData, task)

	return agentwire.NewResponse(req.ID, task.TruncateHistory(params.HistoryLength))
}

// forwardResult fires the webhook forward for a registration that opted in.
// Delivery is best-effort; failures are logged and swallowed.
func (s *Server) forwardResult(ctx context.Context, reg registration, stateData *agentwire.StateData, task *agentwire.Task) {
	if !reg.forwardToWebhook || stateData == nil || stateData.PushNotificationConfig == nil {
		return
	}
	if err := s.webhooks.Deliver(ctx, stateData.PushNotificationConfig.URL, task.ID, task); err != nil {
		s.logger.WarnContext(ctx, "webhook forward failed", slog.String("task_id", task.ID), slog.String("error", err.Error()))
	}
}

// handleGet serves tasks/get. Stateful engines answer from the store;
// storeless engines delegate to the registered handler.
func (s *Server) handleGet(ctx context.Context, req *agentwire.Request) *agentwire.Response {
	var params agentwire.TaskQueryParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return agentwire.NewErrorResponse(req.ID, rpcErr)
	}

	if s.states != nil {
		stateData, err := s.states.Get(ctx, params.ID)
		if errors.Is(err, state.ErrNotFound) {
			return agentwire.NewErrorResponse(req.ID, agentwire.NewTaskNotFoundError())
		}
		if err != nil {
			return agentwire.NewErrorResponse(req.ID, agentwire.AsError(err))
		}
		return agentwire.NewResponse(req.ID, stateData.Task.TruncateHistory(params.HistoryLength))
	}

	reg, ok := s.registry.Lookup(agentwire.MethodTasksGet)
	if !ok {
		return agentwire.NewErrorResponse(req.ID, agentwire.NewMethodNotFoundError())
	}
	handler := reg.handler.(GetHandler)

	result, err := handler(ctx, &params)
	if err != nil {
		return agentwire.NewErrorResponse(req.ID, agentwire.AsError(err))
	}

	task, err := NewTaskBuilder(agentwire.TaskStateCompleted).Build(result, params.ID, "", params.Metadata, nil)
	if err != nil {
		return agentwire.NewErrorResponse(req.ID, agentwire.AsError(err))
	}
	if task.ID != params.ID {
		return agentwire.NewErrorResponse(req.ID, agentwire.NewInvalidParamsError().WithData("task id mismatch"))
	}
	return agentwire.NewResponse(req.ID, task.TruncateHistory(params.HistoryLength))
}

// handleCancel serves tasks/cancel. A cancel succeeds only when the task
// lands in COMPLETED or CANCELED; any other resulting state answers with
// the not-cancelable error. Stateful engines run the whole cycle inside the
// task's exclusive section.
func (s *Server) handleCancel(ctx context.Context, req *agentwire.Request) *agentwire.Response {
	var params agentwire.TaskIDParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return agentwire.NewErrorResponse(req.ID, rpcErr)
	}

	if s.states == nil {
		return s.completeCancel(ctx, req, &params, nil, nil)
	}

	var resp *agentwire.Response
	err := s.states.WithTask(params.ID, func(tx *state.Tx) error {
		stateData, err := tx.Get(ctx)
		if errors.Is(err, state.ErrNotFound) {
			resp = agentwire.NewErrorResponse(req.ID, agentwire.NewTaskNotFoundError())
			return nil
		}
		if err != nil {
			return err
		}
		resp = s.completeCancel(ctx, req, &params, stateData, tx)
		return nil
	})
	if err != nil {
		return agentwire.NewErrorResponse(req.ID, agentwire.AsError(err))
	}
	return resp
}

func (s *Server) completeCancel(ctx context.Context, req *agentwire.Request, params *agentwire.TaskIDParams, stateData *agentwire.StateData, tx *state.Tx) *agentwire.Response {
	builder := NewTaskBuilder(agentwire.TaskStateCanceled)

	reg, ok := s.registry.Lookup(agentwire.MethodTasksCancel)
	if !ok {
		if stateData == nil {
			return agentwire.NewErrorResponse(req.ID, agentwire.NewMethodNotFoundError())
		}
		// No cancel handler: a stateful engine cancels directly.
		stateData.Task.Status = agentwire.NewTaskStatus(agentwire.TaskStateCanceled)
		if err := tx.Update(ctx, stateData); err != nil {
			return agentwire.NewErrorResponse(req.ID, agentwire.AsError(err))
		}
		return agentwire.NewResponse(req.ID, stateData.Task)
	}
	handler := reg.handler.(CancelHandler)

	result, err := handler(ctx, params)
	if err != nil {
		return agentwire.NewErrorResponse(req.ID, agentwire.AsError(err))
	}

	sessionID := ""
	var taskHistory []agentwire.Message
	if stateData != nil {
		sessionID = stateData.Task.SessionID
		taskHistory = append(taskHistory, stateData.Task.History...)
	}

	task, err := builder.Build(result, params.ID, sessionID, params.Metadata, taskHistory)
	if err != nil {
		return agentwire.NewErrorResponse(req.ID, agentwire.AsError(err))
	}
	if task.ID != params.ID {
		return agentwire.NewErrorResponse(req.ID, agentwire.NewInvalidParamsError().WithData("task id mismatch"))
	}

	switch task.Status.State {
	case agentwire.TaskStateCompleted, agentwire.TaskStateCanceled:
	default:
		return agentwire.NewErrorResponse(req.ID, agentwire.NewTaskNotCancelableError())
	}

	if stateData != nil {
		stateData.Task.Status = task.Status
		for _, artifact := range task.Artifacts {
			stateData.Task.Artifacts = agentwire.MergeArtifact(stateData.Task.Artifacts, artifact)
		}
		if err := tx.Update(ctx, stateData); err != nil {
			return agentwire.NewErrorResponse(req.ID, agentwire.AsError(err))
		}
		return agentwire.NewResponse(req.ID, stateData.Task)
	}
	return agentwire.NewResponse(req.ID, task)
}

// handlePushSet serves tasks/pushNotification/set.
func (s *Server) handlePushSet(ctx context.Context, req *agentwire.Request) *agentwire.Response {
	var params agentwire.TaskPushNotificationConfig
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return agentwire.NewErrorResponse(req.ID, rpcErr)
	}

	if s.states != nil {
		var resp *agentwire.Response
		err := s.states.WithTask(params.ID, func(tx *state.Tx) error {
			stateData, err := tx.Get(ctx)
			if errors.Is(err, state.ErrNotFound) {
				resp = agentwire.NewErrorResponse(req.ID, agentwire.NewTaskNotFoundError())
				return nil
			}
			if err != nil {
				return err
			}
			cfg := params.PushNotificationConfig
			stateData.PushNotificationConfig = &cfg
			if err := tx.Update(ctx, stateData); err != nil {
				return err
			}
			resp = agentwire.NewResponse(req.ID, &params)
			return nil
		})
		if err != nil {
			return agentwire.NewErrorResponse(req.ID, agentwire.AsError(err))
		}
		return resp
	}

	reg, ok := s.registry.Lookup(agentwire.MethodTasksPushNotificationSet)
	if !ok {
		return agentwire.NewErrorResponse(req.ID, agentwire.NewPushNotificationNotSupportedError())
	}
	handler := reg.handler.(SetPushHandler)

	result, err := handler(ctx, &params)
	if err != nil {
		return agentwire.NewErrorResponse(req.ID, agentwire.AsError(err))
	}
	if result == nil {
		result = &params
	}
	return agentwire.NewResponse(req.ID, result)
}

// handlePushGet serves tasks/pushNotification/get.
func (s *Server) handlePushGet(ctx context.Context, req *agentwire.Request) *agentwire.Response {
	var params agentwire.TaskIDParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return agentwire.NewErrorResponse(req.ID, rpcErr)
	}

	if s.states != nil {
		stateData, err := s.states.Get(ctx, params.ID)
		if errors.Is(err, state.ErrNotFound) {
			return agentwire.NewErrorResponse(req.ID, agentwire.NewTaskNotFoundError())
		}
		if err != nil {
			return agentwire.NewErrorResponse(req.ID, agentwire.AsError(err))
		}
		if stateData.PushNotificationConfig == nil {
			return agentwire.NewResponse(req.ID, nil)
		}
		return agentwire.NewResponse(req.ID, &agentwire.TaskPushNotificationConfig{
			ID:                     params.ID,
			PushNotificationConfig: *stateData.PushNotificationConfig,
		})
	}

	reg, ok := s.registry.Lookup(agentwire.MethodTasksPushNotificationGet)
	if !ok {
		return agentwire.NewErrorResponse(req.ID, agentwire.NewPushNotificationNotSupportedError())
	}
	handler := reg.handler.(GetPushHandler)

	result, err := handler(ctx, &params)
	if err != nil {
		return agentwire.NewErrorResponse(req.ID, agentwire.AsError(err))
	}
	return agentwire.NewResponse(req.ID, result)
}

// materializeState resolves or creates state for a send. A nil manager
// means storeless mode and a nil bundle.
func (s *Server) materializeState(ctx context.Context, params *agentwire.TaskSendParams) (*agentwire.StateData, *agentwire.Error) {
	if s.states == nil {
		return nil, nil
	}
	stateData, err := s.states.GetOrCreate(ctx, params.ID, params.SessionID, params.Message, params.Metadata, params.PushNotification)
	if err != nil {
		return nil, agentwire.AsError(err)
	}
	return stateData, nil
}

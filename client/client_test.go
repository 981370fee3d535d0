// Copyright 2025 The agentwire Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agentwire/agentwire"
	"github.com/agentwire/agentwire/history"
	"github.com/agentwire/agentwire/server"
	"github.com/agentwire/agentwire/state"
)

func newTestAgent(t *testing.T) *httptest.Server {
	t.Helper()

	manager, err := state.NewManager(state.NewInMemoryStore(), history.Append{})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	srv := server.NewServer(
		server.WithStateManager(manager),
		server.WithAgentCard(&agentwire.AgentCard{
			Name:    "Echo Agent",
			URL:     "http://127.0.0.1:8080/rpc",
			Version: "1.0.0",
		}),
	)

	err = srv.OnSendTask(func(ctx context.Context, params *agentwire.TaskSendParams, st *agentwire.StateData) (any, error) {
		return "echo: " + params.Message.Parts.Text(), nil
	})
	if err != nil {
		t.Fatalf("OnSendTask failed: %v", err)
	}

	err = srv.OnSendTaskSubscribe(func(ctx context.Context, params *agentwire.TaskSendParams, st *agentwire.StateData, yield func(chunk any) error) error {
		if err := yield(&agentwire.StreamChunk{Content: "chunk one", Index: 0}); err != nil {
			return err
		}
		if err := yield(&agentwire.StreamChunk{Content: "chunk two", Index: 0, Final: true}); err != nil {
			return err
		}
		return yield(&agentwire.StatusEnvelope{State: agentwire.TaskStateCompleted, Final: true})
	})
	if err != nil {
		t.Fatalf("OnSendTaskSubscribe failed: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func userParams(taskID, text string) *agentwire.TaskSendParams {
	return &agentwire.TaskSendParams{
		ID: taskID,
		Message: agentwire.Message{
			Role:  agentwire.RoleUser,
			Parts: agentwire.PartList{agentwire.NewTextPart(text)},
		},
	}
}

func TestSendAndGetTask(t *testing.T) {
	ts := newTestAgent(t)
	c, err := New(ts.URL + server.DefaultRPCPath)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	task, err := c.SendTask(ctx, userParams("task-1", "hello"))
	if err != nil {
		t.Fatalf("SendTask failed: %v", err)
	}
	if task.Status.State != agentwire.TaskStateCompleted {
		t.Errorf("Expected state %s, got %s", agentwire.TaskStateCompleted, task.Status.State)
	}
	if len(task.Artifacts) != 1 || task.Artifacts[0].Parts.Text() != "echo: hello" {
		t.Errorf("Unexpected artifacts: %+v", task.Artifacts)
	}

	got, err := c.GetTask(ctx, &agentwire.TaskQueryParams{ID: "task-1"})
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.ID != "task-1" {
		t.Errorf("Expected id %q, got %q", "task-1", got.ID)
	}
}

func TestGetTaskError(t *testing.T) {
	ts := newTestAgent(t)
	c, err := New(ts.URL + server.DefaultRPCPath)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = c.GetTask(context.Background(), &agentwire.TaskQueryParams{ID: "missing"})
	rpcErr, ok := err.(*agentwire.Error)
	if !ok {
		t.Fatalf("Expected *agentwire.Error, got %T: %v", err, err)
	}
	if rpcErr.Code != agentwire.CodeTaskNotFound {
		t.Errorf("Expected code %d, got %d", agentwire.CodeTaskNotFound, rpcErr.Code)
	}
}

func TestSendTaskSubscribe(t *testing.T) {
	ts := newTestAgent(t)
	c, err := New(ts.URL + server.DefaultRPCPath)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	sub, err := c.SendTaskSubscribe(context.Background(), userParams("task-1", "stream"))
	if err != nil {
		t.Fatalf("SendTaskSubscribe failed: %v", err)
	}
	defer sub.Close()

	var events []StreamEvent
	for event := range sub.Events() {
		events = append(events, event)
	}

	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}
	if events[0].ArtifactUpdate == nil || events[0].ArtifactUpdate.Artifact.Append {
		t.Errorf("Expected non-appending artifact update first, got %+v", events[0])
	}
	if events[1].ArtifactUpdate == nil || !events[1].ArtifactUpdate.Artifact.Append {
		t.Errorf("Expected appending artifact update second, got %+v", events[1])
	}
	if events[2].StatusUpdate == nil || events[2].StatusUpdate.Status.State != agentwire.TaskStateCompleted {
		t.Errorf("Expected terminal status update, got %+v", events[2])
	}
}

func TestResolveAgentCard(t *testing.T) {
	ts := newTestAgent(t)

	card, err := ResolveAgentCard(context.Background(), http.DefaultClient, ts.URL)
	if err != nil {
		t.Fatalf("ResolveAgentCard failed: %v", err)
	}
	if card.Name != "Echo Agent" {
		t.Errorf("Expected card name %q, got %q", "Echo Agent", card.Name)
	}
}

func TestSendToWebhook(t *testing.T) {
	ts := newTestAgent(t)
	c, err := New(ts.URL + server.DefaultRPCPath)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	if _, err := c.SendTask(ctx, userParams("task-1", "start")); err != nil {
		t.Fatalf("SendTask failed: %v", err)
	}

	ack, err := c.SendToWebhook(ctx, ts.URL+server.DefaultWebhookPath, "task-1", &agentwire.Task{
		ID:     "task-1",
		Status: agentwire.NewTaskStatus(agentwire.TaskStateCompleted),
	})
	if err != nil {
		t.Fatalf("SendToWebhook failed: %v", err)
	}
	if !ack.Accepted {
		t.Errorf("Expected accepted ack, got %+v", ack)
	}
}

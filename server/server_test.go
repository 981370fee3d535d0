// Copyright 2025 The agentwire Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"github.com/agentwire/agentwire"
	"github.com/agentwire/agentwire/history"
	"github.com/agentwire/agentwire/state"
)

type rpcEnvelope struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      any              `json:"id"`
	Result  json.RawMessage  `json:"result"`
	Error   *agentwire.Error `json:"error"`
}

func newStatefulServer(t *testing.T) (*Server, *state.Manager) {
	t.Helper()
	manager, err := state.NewManager(state.NewInMemoryStore(), history.Append{})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return NewServer(WithStateManager(manager)), manager
}

func postRPC(t *testing.T, ts *httptest.Server, body string) *rpcEnvelope {
	t.Helper()
	resp, err := http.Post(ts.URL+DefaultRPCPath, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	var envelope rpcEnvelope
	if err := sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return &envelope
}

func callMethod(t *testing.T, ts *httptest.Server, method string, params any) *rpcEnvelope {
	t.Helper()
	rawParams, err := sonic.ConfigDefault.Marshal(params)
	if err != nil {
		t.Fatalf("Failed to encode params: %v", err)
	}
	return postRPC(t, ts, fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":%q,"params":%s}`, method, rawParams))
}

func sendParams(taskID, text string) *agentwire.TaskSendParams {
	return &agentwire.TaskSendParams{
		ID: taskID,
		Message: agentwire.Message{
			Role:  agentwire.RoleUser,
			Parts: agentwire.PartList{agentwire.NewTextPart(text)},
		},
	}
}

func decodeTask(t *testing.T, raw json.RawMessage) *agentwire.Task {
	t.Helper()
	var task agentwire.Task
	if err := sonic.ConfigDefault.Unmarshal(raw, &task); err != nil {
		t.Fatalf("Failed to decode task: %v", err)
	}
	return &task
}

func TestSendTask(t *testing.T) {
	srv, _ := newStatefulServer(t)
	if err := srv.OnSendTask(func(ctx context.Context, params *agentwire.TaskSendParams, st *agentwire.StateData) (any, error) {
		return "ok", nil
	}); err != nil {
		t.Fatalf("OnSendTask failed: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	envelope := callMethod(t, ts, agentwire.MethodTasksSend, sendParams("task-1", "hello"))
	if envelope.Error != nil {
		t.Fatalf("Unexpected error: %v", envelope.Error)
	}

	task := decodeTask(t, envelope.Result)
	if task.ID != "task-1" {
		t.Errorf("Expected task id %q, got %q", "task-1", task.ID)
	}
	if task.Status.State != agentwire.TaskStateCompleted {
		t.Errorf("Expected state %s, got %s", agentwire.TaskStateCompleted, task.Status.State)
	}
	if len(task.Artifacts) != 1 || task.Artifacts[0].Parts.Text() != "ok" {
		t.Errorf("Expected artifact %q, got %+v", "ok", task.Artifacts)
	}
	// History holds the user message plus the synthesized agent message.
	if len(task.History) != 2 {
		t.Fatalf("Expected 2 history entries, got %d", len(task.History))
	}
	if task.History[1].Role != agentwire.RoleAgent {
		t.Errorf("Expected synthesized agent message, got role %s", task.History[1].Role)
	}
}

func TestSendTaskGrowsHistory(t *testing.T) {
	srv, _ := newStatefulServer(t)
	if err := srv.OnSendTask(func(ctx context.Context, params *agentwire.TaskSendParams, st *agentwire.StateData) (any, error) {
		return "reply", nil
	}); err != nil {
		t.Fatalf("OnSendTask failed: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	for i := 1; i <= 3; i++ {
		envelope := callMethod(t, ts, agentwire.MethodTasksSend, sendParams("task-1", fmt.Sprintf("turn %d", i)))
		if envelope.Error != nil {
			t.Fatalf("Unexpected error on turn %d: %v", i, envelope.Error)
		}
		task := decodeTask(t, envelope.Result)
		if len(task.History) != 2*i {
			t.Errorf("Expected %d history entries after turn %d, got %d", 2*i, i, len(task.History))
		}
	}
}

func TestSendTaskHistoryLength(t *testing.T) {
	srv, _ := newStatefulServer(t)
	if err := srv.OnSendTask(func(ctx context.Context, params *agentwire.TaskSendParams, st *agentwire.StateData) (any, error) {
		return "reply", nil
	}); err != nil {
		t.Fatalf("OnSendTask failed: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	callMethod(t, ts, agentwire.MethodTasksSend, sendParams("task-1", "first"))
	params := sendParams("task-1", "second")
	params.HistoryLength = 1
	envelope := callMethod(t, ts, agentwire.MethodTasksSend, params)

	task := decodeTask(t, envelope.Result)
	if len(task.History) != 1 {
		t.Fatalf("Expected truncated history of 1, got %d", len(task.History))
	}
	// The newest entry survives truncation.
	if task.History[0].Role != agentwire.RoleAgent {
		t.Errorf("Expected newest entry kept, got role %s", task.History[0].Role)
	}
}

func TestGetTask(t *testing.T) {
	srv, _ := newStatefulServer(t)
	if err := srv.OnSendTask(func(ctx context.Context, params *agentwire.TaskSendParams, st *agentwire.StateData) (any, error) {
		return "done", nil
	}); err != nil {
		t.Fatalf("OnSendTask failed: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	callMethod(t, ts, agentwire.MethodTasksSend, sendParams("task-1", "hello"))
	envelope := callMethod(t, ts, agentwire.MethodTasksGet, &agentwire.TaskQueryParams{ID: "task-1"})
	if envelope.Error != nil {
		t.Fatalf("Unexpected error: %v", envelope.Error)
	}

	task := decodeTask(t, envelope.Result)
	if task.ID != "task-1" || task.Status.State != agentwire.TaskStateCompleted {
		t.Errorf("Unexpected task snapshot: id=%s state=%s", task.ID, task.Status.State)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	srv, _ := newStatefulServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	envelope := callMethod(t, ts, agentwire.MethodTasksGet, &agentwire.TaskQueryParams{ID: "missing"})
	if envelope.Error == nil || envelope.Error.Code != agentwire.CodeTaskNotFound {
		t.Fatalf("Expected task-not-found, got %v", envelope.Error)
	}
}

func TestCancelTaskNotCancelable(t *testing.T) {
	srv, _ := newStatefulServer(t)
	if err := srv.OnSendTask(func(ctx context.Context, params *agentwire.TaskSendParams, st *agentwire.StateData) (any, error) {
		return "working on it", nil
	}); err != nil {
		t.Fatalf("OnSendTask failed: %v", err)
	}
	if err := srv.OnCancelTask(func(ctx context.Context, params *agentwire.TaskIDParams) (any, error) {
		return &agentwire.StatusEnvelope{State: agentwire.TaskStateWorking}, nil
	}); err != nil {
		t.Fatalf("OnCancelTask failed: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	callMethod(t, ts, agentwire.MethodTasksSend, sendParams("task-1", "start"))
	envelope := callMethod(t, ts, agentwire.MethodTasksCancel, &agentwire.TaskIDParams{ID: "task-1"})
	if envelope.Error == nil || envelope.Error.Code != agentwire.CodeTaskNotCancelable {
		t.Fatalf("Expected task-not-cancelable, got %v", envelope.Error)
	}
}

func TestCancelTaskDefaultState(t *testing.T) {
	srv, _ := newStatefulServer(t)
	if err := srv.OnSendTask(func(ctx context.Context, params *agentwire.TaskSendParams, st *agentwire.StateData) (any, error) {
		return "start", nil
	}); err != nil {
		t.Fatalf("OnSendTask failed: %v", err)
	}
	if err := srv.OnCancelTask(func(ctx context.Context, params *agentwire.TaskIDParams) (any, error) {
		return nil, nil
	}); err != nil {
		t.Fatalf("OnCancelTask failed: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	callMethod(t, ts, agentwire.MethodTasksSend, sendParams("task-1", "start"))
	envelope := callMethod(t, ts, agentwire.MethodTasksCancel, &agentwire.TaskIDParams{ID: "task-1"})
	if envelope.Error != nil {
		t.Fatalf("Unexpected error: %v", envelope.Error)
	}

	task := decodeTask(t, envelope.Result)
	if task.Status.State != agentwire.TaskStateCanceled {
		t.Errorf("Expected default cancel state %s, got %s", agentwire.TaskStateCanceled, task.Status.State)
	}
}

func TestCancelTaskUnknown(t *testing.T) {
	srv, _ := newStatefulServer(t)
	if err := srv.OnCancelTask(func(ctx context.Context, params *agentwire.TaskIDParams) (any, error) {
		return nil, nil
	}); err != nil {
		t.Fatalf("OnCancelTask failed: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	envelope := callMethod(t, ts, agentwire.MethodTasksCancel, &agentwire.TaskIDParams{ID: "missing"})
	if envelope.Error == nil || envelope.Error.Code != agentwire.CodeTaskNotFound {
		t.Fatalf("Expected task-not-found, got %v", envelope.Error)
	}
}

func TestParseError(t *testing.T) {
	srv, _ := newStatefulServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	envelope := postRPC(t, ts, "{not json")
	if envelope.Error == nil || envelope.Error.Code != agentwire.CodeParseError {
		t.Fatalf("Expected parse error, got %v", envelope.Error)
	}
}

func TestInvalidRequest(t *testing.T) {
	srv, _ := newStatefulServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	envelope := postRPC(t, ts, `{"jsonrpc":"1.0","id":1,"method":"tasks/send"}`)
	if envelope.Error == nil || envelope.Error.Code != agentwire.CodeInvalidRequest {
		t.Fatalf("Expected invalid-request, got %v", envelope.Error)
	}
}

func TestMethodNotFound(t *testing.T) {
	srv, _ := newStatefulServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	envelope := postRPC(t, ts, `{"jsonrpc":"2.0","id":1,"method":"tasks/unknown","params":{}}`)
	if envelope.Error == nil || envelope.Error.Code != agentwire.CodeMethodNotFound {
		t.Fatalf("Expected method-not-found, got %v", envelope.Error)
	}
}

func TestInvalidParams(t *testing.T) {
	srv, _ := newStatefulServer(t)
	if err := srv.OnSendTask(func(ctx context.Context, params *agentwire.TaskSendParams, st *agentwire.StateData) (any, error) {
		return "ok", nil
	}); err != nil {
		t.Fatalf("OnSendTask failed: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	// Missing task id.
	envelope := postRPC(t, ts, `{"jsonrpc":"2.0","id":1,"method":"tasks/send","params":{"message":{"role":"user","parts":[{"type":"text","text":"x"}]}}}`)
	if envelope.Error == nil || envelope.Error.Code != agentwire.CodeInvalidParams {
		t.Fatalf("Expected invalid-params, got %v", envelope.Error)
	}
}

func TestHandlerErrorPassthrough(t *testing.T) {
	srv, _ := newStatefulServer(t)
	if err := srv.OnSendTask(func(ctx context.Context, params *agentwire.TaskSendParams, st *agentwire.StateData) (any, error) {
		return nil, agentwire.NewContentTypeNotSupportedError()
	}); err != nil {
		t.Fatalf("OnSendTask failed: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	envelope := callMethod(t, ts, agentwire.MethodTasksSend, sendParams("task-1", "x"))
	if envelope.Error == nil || envelope.Error.Code != agentwire.CodeContentTypeNotSupported {
		t.Fatalf("Expected protocol error passthrough, got %v", envelope.Error)
	}
}

func TestPushNotificationSetGet(t *testing.T) {
	srv, _ := newStatefulServer(t)
	if err := srv.OnSendTask(func(ctx context.Context, params *agentwire.TaskSendParams, st *agentwire.StateData) (any, error) {
		return "ok", nil
	}); err != nil {
		t.Fatalf("OnSendTask failed: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	callMethod(t, ts, agentwire.MethodTasksSend, sendParams("task-1", "start"))

	setEnvelope := callMethod(t, ts, agentwire.MethodTasksPushNotificationSet, &agentwire.TaskPushNotificationConfig{
		ID:                     "task-1",
		PushNotificationConfig: agentwire.PushNotificationConfig{URL: "https://callback.example.com/hook"},
	})
	if setEnvelope.Error != nil {
		t.Fatalf("Unexpected error: %v", setEnvelope.Error)
	}

	getEnvelope := callMethod(t, ts, agentwire.MethodTasksPushNotificationGet, &agentwire.TaskIDParams{ID: "task-1"})
	if getEnvelope.Error != nil {
		t.Fatalf("Unexpected error: %v", getEnvelope.Error)
	}
	var cfg agentwire.TaskPushNotificationConfig
	if err := sonic.ConfigDefault.Unmarshal(getEnvelope.Result, &cfg); err != nil {
		t.Fatalf("Failed to decode config: %v", err)
	}
	if cfg.PushNotificationConfig.URL != "https://callback.example.com/hook" {
		t.Errorf("Expected configured URL round-trip, got %q", cfg.PushNotificationConfig.URL)
	}

	missing := callMethod(t, ts, agentwire.MethodTasksPushNotificationSet, &agentwire.TaskPushNotificationConfig{
		ID:                     "missing",
		PushNotificationConfig: agentwire.PushNotificationConfig{URL: "https://callback.example.com/hook"},
	})
	if missing.Error == nil || missing.Error.Code != agentwire.CodeTaskNotFound {
		t.Fatalf("Expected task-not-found for unknown task, got %v", missing.Error)
	}
}

func TestDuplicateRegistration(t *testing.T) {
	srv, _ := newStatefulServer(t)
	handler := func(ctx context.Context, params *agentwire.TaskSendParams, st *agentwire.StateData) (any, error) {
		return "ok", nil
	}
	if err := srv.OnSendTask(handler); err != nil {
		t.Fatalf("First registration failed: %v", err)
	}
	if err := srv.OnSendTask(handler); err == nil {
		t.Fatal("Expected error on duplicate registration")
	}
}

func TestSendSubscribeStream(t *testing.T) {
	srv, manager := newStatefulServer(t)
	err := srv.OnSendTaskSubscribe(func(ctx context.Context, params *agentwire.TaskSendParams, st *agentwire.StateData, yield func(chunk any) error) error {
		for _, chunk := range []*agentwire.StreamChunk{
			{Content: "hel", Index: 0},
			{Content: "lo", Index: 0},
			{Content: "!", Index: 0, Final: true},
		} {
			if err := yield(chunk); err != nil {
				return err
			}
		}
		return yield(&agentwire.StatusEnvelope{State: agentwire.TaskStateCompleted, Final: true})
	})
	if err != nil {
		t.Fatalf("OnSendTaskSubscribe failed: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	rawParams, _ := sonic.ConfigDefault.Marshal(sendParams("task-1", "stream it"))
	body := fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"tasks/sendSubscribe","params":%s}`, rawParams)
	resp, err := http.Post(ts.URL+DefaultRPCPath, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("Expected SSE content type, got %q", got)
	}

	var frames []rpcEnvelope
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var envelope rpcEnvelope
		if err := sonic.ConfigDefault.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &envelope); err != nil {
			t.Fatalf("Failed to decode frame: %v", err)
		}
		frames = append(frames, envelope)
	}

	if len(frames) != 4 {
		t.Fatalf("Expected 4 frames, got %d", len(frames))
	}

	var first agentwire.TaskArtifactUpdateEvent
	if err := sonic.ConfigDefault.Unmarshal(frames[0].Result, &first); err != nil {
		t.Fatalf("Failed to decode first frame: %v", err)
	}
	if first.Artifact.Append {
		t.Error("Expected first chunk to not append")
	}

	var second agentwire.TaskArtifactUpdateEvent
	if err := sonic.ConfigDefault.Unmarshal(frames[1].Result, &second); err != nil {
		t.Fatalf("Failed to decode second frame: %v", err)
	}
	if !second.Artifact.Append {
		t.Error("Expected second chunk to append")
	}

	var third agentwire.TaskArtifactUpdateEvent
	if err := sonic.ConfigDefault.Unmarshal(frames[2].Result, &third); err != nil {
		t.Fatalf("Failed to decode third frame: %v", err)
	}
	if !third.Artifact.LastChunk {
		t.Error("Expected third chunk to carry lastChunk")
	}

	var final agentwire.TaskStatusUpdateEvent
	if err := sonic.ConfigDefault.Unmarshal(frames[3].Result, &final); err != nil {
		t.Fatalf("Failed to decode final frame: %v", err)
	}
	if final.Status.State != agentwire.TaskStateCompleted || !final.Final {
		t.Errorf("Expected final completed status, got state=%s final=%v", final.Status.State, final.Final)
	}

	// Chunks were persisted before emission: stored state holds the merged
	// artifact and the terminal status.
	data, err := manager.Get(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if data.Task.Status.State != agentwire.TaskStateCompleted {
		t.Errorf("Expected stored state %s, got %s", agentwire.TaskStateCompleted, data.Task.Status.State)
	}
	if len(data.Task.Artifacts) != 1 || len(data.Task.Artifacts[0].Parts) != 3 {
		t.Errorf("Expected one artifact with 3 merged parts, got %+v", data.Task.Artifacts)
	}
}

func TestInboundWebhook(t *testing.T) {
	srv, manager := newStatefulServer(t)
	if err := srv.OnSendTask(func(ctx context.Context, params *agentwire.TaskSendParams, st *agentwire.StateData) (any, error) {
		return &agentwire.StatusEnvelope{State: agentwire.TaskStateWorking}, nil
	}); err != nil {
		t.Fatalf("OnSendTask failed: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	callMethod(t, ts, agentwire.MethodTasksSend, sendParams("task-1", "start"))

	payload, _ := sonic.ConfigDefault.Marshal(&agentwire.WebhookRequest{
		ID: "task-1",
		Result: &agentwire.Task{
			ID:     "task-1",
			Status: agentwire.NewTaskStatus(agentwire.TaskStateCompleted),
			Artifacts: []*agentwire.Artifact{
				{Index: 0, Parts: agentwire.PartList{agentwire.NewTextPart("external result")}},
			},
		},
	})
	resp, err := http.Post(ts.URL+DefaultWebhookPath, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	var ack agentwire.WebhookResponse
	if err := sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&ack); err != nil {
		t.Fatalf("Failed to decode ack: %v", err)
	}
	if !ack.Accepted || ack.Error != "" {
		t.Fatalf("Expected accepted ack, got %+v", ack)
	}

	data, err := manager.Get(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if data.Task.Status.State != agentwire.TaskStateCompleted {
		t.Errorf("Expected adopted state %s, got %s", agentwire.TaskStateCompleted, data.Task.Status.State)
	}
	if len(data.Task.Artifacts) != 1 {
		t.Errorf("Expected merged artifact, got %+v", data.Task.Artifacts)
	}
}

func TestInboundWebhookUnknownTask(t *testing.T) {
	srv, _ := newStatefulServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	payload, _ := sonic.ConfigDefault.Marshal(&agentwire.WebhookRequest{
		ID: "missing",
		Result: &agentwire.Task{
			ID:     "missing",
			Status: agentwire.NewTaskStatus(agentwire.TaskStateCompleted),
		},
	})
	resp, err := http.Post(ts.URL+DefaultWebhookPath, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	var ack agentwire.WebhookResponse
	if err := sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&ack); err != nil {
		t.Fatalf("Failed to decode ack: %v", err)
	}
	if ack.Accepted || ack.Error == "" {
		t.Fatalf("Expected rejection for unknown task, got %+v", ack)
	}
}

func TestWebhookForwarding(t *testing.T) {
	received := make(chan agentwire.WebhookRequest, 1)
	callback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req agentwire.WebhookRequest
		if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode delivery: %v", err)
		}
		received <- req
		w.WriteHeader(http.StatusOK)
	}))
	defer callback.Close()

	srv, _ := newStatefulServer(t)
	err := srv.OnSendTask(func(ctx context.Context, params *agentwire.TaskSendParams, st *agentwire.StateData) (any, error) {
		return "forwarded", nil
	}, ForwardToWebhook())
	if err != nil {
		t.Fatalf("OnSendTask failed: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	params := sendParams("task-1", "go")
	params.PushNotification = &agentwire.PushNotificationConfig{URL: callback.URL}
	envelope := callMethod(t, ts, agentwire.MethodTasksSend, params)
	if envelope.Error != nil {
		t.Fatalf("Unexpected error: %v", envelope.Error)
	}

	select {
	case req := <-received:
		if req.ID != "task-1" {
			t.Errorf("Expected delivery for task-1, got %q", req.ID)
		}
		if req.Result == nil || req.Result.Status.State != agentwire.TaskStateCompleted {
			t.Errorf("Expected completed task in delivery, got %+v", req.Result)
		}
	default:
		t.Fatal("Expected a webhook delivery")
	}
}

func TestAgentCardEndpoint(t *testing.T) {
	card := &agentwire.AgentCard{
		Name:    "Test Agent",
		URL:     "http://127.0.0.1:8080/rpc",
		Version: "1.0.0",
	}
	srv := NewServer(WithAgentCard(card))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + AgentCardPath)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	var got agentwire.AgentCard
	if err := sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode card: %v", err)
	}
	if got.Name != "Test Agent" {
		t.Errorf("Expected card name %q, got %q", "Test Agent", got.Name)
	}
}

func TestSendTaskMetadataSurvivesLaterSends(t *testing.T) {
	srv, manager := newStatefulServer(t)
	if err := srv.OnSendTask(func(ctx context.Context, params *agentwire.TaskSendParams, st *agentwire.StateData) (any, error) {
		return "ok", nil
	}); err != nil {
		t.Fatalf("OnSendTask failed: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	first := sendParams("task-1", "one")
	first.Metadata = map[string]any{"a": "1"}
	if envelope := callMethod(t, ts, agentwire.MethodTasksSend, first); envelope.Error != nil {
		t.Fatalf("Unexpected error on first send: %v", envelope.Error)
	}

	second := sendParams("task-1", "two")
	second.Metadata = map[string]any{"b": "2"}
	envelope := callMethod(t, ts, agentwire.MethodTasksSend, second)
	if envelope.Error != nil {
		t.Fatalf("Unexpected error on second send: %v", envelope.Error)
	}

	task := decodeTask(t, envelope.Result)
	if task.Metadata["a"] != "1" || task.Metadata["b"] != "2" {
		t.Errorf("Expected merged metadata in response, got %v", task.Metadata)
	}

	data, err := manager.Get(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if data.Task.Metadata["a"] != "1" || data.Task.Metadata["b"] != "2" {
		t.Errorf("Expected merged metadata persisted, got %v", data.Task.Metadata)
	}
}

func TestSendTaskSerializesRacingWebhookResult(t *testing.T) {
	srv, manager := newStatefulServer(t)

	applied := make(chan error, 1)
	err := srv.OnSendTask(func(ctx context.Context, params *agentwire.TaskSendParams, st *agentwire.StateData) (any, error) {
		go func() {
			_, err := manager.ApplyWebhookResult(context.Background(), "task-1", &agentwire.Task{
				ID:     "task-1",
				Status: agentwire.NewTaskStatus(agentwire.TaskStateCompleted),
				Artifacts: []*agentwire.Artifact{
					{Index: 5, Parts: agentwire.PartList{agentwire.NewTextPart("external")}},
				},
			})
			applied <- err
		}()
		// Give the webhook time to reach the task's exclusive section
		// before the send result is built.
		time.Sleep(50 * time.Millisecond)
		return "handler result", nil
	})
	if err != nil {
		t.Fatalf("OnSendTask failed: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	envelope := callMethod(t, ts, agentwire.MethodTasksSend, sendParams("task-1", "go"))
	if envelope.Error != nil {
		t.Fatalf("Unexpected error: %v", envelope.Error)
	}
	if err := <-applied; err != nil {
		t.Fatalf("ApplyWebhookResult failed: %v", err)
	}

	data, err := manager.Get(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	var external, fromSend bool
	for _, a := range data.Task.Artifacts {
		if a.Index == 5 && a.Parts.Text() == "external" {
			external = true
		}
		if a.Parts.Text() == "handler result" {
			fromSend = true
		}
	}
	if !external {
		t.Errorf("Expected webhook artifact preserved, got %+v", data.Task.Artifacts)
	}
	if !fromSend {
		t.Errorf("Expected send result preserved, got %+v", data.Task.Artifacts)
	}
}

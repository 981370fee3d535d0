// Copyright 2025 The agentwire Authors
// SPDX-License-Identifier: Apache-2.0

// Package client is the caller side of the task exchange protocol: JSON-RPC
// calls over HTTP, SSE subscriptions, webhook delivery, and agent card
// discovery.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/agentwire/agentwire"
)

// AgentCardPath is the well-known discovery path served by agents.
const AgentCardPath = "/.well-known/agent.json"

// Client talks to one agent endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	authToken  string
	nextID     atomic.Int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithAuthToken attaches a static bearer token to every request.
func WithAuthToken(token string) Option {
	return func(c *Client) { c.authToken = token }
}

// New creates a Client for the given JSON-RPC endpoint URL.
func New(endpoint string, opts ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SendTask calls tasks/send and returns the resulting task.
func (c *Client) SendTask(ctx context.Context, params *agentwire.TaskSendParams) (*agentwire.Task, error) {
	var task agentwire.Task
	if err := c.call(ctx, agentwire.MethodTasksSend, params, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTask calls tasks/get.
func (c *Client) GetTask(ctx context.Context, params *agentwire.TaskQueryParams) (*agentwire.Task, error) {
	var task agentwire.Task
	if err := c.call(ctx, agentwire.MethodTasksGet, params, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// CancelTask calls tasks/cancel.
func (c *Client) CancelTask(ctx context.Context, params *agentwire.TaskIDParams) (*agentwire.Task, error) {
	var task agentwire.Task
	if err := c.call(ctx, agentwire.MethodTasksCancel, params, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// SetPushNotification calls tasks/pushNotification/set.
func (c *Client) SetPushNotification(ctx context.Context, params *agentwire.TaskPushNotificationConfig) (*agentwire.TaskPushNotificationConfig, error) {
	var result agentwire.TaskPushNotificationConfig
	if err := c.call(ctx, agentwire.MethodTasksPushNotificationSet, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetPushNotification calls tasks/pushNotification/get. A task without a
// configured push notification returns nil.
func (c *Client) GetPushNotification(ctx context.Context, params *agentwire.TaskIDParams) (*agentwire.TaskPushNotificationConfig, error) {
	var result *agentwire.TaskPushNotificationConfig
	if err := c.call(ctx, agentwire.MethodTasksPushNotificationGet, params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// call performs one JSON-RPC round trip. A protocol error in the response
// is returned as *agentwire.Error.
func (c *Client) call(ctx context.Context, method string, params, result any) error {
	rawParams, err := sonic.ConfigDefault.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}

	body, err := sonic.ConfigDefault.Marshal(&agentwire.Request{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  rawParams,
	})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, payload)
	}

	var envelope struct {
		JSONRPC string           `json:"jsonrpc"`
		ID      any              `json:"id"`
		Result  json.RawMessage  `json:"result"`
		Error   *agentwire.Error `json:"error"`
	}
	if err := sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if result == nil || len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return nil
	}
	if err := sonic.ConfigDefault.Unmarshal(envelope.Result, result); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}

func (c *Client) applyAuth(req *http.Request) {
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

// SendToWebhook posts a task result to another agent's webhook endpoint.
func (c *Client) SendToWebhook(ctx context.Context, url, taskID string, task *agentwire.Task) (*agentwire.WebhookResponse, error) {
	body, err := sonic.ConfigDefault.Marshal(&agentwire.WebhookRequest{ID: taskID, Result: task})
	if err != nil {
		return nil, fmt.Errorf("failed to encode webhook request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	var ack agentwire.WebhookResponse
	if err := sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return nil, fmt.Errorf("failed to decode webhook response: %w", err)
	}
	return &ack, nil
}

// ResolveAgentCard fetches an agent's card from its well-known discovery
// path. baseURL is the agent's root URL, without the path.
func ResolveAgentCard(ctx context.Context, httpClient *http.Client, baseURL string) (*agentwire.AgentCard, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+AgentCardPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch agent card: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("agent card fetch returned %d: %s", resp.StatusCode, payload)
	}

	var card agentwire.AgentCard
	if err := sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, fmt.Errorf("failed to decode agent card: %w", err)
	}
	if err := card.Validate(); err != nil {
		return nil, fmt.Errorf("agent card is invalid: %w", err)
	}
	return &card, nil
}

// NewTaskID returns a fresh task id.
func NewTaskID() string {
	return uuid.NewString()
}

// Copyright 2025 The agentwire Authors
// SPDX-License-Identifier: Apache-2.0

package agentwire

import (
	"fmt"
)

// TaskSendParams are the parameters for tasks/send and tasks/sendSubscribe.
type TaskSendParams struct {
	ID               string                  `json:"id"`
	SessionID        string                  `json:"sessionId,omitzero"`
	Message          Message                 `json:"message"`
	PushNotification *PushNotificationConfig `json:"pushNotification,omitzero"`
	HistoryLength    int                     `json:"historyLength,omitzero"`
	Metadata         map[string]any          `json:"metadata,omitzero"`
}

// Validate ensures the params are well formed.
func (p *TaskSendParams) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("task ID cannot be empty")
	}
	if err := p.Message.Validate(); err != nil {
		return fmt.Errorf("message is invalid: %w", err)
	}
	if p.PushNotification != nil {
		if err := p.PushNotification.Validate(); err != nil {
			return fmt.Errorf("push notification config is invalid: %w", err)
		}
	}
	return nil
}

// TaskQueryParams are the parameters for tasks/get.
type TaskQueryParams struct {
	ID            string         `json:"id"`
	HistoryLength int            `json:"historyLength,omitzero"`
	Metadata      map[string]any `json:"metadata,omitzero"`
}

// Validate ensures the params are well formed.
func (p *TaskQueryParams) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("task ID cannot be empty")
	}
	if p.HistoryLength < 0 {
		return fmt.Errorf("history length cannot be negative")
	}
	return nil
}

// TaskIDParams are the parameters for tasks/cancel and
// tasks/pushNotification/get.
type TaskIDParams struct {
	ID       string         `json:"id"`
	Metadata map[string]any `json:"metadata,omitzero"`
}

// Validate ensures the params are well formed.
func (p *TaskIDParams) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("task ID cannot be empty")
	}
	return nil
}

// AuthenticationInfo describes how a push notification receiver
// authenticates deliveries.
type AuthenticationInfo struct {
	Schemes     []string `json:"schemes"`
	Credentials string   `json:"credentials,omitzero"`
}

// PushNotificationConfig is the out-of-band callback configuration for a
// task.
type PushNotificationConfig struct {
	URL            string              `json:"url"`
	Token          string              `json:"token,omitzero"`
	Authentication *AuthenticationInfo `json:"authentication,omitzero"`
}

// Validate ensures the config carries a delivery URL.
func (c *PushNotificationConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("push notification URL cannot be empty")
	}
	return nil
}

// TaskPushNotificationConfig are the parameters for
// tasks/pushNotification/set and the result of both notification methods.
type TaskPushNotificationConfig struct {
	ID                     string                 `json:"id"`
	PushNotificationConfig PushNotificationConfig `json:"pushNotificationConfig"`
}

// Validate ensures the params are well formed.
func (p *TaskPushNotificationConfig) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("task ID cannot be empty")
	}
	return p.PushNotificationConfig.Validate()
}

// WebhookRequest is the body of the inbound webhook endpoint: an externally
// produced task result re-entering the engine.
type WebhookRequest struct {
	ID     string `json:"id"`
	Result *Task  `json:"result,omitzero"`
}

// Validate ensures the request addresses a task.
func (r *WebhookRequest) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("webhook request task ID cannot be empty")
	}
	return nil
}

// WebhookResponse acknowledges an inbound webhook delivery.
type WebhookResponse struct {
	ID       string `json:"id"`
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitzero"`
}

// Copyright 2025 The agentwire Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentwire/agentwire"
)

// SendHandler is the caller-supplied logic for tasks/send. It receives the
// validated params and, when a state manager is configured, the materialized
// state for the task. Its return value is normalized by the task builder:
// a *agentwire.Task, a *agentwire.StatusEnvelope, a map conforming to the
// Task schema, or loose content (string, Part, *Artifact, or a list of
// these).
type SendHandler func(ctx context.Context, params *agentwire.TaskSendParams, state *agentwire.StateData) (any, error)

// StreamHandler is the caller-supplied logic for tasks/sendSubscribe. It
// emits chunks through yield; returning ends the stream. Yield reports an
// error once the subscriber is gone, at which point the handler should stop.
type StreamHandler func(ctx context.Context, params *agentwire.TaskSendParams, state *agentwire.StateData, yield func(chunk any) error) error

// GetHandler is the caller-supplied logic for tasks/get in storeless mode.
type GetHandler func(ctx context.Context, params *agentwire.TaskQueryParams) (any, error)

// CancelHandler is the caller-supplied logic for tasks/cancel.
type CancelHandler func(ctx context.Context, params *agentwire.TaskIDParams) (any, error)

// SetPushHandler is the caller-supplied logic for tasks/pushNotification/set
// in storeless mode. A nil result echoes the request config back.
type SetPushHandler func(ctx context.Context, params *agentwire.TaskPushNotificationConfig) (any, error)

// GetPushHandler is the caller-supplied logic for tasks/pushNotification/get
// in storeless mode.
type GetPushHandler func(ctx context.Context, params *agentwire.TaskIDParams) (any, error)

// WebhookHandler is the re-entry hook invoked when an external system posts
// a task result to the webhook endpoint. Its return value is merged the same
// way a send result is.
type WebhookHandler func(ctx context.Context, req *agentwire.WebhookRequest, state *agentwire.StateData) (any, error)

// registration binds one method name to its handler.
type registration struct {
	handler          any
	streaming        bool
	forwardToWebhook bool
}

// Registry is the write-once method table. Registering a method twice is a
// configuration error; the first handler stays installed.
type Registry struct {
	mu      sync.Mutex
	entries map[string]registration
	webhook WebhookHandler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

// Register installs a handler for a method name.
func (r *Registry) Register(method string, handler any, streaming, forwardToWebhook bool) error {
	if handler == nil {
		return fmt.Errorf("handler for method %q cannot be nil", method)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[method]; exists {
		return fmt.Errorf("method %q already registered", method)
	}
	r.entries[method] = registration{
		handler:          handler,
		streaming:        streaming,
		forwardToWebhook: forwardToWebhook,
	}
	return nil
}

// SetWebhook installs the single webhook hook.
func (r *Registry) SetWebhook(handler WebhookHandler) error {
	if handler == nil {
		return fmt.Errorf("webhook handler cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.webhook != nil {
		return fmt.Errorf("webhook handler already registered")
	}
	r.webhook = handler
	return nil
}

// Lookup returns the registration for a method name.
func (r *Registry) Lookup(method string) (registration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.entries[method]
	return reg, ok
}

// Webhook returns the installed webhook hook, if any.
func (r *Registry) Webhook() WebhookHandler {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.webhook
}

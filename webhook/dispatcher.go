// Copyright 2025 The agentwire Authors
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"github.com/agentwire/agentwire"
)

// DefaultTimeout bounds one delivery attempt end to end.
const DefaultTimeout = 10 * time.Second

// Dispatcher posts task results to external endpoints. Delivery is
// best-effort: one attempt per call, bounded by the client timeout, no
// retries. Callers decide whether a failure matters.
type Dispatcher struct {
	client *http.Client
	keys   *KeyManager
	keyID  string
	issuer string
	logger *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(client *http.Client) DispatcherOption {
	return func(d *Dispatcher) { d.client = client }
}

// WithSigningKeys enables JWT-signed deliveries using the key pair under
// keyID. Receivers verify against the JWKS endpoint.
func WithSigningKeys(keys *KeyManager, keyID string) DispatcherOption {
	return func(d *Dispatcher) {
		d.keys = keys
		d.keyID = keyID
	}
}

// WithIssuer sets the iss claim on signed deliveries.
func WithIssuer(issuer string) DispatcherOption {
	return func(d *Dispatcher) { d.issuer = issuer }
}

// WithLogger sets the dispatcher's logger.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = logger }
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		client: &http.Client{Timeout: DefaultTimeout},
		issuer: "agentwire",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deliver posts the task snapshot to url as a webhook request body. When
// signing keys are configured the request carries a bearer JWT binding the
// delivery to the task id and destination.
func (d *Dispatcher) Deliver(ctx context.Context, url, taskID string, task *agentwire.Task) error {
	if url == "" {
		return fmt.Errorf("delivery URL cannot be empty")
	}

	body, err := sonic.ConfigDefault.Marshal(&agentwire.WebhookRequest{
		ID:     taskID,
		Result: task,
	})
	if err != nil {
		return fmt.Errorf("failed to encode webhook request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if d.keys != nil {
		token, err := d.keys.SignJWT(d.keyID, deliveryClaims(d.issuer, url, taskID, time.Now()))
		if err != nil {
			return fmt.Errorf("failed to sign webhook delivery: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver webhook for task %s: %w", taskID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
		d.logger.DebugContext(ctx, "webhook delivered", slog.String("task_id", taskID), slog.String("url", url))
		return nil
	default:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook delivery for task %s rejected: %d %s: %s", taskID, resp.StatusCode, resp.Status, payload)
	}
}

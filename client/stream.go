// Copyright 2025 The agentwire Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/agentwire/agentwire"
)

// StreamEvent is one frame of a subscription. Exactly one field is set:
// a status update, an artifact update, or a protocol error. Error frames
// with protocol code invalid-params are non-terminal; any other error frame
// ends the stream.
type StreamEvent struct {
	StatusUpdate   *agentwire.TaskStatusUpdateEvent
	ArtifactUpdate *agentwire.TaskArtifactUpdateEvent
	Err            *agentwire.Error
}

// Subscription is a live tasks/sendSubscribe stream. Events closes when the
// server ends the stream or Close is called.
type Subscription struct {
	events chan StreamEvent
	body   io.ReadCloser
	cancel context.CancelFunc
}

// Events returns the stream's event channel.
func (s *Subscription) Events() <-chan StreamEvent {
	return s.events
}

// Close tears the subscription down.
func (s *Subscription) Close() error {
	s.cancel()
	return s.body.Close()
}

// SendTaskSubscribe calls tasks/sendSubscribe and returns a live
// subscription over the response's server-sent events.
func (c *Client) SendTaskSubscribe(ctx context.Context, params *agentwire.TaskSendParams) (*Subscription, error) {
	rawParams, err := sonic.ConfigDefault.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode params: %w", err)
	}

	body, err := sonic.ConfigDefault.Marshal(&agentwire.Request{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  agentwire.MethodTasksSendSubscribe,
		Params:  rawParams,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	c.applyAuth(req)

	// Streaming responses must not be cut off by the default client
	// timeout; the caller's context bounds the subscription instead.
	httpClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		cancel()
		return nil, fmt.Errorf("subscribe returned %d: %s", resp.StatusCode, payload)
	}

	sub := &Subscription{
		events: make(chan StreamEvent),
		body:   resp.Body,
		cancel: cancel,
	}
	go sub.read(ctx)
	return sub, nil
}

// read pumps SSE frames into the event channel until the stream ends.
func (s *Subscription) read(ctx context.Context) {
	defer close(s.events)
	defer s.body.Close()

	scanner := bufio.NewScanner(s.body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}

		event, err := decodeFrame([]byte(payload))
		if err != nil {
			event = StreamEvent{Err: agentwire.NewParseError().WithData(err.Error())}
		}

		select {
		case s.events <- event:
		case <-ctx.Done():
			return
		}
	}
}

// decodeFrame parses one SSE data payload into a StreamEvent.
func decodeFrame(payload []byte) (StreamEvent, error) {
	var envelope struct {
		Result json.RawMessage  `json:"result"`
		Error  *agentwire.Error `json:"error"`
	}
	if err := sonic.ConfigDefault.Unmarshal(payload, &envelope); err != nil {
		return StreamEvent{}, fmt.Errorf("malformed frame: %w", err)
	}
	if envelope.Error != nil {
		return StreamEvent{Err: envelope.Error}, nil
	}

	var probe struct {
		Artifact json.RawMessage `json:"artifact"`
	}
	if err := sonic.ConfigDefault.Unmarshal(envelope.Result, &probe); err != nil {
		return StreamEvent{}, fmt.Errorf("malformed frame result: %w", err)
	}

	if len(probe.Artifact) > 0 {
		var event agentwire.TaskArtifactUpdateEvent
		if err := sonic.ConfigDefault.Unmarshal(envelope.Result, &event); err != nil {
			return StreamEvent{}, fmt.Errorf("malformed artifact update: %w", err)
		}
		return StreamEvent{ArtifactUpdate: &event}, nil
	}

	var event agentwire.TaskStatusUpdateEvent
	if err := sonic.ConfigDefault.Unmarshal(envelope.Result, &event); err != nil {
		return StreamEvent{}, fmt.Errorf("malformed status update: %w", err)
	}
	return StreamEvent{StatusUpdate: &event}, nil
}

// Copyright 2025 The agentwire Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/nats-io/nats.go"
)

// TaskChange is the compact notification published after every successful
// state persist.
type TaskChange struct {
	TaskID   string `json:"taskId"`
	Changed  bool   `json:"changed"`
	Complete bool   `json:"complete"`
}

// Sink receives task-change notifications. Publishing is fire-and-forget:
// the Manager swallows sink errors and never surfaces them to callers.
type Sink interface {
	Publish(ctx context.Context, subject string, change TaskChange) error
}

// NopSink discards every notification.
type NopSink struct{}

var _ Sink = NopSink{}

// Publish implements [Sink].
func (NopSink) Publish(ctx context.Context, subject string, change TaskChange) error {
	return nil
}

// ChannelSink forwards notifications to a channel, dropping them when the
// channel is full. Intended for tests and in-process fan-out.
type ChannelSink struct {
	C chan TaskChange
}

var _ Sink = (*ChannelSink)(nil)

// NewChannelSink creates a ChannelSink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{C: make(chan TaskChange, buffer)}
}

// Publish implements [Sink].
func (s *ChannelSink) Publish(ctx context.Context, subject string, change TaskChange) error {
	select {
	case s.C <- change:
		return nil
	default:
		return fmt.Errorf("channel sink full, dropping change for task %s", change.TaskID)
	}
}

// NATSSink publishes task changes to a NATS subject.
type NATSSink struct {
	conn *nats.Conn
}

var _ Sink = (*NATSSink)(nil)

// NewNATSSink connects to the NATS server at url.
func NewNATSSink(url string) (*NATSSink, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return &NATSSink{conn: conn}, nil
}

// NewNATSSinkFromConn wraps an existing NATS connection.
func NewNATSSinkFromConn(conn *nats.Conn) *NATSSink {
	return &NATSSink{conn: conn}
}

// Publish implements [Sink].
func (s *NATSSink) Publish(ctx context.Context, subject string, change TaskChange) error {
	payload, err := sonic.ConfigDefault.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal task change: %w", err)
	}
	if err := s.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("failed to publish task change: %w", err)
	}
	return nil
}

// Close drains and closes the underlying connection.
func (s *NATSSink) Close() error {
	return s.conn.Drain()
}

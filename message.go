// Copyright 2025 The agentwire Authors
// SPDX-License-Identifier: Apache-2.0

package agentwire

import (
	"fmt"
)

// Role identifies the sender of a message.
type Role string

// Message roles.
const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
	RoleTool  Role = "tool"
)

// Message is one turn of conversation. Messages are immutable once appended
// to a task's history.
type Message struct {
	Role     Role           `json:"role"`
	Parts    PartList       `json:"parts"`
	Metadata map[string]any `json:"metadata,omitzero"`
}

// NewAgentMessage creates an agent message from a list of parts.
func NewAgentMessage(parts []Part, metadata map[string]any) Message {
	return Message{
		Role:     RoleAgent,
		Parts:    parts,
		Metadata: metadata,
	}
}

// NewAgentTextMessage creates an agent message containing a single TextPart.
func NewAgentTextMessage(text string) Message {
	return Message{
		Role:  RoleAgent,
		Parts: PartList{NewTextPart(text)},
	}
}

// NewToolMessage creates a tool message from a list of parts. The state
// manager uses tool messages when folding externally produced artifacts into
// the context history.
func NewToolMessage(parts []Part, metadata map[string]any) Message {
	return Message{
		Role:     RoleTool,
		Parts:    parts,
		Metadata: metadata,
	}
}

// Validate ensures the message is well formed.
func (m Message) Validate() error {
	switch m.Role {
	case RoleUser, RoleAgent, RoleTool:
	default:
		return fmt.Errorf("invalid message role: %q", m.Role)
	}
	if len(m.Parts) == 0 {
		return fmt.Errorf("message must contain at least one part")
	}
	return m.Parts.Validate()
}
